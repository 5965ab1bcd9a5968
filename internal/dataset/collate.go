package dataset

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/banshee-data/soccer-diffusion/internal/schema"
)

// Model input keys.
const (
	KeyJointCommand        = "joint_command"
	KeyJointCommandHistory = "joint_command_history"
	KeyJointState          = "joint_state"
	KeyRotation            = "rotation"
	KeyImageData           = "image_data"
	KeyImageStamps         = "image_stamps"
	KeyGameState           = "game_state"
	KeyRobotType           = "robot_type"
)

// Batch is a set of samples stacked field by field along a new leading
// dimension. Data is flat and row-major; Shapes gives the dimensions.
type Batch struct {
	Size int

	JointCommand        []float32 // (B, F, J)
	JointCommandHistory []float32 // (B, Lc, J)
	JointState          []float32 // (B, Ls, J)
	Rotation            []float32 // (B, Li, 4|5)
	ImageData           []uint8   // (B, Lv, H, W, 3)
	ImageStamps         []float32 // (B, Lv)
	GameState           []int32   // (B)
	// RobotType is nil unless every sample carries a robot type.
	RobotType []int32 // (B)

	shapes map[string][]int
}

// Collate stacks samples into a batch. All samples must share one shape.
func Collate(samples []*Sample) (*Batch, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot collate an empty batch")
	}
	first := samples[0]
	f, lc, ls, li, lv := len(first.JointCommand), len(first.JointCommandHistory), len(first.JointStateHistory), len(first.Rotation), len(first.Images)
	ow := 0
	if li > 0 {
		ow = len(first.Rotation[0])
	}
	frame := 0
	if lv > 0 {
		frame = len(first.Images[0])
	}

	b := &Batch{Size: len(samples)}
	n := len(samples)
	j := schema.NumJoints
	b.JointCommand = make([]float32, 0, n*f*j)
	b.JointCommandHistory = make([]float32, 0, n*lc*j)
	b.JointState = make([]float32, 0, n*ls*j)
	b.Rotation = make([]float32, 0, n*li*ow)
	b.ImageData = make([]uint8, 0, n*lv*frame)
	b.ImageStamps = make([]float32, 0, n*lv)
	b.GameState = make([]int32, 0, n)
	robotTypes := make([]int32, 0, n)

	for i, s := range samples {
		if len(s.JointCommand) != f || len(s.JointCommandHistory) != lc || len(s.JointStateHistory) != ls ||
			len(s.Rotation) != li || len(s.Images) != lv || len(s.ImageStamps) != lv ||
			s.ImageWidth != first.ImageWidth || s.ImageHeight != first.ImageHeight {
			return nil, fmt.Errorf("sample %d (recording %d position %d) does not match the shape of sample 0",
				i, s.RecordingID, s.Position)
		}
		b.JointCommand = appendJoints(b.JointCommand, s.JointCommand)
		b.JointCommandHistory = appendJoints(b.JointCommandHistory, s.JointCommandHistory)
		b.JointState = appendJoints(b.JointState, s.JointStateHistory)
		for _, row := range s.Rotation {
			if len(row) != ow {
				return nil, fmt.Errorf("sample %d has a %d-channel orientation, want %d", i, len(row), ow)
			}
			b.Rotation = append(b.Rotation, row...)
		}
		for k, img := range s.Images {
			if len(img) != frame {
				return nil, fmt.Errorf("sample %d frame %d has %d bytes, want %d", i, k, len(img), frame)
			}
			b.ImageData = append(b.ImageData, img...)
			b.ImageStamps = append(b.ImageStamps, float32(s.ImageStamps[k]))
		}
		b.GameState = append(b.GameState, int32(s.GameState))
		if s.RobotType >= 0 && robotTypes != nil {
			robotTypes = append(robotTypes, int32(s.RobotType))
		} else {
			robotTypes = nil
		}
	}
	b.RobotType = robotTypes

	h, w := first.ImageHeight, first.ImageWidth
	if lv > 0 && h*w*3 != frame {
		return nil, fmt.Errorf("frames have %d bytes, not %dx%d RGB", frame, w, h)
	}
	b.shapes = map[string][]int{
		KeyJointCommand:        {n, f, j},
		KeyJointCommandHistory: {n, lc, j},
		KeyJointState:          {n, ls, j},
		KeyRotation:            {n, li, ow},
		KeyImageData:           {n, lv, h, w, 3},
		KeyImageStamps:         {n, lv},
		KeyGameState:           {n},
	}
	if b.RobotType != nil {
		b.shapes[KeyRobotType] = []int{n}
	}
	return b, nil
}

func appendJoints(dst []float32, rows []schema.JointVector) []float32 {
	for _, v := range rows {
		for _, a := range v {
			dst = append(dst, float32(a))
		}
	}
	return dst
}

// Shapes returns the dimensions of every field, keyed like Tensors.
func (b *Batch) Shapes() map[string][]int {
	out := make(map[string][]int, len(b.shapes))
	for k, v := range b.shapes {
		out[k] = append([]int(nil), v...)
	}
	return out
}

// Tensors converts the batch to model input tensors.
func (b *Batch) Tensors() map[string]*tensors.Tensor {
	out := map[string]*tensors.Tensor{
		KeyJointCommand:        tensors.FromFlatDataAndDimensions(b.JointCommand, b.shapes[KeyJointCommand]...),
		KeyJointCommandHistory: tensors.FromFlatDataAndDimensions(b.JointCommandHistory, b.shapes[KeyJointCommandHistory]...),
		KeyJointState:          tensors.FromFlatDataAndDimensions(b.JointState, b.shapes[KeyJointState]...),
		KeyRotation:            tensors.FromFlatDataAndDimensions(b.Rotation, b.shapes[KeyRotation]...),
		KeyImageData:           tensors.FromFlatDataAndDimensions(b.ImageData, b.shapes[KeyImageData]...),
		KeyImageStamps:         tensors.FromFlatDataAndDimensions(b.ImageStamps, b.shapes[KeyImageStamps]...),
		KeyGameState:           tensors.FromFlatDataAndDimensions(b.GameState, b.shapes[KeyGameState]...),
	}
	if b.RobotType != nil {
		out[KeyRobotType] = tensors.FromFlatDataAndDimensions(b.RobotType, b.shapes[KeyRobotType]...)
	}
	return out
}

// Flat returns the flat data and dimensions of the field stored under key.
func (b *Batch) Flat(key string) (data any, dims []int, ok bool) {
	dims, ok = b.shapes[key]
	if !ok {
		return nil, nil, false
	}
	switch key {
	case KeyJointCommand:
		data = b.JointCommand
	case KeyJointCommandHistory:
		data = b.JointCommandHistory
	case KeyJointState:
		data = b.JointState
	case KeyRotation:
		data = b.Rotation
	case KeyImageData:
		data = b.ImageData
	case KeyImageStamps:
		data = b.ImageStamps
	case KeyGameState:
		data = b.GameState
	case KeyRobotType:
		data = b.RobotType
	default:
		return nil, nil, false
	}
	return data, append([]int(nil), dims...), true
}
