// Package live runs the trajectory model on a robot's live sensor feed.
// Raw messages are observed as they arrive, drained into rolling history
// buffers on fixed-rate timers, and snapshotted into model inputs shaped
// exactly like a single-sample training batch.
package live

import (
	"fmt"
	"math"
	"sync"

	"github.com/banshee-data/soccer-diffusion/internal/convert"
	"github.com/banshee-data/soccer-diffusion/internal/dataset"
	"github.com/banshee-data/soccer-diffusion/internal/schema"
)

// DefaultImageRateHz is the rate frames are drained into the image buffer.
const DefaultImageRateHz = 10

// Config fixes the buffer lengths and the shape of the model inputs. The
// embedded options must match the ones the model was trained with.
type Config struct {
	dataset.Options
	ImageRateHz float64
	// RobotType is one of schema.RobotTypes, or empty to leave the robot
	// type out of the model inputs.
	RobotType string
}

// Validate checks the options and rates.
func (c Config) Validate() error {
	if err := c.Options.Validate(); err != nil {
		return err
	}
	if c.ImageRateHz <= 0 {
		return fmt.Errorf("image rate must be positive, got %v", c.ImageRateHz)
	}
	if c.RobotType != "" {
		if _, err := schema.RobotTypeIndex(c.RobotType); err != nil {
			return err
		}
	}
	return nil
}

// window is a fixed-length history, oldest first.
type window[T any] struct {
	items []T
}

func newWindow[T any](n int, fill T) *window[T] {
	w := &window[T]{items: make([]T, n)}
	for i := range w.items {
		w.items[i] = fill
	}
	return w
}

// push appends v and drops the oldest entry.
func (w *window[T]) push(v T) {
	if len(w.items) == 0 {
		return
	}
	copy(w.items, w.items[1:])
	w.items[len(w.items)-1] = v
}

func (w *window[T]) snapshot() []T {
	return append([]T(nil), w.items...)
}

type frame struct {
	data  []byte
	stamp float64
}

// neutralPose is the zero raw angle on every joint, in stored form.
func neutralPose() schema.JointVector {
	var v schema.JointVector
	for i := range v {
		v[i] = schema.NormalizeAngle(0)
	}
	return v
}

// Buffers holds the latest observed messages and the rolling histories
// built from them. All methods are safe for concurrent use; buffer updates
// and snapshots never interleave.
type Buffers struct {
	cfg       Config
	strategy  OrientationStrategy
	robotType int

	mu sync.Mutex

	state      schema.JointVector
	stateSeen  bool
	rotation   *schema.Quaternion
	image      *convert.ImageMessage
	imageStamp float64
	// converted caches the RGB form of image.
	converted []byte
	gameState schema.RobotState

	commands  *window[schema.JointVector]
	states    *window[schema.JointVector]
	rotations *window[[]float32]
	images    *window[frame]
}

// NewBuffers returns buffers pre-filled with neutral values: the zero pose
// for joints, the identity orientation and black frames.
func NewBuffers(cfg Config, strategy OrientationStrategy) (*Buffers, error) {
	if strategy == nil {
		return nil, ErrNoOrientationStrategy
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	identity, err := cfg.Orientation.Encode(schema.IdentityQuaternion)
	if err != nil {
		return nil, err
	}
	b := &Buffers{
		cfg:       cfg,
		strategy:  strategy,
		robotType: -1,
		state:     neutralPose(),
		gameState: schema.RobotStateUnknown,
		commands:  newWindow(cfg.JointCommandHistory, neutralPose()),
		states:    newWindow(cfg.JointStateHistory, neutralPose()),
		rotations: newWindow(cfg.IMUHistory, identity),
		images:    newWindow(cfg.ImageHistory, frame{data: make([]byte, cfg.ImageBytes())}),
	}
	if cfg.RobotType != "" {
		b.robotType, _ = schema.RobotTypeIndex(cfg.RobotType)
	}
	return b, nil
}

// Config returns the buffer configuration.
func (b *Buffers) Config() Config { return b.cfg }

// Strategy returns the orientation strategy.
func (b *Buffers) Strategy() OrientationStrategy { return b.strategy }

// Observe records ev as the latest message of its kind. Joint commands are
// ignored; the command history is fed by the model's own predictions.
func (b *Buffers) Observe(ev convert.Event) error {
	d := ev.Data
	b.mu.Lock()
	defer b.mu.Unlock()
	if d.JointState != nil {
		next := b.state
		if _, err := next.ApplyNamed(d.JointState.Names, d.JointState.Positions); err != nil {
			return fmt.Errorf("joint state at %.3fs: %w", ev.Stamp, err)
		}
		b.state, b.stateSeen = next, true
	}
	if d.Rotation != nil {
		if err := d.Rotation.Validate(); err != nil {
			return fmt.Errorf("rotation at %.3fs: %w", ev.Stamp, err)
		}
		q := *d.Rotation
		b.rotation = &q
	}
	if d.Image != nil {
		b.image, b.imageStamp, b.converted = d.Image, ev.Stamp, nil
	}
	if d.GameState != nil {
		b.gameState = convert.RobotStateFromGameController(d.GameState.State, d.GameState.Penalized)
	}
	return nil
}

// UpdateBuffers drains the latest joint state and orientation into their
// histories. It runs at the base sampling rate. Nothing is appended for a
// modality that has not been observed yet.
func (b *Buffers) UpdateBuffers() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stateSeen {
		b.states.push(b.state)
	}
	if q, ok := b.strategy.Orientation(b.rotation); ok {
		v, err := b.cfg.Orientation.Encode(q)
		if err != nil {
			return err
		}
		b.rotations.push(v)
	}
	return nil
}

// UpdateImageBuffer appends the latest frame, scaled to the configured
// resolution. It runs at the image rate, so a slow camera repeats frames.
func (b *Buffers) UpdateImageBuffer() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.image == nil {
		return nil
	}
	if b.converted == nil {
		img, err := convert.DecodeImage(b.image)
		if err != nil {
			b.image = nil
			return fmt.Errorf("image at %.3fs: %w", b.imageStamp, err)
		}
		b.converted = convert.ToRGB(img, b.cfg.ImageWidth, b.cfg.ImageHeight)
	}
	b.images.push(frame{data: b.converted, stamp: b.imageStamp})
	return nil
}

// Snapshot returns the current histories as a one-sample batch. The batch
// has no future joint commands; those are what the model predicts.
func (b *Buffers) Snapshot() (*dataset.Batch, error) {
	b.mu.Lock()
	frames := b.images.snapshot()
	s := &dataset.Sample{
		JointCommandHistory: b.commands.snapshot(),
		JointStateHistory:   b.states.snapshot(),
		Rotation:            b.rotations.snapshot(),
		Images:              make([][]byte, len(frames)),
		ImageStamps:         make([]float64, len(frames)),
		ImageWidth:          b.cfg.ImageWidth,
		ImageHeight:         b.cfg.ImageHeight,
		GameState:           b.gameState,
		RobotType:           b.robotType,
	}
	b.mu.Unlock()

	for i, f := range frames {
		s.Images[i], s.ImageStamps[i] = f.data, f.stamp
	}
	return dataset.Collate([]*dataset.Sample{s})
}

// AppendCommands pushes a predicted trajectory, in stored joint space, onto
// the joint command history.
func (b *Buffers) AppendCommands(trajectory [][]float32) error {
	rows := make([]schema.JointVector, len(trajectory))
	for i, row := range trajectory {
		if len(row) != schema.NumJoints {
			return fmt.Errorf("trajectory step %d has %d joints, want %d", i, len(row), schema.NumJoints)
		}
		for j, a := range row {
			if math.IsNaN(float64(a)) || math.IsInf(float64(a), 0) {
				return fmt.Errorf("trajectory step %d joint %s is not finite", i, schema.JointNames[j])
			}
			rows[i][j] = wrapStored(float64(a))
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, v := range rows {
		b.commands.push(v)
	}
	return nil
}

// wrapStored folds a stored-space angle back into [0, 2π).
func wrapStored(a float64) float64 {
	return schema.NormalizeAngle(a - math.Pi)
}
