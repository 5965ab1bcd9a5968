package dataset

import (
	"context"
	"fmt"

	"github.com/banshee-data/soccer-diffusion/internal/schema"
	"github.com/banshee-data/soccer-diffusion/internal/store"
)

// Reader is the part of the store the extractor reads from.
type Reader interface {
	JointRows(ctx context.Context, table store.JointTable, recordingID int64, offset, limit int) ([]schema.JointVector, error)
	RotationRows(ctx context.Context, recordingID int64, offset, limit int) ([]schema.Quaternion, error)
	ImagesBefore(ctx context.Context, recordingID int64, stamp float64, limit int) ([]schema.Image, error)
	LatestGameState(ctx context.Context, recordingID int64, stamp float64) (schema.RobotState, bool, error)
}

// Options fixes the shape of every extracted sample.
type Options struct {
	SamplingRateHz      float64
	JointCommandHistory int
	JointStateHistory   int
	IMUHistory          int
	ImageHistory        int
	FutureLength        int
	Stride              int
	Orientation         Orientation
	ImageWidth          int
	ImageHeight         int
}

// Validate checks that every length and rate is usable.
func (o Options) Validate() error {
	if o.SamplingRateHz <= 0 {
		return fmt.Errorf("sampling rate must be positive, got %v", o.SamplingRateHz)
	}
	for name, v := range map[string]int{
		"joint command history": o.JointCommandHistory,
		"joint state history":   o.JointStateHistory,
		"imu history":           o.IMUHistory,
		"image history":         o.ImageHistory,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative, got %d", name, v)
		}
	}
	if o.FutureLength <= 0 {
		return fmt.Errorf("future length must be positive, got %d", o.FutureLength)
	}
	if o.Stride <= 0 {
		return fmt.Errorf("stride must be positive, got %d", o.Stride)
	}
	if o.ImageWidth <= 0 || o.ImageHeight <= 0 {
		return fmt.Errorf("image size must be positive, got %dx%d", o.ImageWidth, o.ImageHeight)
	}
	if _, err := o.Orientation.Width(); err != nil {
		return err
	}
	return nil
}

// ImageBytes is the size of one stored frame.
func (o Options) ImageBytes() int { return o.ImageWidth * o.ImageHeight * 3 }

// Sample is one windowed training example. History windows hold the rows
// strictly before the sample position, oldest first, left-padded with
// neutral values. The future window holds the rows starting at the sample
// position and is never padded.
type Sample struct {
	RecordingID int64
	Position    int
	Stamp       float64

	JointCommand        []schema.JointVector
	JointCommandHistory []schema.JointVector
	JointStateHistory   []schema.JointVector
	// Rotation has one row per IMU history slot in the configured
	// orientation representation.
	Rotation [][]float32
	// Images are packed RGB frames. Padding frames share one zero buffer
	// and must not be modified.
	Images      [][]byte
	ImageStamps []float64
	ImageWidth  int
	ImageHeight int
	GameState   schema.RobotState
	// RobotType is the index into schema.RobotTypes, or -1 when unknown.
	RobotType int
}

// Extractor builds samples from a store. Extraction is a pure function of
// (recording, position), so one extractor per worker needs no locking.
type Extractor struct {
	r          Reader
	opts       Options
	zeroImage  []byte
	robotTypes map[int64]int
}

// NewExtractor returns an extractor. robotTypes maps recording ids to robot
// type labels and may be nil.
func NewExtractor(r Reader, opts Options, robotTypes map[int64]int) (*Extractor, error) {
	if r == nil {
		return nil, fmt.Errorf("extractor needs a reader")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Extractor{r: r, opts: opts, zeroImage: make([]byte, opts.ImageBytes()), robotTypes: robotTypes}, nil
}

// Options returns the extraction options.
func (e *Extractor) Options() Options { return e.opts }

// Extract builds the sample at row position pos of a recording.
func (e *Extractor) Extract(ctx context.Context, recordingID int64, pos int) (*Sample, error) {
	if pos < 0 {
		return nil, fmt.Errorf("%w: negative position %d", ErrIndexOutOfRange, pos)
	}
	stamp := float64(pos) / e.opts.SamplingRateHz
	s := &Sample{
		RecordingID: recordingID,
		Position:    pos,
		Stamp:       stamp,
		ImageWidth:  e.opts.ImageWidth,
		ImageHeight: e.opts.ImageHeight,
		RobotType:   -1,
	}
	if rt, ok := e.robotTypes[recordingID]; ok {
		s.RobotType = rt
	}

	future, err := e.r.JointRows(ctx, store.TableJointCommands, recordingID, pos, e.opts.FutureLength)
	if err != nil {
		return nil, fmt.Errorf("future window: %w", err)
	}
	if len(future) < e.opts.FutureLength {
		return nil, fmt.Errorf("%w: recording %d position %d has %d of %d rows",
			ErrFutureWindowUnderflow, recordingID, pos, len(future), e.opts.FutureLength)
	}
	s.JointCommand = future

	if s.JointCommandHistory, err = e.jointHistory(ctx, store.TableJointCommands, recordingID, pos, e.opts.JointCommandHistory); err != nil {
		return nil, err
	}
	if s.JointStateHistory, err = e.jointHistory(ctx, store.TableJointStates, recordingID, pos, e.opts.JointStateHistory); err != nil {
		return nil, err
	}
	if s.Rotation, err = e.rotationHistory(ctx, recordingID, pos); err != nil {
		return nil, err
	}
	if s.Images, s.ImageStamps, err = e.imageHistory(ctx, recordingID, stamp); err != nil {
		return nil, err
	}

	state, _, err := e.r.LatestGameState(ctx, recordingID, stamp)
	if err != nil {
		return nil, fmt.Errorf("game state: %w", err)
	}
	s.GameState = state
	return s, nil
}

// historyRange is the row range [start, pos) of an n-row history window.
func historyRange(pos, n int) (start, count int) {
	start = pos - n
	if start < 0 {
		start = 0
	}
	return start, pos - start
}

func (e *Extractor) jointHistory(ctx context.Context, table store.JointTable, recordingID int64, pos, n int) ([]schema.JointVector, error) {
	start, count := historyRange(pos, n)
	rows, err := e.r.JointRows(ctx, table, recordingID, start, count)
	if err != nil {
		return nil, fmt.Errorf("%s history: %w", table, err)
	}
	out := make([]schema.JointVector, n-len(rows), n)
	return append(out, rows...), nil
}

func (e *Extractor) rotationHistory(ctx context.Context, recordingID int64, pos int) ([][]float32, error) {
	n := e.opts.IMUHistory
	start, count := historyRange(pos, n)
	rows, err := e.r.RotationRows(ctx, recordingID, start, count)
	if err != nil {
		return nil, fmt.Errorf("rotation history: %w", err)
	}
	out := make([][]float32, 0, n)
	for i := len(rows); i < n; i++ {
		v, err := e.opts.Orientation.Encode(schema.IdentityQuaternion)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	for _, q := range rows {
		v, err := e.opts.Orientation.Encode(q)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// imageHistory returns the latest frames strictly before stamp. Images are
// not on the base clock, so the window is chosen by time rather than row.
func (e *Extractor) imageHistory(ctx context.Context, recordingID int64, stamp float64) ([][]byte, []float64, error) {
	n := e.opts.ImageHistory
	rows, err := e.r.ImagesBefore(ctx, recordingID, stamp, n)
	if err != nil {
		return nil, nil, fmt.Errorf("image history: %w", err)
	}
	frames := make([][]byte, 0, n)
	stamps := make([]float64, 0, n)
	for i := len(rows); i < n; i++ {
		frames = append(frames, e.zeroImage)
		stamps = append(stamps, 0)
	}
	for _, img := range rows {
		if len(img.Data) != len(e.zeroImage) {
			return nil, nil, fmt.Errorf("image at %.3fs of recording %d has %d bytes, want %d (%dx%d RGB)",
				img.Stamp, recordingID, len(img.Data), len(e.zeroImage), e.opts.ImageWidth, e.opts.ImageHeight)
		}
		frames = append(frames, img.Data)
		stamps = append(stamps, img.Stamp)
	}
	return frames, stamps, nil
}
