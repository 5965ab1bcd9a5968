package imports

import (
	"fmt"

	"github.com/banshee-data/soccer-diffusion/internal/convert"
	"github.com/banshee-data/soccer-diffusion/internal/resample"
	"github.com/banshee-data/soccer-diffusion/internal/schema"
)

// StrategyOptions configures the converters of one recording.
type StrategyOptions struct {
	SamplingRateHz float64
	ImageMaxRateHz float64
	ImageWidth     int
	ImageHeight    int
}

// DefaultStrategyOptions stores synced streams at 100 Hz and 480x480
// frames at up to 10 Hz.
func DefaultStrategyOptions() StrategyOptions {
	return StrategyOptions{SamplingRateHz: 100, ImageMaxRateHz: 10, ImageWidth: 480, ImageHeight: 480}
}

// Rows is the output of one event.
type Rows struct {
	Images     []schema.Image
	GameStates []schema.GameState
	Synced     []schema.SyncedRow
}

// Strategy drives the converters of one recording. It is stateful and must
// not be shared between recordings.
type Strategy struct {
	opts      StrategyOptions
	images    *convert.ImageConverter
	gameState *convert.GameStateConverter
	synced    *convert.SyncedDataConverter
}

// StrategyFactory builds a fresh strategy per recording.
type StrategyFactory func() (*Strategy, error)

// NewStrategy returns a strategy with an image max-rate resampler, an
// original-rate game-state resampler and a previous-interpolation synced
// resampler.
func NewStrategy(opts StrategyOptions) (*Strategy, error) {
	imgRate, err := resample.New[convert.InputData](resample.PolicyMaxRate, opts.ImageMaxRateHz)
	if err != nil {
		return nil, fmt.Errorf("image resampler: %w", err)
	}
	images, err := convert.NewImageConverter(imgRate, opts.ImageWidth, opts.ImageHeight)
	if err != nil {
		return nil, err
	}
	gsRate, err := resample.New[convert.InputData](resample.PolicyOriginalRate, 0)
	if err != nil {
		return nil, fmt.Errorf("game state resampler: %w", err)
	}
	gameState, err := convert.NewGameStateConverter(gsRate)
	if err != nil {
		return nil, err
	}
	syncRate, err := resample.New[convert.SyncedPayload](resample.PolicyPreviousInterpolation, opts.SamplingRateHz)
	if err != nil {
		return nil, fmt.Errorf("synced resampler: %w", err)
	}
	synced, err := convert.NewSyncedDataConverter(syncRate)
	if err != nil {
		return nil, err
	}
	return &Strategy{opts: opts, images: images, gameState: gameState, synced: synced}, nil
}

// Factory returns a StrategyFactory for opts.
func Factory(opts StrategyOptions) StrategyFactory {
	return func() (*Strategy, error) { return NewStrategy(opts) }
}

// Options returns the strategy options.
func (s *Strategy) Options() StrategyOptions { return s.opts }

// Convert feeds one event to every converter.
func (s *Strategy) Convert(recordingID int64, ev *Event) (Rows, error) {
	var out Rows
	var err error
	if out.Images, err = s.images.Populate(recordingID, ev.Data, ev.Stamp); err != nil {
		return out, err
	}
	out.GameStates = s.gameState.Populate(recordingID, ev.Data, ev.Stamp)
	if out.Synced, err = s.synced.Populate(ev.Data, ev.Stamp); err != nil {
		return out, err
	}
	return out, nil
}

// ImageScaling is stored size / source size of the first frame, or (1, 1)
// when the recording held no frames.
func (s *Strategy) ImageScaling() (width, height float64) {
	if w, h, ok := s.images.Scaling(); ok {
		return w, h
	}
	return 1, 1
}
