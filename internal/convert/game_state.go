package convert

import (
	"fmt"

	"github.com/banshee-data/soccer-diffusion/internal/resample"
	"github.com/banshee-data/soccer-diffusion/internal/schema"
)

// GameStateConverter turns game-controller updates into GameState rows.
// It is normally driven by an original-rate resampler so every state
// change is kept.
type GameStateConverter struct {
	resampler resample.Resampler[InputData]
}

// NewGameStateConverter returns a game-state converter.
func NewGameStateConverter(r resample.Resampler[InputData]) (*GameStateConverter, error) {
	if r == nil {
		return nil, fmt.Errorf("game state converter needs a resampler")
	}
	return &GameStateConverter{resampler: r}, nil
}

// Populate resamples one event. Events without a game state are ignored.
func (c *GameStateConverter) Populate(recordingID int64, data InputData, stamp float64) []schema.GameState {
	if data.GameState == nil {
		return nil
	}
	samples := c.resampler.Resample(data, stamp)
	rows := make([]schema.GameState, 0, len(samples))
	for _, s := range samples {
		rows = append(rows, schema.GameState{
			RecordingID: recordingID,
			Stamp:       s.Timestamp,
			State:       RobotStateFromGameController(s.Data.GameState.State, s.Data.GameState.Penalized),
		})
	}
	return rows
}
