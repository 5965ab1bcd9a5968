// Package convert holds the per-modality stream converters. Each converter
// owns one resampler, picks the events of its modality out of the incoming
// InputData envelopes, and turns the resampled output into store rows.
package convert

import (
	"fmt"
	"strings"

	"github.com/banshee-data/soccer-diffusion/internal/schema"
)

// InputData is the envelope for one raw recorded event. In practice one
// payload is set per event; the envelope does not enforce that.
type InputData struct {
	JointCommand *JointMessage
	JointState   *JointMessage
	Image        *ImageMessage
	Rotation     *schema.Quaternion
	GameState    *GameStateMessage
}

// JointMessage carries raw joint positions in radians keyed by name.
// Commands may name only a subset of the joints.
type JointMessage struct {
	Names     []string
	Positions []float64
}

// ImageEncoding names how ImageMessage.Data is laid out.
type ImageEncoding string

const (
	EncodingRGB8 ImageEncoding = "rgb8"
	EncodingPNG  ImageEncoding = "png"
	EncodingJPEG ImageEncoding = "jpeg"
)

// ParseImageEncoding accepts the common spellings of the supported encodings.
func ParseImageEncoding(v string) (ImageEncoding, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "rgb8", "rgb":
		return EncodingRGB8, nil
	case "png":
		return EncodingPNG, nil
	case "jpeg", "jpg":
		return EncodingJPEG, nil
	}
	return "", fmt.Errorf("unsupported image encoding %q", v)
}

// ImageMessage is one camera frame as produced by the camera driver.
// Width and Height are required for rgb8 and ignored otherwise.
type ImageMessage struct {
	Encoding ImageEncoding
	Width    int
	Height   int
	Data     []byte
}

// GameControllerState is the main state broadcast by the game controller.
type GameControllerState int

const (
	GameControllerInitial GameControllerState = iota
	GameControllerReady
	GameControllerSet
	GameControllerPlaying
	GameControllerFinished
)

var gameControllerNames = map[string]GameControllerState{
	"INITIAL":  GameControllerInitial,
	"READY":    GameControllerReady,
	"SET":      GameControllerSet,
	"PLAYING":  GameControllerPlaying,
	"FINISHED": GameControllerFinished,
}

// ParseGameControllerState parses a state name. Unrecognised names map to
// an out-of-range state, which RobotStateFromGameController reports as
// UNKNOWN.
func ParseGameControllerState(v string) GameControllerState {
	if s, ok := gameControllerNames[strings.ToUpper(strings.TrimSpace(v))]; ok {
		return s
	}
	return GameControllerState(-1)
}

// GameStateMessage is one game-controller update as seen by the robot.
type GameStateMessage struct {
	State     GameControllerState
	Penalized bool
}

// RobotStateFromGameController maps a game-controller update to the
// robot's game-state label. A penalised robot is always STOPPED.
func RobotStateFromGameController(state GameControllerState, penalized bool) schema.RobotState {
	if penalized {
		return schema.RobotStateStopped
	}
	switch state {
	case GameControllerInitial, GameControllerSet, GameControllerFinished:
		return schema.RobotStateStopped
	case GameControllerReady:
		return schema.RobotStatePositioning
	case GameControllerPlaying:
		return schema.RobotStatePlaying
	default:
		return schema.RobotStateUnknown
	}
}
