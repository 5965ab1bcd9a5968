package convert

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/soccer-diffusion/internal/schema"
)

// ErrMalformedEvent is returned for a message that cannot be decoded into
// one of the known event kinds.
var ErrMalformedEvent = errors.New("malformed event")

// Event kinds on the wire.
const (
	KindJointCommand = "joint_command"
	KindJointState   = "joint_state"
	KindIMU          = "imu"
	KindImage        = "image"
	KindGameState    = "game_state"
)

// wireEvent is the JSON shape shared by recorded event logs and live feeds.
// Payload fields of all kinds share the object; only those of Kind are read.
type wireEvent struct {
	Stamp    *float64   `json:"stamp"`
	Kind     string     `json:"kind"`
	WallTime *time.Time `json:"wall_time,omitempty"`

	Name     []string  `json:"name,omitempty"`
	Position []float64 `json:"position,omitempty"`

	X *float64 `json:"x,omitempty"`
	Y *float64 `json:"y,omitempty"`
	Z *float64 `json:"z,omitempty"`
	W *float64 `json:"w,omitempty"`

	Encoding string `json:"encoding,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Data     []byte `json:"data,omitempty"`

	State     string `json:"state,omitempty"`
	Penalized bool   `json:"penalized,omitempty"`
}

// Event is one decoded message. Stamp is in seconds on the producer's
// clock; recorded logs make it relative to their first event.
type Event struct {
	Stamp    float64
	WallTime *time.Time
	Data     InputData
}

// DecodeEvent decodes one JSON message.
func DecodeEvent(msg []byte) (Event, error) {
	var raw wireEvent
	if err := json.Unmarshal(msg, &raw); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if raw.Stamp == nil || math.IsNaN(*raw.Stamp) || math.IsInf(*raw.Stamp, 0) {
		return Event{}, fmt.Errorf("%w: missing or non-finite stamp", ErrMalformedEvent)
	}

	ev := Event{Stamp: *raw.Stamp, WallTime: raw.WallTime}
	switch raw.Kind {
	case KindJointCommand, KindJointState:
		if len(raw.Name) != len(raw.Position) {
			return Event{}, fmt.Errorf("%w: %d joint names but %d positions", ErrMalformedEvent, len(raw.Name), len(raw.Position))
		}
		msg := &JointMessage{Names: raw.Name, Positions: raw.Position}
		if raw.Kind == KindJointCommand {
			ev.Data.JointCommand = msg
		} else {
			ev.Data.JointState = msg
		}
	case KindIMU:
		if raw.X == nil || raw.Y == nil || raw.Z == nil || raw.W == nil {
			return Event{}, fmt.Errorf("%w: imu event needs x, y, z and w", ErrMalformedEvent)
		}
		ev.Data.Rotation = &schema.Quaternion{X: *raw.X, Y: *raw.Y, Z: *raw.Z, W: *raw.W}
	case KindImage:
		enc, err := ParseImageEncoding(raw.Encoding)
		if err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		ev.Data.Image = &ImageMessage{Encoding: enc, Width: raw.Width, Height: raw.Height, Data: raw.Data}
	case KindGameState:
		ev.Data.GameState = &GameStateMessage{
			State:     ParseGameControllerState(raw.State),
			Penalized: raw.Penalized,
		}
	default:
		return Event{}, fmt.Errorf("%w: unknown kind %q", ErrMalformedEvent, raw.Kind)
	}
	return ev, nil
}

var gameControllerWire = map[GameControllerState]string{
	GameControllerInitial:  "INITIAL",
	GameControllerReady:    "READY",
	GameControllerSet:      "SET",
	GameControllerPlaying:  "PLAYING",
	GameControllerFinished: "FINISHED",
}

// EncodeEvent encodes an event carrying exactly one payload.
func EncodeEvent(ev Event) ([]byte, error) {
	stamp := ev.Stamp
	raw := wireEvent{Stamp: &stamp, WallTime: ev.WallTime}
	set := 0
	d := ev.Data
	if d.JointCommand != nil {
		raw.Kind, raw.Name, raw.Position = KindJointCommand, d.JointCommand.Names, d.JointCommand.Positions
		set++
	}
	if d.JointState != nil {
		raw.Kind, raw.Name, raw.Position = KindJointState, d.JointState.Names, d.JointState.Positions
		set++
	}
	if d.Rotation != nil {
		q := *d.Rotation
		raw.Kind, raw.X, raw.Y, raw.Z, raw.W = KindIMU, &q.X, &q.Y, &q.Z, &q.W
		set++
	}
	if d.Image != nil {
		raw.Kind = KindImage
		raw.Encoding, raw.Width, raw.Height, raw.Data = string(d.Image.Encoding), d.Image.Width, d.Image.Height, d.Image.Data
		set++
	}
	if d.GameState != nil {
		raw.Kind, raw.State, raw.Penalized = KindGameState, gameControllerWire[d.GameState.State], d.GameState.Penalized
		set++
	}
	if set != 1 {
		return nil, fmt.Errorf("event must carry exactly one payload, has %d", set)
	}
	return json.Marshal(raw)
}
