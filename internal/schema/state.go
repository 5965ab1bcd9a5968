package schema

import (
	"errors"
	"fmt"
	"math"
)

// ErrUnknownRobotState is returned when a stored or configured state is not
// one of the four RobotState values.
var ErrUnknownRobotState = errors.New("unknown robot state")

// RobotState is the discrete game-state label. The integer value is the
// label index handed to the model.
type RobotState int

const (
	RobotStatePositioning RobotState = iota
	RobotStatePlaying
	RobotStateStopped
	RobotStateUnknown
)

var robotStateNames = [...]string{"POSITIONING", "PLAYING", "STOPPED", "UNKNOWN"}

// RobotStates lists all states in label order.
func RobotStates() []RobotState {
	return []RobotState{RobotStatePositioning, RobotStatePlaying, RobotStateStopped, RobotStateUnknown}
}

func (s RobotState) String() string {
	if s < 0 || int(s) >= len(robotStateNames) {
		return fmt.Sprintf("RobotState(%d)", int(s))
	}
	return robotStateNames[s]
}

// Valid reports whether s is one of the enumerated states.
func (s RobotState) Valid() bool {
	return s >= 0 && int(s) < len(robotStateNames)
}

// ParseRobotState parses the stored string form.
func ParseRobotState(v string) (RobotState, error) {
	for i, name := range robotStateNames {
		if name == v {
			return RobotState(i), nil
		}
	}
	return RobotStateUnknown, fmt.Errorf("%w: %q", ErrUnknownRobotState, v)
}

// TeamColor is the jersey colour of the recorded team.
type TeamColor string

const (
	TeamColorBlue   TeamColor = "BLUE"
	TeamColorRed    TeamColor = "RED"
	TeamColorYellow TeamColor = "YELLOW"
	TeamColorBlack  TeamColor = "BLACK"
	TeamColorWhite  TeamColor = "WHITE"
	TeamColorGreen  TeamColor = "GREEN"
	TeamColorOrange TeamColor = "ORANGE"
	TeamColorPurple TeamColor = "PURPLE"
	TeamColorBrown  TeamColor = "BROWN"
	TeamColorGray   TeamColor = "GRAY"
)

// Valid reports whether c is an allowed team colour.
func (c TeamColor) Valid() bool {
	switch c {
	case TeamColorBlue, TeamColorRed, TeamColorYellow, TeamColorBlack, TeamColorWhite,
		TeamColorGreen, TeamColorOrange, TeamColorPurple, TeamColorBrown, TeamColorGray:
		return true
	}
	return false
}

// RobotTypes lists the known robot platforms; the index is the optional
// robot-type label handed to the model.
var RobotTypes = []string{"NAO6", "Wolfgang-OP"}

// RobotTypeIndex returns the label index of a robot type.
func RobotTypeIndex(robotType string) (int, error) {
	for i, t := range RobotTypes {
		if t == robotType {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown robot type %q", robotType)
}

// Quaternion is an orientation as (x, y, z, w).
type Quaternion struct {
	X, Y, Z, W float64
}

// IdentityQuaternion is the neutral orientation used for padding.
var IdentityQuaternion = Quaternion{W: 1}

// Array returns the components in (x, y, z, w) order.
func (q Quaternion) Array() [4]float64 {
	return [4]float64{q.X, q.Y, q.Z, q.W}
}

// Validate checks every component lies in [-1, 1].
func (q Quaternion) Validate() error {
	for i, c := range q.Array() {
		if math.IsNaN(c) || c < -1 || c > 1 {
			return fmt.Errorf("quaternion component %d out of range [-1, 1]: %v", i, c)
		}
	}
	return nil
}
