// Package schema holds the row types of the dataset store and the value
// domains they are checked against: joint angles in [0, 2π), unit
// quaternions, and the robot-state enumeration.
//
// Every time-series row references its Recording and carries a stamp in
// seconds relative to the start of the recording.
package schema

import (
	"fmt"
	"math"
	"time"
)

// TwoPi is the exclusive upper bound of a stored joint angle.
const TwoPi = 2 * math.Pi

// Recording is one continuous capture session.
type Recording struct {
	ID               int64
	AllowPublic      bool
	OriginalFile     string
	TeamName         string
	TeamColor        *TeamColor
	RobotType        string
	StartTime        *time.Time
	EndTime          *time.Time
	Location         *string
	Simulated        bool
	ImgWidth         int
	ImgHeight        int
	ImgWidthScaling  float64
	ImgHeightScaling float64
}

// Validate checks the recording against the store's constraints.
func (r *Recording) Validate() error {
	if r.OriginalFile == "" {
		return fmt.Errorf("original_file is required")
	}
	if r.TeamName == "" {
		return fmt.Errorf("team_name is required")
	}
	if r.RobotType == "" {
		return fmt.Errorf("robot_type is required")
	}
	if r.ImgWidth <= 0 || r.ImgHeight <= 0 {
		return fmt.Errorf("image size must be positive, got %dx%d", r.ImgWidth, r.ImgHeight)
	}
	if r.TeamColor != nil && !r.TeamColor.Valid() {
		return fmt.Errorf("invalid team_color %q", *r.TeamColor)
	}
	if r.StartTime != nil && r.EndTime != nil && r.EndTime.Before(*r.StartTime) {
		return fmt.Errorf("end_time %s before start_time %s", r.EndTime, r.StartTime)
	}
	return nil
}

// JointCommand is one row of commanded joint positions.
type JointCommand struct {
	RecordingID int64
	Stamp       float64
	Positions   JointVector
}

// JointState is one row of measured joint positions.
type JointState struct {
	RecordingID int64
	Stamp       float64
	Positions   JointVector
}

// Image is one stored camera frame: width*height*3 bytes of RGB.
type Image struct {
	RecordingID int64
	Stamp       float64
	Data        []byte
}

// Rotation is one IMU orientation sample.
type Rotation struct {
	RecordingID int64
	Stamp       float64
	Quaternion  Quaternion
}

// GameState is one discrete game-state label.
type GameState struct {
	RecordingID int64
	Stamp       float64
	State       RobotState
}

// SyncedRow is one tick of the synchronised base clock. The three payloads
// share a stamp and are persisted together so the JointCommand, JointState
// and Rotation tables stay row-aligned.
type SyncedRow struct {
	Stamp        float64
	JointCommand JointVector
	JointState   JointVector
	Rotation     Quaternion
}

// CheckStamp reports whether a stamp satisfies stamp >= 0.
func CheckStamp(stamp float64) error {
	if math.IsNaN(stamp) || stamp < 0 {
		return fmt.Errorf("stamp must be non-negative, got %v", stamp)
	}
	return nil
}
