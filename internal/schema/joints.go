package schema

import (
	"fmt"
	"math"
)

// NumJoints is the channel count of every joint vector.
const NumJoints = 20

// JointNames lists the canonical joint names in alphabetical order. The
// index of a name is its channel in a JointVector.
var JointNames = [NumJoints]string{
	"HeadPan",
	"HeadTilt",
	"LAnklePitch",
	"LAnkleRoll",
	"LElbow",
	"LHipPitch",
	"LHipRoll",
	"LHipYaw",
	"LKnee",
	"LShoulderPitch",
	"LShoulderRoll",
	"RAnklePitch",
	"RAnkleRoll",
	"RElbow",
	"RHipPitch",
	"RHipRoll",
	"RHipYaw",
	"RKnee",
	"RShoulderPitch",
	"RShoulderRoll",
}

var jointIndex = func() map[string]int {
	m := make(map[string]int, NumJoints)
	for i, name := range JointNames {
		m[name] = i
	}
	return m
}()

// JointIndex returns the channel of a joint name.
func JointIndex(name string) (int, bool) {
	i, ok := jointIndex[name]
	return i, ok
}

// JointVector holds one value per canonical joint, stored as normalised
// angles in [0, 2π).
type JointVector [NumJoints]float64

// Float32 returns the vector as a float32 slice in canonical order.
func (v JointVector) Float32() []float32 {
	out := make([]float32, NumJoints)
	for i, a := range v {
		out[i] = float32(a)
	}
	return out
}

// Validate checks every channel lies in [0, 2π).
func (v JointVector) Validate() error {
	for i, a := range v {
		if math.IsNaN(a) || a < 0 || a >= TwoPi {
			return fmt.Errorf("%s out of range [0, 2π): %v", JointNames[i], a)
		}
	}
	return nil
}

// NormalizeAngle maps a raw joint angle in radians (nominally [-π, π)) to
// the stored range [0, 2π) by shifting by π and wrapping.
func NormalizeAngle(raw float64) float64 {
	a := math.Mod(raw+math.Pi, TwoPi)
	if a < 0 {
		a += TwoPi
	}
	// Mod can round up to exactly 2π for tiny negative inputs.
	if a >= TwoPi {
		a = 0
	}
	return a
}

// DenormalizeAngle inverts NormalizeAngle, returning a value in [-π, π).
func DenormalizeAngle(stored float64) float64 {
	return NormalizeAngle(stored-math.Pi) - math.Pi
}

// ApplyNamed merges named raw positions into v, leaving joints that are not
// named untouched. Unknown names are ignored so robots with extra joints
// (for example the NAO elbow yaw) import cleanly. It returns the number of
// joints that were updated.
func (v *JointVector) ApplyNamed(names []string, positions []float64) (int, error) {
	if len(names) != len(positions) {
		return 0, fmt.Errorf("joint message has %d names but %d positions", len(names), len(positions))
	}
	updated := 0
	for i, name := range names {
		idx, ok := jointIndex[name]
		if !ok {
			continue
		}
		v[idx] = NormalizeAngle(positions[i])
		updated++
	}
	return updated, nil
}
