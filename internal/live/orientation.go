package live

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/num/quat"

	"github.com/banshee-data/soccer-diffusion/internal/schema"
)

// ErrNoOrientationStrategy is returned when live inference is configured
// without a usable orientation strategy. There is no default.
var ErrNoOrientationStrategy = errors.New("no orientation strategy selected")

// Strategy names.
const (
	StrategyDirectSensor     = "direct_sensor"
	StrategyTransformDerived = "transform_derived"
)

// OrientationStrategy turns the latest IMU reading into the orientation
// fed to the model. ok is false while there is nothing to report.
type OrientationStrategy interface {
	Name() string
	Orientation(sensor *schema.Quaternion) (q schema.Quaternion, ok bool)
}

// ParseOrientationStrategy returns the named strategy. mount is only used
// by the transform-derived strategy and may be nil.
func ParseOrientationStrategy(name string, mount *schema.Quaternion) (OrientationStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case StrategyDirectSensor:
		return DirectSensor{}, nil
	case StrategyTransformDerived:
		td := TransformDerived{}
		if mount != nil {
			td.Mount = *mount
		}
		return td, nil
	case "":
		return nil, ErrNoOrientationStrategy
	}
	return nil, fmt.Errorf("%w: unknown strategy %q", ErrNoOrientationStrategy, name)
}

// DirectSensor uses the IMU orientation as reported, like the recorded
// dataset does.
type DirectSensor struct{}

func (DirectSensor) Name() string { return StrategyDirectSensor }

func (DirectSensor) Orientation(sensor *schema.Quaternion) (schema.Quaternion, bool) {
	if sensor == nil {
		return schema.Quaternion{}, false
	}
	return *sensor, true
}

// TransformDerived reports the base orientation relative to its ground
// footprint: the sensor reading is moved from the IMU frame to the base
// frame and its yaw is removed, leaving roll and pitch.
type TransformDerived struct {
	// Mount rotates the base frame onto the IMU frame. The zero value is
	// treated as identity.
	Mount schema.Quaternion
}

func (TransformDerived) Name() string { return StrategyTransformDerived }

func (t TransformDerived) Orientation(sensor *schema.Quaternion) (schema.Quaternion, bool) {
	if sensor == nil {
		return schema.Quaternion{}, false
	}
	base := unit(toQuat(*sensor))
	if t.Mount != (schema.Quaternion{}) {
		base = unit(quat.Mul(base, quat.Conj(unit(toQuat(t.Mount)))))
	}
	yaw := math.Atan2(2*(base.Real*base.Kmag+base.Imag*base.Jmag), 1-2*(base.Jmag*base.Jmag+base.Kmag*base.Kmag))
	footprint := quat.Number{Real: math.Cos(yaw / 2), Kmag: math.Sin(yaw / 2)}
	rel := unit(quat.Mul(quat.Conj(footprint), base))
	if rel.Real < 0 {
		rel = quat.Scale(-1, rel)
	}
	return schema.Quaternion{X: rel.Imag, Y: rel.Jmag, Z: rel.Kmag, W: rel.Real}, true
}

func toQuat(q schema.Quaternion) quat.Number {
	return quat.Number{Real: q.W, Imag: q.X, Jmag: q.Y, Kmag: q.Z}
}

func unit(n quat.Number) quat.Number {
	a := quat.Abs(n)
	if a == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/a, n)
}
