package dataset

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/num/quat"

	"github.com/banshee-data/soccer-diffusion/internal/schema"
)

// ErrUnknownOrientation is returned for an orientation representation that
// is not one of the supported ones.
var ErrUnknownOrientation = errors.New("unknown orientation representation")

// Orientation selects how IMU quaternions are handed to the model.
type Orientation int

const (
	// OrientationQuaternion passes (x, y, z, w) through.
	OrientationQuaternion Orientation = iota
	// OrientationFiveDim is the world up axis seen from the body frame
	// followed by sin and cos of the yaw angle.
	OrientationFiveDim
)

// ParseOrientation parses a configured representation name.
func ParseOrientation(v string) (Orientation, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "quaternion":
		return OrientationQuaternion, nil
	case "five_dim", "5d":
		return OrientationFiveDim, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownOrientation, v)
}

func (o Orientation) String() string {
	switch o {
	case OrientationQuaternion:
		return "quaternion"
	case OrientationFiveDim:
		return "five_dim"
	}
	return fmt.Sprintf("Orientation(%d)", int(o))
}

// Width is the number of channels per orientation row.
func (o Orientation) Width() (int, error) {
	switch o {
	case OrientationQuaternion:
		return 4, nil
	case OrientationFiveDim:
		return 5, nil
	}
	return 0, fmt.Errorf("%w: %d", ErrUnknownOrientation, int(o))
}

// Encode converts one quaternion to its configured representation.
func (o Orientation) Encode(q schema.Quaternion) ([]float32, error) {
	switch o {
	case OrientationQuaternion:
		return []float32{float32(q.X), float32(q.Y), float32(q.Z), float32(q.W)}, nil
	case OrientationFiveDim:
		v := FiveDim(q)
		return v[:], nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownOrientation, int(o))
}

// FiveDim returns the world up axis expressed in the body frame and the
// sin and cos of the yaw angle. q rotates body into world and need not be
// normalised.
func FiveDim(q schema.Quaternion) [5]float32 {
	n := quat.Number{Real: q.W, Imag: q.X, Jmag: q.Y, Kmag: q.Z}
	if a := quat.Abs(n); a > 0 {
		n = quat.Scale(1/a, n)
	} else {
		n = quat.Number{Real: 1}
	}
	up := quat.Mul(quat.Mul(quat.Conj(n), quat.Number{Kmag: 1}), n)
	yaw := math.Atan2(2*(n.Real*n.Kmag+n.Imag*n.Jmag), 1-2*(n.Jmag*n.Jmag+n.Kmag*n.Kmag))
	return [5]float32{
		float32(up.Imag), float32(up.Jmag), float32(up.Kmag),
		float32(math.Sin(yaw)), float32(math.Cos(yaw)),
	}
}
