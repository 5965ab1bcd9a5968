// Package resample converts streams of timestamped events into output
// samples at a policy-defined cadence.
//
// A Resampler is stateful: one instance belongs to exactly one stream of one
// recording and must see that stream's events in non-decreasing timestamp
// order. Instances are not safe for concurrent use.
package resample

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownPolicy is returned for a policy tag outside the closed set.
var ErrUnknownPolicy = errors.New("unknown resampling policy")

// Sample is a resampler output: a payload tagged with its output timestamp
// in seconds.
type Sample[T any] struct {
	Timestamp float64
	Data      T
}

// Resampler turns one input event into zero or more output samples. The
// returned samples are in ascending timestamp order and never precede a
// sample returned by an earlier call.
type Resampler[T any] interface {
	Resample(data T, timestamp float64) []Sample[T]
}

// Policy tags a resampling strategy.
type Policy int

const (
	// PolicyOriginalRate passes every event through unchanged.
	PolicyOriginalRate Policy = iota
	// PolicyMaxRate drops events that would exceed a ceiling rate.
	PolicyMaxRate
	// PolicyPreviousInterpolation emits at a fixed rate, holding the last
	// seen value (zero-order hold).
	PolicyPreviousInterpolation
)

var policyNames = [...]string{"original_rate", "max_rate", "previous_interpolation"}

func (p Policy) String() string {
	if p < 0 || int(p) >= len(policyNames) {
		return fmt.Sprintf("Policy(%d)", int(p))
	}
	return policyNames[p]
}

// ParsePolicy parses a policy name as used in configuration files.
func ParsePolicy(name string) (Policy, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, pn := range policyNames {
		if pn == n {
			return Policy(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
}

// New builds a resampler for the given policy. rateHz is the ceiling rate
// for PolicyMaxRate and the output rate for PolicyPreviousInterpolation; it
// is ignored for PolicyOriginalRate.
func New[T any](p Policy, rateHz float64) (Resampler[T], error) {
	switch p {
	case PolicyOriginalRate:
		return NewOriginalRate[T](), nil
	case PolicyMaxRate:
		r, err := NewMaxRate[T](rateHz)
		if err != nil {
			return nil, err
		}
		return r, nil
	case PolicyPreviousInterpolation:
		r, err := NewPreviousInterpolation[T](rateHz)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownPolicy, p)
	}
}

func checkRate(rateHz float64) error {
	if !(rateHz > 0) {
		return fmt.Errorf("rate must be positive, got %v Hz", rateHz)
	}
	return nil
}
