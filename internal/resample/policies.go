package resample

// OriginalRate is a pass-through resampler. It keeps no state.
type OriginalRate[T any] struct{}

// NewOriginalRate returns a pass-through resampler.
func NewOriginalRate[T any]() *OriginalRate[T] {
	return &OriginalRate[T]{}
}

// Resample always returns exactly one sample at the input timestamp.
func (*OriginalRate[T]) Resample(data T, timestamp float64) []Sample[T] {
	return []Sample[T]{{Timestamp: timestamp, Data: data}}
}

// rateTolerance absorbs float rounding in timestamp differences such as
// 0.06-0.04, which is slightly below 0.02.
const rateTolerance = 1e-9

// MaxRate accepts an event only if at least one period has passed since
// the last accepted event. The first event is always accepted.
type MaxRate[T any] struct {
	period       float64
	lastAccepted float64
	hasAccepted  bool
}

// NewMaxRate returns a resampler whose output rate never exceeds maxRateHz.
func NewMaxRate[T any](maxRateHz float64) (*MaxRate[T], error) {
	if err := checkRate(maxRateHz); err != nil {
		return nil, err
	}
	return &MaxRate[T]{period: 1 / maxRateHz}, nil
}

// Resample returns the event as a sample, or nil if it arrived too soon
// after the last accepted one.
func (r *MaxRate[T]) Resample(data T, timestamp float64) []Sample[T] {
	if r.hasAccepted && timestamp-r.lastAccepted < r.period-rateTolerance {
		return nil
	}
	r.hasAccepted = true
	r.lastAccepted = timestamp
	return []Sample[T]{{Timestamp: timestamp, Data: data}}
}

// PreviousInterpolation emits samples on a fixed grid {0, 1/rate, 2/rate, ...}
// holding the most recently seen payload. A late event after a gap emits
// every grid point it covers.
type PreviousInterpolation[T any] struct {
	rateHz   float64
	nextTick int64
	last     T
}

// NewPreviousInterpolation returns a zero-order-hold resampler at targetRateHz.
func NewPreviousInterpolation[T any](targetRateHz float64) (*PreviousInterpolation[T], error) {
	if err := checkRate(targetRateHz); err != nil {
		return nil, err
	}
	return &PreviousInterpolation[T]{rateHz: targetRateHz}, nil
}

// Resample records data as the last-seen payload and emits every grid point
// at or before timestamp that has not been emitted yet.
func (r *PreviousInterpolation[T]) Resample(data T, timestamp float64) []Sample[T] {
	r.last = data

	var out []Sample[T]
	for {
		// Computed from the tick index so the grid does not drift.
		ts := float64(r.nextTick) / r.rateHz
		if ts > timestamp {
			break
		}
		out = append(out, Sample[T]{Timestamp: ts, Data: r.last})
		r.nextTick++
	}
	return out
}

// NextTimestamp is the grid point the next emitted sample will carry.
func (r *PreviousInterpolation[T]) NextTimestamp() float64 {
	return float64(r.nextTick) / r.rateHz
}
