package resample

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const maxSampleRateHz = 50

func newMaxRate(t *testing.T) *MaxRate[string] {
	t.Helper()
	r, err := NewMaxRate[string](maxSampleRateHz)
	require.NoError(t, err)
	return r
}

func TestMaxRate_InitialData(t *testing.T) {
	r := newMaxRate(t)
	samples := r.Resample("rotation", 0.0)
	require.Len(t, samples, 1)
	assert.Equal(t, "rotation", samples[0].Data)
	assert.Equal(t, 0.0, samples[0].Timestamp)
}

func TestMaxRate_InitialDataAtAnyTimestamp(t *testing.T) {
	r := newMaxRate(t)
	samples := r.Resample("late", 123.456)
	require.Len(t, samples, 1)
	assert.Equal(t, 123.456, samples[0].Timestamp)
}

func TestMaxRate_NextData(t *testing.T) {
	r := newMaxRate(t)
	r.Resample("first", 0.0)
	samples := r.Resample("image", 0.02)
	require.Len(t, samples, 1)
	assert.Equal(t, "image", samples[0].Data)
	assert.Equal(t, 0.02, samples[0].Timestamp)
}

func TestMaxRate_HigherThanMaxRate(t *testing.T) {
	r := newMaxRate(t)
	r.Resample("first", 0.0)
	assert.Empty(t, r.Resample("image", 0.01))
}

func TestMaxRate_FloatRoundingAtPeriodBoundary(t *testing.T) {
	r := newMaxRate(t)
	r.Resample("first", 0.04)
	require.Less(t, 0.06-0.04, 0.02)
	assert.Len(t, r.Resample("rounded", 0.06), 1)

	r = newMaxRate(t)
	r.Resample("first", 0.0)
	assert.Empty(t, r.Resample("early", 0.02-1e-6))
}

func TestMaxRate_LowSamplingRate(t *testing.T) {
	r := newMaxRate(t)
	r.Resample("first", 0.0)
	samples := r.Resample("image", 1.0)
	require.Len(t, samples, 1)
	assert.Equal(t, 1.0, samples[0].Timestamp)
}

func TestMaxRate_RejectedEventDoesNotMoveWindow(t *testing.T) {
	r := newMaxRate(t)
	r.Resample("a", 0.0)
	assert.Empty(t, r.Resample("b", 0.015))
	// Measured from the last accepted event (0.0), not the rejected one.
	assert.Len(t, r.Resample("c", 0.02), 1)
}

func TestMaxRate_AcceptedCountBound(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for trial := 0; trial < 50; trial++ {
		r := newMaxRate(t)
		ts := 0.0
		start := ts
		accepted := 0
		for i := 0; i < 500; i++ {
			ts += rng.Float64() * 0.03
			accepted += len(r.Resample("x", ts))
		}
		span := ts - start
		bound := int(math.Ceil(span*maxSampleRateHz)) + 1
		assert.LessOrEqual(t, accepted, bound, "trial %d", trial)
	}
}

func TestOriginalRate(t *testing.T) {
	r := NewOriginalRate[int]()
	for i, ts := range []float64{0, 0, 0.001, 5} {
		samples := r.Resample(i, ts)
		require.Len(t, samples, 1)
		assert.Equal(t, Sample[int]{Timestamp: ts, Data: i}, samples[0])
	}
}

func TestPreviousInterpolation_Grid(t *testing.T) {
	r, err := NewPreviousInterpolation[string](100)
	require.NoError(t, err)

	var got []Sample[string]
	got = append(got, r.Resample("a", 0.0)...)
	got = append(got, r.Resample("b", 0.005)...)
	got = append(got, r.Resample("c", 0.012)...)
	got = append(got, r.Resample("d", 0.05)...)

	want := []Sample[string]{
		{0.00, "a"},
		{0.01, "c"},
		{0.02, "d"},
		{0.03, "d"},
		{0.04, "d"},
		{0.05, "d"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("samples mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 0.06, r.NextTimestamp())
}

func TestPreviousInterpolation_FirstEventAfterZero(t *testing.T) {
	r, err := NewPreviousInterpolation[int](10)
	require.NoError(t, err)

	samples := r.Resample(7, 0.25)
	require.Len(t, samples, 3)
	for i, s := range samples {
		assert.Equal(t, float64(i)/10, s.Timestamp)
		assert.Equal(t, 7, s.Data)
	}
}

func TestPreviousInterpolation_NoEmissionBetweenTicks(t *testing.T) {
	r, err := NewPreviousInterpolation[int](10)
	require.NoError(t, err)
	require.Len(t, r.Resample(1, 0.0), 1)
	assert.Empty(t, r.Resample(2, 0.05))
	assert.Empty(t, r.Resample(3, 0.09))
	samples := r.Resample(4, 0.1)
	require.Len(t, samples, 1)
	assert.Equal(t, 4, samples[0].Data)
}

func TestPreviousInterpolation_MonotonicOverLongRun(t *testing.T) {
	r, err := NewPreviousInterpolation[int](100)
	require.NoError(t, err)
	rng := rand.New(rand.NewPCG(3, 4))
	ts := 0.0
	last := -1.0
	count := 0
	for i := 0; i < 2000; i++ {
		ts += rng.Float64() * 0.02
		for _, s := range r.Resample(i, ts) {
			assert.Greater(t, s.Timestamp, last)
			assert.LessOrEqual(t, s.Timestamp, ts)
			last = s.Timestamp
			count++
		}
	}
	assert.Equal(t, int(math.Floor(ts*100))+1, count)
}

func TestNewPolicies(t *testing.T) {
	r, err := New[int](PolicyOriginalRate, 0)
	require.NoError(t, err)
	assert.IsType(t, &OriginalRate[int]{}, r)

	r, err = New[int](PolicyMaxRate, 10)
	require.NoError(t, err)
	assert.IsType(t, &MaxRate[int]{}, r)

	r, err = New[int](PolicyPreviousInterpolation, 100)
	require.NoError(t, err)
	assert.IsType(t, &PreviousInterpolation[int]{}, r)

	_, err = New[int](PolicyMaxRate, 0)
	assert.Error(t, err)

	_, err = New[int](Policy(42), 10)
	assert.True(t, errors.Is(err, ErrUnknownPolicy))
}

func TestParsePolicy(t *testing.T) {
	for _, p := range []Policy{PolicyOriginalRate, PolicyMaxRate, PolicyPreviousInterpolation} {
		parsed, err := ParsePolicy(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, parsed)
	}
	_, err := ParsePolicy("linear")
	assert.True(t, errors.Is(err, ErrUnknownPolicy))
}
