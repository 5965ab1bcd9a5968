package live

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/banshee-data/soccer-diffusion/internal/convert"
	"github.com/banshee-data/soccer-diffusion/internal/dataset"
	"github.com/banshee-data/soccer-diffusion/internal/livefeed"
	"github.com/banshee-data/soccer-diffusion/internal/modelclient"
	"github.com/banshee-data/soccer-diffusion/internal/monitoring"
	"github.com/banshee-data/soccer-diffusion/internal/schema"
	"github.com/banshee-data/soccer-diffusion/internal/timeutil"
)

var epoch = time.Date(2025, 7, 14, 12, 0, 0, 0, time.UTC)

const trajectoryTopic = "robots/amy/trajectory"

// fakeModel returns rows for every call. When release is set, each call
// signals started and blocks until release is closed.
type fakeModel struct {
	rows    [][]float32
	err     error
	started chan struct{}
	release chan struct{}

	mu     sync.Mutex
	inputs []modelclient.Inputs
}

func (m *fakeModel) Predict(ctx context.Context, in modelclient.Inputs) ([][]float32, error) {
	m.mu.Lock()
	m.inputs = append(m.inputs, in)
	m.mu.Unlock()
	if m.release != nil {
		m.started <- struct{}{}
		<-m.release
	}
	return m.rows, m.err
}

func (m *fakeModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inputs)
}

func constTrajectory(steps int, v float32) [][]float32 {
	rows := make([][]float32, steps)
	for i := range rows {
		rows[i] = make([]float32, schema.NumJoints)
		for j := range rows[i] {
			rows[i][j] = v
		}
	}
	return rows
}

type harness struct {
	clock  *timeutil.MockClock
	broker *livefeed.MemoryBroker
	bufs   *Buffers
	sched  *Scheduler
	cancel context.CancelFunc
	done   chan error
}

func startScheduler(t *testing.T, model Predictor) *harness {
	t.Helper()
	h := &harness{
		clock:  timeutil.NewMockClock(epoch),
		broker: livefeed.NewMemoryBroker(),
		bufs:   newTestBuffers(t, testConfig()),
		done:   make(chan error, 1),
	}
	var err error
	h.sched, err = NewScheduler(h.bufs, model, NewMQTTPublisher(h.broker, trajectoryTopic), h.clock)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.sched.Run(ctx) }()
	h.clock.WaitForTickers(3)
	t.Cleanup(func() { h.stop(t) })
	return h
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	if h.cancel == nil {
		return
	}
	h.cancel()
	h.cancel = nil
	select {
	case err := <-h.done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestNewScheduler_Errors(t *testing.T) {
	b := newTestBuffers(t, testConfig())
	pub := NewMQTTPublisher(livefeed.NewMemoryBroker(), trajectoryTopic)
	_, err := NewScheduler(nil, &fakeModel{}, pub, nil)
	assert.Error(t, err)
	_, err = NewScheduler(b, nil, pub, nil)
	assert.Error(t, err)
	_, err = NewScheduler(b, &fakeModel{}, nil, nil)
	assert.Error(t, err)

	s, err := NewScheduler(b, &fakeModel{}, pub, nil)
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, s.InferencePeriod())
}

func TestScheduler_RunsInferenceOncePerWindow(t *testing.T) {
	model := &fakeModel{rows: constTrajectory(10, math.Pi+0.1)}
	h := startScheduler(t, model)

	require.NoError(t, h.bufs.Observe(jointState(0.25)))
	for i := 0; i < 9; i++ {
		h.clock.Advance(10 * time.Millisecond)
	}
	assert.Never(t, func() bool { return model.calls() > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	h.clock.Advance(10 * time.Millisecond)
	require.Eventually(t, func() bool { return h.sched.Steps() == 1 }, 5*time.Second, time.Millisecond)
	h.stop(t)

	model.mu.Lock()
	in := model.inputs[0]
	model.mu.Unlock()
	assert.NotContains(t, in, dataset.KeyJointCommand)
	assert.Equal(t, []int{1, 4, schema.NumJoints}, in[dataset.KeyJointCommandHistory].Shape)

	msgs := h.broker.Published(trajectoryTopic)
	require.Len(t, msgs, 1)
	var tr Trajectory
	require.NoError(t, json.Unmarshal(msgs[0], &tr))
	assert.NotEmpty(t, tr.ID)
	assert.True(t, tr.Stamp.After(epoch))
	assert.Equal(t, schema.JointNames[:], tr.JointNames)
	require.Len(t, tr.Points, 10)
	assert.Equal(t, time.Duration(0), tr.Points[0].TimeFromStart)
	assert.Equal(t, 90*time.Millisecond, tr.Points[9].TimeFromStart)
	assert.InDelta(t, 0.1, tr.Points[3].Positions[0], 1e-6)

	batch, err := h.bufs.Snapshot()
	require.NoError(t, err)
	last := batch.JointCommandHistory[3*schema.NumJoints]
	assert.InDelta(t, math.Pi+0.1, last, 1e-6, "prediction fed back into the command history")
}

func TestScheduler_SkipsWhileBusy(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	prev := monitoring.L()
	monitoring.SetLogger(zap.New(core))
	defer monitoring.SetLogger(prev)

	model := &fakeModel{
		rows:    constTrajectory(10, 1),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	h := startScheduler(t, model)

	h.clock.Advance(100 * time.Millisecond)
	select {
	case <-model.started:
	case <-time.After(5 * time.Second):
		t.Fatal("inference did not start")
	}

	h.clock.Advance(100 * time.Millisecond)
	require.Eventually(t, func() bool { return h.sched.Skipped() == 1 }, 5*time.Second, time.Millisecond)
	h.clock.Advance(100 * time.Millisecond)
	require.Eventually(t, func() bool { return h.sched.Skipped() == 2 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, 1, model.calls(), "skipped ticks are not queued")

	close(model.release)
	require.Eventually(t, func() bool { return h.sched.Steps() == 1 }, 5*time.Second, time.Millisecond)

	h.clock.Advance(100 * time.Millisecond)
	require.Eventually(t, func() bool { return h.sched.Steps() == 2 }, 5*time.Second, time.Millisecond)
	h.stop(t)

	assert.Equal(t, 2, logs.FilterMessage("inference still running, skipping tick").Len())
}

func TestScheduler_StepFailures(t *testing.T) {
	b := newTestBuffers(t, testConfig())
	broker := livefeed.NewMemoryBroker()
	pub := NewMQTTPublisher(broker, trajectoryTopic)
	ctx := context.Background()

	s, err := NewScheduler(b, &fakeModel{rows: constTrajectory(3, 1)}, pub, timeutil.NewMockClock(epoch))
	require.NoError(t, err)
	assert.ErrorContains(t, s.Step(ctx), "3 steps")

	s, err = NewScheduler(b, &fakeModel{err: errors.New("model offline")}, pub, timeutil.NewMockClock(epoch))
	require.NoError(t, err)
	assert.ErrorContains(t, s.Step(ctx), "model offline")

	assert.Empty(t, broker.Published(trajectoryTopic))
	assert.Zero(t, s.Steps())
}

func TestScheduler_CountsFailedPasses(t *testing.T) {
	model := &fakeModel{err: errors.New("model offline")}
	h := startScheduler(t, model)
	h.clock.Advance(100 * time.Millisecond)
	require.Eventually(t, func() bool { return h.sched.Failed() == 1 }, 5*time.Second, time.Millisecond)
	assert.Zero(t, h.sched.Steps())
}

func TestScheduler_DrainsBuffersOnTicks(t *testing.T) {
	h := startScheduler(t, &fakeModel{rows: constTrajectory(10, 1)})
	require.NoError(t, h.bufs.Observe(jointState(0.5)))

	head, _ := schema.JointIndex("HeadPan")
	want := float32(schema.NormalizeAngle(0.5))
	require.Eventually(t, func() bool {
		h.clock.Advance(10 * time.Millisecond)
		batch, err := h.bufs.Snapshot()
		if err != nil {
			return false
		}
		return math.Abs(float64(batch.JointState[head]-want)) < 1e-6
	}, 5*time.Second, time.Millisecond, "the whole joint state history fills with the observed pose")
}

func TestMQTTPublisher(t *testing.T) {
	broker := livefeed.NewMemoryBroker()
	pub := NewMQTTPublisher(broker, trajectoryTopic)
	tr := NewTrajectory("step-1", epoch, constTrajectory(2, 0), 50)
	require.NoError(t, pub.Publish(context.Background(), tr))

	msgs := broker.Published(trajectoryTopic)
	require.Len(t, msgs, 1)
	var got Trajectory
	require.NoError(t, json.Unmarshal(msgs[0], &got))
	assert.Equal(t, "step-1", got.ID)
	assert.Equal(t, 20*time.Millisecond, got.Points[1].TimeFromStart)
	assert.InDelta(t, -math.Pi, got.Points[0].Positions[0], 1e-9)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pub.Publish(ctx, tr), context.Canceled)
	assert.Len(t, broker.Published(trajectoryTopic), 1)
}

func jointState(pos float64) convert.Event {
	return convert.Event{Data: convert.InputData{
		JointState: &convert.JointMessage{Names: []string{"HeadPan"}, Positions: []float64{pos}},
	}}
}

type lineRecorder struct {
	lines [][]byte
	err   error
}

func (r *lineRecorder) WriteLine(payload []byte) error {
	r.lines = append(r.lines, payload)
	return r.err
}

func TestLinePublisher(t *testing.T) {
	rec := &lineRecorder{}
	pub := NewLinePublisher(rec)
	tr := NewTrajectory("step-2", epoch, constTrajectory(3, math.Pi), 100)
	require.NoError(t, pub.Publish(context.Background(), tr))

	require.Len(t, rec.lines, 1)
	var got Trajectory
	require.NoError(t, json.Unmarshal(rec.lines[0], &got))
	require.Len(t, got.Points, 3)
	assert.InDelta(t, 0, got.Points[2].Positions[5], 1e-9)
	assert.Equal(t, 20*time.Millisecond, got.Points[2].TimeFromStart)

	rec.err = errors.New("port gone")
	assert.ErrorContains(t, pub.Publish(context.Background(), tr), "port gone")
}
