package livefeed

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/banshee-data/soccer-diffusion/internal/convert"
	"github.com/banshee-data/soccer-diffusion/internal/schema"
)

// pipePort is a SerialPorter whose input is written by the test.
type pipePort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu      sync.Mutex
	written strings.Builder
}

func newPipePort() *pipePort {
	r, w := io.Pipe()
	return &pipePort{r: r, w: w}
}

func (p *pipePort) Read(b []byte) (int, error) { return p.r.Read(b) }
func (p *pipePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func (p *pipePort) output() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}
func (p *pipePort) Close() error {
	p.w.Close()
	return p.r.Close()
}

func encode(t *testing.T, ev convert.Event) string {
	t.Helper()
	msg, err := convert.EncodeEvent(ev)
	require.NoError(t, err)
	return string(msg)
}

func jointStateEvent(stamp float64) convert.Event {
	return convert.Event{Stamp: stamp, Data: convert.InputData{
		JointState: &convert.JointMessage{Names: []string{"HeadTilt"}, Positions: []float64{0.3}},
	}}
}

// collector gathers handled events.
type collector struct {
	mu     sync.Mutex
	events []convert.Event
}

func (c *collector) handle(ev convert.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestPortOptions_Normalize(t *testing.T) {
	opts, err := PortOptions{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}, opts)

	opts, err = PortOptions{BaudRate: 9600, Parity: "even"}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "E", opts.Parity)

	for name, bad := range map[string]PortOptions{
		"data bits": {DataBits: 9},
		"stop bits": {StopBits: 3},
		"parity":    {Parity: "mark"},
	} {
		_, err := bad.Normalize()
		assert.Error(t, err, name)
	}
}

func TestPortOptions_SerialMode(t *testing.T) {
	mode, err := PortOptions{StopBits: 1}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)
	assert.Equal(t, serial.NoParity, mode.Parity)
	assert.Equal(t, 115200, mode.BaudRate)

	mode, err = PortOptions{StopBits: 2, Parity: "O"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.OddParity, mode.Parity)

	_, err = PortOptions{DataBits: 4}.SerialMode()
	assert.Error(t, err)
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "robots/amy/events", EventsTopic("robots/amy/"))
	assert.Equal(t, "robots/amy/trajectory", TrajectoryTopic("/robots/amy"))
	assert.Equal(t, "events", EventsTopic(""))
}

func TestSerialSource_DecodesLinesInOrder(t *testing.T) {
	port := newPipePort()
	src := NewSerialSource(port)
	_, tail := src.Subscribe()

	var got collector
	done := make(chan error, 1)
	go func() { done <- src.Run(context.Background(), got.handle) }()

	input := strings.Join([]string{
		encode(t, jointStateEvent(1.0)),
		"",
		"garbage",
		encode(t, convert.Event{Stamp: 1.1, Data: convert.InputData{Rotation: &schema.Quaternion{W: 1}}}),
	}, "\n") + "\n"
	_, err := io.WriteString(port.w, input)
	require.NoError(t, err)
	port.w.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the port was exhausted")
	}

	require.Equal(t, 2, got.len())
	assert.Equal(t, 1.0, got.events[0].Stamp)
	require.NotNil(t, got.events[0].Data.JointState)
	assert.Equal(t, 1.1, got.events[1].Stamp)
	assert.Equal(t, int64(1), src.Malformed())

	var lines []string
	for len(tail) > 0 {
		lines = append(lines, <-tail)
	}
	assert.Len(t, lines, 3, "tail sees every non-blank line, malformed included")
}

func TestSerialSource_Cancel(t *testing.T) {
	port := newPipePort()
	src := NewSerialSource(port)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, func(convert.Event) {}) }()
	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("Run ignored cancellation")
	}
	require.NoError(t, src.Close())
}

func TestSerialSource_CloseClosesSubscribers(t *testing.T) {
	src := NewSerialSource(newPipePort())
	_, ch := src.Subscribe()
	require.NoError(t, src.Close())
	_, open := <-ch
	assert.False(t, open)

	_, late := src.Subscribe()
	_, open = <-late
	assert.False(t, open, "subscribing after close yields a closed channel")
}

func TestSerialSource_TailHandler(t *testing.T) {
	src := NewSerialSource(newPipePort())
	srv := httptest.NewServer(http.HandlerFunc(src.handleTail))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	ping, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": ping\n", ping)
	_, err = r.ReadString('\n')
	require.NoError(t, err)

	src.fanOut(`{"stamp": 1}`)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "data: {\"stamp\": 1}\n", line)

	rec := httptest.NewRecorder()
	src.handleTail(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSerialSource_AttachAdminRoutes(t *testing.T) {
	src := NewSerialSource(newPipePort())
	mux := http.NewServeMux()
	src.AttachAdminRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/debug/feed-tail", nil))
	assert.NotEqual(t, http.StatusNotFound, rec.Code)
}

func TestMQTTSource(t *testing.T) {
	broker := NewMemoryBroker()
	topic := EventsTopic("robots/amy")
	src := NewMQTTSource(broker, topic)

	events := make(chan convert.Event, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, func(ev convert.Event) { events <- ev }) }()

	require.Eventually(t, func() bool { return broker.Subscribed(topic) }, 5*time.Second, time.Millisecond)

	require.NoError(t, broker.Publish(topic, 0, false, []byte(encode(t, jointStateEvent(2.5)))))
	require.NoError(t, broker.Publish(topic, 0, false, []byte(`{"kind": "imu"}`)))
	require.NoError(t, broker.Publish(topic, 0, false, []byte(encode(t, jointStateEvent(2.6)))))

	for _, want := range []float64{2.5, 2.6} {
		select {
		case ev := <-events:
			assert.Equal(t, want, ev.Stamp)
		case <-time.After(5 * time.Second):
			t.Fatalf("event %v not delivered", want)
		}
	}
	assert.Equal(t, int64(1), src.Dropped())

	cancel()
	assert.True(t, errors.Is(<-done, context.Canceled))
	assert.False(t, broker.Subscribed(topic), "Run unsubscribes on exit")
	assert.Len(t, broker.Published(topic), 3)
}

func TestSerialSource_WriteLine(t *testing.T) {
	port := newPipePort()
	src := NewSerialSource(port)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, src.WriteLine([]byte(`{"id":"x"}`)))
		}()
	}
	wg.Wait()
	assert.Equal(t, strings.Repeat("{\"id\":\"x\"}\n", 8), port.output())

	require.NoError(t, src.Close())
	assert.Error(t, src.WriteLine([]byte("late")))
}
