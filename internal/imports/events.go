// Package imports reads raw robot recordings and writes them to the
// dataset store. A recording is a newline-delimited JSON event log,
// optionally gzip compressed, read strictly in arrival order.
package imports

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/banshee-data/soccer-diffusion/internal/convert"
	"github.com/banshee-data/soccer-diffusion/internal/schema"
)

// ErrMalformedEvent is returned for an event line that cannot be decoded
// into one of the known kinds.
var ErrMalformedEvent = convert.ErrMalformedEvent

// maxEventLine bounds one JSON line; camera frames dominate its size.
const maxEventLine = 32 << 20

// Event kinds.
const (
	KindJointCommand = convert.KindJointCommand
	KindJointState   = convert.KindJointState
	KindIMU          = convert.KindIMU
	KindImage        = convert.KindImage
	KindGameState    = convert.KindGameState
)

// Event is one decoded event with its stamp relative to the first event
// of the recording.
type Event = convert.Event

// EventReader decodes an event log line by line.
type EventReader struct {
	scanner *bufio.Scanner
	closer  io.Closer
	line    int
	origin  float64
	started bool
}

// NewEventReader wraps r, transparently decompressing gzip input.
func NewEventReader(r io.Reader) (*EventReader, error) {
	br := bufio.NewReader(r)
	er := &EventReader{}
	magic, err := br.Peek(2)
	if err == nil && bytes.Equal(magic, []byte{0x1f, 0x8b}) {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		er.closer = gz
		er.scanner = bufio.NewScanner(gz)
	} else {
		er.scanner = bufio.NewScanner(br)
	}
	er.scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)
	return er, nil
}

// Next returns the next event, or io.EOF once the log is exhausted. Blank
// lines are skipped.
func (r *EventReader) Next() (*Event, error) {
	for r.scanner.Scan() {
		r.line++
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		ev, err := r.decode(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", r.line, err)
		}
		return ev, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}
	return nil, io.EOF
}

// Close releases the decompressor, if any.
func (r *EventReader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

func (r *EventReader) decode(line []byte) (*Event, error) {
	ev, err := convert.DecodeEvent(line)
	if err != nil {
		return nil, err
	}
	if !r.started {
		r.origin, r.started = ev.Stamp, true
	}
	raw := ev.Stamp
	ev.Stamp -= r.origin
	if err := schema.CheckStamp(ev.Stamp); err != nil {
		return nil, fmt.Errorf("%w: stamp %v precedes the first event", ErrMalformedEvent, raw)
	}
	return &ev, nil
}
