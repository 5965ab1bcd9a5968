package livefeed

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/banshee-data/soccer-diffusion/internal/monitoring"
)

// SerialPorter is the part of a serial port the feed needs. It lets tests
// run without hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// PortOptions describes the serial connection parameters.
type PortOptions struct {
	BaudRate int    `json:"baud_rate" yaml:"baud_rate"`
	DataBits int    `json:"data_bits" yaml:"data_bits"`
	StopBits int    `json:"stop_bits" yaml:"stop_bits"`
	Parity   string `json:"parity" yaml:"parity"`
}

// Normalize validates the options and applies defaults for any unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	parity := strings.TrimSpace(strings.ToUpper(opts.Parity))
	switch parity {
	case "", "N", "NONE":
		parity = "N"
	case "E", "EVEN":
		parity = "E"
	case "O", "ODD":
		parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}

	opts.Parity = parity
	return opts, nil
}

// SerialMode converts the options into the mode go.bug.st/serial opens a
// port with.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
	}
	// serial.StopBits is an enum, not a count.
	switch opts.StopBits {
	case 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}

// SerialSource reads newline-delimited JSON messages from a serial port.
// Raw lines are also fanned out to tail subscribers for debugging.
type SerialSource struct {
	port SerialPorter

	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	writeMu      sync.Mutex
	closing      atomic.Bool
	malformed    atomic.Int64
}

// NewSerialSource returns a source reading from port.
func NewSerialSource(port SerialPorter) *SerialSource {
	return &SerialSource{
		port:        port,
		subscribers: make(map[string]chan string),
	}
}

// OpenSerialSource opens the serial device at path.
func OpenSerialSource(path string, opts PortOptions) (*SerialSource, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	return NewSerialSource(port), nil
}

// randomID generates a random subscriber ID (8 byte random hex encoded value).
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe returns a channel of raw lines and its id for Unsubscribe.
func (s *SerialSource) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, 16)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if s.closing.Load() {
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *SerialSource) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// Malformed is the number of lines that could not be decoded.
func (s *SerialSource) Malformed() int64 { return s.malformed.Load() }

// Run reads lines until the port is exhausted or ctx is cancelled.
// Malformed lines are logged and skipped.
func (s *SerialSource) Run(ctx context.Context, handle Handler) error {
	scan := bufio.NewScanner(s.port)
	scan.Buffer(make([]byte, 0, 64*1024), 32<<20)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking scan runs on its own goroutine so cancellation is
	// noticed without waiting for the next line.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			if s.closing.Load() {
				return nil
			}
			return fmt.Errorf("read serial port: %w", err)

		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					if !s.closing.Load() {
						return fmt.Errorf("read serial port: %w", err)
					}
				default:
				}
				return nil
			}
			if s.closing.Load() {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			s.fanOut(line)

			ev, err := decode("serial", []byte(line))
			if err != nil {
				s.malformed.Add(1)
				monitoring.L().Debug("skipping serial line", zap.Error(err))
				continue
			}
			handle(ev)
		}
	}
}

func (s *SerialSource) fanOut(line string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- line:
		default:
			// Slow subscribers miss lines rather than stall the feed.
		}
	}
}

// WriteLine writes payload followed by a newline. Concurrent writers never
// interleave within a line.
func (s *SerialSource) WriteLine(payload []byte) error {
	if s.closing.Load() {
		return fmt.Errorf("serial port closed")
	}
	line := make([]byte, 0, len(payload)+1)
	line = append(append(line, payload...), '\n')
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.port.Write(line); err != nil {
		return fmt.Errorf("write serial port: %w", err)
	}
	return nil
}

// Close closes every subscriber channel and the port.
func (s *SerialSource) Close() error {
	s.closing.Store(true)

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()
	return s.port.Close()
}
