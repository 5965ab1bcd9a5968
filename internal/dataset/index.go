// Package dataset turns the stored time series into fixed-shape training
// samples: an index of valid sample positions across recordings, the
// windowed extractor, batch collation and a parallel loader.
package dataset

import (
	"errors"
	"fmt"
	"sort"

	"github.com/banshee-data/soccer-diffusion/internal/store"
)

var (
	// ErrIndexOutOfRange is returned for a global index outside [0, Len).
	ErrIndexOutOfRange = errors.New("sample index out of range")
	// ErrFutureWindowUnderflow means the store holds fewer future rows than
	// the index promised. It signals an inconsistent index or store, never
	// a recoverable edge case.
	ErrFutureWindowUnderflow = errors.New("future window underflow")
)

// Boundary is the half-open range of global sample indices owned by one
// recording.
type Boundary struct {
	RecordingID int64 `json:"recording_id"`
	Start       int   `json:"start"`
	End         int   `json:"end"`
}

// Index maps global sample indices to sample positions within recordings.
// It is immutable after construction and safe for concurrent use.
type Index struct {
	bounds []Boundary
	stride int
	future int
}

// SamplesPerRecording is the number of windowed samples a recording with
// rows driving-stream rows yields: max(0, floor((rows - future) / stride)).
func SamplesPerRecording(rows, future, stride int) int {
	if stride <= 0 || rows <= future {
		return 0
	}
	return (rows - future) / stride
}

// BuildIndex computes the sample boundaries of every recording, in the
// order given.
func BuildIndex(counts []store.RecordingCount, future, stride int) (*Index, error) {
	if future <= 0 {
		return nil, fmt.Errorf("future length must be positive, got %d", future)
	}
	if stride <= 0 {
		return nil, fmt.Errorf("stride must be positive, got %d", stride)
	}
	bounds := make([]Boundary, 0, len(counts))
	next := 0
	for _, c := range counts {
		n := SamplesPerRecording(c.Count, future, stride)
		bounds = append(bounds, Boundary{RecordingID: c.RecordingID, Start: next, End: next + n})
		next += n
	}
	return &Index{bounds: bounds, stride: stride, future: future}, nil
}

// IndexFromBoundaries rebuilds an index from previously computed
// boundaries, for example ones loaded from a cache.
func IndexFromBoundaries(bounds []Boundary, future, stride int) (*Index, error) {
	if future <= 0 || stride <= 0 {
		return nil, fmt.Errorf("future length and stride must be positive, got %d and %d", future, stride)
	}
	next := 0
	for i, b := range bounds {
		if b.Start != next || b.End < b.Start {
			return nil, fmt.Errorf("boundary %d (recording %d) is not contiguous: [%d, %d) after %d",
				i, b.RecordingID, b.Start, b.End, next)
		}
		next = b.End
	}
	return &Index{bounds: append([]Boundary(nil), bounds...), stride: stride, future: future}, nil
}

// Len is the total number of samples.
func (ix *Index) Len() int {
	if len(ix.bounds) == 0 {
		return 0
	}
	return ix.bounds[len(ix.bounds)-1].End
}

// Stride is the spacing between sample positions within a recording.
func (ix *Index) Stride() int { return ix.stride }

// FutureLength is the future window length the index was built for.
func (ix *Index) FutureLength() int { return ix.future }

// Boundaries returns a copy of the per-recording ranges.
func (ix *Index) Boundaries() []Boundary {
	return append([]Boundary(nil), ix.bounds...)
}

// Locate maps a global index to its recording, the local sample number
// within that recording, and the row position local*stride.
func (ix *Index) Locate(global int) (recordingID int64, local, pos int, err error) {
	if global < 0 || global >= ix.Len() {
		return 0, 0, 0, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, global, ix.Len())
	}
	// First range whose end is past global; empty ranges are skipped
	// because their end equals the next range's start.
	i := sort.Search(len(ix.bounds), func(i int) bool { return ix.bounds[i].End > global })
	b := ix.bounds[i]
	local = global - b.Start
	return b.RecordingID, local, local * ix.stride, nil
}
