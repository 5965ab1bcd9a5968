// Package report summarises a dataset store as a spreadsheet, plots single
// samples, and charts recordings for the debug server.
package report

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/soccer-diffusion/internal/dataset"
	"github.com/banshee-data/soccer-diffusion/internal/schema"
	"github.com/banshee-data/soccer-diffusion/internal/store"
)

// Row describes one recording.
type Row struct {
	Recording *schema.Recording
	Counts    store.TableCounts
	// Samples is the number of windows the recording contributes.
	Samples int
	// Seconds is the synced duration at the sampling rate.
	Seconds float64
}

// Totals sums the rows.
type Totals struct {
	Recordings int
	Simulated  int
	Samples    int
	Seconds    float64
	Images     int
}

// Collect reads every recording with its row counts. Sample counts use the
// given window settings.
func Collect(ctx context.Context, s *store.Store, opts dataset.Options) ([]Row, error) {
	recs, err := s.Recordings(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(recs))
	for _, rec := range recs {
		counts, err := s.CountRows(ctx, rec.ID)
		if err != nil {
			return nil, fmt.Errorf("recording %d: %w", rec.ID, err)
		}
		rows = append(rows, Row{
			Recording: rec,
			Counts:    counts,
			Samples:   dataset.SamplesPerRecording(counts.JointCommands, opts.FutureLength, opts.Stride),
			Seconds:   float64(counts.JointCommands) / opts.SamplingRateHz,
		})
	}
	return rows, nil
}

// Summarize totals the rows.
func Summarize(rows []Row) Totals {
	t := Totals{Recordings: len(rows)}
	seconds := make([]float64, len(rows))
	for i, r := range rows {
		seconds[i] = r.Seconds
		t.Samples += r.Samples
		t.Images += r.Counts.Image
		if r.Recording.Simulated {
			t.Simulated++
		}
	}
	t.Seconds = floats.Sum(seconds)
	return t
}
