package imports

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/soccer-diffusion/internal/monitoring"
	"github.com/banshee-data/soccer-diffusion/internal/schema"
	"github.com/banshee-data/soccer-diffusion/internal/store"
)

// SimulatorLocation is recorded for recordings detected as simulated.
const SimulatorLocation = "Webots Simulator"

// flushTicks is how many synced ticks are buffered before a write.
const flushTicks = 1000

// Metadata describes a recording beyond what its event log holds.
type Metadata struct {
	TeamName    string
	TeamColor   *schema.TeamColor
	RobotType   string
	Location    *string
	AllowPublic bool
}

// IsSimulated reports whether a recording's file name marks it as coming
// from the simulator.
func IsSimulated(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	return strings.Contains(name, "simulation") || strings.Contains(name, "simulated")
}

// Summary counts the rows written for one recording.
type Summary struct {
	RecordingID int64
	Events      int
	Synced      int
	Images      int
	GameStates  int
}

// ModelImporter writes recordings to the store, one transaction each, so a
// failed import leaves no partial recording behind.
type ModelImporter struct {
	store       *store.Store
	newStrategy StrategyFactory
}

// NewModelImporter returns an importer that builds a fresh strategy per
// recording.
func NewModelImporter(s *store.Store, newStrategy StrategyFactory) *ModelImporter {
	return &ModelImporter{store: s, newStrategy: newStrategy}
}

// Import reads the event log at path and stores it as one recording.
func (m *ModelImporter) Import(ctx context.Context, path string, meta Metadata) (int64, error) {
	sum, err := m.ImportFile(ctx, path, meta)
	return sum.RecordingID, err
}

// ImportFile is Import returning the per-modality row counts.
func (m *ModelImporter) ImportFile(ctx context.Context, path string, meta Metadata) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()
	sum, err := m.ImportReader(ctx, filepath.Base(path), f, meta)
	if err != nil {
		return sum, fmt.Errorf("import %s: %w", path, err)
	}
	return sum, nil
}

// ImportReader stores the event log read from r under the given file name.
func (m *ModelImporter) ImportReader(ctx context.Context, name string, r io.Reader, meta Metadata) (Summary, error) {
	var sum Summary
	strategy, err := m.newStrategy()
	if err != nil {
		return sum, err
	}
	events, err := NewEventReader(r)
	if err != nil {
		return sum, err
	}
	defer events.Close()

	opts := strategy.Options()
	rec := &schema.Recording{
		AllowPublic:      meta.AllowPublic,
		OriginalFile:     name,
		TeamName:         meta.TeamName,
		TeamColor:        meta.TeamColor,
		RobotType:        meta.RobotType,
		Location:         meta.Location,
		Simulated:        IsSimulated(name),
		ImgWidth:         opts.ImageWidth,
		ImgHeight:        opts.ImageHeight,
		ImgWidthScaling:  1,
		ImgHeightScaling: 1,
	}
	if rec.Simulated && rec.Location == nil {
		loc := SimulatorLocation
		rec.Location = &loc
	}

	w, err := m.store.Begin(ctx)
	if err != nil {
		return sum, err
	}
	defer w.Rollback()

	if err := w.InsertRecording(ctx, rec); err != nil {
		return sum, err
	}
	sum.RecordingID = rec.ID

	var (
		synced   []schema.SyncedRow
		first    *time.Time
		last     *time.Time
		runID    = uuid.NewString()
		flushErr error
	)
	flush := func() {
		if len(synced) == 0 || flushErr != nil {
			return
		}
		flushErr = w.InsertSynced(ctx, rec.ID, synced)
		synced = synced[:0]
	}

	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		ev, err := events.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sum, err
		}
		sum.Events++
		if ev.WallTime != nil {
			if first == nil {
				first = ev.WallTime
			}
			last = ev.WallTime
		}

		rows, err := strategy.Convert(rec.ID, ev)
		if err != nil {
			return sum, err
		}
		if err := w.InsertImages(ctx, rows.Images); err != nil {
			return sum, err
		}
		if err := w.InsertGameStates(ctx, rows.GameStates); err != nil {
			return sum, err
		}
		sum.Images += len(rows.Images)
		sum.GameStates += len(rows.GameStates)
		sum.Synced += len(rows.Synced)
		synced = append(synced, rows.Synced...)
		if len(synced) >= flushTicks {
			flush()
		}
		if flushErr != nil {
			return sum, flushErr
		}
	}
	flush()
	if flushErr != nil {
		return sum, flushErr
	}

	rec.StartTime, rec.EndTime = first, last
	rec.ImgWidthScaling, rec.ImgHeightScaling = strategy.ImageScaling()
	if err := w.UpdateRecordingSpan(ctx, rec); err != nil {
		return sum, err
	}
	if err := w.Commit(); err != nil {
		return sum, err
	}

	monitoring.L().Info("recording imported",
		zap.String("run", runID),
		zap.String("file", name),
		zap.Int64("recording_id", rec.ID),
		zap.Int("events", sum.Events),
		zap.Int("synced", sum.Synced),
		zap.Int("images", sum.Images),
		zap.Int("game_states", sum.GameStates))
	return sum, nil
}

// ImportAll imports files concurrently, at most workers at a time. Each
// recording gets its own strategy, so recordings share no converter state.
// Summaries are returned in the order of paths.
func (m *ModelImporter) ImportAll(ctx context.Context, paths []string, meta Metadata, workers int) ([]Summary, error) {
	if workers <= 0 {
		workers = 1
	}
	out := make([]Summary, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, p := range paths {
		g.Go(func() error {
			sum, err := m.ImportFile(ctx, p, meta)
			if err != nil {
				return err
			}
			out[i] = sum
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
