package dataset

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/soccer-diffusion/internal/monitoring"
	"github.com/banshee-data/soccer-diffusion/internal/schema"
	"github.com/banshee-data/soccer-diffusion/internal/store"
)

// Dataset pairs an index with an extractor for random access by global
// sample index.
type Dataset struct {
	index *Index
	ext   *Extractor
}

// NewDataset checks that the index was built for the extractor's window
// and stride and returns a dataset.
func NewDataset(index *Index, ext *Extractor) (*Dataset, error) {
	opts := ext.Options()
	if index.Stride() != opts.Stride || index.FutureLength() != opts.FutureLength {
		return nil, fmt.Errorf("index built for future=%d stride=%d, extractor uses future=%d stride=%d",
			index.FutureLength(), index.Stride(), opts.FutureLength, opts.Stride)
	}
	return &Dataset{index: index, ext: ext}, nil
}

// Len is the number of samples.
func (d *Dataset) Len() int { return d.index.Len() }

// Get extracts the sample at a global index.
func (d *Dataset) Get(ctx context.Context, i int) (*Sample, error) {
	rec, _, pos, err := d.index.Locate(i)
	if err != nil {
		return nil, err
	}
	return d.ext.Extract(ctx, rec, pos)
}

// Batch extracts and collates the samples at the given global indices.
func (d *Dataset) Batch(ctx context.Context, indices []int) (*Batch, error) {
	samples := make([]*Sample, 0, len(indices))
	for _, i := range indices {
		s, err := d.Get(ctx, i)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		samples = append(samples, s)
	}
	return Collate(samples)
}

// BuildFromStore computes the index and robot-type labels of every
// recording in a store.
func BuildFromStore(ctx context.Context, s *store.Store, future, stride int) (*Index, map[int64]int, error) {
	counts, err := s.CountJointCommands(ctx)
	if err != nil {
		return nil, nil, err
	}
	index, err := BuildIndex(counts, future, stride)
	if err != nil {
		return nil, nil, err
	}
	recs, err := s.Recordings(ctx)
	if err != nil {
		return nil, nil, err
	}
	return index, RobotTypeLabels(recs), nil
}

// RobotTypeLabels maps recording ids to robot-type label indices. Unknown
// robot types are left out.
func RobotTypeLabels(recs []*schema.Recording) map[int64]int {
	out := make(map[int64]int, len(recs))
	for _, r := range recs {
		if i, err := schema.RobotTypeIndex(r.RobotType); err == nil {
			out[r.ID] = i
		}
	}
	return out
}

// OpenReaderFunc opens a worker's private reader and returns its closer.
type OpenReaderFunc func() (Reader, func() error, error)

// StoreReaders opens one read-only store handle per worker.
func StoreReaders(dialect store.Dialect, dsn string) OpenReaderFunc {
	return func() (Reader, func() error, error) {
		s, err := store.Open(dialect, dsn, store.Options{ReadOnly: true, MaxOpenConns: 1})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
}

// Loader produces batches in parallel. Each worker owns a reader and an
// extractor, so workers share nothing but the immutable index.
type Loader struct {
	Index      *Index
	Options    Options
	RobotTypes map[int64]int
	OpenReader OpenReaderFunc

	BatchSize int
	Workers   int
	// Shuffle permutes the global indices with Seed before batching.
	Shuffle bool
	Seed    uint64
}

// Order returns the global indices in the order they will be batched.
func (l *Loader) Order() []int {
	n := l.Index.Len()
	if l.Shuffle {
		return rand.New(rand.NewPCG(l.Seed, 0x5eed)).Perm(n)
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}

type loadedBatch struct {
	seq   int
	batch *Batch
}

// Run sends every batch of one epoch to out in order and closes out. The
// last batch may be short.
func (l *Loader) Run(ctx context.Context, out chan<- *Batch) error {
	defer close(out)
	if l.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", l.BatchSize)
	}
	if l.OpenReader == nil {
		return fmt.Errorf("loader needs a reader factory")
	}
	workers := l.Workers
	if workers <= 0 {
		workers = 1
	}

	order := l.Order()
	var chunks [][]int
	for start := 0; start < len(order); start += l.BatchSize {
		end := min(start+l.BatchSize, len(order))
		chunks = append(chunks, order[start:end])
	}

	monitoring.L().Info("loader epoch starting",
		zap.String("run", uuid.NewString()), zap.Int("samples", len(order)),
		zap.Int("batches", len(chunks)), zap.Int("workers", workers))

	g, ctx := errgroup.WithContext(ctx)
	jobs := make(chan int)
	results := make(chan loadedBatch, workers)

	g.Go(func() error {
		defer close(jobs)
		for seq := range chunks {
			select {
			case jobs <- seq:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			defer wg.Done()
			r, closeFn, err := l.OpenReader()
			if err != nil {
				return fmt.Errorf("open worker reader: %w", err)
			}
			defer closeFn()
			ext, err := NewExtractor(r, l.Options, l.RobotTypes)
			if err != nil {
				return err
			}
			ds, err := NewDataset(l.Index, ext)
			if err != nil {
				return err
			}
			for seq := range jobs {
				b, err := ds.Batch(ctx, chunks[seq])
				if err != nil {
					return fmt.Errorf("batch %d: %w", seq, err)
				}
				select {
				case results <- loadedBatch{seq: seq, batch: b}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	// Emit in sequence; batches that finish early wait in pending.
	pending := map[int]*Batch{}
	next := 0
	g.Go(func() error {
		for r := range results {
			pending[r.seq] = r.batch
			for b, ok := pending[next]; ok; b, ok = pending[next] {
				delete(pending, next)
				select {
				case out <- b:
				case <-ctx.Done():
					return ctx.Err()
				}
				next++
			}
		}
		return nil
	})
	return g.Wait()
}
