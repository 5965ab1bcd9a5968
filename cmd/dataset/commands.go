package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/soccer-diffusion/internal/config"
	"github.com/banshee-data/soccer-diffusion/internal/dataset"
	"github.com/banshee-data/soccer-diffusion/internal/imports"
	"github.com/banshee-data/soccer-diffusion/internal/indexcache"
	"github.com/banshee-data/soccer-diffusion/internal/monitoring"
	"github.com/banshee-data/soccer-diffusion/internal/report"
	"github.com/banshee-data/soccer-diffusion/internal/schema"
	"github.com/banshee-data/soccer-diffusion/internal/store"
)

func loadConfig(path string) (*config.DatasetConfig, error) {
	if path == "" {
		return config.DefaultDatasetConfig(), nil
	}
	return config.LoadDatasetConfig(path)
}

func openStore(cfg *config.DatasetConfig, opts store.Options) (*store.Store, error) {
	dialect, err := cfg.GetDialect()
	if err != nil {
		return nil, err
	}
	return store.Open(dialect, cfg.GetDSN(), opts)
}

// setup parses a subcommand's flags, loads its config and opens the store.
func setup(fs *flag.FlagSet, args []string, opts store.Options) (*config.DatasetConfig, *store.Store, error) {
	configPath := fs.String("config", "", "Dataset configuration file")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return nil, nil, err
	}
	s, err := openStore(cfg, opts)
	if err != nil {
		return nil, nil, err
	}
	return cfg, s, nil
}

func runMigrate(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	_, s, err := setup(fs, args, store.Options{})
	if err != nil {
		return err
	}
	defer s.Close()

	action := "up"
	if fs.NArg() > 0 {
		action = fs.Arg(0)
	}
	switch action {
	case "up":
		if err := s.MigrateUp(); err != nil {
			return err
		}
	case "down":
		if err := s.MigrateDown(); err != nil {
			return err
		}
	case "force":
		if fs.NArg() < 2 {
			return fmt.Errorf("migrate force needs a version")
		}
		v, err := strconv.Atoi(fs.Arg(1))
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", fs.Arg(1), err)
		}
		if err := s.MigrateForce(v); err != nil {
			return err
		}
	case "version":
	default:
		return fmt.Errorf("unknown migrate action %q (want up, down, version or force)", action)
	}
	v, dirty, err := s.MigrateVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "schema version %d (dirty=%t)\n", v, dirty)
	return nil
}

func runImport(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	team := fs.String("team", "", "Team name (required)")
	teamColor := fs.String("team-color", "", "Team colour: BLUE, RED, YELLOW, BLACK, WHITE, GREEN, ORANGE, PURPLE, BROWN or GRAY")
	robotType := fs.String("robot-type", "", "Robot type, e.g. Wolfgang-OP (required)")
	location := fs.String("location", "", "Where the recordings were made")
	allowPublic := fs.Bool("allow-public", false, "Mark the recordings as publishable")
	workers := fs.Int("workers", 0, "Files imported in parallel (default num_workers)")
	cfg, s, err := setup(fs, args, store.Options{})
	if err != nil {
		return err
	}
	defer s.Close()

	if *team == "" || *robotType == "" {
		return fmt.Errorf("--team and --robot-type are required")
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("no recordings given")
	}
	meta := imports.Metadata{TeamName: *team, RobotType: *robotType, AllowPublic: *allowPublic}
	if *teamColor != "" {
		c := schema.TeamColor(strings.ToUpper(*teamColor))
		if !c.Valid() {
			return fmt.Errorf("invalid team colour %q", *teamColor)
		}
		meta.TeamColor = &c
	}
	if *location != "" {
		meta.Location = location
	}
	if *workers <= 0 {
		*workers = cfg.GetNumWorkers()
	}

	if err := s.MigrateUp(); err != nil {
		return err
	}
	importer := imports.NewModelImporter(s, imports.Factory(cfg.StrategyOptions()))
	sums, err := importer.ImportAll(ctx, fs.Args(), meta, *workers)
	if err != nil {
		return err
	}
	for i, sum := range sums {
		fmt.Fprintf(out, "%s: recording %d, %d events, %d synced rows, %d images, %d game states\n",
			fs.Arg(i), sum.RecordingID, sum.Events, sum.Synced, sum.Images, sum.GameStates)
	}
	if _, ok := cfg.IndexCache(); ok {
		if _, err := invalidateIndexCache(ctx, cfg); err != nil {
			return fmt.Errorf("recordings imported but the cached index is stale, run index --invalidate: %w", err)
		}
	}
	return nil
}

// invalidateIndexCache drops every cached index of the configured dataset.
func invalidateIndexCache(ctx context.Context, cfg *config.DatasetConfig) (int, error) {
	opts, ok := cfg.IndexCache()
	if !ok {
		return 0, fmt.Errorf("--invalidate needs redis_addr in the configuration")
	}
	client := indexcache.NewClient(opts)
	defer client.Close()
	return indexcache.New(client, "", 0).Invalidate(ctx, cacheName(cfg))
}

// loadIndex builds the sample index, through the Redis cache when one is
// configured. The cache key is the database file name or DSN.
func loadIndex(ctx context.Context, cfg *config.DatasetConfig, s *store.Store) (*dataset.Index, map[int64]int, error) {
	future, stride := cfg.GetFutureLength(), cfg.GetStride()
	recs, err := s.Recordings(ctx)
	if err != nil {
		return nil, nil, err
	}
	labels := dataset.RobotTypeLabels(recs)
	build := func(ctx context.Context) (*dataset.Index, error) {
		counts, err := s.CountJointCommands(ctx)
		if err != nil {
			return nil, err
		}
		return dataset.BuildIndex(counts, future, stride)
	}

	opts, ok := cfg.IndexCache()
	if !ok {
		ix, err := build(ctx)
		return ix, labels, err
	}
	client := indexcache.NewClient(opts)
	defer client.Close()
	cache := indexcache.New(client, "", cfg.GetIndexCacheTTL())
	ix, hit, err := cache.LoadOrBuild(ctx, cacheName(cfg), future, stride, build)
	if err != nil {
		return nil, nil, err
	}
	monitoring.L().Debug("sample index loaded", zap.Bool("cache_hit", hit), zap.Int("samples", ix.Len()))
	return ix, labels, nil
}

func cacheName(cfg *config.DatasetConfig) string {
	if dialect, _ := cfg.GetDialect(); dialect == store.SQLite {
		return filepath.Base(cfg.GetDSN())
	}
	return cfg.GetDSN()
}

func runIndex(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("index", flag.ContinueOnError)
	invalidate := fs.Bool("invalidate", false, "Drop cached indexes before building")
	cfg, s, err := setup(fs, args, store.Options{ReadOnly: true})
	if err != nil {
		return err
	}
	defer s.Close()

	if *invalidate {
		n, err := invalidateIndexCache(ctx, cfg)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "dropped %d cached indexes\n", n)
	}

	ix, _, err := loadIndex(ctx, cfg, s)
	if err != nil {
		return err
	}
	for _, b := range ix.Boundaries() {
		fmt.Fprintf(out, "recording %d: samples [%d, %d) (%d)\n", b.RecordingID, b.Start, b.End, b.End-b.Start)
	}
	fmt.Fprintf(out, "%d samples (future=%d stride=%d)\n", ix.Len(), ix.FutureLength(), ix.Stride())
	return nil
}

// openDataset returns the dataset over a read-only store.
func openDataset(ctx context.Context, cfg *config.DatasetConfig, s *store.Store) (*dataset.Dataset, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	ix, labels, err := loadIndex(ctx, cfg, s)
	if err != nil {
		return nil, err
	}
	ext, err := dataset.NewExtractor(s, opts, labels)
	if err != nil {
		return nil, err
	}
	return dataset.NewDataset(ix, ext)
}

func printShapes(out io.Writer, b *dataset.Batch) {
	shapes := b.Shapes()
	keys := make([]string, 0, len(shapes))
	for k := range shapes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "  %-24s %v\n", k, shapes[k])
	}
}

func runSample(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("sample", flag.ContinueOnError)
	index := fs.Int("index", 0, "Global sample index")
	batches := fs.Int("batches", 0, "Stream this many batches through the loader instead")
	cfg, s, err := setup(fs, args, store.Options{ReadOnly: true})
	if err != nil {
		return err
	}
	defer s.Close()

	if *batches > 0 {
		return streamBatches(ctx, cfg, s, *batches, out)
	}
	ds, err := openDataset(ctx, cfg, s)
	if err != nil {
		return err
	}
	sample, err := ds.Get(ctx, *index)
	if err != nil {
		return err
	}
	b, err := dataset.Collate([]*dataset.Sample{sample})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "sample %d: recording %d position %d stamp %.3fs state %s\n",
		*index, sample.RecordingID, sample.Position, sample.Stamp, sample.GameState)
	printShapes(out, b)
	return nil
}

// streamBatches runs the parallel loader and stops after n batches.
func streamBatches(ctx context.Context, cfg *config.DatasetConfig, s *store.Store, n int, out io.Writer) error {
	opts, err := cfg.Options()
	if err != nil {
		return err
	}
	dialect, err := cfg.GetDialect()
	if err != nil {
		return err
	}
	ix, labels, err := loadIndex(ctx, cfg, s)
	if err != nil {
		return err
	}
	seed, shuffle := cfg.GetShuffleSeed()
	loader := &dataset.Loader{
		Index:      ix,
		Options:    opts,
		RobotTypes: labels,
		OpenReader: dataset.StoreReaders(dialect, cfg.GetDSN()),
		BatchSize:  cfg.GetBatchSize(),
		Workers:    cfg.GetNumWorkers(),
		Shuffle:    shuffle,
		Seed:       uint64(seed),
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	ch := make(chan *dataset.Batch)
	g.Go(func() error { return loader.Run(ctx, ch) })

	start := time.Now()
	seen := 0
	for b := range ch {
		seen++
		fmt.Fprintf(out, "batch %d: %d samples\n", seen, b.Size)
		if seen == 1 {
			printShapes(out, b)
		}
		if seen == n {
			cancel()
			break
		}
	}
	for range ch {
	}
	if err := g.Wait(); err != nil && !(seen == n && errors.Is(err, context.Canceled)) {
		return err
	}
	fmt.Fprintf(out, "%d batches in %s\n", seen, time.Since(start).Round(time.Millisecond))
	return nil
}

func runReport(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	path := fs.String("out", "dataset_report.xlsx", "Output file")
	cfg, s, err := setup(fs, args, store.Options{ReadOnly: true})
	if err != nil {
		return err
	}
	defer s.Close()

	opts, err := cfg.Options()
	if err != nil {
		return err
	}
	rows, err := report.Collect(ctx, s, opts)
	if err != nil {
		return err
	}
	f, err := os.Create(*path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	if err := report.WriteXLSX(f, rows); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	t := report.Summarize(rows)
	fmt.Fprintf(out, "%s: %d recordings (%d simulated), %d samples, %.2f hours, %d images\n",
		*path, t.Recordings, t.Simulated, t.Samples, t.Seconds/3600, t.Images)
	return nil
}

func runPlot(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("plot", flag.ContinueOnError)
	index := fs.Int("index", 0, "Global sample index")
	joint := fs.String("joint", "HeadPan", "Joint to plot")
	path := fs.String("out", "sample.png", "Output PNG")
	cfg, s, err := setup(fs, args, store.Options{ReadOnly: true})
	if err != nil {
		return err
	}
	defer s.Close()

	ds, err := openDataset(ctx, cfg, s)
	if err != nil {
		return err
	}
	sample, err := ds.Get(ctx, *index)
	if err != nil {
		return err
	}
	f, err := os.Create(*path)
	if err != nil {
		return fmt.Errorf("failed to create plot: %w", err)
	}
	if err := report.PlotSample(f, sample, *joint, cfg.GetSamplingRateHz()); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s\n", *path)
	return nil
}

func runServe(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	listen := fs.String("listen", "localhost:8081", "Listen address")
	cfg, s, err := setup(fs, args, store.Options{})
	if err != nil {
		return err
	}
	defer s.Close()

	mux := http.NewServeMux()
	if err := s.AttachAdminRoutes(mux); err != nil {
		return err
	}
	report.AttachRoutes(mux, s, cfg.GetSamplingRateHz())

	server := &http.Server{
		Addr:              *listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- server.ListenAndServe() }()
	monitoring.L().Info("serving debug endpoints", zap.String("addr", *listen))
	fmt.Fprintf(out, "debug endpoints on http://%s/debug/\n", *listen)

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
