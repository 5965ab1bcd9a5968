package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/soccer-diffusion/internal/config"
	"github.com/banshee-data/soccer-diffusion/internal/convert"
	"github.com/banshee-data/soccer-diffusion/internal/live"
	"github.com/banshee-data/soccer-diffusion/internal/livefeed"
	"github.com/banshee-data/soccer-diffusion/internal/modelclient"
	"github.com/banshee-data/soccer-diffusion/internal/monitoring"
	"github.com/banshee-data/soccer-diffusion/internal/timeutil"
	"github.com/banshee-data/soccer-diffusion/internal/version"
)

var (
	configPath  = flag.String("config", "", "Live configuration file (required)")
	logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn or error")
	logFormat   = flag.String("log-format", "json", "Log format: console or json")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String("soccer-live"))
		return
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "--config is required")
		flag.Usage()
		os.Exit(1)
	}

	logger, err := monitoring.NewLogger(*logLevel, *logFormat, "soccer-live")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	monitoring.SetLogger(logger)

	cfg, err := config.LoadLiveConfig(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	feed, err := openFeed(cfg)
	if err != nil {
		logger.Fatal("failed to open feed", zap.Error(err))
	}
	defer feed.close()

	model := modelclient.New(cfg.GetModelURL(), modelclient.WithTimeout(cfg.GetModelTimeout()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, feed, model, timeutil.RealClock{}); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("live inference stopped", zap.Error(err))
		stop()
		feed.close()
		os.Exit(1)
	}
	logger.Info("live inference stopped")
}

// feed is a message source, the publisher answering it, and the debug
// routes it offers.
type feed struct {
	source livefeed.Source
	pub    live.Publisher
	routes func(*http.ServeMux)
	close  func()
}

// openFeed connects the configured feed. Trajectories go to the broker
// when one is configured, otherwise back down the serial line.
func openFeed(cfg *config.LiveConfig) (*feed, error) {
	prefix := cfg.GetTopicPrefix()
	var (
		client *livefeed.MQTTClient
		err    error
	)
	if cfg.MQTT.Broker != "" {
		client, err = livefeed.NewMQTTClient(cfg.MQTT)
		if err != nil {
			return nil, err
		}
	}

	switch cfg.GetFeed() {
	case config.FeedMQTT:
		return &feed{
			source: livefeed.NewMQTTSource(client, livefeed.EventsTopic(prefix)),
			pub:    live.NewMQTTPublisher(client, livefeed.TrajectoryTopic(prefix)),
			close:  client.Disconnect,
		}, nil
	case config.FeedSerial:
		opts, err := cfg.Serial.Normalize()
		if err != nil {
			return nil, err
		}
		src, err := livefeed.OpenSerialSource(cfg.GetSerialPath(), opts)
		if err != nil {
			if client != nil {
				client.Disconnect()
			}
			return nil, err
		}
		f := &feed{source: src, routes: src.AttachAdminRoutes}
		if client != nil {
			f.pub = live.NewMQTTPublisher(client, livefeed.TrajectoryTopic(prefix))
			f.close = func() {
				src.Close()
				client.Disconnect()
			}
		} else {
			f.pub = live.NewLinePublisher(src)
			f.close = func() { src.Close() }
		}
		return f, nil
	}
	return nil, fmt.Errorf("unknown feed %q", cfg.GetFeed())
}

// run wires the feed into the buffers and drives the scheduler until ctx
// is done.
func run(ctx context.Context, cfg *config.LiveConfig, f *feed, model live.Predictor, clock timeutil.Clock) error {
	bufCfg, err := cfg.BufferConfig()
	if err != nil {
		return err
	}
	strategy, err := cfg.GetOrientationStrategy()
	if err != nil {
		return err
	}
	buffers, err := live.NewBuffers(bufCfg, strategy)
	if err != nil {
		return err
	}
	sched, err := live.NewScheduler(buffers, model, f.pub, clock)
	if err != nil {
		return err
	}

	log := monitoring.L()
	log.Info("starting live inference",
		zap.String("version", version.Version),
		zap.String("feed", cfg.GetFeed()),
		zap.String("model", cfg.GetModelURL()),
		zap.String("orientation", strategy.Name()),
		zap.Duration("inference_period", sched.InferencePeriod()))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return f.source.Run(ctx, func(ev convert.Event) {
			if err := buffers.Observe(ev); err != nil {
				log.Debug("dropping message", zap.Error(err))
			}
		})
	})
	g.Go(func() error { return sched.Run(ctx) })

	if addr := cfg.GetAdminListen(); addr != "" {
		mux := http.NewServeMux()
		if f.routes != nil {
			f.routes(mux)
		}
		attachStatus(mux, sched)
		server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}
