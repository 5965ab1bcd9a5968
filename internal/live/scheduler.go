package live

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/banshee-data/soccer-diffusion/internal/dataset"
	"github.com/banshee-data/soccer-diffusion/internal/modelclient"
	"github.com/banshee-data/soccer-diffusion/internal/monitoring"
	"github.com/banshee-data/soccer-diffusion/internal/timeutil"
)

// Predictor runs the model on one set of inputs.
type Predictor interface {
	Predict(ctx context.Context, inputs modelclient.Inputs) ([][]float32, error)
}

// Scheduler drives the buffers and the model on three timers: joint state
// and orientation at the sampling rate, frames at the image rate, and
// inference once per future window. At most one inference pass runs at a
// time; a tick that finds one still running is skipped, not queued.
type Scheduler struct {
	buffers *Buffers
	model   Predictor
	pub     Publisher
	clock   timeutil.Clock

	inference sync.Mutex

	steps   atomic.Int64
	skipped atomic.Int64
	failed  atomic.Int64
}

// NewScheduler returns a scheduler. clock may be nil for the wall clock.
func NewScheduler(b *Buffers, model Predictor, pub Publisher, clock timeutil.Clock) (*Scheduler, error) {
	if b == nil || model == nil || pub == nil {
		return nil, fmt.Errorf("scheduler needs buffers, a model and a publisher")
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Scheduler{buffers: b, model: model, pub: pub, clock: clock}, nil
}

func period(ticks, rateHz float64) time.Duration {
	return time.Duration(math.Round(ticks * float64(time.Second) / rateHz))
}

// InferencePeriod is the time covered by one predicted trajectory.
func (s *Scheduler) InferencePeriod() time.Duration {
	cfg := s.buffers.Config()
	return period(float64(cfg.FutureLength), cfg.SamplingRateHz)
}

// Run blocks until ctx is done, then waits for any inference pass in
// flight and returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context) error {
	cfg := s.buffers.Config()
	buffers := s.clock.NewTicker(period(1, cfg.SamplingRateHz))
	defer buffers.Stop()
	images := s.clock.NewTicker(period(1, cfg.ImageRateHz))
	defer images.Stop()
	infer := s.clock.NewTicker(s.InferencePeriod())
	defer infer.Stop()

	log := monitoring.L()
	log.Info("live scheduler started",
		zap.String("orientation", s.buffers.Strategy().Name()),
		zap.Duration("inference_period", s.InferencePeriod()))

	var inflight sync.WaitGroup
	defer inflight.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-buffers.C():
			if err := s.buffers.UpdateBuffers(); err != nil {
				log.Warn("buffer update failed", zap.Error(err))
			}
		case <-images.C():
			if err := s.buffers.UpdateImageBuffer(); err != nil {
				log.Warn("image buffer update failed", zap.Error(err))
			}
		case <-infer.C():
			if !s.inference.TryLock() {
				s.skipped.Add(1)
				log.Debug("inference still running, skipping tick")
				continue
			}
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				defer s.inference.Unlock()
				if err := s.Step(ctx); err != nil {
					s.failed.Add(1)
					log.Warn("inference step failed", zap.Error(err))
				}
			}()
		}
	}
}

// Step runs one inference pass: snapshot, predict, feed the prediction
// back into the command history and publish it.
func (s *Scheduler) Step(ctx context.Context) error {
	id := uuid.NewString()
	start := s.clock.Now()
	cfg := s.buffers.Config()

	batch, err := s.buffers.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	traj, err := s.model.Predict(ctx, modelclient.FromBatch(batch, dataset.KeyJointCommand))
	if err != nil {
		return fmt.Errorf("predict: %w", err)
	}
	if len(traj) != cfg.FutureLength {
		return fmt.Errorf("model returned %d steps, want %d", len(traj), cfg.FutureLength)
	}
	if err := s.buffers.AppendCommands(traj); err != nil {
		return err
	}
	if err := s.pub.Publish(ctx, NewTrajectory(id, start, traj, cfg.SamplingRateHz)); err != nil {
		return err
	}
	s.steps.Add(1)
	monitoring.L().Debug("inference step",
		zap.String("step", id),
		zap.Duration("took", s.clock.Since(start)))
	return nil
}

// Steps is the number of completed inference passes.
func (s *Scheduler) Steps() int64 { return s.steps.Load() }

// Skipped is the number of inference ticks dropped while a pass was running.
func (s *Scheduler) Skipped() int64 { return s.skipped.Load() }

// Failed is the number of inference passes that returned an error.
func (s *Scheduler) Failed() int64 { return s.failed.Load() }
