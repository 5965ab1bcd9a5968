package live

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/soccer-diffusion/internal/livefeed"
	"github.com/banshee-data/soccer-diffusion/internal/schema"
)

// TrajectoryPoint is one future step in raw joint angles.
type TrajectoryPoint struct {
	Positions     []float64     `json:"positions"`
	TimeFromStart time.Duration `json:"time_from_start_ns"`
}

// Trajectory is one predicted joint trajectory.
type Trajectory struct {
	ID         string            `json:"id"`
	Stamp      time.Time         `json:"stamp"`
	JointNames []string          `json:"joint_names"`
	Points     []TrajectoryPoint `json:"points"`
}

// NewTrajectory converts stored-space model output to raw angles. Point i
// is due i/rateHz after stamp.
func NewTrajectory(id string, stamp time.Time, rows [][]float32, rateHz float64) Trajectory {
	tr := Trajectory{
		ID:         id,
		Stamp:      stamp,
		JointNames: schema.JointNames[:],
		Points:     make([]TrajectoryPoint, len(rows)),
	}
	for i, row := range rows {
		p := TrajectoryPoint{
			Positions:     make([]float64, len(row)),
			TimeFromStart: time.Duration(math.Round(float64(i) * float64(time.Second) / rateHz)),
		}
		for j, a := range row {
			p.Positions[j] = schema.DenormalizeAngle(float64(a))
		}
		tr.Points[i] = p
	}
	return tr
}

// Publisher delivers predicted trajectories to the robot.
type Publisher interface {
	Publish(ctx context.Context, tr Trajectory) error
}

// MQTTPublisher publishes trajectories as JSON on one topic.
type MQTTPublisher struct {
	ps    livefeed.PubSub
	topic string
	qos   byte
}

// NewMQTTPublisher publishes on topic at QoS 0. Stale trajectories are
// useless, so nothing is retained.
func NewMQTTPublisher(ps livefeed.PubSub, topic string) *MQTTPublisher {
	return &MQTTPublisher{ps: ps, topic: topic}
}

func (p *MQTTPublisher) Publish(ctx context.Context, tr Trajectory) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(tr)
	if err != nil {
		return fmt.Errorf("encode trajectory: %w", err)
	}
	if err := p.ps.Publish(p.topic, p.qos, false, payload); err != nil {
		return fmt.Errorf("publish trajectory on %s: %w", p.topic, err)
	}
	return nil
}

// LineWriter sends one newline-terminated message.
type LineWriter interface {
	WriteLine(payload []byte) error
}

// LinePublisher writes trajectories as JSON lines, for robots fed over a
// serial link without a broker.
type LinePublisher struct {
	w LineWriter
}

// NewLinePublisher returns a publisher writing to w.
func NewLinePublisher(w LineWriter) *LinePublisher {
	return &LinePublisher{w: w}
}

func (p *LinePublisher) Publish(ctx context.Context, tr Trajectory) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(tr)
	if err != nil {
		return fmt.Errorf("encode trajectory: %w", err)
	}
	return p.w.WriteLine(payload)
}
