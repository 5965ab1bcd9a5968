// Package livefeed adapts external producers of live robot messages to a
// single event stream. Messages use the same JSON encoding as recorded
// event logs, one message per serial line or MQTT payload.
package livefeed

import (
	"context"
	"fmt"
	"strings"

	"github.com/banshee-data/soccer-diffusion/internal/convert"
)

// Handler receives decoded events in arrival order. It runs on the
// source's goroutine and must not block for long.
type Handler func(convert.Event)

// Source delivers live events until its context is cancelled.
type Source interface {
	Run(ctx context.Context, handle Handler) error
}

// Topic suffixes below a robot's topic prefix.
const (
	eventsSuffix     = "events"
	trajectorySuffix = "trajectory"
)

// EventsTopic is the MQTT topic a robot publishes its raw messages on.
func EventsTopic(prefix string) string { return joinTopic(prefix, eventsSuffix) }

// TrajectoryTopic is the MQTT topic predicted trajectories are published on.
func TrajectoryTopic(prefix string) string { return joinTopic(prefix, trajectorySuffix) }

func joinTopic(prefix, suffix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return suffix
	}
	return prefix + "/" + suffix
}

// decode wraps convert.DecodeEvent with the feed it came from.
func decode(feed string, msg []byte) (convert.Event, error) {
	ev, err := convert.DecodeEvent(msg)
	if err != nil {
		return ev, fmt.Errorf("%s: %w", feed, err)
	}
	return ev, nil
}
