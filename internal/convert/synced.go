package convert

import (
	"fmt"

	"github.com/banshee-data/soccer-diffusion/internal/resample"
	"github.com/banshee-data/soccer-diffusion/internal/schema"
)

// SyncedPayload is the fused value held by the synchronised clock. It is a
// value type so a held sample never aliases later updates.
type SyncedPayload struct {
	JointCommand schema.JointVector
	JointState   schema.JointVector
	Rotation     schema.Quaternion
}

// NeutralSyncedPayload is the payload before any event has been seen: zero
// joint vectors and the identity orientation.
func NeutralSyncedPayload() SyncedPayload {
	return SyncedPayload{Rotation: schema.IdentityQuaternion}
}

// SyncedDataConverter fuses joint commands, joint states and IMU rotation
// onto one clock. Every relevant event updates its slot and drives the
// shared resampler once, so each emitted tick carries the latest value of
// all three slots. Slots that have not been seen yet hold their neutral
// value, which keeps row k of every synced table at stamp k/rate.
type SyncedDataConverter struct {
	resampler resample.Resampler[SyncedPayload]
	current   SyncedPayload
}

// NewSyncedDataConverter returns a synced converter. r is normally a
// previous-interpolation resampler at the base sampling rate.
func NewSyncedDataConverter(r resample.Resampler[SyncedPayload]) (*SyncedDataConverter, error) {
	if r == nil {
		return nil, fmt.Errorf("synced data converter needs a resampler")
	}
	return &SyncedDataConverter{resampler: r, current: NeutralSyncedPayload()}, nil
}

// Populate merges the event into the current payload and returns the ticks
// it completes. Events that carry none of the synced modalities are ignored.
func (c *SyncedDataConverter) Populate(data InputData, stamp float64) ([]schema.SyncedRow, error) {
	relevant := false
	if data.JointCommand != nil {
		if _, err := c.current.JointCommand.ApplyNamed(data.JointCommand.Names, data.JointCommand.Positions); err != nil {
			return nil, fmt.Errorf("joint command at %.3fs: %w", stamp, err)
		}
		relevant = true
	}
	if data.JointState != nil {
		if _, err := c.current.JointState.ApplyNamed(data.JointState.Names, data.JointState.Positions); err != nil {
			return nil, fmt.Errorf("joint state at %.3fs: %w", stamp, err)
		}
		relevant = true
	}
	if data.Rotation != nil {
		if err := data.Rotation.Validate(); err != nil {
			return nil, fmt.Errorf("rotation at %.3fs: %w", stamp, err)
		}
		c.current.Rotation = *data.Rotation
		relevant = true
	}
	if !relevant {
		return nil, nil
	}

	samples := c.resampler.Resample(c.current, stamp)
	rows := make([]schema.SyncedRow, 0, len(samples))
	for _, s := range samples {
		rows = append(rows, schema.SyncedRow{
			Stamp:        s.Timestamp,
			JointCommand: s.Data.JointCommand,
			JointState:   s.Data.JointState,
			Rotation:     s.Data.Rotation,
		})
	}
	return rows, nil
}
