// Package testutil provides shared test utilities and fixtures.
//
// Fixtures build small migrated SQLite stores so packages above the store
// can test against real queries instead of fakes.
package testutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/banshee-data/soccer-diffusion/internal/schema"
	"github.com/banshee-data/soccer-diffusion/internal/store"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// StorePath returns a fresh database path inside the test's temp dir.
func StorePath(t testing.TB) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "dataset.db")
}

// NewStore opens a migrated SQLite store that is closed when the test ends.
func NewStore(t testing.TB) (*store.Store, string) {
	t.Helper()
	path := StorePath(t)
	s, err := store.Open(store.SQLite, path, store.Options{})
	AssertNoError(t, err)
	t.Cleanup(func() { s.Close() })
	AssertNoError(t, s.MigrateUp())
	return s, path
}

// ConstVector returns a joint vector with every joint at a.
func ConstVector(a float64) schema.JointVector {
	var v schema.JointVector
	for i := range v {
		v[i] = a
	}
	return v
}

// Fixture describes a recording to seed. Tick k of the synced streams has
// stamp k/RateHz, commands ConstVector(k/1000), states ConstVector(k/1000+0.5)
// and rotation (k/1000, 0, 0, 1), so tests can read the tick back from
// any value.
type Fixture struct {
	RobotType string
	Ticks     int
	RateHz    float64
	ImgWidth  int
	ImgHeight int
	// ImageStamps get a frame filled with the byte (index+1).
	ImageStamps []float64
	GameStates  []schema.GameState
}

// CommandValue is the joint command value a fixture writes at tick k.
func CommandValue(k int) float64 { return float64(k) / 1000 }

// StateValue is the joint state value a fixture writes at tick k.
func StateValue(k int) float64 { return float64(k)/1000 + 0.5 }

// Seed writes the fixture as one committed recording and returns its id.
func Seed(t testing.TB, s *store.Store, f Fixture) int64 {
	t.Helper()
	ctx := context.Background()
	if f.RateHz == 0 {
		f.RateHz = 100
	}
	if f.ImgWidth == 0 {
		f.ImgWidth, f.ImgHeight = 4, 2
	}
	if f.RobotType == "" {
		f.RobotType = "Wolfgang-OP"
	}

	w, err := s.Begin(ctx)
	AssertNoError(t, err)
	defer w.Rollback()

	color := schema.TeamColorBlue
	rec := &schema.Recording{
		OriginalFile:     "fixture.jsonl",
		TeamName:         "Hamburg Bit-Bots",
		TeamColor:        &color,
		RobotType:        f.RobotType,
		ImgWidth:         f.ImgWidth,
		ImgHeight:        f.ImgHeight,
		ImgWidthScaling:  1,
		ImgHeightScaling: 1,
	}
	AssertNoError(t, w.InsertRecording(ctx, rec))

	rows := make([]schema.SyncedRow, f.Ticks)
	for k := range rows {
		rows[k] = schema.SyncedRow{
			Stamp:        float64(k) / f.RateHz,
			JointCommand: ConstVector(CommandValue(k)),
			JointState:   ConstVector(StateValue(k)),
			Rotation:     schema.Quaternion{X: CommandValue(k), W: 1},
		}
	}
	AssertNoError(t, w.InsertSynced(ctx, rec.ID, rows))

	images := make([]schema.Image, len(f.ImageStamps))
	for i, stamp := range f.ImageStamps {
		data := make([]byte, f.ImgWidth*f.ImgHeight*3)
		for j := range data {
			data[j] = byte(i + 1)
		}
		images[i] = schema.Image{RecordingID: rec.ID, Stamp: stamp, Data: data}
	}
	AssertNoError(t, w.InsertImages(ctx, images))

	states := append([]schema.GameState(nil), f.GameStates...)
	for i := range states {
		states[i].RecordingID = rec.ID
	}
	AssertNoError(t, w.InsertGameStates(ctx, states))
	AssertNoError(t, w.Commit())
	return rec.ID
}
