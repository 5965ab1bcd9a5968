package report

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/banshee-data/soccer-diffusion/internal/dataset"
	"github.com/banshee-data/soccer-diffusion/internal/schema"
	"github.com/banshee-data/soccer-diffusion/internal/store"
	"github.com/banshee-data/soccer-diffusion/internal/testutil"
)

func testOptions() dataset.Options {
	return dataset.Options{
		SamplingRateHz:      100,
		JointCommandHistory: 4,
		JointStateHistory:   4,
		IMUHistory:          2,
		ImageHistory:        1,
		FutureLength:        10,
		Stride:              10,
		Orientation:         dataset.OrientationQuaternion,
		ImageWidth:          4,
		ImageHeight:         2,
	}
}

func seededStore(t *testing.T) (*store.Store, int64, int64) {
	t.Helper()
	s, _ := testutil.NewStore(t)
	long := testutil.Seed(t, s, testutil.Fixture{Ticks: 120, ImageStamps: []float64{0.05, 0.5}})
	short := testutil.Seed(t, s, testutil.Fixture{Ticks: 35, RobotType: "NAO6"})
	return s, long, short
}

func TestCollectAndSummarize(t *testing.T) {
	s, long, short := seededStore(t)
	rows, err := Collect(context.Background(), s, testOptions())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, long, rows[0].Recording.ID)
	assert.Equal(t, 120, rows[0].Counts.JointCommands)
	assert.Equal(t, 2, rows[0].Counts.Image)
	assert.Equal(t, 11, rows[0].Samples)
	assert.InDelta(t, 1.2, rows[0].Seconds, 1e-9)

	assert.Equal(t, short, rows[1].Recording.ID)
	assert.Equal(t, "NAO6", rows[1].Recording.RobotType)
	assert.Equal(t, 2, rows[1].Samples)

	tot := Summarize(rows)
	assert.Equal(t, 2, tot.Recordings)
	assert.Zero(t, tot.Simulated)
	assert.Equal(t, 13, tot.Samples)
	assert.Equal(t, 2, tot.Images)
	assert.InDelta(t, 1.55, tot.Seconds, 1e-9)
}

func TestSummarize_Empty(t *testing.T) {
	assert.Equal(t, Totals{}, Summarize(nil))
}

func TestWriteXLSX(t *testing.T) {
	s, _, _ := seededStore(t)
	rows, err := Collect(context.Background(), s, testOptions())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, rows))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{recordingsSheet, summarySheet}, f.GetSheetList())

	got, err := f.GetRows(recordingsSheet)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, RecordingHeader, got[0])
	assert.Equal(t, "fixture.jsonl", got[1][1])
	assert.Equal(t, "Hamburg Bit-Bots", got[1][2])
	assert.Equal(t, "Wolfgang-OP", got[1][3])
	assert.Equal(t, "120", got[1][8])
	assert.Equal(t, "11", got[1][14])
	assert.Equal(t, "NAO6", got[2][3])

	summary, err := f.GetRows(summarySheet)
	require.NoError(t, err)
	require.Len(t, summary, 5)
	assert.Equal(t, []string{"Recordings", "2"}, summary[0])
	assert.Equal(t, []string{"Samples", "13"}, summary[2])
	assert.Equal(t, []string{"Images", "2"}, summary[4])
}

func testSample() *dataset.Sample {
	rows := func(n int, a float64) []schema.JointVector {
		out := make([]schema.JointVector, n)
		for i := range out {
			out[i] = testutil.ConstVector(schema.NormalizeAngle(a + float64(i)/100))
		}
		return out
	}
	return &dataset.Sample{
		RecordingID:         1,
		Position:            40,
		JointCommand:        rows(10, 0.4),
		JointCommandHistory: rows(4, 0.36),
		JointStateHistory:   rows(4, 0.86),
	}
}

func TestPlotSample(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PlotSample(&buf, testSample(), "HeadPan", 100))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")), "output is a PNG")

	s := testSample()
	s.JointCommandHistory, s.JointStateHistory = nil, nil
	buf.Reset()
	require.NoError(t, PlotSample(&buf, s, "LKnee", 100), "empty histories are left out")

	assert.ErrorContains(t, PlotSample(&buf, testSample(), "Tail", 100), "unknown joint")
	assert.Error(t, PlotSample(&buf, testSample(), "HeadPan", 0))
}

func TestRecordingChart(t *testing.T) {
	s, long, _ := seededStore(t)
	var buf bytes.Buffer
	require.NoError(t, RecordingChart(context.Background(), &buf, s, long, 100))
	html := buf.String()
	assert.Contains(t, html, "fixture.jsonl")
	assert.Contains(t, html, "HeadPan")
	assert.Contains(t, html, "Wolfgang-OP")

	assert.ErrorContains(t, RecordingChart(context.Background(), &buf, s, 999, 100), "not found")
}

func TestAttachRoutes(t *testing.T) {
	s, long, _ := seededStore(t)
	mux := http.NewServeMux()
	AttachRoutes(mux, s, 100)

	get := func(query string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/debug/recording"+query, nil)
		req.RemoteAddr = "127.0.0.1:12345"
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		return w
	}

	w := get("?id=" + strconv.FormatInt(long, 10))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "HeadPan")

	assert.Equal(t, http.StatusBadRequest, get("?id=abc").Code)
	assert.Equal(t, http.StatusBadRequest, get("").Code)
	w = get("?id=999")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not found")

	req := httptest.NewRequest(http.MethodPost, "/debug/recording?id=1", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
