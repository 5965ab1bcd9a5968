package report

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/soccer-diffusion/internal/httputil"
	"github.com/banshee-data/soccer-diffusion/internal/schema"
	"github.com/banshee-data/soccer-diffusion/internal/store"
)

// maxChartPoints bounds the points per series; longer recordings are
// decimated.
const maxChartPoints = 2000

// RecordingChart renders the joint commands of one recording as an HTML
// line chart, one series per joint.
func RecordingChart(ctx context.Context, w io.Writer, s *store.Store, recordingID int64, rateHz float64) error {
	rec, err := s.Recording(ctx, recordingID)
	if err != nil {
		return err
	}
	counts, err := s.CountRows(ctx, recordingID)
	if err != nil {
		return err
	}
	rows, err := s.JointRows(ctx, store.TableJointCommands, recordingID, 0, counts.JointCommands)
	if err != nil {
		return err
	}

	step := 1
	if len(rows) > maxChartPoints {
		step = (len(rows) + maxChartPoints - 1) / maxChartPoints
	}
	xs := make([]string, 0, len(rows)/step+1)
	for i := 0; i < len(rows); i += step {
		xs = append(xs, strconv.FormatFloat(float64(i)/rateHz, 'f', 2, 64))
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Recording " + strconv.FormatInt(recordingID, 10), Width: "100%", Height: "720px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    rec.OriginalFile,
			Subtitle: fmt.Sprintf("team=%s robot=%s rows=%d step=%d", rec.TeamName, rec.RobotType, len(rows), step),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Type: "scroll", Top: "bottom"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Time (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Angle (rad)"}),
	)
	line.SetXAxis(xs)
	for j, name := range schema.JointNames {
		data := make([]opts.LineData, 0, len(xs))
		for i := 0; i < len(rows); i += step {
			data = append(data, opts.LineData{Value: schema.DenormalizeAngle(rows[i][j])})
		}
		line.AddSeries(name, data, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	}
	return line.Render(w)
}

// AttachRoutes mounts the recording chart at /debug/recording?id=N.
func AttachRoutes(mux *http.ServeMux, s *store.Store, rateHz float64) {
	debug := tsweb.Debugger(mux)
	debug.HandleSilentFunc("recording", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w, http.MethodGet)
			return
		}
		id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
		if err != nil {
			httputil.BadRequest(w, "id must be a recording id")
			return
		}
		httputil.WriteHTML(w, http.StatusNotFound, func(out io.Writer) error {
			return RecordingChart(r.Context(), out, s, id, rateHz)
		})
	})
}
