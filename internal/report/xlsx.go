package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	recordingsSheet = "Recordings"
	summarySheet    = "Summary"
)

// RecordingHeader is the header row of the recordings sheet.
var RecordingHeader = []string{
	"ID",
	"Original File",
	"Team",
	"Robot Type",
	"Location",
	"Simulated",
	"Start",
	"End",
	"Joint Commands",
	"Joint States",
	"Rotations",
	"Images",
	"Game States",
	"Seconds",
	"Samples",
}

// WriteXLSX writes the per-recording report and a summary sheet to w.
func WriteXLSX(w io.Writer, rows []Row) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(recordingsSheet)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeRow(f, recordingsSheet, 1, toAny(RecordingHeader)); err != nil {
		return err
	}
	last, _ := excelize.CoordinatesToCellName(len(RecordingHeader), 1)
	if err := f.SetCellStyle(recordingsSheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for i, r := range rows {
		rec := r.Recording
		location := ""
		if rec.Location != nil {
			location = *rec.Location
		}
		if err := writeRow(f, recordingsSheet, i+2, []any{
			rec.ID,
			rec.OriginalFile,
			rec.TeamName,
			rec.RobotType,
			location,
			rec.Simulated,
			formatTime(rec.StartTime),
			formatTime(rec.EndTime),
			r.Counts.JointCommands,
			r.Counts.JointStates,
			r.Counts.Rotation,
			r.Counts.Image,
			r.Counts.GameState,
			r.Seconds,
			r.Samples,
		}); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(recordingsSheet, "B", "B", 32); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	t := Summarize(rows)
	for i, kv := range [][]any{
		{"Recordings", t.Recordings},
		{"Simulated", t.Simulated},
		{"Samples", t.Samples},
		{"Hours", t.Seconds / 3600},
		{"Images", t.Images},
	} {
		if err := writeRow(f, summarySheet, i+1, kv); err != nil {
			return err
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func toAny(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
