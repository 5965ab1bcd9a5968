package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/banshee-data/soccer-diffusion/internal/schema"
)

// RecordingCount is the driving-stream row count of one recording.
type RecordingCount struct {
	RecordingID int64
	Count       int
}

// CountJointCommands returns the JointCommands row count of every
// recording, ordered by recording id. Recordings without rows are
// reported with a zero count.
func (s *Store) CountJointCommands(ctx context.Context) ([]RecordingCount, error) {
	rows, err := s.queryContext(ctx, `
		SELECT r."_id", COUNT(jc."_id")
		FROM "Recording" r
		LEFT JOIN "JointCommands" jc ON jc."recording_id" = r."_id"
		GROUP BY r."_id"
		ORDER BY r."_id"`)
	if err != nil {
		return nil, fmt.Errorf("count joint commands: %w", err)
	}
	defer rows.Close()

	var out []RecordingCount
	for rows.Next() {
		var c RecordingCount
		if err := rows.Scan(&c.RecordingID, &c.Count); err != nil {
			return nil, fmt.Errorf("scan joint command count: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// JointRows returns up to limit joint vectors of one recording starting at
// the given row offset, in stamp order.
func (s *Store) JointRows(ctx context.Context, table JointTable, recordingID int64, offset, limit int) ([]schema.JointVector, error) {
	if !table.valid() {
		return nil, fmt.Errorf("unknown joint table %q", table)
	}
	if offset < 0 || limit < 0 {
		return nil, fmt.Errorf("invalid row range offset=%d limit=%d", offset, limit)
	}
	if limit == 0 {
		return nil, nil
	}
	rows, err := s.queryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM "%s"
		WHERE "recording_id" = ?
		ORDER BY "stamp" ASC, "_id" ASC
		LIMIT ? OFFSET ?`, jointColumns, table),
		recordingID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	out := make([]schema.JointVector, 0, limit)
	for rows.Next() {
		var v schema.JointVector
		dest := make([]any, schema.NumJoints)
		for i := range v {
			dest[i] = &v[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// RotationRows returns up to limit orientations of one recording starting
// at the given row offset, in stamp order.
func (s *Store) RotationRows(ctx context.Context, recordingID int64, offset, limit int) ([]schema.Quaternion, error) {
	if offset < 0 || limit < 0 {
		return nil, fmt.Errorf("invalid row range offset=%d limit=%d", offset, limit)
	}
	if limit == 0 {
		return nil, nil
	}
	rows, err := s.queryContext(ctx, `
		SELECT "x", "y", "z", "w" FROM "Rotation"
		WHERE "recording_id" = ?
		ORDER BY "stamp" ASC, "_id" ASC
		LIMIT ? OFFSET ?`,
		recordingID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query rotation: %w", err)
	}
	defer rows.Close()

	out := make([]schema.Quaternion, 0, limit)
	for rows.Next() {
		var q schema.Quaternion
		if err := rows.Scan(&q.X, &q.Y, &q.Z, &q.W); err != nil {
			return nil, fmt.Errorf("scan rotation: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// ImagesBefore returns the latest limit images of one recording whose stamp
// is strictly before the given stamp, oldest first.
func (s *Store) ImagesBefore(ctx context.Context, recordingID int64, stamp float64, limit int) ([]schema.Image, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.queryContext(ctx, `
		SELECT "stamp", "data" FROM "Image"
		WHERE "recording_id" = ? AND "stamp" < ?
		ORDER BY "stamp" DESC, "_id" DESC
		LIMIT ?`,
		recordingID, stamp, limit)
	if err != nil {
		return nil, fmt.Errorf("query images: %w", err)
	}
	defer rows.Close()

	var out []schema.Image
	for rows.Next() {
		img := schema.Image{RecordingID: recordingID}
		if err := rows.Scan(&img.Stamp, &img.Data); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		out = append(out, img)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// LatestGameState returns the most recent game state at or before stamp.
// ok is false when the recording has no game state that early.
func (s *Store) LatestGameState(ctx context.Context, recordingID int64, stamp float64) (state schema.RobotState, ok bool, err error) {
	var name string
	err = s.queryRowContext(ctx, `
		SELECT "state" FROM "GameState"
		WHERE "recording_id" = ? AND "stamp" <= ?
		ORDER BY "stamp" DESC, "_id" DESC
		LIMIT 1`,
		recordingID, stamp).Scan(&name)
	if err == sql.ErrNoRows {
		return schema.RobotStateUnknown, false, nil
	}
	if err != nil {
		return schema.RobotStateUnknown, false, fmt.Errorf("query game state: %w", err)
	}
	state, err = schema.ParseRobotState(name)
	if err != nil {
		return schema.RobotStateUnknown, false, err
	}
	return state, true, nil
}

// Recording loads one recording's metadata.
func (s *Store) Recording(ctx context.Context, id int64) (*schema.Recording, error) {
	row := s.queryRowContext(ctx, recordingSelect+` WHERE "_id" = ?`, id)
	rec, err := scanRecording(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("recording %d not found", id)
	}
	return rec, err
}

// Recordings lists all recordings ordered by id.
func (s *Store) Recordings(ctx context.Context) ([]*schema.Recording, error) {
	rows, err := s.queryContext(ctx, recordingSelect+` ORDER BY "_id"`)
	if err != nil {
		return nil, fmt.Errorf("query recordings: %w", err)
	}
	defer rows.Close()

	var out []*schema.Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// TableCounts is the per-table row count of one recording.
type TableCounts struct {
	JointCommands int
	JointStates   int
	Rotation      int
	Image         int
	GameState     int
}

// CountRows returns the row count of every time-series table for one
// recording.
func (s *Store) CountRows(ctx context.Context, recordingID int64) (TableCounts, error) {
	var c TableCounts
	for _, t := range []struct {
		table string
		dst   *int
	}{
		{"JointCommands", &c.JointCommands},
		{"JointStates", &c.JointStates},
		{"Rotation", &c.Rotation},
		{"Image", &c.Image},
		{"GameState", &c.GameState},
	} {
		q := fmt.Sprintf(`SELECT COUNT(*) FROM "%s" WHERE "recording_id" = ?`, t.table)
		if err := s.queryRowContext(ctx, q, recordingID).Scan(t.dst); err != nil {
			return c, fmt.Errorf("count %s: %w", t.table, err)
		}
	}
	return c, nil
}

const recordingSelect = `
	SELECT "_id", "allow_public", "original_file", "team_name", "team_color", "robot_type",
	       "start_time", "end_time", "location", "simulated",
	       "img_width", "img_height", "img_width_scaling", "img_height_scaling"
	FROM "Recording"`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecording(row rowScanner) (*schema.Recording, error) {
	var (
		rec                schema.Recording
		teamColor, loc     sql.NullString
		startTime, endTime sql.NullTime
	)
	err := row.Scan(
		&rec.ID, &rec.AllowPublic, &rec.OriginalFile, &rec.TeamName, &teamColor, &rec.RobotType,
		&startTime, &endTime, &loc, &rec.Simulated,
		&rec.ImgWidth, &rec.ImgHeight, &rec.ImgWidthScaling, &rec.ImgHeightScaling,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan recording: %w", err)
	}
	if teamColor.Valid {
		c := schema.TeamColor(teamColor.String)
		rec.TeamColor = &c
	}
	if loc.Valid {
		rec.Location = &loc.String
	}
	if startTime.Valid {
		rec.StartTime = &startTime.Time
	}
	if endTime.Valid {
		rec.EndTime = &endTime.Time
	}
	return &rec, nil
}
