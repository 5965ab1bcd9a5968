package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/banshee-data/soccer-diffusion/internal/schema"
)

// JointTable names one of the two joint tables.
type JointTable string

const (
	TableJointCommands JointTable = "JointCommands"
	TableJointStates   JointTable = "JointStates"
)

func (t JointTable) valid() bool {
	return t == TableJointCommands || t == TableJointStates
}

// jointColumns is the quoted joint column list in canonical order.
var jointColumns = func() string {
	cols := make([]string, len(schema.JointNames))
	for i, name := range schema.JointNames {
		cols[i] = `"` + name + `"`
	}
	return strings.Join(cols, ", ")
}()

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// Writer persists one recording inside a single transaction so a failed
// import leaves nothing behind.
type Writer struct {
	s  *Store
	tx *sql.Tx

	jointStmts map[JointTable]*sql.Stmt
	rotStmt    *sql.Stmt
	unlock     func()
}

// Begin starts a recording transaction.
func (s *Store) Begin(ctx context.Context) (*Writer, error) {
	if s.readOnly {
		return nil, fmt.Errorf("cannot write to a read-only store")
	}
	unlock := func() {}
	if s.dialect == SQLite {
		s.writeMu.Lock()
		unlock = sync.OnceFunc(s.writeMu.Unlock)
	}
	var tx *sql.Tx
	err := retryOnBusy(func() error {
		var err error
		tx, err = s.db.BeginTx(ctx, nil)
		return err
	})
	if err != nil {
		unlock()
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Writer{s: s, tx: tx, jointStmts: map[JointTable]*sql.Stmt{}, unlock: unlock}, nil
}

// Commit makes the recording visible.
func (w *Writer) Commit() error {
	defer w.unlock()
	w.closeStmts()
	if err := w.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback discards everything written through w. It is safe to call
// after Commit.
func (w *Writer) Rollback() error {
	defer w.unlock()
	w.closeStmts()
	if err := w.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return err
	}
	return nil
}

func (w *Writer) closeStmts() {
	for _, st := range w.jointStmts {
		st.Close()
	}
	w.jointStmts = map[JointTable]*sql.Stmt{}
	if w.rotStmt != nil {
		w.rotStmt.Close()
		w.rotStmt = nil
	}
}

// InsertRecording stores the recording metadata and sets rec.ID.
func (w *Writer) InsertRecording(ctx context.Context, rec *schema.Recording) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid recording: %w", err)
	}
	var teamColor, location sql.NullString
	if rec.TeamColor != nil {
		teamColor = sql.NullString{String: string(*rec.TeamColor), Valid: true}
	}
	if rec.Location != nil {
		location = sql.NullString{String: *rec.Location, Valid: true}
	}
	var start, end sql.NullTime
	if rec.StartTime != nil {
		start = sql.NullTime{Time: rec.StartTime.UTC(), Valid: true}
	}
	if rec.EndTime != nil {
		end = sql.NullTime{Time: rec.EndTime.UTC(), Valid: true}
	}

	err := w.tx.QueryRowContext(ctx, w.s.rebind(`
		INSERT INTO "Recording" (
			"allow_public", "original_file", "team_name", "team_color", "robot_type",
			"start_time", "end_time", "location", "simulated",
			"img_width", "img_height", "img_width_scaling", "img_height_scaling"
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING "_id"`),
		rec.AllowPublic, rec.OriginalFile, rec.TeamName, teamColor, rec.RobotType,
		start, end, location, rec.Simulated,
		rec.ImgWidth, rec.ImgHeight, rec.ImgWidthScaling, rec.ImgHeightScaling,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("insert recording: %w", err)
	}
	return nil
}

// UpdateRecordingSpan sets the wall-clock span and image scaling that are
// only known once the whole recording has been read.
func (w *Writer) UpdateRecordingSpan(ctx context.Context, rec *schema.Recording) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid recording: %w", err)
	}
	var start, end sql.NullTime
	if rec.StartTime != nil {
		start = sql.NullTime{Time: rec.StartTime.UTC(), Valid: true}
	}
	if rec.EndTime != nil {
		end = sql.NullTime{Time: rec.EndTime.UTC(), Valid: true}
	}
	_, err := w.tx.ExecContext(ctx, w.s.rebind(`
		UPDATE "Recording"
		SET "start_time" = ?, "end_time" = ?, "img_width_scaling" = ?, "img_height_scaling" = ?
		WHERE "_id" = ?`),
		start, end, rec.ImgWidthScaling, rec.ImgHeightScaling, rec.ID)
	if err != nil {
		return fmt.Errorf("update recording %d: %w", rec.ID, err)
	}
	return nil
}

// InsertImages stores image rows.
func (w *Writer) InsertImages(ctx context.Context, rows []schema.Image) error {
	if len(rows) == 0 {
		return nil
	}
	st, err := w.tx.PrepareContext(ctx, w.s.rebind(`INSERT INTO "Image" ("recording_id", "stamp", "data") VALUES (?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("prepare image insert: %w", err)
	}
	defer st.Close()
	for _, r := range rows {
		if err := schema.CheckStamp(r.Stamp); err != nil {
			return fmt.Errorf("image: %w", err)
		}
		if _, err := st.ExecContext(ctx, r.RecordingID, r.Stamp, r.Data); err != nil {
			return fmt.Errorf("insert image at %.3fs: %w", r.Stamp, err)
		}
	}
	return nil
}

// InsertGameStates stores game-state rows.
func (w *Writer) InsertGameStates(ctx context.Context, rows []schema.GameState) error {
	if len(rows) == 0 {
		return nil
	}
	st, err := w.tx.PrepareContext(ctx, w.s.rebind(`INSERT INTO "GameState" ("recording_id", "stamp", "state") VALUES (?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("prepare game state insert: %w", err)
	}
	defer st.Close()
	for _, r := range rows {
		if !r.State.Valid() {
			return fmt.Errorf("game state at %.3fs: %w: %d", r.Stamp, schema.ErrUnknownRobotState, int(r.State))
		}
		if err := schema.CheckStamp(r.Stamp); err != nil {
			return fmt.Errorf("game state: %w", err)
		}
		if _, err := st.ExecContext(ctx, r.RecordingID, r.Stamp, r.State.String()); err != nil {
			return fmt.Errorf("insert game state at %.3fs: %w", r.Stamp, err)
		}
	}
	return nil
}

// InsertSynced stores synchronised ticks into JointCommands, JointStates and
// Rotation, one row per table per tick, keeping the three tables aligned.
func (w *Writer) InsertSynced(ctx context.Context, recordingID int64, rows []schema.SyncedRow) error {
	for _, r := range rows {
		if err := schema.CheckStamp(r.Stamp); err != nil {
			return fmt.Errorf("synced row: %w", err)
		}
		if err := w.insertJoint(ctx, TableJointCommands, recordingID, r.Stamp, r.JointCommand); err != nil {
			return err
		}
		if err := w.insertJoint(ctx, TableJointStates, recordingID, r.Stamp, r.JointState); err != nil {
			return err
		}
		if err := w.insertRotation(ctx, recordingID, r.Stamp, r.Rotation); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) insertJoint(ctx context.Context, table JointTable, recordingID int64, stamp float64, v schema.JointVector) error {
	if err := v.Validate(); err != nil {
		return fmt.Errorf("%s at %.3fs: %w", table, stamp, err)
	}
	st, ok := w.jointStmts[table]
	if !ok {
		var err error
		st, err = w.tx.PrepareContext(ctx, w.s.rebind(fmt.Sprintf(
			`INSERT INTO "%s" ("recording_id", "stamp", %s) VALUES (%s)`,
			table, jointColumns, placeholders(schema.NumJoints+2))))
		if err != nil {
			return fmt.Errorf("prepare %s insert: %w", table, err)
		}
		w.jointStmts[table] = st
	}
	args := make([]any, 0, schema.NumJoints+2)
	args = append(args, recordingID, stamp)
	for _, a := range v {
		args = append(args, a)
	}
	if _, err := st.ExecContext(ctx, args...); err != nil {
		return fmt.Errorf("insert %s at %.3fs: %w", table, stamp, err)
	}
	return nil
}

func (w *Writer) insertRotation(ctx context.Context, recordingID int64, stamp float64, q schema.Quaternion) error {
	if err := q.Validate(); err != nil {
		return fmt.Errorf("rotation at %.3fs: %w", stamp, err)
	}
	if w.rotStmt == nil {
		st, err := w.tx.PrepareContext(ctx, w.s.rebind(
			`INSERT INTO "Rotation" ("recording_id", "stamp", "x", "y", "z", "w") VALUES (?, ?, ?, ?, ?, ?)`))
		if err != nil {
			return fmt.Errorf("prepare rotation insert: %w", err)
		}
		w.rotStmt = st
	}
	if _, err := w.rotStmt.ExecContext(ctx, recordingID, stamp, q.X, q.Y, q.Z, q.W); err != nil {
		return fmt.Errorf("insert rotation at %.3fs: %w", stamp, err)
	}
	return nil
}
