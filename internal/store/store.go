package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/andresmejia3/vocalis/internal/types"
)

// Store manages the PostgreSQL connection for recordings, runs and their results.
type Store struct {
	conn *pgx.Conn
}

// Recording is an input file known to the database.
type Recording struct {
	ID         string
	Path       string
	SampleRate int
	Duration   float64
	IndexedAt  time.Time
}

// RunParams are the segmentation settings a run was made with.
type RunParams struct {
	FrameMs        int
	PaddingMs      int
	MinSegment     float64 // seconds
	TriggerRatio   float64
	Aggressiveness int
}

// Run is one segmentation pass over a recording.
type Run struct {
	ID          uuid.UUID
	RecordingID string
	Params      RunParams
	Status      string
	Clips       int
	Discards    int
	StartedAt   time.Time
	FinishedAt  *time.Time
}

// Run statuses.
const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the necessary tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS recordings (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			sample_rate INT NOT NULL,
			duration DOUBLE PRECISION NOT NULL,
			indexed_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS segmentation_runs (
			id UUID PRIMARY KEY,
			recording_id TEXT NOT NULL REFERENCES recordings(id) ON DELETE CASCADE,
			frame_ms INT NOT NULL,
			padding_ms INT NOT NULL,
			min_segment DOUBLE PRECISION NOT NULL,
			trigger_ratio DOUBLE PRECISION NOT NULL,
			aggressiveness INT NOT NULL,
			status TEXT NOT NULL,
			clip_count INT NOT NULL DEFAULT 0,
			discard_count INT NOT NULL DEFAULT 0,
			started_at TIMESTAMPTZ DEFAULT NOW(),
			finished_at TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS presence_periods (
			run_id UUID NOT NULL REFERENCES segmentation_runs(id) ON DELETE CASCADE,
			period_id INT NOT NULL,
			start_time DOUBLE PRECISION NOT NULL,
			end_time DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (run_id, period_id)
		);
		CREATE TABLE IF NOT EXISTS speech_clips (
			run_id UUID NOT NULL REFERENCES segmentation_runs(id) ON DELETE CASCADE,
			period_id INT NOT NULL,
			clip_index INT NOT NULL,
			start_time DOUBLE PRECISION NOT NULL,
			end_time DOUBLE PRECISION NOT NULL,
			path TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (run_id, period_id, clip_index)
		);
		CREATE INDEX IF NOT EXISTS segmentation_runs_recording_idx ON segmentation_runs (recording_id, started_at);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// EnsureRecording registers the recording. If it exists, it updates the timestamp.
func (s *Store) EnsureRecording(ctx context.Context, rec Recording) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO recordings (id, path, sample_rate, duration, indexed_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET indexed_at = NOW(), path = EXCLUDED.path
	`, rec.ID, rec.Path, rec.SampleRate, rec.Duration)
	return err
}

// GetRecording returns a recording by id, or pgx.ErrNoRows.
func (s *Store) GetRecording(ctx context.Context, id string) (*Recording, error) {
	var rec Recording
	err := s.conn.QueryRow(ctx, `
		SELECT id, path, sample_rate, duration, indexed_at FROM recordings WHERE id = $1
	`, id).Scan(&rec.ID, &rec.Path, &rec.SampleRate, &rec.Duration, &rec.IndexedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateRun opens a new run for a recording and returns its id.
func (s *Store) CreateRun(ctx context.Context, recordingID string, p RunParams) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.conn.Exec(ctx, `
		INSERT INTO segmentation_runs (id, recording_id, frame_ms, padding_ms, min_segment, trigger_ratio, aggressiveness, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, pgUUID(id), recordingID, p.FrameMs, p.PaddingMs, p.MinSegment, p.TriggerRatio, p.Aggressiveness, StatusRunning)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// FinishRun records the outcome of a run.
func (s *Store) FinishRun(ctx context.Context, runID uuid.UUID, status string, clips, discards int) error {
	tag, err := s.conn.Exec(ctx, `
		UPDATE segmentation_runs SET status = $2, clip_count = $3, discard_count = $4, finished_at = NOW()
		WHERE id = $1
	`, pgUUID(runID), status, clips, discards)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// InsertPeriods saves the presence periods a run segmented.
func (s *Store) InsertPeriods(ctx context.Context, runID uuid.UUID, periods []types.PresencePeriod) error {
	rows := make([][]any, len(periods))
	for i, p := range periods {
		rows[i] = []any{pgUUID(runID), p.ID, p.Start, p.End}
	}
	_, err := s.conn.CopyFrom(ctx,
		pgx.Identifier{"presence_periods"},
		[]string{"run_id", "period_id", "start_time", "end_time"},
		pgx.CopyFromRows(rows),
	)
	return err
}

// InsertClips saves the clips of a run.
func (s *Store) InsertClips(ctx context.Context, runID uuid.UUID, clips []types.Clip) error {
	rows := make([][]any, len(clips))
	for i, c := range clips {
		rows[i] = []any{pgUUID(runID), c.PeriodID, c.Index, c.AbsoluteStart, c.AbsoluteEnd, c.Path}
	}
	_, err := s.conn.CopyFrom(ctx,
		pgx.Identifier{"speech_clips"},
		[]string{"run_id", "period_id", "clip_index", "start_time", "end_time", "path"},
		pgx.CopyFromRows(rows),
	)
	return err
}

// LatestRun returns the most recent run of a recording, or pgx.ErrNoRows.
func (s *Store) LatestRun(ctx context.Context, recordingID string) (*Run, error) {
	runs, err := s.listRuns(ctx, recordingID, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, pgx.ErrNoRows
	}
	return &runs[0], nil
}

// ListRuns returns the runs of a recording, newest first.
func (s *Store) ListRuns(ctx context.Context, recordingID string) ([]Run, error) {
	return s.listRuns(ctx, recordingID, 0)
}

func (s *Store) listRuns(ctx context.Context, recordingID string, limit int) ([]Run, error) {
	query := `
		SELECT id, recording_id, frame_ms, padding_ms, min_segment, trigger_ratio, aggressiveness,
		       status, clip_count, discard_count, started_at, finished_at
		FROM segmentation_runs WHERE recording_id = $1
		ORDER BY started_at DESC, id`
	args := []any{recordingID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var id pgtype.UUID
		if err := rows.Scan(&id, &r.RecordingID, &r.Params.FrameMs, &r.Params.PaddingMs, &r.Params.MinSegment,
			&r.Params.TriggerRatio, &r.Params.Aggressiveness, &r.Status, &r.Clips, &r.Discards,
			&r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		r.ID = uuid.UUID(id.Bytes)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListClips returns the clips of a run in period order, then clip order.
func (s *Store) ListClips(ctx context.Context, runID uuid.UUID) ([]types.Clip, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT period_id, clip_index, start_time, end_time, path
		FROM speech_clips WHERE run_id = $1
		ORDER BY period_id, clip_index
	`, pgUUID(runID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clips []types.Clip
	for rows.Next() {
		var c types.Clip
		if err := rows.Scan(&c.PeriodID, &c.Index, &c.AbsoluteStart, &c.AbsoluteEnd, &c.Path); err != nil {
			return nil, err
		}
		clips = append(clips, c)
	}
	return clips, rows.Err()
}

// ListPeriods returns the periods of a run in id order.
func (s *Store) ListPeriods(ctx context.Context, runID uuid.UUID) ([]types.PresencePeriod, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT period_id, start_time, end_time FROM presence_periods
		WHERE run_id = $1 ORDER BY period_id
	`, pgUUID(runID))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.PresencePeriod, error) {
		var p types.PresencePeriod
		err := row.Scan(&p.ID, &p.Start, &p.End)
		return p, err
	})
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

// IsNotFound reports whether err means a lookup matched nothing.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS speech_clips CASCADE;
		DROP TABLE IF EXISTS presence_periods CASCADE;
		DROP TABLE IF EXISTS segmentation_runs CASCADE;
		DROP TABLE IF EXISTS recordings CASCADE;
	`)
	return err
}
