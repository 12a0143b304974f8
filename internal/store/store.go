package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/vidproc/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Store manages the PostgreSQL connection behind the run ledger.
type Store struct {
	conn *pgx.Conn
}

// Run is one invocation of the pipeline as recorded in the ledger.
type Run struct {
	ID         uuid.UUID
	VideoID    string
	InputPath  string
	OutputPath string
	Mode       string
	Frames     int
	State      string
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the ledger tables if they don't exist.
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS video_metadata (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			width INT NOT NULL,
			height INT NOT NULL,
			fps DOUBLE PRECISION NOT NULL,
			total_frames INT NOT NULL,
			codec TEXT NOT NULL DEFAULT '',
			indexed_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS runs (
			id UUID PRIMARY KEY,
			video_id TEXT REFERENCES video_metadata(id) ON DELETE SET NULL,
			input_path TEXT NOT NULL,
			output_path TEXT NOT NULL DEFAULT '',
			mode TEXT NOT NULL,
			frames INT NOT NULL DEFAULT 0,
			state TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			finished_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS runs_started_at_idx ON runs (started_at DESC);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// EnsureVideoMetadata registers the video in the database. If it exists, it refreshes the probe data.
func (s *Store) EnsureVideoMetadata(ctx context.Context, videoID string, info types.VideoInfo) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO video_metadata (id, path, width, height, fps, total_frames, codec, indexed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (id) DO UPDATE SET
			path = EXCLUDED.path,
			width = EXCLUDED.width,
			height = EXCLUDED.height,
			fps = EXCLUDED.fps,
			total_frames = EXCLUDED.total_frames,
			codec = EXCLUDED.codec,
			indexed_at = NOW()
	`, videoID, info.Path, info.Width, info.Height, info.FPS, info.TotalFrames, info.Codec)
	return err
}

// StartRun records a run in the running state and returns its ID.
func (s *Store) StartRun(ctx context.Context, videoID, inputPath, outputPath, mode string) (uuid.UUID, error) {
	id := uuid.New()
	var vid any
	if videoID != "" {
		vid = videoID
	}
	_, err := s.conn.Exec(ctx, `
		INSERT INTO runs (id, video_id, input_path, output_path, mode, state, started_at)
		VALUES ($1, $2, $3, $4, $5, 'running', NOW())
	`, id, vid, inputPath, outputPath, mode)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// FinishRun stores the terminal state of a run.
func (s *Store) FinishRun(ctx context.Context, id uuid.UUID, state string, frames int, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	tag, err := s.conn.Exec(ctx, `
		UPDATE runs SET state = $2, frames = $3, error = $4, finished_at = NOW()
		WHERE id = $1
	`, id, state, frames, msg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: run %s", types.ErrNotFound, id)
	}
	return nil
}

// GetRun fetches a single run.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (Run, error) {
	row := s.conn.QueryRow(ctx, `
		SELECT id, COALESCE(video_id, ''), input_path, output_path, mode, frames, state, error, started_at, finished_at
		FROM runs WHERE id = $1
	`, id)
	r, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: run %s", types.ErrNotFound, id)
	}
	return r, err
}

// ListRuns returns the most recent runs first. A limit <= 0 returns all of them.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `
		SELECT id, COALESCE(video_id, ''), input_path, output_path, mode, frames, state, error, started_at, finished_at
		FROM runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func scanRun(row pgx.Row) (Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.VideoID, &r.InputPath, &r.OutputPath, &r.Mode, &r.Frames, &r.State, &r.Error, &r.StartedAt, &r.FinishedAt)
	return r, err
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS runs CASCADE;
		DROP TABLE IF EXISTS video_metadata CASCADE;
	`)
	return err
}
