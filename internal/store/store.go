// Package store handles SQLite persistence of scan runs.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/verte-zerg/stampclock/internal/model"

	_ "modernc.org/sqlite" // SQLite driver.
)

// ErrRunNotFound is returned when no stored run matches.
var ErrRunNotFound = errors.New("run not found")

// timeLayout is fixed width so stored UTC times sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps SQLite access for run data.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			sources TEXT NOT NULL,
			time_zone TEXT NOT NULL,
			processed INTEGER NOT NULL,
			total_seconds INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS run_intervals (
			run_id TEXT NOT NULL,
			video TEXT NOT NULL,
			seq INTEGER NOT NULL,
			first_ts INTEGER NOT NULL,
			last_ts INTEGER NOT NULL,
			duration_seconds INTEGER NOT NULL,
			PRIMARY KEY (run_id, video, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS run_hours (
			run_id TEXT NOT NULL,
			hour INTEGER NOT NULL,
			seconds INTEGER NOT NULL,
			PRIMARY KEY (run_id, hour)
		);`,
		`CREATE TABLE IF NOT EXISTS run_skips (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			video TEXT NOT NULL,
			reason TEXT NOT NULL,
			PRIMARY KEY (run_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveRun stores a completed run with its intervals, hour totals and skips
// in one transaction. An empty run ID is replaced with a new UUID.
func (s *Store) SaveRun(ctx context.Context, run model.Run) (id string, err error) {
	id = run.ID
	if id == "" {
		id = uuid.NewString()
	}
	sources, err := json.Marshal(run.Sources)
	if err != nil {
		return "", fmt.Errorf("failed to encode sources: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, finished_at, sources, time_zone, processed, total_seconds)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id,
		run.StartedAt.UTC().Format(timeLayout),
		run.FinishedAt.UTC().Format(timeLayout),
		string(sources),
		run.TimeZone,
		run.Processed,
		run.Totals.TotalSeconds,
	); err != nil {
		return "", err
	}

	for hour, seconds := range run.Totals.Hours {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO run_hours (run_id, hour, seconds) VALUES (?, ?, ?)`,
			id, hour, seconds); err != nil {
			return "", err
		}
	}

	if len(run.Totals.Videos) > 0 {
		var stmt *sql.Stmt
		stmt, err = tx.PrepareContext(ctx,
			`INSERT INTO run_intervals (run_id, video, seq, first_ts, last_ts, duration_seconds)
			 VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return "", err
		}
		defer func() {
			if cerr := stmt.Close(); cerr != nil {
				// Best-effort statement close.
				_ = cerr
			}
		}()
		for video, intervals := range run.Totals.Videos {
			for seq, iv := range intervals {
				if _, err = stmt.ExecContext(ctx, id, video, seq, iv.FirstTimestamp, iv.LastTimestamp, iv.DurationSeconds); err != nil {
					return "", err
				}
			}
		}
	}

	for seq, skip := range run.Skipped {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO run_skips (run_id, seq, video, reason) VALUES (?, ?, ?, ?)`,
			id, seq, skip.Video, skip.Reason); err != nil {
			return "", err
		}
	}

	if err = tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// ListRuns returns stored runs, newest first. A limit <= 0 returns all runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error) {
	query := `SELECT r.id, r.started_at, r.finished_at, r.sources, r.time_zone, r.processed, r.total_seconds,
		(SELECT COUNT(*) FROM run_skips k WHERE k.run_id = r.id) AS skipped
		FROM runs r
		ORDER BY r.started_at DESC, r.id ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var runs []model.RunSummary
	for rows.Next() {
		var sum model.RunSummary
		var startedAt, finishedAt, sources string
		if err := rows.Scan(&sum.ID, &startedAt, &finishedAt, &sources, &sum.TimeZone, &sum.Processed, &sum.TotalSeconds, &sum.SkippedCount); err != nil {
			return nil, err
		}
		if sum.StartedAt, sum.FinishedAt, sum.Sources, err = decodeRunColumns(startedAt, finishedAt, sources); err != nil {
			return nil, err
		}
		runs = append(runs, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// LatestRunID returns the id of the most recently started run.
func (s *Store) LatestRunID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM runs ORDER BY started_at DESC, id ASC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrRunNotFound
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// ResolveID expands a full id or a unique id prefix.
func (s *Store) ResolveID(ctx context.Context, prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", ErrRunNotFound
	}
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM runs WHERE id LIKE ? ESCAPE '\' ORDER BY id LIMIT 2`, escaped+"%")
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	switch {
	case len(ids) == 0:
		return "", fmt.Errorf("%w: %s", ErrRunNotFound, prefix)
	case len(ids) > 1 && ids[0] != prefix:
		return "", fmt.Errorf("run id prefix %q is ambiguous", prefix)
	}
	return ids[0], nil
}

// LoadRun reads a stored run with all of its details.
func (s *Store) LoadRun(ctx context.Context, id string) (model.Run, error) {
	run := model.Run{ID: id}
	var startedAt, finishedAt, sources string
	err := s.db.QueryRowContext(ctx,
		`SELECT started_at, finished_at, sources, time_zone, processed, total_seconds FROM runs WHERE id = ?`, id).
		Scan(&startedAt, &finishedAt, &sources, &run.TimeZone, &run.Processed, &run.Totals.TotalSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return model.Run{}, err
	}
	if run.StartedAt, run.FinishedAt, run.Sources, err = decodeRunColumns(startedAt, finishedAt, sources); err != nil {
		return model.Run{}, err
	}

	if err := s.loadHours(ctx, id, &run.Totals.Hours); err != nil {
		return model.Run{}, err
	}
	if run.Totals.Videos, err = s.loadIntervals(ctx, id); err != nil {
		return model.Run{}, err
	}
	if run.Skipped, err = s.loadSkips(ctx, id); err != nil {
		return model.Run{}, err
	}
	return run, nil
}

func (s *Store) loadHours(ctx context.Context, id string, hours *model.HourTotals) error {
	rows, err := s.db.QueryContext(ctx, `SELECT hour, seconds FROM run_hours WHERE run_id = ?`, id)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()
	for rows.Next() {
		var hour int
		var seconds int64
		if err := rows.Scan(&hour, &seconds); err != nil {
			return err
		}
		if hour < 0 || hour >= model.HoursPerDay {
			return fmt.Errorf("stored hour out of range: %d", hour)
		}
		hours[hour] = seconds
	}
	return rows.Err()
}

func (s *Store) loadIntervals(ctx context.Context, id string) (map[string][]model.VideoInterval, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT video, first_ts, last_ts, duration_seconds FROM run_intervals WHERE run_id = ? ORDER BY video, seq`, id)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()
	videos := map[string][]model.VideoInterval{}
	for rows.Next() {
		var video string
		var iv model.VideoInterval
		if err := rows.Scan(&video, &iv.FirstTimestamp, &iv.LastTimestamp, &iv.DurationSeconds); err != nil {
			return nil, err
		}
		videos[video] = append(videos[video], iv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return videos, nil
}

func (s *Store) loadSkips(ctx context.Context, id string) ([]model.Skip, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT video, reason FROM run_skips WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()
	var skips []model.Skip
	for rows.Next() {
		var skip model.Skip
		if err := rows.Scan(&skip.Video, &skip.Reason); err != nil {
			return nil, err
		}
		skips = append(skips, skip)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return skips, nil
}

func decodeRunColumns(startedAt, finishedAt, sources string) (time.Time, time.Time, []string, error) {
	started, err := time.Parse(timeLayout, startedAt)
	if err != nil {
		return time.Time{}, time.Time{}, nil, err
	}
	finished, err := time.Parse(timeLayout, finishedAt)
	if err != nil {
		return time.Time{}, time.Time{}, nil, err
	}
	var srcs []string
	if err := json.Unmarshal([]byte(sources), &srcs); err != nil {
		return time.Time{}, time.Time{}, nil, fmt.Errorf("failed to decode sources: %w", err)
	}
	return started, finished, srcs, nil
}
