// Package store keeps the history of extraction runs in SQLite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kwv/meshalign/align"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when a run does not exist
var ErrNotFound = errors.New("run not found")

// Store provides durable storage for extraction reports.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db *sql.DB
}

// RunSummary is one row of the run history
type RunSummary struct {
	RunID               string    `json:"runId"`
	Session             string    `json:"session"`
	CreatedAt           time.Time `json:"createdAt"`
	PointCount          int       `json:"pointCount"`
	CorrespondenceCount int       `json:"correspondenceCount"`
	MappingCount        int       `json:"mappingCount"`
	ClusterCount        int       `json:"clusterCount"`
}

// Open creates or opens a SQLite database at the given path and applies the
// pragmas and schema. Safe to call repeatedly on the same file.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// SaveReport records a report and its clusters in one transaction.
// Saving a run id twice is a no-op.
func (s *Store) SaveReport(ctx context.Context, r *align.Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs
		(run_id, session, created_at, point_count, correspondence_count, mapping_count, cluster_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO NOTHING
	`,
		r.RunID,
		r.Session,
		r.CreatedAt.UTC().UnixNano(),
		r.PointCount,
		r.CorrespondenceCount,
		r.MappingCount,
		len(r.Clusters),
	)
	if err != nil {
		return fmt.Errorf("save report %s: %w", r.RunID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil
	}

	for _, cl := range r.Clusters {
		p := cl.Proposition
		_, err := tx.ExecContext(ctx, `
			INSERT INTO clusters
			(run_id, cluster_index, strength, translation_x, translation_y, rotation, scale)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, r.RunID, cl.Index, cl.Strength, p.Translation.X, p.Translation.Y, p.Rotation, p.Scale)
		if err != nil {
			return fmt.Errorf("save cluster %d of %s: %w", cl.Index, r.RunID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save report %s: %w", r.RunID, err)
	}
	return nil
}

// ListRuns returns the most recent runs first. An empty session lists every
// session; limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, session string, limit int) ([]RunSummary, error) {
	query := `
		SELECT run_id, session, created_at, point_count, correspondence_count, mapping_count, cluster_count
		FROM runs
		WHERE (? = '' OR session = ?)
		ORDER BY created_at DESC, run_id DESC
	`
	args := []any{session, session}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var rs RunSummary
		var createdAt int64
		if err := rows.Scan(&rs.RunID, &rs.Session, &createdAt, &rs.PointCount,
			&rs.CorrespondenceCount, &rs.MappingCount, &rs.ClusterCount); err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		rs.CreatedAt = time.Unix(0, createdAt).UTC()
		runs = append(runs, rs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// LoadRun rebuilds the report of a run, clusters in extraction order
func (s *Store) LoadRun(ctx context.Context, runID string) (*align.Report, error) {
	r := &align.Report{RunID: runID}
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT session, created_at, point_count, correspondence_count, mapping_count
		FROM runs WHERE run_id = ?
	`, runID).Scan(&r.Session, &createdAt, &r.PointCount, &r.CorrespondenceCount, &r.MappingCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	r.CreatedAt = time.Unix(0, createdAt).UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT cluster_index, strength, translation_x, translation_y, rotation, scale
		FROM clusters WHERE run_id = ?
		ORDER BY cluster_index
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("load clusters of %s: %w", runID, err)
	}
	defer rows.Close()

	r.Clusters = []align.Cluster{}
	for rows.Next() {
		var cl align.Cluster
		p := &cl.Proposition
		if err := rows.Scan(&cl.Index, &cl.Strength, &p.Translation.X, &p.Translation.Y, &p.Rotation, &p.Scale); err != nil {
			return nil, fmt.Errorf("load clusters of %s: %w", runID, err)
		}
		r.Clusters = append(r.Clusters, cl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load clusters of %s: %w", runID, err)
	}
	return r, nil
}

// Prune deletes all but the newest keep runs of a session and returns the
// number of deleted runs
func (s *Store) Prune(ctx context.Context, session string, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM runs
		WHERE session = ? AND run_id NOT IN (
			SELECT run_id FROM runs WHERE session = ?
			ORDER BY created_at DESC, run_id DESC
			LIMIT ?
		)
	`, session, session, keep)
	if err != nil {
		return 0, fmt.Errorf("prune %s: %w", session, err)
	}
	return res.RowsAffected()
}
