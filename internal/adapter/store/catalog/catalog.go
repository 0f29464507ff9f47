// Package catalog records pipeline runs and the current artifact per date and
// fill method in SQLite.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alberthnahas/sentinel-no2-daily/internal/domain"
)

const (
	dateLayout  = "2006-01-02"
	stampLayout = "2006-01-02T15:04:05.000000000Z07:00" // fixed width, sorts lexically
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusSucceeded RunStatus = "succeeded"
	StatusFailed    RunStatus = "failed"
)

// Run is one pipeline execution.
type Run struct {
	ID          string     `json:"id"`
	Date        time.Time  `json:"date"`
	Status      RunStatus  `json:"status"`
	TilesTotal  int        `json:"tiles_total"`
	TilesOK     int        `json:"tiles_ok"`
	TilesFailed int        `json:"tiles_failed"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Catalog is a SQLite-backed run and artifact index.
type Catalog struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the catalog database at path.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	// SQLite serialises writers; one connection keeps the pragmas in effect.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialise catalog schema: %w", err)
	}
	return &Catalog{db: db, now: time.Now}, nil
}

// Close releases the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// StartRun records a new running run.
func (c *Catalog) StartRun(ctx context.Context, id string, date time.Time, tilesTotal int) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO runs (id, date, status, tiles_total, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, date.Format(dateLayout), StatusRunning, tilesTotal, c.stamp())
	if err != nil {
		return fmt.Errorf("failed to start run %s: %w", id, err)
	}
	return nil
}

// FinishRun closes a run with its final status and tile counts.
func (c *Catalog) FinishRun(ctx context.Context, id string, status RunStatus, tilesOK, tilesFailed int, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	res, err := c.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, tiles_ok = ?, tiles_failed = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, status, tilesOK, tilesFailed, msg, c.stamp(), id)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// PutArtifact records art as the current artifact for its date and method.
func (c *Catalog) PutArtifact(ctx context.Context, runID string, art domain.GridArtifact) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO artifacts (date, method, path, cells, filled_cells, fallback, run_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (date, method) DO UPDATE SET
			path = excluded.path,
			cells = excluded.cells,
			filled_cells = excluded.filled_cells,
			fallback = excluded.fallback,
			run_id = excluded.run_id,
			created_at = excluded.created_at
	`, art.Date.Format(dateLayout), art.Method, art.Path, art.Cells, art.FilledCells, art.Fallback, runID, c.stamp())
	if err != nil {
		return fmt.Errorf("failed to record %s artifact: %w", art.Method, err)
	}
	return nil
}

const runColumns = `id, date, status, tiles_total, tiles_ok, tiles_failed, error, started_at, finished_at`

// GetRun returns the run with id or ErrNotFound.
func (c *Catalog) GetRun(ctx context.Context, id string) (*Run, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns the most recent runs first.
func (c *Catalog) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// Artifacts returns the current artifacts for date in method order.
func (c *Catalog) Artifacts(ctx context.Context, date time.Time) ([]domain.GridArtifact, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT date, method, path, cells, filled_cells, fallback
		FROM artifacts WHERE date = ?
	`, date.Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query artifacts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byMethod := make(map[domain.FillMethod]domain.GridArtifact)
	for rows.Next() {
		var (
			art    domain.GridArtifact
			day    string
			method string
		)
		if err := rows.Scan(&day, &method, &art.Path, &art.Cells, &art.FilledCells, &art.Fallback); err != nil {
			return nil, err
		}
		if art.Date, err = time.Parse(dateLayout, day); err != nil {
			return nil, fmt.Errorf("artifact date %q: %w", day, err)
		}
		art.Method = domain.FillMethod(method)
		byMethod[art.Method] = art
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.GridArtifact, 0, len(byMethod))
	for _, m := range domain.Methods {
		if art, ok := byMethod[m]; ok {
			out = append(out, art)
		}
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		run      Run
		day      string
		status   string
		started  string
		finished sql.NullString
	)
	if err := s.Scan(&run.ID, &day, &status, &run.TilesTotal, &run.TilesOK, &run.TilesFailed, &run.Error, &started, &finished); err != nil {
		return nil, err
	}
	var err error
	if run.Date, err = time.Parse(dateLayout, day); err != nil {
		return nil, fmt.Errorf("run date %q: %w", day, err)
	}
	if run.StartedAt, err = time.Parse(stampLayout, started); err != nil {
		return nil, fmt.Errorf("run start %q: %w", started, err)
	}
	if finished.Valid {
		t, err := time.Parse(stampLayout, finished.String)
		if err != nil {
			return nil, fmt.Errorf("run finish %q: %w", finished.String, err)
		}
		run.FinishedAt = &t
	}
	run.Status = RunStatus(status)
	return &run, nil
}

func (c *Catalog) stamp() string {
	return c.now().UTC().Format(stampLayout)
}
