// Package persistence stores report generation history. SQLite with WAL
// mode keeps concurrent recording from the worker pool cheap and gives the
// status and history endpoints something durable across restarts.
package persistence

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver
)

// report statuses
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// ReportRecord is one generation attempt, successful or not.
type ReportRecord struct {
	ID           string    `json:"id"`
	Flavor       string    `json:"flavor"` // sightings or reportings
	Observations int       `json:"observations"`
	Charts       int       `json:"charts"`
	SizeBytes    int64     `json:"size_bytes"`
	DurationMs   int64     `json:"duration_ms"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Totals aggregates history counts for the status endpoint.
type Totals struct {
	Total     int `json:"total" db:"total"`
	Succeeded int `json:"succeeded" db:"succeeded"`
	Failed    int `json:"failed" db:"failed"`
}

// dbReport is the storage form of ReportRecord, timestamps as unix seconds
type dbReport struct {
	ID           string `db:"id"`
	Flavor       string `db:"flavor"`
	Observations int    `db:"observations"`
	Charts       int    `db:"charts"`
	SizeBytes    int64  `db:"size_bytes"`
	DurationMs   int64  `db:"duration_ms"`
	Status       string `db:"status"`
	Error        string `db:"error"`
	CreatedAt    int64  `db:"created_at"`
}

// SQLiteStore implements report history persistence using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) the store and initializes the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to set WAL mode: %w (also failed to close db: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		flavor TEXT NOT NULL,
		observations INTEGER NOT NULL,
		charts INTEGER NOT NULL DEFAULT 0,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to create schema: %w (also failed to close db: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_reports_created_at ON reports(created_at)`); err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// RecordReport persists one generation attempt.
func (s *SQLiteStore) RecordReport(rec ReportRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	row := dbReport{
		ID:           rec.ID,
		Flavor:       rec.Flavor,
		Observations: rec.Observations,
		Charts:       rec.Charts,
		SizeBytes:    rec.SizeBytes,
		DurationMs:   rec.DurationMs,
		Status:       rec.Status,
		Error:        rec.Error,
		CreatedAt:    rec.CreatedAt.Unix(),
	}
	_, err := s.db.NamedExec(`INSERT OR REPLACE INTO reports
		(id, flavor, observations, charts, size_bytes, duration_ms, status, error, created_at)
		VALUES (:id, :flavor, :observations, :charts, :size_bytes, :duration_ms, :status, :error, :created_at)`, row)
	if err != nil {
		return fmt.Errorf("failed to record report %s: %w", rec.ID, err)
	}
	return nil
}

// ListReports returns the most recent records, newest first.
func (s *SQLiteStore) ListReports(limit int) ([]ReportRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []dbReport
	err := s.db.Select(&rows, `SELECT id, flavor, observations, charts, size_bytes, duration_ms, status, error, created_at
		FROM reports ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}

	res := make([]ReportRecord, 0, len(rows))
	for _, row := range rows {
		res = append(res, ReportRecord{
			ID:           row.ID,
			Flavor:       row.Flavor,
			Observations: row.Observations,
			Charts:       row.Charts,
			SizeBytes:    row.SizeBytes,
			DurationMs:   row.DurationMs,
			Status:       row.Status,
			Error:        row.Error,
			CreatedAt:    time.Unix(row.CreatedAt, 0),
		})
	}
	return res, nil
}

// Totals returns aggregate history counts.
func (s *SQLiteStore) Totals() (Totals, error) {
	var res Totals
	err := s.db.Get(&res, `SELECT count(*) AS total,
		count(*) FILTER (WHERE status = ?) AS succeeded,
		count(*) FILTER (WHERE status = ?) AS failed
		FROM reports`, StatusOK, StatusFailed)
	if err != nil {
		return Totals{}, fmt.Errorf("failed to get report totals: %w", err)
	}
	return res, nil
}

// CleanupOldReports keeps the newest limit rows and deletes the rest.
func (s *SQLiteStore) CleanupOldReports(limit int) error {
	_, err := s.db.Exec(`DELETE FROM reports WHERE id NOT IN
		(SELECT id FROM reports ORDER BY created_at DESC, id LIMIT ?)`, limit)
	if err != nil {
		return fmt.Errorf("failed to cleanup old reports: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
