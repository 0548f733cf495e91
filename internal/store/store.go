package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/inboxhunter/signup-agent/internal/models"
)

// ProcessedURL is one outcome row
type ProcessedURL struct {
	ID            int64     `json:"id"`
	URL           string    `json:"url"`
	Source        string    `json:"source"`
	Status        string    `json:"status"`
	FieldsFilled  []string  `json:"fields_filled"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	ErrorCategory string    `json:"error_category,omitempty"`
	Details       string    `json:"details,omitempty"`
	ProcessedAt   time.Time `json:"processed_at"`
}

// Stats summarises the processed table
type Stats struct {
	Total       int `json:"total"`
	Success     int `json:"success"`
	Failed      int `json:"failed"`
	Skipped     int `json:"skipped"`
	Unprocessed int `json:"unprocessed"`
}

// Store is the thin repository over the agent's SQLite database
type Store struct {
	db     *sql.DB
	path   string
	logger *logrus.Logger
	mu     sync.Mutex
}

// New opens (or creates) the database at path and runs schema migrations
func New(path string, logger *logrus.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	logger.WithField("path", path).Debug("Store opened")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS processed_urls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL UNIQUE,
		source TEXT NOT NULL DEFAULT 'csv',
		status TEXT NOT NULL,
		fields_filled TEXT NOT NULL DEFAULT '[]',
		error_message TEXT,
		processed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_processed_urls_status ON processed_urls(status);

	CREATE TABLE IF NOT EXISTS scraped_urls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL UNIQUE,
		ad_id TEXT,
		advertiser TEXT,
		scraped_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		processed INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_scraped_urls_processed ON scraped_urls(processed);

	CREATE TABLE IF NOT EXISTS api_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_start TIMESTAMP NOT NULL,
		model TEXT NOT NULL,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		cost TEXT NOT NULL DEFAULT '0',
		api_calls INTEGER NOT NULL DEFAULT 0
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// migrate adds columns introduced after the original schema shipped
func (s *Store) migrate() error {
	for _, col := range []string{"error_category", "details"} {
		has, err := s.hasColumn("processed_urls", col)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := s.db.Exec(fmt.Sprintf("ALTER TABLE processed_urls ADD COLUMN %s TEXT", col)); err != nil {
			return fmt.Errorf("failed to add column %s: %w", col, err)
		}
		s.logger.WithField("column", col).Info("Migrated processed_urls schema")
	}
	return nil
}

func (s *Store) hasColumn(table, column string) (bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// IsURLProcessed reports whether an outcome row exists for the URL
func (s *Store) IsURLProcessed(url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	err := s.db.QueryRow("SELECT COUNT(1) FROM processed_urls WHERE url = ?", url).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query processed_urls: %w", err)
	}
	return count > 0, nil
}

// AddProcessedURL inserts or updates the outcome row for a URL
func (s *Store) AddProcessedURL(rec ProcessedURL) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fields, err := json.Marshal(rec.FieldsFilled)
	if err != nil {
		return fmt.Errorf("failed to marshal fields_filled: %w", err)
	}
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now().UTC()
	}

	_, err = s.db.Exec(`
		INSERT INTO processed_urls (url, source, status, fields_filled, error_message, error_category, details, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			source = excluded.source,
			status = excluded.status,
			fields_filled = excluded.fields_filled,
			error_message = excluded.error_message,
			error_category = excluded.error_category,
			details = excluded.details,
			processed_at = excluded.processed_at
	`, rec.URL, rec.Source, rec.Status, string(fields),
		nullable(rec.ErrorMessage), nullable(rec.ErrorCategory), nullable(rec.Details), rec.ProcessedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert processed_urls: %w", err)
	}
	return nil
}

// GetProcessedURL fetches one outcome row, if present
func (s *Store) GetProcessedURL(url string) (*ProcessedURL, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`
		SELECT id, url, source, status, fields_filled, error_message, error_category, details, processed_at
		FROM processed_urls WHERE url = ?`, url)

	var rec ProcessedURL
	var fields string
	var errMsg, errCat, details sql.NullString
	if err := row.Scan(&rec.ID, &rec.URL, &rec.Source, &rec.Status, &fields, &errMsg, &errCat, &details, &rec.ProcessedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query processed_urls: %w", err)
	}
	if err := json.Unmarshal([]byte(fields), &rec.FieldsFilled); err != nil {
		rec.FieldsFilled = nil
	}
	rec.ErrorMessage = errMsg.String
	rec.ErrorCategory = errCat.String
	rec.Details = details.String
	return &rec, nil
}

// AddScrapedURLs enqueues URLs, ignoring duplicates. Returns how many were new.
func (s *Store) AddScrapedURLs(items []models.TargetURL) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT OR IGNORE INTO scraped_urls (url, ad_id, advertiser) VALUES (?, ?, ?)")
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	added := 0
	for _, item := range items {
		res, err := stmt.Exec(item.URL, nullable(item.AdID), nullable(item.Advertiser))
		if err != nil {
			return added, fmt.Errorf("failed to insert scraped url: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	if err := tx.Commit(); err != nil {
		return added, fmt.Errorf("failed to commit: %w", err)
	}
	return added, nil
}

// GetUnprocessedURLs returns up to limit queued URLs not yet marked processed
func (s *Store) GetUnprocessedURLs(limit int) ([]models.TargetURL, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT url, COALESCE(ad_id, ''), COALESCE(advertiser, '')
		FROM scraped_urls WHERE processed = 0 ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query scraped_urls: %w", err)
	}
	defer rows.Close()

	var out []models.TargetURL
	for rows.Next() {
		var item models.TargetURL
		if err := rows.Scan(&item.URL, &item.AdID, &item.Advertiser); err != nil {
			return nil, err
		}
		item.Source = "database"
		out = append(out, item)
	}
	return out, rows.Err()
}

// CountUnprocessed returns the size of the pending queue
func (s *Store) CountUnprocessed() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	err := s.db.QueryRow("SELECT COUNT(1) FROM scraped_urls WHERE processed = 0").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count scraped_urls: %w", err)
	}
	return count, nil
}

// MarkURLProcessed flags a queued URL as drained
func (s *Store) MarkURLProcessed(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("UPDATE scraped_urls SET processed = 1 WHERE url = ?", url); err != nil {
		return fmt.Errorf("failed to mark url processed: %w", err)
	}
	return nil
}

// SaveAPISessionCosts persists one row per model from the cost snapshot
func (s *Store) SaveAPISessionCosts(summary models.CostSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(summary.Models) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO api_sessions (session_start, model, input_tokens, output_tokens, cost, api_calls)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	start := summary.SessionStart
	if start.IsZero() {
		start = time.Now().UTC()
	}
	for model, usage := range summary.Models {
		cost := strconv.FormatFloat(usage.Cost, 'f', 6, 64)
		if _, err := stmt.Exec(start, model, usage.InputTokens, usage.OutputTokens, cost, usage.Calls); err != nil {
			return fmt.Errorf("failed to insert api session: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// GetStats returns aggregate counts for the status API and run summary
func (s *Store) GetStats() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	rows, err := s.db.Query("SELECT status, COUNT(1) FROM processed_urls GROUP BY status")
	if err != nil {
		return st, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return st, err
		}
		st.Total += count
		switch status {
		case string(models.StatusSuccess):
			st.Success = count
		case string(models.StatusFailed):
			st.Failed = count
		case string(models.StatusSkipped):
			st.Skipped = count
		}
	}
	if err := rows.Err(); err != nil {
		return st, err
	}

	if err := s.db.QueryRow("SELECT COUNT(1) FROM scraped_urls WHERE processed = 0").Scan(&st.Unprocessed); err != nil {
		return st, fmt.Errorf("failed to count unprocessed: %w", err)
	}
	return st, nil
}

func nullable(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
