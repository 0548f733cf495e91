package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/inboxhunter/signup-agent/internal/models"
	"github.com/inboxhunter/signup-agent/internal/store"
)

// CSVSource reads target URLs from a CSV file. The first column holds the
// URL; a header row is detected and skipped.
type CSVSource struct {
	path   string
	urls   []models.TargetURL
	pos    int
	loaded bool
	logger *logrus.Logger
}

// NewCSVSource creates a CSV-backed URL source
func NewCSVSource(path string, logger *logrus.Logger) *CSVSource {
	return &CSVSource{path: path, logger: logger}
}

// Name identifies the source in logs
func (s *CSVSource) Name() string {
	return "csv"
}

// Next returns the next target, or nil when drained
func (s *CSVSource) Next(ctx context.Context) (*models.TargetURL, error) {
	if !s.loaded {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	if s.pos >= len(s.urls) {
		return nil, nil
	}
	target := s.urls[s.pos]
	s.pos++
	return &target, nil
}

func (s *CSVSource) load() error {
	s.loaded = true

	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("failed to open csv file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("failed to parse csv file: %w", err)
	}

	seen := make(map[string]bool)
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		raw := strings.TrimSpace(row[0])
		if raw == "" {
			continue
		}
		if i == 0 && looksLikeHeader(raw) {
			continue
		}
		normalized, ok := normalizeTargetURL(raw)
		if !ok {
			s.logger.WithField("value", raw).Debug("Skipping non-URL csv row")
			continue
		}
		if seen[normalized] {
			continue
		}
		seen[normalized] = true
		s.urls = append(s.urls, models.TargetURL{URL: normalized, Source: "csv"})
	}

	s.logger.WithFields(logrus.Fields{"path": s.path, "urls": len(s.urls)}).Info("Loaded csv targets")
	return nil
}

func looksLikeHeader(value string) bool {
	lower := strings.ToLower(value)
	return lower == "url" || lower == "link" || lower == "website" || lower == "landing_page"
}

// normalizeTargetURL validates a raw value and defaults the scheme to https
func normalizeTargetURL(raw string) (string, bool) {
	if !strings.Contains(raw, ".") {
		return "", false
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return "", false
	}
	return parsed.String(), true
}

// QueueSource drains URLs persisted in the database queue
type QueueSource struct {
	store     *store.Store
	batchSize int
	batch     []models.TargetURL
	pos       int
	logger    *logrus.Logger
}

// NewQueueSource creates a database-queue URL source
func NewQueueSource(st *store.Store, batchSize int, logger *logrus.Logger) *QueueSource {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &QueueSource{store: st, batchSize: batchSize, logger: logger}
}

// Name identifies the source in logs
func (s *QueueSource) Name() string {
	return "database"
}

// Next returns the next queued target, fetching a fresh batch when the
// current one is exhausted. Returns nil when the queue is empty.
func (s *QueueSource) Next(ctx context.Context) (*models.TargetURL, error) {
	if s.pos >= len(s.batch) {
		batch, err := s.store.GetUnprocessedURLs(s.batchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch queued urls: %w", err)
		}
		if len(batch) == 0 {
			return nil, nil
		}
		s.batch = batch
		s.pos = 0
		s.logger.WithField("count", len(batch)).Debug("Fetched queued targets")
	}
	target := s.batch[s.pos]
	s.pos++
	return &target, nil
}
