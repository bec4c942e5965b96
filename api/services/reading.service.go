package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Shadan1221/jal-rakshak/db"
	"github.com/Shadan1221/jal-rakshak/pkg/ontology"
	"github.com/Shadan1221/jal-rakshak/pkg/shared"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

const readingColumns = `reading_id, site_id, submitter_id, submitter_name, water_level, photo_url,
	latitude, longitude, status, reviewed_by, reviewed_at, timestamp, created_at`

type ReadingService struct {
	db     *sql.DB
	nats   EventPublisher
	logger *slog.Logger
	now    func() time.Time
}

func NewReadingService(db *sql.DB, nats EventPublisher, logger *slog.Logger) *ReadingService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReadingService{db: db, nats: nats, logger: logger, now: time.Now}
}

// InsertReading stores a submitted reading. Status defaults to pending.
func (s *ReadingService) InsertReading(ctx context.Context, nr ontology.NewReading) (*ontology.Reading, error) {
	if nr.Status == "" {
		nr.Status = ontology.StatusPending
	}
	if !nr.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, nr.Status)
	}
	if nr.SiteID == "" || nr.SubmitterID == "" || nr.PhotoURL == "" {
		return nil, fmt.Errorf("%w: site, submitter and photo are required", ErrInvalidReading)
	}
	if math.IsNaN(nr.WaterLevel) || math.IsInf(nr.WaterLevel, 0) {
		return nil, fmt.Errorf("%w: water level is not a number", ErrInvalidReading)
	}
	if err := nr.Location.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidReading, err)
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	ts := nr.Timestamp.Truncate(time.Microsecond)
	if ts.IsZero() {
		ts = now
	}

	reading := &ontology.Reading{
		ID:            uuid.New().String(),
		SiteID:        nr.SiteID,
		SubmitterID:   nr.SubmitterID,
		SubmitterName: nr.SubmitterName,
		WaterLevel:    nr.WaterLevel,
		PhotoURL:      nr.PhotoURL,
		Latitude:      nr.Location.Latitude,
		Longitude:     nr.Location.Longitude,
		Status:        nr.Status,
		CreatedAt:     now,
		Timestamp:     ts.UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO readings (reading_id, site_id, submitter_id, submitter_name, water_level, photo_url,
		                       latitude, longitude, status, timestamp, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		reading.ID, reading.SiteID, reading.SubmitterID, reading.SubmitterName, reading.WaterLevel, reading.PhotoURL,
		reading.Latitude, reading.Longitude, string(reading.Status), formatTime(reading.Timestamp), formatTime(reading.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reading: %w", err)
	}

	publish(s.nats, s.logger, "reading-service", shared.ReadingCreatedSubject(reading.SiteID), shared.EventTypeCreated, reading.ID,
		map[string]interface{}{"reading": toMap(reading)})

	return reading, nil
}

func (s *ReadingService) GetReading(ctx context.Context, readingID string) (*ontology.Reading, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+readingColumns+` FROM readings WHERE reading_id = ?`, readingID)

	reading, err := scanReading(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("reading %s: %w", readingID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return reading, nil
}

// ListReadings returns readings matching the filter, newest first.
func (s *ReadingService) ListReadings(ctx context.Context, filter ontology.ReadingFilter) ([]ontology.Reading, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, filter.Status)
	}

	var where []string
	var args []interface{}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.SiteID != "" {
		where = append(where, "site_id = ?")
		args = append(args, filter.SiteID)
	}
	if filter.SubmitterID != "" {
		where = append(where, "submitter_id = ?")
		args = append(args, filter.SubmitterID)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := `SELECT ` + readingColumns + ` FROM readings`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, reading_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	readings := []ontology.Reading{}
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, *reading)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read readings: %w", err)
	}
	return readings, nil
}

// UpdateStatus records a review decision. Only pending readings can be
// verified or rejected.
func (s *ReadingService) UpdateStatus(ctx context.Context, readingID string, next ontology.ReviewStatus, reviewerID string) (*ontology.Reading, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, next)
	}

	var reading *ontology.Reading
	err := db.Transaction(ctx, s.db, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT status FROM readings WHERE reading_id = ?`, readingID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("reading %s: %w", readingID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to load reading status: %w", err)
		}

		if !ontology.ReviewStatus(current).CanTransitionTo(next) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current, next)
		}

		reviewedAt := s.now().UTC().Truncate(time.Microsecond)
		if _, err := tx.ExecContext(ctx,
			`UPDATE readings SET status = ?, reviewed_by = ?, reviewed_at = ?
			 WHERE reading_id = ? AND status = ?`,
			string(next), reviewerID, formatTime(reviewedAt), readingID, current,
		); err != nil {
			return fmt.Errorf("failed to update reading status: %w", err)
		}

		reading, err = scanReading(tx.QueryRowContext(ctx, `SELECT `+readingColumns+` FROM readings WHERE reading_id = ?`, readingID))
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("reading reviewed", "reading", reading.ID, "status", reading.Status, "reviewer", reviewerID)
	publish(s.nats, s.logger, "reading-service", shared.ReadingReviewedSubject(reading.SiteID), shared.EventTypeReviewed, reading.ID,
		map[string]interface{}{"reading": toMap(reading)})

	return reading, nil
}

// Stats aggregates reading counts per status and per site. The latest level
// of a site ignores rejected readings.
func (s *ReadingService) Stats(ctx context.Context) (*ontology.ReadingStats, error) {
	stats := &ontology.ReadingStats{Sites: []ontology.SiteSummary{}}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM readings GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count readings: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan reading count: %w", err)
		}
		stats.Total += n
		switch ontology.ReviewStatus(status) {
		case ontology.StatusPending:
			stats.Pending = n
		case ontology.StatusVerified:
			stats.Verified = n
		case ontology.StatusRejected:
			stats.Rejected = n
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to count readings: %w", err)
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT s.site_id, s.name,
		        (SELECT COUNT(*) FROM readings r WHERE r.site_id = s.site_id),
		        l.water_level, l.timestamp
		 FROM sites s
		 LEFT JOIN readings l ON l.reading_id = (
		     SELECT r.reading_id FROM readings r
		     WHERE r.site_id = s.site_id AND r.status <> 'rejected'
		     ORDER BY r.timestamp DESC, r.created_at DESC LIMIT 1)
		 ORDER BY s.name, s.site_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize sites: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sum ontology.SiteSummary
		var level sql.NullFloat64
		var ts sql.NullString
		if err := rows.Scan(&sum.SiteID, &sum.SiteName, &sum.Readings, &level, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan site summary: %w", err)
		}
		if level.Valid {
			v := level.Float64
			sum.LatestLevel = &v
		}
		if ts.Valid {
			t := parseTime(ts.String)
			sum.LatestReadingAt = &t
		}
		stats.Sites = append(stats.Sites, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to summarize sites: %w", err)
	}

	return stats, nil
}

func scanReading(scanner interface{ Scan(...interface{}) error }) (*ontology.Reading, error) {
	var r ontology.Reading
	var status, timestamp, createdAt string
	var reviewedBy, reviewedAt sql.NullString

	err := scanner.Scan(
		&r.ID, &r.SiteID, &r.SubmitterID, &r.SubmitterName, &r.WaterLevel, &r.PhotoURL,
		&r.Latitude, &r.Longitude, &status, &reviewedBy, &reviewedAt, &timestamp, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan reading: %w", err)
	}

	r.Status = ontology.ReviewStatus(status)
	r.ReviewedBy = reviewedBy.String
	if reviewedAt.Valid {
		t := parseTime(reviewedAt.String)
		r.ReviewedAt = &t
	}
	r.Timestamp = parseTime(timestamp)
	r.CreatedAt = parseTime(createdAt)
	return &r, nil
}
