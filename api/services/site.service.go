package services

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Shadan1221/jal-rakshak/pkg/ontology"
	"github.com/Shadan1221/jal-rakshak/pkg/shared"
)

type SiteService struct {
	db     *sql.DB
	nats   EventPublisher
	logger *slog.Logger
}

func NewSiteService(db *sql.DB, nats EventPublisher, logger *slog.Logger) *SiteService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SiteService{db: db, nats: nats, logger: logger}
}

func (s *SiteService) CreateSite(ctx context.Context, req *ontology.CreateSiteRequest) (*ontology.MonitoringSite, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidSite)
	}
	loc := ontology.Coordinate{Latitude: req.Latitude, Longitude: req.Longitude}
	if err := loc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSite, err)
	}
	if !(req.Radius > 0) || math.IsInf(req.Radius, 0) {
		return nil, fmt.Errorf("%w: radius must be a positive number of meters", ErrInvalidSite)
	}

	site := &ontology.MonitoringSite{
		ID:        uuid.New().String(),
		Name:      name,
		Location:  loc,
		Radius:    req.Radius,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sites (site_id, name, latitude, longitude, radius_m, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		site.ID, site.Name, loc.Latitude, loc.Longitude, site.Radius, formatTime(site.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create site: %w", err)
	}

	s.logger.Info("monitoring site created", "site", site.ID, "name", site.Name, "radius_m", site.Radius)
	publish(s.nats, s.logger, "site-service", shared.SiteCreatedSubject(site.ID), shared.EventTypeCreated, site.ID,
		map[string]interface{}{"site": toMap(site)})

	return site, nil
}

// ListSites returns every monitoring site ordered by name.
func (s *SiteService) ListSites(ctx context.Context) ([]ontology.MonitoringSite, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT site_id, name, latitude, longitude, radius_m, created_at
		 FROM sites ORDER BY name, site_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sites: %w", err)
	}
	defer rows.Close()

	sites := []ontology.MonitoringSite{}
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		sites = append(sites, *site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sites: %w", err)
	}
	return sites, nil
}

func (s *SiteService) GetSite(ctx context.Context, siteID string) (*ontology.MonitoringSite, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT site_id, name, latitude, longitude, radius_m, created_at
		 FROM sites WHERE site_id = ?`, siteID,
	)

	site, err := scanSite(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("site %s: %w", siteID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return site, nil
}

func scanSite(scanner interface{ Scan(...interface{}) error }) (*ontology.MonitoringSite, error) {
	var site ontology.MonitoringSite
	var createdAt string

	err := scanner.Scan(&site.ID, &site.Name, &site.Location.Latitude, &site.Location.Longitude, &site.Radius, &createdAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan site: %w", err)
	}

	site.CreatedAt = parseTime(createdAt)
	return &site, nil
}
