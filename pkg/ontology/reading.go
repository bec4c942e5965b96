package ontology

import (
	"strings"
	"time"
)

// ReviewStatus is the supervisor decision on a submitted reading.
type ReviewStatus string

const (
	StatusPending  ReviewStatus = "pending"
	StatusVerified ReviewStatus = "verified"
	StatusRejected ReviewStatus = "rejected"
)

func (s ReviewStatus) Valid() bool {
	switch s {
	case StatusPending, StatusVerified, StatusRejected:
		return true
	}
	return false
}

// CanTransitionTo reports whether a review may move a reading from s to next.
// Only pending readings are reviewed; decisions are final.
func (s ReviewStatus) CanTransitionTo(next ReviewStatus) bool {
	return s == StatusPending && (next == StatusVerified || next == StatusRejected)
}

type Reading struct {
	ID            string       `json:"id" db:"reading_id"`
	SiteID        string       `json:"site_id" db:"site_id"`
	SubmitterID   string       `json:"submitter_id" db:"submitter_id"`
	SubmitterName string       `json:"submitter_name" db:"submitter_name"`
	WaterLevel    float64      `json:"water_level" db:"water_level"`
	PhotoURL      string       `json:"photo_url" db:"photo_url"`
	Latitude      float64      `json:"latitude" db:"latitude"`
	Longitude     float64      `json:"longitude" db:"longitude"`
	Status        ReviewStatus `json:"status" db:"status"`
	ReviewedBy    string       `json:"reviewed_by,omitempty" db:"reviewed_by"`
	ReviewedAt    *time.Time   `json:"reviewed_at,omitempty" db:"reviewed_at"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
	Timestamp     time.Time    `json:"timestamp" db:"timestamp"`
}

// NewReading holds the fields a submission provides; the store assigns the
// ID and creation time.
type NewReading struct {
	SiteID        string
	SubmitterID   string
	SubmitterName string
	WaterLevel    float64
	PhotoURL      string
	Location      Coordinate
	Status        ReviewStatus
	Timestamp     time.Time
}

type UpdateStatusRequest struct {
	Status ReviewStatus `json:"status" validate:"required,oneof=verified rejected"`
}

// ReadingFilter narrows a reading query. Zero values match everything.
type ReadingFilter struct {
	Status      ReviewStatus
	SiteID      string
	SubmitterID string
	Limit       int
}

type SiteSummary struct {
	SiteID          string     `json:"site_id"`
	SiteName        string     `json:"site_name"`
	Readings        int        `json:"readings"`
	LatestLevel     *float64   `json:"latest_level,omitempty"`
	LatestReadingAt *time.Time `json:"latest_reading_at,omitempty"`
}

type ReadingStats struct {
	Total    int           `json:"total"`
	Pending  int           `json:"pending"`
	Verified int           `json:"verified"`
	Rejected int           `json:"rejected"`
	Sites    []SiteSummary `json:"sites"`
}

// Roles carried by an authenticated identity.
const (
	RoleField      = "field"
	RoleSupervisor = "supervisor"
	RoleAnalyst    = "analyst"
)

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	switch role {
	case RoleField, RoleSupervisor, RoleAnalyst:
		return true
	}
	return false
}

// Identity is the authenticated user on whose behalf a reading is submitted.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role"`
}

// DisplayName prefers the explicit name, then the local part of the e-mail.
func (i Identity) DisplayName() string {
	if n := strings.TrimSpace(i.Name); n != "" {
		return n
	}
	if local, _, ok := strings.Cut(i.Email, "@"); ok && local != "" {
		return local
	}
	return "Field Personnel"
}

// HasRole reports whether the identity holds any of roles.
func (i Identity) HasRole(roles ...string) bool {
	for _, r := range roles {
		if i.Role == r {
			return true
		}
	}
	return false
}
