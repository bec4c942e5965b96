package ontology

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Coordinate is a WGS84 position in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate reports whether the coordinate lies within the valid degree ranges.
func (c Coordinate) Validate() error {
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("%w: latitude %f out of range", ErrInvalidCoordinate, c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("%w: longitude %f out of range", ErrInvalidCoordinate, c.Longitude)
	}
	return nil
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Latitude, c.Longitude)
}

// MonitoringSite is a gauge location with a circular admission radius in meters.
type MonitoringSite struct {
	ID        string     `json:"id" db:"site_id"`
	Name      string     `json:"name" db:"name"`
	Location  Coordinate `json:"location"`
	Radius    float64    `json:"radius" db:"radius"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

type CreateSiteRequest struct {
	Name      string  `json:"name" validate:"required,min=1,max=255"`
	Latitude  float64 `json:"latitude" validate:"required,min=-90,max=90"`
	Longitude float64 `json:"longitude" validate:"required,min=-180,max=180"`
	Radius    float64 `json:"radius" validate:"required,gt=0"`
}
