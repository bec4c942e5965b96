package capture

import (
	"context"

	"github.com/Shadan1221/jal-rakshak/pkg/ontology"
)

// FixedLocator reports a position supplied by the device up front, e.g. the
// coordinates attached to an upload.
type FixedLocator struct {
	Position ontology.Coordinate
}

func (l FixedLocator) CurrentPosition(ctx context.Context) (ontology.Coordinate, error) {
	if err := ctx.Err(); err != nil {
		return ontology.Coordinate{}, err
	}
	if err := l.Position.Validate(); err != nil {
		return ontology.Coordinate{}, ErrPositionUnavailable
	}
	return l.Position, nil
}

// DeniedLocator stands in for a device that refused location access.
type DeniedLocator struct{}

func (DeniedLocator) CurrentPosition(context.Context) (ontology.Coordinate, error) {
	return ontology.Coordinate{}, ErrPermissionDenied
}
