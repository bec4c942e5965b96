package capture

import (
	"context"

	"github.com/Shadan1221/jal-rakshak/pkg/ontology"
)

// Locator acquires the caller's current position. Each call is one request.
// Implementations return ErrPermissionDenied or ErrPositionUnavailable.
type Locator interface {
	CurrentPosition(ctx context.Context) (ontology.Coordinate, error)
}

type SiteRepository interface {
	ListSites(ctx context.Context) ([]ontology.MonitoringSite, error)
}

// IdentityProvider resolves the current user. A nil identity with a nil
// error means nobody is signed in.
type IdentityProvider interface {
	CurrentUser(ctx context.Context) (*ontology.Identity, error)
}

type BlobStore interface {
	Upload(ctx context.Context, key, contentType string, data []byte) error
	PublicURL(ctx context.Context, key string) (string, error)
}

type ReadingStore interface {
	InsertReading(ctx context.Context, r ontology.NewReading) (*ontology.Reading, error)
}
