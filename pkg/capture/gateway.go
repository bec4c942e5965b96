package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Shadan1221/jal-rakshak/pkg/ontology"
)

// Gateway turns a completed draft into a persisted reading: it uploads the
// photo under <user id>/<unix millis>-<uuid>.<ext>, resolves its public URL
// and inserts the reading row. The steps are
// not transactional; a failed insert leaves the uploaded photo behind and it
// is reused on the next attempt.
type Gateway struct {
	identity IdentityProvider
	blobs    BlobStore
	readings ReadingStore
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

func NewGateway(identity IdentityProvider, blobs BlobStore, readings ReadingStore, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		identity: identity,
		blobs:    blobs,
		readings: readings,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Submit persists the draft as a pending reading. It fails with
// ErrIncompleteDraft before touching any collaborator when a precondition is
// missing. On failure the draft keeps any uploaded photo reference.
func (g *Gateway) Submit(ctx context.Context, d *Draft) (*ontology.Reading, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	level, _ := d.ParseWaterLevel()

	user, err := g.identity.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if user == nil || user.ID == "" {
		return nil, ErrUnauthenticated
	}

	// a photo uploaded under another identity is not reused
	if d.uploaded == nil || d.uploaded.ownerID != user.ID {
		up, err := g.upload(ctx, user.ID, d.Photo)
		if err != nil {
			return nil, err
		}
		d.uploaded = up
	} else {
		g.logger.Debug("reusing uploaded photo", "key", d.uploaded.key)
	}

	capturedAt := d.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = g.now()
	}

	reading, err := g.readings.InsertReading(ctx, ontology.NewReading{
		SiteID:        d.Site.ID,
		SubmitterID:   user.ID,
		SubmitterName: user.DisplayName(),
		WaterLevel:    level,
		PhotoURL:      d.uploaded.url,
		Location:      *d.Location,
		Status:        ontology.StatusPending,
		Timestamp:     capturedAt.UTC(),
	})
	if err != nil {
		g.logger.Warn("reading insert failed, photo left in storage",
			"photo_key", d.uploaded.key, "site", d.Site.ID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}

	g.logger.Info("reading submitted",
		"reading", reading.ID, "site", reading.SiteID, "submitter", reading.SubmitterID, "water_level", reading.WaterLevel)
	return reading, nil
}

func (g *Gateway) upload(ctx context.Context, userID string, photo *Photo) (*uploadedPhoto, error) {
	key := fmt.Sprintf("%s/%d-%s.%s", userID, g.now().UnixMilli(), g.newID(), photo.Extension())

	if err := g.blobs.Upload(ctx, key, photo.ContentType, photo.Data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	url, err := g.blobs.PublicURL(ctx, key)
	if err == nil && url == "" {
		err = errors.New("empty url")
	}
	if err != nil {
		g.logger.Warn("photo url unavailable, photo left in storage", "photo_key", key, "error", err)
		return nil, fmt.Errorf("%w: resolve url for %s: %w", ErrUploadFailed, key, err)
	}

	return &uploadedPhoto{key: key, url: url, ownerID: userID}, nil
}
