package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/nats-io/nats.go"
)

var (
	ErrPhotoTooLarge = errors.New("photo too large")
	ErrNotAnImage    = errors.New("photo is not an image")
)

// PhotoService stores gauge photos in a JetStream object store bucket and
// serves them back under PublicBaseURL/photos/<key>.
type PhotoService struct {
	store    nats.ObjectStore
	baseURL  string
	maxBytes int64
	logger   *slog.Logger
}

func NewPhotoService(store nats.ObjectStore, publicBaseURL string, maxBytes int64, logger *slog.Logger) *PhotoService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PhotoService{
		store:    store,
		baseURL:  strings.TrimRight(publicBaseURL, "/"),
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// MaxBytes is the largest accepted photo.
func (s *PhotoService) MaxBytes() int64 {
	return s.maxBytes
}

func (s *PhotoService) Upload(ctx context.Context, key, contentType string, data []byte) error {
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return fmt.Errorf("%w: %q", ErrNotAnImage, contentType)
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPhotoTooLarge, len(data), s.maxBytes)
	}

	meta := &nats.ObjectMeta{
		Name:    key,
		Headers: nats.Header{"Content-Type": []string{contentType}},
	}
	info, err := s.store.Put(meta, bytes.NewReader(data), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to store photo %s: %w", key, err)
	}

	s.logger.Debug("photo stored", "key", key, "bytes", info.Size)
	return nil
}

// PublicURL returns the URL of a stored photo.
func (s *PhotoService) PublicURL(ctx context.Context, key string) (string, error) {
	if _, err := s.store.GetInfo(key, nats.Context(ctx)); err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return "", fmt.Errorf("photo %s: %w", key, ErrNotFound)
		}
		return "", fmt.Errorf("failed to look up photo %s: %w", key, err)
	}
	return s.baseURL + "/photos/" + escapeKey(key), nil
}

// Photo is a stored photo opened for reading.
type Photo struct {
	io.ReadCloser
	ContentType string
	Size        uint64
}

func (s *PhotoService) Open(ctx context.Context, key string) (*Photo, error) {
	res, err := s.store.Get(key, nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return nil, fmt.Errorf("photo %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open photo %s: %w", key, err)
	}

	info, err := res.Info()
	if err != nil {
		res.Close()
		return nil, fmt.Errorf("failed to read photo info %s: %w", key, err)
	}

	ct := "application/octet-stream"
	if info.Headers != nil {
		if v := info.Headers.Get("Content-Type"); v != "" {
			ct = v
		}
	}
	return &Photo{ReadCloser: res, ContentType: ct, Size: info.Size}, nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
