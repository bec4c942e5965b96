package services

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Shadan1221/jal-rakshak/db"
	"github.com/Shadan1221/jal-rakshak/pkg/shared"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type publishedEvent struct {
	subject string
	msgID   string
	event   shared.Event
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) PublishWithDedup(subject string, data []byte, msgID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	var ev shared.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	p.events = append(p.events, publishedEvent{subject: subject, msgID: msgID, event: ev})
	return nil
}

func (p *recordingPublisher) all() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedEvent(nil), p.events...)
}

func openTestDB(t *testing.T) *db.Service {
	t.Helper()
	cfg := db.DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "jal.db")
	cfg.Logger = testLogger

	svc, err := db.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var bgctx = context.Background()
