package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Shadan1221/jal-rakshak/pkg/shared"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidSite       = errors.New("invalid site")
	ErrInvalidReading    = errors.New("invalid reading")
	ErrInvalidStatus     = errors.New("invalid review status")
	ErrInvalidTransition = errors.New("invalid review transition")
)

// EventPublisher is satisfied by *embeddednats.EmbeddedNATS.
type EventPublisher interface {
	PublishWithDedup(subject string, data []byte, msgID string) error
}

// timestamps are stored as fixed-width UTC text so they sort lexically
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

// publish sends a change notification. The write it describes has already
// committed, so failures are logged and not returned.
func publish(nats EventPublisher, logger *slog.Logger, source, subject, eventType, aggregateID string, data map[string]interface{}) {
	if nats == nil {
		return
	}

	event := shared.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Subject:   subject,
		Data:      data,
		Timestamp: time.Now().UTC(),
		Source:    source,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		logger.Error("failed to marshal event", "subject", subject, "error", err)
		return
	}

	msgID := fmt.Sprintf("%s-%s", aggregateID, eventType)
	if err := nats.PublishWithDedup(subject, payload, msgID); err != nil {
		logger.Warn("failed to publish event", "subject", subject, "error", err)
		return
	}
	logger.Debug("published event", "type", eventType, "subject", subject)
}

// toMap flattens a record into the event data map.
func toMap(v interface{}) map[string]interface{} {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]interface{}
	_ = json.Unmarshal(raw, &m)
	return m
}
