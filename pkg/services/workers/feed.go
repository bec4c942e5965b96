package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/Shadan1221/jal-rakshak/pkg/shared"
)

// Sink receives decoded change notifications.
type Sink interface {
	Deliver(ev shared.Event)
}

// FeedWorker forwards every event on its stream to a Sink.
type FeedWorker struct {
	*BaseWorker
	sink Sink
}

func NewReadingFeedWorker(js nats.JetStreamContext, sink Sink, logger *slog.Logger) *FeedWorker {
	return &FeedWorker{
		BaseWorker: NewBaseWorker("ReadingFeedWorker", js,
			shared.StreamReadings, shared.ConsumerReadingFeed, shared.SubjectReadingsAll, logger),
		sink: sink,
	}
}

func NewSiteFeedWorker(js nats.JetStreamContext, sink Sink, logger *slog.Logger) *FeedWorker {
	return &FeedWorker{
		BaseWorker: NewBaseWorker("SiteFeedWorker", js,
			shared.StreamSites, shared.ConsumerSiteFeed, shared.SubjectSitesAll, logger),
		sink: sink,
	}
}

func (w *FeedWorker) Start(ctx context.Context) error {
	return w.processMessages(ctx, w.handle)
}

func (w *FeedWorker) handle(msg *nats.Msg) error {
	var ev shared.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		// redelivery cannot fix a malformed payload
		w.logger.Warn("dropping malformed event", "subject", msg.Subject, "error", err)
		return nil
	}
	if ev.Subject == "" {
		ev.Subject = msg.Subject
	}
	if ev.Type == "" {
		return fmt.Errorf("event %s has no type", ev.ID)
	}

	w.logger.Debug("event received", "type", ev.Type, "subject", ev.Subject)
	w.sink.Deliver(ev)
	return nil
}
