package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	embeddednats "github.com/Shadan1221/jal-rakshak/pkg/services/embedded-nats"
	"github.com/Shadan1221/jal-rakshak/pkg/shared"
)

type Manager struct {
	workers []Worker
	nats    *embeddednats.EmbeddedNATS
	logger  *slog.Logger
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewManager wires the feed workers that forward reading and site events to sink.
func NewManager(natsClient *embeddednats.EmbeddedNATS, sink Sink, logger *slog.Logger) (*Manager, error) {
	if natsClient.Connection() == nil {
		return nil, fmt.Errorf("NATS connection not initialized")
	}

	js := natsClient.JetStream()
	if js == nil {
		return nil, fmt.Errorf("JetStream not initialized")
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		nats:   natsClient,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		workers: []Worker{
			NewReadingFeedWorker(js, sink, logger),
			NewSiteFeedWorker(js, sink, logger),
		},
	}, nil
}

// Start declares the durable consumers and runs every worker in its own goroutine.
func (m *Manager) Start() error {
	consumers := []struct{ stream, consumer, subject string }{
		{shared.StreamReadings, shared.ConsumerReadingFeed, shared.SubjectReadingsAll},
		{shared.StreamSites, shared.ConsumerSiteFeed, shared.SubjectSitesAll},
	}
	for _, c := range consumers {
		if err := m.nats.CreateDurableConsumer(c.stream, c.consumer, c.subject); err != nil {
			return err
		}
	}

	for _, worker := range m.workers {
		m.wg.Add(1)
		go func(w Worker) {
			defer m.wg.Done()

			if err := w.Start(m.ctx); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Error("worker failed", "worker", w.Name(), "error", err)
			}
			m.logger.Debug("worker stopped", "worker", w.Name())
		}(worker)
	}

	m.logger.Info("started workers", "count", len(m.workers))
	return nil
}

func (m *Manager) Stop() error {
	m.cancel()

	var errs []error
	for _, worker := range m.workers {
		if err := worker.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", worker.Name(), err))
		}
	}

	m.wg.Wait()
	m.logger.Info("all workers stopped")
	return errors.Join(errs...)
}
