package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Shadan1221/jal-rakshak/pkg/ontology"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fixResult struct {
	coord ontology.Coordinate
	err   error
}

type pendingFix struct {
	reply chan fixResult
}

func (f *pendingFix) resolve(c ontology.Coordinate) {
	f.reply <- fixResult{coord: c}
}

func (f *pendingFix) fail(err error) {
	f.reply <- fixResult{err: err}
}

// manualLocator hands every request to the test, which answers it whenever
// it likes. Answers ignore cancellation to model a late device callback.
type manualLocator struct {
	calls chan *pendingFix
}

func newManualLocator() *manualLocator {
	return &manualLocator{calls: make(chan *pendingFix)}
}

func (l *manualLocator) CurrentPosition(ctx context.Context) (ontology.Coordinate, error) {
	pf := &pendingFix{reply: make(chan fixResult, 1)}
	l.calls <- pf
	r := <-pf.reply
	return r.coord, r.err
}

type fakeSites struct {
	sites []ontology.MonitoringSite
	err   error
}

func (s *fakeSites) ListSites(context.Context) ([]ontology.MonitoringSite, error) {
	if s.err != nil {
		return nil, s.err
	}
	return append([]ontology.MonitoringSite(nil), s.sites...), nil
}

type fakeIdentity struct {
	user *ontology.Identity
	err  error
}

func (f *fakeIdentity) CurrentUser(context.Context) (*ontology.Identity, error) {
	return f.user, f.err
}

type fakeBlobs struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploads   []string
	uploadErr error
	urlErr    error
	urlCalls  int
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}}
}

func (b *fakeBlobs) Upload(_ context.Context, key, contentType string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.uploadErr != nil {
		return b.uploadErr
	}
	b.uploads = append(b.uploads, key)
	b.objects[key] = data
	return nil
}

func (b *fakeBlobs) PublicURL(_ context.Context, key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.urlCalls++
	if b.urlErr != nil {
		return "", b.urlErr
	}
	return "https://photos.example/" + key, nil
}

func (b *fakeBlobs) uploadCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.uploads)
}

type fakeReadings struct {
	mu       sync.Mutex
	failures int
	inserted []ontology.Reading
	attempts int
}

var errDiskFull = errors.New("disk full")

func (r *fakeReadings) InsertReading(_ context.Context, nr ontology.NewReading) (*ontology.Reading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
	if r.failures > 0 {
		r.failures--
		return nil, errDiskFull
	}
	reading := ontology.Reading{
		ID:            fmt.Sprintf("reading-%d", len(r.inserted)+1),
		SiteID:        nr.SiteID,
		SubmitterID:   nr.SubmitterID,
		SubmitterName: nr.SubmitterName,
		WaterLevel:    nr.WaterLevel,
		PhotoURL:      nr.PhotoURL,
		Latitude:      nr.Location.Latitude,
		Longitude:     nr.Location.Longitude,
		Status:        nr.Status,
		CreatedAt:     time.Now().UTC(),
		Timestamp:     nr.Timestamp,
	}
	r.inserted = append(r.inserted, reading)
	return &reading, nil
}

func (r *fakeReadings) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inserted)
}

// blockingSubmitter holds a submission until released.
type blockingSubmitter struct {
	started chan struct{}
	release chan struct{}
	reading *ontology.Reading
}

func (s *blockingSubmitter) Submit(ctx context.Context, d *Draft) (*ontology.Reading, error) {
	close(s.started)
	<-s.release
	return s.reading, nil
}
