package capture

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shadan1221/jal-rakshak/pkg/geo"
	"github.com/Shadan1221/jal-rakshak/pkg/ontology"
)

var gaugeCenter = ontology.Coordinate{Latitude: 25.5941, Longitude: 85.1376}

func north(c ontology.Coordinate, meters float64) ontology.Coordinate {
	return ontology.Coordinate{
		Latitude:  c.Latitude + meters/(geo.EarthRadiusMeters*math.Pi/180),
		Longitude: c.Longitude,
	}
}

func testSites() *fakeSites {
	return &fakeSites{sites: []ontology.MonitoringSite{
		{ID: "site-a", Name: "Gandhi Ghat", Location: gaugeCenter, Radius: 100},
		{ID: "site-b", Name: "Digha Ghat", Location: north(gaugeCenter, 5000), Radius: 150},
	}}
}

func jpeg() Photo {
	return Photo{Name: "gauge.JPG", ContentType: "image/jpeg", Data: []byte{0xff, 0xd8, 0xff, 0xe0}}
}

type harness struct {
	pipeline *Pipeline
	blobs    *fakeBlobs
	readings *fakeReadings
	identity *fakeIdentity
}

func newHarness(locator Locator, sites SiteRepository) *harness {
	h := &harness{
		blobs:    newFakeBlobs(),
		readings: &fakeReadings{},
		identity: &fakeIdentity{user: &ontology.Identity{ID: "user-1", Email: "ravi.kumar@cwc.gov.in", Role: ontology.RoleField}},
	}
	gw := NewGateway(h.identity, h.blobs, h.readings, testLogger)
	h.pipeline = NewPipeline(locator, sites, gw, testLogger)
	return h
}

func waitSettled(t *testing.T, p *Pipeline) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := p.Wait(ctx)
	require.NoError(t, err)
	return s
}

// advanceToValue runs an admitted session up to the Value phase.
func advanceToValue(t *testing.T, p *Pipeline) {
	t.Helper()
	require.NoError(t, p.Open(context.Background()))
	waitSettled(t, p)
	require.NoError(t, p.ConfirmLocation())
	require.NoError(t, p.CapturePhoto(jpeg()))
	require.NoError(t, p.ConfirmPhoto())
}

func TestPipeline_SubmitsAdmittedReading(t *testing.T) {
	here := north(gaugeCenter, 40)
	h := newHarness(FixedLocator{Position: here}, testSites())
	p := h.pipeline

	require.NoError(t, p.Open(context.Background()))
	s := waitSettled(t, p)
	assert.Equal(t, PhaseLocation, s.Phase)
	require.NotNil(t, s.Verdict)
	assert.Equal(t, "site-a", s.Verdict.NearestSite.ID)
	assert.True(t, s.CanConfirmLocation())

	require.NoError(t, p.ConfirmLocation())
	require.NoError(t, p.CapturePhoto(jpeg()))
	require.NoError(t, p.ConfirmPhoto())
	require.NoError(t, p.SetWaterLevel(" 2.45 "))
	assert.True(t, p.CanSubmit())

	reading, err := p.Submit(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "site-a", reading.SiteID)
	assert.Equal(t, "user-1", reading.SubmitterID)
	assert.Equal(t, "ravi.kumar", reading.SubmitterName)
	assert.Equal(t, 2.45, reading.WaterLevel)
	assert.Equal(t, ontology.StatusPending, reading.Status)
	assert.Equal(t, here.Latitude, reading.Latitude)
	assert.Equal(t, here.Longitude, reading.Longitude)

	require.Len(t, h.blobs.uploads, 1)
	key := h.blobs.uploads[0]
	assert.Regexp(t, `^user-1/\d+\.jpg$`, key)
	assert.Equal(t, "https://photos.example/"+key, reading.PhotoURL)

	after := p.Snapshot()
	assert.Equal(t, PhaseIdle, after.Phase)
	assert.Nil(t, after.Location)
	assert.False(t, after.HasPhoto)
}

func TestPipeline_RefusesPhotoPhaseOutsideFence(t *testing.T) {
	h := newHarness(FixedLocator{Position: north(gaugeCenter, 500)}, testSites())
	p := h.pipeline

	require.NoError(t, p.Open(context.Background()))
	s := waitSettled(t, p)
	require.NotNil(t, s.Verdict)
	assert.False(t, s.Verdict.WithinFence)
	assert.InDelta(t, 400, s.Verdict.Shortfall(), 0.5)
	assert.False(t, s.CanConfirmLocation())

	err := p.ConfirmLocation()
	assert.ErrorIs(t, err, ErrNotAdmitted)
	assert.Contains(t, err.Error(), "Gandhi Ghat")
	assert.Equal(t, PhaseLocation, p.Snapshot().Phase)

	assert.ErrorIs(t, p.CapturePhoto(jpeg()), ErrWrongPhase)
	assert.Zero(t, h.blobs.uploadCount())
}

func TestPipeline_RefusesPhotoPhaseWhileLocating(t *testing.T) {
	loc := newManualLocator()
	h := newHarness(loc, testSites())
	p := h.pipeline

	require.NoError(t, p.Open(context.Background()))
	fix := <-loc.calls

	assert.True(t, p.Snapshot().Locating)
	assert.ErrorIs(t, p.ConfirmLocation(), ErrLocationPending)

	fix.resolve(gaugeCenter)
	waitSettled(t, p)
	assert.NoError(t, p.ConfirmLocation())
}

func TestPipeline_NoSitesBlocksProgress(t *testing.T) {
	h := newHarness(FixedLocator{Position: gaugeCenter}, &fakeSites{})
	p := h.pipeline

	require.NoError(t, p.Open(context.Background()))
	s := waitSettled(t, p)
	require.NotNil(t, s.Verdict)
	assert.False(t, s.Verdict.HasSite())

	assert.ErrorIs(t, p.ConfirmLocation(), ErrNoSites)
	assert.Equal(t, PhaseLocation, p.Snapshot().Phase)
}

func TestPipeline_AcquisitionErrorsKeepPhase(t *testing.T) {
	t.Run("location denied", func(t *testing.T) {
		h := newHarness(DeniedLocator{}, testSites())
		p := h.pipeline

		require.NoError(t, p.Open(context.Background()))
		s := waitSettled(t, p)

		assert.Equal(t, PhaseLocation, s.Phase)
		assert.ErrorIs(t, s.Err, ErrPermissionDenied)
		assert.ErrorIs(t, p.ConfirmLocation(), ErrPermissionDenied)
	})

	t.Run("site list unavailable", func(t *testing.T) {
		h := newHarness(FixedLocator{Position: gaugeCenter}, &fakeSites{err: assert.AnError})
		p := h.pipeline

		require.NoError(t, p.Open(context.Background()))
		s := waitSettled(t, p)

		assert.Equal(t, PhaseLocation, s.Phase)
		assert.ErrorIs(t, s.Err, assert.AnError)
		assert.Nil(t, s.Verdict)
		assert.Error(t, p.ConfirmLocation())
	})
}

func TestPipeline_RelocateRetriesFailedSiteList(t *testing.T) {
	sites := testSites()
	sites.err = assert.AnError
	h := newHarness(FixedLocator{Position: north(gaugeCenter, 20)}, sites)
	p := h.pipeline

	require.NoError(t, p.Open(context.Background()))
	s := waitSettled(t, p)
	require.ErrorIs(t, s.Err, assert.AnError)

	// still failing: the error stays visible after a new fix
	require.NoError(t, p.Relocate())
	s = waitSettled(t, p)
	assert.Equal(t, PhaseLocation, s.Phase)
	assert.False(t, s.Locating)
	assert.Nil(t, s.Verdict)
	assert.ErrorIs(t, s.Err, assert.AnError)
	assert.ErrorIs(t, p.ConfirmLocation(), assert.AnError)

	sites.err = nil
	require.NoError(t, p.Relocate())
	s = waitSettled(t, p)
	assert.NoError(t, s.Err)
	assert.Equal(t, 2, s.SiteCount)
	require.NotNil(t, s.Verdict)
	assert.True(t, s.Verdict.WithinFence)
	assert.NoError(t, p.ConfirmLocation())
}

func TestPipeline_RelocateRecoversFromOutsideFence(t *testing.T) {
	loc := newManualLocator()
	h := newHarness(loc, testSites())
	p := h.pipeline

	require.NoError(t, p.Open(context.Background()))
	(<-loc.calls).resolve(north(gaugeCenter, 300))
	waitSettled(t, p)
	assert.ErrorIs(t, p.ConfirmLocation(), ErrNotAdmitted)

	require.NoError(t, p.Relocate())
	(<-loc.calls).resolve(north(gaugeCenter, 20))
	s := waitSettled(t, p)

	assert.True(t, s.Verdict.WithinFence)
	assert.NoError(t, p.ConfirmLocation())
}

func TestPipeline_NewestFixWins(t *testing.T) {
	loc := newManualLocator()
	h := newHarness(loc, testSites())
	p := h.pipeline

	require.NoError(t, p.Open(context.Background()))
	older := <-loc.calls
	require.NoError(t, p.Relocate())
	newer := <-loc.calls

	inside := north(gaugeCenter, 10)
	newer.resolve(inside)
	older.resolve(north(gaugeCenter, 900))
	p.background.Wait()

	s := p.Snapshot()
	require.NotNil(t, s.Location)
	assert.Equal(t, inside, *s.Location)
	assert.True(t, s.Verdict.WithinFence)
}

func TestPipeline_LateFixAfterCloseIsIgnored(t *testing.T) {
	loc := newManualLocator()
	h := newHarness(loc, testSites())
	p := h.pipeline

	require.NoError(t, p.Open(context.Background()))
	fix := <-loc.calls

	p.Close()
	fix.resolve(gaugeCenter)
	p.background.Wait()

	s := p.Snapshot()
	assert.Equal(t, PhaseIdle, s.Phase)
	assert.Nil(t, s.Location)
	assert.Nil(t, s.Verdict)
	assert.False(t, s.Locating)
}

func TestPipeline_LateFixDoesNotLeakIntoReopenedSession(t *testing.T) {
	loc := newManualLocator()
	h := newHarness(loc, testSites())
	p := h.pipeline

	require.NoError(t, p.Open(context.Background()))
	stale := <-loc.calls
	p.Close()

	require.NoError(t, p.Open(context.Background()))
	current := <-loc.calls

	far := north(gaugeCenter, 2000)
	current.resolve(far)
	stale.resolve(gaugeCenter)
	p.background.Wait()

	s := p.Snapshot()
	assert.Equal(t, PhaseLocation, s.Phase)
	require.NotNil(t, s.Location)
	assert.Equal(t, far, *s.Location)
	assert.False(t, s.Verdict.WithinFence)
}

func TestPipeline_OpenTwice(t *testing.T) {
	h := newHarness(FixedLocator{Position: gaugeCenter}, testSites())
	p := h.pipeline

	require.NoError(t, p.Open(context.Background()))
	assert.ErrorIs(t, p.Open(context.Background()), ErrSessionOpen)

	p.Close()
	require.NoError(t, p.Open(context.Background()))
	s := waitSettled(t, p)
	assert.Equal(t, PhaseLocation, s.Phase)
	assert.False(t, s.HasPhoto)
}

func TestPipeline_ReopenStartsFresh(t *testing.T) {
	loc := newManualLocator()
	h := newHarness(loc, testSites())
	p := h.pipeline

	require.NoError(t, p.Open(context.Background()))
	(<-loc.calls).resolve(gaugeCenter)
	waitSettled(t, p)
	require.NoError(t, p.ConfirmLocation())
	require.NoError(t, p.CapturePhoto(jpeg()))
	p.Close()

	require.NoError(t, p.Open(context.Background()))
	s := p.Snapshot()
	assert.Equal(t, PhaseLocation, s.Phase)
	assert.True(t, s.Locating)
	assert.Nil(t, s.Location)
	assert.False(t, s.HasPhoto)

	(<-loc.calls).resolve(gaugeCenter)
	waitSettled(t, p)
}

func TestPipeline_PhotoPhaseRules(t *testing.T) {
	h := newHarness(FixedLocator{Position: gaugeCenter}, testSites())
	p := h.pipeline

	require.NoError(t, p.Open(context.Background()))
	waitSettled(t, p)
	require.NoError(t, p.ConfirmLocation())

	assert.ErrorIs(t, p.ConfirmPhoto(), ErrNoPhoto)
	assert.ErrorIs(t, p.CapturePhoto(Photo{Name: "notes.txt", ContentType: "text/plain", Data: []byte("x")}), ErrInvalidPhoto)
	assert.ErrorIs(t, p.CapturePhoto(Photo{Name: "empty.jpg", ContentType: "image/jpeg"}), ErrInvalidPhoto)

	require.NoError(t, p.CapturePhoto(jpeg()))
	retake := Photo{Name: "retake.png", ContentType: "image/png", Data: []byte{0x89, 0x50}}
	require.NoError(t, p.CapturePhoto(retake))
	assert.Equal(t, PhasePhoto, p.Snapshot().Phase)

	require.NoError(t, p.ConfirmPhoto())
	require.NoError(t, p.SetWaterLevel("1.8"))
	_, err := p.Submit(context.Background())
	require.NoError(t, err)

	require.Len(t, h.blobs.uploads, 1)
	assert.Regexp(t, `\.png$`, h.blobs.uploads[0])
	assert.Equal(t, retake.Data, h.blobs.objects[h.blobs.uploads[0]])
}

func TestPipeline_BackNavigation(t *testing.T) {
	loc := newManualLocator()
	h := newHarness(loc, testSites())
	p := h.pipeline

	require.NoError(t, p.Open(context.Background()))
	(<-loc.calls).resolve(gaugeCenter)
	waitSettled(t, p)
	assert.ErrorIs(t, p.Back(), ErrWrongPhase)

	require.NoError(t, p.ConfirmLocation())
	require.NoError(t, p.CapturePhoto(jpeg()))
	require.NoError(t, p.ConfirmPhoto())
	require.NoError(t, p.SetWaterLevel("3.1"))

	require.NoError(t, p.Back())
	s := p.Snapshot()
	assert.Equal(t, PhasePhoto, s.Phase)
	assert.True(t, s.HasPhoto)
	assert.Equal(t, "3.1", s.WaterLevel)

	require.NoError(t, p.Back())
	assert.Equal(t, PhaseLocation, p.Snapshot().Phase)
	assert.ErrorIs(t, p.ConfirmLocation(), ErrLocationPending)
	(<-loc.calls).resolve(north(gaugeCenter, 15))
	waitSettled(t, p)

	require.NoError(t, p.ConfirmLocation())
	require.NoError(t, p.ConfirmPhoto())
	assert.Equal(t, "3.1", p.Snapshot().WaterLevel)
	assert.True(t, p.CanSubmit())
}

func TestPipeline_SubmitWithoutWaterLevelHasNoSideEffects(t *testing.T) {
	for _, level := range []string{"", "   ", "two metres", "NaN"} {
		h := newHarness(FixedLocator{Position: gaugeCenter}, testSites())
		p := h.pipeline
		advanceToValue(t, p)
		require.NoError(t, p.SetWaterLevel(level))

		assert.False(t, p.CanSubmit(), "level %q", level)
		_, err := p.Submit(context.Background())
		assert.ErrorIs(t, err, ErrIncompleteDraft, "level %q", level)

		assert.Zero(t, h.blobs.uploadCount())
		assert.Zero(t, h.blobs.urlCalls)
		assert.Zero(t, h.readings.attempts)
		assert.Equal(t, PhaseValue, p.Snapshot().Phase)
		p.Close()
	}
}

func TestPipeline_FailedSubmissionKeepsDraft(t *testing.T) {
	h := newHarness(FixedLocator{Position: gaugeCenter}, testSites())
	h.blobs.uploadErr = assert.AnError
	p := h.pipeline
	advanceToValue(t, p)
	require.NoError(t, p.SetWaterLevel("2.2"))

	_, err := p.Submit(context.Background())
	assert.ErrorIs(t, err, ErrUploadFailed)

	s := p.Snapshot()
	assert.Equal(t, PhaseValue, s.Phase)
	assert.True(t, s.HasPhoto)
	assert.Equal(t, "2.2", s.WaterLevel)
	assert.ErrorIs(t, s.Err, ErrUploadFailed)
	assert.False(t, s.Submitting)

	h.blobs.uploadErr = nil
	reading, err := p.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2.2, reading.WaterLevel)
}

func TestPipeline_RetryReusesUploadedPhoto(t *testing.T) {
	h := newHarness(FixedLocator{Position: gaugeCenter}, testSites())
	h.readings.failures = 1
	p := h.pipeline
	advanceToValue(t, p)
	require.NoError(t, p.SetWaterLevel("4.05"))

	_, err := p.Submit(context.Background())
	require.ErrorIs(t, err, ErrPersistFailed)
	assert.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, 1, h.blobs.uploadCount())

	reading, err := p.Submit(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, h.blobs.uploadCount())
	assert.Equal(t, 1, h.readings.count())
	assert.Equal(t, "https://photos.example/"+h.blobs.uploads[0], reading.PhotoURL)
}

func TestPipeline_RetakeAfterFailedInsertUploadsAgain(t *testing.T) {
	h := newHarness(FixedLocator{Position: gaugeCenter}, testSites())
	h.readings.failures = 1
	p := h.pipeline
	advanceToValue(t, p)
	require.NoError(t, p.SetWaterLevel("1.0"))

	_, err := p.Submit(context.Background())
	require.ErrorIs(t, err, ErrPersistFailed)

	require.NoError(t, p.Back())
	require.NoError(t, p.CapturePhoto(Photo{Name: "again.webp", ContentType: "image/webp", Data: []byte{1, 2, 3}}))
	require.NoError(t, p.ConfirmPhoto())

	reading, err := p.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, h.blobs.uploadCount())
	assert.Regexp(t, `\.webp$`, reading.PhotoURL)
}

func TestPipeline_UnauthenticatedSubmission(t *testing.T) {
	h := newHarness(FixedLocator{Position: gaugeCenter}, testSites())
	h.identity.user = nil
	p := h.pipeline
	advanceToValue(t, p)
	require.NoError(t, p.SetWaterLevel("2"))

	_, err := p.Submit(context.Background())
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Zero(t, h.blobs.uploadCount())
	assert.Equal(t, PhaseValue, p.Snapshot().Phase)
}

func TestPipeline_CloseDuringSubmission(t *testing.T) {
	sub := &blockingSubmitter{
		started: make(chan struct{}),
		release: make(chan struct{}),
		reading: &ontology.Reading{ID: "late"},
	}
	p := NewPipeline(FixedLocator{Position: gaugeCenter}, testSites(), sub, testLogger)
	advanceToValue(t, p)
	require.NoError(t, p.SetWaterLevel("2.0"))

	type result struct {
		reading *ontology.Reading
		err     error
	}
	done := make(chan result, 1)
	go func() {
		r, err := p.Submit(context.Background())
		done <- result{r, err}
	}()

	<-sub.started
	assert.True(t, p.Snapshot().Submitting)
	_, err := p.Submit(context.Background())
	assert.ErrorIs(t, err, ErrSubmitting)

	p.Close()
	close(sub.release)

	res := <-done
	assert.ErrorIs(t, res.err, ErrSessionClosed)
	require.NotNil(t, res.reading)
	assert.Equal(t, "late", res.reading.ID)

	s := p.Snapshot()
	assert.Equal(t, PhaseIdle, s.Phase)
	assert.False(t, s.Submitting)
}

func TestPipeline_WrongPhaseActions(t *testing.T) {
	h := newHarness(FixedLocator{Position: gaugeCenter}, testSites())
	p := h.pipeline

	assert.ErrorIs(t, p.Relocate(), ErrWrongPhase)
	assert.ErrorIs(t, p.ConfirmLocation(), ErrWrongPhase)
	assert.ErrorIs(t, p.ConfirmPhoto(), ErrWrongPhase)
	assert.ErrorIs(t, p.SetWaterLevel("1"), ErrWrongPhase)
	assert.ErrorIs(t, p.Back(), ErrWrongPhase)
	assert.False(t, p.CanSubmit())
	_, err := p.Submit(context.Background())
	assert.ErrorIs(t, err, ErrWrongPhase)

	p.Close()
	assert.Equal(t, PhaseIdle, p.Snapshot().Phase)
}

func TestPipeline_ChangedSignalsTransitions(t *testing.T) {
	loc := newManualLocator()
	h := newHarness(loc, testSites())
	p := h.pipeline

	ch := p.Changed()
	require.NoError(t, p.Open(context.Background()))
	select {
	case <-ch:
	default:
		t.Fatal("expected change notification on open")
	}

	ch = p.Changed()
	(<-loc.calls).resolve(gaugeCenter)
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("expected change notification on fix")
	}
	waitSettled(t, p)
}
