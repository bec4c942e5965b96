// Package capture drives a single reading capture session: location
// verification against monitoring sites, gauge photo capture, water level
// entry and submission.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/Shadan1221/jal-rakshak/pkg/geo"
	"github.com/Shadan1221/jal-rakshak/pkg/ontology"
)

// Submitter persists a completed draft. *Gateway is the production implementation.
type Submitter interface {
	Submit(ctx context.Context, d *Draft) (*ontology.Reading, error)
}

// Snapshot is a consistent view of the pipeline state.
type Snapshot struct {
	Phase      Phase                `json:"phase"`
	Locating   bool                 `json:"locating"`
	Submitting bool                 `json:"submitting"`
	Location   *ontology.Coordinate `json:"location,omitempty"`
	Verdict    *geo.Verdict         `json:"verdict,omitempty"`
	SiteCount  int                  `json:"site_count"`
	HasPhoto   bool                 `json:"has_photo"`
	WaterLevel string               `json:"water_level,omitempty"`
	Err        error                `json:"-"`
}

// CanConfirmLocation reports whether the Location to Photo transition is available.
func (s Snapshot) CanConfirmLocation() bool {
	return s.Phase == PhaseLocation && !s.Locating && s.Verdict != nil && s.Verdict.WithinFence
}

// Pipeline is the state machine of one capture session at a time.
//
// Location fixes, the site list fetch and submissions run asynchronously.
// Their results are applied only while the session that started them is
// still open, and for location only if no newer fix was requested since.
type Pipeline struct {
	locator   Locator
	sites     SiteRepository
	submitter Submitter
	logger    *slog.Logger
	now       func() time.Time

	mu           sync.Mutex
	generation   uint64
	fixSeq       uint64
	sessionCtx   context.Context
	cancel       context.CancelFunc
	phase        Phase
	locating     bool
	loadingSites bool
	submitting   bool
	siteList     []ontology.MonitoringSite
	sitesLoaded  bool
	sitesErr     error
	verdict      *geo.Verdict
	draft        Draft
	err          error
	changed      chan struct{}

	background sync.WaitGroup
}

func NewPipeline(locator Locator, sites SiteRepository, submitter Submitter, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		locator:   locator,
		sites:     sites,
		submitter: submitter,
		logger:    logger,
		now:       time.Now,
		changed:   make(chan struct{}),
	}
}

// Open starts a session in the Location phase. It fetches the site list once
// for the session and requests a fresh location fix; both complete in the
// background.
func (p *Pipeline) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.phase != PhaseIdle {
		return ErrSessionOpen
	}

	p.generation++
	p.sessionCtx, p.cancel = context.WithCancel(ctx)
	p.resetLocked()
	p.phase = PhaseLocation
	p.draft.Phase = PhaseLocation
	p.requestSitesLocked()
	p.requestFixLocked()
	p.notifyLocked()

	p.logger.Debug("capture session opened", "session", p.generation)
	return nil
}

// Relocate requests a new location fix. The newest fix always wins. A site
// list that failed to load is fetched again.
func (p *Pipeline) Relocate() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.phase != PhaseLocation {
		return ErrWrongPhase
	}
	if !p.sitesLoaded && !p.loadingSites {
		p.requestSitesLocked()
	}
	p.requestFixLocked()
	p.notifyLocked()
	return nil
}

// ConfirmLocation advances from Location to Photo. It is refused while a fix
// is pending or when the latest verdict is outside every fence.
func (p *Pipeline) ConfirmLocation() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.phase != PhaseLocation {
		return ErrWrongPhase
	}
	if p.locating || p.loadingSites {
		return ErrLocationPending
	}
	if p.verdict == nil {
		if p.err != nil {
			return p.err
		}
		if p.sitesErr != nil {
			return p.sitesErr
		}
		return ErrLocationPending
	}
	if !p.verdict.HasSite() {
		return ErrNoSites
	}
	if !p.verdict.WithinFence {
		return fmt.Errorf("%w: %.0fm from %s, must be within %.0fm",
			ErrNotAdmitted, p.verdict.DistanceMeters, p.verdict.NearestSite.Name, p.verdict.NearestSite.Radius)
	}

	p.setPhaseLocked(PhasePhoto)
	return nil
}

// CapturePhoto stores the gauge photo, replacing any earlier one.
func (p *Pipeline) CapturePhoto(photo Photo) error {
	if err := photo.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.phase != PhasePhoto {
		return ErrWrongPhase
	}

	if up := p.draft.uploaded; up != nil {
		p.logger.Warn("photo retaken, previous upload left in storage", "photo_key", up.key)
		p.draft.uploaded = nil
	}
	p.draft.Photo = &photo
	p.draft.CapturedAt = p.now()
	p.err = nil
	p.notifyLocked()
	return nil
}

// ConfirmPhoto advances from Photo to Value once a photo is held.
func (p *Pipeline) ConfirmPhoto() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.phase != PhasePhoto {
		return ErrWrongPhase
	}
	if p.draft.Photo == nil {
		return ErrNoPhoto
	}
	p.setPhaseLocked(PhaseValue)
	return nil
}

// SetWaterLevel records the gauge value as entered. It is parsed on submit.
func (p *Pipeline) SetWaterLevel(value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.phase != PhaseValue {
		return ErrWrongPhase
	}
	if p.submitting {
		return ErrSubmitting
	}
	p.draft.WaterLevel = value
	p.notifyLocked()
	return nil
}

// Back steps one phase backwards without discarding captured data. Going
// back to Location requests a fresh fix.
func (p *Pipeline) Back() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.phase {
	case PhaseValue:
		if p.submitting {
			return ErrSubmitting
		}
		p.setPhaseLocked(PhasePhoto)
	case PhasePhoto:
		p.phase = PhaseLocation
		p.draft.Phase = PhaseLocation
		p.requestFixLocked()
		p.notifyLocked()
	default:
		return ErrWrongPhase
	}
	return nil
}

// CanSubmit reports whether Submit would be attempted.
func (p *Pipeline) CanSubmit() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.phase == PhaseValue && !p.submitting && p.draft.Validate() == nil
}

// Submit sends the draft through the submitter. Missing preconditions fail
// with ErrIncompleteDraft before anything is sent. On success the session
// closes; on failure it stays in Value with the draft intact for a retry.
// If the session was closed while the submission was in flight the reading,
// when one was created, is returned together with ErrSessionClosed.
func (p *Pipeline) Submit(ctx context.Context) (*ontology.Reading, error) {
	p.mu.Lock()
	if p.phase != PhaseValue {
		p.mu.Unlock()
		return nil, ErrWrongPhase
	}
	if p.submitting {
		p.mu.Unlock()
		return nil, ErrSubmitting
	}
	if err := p.draft.Validate(); err != nil {
		p.mu.Unlock()
		return nil, err
	}

	gen := p.generation
	sessionCtx := p.sessionCtx
	draft := p.draft
	p.submitting = true
	p.err = nil
	p.notifyLocked()
	p.mu.Unlock()

	submitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(sessionCtx, cancel)
	defer stop()

	reading, err := p.submitter.Submit(submitCtx, &draft)

	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.generation {
		if reading != nil {
			p.logger.Warn("reading persisted after capture session closed", "reading", reading.ID)
		}
		return reading, ErrSessionClosed
	}

	p.submitting = false
	if err != nil {
		p.draft.uploaded = draft.uploaded
		p.err = err
		p.notifyLocked()
		return nil, err
	}

	p.closeLocked()
	return reading, nil
}

// Close discards the session and its draft. Outstanding work is cancelled
// and its results are ignored.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.phase == PhaseIdle {
		return
	}
	p.closeLocked()
	p.logger.Debug("capture session closed")
}

// Snapshot returns the current state.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Changed returns a channel that is closed on the next state change.
func (p *Pipeline) Changed() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.changed
}

// Wait blocks until location verification has settled or ctx is done.
func (p *Pipeline) Wait(ctx context.Context) (Snapshot, error) {
	for {
		p.mu.Lock()
		if !p.locating && !p.loadingSites {
			s := p.snapshotLocked()
			p.mu.Unlock()
			return s, nil
		}
		ch := p.changed
		p.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return p.Snapshot(), ctx.Err()
		}
	}
}

func (p *Pipeline) requestFixLocked() {
	p.fixSeq++
	p.locating = true
	p.err = nil

	gen, seq, ctx := p.generation, p.fixSeq, p.sessionCtx
	p.background.Add(1)
	go func() {
		defer p.background.Done()
		p.locate(ctx, gen, seq)
	}()
}

func (p *Pipeline) requestSitesLocked() {
	p.loadingSites = true
	p.sitesErr = nil

	gen, ctx := p.generation, p.sessionCtx
	p.background.Add(1)
	go func() {
		defer p.background.Done()
		p.loadSites(ctx, gen)
	}()
}

func (p *Pipeline) locate(ctx context.Context, gen, seq uint64) {
	coord, err := p.locator.CurrentPosition(ctx)
	if err == nil {
		err = coord.Validate()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.generation || seq != p.fixSeq {
		p.logger.Debug("dropping stale location fix", "session", gen, "fix", seq)
		return
	}

	p.locating = false
	if err != nil {
		p.err = fmt.Errorf("acquire location: %w", err)
		p.logger.Warn("location acquisition failed", "error", err)
	} else {
		p.draft.Location = &coord
		p.evaluateLocked()
	}
	p.notifyLocked()
}

func (p *Pipeline) loadSites(ctx context.Context, gen uint64) {
	sites, err := p.sites.ListSites(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.generation {
		return
	}

	p.loadingSites = false
	if err != nil {
		p.sitesErr = fmt.Errorf("load monitoring sites: %w", err)
		p.logger.Warn("site list fetch failed", "error", err)
	} else {
		p.siteList = sites
		p.sitesLoaded = true
		p.evaluateLocked()
	}
	p.notifyLocked()
}

// evaluateLocked recomputes the verdict from the latest fix and site list.
func (p *Pipeline) evaluateLocked() {
	if !p.sitesLoaded || p.draft.Location == nil {
		return
	}

	v := geo.Resolve(*p.draft.Location, p.siteList)
	p.verdict = &v
	p.draft.Site = v.NearestSite

	switch {
	case !v.HasSite():
		p.logger.Warn("no monitoring sites to verify against")
	case v.WithinFence:
		p.logger.Info("location verified", "site", v.NearestSite.ID, "distance_m", math.Round(v.DistanceMeters))
	default:
		p.logger.Info("location outside geofence",
			"site", v.NearestSite.ID, "distance_m", math.Round(v.DistanceMeters), "radius_m", v.NearestSite.Radius)
	}
}

func (p *Pipeline) setPhaseLocked(phase Phase) {
	p.phase = phase
	p.draft.Phase = phase
	p.notifyLocked()
}

func (p *Pipeline) closeLocked() {
	p.generation++
	if p.cancel != nil {
		p.cancel()
	}
	p.resetLocked()
	p.notifyLocked()
}

func (p *Pipeline) resetLocked() {
	p.phase = PhaseIdle
	p.locating = false
	p.loadingSites = false
	p.submitting = false
	p.siteList = nil
	p.sitesLoaded = false
	p.sitesErr = nil
	p.verdict = nil
	p.draft = Draft{}
	p.err = nil
}

func (p *Pipeline) notifyLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}

func (p *Pipeline) snapshotLocked() Snapshot {
	s := Snapshot{
		Phase:      p.phase,
		Locating:   p.locating || p.loadingSites,
		Submitting: p.submitting,
		SiteCount:  len(p.siteList),
		HasPhoto:   p.draft.Photo != nil,
		WaterLevel: p.draft.WaterLevel,
		Err:        p.err,
	}
	if s.Err == nil {
		s.Err = p.sitesErr
	}
	if p.draft.Location != nil {
		loc := *p.draft.Location
		s.Location = &loc
	}
	if p.verdict != nil {
		v := *p.verdict
		s.Verdict = &v
	}
	return s
}
