package capture

import "errors"

// Location acquisition.
var (
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrPositionUnavailable = errors.New("location unavailable")
)

// Phase gating.
var (
	ErrSessionOpen     = errors.New("capture session already open")
	ErrSessionClosed   = errors.New("capture session closed")
	ErrWrongPhase      = errors.New("action not available in current phase")
	ErrLocationPending = errors.New("location verification pending")
	ErrNoSites         = errors.New("no monitoring sites available")
	ErrNotAdmitted     = errors.New("location outside monitoring site geofence")
	ErrNoPhoto         = errors.New("no photo captured")
	ErrInvalidPhoto    = errors.New("invalid photo")
	ErrSubmitting      = errors.New("submission in progress")
)

// Submission.
var (
	ErrIncompleteDraft = errors.New("reading draft incomplete")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrUploadFailed    = errors.New("photo upload failed")
	ErrPersistFailed   = errors.New("reading persistence failed")
)
