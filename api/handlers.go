package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/Shadan1221/jal-rakshak/api/middleware"
	"github.com/Shadan1221/jal-rakshak/api/services"
	"github.com/Shadan1221/jal-rakshak/pkg/auth"
	"github.com/Shadan1221/jal-rakshak/pkg/capture"
	"github.com/Shadan1221/jal-rakshak/pkg/geo"
	"github.com/Shadan1221/jal-rakshak/pkg/ontology"
	"github.com/Shadan1221/jal-rakshak/pkg/services/feed"
	"github.com/Shadan1221/jal-rakshak/pkg/shared"
)

const serviceName = "jal-rakshak"

// HealthChecker is satisfied by *embeddednats.EmbeddedNATS.
type HealthChecker interface {
	HealthCheck() error
}

// StoreHealth is satisfied by *db.Service.
type StoreHealth interface {
	Health(ctx context.Context) error
}

// Deps are the collaborators the HTTP layer needs.
type Deps struct {
	Store    StoreHealth
	Sites    *services.SiteService
	Readings *services.ReadingService
	Photos   *services.PhotoService
	Feed     *feed.Hub
	NATS     HealthChecker
	Tokens   middleware.Authenticator
	Logger   *slog.Logger
}

type Handlers struct {
	Deps
	gateway *capture.Gateway
	started time.Time
}

func NewHandlers(deps Deps) *Handlers {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Handlers{
		Deps:    deps,
		gateway: capture.NewGateway(auth.ContextProvider{}, deps.Photos, deps.Readings, deps.Logger),
		started: time.Now(),
	}
}

// Site handlers
func (h *Handlers) CreateSite(w http.ResponseWriter, r *http.Request) {
	var req ontology.CreateSiteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, shared.CodeInvalidRequest, err.Error())
		return
	}

	site, err := h.Sites.CreateSite(r.Context(), &req)
	if err != nil {
		if errors.Is(err, services.ErrInvalidSite) {
			sendError(w, http.StatusBadRequest, shared.CodeInvalidRequest, err.Error())
		} else {
			sendError(w, http.StatusInternalServerError, "CREATE_FAILED", err.Error())
		}
		return
	}

	sendSuccess(w, http.StatusCreated, site)
}

func (h *Handlers) ListSites(w http.ResponseWriter, r *http.Request) {
	sites, err := h.Sites.ListSites(r.Context())
	if err != nil {
		sendError(w, http.StatusInternalServerError, "LIST_FAILED", err.Error())
		return
	}

	sendSuccess(w, http.StatusOK, sites)
}

func (h *Handlers) GetSite(w http.ResponseWriter, r *http.Request) {
	site, err := h.Sites.GetSite(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		sendServiceError(w, err, "GET_FAILED")
		return
	}

	sendSuccess(w, http.StatusOK, site)
}

// SubmitReading accepts a multipart upload with latitude, longitude,
// water_level and a photo file, and runs it through the capture pipeline.
func (h *Handlers) SubmitReading(w http.ResponseWriter, r *http.Request) {
	limit := h.Photos.MaxBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			sendError(w, http.StatusRequestEntityTooLarge, shared.CodeInvalidPhoto, "upload exceeds size limit")
			return
		}
		sendError(w, http.StatusBadRequest, shared.CodeInvalidRequest, "expected multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	position, err := parseCoordinate(r.FormValue("latitude"), r.FormValue("longitude"))
	if err != nil {
		sendError(w, http.StatusBadRequest, shared.CodeInvalidRequest, err.Error())
		return
	}

	photo, status, err := readPhoto(r, limit)
	if err != nil {
		sendError(w, status, shared.CodeInvalidPhoto, err.Error())
		return
	}

	ctx := r.Context()
	p := capture.NewPipeline(capture.FixedLocator{Position: position}, h.Sites, h.gateway, h.Logger)
	defer p.Close()

	if err := p.Open(ctx); err != nil {
		sendError(w, http.StatusInternalServerError, shared.CodeInternal, err.Error())
		return
	}
	snap, err := p.Wait(ctx)
	if err != nil {
		sendError(w, http.StatusServiceUnavailable, shared.CodeInternal, err.Error())
		return
	}

	if err := p.ConfirmLocation(); err != nil {
		h.sendCaptureError(w, err, snap.Verdict)
		return
	}
	if err := p.CapturePhoto(*photo); err != nil {
		h.sendCaptureError(w, err, nil)
		return
	}
	if err := p.ConfirmPhoto(); err != nil {
		h.sendCaptureError(w, err, nil)
		return
	}
	if err := p.SetWaterLevel(r.FormValue("water_level")); err != nil {
		h.sendCaptureError(w, err, nil)
		return
	}

	reading, err := p.Submit(ctx)
	if err != nil {
		h.sendCaptureError(w, err, nil)
		return
	}

	sendSuccess(w, http.StatusCreated, reading)
}

type geofenceDetails struct {
	SiteID         string  `json:"site_id,omitempty"`
	SiteName       string  `json:"site_name,omitempty"`
	DistanceMeters float64 `json:"distance_meters"`
	RadiusMeters   float64 `json:"radius_meters"`
	Shortfall      float64 `json:"shortfall_meters"`
}

func (h *Handlers) sendCaptureError(w http.ResponseWriter, err error, verdict *geo.Verdict) {
	switch {
	case errors.Is(err, capture.ErrNotAdmitted):
		var details interface{}
		if verdict != nil && verdict.HasSite() {
			details = geofenceDetails{
				SiteID:         verdict.NearestSite.ID,
				SiteName:       verdict.NearestSite.Name,
				DistanceMeters: math.Round(verdict.DistanceMeters),
				RadiusMeters:   verdict.NearestSite.Radius,
				Shortfall:      math.Round(verdict.Shortfall()),
			}
		}
		sendErrorWithData(w, http.StatusForbidden, shared.CodeOutsideGeofence, err.Error(), details)
	case errors.Is(err, capture.ErrNoSites):
		sendError(w, http.StatusUnprocessableEntity, shared.CodeNoSites, err.Error())
	case errors.Is(err, capture.ErrUnauthenticated):
		sendError(w, http.StatusUnauthorized, shared.CodeUnauthorized, err.Error())
	case errors.Is(err, capture.ErrInvalidPhoto), errors.Is(err, services.ErrNotAnImage):
		sendError(w, http.StatusBadRequest, shared.CodeInvalidPhoto, err.Error())
	case errors.Is(err, services.ErrPhotoTooLarge):
		sendError(w, http.StatusRequestEntityTooLarge, shared.CodeInvalidPhoto, err.Error())
	case errors.Is(err, capture.ErrIncompleteDraft),
		errors.Is(err, capture.ErrPositionUnavailable),
		errors.Is(err, capture.ErrPermissionDenied):
		sendError(w, http.StatusBadRequest, shared.CodeInvalidRequest, err.Error())
	case errors.Is(err, capture.ErrUploadFailed):
		sendError(w, http.StatusBadGateway, shared.CodeUploadFailed, err.Error())
	case errors.Is(err, capture.ErrPersistFailed):
		sendError(w, http.StatusInternalServerError, shared.CodePersistFailed, err.Error())
	default:
		h.Logger.Error("reading submission failed", "error", err)
		sendError(w, http.StatusInternalServerError, shared.CodeInternal, err.Error())
	}
}

// ListReadings lists readings newest first. Field personnel only see their
// own submissions.
func (h *Handlers) ListReadings(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	q := r.URL.Query()

	filter := ontology.ReadingFilter{SiteID: q.Get("site_id")}
	if status := q.Get("status"); status != "" && status != "all" {
		filter.Status = ontology.ReviewStatus(status)
		if !filter.Status.Valid() {
			sendError(w, http.StatusBadRequest, shared.CodeInvalidStatus, fmt.Sprintf("unknown status %q", status))
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			sendError(w, http.StatusBadRequest, shared.CodeInvalidRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}
	if !identity.HasRole(ontology.RoleSupervisor, ontology.RoleAnalyst) {
		filter.SubmitterID = identity.ID
	}

	readings, err := h.Readings.ListReadings(r.Context(), filter)
	if err != nil {
		sendServiceError(w, err, "LIST_FAILED")
		return
	}

	sendSuccess(w, http.StatusOK, readings)
}

func (h *Handlers) GetReading(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())

	reading, err := h.Readings.GetReading(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		sendServiceError(w, err, "GET_FAILED")
		return
	}
	if !identity.HasRole(ontology.RoleSupervisor, ontology.RoleAnalyst) && reading.SubmitterID != identity.ID {
		sendError(w, http.StatusNotFound, shared.CodeNotFound, "reading not found")
		return
	}

	sendSuccess(w, http.StatusOK, reading)
}

func (h *Handlers) UpdateReadingStatus(w http.ResponseWriter, r *http.Request) {
	var req ontology.UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, shared.CodeInvalidRequest, err.Error())
		return
	}

	identity := auth.FromContext(r.Context())
	reading, err := h.Readings.UpdateStatus(r.Context(), mux.Vars(r)["id"], req.Status, identity.ID)
	if err != nil {
		sendServiceError(w, err, "UPDATE_FAILED")
		return
	}

	sendSuccess(w, http.StatusOK, reading)
}

func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Readings.Stats(r.Context())
	if err != nil {
		sendError(w, http.StatusInternalServerError, "STATS_FAILED", err.Error())
		return
	}

	sendSuccess(w, http.StatusOK, stats)
}

// ServePhoto streams a stored gauge photo.
func (h *Handlers) ServePhoto(w http.ResponseWriter, r *http.Request) {
	photo, err := h.Photos.Open(r.Context(), mux.Vars(r)["key"])
	if err != nil {
		sendServiceError(w, err, "PHOTO_FAILED")
		return
	}
	defer photo.Close()

	w.Header().Set("Content-Type", photo.ContentType)
	w.Header().Set("Content-Length", strconv.FormatUint(photo.Size, 10))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if _, err := io.Copy(w, photo); err != nil {
		h.Logger.Warn("photo stream interrupted", "key", mux.Vars(r)["key"], "error", err)
	}
}

// Health check
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := shared.HealthStatus{
		Status:    "healthy",
		Service:   serviceName,
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Details:   make(map[string]string),
	}

	if err := h.Store.Health(r.Context()); err != nil {
		health.Status = "unhealthy"
		health.Details["database"] = "unhealthy: " + err.Error()
	} else {
		health.Details["database"] = "healthy"
	}

	if h.NATS == nil {
		health.Status = "unhealthy"
		health.Details["nats"] = "unhealthy: not configured"
	} else if err := h.NATS.HealthCheck(); err != nil {
		health.Status = "unhealthy"
		health.Details["nats"] = "unhealthy: " + err.Error()
	} else {
		health.Details["nats"] = "healthy"
	}

	if h.Feed != nil {
		health.Details["feed_subscribers"] = strconv.Itoa(h.Feed.Count())
	}

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	sendSuccess(w, statusCode, health)
}

// Helper functions
func parseCoordinate(lat, lon string) (ontology.Coordinate, error) {
	if strings.TrimSpace(lat) == "" || strings.TrimSpace(lon) == "" {
		return ontology.Coordinate{}, errors.New("latitude and longitude are required")
	}
	la, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return ontology.Coordinate{}, fmt.Errorf("invalid latitude %q", lat)
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(lon), 64)
	if err != nil {
		return ontology.Coordinate{}, fmt.Errorf("invalid longitude %q", lon)
	}
	c := ontology.Coordinate{Latitude: la, Longitude: lo}
	if math.IsNaN(la) || math.IsNaN(lo) {
		return c, errors.New("coordinates must be numbers")
	}
	return c, c.Validate()
}

func readPhoto(r *http.Request, limit int64) (*capture.Photo, int, error) {
	file, header, err := r.FormFile("photo")
	if err != nil {
		return nil, http.StatusBadRequest, errors.New("photo file is required")
	}
	defer file.Close()

	if header.Size > limit {
		return nil, http.StatusRequestEntityTooLarge, fmt.Errorf("photo is %d bytes, limit %d", header.Size, limit)
	}
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("read photo: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, http.StatusRequestEntityTooLarge, fmt.Errorf("photo exceeds %d bytes", limit)
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	return &capture.Photo{Name: header.Filename, ContentType: contentType, Data: data}, http.StatusOK, nil
}

func sendServiceError(w http.ResponseWriter, err error, fallbackCode string) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		sendError(w, http.StatusNotFound, shared.CodeNotFound, err.Error())
	case errors.Is(err, services.ErrInvalidStatus):
		sendError(w, http.StatusBadRequest, shared.CodeInvalidStatus, err.Error())
	case errors.Is(err, services.ErrInvalidTransition):
		sendError(w, http.StatusConflict, shared.CodeInvalidTransition, err.Error())
	default:
		sendError(w, http.StatusInternalServerError, fallbackCode, err.Error())
	}
}

func sendSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := shared.Response{
		Success: true,
		Data:    data,
	}

	json.NewEncoder(w).Encode(response)
}

func sendError(w http.ResponseWriter, statusCode int, code, message string) {
	sendErrorWithData(w, statusCode, code, message, nil)
}

func sendErrorWithData(w http.ResponseWriter, statusCode int, code, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := shared.Response{
		Success: false,
		Data:    data,
		Error: &shared.Error{
			Code:    code,
			Message: message,
		},
	}

	json.NewEncoder(w).Encode(response)
}

// Router builds the complete HTTP handler. CORS and request logging wrap the
// router so preflight requests and unmatched routes pass through them too.
func (h *Handlers) Router() http.Handler {
	r := mux.NewRouter()
	h.RegisterRoutes(r)
	return middleware.CORS(middleware.RequestLogger(h.Logger)(r))
}

// RegisterRoutes sets up all API routes
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		sendError(w, http.StatusNotFound, shared.CodeNotFound, "Route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		sendError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
	})

	// no bearer header: health probes, photo links and the feed's own handshake
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/photos/{key:.+}", h.ServePhoto).Methods(http.MethodGet)
	if h.Feed != nil {
		r.HandleFunc("/api/v1/feed", h.Feed.ServeWS).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.BearerAuth(h.Tokens))

	supervisor := middleware.RequireRole(ontology.RoleSupervisor)
	reviewer := middleware.RequireRole(ontology.RoleSupervisor, ontology.RoleAnalyst)

	api.HandleFunc("/sites", h.ListSites).Methods(http.MethodGet)
	api.Handle("/sites", supervisor(http.HandlerFunc(h.CreateSite))).Methods(http.MethodPost)
	api.HandleFunc("/sites/{id}", h.GetSite).Methods(http.MethodGet)

	api.HandleFunc("/readings", h.SubmitReading).Methods(http.MethodPost)
	api.HandleFunc("/readings", h.ListReadings).Methods(http.MethodGet)
	api.HandleFunc("/readings/{id}", h.GetReading).Methods(http.MethodGet)
	api.Handle("/readings/{id}/status", supervisor(http.HandlerFunc(h.UpdateReadingStatus))).Methods(http.MethodPut)

	api.Handle("/stats", reviewer(http.HandlerFunc(h.Stats))).Methods(http.MethodGet)
}
