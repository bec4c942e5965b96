package capture

import (
	"fmt"
	"math"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/Shadan1221/jal-rakshak/pkg/geo"
	"github.com/Shadan1221/jal-rakshak/pkg/ontology"
)

// Phase is a step of the capture workflow.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLocation
	PhasePhoto
	PhaseValue
)

func (p Phase) String() string {
	switch p {
	case PhaseLocation:
		return "location"
	case PhasePhoto:
		return "photo"
	case PhaseValue:
		return "value"
	default:
		return "idle"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Photo is a captured gauge image held in memory until upload.
type Photo struct {
	Name        string
	ContentType string
	Data        []byte
}

var extensionsByType = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/heic": "heic",
	"image/heif": "heif",
	"image/gif":  "gif",
}

func (p Photo) Validate() error {
	if len(p.Data) == 0 {
		return fmt.Errorf("%w: empty image", ErrInvalidPhoto)
	}
	if !strings.HasPrefix(strings.ToLower(p.ContentType), "image/") {
		return fmt.Errorf("%w: content type %q is not an image", ErrInvalidPhoto, p.ContentType)
	}
	return nil
}

// Extension keeps the original file extension, falling back to one derived
// from the content type.
func (p Photo) Extension() string {
	if ext := strings.TrimPrefix(strings.ToLower(path.Ext(p.Name)), "."); ext != "" {
		return ext
	}
	ct, _, _ := strings.Cut(strings.ToLower(p.ContentType), ";")
	if ext, ok := extensionsByType[strings.TrimSpace(ct)]; ok {
		return ext
	}
	return "bin"
}

// uploadedPhoto remembers a blob that reached storage so a retried
// submission can reuse it instead of uploading again.
type uploadedPhoto struct {
	key     string
	url     string
	ownerID string
}

// Draft is the in-progress reading assembled across the capture phases.
type Draft struct {
	Phase      Phase
	Location   *ontology.Coordinate
	Site       *ontology.MonitoringSite
	Photo      *Photo
	WaterLevel string
	CapturedAt time.Time

	uploaded *uploadedPhoto
}

// ParseWaterLevel returns the entered level in meters.
func (d *Draft) ParseWaterLevel() (float64, error) {
	raw := strings.TrimSpace(d.WaterLevel)
	if raw == "" {
		return 0, fmt.Errorf("%w: water level missing", ErrIncompleteDraft)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: water level %q is not a number", ErrIncompleteDraft, d.WaterLevel)
	}
	return v, nil
}

// Validate checks every precondition of a submission. The verified location
// must still lie inside the resolved site's fence.
func (d *Draft) Validate() error {
	if d.Photo == nil || len(d.Photo.Data) == 0 {
		return fmt.Errorf("%w: photo missing", ErrIncompleteDraft)
	}
	if _, err := d.ParseWaterLevel(); err != nil {
		return err
	}
	if d.Location == nil {
		return fmt.Errorf("%w: location not verified", ErrIncompleteDraft)
	}
	if d.Site == nil {
		return fmt.Errorf("%w: site not resolved", ErrIncompleteDraft)
	}
	if v := geo.Resolve(*d.Location, []ontology.MonitoringSite{*d.Site}); !v.WithinFence {
		return fmt.Errorf("%w: %w", ErrIncompleteDraft, ErrNotAdmitted)
	}
	return nil
}

// UploadedPhotoURL is the public URL of a photo already stored for this
// draft, empty when nothing has been uploaded yet.
func (d *Draft) UploadedPhotoURL() string {
	if d.uploaded == nil {
		return ""
	}
	return d.uploaded.url
}
