package geo

import (
	"math"

	"github.com/Shadan1221/jal-rakshak/pkg/ontology"
)

// Verdict is the geofence decision for one location against a site list.
type Verdict struct {
	NearestSite    *ontology.MonitoringSite `json:"nearest_site,omitempty"`
	DistanceMeters float64                  `json:"distance_meters"`
	WithinFence    bool                     `json:"within_fence"`
}

// HasSite reports whether any site was available to resolve against.
func (v Verdict) HasSite() bool {
	return v.NearestSite != nil
}

// Shortfall is how far outside the nearest fence the location lies, zero when admitted.
func (v Verdict) Shortfall() float64 {
	if v.NearestSite == nil || v.WithinFence {
		return 0
	}
	return v.DistanceMeters - v.NearestSite.Radius
}

// Resolve finds the site nearest to location and decides admission. On equal
// distances the earliest site in the slice wins. Being exactly on the radius
// counts as inside.
func Resolve(location ontology.Coordinate, sites []ontology.MonitoringSite) Verdict {
	nearest := -1
	minDistance := math.Inf(1)

	for i := range sites {
		d := Distance(location, sites[i].Location)
		if d < minDistance {
			minDistance = d
			nearest = i
		}
	}

	if nearest < 0 {
		return Verdict{}
	}

	site := sites[nearest]
	return Verdict{
		NearestSite:    &site,
		DistanceMeters: minDistance,
		WithinFence:    minDistance <= site.Radius,
	}
}
