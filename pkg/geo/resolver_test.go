package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shadan1221/jal-rakshak/pkg/ontology"
)

// metersNorth returns the coordinate that lies m meters due north of c.
func metersNorth(c ontology.Coordinate, m float64) ontology.Coordinate {
	return ontology.Coordinate{
		Latitude:  c.Latitude + m/(EarthRadiusMeters*math.Pi/180),
		Longitude: c.Longitude,
	}
}

func TestResolve_SelectsNearestSite(t *testing.T) {
	here := ontology.Coordinate{Latitude: 10, Longitude: 10}
	sites := []ontology.MonitoringSite{
		{ID: "s1", Name: "Far Gauge", Location: metersNorth(here, 500), Radius: 100},
		{ID: "s2", Name: "Near Gauge", Location: metersNorth(here, 50), Radius: 100},
	}

	v := Resolve(here, sites)

	require.NotNil(t, v.NearestSite)
	assert.Equal(t, "s2", v.NearestSite.ID)
	assert.InDelta(t, 50, v.DistanceMeters, 0.01)
	assert.True(t, v.WithinFence)
	assert.Zero(t, v.Shortfall())
}

func TestResolve_OutsideFence(t *testing.T) {
	here := ontology.Coordinate{Latitude: 25.5941, Longitude: 85.1376}
	sites := []ontology.MonitoringSite{
		{ID: "patna", Name: "Gandhi Ghat", Location: metersNorth(here, 250), Radius: 100},
	}

	v := Resolve(here, sites)

	require.True(t, v.HasSite())
	assert.False(t, v.WithinFence)
	assert.InDelta(t, 150, v.Shortfall(), 0.01)
}

func TestResolve_BoundaryIsAdmitted(t *testing.T) {
	here := ontology.Coordinate{Latitude: 0, Longitude: 1}
	center := ontology.Coordinate{Latitude: 0, Longitude: 0}
	sites := []ontology.MonitoringSite{
		{ID: "edge", Location: center, Radius: Distance(here, center)},
	}

	v := Resolve(here, sites)

	assert.True(t, v.WithinFence)
	assert.Equal(t, sites[0].Radius, v.DistanceMeters)
}

func TestResolve_EmptySiteList(t *testing.T) {
	v := Resolve(ontology.Coordinate{Latitude: 1, Longitude: 1}, nil)

	assert.Nil(t, v.NearestSite)
	assert.False(t, v.HasSite())
	assert.False(t, v.WithinFence)

	v = Resolve(ontology.Coordinate{Latitude: 1, Longitude: 1}, []ontology.MonitoringSite{})
	assert.Nil(t, v.NearestSite)
	assert.False(t, v.WithinFence)
}

func TestResolve_TieKeepsFirstSite(t *testing.T) {
	here := ontology.Coordinate{Latitude: 5, Longitude: 5}
	loc := metersNorth(here, 30)
	sites := []ontology.MonitoringSite{
		{ID: "first", Location: loc, Radius: 10},
		{ID: "second", Location: loc, Radius: 100},
	}

	v := Resolve(here, sites)

	require.NotNil(t, v.NearestSite)
	assert.Equal(t, "first", v.NearestSite.ID)
	assert.False(t, v.WithinFence)
}

func TestResolve_DoesNotAliasInput(t *testing.T) {
	here := ontology.Coordinate{Latitude: 5, Longitude: 5}
	sites := []ontology.MonitoringSite{{ID: "a", Name: "A", Location: here, Radius: 10}}

	v := Resolve(here, sites)
	sites[0].Name = "changed"

	assert.Equal(t, "A", v.NearestSite.Name)
}
