package ontology

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReviewStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to ReviewStatus
		want     bool
	}{
		{StatusPending, StatusVerified, true},
		{StatusPending, StatusRejected, true},
		{StatusPending, StatusPending, false},
		{StatusVerified, StatusRejected, false},
		{StatusVerified, StatusPending, false},
		{StatusRejected, StatusVerified, false},
		{StatusPending, "approved", false},
		{"", StatusVerified, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestReviewStatus_Valid(t *testing.T) {
	for _, s := range []ReviewStatus{StatusPending, StatusVerified, StatusRejected} {
		assert.True(t, s.Valid(), s)
	}
	for _, s := range []ReviewStatus{"", "all", "Pending", "approved"} {
		assert.False(t, s.Valid(), s)
	}
}

func TestIdentity_DisplayName(t *testing.T) {
	tests := []struct {
		name     string
		identity Identity
		want     string
	}{
		{"explicit name", Identity{Name: "Meera Das", Email: "meera@cwc.gov.in"}, "Meera Das"},
		{"name is trimmed", Identity{Name: "  Ravi  "}, "Ravi"},
		{"email local part", Identity{Name: "   ", Email: "asha.k@cwc.gov.in"}, "asha.k"},
		{"email without local part", Identity{Email: "@cwc.gov.in"}, "Field Personnel"},
		{"email without at sign", Identity{Email: "asha"}, "Field Personnel"},
		{"nothing", Identity{ID: "user-1"}, "Field Personnel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.identity.DisplayName())
		})
	}
}

func TestIdentity_HasRole(t *testing.T) {
	sup := Identity{ID: "sup-1", Role: RoleSupervisor}

	assert.True(t, sup.HasRole(RoleSupervisor))
	assert.True(t, sup.HasRole(RoleAnalyst, RoleSupervisor))
	assert.False(t, sup.HasRole(RoleField))
	assert.False(t, sup.HasRole())
	assert.True(t, ValidRole(RoleAnalyst))
	assert.False(t, ValidRole("admin"))
}
