package community_test

import (
	"testing"

	community "github.com/goliatone/go-community"
	"github.com/stretchr/testify/assert"
)

func TestRegistrationStatus(t *testing.T) {
	tests := []struct {
		status        community.RegistrationStatus
		valid, active bool
		holdsSeat     bool
	}{
		{community.RegistrationPending, true, true, true},
		{community.RegistrationApproved, true, true, true},
		{community.RegistrationAttended, true, true, true},
		{community.RegistrationRejected, true, true, false},
		{community.RegistrationNoShow, true, true, false},
		{community.RegistrationCancelled, true, false, false},
		{"waitlisted", false, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.status.IsValid())
			assert.Equal(t, tt.active, tt.status.IsActive())
			assert.Equal(t, tt.holdsSeat, tt.status.HoldsSeat())
		})
	}
}

func TestEventCapacity(t *testing.T) {
	unlimited := community.Event{MaxAttendees: 0, CurrentAttendees: 500}
	assert.True(t, unlimited.Unlimited())
	assert.False(t, unlimited.IsFull())
	assert.Equal(t, -1, unlimited.Remaining())

	open := community.Event{MaxAttendees: 10, CurrentAttendees: 7}
	assert.False(t, open.IsFull())
	assert.Equal(t, 3, open.Remaining())

	over := community.Event{MaxAttendees: 10, CurrentAttendees: 12}
	assert.True(t, over.IsFull())
	assert.Equal(t, 0, over.Remaining())
}

func TestSessionValid(t *testing.T) {
	assert.False(t, community.Session{}.Valid())
	assert.False(t, community.Session{Token: "t"}.Valid())
	assert.False(t, community.Session{User: community.User{ID: "u1"}}.Valid())
	assert.True(t, community.Session{Token: "t", User: community.User{ID: "u1"}}.Valid())
}

func TestUserRoles(t *testing.T) {
	assert.True(t, community.User{Role: community.RoleAdmin}.IsAdmin())
	assert.True(t, community.User{Role: community.RoleAdmin}.IsOrganizer())
	assert.True(t, community.User{Role: community.RoleOrganizer}.IsOrganizer())
	assert.False(t, community.User{Role: community.RoleOrganizer}.IsAdmin())

	unknown := community.User{Role: "superuser"}
	assert.Equal(t, community.RoleAttendee, unknown.EffectiveRole())
	assert.False(t, unknown.IsOrganizer())

	_, ok := community.ParseRole("guest")
	assert.False(t, ok)
	assert.False(t, community.RoleIsAtLeast("guest", community.RoleAttendee))
}
