package community

// UserRole is the user's platform role
type UserRole = string

const (
	// RoleAttendee can browse and register for events
	RoleAttendee UserRole = "attendee"
	// RoleOrganizer can also publish and manage events
	RoleOrganizer UserRole = "organizer"
	// RoleAdmin can moderate the whole community
	RoleAdmin UserRole = "admin"
)

var roleHierarchy = map[UserRole]int{
	RoleAttendee:  0,
	RoleOrganizer: 1,
	RoleAdmin:     2,
}

// ParseRole safely parses a string into a UserRole type
func ParseRole(roleStr string) (UserRole, bool) {
	_, ok := roleHierarchy[roleStr]
	return roleStr, ok
}

// RoleIsAtLeast checks if role meets the minimum required level
func RoleIsAtLeast(role, minRole UserRole) bool {
	current, ok := roleHierarchy[role]
	if !ok {
		return false
	}
	min, ok := roleHierarchy[minRole]
	if !ok {
		return false
	}
	return current >= min
}

// EffectiveRole returns the user role, falling back to attendee
func (u User) EffectiveRole() UserRole {
	if role, ok := ParseRole(u.Role); ok {
		return role
	}
	return RoleAttendee
}

func (u User) IsOrganizer() bool {
	return RoleIsAtLeast(u.EffectiveRole(), RoleOrganizer)
}

func (u User) IsAdmin() bool {
	return RoleIsAtLeast(u.EffectiveRole(), RoleAdmin)
}
