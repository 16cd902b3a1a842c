package domain

import "strings"

// Role is resolved once at the request boundary and travels with the Actor.
type Role string

const (
	RoleProvider Role = "provider"
	RoleConsumer Role = "consumer"
)

// ParseRole accepts the plain role names as well as the ROLE_ prefixed authority form.
func ParseRole(s string) (Role, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "role_")
	switch s {
	case "provider", "doctor", "professional":
		return RoleProvider, true
	case "consumer", "patient", "client":
		return RoleConsumer, true
	}
	return "", false
}

type Actor struct {
	ID   string
	Role Role
}

func (a Actor) IsProvider() bool { return a.Role == RoleProvider }
func (a Actor) IsConsumer() bool { return a.Role == RoleConsumer }
