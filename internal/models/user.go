package models

// Actor is the authenticated caller as asserted by the identity provider.
type Actor struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
}

func (a Actor) IsHost() bool {
	return a.Role == RoleHost
}
