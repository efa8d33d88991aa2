package models

import "time"

// UserRole is the authorization claim carried by a user record. Privileged
// surfaces check the role, never a specific identity value.
type UserRole string

const (
	RoleAdmin  UserRole = "admin"
	RoleMember UserRole = "member"
	RoleGuest  UserRole = "guest"
)

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	Persona      Persona   `json:"persona"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserSummary is the admin-facing projection of a user record.
type UserSummary struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      UserRole  `json:"role"`
	Persona   Persona   `json:"persona"`
	CreatedAt time.Time `json:"created_at"`
}
