package models

import (
	"time"

	"github.com/google/uuid"
)

// PlatformRole is the platform-wide role of a user.
type PlatformRole string

const (
	PlatformRoleSuperAdmin PlatformRole = "super_admin"
	PlatformRoleUser       PlatformRole = "user"
)

// User represents a platform user.
type User struct {
	ID        uuid.UUID    `json:"id"`
	Email     string       `json:"email"`
	Password  string       `json:"-"`
	FullName  string       `json:"full_name"`
	Role      PlatformRole `json:"role"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// UserPublic is User without sensitive fields for API responses.
type UserPublic struct {
	ID        uuid.UUID    `json:"id"`
	Email     string       `json:"email"`
	FullName  string       `json:"full_name"`
	Role      PlatformRole `json:"role"`
	CreatedAt time.Time    `json:"created_at"`
}

// ToPublic converts User to UserPublic.
func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}
