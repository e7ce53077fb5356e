package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
)

// ParseRole maps unknown or empty roles to RoleCustomer.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleStaff, RoleAdmin:
		return Role(s)
	default:
		return RoleCustomer
	}
}

type Profile struct {
	bun.BaseModel `bun:"table:profiles"`

	ID          string    `bun:"id,pk" json:"id"`
	Email       string    `bun:"email,notnull" json:"email"`
	DisplayName string    `bun:"display_name" json:"display_name"`
	Role        Role      `bun:"role,notnull" json:"role"`
	CreatedAt   time.Time `bun:"created_at,notnull" json:"created_at"`
}
