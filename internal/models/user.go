package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleCitizen         UserRole = "CITIZEN"
	RoleFieldWorker     UserRole = "FIELD_WORKER"
	RoleMunicipalWorker UserRole = "MUNICIPAL_WORKER"
	RoleAdmin           UserRole = "ADMIN"
)

// IsWorker reports whether the role belongs to the worker class eligible
// for issue assignment.
func (r UserRole) IsWorker() bool {
	return r == RoleFieldWorker || r == RoleMunicipalWorker
}

// IsStaff reports whether the role is a municipal staff role of any kind.
func (r UserRole) IsStaff() bool {
	return r.IsWorker() || r == RoleAdmin
}

// ValidRole reports whether the value is a known role.
func ValidRole(r UserRole) bool {
	switch r {
	case RoleCitizen, RoleFieldWorker, RoleMunicipalWorker, RoleAdmin:
		return true
	}
	return false
}

// User represents an application user stored in the users table.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Role         UserRole   `db:"role" json:"role"`
	City         string     `db:"city" json:"city,omitempty"`
	District     string     `db:"district" json:"district,omitempty"`
	Department   string     `db:"department" json:"department,omitempty"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role      *UserRole
	Active    *bool
	City      string
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
