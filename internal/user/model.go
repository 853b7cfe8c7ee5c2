package user

import (
	"database/sql"
	"strconv"
	"time"
)

// Role is the fixed set of marketplace roles
type Role string

const (
	RoleStudent     Role = "STUDENT"
	RoleInstructor  Role = "INSTRUCTOR"
	RoleSchoolAdmin Role = "SCHOOL_ADMIN"
	RoleAdmin       Role = "ADMIN"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleInstructor, RoleSchoolAdmin, RoleAdmin:
		return true
	}
	return false
}

// OrganizationScoped reports whether requests from this role are confined to
// a single school that has to be looked up per request.
func (r Role) OrganizationScoped() bool {
	return r == RoleSchoolAdmin || r == RoleInstructor
}

// User represents the users table
type User struct {
	ID             int          `db:"id" json:"id"`
	Name           string       `db:"name" json:"name"`
	Email          string       `db:"email" json:"email"`
	PasswordDigest string       `db:"password_digest" json:"-"`
	Role           Role         `db:"role" json:"role"`
	LastLoggedOn   sql.NullTime `db:"last_logged_on" json:"last_logged_on,omitempty"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time    `db:"updated_at" json:"updated_at"`
}

// Principal is the authenticated identity carried by tokens and sessions
type Principal struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// Subject returns the principal id in JWT subject form
func (p Principal) Subject() string {
	return strconv.Itoa(p.ID)
}

// Principal projects the stored user onto its public identity
func (u *User) Principal() Principal {
	return Principal{
		ID:    u.ID,
		Name:  u.Name,
		Email: u.Email,
		Role:  u.Role,
	}
}

// NewUser is an account about to be inserted
type NewUser struct {
	Name           string
	Email          string
	PasswordDigest string
	Role           Role
}

// SchoolApplication is the school a new owner signs up with. It stays
// PENDING until reviewed.
type SchoolApplication struct {
	Name     string
	Location string
}

// LoginAttempt represents the login_attempts audit table
type LoginAttempt struct {
	ID          int       `db:"id" json:"id"`
	Email       string    `db:"email" json:"email"`
	IPAddress   string    `db:"ip_address" json:"ip_address"`
	Success     bool      `db:"success" json:"success"`
	AttemptedAt time.Time `db:"attempted_at" json:"attempted_at"`
}
