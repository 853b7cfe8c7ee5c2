package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const userColumns = `id, name, email, password_digest, role, last_logged_on, created_at, updated_at`

// ErrEmailTaken means another account already uses the email address
var ErrEmailTaken = errors.New("email already registered")

// SchoolStatusPending is the status of a self-registered school awaiting review
const SchoolStatusPending = "PENDING"

const uniqueViolation = pq.ErrorCode("23505")

// Repository handles user data operations
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates a new user repository
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// FindByEmail finds a user by email address. A missing user is (nil, nil).
func (r *Repository) FindByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	query := `SELECT ` + userColumns + `
			  FROM users
			  WHERE email = $1`

	err := r.db.GetContext(ctx, &u, query, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}

	return &u, nil
}

// FindByID finds a user by ID. A missing user is (nil, nil).
func (r *Repository) FindByID(ctx context.Context, id int) (*User, error) {
	var u User
	query := `SELECT ` + userColumns + `
			  FROM users
			  WHERE id = $1`

	err := r.db.GetContext(ctx, &u, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	return &u, nil
}

// UpdateLastLoggedOn updates the last_logged_on timestamp
func (r *Repository) UpdateLastLoggedOn(ctx context.Context, userID int) error {
	query := `UPDATE users SET last_logged_on = $1 WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, query, time.Now().UTC(), userID); err != nil {
		return fmt.Errorf("failed to update last logged on: %w", err)
	}
	return nil
}

// RecordLoginAttempt appends to the login audit trail
func (r *Repository) RecordLoginAttempt(ctx context.Context, email, ipAddress string, success bool) error {
	query := `INSERT INTO login_attempts (email, ip_address, success, attempted_at)
			  VALUES ($1, $2, $3, $4)`

	if _, err := r.db.ExecContext(ctx, query, email, ipAddress, success, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to record login attempt: %w", err)
	}
	return nil
}

// RecentLoginAttempts lists audit rows for an email since a point in time
func (r *Repository) RecentLoginAttempts(ctx context.Context, email string, since time.Time) ([]LoginAttempt, error) {
	var attempts []LoginAttempt
	query := `SELECT id, email, ip_address, success, attempted_at
			  FROM login_attempts
			  WHERE email = $1 AND attempted_at >= $2
			  ORDER BY attempted_at DESC`

	if err := r.db.SelectContext(ctx, &attempts, query, email, since); err != nil {
		return nil, fmt.Errorf("failed to get recent login attempts: %w", err)
	}

	return attempts, nil
}

// UpdateName changes a user's display name
func (r *Repository) UpdateName(ctx context.Context, userID int, name string) error {
	query := `UPDATE users SET name = $1, updated_at = $2 WHERE id = $3`
	res, err := r.db.ExecContext(ctx, query, name, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to update user name: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Create inserts a user and returns the stored row
func (r *Repository) Create(ctx context.Context, nu NewUser) (*User, error) {
	return insertUser(ctx, r.db, nu)
}

// CreateSchoolOwner inserts a SCHOOL_ADMIN and the pending school they own in
// one transaction. Neither row exists unless both do.
func (r *Repository) CreateSchoolOwner(ctx context.Context, nu NewUser, app SchoolApplication) (*User, int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	nu.Role = RoleSchoolAdmin
	u, err := insertUser(ctx, tx, nu)
	if err != nil {
		return nil, 0, err
	}

	var schoolID int
	query := `INSERT INTO schools (name, location, owner_id, status, created_at)
			  VALUES ($1, $2, $3, $4, $5)
			  RETURNING id`
	if err := tx.GetContext(ctx, &schoolID, query, app.Name, app.Location, u.ID, SchoolStatusPending, time.Now().UTC()); err != nil {
		return nil, 0, fmt.Errorf("failed to create school: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("failed to commit school registration: %w", err)
	}
	return u, schoolID, nil
}

func insertUser(ctx context.Context, q sqlx.QueryerContext, nu NewUser) (*User, error) {
	var u User
	query := `INSERT INTO users (name, email, password_digest, role, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $5)
			  RETURNING ` + userColumns

	err := sqlx.GetContext(ctx, q, &u, query, nu.Name, nu.Email, nu.PasswordDigest, string(nu.Role), time.Now().UTC())
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &u, nil
}
