package school

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/clasedesurf/tidepool/internal/user"
	"github.com/jmoiron/sqlx"
)

// ErrNoOrganization means the principal owns or belongs to no school
var ErrNoOrganization = errors.New("principal has no organization")

// Repository handles school and catalog data
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates a new school repository
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// OrganizationFor resolves the school a principal is confined to.
// SCHOOL_ADMIN resolves through schools.owner_id, INSTRUCTOR through the
// instructor profile. Other roles have no organization.
func (r *Repository) OrganizationFor(ctx context.Context, principalID int, role user.Role) (int, error) {
	var query string
	switch role {
	case user.RoleSchoolAdmin:
		query = `SELECT id FROM schools WHERE owner_id = $1 ORDER BY id LIMIT 1`
	case user.RoleInstructor:
		query = `SELECT school_id FROM instructors WHERE user_id = $1`
	default:
		return 0, ErrNoOrganization
	}

	var id int
	err := r.db.GetContext(ctx, &id, query, principalID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNoOrganization
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve organization: %w", err)
	}
	return id, nil
}

// FindByID loads a school
func (r *Repository) FindByID(ctx context.Context, id int) (*School, error) {
	var s School
	query := `SELECT id, name, location, owner_id, status, created_at
			  FROM schools
			  WHERE id = $1`

	err := r.db.GetContext(ctx, &s, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find school: %w", err)
	}
	return &s, nil
}

// ListInstructors lists active instructors; schoolID 0 lists every school
func (r *Repository) ListInstructors(ctx context.Context, schoolID int) ([]Instructor, error) {
	instructors := []Instructor{}
	query := `SELECT i.id, i.user_id, i.school_id, u.name, u.email, i.bio, i.years_experience, i.rating
			  FROM instructors i
			  JOIN users u ON u.id = i.user_id
			  WHERE i.is_active AND ($1 = 0 OR i.school_id = $1)
			  ORDER BY i.rating DESC, i.id`

	if err := r.db.SelectContext(ctx, &instructors, query, schoolID); err != nil {
		return nil, fmt.Errorf("failed to list instructors: %w", err)
	}
	return instructors, nil
}

// CreateInstructor attaches an instructor profile to a user in a school
func (r *Repository) CreateInstructor(ctx context.Context, in NewInstructor) (int, error) {
	var id int
	query := `INSERT INTO instructors (user_id, school_id, bio, years_experience, rating, is_active)
			  VALUES ($1, $2, NULLIF($3, ''), $4, 0, TRUE)
			  RETURNING id`

	if err := r.db.GetContext(ctx, &id, query, in.UserID, in.SchoolID, in.Bio, in.YearsExperience); err != nil {
		return 0, fmt.Errorf("failed to create instructor: %w", err)
	}
	return id, nil
}

// ListClasses lists classes; schoolID 0 lists every school
func (r *Repository) ListClasses(ctx context.Context, schoolID int) ([]Class, error) {
	classes := []Class{}
	query := `SELECT id, school_id, title, level, date, capacity, price
			  FROM classes
			  WHERE ($1 = 0 OR school_id = $1)
			  ORDER BY date, id`

	if err := r.db.SelectContext(ctx, &classes, query, schoolID); err != nil {
		return nil, fmt.Errorf("failed to list classes: %w", err)
	}
	return classes, nil
}

// CreateClass schedules a class for a school
func (r *Repository) CreateClass(ctx context.Context, in NewClass) (int, error) {
	var id int
	query := `INSERT INTO classes (school_id, title, level, date, capacity, price)
			  VALUES ($1, $2, $3, $4, $5, $6)
			  RETURNING id`

	if err := r.db.GetContext(ctx, &id, query, in.SchoolID, in.Title, in.Level, in.Date, in.Capacity, in.Price); err != nil {
		return 0, fmt.Errorf("failed to create class: %w", err)
	}
	return id, nil
}

// ListStudents lists students; schoolID 0 lists every school
func (r *Repository) ListStudents(ctx context.Context, schoolID int) ([]Student, error) {
	students := []Student{}
	query := `SELECT s.id, s.user_id, s.school_id, u.name, u.email, s.level
			  FROM students s
			  JOIN users u ON u.id = s.user_id
			  WHERE ($1 = 0 OR s.school_id = $1)
			  ORDER BY u.name, s.id`

	if err := r.db.SelectContext(ctx, &students, query, schoolID); err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}
	return students, nil
}

// Stats counts instructors, students and classes for one school
func (r *Repository) Stats(ctx context.Context, schoolID int) (*Stats, error) {
	var s Stats
	query := `SELECT $1::int AS school_id,
			         (SELECT COUNT(*) FROM instructors WHERE school_id = $1 AND is_active) AS instructors,
			         (SELECT COUNT(*) FROM students WHERE school_id = $1) AS students,
			         (SELECT COUNT(*) FROM classes WHERE school_id = $1) AS classes`

	if err := r.db.GetContext(ctx, &s, query, schoolID); err != nil {
		return nil, fmt.Errorf("failed to load stats: %w", err)
	}
	return &s, nil
}
