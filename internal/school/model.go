package school

import (
	"database/sql"
	"time"
)

// School is an organization that owns instructors, students and classes
type School struct {
	ID        int       `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Location  string    `db:"location" json:"location"`
	OwnerID   int       `db:"owner_id" json:"ownerId"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Instructor belongs to exactly one school
type Instructor struct {
	ID              int            `db:"id" json:"id"`
	UserID          int            `db:"user_id" json:"userId"`
	SchoolID        int            `db:"school_id" json:"schoolId"`
	Name            string         `db:"name" json:"name"`
	Email           string         `db:"email" json:"email"`
	Bio             sql.NullString `db:"bio" json:"bio,omitempty"`
	YearsExperience int            `db:"years_experience" json:"yearsExperience"`
	Rating          float64        `db:"rating" json:"rating"`
}

// Class is a scheduled surf class offered by a school
type Class struct {
	ID       int       `db:"id" json:"id"`
	SchoolID int       `db:"school_id" json:"schoolId"`
	Title    string    `db:"title" json:"title"`
	Level    string    `db:"level" json:"level"`
	Date     time.Time `db:"date" json:"date"`
	Capacity int       `db:"capacity" json:"capacity"`
	Price    float64   `db:"price" json:"price"`
}

// Student is a learner registered with a school
type Student struct {
	ID       int    `db:"id" json:"id"`
	UserID   int    `db:"user_id" json:"userId"`
	SchoolID int    `db:"school_id" json:"schoolId"`
	Name     string `db:"name" json:"name"`
	Email    string `db:"email" json:"email"`
	Level    string `db:"level" json:"level"`
}

// Stats summarizes a school's activity for the dashboard
type Stats struct {
	SchoolID    int `db:"school_id" json:"schoolId"`
	Instructors int `db:"instructors" json:"instructors"`
	Students    int `db:"students" json:"students"`
	Classes     int `db:"classes" json:"classes"`
}

// NewInstructor is the payload for creating an instructor profile
type NewInstructor struct {
	UserID          int    `json:"userId" binding:"required"`
	SchoolID        int    `json:"schoolId"`
	Bio             string `json:"bio"`
	YearsExperience int    `json:"yearsExperience"`
}

// NewClass is the payload for scheduling a class
type NewClass struct {
	SchoolID int       `json:"schoolId"`
	Title    string    `json:"title" binding:"required"`
	Level    string    `json:"level"`
	Date     time.Time `json:"date" binding:"required"`
	Capacity int       `json:"capacity"`
	Price    float64   `json:"price"`
}
