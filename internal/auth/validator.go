package auth

import (
	"fmt"
	"regexp"
	"strings"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

const (
	maxPasswordLength = 72 // bcrypt ignores anything past this
	minPasswordLength = 8
	maxNameLength     = 100
)

// ValidationError describes one invalid field
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every invalid field of a request
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	messages := make([]string, len(e))
	for i, err := range e {
		messages[i] = err.Error()
	}
	return strings.Join(messages, "; ")
}

// ValidateLoginRequest validates a login request
func ValidateLoginRequest(req *LoginRequest) error {
	var errs ValidationErrors

	switch {
	case strings.TrimSpace(req.Email) == "":
		errs = append(errs, ValidationError{Field: "email", Message: "Email is required"})
	case !IsValidEmail(req.Email):
		errs = append(errs, ValidationError{Field: "email", Message: "Email format is invalid"})
	}

	switch {
	case req.Password == "":
		errs = append(errs, ValidationError{Field: "password", Message: "Password is required"})
	case len(req.Password) > maxPasswordLength:
		errs = append(errs, ValidationError{Field: "password", Message: fmt.Sprintf("Password must be at most %d characters", maxPasswordLength)})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateRegisterRequest validates a student sign up
func ValidateRegisterRequest(req *RegisterRequest) error {
	errs := validateAccount("name", req.Name, req.Email, req.Password)
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateRegisterSchoolRequest validates a school owner sign up
func ValidateRegisterSchoolRequest(req *RegisterSchoolRequest) error {
	var errs ValidationErrors
	errs = appendRequired(errs, "schoolName", "School name", req.SchoolName)
	errs = appendRequired(errs, "location", "Location", req.Location)
	errs = append(errs, validateAccount("adminName", req.AdminName, req.Email, req.Password)...)
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateAccount(nameField, name, email, password string) ValidationErrors {
	errs := appendRequired(nil, nameField, "Name", name)

	switch {
	case strings.TrimSpace(email) == "":
		errs = append(errs, ValidationError{Field: "email", Message: "Email is required"})
	case !IsValidEmail(email):
		errs = append(errs, ValidationError{Field: "email", Message: "Email format is invalid"})
	}

	switch {
	case len(password) < minPasswordLength:
		errs = append(errs, ValidationError{Field: "password", Message: fmt.Sprintf("Password must be at least %d characters", minPasswordLength)})
	case len(password) > maxPasswordLength:
		errs = append(errs, ValidationError{Field: "password", Message: fmt.Sprintf("Password must be at most %d characters", maxPasswordLength)})
	}
	return errs
}

func appendRequired(errs ValidationErrors, field, label, value string) ValidationErrors {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return append(errs, ValidationError{Field: field, Message: label + " is required"})
	case len(value) > maxNameLength:
		return append(errs, ValidationError{Field: field, Message: fmt.Sprintf("%s must be at most %d characters", label, maxNameLength)})
	}
	return errs
}

// IsValidEmail checks if an email address is valid
func IsValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	if len(email) > 254 {
		return false
	}
	return emailRegex.MatchString(email)
}

// SanitizeEmail normalizes an email address
func SanitizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
