package database

import (
	"context"
	"fmt"
)

// Checker is anything that can report its own health
type Checker interface {
	Health(ctx context.Context) error
}

// CheckAll runs every named checker and returns the first failure
func CheckAll(ctx context.Context, checkers map[string]Checker) error {
	for name, c := range checkers {
		if err := c.Health(ctx); err != nil {
			return fmt.Errorf("%s unhealthy: %w", name, err)
		}
	}
	return nil
}
