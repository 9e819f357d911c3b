package service

import (
	"context"
	"slices"

	"github.com/pesio-ai/be-office-bills/internal/repository"
)

// RoleDirectory lists the roles a user holds.
type RoleDirectory interface {
	RolesOf(ctx context.Context, userID string) ([]repository.Role, error)
}

// hasAnyRole reports whether userID holds at least one of want.
func hasAnyRole(ctx context.Context, dir RoleDirectory, userID string, want ...repository.Role) (bool, error) {
	if userID == "" {
		return false, nil
	}
	held, err := dir.RolesOf(ctx, userID)
	if err != nil {
		return false, persistenceFailure(err, "look up user roles")
	}
	for _, r := range held {
		if slices.Contains(want, r) {
			return true, nil
		}
	}
	return false, nil
}

// requireRole returns denied unless userID holds one of want.
func requireRole(ctx context.Context, dir RoleDirectory, userID string, denied error, want ...repository.Role) error {
	ok, err := hasAnyRole(ctx, dir, userID, want...)
	if err != nil {
		return err
	}
	if !ok {
		return denied
	}
	return nil
}
