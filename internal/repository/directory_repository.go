package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-office-bills/internal/platform/auth"
	"github.com/pesio-ai/be-office-bills/internal/platform/database"
	"github.com/pesio-ai/be-office-bills/internal/platform/errors"
)

// DirectoryRepository resolves roles to users from user_roles / profiles and
// reads the caller's identity from the request context.
type DirectoryRepository struct {
	db *database.DB
}

// NewDirectoryRepository creates a new DirectoryRepository.
func NewDirectoryRepository(db *database.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// FindByRole returns one user holding role, or nil when nobody does.
// When several users hold the role the lowest user_id wins so repeated
// lookups are stable.
func (r *DirectoryRepository) FindByRole(ctx context.Context, role Role) (*Identity, error) {
	query := `
		SELECT ur.user_id, COALESCE(p.full_name, ''), p.department
		FROM user_roles ur
		LEFT JOIN profiles p ON p.user_id = ur.user_id
		WHERE ur.role = $1::app_role
		ORDER BY ur.user_id ASC
		LIMIT 1
	`

	id := &Identity{}
	err := r.db.QueryRow(ctx, query, role).Scan(&id.UserID, &id.FullName, &id.Department)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to look up role holder")
	}
	return id, nil
}

// RolesOf lists the roles assigned to a user.
func (r *DirectoryRepository) RolesOf(ctx context.Context, userID string) ([]Role, error) {
	rows, err := r.db.Query(ctx, `SELECT role::text FROM user_roles WHERE user_id = $1 ORDER BY role`, userID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list user roles")
	}
	defer rows.Close()

	roles := make([]Role, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan user role")
		}
		roles = append(roles, Role(name))
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list user roles")
	}
	return roles, nil
}

// CurrentIdentity returns the authenticated caller. It fails with
// UNAUTHORIZED when the context carries no user.
func (r *DirectoryRepository) CurrentIdentity(ctx context.Context) (*Identity, error) {
	return CurrentIdentityFromContext(ctx)
}

// CurrentIdentityFromContext reads the caller placed on ctx by the auth
// middleware or interceptor.
func CurrentIdentityFromContext(ctx context.Context) (*Identity, error) {
	user, err := auth.GetUserContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeUnauthorized, "no authenticated user")
	}
	return &Identity{UserID: user.UserID, FullName: user.Email}, nil
}
