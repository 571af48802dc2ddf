package auth

import (
	"errors"

	"formbase/backend/schema"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrInsufficientRole = errors.New("caller's workspace role does not permit this operation")

// RequireWorkspaceRole checks that the caller holds at least the required
// role in the workspace. A missing membership surfaces as
// schema.ErrMembershipNotFound so callers can report it as not found rather
// than reveal that the workspace exists.
func RequireWorkspaceRole(txn *gorm.DB, workspaceId, userId uuid.UUID, requiredRole string) error {
	member, err := schema.GetMembership(workspaceId, userId, txn)
	if err != nil {
		return err
	}
	if !schema.RoleAtLeast(member.Role, requiredRole) {
		return ErrInsufficientRole
	}
	return nil
}
