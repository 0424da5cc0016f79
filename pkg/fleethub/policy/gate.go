// Package policy decides whether an authenticated principal may act on
// a target user's resources. Denials are explicit Forbidden errors;
// scope is never silently downgraded.
package policy

import (
	"errors"

	"gorm.io/gorm"

	"github.com/jmcentee/fleethub/pkg/fleethub/apperr"
	"github.com/jmcentee/fleethub/pkg/fleethub/models"
)

// Principal is the authenticated identity making a request, with its
// role tier already resolved.
type Principal struct {
	UserID uint
	Email  string
	Role   models.Role
}

// Tier is the capability level an action requires.
type Tier int

const (
	// TierSelf permits the target user themselves, plus any admin.
	TierSelf Tier = iota
	// TierAdmin permits admin and super-admin roles only.
	TierAdmin
	// TierSuperAdmin permits super-admin only.
	TierSuperAdmin
)

// Gate is the access policy decision point.
type Gate struct {
	db *gorm.DB
}

// NewGate creates a gate backed by db (needed for parent lookups).
func NewGate(db *gorm.DB) *Gate {
	return &Gate{db: db}
}

// Authorize decides whether principal may perform an action of the
// given tier against targetUserID. Self-service passes when the
// principal is the target; admin-scoped actions require role admin or
// above; super-admin-scoped actions require super-admin.
func (g *Gate) Authorize(principal Principal, targetUserID uint, tier Tier) error {
	switch tier {
	case TierSuperAdmin:
		if principal.Role == models.RoleSuperAdmin {
			return nil
		}
	case TierAdmin:
		if principal.Role.IsAdmin() {
			return nil
		}
	case TierSelf:
		if principal.UserID == targetUserID || principal.Role.IsAdmin() {
			return nil
		}
	}
	return apperr.Forbidden("not authorized to perform this action")
}

// AuthorizeSubUserAccess is Authorize at TierSelf with the additional
// allowance for the target's direct parent, who may manage sub-users
// without an admin role.
func (g *Gate) AuthorizeSubUserAccess(principal Principal, targetUserID uint) error {
	if err := g.Authorize(principal, targetUserID, TierSelf); err == nil {
		return nil
	}

	var target models.User
	if err := g.db.Select("id", "parent_user_id").First(&target, targetUserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.Forbidden("not authorized to perform this action")
		}
		return apperr.Internal("failed to resolve target user", err)
	}
	if target.ParentUserID != nil && *target.ParentUserID == principal.UserID {
		return nil
	}
	return apperr.Forbidden("not authorized to perform this action")
}
