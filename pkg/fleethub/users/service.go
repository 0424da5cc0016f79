// Package users implements the identity model: user accounts, the
// admin/sub-user hierarchy, and the allow-listed mutation paths.
package users

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/jmcentee/fleethub/pkg/fleethub/apperr"
	"github.com/jmcentee/fleethub/pkg/fleethub/assignments"
	"github.com/jmcentee/fleethub/pkg/fleethub/auth"
	"github.com/jmcentee/fleethub/pkg/fleethub/models"
)

// Service implements identity operations against the store.
type Service struct {
	db *gorm.DB
}

// NewService creates a user service
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// CreateUserParams are the fields accepted when creating a user. Role
// defaults to user; sub-users are always created with role user.
type CreateUserParams struct {
	Name         string
	Email        string
	Password     string
	Role         models.Role
	ParentUserID *uint
}

// UpdateUserParams is the explicit allow-list for the generic update
// path. Credentials, role, parent links, and assigned devices are never
// writable here; they have dedicated operations.
type UpdateUserParams struct {
	Name            *string
	Email           *string
	ProfileImageURL *string
}

// Create creates a user, optionally linked to a parent.
func (s *Service) Create(params CreateUserParams) (models.User, error) {
	if params.Name == "" || params.Email == "" || params.Password == "" {
		return models.User{}, apperr.Validation("name, email and password are required")
	}

	role := params.Role
	if role == "" {
		role = models.RoleUser
	}
	if !role.Valid() {
		return models.User{}, apperr.Validation(fmt.Sprintf("invalid role %q", params.Role))
	}

	if params.ParentUserID != nil {
		// Sub-users cannot be admins.
		role = models.RoleUser
		var parent models.User
		if err := s.db.First(&parent, *params.ParentUserID).Error; err != nil {
			return models.User{}, apperr.FromDB(err, "parent user not found")
		}
		if parent.IsSubUser() {
			return models.User{}, apperr.Validation("a sub-user cannot have sub-users of its own")
		}
	}

	hash, err := auth.HashPassword(params.Password)
	if err != nil {
		return models.User{}, apperr.Internal("failed to process password", err)
	}

	user := models.User{
		Name:            params.Name,
		Email:           auth.NormalizeEmail(params.Email),
		PasswordHash:    hash,
		Role:            role,
		ParentUserID:    params.ParentUserID,
		AssignedDevices: models.DeviceIDSet{},
	}

	if err := s.db.Create(&user).Error; err != nil {
		return models.User{}, apperr.FromDB(err, "email already registered", user.Email)
	}
	return user, nil
}

// Get fetches a user by id.
func (s *Service) Get(id uint) (models.User, error) {
	var user models.User
	if err := s.db.First(&user, id).Error; err != nil {
		return models.User{}, apperr.FromDB(err, "user not found")
	}
	return user, nil
}

// FindByEmail fetches a user by its normalized email.
func (s *Service) FindByEmail(email string) (models.User, error) {
	var user models.User
	if err := s.db.Where("email = ?", auth.NormalizeEmail(email)).First(&user).Error; err != nil {
		return models.User{}, apperr.FromDB(err, "user not found")
	}
	return user, nil
}

// GetWithDevices fetches a user along with the devices it owns.
func (s *Service) GetWithDevices(id uint) (models.User, []models.Device, error) {
	user, err := s.Get(id)
	if err != nil {
		return models.User{}, nil, err
	}
	var devices []models.Device
	if err := s.db.Where("assigned_user_id = ?", id).Find(&devices).Error; err != nil {
		return models.User{}, nil, apperr.Internal("failed to fetch assigned devices", err)
	}
	return user, devices, nil
}

// List returns users, optionally filtered by a name/email search term
// and role.
func (s *Service) List(search string, role models.Role) ([]models.User, error) {
	query := s.db.Preload("ParentUser").Preload("SubUsers").Order("created_at DESC")
	if search != "" {
		query = query.Where("email LIKE ? OR name LIKE ?", "%"+search+"%", "%"+search+"%")
	}
	if role != "" {
		query = query.Where("role = ?", role)
	}

	var out []models.User
	if err := query.Find(&out).Error; err != nil {
		return nil, apperr.Internal("failed to fetch users", err)
	}
	return out, nil
}

// Update applies the allow-listed fields to a user. Unknown body fields
// never reach the store because only these pointers are consulted.
func (s *Service) Update(id uint, params UpdateUserParams) (models.User, error) {
	user, err := s.Get(id)
	if err != nil {
		return models.User{}, err
	}

	updates := map[string]interface{}{}
	if params.Name != nil {
		if *params.Name == "" {
			return models.User{}, apperr.Validation("name cannot be empty")
		}
		updates["name"] = *params.Name
	}
	if params.Email != nil {
		updates["email"] = auth.NormalizeEmail(*params.Email)
	}
	if params.ProfileImageURL != nil {
		updates["profile_image_url"] = *params.ProfileImageURL
	}
	if len(updates) == 0 {
		return user, nil
	}

	if err := s.db.Model(&user).Updates(updates).Error; err != nil {
		return models.User{}, apperr.FromDB(err, "email already registered")
	}
	return user, nil
}

// ChangeRole sets a user's role tier. This is the only path that can
// elevate capability.
func (s *Service) ChangeRole(id uint, role models.Role) (models.User, error) {
	if !role.Valid() {
		return models.User{}, apperr.Validation(fmt.Sprintf("invalid role %q", role))
	}

	user, err := s.Get(id)
	if err != nil {
		return models.User{}, err
	}
	if user.IsSubUser() && role != models.RoleUser {
		return models.User{}, apperr.Validation("sub-users cannot be admins")
	}

	if err := s.db.Model(&user).Update("role", role).Error; err != nil {
		return models.User{}, apperr.Internal("failed to update role", err)
	}
	user.Role = role
	return user, nil
}

// ChangePassword replaces the stored credential after verifying the
// current one.
func (s *Service) ChangePassword(id uint, currentPassword, newPassword string) error {
	user, err := s.Get(id)
	if err != nil {
		return err
	}

	if !auth.CheckPassword(currentPassword, user.PasswordHash) {
		return apperr.Forbidden("current password is incorrect")
	}
	if len(newPassword) < 8 {
		return apperr.Validation("password must be at least 8 characters")
	}

	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return apperr.Internal("failed to process password", err)
	}
	if err := s.db.Model(&user).Update("password_hash", hash).Error; err != nil {
		return apperr.Internal("failed to update password", err)
	}
	return nil
}

// Delete hard-deletes a user. The user's active assignments are revoked
// in the same transaction so devices return to the pool. Sub-users are
// unlinked by default; with cascade they are deleted too (their
// assignments likewise revoked). Both behaviors are explicit choices
// for the caller.
func (s *Service) Delete(id uint, cascade bool) error {
	user, err := s.Get(id)
	if err != nil {
		return err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := assignments.ReleaseAllIn(tx, user.ID); err != nil {
			return err
		}

		if cascade {
			var subUsers []models.User
			if err := tx.Where("parent_user_id = ?", user.ID).Find(&subUsers).Error; err != nil {
				return err
			}
			for _, sub := range subUsers {
				if err := assignments.ReleaseAllIn(tx, sub.ID); err != nil {
					return err
				}
				if err := tx.Delete(&models.User{}, sub.ID).Error; err != nil {
					return err
				}
			}
		} else {
			if err := tx.Model(&models.User{}).
				Where("parent_user_id = ?", user.ID).
				Update("parent_user_id", nil).Error; err != nil {
				return err
			}
		}

		return tx.Delete(&models.User{}, user.ID).Error
	})
	if err != nil {
		if apperr.KindOf(err) != apperr.KindInternal {
			return err
		}
		return apperr.Internal("failed to delete user", err)
	}
	return nil
}

// SubUsers lists the users directly linked to parentID.
func (s *Service) SubUsers(parentID uint) ([]models.User, error) {
	var out []models.User
	if err := s.db.Where("parent_user_id = ?", parentID).Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, apperr.Internal("failed to fetch sub-users", err)
	}
	return out, nil
}

// DeleteSubUser deletes a sub-user scoped to its parent. The scoping
// means a matching row must exist with that exact parent link.
func (s *Service) DeleteSubUser(parentID, subUserID uint) error {
	var sub models.User
	err := s.db.Where("id = ? AND parent_user_id = ?", subUserID, parentID).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("sub-user not found")
		}
		return apperr.Internal("failed to fetch sub-user", err)
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := assignments.ReleaseAllIn(tx, sub.ID); err != nil {
			return err
		}
		return tx.Delete(&models.User{}, sub.ID).Error
	})
	if err != nil {
		return apperr.Internal("failed to delete sub-user", err)
	}
	return nil
}
