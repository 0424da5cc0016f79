package assignments

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/jmcentee/fleethub/pkg/fleethub/apperr"
	"github.com/jmcentee/fleethub/pkg/fleethub/models"
)

// Orchestrator executes assignment workflows as single transactional
// units. Every mutation keeps three representations in agreement: the
// device owner reference, the ledger's active entry, and the owning
// user's cached device set. Any failure aborts the whole scope.
type Orchestrator struct {
	db *gorm.DB
}

// NewOrchestrator creates an orchestrator over db.
func NewOrchestrator(db *gorm.DB) *Orchestrator {
	return &Orchestrator{db: db}
}

// Assign gives one device to one user and returns the user with its
// refreshed device set. If the device is owned by someone else this
// fails with a conflict; the pre-check is an optimization only, the
// ledger's unique index decides races at commit time and surfaces the
// same conflict.
func (o *Orchestrator) Assign(userID, deviceID uint, assignedBy *uint) (models.User, error) {
	var user models.User
	if err := o.db.First(&user, userID).Error; err != nil {
		return models.User{}, apperr.FromDB(err, "user not found")
	}
	var device models.Device
	if err := o.db.First(&device, deviceID).Error; err != nil {
		return models.User{}, apperr.FromDB(err, "device not found")
	}

	if device.Assigned() && *device.AssignedUserID != userID {
		return models.User{}, apperr.Conflict("device already assigned", fmt.Sprint(deviceID))
	}

	err := o.db.Transaction(func(tx *gorm.DB) error {
		ledger := NewLedger(tx)

		if err := tx.Model(&device).Update("assigned_user_id", userID).Error; err != nil {
			return apperr.Internal("failed to set device owner", err)
		}

		user.AssignedDevices = user.AssignedDevices.Add(deviceID)
		if err := tx.Model(&user).Update("assigned_devices", user.AssignedDevices).Error; err != nil {
			return apperr.Internal("failed to update user device set", err)
		}

		// Re-assigning a device the user already owns repairs the cache
		// without a second ledger row.
		existing, err := ledger.activeForDevice(deviceID)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.UserID != userID {
				return apperr.Conflict("device already assigned", fmt.Sprint(deviceID))
			}
			return nil
		}

		_, err = ledger.Record(userID, deviceID, assignedBy)
		return err
	})
	if err != nil {
		return models.User{}, err
	}
	return user, nil
}

// BulkAssign gives every device in deviceIDs to one user, or none of
// them. Missing devices fail the whole batch naming every missing id;
// devices already owned fail it naming exactly the owned ids.
func (o *Orchestrator) BulkAssign(userID uint, deviceIDs []uint, assignedBy *uint) (models.User, error) {
	if len(deviceIDs) == 0 {
		return models.User{}, apperr.Validation("at least one device must be provided")
	}

	var user models.User
	if err := o.db.First(&user, userID).Error; err != nil {
		return models.User{}, apperr.FromDB(err, "user not found")
	}

	var devices []models.Device
	if err := o.db.Where("id IN ?", deviceIDs).Find(&devices).Error; err != nil {
		return models.User{}, apperr.Internal("failed to fetch devices", err)
	}
	if len(devices) != len(deviceIDs) {
		found := make(map[uint]bool, len(devices))
		for _, d := range devices {
			found[d.ID] = true
		}
		var missing []string
		for _, id := range deviceIDs {
			if !found[id] {
				missing = append(missing, fmt.Sprint(id))
			}
		}
		return models.User{}, apperr.NotFound("some devices do not exist", missing...)
	}

	var owned []string
	for _, d := range devices {
		if d.Assigned() {
			owned = append(owned, fmt.Sprint(d.ID))
		}
	}
	if len(owned) > 0 {
		return models.User{}, apperr.Conflict("some devices are already assigned", owned...)
	}

	err := o.db.Transaction(func(tx *gorm.DB) error {
		ledger := NewLedger(tx)

		if err := tx.Model(&models.Device{}).
			Where("id IN ?", deviceIDs).
			Update("assigned_user_id", userID).Error; err != nil {
			return apperr.Internal("failed to set device owners", err)
		}

		for _, id := range deviceIDs {
			user.AssignedDevices = user.AssignedDevices.Add(id)
			// One ledger row per device: the cached set never gains an
			// entry without its authoritative counterpart.
			if _, err := ledger.Record(userID, id, assignedBy); err != nil {
				return err
			}
		}
		if err := tx.Model(&user).Update("assigned_devices", user.AssignedDevices).Error; err != nil {
			return apperr.Internal("failed to update user device set", err)
		}
		return nil
	})
	if err != nil {
		return models.User{}, err
	}
	return user, nil
}

// Unassign removes a device from its owner. If the device is not
// currently assigned to that user nothing changes and NotFound is
// returned.
func (o *Orchestrator) Unassign(userID, deviceID uint) error {
	var user models.User
	if err := o.db.First(&user, userID).Error; err != nil {
		return apperr.FromDB(err, "user not found")
	}
	var device models.Device
	if err := o.db.First(&device, deviceID).Error; err != nil {
		return apperr.FromDB(err, "device not found")
	}

	return o.db.Transaction(func(tx *gorm.DB) error {
		ledger := NewLedger(tx)
		if err := ledger.RevokePair(userID, deviceID); err != nil {
			return err
		}

		if err := tx.Model(&device).Update("assigned_user_id", nil).Error; err != nil {
			return apperr.Internal("failed to clear device owner", err)
		}

		user.AssignedDevices = user.AssignedDevices.Remove(deviceID)
		if err := tx.Model(&user).Update("assigned_devices", user.AssignedDevices).Error; err != nil {
			return apperr.Internal("failed to update user device set", err)
		}
		return nil
	})
}

// Revoke tears down the assignment with the given ledger id, keeping
// the device owner reference and the user's cached set in step. The
// ledger row is never removed on its own.
func (o *Orchestrator) Revoke(assignmentID uint) error {
	entry, err := NewLedger(o.db).Get(assignmentID)
	if err != nil {
		return err
	}
	return o.Unassign(entry.UserID, entry.DeviceID)
}

// ReleaseAllIn revokes every active assignment held by userID inside an
// already-open transaction. Used when a user is removed so devices
// return to the pool atomically with the removal.
func ReleaseAllIn(tx *gorm.DB, userID uint) error {
	if err := tx.Model(&models.Device{}).
		Where("assigned_user_id = ?", userID).
		Update("assigned_user_id", nil).Error; err != nil {
		return apperr.Internal("failed to clear device owners", err)
	}
	if err := tx.Where("user_id = ?", userID).Delete(&models.Assignment{}).Error; err != nil {
		return apperr.Internal("failed to revoke assignments", err)
	}
	if err := tx.Model(&models.User{}).
		Where("id = ?", userID).
		Update("assigned_devices", models.DeviceIDSet{}).Error; err != nil {
		return apperr.Internal("failed to clear user device set", err)
	}
	return nil
}
