// Package assignments holds the ownership core: the ledger of active
// user-device assignments and the orchestrator that mutates it together
// with the device owner reference and the user's cached device set.
package assignments

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/jmcentee/fleethub/pkg/fleethub/apperr"
	"github.com/jmcentee/fleethub/pkg/fleethub/models"
)

// Ledger is the authoritative record of active assignments. It wraps a
// *gorm.DB so the orchestrator can point one at a transaction.
type Ledger struct {
	db *gorm.DB
}

// NewLedger creates a ledger over db, which may be a transaction handle.
func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Record inserts an active assignment. The unique index on device_id is
// the arbiter: a pre-existing entry and a raced concurrent insert both
// surface as the same ConflictError.
func (l *Ledger) Record(userID, deviceID uint, assignedBy *uint) (models.Assignment, error) {
	entry := models.Assignment{
		UserID:       userID,
		DeviceID:     deviceID,
		AssignedAt:   time.Now(),
		AssignedByID: assignedBy,
	}
	if err := l.db.Create(&entry).Error; err != nil {
		terr := apperr.FromDB(err, "failed to record assignment")
		if apperr.KindOf(terr) == apperr.KindDuplicateKey {
			return models.Assignment{}, apperr.Conflict("device already assigned")
		}
		return models.Assignment{}, terr
	}
	return entry, nil
}

// Revoke deletes the active assignment with the given id.
func (l *Ledger) Revoke(assignmentID uint) error {
	result := l.db.Delete(&models.Assignment{}, assignmentID)
	if result.Error != nil {
		return apperr.Internal("failed to revoke assignment", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound("assignment not found")
	}
	return nil
}

// RevokePair deletes the active assignment for a (user, device) pair.
func (l *Ledger) RevokePair(userID, deviceID uint) error {
	result := l.db.Where("user_id = ? AND device_id = ?", userID, deviceID).
		Delete(&models.Assignment{})
	if result.Error != nil {
		return apperr.Internal("failed to revoke assignment", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound("assignment not found")
	}
	return nil
}

// Get fetches a single ledger entry by id.
func (l *Ledger) Get(assignmentID uint) (models.Assignment, error) {
	var entry models.Assignment
	if err := l.db.First(&entry, assignmentID).Error; err != nil {
		return models.Assignment{}, apperr.FromDB(err, "assignment not found")
	}
	return entry, nil
}

// ListByUser returns the user's active entries, most recent first, with
// the device and assigning admin resolved.
func (l *Ledger) ListByUser(userID uint) ([]models.Assignment, error) {
	var entries []models.Assignment
	err := l.db.Preload("Device").Preload("AssignedBy").
		Where("user_id = ?", userID).
		Order("assigned_at DESC").
		Find(&entries).Error
	if err != nil {
		return nil, apperr.Internal("failed to list assignments", err)
	}
	return entries, nil
}

// ExistsActiveForDevice reports whether the device has an active entry.
func (l *Ledger) ExistsActiveForDevice(deviceID uint) (bool, error) {
	var count int64
	err := l.db.Model(&models.Assignment{}).Where("device_id = ?", deviceID).Count(&count).Error
	if err != nil {
		return false, apperr.Internal("failed to check assignment", err)
	}
	return count > 0, nil
}

// activeForDevice returns the active entry for a device, if any.
func (l *Ledger) activeForDevice(deviceID uint) (*models.Assignment, error) {
	var entry models.Assignment
	err := l.db.Where("device_id = ?", deviceID).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, apperr.Internal("failed to fetch assignment", err)
	}
	return &entry, nil
}
