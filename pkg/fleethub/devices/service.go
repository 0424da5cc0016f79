// Package devices implements the device model: fleet CRUD, the
// validate-all-then-write-all bulk import, and telemetry readings.
package devices

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jmcentee/fleethub/pkg/fleethub/apperr"
	"github.com/jmcentee/fleethub/pkg/fleethub/models"
)

// readingHistoryLimit caps the per-device reading history; the append
// path prunes the oldest rows past it.
const readingHistoryLimit = 100

// Service implements device operations against the store.
type Service struct {
	db *gorm.DB
}

// NewService creates a device service
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// CreateDeviceParams are the fields accepted when creating a device.
// The owner reference is not among them; ownership moves only through
// the assignment orchestrator.
type CreateDeviceParams struct {
	DeviceCode  string
	Name        string
	Type        string
	MACAddress  string
	Location    string
	Status      models.DeviceStatus
	TriggerTime int
}

// UpdateDeviceParams is the explicit allow-list for device updates.
type UpdateDeviceParams struct {
	Name        *string
	Type        *string
	Location    *string
	Status      *models.DeviceStatus
	TriggerTime *int
}

func (p CreateDeviceParams) validate() error {
	var missing []string
	if p.DeviceCode == "" {
		missing = append(missing, "device_code")
	}
	if p.Name == "" {
		missing = append(missing, "name")
	}
	if p.Type == "" {
		missing = append(missing, "type")
	}
	if p.MACAddress == "" {
		missing = append(missing, "mac_address")
	}
	if p.Location == "" {
		missing = append(missing, "location")
	}
	if len(missing) > 0 {
		return apperr.Validation("missing required fields", missing...)
	}
	if p.Status != "" && !p.Status.Valid() {
		return apperr.Validation(fmt.Sprintf("invalid status %q", p.Status))
	}
	return nil
}

func (p CreateDeviceParams) toModel() models.Device {
	status := p.Status
	if status == "" {
		status = models.DeviceStatusActive
	}
	trigger := p.TriggerTime
	if trigger == 0 {
		trigger = 900
	}
	return models.Device{
		DeviceCode:  p.DeviceCode,
		Name:        p.Name,
		Type:        p.Type,
		MACAddress:  p.MACAddress,
		Location:    p.Location,
		Status:      status,
		TriggerTime: trigger,
	}
}

// Create creates a single device.
func (s *Service) Create(params CreateDeviceParams) (models.Device, error) {
	if err := params.validate(); err != nil {
		return models.Device{}, err
	}

	device := params.toModel()
	if err := s.db.Create(&device).Error; err != nil {
		return models.Device{}, apperr.FromDB(err, "device code or MAC address already exists",
			device.DeviceCode, device.MACAddress)
	}
	return device, nil
}

// BulkImport creates every device in the batch or none of them. All
// records are validated first; a single invalid record fails the whole
// batch naming every invalid index. Then device codes are checked
// against storage and within the batch; any collision fails the whole
// batch naming the conflicting codes. Only a fully clean batch is
// written, in one transaction.
func (s *Service) BulkImport(batch []CreateDeviceParams) ([]models.Device, error) {
	if len(batch) == 0 {
		return nil, apperr.Validation("at least one device must be provided")
	}

	var invalid []string
	for i, params := range batch {
		if err := params.validate(); err != nil {
			invalid = append(invalid, fmt.Sprintf("index %d", i))
		}
	}
	if len(invalid) > 0 {
		return nil, apperr.Validation("some devices are missing required fields", invalid...)
	}

	codes := make([]string, len(batch))
	seen := make(map[string]bool, len(batch))
	var dupes []string
	for i, params := range batch {
		codes[i] = params.DeviceCode
		if seen[params.DeviceCode] {
			dupes = append(dupes, params.DeviceCode)
		}
		seen[params.DeviceCode] = true
	}
	if len(dupes) > 0 {
		return nil, apperr.DuplicateKey("batch contains duplicate device codes", dupes...)
	}

	var existing []models.Device
	if err := s.db.Where("device_code IN ?", codes).Find(&existing).Error; err != nil {
		return nil, apperr.Internal("failed to check existing devices", err)
	}
	if len(existing) > 0 {
		conflicts := make([]string, len(existing))
		for i, d := range existing {
			conflicts[i] = d.DeviceCode
		}
		return nil, apperr.DuplicateKey("some device codes already exist", conflicts...)
	}

	created := make([]models.Device, len(batch))
	for i, params := range batch {
		created[i] = params.toModel()
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&created).Error
	})
	if err != nil {
		// A MAC collision (or a raced code insert) still aborts the
		// whole batch at commit time.
		return nil, apperr.FromDB(err, "duplicate device code or MAC address in batch")
	}
	return created, nil
}

// Get fetches a device by id with its owner resolved.
func (s *Service) Get(id uint) (models.Device, error) {
	var device models.Device
	if err := s.db.Preload("AssignedUser").First(&device, id).Error; err != nil {
		return models.Device{}, apperr.FromDB(err, "device not found")
	}
	return device, nil
}

// ListFilter narrows List results.
type ListFilter struct {
	Status models.DeviceStatus
	Type   string
	// Unassigned selects only devices with no owner when true.
	Unassigned bool
}

// List returns devices matching the filter, owners resolved.
func (s *Service) List(filter ListFilter) ([]models.Device, error) {
	query := s.db.Preload("AssignedUser").Order("created_at DESC")
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Unassigned {
		query = query.Where("assigned_user_id IS NULL")
	}

	var out []models.Device
	if err := query.Find(&out).Error; err != nil {
		return nil, apperr.Internal("failed to fetch devices", err)
	}
	return out, nil
}

// ListByOwner returns the devices assigned to a user.
func (s *Service) ListByOwner(userID uint) ([]models.Device, error) {
	var out []models.Device
	if err := s.db.Where("assigned_user_id = ?", userID).Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, apperr.Internal("failed to fetch devices", err)
	}
	return out, nil
}

// Update applies the allow-listed descriptive fields. The owner
// reference is deliberately absent from the allow-list.
func (s *Service) Update(id uint, params UpdateDeviceParams) (models.Device, error) {
	device, err := s.Get(id)
	if err != nil {
		return models.Device{}, err
	}

	updates := map[string]interface{}{}
	if params.Name != nil {
		updates["name"] = *params.Name
	}
	if params.Type != nil {
		updates["type"] = *params.Type
	}
	if params.Location != nil {
		updates["location"] = *params.Location
	}
	if params.Status != nil {
		if !params.Status.Valid() {
			return models.Device{}, apperr.Validation(fmt.Sprintf("invalid status %q", *params.Status))
		}
		updates["status"] = *params.Status
	}
	if params.TriggerTime != nil {
		updates["trigger_time"] = *params.TriggerTime
	}
	if len(updates) == 0 {
		return device, nil
	}

	if err := s.db.Model(&device).Updates(updates).Error; err != nil {
		return models.Device{}, apperr.Internal("failed to update device", err)
	}
	return device, nil
}

// Delete removes a device. If it is currently assigned, the active
// assignment is revoked in the same transaction so the owner's cached
// set and the ledger stay consistent (deletion force-clears ownership).
func (s *Service) Delete(id uint) error {
	device, err := s.Get(id)
	if err != nil {
		return err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if device.Assigned() {
			ownerID := *device.AssignedUserID
			if err := tx.Where("user_id = ? AND device_id = ?", ownerID, device.ID).
				Delete(&models.Assignment{}).Error; err != nil {
				return err
			}
			var owner models.User
			if err := tx.First(&owner, ownerID).Error; err != nil {
				return err
			}
			owner.AssignedDevices = owner.AssignedDevices.Remove(device.ID)
			if err := tx.Model(&owner).Update("assigned_devices", owner.AssignedDevices).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("device_id = ?", device.ID).Delete(&models.Reading{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Device{}, device.ID).Error
	})
	if err != nil {
		return apperr.Internal("failed to delete device", err)
	}
	return nil
}

// AddReading appends a telemetry sample, refreshes the most-recent
// summary on the device, and prunes history past the cap — one
// transaction. Telemetry is independent of assignment.
func (s *Service) AddReading(deviceID uint, temperature, humidity float64) (models.Device, error) {
	device, err := s.Get(deviceID)
	if err != nil {
		return models.Device{}, err
	}

	now := time.Now()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		reading := models.Reading{
			DeviceID:    device.ID,
			Temperature: temperature,
			Humidity:    humidity,
			Timestamp:   now,
		}
		if err := tx.Create(&reading).Error; err != nil {
			return err
		}

		if err := tx.Model(&device).Updates(map[string]interface{}{
			"temperature":  temperature,
			"humidity":     humidity,
			"time_stamp":   now.Unix(),
			"last_reading": now,
		}).Error; err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&models.Reading{}).Where("device_id = ?", device.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > readingHistoryLimit {
			sub := tx.Model(&models.Reading{}).
				Select("id").
				Where("device_id = ?", device.ID).
				Order("timestamp DESC").
				Limit(readingHistoryLimit)
			if err := tx.Where("device_id = ? AND id NOT IN (?)", device.ID, sub).
				Delete(&models.Reading{}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return models.Device{}, apperr.Internal("failed to add reading", err)
	}

	device.Temperature = temperature
	device.Humidity = humidity
	device.TimeStamp = now.Unix()
	device.LastReading = now
	return device, nil
}

// LatestReadings returns up to limit samples, most recent first.
func (s *Service) LatestReadings(deviceID uint, limit int) ([]models.Reading, error) {
	if _, err := s.Get(deviceID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	var readings []models.Reading
	err := s.db.Where("device_id = ?", deviceID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&readings).Error
	if err != nil {
		return nil, apperr.Internal("failed to fetch readings", err)
	}
	return readings, nil
}
