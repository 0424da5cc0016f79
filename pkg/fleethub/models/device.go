package models

import "time"

// DeviceStatus represents a device's operating status
type DeviceStatus string

const (
	DeviceStatusActive      DeviceStatus = "active"
	DeviceStatusInactive    DeviceStatus = "inactive"
	DeviceStatusMaintenance DeviceStatus = "maintenance"
)

// Valid reports whether s is a known operating status.
func (s DeviceStatus) Valid() bool {
	switch s {
	case DeviceStatusActive, DeviceStatusInactive, DeviceStatusMaintenance:
		return true
	}
	return false
}

// Device represents a physical or logical device in the fleet.
// AssignedUserID is the owner reference; nil means unassigned. It is
// written exclusively by the assignment orchestrator.
type Device struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	DeviceCode string       `gorm:"uniqueIndex;not null" json:"device_code"`
	Name       string       `gorm:"not null" json:"name"`
	Type       string       `gorm:"not null" json:"type"`
	Status     DeviceStatus `gorm:"type:varchar(20);default:'active'" json:"status"`
	MACAddress string       `gorm:"uniqueIndex;not null" json:"mac_address"`
	Location   string       `gorm:"not null" json:"location"`

	// TriggerTime is the reporting interval in seconds.
	TriggerTime int `gorm:"default:900" json:"trigger_time"`

	// Most-recent telemetry summary. Never consulted for assignment
	// eligibility.
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	TimeStamp   int64     `json:"time_stamp"`
	LastReading time.Time `json:"last_reading"`

	AssignedUserID *uint `gorm:"index" json:"assigned_user_id,omitempty"`
	AssignedUser   *User `gorm:"foreignKey:AssignedUserID" json:"assigned_user,omitempty"`

	Readings []Reading `gorm:"foreignKey:DeviceID" json:"readings,omitempty"`
}

// Assigned reports whether the device currently has an owner.
func (d *Device) Assigned() bool {
	return d.AssignedUserID != nil
}

// Reading is a single telemetry sample. History is capped per device;
// the append path prunes the oldest rows past the cap.
type Reading struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	DeviceID    uint      `gorm:"index;not null" json:"device_id"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Timestamp   time.Time `gorm:"index" json:"timestamp"`
}
