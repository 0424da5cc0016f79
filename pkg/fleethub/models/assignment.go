package models

import "time"

// Assignment is the authoritative ledger record of an active user-device
// ownership. Rows are hard-deleted on revoke, so the unique index on
// DeviceID covers exactly the active set: it is the storage-level
// arbiter that at most one active assignment exists per device (which
// also makes each (user, device) pair unique while active).
type Assignment struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID   uint `gorm:"not null;index" json:"user_id"`
	DeviceID uint `gorm:"not null;uniqueIndex" json:"device_id"`

	AssignedAt   time.Time `gorm:"index" json:"assigned_at"`
	AssignedByID *uint     `json:"assigned_by_id,omitempty"`

	User       User   `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Device     Device `gorm:"foreignKey:DeviceID" json:"device,omitempty"`
	AssignedBy *User  `gorm:"foreignKey:AssignedByID;constraint:OnDelete:SET NULL" json:"assigned_by,omitempty"`
}
