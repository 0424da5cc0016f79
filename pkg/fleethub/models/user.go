package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Role represents a user's capability tier.
type Role string

const (
	RoleSuperAdmin Role = "super-admin"
	RoleAdmin      Role = "admin"
	RoleUser       Role = "user"
)

// Valid reports whether r is one of the known role tiers.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleUser:
		return true
	}
	return false
}

// IsAdmin reports whether the role is admin tier or above. The legacy
// is_admin boolean on the wire is derived from this, never stored.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// DeviceIDSet is an ordered set of device IDs stored as a JSON array.
// It is a derived cache of the assignment ledger and must only be
// written inside orchestrator transactions that also touch the ledger.
type DeviceIDSet []uint

// Contains reports whether id is in the set.
func (s DeviceIDSet) Contains(id uint) bool {
	for _, v := range s {
		if v == id {
			return true
		}
	}
	return false
}

// Add appends id if not already present, preserving insertion order.
func (s DeviceIDSet) Add(id uint) DeviceIDSet {
	if s.Contains(id) {
		return s
	}
	return append(s, id)
}

// Remove drops id from the set if present.
func (s DeviceIDSet) Remove(id uint) DeviceIDSet {
	out := s[:0]
	for _, v := range s {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// Value implements driver.Valuer so gorm can persist the set.
func (s DeviceIDSet) Value() (driver.Value, error) {
	if s == nil {
		s = DeviceIDSet{}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (s *DeviceIDSet) Scan(value interface{}) error {
	if value == nil {
		*s = DeviceIDSet{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("cannot scan %T into DeviceIDSet", value)
	}
}

// User represents an account in the system. Users are hard-deleted so
// unique emails can be reused after removal.
type User struct {
	ID              uint      `gorm:"primarykey" json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Email           string    `gorm:"uniqueIndex;not null" json:"email"`
	Name            string    `gorm:"not null" json:"name"`
	PasswordHash    string    `json:"-"`
	Role            Role      `gorm:"type:varchar(20);default:'user'" json:"role"`
	ProfileImageURL string    `json:"profile_image_url,omitempty"`

	// ParentUserID links a sub-user to its owning user. The child set is
	// derived from this foreign key, so parent and children change in a
	// single write.
	ParentUserID *uint  `gorm:"index" json:"parent_user_id,omitempty"`
	ParentUser   *User  `gorm:"foreignKey:ParentUserID" json:"parent_user,omitempty"`
	SubUsers     []User `gorm:"foreignKey:ParentUserID" json:"sub_users,omitempty"`

	// AssignedDevices mirrors the ledger's active entries for this user.
	AssignedDevices DeviceIDSet `gorm:"type:text" json:"assigned_devices"`

	Assignments []Assignment `gorm:"foreignKey:UserID" json:"assignments,omitempty"`
}

// IsSubUser reports whether the user is linked to a parent.
func (u *User) IsSubUser() bool {
	return u.ParentUserID != nil
}
