package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/backoffice-payments/pkg/enums"
)

const (
	// DeviceHashLegacy is a bare SHA-256 of the token.
	DeviceHashLegacy = 1
	// DeviceHashHMAC is HMAC-SHA256 of the token under the server secret.
	DeviceHashHMAC = 2
)

// Device is a registered print peripheral.
type Device struct {
	ID          uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	TenantID    uuid.UUID          `gorm:"column:tenant_id;type:uuid;not null;uniqueIndex:ux_devices_tenant_name"`
	Name        string             `gorm:"column:name;not null;uniqueIndex:ux_devices_tenant_name"`
	SecretHash  string             `gorm:"column:secret_hash;not null;index"`
	HashVersion int                `gorm:"column:hash_version;not null;default:2"`
	Enabled     bool               `gorm:"column:enabled;not null;default:true"`
	Status      enums.DeviceStatus `gorm:"column:status;type:device_status;not null"`
	LastSeenAt  *time.Time         `gorm:"column:last_seen_at"`
	CreatedAt   time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (d *Device) BeforeCreate(*gorm.DB) error {
	ensureID(&d.ID)
	return nil
}
