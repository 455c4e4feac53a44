package enums

import "fmt"

// DeviceStatus maps to the device_status enum in Postgres.
type DeviceStatus string

const (
	DeviceStatusOnline  DeviceStatus = "online"
	DeviceStatusOffline DeviceStatus = "offline"
)

var validDeviceStatuss = []DeviceStatus{
	DeviceStatusOnline,
	DeviceStatusOffline,
}

// IsValid reports whether the value matches the canonical device status enum.
func (d DeviceStatus) IsValid() bool {
	for _, candidate := range validDeviceStatuss {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDeviceStatus converts raw input into DeviceStatus.
func ParseDeviceStatus(value string) (DeviceStatus, error) {
	for _, candidate := range validDeviceStatuss {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid device status %q", value)
}
