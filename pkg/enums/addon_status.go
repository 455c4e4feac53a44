package enums

import "fmt"

// AddonStatus maps to the addon_status enum in Postgres.
type AddonStatus string

const (
	AddonStatusNotStarted AddonStatus = "not_started"
	AddonStatusTrial      AddonStatus = "trial"
	AddonStatusActive     AddonStatus = "active"
	AddonStatusExpired    AddonStatus = "expired"
	AddonStatusCancelled  AddonStatus = "cancelled"
)

var validAddonStatuss = []AddonStatus{
	AddonStatusNotStarted,
	AddonStatusTrial,
	AddonStatusActive,
	AddonStatusExpired,
	AddonStatusCancelled,
}

// IsValid reports whether the value matches the canonical addon status enum.
func (a AddonStatus) IsValid() bool {
	for _, candidate := range validAddonStatuss {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAddonStatus converts raw input into AddonStatus.
func ParseAddonStatus(value string) (AddonStatus, error) {
	for _, candidate := range validAddonStatuss {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid addon status %q", value)
}
