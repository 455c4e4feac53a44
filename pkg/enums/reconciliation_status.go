package enums

import "fmt"

// ReconciliationStatus maps to the reconciliation_status enum in Postgres.
type ReconciliationStatus string

const (
	ReconciliationMatched         ReconciliationStatus = "matched"
	ReconciliationMismatch        ReconciliationStatus = "mismatch"
	ReconciliationMissingInternal ReconciliationStatus = "missing_internal"
	ReconciliationMissingProvider ReconciliationStatus = "missing_provider"
)

var validReconciliationStatuss = []ReconciliationStatus{
	ReconciliationMatched,
	ReconciliationMismatch,
	ReconciliationMissingInternal,
	ReconciliationMissingProvider,
}

func (r ReconciliationStatus) String() string {
	return string(r)
}

// IsValid reports whether the value matches the canonical reconciliation status enum.
func (r ReconciliationStatus) IsValid() bool {
	for _, candidate := range validReconciliationStatuss {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseReconciliationStatus converts raw input into ReconciliationStatus.
func ParseReconciliationStatus(value string) (ReconciliationStatus, error) {
	for _, candidate := range validReconciliationStatuss {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid reconciliation status %q", value)
}
