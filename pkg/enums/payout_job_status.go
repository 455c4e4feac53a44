package enums

import "fmt"

// PayoutJobStatus maps to the payout_job_status enum in Postgres.
type PayoutJobStatus string

const (
	PayoutJobStatusQueued     PayoutJobStatus = "queued"
	PayoutJobStatusProcessing PayoutJobStatus = "processing"
	PayoutJobStatusCompleted  PayoutJobStatus = "completed"
	PayoutJobStatusFailed     PayoutJobStatus = "failed"
)

var validPayoutJobStatuss = []PayoutJobStatus{
	PayoutJobStatusQueued,
	PayoutJobStatusProcessing,
	PayoutJobStatusCompleted,
	PayoutJobStatusFailed,
}

func (p PayoutJobStatus) String() string {
	return string(p)
}

// IsValid reports whether the value matches the canonical payout job status enum.
func (p PayoutJobStatus) IsValid() bool {
	for _, candidate := range validPayoutJobStatuss {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePayoutJobStatus converts raw input into PayoutJobStatus.
func ParsePayoutJobStatus(value string) (PayoutJobStatus, error) {
	for _, candidate := range validPayoutJobStatuss {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payout job status %q", value)
}
