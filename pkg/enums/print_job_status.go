package enums

import "fmt"

// PrintJobStatus maps to the print_job_status enum in Postgres.
type PrintJobStatus string

const (
	PrintJobStatusQueued   PrintJobStatus = "queued"
	PrintJobStatusClaimed  PrintJobStatus = "claimed"
	PrintJobStatusPrinting PrintJobStatus = "printing"
	PrintJobStatusPrinted  PrintJobStatus = "printed"
	PrintJobStatusFailed   PrintJobStatus = "failed"
)

var validPrintJobStatuss = []PrintJobStatus{
	PrintJobStatusQueued,
	PrintJobStatusClaimed,
	PrintJobStatusPrinting,
	PrintJobStatusPrinted,
	PrintJobStatusFailed,
}

func (p PrintJobStatus) String() string {
	return string(p)
}

// IsValid reports whether the value matches the canonical print job status enum.
func (p PrintJobStatus) IsValid() bool {
	for _, candidate := range validPrintJobStatuss {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePrintJobStatus converts raw input into PrintJobStatus.
func ParsePrintJobStatus(value string) (PrintJobStatus, error) {
	for _, candidate := range validPrintJobStatuss {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid print job status %q", value)
}
