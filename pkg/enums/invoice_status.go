package enums

import "fmt"

// InvoiceStatus maps to the invoice_status enum in Postgres.
type InvoiceStatus string

const (
	InvoiceStatusOpen    InvoiceStatus = "open"
	InvoiceStatusCharged InvoiceStatus = "charged"
	InvoiceStatusPaid    InvoiceStatus = "paid"
)

var validInvoiceStatuss = []InvoiceStatus{
	InvoiceStatusOpen,
	InvoiceStatusCharged,
	InvoiceStatusPaid,
}

// IsValid reports whether the value matches the canonical invoice status enum.
func (i InvoiceStatus) IsValid() bool {
	for _, candidate := range validInvoiceStatuss {
		if candidate == i {
			return true
		}
	}
	return false
}

// ParseInvoiceStatus converts raw input into InvoiceStatus.
func ParseInvoiceStatus(value string) (InvoiceStatus, error) {
	for _, candidate := range validInvoiceStatuss {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid invoice status %q", value)
}
