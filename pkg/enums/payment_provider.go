package enums

import "fmt"

// PaymentProvider maps to the payment_provider enum in Postgres.
type PaymentProvider string

const (
	ProviderAsaas  PaymentProvider = "asaas"
	ProviderSquare PaymentProvider = "square"
)

var validPaymentProviders = []PaymentProvider{
	ProviderAsaas,
	ProviderSquare,
}

func (p PaymentProvider) String() string {
	return string(p)
}

// IsValid reports whether the value matches the canonical payment provider enum.
func (p PaymentProvider) IsValid() bool {
	for _, candidate := range validPaymentProviders {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentProvider converts raw input into PaymentProvider.
func ParsePaymentProvider(value string) (PaymentProvider, error) {
	for _, candidate := range validPaymentProviders {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment provider %q", value)
}
