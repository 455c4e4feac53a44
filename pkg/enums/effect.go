package enums

import "fmt"

// EffectTargetType maps to the effect_target_type enum in Postgres.
type EffectTargetType string

const (
	EffectTargetTenantBalance  EffectTargetType = "tenant_balance"
	EffectTargetPartnerBalance EffectTargetType = "partner_balance"
)

var validEffectTargetTypes = []EffectTargetType{
	EffectTargetTenantBalance,
	EffectTargetPartnerBalance,
}

// IsValid reports whether the value matches the canonical effect target type enum.
func (e EffectTargetType) IsValid() bool {
	for _, candidate := range validEffectTargetTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseEffectTargetType converts raw input into EffectTargetType.
func ParseEffectTargetType(value string) (EffectTargetType, error) {
	for _, candidate := range validEffectTargetTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid effect target type %q", value)
}

// EffectDirection maps to the effect_direction enum in Postgres.
type EffectDirection string

const (
	EffectDirectionCredit EffectDirection = "credit"
	EffectDirectionDebit  EffectDirection = "debit"
)

var validEffectDirections = []EffectDirection{
	EffectDirectionCredit,
	EffectDirectionDebit,
}

// IsValid reports whether the value matches the canonical effect direction enum.
func (e EffectDirection) IsValid() bool {
	for _, candidate := range validEffectDirections {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseEffectDirection converts raw input into EffectDirection.
func ParseEffectDirection(value string) (EffectDirection, error) {
	for _, candidate := range validEffectDirections {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid effect direction %q", value)
}

// EffectKind maps to the effect_kind enum in Postgres.
type EffectKind string

const (
	EffectKindPayment    EffectKind = "payment"
	EffectKindCommission EffectKind = "commission"
	EffectKindPayout     EffectKind = "payout"
	EffectKindAdjustment EffectKind = "adjustment"
)

var validEffectKinds = []EffectKind{
	EffectKindPayment,
	EffectKindCommission,
	EffectKindPayout,
	EffectKindAdjustment,
}

// IsValid reports whether the value matches the canonical effect kind enum.
func (e EffectKind) IsValid() bool {
	for _, candidate := range validEffectKinds {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseEffectKind converts raw input into EffectKind.
func ParseEffectKind(value string) (EffectKind, error) {
	for _, candidate := range validEffectKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid effect kind %q", value)
}
