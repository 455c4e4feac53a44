package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
	"github.com/angelmondragon/backoffice-payments/pkg/enums"
)

const bpsDenominator = 10000

// Service records and aggregates transaction effects.
type Service interface {
	WithTx(tx *gorm.DB) Service
	Record(ctx context.Context, input RecordEffectInput) (*models.TransactionEffect, error)
	PartnerBalance(ctx context.Context, partnerID uuid.UUID, from, to, heldAfter time.Time) (PartnerBalance, error)
	PaymentCredits(ctx context.Context, provider enums.PaymentProvider, externalRef string) (int64, bool, error)
	PaymentRefs(ctx context.Context, provider enums.PaymentProvider, since time.Time) ([]string, error)
	Entries(ctx context.Context, targetType enums.EffectTargetType, targetID uuid.UUID) ([]models.TransactionEffect, error)
}

type service struct {
	repo Repository
}

// RecordEffectInput captures the immutable data a ledger entry requires.
type RecordEffectInput struct {
	SourceType       string
	SourceID         uuid.UUID
	TargetType       enums.EffectTargetType
	TargetID         uuid.UUID
	Direction        enums.EffectDirection
	Kind             enums.EffectKind
	AmountCents      int64
	ExternalProvider *enums.PaymentProvider
	ExternalRef      *string
	IdempotencyKey   string
	OccurredAt       time.Time
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	return &service{repo: s.repo.WithTx(tx)}
}

// Record appends an effect. A replay with the same idempotency key returns the
// stored effect unchanged.
func (s *service) Record(ctx context.Context, input RecordEffectInput) (*models.TransactionEffect, error) {
	if strings.TrimSpace(input.SourceType) == "" {
		return nil, fmt.Errorf("source type is required")
	}
	if input.SourceID == uuid.Nil {
		return nil, fmt.Errorf("source id is required")
	}
	if input.TargetID == uuid.Nil {
		return nil, fmt.Errorf("target id is required")
	}
	if !input.TargetType.IsValid() {
		return nil, fmt.Errorf("invalid effect target type %q", input.TargetType)
	}
	if !input.Direction.IsValid() {
		return nil, fmt.Errorf("invalid effect direction %q", input.Direction)
	}
	if !input.Kind.IsValid() {
		return nil, fmt.Errorf("invalid effect kind %q", input.Kind)
	}
	if input.AmountCents < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	if strings.TrimSpace(input.IdempotencyKey) == "" {
		return nil, fmt.Errorf("idempotency key is required")
	}
	if input.OccurredAt.IsZero() {
		return nil, fmt.Errorf("occurred at is required")
	}

	effect := &models.TransactionEffect{
		SourceType:       input.SourceType,
		SourceID:         input.SourceID,
		TargetType:       input.TargetType,
		TargetID:         input.TargetID,
		Direction:        input.Direction,
		Kind:             input.Kind,
		AmountCents:      input.AmountCents,
		ExternalProvider: input.ExternalProvider,
		ExternalRef:      input.ExternalRef,
		IdempotencyKey:   input.IdempotencyKey,
		OccurredAt:       input.OccurredAt.UTC(),
	}
	inserted, err := s.repo.InsertIfAbsent(ctx, effect)
	if err != nil {
		return nil, err
	}
	if inserted {
		return effect, nil
	}
	return s.repo.FindByIdempotencyKey(ctx, input.IdempotencyKey)
}

func (s *service) PartnerBalance(ctx context.Context, partnerID uuid.UUID, from, to, heldAfter time.Time) (PartnerBalance, error) {
	if partnerID == uuid.Nil {
		return PartnerBalance{}, fmt.Errorf("partner id is required")
	}
	return s.repo.SumPartnerBalance(ctx, partnerID, from, to, heldAfter)
}

// PaymentCredits reports the tenant credits for a gateway payment and whether any exist.
func (s *service) PaymentCredits(ctx context.Context, provider enums.PaymentProvider, externalRef string) (int64, bool, error) {
	total, count, err := s.repo.SumPaymentCredits(ctx, provider, externalRef)
	if err != nil {
		return 0, false, err
	}
	return total, count > 0, nil
}

func (s *service) PaymentRefs(ctx context.Context, provider enums.PaymentProvider, since time.Time) ([]string, error) {
	return s.repo.ListPaymentRefs(ctx, provider, since)
}

// Entries lists the effects booked against one balance in occurrence order.
func (s *service) Entries(ctx context.Context, targetType enums.EffectTargetType, targetID uuid.UUID) ([]models.TransactionEffect, error) {
	if !targetType.IsValid() {
		return nil, fmt.Errorf("invalid effect target type %q", targetType)
	}
	if targetID == uuid.Nil {
		return nil, fmt.Errorf("target id is required")
	}
	return s.repo.ListByTarget(ctx, targetType, targetID)
}

// Commission applies basis points to an amount, rounding down.
func Commission(amountCents, bps int64) int64 {
	if amountCents <= 0 || bps <= 0 {
		return 0
	}
	return decimal.NewFromInt(amountCents).
		Mul(decimal.NewFromInt(bps)).
		Div(decimal.NewFromInt(bpsDenominator)).
		Floor().
		IntPart()
}

// PaymentKey is the idempotency key of the effect a gateway payment produces
// for one target.
func PaymentKey(provider enums.PaymentProvider, paymentID string, kind enums.EffectKind) string {
	return fmt.Sprintf("payment:%s:%s:%s", provider, paymentID, kind)
}

// PayoutKey is the idempotency key of the debit booked for a payout job.
func PayoutKey(jobID uuid.UUID) string {
	return "payout:" + jobID.String()
}
