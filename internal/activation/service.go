package activation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/backoffice-payments/internal/ledger"
	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
	"github.com/angelmondragon/backoffice-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/backoffice-payments/pkg/errors"
	"github.com/angelmondragon/backoffice-payments/pkg/logger"
)

const (
	// BillingPeriod is how long one payment entitles a plan or module.
	BillingPeriod = 30 * 24 * time.Hour
	// TrialPeriod is the length of a module trial.
	TrialPeriod = 7 * 24 * time.Hour

	sourcePaymentEvent = "payment_event"
)

// ErrPaymentAlreadyApplied reports that another event already booked the
// gateway payment, so the entitlement was left untouched.
var ErrPaymentAlreadyApplied = errors.New("payment already applied by another event")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	Repo              Repository
	Ledger            ledger.Service
	TransactionRunner txRunner
	Logger            *logger.Logger
}

// Service drives the plan and module entitlement state machine.
type Service struct {
	repo     Repository
	ledger   ledger.Service
	txRunner txRunner
	logg     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "activation repo required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger service required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		repo:     params.Repo,
		ledger:   params.Ledger,
		txRunner: params.TransactionRunner,
		logg:     params.Logger,
	}, nil
}

// Payment is the gateway payment that funds an activation.
type Payment struct {
	EventID     uuid.UUID
	Provider    enums.PaymentProvider
	PaymentID   string
	Method      enums.PaymentMethod
	AmountCents int64
	PaidAt      time.Time
}

type PlanActivation struct {
	TenantID uuid.UUID
	PlanID   uuid.UUID
	Payment
}

type ModuleActivation struct {
	TenantID uuid.UUID
	ModuleID uuid.UUID
	Payment
}

// ActivatePlan books the payment and overwrites the tenant's plan with a fresh
// period starting at the payment time. A payment booked by a different event
// returns ErrPaymentAlreadyApplied. tx may be nil.
func (s *Service) ActivatePlan(ctx context.Context, tx *gorm.DB, in PlanActivation) (*models.TenantSubscription, error) {
	if err := in.Payment.validate(); err != nil {
		return nil, err
	}
	var out *models.TenantSubscription
	err := s.inTx(ctx, tx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		tenant, err := repo.FindTenant(ctx, in.TenantID)
		if err != nil {
			return notFound(err, "tenant not found")
		}
		if _, err := repo.FindPlan(ctx, in.PlanID); err != nil {
			return notFound(err, "plan not found")
		}
		if err := s.bookPayment(ctx, tx, tenant, in.Payment); err != nil {
			return err
		}

		paidAt := in.PaidAt.UTC()
		method := in.Method
		provider := in.Provider
		out, err = repo.UpsertSubscription(ctx, &models.TenantSubscription{
			TenantID:            tenant.ID,
			PlanID:              in.PlanID,
			Status:              enums.SubscriptionStatusActive,
			PeriodStart:         paidAt,
			PeriodEnd:           paidAt.Add(BillingPeriod),
			LastPaymentMethod:   &method,
			LastPaymentProvider: &provider,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert tenant subscription")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ActivateModule books the payment and upserts an active module entitlement for
// the paid period. Like ActivatePlan it applies each gateway payment once. tx
// may be nil.
func (s *Service) ActivateModule(ctx context.Context, tx *gorm.DB, in ModuleActivation) (*models.AddonSubscription, error) {
	if err := in.Payment.validate(); err != nil {
		return nil, err
	}
	var out *models.AddonSubscription
	err := s.inTx(ctx, tx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		tenant, err := repo.FindTenant(ctx, in.TenantID)
		if err != nil {
			return notFound(err, "tenant not found")
		}
		if _, err := repo.FindModule(ctx, in.ModuleID); err != nil {
			return notFound(err, "module not found")
		}
		if err := s.bookPayment(ctx, tx, tenant, in.Payment); err != nil {
			return err
		}

		paidAt := in.PaidAt.UTC()
		expires := paidAt.Add(BillingPeriod)
		out, err = repo.UpsertAddon(ctx, &models.AddonSubscription{
			TenantID:       tenant.ID,
			ModuleID:       in.ModuleID,
			Status:         enums.AddonStatusActive,
			StartedAt:      &paidAt,
			ExpiresAt:      &expires,
			TrialEndsAt:    nil,
			IsFree:         false,
			PricePaidCents: in.AmountCents,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert addon subscription")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// bookPayment credits the tenant and, when the tenant has a partner, the
// partner commission. Both effects are keyed by the gateway payment; when the
// tenant credit already belongs to another event nothing is booked.
func (s *Service) bookPayment(ctx context.Context, tx *gorm.DB, tenant *models.Tenant, p Payment) error {
	led := s.ledger.WithTx(tx)
	provider := p.Provider
	ref := p.PaymentID
	occurred := p.PaidAt.UTC()

	credit, err := led.Record(ctx, ledger.RecordEffectInput{
		SourceType:       sourcePaymentEvent,
		SourceID:         p.EventID,
		TargetType:       enums.EffectTargetTenantBalance,
		TargetID:         tenant.ID,
		Direction:        enums.EffectDirectionCredit,
		Kind:             enums.EffectKindPayment,
		AmountCents:      p.AmountCents,
		ExternalProvider: &provider,
		ExternalRef:      &ref,
		IdempotencyKey:   ledger.PaymentKey(provider, ref, enums.EffectKindPayment),
		OccurredAt:       occurred,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record tenant payment")
	}
	if credit.SourceID != p.EventID {
		return ErrPaymentAlreadyApplied
	}

	if tenant.PartnerID == nil {
		return nil
	}
	partner, err := s.repo.WithTx(tx).FindPartner(ctx, *tenant.PartnerID)
	if err != nil {
		return notFound(err, "partner not found")
	}
	commission := ledger.Commission(p.AmountCents, partner.CommissionBps)
	if commission == 0 {
		return nil
	}
	if _, err := led.Record(ctx, ledger.RecordEffectInput{
		SourceType:       sourcePaymentEvent,
		SourceID:         p.EventID,
		TargetType:       enums.EffectTargetPartnerBalance,
		TargetID:         partner.ID,
		Direction:        enums.EffectDirectionCredit,
		Kind:             enums.EffectKindCommission,
		AmountCents:      commission,
		ExternalProvider: &provider,
		ExternalRef:      &ref,
		IdempotencyKey:   ledger.PaymentKey(provider, ref, enums.EffectKindCommission),
		OccurredAt:       occurred,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record partner commission")
	}
	return nil
}

// StartModuleTrial opens a trial for a module the tenant is not already using.
func (s *Service) StartModuleTrial(ctx context.Context, tenantID, moduleID uuid.UUID, now time.Time) (*models.AddonSubscription, error) {
	var out *models.AddonSubscription
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.FindTenant(ctx, tenantID); err != nil {
			return notFound(err, "tenant not found")
		}
		if _, err := repo.FindModule(ctx, moduleID); err != nil {
			return notFound(err, "module not found")
		}
		existing, err := repo.FindAddon(ctx, tenantID, moduleID)
		switch {
		case err == nil:
			if existing.Status == enums.AddonStatusActive || existing.Status == enums.AddonStatusTrial {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "module already active or in trial").
					WithDetails(map[string]any{"status": existing.Status})
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load addon subscription")
		}

		started := now.UTC()
		trialEnds := started.Add(TrialPeriod)
		out, err = repo.UpsertAddon(ctx, &models.AddonSubscription{
			TenantID:    tenantID,
			ModuleID:    moduleID,
			Status:      enums.AddonStatusTrial,
			StartedAt:   &started,
			TrialEndsAt: &trialEnds,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert addon trial")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CancelPlan cancels the tenant's plan subscription.
func (s *Service) CancelPlan(ctx context.Context, tenantID uuid.UUID) error {
	n, err := s.repo.CancelSubscription(ctx, tenantID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel subscription")
	}
	if n == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no cancellable subscription")
	}
	return nil
}

// CancelModule cancels one module entitlement.
func (s *Service) CancelModule(ctx context.Context, tenantID, moduleID uuid.UUID) error {
	n, err := s.repo.CancelAddon(ctx, tenantID, moduleID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel addon")
	}
	if n == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no cancellable module subscription")
	}
	return nil
}

// ExpiryReport counts the rows each expiry rule moved.
type ExpiryReport struct {
	PlansPastDue  int64
	PlansExpired  int64
	AddonsExpired int64
	TrialsExpired int64
}

// ExpireLapsed moves lapsed entitlements forward. Every rule runs even when an
// earlier one fails; the returned error combines the failures.
func (s *Service) ExpireLapsed(ctx context.Context, now time.Time, grace time.Duration) (ExpiryReport, error) {
	now = now.UTC()
	var report ExpiryReport
	var errs error

	n, err := s.repo.MarkPlansPastDue(ctx, now)
	report.PlansPastDue = n
	errs = multierr.Append(errs, wrapSweep(err, "mark plans past due"))

	n, err = s.repo.ExpirePastDuePlans(ctx, now.Add(-grace))
	report.PlansExpired = n
	errs = multierr.Append(errs, wrapSweep(err, "expire past due plans"))

	n, err = s.repo.ExpireAddons(ctx, now)
	report.AddonsExpired = n
	errs = multierr.Append(errs, wrapSweep(err, "expire addons"))

	n, err = s.repo.ExpireTrials(ctx, now)
	report.TrialsExpired = n
	errs = multierr.Append(errs, wrapSweep(err, "expire trials"))

	if errs == nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"plans_past_due": report.PlansPastDue,
			"plans_expired":  report.PlansExpired,
			"addons_expired": report.AddonsExpired,
			"trials_expired": report.TrialsExpired,
		}), "subscription expiry sweep finished")
	}
	return report, errs
}

func (s *Service) inTx(ctx context.Context, tx *gorm.DB, fn func(tx *gorm.DB) error) error {
	if tx != nil {
		return fn(tx)
	}
	return s.txRunner.WithTx(ctx, fn)
}

func (p Payment) validate() error {
	if !p.Provider.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid payment provider")
	}
	if p.PaymentID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	if p.EventID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment event id required")
	}
	if p.AmountCents < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment amount must not be negative")
	}
	if p.PaidAt.IsZero() {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment time required")
	}
	return nil
}

func notFound(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, msg)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}

func wrapSweep(err error, op string) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}
