package payouts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/backoffice-payments/internal/gateways"
	"github.com/angelmondragon/backoffice-payments/internal/ledger"
	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
	"github.com/angelmondragon/backoffice-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/backoffice-payments/pkg/errors"
	"github.com/angelmondragon/backoffice-payments/pkg/logger"
	"github.com/angelmondragon/backoffice-payments/pkg/metrics"
	"github.com/angelmondragon/backoffice-payments/pkg/outbox"
	"github.com/angelmondragon/backoffice-payments/pkg/outbox/payloads"
)

const (
	defaultMaxAttempts      = 5
	defaultRetryBase        = time.Minute
	defaultChargebackWindow = 14 * 24 * time.Hour
	defaultDispatchBatch    = 20
	maxBackoffShift         = 16
	maxErrorLength          = 1024

	sourcePayoutJob = "payout_job"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type transferers interface {
	Transferer(provider string) (gateways.Transferer, error)
}

type ServiceParams struct {
	Repo              Repository
	Ledger            ledger.Service
	Gateways          transferers
	Provider          string
	Outbox            outbox.Emitter
	TransactionRunner txRunner
	Metrics           *metrics.PipelineMetrics
	Logger            *logger.Logger
	ChargebackWindow  time.Duration
	MaxAttempts       int
	RetryBase         time.Duration
	DispatchBatch     int
	Now               func() time.Time
}

type Service struct {
	repo             Repository
	ledger           ledger.Service
	gateways         transferers
	provider         string
	outbox           outbox.Emitter
	txRunner         txRunner
	metrics          *metrics.PipelineMetrics
	logg             *logger.Logger
	chargebackWindow time.Duration
	maxAttempts      int
	retryBase        time.Duration
	batch            int
	now              func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Repo == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payout repository required")
	case params.Ledger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger service required")
	case params.Gateways == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "gateway registry required")
	case params.Outbox == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	case params.TransactionRunner == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	case params.Logger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	svc := &Service{
		repo:             params.Repo,
		ledger:           params.Ledger,
		gateways:         params.Gateways,
		provider:         strings.TrimSpace(params.Provider),
		outbox:           params.Outbox,
		txRunner:         params.TransactionRunner,
		metrics:          params.Metrics,
		logg:             params.Logger,
		chargebackWindow: params.ChargebackWindow,
		maxAttempts:      params.MaxAttempts,
		retryBase:        params.RetryBase,
		batch:            params.DispatchBatch,
		now:              params.Now,
	}
	if svc.provider == "" {
		svc.provider = string(enums.ProviderAsaas)
	}
	if svc.chargebackWindow <= 0 {
		svc.chargebackWindow = defaultChargebackWindow
	}
	if svc.maxAttempts <= 0 {
		svc.maxAttempts = defaultMaxAttempts
	}
	if svc.retryBase <= 0 {
		svc.retryBase = defaultRetryBase
	}
	if svc.batch <= 0 {
		svc.batch = defaultDispatchBatch
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc, nil
}

// ChargebackWindow is the age below which ledger effects are held in reserve.
func (s *Service) ChargebackWindow() time.Duration {
	return s.chargebackWindow
}

// Backoff is the wait before the next transfer attempt after attempts failures.
func Backoff(base time.Duration, attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > maxBackoffShift {
		attempts = maxBackoffShift
	}
	return base * time.Duration(1<<uint(attempts))
}

// Enqueue returns the payout job of the settlement, creating it if needed.
// Concurrent callers all observe the same row.
func (s *Service) Enqueue(ctx context.Context, settlementID uuid.UUID) (*models.PayoutJob, error) {
	if _, err := s.repo.FindSettlement(ctx, settlementID); err != nil {
		return nil, notFound(err, "settlement not found")
	}
	job := &models.PayoutJob{
		SettlementID:  settlementID,
		Status:        enums.PayoutJobStatusQueued,
		MaxAttempts:   s.maxAttempts,
		NextAttemptAt: s.now().UTC(),
	}
	if err := s.repo.InsertIfAbsent(ctx, job); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue payout job")
	}
	stored, err := s.repo.FindBySettlement(ctx, settlementID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout job")
	}
	return stored, nil
}

func (s *Service) Get(ctx context.Context, jobID uuid.UUID) (*models.PayoutJob, error) {
	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, notFound(err, "payout job not found")
	}
	return job, nil
}

// Process runs one attempt of a due payout job: claim, integrity gate, then
// transfer. A failed gate fails the job for good and returns an integrity error.
func (s *Service) Process(ctx context.Context, jobID uuid.UUID) (*models.PayoutJob, error) {
	ctx = s.logg.WithField(ctx, "payout_job_id", jobID.String())
	now := s.now().UTC()

	claimed, err := s.repo.ClaimDue(ctx, jobID, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim payout job")
	}
	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, notFound(err, "payout job not found")
	}
	if !claimed {
		return job, pkgerrors.New(pkgerrors.CodeStateConflict, "payout job is not due").
			WithDetails(map[string]any{"status": job.Status, "next_attempt_at": job.NextAttemptAt})
	}
	ctx = s.logg.WithField(ctx, "settlement_id", job.SettlementID.String())

	settlement, err := s.repo.FindSettlement(ctx, job.SettlementID)
	if err != nil {
		return s.Complete(ctx, jobID, TransferOutcome{Err: pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load settlement")})
	}
	check, err := s.RunIntegrityCheck(ctx, settlement, now)
	if err != nil {
		return s.Complete(ctx, jobID, TransferOutcome{Err: err})
	}
	if !check.IsValid {
		return s.failIntegrity(ctx, job, check)
	}

	if settlement.CalculatedAmountCents <= 0 {
		return s.Complete(ctx, jobID, TransferOutcome{Result: &gateways.TransferResult{Status: "skipped"}})
	}
	partner, err := s.repo.FindPartner(ctx, settlement.PartnerID)
	if err != nil {
		return s.Complete(ctx, jobID, TransferOutcome{Err: notFound(err, "partner not found")})
	}
	transferer, err := s.gateways.Transferer(s.provider)
	if err != nil {
		return s.Complete(ctx, jobID, TransferOutcome{Err: pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve payout gateway")})
	}
	wallet := ""
	if partner.PayoutWalletID != nil {
		wallet = *partner.PayoutWalletID
	}
	result, err := transferer.Transfer(ctx, gateways.TransferRequest{
		IdempotencyKey: job.ID.String(),
		PartnerID:      partner.ID,
		WalletID:       wallet,
		AmountCents:    settlement.CalculatedAmountCents,
		Description:    fmt.Sprintf("settlement %s", settlement.ID),
	})
	if err != nil {
		return s.Complete(ctx, jobID, TransferOutcome{Err: err})
	}
	return s.Complete(ctx, jobID, TransferOutcome{Result: &result})
}

func (s *Service) failIntegrity(ctx context.Context, job *models.PayoutJob, check IntegrityResult) (*models.PayoutJob, error) {
	reason := fmt.Sprintf("integrity check failed: discrepancy %d", check.DiscrepancyCents)
	discrepancy := check.DiscrepancyCents
	s.metrics.ObserveDiscrepancy(discrepancy)

	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.repo.WithTx(tx).UpdateProcessing(ctx, job.ID, map[string]any{
			"status":            enums.PayoutJobStatusFailed,
			"last_error":        reason,
			"discrepancy_cents": discrepancy,
		})
		if err != nil {
			return err
		}
		if !ok {
			return errLeaseLost
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutFailed,
			AggregateType: enums.AggregatePayoutJob,
			AggregateID:   job.ID,
			Data: payloads.PayoutFailedEvent{
				PayoutJobID:      job.ID,
				SettlementID:     job.SettlementID,
				Attempts:         job.Attempts,
				Reason:           reason,
				DiscrepancyCents: &discrepancy,
			},
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail payout job")
	}
	s.metrics.IncPayout("integrity_failed")
	s.logg.Warn(s.logg.WithField(ctx, "discrepancy_cents", discrepancy), "payout blocked by integrity check")

	updated, loadErr := s.repo.FindByID(ctx, job.ID)
	if loadErr != nil {
		updated = job
	}
	return updated, pkgerrors.New(pkgerrors.CodeIntegrity, reason).
		WithDetails(map[string]any{"discrepancy_cents": discrepancy})
}

var errLeaseLost = errors.New("payout job is no longer processing")

// TransferOutcome is the result of one transfer attempt. Exactly one of Result
// and Err is set.
type TransferOutcome struct {
	Result *gateways.TransferResult
	Err    error
}

// Complete settles a processing job. Success writes the transfer, the payout
// debit and the completion event in one transaction. A failure requeues the job
// with backoff until attempts run out; non-retryable failures end it at once.
func (s *Service) Complete(ctx context.Context, jobID uuid.UUID, outcome TransferOutcome) (*models.PayoutJob, error) {
	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, notFound(err, "payout job not found")
	}
	if job.Status != enums.PayoutJobStatusProcessing {
		return job, pkgerrors.New(pkgerrors.CodeStateConflict, "payout job is not processing").
			WithDetails(map[string]any{"status": job.Status})
	}
	if outcome.Err == nil && outcome.Result == nil {
		outcome.Err = errors.New("transfer returned no result")
	}
	if outcome.Err != nil {
		return s.completeFailure(ctx, job, outcome.Err)
	}
	return s.completeSuccess(ctx, job, *outcome.Result)
}

func (s *Service) completeSuccess(ctx context.Context, job *models.PayoutJob, result gateways.TransferResult) (*models.PayoutJob, error) {
	settlement, err := s.repo.FindSettlement(ctx, job.SettlementID)
	if err != nil {
		return nil, notFound(err, "settlement not found")
	}
	now := s.now().UTC()
	amount := settlement.CalculatedAmountCents
	provider := result.Provider
	if provider == "" {
		provider = enums.PaymentProvider(s.provider)
	}

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if amount > 0 {
			transfer := &models.Transfer{
				PayoutJobID:        job.ID,
				Provider:           provider,
				ProviderTransferID: result.TransferID,
				AmountCents:        amount,
				Status:             result.Status,
			}
			if err := repo.InsertTransfer(ctx, transfer); err != nil {
				return err
			}
			ref := result.TransferID
			if _, err := s.ledger.WithTx(tx).Record(ctx, ledger.RecordEffectInput{
				SourceType:       sourcePayoutJob,
				SourceID:         job.ID,
				TargetType:       enums.EffectTargetPartnerBalance,
				TargetID:         settlement.PartnerID,
				Direction:        enums.EffectDirectionDebit,
				Kind:             enums.EffectKindPayout,
				AmountCents:      amount,
				ExternalProvider: &provider,
				ExternalRef:      &ref,
				IdempotencyKey:   ledger.PayoutKey(job.ID),
				OccurredAt:       now,
			}); err != nil {
				return err
			}
		}
		ok, err := repo.UpdateProcessing(ctx, job.ID, map[string]any{
			"status":       enums.PayoutJobStatusCompleted,
			"completed_at": now,
			"last_error":   nil,
		})
		if err != nil {
			return err
		}
		if !ok {
			return errLeaseLost
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutCompleted,
			AggregateType: enums.AggregatePayoutJob,
			AggregateID:   job.ID,
			OccurredAt:    now,
			Data: payloads.PayoutCompletedEvent{
				PayoutJobID:        job.ID,
				SettlementID:       settlement.ID,
				PartnerID:          settlement.PartnerID,
				Provider:           provider,
				ProviderTransferID: result.TransferID,
				AmountCents:        amount,
			},
		})
	})
	if err != nil {
		s.logg.Error(ctx, "failed to complete payout job", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete payout job")
	}
	s.metrics.IncPayout("completed")
	s.logg.Info(s.logg.WithField(ctx, "transfer_id", result.TransferID), "payout completed")
	return s.repo.FindByID(ctx, job.ID)
}

func (s *Service) completeFailure(ctx context.Context, job *models.PayoutJob, cause error) (*models.PayoutJob, error) {
	msg := cause.Error()
	if len(msg) > maxErrorLength {
		msg = msg[:maxErrorLength]
	}
	now := s.now().UTC()
	attempts := job.Attempts + 1
	terminal := attempts >= job.MaxAttempts || !pkgerrors.IsRetryable(cause)
	updates := map[string]any{
		"attempts":   attempts,
		"last_error": msg,
	}
	if terminal {
		updates["status"] = enums.PayoutJobStatusFailed
	} else {
		updates["status"] = enums.PayoutJobStatusQueued
		updates["next_attempt_at"] = now.Add(Backoff(s.retryBase, attempts))
	}

	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.repo.WithTx(tx).UpdateProcessing(ctx, job.ID, updates)
		if err != nil {
			return err
		}
		if !ok {
			return errLeaseLost
		}
		if !terminal {
			return nil
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutFailed,
			AggregateType: enums.AggregatePayoutJob,
			AggregateID:   job.ID,
			OccurredAt:    now,
			Data: payloads.PayoutFailedEvent{
				PayoutJobID:  job.ID,
				SettlementID: job.SettlementID,
				Attempts:     attempts,
				Reason:       msg,
			},
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payout failure")
	}
	if terminal {
		s.metrics.IncPayout("failed")
		s.logg.Error(s.logg.WithField(ctx, "attempts", attempts), "payout job failed", cause)
	} else {
		s.metrics.IncPayout("retried")
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"attempts": attempts, "error": msg}), "payout attempt failed; requeued")
	}
	return s.repo.FindByID(ctx, job.ID)
}

// DispatchReport counts the outcome of a dispatch run.
type DispatchReport struct {
	Picked    int `json:"picked"`
	Completed int `json:"completed"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
}

// DispatchDue processes every job that is due, up to limit. A limit of zero
// uses the configured batch size.
func (s *Service) DispatchDue(ctx context.Context, limit int) (DispatchReport, error) {
	if limit <= 0 {
		limit = s.batch
	}
	var report DispatchReport
	ids, err := s.repo.ListDue(ctx, s.now().UTC(), limit)
	if err != nil {
		return report, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list due payout jobs")
	}
	var errs error
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		job, err := s.Process(ctx, id)
		switch {
		case pkgerrors.IsCode(err, pkgerrors.CodeStateConflict):
			continue
		case err != nil && !pkgerrors.IsCode(err, pkgerrors.CodeIntegrity):
			errs = multierr.Append(errs, fmt.Errorf("payout job %s: %w", id, err))
			continue
		}
		report.Picked++
		if job == nil {
			continue
		}
		switch job.Status {
		case enums.PayoutJobStatusCompleted:
			report.Completed++
		case enums.PayoutJobStatusQueued:
			report.Retried++
		case enums.PayoutJobStatusFailed:
			report.Failed++
		}
	}
	return report, errs
}

func notFound(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, msg)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
