package printjobs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
	dbtypes "github.com/angelmondragon/backoffice-payments/pkg/db/types"
	"github.com/angelmondragon/backoffice-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/backoffice-payments/pkg/errors"
	"github.com/angelmondragon/backoffice-payments/pkg/logger"
	"github.com/angelmondragon/backoffice-payments/pkg/metrics"
)

const (
	DefaultClaimLimit = 5
	MaxClaimLimit     = 20

	defaultMaxAttempts = 3
	defaultRetryBase   = 5 * time.Second
	defaultLeaseTTL    = 10 * time.Minute
	sweepBatch         = 500
	maxBackoffShift    = 16
	maxErrorLength     = 1024

	leaseExpiredError = "lease expired"
)

// AckStatus is the progress a device reports for a leased job.
type AckStatus string

const (
	AckPrinting AckStatus = "printing"
	AckPrinted  AckStatus = "printed"
	AckFailed   AckStatus = "failed"
)

func ParseAckStatus(value string) (AckStatus, error) {
	switch s := AckStatus(strings.ToLower(strings.TrimSpace(value))); s {
	case AckPrinting, AckPrinted, AckFailed:
		return s, nil
	}
	return "", pkgerrors.New(pkgerrors.CodeValidation, "status must be printing, printed or failed")
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	Repo               Repository
	TransactionRunner  txRunner
	Metrics            *metrics.PipelineMetrics
	Logger             *logger.Logger
	RetryBase          time.Duration
	DefaultMaxAttempts int
	LeaseTTL           time.Duration
	Now                func() time.Time
}

type Service struct {
	repo        Repository
	txRunner    txRunner
	metrics     *metrics.PipelineMetrics
	logg        *logger.Logger
	retryBase   time.Duration
	maxAttempts int
	leaseTTL    time.Duration
	now         func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "print job repository required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	svc := &Service{
		repo:        params.Repo,
		txRunner:    params.TransactionRunner,
		metrics:     params.Metrics,
		logg:        params.Logger,
		retryBase:   params.RetryBase,
		maxAttempts: params.DefaultMaxAttempts,
		leaseTTL:    params.LeaseTTL,
		now:         params.Now,
	}
	if svc.retryBase <= 0 {
		svc.retryBase = defaultRetryBase
	}
	if svc.maxAttempts <= 0 {
		svc.maxAttempts = defaultMaxAttempts
	}
	if svc.leaseTTL <= 0 {
		svc.leaseTTL = defaultLeaseTTL
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc, nil
}

// Backoff is the delay before a job that has failed attempts times becomes
// claimable again.
func Backoff(base time.Duration, attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > maxBackoffShift {
		attempts = maxBackoffShift
	}
	return base * time.Duration(1<<uint(attempts))
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultClaimLimit
	case limit > MaxClaimLimit:
		return MaxClaimLimit
	}
	return limit
}

// Enqueue adds a job for the tenant's devices.
func (s *Service) Enqueue(ctx context.Context, tenantID uuid.UUID, payload json.RawMessage, maxAttempts int) (*models.PrintJob, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant_id is required")
	}
	if len(payload) == 0 || !json.Valid(payload) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payload must be valid json")
	}
	if maxAttempts <= 0 {
		maxAttempts = s.maxAttempts
	}
	job := &models.PrintJob{
		TenantID:    tenantID,
		Payload:     dbtypes.JSONB(payload),
		Status:      enums.PrintJobStatusQueued,
		MaxAttempts: maxAttempts,
		AvailableAt: s.now().UTC(),
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue print job")
	}
	return job, nil
}

// Claim leases up to limit due jobs of the tenant to the device. Concurrent
// claims never return the same job.
func (s *Service) Claim(ctx context.Context, tenantID, deviceID uuid.UUID, limit int) ([]models.PrintJob, error) {
	limit = clampLimit(limit)
	now := s.now().UTC()

	var jobs []models.PrintJob
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ids, err := repo.SelectClaimable(ctx, tenantID, now, limit)
		if err != nil {
			return err
		}
		claimed := make([]uuid.UUID, 0, len(ids))
		for _, id := range ids {
			ok, err := repo.ClaimOne(ctx, id, deviceID, now)
			if err != nil {
				return err
			}
			if ok {
				claimed = append(claimed, id)
			}
		}
		jobs, err = repo.FindByIDs(ctx, claimed)
		return err
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim print jobs")
	}
	s.metrics.AddPrintJobs("claimed", len(jobs))
	return jobs, nil
}

// Ack records device progress on a job it holds.
func (s *Service) Ack(ctx context.Context, deviceID, jobID uuid.UUID, status AckStatus, errMsg string) error {
	ctx = s.logg.WithFields(ctx, map[string]any{"device_id": deviceID.String(), "job_id": jobID.String()})
	job, err := s.repo.FindByID(ctx, jobID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "print job not found")
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load print job")
	}
	if job.ClaimedBy == nil || *job.ClaimedBy != deviceID {
		return pkgerrors.New(pkgerrors.CodeNotFound, "print job not found")
	}
	if !isLeased(job.Status) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "print job is not claimed").
			WithDetails(map[string]any{"status": job.Status})
	}

	now := s.now().UTC()
	var updates map[string]any
	outcome := string(status)
	switch status {
	case AckPrinting:
		updates = map[string]any{"status": enums.PrintJobStatusPrinting}
	case AckPrinted:
		updates = map[string]any{"status": enums.PrintJobStatusPrinted, "printed_at": now}
	case AckFailed:
		if strings.TrimSpace(errMsg) == "" {
			errMsg = "device reported failure"
		}
		updates, outcome = s.failure(job, errMsg, now)
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, "status must be printing, printed or failed")
	}

	ok, err := s.repo.UpdateLeased(ctx, jobID, deviceID, job.Attempts, updates)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update print job")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "print job lease was lost")
	}
	s.metrics.AddPrintJobs(outcome, 1)
	s.logg.Info(s.logg.WithField(ctx, "outcome", outcome), "print job acknowledged")
	return nil
}

// failure counts a failed attempt and either requeues the job with backoff or
// fails it for good. The update must be guarded by job.Attempts.
func (s *Service) failure(job *models.PrintJob, msg string, now time.Time) (map[string]any, string) {
	if len(msg) > maxErrorLength {
		msg = msg[:maxErrorLength]
	}
	attempts := job.Attempts + 1
	updates := map[string]any{
		"attempts":   attempts,
		"last_error": msg,
	}
	if attempts < job.MaxAttempts {
		updates["status"] = enums.PrintJobStatusQueued
		updates["claimed_by"] = nil
		updates["claimed_at"] = nil
		updates["available_at"] = now.Add(Backoff(s.retryBase, attempts))
		return updates, "requeued"
	}
	updates["status"] = enums.PrintJobStatusFailed
	return updates, "failed"
}

// JobCounts summarizes the queue as seen by one device.
type JobCounts struct {
	Queued  int64 `json:"queued"`
	Claimed int64 `json:"claimed"`
	Failed  int64 `json:"failed"`
}

type DeviceView struct {
	ID         uuid.UUID          `json:"id"`
	TenantID   uuid.UUID          `json:"tenant_id"`
	Name       string             `json:"name"`
	Status     enums.DeviceStatus `json:"status"`
	LastSeenAt *time.Time         `json:"last_seen_at,omitempty"`
}

type Diagnostic struct {
	Device     DeviceView `json:"device"`
	Jobs       JobCounts  `json:"jobs"`
	ServerTime time.Time  `json:"server_time"`
}

// Diagnostic reports the queue for the device's tenant. Claimed counts the jobs
// this device holds in claimed or printing.
func (s *Service) Diagnostic(ctx context.Context, device *models.Device) (*Diagnostic, error) {
	if device == nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "device required")
	}
	counts, err := s.repo.CountByStatus(ctx, device.TenantID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count print jobs")
	}
	leased, err := s.repo.CountLeasedBy(ctx, device.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count leased print jobs")
	}
	out := &Diagnostic{
		Device: DeviceView{
			ID:         device.ID,
			TenantID:   device.TenantID,
			Name:       device.Name,
			Status:     device.Status,
			LastSeenAt: device.LastSeenAt,
		},
		Jobs:       JobCounts{Claimed: leased},
		ServerTime: s.now().UTC(),
	}
	for _, c := range counts {
		switch c.Status {
		case enums.PrintJobStatusQueued:
			out.Jobs.Queued = c.Total
		case enums.PrintJobStatusFailed:
			out.Jobs.Failed = c.Total
		}
	}
	return out, nil
}

// SweepReport counts what a lease sweep did.
type SweepReport struct {
	Requeued int `json:"requeued"`
	Failed   int `json:"failed"`
}

// SweepExpiredLeases treats leases older than the lease TTL as failed attempts.
func (s *Service) SweepExpiredLeases(ctx context.Context) (SweepReport, error) {
	now := s.now().UTC()
	cutoff := now.Add(-s.leaseTTL)
	var report SweepReport

	jobs, err := s.repo.ListExpiredLeases(ctx, cutoff, sweepBatch)
	if err != nil {
		return report, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expired leases")
	}
	var errs error
	for i := range jobs {
		job := &jobs[i]
		updates, outcome := s.failure(job, leaseExpiredError, now)
		ok, err := s.repo.ReleaseExpired(ctx, job.ID, cutoff, job.Attempts, updates)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		if outcome == "failed" {
			report.Failed++
		} else {
			report.Requeued++
		}
	}
	s.metrics.AddPrintJobs("lease_requeued", report.Requeued)
	s.metrics.AddPrintJobs("lease_failed", report.Failed)
	if errs != nil {
		return report, pkgerrors.Wrap(pkgerrors.CodeDependency, errs, "sweep expired leases")
	}
	return report, nil
}

func isLeased(status enums.PrintJobStatus) bool {
	return status == enums.PrintJobStatusClaimed || status == enums.PrintJobStatusPrinting
}
