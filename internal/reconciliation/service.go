package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/angelmondragon/backoffice-payments/internal/gateways"
	"github.com/angelmondragon/backoffice-payments/internal/ledger"
	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
	"github.com/angelmondragon/backoffice-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/backoffice-payments/pkg/errors"
	"github.com/angelmondragon/backoffice-payments/pkg/logger"
	"github.com/angelmondragon/backoffice-payments/pkg/metrics"
)

const (
	defaultLookback = 30 * 24 * time.Hour
	defaultWorkers  = 4
)

type gatewayLookup interface {
	Get(provider string) (gateways.Gateway, bool)
}

type ServiceParams struct {
	Repo     Repository
	Ledger   ledger.Service
	Gateways gatewayLookup
	Metrics  *metrics.PipelineMetrics
	Logger   *logger.Logger
	Lookback time.Duration
	Workers  int
	Now      func() time.Time
}

type Service struct {
	repo     Repository
	ledger   ledger.Service
	gateways gatewayLookup
	metrics  *metrics.PipelineMetrics
	logg     *logger.Logger
	lookback time.Duration
	workers  int
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Repo == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation repository required")
	case params.Ledger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger service required")
	case params.Gateways == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "gateway registry required")
	case params.Logger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	svc := &Service{
		repo:     params.Repo,
		ledger:   params.Ledger,
		gateways: params.Gateways,
		metrics:  params.Metrics,
		logg:     params.Logger,
		lookback: params.Lookback,
		workers:  params.Workers,
		now:      params.Now,
	}
	if svc.lookback <= 0 {
		svc.lookback = defaultLookback
	}
	if svc.workers <= 0 {
		svc.workers = defaultWorkers
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc, nil
}

// Report summarizes one reconciliation run. Skipped counts ids known to
// neither side; Errors counts ids that could not be checked.
type Report struct {
	Provider        enums.PaymentProvider `json:"provider"`
	Total           int                   `json:"total"`
	Matched         int                   `json:"matched"`
	Mismatch        int                   `json:"mismatch"`
	MissingInternal int                   `json:"missing_internal"`
	MissingProvider int                   `json:"missing_provider"`
	Skipped         int                   `json:"skipped"`
	Errors          int                   `json:"errors"`
}

func (r *Report) add(status enums.ReconciliationStatus) {
	switch status {
	case enums.ReconciliationMatched:
		r.Matched++
	case enums.ReconciliationMismatch:
		r.Mismatch++
	case enums.ReconciliationMissingInternal:
		r.MissingInternal++
	case enums.ReconciliationMissingProvider:
		r.MissingProvider++
	}
}

// Classify compares what the gateway reports with what the ledger expects.
// ok is false when neither side knows the payment.
func Classify(providerCents, expectedCents *int64) (enums.ReconciliationStatus, int64, bool) {
	switch {
	case providerCents != nil && expectedCents != nil:
		diff := *providerCents - *expectedCents
		if diff == 0 {
			return enums.ReconciliationMatched, 0, true
		}
		return enums.ReconciliationMismatch, diff, true
	case providerCents != nil:
		return enums.ReconciliationMissingInternal, *providerCents, true
	case expectedCents != nil:
		return enums.ReconciliationMissingProvider, -*expectedCents, true
	}
	return "", 0, false
}

// Run checks each payment id against the gateway and the ledger and stores
// the classification. With no ids it checks every payment seen within the
// lookback window. The ledger is only read.
func (s *Service) Run(ctx context.Context, provider string, paymentIDs []string) (Report, error) {
	gw, ok := s.gateways.Get(provider)
	if !ok {
		return Report{}, pkgerrors.New(pkgerrors.CodeNotFound, "unknown payment provider")
	}
	name := gw.Name()
	ctx = s.logg.WithProvider(ctx, string(name))
	now := s.now().UTC()

	ids, err := s.candidates(ctx, name, paymentIDs, now)
	if err != nil {
		return Report{}, err
	}
	report := Report{Provider: name, Total: len(ids)}

	var (
		mu   sync.Mutex
		errs error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			status, ok, err := s.check(gctx, gw, id, now)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Errors++
				errs = multierr.Append(errs, fmt.Errorf("payment %s: %w", id, err))
			case !ok:
				report.Skipped++
			default:
				report.add(status)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	fields := map[string]any{
		"total":            report.Total,
		"matched":          report.Matched,
		"mismatch":         report.Mismatch,
		"missing_internal": report.MissingInternal,
		"missing_provider": report.MissingProvider,
	}
	if errs != nil {
		s.logg.Error(s.logg.WithFields(ctx, fields), "reconciliation finished with errors", errs)
		return report, pkgerrors.Wrap(pkgerrors.CodeDependency, errs, "reconciliation incomplete")
	}
	s.logg.Info(s.logg.WithFields(ctx, fields), "reconciliation finished")
	return report, nil
}

// Lookup returns the stored classification of one gateway payment.
func (s *Service) Lookup(ctx context.Context, provider, paymentID string) (*models.ReconciliationRecord, error) {
	name, err := enums.ParsePaymentProvider(strings.ToLower(strings.TrimSpace(provider)))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment provider")
	}
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	record, err := s.repo.Find(ctx, name, paymentID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment has not been reconciled")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reconciliation record")
	}
	return record, nil
}

func (s *Service) candidates(ctx context.Context, provider enums.PaymentProvider, given []string, now time.Time) ([]string, error) {
	seen := make(map[string]struct{})
	add := func(ids []string) {
		for _, id := range ids {
			id = strings.TrimSpace(id)
			if id != "" {
				seen[id] = struct{}{}
			}
		}
	}
	if len(given) > 0 {
		add(given)
	} else {
		since := now.Add(-s.lookback)
		refs, err := s.ledger.PaymentRefs(ctx, provider, since)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger payments")
		}
		add(refs)
		events, err := s.repo.ListProcessedPaymentIDs(ctx, provider, since)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list processed payments")
		}
		add(events)
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Service) check(ctx context.Context, gw gateways.Gateway, paymentID string, now time.Time) (enums.ReconciliationStatus, bool, error) {
	provider := gw.Name()
	var expected, reported *int64

	total, found, err := s.ledger.PaymentCredits(ctx, provider, paymentID)
	if err != nil {
		return "", false, err
	}
	if found {
		expected = &total
	}

	status, err := gw.QueryPayment(ctx, paymentID)
	switch {
	case errors.Is(err, gateways.ErrPaymentNotFound):
	case err != nil:
		return "", false, err
	default:
		amount := status.AmountCents
		reported = &amount
	}

	classification, diff, ok := Classify(reported, expected)
	if !ok {
		return "", false, nil
	}
	record := &models.ReconciliationRecord{
		Provider:            provider,
		ProviderPaymentID:   paymentID,
		Status:              classification,
		ProviderAmountCents: reported,
		ExpectedAmountCents: expected,
		DifferenceCents:     diff,
		CheckedAt:           now,
	}
	if err := s.repo.Upsert(ctx, record); err != nil {
		return "", false, err
	}
	s.metrics.IncReconciliation(string(provider), string(classification))
	if classification != enums.ReconciliationMatched {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"payment_id":       paymentID,
			"status":           classification,
			"difference_cents": diff,
		}), "reconciliation discrepancy")
	}
	return classification, true, nil
}
