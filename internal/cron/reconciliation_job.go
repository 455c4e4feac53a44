package cron

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/angelmondragon/backoffice-payments/internal/reconciliation"
	"github.com/angelmondragon/backoffice-payments/pkg/logger"
)

type reconciler interface {
	Run(ctx context.Context, provider string, paymentIDs []string) (reconciliation.Report, error)
}

type ReconciliationJobParams struct {
	Logger     *logger.Logger
	Reconciler reconciler
	Providers  []string
}

// NewReconciliationJob compares the ledger with every enabled provider over
// the lookback window.
func NewReconciliationJob(params ReconciliationJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciliation service required")
	}
	providers := make([]string, 0, len(params.Providers))
	for _, p := range params.Providers {
		if p = strings.TrimSpace(strings.ToLower(p)); p != "" {
			providers = append(providers, p)
		}
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one provider required")
	}
	return &reconciliationJob{logg: params.Logger, reconciler: params.Reconciler, providers: providers}, nil
}

type reconciliationJob struct {
	logg       *logger.Logger
	reconciler reconciler
	providers  []string
}

func (j *reconciliationJob) Name() string { return "reconciliation" }

func (j *reconciliationJob) Run(ctx context.Context) error {
	var errs error
	for _, provider := range j.providers {
		report, err := j.reconciler.Run(ctx, provider, nil)
		logCtx := j.logg.WithProvider(ctx, provider)
		logCtx = j.logg.WithFields(logCtx, map[string]any{
			"total":            report.Total,
			"matched":          report.Matched,
			"mismatch":         report.Mismatch,
			"missing_internal": report.MissingInternal,
			"missing_provider": report.MissingProvider,
			"errors":           report.Errors,
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reconcile %s: %w", provider, err))
			continue
		}
		j.logg.Info(logCtx, "reconciliation complete")
	}
	return errs
}
