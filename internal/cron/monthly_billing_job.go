package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/backoffice-payments/internal/invoices"
	"github.com/angelmondragon/backoffice-payments/pkg/logger"
)

type monthlyBiller interface {
	RunMonthlyBilling(ctx context.Context, period string) (invoices.BillingReport, error)
}

type MonthlyBillingJobParams struct {
	Logger   *logger.Logger
	Invoices monthlyBiller
}

// NewMonthlyBillingJob bills partners for the previous month. It only acts on
// the first day of the month (UTC); other runs are no-ops.
func NewMonthlyBillingJob(params MonthlyBillingJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Invoices == nil {
		return nil, fmt.Errorf("invoice service required")
	}
	return &monthlyBillingJob{logg: params.Logger, invoices: params.Invoices, now: time.Now}, nil
}

type monthlyBillingJob struct {
	logg     *logger.Logger
	invoices monthlyBiller
	now      func() time.Time
}

func (j *monthlyBillingJob) Name() string { return "monthly-billing" }

func (j *monthlyBillingJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	if now.Day() != 1 {
		j.logg.Debug(ctx, "not the first of the month; skipping billing")
		return nil
	}
	period := invoices.PreviousPeriod(now)
	report, err := j.invoices.RunMonthlyBilling(ctx, period)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"period":    period,
		"generated": report.Generated,
		"charged":   report.Charged,
		"skipped":   report.Skipped,
		"failed":    report.Failed,
	})
	j.logg.Info(logCtx, "monthly billing complete")
	if err != nil {
		return fmt.Errorf("monthly billing %s: %w", period, err)
	}
	return nil
}
