package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/backoffice-payments/internal/payouts"
	"github.com/angelmondragon/backoffice-payments/pkg/logger"
)

type payoutDispatcher interface {
	DispatchDue(ctx context.Context, limit int) (payouts.DispatchReport, error)
}

type PayoutDispatchJobParams struct {
	Logger  *logger.Logger
	Payouts payoutDispatcher
	Batch   int
}

// NewPayoutDispatchJob processes payout jobs whose next attempt is due.
func NewPayoutDispatchJob(params PayoutDispatchJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payouts == nil {
		return nil, fmt.Errorf("payout service required")
	}
	return &payoutDispatchJob{logg: params.Logger, payouts: params.Payouts, batch: params.Batch}, nil
}

type payoutDispatchJob struct {
	logg    *logger.Logger
	payouts payoutDispatcher
	batch   int
}

func (j *payoutDispatchJob) Name() string { return "payout-dispatch" }

func (j *payoutDispatchJob) Run(ctx context.Context) error {
	report, err := j.payouts.DispatchDue(ctx, j.batch)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"picked":    report.Picked,
		"completed": report.Completed,
		"retried":   report.Retried,
		"failed":    report.Failed,
	})
	j.logg.Info(logCtx, "payout dispatch complete")
	if err != nil {
		return fmt.Errorf("dispatch payouts: %w", err)
	}
	return nil
}
