package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/backoffice-payments/internal/activation"
	"github.com/angelmondragon/backoffice-payments/pkg/logger"
)

const defaultGracePeriod = 72 * time.Hour

type subscriptionExpirer interface {
	ExpireLapsed(ctx context.Context, now time.Time, grace time.Duration) (activation.ExpiryReport, error)
}

type SubscriptionExpiryJobParams struct {
	Logger     *logger.Logger
	Activation subscriptionExpirer
	Grace      time.Duration
}

// NewSubscriptionExpiryJob moves lapsed plans, add-ons and trials out of their
// active states.
func NewSubscriptionExpiryJob(params SubscriptionExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Activation == nil {
		return nil, fmt.Errorf("activation service required")
	}
	grace := params.Grace
	if grace <= 0 {
		grace = defaultGracePeriod
	}
	return &subscriptionExpiryJob{
		logg:       params.Logger,
		activation: params.Activation,
		grace:      grace,
		now:        time.Now,
	}, nil
}

type subscriptionExpiryJob struct {
	logg       *logger.Logger
	activation subscriptionExpirer
	grace      time.Duration
	now        func() time.Time
}

func (j *subscriptionExpiryJob) Name() string { return "subscription-expiry" }

func (j *subscriptionExpiryJob) Run(ctx context.Context) error {
	report, err := j.activation.ExpireLapsed(ctx, j.now(), j.grace)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"plans_past_due": report.PlansPastDue,
		"plans_expired":  report.PlansExpired,
		"addons_expired": report.AddonsExpired,
		"trials_expired": report.TrialsExpired,
	})
	if err != nil {
		return fmt.Errorf("expire lapsed subscriptions: %w", err)
	}
	j.logg.Info(logCtx, "subscription expiry complete")
	return nil
}
