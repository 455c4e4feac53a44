package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/backoffice-payments/internal/printjobs"
	"github.com/angelmondragon/backoffice-payments/pkg/logger"
)

const defaultOfflineAfter = 5 * time.Minute

type leaseSweeper interface {
	SweepExpiredLeases(ctx context.Context) (printjobs.SweepReport, error)
}

type deviceReaper interface {
	MarkOffline(ctx context.Context, now time.Time, offlineAfter time.Duration) (int64, error)
}

type LeaseSweepJobParams struct {
	Logger       *logger.Logger
	PrintJobs    leaseSweeper
	Devices      deviceReaper
	OfflineAfter time.Duration
}

// NewLeaseSweepJob requeues print jobs whose lease expired and flags devices
// that stopped polling as offline.
func NewLeaseSweepJob(params LeaseSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.PrintJobs == nil {
		return nil, fmt.Errorf("print job service required")
	}
	if params.Devices == nil {
		return nil, fmt.Errorf("device service required")
	}
	offlineAfter := params.OfflineAfter
	if offlineAfter <= 0 {
		offlineAfter = defaultOfflineAfter
	}
	return &leaseSweepJob{
		logg:         params.Logger,
		printJobs:    params.PrintJobs,
		devices:      params.Devices,
		offlineAfter: offlineAfter,
		now:          time.Now,
	}, nil
}

type leaseSweepJob struct {
	logg         *logger.Logger
	printJobs    leaseSweeper
	devices      deviceReaper
	offlineAfter time.Duration
	now          func() time.Time
}

func (j *leaseSweepJob) Name() string { return "print-job-lease-sweep" }

func (j *leaseSweepJob) Run(ctx context.Context) error {
	report, sweepErr := j.printJobs.SweepExpiredLeases(ctx)
	offline, offlineErr := j.devices.MarkOffline(ctx, j.now().UTC(), j.offlineAfter)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"requeued":        report.Requeued,
		"failed":          report.Failed,
		"devices_offline": offline,
	})
	j.logg.Info(logCtx, "print job lease sweep complete")
	return multierr.Combine(sweepErr, offlineErr)
}
