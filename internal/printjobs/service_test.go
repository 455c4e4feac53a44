package printjobs

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/backoffice-payments/pkg/db"
	"github.com/angelmondragon/backoffice-payments/pkg/db/dbtest"
	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
	"github.com/angelmondragon/backoffice-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/backoffice-payments/pkg/errors"
	"github.com/angelmondragon/backoffice-payments/pkg/logger"
)

type queueFixture struct {
	svc    *Service
	repo   Repository
	clock  time.Time
	tenant uuid.UUID
}

func newQueue(t *testing.T) *queueFixture {
	t.Helper()
	conn := dbtest.Open(t)
	f := &queueFixture{
		repo:   NewRepository(conn),
		clock:  time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		tenant: uuid.New(),
	}
	svc, err := NewService(ServiceParams{
		Repo:              f.repo,
		TransactionRunner: db.NewFromConn(conn),
		Logger:            logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		RetryBase:         5 * time.Second,
		LeaseTTL:          10 * time.Minute,
		Now:               func() time.Time { return f.clock },
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *queueFixture) enqueue(t *testing.T, n int) []uuid.UUID {
	t.Helper()
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		job, err := f.svc.Enqueue(context.Background(), f.tenant, json.RawMessage(`{"ticket":1}`), 0)
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	return ids
}

func TestClaimIsExclusive(t *testing.T) {
	f := newQueue(t)
	f.enqueue(t, 12)

	var (
		mu   sync.Mutex
		seen = map[uuid.UUID]uuid.UUID{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		device := uuid.New()
		wg.Add(1)
		go func() {
			defer wg.Done()
			jobs, err := f.svc.Claim(context.Background(), f.tenant, device, 5)
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			for _, job := range jobs {
				if owner, dup := seen[job.ID]; dup {
					t.Errorf("job %s claimed by %s and %s", job.ID, owner, device)
				}
				seen[job.ID] = device
				assert.Equal(t, enums.PrintJobStatusClaimed, job.Status)
				if assert.NotNil(t, job.ClaimedBy) {
					assert.Equal(t, device, *job.ClaimedBy)
				}
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 12)
}

func TestClaimLimitAndScope(t *testing.T) {
	f := newQueue(t)
	f.enqueue(t, 25)
	other, err := f.svc.Enqueue(context.Background(), uuid.New(), json.RawMessage(`{}`), 0)
	require.NoError(t, err)

	jobs, err := f.svc.Claim(context.Background(), f.tenant, uuid.New(), 0)
	require.NoError(t, err)
	assert.Len(t, jobs, DefaultClaimLimit)

	jobs, err = f.svc.Claim(context.Background(), f.tenant, uuid.New(), 100)
	require.NoError(t, err)
	assert.Len(t, jobs, MaxClaimLimit)
	for _, job := range jobs {
		assert.NotEqual(t, other.ID, job.ID)
	}
}

func TestFailedAttemptsBackOffThenFail(t *testing.T) {
	f := newQueue(t)
	jobID := f.enqueue(t, 1)[0]
	device := uuid.New()
	ctx := context.Background()

	claimAndFail := func() *models.PrintJob {
		jobs, err := f.svc.Claim(ctx, f.tenant, device, 1)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		require.NoError(t, f.svc.Ack(ctx, device, jobID, AckFailed, "paper jam"))
		job, err := f.repo.FindByID(ctx, jobID)
		require.NoError(t, err)
		return job
	}

	job := claimAndFail()
	assert.Equal(t, enums.PrintJobStatusQueued, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.True(t, job.AvailableAt.Equal(f.clock.Add(10*time.Second)))
	assert.Nil(t, job.ClaimedBy)

	jobs, err := f.svc.Claim(ctx, f.tenant, device, 1)
	require.NoError(t, err)
	assert.Empty(t, jobs, "job is not due yet")

	f.clock = f.clock.Add(10 * time.Second)
	job = claimAndFail()
	assert.Equal(t, 2, job.Attempts)
	assert.True(t, job.AvailableAt.Equal(f.clock.Add(20*time.Second)))

	f.clock = f.clock.Add(20 * time.Second)
	job = claimAndFail()
	assert.Equal(t, enums.PrintJobStatusFailed, job.Status)
	assert.Equal(t, 3, job.Attempts)
	require.NotNil(t, job.LastError)
	assert.Equal(t, "paper jam", *job.LastError)
}

func TestStaleFailureDoesNotLoseAttempt(t *testing.T) {
	f := newQueue(t)
	jobID := f.enqueue(t, 1)[0]
	device := uuid.New()
	ctx := context.Background()

	_, err := f.svc.Claim(ctx, f.tenant, device, 1)
	require.NoError(t, err)
	stale, err := f.repo.FindByID(ctx, jobID)
	require.NoError(t, err)

	require.NoError(t, f.svc.Ack(ctx, device, jobID, AckFailed, "paper jam"))
	f.clock = f.clock.Add(10 * time.Second)
	jobs, err := f.svc.Claim(ctx, f.tenant, device, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	// a failure computed from the first lease lands on the second
	updates, _ := f.svc.failure(stale, "late jam", f.clock)
	ok, err := f.repo.UpdateLeased(ctx, jobID, device, stale.Attempts, updates)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.svc.Ack(ctx, device, jobID, AckFailed, "paper jam"))
	job, err := f.repo.FindByID(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, 2, job.Attempts)
}

func TestAckOwnershipAndState(t *testing.T) {
	f := newQueue(t)
	jobID := f.enqueue(t, 1)[0]
	owner := uuid.New()
	ctx := context.Background()

	_, err := f.svc.Claim(ctx, f.tenant, owner, 1)
	require.NoError(t, err)

	err = f.svc.Ack(ctx, uuid.New(), jobID, AckPrinted, "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	require.NoError(t, f.svc.Ack(ctx, owner, jobID, AckPrinting, ""))
	require.NoError(t, f.svc.Ack(ctx, owner, jobID, AckPrinted, ""))

	job, err := f.repo.FindByID(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, enums.PrintJobStatusPrinted, job.Status)
	require.NotNil(t, job.PrintedAt)

	err = f.svc.Ack(ctx, owner, jobID, AckFailed, "late")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	err = f.svc.Ack(ctx, owner, uuid.New(), AckPrinted, "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestSweepExpiredLeases(t *testing.T) {
	f := newQueue(t)
	ids := f.enqueue(t, 2)
	ctx := context.Background()
	device := uuid.New()

	_, err := f.svc.Claim(ctx, f.tenant, device, 2)
	require.NoError(t, err)
	require.NoError(t, f.svc.Ack(ctx, device, ids[1], AckPrinting, ""))

	f.clock = f.clock.Add(5 * time.Minute)
	report, err := f.svc.SweepExpiredLeases(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{}, report)

	f.clock = f.clock.Add(6 * time.Minute)
	report, err = f.svc.SweepExpiredLeases(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Requeued)

	for _, id := range ids {
		job, err := f.repo.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, enums.PrintJobStatusQueued, job.Status)
		assert.Equal(t, 1, job.Attempts)
		require.NotNil(t, job.LastError)
		assert.Equal(t, "lease expired", *job.LastError)
	}
}

func TestDiagnostic(t *testing.T) {
	f := newQueue(t)
	f.enqueue(t, 3)
	ctx := context.Background()
	device := &models.Device{ID: uuid.New(), TenantID: f.tenant, Name: "bar", Status: enums.DeviceStatusOnline}

	_, err := f.svc.Claim(ctx, f.tenant, device.ID, 1)
	require.NoError(t, err)

	diag, err := f.svc.Diagnostic(ctx, device)
	require.NoError(t, err)
	assert.Equal(t, JobCounts{Queued: 2, Claimed: 1}, diag.Jobs)
	assert.Equal(t, device.ID, diag.Device.ID)
	assert.True(t, diag.ServerTime.Equal(f.clock))
}

func TestEnqueueValidation(t *testing.T) {
	f := newQueue(t)
	_, err := f.svc.Enqueue(context.Background(), f.tenant, json.RawMessage(`nope`), 0)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, err = f.svc.Enqueue(context.Background(), uuid.Nil, json.RawMessage(`{}`), 0)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	job, err := f.svc.Enqueue(context.Background(), f.tenant, json.RawMessage(`{}`), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, job.MaxAttempts)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 5*time.Second, Backoff(5*time.Second, 0))
	assert.Equal(t, 20*time.Second, Backoff(5*time.Second, 2))
	assert.Equal(t, Backoff(time.Second, 16), Backoff(time.Second, 40))
}
