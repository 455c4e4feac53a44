package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/backoffice-payments/internal/activation"
	"github.com/angelmondragon/backoffice-payments/internal/gateways"
	"github.com/angelmondragon/backoffice-payments/internal/reference"
	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
	dbtypes "github.com/angelmondragon/backoffice-payments/pkg/db/types"
	"github.com/angelmondragon/backoffice-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/backoffice-payments/pkg/errors"
	"github.com/angelmondragon/backoffice-payments/pkg/logger"
	"github.com/angelmondragon/backoffice-payments/pkg/metrics"
	"github.com/angelmondragon/backoffice-payments/pkg/outbox"
	"github.com/angelmondragon/backoffice-payments/pkg/outbox/payloads"
)

// Reasons reported when an event is received but not processed.
const (
	ReasonUnauthorized     = "unauthorized"
	ReasonDuplicate        = "duplicate"
	ReasonIgnoredEventType = "ignored_event_type"
	ReasonMissingReference = "missing_reference"
	ReasonInvalidReference = "invalid_reference"
	ReasonTimeout          = "timeout"
	ReasonMalformedPayload = "malformed_payload"

	outcomeProcessed = "processed"
	outcomeFailed    = "failed"

	defaultTimeout = 8 * time.Second
)

var (
	errAlreadyProcessed = errors.New("payment event already processed")
	errDuplicatePayment = errors.New("payment applied by another event")
)

// Result is the acknowledgement body returned to the gateway.
type Result struct {
	Received  bool   `json:"received"`
	Processed bool   `json:"processed"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
}

type gatewayRegistry interface {
	Get(provider string) (gateways.Gateway, bool)
}

type idempotencyGuard interface {
	CheckAndMark(ctx context.Context, scope, id string) (bool, error)
	Delete(ctx context.Context, scope, id string) error
}

type referenceResolver interface {
	ResolvePlan(ctx context.Context, ref reference.PlanRef) (reference.ResolvedPlan, error)
	ResolveModule(ctx context.Context, ref reference.ModuleRef) (reference.ResolvedModule, error)
}

type activator interface {
	ActivatePlan(ctx context.Context, tx *gorm.DB, in activation.PlanActivation) (*models.TenantSubscription, error)
	ActivateModule(ctx context.Context, tx *gorm.DB, in activation.ModuleActivation) (*models.AddonSubscription, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	Repo              Repository
	Gateways          gatewayRegistry
	Guard             idempotencyGuard
	Resolver          referenceResolver
	Activator         activator
	Outbox            outbox.Emitter
	TransactionRunner txRunner
	Metrics           *metrics.PipelineMetrics
	Logger            *logger.Logger
	Timeout           time.Duration
	Now               func() time.Time
}

// Service ingests gateway notifications and routes confirmed payments to activation.
type Service struct {
	repo      Repository
	gateways  gatewayRegistry
	guard     idempotencyGuard
	resolver  referenceResolver
	activator activator
	outbox    outbox.Emitter
	txRunner  txRunner
	metrics   *metrics.PipelineMetrics
	logg      *logger.Logger
	timeout   time.Duration
	now       func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment event repo required")
	}
	if params.Gateways == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "gateway registry required")
	}
	if params.Guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard required")
	}
	if params.Resolver == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reference resolver required")
	}
	if params.Activator == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "activation service required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:      params.Repo,
		gateways:  params.Gateways,
		guard:     params.Guard,
		resolver:  params.Resolver,
		activator: params.Activator,
		outbox:    params.Outbox,
		txRunner:  params.TransactionRunner,
		metrics:   params.Metrics,
		logg:      params.Logger,
		timeout:   timeout,
		now:       now,
	}, nil
}

// target is a reference resolved to the entitlement it pays for.
type target struct {
	plan   *reference.ResolvedPlan
	module *reference.ResolvedModule
}

func (t target) tenantID() *uuid.UUID {
	switch {
	case t.plan != nil:
		return &t.plan.TenantID
	case t.module != nil:
		return &t.module.TenantID
	}
	return nil
}

// Handle authenticates, records and processes one delivery. The returned error is
// non-nil only when the request itself is unusable (unknown provider or body
// that is not JSON); every other outcome, including JSON of the wrong shape, is
// reported in Result.
func (s *Service) Handle(ctx context.Context, provider string, headers http.Header, body []byte) (Result, error) {
	gw, ok := s.gateways.Get(provider)
	if !ok {
		return Result{}, pkgerrors.New(pkgerrors.CodeNotFound, "unknown payment provider")
	}
	if !json.Valid(body) {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "malformed webhook payload")
	}
	name := gw.Name()
	ctx = s.logg.WithProvider(ctx, string(name))

	event, err := gw.ParseWebhook(headers, body)
	switch {
	case errors.Is(err, gateways.ErrUnauthorized):
		s.logg.Warn(ctx, "webhook authentication failed")
		return s.outcome(name, Result{Received: true, Reason: ReasonUnauthorized}), nil
	case errors.Is(err, gateways.ErrMalformedPayload):
		// valid JSON the gateway cannot use would only be redelivered
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "webhook payload has an unexpected shape")
		return s.outcome(name, Result{Received: true, Reason: ReasonMalformedPayload}), nil
	case err != nil:
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "parse webhook")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"event_id":   event.EventID,
		"event_type": event.EventType,
		"payment_id": event.Payment.ID,
	})

	procCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res := s.process(procCtx, name, event, body)
	if errors.Is(procCtx.Err(), context.DeadlineExceeded) && !res.Processed {
		s.logg.Warn(ctx, "webhook processing timed out")
		s.release(ctx, name, event.EventID)
		res = Result{Received: true, Reason: ReasonTimeout}
	}
	return s.outcome(name, res), nil
}

func (s *Service) process(ctx context.Context, provider enums.PaymentProvider, event gateways.WebhookEvent, body []byte) Result {
	seen, err := s.guard.CheckAndMark(ctx, guardScope(provider), event.EventID)
	if err != nil {
		// the unique (provider, provider_event_id) row still deduplicates
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "webhook idempotency guard unavailable")
	}
	if seen && s.alreadyProcessed(ctx, provider, event.EventID) {
		return Result{Received: true, Reason: ReasonDuplicate}
	}

	ref, decodeErr := s.decode(event)
	var tgt target
	var resolveErr error
	if event.Confirmed && decodeErr == nil && ref != nil {
		tgt, resolveErr = s.resolve(ctx, ref)
	}

	stored, err := s.record(ctx, provider, event, body, tgt.tenantID())
	if err != nil {
		s.logg.Error(ctx, "failed to record payment event", err)
		s.release(ctx, provider, event.EventID)
		return Result{Received: true, Error: publicMessage(err)}
	}
	ctx = s.logg.WithField(ctx, "payment_event_id", stored.ID.String())

	if stored.ProcessedAt != nil {
		return Result{Received: true, Reason: ReasonDuplicate}
	}
	if !event.Confirmed {
		return Result{Received: true, Reason: ReasonIgnoredEventType}
	}
	if strings.TrimSpace(event.Payment.Reference) == "" {
		s.noteError(ctx, stored.ID, "payment carries no reference")
		return Result{Received: true, Reason: ReasonMissingReference}
	}
	if decodeErr != nil {
		s.logg.Warn(s.logg.WithField(ctx, "reference", event.Payment.Reference), "payment reference could not be decoded")
		s.noteError(ctx, stored.ID, decodeErr.Error())
		return Result{Received: true, Reason: ReasonInvalidReference}
	}
	if resolveErr != nil {
		return s.fail(ctx, provider, stored, event, resolveErr)
	}

	if err := s.dispatch(ctx, provider, stored, event, tgt); err != nil {
		if errors.Is(err, errAlreadyProcessed) {
			return Result{Received: true, Reason: ReasonDuplicate}
		}
		if errors.Is(err, errDuplicatePayment) {
			s.logg.Info(ctx, "payment already applied by an earlier event")
			return Result{Received: true, Reason: ReasonDuplicate}
		}
		return s.fail(ctx, provider, stored, event, err)
	}
	s.logg.Info(ctx, "payment event processed")
	return Result{Received: true, Processed: true}
}

// alreadyProcessed reports whether a marked redelivery's stored event finished
// processing. A mark without a processed row goes through the full path.
func (s *Service) alreadyProcessed(ctx context.Context, provider enums.PaymentProvider, eventID string) bool {
	stored, err := s.repo.FindByProviderEvent(ctx, provider, eventID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "failed to load marked payment event")
		}
		return false
	}
	return stored.ProcessedAt != nil
}

func (s *Service) decode(event gateways.WebhookEvent) (reference.Reference, error) {
	raw := strings.TrimSpace(event.Payment.Reference)
	if raw == "" {
		return nil, nil
	}
	return reference.Decode(raw)
}

func (s *Service) resolve(ctx context.Context, ref reference.Reference) (target, error) {
	switch r := ref.(type) {
	case reference.PlanRef:
		resolved, err := s.resolver.ResolvePlan(ctx, r)
		if err != nil {
			return target{}, err
		}
		return target{plan: &resolved}, nil
	case reference.ModuleRef:
		resolved, err := s.resolver.ResolveModule(ctx, r)
		if err != nil {
			return target{}, err
		}
		return target{module: &resolved}, nil
	}
	return target{}, pkgerrors.New(pkgerrors.CodeValidation, "unsupported reference kind")
}

func (s *Service) record(ctx context.Context, provider enums.PaymentProvider, event gateways.WebhookEvent, body []byte, tenantID *uuid.UUID) (*models.PaymentEvent, error) {
	row := &models.PaymentEvent{
		Provider:        provider,
		ProviderEventID: event.EventID,
		EventType:       event.EventType,
		TenantID:        tenantID,
		AmountCents:     event.Payment.AmountCents,
		RawPayload:      dbtypes.JSONB(body),
		ReceivedAt:      s.now().UTC(),
	}
	if id := strings.TrimSpace(event.Payment.ID); id != "" {
		row.ProviderPaymentID = &id
	}
	if err := s.repo.InsertIfAbsent(ctx, row); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert payment event")
	}
	stored, err := s.repo.FindByProviderEvent(ctx, provider, event.EventID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment event")
	}
	return stored, nil
}

// dispatch activates the target, marks the event processed and emits the
// outcome in one transaction. The stored receipt time is the activation time so
// a replay converges on the same state. When another event of the same gateway
// payment was applied first, the event is only marked processed.
func (s *Service) dispatch(ctx context.Context, provider enums.PaymentProvider, stored *models.PaymentEvent, event gateways.WebhookEvent, tgt target) error {
	payment := activation.Payment{
		EventID:     stored.ID,
		Provider:    provider,
		PaymentID:   event.Payment.ID,
		Method:      event.Payment.BillingType,
		AmountCents: event.Payment.AmountCents,
		PaidAt:      stored.ReceivedAt,
	}
	if payment.Method == "" {
		payment.Method = enums.PaymentMethodUndefined
	}

	duplicate := false
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		marked, err := s.repo.WithTx(tx).MarkProcessed(ctx, stored.ID, s.now())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment event processed")
		}
		if !marked {
			return errAlreadyProcessed
		}

		processed := payloads.PaymentProcessedEvent{
			PaymentEventID: stored.ID,
			Provider:       provider,
			EventType:      event.EventType,
			TenantID:       tgt.tenantID(),
			AmountCents:    event.Payment.AmountCents,
		}
		switch {
		case tgt.plan != nil:
			sub, err := s.activator.ActivatePlan(ctx, tx, activation.PlanActivation{
				TenantID: tgt.plan.TenantID,
				PlanID:   tgt.plan.PlanID,
				Payment:  payment,
			})
			if errors.Is(err, activation.ErrPaymentAlreadyApplied) {
				duplicate = true
				return nil
			}
			if err != nil {
				return err
			}
			processed.TargetKind = reference.KindPlan
			processed.TargetID = sub.PlanID
			processed.PeriodEnd = sub.PeriodEnd
		case tgt.module != nil:
			addon, err := s.activator.ActivateModule(ctx, tx, activation.ModuleActivation{
				TenantID: tgt.module.TenantID,
				ModuleID: tgt.module.ModuleID,
				Payment:  payment,
			})
			if errors.Is(err, activation.ErrPaymentAlreadyApplied) {
				duplicate = true
				return nil
			}
			if err != nil {
				return err
			}
			processed.TargetKind = reference.KindModule
			processed.TargetID = addon.ModuleID
			if addon.ExpiresAt != nil {
				processed.PeriodEnd = *addon.ExpiresAt
			}
		default:
			return pkgerrors.New(pkgerrors.CodeInternal, "no activation target")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentProcessed,
			AggregateType: enums.AggregatePaymentEvent,
			AggregateID:   stored.ID,
			Actor:         &outbox.ActorRef{Kind: "gateway", ID: string(provider)},
			Data:          processed,
		})
	})
	if err == nil && duplicate {
		return errDuplicatePayment
	}
	return err
}

// fail records the processing error, announces it and releases the redis mark
// so the provider's redelivery is processed again.
func (s *Service) fail(ctx context.Context, provider enums.PaymentProvider, stored *models.PaymentEvent, event gateways.WebhookEvent, cause error) Result {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Result{Received: true}
	}
	s.logg.Error(ctx, "payment event processing failed", cause)
	msg := publicMessage(cause)

	bg := context.WithoutCancel(ctx)
	err := s.txRunner.WithTx(bg, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).RecordError(bg, stored.ID, cause.Error()); err != nil {
			return err
		}
		return s.outbox.Emit(bg, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentProcessingFailed,
			AggregateType: enums.AggregatePaymentEvent,
			AggregateID:   stored.ID,
			Actor:         &outbox.ActorRef{Kind: "gateway", ID: string(provider)},
			Data: payloads.PaymentProcessingFailedEvent{
				PaymentEventID: stored.ID,
				Provider:       provider,
				EventType:      event.EventType,
				Reason:         msg,
			},
		})
	})
	if err != nil {
		s.logg.Error(bg, "failed to record payment event failure", err)
	}
	s.release(bg, provider, event.EventID)
	return Result{Received: true, Error: msg}
}

func (s *Service) noteError(ctx context.Context, id uuid.UUID, msg string) {
	if err := s.repo.RecordError(context.WithoutCancel(ctx), id, msg); err != nil {
		s.logg.Error(ctx, "failed to record payment event error", err)
	}
}

func (s *Service) release(ctx context.Context, provider enums.PaymentProvider, eventID string) {
	if err := s.guard.Delete(context.WithoutCancel(ctx), guardScope(provider), eventID); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "failed to release webhook idempotency mark")
	}
}

func (s *Service) outcome(provider enums.PaymentProvider, res Result) Result {
	label := res.Reason
	switch {
	case res.Processed:
		label = outcomeProcessed
	case label == "":
		label = outcomeFailed
	}
	s.metrics.IncWebhook(string(provider), label)
	return res
}

func guardScope(provider enums.PaymentProvider) string {
	return "webhook:" + string(provider)
}

// publicMessage mirrors what the HTTP layer would expose for err.
func publicMessage(err error) string {
	typed := pkgerrors.As(err)
	if typed == nil {
		return pkgerrors.MetadataFor(pkgerrors.CodeInternal).PublicMessage
	}
	meta := pkgerrors.MetadataFor(typed.Code())
	if meta.DetailsAllowed || typed.Code() == pkgerrors.CodeNotFound {
		if m := typed.Message(); m != "" {
			return m
		}
	}
	return meta.PublicMessage
}
