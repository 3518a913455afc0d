package stripewebhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/harborline/harborline-backend/internal/idempotency"
	"github.com/harborline/harborline-backend/internal/orders"
	"github.com/harborline/harborline-backend/internal/subscriptions"
	"github.com/harborline/harborline-backend/internal/tenants"
	pkgerrors "github.com/harborline/harborline-backend/pkg/errors"
	"github.com/harborline/harborline-backend/pkg/logger"
	"github.com/harborline/harborline-backend/pkg/metrics"
)

const webhookOperation = "stripe.webhook"

// Result is the durable outcome of handling one provider event. It is what
// gets stored against the event id, so a redelivery returns the same body
// without re-executing anything.
type Result struct {
	Success        bool   `json:"success"`
	EventID        string `json:"event_id"`
	EventType      string `json:"event_type"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	Message        string `json:"message,omitempty"`
}

// Service processes verified provider events exactly once per event id.
type Service interface {
	HandleEvent(ctx context.Context, event *stripe.Event, rawBody []byte) (*Result, error)
}

type ServiceParams struct {
	Ledger        *idempotency.Ledger
	Subscriptions subscriptions.Service
	Orders        orders.Service
	TenantRepo    tenants.Repository
	Metrics       *metrics.WebhookMetrics
	Logger        *logger.Logger
	ClaimTTL      time.Duration
}

type service struct {
	ledger   *idempotency.Ledger
	subs     subscriptions.Service
	orders   orders.Service
	tenants  tenants.Repository
	metrics  *metrics.WebhookMetrics
	logg     *logger.Logger
	claimTTL time.Duration
}

func NewService(params ServiceParams) (Service, error) {
	if params.Ledger == nil {
		return nil, fmt.Errorf("stripewebhook: ledger is required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("stripewebhook: subscriptions service is required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("stripewebhook: orders service is required")
	}
	if params.TenantRepo == nil {
		return nil, fmt.Errorf("stripewebhook: tenant repository is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("stripewebhook: logger is required")
	}
	if params.ClaimTTL <= 0 {
		return nil, fmt.Errorf("stripewebhook: claim ttl must be positive")
	}
	return &service{
		ledger:   params.Ledger,
		subs:     params.Subscriptions,
		orders:   params.Orders,
		tenants:  params.TenantRepo,
		metrics:  params.Metrics,
		logg:     params.Logger,
		claimTTL: params.ClaimTTL,
	}, nil
}

// HandleEvent claims the event id in the ledger, dispatches by event type,
// and finalizes the claim with the stored Result. A handler failure releases
// the claim so the provider's retry re-executes the event from scratch.
func (s *service) HandleEvent(ctx context.Context, event *stripe.Event, rawBody []byte) (*Result, error) {
	ctx = s.logg.WithEventID(ctx, event.ID)
	eventType := string(event.Type)

	claim, err := s.ledger.Claim(ctx, idempotency.ClaimInput{
		Key:         "wh:" + event.ID,
		Operation:   webhookOperation,
		RequestHash: idempotency.HashRequest(rawBody),
		TTL:         s.claimTTL,
	})
	if err != nil {
		return nil, err
	}

	switch claim.Decision {
	case idempotency.DecisionReplayCompleted:
		var stored Result
		if err := json.Unmarshal(claim.Response, &stored); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode stored webhook result")
		}
		if s.metrics != nil {
			s.metrics.IncReplayed(eventType)
		}
		s.logg.Info(ctx, "webhook event replayed from ledger")
		return &stored, nil
	case idempotency.DecisionReplayFailed:
		// Handler failures release their claim, so a FAILED record for a
		// webhook key only appears if an operator marked one by hand. There
		// is no stored response body to replay; surface the recorded message.
		if s.metrics != nil {
			s.metrics.IncFailed(eventType)
		}
		msg := claim.ErrorMessage
		if msg == "" {
			msg = "event previously failed"
		}
		return nil, pkgerrors.New(pkgerrors.CodeInternal, msg)
	case idempotency.DecisionInProgress:
		return nil, pkgerrors.New(pkgerrors.CodeInProgress, "event is already being processed")
	}

	result, err := s.dispatch(ctx, event)
	if err != nil {
		if releaseErr := s.ledger.Release(ctx, "wh:"+event.ID); releaseErr != nil {
			s.logg.Error(ctx, "release webhook claim", releaseErr)
		}
		if s.metrics != nil {
			s.metrics.IncFailed(eventType)
		}
		return nil, err
	}

	result.Success = true
	result.EventID = event.ID
	result.EventType = eventType
	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode webhook result")
	}
	if err := s.ledger.Complete(ctx, "wh:"+event.ID, encoded); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncProcessed(eventType)
	}
	return result, nil
}

func (s *service) dispatch(ctx context.Context, event *stripe.Event) (*Result, error) {
	switch event.Type {
	case "checkout.session.completed":
		return s.handleCheckoutCompleted(ctx, event)
	case "customer.subscription.created":
		return s.handleSubscriptionEvent(ctx, event, s.subs.ApplyCreation)
	case "customer.subscription.updated":
		return s.handleSubscriptionEvent(ctx, event, s.subs.ApplyUpdate)
	case "customer.subscription.deleted":
		return s.handleSubscriptionEvent(ctx, event, s.subs.ApplyDeletion)
	case "customer.subscription.trial_will_end":
		return s.handleSubscriptionEvent(ctx, event, s.subs.NotifyTrialEnding)
	case "invoice.payment_succeeded":
		return s.handleInvoiceEvent(ctx, event, s.subs.ApplyRenewal)
	case "invoice.payment_failed":
		return s.handleInvoiceEvent(ctx, event, s.subs.ApplyPaymentFailure)
	default:
		// Unhandled types are acknowledged so the provider stops retrying.
		s.logg.Info(ctx, "ignoring unhandled webhook event type "+string(event.Type))
		return &Result{Message: "event type not handled"}, nil
	}
}

// handleCheckoutCompleted links the provider customer to the tenant that
// started checkout and, when the session references one of our orders,
// marks that order paid.
func (s *service) handleCheckoutCompleted(ctx context.Context, event *stripe.Event) (*Result, error) {
	session, err := decodeCheckoutEvent(event)
	if err != nil {
		return nil, err
	}

	tenantID, err := checkoutTenantID(session)
	if err != nil {
		s.logg.Warn(ctx, "checkout session carries no tenant reference")
		return &Result{Message: "no tenant reference on session"}, nil
	}

	if session.Customer != "" {
		if err := s.tenants.AttachStripeCustomer(ctx, tenantID, string(session.Customer)); err != nil {
			return nil, err
		}
	}

	result := &Result{SubscriptionID: string(session.Subscription)}
	if raw := session.Metadata["order_id"]; raw != "" {
		orderID, err := uuid.Parse(raw)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse order id on checkout session")
		}
		if _, err := s.orders.MarkPaid(ctx, tenantID, orderID); err != nil {
			return nil, err
		}
		result.Message = "order marked paid"
	}
	return result, nil
}

func checkoutTenantID(session *checkoutSessionPayload) (uuid.UUID, error) {
	if raw := session.Metadata["tenant_id"]; raw != "" {
		return uuid.Parse(raw)
	}
	if session.ClientReferenceID != "" {
		return uuid.Parse(session.ClientReferenceID)
	}
	return uuid.Nil, fmt.Errorf("no tenant reference")
}

type applyFunc func(ctx context.Context, update subscriptions.ProviderUpdate) (*subscriptions.Result, error)

func (s *service) handleSubscriptionEvent(ctx context.Context, event *stripe.Event, apply applyFunc) (*Result, error) {
	payload, err := decodeSubscriptionEvent(event)
	if err != nil {
		return nil, err
	}
	return s.applyUpdate(ctx, apply, toProviderUpdate(event, payload))
}

func (s *service) handleInvoiceEvent(ctx context.Context, event *stripe.Event, apply applyFunc) (*Result, error) {
	invoice, err := decodeInvoiceEvent(event)
	if err != nil {
		return nil, err
	}
	subID := invoice.subscriptionID()
	if subID == "" {
		// One-off invoices carry no subscription and need no reconciling.
		return &Result{Message: "invoice is not tied to a subscription"}, nil
	}

	update := subscriptions.ProviderUpdate{
		EventID:    event.ID,
		EventType:  string(event.Type),
		ExternalID: subID,
		CustomerID: string(invoice.Customer),
	}
	start, end := invoice.PeriodStart, invoice.PeriodEnd
	if len(invoice.Lines.Data) > 0 {
		if p := invoice.Lines.Data[0].Period; p.Start != 0 && p.End != 0 {
			start, end = p.Start, p.End
		}
	}
	if start != 0 {
		update.CurrentPeriodStart = unixTimePtr(start)
	}
	if end != 0 {
		update.CurrentPeriodEnd = unixTimePtr(end)
	}
	return s.applyUpdate(ctx, apply, update)
}

func (s *service) applyUpdate(ctx context.Context, apply applyFunc, update subscriptions.ProviderUpdate) (*Result, error) {
	outcome, err := apply(ctx, update)
	if err != nil {
		return nil, err
	}
	result := &Result{Message: outcome.Message}
	if outcome.Subscription != nil {
		result.SubscriptionID = outcome.Subscription.ID.String()
	}
	return result, nil
}
