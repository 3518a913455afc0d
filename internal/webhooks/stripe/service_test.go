package stripewebhook

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/harborline/harborline-backend/internal/audit"
	"github.com/harborline/harborline-backend/internal/idempotency"
	"github.com/harborline/harborline-backend/internal/orders"
	"github.com/harborline/harborline-backend/internal/plans"
	"github.com/harborline/harborline-backend/internal/subscriptions"
	"github.com/harborline/harborline-backend/internal/tenants"
	"github.com/harborline/harborline-backend/pkg/db/models"
	"github.com/harborline/harborline-backend/pkg/enums"
	pkgerrors "github.com/harborline/harborline-backend/pkg/errors"
	"github.com/harborline/harborline-backend/pkg/logger"
)

type testTxRunner struct {
	db *gorm.DB
}

func (r *testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(tx)
	})
}

type fakeProvisioner struct {
	calls []uuid.UUID
}

func (f *fakeProvisioner) OnActivation(ctx context.Context, sub *models.Subscription) (string, error) {
	f.calls = append(f.calls, sub.ID)
	return "job-" + uuid.NewString(), nil
}

type webhookFixture struct {
	db          *gorm.DB
	service     Service
	ledger      *idempotency.Ledger
	subRepo     subscriptions.Repository
	orderRepo   orders.Repository
	tenantRepo  tenants.Repository
	provisioner *fakeProvisioner
	tenant      *models.Tenant
	customerID  string
	planCode    string
}

func setupWebhook(t *testing.T) *webhookFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Tenant{},
		&models.BillingPlan{},
		&models.Order{},
		&models.Subscription{},
		&models.AuditEvent{},
		&models.IdempotencyRecord{},
	))

	customerID := "cus_" + uuid.NewString()
	tenant := &models.Tenant{
		ID:               uuid.New(),
		Name:             "Acme Hosting",
		StripeCustomerID: &customerID,
	}
	require.NoError(t, db.Create(tenant).Error)

	planCode := "hosting-pro-" + uuid.NewString()[:8]
	plan := &models.BillingPlan{
		Code:          planCode,
		Name:          "Pro Hosting",
		BillingCycle:  enums.BillingCycleMonthly,
		CurrencyCode:  "USD",
		Provisionable: true,
	}
	require.NoError(t, db.Create(plan).Error)

	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

	auditSvc, err := audit.NewService(audit.NewRepository(db))
	require.NoError(t, err)

	provisioner := &fakeProvisioner{}
	subRepo := subscriptions.NewRepository(db)
	tenantRepo := tenants.NewRepository(db)
	planRepo := plans.NewRepository(db)
	reconciler, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:              subRepo,
		TenantRepo:        tenantRepo,
		PlanRepo:          planRepo,
		Audit:             auditSvc,
		Provisioner:       provisioner,
		TransactionRunner: &testTxRunner{db: db},
		Logger:            logg,
	})
	require.NoError(t, err)

	orderRepo := orders.NewRepository(db)
	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo:       orderRepo,
		PlanRepo:   planRepo,
		Reconciler: reconciler,
		Audit:      auditSvc,
		Logger:     logg,
	})
	require.NoError(t, err)

	ledger, err := idempotency.NewLedger(idempotency.LedgerParams{
		Repo:   idempotency.NewRepository(db),
		Logger: logg,
	})
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Ledger:        ledger,
		Subscriptions: reconciler,
		Orders:        orderSvc,
		TenantRepo:    tenantRepo,
		Logger:        logg,
		ClaimTTL:      time.Hour,
	})
	require.NoError(t, err)

	return &webhookFixture{
		db:          db,
		service:     svc,
		ledger:      ledger,
		subRepo:     subRepo,
		orderRepo:   orderRepo,
		tenantRepo:  tenantRepo,
		provisioner: provisioner,
		tenant:      tenant,
		customerID:  customerID,
		planCode:    planCode,
	}
}

func newEvent(eventType string, object map[string]any) (*stripe.Event, []byte) {
	raw, err := json.Marshal(object)
	if err != nil {
		panic(err)
	}
	event := &stripe.Event{
		ID:   "evt_" + uuid.NewString(),
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
	body, err := json.Marshal(map[string]any{
		"id":   event.ID,
		"type": eventType,
		"data": map[string]any{"object": object},
	})
	if err != nil {
		panic(err)
	}
	return event, body
}

func (f *webhookFixture) subscriptionObject(externalID, status string, periodStart, periodEnd int64) map[string]any {
	return map[string]any{
		"id":       externalID,
		"customer": f.customerID,
		"status":   status,
		"items": map[string]any{
			"data": []map[string]any{{
				"quantity":             1,
				"current_period_start": periodStart,
				"current_period_end":   periodEnd,
				"price": map[string]any{
					"id":          "price_" + uuid.NewString()[:8],
					"lookup_key":  f.planCode,
					"unit_amount": 2900,
					"currency":    "usd",
					"recurring":   map[string]any{"interval": "month", "interval_count": 1},
				},
			}},
		},
	}
}

func (f *webhookFixture) findByExternalID(t *testing.T, externalID string) *models.Subscription {
	t.Helper()

	sub, err := f.subRepo.FindByExternalID(context.Background(), externalID)
	require.NoError(t, err)
	require.NotNil(t, sub)
	return sub
}

func TestHandleEvent_subscriptionCreatedActivates(t *testing.T) {
	f := setupWebhook(t)
	ctx := context.Background()
	extID := "sub_" + uuid.NewString()[:8]
	now := time.Now().UTC()

	event, body := newEvent("customer.subscription.created",
		f.subscriptionObject(extID, "active", now.Unix(), now.AddDate(0, 1, 0).Unix()))
	result, err := f.service.HandleEvent(ctx, event, body)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, event.ID, result.EventID)

	sub := f.findByExternalID(t, extID)
	assert.Equal(t, enums.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, f.planCode, sub.PlanCode)
	assert.Equal(t, f.tenant.ID, sub.TenantID)
	assert.Len(t, f.provisioner.calls, 1)
}

func TestHandleEvent_redeliveryReplaysStoredResult(t *testing.T) {
	f := setupWebhook(t)
	ctx := context.Background()
	extID := "sub_" + uuid.NewString()[:8]
	now := time.Now().UTC()

	event, body := newEvent("customer.subscription.created",
		f.subscriptionObject(extID, "active", now.Unix(), now.AddDate(0, 1, 0).Unix()))

	first, err := f.service.HandleEvent(ctx, event, body)
	require.NoError(t, err)
	second, err := f.service.HandleEvent(ctx, event, body)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var count int64
	require.NoError(t, f.db.Model(&models.Subscription{}).
		Where("stripe_subscription_id = ?", extID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
	assert.Len(t, f.provisioner.calls, 1)
}

func TestHandleEvent_failureReleasesClaim(t *testing.T) {
	f := setupWebhook(t)
	ctx := context.Background()

	event, body := newEvent("checkout.session.completed", map[string]any{
		"id":       "cs_" + uuid.NewString()[:8],
		"customer": f.customerID,
		"metadata": map[string]any{
			"tenant_id": f.tenant.ID.String(),
			"order_id":  "not-a-uuid",
		},
	})

	_, err := f.service.HandleEvent(ctx, event, body)
	require.Error(t, err)
	require.NotNil(t, pkgerrors.As(err))
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	// The claim was released, so the retry re-executes the handler instead
	// of reporting the event as in flight.
	_, err = f.service.HandleEvent(ctx, event, body)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestHandleEvent_failedRecordSurfacesStoredMessage(t *testing.T) {
	f := setupWebhook(t)
	ctx := context.Background()
	now := time.Now().UTC()

	event, body := newEvent("customer.subscription.updated",
		f.subscriptionObject("sub_"+uuid.NewString()[:8], "active", now.Unix(), now.AddDate(0, 1, 0).Unix()))

	// Handler failures release their claim, so a FAILED record for an event
	// only exists when an operator finalized one by hand. It carries no
	// response body, only the recorded message.
	_, err := f.ledger.Claim(ctx, idempotency.ClaimInput{
		Key:         "wh:" + event.ID,
		Operation:   webhookOperation,
		RequestHash: idempotency.HashRequest(body),
		TTL:         time.Hour,
	})
	require.NoError(t, err)
	require.NoError(t, f.ledger.Fail(ctx, "wh:"+event.ID, "handler timed out"))

	_, err = f.service.HandleEvent(ctx, event, body)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeInternal, typed.Code())
	assert.Equal(t, "handler timed out", typed.Message())
}

func TestHandleEvent_unhandledTypeAcknowledged(t *testing.T) {
	f := setupWebhook(t)

	event, body := newEvent("charge.refunded", map[string]any{"id": "ch_1"})
	result, err := f.service.HandleEvent(context.Background(), event, body)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "event type not handled", result.Message)
}

func TestHandleEvent_subscriptionDeletedCancels(t *testing.T) {
	f := setupWebhook(t)
	ctx := context.Background()
	extID := "sub_" + uuid.NewString()[:8]
	now := time.Now().UTC()

	created, createdBody := newEvent("customer.subscription.created",
		f.subscriptionObject(extID, "active", now.Unix(), now.AddDate(0, 1, 0).Unix()))
	_, err := f.service.HandleEvent(ctx, created, createdBody)
	require.NoError(t, err)

	object := f.subscriptionObject(extID, "canceled", now.Unix(), now.AddDate(0, 1, 0).Unix())
	object["canceled_at"] = now.Unix()
	deleted, deletedBody := newEvent("customer.subscription.deleted", object)
	result, err := f.service.HandleEvent(ctx, deleted, deletedBody)
	require.NoError(t, err)
	assert.True(t, result.Success)

	sub := f.findByExternalID(t, extID)
	assert.Equal(t, enums.SubscriptionStatusCancelled, sub.Status)
	assert.NotNil(t, sub.CancelledAt)
}

func TestHandleEvent_invoicePaymentFailedMarksPastDue(t *testing.T) {
	f := setupWebhook(t)
	ctx := context.Background()
	extID := "sub_" + uuid.NewString()[:8]
	now := time.Now().UTC()

	created, createdBody := newEvent("customer.subscription.created",
		f.subscriptionObject(extID, "active", now.Unix(), now.AddDate(0, 1, 0).Unix()))
	_, err := f.service.HandleEvent(ctx, created, createdBody)
	require.NoError(t, err)

	failed, failedBody := newEvent("invoice.payment_failed", map[string]any{
		"id":           "in_" + uuid.NewString()[:8],
		"customer":     f.customerID,
		"subscription": extID,
	})
	result, err := f.service.HandleEvent(ctx, failed, failedBody)
	require.NoError(t, err)
	assert.True(t, result.Success)

	sub := f.findByExternalID(t, extID)
	assert.Equal(t, enums.SubscriptionStatusPastDue, sub.Status)
}

func TestHandleEvent_invoiceWithoutSubscriptionAcknowledged(t *testing.T) {
	f := setupWebhook(t)

	event, body := newEvent("invoice.payment_succeeded", map[string]any{
		"id":       "in_" + uuid.NewString()[:8],
		"customer": f.customerID,
	})
	result, err := f.service.HandleEvent(context.Background(), event, body)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "invoice is not tied to a subscription", result.Message)
}

func TestHandleEvent_invoicePaymentSucceededRenews(t *testing.T) {
	f := setupWebhook(t)
	ctx := context.Background()
	extID := "sub_" + uuid.NewString()[:8]
	now := time.Now().UTC()

	created, createdBody := newEvent("customer.subscription.created",
		f.subscriptionObject(extID, "active", now.Unix(), now.AddDate(0, 1, 0).Unix()))
	_, err := f.service.HandleEvent(ctx, created, createdBody)
	require.NoError(t, err)

	nextStart := now.AddDate(0, 1, 0)
	nextEnd := now.AddDate(0, 2, 0)
	renewed, renewedBody := newEvent("invoice.payment_succeeded", map[string]any{
		"id":           "in_" + uuid.NewString()[:8],
		"customer":     f.customerID,
		"subscription": extID,
		"lines": map[string]any{
			"data": []map[string]any{{
				"period": map[string]any{"start": nextStart.Unix(), "end": nextEnd.Unix()},
			}},
		},
	})
	result, err := f.service.HandleEvent(ctx, renewed, renewedBody)
	require.NoError(t, err)
	assert.True(t, result.Success)

	sub := f.findByExternalID(t, extID)
	assert.Equal(t, enums.SubscriptionStatusActive, sub.Status)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.Equal(t, nextEnd.Unix(), sub.CurrentPeriodEnd.Unix())
	// Renewal does not re-trigger provisioning.
	assert.Len(t, f.provisioner.calls, 1)
}

func TestHandleEvent_checkoutCompletedMarksOrderPaid(t *testing.T) {
	f := setupWebhook(t)
	ctx := context.Background()

	freshTenant := &models.Tenant{ID: uuid.New(), Name: "Globex Hosting"}
	require.NoError(t, f.db.Create(freshTenant).Error)

	domain := "globex.example"
	order := &models.Order{
		ID:              uuid.New(),
		TenantID:        freshTenant.ID,
		PlanCode:        f.planCode,
		BillingCycle:    enums.BillingCycleMonthly,
		Status:          enums.OrderStatusPending,
		Currency:        "USD",
		RequestedDomain: &domain,
	}
	require.NoError(t, f.db.Create(order).Error)

	newCustomer := "cus_" + uuid.NewString()
	event, body := newEvent("checkout.session.completed", map[string]any{
		"id":       "cs_" + uuid.NewString()[:8],
		"customer": newCustomer,
		"metadata": map[string]any{
			"tenant_id": freshTenant.ID.String(),
			"order_id":  order.ID.String(),
		},
	})
	result, err := f.service.HandleEvent(ctx, event, body)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "order marked paid", result.Message)

	var reloaded models.Order
	require.NoError(t, f.db.First(&reloaded, "id = ?", order.ID).Error)
	assert.Equal(t, enums.OrderStatusPaid, reloaded.Status)
	require.NotNil(t, reloaded.PaidAt)

	tenant, err := f.tenantRepo.FindByID(ctx, freshTenant.ID)
	require.NoError(t, err)
	require.NotNil(t, tenant.StripeCustomerID)
	assert.Equal(t, newCustomer, *tenant.StripeCustomerID)

	// Payment produced the pending subscription the next provider event
	// will adopt.
	sub, err := f.subRepo.FindByOrderID(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, enums.SubscriptionStatusInactive, sub.Status)
}

func TestHandleEvent_unknownCustomerAcknowledged(t *testing.T) {
	f := setupWebhook(t)
	now := time.Now().UTC()

	object := f.subscriptionObject("sub_"+uuid.NewString()[:8], "active", now.Unix(), now.AddDate(0, 1, 0).Unix())
	object["customer"] = "cus_unknown_" + uuid.NewString()[:8]
	event, body := newEvent("customer.subscription.created", object)

	result, err := f.service.HandleEvent(context.Background(), event, body)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, result.SubscriptionID)
	assert.Empty(t, f.provisioner.calls)
}

func TestHandleEvent_expandedCustomerObject(t *testing.T) {
	f := setupWebhook(t)
	now := time.Now().UTC()
	extID := "sub_" + uuid.NewString()[:8]

	object := f.subscriptionObject(extID, "active", now.Unix(), now.AddDate(0, 1, 0).Unix())
	object["customer"] = map[string]any{"id": f.customerID, "email": "owner@acme.example"}
	event, body := newEvent("customer.subscription.created", object)

	_, err := f.service.HandleEvent(context.Background(), event, body)
	require.NoError(t, err)
	sub := f.findByExternalID(t, extID)
	assert.Equal(t, f.tenant.ID, sub.TenantID)
}

func TestNewService_validatesParams(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
	assert.Equal(t, "stripewebhook: ledger is required", err.Error())
}
