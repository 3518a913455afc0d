package subscriptions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/harborline/harborline-backend/internal/audit"
	"github.com/harborline/harborline-backend/internal/plans"
	"github.com/harborline/harborline-backend/internal/tenants"
	"github.com/harborline/harborline-backend/pkg/db/models"
	"github.com/harborline/harborline-backend/pkg/enums"
	pkgerrors "github.com/harborline/harborline-backend/pkg/errors"
	"github.com/harborline/harborline-backend/pkg/logger"
)

const (
	maxReconcileAttempts = 3

	metaProvisioningJobID = "provisioning_job_id"
	metaRequestedDomain   = "requested_domain"
)

var errVersionConflict = errors.New("subscription version conflict")

type eventClass int

const (
	classCreation eventClass = iota
	classUpdate
	classRenewal
	classDelete
)

// Service is the subscription reconciler: the only writer of subscription
// state. Every provider event and every local order funnels through it.
type Service interface {
	CreateFromOrder(ctx context.Context, order *models.Order) (*models.Subscription, error)
	ApplyCreation(ctx context.Context, update ProviderUpdate) (*Result, error)
	ApplyUpdate(ctx context.Context, update ProviderUpdate) (*Result, error)
	ApplyDeletion(ctx context.Context, update ProviderUpdate) (*Result, error)
	ApplyRenewal(ctx context.Context, update ProviderUpdate) (*Result, error)
	ApplyPaymentFailure(ctx context.Context, update ProviderUpdate) (*Result, error)
	NotifyTrialEnding(ctx context.Context, update ProviderUpdate) (*Result, error)
	SweepPeriodEndCancellations(ctx context.Context, limit int) (int, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.Subscription, error)
}

// ServiceParams groups dependencies for the reconciler.
type ServiceParams struct {
	Repo              Repository
	TenantRepo        tenants.Repository
	PlanRepo          plans.Repository
	Audit             audit.Service
	Provisioner       ProvisioningDispatcher
	TransactionRunner txRunner
	Logger            *logger.Logger
}

type service struct {
	repo        Repository
	tenantRepo  tenants.Repository
	planRepo    plans.Repository
	audit       audit.Service
	provisioner ProvisioningDispatcher
	txRunner    txRunner
	logg        *logger.Logger
}

// NewService builds the reconciler with the required dependencies.
// Provisioner may be nil when no provisioning queue is configured.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, errors.New("subscription repo required")
	}
	if params.TenantRepo == nil {
		return nil, errors.New("tenant repo required")
	}
	if params.PlanRepo == nil {
		return nil, errors.New("plan repo required")
	}
	if params.Audit == nil {
		return nil, errors.New("audit service required")
	}
	if params.TransactionRunner == nil {
		return nil, errors.New("transaction runner required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	return &service{
		repo:        params.Repo,
		tenantRepo:  params.TenantRepo,
		planRepo:    params.PlanRepo,
		audit:       params.Audit,
		provisioner: params.Provisioner,
		txRunner:    params.TransactionRunner,
		logg:        params.Logger,
	}, nil
}

// CreateFromOrder creates the INACTIVE local subscription a paid order is
// entitled to. Calling it twice for the same order returns the existing row.
func (s *service) CreateFromOrder(ctx context.Context, order *models.Order) (*models.Subscription, error) {
	if order == nil || order.ID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order is required")
	}
	if order.Status != enums.OrderStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only paid orders create subscriptions")
	}

	existing, err := s.repo.FindByOrderID(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup subscription by order")
	}
	if existing != nil {
		return existing, nil
	}

	orderID := order.ID
	sub := &models.Subscription{
		ID:           uuid.New(),
		TenantID:     order.TenantID,
		PlanCode:     order.PlanCode,
		BillingCycle: order.BillingCycle,
		Status:       enums.SubscriptionStatusInactive,
		OrderID:      &orderID,
		Quantity:     1,
		Price:        order.Amount,
		Currency:     order.Currency,
	}
	if order.RequestedDomain != nil && *order.RequestedDomain != "" {
		sub.Metadata = metadataWith(nil, map[string]any{metaRequestedDomain: *order.RequestedDomain})
	}

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, sub); err != nil {
			return err
		}
		_, err := s.audit.WithTx(tx).Record(ctx, audit.RecordEventInput{
			TenantID: order.TenantID,
			Type:     enums.AuditSubscriptionCreated,
			Metadata: map[string]any{
				"subscription_id": sub.ID.String(),
				"order_id":        order.ID.String(),
				"plan_code":       order.PlanCode,
				"new_status":      enums.SubscriptionStatusInactive.String(),
			},
		})
		return err
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create subscription from order")
	}
	return sub, nil
}

// ApplyCreation handles creation-class provider events.
func (s *service) ApplyCreation(ctx context.Context, update ProviderUpdate) (*Result, error) {
	return s.reconcile(ctx, update, classCreation)
}

// ApplyUpdate handles update-class provider events, synthesizing a local row
// when the event arrives before its creation event.
func (s *service) ApplyUpdate(ctx context.Context, update ProviderUpdate) (*Result, error) {
	return s.reconcile(ctx, update, classUpdate)
}

// ApplyDeletion cancels the subscription a delete-class event targets.
// Deletes for subscriptions this system never created are acknowledged and
// logged rather than synthesized.
func (s *service) ApplyDeletion(ctx context.Context, update ProviderUpdate) (*Result, error) {
	cancelled := enums.SubscriptionStatusCancelled
	update.Status = &cancelled
	if update.CancelledAt == nil {
		now := time.Now().UTC()
		update.CancelledAt = &now
	}
	return s.reconcile(ctx, update, classDelete)
}

// ApplyRenewal handles a successful invoice payment: either an
// ACTIVE -> ACTIVE period advance or a recovery back into ACTIVE.
func (s *service) ApplyRenewal(ctx context.Context, update ProviderUpdate) (*Result, error) {
	active := enums.SubscriptionStatusActive
	update.Status = &active
	return s.reconcile(ctx, update, classRenewal)
}

// ApplyPaymentFailure moves the subscription to PAST_DUE.
func (s *service) ApplyPaymentFailure(ctx context.Context, update ProviderUpdate) (*Result, error) {
	pastDue := enums.SubscriptionStatusPastDue
	update.Status = &pastDue
	return s.reconcile(ctx, update, classUpdate)
}

// NotifyTrialEnding records the upcoming trial expiry without changing state.
func (s *service) NotifyTrialEnding(ctx context.Context, update ProviderUpdate) (*Result, error) {
	sub, err := s.repo.FindByExternalID(ctx, update.ExternalID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup subscription")
	}
	if sub == nil {
		s.logg.Warn(s.logg.WithEventID(ctx, update.EventID), "trial ending event for unknown subscription")
		return &Result{Ignored: true, Message: "unknown subscription"}, nil
	}
	_, err = s.audit.Record(ctx, audit.RecordEventInput{
		TenantID: sub.TenantID,
		Type:     enums.AuditSubscriptionTrialEnding,
		Metadata: auditMetadata(update, sub, sub.Status, sub.Status, false),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record trial ending")
	}
	return &Result{Subscription: sub, OldStatus: sub.Status, NewStatus: sub.Status}, nil
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}
	sub, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	return sub, nil
}

func (s *service) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.Subscription, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	return s.repo.ListByTenant(ctx, tenantID)
}

// reconcile is the resolution algorithm: resolve the row by external id,
// synthesize when out-of-order delivery got ahead of creation, apply the
// transition under optimistic concurrency, and record exactly one audit event.
func (s *service) reconcile(ctx context.Context, update ProviderUpdate, class eventClass) (*Result, error) {
	if update.ExternalID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external subscription id is required")
	}
	ctx = s.logg.WithEventID(ctx, update.EventID)

	for attempt := 0; attempt < maxReconcileAttempts; attempt++ {
		result, err := s.reconcileOnce(ctx, update, class)
		if errors.Is(err, errVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		s.maybeProvision(ctx, update, result)
		return result, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeConflict, "subscription update contention; provider will retry")
}

func (s *service) reconcileOnce(ctx context.Context, update ProviderUpdate, class eventClass) (*Result, error) {
	existing, err := s.repo.FindByExternalID(ctx, update.ExternalID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup subscription")
	}

	if existing == nil {
		if class == classDelete {
			s.logg.Warn(ctx, "delete event for unknown subscription; acknowledged without synthesis")
			return &Result{Ignored: true, Message: "unknown subscription; delete acknowledged"}, nil
		}
		if class != classCreation {
			s.logg.Warn(ctx, "update event arrived before creation; synthesizing subscription")
		}
		return s.synthesize(ctx, update)
	}

	if existing.Status.IsTerminal() {
		return s.reconcileTerminal(ctx, update, class, existing)
	}

	return s.applyTransition(ctx, update, class, existing)
}

// synthesize resolves a provider event whose external id has no local row.
// The owning tenant is resolved by customer identity; an order-created
// subscription still waiting for its external id is adopted, otherwise a new
// row is created. Events for customers this system does not know are
// acknowledged so the provider stops retrying.
func (s *service) synthesize(ctx context.Context, update ProviderUpdate) (*Result, error) {
	tenant, err := s.tenantRepo.FindByStripeCustomerID(ctx, update.CustomerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve tenant by customer")
	}
	if tenant == nil {
		s.logg.Warn(ctx, "event for unknown customer; acknowledged without state change")
		return &Result{Ignored: true, Message: "unknown customer"}, nil
	}

	status := enums.SubscriptionStatusActive
	if update.Status != nil {
		status = *update.Status
	}

	planCode := ""
	if update.PlanCode != nil {
		planCode = *update.PlanCode
	}
	adoptable, err := s.repo.FindAdoptable(ctx, tenant.ID, planCode)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup adoptable subscription")
	}
	if adoptable != nil && (status == adoptable.Status || CanTransition(adoptable.Status, status)) {
		return s.adopt(ctx, update, adoptable, status)
	}

	externalID := update.ExternalID
	sub := &models.Subscription{
		ID:                   uuid.New(),
		TenantID:             tenant.ID,
		CustomerID:           update.CustomerID,
		Status:               status,
		StripeSubscriptionID: &externalID,
		Quantity:             1,
		Currency:             "USD",
	}
	applyFields(sub, update)

	eventType := enums.AuditSubscriptionCreated
	if status == enums.SubscriptionStatusActive {
		eventType = enums.AuditSubscriptionActivated
	}

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, sub); err != nil {
			return err
		}
		_, err := s.audit.WithTx(tx).Record(ctx, audit.RecordEventInput{
			TenantID: tenant.ID,
			Type:     eventType,
			Metadata: auditMetadata(update, sub, "", status, true),
		})
		return err
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "synthesize subscription")
	}

	return &Result{
		Subscription: sub,
		Created:      true,
		Transitioned: true,
		Activated:    status == enums.SubscriptionStatusActive,
		NewStatus:    status,
	}, nil
}

// adopt attaches the provider-assigned external id to an order-created local
// subscription and applies the event's transition to it.
func (s *service) adopt(ctx context.Context, update ProviderUpdate, sub *models.Subscription, target enums.SubscriptionStatus) (*Result, error) {
	oldStatus := sub.Status
	externalID := update.ExternalID

	updated := *sub
	updated.StripeSubscriptionID = &externalID
	applyFields(&updated, update)
	updated.Status = target

	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.repo.WithTx(tx).UpdateVersioned(ctx, &updated, sub.Version)
		if err != nil {
			return err
		}
		if !ok {
			return errVersionConflict
		}
		eventType := enums.AuditSubscriptionUpdated
		if IsActivation(oldStatus, target) {
			eventType = enums.AuditSubscriptionActivated
		}
		_, err = s.audit.WithTx(tx).Record(ctx, audit.RecordEventInput{
			TenantID: sub.TenantID,
			Type:     eventType,
			Metadata: auditMetadata(update, &updated, oldStatus, target, false),
		})
		return err
	})
	if errors.Is(err, errVersionConflict) {
		return nil, errVersionConflict
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "adopt subscription")
	}

	return &Result{
		Subscription: &updated,
		Transitioned: oldStatus != target,
		Activated:    IsActivation(oldStatus, target),
		OldStatus:    oldStatus,
		NewStatus:    target,
	}, nil
}

// reconcileTerminal guards the CANCELLED terminal state. A cancelled row is
// never mutated; a provider subscription genuinely reopened under the same
// external id (its new period starts after our cancellation) becomes a fresh
// logical subscription and the old row's external id is archived.
func (s *service) reconcileTerminal(ctx context.Context, update ProviderUpdate, class eventClass, existing *models.Subscription) (*Result, error) {
	if class == classDelete {
		return &Result{
			Subscription: existing,
			Ignored:      true,
			OldStatus:    existing.Status,
			NewStatus:    existing.Status,
			Message:      "subscription already cancelled",
		}, nil
	}

	reopened := update.CurrentPeriodStart != nil &&
		existing.CancelledAt != nil &&
		update.CurrentPeriodStart.After(*existing.CancelledAt)
	if !reopened {
		s.logg.Warn(ctx, "event targets cancelled subscription; ignored")
		return &Result{
			Subscription: existing,
			Ignored:      true,
			OldStatus:    existing.Status,
			NewStatus:    existing.Status,
			Message:      "subscription is cancelled",
		}, nil
	}

	var result *Result
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).ArchiveExternalID(ctx, existing.ID); err != nil {
			return err
		}

		status := enums.SubscriptionStatusActive
		if update.Status != nil {
			status = *update.Status
		}
		externalID := update.ExternalID
		sub := &models.Subscription{
			ID:                   uuid.New(),
			TenantID:             existing.TenantID,
			CustomerID:           existing.CustomerID,
			PlanCode:             existing.PlanCode,
			BillingCycle:         existing.BillingCycle,
			Status:               status,
			StripeSubscriptionID: &externalID,
			Quantity:             1,
			Currency:             existing.Currency,
		}
		applyFields(sub, update)
		if err := s.repo.WithTx(tx).Create(ctx, sub); err != nil {
			return err
		}

		eventType := enums.AuditSubscriptionCreated
		if status == enums.SubscriptionStatusActive {
			eventType = enums.AuditSubscriptionActivated
		}
		metadata := auditMetadata(update, sub, existing.Status, status, false)
		metadata["replaces_subscription_id"] = existing.ID.String()
		if _, err := s.audit.WithTx(tx).Record(ctx, audit.RecordEventInput{
			TenantID: existing.TenantID,
			Type:     eventType,
			Metadata: metadata,
		}); err != nil {
			return err
		}

		result = &Result{
			Subscription: sub,
			Created:      true,
			Transitioned: true,
			Activated:    status == enums.SubscriptionStatusActive,
			OldStatus:    existing.Status,
			NewStatus:    status,
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "replace cancelled subscription")
	}
	return result, nil
}

// applyTransition computes the target status, checks it against the lifecycle
// table, applies only the reported fields, and persists under a version check.
func (s *service) applyTransition(ctx context.Context, update ProviderUpdate, class eventClass, existing *models.Subscription) (*Result, error) {
	target := existing.Status
	if update.Status != nil {
		target = *update.Status
	}

	// Only a renewal-class event (successful invoice payment) counts as a
	// renewal; a plain same-state update must not clear a pending
	// cancellation schedule it just applied.
	renewal := class == classRenewal && IsRenewal(existing.Status, target)
	transitioning := target != existing.Status || renewal
	if target != existing.Status && !CanTransition(existing.Status, target) {
		s.logg.Warn(ctx, "lifecycle transition disallowed; event ignored")
		return &Result{
			Subscription: existing,
			Ignored:      true,
			OldStatus:    existing.Status,
			NewStatus:    existing.Status,
			Message:      "transition disallowed",
		}, nil
	}

	updated := *existing
	applyFields(&updated, update)
	updated.Status = target

	if renewal {
		// Renewal advances the period and clears any pending cancellation.
		updated.CancelAt = nil
		updated.CancelAtPeriodEnd = false
	}
	if target == enums.SubscriptionStatusCancelled {
		if update.CancelledAt != nil {
			updated.CancelledAt = update.CancelledAt
		} else if updated.CancelledAt == nil {
			now := time.Now().UTC()
			updated.CancelledAt = &now
		}
	}

	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.repo.WithTx(tx).UpdateVersioned(ctx, &updated, existing.Version)
		if err != nil {
			return err
		}
		if !ok {
			return errVersionConflict
		}
		_, err = s.audit.WithTx(tx).Record(ctx, audit.RecordEventInput{
			TenantID: existing.TenantID,
			Type:     transitionAuditType(existing.Status, target, renewal, transitioning),
			Metadata: auditMetadata(update, &updated, existing.Status, target, false),
		})
		return err
	})
	if errors.Is(err, errVersionConflict) {
		return nil, errVersionConflict
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "apply subscription transition")
	}

	return &Result{
		Subscription: &updated,
		Transitioned: transitioning,
		Activated:    IsActivation(existing.Status, target),
		OldStatus:    existing.Status,
		NewStatus:    target,
	}, nil
}

// SweepPeriodEndCancellations performs the deferred cancel-at-period-end
// transition for subscriptions whose boundary has passed.
func (s *service) SweepPeriodEndCancellations(ctx context.Context, limit int) (int, error) {
	due, err := s.repo.ListDueForPeriodEndCancel(ctx, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list period-end cancellations")
	}

	cancelled := 0
	for i := range due {
		sub := due[i]
		if !CanTransition(sub.Status, enums.SubscriptionStatusCancelled) {
			continue
		}
		now := time.Now().UTC()
		updated := sub
		updated.Status = enums.SubscriptionStatusCancelled
		updated.CancelledAt = &now
		updated.CancelAtPeriodEnd = false

		err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
			ok, err := s.repo.WithTx(tx).UpdateVersioned(ctx, &updated, sub.Version)
			if err != nil {
				return err
			}
			if !ok {
				return errVersionConflict
			}
			_, err = s.audit.WithTx(tx).Record(ctx, audit.RecordEventInput{
				TenantID: sub.TenantID,
				Type:     enums.AuditSubscriptionCancelled,
				Metadata: map[string]any{
					"subscription_id": sub.ID.String(),
					"old_status":      sub.Status.String(),
					"new_status":      enums.SubscriptionStatusCancelled.String(),
					"reason":          "cancel_at_period_end",
				},
			})
			return err
		})
		if errors.Is(err, errVersionConflict) {
			// Another writer got there first; it will be picked up next sweep
			// if still due.
			continue
		}
		if err != nil {
			return cancelled, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancel at period end")
		}
		cancelled++
	}
	return cancelled, nil
}

// maybeProvision enqueues the provisioning job on a transition into ACTIVE.
// It runs after the subscription write commits: a failed enqueue never rolls
// back state, and the job id stored in metadata keeps the trigger single-shot
// across duplicate activations.
func (s *service) maybeProvision(ctx context.Context, update ProviderUpdate, result *Result) {
	if s.provisioner == nil || result == nil || !result.Activated || result.Subscription == nil {
		return
	}
	sub := result.Subscription

	plan, err := s.planRepo.FindByCode(ctx, sub.PlanCode)
	if err != nil {
		s.logg.Error(ctx, "plan lookup failed; provisioning skipped", err)
		return
	}
	if plan == nil || !plan.Provisionable {
		return
	}
	if metadataValue(sub.Metadata, metaProvisioningJobID) != "" {
		return
	}

	jobID, err := s.provisioner.OnActivation(ctx, sub)
	if err != nil {
		s.logg.Error(ctx, "provisioning enqueue failed", err)
		if _, auditErr := s.audit.Record(ctx, audit.RecordEventInput{
			TenantID: sub.TenantID,
			Type:     enums.AuditProvisioningFailed,
			Metadata: map[string]any{
				"subscription_id": sub.ID.String(),
				"event_id":        update.EventID,
				"error":           err.Error(),
			},
		}); auditErr != nil {
			s.logg.Error(ctx, "failed to record provisioning failure", auditErr)
		}
		return
	}

	sub.Metadata = metadataWith(sub.Metadata, map[string]any{metaProvisioningJobID: jobID})
	if ok, err := s.repo.UpdateVersioned(ctx, sub, sub.Version); err != nil || !ok {
		s.logg.Warn(ctx, "failed to persist provisioning job id")
	}
	if _, err := s.audit.Record(ctx, audit.RecordEventInput{
		TenantID: sub.TenantID,
		Type:     enums.AuditProvisioningEnqueued,
		Metadata: map[string]any{
			"subscription_id": sub.ID.String(),
			"event_id":        update.EventID,
			"job_id":          jobID,
			"plan_code":       sub.PlanCode,
		},
	}); err != nil {
		s.logg.Error(ctx, "failed to record provisioning enqueue", err)
	}
}

// applyFields copies only the fields the event reported onto the row.
func applyFields(sub *models.Subscription, update ProviderUpdate) {
	if update.CustomerID != "" {
		sub.CustomerID = update.CustomerID
	}
	if update.PlanCode != nil {
		sub.PlanCode = *update.PlanCode
	}
	if update.BillingCycle != nil {
		sub.BillingCycle = *update.BillingCycle
	}
	if update.Quantity != nil {
		sub.Quantity = *update.Quantity
	}
	if update.Price != nil {
		sub.Price = *update.Price
	}
	if update.Currency != nil {
		sub.Currency = *update.Currency
	}
	if update.CurrentPeriodStart != nil {
		sub.CurrentPeriodStart = update.CurrentPeriodStart
	}
	if update.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = update.CurrentPeriodEnd
		sub.RenewsAt = update.CurrentPeriodEnd
	}
	if update.CancelAt != nil {
		sub.CancelAt = update.CancelAt
	}
	if update.CancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *update.CancelAtPeriodEnd
	}
	if len(update.Extra) > 0 {
		sub.Metadata = metadataWith(sub.Metadata, update.Extra)
	}
}

func transitionAuditType(from, to enums.SubscriptionStatus, renewal, transitioning bool) enums.AuditEventType {
	switch {
	case renewal:
		return enums.AuditSubscriptionRenewed
	case !transitioning:
		return enums.AuditSubscriptionUpdated
	case to == enums.SubscriptionStatusActive:
		return enums.AuditSubscriptionActivated
	case to == enums.SubscriptionStatusPastDue:
		return enums.AuditSubscriptionPastDue
	case to == enums.SubscriptionStatusSuspended:
		return enums.AuditSubscriptionSuspended
	case to == enums.SubscriptionStatusCancelled:
		return enums.AuditSubscriptionCancelled
	default:
		return enums.AuditSubscriptionUpdated
	}
}

func auditMetadata(update ProviderUpdate, sub *models.Subscription, from, to enums.SubscriptionStatus, synthesized bool) map[string]any {
	metadata := map[string]any{
		"event_id":        update.EventID,
		"event_type":      update.EventType,
		"external_id":     update.ExternalID,
		"subscription_id": sub.ID.String(),
		"new_status":      to.String(),
	}
	if from != "" {
		metadata["old_status"] = from.String()
	}
	if synthesized {
		metadata["synthesized"] = true
	}
	return metadata
}
