package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/harborline/harborline-backend/internal/audit"
	"github.com/harborline/harborline-backend/internal/plans"
	"github.com/harborline/harborline-backend/internal/subscriptions"
	"github.com/harborline/harborline-backend/pkg/db/models"
	"github.com/harborline/harborline-backend/pkg/enums"
	pkgerrors "github.com/harborline/harborline-backend/pkg/errors"
	"github.com/harborline/harborline-backend/pkg/logger"
)

// Service manages purchase orders and their hand-off into the subscription
// lifecycle once paid.
type Service interface {
	Create(ctx context.Context, input CreateOrderInput) (*models.Order, error)
	Get(ctx context.Context, tenantID, orderID uuid.UUID) (*models.Order, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.Order, error)
	MarkPaid(ctx context.Context, tenantID, orderID uuid.UUID) (*models.Order, error)
}

// CreateOrderInput captures the data required to open an order.
type CreateOrderInput struct {
	TenantID        uuid.UUID `json:"tenant_id" validate:"required"`
	PlanCode        string    `json:"plan_code" validate:"required"`
	BillingCycle    string    `json:"billing_cycle" validate:"omitempty,oneof=monthly quarterly yearly"`
	RequestedDomain string    `json:"requested_domain" validate:"omitempty,hostname"`
}

// ServiceParams groups dependencies for the order service.
type ServiceParams struct {
	Repo       Repository
	PlanRepo   plans.Repository
	Reconciler subscriptions.Service
	Audit      audit.Service
	Logger     *logger.Logger
}

type service struct {
	repo       Repository
	planRepo   plans.Repository
	reconciler subscriptions.Service
	audit      audit.Service
	logg       *logger.Logger
}

// NewService builds an order service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, errors.New("order repo required")
	}
	if params.PlanRepo == nil {
		return nil, errors.New("plan repo required")
	}
	if params.Reconciler == nil {
		return nil, errors.New("subscription reconciler required")
	}
	if params.Audit == nil {
		return nil, errors.New("audit service required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	return &service{
		repo:       params.Repo,
		planRepo:   params.PlanRepo,
		reconciler: params.Reconciler,
		audit:      params.Audit,
		logg:       params.Logger,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if input.TenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	plan, err := s.planRepo.FindByCode(ctx, input.PlanCode)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "unknown plan code")
	}

	cycle := plan.BillingCycle
	if input.BillingCycle != "" {
		parsed, err := enums.ParseBillingCycle(input.BillingCycle)
		if err != nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid billing cycle")
		}
		cycle = parsed
	}

	order := &models.Order{
		ID:           uuid.New(),
		TenantID:     input.TenantID,
		PlanCode:     plan.Code,
		BillingCycle: cycle,
		Status:       enums.OrderStatusPending,
		Amount:       plan.PriceAmount,
		Currency:     plan.CurrencyCode,
	}
	if input.RequestedDomain != "" {
		domain := input.RequestedDomain
		order.RequestedDomain = &domain
	}
	if err := s.repo.Create(ctx, order); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create order")
	}
	return order, nil
}

func (s *service) Get(ctx context.Context, tenantID, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup order")
	}
	if order == nil || order.TenantID != tenantID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

func (s *service) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.Order, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	return s.repo.ListByTenant(ctx, tenantID)
}

// MarkPaid settles an order and creates its INACTIVE subscription. The order
// status guard plus the 1:1 order-subscription link make retries harmless.
func (s *service) MarkPaid(ctx context.Context, tenantID, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.Get(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	flipped, err := s.repo.MarkPaid(ctx, order.ID, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark order paid")
	}
	if !flipped && order.Status != enums.OrderStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not payable")
	}

	order.Status = enums.OrderStatusPaid
	if order.PaidAt == nil {
		order.PaidAt = &now
	}

	if flipped {
		if _, err := s.audit.Record(ctx, audit.RecordEventInput{
			TenantID: order.TenantID,
			Type:     enums.AuditOrderPaid,
			Metadata: map[string]any{
				"order_id":  order.ID.String(),
				"plan_code": order.PlanCode,
			},
		}); err != nil {
			s.logg.Error(ctx, "failed to record order paid audit event", err)
		}
	}

	if _, err := s.reconciler.CreateFromOrder(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}
