package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/harborline/harborline-backend/api/middleware"
	"github.com/harborline/harborline-backend/api/responses"
	"github.com/harborline/harborline-backend/api/validators"
	"github.com/harborline/harborline-backend/internal/orders"
	"github.com/harborline/harborline-backend/pkg/db/models"
	pkgerrors "github.com/harborline/harborline-backend/pkg/errors"
	"github.com/harborline/harborline-backend/pkg/logger"
)

type createOrderRequest struct {
	PlanCode        string `json:"plan_code" validate:"required"`
	BillingCycle    string `json:"billing_cycle" validate:"omitempty,oneof=monthly quarterly yearly"`
	RequestedDomain string `json:"requested_domain" validate:"omitempty,hostname_rfc1123"`
}

type orderResponse struct {
	ID              uuid.UUID       `json:"id"`
	PlanCode        string          `json:"plan_code"`
	BillingCycle    string          `json:"billing_cycle"`
	Status          string          `json:"status"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	RequestedDomain *string         `json:"requested_domain,omitempty"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

func toOrderResponse(order *models.Order) orderResponse {
	return orderResponse{
		ID:              order.ID,
		PlanCode:        order.PlanCode,
		BillingCycle:    order.BillingCycle.String(),
		Status:          order.Status.String(),
		Amount:          order.Amount,
		Currency:        order.Currency,
		RequestedDomain: order.RequestedDomain,
		PaidAt:          order.PaidAt,
		CreatedAt:       order.CreatedAt,
	}
}

// CreateOrder opens a pending order for the caller's tenant.
func CreateOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req createOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		tenantID := middleware.TenantUUIDFromContext(ctx)
		if tenantID == uuid.Nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "tenant scope required"))
			return
		}

		order, err := svc.Create(ctx, orders.CreateOrderInput{
			TenantID:        tenantID,
			PlanCode:        req.PlanCode,
			BillingCycle:    req.BillingCycle,
			RequestedDomain: req.RequestedDomain,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toOrderResponse(order))
	}
}

// ListOrders returns the caller's orders, newest first.
func ListOrders(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenantID := middleware.TenantUUIDFromContext(ctx)
		if tenantID == uuid.Nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "tenant scope required"))
			return
		}

		list, err := svc.ListByTenant(ctx, tenantID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		out := make([]orderResponse, 0, len(list))
		for i := range list {
			out = append(out, toOrderResponse(&list[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

// GetOrder returns one order scoped to the caller's tenant.
func GetOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		orderID, err := validators.UUIDParam(chi.URLParam(r, "orderID"), "order id")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, err := svc.Get(ctx, middleware.TenantUUIDFromContext(ctx), orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toOrderResponse(order))
	}
}

// PayOrder marks an order paid and hands it to the subscription lifecycle.
// Real payments arrive through the provider webhook; this route backs manual
// flows such as invoiced customers and the test environment.
func PayOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		orderID, err := validators.UUIDParam(chi.URLParam(r, "orderID"), "order id")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, err := svc.MarkPaid(ctx, middleware.TenantUUIDFromContext(ctx), orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toOrderResponse(order))
	}
}
