package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/harborline/harborline-backend/api/middleware"
	"github.com/harborline/harborline-backend/api/responses"
	"github.com/harborline/harborline-backend/api/validators"
	"github.com/harborline/harborline-backend/internal/subscriptions"
	"github.com/harborline/harborline-backend/pkg/db/models"
	pkgerrors "github.com/harborline/harborline-backend/pkg/errors"
	"github.com/harborline/harborline-backend/pkg/logger"
)

type subscriptionResponse struct {
	ID                 uuid.UUID  `json:"id"`
	PlanCode           string     `json:"plan_code"`
	Status             string     `json:"status"`
	BillingCycle       string     `json:"billing_cycle"`
	Quantity           int        `json:"quantity"`
	CurrentPeriodStart *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end,omitempty"`
	RenewsAt           *time.Time `json:"renews_at,omitempty"`
	CancelAt           *time.Time `json:"cancel_at,omitempty"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

func toSubscriptionResponse(sub *models.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:                 sub.ID,
		PlanCode:           sub.PlanCode,
		Status:             sub.Status.String(),
		BillingCycle:       sub.BillingCycle.String(),
		Quantity:           sub.Quantity,
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		RenewsAt:           sub.RenewsAt,
		CancelAt:           sub.CancelAt,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CancelledAt:        sub.CancelledAt,
		CreatedAt:          sub.CreatedAt,
	}
}

// ListSubscriptions returns every subscription owned by the caller's tenant.
func ListSubscriptions(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
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
		out := make([]subscriptionResponse, 0, len(list))
		for i := range list {
			out = append(out, toSubscriptionResponse(&list[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

// GetSubscription returns one subscription, hidden from other tenants.
func GetSubscription(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		subID, err := validators.UUIDParam(chi.URLParam(r, "subscriptionID"), "subscription id")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		sub, err := svc.GetByID(ctx, subID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if sub.TenantID != middleware.TenantUUIDFromContext(ctx) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found"))
			return
		}
		responses.WriteSuccess(w, toSubscriptionResponse(sub))
	}
}
