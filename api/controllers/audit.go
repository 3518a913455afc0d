package controllers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/harborline/harborline-backend/api/middleware"
	"github.com/harborline/harborline-backend/api/responses"
	"github.com/harborline/harborline-backend/api/validators"
	"github.com/harborline/harborline-backend/internal/audit"
	pkgerrors "github.com/harborline/harborline-backend/pkg/errors"
	"github.com/harborline/harborline-backend/pkg/logger"
)

type auditEventResponse struct {
	ID          uuid.UUID       `json:"id"`
	Type        string          `json:"type"`
	ActorUserID *uuid.UUID      `json:"actor_user_id,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ListAuditEvents returns the tenant's audit trail, newest first.
func ListAuditEvents(svc audit.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenantID := middleware.TenantUUIDFromContext(ctx)
		if tenantID == uuid.Nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "tenant scope required"))
			return
		}

		limit, err := validators.LimitParam(r, 50, 200)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		events, err := svc.ListByTenant(ctx, tenantID, limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		out := make([]auditEventResponse, 0, len(events))
		for _, event := range events {
			out = append(out, auditEventResponse{
				ID:          event.ID,
				Type:        event.Type.String(),
				ActorUserID: event.ActorUserID,
				Metadata:    event.Metadata,
				CreatedAt:   event.CreatedAt,
			})
		}
		responses.WriteSuccess(w, out)
	}
}
