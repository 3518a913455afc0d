package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/harborline/harborline-backend/api/responses"
	stripewebhook "github.com/harborline/harborline-backend/internal/webhooks/stripe"
	pkgerrors "github.com/harborline/harborline-backend/pkg/errors"
	"github.com/harborline/harborline-backend/pkg/logger"
)

type stripeEventHandler interface {
	HandleEvent(ctx context.Context, event *stripe.Event, rawBody []byte) (*stripewebhook.Result, error)
}

type signingSecretSource interface {
	SigningSecret() string
}

// StripeWebhook verifies and processes provider events. Signature failures
// are rejected before the event id is ever claimed, so a forged request can
// never poison the ledger for the genuine delivery.
func StripeWebhook(svc stripeEventHandler, client signingSecretSource, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil || client == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook pipeline unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "stripe signature missing"))
			return
		}

		event, err := webhook.ConstructEvent(payload, sigHeader, client.SigningSecret())
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeSignatureInvalid, err, "verify signature"))
			return
		}

		result, err := svc.HandleEvent(ctx, &event, payload)
		if err != nil {
			// The provider retries on any failure status. A concurrent
			// duplicate must read as transient here, not as the terminal
			// conflict the API surface uses.
			if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeInProgress {
				err = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "event still processing")
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}
