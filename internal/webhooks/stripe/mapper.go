package stripewebhook

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	"github.com/harborline/harborline-backend/internal/subscriptions"
	"github.com/harborline/harborline-backend/pkg/enums"
	pkgerrors "github.com/harborline/harborline-backend/pkg/errors"
)

// flexibleID decodes a provider reference that arrives either as a bare id
// string or as an expanded object carrying an id.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*f = flexibleID(obj.ID)
	return nil
}

// subscriptionPayload is the subscription-event variant of the provider
// payload. It carries only the fields this system acts on; everything else
// stays in the raw event.
type subscriptionPayload struct {
	ID                 string            `json:"id"`
	Customer           flexibleID        `json:"customer"`
	Status             string            `json:"status"`
	CancelAt           int64             `json:"cancel_at"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CanceledAt         int64             `json:"canceled_at"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Quantity           int64             `json:"quantity"`
	Currency           string            `json:"currency"`
	TrialEnd           int64             `json:"trial_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []subscriptionItemPayload `json:"data"`
	} `json:"items"`
}

type subscriptionItemPayload struct {
	Quantity           int64 `json:"quantity"`
	CurrentPeriodStart int64 `json:"current_period_start"`
	CurrentPeriodEnd   int64 `json:"current_period_end"`
	Price              struct {
		ID         string `json:"id"`
		LookupKey  string `json:"lookup_key"`
		UnitAmount int64  `json:"unit_amount"`
		Currency   string `json:"currency"`
		Recurring  struct {
			Interval      string `json:"interval"`
			IntervalCount int64  `json:"interval_count"`
		} `json:"recurring"`
	} `json:"price"`
}

// invoicePayload is the invoice-event variant. The owning subscription id has
// moved around between provider API versions, so both locations are read.
type invoicePayload struct {
	ID           string     `json:"id"`
	Customer     flexibleID `json:"customer"`
	Subscription flexibleID `json:"subscription"`
	PeriodStart  int64      `json:"period_start"`
	PeriodEnd    int64      `json:"period_end"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription flexibleID `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Period struct {
				Start int64 `json:"start"`
				End   int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

func (p *invoicePayload) subscriptionID() string {
	if p.Subscription != "" {
		return string(p.Subscription)
	}
	return string(p.Parent.SubscriptionDetails.Subscription)
}

// checkoutSessionPayload is the checkout-completion variant.
type checkoutSessionPayload struct {
	ID                string            `json:"id"`
	Customer          flexibleID        `json:"customer"`
	ClientReferenceID string            `json:"client_reference_id"`
	Subscription      flexibleID        `json:"subscription"`
	Metadata          map[string]string `json:"metadata"`
}

func decodeSubscriptionEvent(event *stripe.Event) (*subscriptionPayload, error) {
	var payload subscriptionPayload
	if err := json.Unmarshal(event.Data.Raw, &payload); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode subscription event")
	}
	if payload.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription event is missing an id")
	}
	return &payload, nil
}

func decodeInvoiceEvent(event *stripe.Event) (*invoicePayload, error) {
	var payload invoicePayload
	if err := json.Unmarshal(event.Data.Raw, &payload); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode invoice event")
	}
	return &payload, nil
}

func decodeCheckoutEvent(event *stripe.Event) (*checkoutSessionPayload, error) {
	var payload checkoutSessionPayload
	if err := json.Unmarshal(event.Data.Raw, &payload); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode checkout event")
	}
	return &payload, nil
}

// toProviderUpdate normalizes a subscription payload into the reconciler's
// input, setting only the fields the event reported.
func toProviderUpdate(event *stripe.Event, payload *subscriptionPayload) subscriptions.ProviderUpdate {
	update := subscriptions.ProviderUpdate{
		EventID:    event.ID,
		EventType:  string(event.Type),
		ExternalID: payload.ID,
		CustomerID: string(payload.Customer),
	}

	if payload.Status != "" {
		if status, ok := mapProviderStatus(payload.Status); ok {
			update.Status = &status
		}
	}
	start, end := payload.CurrentPeriodStart, payload.CurrentPeriodEnd
	quantity := payload.Quantity
	currency := payload.Currency
	var item *subscriptionItemPayload
	if len(payload.Items.Data) > 0 {
		item = &payload.Items.Data[0]
	}
	if item != nil {
		if currency == "" {
			currency = item.Price.Currency
		}
		if start == 0 {
			start = item.CurrentPeriodStart
		}
		if end == 0 {
			end = item.CurrentPeriodEnd
		}
		if quantity == 0 {
			quantity = item.Quantity
		}
	}
	if start != 0 {
		update.CurrentPeriodStart = unixTimePtr(start)
	}
	if end != 0 {
		update.CurrentPeriodEnd = unixTimePtr(end)
	}
	if quantity != 0 {
		q := int(quantity)
		update.Quantity = &q
	}
	if currency != "" {
		normalized := normalizeCurrency(currency)
		update.Currency = &normalized
	}

	if payload.CancelAt != 0 {
		update.CancelAt = unixTimePtr(payload.CancelAt)
	}
	if payload.CancelAtPeriodEnd {
		flag := true
		update.CancelAtPeriodEnd = &flag
	}
	if payload.CanceledAt != 0 {
		update.CancelledAt = unixTimePtr(payload.CanceledAt)
	}

	if code := planCodeFromPayload(payload, item); code != "" {
		update.PlanCode = &code
	}
	if item != nil {
		if cycle, ok := billingCycleFromInterval(item.Price.Recurring.Interval, item.Price.Recurring.IntervalCount); ok {
			update.BillingCycle = &cycle
		}
		if item.Price.UnitAmount != 0 {
			price := decimal.NewFromInt(item.Price.UnitAmount).Div(decimal.NewFromInt(100))
			update.Price = &price
		}
	}

	if extra := opaqueMetadata(payload.Metadata); len(extra) > 0 {
		update.Extra = extra
	}
	return update
}

// planCodeFromPayload prefers the explicit metadata hint, then the price
// lookup key, then the raw price id.
func planCodeFromPayload(payload *subscriptionPayload, item *subscriptionItemPayload) string {
	if code := payload.Metadata["plan_code"]; code != "" {
		return code
	}
	if item == nil {
		return ""
	}
	if item.Price.LookupKey != "" {
		return item.Price.LookupKey
	}
	return item.Price.ID
}

// opaqueMetadata forwards provider metadata keys this system does not
// interpret, so nothing the provider attached is lost.
func opaqueMetadata(metadata map[string]string) map[string]any {
	if len(metadata) == 0 {
		return nil
	}
	extra := make(map[string]any, len(metadata))
	for k, v := range metadata {
		switch k {
		case "plan_code", "order_id", "tenant_id":
			continue
		}
		extra[k] = v
	}
	return extra
}

func mapProviderStatus(status string) (enums.SubscriptionStatus, bool) {
	switch status {
	case "trialing":
		return enums.SubscriptionStatusTrialing, true
	case "active":
		return enums.SubscriptionStatusActive, true
	case "past_due":
		return enums.SubscriptionStatusPastDue, true
	case "unpaid", "paused":
		return enums.SubscriptionStatusSuspended, true
	case "canceled", "incomplete_expired":
		return enums.SubscriptionStatusCancelled, true
	case "incomplete":
		return enums.SubscriptionStatusInactive, true
	default:
		return "", false
	}
}

func billingCycleFromInterval(interval string, count int64) (enums.BillingCycle, bool) {
	switch interval {
	case "month":
		if count == 3 {
			return enums.BillingCycleQuarterly, true
		}
		return enums.BillingCycleMonthly, true
	case "year":
		return enums.BillingCycleYearly, true
	default:
		return "", false
	}
}

func normalizeCurrency(currency string) string {
	if len(currency) != 3 {
		return currency
	}
	upper := make([]byte, 3)
	for i := 0; i < 3; i++ {
		c := currency[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		upper[i] = c
	}
	return string(upper)
}

func unixTimePtr(ts int64) *time.Time {
	t := time.Unix(ts, 0).UTC()
	return &t
}
