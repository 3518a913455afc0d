package subscriptions

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/harborline/harborline-backend/pkg/db/models"
	"github.com/harborline/harborline-backend/pkg/enums"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ProvisioningDispatcher hands a newly activated subscription to the
// provisioning queue and returns the job id for traceability.
type ProvisioningDispatcher interface {
	OnActivation(ctx context.Context, sub *models.Subscription) (string, error)
}

// ProviderUpdate is the normalized view of one provider event. Only fields
// the event actually reported are set; nil pointers mean "not reported" and
// never overwrite local state. Extra preserves unrecognized payload fields
// opaquely in the subscription metadata.
type ProviderUpdate struct {
	EventID            string
	EventType          string
	ExternalID         string
	CustomerID         string
	Status             *enums.SubscriptionStatus
	PlanCode           *string
	BillingCycle       *enums.BillingCycle
	Quantity           *int
	Price              *decimal.Decimal
	Currency           *string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAt           *time.Time
	CancelAtPeriodEnd  *bool
	CancelledAt        *time.Time
	Extra              map[string]any
}

// Result describes what the reconciler decided for one event.
type Result struct {
	Subscription *models.Subscription
	Created      bool
	Transitioned bool
	Activated    bool
	Ignored      bool
	OldStatus    enums.SubscriptionStatus
	NewStatus    enums.SubscriptionStatus
	Message      string
}

// metadataWith merges extra keys into an existing metadata document without
// dropping keys the event did not mention.
func metadataWith(existing json.RawMessage, extra map[string]any) json.RawMessage {
	if len(extra) == 0 {
		return existing
	}
	merged := map[string]any{}
	if len(existing) > 0 {
		// Best effort; a corrupt document is replaced rather than fatal.
		_ = json.Unmarshal(existing, &merged)
	}
	for k, v := range extra {
		merged[k] = v
	}
	encoded, err := json.Marshal(merged)
	if err != nil {
		return existing
	}
	return encoded
}

// metadataValue reads a single string key out of a metadata document.
func metadataValue(doc json.RawMessage, key string) string {
	if len(doc) == 0 {
		return ""
	}
	var decoded map[string]any
	if err := json.Unmarshal(doc, &decoded); err != nil {
		return ""
	}
	if v, ok := decoded[key].(string); ok {
		return v
	}
	return ""
}
