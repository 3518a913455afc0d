package provisioning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/harborline/harborline-backend/pkg/db/models"
	"github.com/harborline/harborline-backend/pkg/logger"
)

const defaultPublishTimeout = 15 * time.Second

// JobPayload is the message handed to the provisioning queue. The queue
// guarantees at-least-once execution; consumers dedupe on JobID.
type JobPayload struct {
	JobID           string    `json:"job_id"`
	TenantID        uuid.UUID `json:"tenant_id"`
	SubscriptionID  uuid.UUID `json:"subscription_id"`
	PlanCode        string    `json:"plan_code"`
	RequestedDomain string    `json:"requested_domain,omitempty"`
	TriggeredBy     string    `json:"triggered_by"`
	Source          string    `json:"source"`
}

// PublishResult resolves to the server-assigned message id.
type PublishResult interface {
	Get(ctx context.Context) (string, error)
}

// Publisher abstracts the queue so tests can fake it.
type Publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) PublishResult
}

// Dispatcher enqueues provisioning jobs for newly activated subscriptions.
type Dispatcher struct {
	publisher Publisher
	logg      *logger.Logger
}

// NewDispatcher builds a dispatcher over the provided publisher.
func NewDispatcher(publisher Publisher, logg *logger.Logger) (*Dispatcher, error) {
	if publisher == nil {
		return nil, errors.New("provisioning publisher required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &Dispatcher{publisher: publisher, logg: logg}, nil
}

// OnActivation enqueues one provisioning job for the subscription and returns
// the job id. The enqueue is fire-and-forget relative to subscription state:
// the caller records the id but never rolls back on failure.
func (d *Dispatcher) OnActivation(ctx context.Context, sub *models.Subscription) (string, error) {
	if sub == nil {
		return "", errors.New("subscription is required")
	}

	payload := JobPayload{
		JobID:           uuid.NewString(),
		TenantID:        sub.TenantID,
		SubscriptionID:  sub.ID,
		PlanCode:        sub.PlanCode,
		RequestedDomain: requestedDomain(sub.Metadata),
		TriggeredBy:     "subscription-reconciler",
		Source:          "billing-webhook",
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding provisioning job: %w", err)
	}

	msg := &gcppubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"job_id":    payload.JobID,
			"plan_code": payload.PlanCode,
			"tenant_id": payload.TenantID.String(),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()

	result := d.publisher.Publish(publishCtx, msg)
	if result == nil {
		return "", errors.New("publisher returned nil result")
	}
	if _, err := result.Get(publishCtx); err != nil {
		return "", fmt.Errorf("publishing provisioning job: %w", err)
	}

	d.logg.Info(d.logg.WithFields(ctx, map[string]any{
		"job_id":          payload.JobID,
		"subscription_id": sub.ID.String(),
		"plan_code":       sub.PlanCode,
	}), "provisioning job enqueued")
	return payload.JobID, nil
}

func requestedDomain(metadata json.RawMessage) string {
	if len(metadata) == 0 {
		return ""
	}
	var decoded map[string]any
	if err := json.Unmarshal(metadata, &decoded); err != nil {
		return ""
	}
	if v, ok := decoded["requested_domain"].(string); ok {
		return v
	}
	return ""
}

// GCPPublisher adapts the Pub/Sub publisher to the Publisher interface.
type GCPPublisher struct {
	*gcppubsub.Publisher
}

// NewGCPPublisher wraps a Pub/Sub publisher handle.
func NewGCPPublisher(p *gcppubsub.Publisher) *GCPPublisher {
	return &GCPPublisher{Publisher: p}
}

func (p *GCPPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) PublishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return p.Publisher.Publish(ctx, msg)
}
