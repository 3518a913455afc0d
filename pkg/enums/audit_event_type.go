package enums

import "fmt"

// AuditEventType names a state-changing decision recorded in the audit log.
type AuditEventType string

const (
	AuditSubscriptionCreated     AuditEventType = "subscription.created"
	AuditSubscriptionActivated   AuditEventType = "subscription.activated"
	AuditSubscriptionRenewed     AuditEventType = "subscription.renewed"
	AuditSubscriptionUpdated     AuditEventType = "subscription.updated"
	AuditSubscriptionPastDue     AuditEventType = "subscription.past_due"
	AuditSubscriptionSuspended   AuditEventType = "subscription.suspended"
	AuditSubscriptionCancelled   AuditEventType = "subscription.cancelled"
	AuditSubscriptionTrialEnding AuditEventType = "subscription.trial_ending"
	AuditProvisioningEnqueued    AuditEventType = "provisioning.enqueued"
	AuditProvisioningFailed      AuditEventType = "provisioning.enqueue_failed"
	AuditOrderPaid               AuditEventType = "order.paid"
)

var validAuditEventTypes = []AuditEventType{
	AuditSubscriptionCreated,
	AuditSubscriptionActivated,
	AuditSubscriptionRenewed,
	AuditSubscriptionUpdated,
	AuditSubscriptionPastDue,
	AuditSubscriptionSuspended,
	AuditSubscriptionCancelled,
	AuditSubscriptionTrialEnding,
	AuditProvisioningEnqueued,
	AuditProvisioningFailed,
	AuditOrderPaid,
}

// String implements fmt.Stringer.
func (t AuditEventType) String() string {
	return string(t)
}

// IsValid reports whether the value is known.
func (t AuditEventType) IsValid() bool {
	for _, candidate := range validAuditEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseAuditEventType converts raw input into an AuditEventType.
func ParseAuditEventType(value string) (AuditEventType, error) {
	for _, candidate := range validAuditEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid audit event type %q", value)
}
