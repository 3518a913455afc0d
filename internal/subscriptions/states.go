package subscriptions

import "github.com/harborline/harborline-backend/pkg/enums"

// allowedTransitions is the lifecycle table. A missing entry means the
// transition is disallowed and the event that requested it is ignored.
// ACTIVE -> ACTIVE is the renewal path; CANCELLED has no outgoing edges.
var allowedTransitions = map[enums.SubscriptionStatus][]enums.SubscriptionStatus{
	enums.SubscriptionStatusInactive: {
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusCancelled,
	},
	enums.SubscriptionStatusTrialing: {
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusPastDue,
		enums.SubscriptionStatusCancelled,
	},
	enums.SubscriptionStatusActive: {
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusPastDue,
		enums.SubscriptionStatusCancelled,
	},
	enums.SubscriptionStatusPastDue: {
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusSuspended,
		enums.SubscriptionStatusCancelled,
	},
	enums.SubscriptionStatusSuspended: {
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusCancelled,
	},
	enums.SubscriptionStatusCancelled: nil,
}

// CanTransition reports whether the lifecycle permits moving from one status
// to another.
func CanTransition(from, to enums.SubscriptionStatus) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// IsRenewal reports whether a transition is the same-state ACTIVE renewal
// that advances the billing period instead of changing status.
func IsRenewal(from, to enums.SubscriptionStatus) bool {
	return from == enums.SubscriptionStatusActive && to == enums.SubscriptionStatusActive
}

// IsActivation reports whether a transition enters ACTIVE from another state.
// Renewals are not activations; provisioning keys off this distinction.
func IsActivation(from, to enums.SubscriptionStatus) bool {
	return to == enums.SubscriptionStatusActive && from != enums.SubscriptionStatusActive
}
