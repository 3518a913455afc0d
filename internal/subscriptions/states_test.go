package subscriptions

import (
	"testing"

	"github.com/harborline/harborline-backend/pkg/enums"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from    enums.SubscriptionStatus
		to      enums.SubscriptionStatus
		allowed bool
	}{
		{enums.SubscriptionStatusInactive, enums.SubscriptionStatusActive, true},
		{enums.SubscriptionStatusInactive, enums.SubscriptionStatusCancelled, true},
		{enums.SubscriptionStatusInactive, enums.SubscriptionStatusPastDue, false},
		{enums.SubscriptionStatusTrialing, enums.SubscriptionStatusActive, true},
		{enums.SubscriptionStatusTrialing, enums.SubscriptionStatusPastDue, true},
		{enums.SubscriptionStatusTrialing, enums.SubscriptionStatusSuspended, false},
		{enums.SubscriptionStatusActive, enums.SubscriptionStatusActive, true},
		{enums.SubscriptionStatusActive, enums.SubscriptionStatusPastDue, true},
		{enums.SubscriptionStatusActive, enums.SubscriptionStatusTrialing, false},
		{enums.SubscriptionStatusPastDue, enums.SubscriptionStatusActive, true},
		{enums.SubscriptionStatusPastDue, enums.SubscriptionStatusSuspended, true},
		{enums.SubscriptionStatusSuspended, enums.SubscriptionStatusActive, true},
		{enums.SubscriptionStatusSuspended, enums.SubscriptionStatusPastDue, false},
		{enums.SubscriptionStatusCancelled, enums.SubscriptionStatusActive, false},
		{enums.SubscriptionStatusCancelled, enums.SubscriptionStatusCancelled, false},
	}

	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.allowed {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestIsActivation(t *testing.T) {
	if !IsActivation(enums.SubscriptionStatusInactive, enums.SubscriptionStatusActive) {
		t.Error("inactive -> active should be an activation")
	}
	if !IsActivation(enums.SubscriptionStatusPastDue, enums.SubscriptionStatusActive) {
		t.Error("past_due -> active should be an activation")
	}
	if IsActivation(enums.SubscriptionStatusActive, enums.SubscriptionStatusActive) {
		t.Error("renewal is not an activation")
	}
}
