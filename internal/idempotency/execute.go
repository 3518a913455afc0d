package idempotency

import (
	"context"
	"encoding/json"
	"fmt"

	pkgerrors "github.com/harborline/harborline-backend/pkg/errors"
)

// Operation runs the business logic guarded by a ledger claim and returns the
// payload to store on success.
type Operation func(ctx context.Context) (json.RawMessage, error)

// ReplayedError is returned when a prior failure for the same request is
// replayed instead of re-executed.
type ReplayedError struct {
	Message string
}

func (e *ReplayedError) Error() string {
	if e.Message == "" {
		return "operation previously failed"
	}
	return e.Message
}

// ExecuteResult reports how Execute resolved.
type ExecuteResult struct {
	Response json.RawMessage
	Replayed bool
}

// Execute wraps op in a ledger claim so it runs at most once per key within
// the TTL window. Completed claims replay the stored response, failed claims
// with an identical request replay the stored error, and concurrent claims
// surface as a retryable conflict.
func Execute(ctx context.Context, ledger *Ledger, input ClaimInput, op Operation) (*ExecuteResult, error) {
	claim, err := ledger.Claim(ctx, input)
	if err != nil {
		return nil, err
	}

	switch claim.Decision {
	case DecisionReplayCompleted:
		return &ExecuteResult{Response: claim.Response, Replayed: true}, nil

	case DecisionReplayFailed:
		return nil, &ReplayedError{Message: claim.ErrorMessage}

	case DecisionInProgress:
		return nil, pkgerrors.New(pkgerrors.CodeInProgress, "a request with this idempotency key is being processed")

	case DecisionProceed, DecisionProceedNewAttempt:
		return runClaimed(ctx, ledger, input.Key, op)

	default:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "unknown idempotency decision")
	}
}

// runClaimed executes op and finalizes the claim however op exits. A panic
// is recorded as a failure before it propagates, so the key never stays
// PROCESSING until the sweep.
func runClaimed(ctx context.Context, ledger *Ledger, key string, op Operation) (result *ExecuteResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			_ = ledger.Fail(ctx, key, fmt.Sprintf("operation panicked: %v", p))
			panic(p)
		}
	}()

	response, opErr := op(ctx)
	if opErr != nil {
		if failErr := ledger.Fail(ctx, key, opErr.Error()); failErr != nil {
			return nil, failErr
		}
		return nil, opErr
	}
	if err := ledger.Complete(ctx, key, response); err != nil {
		return nil, err
	}
	return &ExecuteResult{Response: response}, nil
}
