package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/harborline/harborline-backend/pkg/db/models"
	"github.com/harborline/harborline-backend/pkg/enums"
	pkgerrors "github.com/harborline/harborline-backend/pkg/errors"
	"github.com/harborline/harborline-backend/pkg/logger"
	"github.com/harborline/harborline-backend/pkg/redis"
)

// Decision tells the caller what a claim attempt resolved to.
type Decision string

const (
	// DecisionProceed means the caller owns the key and must run the operation.
	DecisionProceed Decision = "proceed"
	// DecisionProceedNewAttempt means a prior failed attempt with a different
	// request was reopened; the caller owns the key again.
	DecisionProceedNewAttempt Decision = "proceed_new_attempt"
	// DecisionInProgress means another caller currently owns the key.
	DecisionInProgress Decision = "in_progress"
	// DecisionReplayCompleted means the operation already completed; Response
	// carries its stored payload and must be returned verbatim.
	DecisionReplayCompleted Decision = "replay_completed"
	// DecisionReplayFailed means an identical request already failed
	// deterministically; ErrorMessage carries the stored failure.
	DecisionReplayFailed Decision = "replay_failed"
)

// ClaimInput identifies one logical operation attempt.
type ClaimInput struct {
	Key         string
	Operation   string
	TenantID    *uuid.UUID
	RequestHash string
	TTL         time.Duration
}

// Claim is the outcome of attempting to acquire a key.
type Claim struct {
	Decision     Decision
	Response     json.RawMessage
	ErrorMessage string
}

// LedgerParams holds dependencies for the ledger.
type LedgerParams struct {
	Repo     Repository
	Cache    redis.RecentEventStore
	CacheTTL time.Duration
	Logger   *logger.Logger
}

// Ledger is the durable idempotency store. All claim decisions are made
// against the database; the redis cache only short-circuits completed replays
// and is never consulted to decide ownership.
type Ledger struct {
	repo     Repository
	cache    redis.RecentEventStore
	cacheTTL time.Duration
	logg     *logger.Logger
}

// NewLedger builds a Ledger. Cache is optional.
func NewLedger(params LedgerParams) (*Ledger, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency: repo is required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency: logger is required")
	}
	return &Ledger{
		repo:     params.Repo,
		cache:    params.Cache,
		cacheTTL: params.CacheTTL,
		logg:     params.Logger,
	}, nil
}

// HashRequest produces the canonical fingerprint for a request payload.
func HashRequest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Claim attempts to acquire the key for processing. The first caller for a
// key gets DecisionProceed; everyone else gets a decision derived from the
// stored record's status.
func (l *Ledger) Claim(ctx context.Context, input ClaimInput) (*Claim, error) {
	if input.Key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}

	if cached := l.cachedResponse(ctx, input.Key); cached != nil {
		return &Claim{Decision: DecisionReplayCompleted, Response: cached}, nil
	}

	now := time.Now().UTC()
	record := &models.IdempotencyRecord{
		ID:          uuid.New(),
		Key:         input.Key,
		Operation:   input.Operation,
		TenantID:    input.TenantID,
		Status:      enums.IdempotencyStatusProcessing,
		RequestHash: input.RequestHash,
		ExpiresAt:   now.Add(input.TTL),
	}

	inserted, err := l.repo.InsertIfAbsent(ctx, record)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claim idempotency key")
	}
	if inserted {
		return &Claim{Decision: DecisionProceed}, nil
	}

	existing, err := l.repo.FindByKey(ctx, input.Key)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load idempotency record")
	}
	if existing == nil {
		// Swept between insert and read. Treat as a fresh request.
		inserted, err = l.repo.InsertIfAbsent(ctx, record)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "re-claim idempotency key")
		}
		if inserted {
			return &Claim{Decision: DecisionProceed}, nil
		}
		return &Claim{Decision: DecisionInProgress}, nil
	}

	switch existing.Status {
	case enums.IdempotencyStatusProcessing:
		return &Claim{Decision: DecisionInProgress}, nil

	case enums.IdempotencyStatusCompleted:
		l.cacheResponse(ctx, input.Key, existing.ResponseData)
		return &Claim{Decision: DecisionReplayCompleted, Response: existing.ResponseData}, nil

	case enums.IdempotencyStatusFailed:
		if existing.RequestHash == input.RequestHash {
			msg := ""
			if existing.ErrorMessage != nil {
				msg = *existing.ErrorMessage
			}
			return &Claim{Decision: DecisionReplayFailed, ErrorMessage: msg}, nil
		}
		won, err := l.repo.ReopenFailed(ctx, input.Key, existing.RequestHash, input.RequestHash, now.Add(input.TTL))
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reopen failed idempotency record")
		}
		if won {
			return &Claim{Decision: DecisionProceedNewAttempt}, nil
		}
		// Lost the reopen race; the winner is processing now.
		return &Claim{Decision: DecisionInProgress}, nil

	default:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency record in unknown status")
	}
}

// Complete finalizes a claimed key with its response payload.
func (l *Ledger) Complete(ctx context.Context, key string, response json.RawMessage) error {
	done, err := l.repo.Finalize(ctx, key, enums.IdempotencyStatusCompleted, response, nil)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "complete idempotency record")
	}
	if !done {
		l.logg.Warn(l.logg.WithField(ctx, "key", key), "idempotency record was not processing at completion")
		return nil
	}
	l.cacheResponse(ctx, key, response)
	return nil
}

// Fail finalizes a claimed key with the failure it produced.
func (l *Ledger) Fail(ctx context.Context, key, errorMessage string) error {
	_, err := l.repo.Finalize(ctx, key, enums.IdempotencyStatusFailed, nil, &errorMessage)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "fail idempotency record")
	}
	return nil
}

// Release discards a claimed key so the next attempt starts over. Used when a
// failure should be retried by the caller rather than replayed.
func (l *Ledger) Release(ctx context.Context, key string) error {
	if err := l.repo.Release(ctx, key); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "release idempotency record")
	}
	return nil
}

// Sweep deletes records past their TTL and returns how many were removed.
func (l *Ledger) Sweep(ctx context.Context) (int64, error) {
	removed, err := l.repo.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sweep idempotency records")
	}
	return removed, nil
}

func (l *Ledger) cachedResponse(ctx context.Context, key string) json.RawMessage {
	if l.cache == nil {
		return nil
	}
	raw, err := l.cache.Get(ctx, l.cache.IdempotencyKey("response", key))
	if err != nil || raw == "" {
		return nil
	}
	return json.RawMessage(raw)
}

func (l *Ledger) cacheResponse(ctx context.Context, key string, response json.RawMessage) {
	if l.cache == nil || len(response) == 0 {
		return
	}
	if err := l.cache.Set(ctx, l.cache.IdempotencyKey("response", key), string(response), l.cacheTTL); err != nil {
		l.logg.Warn(l.logg.WithField(ctx, "key", key), "failed to cache idempotent response")
	}
}
