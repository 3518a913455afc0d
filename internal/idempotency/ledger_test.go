package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/harborline/harborline-backend/pkg/db/models"
	"github.com/harborline/harborline-backend/pkg/enums"
	pkgerrors "github.com/harborline/harborline-backend/pkg/errors"
	"github.com/harborline/harborline-backend/pkg/logger"
)

func setupLedgerTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.IdempotencyRecord{}))
	return db
}

func newTestLedger(t *testing.T, db *gorm.DB) *Ledger {
	t.Helper()

	ledger, err := NewLedger(LedgerParams{
		Repo:   NewRepository(db),
		Logger: logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	require.NoError(t, err)
	return ledger
}

func testClaimInput(key, hash string) ClaimInput {
	return ClaimInput{
		Key:         key,
		Operation:   "orders.create",
		RequestHash: hash,
		TTL:         time.Hour,
	}
}

func TestLedgerClaim_firstClaimProceeds(t *testing.T) {
	db := setupLedgerTestDB(t)
	ledger := newTestLedger(t, db)

	claim, err := ledger.Claim(context.Background(), testClaimInput(uuid.NewString(), "h1"))
	require.NoError(t, err)
	assert.Equal(t, DecisionProceed, claim.Decision)
}

func TestLedgerClaim_duplicateWhileProcessing(t *testing.T) {
	db := setupLedgerTestDB(t)
	ledger := newTestLedger(t, db)
	key := uuid.NewString()

	_, err := ledger.Claim(context.Background(), testClaimInput(key, "h1"))
	require.NoError(t, err)

	claim, err := ledger.Claim(context.Background(), testClaimInput(key, "h1"))
	require.NoError(t, err)
	assert.Equal(t, DecisionInProgress, claim.Decision)
}

func TestLedgerClaim_replaysCompletedResponse(t *testing.T) {
	db := setupLedgerTestDB(t)
	ledger := newTestLedger(t, db)
	key := uuid.NewString()
	ctx := context.Background()

	_, err := ledger.Claim(ctx, testClaimInput(key, "h1"))
	require.NoError(t, err)
	require.NoError(t, ledger.Complete(ctx, key, json.RawMessage(`{"order_id":"abc"}`)))

	claim, err := ledger.Claim(ctx, testClaimInput(key, "h1"))
	require.NoError(t, err)
	assert.Equal(t, DecisionReplayCompleted, claim.Decision)
	assert.JSONEq(t, `{"order_id":"abc"}`, string(claim.Response))

	// A completed record replays even when the retried payload differs.
	claim, err = ledger.Claim(ctx, testClaimInput(key, "different-hash"))
	require.NoError(t, err)
	assert.Equal(t, DecisionReplayCompleted, claim.Decision)
}

func TestLedgerClaim_replaysFailureForIdenticalRequest(t *testing.T) {
	db := setupLedgerTestDB(t)
	ledger := newTestLedger(t, db)
	key := uuid.NewString()
	ctx := context.Background()

	_, err := ledger.Claim(ctx, testClaimInput(key, "h1"))
	require.NoError(t, err)
	require.NoError(t, ledger.Fail(ctx, key, "plan not provisionable"))

	claim, err := ledger.Claim(ctx, testClaimInput(key, "h1"))
	require.NoError(t, err)
	assert.Equal(t, DecisionReplayFailed, claim.Decision)
	assert.Equal(t, "plan not provisionable", claim.ErrorMessage)
}

func TestLedgerClaim_reopensFailureForChangedRequest(t *testing.T) {
	db := setupLedgerTestDB(t)
	ledger := newTestLedger(t, db)
	key := uuid.NewString()
	ctx := context.Background()

	_, err := ledger.Claim(ctx, testClaimInput(key, "h1"))
	require.NoError(t, err)
	require.NoError(t, ledger.Fail(ctx, key, "invalid plan code"))

	claim, err := ledger.Claim(ctx, testClaimInput(key, "h2"))
	require.NoError(t, err)
	assert.Equal(t, DecisionProceedNewAttempt, claim.Decision)

	// The reopened record is owned until finalized.
	claim, err = ledger.Claim(ctx, testClaimInput(key, "h2"))
	require.NoError(t, err)
	assert.Equal(t, DecisionInProgress, claim.Decision)
}

func TestLedgerClaim_concurrentClaimsSingleWinner(t *testing.T) {
	db := setupLedgerTestDB(t)
	ledger := newTestLedger(t, db)
	key := uuid.NewString()

	const claimants = 8
	decisions := make([]Decision, claimants)
	var wg sync.WaitGroup
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			// sqlite's shared cache can reject concurrent writers; retry
			// until the claim resolves so every slot records a decision.
			for attempt := 0; attempt < 50; attempt++ {
				claim, err := ledger.Claim(context.Background(), testClaimInput(key, "h1"))
				if err != nil {
					time.Sleep(5 * time.Millisecond)
					continue
				}
				decisions[slot] = claim.Decision
				return
			}
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, decision := range decisions {
		require.NotEmpty(t, decision)
		if decision == DecisionProceed {
			winners++
		} else {
			assert.Equal(t, DecisionInProgress, decision)
		}
	}
	assert.Equal(t, 1, winners)
}

func TestLedgerSweep_removesExpiredRecords(t *testing.T) {
	db := setupLedgerTestDB(t)
	ledger := newTestLedger(t, db)
	ctx := context.Background()

	expired := &models.IdempotencyRecord{
		ID:          uuid.New(),
		Key:         uuid.NewString(),
		Operation:   "orders.create",
		Status:      enums.IdempotencyStatusCompleted,
		RequestHash: "h1",
		ExpiresAt:   time.Now().UTC().Add(-time.Hour),
	}
	live := &models.IdempotencyRecord{
		ID:          uuid.New(),
		Key:         uuid.NewString(),
		Operation:   "orders.create",
		Status:      enums.IdempotencyStatusCompleted,
		RequestHash: "h2",
		ExpiresAt:   time.Now().UTC().Add(time.Hour),
	}
	require.NoError(t, db.Create(expired).Error)
	require.NoError(t, db.Create(live).Error)

	removed, err := ledger.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	record, err := NewRepository(db).FindByKey(ctx, expired.Key)
	require.NoError(t, err)
	assert.Nil(t, record)

	// Retrying the swept key starts over as a fresh request.
	claim, err := ledger.Claim(ctx, testClaimInput(expired.Key, "h1"))
	require.NoError(t, err)
	assert.Equal(t, DecisionProceed, claim.Decision)
}

func TestLedgerRelease_allowsReprocessing(t *testing.T) {
	db := setupLedgerTestDB(t)
	ledger := newTestLedger(t, db)
	key := uuid.NewString()
	ctx := context.Background()

	_, err := ledger.Claim(ctx, testClaimInput(key, "h1"))
	require.NoError(t, err)
	require.NoError(t, ledger.Release(ctx, key))

	claim, err := ledger.Claim(ctx, testClaimInput(key, "h1"))
	require.NoError(t, err)
	assert.Equal(t, DecisionProceed, claim.Decision)
}

func TestExecute_runsOnceAndReplays(t *testing.T) {
	db := setupLedgerTestDB(t)
	ledger := newTestLedger(t, db)
	key := uuid.NewString()
	ctx := context.Background()

	runs := 0
	op := func(ctx context.Context) (json.RawMessage, error) {
		runs++
		return json.RawMessage(`{"subscription_id":"sub-1"}`), nil
	}

	result, err := Execute(ctx, ledger, testClaimInput(key, "h1"), op)
	require.NoError(t, err)
	assert.False(t, result.Replayed)

	result, err = Execute(ctx, ledger, testClaimInput(key, "h1"), op)
	require.NoError(t, err)
	assert.True(t, result.Replayed)
	assert.JSONEq(t, `{"subscription_id":"sub-1"}`, string(result.Response))
	assert.Equal(t, 1, runs)
}

func TestExecute_identicalRetryReplaysFailure(t *testing.T) {
	db := setupLedgerTestDB(t)
	ledger := newTestLedger(t, db)
	key := uuid.NewString()
	ctx := context.Background()

	runs := 0
	op := func(ctx context.Context) (json.RawMessage, error) {
		runs++
		return nil, errors.New("plan code not found")
	}

	_, err := Execute(ctx, ledger, testClaimInput(key, "h1"), op)
	require.Error(t, err)

	_, err = Execute(ctx, ledger, testClaimInput(key, "h1"), op)
	require.Error(t, err)
	var replayed *ReplayedError
	require.ErrorAs(t, err, &replayed)
	assert.Equal(t, "plan code not found", replayed.Message)
	assert.Equal(t, 1, runs)
}

func TestExecute_changedRequestReattemptsAfterFailure(t *testing.T) {
	db := setupLedgerTestDB(t)
	ledger := newTestLedger(t, db)
	key := uuid.NewString()
	ctx := context.Background()

	fail := func(ctx context.Context) (json.RawMessage, error) {
		return nil, errors.New("boom")
	}
	succeed := func(ctx context.Context) (json.RawMessage, error) {
		return json.RawMessage(`{"ok":true}`), nil
	}

	_, err := Execute(ctx, ledger, testClaimInput(key, "h1"), fail)
	require.Error(t, err)

	result, err := Execute(ctx, ledger, testClaimInput(key, "h2"), succeed)
	require.NoError(t, err)
	assert.False(t, result.Replayed)
	assert.JSONEq(t, `{"ok":true}`, string(result.Response))
}

func TestExecute_inProgressConflict(t *testing.T) {
	db := setupLedgerTestDB(t)
	ledger := newTestLedger(t, db)
	key := uuid.NewString()
	ctx := context.Background()

	_, err := ledger.Claim(ctx, testClaimInput(key, "h1"))
	require.NoError(t, err)

	_, err = Execute(ctx, ledger, testClaimInput(key, "h1"), func(ctx context.Context) (json.RawMessage, error) {
		return nil, nil
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeInProgress, typed.Code())
}

func TestExecute_panicFinalizesClaim(t *testing.T) {
	db := setupLedgerTestDB(t)
	ledger := newTestLedger(t, db)
	key := uuid.NewString()
	ctx := context.Background()

	require.Panics(t, func() {
		_, _ = Execute(ctx, ledger, testClaimInput(key, "h1"), func(ctx context.Context) (json.RawMessage, error) {
			panic("boom")
		})
	})

	// The key must not be stuck PROCESSING; a retry with the same request
	// replays the recorded failure.
	claim, err := ledger.Claim(ctx, testClaimInput(key, "h1"))
	require.NoError(t, err)
	assert.Equal(t, DecisionReplayFailed, claim.Decision)
	assert.Contains(t, claim.ErrorMessage, "panicked")
}

func TestHashRequest_stableFingerprint(t *testing.T) {
	assert.Equal(t, HashRequest([]byte(`{"a":1}`)), HashRequest([]byte(`{"a":1}`)))
	assert.NotEqual(t, HashRequest([]byte(`{"a":1}`)), HashRequest([]byte(`{"a":2}`)))
}
