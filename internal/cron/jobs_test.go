package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSweeper struct {
	removed int64
	err     error
	calls   int
}

func (f *fakeSweeper) Sweep(ctx context.Context) (int64, error) {
	f.calls++
	return f.removed, f.err
}

type fakeCanceller struct {
	batches []int
	err     error
	calls   int
}

func (f *fakeCanceller) SweepPeriodEndCancellations(ctx context.Context, limit int) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	if f.calls >= len(f.batches) {
		return 0, nil
	}
	batch := f.batches[f.calls]
	f.calls++
	return batch, nil
}

func TestIdempotencySweepJob(t *testing.T) {
	sweeper := &fakeSweeper{removed: 12}
	job, err := NewIdempotencySweepJob(IdempotencySweepJobParams{
		Logger:   testLogger(),
		Ledger:   sweeper,
		Interval: 15 * time.Minute,
	})
	require.NoError(t, err)

	assert.Equal(t, "idempotency-sweep", job.Name())
	assert.Equal(t, 15*time.Minute, job.Interval())
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, sweeper.calls)

	sweeper.err = errors.New("db down")
	require.Error(t, job.Run(context.Background()))
}

func TestPeriodEndCancelJob_drainsFullBatches(t *testing.T) {
	canceller := &fakeCanceller{batches: []int{periodEndCancelBatch, periodEndCancelBatch, 3}}
	job, err := NewPeriodEndCancelJob(PeriodEndCancelJobParams{
		Logger:        testLogger(),
		Subscriptions: canceller,
		Interval:      time.Hour,
	})
	require.NoError(t, err)

	assert.Equal(t, "period-end-cancel", job.Name())
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 3, canceller.calls)
}

func TestPeriodEndCancelJob_propagatesErrors(t *testing.T) {
	canceller := &fakeCanceller{err: errors.New("sweep failed")}
	job, err := NewPeriodEndCancelJob(PeriodEndCancelJobParams{
		Logger:        testLogger(),
		Subscriptions: canceller,
		Interval:      time.Hour,
	})
	require.NoError(t, err)
	require.Error(t, job.Run(context.Background()))
}
