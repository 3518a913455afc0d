package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/harborline/harborline-backend/pkg/logger"
)

type ledgerSweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// IdempotencySweepJobParams configure the expired-claim sweeper.
type IdempotencySweepJobParams struct {
	Logger   *logger.Logger
	Ledger   ledgerSweeper
	Interval time.Duration
}

// NewIdempotencySweepJob builds the job that purges expired idempotency
// claims so abandoned keys become claimable again.
func NewIdempotencySweepJob(params IdempotencySweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	return &idempotencySweepJob{
		logg:     params.Logger,
		ledger:   params.Ledger,
		interval: params.Interval,
	}, nil
}

type idempotencySweepJob struct {
	logg     *logger.Logger
	ledger   ledgerSweeper
	interval time.Duration
}

func (j *idempotencySweepJob) Name() string { return "idempotency-sweep" }

func (j *idempotencySweepJob) Interval() time.Duration { return j.interval }

func (j *idempotencySweepJob) Run(ctx context.Context) error {
	removed, err := j.ledger.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep expired claims: %w", err)
	}
	j.logg.Info(j.logg.WithField(ctx, "removed", removed), "expired idempotency claims swept")
	return nil
}
