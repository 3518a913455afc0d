package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/harborline/harborline-backend/pkg/logger"
)

const periodEndCancelBatch = 100

type periodEndCanceller interface {
	SweepPeriodEndCancellations(ctx context.Context, limit int) (int, error)
}

// PeriodEndCancelJobParams configure the scheduled-cancellation sweeper.
type PeriodEndCancelJobParams struct {
	Logger        *logger.Logger
	Subscriptions periodEndCanceller
	Interval      time.Duration
}

// NewPeriodEndCancelJob builds the job that finalizes subscriptions whose
// cancel-at-period-end deadline has passed. The provider sends its own
// deletion event eventually; this sweep just keeps local state from lagging
// when that event is delayed or lost.
func NewPeriodEndCancelJob(params PeriodEndCancelJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscriptions service required")
	}
	return &periodEndCancelJob{
		logg:     params.Logger,
		subs:     params.Subscriptions,
		interval: params.Interval,
	}, nil
}

type periodEndCancelJob struct {
	logg     *logger.Logger
	subs     periodEndCanceller
	interval time.Duration
}

func (j *periodEndCancelJob) Name() string { return "period-end-cancel" }

func (j *periodEndCancelJob) Interval() time.Duration { return j.interval }

func (j *periodEndCancelJob) Run(ctx context.Context) error {
	total := 0
	for {
		cancelled, err := j.subs.SweepPeriodEndCancellations(ctx, periodEndCancelBatch)
		if err != nil {
			return fmt.Errorf("sweep period-end cancellations: %w", err)
		}
		total += cancelled
		if cancelled < periodEndCancelBatch {
			break
		}
	}
	j.logg.Info(j.logg.WithField(ctx, "cancelled", total), "period-end cancellation sweep complete")
	return nil
}
