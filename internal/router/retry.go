package router

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/refset/insurance-support-agent/internal/config"
	"github.com/refset/insurance-support-agent/internal/workflow"
)

// Retry runs a stage with bounded exponential backoff.
type Retry struct {
	MaxRetries      int
	InitialInterval time.Duration
	BackoffRate     float64

	sleep func(ctx context.Context, d time.Duration) error
}

func NewRetry(cfg config.RetryConfig) Retry {
	return Retry{
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: cfg.InitialInterval,
		BackoffRate:     cfg.BackoffRate,
		sleep:           sleepCtx,
	}
}

// Do calls op once and then up to MaxRetries more times while it fails
// with a transient error.
func (r Retry) Do(ctx context.Context, op func(context.Context) error) error {
	sleep := r.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	interval := r.InitialInterval
	var err error
	for attempt := 0; ; attempt++ {
		err = op(ctx)
		if err == nil || !IsTransient(err) || attempt >= r.MaxRetries {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		if serr := sleep(ctx, interval); serr != nil {
			return serr
		}
		interval = time.Duration(float64(interval) * r.BackoffRate)
	}
}

// IsTransient reports whether err is an infrastructure failure worth
// retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, workflow.ErrTransient) {
		return true
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected, connection exceptions
		switch pgErr.Code {
		case "40001", "40P01", "08000", "08003", "08006", "57P01":
			return true
		}
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
