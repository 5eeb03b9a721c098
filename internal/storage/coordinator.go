package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"csvload/internal/apperrors"
	"csvload/internal/schema"
	"csvload/pkg/records"
)

// RetryPolicy bounds how destination calls are retried. Only errors that
// carry apperrors.ErrDestinationUnavailable are retried.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// AttemptTimeout caps a single attempt. A timed-out attempt counts as
	// transient.
	AttemptTimeout time.Duration
}

// DefaultRetry is 4 attempts, 500ms doubling up to 10s, 5 minutes each.
func DefaultRetry() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     4,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2,
		AttemptTimeout:  5 * time.Minute,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetry()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = d.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = d.MaxInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = d.AttemptTimeout
	}
	return p
}

// Result summarises a load.
type Result struct {
	Destination Destination
	Mode        WriteMode
	RowsWritten int64
	// Attempts is the number of write attempts, retries included.
	Attempts int
	// Created is true when the destination table did not exist before.
	Created bool
}

// Coordinator writes tables through a Warehouse with write-mode
// preconditions and retries.
type Coordinator struct {
	wh    Warehouse
	retry RetryPolicy
	log   *zap.Logger

	// CreateTable allows append and fail-if-present to create a missing
	// table. Replace always (re)creates it.
	CreateTable bool
}

// NewCoordinator returns a Coordinator over wh. Zero fields of retry take
// their DefaultRetry values.
func NewCoordinator(wh Warehouse, retry RetryPolicy, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{wh: wh, retry: retry.withDefaults(), log: log, CreateTable: true}
}

// Load writes t to dest under mode. Nothing is written when a precondition
// fails: fail-if-present on a non-empty table, an append whose schema does
// not fit the existing table, or a missing table with CreateTable off.
func (c *Coordinator) Load(ctx context.Context, t *records.Table, s schema.Schema, dest Destination, mode WriteMode) (Result, error) {
	res := Result{Destination: dest, Mode: mode}
	log := c.log.With(zap.Stringer("destination", dest), zap.String("mode", string(mode)))

	if _, err := c.do(ctx, "ensure namespace", func(ctx context.Context) error {
		return c.wh.EnsureNamespace(ctx, dest)
	}); err != nil {
		return res, err
	}

	info, err := c.Describe(ctx, dest)
	if err != nil {
		return res, err
	}
	if err := c.precondition(info, s, dest, mode); err != nil {
		return res, err
	}
	res.Created = !info.Exists

	rows := Rows(t, s)
	start := time.Now()
	res.Attempts, err = c.do(ctx, "write", func(ctx context.Context) error {
		n, err := c.wh.Write(ctx, dest, s, rows, mode)
		res.RowsWritten = n
		return err
	})
	if err != nil {
		return res, err
	}
	log.Info("load complete",
		zap.Int64("rows", res.RowsWritten),
		zap.Int("attempts", res.Attempts),
		zap.Bool("created", res.Created),
		zap.Duration("took", time.Since(start)))
	return res, nil
}

// Describe reports the destination table, retrying transient failures.
func (c *Coordinator) Describe(ctx context.Context, dest Destination) (TableInfo, error) {
	var info TableInfo
	_, err := c.do(ctx, "describe", func(ctx context.Context) error {
		var err error
		info, err = c.wh.Describe(ctx, dest)
		return err
	})
	return info, err
}

func (c *Coordinator) precondition(info TableInfo, s schema.Schema, dest Destination, mode WriteMode) error {
	switch mode {
	case Replace:
		return nil
	case Append, FailIfPresent:
		if !info.Exists {
			if !c.CreateTable {
				return apperrors.Conflict("%s does not exist and table creation is disabled", dest)
			}
			return nil
		}
		if mode == FailIfPresent && info.Rows > 0 {
			return apperrors.Conflict("%s already holds %d rows", dest, info.Rows)
		}
		if err := s.Compatible(info.Schema); err != nil {
			return apperrors.Conflict("%s: %v", dest, err)
		}
		return nil
	}
	return fmt.Errorf("storage: unknown write mode %q", mode)
}

// do runs op until it succeeds, fails permanently or the policy runs out.
// Each attempt gets its own timeout. It returns the number of attempts.
func (c *Coordinator) do(ctx context.Context, what string, op func(context.Context) error) (int, error) {
	p := c.retry
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx)

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		actx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
		defer cancel()

		err := op(actx)
		if err == nil {
			return nil
		}
		if errors.Is(err, apperrors.ErrCommitUnknown) {
			return backoff.Permanent(err)
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = apperrors.Unavailable(fmt.Errorf("attempt timed out after %s: %w", p.AttemptTimeout, err))
		}
		if !apperrors.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		c.log.Warn("destination call failed, retrying",
			zap.String("op", what),
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
	if err == nil {
		return attempts, nil
	}
	if apperrors.IsTransient(err) {
		return attempts, fmt.Errorf("storage: %s: giving up after %d attempts: %w", what, attempts, err)
	}
	return attempts, fmt.Errorf("storage: %s: %w", what, err)
}
