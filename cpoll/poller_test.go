package cpoll_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/credmesh/credmesh"
	"github.com/credmesh/credmesh/cpoll"
	"github.com/credmesh/credmesh/internal/ctest"
	"github.com/stretchr/testify/require"
)

func TestPoller_immediateSuccess(t *testing.T) {
	t.Parallel()

	p := cpoll.New(ctest.NewLogger(t), cpoll.Config{
		Timeout:  time.Second,
		Interval: 10 * time.Millisecond,
	})

	var calls atomic.Int32
	err := p.Poll(t.Context(), func(context.Context) cpoll.Result {
		calls.Add(1)
		return cpoll.Ok()
	})
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load())
}

func TestPoller_succeedsAfterRetries(t *testing.T) {
	t.Parallel()

	cfg := cpoll.Config{
		Timeout:  2 * time.Second,
		Interval: 5 * time.Millisecond,
	}
	p := cpoll.New(ctest.NewLogger(t), cfg)

	var calls atomic.Int32
	err := p.Poll(t.Context(), func(context.Context) cpoll.Result {
		if calls.Add(1) < 4 {
			return cpoll.Retry(errors.New("not yet"))
		}
		return cpoll.Ok()
	})
	require.NoError(t, err)
	require.Equal(t, int32(4), calls.Load())
	require.LessOrEqual(t, int(calls.Load()), cfg.MaxAttempts())
}

func TestPoller_timeoutAfterFullDuration(t *testing.T) {
	t.Parallel()

	cfg := cpoll.Config{
		Timeout:  150 * time.Millisecond,
		Interval: 20 * time.Millisecond,
	}
	p := cpoll.New(ctest.NewLogger(t), cfg)

	cause := errors.New("still waiting")
	var calls atomic.Int32

	start := time.Now()
	err := p.Poll(t.Context(), func(context.Context) cpoll.Result {
		calls.Add(1)
		return cpoll.Retry(cause)
	})
	elapsed := time.Since(start)

	require.GreaterOrEqual(t, elapsed, cfg.Timeout)

	var te *cpoll.TimeoutError
	require.ErrorAs(t, err, &te)
	require.Equal(t, cfg.Timeout, te.Timeout)
	require.Equal(t, int(calls.Load()), te.Attempts)
	require.LessOrEqual(t, te.Attempts, cfg.MaxAttempts())
	require.GreaterOrEqual(t, te.Attempts, 2)

	require.ErrorIs(t, err, credmesh.ErrTimeout)
	require.ErrorIs(t, err, cause)
}

func TestPoller_fatalStopsImmediately(t *testing.T) {
	t.Parallel()

	p := cpoll.New(ctest.NewLogger(t), cpoll.Config{
		Timeout:  5 * time.Second,
		Interval: time.Millisecond,
	})

	boom := errors.New("boom")
	var calls atomic.Int32

	start := time.Now()
	err := p.Poll(t.Context(), func(context.Context) cpoll.Result {
		if calls.Add(1) == 2 {
			return cpoll.Fatal(boom)
		}
		return cpoll.Retry(nil)
	})

	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, credmesh.ErrTimeout)
	require.Equal(t, int32(2), calls.Load())
	require.Less(t, time.Since(start), time.Second)
}

func TestPoller_contextCanceled(t *testing.T) {
	t.Parallel()

	p := cpoll.New(ctest.NewLogger(t), cpoll.Config{
		Timeout:  5 * time.Second,
		Interval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(t.Context())
	var calls atomic.Int32
	err := p.Poll(ctx, func(context.Context) cpoll.Result {
		if calls.Add(1) == 3 {
			cancel()
		}
		return cpoll.Retry(nil)
	})

	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, credmesh.ErrTimeout)
}

func TestPoller_zeroResultPanics(t *testing.T) {
	t.Parallel()

	p := cpoll.New(ctest.NewLogger(t), cpoll.Config{})
	require.Panics(t, func() {
		_ = p.Poll(t.Context(), func(context.Context) cpoll.Result {
			return cpoll.Result{}
		})
	})
}

func TestNew_defaultsAndValidation(t *testing.T) {
	t.Parallel()

	p := cpoll.New(ctest.NewLogger(t), cpoll.Config{})
	require.Equal(t, cpoll.DefaultTimeout, p.Config().Timeout)
	require.Equal(t, cpoll.DefaultInterval, p.Config().Interval)

	require.Panics(t, func() {
		cpoll.New(ctest.NewLogger(t), cpoll.Config{Timeout: -time.Second})
	})
}

func TestConditions(t *testing.T) {
	t.Parallel()

	first := errors.New("first")
	pred := cpoll.Conditions(
		func() error { return nil },
		func() error { return first },
		func() error { return errors.New("second") },
	)

	res := pred(t.Context())
	require.True(t, res.IsRetry())
	require.ErrorIs(t, res.Err(), first)

	require.True(t, cpoll.Conditions()(t.Context()).IsOk())
}
