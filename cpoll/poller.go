package cpoll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultTimeout is used when [Config.Timeout] is zero.
	DefaultTimeout = 10 * time.Second

	// DefaultInterval is used when [Config.Interval] is zero.
	DefaultInterval = 100 * time.Millisecond
)

// Config is the configuration for a [Poller].
type Config struct {
	// How long to keep retrying before giving up.
	// The deadline is measured from the start of each call to Poll.
	Timeout time.Duration

	// Fixed delay between the end of one attempt and the start of the next.
	Interval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	return c
}

func (c Config) validate() {
	var err error
	if c.Timeout < 0 {
		err = errors.Join(err, fmt.Errorf("Config.Timeout must not be negative (got %s)", c.Timeout))
	}
	if c.Interval < 0 {
		err = errors.Join(err, fmt.Errorf("Config.Interval must not be negative (got %s)", c.Interval))
	}
	if err != nil {
		panic(err)
	}
}

// MaxAttempts returns the upper bound on predicate evaluations
// for a single call to Poll with this configuration:
// one attempt per interval inside the window,
// plus the first attempt and the final attempt at the deadline.
func (c Config) MaxAttempts() int {
	c = c.withDefaults()
	return int(c.Timeout/c.Interval) + 2
}

// Poller repeatedly evaluates a predicate until it succeeds,
// fails fatally, or the configured timeout elapses.
//
// A Poller holds no per-call state and is safe for concurrent use.
type Poller struct {
	log *slog.Logger
	cfg Config
}

// New returns a Poller using cfg.
// Zero fields in cfg are replaced with defaults;
// negative durations cause a panic.
func New(log *slog.Logger, cfg Config) *Poller {
	cfg.validate()

	return &Poller{
		log: log,
		cfg: cfg.withDefaults(),
	}
}

// Config returns the effective configuration of p, with defaults applied.
func (p *Poller) Config() Config {
	return p.cfg
}

// Poll evaluates pred until it returns [Ok].
//
// A [Retry] result waits for the configured interval and tries again.
// A [Fatal] result stops polling immediately and its error is returned wrapped.
// If the timeout elapses first, Poll returns a [*TimeoutError]
// holding the last retry cause.
// Poll never reports a timeout before the full timeout has elapsed,
// and it always evaluates pred at least once.
//
// Cancelling ctx also stops polling,
// returning an error wrapping the context's cause.
func (p *Poller) Poll(ctx context.Context, pred Predicate) error {
	start := time.Now()
	deadline := start.Add(p.cfg.Timeout)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	var last error
	for attempt := 1; ; attempt++ {
		res := pred(ctx)
		switch res.kind {
		case okKind:
			if attempt > 1 {
				p.log.Debug(
					"Condition met after retries",
					"attempts", attempt,
					"elapsed", time.Since(start),
				)
			}
			return nil

		case fatalKind:
			return fmt.Errorf("polling aborted on attempt %d: %w", attempt, res.err)

		case retryKind:
			last = res.err

		default:
			panic(fmt.Errorf("BUG: predicate returned invalid result kind %d", res.kind))
		}

		now := time.Now()
		if !now.Before(deadline) {
			p.log.Debug(
				"Condition not met before deadline",
				"attempts", attempt,
				"timeout", p.cfg.Timeout,
				"last_err", last,
			)
			return &TimeoutError{
				Timeout:  p.cfg.Timeout,
				Attempts: attempt,
				Last:     last,
			}
		}

		wait := min(p.cfg.Interval, deadline.Sub(now))
		if timer == nil {
			timer = time.NewTimer(wait)
		} else {
			timer.Reset(wait)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf(
				"polling canceled after %d attempt(s) (last failure: %v): %w",
				attempt, last, context.Cause(ctx),
			)
		case <-timer.C:
		}
	}
}

// Eventually is shorthand for creating a Poller with cfg
// and polling pred once.
func Eventually(ctx context.Context, log *slog.Logger, cfg Config, pred Predicate) error {
	return New(log, cfg).Poll(ctx, pred)
}
