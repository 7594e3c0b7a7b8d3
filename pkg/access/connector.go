// Package access holds the resource-acquisition contract shared by the
// connectors that reach credentialed external resources (FTP, SSH, ...).
package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"

	"github.com/balticlsc/balticlsc-module/pkg/lg"
)

// DefaultMaxAttempts is the number of connection attempts before giving up.
const DefaultMaxAttempts = 10

// Connector acquires a handle H to the resource described by credential C.
type Connector[C, H any] interface {
	Acquire(ctx context.Context, credential C) (H, error)
}

// DialFunc makes a single connection attempt.
type DialFunc[C, H any] func(ctx context.Context, credential C) (H, error)

// ExhaustedError is returned once every attempt has failed.
type ExhaustedError struct {
	Name     string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("connecting to %s exceeded max retries = %d: %v", e.Name, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Retrying calls Dial up to MaxAttempts times with no delay in between.
type Retrying[C, H any] struct {
	Name        string
	MaxAttempts int
	Dial        DialFunc[C, H]
	Log         lg.Logger
}

var _ Connector[string, int] = (*Retrying[string, int])(nil)

func NewRetrying[C, H any](name string, maxAttempts int, dial DialFunc[C, H], log lg.Logger) *Retrying[C, H] {
	return &Retrying[C, H]{Name: name, MaxAttempts: maxAttempts, Dial: dial, Log: log}
}

// Acquire returns the first successful handle. Every failed attempt is
// logged as a warning; after the last one an *ExhaustedError carries the
// attempt count and the last cause. A cancelled ctx stops the loop early
// with the context error.
func (r *Retrying[C, H]) Acquire(ctx context.Context, credential C) (H, error) {
	var zero H
	if r.Dial == nil {
		return zero, errors.New("access: connector has no dial function")
	}
	max := r.MaxAttempts
	if max <= 0 {
		max = DefaultMaxAttempts
	}
	log := r.Log
	if log == nil {
		log = lg.FromContext(ctx)
	}

	attempts := 0
	var last error
	operation := func() (H, error) {
		if err := ctx.Err(); err != nil {
			return zero, backoff.Permanent(err)
		}
		attempts++
		h, err := r.Dial(ctx, credential)
		if err != nil {
			last = err
			log.Warn("connection attempt failed",
				lg.String("connector", r.Name), lg.Int("attempt", attempts), lg.Int("max", max), lg.Err(err))
			return zero, err
		}
		return h, nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(max-1)), ctx)
	h, err := backoff.RetryWithData[H](operation, policy)
	if err == nil {
		return h, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return zero, fmt.Errorf("connecting to %s after %d attempts: %w", r.Name, attempts, ctxErr)
	}
	exhausted := &ExhaustedError{Name: r.Name, Attempts: attempts, Err: last}
	log.Error("connection attempts exhausted", lg.String("connector", r.Name), lg.Err(exhausted))
	return zero, exhausted
}
