// Package retry runs an operation until it succeeds, fails permanently, or the
// attempt budget is spent.
//
// Two tiers are used across filehop. The connection tier comes from the
// descriptor (retryCount attempts, retryWaitMs between them) and wraps whole
// operations that reconnect between attempts. The call tier uses a short fixed
// delay and wraps single remote calls such as a listing page or an ACL read.
//
//	p := retry.FromDescriptor(d)
//	err := p.Do(ctx, func(ctx context.Context) error {
//	    return client.Upload(ctx, path, body)
//	})
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/koustreak/filehop/internal/descriptor"
	"github.com/koustreak/filehop/internal/errs"
)

// Strategy selects how the delay between attempts evolves.
type Strategy int

const (
	Constant Strategy = iota
	Exponential
)

// CallWait is the fixed delay used for call-tier retries (listing pages,
// ACL reads and writes, multipart abort).
const CallWait = 300 * time.Millisecond

// Policy describes a bounded retry loop. The zero value runs the operation
// exactly once.
type Policy struct {
	// Attempts is the total number of tries, including the first one.
	Attempts int
	Strategy Strategy
	// Wait is the constant delay, or the initial delay for Exponential.
	Wait time.Duration
	// MaxWait caps exponential growth. Zero means no cap beyond the
	// library default.
	MaxWait time.Duration
	// Retryable decides whether an error is worth another attempt.
	// Defaults to errs.IsRetryable.
	Retryable func(error) bool
	// Notify is called before each sleep with the attempt that just failed.
	Notify func(attempt int, err error, next time.Duration)
}

// Fixed returns a policy with a constant delay between attempts.
func Fixed(attempts int, wait time.Duration) Policy {
	return Policy{Attempts: attempts, Strategy: Constant, Wait: wait}
}

// Backoff returns a policy whose delay doubles from initial.
func Backoff(attempts int, initial time.Duration) Policy {
	return Policy{Attempts: attempts, Strategy: Exponential, Wait: initial}
}

// Call is the call-tier policy: 3 attempts, CallWait apart.
func Call() Policy {
	return Fixed(3, CallWait)
}

// FromDescriptor is the connection-tier policy of d.
func FromDescriptor(d *descriptor.Descriptor) Policy {
	return Fixed(d.RetryCount, d.RetryWait)
}

// ForOpen is the policy used to establish a connection. Opening always gets
// at least two attempts.
func ForOpen(d *descriptor.Descriptor) Policy {
	return Fixed(max(d.RetryCount, 2), d.RetryWait)
}

// WithNotify returns a copy of p that reports failed attempts to fn.
func (p Policy) WithNotify(fn func(attempt int, err error, next time.Duration)) Policy {
	p.Notify = fn
	return p
}

// Do runs op until it returns nil, returns a non-retryable error, the attempt
// budget is spent, or ctx is done. The last error is returned unwrapped.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = errs.IsRetryable
	}

	attempt := 0
	operation := func() error {
		attempt++
		err := op(ctx)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var notify backoff.Notify
	if p.Notify != nil {
		notify = func(err error, next time.Duration) {
			p.Notify(attempt, err, next)
		}
	}

	return backoff.RetryNotify(operation, p.backOff(ctx), notify)
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff
	switch p.Strategy {
	case Exponential:
		eb := backoff.NewExponentialBackOff()
		if p.Wait > 0 {
			eb.InitialInterval = p.Wait
		}
		if p.MaxWait > 0 {
			eb.MaxInterval = p.MaxWait
		}
		eb.RandomizationFactor = 0
		eb.MaxElapsedTime = 0
		b = eb
	default:
		b = backoff.NewConstantBackOff(p.Wait)
	}

	retries := 0
	if p.Attempts > 1 {
		retries = p.Attempts - 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}
