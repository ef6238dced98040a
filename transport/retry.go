package transport

import (
	"context"
	"errors"

	"github.com/scylladb/scylla-go-driver/frame"
	"github.com/scylladb/scylla-go-driver/frame/response"
)

// RetryDecision tells the executor what to do after a failed attempt
// (spec §4.G).
type RetryDecision int

const (
	RetrySameNode RetryDecision = iota
	RetryNextNode
	DontRetry
)

// RetryInfo is everything a RetryDecider needs to judge one failed
// attempt (spec §4.G).
type RetryInfo struct {
	Error       error
	Idempotent  bool
	Consistency frame.Consistency
}

// RetryDecider is stateful across the attempts of a single request, so
// it can bound the number of same-node retries (spec §4.G).
type RetryDecider interface {
	Decide(RetryInfo) RetryDecision
	Reset()
}

// RetryPolicy produces a fresh RetryDecider per request.
type RetryPolicy interface {
	NewRetryDecider() RetryDecider
}

// DefaultRetryPolicy implements the common driver heuristic: retry a
// read on the same node once (the coordinator may have been mid-repair),
// retry on the next node for anything that looks like a coordinator or
// connection problem, and never retry a write whose outcome is
// ambiguous: a WriteTimeout is retried (same node, once) only for
// BATCH_LOG writes. RetryInfo.Idempotent is not consulted (spec §4.G).
type DefaultRetryPolicy struct{}

func NewDefaultRetryPolicy() DefaultRetryPolicy { return DefaultRetryPolicy{} }

func (DefaultRetryPolicy) NewRetryDecider() RetryDecider {
	return &defaultRetryDecider{}
}

type defaultRetryDecider struct {
	sameNodeRetries int
	unavailableRetried bool
	unpreparedRetried  bool
}

const maxSameNodeRetries = 1

func (d *defaultRetryDecider) Reset() {
	d.sameNodeRetries = 0
	d.unavailableRetried = false
	d.unpreparedRetried = false
}

func (d *defaultRetryDecider) Decide(ri RetryInfo) RetryDecision {
	if errors.Is(ri.Error, context.DeadlineExceeded) || errors.Is(ri.Error, context.Canceled) {
		// The client deadline already fired; another attempt would just
		// fail the same way (spec §4.H item 6).
		return DontRetry
	}

	attemptErr, ok := ri.Error.(*RequestAttemptError)
	if !ok {
		return RetryNextNode
	}

	if attemptErr.Db == nil {
		// Transport-level failure (broken connection, stream exhausted,
		// frame parse error): the coordinator itself is suspect.
		return RetryNextNode
	}

	switch attemptErr.Db.Code {
	case response.ErrUnavailable:
		// The coordinator itself reported it can't reach enough replicas;
		// retrying it won't help, a different coordinator might do better
		// (spec §4.G: "Unavailable: retry next host once").
		if d.unavailableRetried {
			return DontRetry
		}
		d.unavailableRetried = true
		return RetryNextNode
	case response.ErrOverloaded, response.ErrIsBootstrapping, response.ErrTruncateError:
		return RetryNextNode
	case response.ErrReadTimeout:
		db := attemptErr.Db
		if db.Received >= db.BlockFor && !db.DataPresent && d.sameNodeRetries < maxSameNodeRetries {
			d.sameNodeRetries++
			return RetrySameNode
		}
		return DontRetry
	case response.ErrWriteTimeout:
		// write_type=BatchLog gets a same-host retry regardless of
		// idempotence (spec §4.G): the batchlog write itself is a
		// driver-internal bookkeeping write, not the caller's mutation.
		if attemptErr.Db.WriteType == frame.WriteTypeBatchLog {
			if d.sameNodeRetries < maxSameNodeRetries {
				d.sameNodeRetries++
				return RetrySameNode
			}
			return DontRetry
		}
		return DontRetry
	case response.ErrUnprepared:
		if d.unpreparedRetried {
			return RetryNextNode
		}
		d.unpreparedRetried = true
		return RetrySameNode
	default:
		return DontRetry
	}
}
