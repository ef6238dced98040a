package transport

import (
	"context"
	"testing"

	"github.com/scylladb/scylla-go-driver/frame"
	"github.com/scylladb/scylla-go-driver/frame/response"
)

func TestDefaultRetryDeciderUnavailableRetriesNextNodeOnce(t *testing.T) {
	d := NewDefaultRetryPolicy().NewRetryDecider()
	ri := RetryInfo{
		Error: &RequestAttemptError{Db: &response.CodedError{Code: response.ErrUnavailable}},
	}

	if got := d.Decide(ri); got != RetryNextNode {
		t.Fatalf("first unavailable: got %v, want RetryNextNode", got)
	}
	if got := d.Decide(ri); got != DontRetry {
		t.Fatalf("second unavailable: got %v, want DontRetry", got)
	}
}

func TestDefaultRetryDeciderReadTimeoutGatedOnReceivedAndDataPresent(t *testing.T) {
	d := NewDefaultRetryPolicy().NewRetryDecider()
	eligible := RetryInfo{
		Error: &RequestAttemptError{Db: &response.CodedError{
			Code: response.ErrReadTimeout, Received: 2, BlockFor: 2, DataPresent: false,
		}},
	}
	if got := d.Decide(eligible); got != RetrySameNode {
		t.Fatalf("received>=blockFor, no data: got %v, want RetrySameNode", got)
	}
	if got := d.Decide(eligible); got != DontRetry {
		t.Fatalf("same-node budget exhausted: got %v, want DontRetry", got)
	}

	d2 := NewDefaultRetryPolicy().NewRetryDecider()
	notEnoughReplicas := RetryInfo{
		Error: &RequestAttemptError{Db: &response.CodedError{
			Code: response.ErrReadTimeout, Received: 1, BlockFor: 2, DataPresent: false,
		}},
	}
	if got := d2.Decide(notEnoughReplicas); got != DontRetry {
		t.Fatalf("received<blockFor: got %v, want DontRetry", got)
	}

	d3 := NewDefaultRetryPolicy().NewRetryDecider()
	dataAlreadyPresent := RetryInfo{
		Error: &RequestAttemptError{Db: &response.CodedError{
			Code: response.ErrReadTimeout, Received: 2, BlockFor: 2, DataPresent: true,
		}},
	}
	if got := d3.Decide(dataAlreadyPresent); got != DontRetry {
		t.Fatalf("data_present=true: got %v, want DontRetry", got)
	}
}

func TestDefaultRetryDeciderWriteTimeoutOnlyBatchLogRetries(t *testing.T) {
	d := NewDefaultRetryPolicy().NewRetryDecider()
	ri := RetryInfo{
		Error:      &RequestAttemptError{Db: &response.CodedError{Code: response.ErrWriteTimeout}},
		Idempotent: false,
	}
	if got := d.Decide(ri); got != DontRetry {
		t.Fatalf("non-idempotent write timeout: got %v, want DontRetry", got)
	}

	d2 := NewDefaultRetryPolicy().NewRetryDecider()
	ri2 := RetryInfo{
		Error:      &RequestAttemptError{Db: &response.CodedError{Code: response.ErrWriteTimeout}},
		Idempotent: true,
	}
	if got := d2.Decide(ri2); got != DontRetry {
		t.Fatalf("idempotent non-batchlog write timeout: got %v, want DontRetry", got)
	}

	d3 := NewDefaultRetryPolicy().NewRetryDecider()
	ri3 := RetryInfo{
		Error:      &RequestAttemptError{Db: &response.CodedError{Code: response.ErrWriteTimeout, WriteType: frame.WriteTypeBatchLog}},
		Idempotent: false,
	}
	if got := d3.Decide(ri3); got != RetrySameNode {
		t.Fatalf("batchlog write timeout: got %v, want RetrySameNode", got)
	}
}

func TestDefaultRetryDeciderTransportFailureGoesNextNode(t *testing.T) {
	d := NewDefaultRetryPolicy().NewRetryDecider()
	ri := RetryInfo{Error: &IoError{Err: nil}}
	if got := d.Decide(ri); got != RetryNextNode {
		t.Fatalf("transport-level failure: got %v, want RetryNextNode", got)
	}
}

func TestDefaultRetryDeciderReset(t *testing.T) {
	d := NewDefaultRetryPolicy().NewRetryDecider()
	ri := RetryInfo{Error: &RequestAttemptError{Db: &response.CodedError{Code: response.ErrUnavailable}}}
	d.Decide(ri)
	d.Decide(ri) // now exhausted the next-node budget
	d.Reset()
	if got := d.Decide(ri); got != RetryNextNode {
		t.Fatalf("after Reset: got %v, want RetryNextNode", got)
	}
}

func TestDefaultRetryDeciderDeadlineExceededNeverRetries(t *testing.T) {
	d := NewDefaultRetryPolicy().NewRetryDecider()
	if got := d.Decide(RetryInfo{Error: context.DeadlineExceeded}); got != DontRetry {
		t.Fatalf("deadline exceeded: got %v, want DontRetry", got)
	}
	if got := d.Decide(RetryInfo{Error: context.Canceled}); got != DontRetry {
		t.Fatalf("canceled: got %v, want DontRetry", got)
	}
}

func TestDefaultRetryDeciderUnpreparedRetriesSameNodeThenNextNode(t *testing.T) {
	d := NewDefaultRetryPolicy().NewRetryDecider()
	ri := RetryInfo{Error: &RequestAttemptError{Db: &response.CodedError{Code: response.ErrUnprepared}}}

	if got := d.Decide(ri); got != RetrySameNode {
		t.Fatalf("first unprepared: got %v, want RetrySameNode", got)
	}
	if got := d.Decide(ri); got != RetryNextNode {
		t.Fatalf("second unprepared: got %v, want RetryNextNode", got)
	}
}
