package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/scylladb/scylla-go-driver/frame"
	"github.com/scylladb/scylla-go-driver/frame/request"
	"github.com/scylladb/scylla-go-driver/transport"
)

// Batch groups several statements into one BATCH request (spec §3).
// Children are validated against request.MaxBatchChildren only at Exec
// time, so building one up with repeated Append calls never fails early.
type Batch struct {
	session     *Session
	typ         request.BatchType
	children    []request.BatchChild
	consistency frame.Consistency
}

// NewBatch starts an empty batch of the given type (logged, unlogged,
// or counter) at the session's default consistency.
func (s *Session) NewBatch(typ request.BatchType) Batch {
	return Batch{session: s, typ: typ, consistency: s.cfg.DefaultConsistency}
}

// Append adds an unprepared statement with bound values to the batch.
func (b *Batch) Append(content string, values ...frame.Value) *Batch {
	b.children = append(b.children, request.BatchChild{Query: content, Values: values})
	return b
}

// AppendPrepared adds a statement previously returned by Session.Prepare.
func (b *Batch) AppendPrepared(stmt transport.Statement, values ...frame.Value) *Batch {
	b.children = append(b.children, request.BatchChild{ID: stmt.ID, Values: values})
	return b
}

func (b *Batch) SetConsistency(c frame.Consistency) *Batch {
	b.consistency = c
	return b
}

// Exec sends the batch, retrying per the session's RetryPolicy and
// trying successive candidate nodes the same way Query.Exec does (spec
// §4.G/§4.H). Batches are routed round robin: a batch's children may
// target different partitions, so no single token applies.
func (b *Batch) Exec(ctx context.Context) error {
	if len(b.children) > request.MaxBatchChildren {
		return &transport.BadQuery{Reason: fmt.Sprintf("batch has %d children, max is %d", len(b.children), request.MaxBatchChildren)}
	}
	if len(b.children) == 0 {
		return &transport.BadQuery{Reason: "batch has no children"}
	}

	start := time.Now()
	ctx, cancel := b.session.deadlineCtx(ctx)
	defer cancel()

	info := transport.NewQueryInfo(b.consistency)
	policy := b.session.cfg.HostSelectionPolicy
	var rd transport.RetryDecider
	var lastErr error

	n := policy.Node(info, 0)
	for i := 0; n != nil; {
	sameNodeRetries:
		for {
			conn, err := n.Conn(info)
			if err != nil {
				lastErr = err
				break sameNodeRetries
			}

			err = conn.Batch(ctx, b.children, b.typ, b.consistency)
			if err == nil {
				return nil
			}

			if rd == nil {
				rd = b.session.cfg.RetryPolicy.NewRetryDecider()
			}
			ri := transport.RetryInfo{Error: err, Idempotent: false, Consistency: b.consistency}
			switch rd.Decide(ri) {
			case transport.RetrySameNode:
				continue sameNodeRetries
			case transport.RetryNextNode:
				lastErr = err
				break sameNodeRetries
			case transport.DontRetry:
				return asRequestTimeout(err, start)
			}
		}

		i++
		n = policy.Node(info, i)
	}

	if lastErr == nil {
		return fmt.Errorf("no connection to execute the batch on")
	}
	return asRequestTimeout(lastErr, start)
}
