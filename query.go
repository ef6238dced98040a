package scylla

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scylladb/scylla-go-driver/frame"
	"github.com/scylladb/scylla-go-driver/frame/response"
	"github.com/scylladb/scylla-go-driver/transport"
)

// asRequestTimeout turns a deadline expiry into the typed RequestTimeout
// error callers can distinguish from a caller-initiated cancellation
// (spec §4.H item 6).
func asRequestTimeout(err error, start time.Time) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &transport.RequestTimeout{Elapsed: time.Since(start)}
	}
	return err
}

// isUnprepared reports whether err is a server UNPREPARED response, and
// returns it so the caller can reprepare and re-execute (spec §4.H.4).
func isUnprepared(err error) (*transport.RequestAttemptError, bool) {
	ae, ok := err.(*transport.RequestAttemptError)
	if ok && ae.Db != nil && ae.Db.Code == response.ErrUnprepared {
		return ae, true
	}
	return nil, false
}

// reprepareOnConn reissues PREPARE for stmt.Content on the same
// connection that returned UNPREPARED, and checks the returned id still
// matches the cached one. A mismatch means the statement's meaning
// changed server-side (e.g. a dropped and recreated table) and is fatal
// for this statement, not just this attempt (spec §4.H.4).
func reprepareOnConn(ctx context.Context, conn *transport.Conn, stmt *transport.Statement) error {
	prepared, err := conn.Prepare(ctx, *stmt)
	if err != nil {
		return err
	}
	if !bytes.Equal(prepared.ID, stmt.ID) {
		return &transport.RepreparedIdChangedError{Statement: stmt.Content, Old: stmt.ID, New: prepared.ID}
	}
	*stmt = prepared
	return nil
}

// Query is a single statement bound to a Session, ready to execute
// (spec §3 Query/§4.H). It is not safe for concurrent use: bind values,
// then Exec or Iter it, same as a prepared statement handle in any CQL
// driver.
type Query struct {
	session *Session
	stmt    transport.Statement
	buf     frame.Buffer

	pageState []byte
	err       []error
}

// Prepare sends a PREPARE for this statement (idempotent: repeated
// calls return the cached statement without contacting the cluster,
// spec §4.H prepared-statement cache).
func (q *Query) Prepare(ctx context.Context) error {
	stmt, err := q.session.prepareStatement(ctx, q.stmt)
	if err != nil {
		return err
	}
	q.stmt = stmt
	return nil
}

// Result is one page of rows plus paging continuation state.
type Result transport.QueryResult

// Exec runs the statement to completion, retrying per the session's
// RetryPolicy and trying successive candidate nodes from the
// HostSelectionPolicy until one succeeds or candidates are exhausted.
// If the session has a SpeculativeExecutionPolicy configured, additional
// attempts race against later candidate nodes (spec §4.G, §4.H).
func (q *Query) Exec(ctx context.Context) (Result, error) {
	if len(q.err) != 0 {
		return Result{}, fmt.Errorf("query can't be executed: %v", q.err)
	}

	info, err := q.info()
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	ctx, cancel := q.session.deadlineCtx(ctx)
	defer cancel()

	spec := q.session.cfg.SpeculativeExecution
	if spec.MaxExtraAttempts <= 0 {
		res, err := q.attempt(ctx, info, 0)
		return res, asRequestTimeout(err, start)
	}
	res, err := q.execSpeculative(ctx, info, spec)
	return res, asRequestTimeout(err, start)
}

// attempt runs the node/same-node retry loop starting at candidate index
// from, until one succeeds or the HostSelectionPolicy has no candidate
// left to offer (spec §4.G, §4.H). It carries no deadline of its own;
// ctx bounds it.
func (q *Query) attempt(ctx context.Context, info transport.QueryInfo, from int) (Result, error) {
	var rd transport.RetryDecider
	var lastErr error
	policy := q.session.cfg.HostSelectionPolicy
	n := policy.Node(info, from)
	for i := from; n != nil; {
	sameNodeRetries:
		for {
			conn, err := n.Conn(info)
			if err != nil {
				lastErr = err
				break sameNodeRetries
			}

			res, err := conn.Query(ctx, q.stmt, q.pageState)
			if err == nil {
				return Result(res), nil
			}

			if rd == nil {
				rd = q.session.cfg.RetryPolicy.NewRetryDecider()
			}
			ri := transport.RetryInfo{Error: err, Idempotent: q.stmt.Idempotent, Consistency: q.stmt.Consistency}
			switch rd.Decide(ri) {
			case transport.RetrySameNode:
				if _, ok := isUnprepared(err); ok {
					if rerr := reprepareOnConn(ctx, conn, &q.stmt); rerr != nil {
						return Result{}, rerr
					}
				}
				continue sameNodeRetries
			case transport.RetryNextNode:
				lastErr = err
				break sameNodeRetries
			case transport.DontRetry:
				return Result{}, err
			}
		}

		i++
		n = policy.Node(info, i)
	}

	if lastErr == nil {
		return Result{}, fmt.Errorf("no connection to execute the query on")
	}
	return Result{}, lastErr
}

type speculativeResult struct {
	res Result
	err error
}

// execSpeculative races up to spec.MaxExtraAttempts+1 attempts, each
// starting from a later candidate node than the last, firing the next
// one spec.Delay after the previous if nothing has finished yet. The
// first success wins; every other attempt's context is cancelled, which
// turns its in-flight stream into an orphan on whatever connection it
// was using (spec §4.G).
func (q *Query) execSpeculative(ctx context.Context, info transport.QueryInfo, spec transport.SpeculativeExecutionPolicy) (Result, error) {
	total := spec.MaxExtraAttempts + 1
	resultCh := make(chan speculativeResult, total)

	attemptCtx, cancelAll := context.WithCancel(ctx)
	defer cancelAll()

	fire := func(from int) {
		res, err := q.attempt(attemptCtx, info, from)
		resultCh <- speculativeResult{res: res, err: err}
	}

	go fire(0)
	fired := 1

	timer := time.NewTimer(spec.Delay)
	defer timer.Stop()

	var lastErr error
	done := 0
	for done < total {
		select {
		case r := <-resultCh:
			if r.err == nil {
				return r.res, nil
			}
			lastErr = r.err
			done++
		case <-timer.C:
			if fired < total {
				go fire(fired)
				fired++
				if fired < total {
					timer.Reset(spec.Delay)
				}
			}
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	return Result{}, lastErr
}

// token computes the statement's partition-key token from its bound
// values, following the composite-key encoding native drivers use for
// the compound primary key case (each component as [short length][bytes][0]).
func (q *Query) token() (transport.Token, bool) {
	if q.stmt.PkCnt == 0 {
		return 0, false
	}

	if q.stmt.PkCnt == 1 {
		return transport.MurmurToken(q.stmt.Values[q.stmt.PkIndexes[0]].Bytes), true
	}

	q.buf.Reset()
	for _, idx := range q.stmt.PkIndexes {
		v := q.stmt.Values[idx]
		q.buf.WriteShort(frame.Short(len(v.Bytes)))
		q.buf.Write(v.Bytes)
		q.buf.WriteByte(0)
	}
	return transport.MurmurToken(q.buf.Bytes()), true
}

func (q *Query) info() (transport.QueryInfo, error) {
	if token, tokenAware := q.token(); tokenAware {
		// TODO: support routing against a keyspace other than the
		// session's default once per-statement keyspace overrides exist.
		return transport.NewTokenAwareQueryInfo(token, "", q.stmt.Consistency), nil
	}
	return transport.NewQueryInfo(q.stmt.Consistency), nil
}

func (q *Query) checkBounds(pos int) error {
	if pos < 0 {
		return fmt.Errorf("bind position %d is negative", pos)
	}
	for i := len(q.stmt.Values); i <= pos; i++ {
		q.stmt.Values = append(q.stmt.Values, frame.Value{})
	}
	return nil
}

// BindInt64 binds a bigint value at the given marker position.
func (q *Query) BindInt64(pos int, v int64) *Query {
	if err := q.checkBounds(pos); err != nil {
		q.err = append(q.err, err)
		return q
	}
	p := &q.stmt.Values[pos]
	p.Bytes = make([]byte, 8)
	for i := 0; i < 8; i++ {
		p.Bytes[7-i] = byte(v >> (8 * i))
	}
	p.N = 8
	return q
}

// BindString binds a text/varchar/ascii value at the given marker position.
func (q *Query) BindString(pos int, v string) *Query {
	if err := q.checkBounds(pos); err != nil {
		q.err = append(q.err, err)
		return q
	}
	p := &q.stmt.Values[pos]
	p.Bytes = []byte(v)
	p.N = int32(len(p.Bytes))
	return q
}

// BindBytes binds a raw blob value at the given marker position.
func (q *Query) BindBytes(pos int, v []byte) *Query {
	if err := q.checkBounds(pos); err != nil {
		q.err = append(q.err, err)
		return q
	}
	p := &q.stmt.Values[pos]
	p.Bytes = v
	p.N = int32(len(v))
	return q
}

func (q *Query) SetSerialConsistency(v frame.Consistency) *Query {
	q.stmt.SerialConsistency = v
	return q
}

func (q *Query) SerialConsistency() frame.Consistency { return q.stmt.SerialConsistency }

func (q *Query) SetPageState(v []byte) *Query {
	q.pageState = v
	return q
}

func (q *Query) PageState() []byte { return q.pageState }

func (q *Query) SetPageSize(v int32) *Query {
	q.stmt.PageSize = v
	return q
}

func (q *Query) PageSize() int32 { return q.stmt.PageSize }

func (q *Query) SetCompression(v bool) *Query {
	q.stmt.Compression = v
	return q
}

func (q *Query) Compression() bool { return q.stmt.Compression }

func (q *Query) SetIdempotent(v bool) *Query {
	q.stmt.Idempotent = v
	return q
}

func (q *Query) Idempotent() bool { return q.stmt.Idempotent }

func (q *Query) NoSkipMetadata() *Query {
	q.stmt.NoSkipMetadata = true
	return q
}

var (
	ErrClosedIter = fmt.Errorf("iter is closed")
	ErrNoMoreRows = fmt.Errorf("no more rows left")
)

// Iter drives server-side paging: Next returns one row at a time,
// transparently fetching the next page when the current one is
// exhausted (spec §4.H paging).
type Iter struct {
	result transport.QueryResult
	pos    int
	rowCnt int

	requestCh chan struct{}
	nextCh    chan transport.QueryResult
	errCh     chan error
	closed    bool

	meta *frame.ResultMetadata
	err  error
}

// Iter starts a paging worker goroutine and returns an Iter over the
// statement's rows (spec §4.H).
func (q *Query) Iter(ctx context.Context) Iter {
	stmt := q.stmt.Clone()

	var pageState []byte
	if q.pageState != nil {
		pageState = append([]byte(nil), q.pageState...)
	}

	it := Iter{
		requestCh: make(chan struct{}, 1),
		nextCh:    make(chan transport.QueryResult),
		errCh:     make(chan error, 1),
		meta:      stmt.Metadata,
	}

	info, err := q.info()
	if err != nil {
		it.errCh <- err
		return it
	}

	worker := iterWorker{
		stmt:        stmt,
		rd:          q.session.cfg.RetryPolicy.NewRetryDecider(),
		deadlineCtx: q.session.deadlineCtx,
		queryInfo:   info,
		pickNode:    q.session.cfg.HostSelectionPolicy.Node,

		requestCh: it.requestCh,
		nextCh:    it.nextCh,
		errCh:     it.errCh,

		pagingState: pageState,
	}

	it.requestCh <- struct{}{}
	go worker.loop(ctx)
	return it
}

func (it *Iter) Next() (frame.Row, error) {
	if it.closed {
		return nil, nil
	}

	if it.pos >= it.rowCnt {
		select {
		case r := <-it.nextCh:
			it.result = r
		case err := <-it.errCh:
			if !errors.Is(err, ErrNoMoreRows) {
				it.err = err
			}
			return nil, it.Close()
		}

		it.pos = 0
		it.rowCnt = len(it.result.Rows)
		it.requestCh <- struct{}{}
	}

	if it.rowCnt == 0 {
		return it.Next()
	}

	res := it.result.Rows[it.pos]
	it.pos++
	return res, nil
}

func (it *Iter) Close() error {
	if it.closed {
		return it.err
	}
	it.closed = true
	close(it.requestCh)
	return it.err
}

func (it *Iter) Columns() []frame.ColumnSpec {
	if it.meta == nil {
		return nil
	}
	return it.meta.Columns
}

func (it *Iter) NumRows() int { return it.rowCnt }

func (it *Iter) PageState() []byte { return it.result.PagingState }

type iterWorker struct {
	stmt        transport.Statement
	pagingState []byte

	queryInfo transport.QueryInfo
	pickNode  func(transport.QueryInfo, int) *transport.Node
	nodeIdx   int
	conn      *transport.Conn
	connErr   error

	rd         transport.RetryDecider
	deadlineCtx func(context.Context) (context.Context, context.CancelFunc)

	requestCh chan struct{}
	nextCh    chan transport.QueryResult
	errCh     chan error
}

func (w *iterWorker) loop(ctx context.Context) {
	n := w.pickNode(w.queryInfo, 0)
	if n == nil {
		w.errCh <- fmt.Errorf("can't pick a node to execute request")
		return
	}
	w.conn, w.connErr = n.Conn(w.queryInfo)

	for {
		if _, ok := <-w.requestCh; !ok {
			return
		}

		res, err := w.exec(ctx)
		if err != nil {
			w.errCh <- err
			return
		}

		w.pagingState = res.PagingState
		w.nextCh <- res
		if !res.HasMorePages {
			w.errCh <- ErrNoMoreRows
			return
		}
	}
}

func (w *iterWorker) exec(ctx context.Context) (transport.QueryResult, error) {
	start := time.Now()
	ctx, cancel := w.deadlineCtx(ctx)
	defer cancel()

	w.rd.Reset()
	var lastErr error
	for {
	sameNodeRetries:
		for {
			if w.connErr != nil {
				lastErr = w.connErr
				break sameNodeRetries
			}

			res, err := w.conn.Query(ctx, w.stmt, w.pagingState)
			if err == nil {
				return res, nil
			}

			ri := transport.RetryInfo{Error: err, Idempotent: w.stmt.Idempotent, Consistency: w.stmt.Consistency}
			switch w.rd.Decide(ri) {
			case transport.RetrySameNode:
				if _, ok := isUnprepared(err); ok {
					if rerr := reprepareOnConn(ctx, w.conn, &w.stmt); rerr != nil {
						return transport.QueryResult{}, rerr
					}
				}
				continue sameNodeRetries
			case transport.RetryNextNode:
				lastErr = err
				break sameNodeRetries
			case transport.DontRetry:
				return transport.QueryResult{}, asRequestTimeout(err, start)
			}
		}

		w.nodeIdx++
		n := w.pickNode(w.queryInfo, w.nodeIdx)
		if n == nil {
			if lastErr == nil {
				return transport.QueryResult{}, fmt.Errorf("no connection to execute the query on")
			}
			return transport.QueryResult{}, asRequestTimeout(lastErr, start)
		}
		w.conn, w.connErr = n.Conn(w.queryInfo)
	}
}
