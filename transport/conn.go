package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/scylladb/scylla-go-driver/frame"
	"github.com/scylladb/scylla-go-driver/frame/request"
	"github.com/scylladb/scylla-go-driver/frame/response"
)

// AuthenticatorProvider answers the AUTHENTICATE challenge during the
// connection handshake (spec §4.A). A nil provider on a server that
// requests authentication fails the handshake.
type AuthenticatorProvider interface {
	InitialResponse(authenticator string) ([]byte, error)
	EvaluateChallenge(token []byte) ([]byte, error)
}

// PasswordAuthenticator implements org.apache.cassandra.auth.PasswordAuthenticator.
type PasswordAuthenticator struct {
	Username, Password string
}

func (p PasswordAuthenticator) InitialResponse(_ string) ([]byte, error) {
	return append([]byte{0}, append([]byte(p.Username), append([]byte{0}, p.Password...)...)...), nil
}

func (PasswordAuthenticator) EvaluateChallenge(_ []byte) ([]byte, error) {
	return nil, fmt.Errorf("transport: unexpected AUTH_CHALLENGE for password authenticator")
}

type response_ struct {
	frame.Header
	frame.Response
	Err error
}

type responseHandler chan response_

type outgoing struct {
	frame.Request
	StreamID        frame.StreamID
	Compress        bool
	ResponseHandler responseHandler
}

// connWriter owns the socket's write side and coalesces requests queued
// within a short window into a single syscall, trading a few hundred
// microseconds of latency for far fewer writes under load (spec §4.B).
type connWriter struct {
	conn      io.Writer
	buf       frame.Buffer
	requestCh chan outgoing
	flushCh   chan struct{}
	delay     WriteCoalescingDelay
	enabled   bool
	compress  frame.Compression
	done      chan struct{}
}

func (c *connWriter) submit(r outgoing) {
	select {
	case c.requestCh <- r:
	case <-c.done:
		r.ResponseHandler <- response_{Err: fmt.Errorf("transport: connection closed")}
	}
}

func (c *connWriter) coalesceDelay() time.Duration {
	if c.delay.Kind == FixedMillis {
		return c.delay.Millis
	}
	return time.Duration(50+rand.Intn(150)) * time.Microsecond
}

func (c *connWriter) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var pending []outgoing
	var timer *time.Timer
	for {
		if timer == nil {
			select {
			case r, ok := <-c.requestCh:
				if !ok {
					return
				}
				pending = append(pending, r)
				if c.enabled {
					timer = time.NewTimer(c.coalesceDelay())
				}
			case <-c.done:
				return
			}
		} else {
			select {
			case r, ok := <-c.requestCh:
				if !ok {
					c.flush(pending)
					return
				}
				pending = append(pending, r)
			case <-timer.C:
				timer = nil
				c.flush(pending)
				pending = nil
			case <-c.done:
				return
			}
		}
		if !c.enabled && len(pending) > 0 {
			c.flush(pending)
			pending = nil
		}
	}
}

func (c *connWriter) flush(batch []outgoing) {
	c.buf.Reset()
	for _, r := range batch {
		c.encode(r)
	}
	if _, err := frame.CopyBuffer(&c.buf, c.conn); err != nil {
		for _, r := range batch {
			r.ResponseHandler <- response_{Err: fmt.Errorf("send: %w", err)}
		}
	}
}

func (c *connWriter) encode(r outgoing) {
	h := frame.Header{
		Version:  frame.CQLv4,
		StreamID: r.StreamID,
		OpCode:   r.OpCode(),
	}
	if r.Compress {
		h.Flags |= frame.FlagCompression
	}

	var body frame.Buffer
	r.WriteTo(&body)
	payload := body.Bytes()
	if r.Compress && c.compress != frame.CompressionNone {
		if compressed, err := frame.CompressBody(c.compress, payload); err == nil {
			payload = compressed
		}
	}

	headerOff := len(c.buf.Bytes())
	h.WriteTo(&c.buf)
	c.buf.Write(payload)

	raw := c.buf.Bytes()
	binary.BigEndian.PutUint32(raw[headerOff+5:headerOff+9], uint32(len(payload)))
}

// connReader owns the socket's read side: one goroutine, demultiplexing
// responses by stream id to whichever goroutine is waiting (spec §4.B).
type connReader struct {
	conn *bufio.Reader
	buf  frame.Buffer
	bufw io.Writer

	h map[frame.StreamID]responseHandler
	s streamIDAllocator
	// mu guards h, s and orphaned.
	mu sync.Mutex

	addr     string
	orphaned map[frame.StreamID]bool
	events    chan *response.Event
	onBroken  func(error)
	decompress frame.Compression
}

// maxOrphanedStreams bounds how many abandoned-but-unreplied streams a
// connection tolerates before it is declared Broken (spec §4.B
// TooManyOrphanedStreamIds): past this, a slow or stuck coordinator is
// leaking memory one forgotten response at a time and the connection is
// no longer worth keeping.
const maxOrphanedStreams = 128

func (c *connReader) setHandler(h responseHandler) (frame.StreamID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	streamID, err := c.s.Alloc()
	if err != nil {
		return 0, fmt.Errorf("stream ID alloc: %w", err)
	}
	c.h[streamID] = h
	return streamID, err
}

// freeHandler releases a stream id. orphan marks that the caller gave up
// waiting (e.g. context cancellation) before a reply arrived: the id
// cannot be reused until the reply shows up and is silently discarded,
// so it is tracked separately for the too-many-orphans disconnect policy.
func (c *connReader) freeHandler(streamID frame.StreamID, orphan bool) {
	c.mu.Lock()
	if orphan {
		if c.orphaned == nil {
			c.orphaned = make(map[frame.StreamID]bool)
		}
		c.orphaned[streamID] = true
		tooMany := len(c.orphaned) > maxOrphanedStreams
		c.mu.Unlock()
		if tooMany {
			c.broken(&BrokenConnection{Addr: c.addr, Reason: ReasonTooManyOrphanedStreams})
		}
		return
	}
	c.s.Free(streamID)
	delete(c.h, streamID)
	c.mu.Unlock()
}

// orphanCount reports streams abandoned by their caller but not yet
// reclaimed by a late reply (spec §4.B TooManyOrphanedStreams).
func (c *connReader) orphanCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.orphaned)
}

func (c *connReader) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	c.bufw = frame.BufferWriter(&c.buf)
	for {
		resp := c.recv()
		if resp.Err != nil {
			c.broken(&BrokenConnection{Addr: c.addr, Reason: ReasonIOError})
			return
		}
		if resp.StreamID == frame.EventStreamID {
			if ev, ok := resp.Response.(*response.Event); ok && c.events != nil {
				select {
				case c.events <- ev:
				default:
				}
			}
			continue
		}

		c.mu.Lock()
		h, ok := c.h[resp.StreamID]
		if ok && c.orphaned[resp.StreamID] {
			// A late reply for an abandoned stream reclaims the id; the
			// reply itself is discarded, nobody is waiting for it.
			delete(c.orphaned, resp.StreamID)
			delete(c.h, resp.StreamID)
			c.s.Free(resp.StreamID)
			c.mu.Unlock()
			continue
		}
		c.mu.Unlock()

		if ok {
			h <- resp
		}
	}
}

func (c *connReader) broken(err error) {
	c.mu.Lock()
	handlers := make([]responseHandler, 0, len(c.h))
	for _, h := range c.h {
		handlers = append(handlers, h)
	}
	c.h = map[frame.StreamID]responseHandler{}
	c.mu.Unlock()

	for _, h := range handlers {
		h <- response_{Err: err}
	}
	if c.onBroken != nil {
		c.onBroken(err)
	}
}

func (c *connReader) recv() response_ {
	c.buf.Reset()

	var r response_

	if _, err := io.CopyN(c.bufw, c.conn, frame.HeaderSize); err != nil {
		r.Err = fmt.Errorf("read header: %w", err)
		return r
	}
	r.Header = frame.ParseHeader(&c.buf)
	if err := c.buf.Error(); err != nil {
		r.Err = fmt.Errorf("parse header: %w", err)
		return r
	}

	if _, err := io.CopyN(c.bufw, c.conn, int64(r.Header.Length)); err != nil {
		r.Err = fmt.Errorf("read body: %w", err)
		return r
	}

	body := &c.buf
	if r.Header.Flags&frame.FlagCompression != 0 && c.decompress != frame.CompressionNone {
		raw := body.Bytes()[frame.HeaderSize:]
		decompressed, err := frame.DecompressBody(c.decompress, raw)
		if err != nil {
			r.Err = fmt.Errorf("decompress body: %w", err)
			return r
		}
		var nb frame.Buffer
		nb.Write(decompressed)
		body = &nb
	}

	r.Response = response.Parse(r.Header.OpCode, body)
	if err := body.Error(); err != nil {
		r.Err = fmt.Errorf("parse body: %w", err)
		return r
	}

	return r
}

// Conn is a single multiplexed connection to one shard of one node
// (spec §4.B). All public methods are safe for concurrent use.
type Conn struct {
	conn net.Conn
	addr string
	shard int
	w    connWriter
	r    *connReader
	log  *internalLogger

	closed   chan struct{}
	closeOnce sync.Once

	brokenMu  sync.Mutex
	brokenErr error

	keepaliveStop chan struct{}
}

const (
	requestChanSize = 1024
	ioBufferSize    = 8192
)

// OpenShardConn dials addr from successive local ports congruent to
// shard modulo the sharder's shard count and returns the first
// connection that opens. The shard the server actually assigns is not
// checked, and when no candidate port yields a connection it fails with
// NoSourcePortForShard instead of dialing without a chosen port.
func OpenShardConn(ctx context.Context, addr string, sharder Sharder, shard uint16, cfg ConnConfig, log *internalLogger) (*Conn, error) {
	if cfg.DisallowShardAwarePort {
		return OpenConn(ctx, addr, nil, cfg, log)
	}
	next := ShardPortIterator(sharder, shard, cfg.ShardAwareLocalPortRange)
	var lastErr error
	for {
		port, ok := next()
		if !ok {
			break
		}
		localAddr := &net.TCPAddr{Port: int(port)}
		conn, err := OpenConn(ctx, addr, localAddr, cfg, log)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no local port available for shard %d", shard)
	}
	return nil, NoSourcePortForShard{Shard: int(shard)}.wrap(lastErr)
}

func (e NoSourcePortForShard) wrap(cause error) error {
	return fmt.Errorf("%s: %w", e.Error(), cause)
}

// OpenConn dials addr, optionally from a specific local address, then
// performs the STARTUP handshake (spec §4.A).
func OpenConn(ctx context.Context, addr string, localAddr *net.TCPAddr, cfg ConnConfig, log *internalLogger) (*Conn, error) {
	d := net.Dialer{Timeout: cfg.ConnectTimeout, LocalAddr: localAddr}
	if cfg.LocalIPAddress != "" && localAddr == nil {
		d.LocalAddr = &net.TCPAddr{IP: net.ParseIP(cfg.LocalIPAddress)}
	}

	rawConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, ConnectTimeout{Addr: addr}.wrap(err)
	}

	if tcpConn, ok := rawConn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(cfg.TCPNoDelay)
		if cfg.TCPKeepaliveInterval > 0 {
			_ = tcpConn.SetKeepAlive(true)
			_ = tcpConn.SetKeepAlivePeriod(cfg.TCPKeepaliveInterval)
		}
	}

	var conn net.Conn = rawConn
	if cfg.TLSConfig != nil {
		conn = tls.Client(rawConn, cfg.TLSConfig)
	}

	c := WrapConn(conn, addr, cfg, log)
	if err := c.handshake(ctx, cfg); err != nil {
		c.Close()
		return nil, &ConnectionSetupRequestError{Kind: "startup", Phase: "handshake", Err: err}
	}
	return c, nil
}

func (e ConnectTimeout) wrap(cause error) error {
	return fmt.Errorf("%s: %w", e.Error(), cause)
}

// WrapConn adopts an already-established net.Conn (TCP or TLS), starting
// its reader/writer goroutines, without performing the handshake.
func WrapConn(conn net.Conn, addr string, cfg ConnConfig, log *internalLogger) *Conn {
	compress := frame.CompressionNone
	switch cfg.Compression {
	case "lz4":
		compress = frame.CompressionLZ4
	case "snappy":
		compress = frame.CompressionSnappy
	}

	r := &connReader{
		conn:       bufio.NewReaderSize(conn, ioBufferSize),
		h:          make(map[frame.StreamID]responseHandler),
		s:          newStreamIDAllocator(),
		addr:       addr,
		events:     make(chan *response.Event, 64),
		decompress: compress,
	}

	c := &Conn{
		conn: conn,
		addr: addr,
		w: connWriter{
			conn:      conn,
			requestCh: make(chan outgoing, requestChanSize),
			done:      make(chan struct{}),
			enabled:   cfg.EnableWriteCoalescing,
			delay:     cfg.WriteCoalescingDelay,
			compress:  compress,
		},
		r:      r,
		log:    log,
		closed: make(chan struct{}),
	}
	r.onBroken = func(err error) {
		if c.log != nil {
			c.log.connEvent(c.addr, c.shard, "broken", err)
		}
		c.closeBroken(err)
	}

	go c.w.loop()
	go r.loop()

	if cfg.KeepaliveInterval > 0 {
		c.keepaliveStop = make(chan struct{})
		go c.keepaliveLoop(cfg.KeepaliveInterval, cfg.KeepaliveTimeout)
	}

	return c
}

func (c *Conn) keepaliveLoop(interval, timeout time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			_, err := c.sendRequest(ctx, &request.Options{}, false)
			cancel()
			if err != nil {
				if c.log != nil {
					c.log.connEvent(c.addr, c.shard, "keepalive_timeout", err)
				}
				c.closeBroken(&BrokenConnection{Addr: c.addr, Reason: ReasonKeepaliveTimeout})
				return
			}
		case <-c.keepaliveStop:
			return
		case <-c.closed:
			return
		}
	}
}

func (c *Conn) handshake(ctx context.Context, cfg ConnConfig) error {
	opts := frame.StartupOptions{
		frame.CQLVersionOption: frame.DefaultCQLVersion,
	}
	if cfg.Compression != "" {
		opts[frame.CompressionOption] = cfg.Compression
	}
	if cfg.Identity.DriverName != "" {
		opts[frame.DriverNameOption] = cfg.Identity.DriverName
	}
	if cfg.Identity.DriverVersion != "" {
		opts[frame.DriverVersionOption] = cfg.Identity.DriverVersion
	}
	if cfg.Identity.ApplicationName != "" {
		opts[frame.ApplicationName] = cfg.Identity.ApplicationName
	}
	if cfg.Identity.ApplicationVersion != "" {
		opts[frame.ApplicationVersion] = cfg.Identity.ApplicationVersion
	}
	if cfg.Identity.ClientID != "" {
		opts[frame.ClientID] = cfg.Identity.ClientID
	}

	resp, err := c.sendRequest(ctx, &request.Startup{Options: opts}, false)
	if err != nil {
		return err
	}

	switch r := resp.(type) {
	case *response.Ready:
		// Nothing further to do.
	case *response.Authenticate:
		if err := c.authenticate(ctx, cfg, r); err != nil {
			return err
		}
	default:
		return fmt.Errorf("transport: unexpected response to STARTUP: %T", resp)
	}

	if cfg.UsedKeyspace != "" {
		if err := ValidateKeyspaceName(cfg.UsedKeyspace); err != nil {
			return err
		}
		if _, err := c.Query(ctx, Statement{Content: "USE " + cfg.UsedKeyspace, Consistency: frame.ONE}, nil); err != nil {
			return err
		}
	}

	return nil
}

func (c *Conn) authenticate(ctx context.Context, cfg ConnConfig, a *response.Authenticate) error {
	var provider AuthenticatorProvider
	if cfg.Username != "" || cfg.Password != "" {
		provider = PasswordAuthenticator{Username: cfg.Username, Password: cfg.Password}
	}
	if provider == nil {
		return fmt.Errorf("transport: server requires authentication (%s) but no credentials configured", a.Authenticator)
	}

	token, err := provider.InitialResponse(a.Authenticator)
	if err != nil {
		return err
	}
	for {
		resp, err := c.sendRequest(ctx, &request.AuthResponse{Token: token}, false)
		if err != nil {
			return err
		}
		switch r := resp.(type) {
		case *response.AuthSuccess:
			return nil
		case *response.AuthChallenge:
			token, err = provider.EvaluateChallenge(r.Token)
			if err != nil {
				return err
			}
		default:
			return fmt.Errorf("transport: unexpected response during auth: %T", resp)
		}
	}
}

// Close shuts the connection and its goroutines down; safe to call more
// than once and concurrently with in-flight requests.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		close(c.w.done)
		if c.keepaliveStop != nil {
			close(c.keepaliveStop)
		}
		_ = c.conn.Close()
	})
}

// closeBroken records why the connection is being torn down, so a
// request racing the close on sendRequest's <-c.closed branch sees the
// typed reason instead of a generic "connection closed" error, then
// closes it.
func (c *Conn) closeBroken(err error) {
	c.brokenMu.Lock()
	if c.brokenErr == nil {
		c.brokenErr = err
	}
	c.brokenMu.Unlock()
	c.Close()
}

func (c *Conn) sendRequest(ctx context.Context, req frame.Request, compress bool) (frame.Response, error) {
	h := make(responseHandler, 1)

	streamID, err := c.r.setHandler(h)
	if err != nil {
		return nil, err
	}

	c.w.submit(outgoing{Request: req, StreamID: streamID, Compress: compress, ResponseHandler: h})

	select {
	case resp := <-h:
		c.r.freeHandler(streamID, false)
		return resp.Response, resp.Err
	case <-ctx.Done():
		c.r.freeHandler(streamID, true)
		return nil, ctx.Err()
	case <-c.closed:
		c.r.freeHandler(streamID, false)
		c.brokenMu.Lock()
		err := c.brokenErr
		c.brokenMu.Unlock()
		if err == nil {
			err = &BrokenConnection{Addr: c.addr, Reason: ReasonClosed}
		}
		return nil, err
	}
}

func bindParams(s Statement, pageSize int32, pagingState []byte) request.QueryParams {
	return request.QueryParams{
		Consistency:       s.Consistency,
		Values:            s.Values,
		SkipMetadata:      !s.NoSkipMetadata,
		PageSize:          pageSize,
		PagingState:       pagingState,
		SerialConsistency: s.SerialConsistency,
		HasSerialConsist:  s.SerialConsistency != 0,
	}
}

// Query sends a Statement (prepared or unprepared) and waits for its
// result (spec §4.H). pagingState, if non-nil, resumes a prior page.
func (c *Conn) Query(ctx context.Context, s Statement, pagingState []byte) (QueryResult, error) {
	var req frame.Request
	if s.ID != nil {
		req = &request.Execute{ID: s.ID, Params: bindParams(s, s.PageSize, pagingState)}
	} else {
		req = &request.Query{Query: s.Content, Params: bindParams(s, s.PageSize, pagingState)}
	}

	resp, err := c.sendRequest(ctx, req, s.Compression)
	if err != nil {
		return QueryResult{}, err
	}
	return c.toQueryResult(resp)
}

func (c *Conn) toQueryResult(resp frame.Response) (QueryResult, error) {
	switch r := resp.(type) {
	case *response.Rows:
		return QueryResult{Rows: r.Rows, Metadata: r.Metadata, PagingState: r.Metadata.PagingState, HasMorePages: r.HasMorePages}, nil
	case *response.Void, *response.SetKeyspace, *response.SchemaChange:
		return QueryResult{}, nil
	case *response.CodedError:
		return QueryResult{}, dbAttemptError(r)
	default:
		return QueryResult{}, fmt.Errorf("transport: unexpected result type %T", resp)
	}
}

// Prepare sends PREPARE and returns s with ID/PkIndexes/Metadata filled
// in (spec §4.H).
func (c *Conn) Prepare(ctx context.Context, s Statement) (Statement, error) {
	resp, err := c.sendRequest(ctx, &request.Prepare{Query: s.Content}, false)
	if err != nil {
		return Statement{}, err
	}
	switch r := resp.(type) {
	case *response.Prepared:
		out := s
		out.ID = r.ID
		out.ResultMetadataID = r.ResultMetadataID
		out.PkIndexes = r.Metadata.PKIndexes
		out.PkCnt = len(r.Metadata.PKIndexes)
		meta := r.ResultMetadata
		out.Metadata = &meta
		return out, nil
	case *response.CodedError:
		return Statement{}, dbAttemptError(r)
	default:
		return Statement{}, fmt.Errorf("transport: unexpected response to PREPARE: %T", resp)
	}
}

// Batch sends a BATCH request built from children (spec §4.H). The
// caller is responsible for enforcing MaxBatchChildren; Batch itself
// just forwards whatever it is given.
func (c *Conn) Batch(ctx context.Context, children []request.BatchChild, typ request.BatchType, consistency frame.Consistency) error {
	req := &request.Batch{Type: typ, Children: children, Consistency: consistency}
	resp, err := c.sendRequest(ctx, req, false)
	if err != nil {
		return err
	}
	_, err = c.toQueryResult(resp)
	return err
}

// Events returns the channel server-pushed EVENT frames arrive on, once
// the connection has REGISTERed for them via Register.
func (c *Conn) Events() <-chan *response.Event {
	return c.r.events
}

// Register subscribes this connection to the given event types; only
// meaningful for a control connection (spec §4.E).
func (c *Conn) Register(ctx context.Context, types frame.StringList) error {
	resp, err := c.sendRequest(ctx, &request.Register{EventTypes: types}, false)
	if err != nil {
		return err
	}
	if _, ok := resp.(*response.Ready); !ok {
		return fmt.Errorf("transport: unexpected response to REGISTER: %T", resp)
	}
	return nil
}

// OrphanCount reports streams abandoned locally (deadline/ctx cancel)
// whose reply has not yet reclaimed the id (spec §4.B).
func (c *Conn) OrphanCount() int {
	return c.r.orphanCount()
}

// FetchSupported issues OPTIONS and returns the server's advertised
// extensions, including Scylla's shard-awareness keys (spec §4.E).
func (c *Conn) FetchSupported(ctx context.Context) (*response.Supported, error) {
	resp, err := c.sendRequest(ctx, &request.Options{}, false)
	if err != nil {
		return nil, err
	}
	s, ok := resp.(*response.Supported)
	if !ok {
		return nil, fmt.Errorf("transport: unexpected response to OPTIONS: %T", resp)
	}
	return s, nil
}
