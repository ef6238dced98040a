package transport

import (
	"context"
	"fmt"

	"github.com/scylladb/scylla-go-driver/frame"
	"go.uber.org/atomic"
)

type nodeStatus = atomic.Bool

const (
	statusDown = false
	statusUP   = true
)

// NodeAddr carries the address to dial and a Translatable flag for its
// provenance (server-advertised vs. original contact point). This
// package has no address translator: the flag is not consulted, and
// Cluster records every node address with Translatable false.
type NodeAddr struct {
	Addr         string
	Translatable bool
}

// Sharder describes a Scylla node's shard layout (spec §3). A nil
// Sharder on a Node means the server is not shard-aware: the pool
// degrades to a single-shard pool.
type Sharder struct {
	NrShards      uint16
	MsbIgnoreBits uint8
	Partitioner   string
}

// ShardOf computes the shard owning token using Scylla's biased-token
// scheme: bias the signed token into an unsigned, monotonically
// increasing range, clear the bits the server ignores for load
// balancing, then take the high bits of a 128-bit multiply by nr_shards
// (spec §3 Sharder).
func (s Sharder) ShardOf(token Token) uint16 {
	if s.NrShards == 0 {
		return 0
	}
	biased := uint64(token) + (uint64(1) << 63)
	biased <<= s.MsbIgnoreBits
	hi, _ := mul64(biased, uint64(s.NrShards))
	return uint16(hi)
}

func mul64(a, b uint64) (hi, lo uint64) {
	const mask32 = (1 << 32) - 1
	aLo, aHi := a&mask32, a>>32
	bLo, bHi := b&mask32, b>>32

	t := aLo * bLo
	w0 := t & mask32
	k := t >> 32

	t = aHi*bLo + k
	w1 := t & mask32
	w2 := t >> 32

	t = aLo*bHi + w1
	k = t >> 32

	hi = aHi*bHi + w2 + k
	lo = (t << 32) + w0
	return
}

// ShardPortIterator returns a function yielding successive local ports
// congruent to shard modulo nr_shards, drawn from the configured
// ephemeral range, used to dial a shard-aware port onto a chosen shard
// (spec §4.C).
func ShardPortIterator(s Sharder, shard uint16, pr PortRange) func() (uint16, bool) {
	nr := uint32(s.NrShards)
	if nr == 0 {
		nr = 1
	}
	// First candidate port p >= pr.Min with p % nr == shard.
	start := uint32(pr.Min)
	rem := start % nr
	want := uint32(shard) % nr
	if rem != want {
		if want > rem {
			start += want - rem
		} else {
			start += nr - (rem - want)
		}
	}
	next := start
	return func() (uint16, bool) {
		if next > uint32(pr.Max) {
			return 0, false
		}
		p := uint16(next)
		next += nr
		return p, true
	}
}

// Node is a single cluster member, uniquely identified by HostID (spec
// §3). Cluster keys nodes by HostID across refreshes and reuses the same
// *Node, with its pool, for a known HostID; a changed address reported
// for a known HostID is not applied to that node or its pool.
type Node struct {
	HostID     frame.UUID
	Addr       NodeAddr
	Datacenter string
	Rack       string
	Sharder    *Sharder

	pool   *ConnPool
	status nodeStatus
	log    *internalLogger
}

func (n *Node) String() string {
	return fmt.Sprintf("%s(%s)", n.Addr.Addr, n.HostID)
}

func (n *Node) IsUp() bool {
	return n.status.Load()
}

func (n *Node) setStatus(v bool) {
	n.status.Store(v)
}

// Init lazily creates the node's connection pool. Calling Init on a
// node that already has a pool is a no-op.
func (n *Node) Init(ctx context.Context, cfg ConnConfig) {
	if n.pool != nil {
		return
	}
	if n.log == nil {
		n.log = newInternalLogger(cfg.Logger)
	}
	pool, err := NewConnPool(ctx, n.Addr.Addr, n.Sharder, cfg, n.log)
	if err != nil {
		n.log.connEvent(n.Addr.Addr, -1, "pool_init_failed", err)
		n.setStatus(statusDown)
		return
	}
	n.pool = pool
	n.setStatus(statusUP)
}

func (n *Node) Close() {
	if n.pool != nil {
		n.pool.Close()
	}
	n.setStatus(statusDown)
}

func (n *Node) LeastBusyConn() (*Conn, error) {
	if !n.IsUp() || n.pool == nil {
		return nil, fmt.Errorf("node %v is down", n)
	}
	return n.pool.LeastBusyConn()
}

// Conn picks a connection for the request, preferring the shard the
// token maps to when the request carries routing info (spec §4.D-§4.F).
func (n *Node) Conn(qi QueryInfo) (*Conn, error) {
	if !n.IsUp() || n.pool == nil {
		return nil, fmt.Errorf("node %v is down", n)
	}
	if qi.tokenAware && n.Sharder != nil {
		shard := n.Sharder.ShardOf(qi.token)
		return n.pool.ConnForShard(shard)
	}
	return n.LeastBusyConn()
}

// IsConnected is the pool-level predicate: at least one open connection
// across all shards (spec §4.C).
func (n *Node) IsConnected() bool {
	return n.pool != nil && n.pool.IsConnected()
}

func (n *Node) Prepare(ctx context.Context, s Statement) (Statement, error) {
	conn, err := n.LeastBusyConn()
	if err != nil {
		return Statement{}, err
	}
	return conn.Prepare(ctx, s)
}

var versionQuery = Statement{
	Content:     "SELECT schema_version FROM system.local WHERE key='local'",
	Consistency: frame.ONE,
}

// FetchSchemaVersion reads this node's schema_version from system.local.
// No schema-agreement poll in this package calls it.
func (n *Node) FetchSchemaVersion(ctx context.Context) (frame.UUID, error) {
	conn, err := n.LeastBusyConn()
	if err != nil {
		return frame.Nil, err
	}

	res, err := conn.Query(ctx, versionQuery, nil)
	if err != nil {
		return frame.Nil, err
	}
	if len(res.Rows) < 1 || len(res.Rows[0]) < 1 {
		return frame.Nil, fmt.Errorf("schema_version query returned no rows")
	}

	version, err := res.Rows[0][0].AsUUID()
	if err != nil {
		return version, fmt.Errorf("parsing schema_version: %w", err)
	}
	return version, nil
}

// RingEntry is one token's owner plus the replica lists precomputed for
// it by the replication strategy (spec §4.D).
type RingEntry struct {
	node           *Node
	token          Token
	localReplicas  []*Node
	remoteReplicas []*Node
}

func (r RingEntry) Less(i RingEntry) bool {
	return r.token < i.token
}

type Ring []RingEntry

func (r Ring) Less(i, j int) bool { return r[i].token < r[j].token }
func (r Ring) Len() int           { return len(r) }
func (r Ring) Swap(i, j int)      { r[i], r[j] = r[j], r[i] }

// replicaIter walks the ring starting at an offset, wrapping once.
type replicaIter struct {
	ring    Ring
	offset  int
	fetched int
}

func (r *replicaIter) Next() *Node {
	if r.fetched >= len(r.ring) {
		return nil
	}

	ret := r.ring[r.offset].node
	r.offset++
	r.fetched++
	if r.offset >= len(r.ring) {
		r.offset = 0
	}

	return ret
}

// tokenLowerBound returns the position of the first entry with token >=
// the given token, wrapping to 0 if there wasn't one (spec §4.D: "the
// first token >= key's token, wrapping").
func (r Ring) tokenLowerBound(token Token) int {
	start, end := 0, len(r)
	for start < end {
		mid := int(uint(start+end) >> 1)
		if r[mid].token < token {
			start = mid + 1
		} else {
			end = mid
		}
	}

	if end >= len(r) {
		end = 0
	}

	return end
}
