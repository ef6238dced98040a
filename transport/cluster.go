package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scylladb/scylla-go-driver/frame"
	"github.com/scylladb/scylla-go-driver/frame/response"
)

// Cluster owns the control connection, the current topology/token-ring
// snapshot, and the load-balancing policy that snapshot feeds (spec §4.E).
// State is published by atomically swapping a single *ClusterState
// pointer (spec §9): readers never block on a refresh in progress.
type Cluster struct {
	cfg    ConnConfig
	policy HostSelectionPolicy

	state   atomic.Value // *ClusterState
	nodesMu sync.Mutex
	nodes   map[frame.UUID]*Node // by HostID, across refreshes

	control   atomic.Value // *Conn, the current control connection
	events    []string
	refreshCh chan struct{}

	closed chan struct{}
	wg     sync.WaitGroup

	log *internalLogger
}

// NewCluster dials the given contact points, elects a control
// connection, fetches the initial topology, and starts the background
// refresh loop (spec §4.E).
func NewCluster(ctx context.Context, cfg ConnConfig, policy HostSelectionPolicy, events []string, hosts ...string) (*Cluster, error) {
	if len(hosts) == 0 {
		return nil, fmt.Errorf("transport: NewCluster requires at least one contact point")
	}
	log := newInternalLogger(cfg.Logger)
	checkTCPKeepalive(&cfg, log)

	c := &Cluster{
		cfg:       cfg,
		policy:    policy,
		nodes:     map[frame.UUID]*Node{},
		events:    events,
		refreshCh: make(chan struct{}, 1),
		closed:    make(chan struct{}),
		log:       log,
	}
	c.state.Store((*ClusterState)(nil))
	c.control.Store((*Conn)(nil))

	var lastErr error
	for _, host := range hosts {
		if err := c.electControl(ctx, host); err != nil {
			lastErr = err
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return nil, fmt.Errorf("transport: no contact point reachable: %w", lastErr)
	}

	if err := c.refresh(ctx); err != nil {
		c.Close()
		return nil, err
	}

	c.wg.Add(1)
	go c.refreshLoop()
	return c, nil
}

// electControl opens a plain (unsharded-pool) connection to addr,
// REGISTERs it for the event types in c.events when that list is
// non-empty, and makes it the control connection (spec §4.E).
func (c *Cluster) electControl(ctx context.Context, addr string) error {
	conn, err := OpenConn(ctx, addr, nil, c.cfg, c.log)
	if err != nil {
		return err
	}
	if len(c.events) > 0 {
		if err := conn.Register(ctx, c.events); err != nil {
			conn.Close()
			return err
		}
	}
	if old, _ := c.control.Load().(*Conn); old != nil {
		old.Close()
	}
	c.control.Store(conn)

	c.wg.Add(1)
	go c.watchEvents(conn)
	return nil
}

// watchEvents triggers a debounced refresh whenever the control
// connection reports a topology, status, or schema change, and
// re-elects a new control connection if the current one dies (spec §4.E).
func (c *Cluster) watchEvents(conn *Conn) {
	defer c.wg.Done()
	for {
		select {
		case <-c.closed:
			return
		case ev, ok := <-conn.Events():
			if !ok {
				c.reelectControl()
				return
			}
			switch ev.Type {
			case response.TopologyChange, response.StatusChange, response.SchemaChangeEv:
				c.log.clusterEvent(fmt.Sprintf("event_%s_%s", ev.Type, ev.Change), nil)
				c.requestRefresh()
			}
		}
	}
}

func (c *Cluster) reelectControl() {
	select {
	case <-c.closed:
		return
	default:
	}
	s, _ := c.state.Load().(*ClusterState)
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()
	for _, n := range s.nodes {
		if err := c.electControl(ctx, n.Addr.Addr); err == nil {
			c.requestRefresh()
			return
		}
	}
	c.log.clusterEvent("control_reelection_failed", fmt.Errorf("no node reachable"))
}

func (c *Cluster) requestRefresh() {
	select {
	case c.refreshCh <- struct{}{}:
	default:
	}
}

// refreshLoop drives both the periodic poll (ClusterMetadataRefreshInterval)
// and event-triggered refreshes through the same debounced channel, so a
// burst of events coalesces into one refresh (spec §4.E).
func (c *Cluster) refreshLoop() {
	defer c.wg.Done()
	interval := c.cfg.ClusterMetadataRefreshInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-t.C:
			c.requestRefresh()
		case <-c.refreshCh:
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.MetadataRequestServersideTimeout+c.cfg.ConnectTimeout)
			if err := c.refresh(ctx); err != nil {
				c.log.clusterEvent("refresh_failed", err)
			}
			cancel()
		}
	}
}

// refresh fetches peers, builds the new node set and ring, and swaps in
// a new ClusterState if the fetch succeeds; on any error the previous
// snapshot is left untouched (spec §4.E, "leave the previous ClusterState
// snapshot intact").
func (c *Cluster) refresh(ctx context.Context) error {
	conn, _ := c.control.Load().(*Conn)
	if conn == nil {
		return fmt.Errorf("transport: no control connection")
	}

	controlAddr := conn.addr
	peers, err := fetchPeers(ctx, conn, controlAddr)
	if err != nil {
		return err
	}

	strat, err := fetchDefaultStrategy(ctx, conn, c.cfg.UsedKeyspace)
	if err != nil {
		strat = replicationStrategy{class: simpleStrategy, rf: 1}
	}

	nodes, byAddr := c.reconcileNodes(ctx, peers)
	ring := buildRing(peers, byAddr, strat)

	state := &ClusterState{nodes: nodes, byAddr: byAddr, ring: ring}
	c.state.Store(state)
	c.policy.update(state)
	return nil
}

// reconcileNodes maps each peer row onto a *Node, reusing (and so
// keeping the live pool of) any node already known by HostID, and
// initializing newly discovered nodes (spec §4.E "equality by HostID").
func (c *Cluster) reconcileNodes(ctx context.Context, peers []peerRow) ([]*Node, map[string]*Node) {
	c.nodesMu.Lock()
	defer c.nodesMu.Unlock()

	var nodes []*Node
	byAddr := make(map[string]*Node, len(peers))
	seen := make(map[frame.UUID]bool, len(peers))

	for _, p := range peers {
		addr := net.JoinHostPort(p.addr.String(), controlPort)
		n, ok := c.nodes[p.hostID]
		if !ok {
			n = &Node{
				HostID:     p.hostID,
				Addr:       NodeAddr{Addr: addr},
				Datacenter: p.datacenter,
				Rack:       p.rack,
			}
			c.nodes[p.hostID] = n
		} else {
			n.Datacenter = p.datacenter
			n.Rack = p.rack
		}
		if n.Sharder == nil {
			n.Sharder = probeSharder(ctx, addr, c.cfg, c.log)
		}
		n.Init(ctx, c.cfg)
		nodes = append(nodes, n)
		byAddr[p.addr.String()] = n
		seen[p.hostID] = true
	}

	for id, n := range c.nodes {
		if !seen[id] {
			n.Close()
			delete(c.nodes, id)
		}
	}
	return nodes, byAddr
}

const controlPort = "9042"

// probeSharder opens a short-lived connection purely to read the
// SUPPORTED frame's shard-awareness keys; Node.Init's own pool
// connections are opened afterwards against the discovered Sharder.
func probeSharder(ctx context.Context, addr string, cfg ConnConfig, log *internalLogger) *Sharder {
	conn, err := OpenConn(ctx, addr, nil, cfg, log)
	if err != nil {
		return nil
	}
	defer conn.Close()
	return fetchSharder(ctx, conn)
}

// fetchDefaultStrategy reads system_schema.keyspaces for keyspace's
// replication strategy. An empty keyspace (no USE yet performed) falls
// back to the caller's default of SimpleStrategy{rf:1}.
func fetchDefaultStrategy(ctx context.Context, conn *Conn, keyspace string) (replicationStrategy, error) {
	if keyspace == "" {
		return replicationStrategy{class: simpleStrategy, rf: 1}, nil
	}
	if err := ValidateKeyspaceName(keyspace); err != nil {
		return replicationStrategy{}, err
	}
	res, err := conn.Query(ctx, Statement{
		Content:     "SELECT replication FROM system_schema.keyspaces WHERE keyspace_name='" + keyspace + "'",
		Consistency: frame.ONE,
	}, nil)
	if err != nil {
		return replicationStrategy{}, err
	}
	if len(res.Rows) == 0 {
		return replicationStrategy{}, &KeyspaceStrategyError{Keyspace: keyspace, Reason: "not_found"}
	}
	repl := decodeTextTextMap(res.Rows[0][0].Bytes)
	class := repl["class"]
	switch {
	case containsSuffix(class, "SimpleStrategy"):
		rf, _ := strconv.Atoi(repl["replication_factor"])
		return replicationStrategy{class: simpleStrategy, rf: rf}, nil
	case containsSuffix(class, "NetworkTopologyStrategy"):
		dcRF := map[string]int{}
		for k, v := range repl {
			if k == "class" {
				continue
			}
			if n, err := strconv.Atoi(v); err == nil {
				dcRF[k] = n
			}
		}
		return replicationStrategy{class: networkTopologyStrategy, dcRF: dcRF}, nil
	case containsSuffix(class, "LocalStrategy"):
		return replicationStrategy{class: localStrategy}, nil
	default:
		return replicationStrategy{}, &KeyspaceStrategyError{Keyspace: keyspace, Reason: "unknown_class:" + class}
	}
}

func containsSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

// decodeTextTextMap narrowly decodes a CQL map<text,text> wire value
// (replication strategy options), the same fixed protocol shape as
// decodeTextSet but with key/value pairs (native protocol v4 §3).
func decodeTextTextMap(raw []byte) map[string]string {
	out := map[string]string{}
	if len(raw) < 4 {
		return out
	}
	var buf frame.Buffer
	buf.Write(raw)
	n := buf.ReadInt()
	for i := int32(0); i < n; i++ {
		k := buf.ReadBytes()
		v := buf.ReadBytes()
		if buf.Error() != nil {
			break
		}
		out[string(k)] = string(v)
	}
	return out
}

// Policy returns the cluster's load-balancing policy, kept current by
// every refresh (spec §4.F).
func (c *Cluster) Policy() HostSelectionPolicy { return c.policy }

// NewQueryInfo builds a non-token-aware QueryInfo at the given
// consistency.
func (c *Cluster) NewQueryInfo(consistency frame.Consistency) QueryInfo {
	return NewQueryInfo(consistency)
}

// NewTokenAwareQueryInfo computes partitionKey's token and builds a
// QueryInfo that routes by it within keyspace (spec §4.D).
func (c *Cluster) NewTokenAwareQueryInfo(partitionKey []byte, keyspace string, consistency frame.Consistency) QueryInfo {
	return NewTokenAwareQueryInfo(MurmurToken(partitionKey), keyspace, consistency)
}

// AnyNode returns the first connected node in the current snapshot,
// for callers that need some reachable node rather than one routed by
// token.
func (c *Cluster) AnyNode() (*Node, error) {
	s, _ := c.state.Load().(*ClusterState)
	if s == nil {
		return nil, fmt.Errorf("transport: cluster not yet initialized")
	}
	for _, n := range s.nodes {
		if n.IsConnected() {
			return n, nil
		}
	}
	return nil, fmt.Errorf("transport: no connected node")
}

// AllNodes returns every node in the current snapshot.
func (c *Cluster) AllNodes() []*Node {
	s, _ := c.state.Load().(*ClusterState)
	if s == nil {
		return nil
	}
	return append([]*Node(nil), s.nodes...)
}

// Close tears down the control connection, every pooled node, and the
// background refresh goroutines.
func (c *Cluster) Close() {
	select {
	case <-c.closed:
		return
	default:
		close(c.closed)
	}
	if conn, _ := c.control.Load().(*Conn); conn != nil {
		conn.Close()
	}
	c.nodesMu.Lock()
	for _, n := range c.nodes {
		n.Close()
	}
	c.nodesMu.Unlock()
	c.wg.Wait()
}
