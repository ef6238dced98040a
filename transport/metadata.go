package transport

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"

	"github.com/scylladb/scylla-go-driver/frame"
)

// ClusterState is the cluster's topology/token-ring snapshot, swapped
// atomically by Cluster on every successful refresh (spec §4.E, §9
// "single atomic pointer swap"). A refresh that fails leaves the
// previous ClusterState live.
type ClusterState struct {
	nodes   []*Node
	byAddr  map[string]*Node
	ring    Ring
	keyspaceRF map[string]replicationStrategy
}

type strategyClass int

const (
	simpleStrategy strategyClass = iota
	networkTopologyStrategy
	localStrategy
)

type replicationStrategy struct {
	class strategyClass
	rf    int            // SimpleStrategy
	dcRF  map[string]int // NetworkTopologyStrategy
}

// decodeTextSet narrowly decodes a CQL set<text>/list<text> wire value:
// i32 element count, then each element as i32 length + UTF-8 bytes
// (native protocol v4 §3). This is not a general value codec (spec §1
// leaves that to an external collaborator); it exists only because the
// cluster refresher must read the `tokens` column of system.peers to
// build the ring, and that column is always this shape.
func decodeTextSet(raw []byte) []string {
	if len(raw) < 4 {
		return nil
	}
	var buf frame.Buffer
	buf.Write(raw)
	n := buf.ReadInt()
	out := make([]string, 0, n)
	for i := int32(0); i < n; i++ {
		elem := buf.ReadBytes()
		if buf.Error() != nil {
			break
		}
		out = append(out, string(elem))
	}
	return out
}

// decodeInet narrowly decodes a CQL inet value: the raw bytes are
// exactly the 4 or 16 address octets, no length prefix (the [bytes]
// envelope already carries the length).
func decodeInet(raw []byte) net.IP {
	if raw == nil {
		return nil
	}
	return net.IP(raw)
}

type peerRow struct {
	hostID     frame.UUID
	addr       net.IP
	datacenter string
	rack       string
	tokens     []string
}

func readPeerRow(cols []frame.ColumnSpec, row frame.Row, addrCol string) (peerRow, bool) {
	var p peerRow
	for i, c := range cols {
		v := row[i]
		if v.IsNull() {
			continue
		}
		switch c.Name {
		case "host_id":
			id, err := v.AsUUID()
			if err == nil {
				p.hostID = id
			}
		case "data_center":
			p.datacenter = string(v.Bytes)
		case "rack":
			p.rack = string(v.Bytes)
		case "tokens":
			p.tokens = decodeTextSet(v.Bytes)
		case addrCol:
			p.addr = decodeInet(v.Bytes)
		}
	}
	return p, p.addr != nil && len(p.tokens) > 0
}

// fetchPeers queries system.local and system.peers through conn and
// returns one peerRow per cluster member, including the node conn is
// connected to (spec §4.E).
func fetchPeers(ctx context.Context, conn *Conn, controlAddr string) ([]peerRow, error) {
	var rows []peerRow

	local, err := conn.Query(ctx, Statement{
		Content:     "SELECT host_id, data_center, rack, tokens, broadcast_address FROM system.local WHERE key='local'",
		Consistency: frame.ONE,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching system.local: %w", err)
	}
	for _, row := range local.Rows {
		p, ok := readPeerRow(local.Metadata.Columns, row, "broadcast_address")
		if !ok {
			continue
		}
		// A node's own broadcast_address can be 0.0.0.0 when
		// misconfigured; the control connection's own address is known
		// good and untranslatable (spec §3 NodeAddr provenance).
		if p.addr.IsUnspecified() {
			host, _, splitErr := net.SplitHostPort(controlAddr)
			if splitErr == nil {
				p.addr = net.ParseIP(host)
			}
		}
		rows = append(rows, p)
	}

	peers, err := conn.Query(ctx, Statement{
		Content:     "SELECT host_id, data_center, rack, tokens, rpc_address FROM system.peers",
		Consistency: frame.ONE,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching system.peers: %w", err)
	}
	for _, row := range peers.Rows {
		p, ok := readPeerRow(peers.Metadata.Columns, row, "rpc_address")
		if ok {
			rows = append(rows, p)
		}
	}

	if len(rows) == 0 {
		return nil, ErrEmptyPeers
	}
	return rows, nil
}

// fetchSharder probes a connection's shard-awareness via the OPTIONS/
// SUPPORTED exchange's Scylla-specific extension keys.
func fetchSharder(ctx context.Context, conn *Conn) *Sharder {
	supported, err := conn.FetchSupported(ctx)
	if err != nil {
		return nil
	}
	nrShardsV, ok := supported.Options["SCYLLA_NR_SHARDS"]
	if !ok || len(nrShardsV) == 0 {
		return nil
	}
	nrShards, err := strconv.Atoi(nrShardsV[0])
	if err != nil || nrShards <= 1 {
		return nil
	}
	msb := 12
	if v, ok := supported.Options["SCYLLA_SHARDING_IGNORE_MSB"]; ok && len(v) > 0 {
		if n, err := strconv.Atoi(v[0]); err == nil {
			msb = n
		}
	}
	partitioner := "org.apache.cassandra.dht.Murmur3Partitioner"
	if v, ok := supported.Options["SCYLLA_PARTITIONER"]; ok && len(v) > 0 {
		partitioner = v[0]
	}
	return &Sharder{NrShards: uint16(nrShards), MsbIgnoreBits: uint8(msb), Partitioner: partitioner}
}

// buildRing assigns one ring entry per vnode token across every node,
// then precomputes each entry's replica lists per keyspace's
// replication strategy (spec §4.D, properties 4/5). Only the default
// keyspace's strategy (or SimpleStrategy with rf=1 absent one) is
// applied. The keyspace in a QueryInfo is not consulted: token-aware
// routing uses these replica lists for every keyspace.
func buildRing(peers []peerRow, byAddr map[string]*Node, strat replicationStrategy) Ring {
	var ring Ring
	for _, p := range peers {
		n := byAddr[p.addr.String()]
		if n == nil {
			continue
		}
		for _, ts := range p.tokens {
			t, err := strconv.ParseInt(ts, 10, 64)
			if err != nil {
				continue
			}
			ring = append(ring, RingEntry{node: n, token: Token(t)})
		}
	}
	sort.Sort(ring)

	for i := range ring {
		ring[i].localReplicas, ring[i].remoteReplicas = replicasFor(ring, i, strat)
	}
	return ring
}

func replicasFor(ring Ring, pos int, strat replicationStrategy) (local, remote []*Node) {
	switch strat.class {
	case localStrategy:
		return []*Node{ring[pos].node}, nil
	case networkTopologyStrategy:
		seenPerDC := map[string]int{}
		seenNode := map[*Node]bool{}
		it := &replicaIter{ring: ring, offset: pos}
		for n := it.Next(); n != nil; n = it.Next() {
			if seenNode[n] {
				continue
			}
			want, ok := strat.dcRF[n.Datacenter]
			if !ok || seenPerDC[n.Datacenter] >= want {
				if allDCsSatisfied(strat.dcRF, seenPerDC) {
					break
				}
				continue
			}
			seenNode[n] = true
			seenPerDC[n.Datacenter]++
			if n.Datacenter == ring[pos].node.Datacenter {
				local = append(local, n)
			} else {
				remote = append(remote, n)
			}
		}
		return local, remote
	default: // simpleStrategy
		rf := strat.rf
		if rf <= 0 {
			rf = 1
		}
		seen := map[*Node]bool{}
		it := &replicaIter{ring: ring, offset: pos}
		for len(seen) < rf {
			n := it.Next()
			if n == nil {
				break
			}
			if seen[n] {
				continue
			}
			seen[n] = true
			if n.Datacenter == ring[pos].node.Datacenter {
				local = append(local, n)
			} else {
				remote = append(remote, n)
			}
		}
		return local, remote
	}
}

func allDCsSatisfied(want map[string]int, got map[string]int) bool {
	for dc, n := range want {
		if got[dc] < n {
			return false
		}
	}
	return true
}
