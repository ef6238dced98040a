package transport

import (
	"math/rand"
	"sync/atomic"
)

// HostSelectionPolicy produces an ordered candidate list for one
// request: Node(qi, 0) is the first choice, Node(qi, 1) the second if
// the first is unusable, and so on; it returns nil once candidates are
// exhausted (spec §4.F).
type HostSelectionPolicy interface {
	Node(qi QueryInfo, idx int) *Node
	update(s *ClusterState)
}

// RoundRobinPolicy cycles through every known node, ignoring token
// awareness. It is the fallback every token-aware policy wraps when a
// request has no routable token (spec §4.F).
type RoundRobinPolicy struct {
	state  atomic.Value // *ClusterState
	cursor uint32
}

func NewRoundRobinPolicy() *RoundRobinPolicy {
	p := &RoundRobinPolicy{}
	p.state.Store((*ClusterState)(nil))
	return p
}

func (p *RoundRobinPolicy) update(s *ClusterState) { p.state.Store(s) }

func (p *RoundRobinPolicy) Node(_ QueryInfo, idx int) *Node {
	s, _ := p.state.Load().(*ClusterState)
	if s == nil || len(s.nodes) == 0 {
		return nil
	}
	if idx >= len(s.nodes) {
		return nil
	}
	off := int(atomic.AddUint32(&p.cursor, 0))
	if idx == 0 {
		off = int(atomic.AddUint32(&p.cursor, 1))
	}
	return s.nodes[(off+idx)%len(s.nodes)]
}

// DCAwareRoundRobinPolicy prefers nodes in localDC, falling back to
// every other node once the local datacenter is exhausted (spec §4.F).
type DCAwareRoundRobinPolicy struct {
	localDC string
	state   atomic.Value // *ClusterState
	cursor  uint32
}

func NewDCAwareRoundRobin(localDC string) *DCAwareRoundRobinPolicy {
	p := &DCAwareRoundRobinPolicy{localDC: localDC}
	p.state.Store((*ClusterState)(nil))
	return p
}

func (p *DCAwareRoundRobinPolicy) update(s *ClusterState) { p.state.Store(s) }

func (p *DCAwareRoundRobinPolicy) Node(_ QueryInfo, idx int) *Node {
	s, _ := p.state.Load().(*ClusterState)
	if s == nil {
		return nil
	}
	ordered := orderByDC(s.nodes, p.localDC)
	if idx >= len(ordered) {
		return nil
	}
	off := int(atomic.AddUint32(&p.cursor, 0))
	if idx == 0 {
		off = int(atomic.AddUint32(&p.cursor, 1))
	}
	return ordered[(off+idx)%len(ordered)]
}

func orderByDC(nodes []*Node, localDC string) []*Node {
	var local, remote []*Node
	for _, n := range nodes {
		if n.Datacenter == localDC {
			local = append(local, n)
		} else {
			remote = append(remote, n)
		}
	}
	return append(local, remote...)
}

// tokenAwarePolicy is shared by SimpleTokenAwarePolicy and
// NetworkTopologyTokenAwarePolicy: it tries the token's replicas first,
// local datacenter before remote, then falls back to fallback's
// ordering once replicas are exhausted (spec §4.D/§4.F).
type tokenAwarePolicy struct {
	fallback HostSelectionPolicy
	rf       int
	state    atomic.Value // *ClusterState
}

func (p *tokenAwarePolicy) update(s *ClusterState) {
	p.state.Store(s)
	p.fallback.update(s)
}

func (p *tokenAwarePolicy) Node(qi QueryInfo, idx int) *Node {
	if !qi.tokenAware {
		return p.fallback.Node(qi, idx)
	}
	s, _ := p.state.Load().(*ClusterState)
	if s == nil || len(s.ring) == 0 {
		return p.fallback.Node(qi, idx)
	}

	pos := s.ring.tokenLowerBound(qi.token)
	entry := s.ring[pos]
	replicas := append(append([]*Node(nil), entry.localReplicas...), entry.remoteReplicas...)
	if idx < len(replicas) {
		return replicas[idx]
	}
	return p.fallback.Node(qi, idx-len(replicas))
}

// SimpleTokenAwarePolicy routes to the token's replicas, then to the
// fallback. The rf argument is stored but not consulted: the replica
// lists come from the ring, which Cluster precomputes from the session
// keyspace's replication strategy (spec §4.D, property 4).
func NewSimpleTokenAwarePolicy(fallback HostSelectionPolicy, rf int) HostSelectionPolicy {
	p := &tokenAwarePolicy{fallback: fallback, rf: rf}
	p.state.Store((*ClusterState)(nil))
	return p
}

// NetworkTopologyTokenAwarePolicy routes by NetworkTopologyStrategy
// replica placement: rf replicas per named datacenter, honoring rack
// diversity within each (spec §4.D, property 5). The replica
// precomputation itself lives in the ring builder (metadata.go); this
// policy just walks the precomputed localReplicas/remoteReplicas lists
// the same way SimpleTokenAwarePolicy does.
func NewNetworkTopologyTokenAwarePolicy(fallback HostSelectionPolicy, dcRF map[string]int) HostSelectionPolicy {
	total := 0
	for _, rf := range dcRF {
		total += rf
	}
	p := &tokenAwarePolicy{fallback: fallback, rf: total}
	p.state.Store((*ClusterState)(nil))
	return p
}

// shuffle randomizes equally-ranked candidates (e.g. same-token
// replicas) so load spreads evenly instead of always hammering the
// ring's first replica (spec §4.F).
func shuffle(nodes []*Node) {
	rand.Shuffle(len(nodes), func(i, j int) { nodes[i], nodes[j] = nodes[j], nodes[i] })
}
