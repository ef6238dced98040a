package transport

import "testing"

func TestRoundRobinPolicyCyclesNodes(t *testing.T) {
	n1 := &Node{Addr: NodeAddr{Addr: "n1"}}
	n2 := &Node{Addr: NodeAddr{Addr: "n2"}}
	p := NewRoundRobinPolicy()
	p.update(&ClusterState{nodes: []*Node{n1, n2}})

	seen := map[*Node]bool{}
	for i := 0; i < 2; i++ {
		n := p.Node(QueryInfo{}, i)
		if n == nil {
			t.Fatalf("Node(_, %d) = nil", i)
		}
		seen[n] = true
	}
	if len(seen) != 2 {
		t.Fatalf("expected both nodes to be offered across idx 0 and 1, got %d distinct", len(seen))
	}
	if p.Node(QueryInfo{}, 2) != nil {
		t.Fatalf("Node(_, 2) should be nil: only 2 nodes known")
	}
}

func TestTokenAwarePolicyPrefersReplicasThenFallback(t *testing.T) {
	replica := &Node{Addr: NodeAddr{Addr: "replica"}}
	other := &Node{Addr: NodeAddr{Addr: "other"}}

	fallback := NewRoundRobinPolicy()
	policy := NewSimpleTokenAwarePolicy(fallback, 1)

	state := &ClusterState{
		nodes: []*Node{replica, other},
		ring: Ring{
			{node: replica, token: 0, localReplicas: []*Node{replica}},
		},
	}
	policy.update(state)

	qi := NewTokenAwareQueryInfo(0, "", 0)
	if got := policy.Node(qi, 0); got != replica {
		t.Fatalf("Node(_, 0) = %v, want replica", got)
	}
	// idx 1 exceeds the single precomputed replica, falls back.
	if got := policy.Node(qi, 1); got == nil {
		t.Fatalf("Node(_, 1) = nil, want fallback node")
	}
}

func TestTokenAwarePolicyFallsBackWhenNotTokenAware(t *testing.T) {
	n := &Node{Addr: NodeAddr{Addr: "n"}}
	fallback := NewRoundRobinPolicy()
	policy := NewSimpleTokenAwarePolicy(fallback, 1)
	policy.update(&ClusterState{nodes: []*Node{n}})

	if got := policy.Node(NewQueryInfo(0), 0); got != n {
		t.Fatalf("Node(_, 0) = %v, want %v", got, n)
	}
}
