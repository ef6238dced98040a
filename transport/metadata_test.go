package transport

import (
	"net"
	"testing"

	"github.com/scylladb/scylla-go-driver/frame"
)

func encodeTextSet(elems ...string) []byte {
	var buf frame.Buffer
	buf.WriteInt(int32(len(elems)))
	for _, e := range elems {
		buf.WriteBytes([]byte(e))
	}
	return buf.Bytes()
}

func TestDecodeTextSet(t *testing.T) {
	raw := encodeTextSet("-100", "0", "100")
	got := decodeTextSet(raw)
	want := []string{"-100", "0", "100"}
	if len(got) != len(want) {
		t.Fatalf("decodeTextSet() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("decodeTextSet()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDecodeTextSetEmpty(t *testing.T) {
	if got := decodeTextSet(encodeTextSet()); len(got) != 0 {
		t.Fatalf("decodeTextSet(empty) = %v, want empty", got)
	}
	if got := decodeTextSet(nil); got != nil {
		t.Fatalf("decodeTextSet(nil) = %v, want nil", got)
	}
}

func TestDecodeInet(t *testing.T) {
	v4 := net.ParseIP("10.0.0.1").To4()
	if got := decodeInet(v4); !got.Equal(net.ParseIP("10.0.0.1")) {
		t.Fatalf("decodeInet(v4) = %v, want 10.0.0.1", got)
	}
	if got := decodeInet(nil); got != nil {
		t.Fatalf("decodeInet(nil) = %v, want nil", got)
	}
}

func TestReplicasForSimpleStrategyDedupsAcrossVnodes(t *testing.T) {
	a := &Node{Datacenter: "dc1"}
	b := &Node{Datacenter: "dc1"}

	// a owns two vnode tokens; without dedup it would satisfy rf=2 alone.
	ring := Ring{
		{node: a, token: 0},
		{node: a, token: 10},
		{node: b, token: 20},
	}

	local, remote := replicasFor(ring, 0, replicationStrategy{class: simpleStrategy, rf: 2})
	if len(remote) != 0 {
		t.Fatalf("expected no remote replicas within a single dc, got %v", remote)
	}
	if len(local) != 2 {
		t.Fatalf("replicasFor() local = %v, want 2 distinct nodes", local)
	}
	if local[0] == local[1] {
		t.Fatalf("replicasFor() returned the same node twice: %v", local)
	}
}

func TestReplicasForNetworkTopologyPerDC(t *testing.T) {
	dc1a := &Node{Datacenter: "dc1"}
	dc1b := &Node{Datacenter: "dc1"}
	dc2a := &Node{Datacenter: "dc2"}

	ring := Ring{
		{node: dc1a, token: 0},
		{node: dc2a, token: 10},
		{node: dc1b, token: 20},
	}

	strat := replicationStrategy{class: networkTopologyStrategy, dcRF: map[string]int{"dc1": 2, "dc2": 1}}
	local, remote := replicasFor(ring, 0, strat)
	if len(local) != 2 {
		t.Fatalf("local replicas = %v, want 2 from dc1", local)
	}
	if len(remote) != 1 {
		t.Fatalf("remote replicas = %v, want 1 from dc2", remote)
	}
}

func TestReplicasForLocalStrategyOwningNodeOnly(t *testing.T) {
	owner := &Node{Datacenter: "dc1"}
	other := &Node{Datacenter: "dc1"}
	ring := Ring{{node: owner, token: 0}, {node: other, token: 10}}

	local, remote := replicasFor(ring, 0, replicationStrategy{class: localStrategy})
	if len(local) != 1 || local[0] != owner {
		t.Fatalf("local strategy replicas = %v, want [owner]", local)
	}
	if len(remote) != 0 {
		t.Fatalf("local strategy should produce no remote replicas, got %v", remote)
	}
}

func TestBuildRingSortsAndAssignsReplicas(t *testing.T) {
	nA := &Node{Datacenter: "dc1"}
	byAddr := map[string]*Node{"10.0.0.1": nA}

	peers := []peerRow{
		{addr: net.ParseIP("10.0.0.1"), tokens: []string{"100", "-100"}},
	}

	ring := buildRing(peers, byAddr, replicationStrategy{class: simpleStrategy, rf: 1})
	if len(ring) != 2 {
		t.Fatalf("buildRing() len = %d, want 2", len(ring))
	}
	if ring[0].token != -100 || ring[1].token != 100 {
		t.Fatalf("buildRing() not sorted: %+v", ring)
	}
	for _, e := range ring {
		if len(e.localReplicas) != 1 || e.localReplicas[0] != nA {
			t.Fatalf("ring entry %+v missing precomputed replica", e)
		}
	}
}

func TestBuildRingSkipsUnknownAddresses(t *testing.T) {
	peers := []peerRow{
		{addr: net.ParseIP("10.0.0.9"), tokens: []string{"5"}},
	}
	ring := buildRing(peers, map[string]*Node{}, replicationStrategy{class: simpleStrategy, rf: 1})
	if len(ring) != 0 {
		t.Fatalf("buildRing() with unknown address = %v, want empty", ring)
	}
}
