package transport

import "testing"

func TestNumShards(t *testing.T) {
	if got := numShards(nil); got != 1 {
		t.Fatalf("numShards(nil) = %d, want 1", got)
	}
	if got := numShards(&Sharder{NrShards: 0}); got != 1 {
		t.Fatalf("numShards(0 shards) = %d, want 1", got)
	}
	if got := numShards(&Sharder{NrShards: 4}); got != 4 {
		t.Fatalf("numShards(4 shards) = %d, want 4", got)
	}
}

func newTestPool(n int) *ConnPool {
	return &ConnPool{
		addr:   "test",
		conns:  make([]*Conn, n),
		closed: make(chan struct{}),
	}
}

func TestMissingShards(t *testing.T) {
	p := newTestPool(4)
	p.conns[1] = &Conn{}
	p.conns[3] = &Conn{}

	missing := p.missingShards()
	if len(missing) != 2 || missing[0] != 0 || missing[1] != 2 {
		t.Fatalf("missingShards() = %v, want [0 2]", missing)
	}
}

func TestConnForShardFallsBackWhenDown(t *testing.T) {
	p := newTestPool(4)
	only := &Conn{}
	p.conns[2] = only

	c, err := p.ConnForShard(2)
	if err != nil || c != only {
		t.Fatalf("ConnForShard(2) = %v, %v, want owning conn", c, err)
	}

	// Shard 0 has no dedicated connection; falls back to the only open one.
	c, err = p.ConnForShard(0)
	if err != nil || c != only {
		t.Fatalf("ConnForShard(0) fallback = %v, %v, want %v", c, err, only)
	}
}

func TestConnForShardNoneOpen(t *testing.T) {
	p := newTestPool(2)
	if _, err := p.ConnForShard(0); err == nil {
		t.Fatal("expected error: no open connections")
	}
}

func TestLeastBusyConnRoundRobins(t *testing.T) {
	p := newTestPool(3)
	a, b := &Conn{}, &Conn{}
	p.conns[0] = a
	p.conns[2] = b

	first, err := p.LeastBusyConn()
	if err != nil || first != a {
		t.Fatalf("first pick = %v, %v, want %v", first, err, a)
	}
	second, err := p.LeastBusyConn()
	if err != nil || second != b {
		t.Fatalf("second pick = %v, %v, want %v", second, err, b)
	}
	// Wraps back around, skipping the nil slot.
	third, err := p.LeastBusyConn()
	if err != nil || third != a {
		t.Fatalf("third pick = %v, %v, want %v (wrap around)", third, err, a)
	}
}

func TestIsConnected(t *testing.T) {
	p := newTestPool(2)
	if p.IsConnected() {
		t.Fatal("fresh pool with no conns should report not connected")
	}
	p.conns[1] = &Conn{}
	if !p.IsConnected() {
		t.Fatal("pool with one open conn should report connected")
	}
}
