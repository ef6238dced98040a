package transport

import (
	"testing"

	"github.com/scylladb/scylla-go-driver/frame"
)

func TestStreamIDAllocatorReusesFreed(t *testing.T) {
	a := newStreamIDAllocator()

	first, err := a.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	second, err := a.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct ids, got %d twice", first)
	}
	if got := a.InUse(); got != 2 {
		t.Fatalf("InUse() = %d, want 2", got)
	}

	a.Free(first)
	if got := a.InUse(); got != 1 {
		t.Fatalf("InUse() after Free = %d, want 1", got)
	}

	reused, err := a.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if reused != first {
		t.Fatalf("Alloc() after Free = %d, want reused id %d", reused, first)
	}
}

func TestStreamIDAllocatorExhaustion(t *testing.T) {
	a := newStreamIDAllocator()
	a.next = frame.MaxStreams

	if _, err := a.Alloc(); err != nil {
		t.Fatalf("Alloc at boundary: %v", err)
	}
	if _, err := a.Alloc(); err == nil {
		t.Fatal("expected ErrUnableToAllocStreamId once saturated")
	}
}
