package transport

import (
	"github.com/scylladb/scylla-go-driver/frame"
)

// streamIDAllocator hands out stream ids from a free list over
// 1..=32767 (stream 0 is reserved for unsolicited server messages,
// -1 for events). Callers under connReader.mu, so no internal locking
// is needed here; it exists as a distinct type purely to keep the
// allocation algorithm unit-testable in isolation.
type streamIDAllocator struct {
	free []frame.StreamID
	next int32 // wider than StreamID so it can pass MaxStreams without wrapping
}

func newStreamIDAllocator() streamIDAllocator {
	return streamIDAllocator{next: 1}
}

// Alloc returns a fresh stream id, or ErrUnableToAllocStreamId if the
// connection is saturated. Per spec §4.B the caller must not queue on
// exhaustion; the executor retries elsewhere.
func (s *streamIDAllocator) Alloc() (frame.StreamID, error) {
	if n := len(s.free); n > 0 {
		id := s.free[n-1]
		s.free = s.free[:n-1]
		return id, nil
	}
	if s.next > frame.MaxStreams {
		return 0, ErrUnableToAllocStreamId
	}
	id := frame.StreamID(s.next)
	s.next++
	return id, nil
}

// Free returns a stream id to the pool.
func (s *streamIDAllocator) Free(id frame.StreamID) {
	s.free = append(s.free, id)
}

// InUse reports how many stream ids are currently allocated. The
// orphan-count check does not use it: that threshold is the fixed
// maxOrphanedStreams.
func (s *streamIDAllocator) InUse() int {
	return int(s.next) - 1 - len(s.free)
}
