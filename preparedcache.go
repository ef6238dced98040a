package scylla

import (
	"context"
	"sync"

	"github.com/scylladb/scylla-go-driver/transport"
)

// preparedCache keeps one Statement per (text, keyspace) pair, prepared
// once against every node the cluster currently knows about, so later
// executions can go straight to EXECUTE (spec §4.H prepared-statement cache).
type preparedCache struct {
	mu    sync.RWMutex
	byKey map[string]transport.Statement
}

func newPreparedCache() *preparedCache {
	return &preparedCache{byKey: map[string]transport.Statement{}}
}

func cacheKey(content, keyspace string) string { return keyspace + "\x00" + content }

// prepareStatement returns the cached prepared Statement for stmt.Content,
// preparing it on every reachable node and requiring them to agree on the
// same id if it isn't cached yet (spec §4.H, PreparedStatementIdsMismatch
// on disagreement).
func (s *Session) prepareStatement(ctx context.Context, stmt transport.Statement) (transport.Statement, error) {
	key := cacheKey(stmt.Content, s.cfg.UsedKeyspace)

	s.prepared.mu.RLock()
	cached, ok := s.prepared.byKey[key]
	s.prepared.mu.RUnlock()
	if ok {
		out := stmt
		out.ID = cached.ID
		out.ResultMetadataID = cached.ResultMetadataID
		out.PkIndexes = cached.PkIndexes
		out.PkCnt = cached.PkCnt
		out.Metadata = cached.Metadata
		return out, nil
	}

	nodes := s.cluster.AllNodes()
	if len(nodes) == 0 {
		return transport.Statement{}, errNoConnection
	}

	var first transport.Statement
	for i, n := range nodes {
		if !n.IsConnected() {
			continue
		}
		prepared, err := n.Prepare(ctx, stmt)
		if err != nil {
			return transport.Statement{}, err
		}
		if i == 0 || first.ID == nil {
			first = prepared
			continue
		}
		if string(prepared.ID) != string(first.ID) {
			return transport.Statement{}, &transport.PreparedStatementIdsMismatch{Statement: stmt.Content}
		}
	}
	if first.ID == nil {
		return transport.Statement{}, errNoConnection
	}

	s.prepared.mu.Lock()
	s.prepared.byKey[key] = first
	s.prepared.mu.Unlock()

	out := stmt
	out.ID = first.ID
	out.ResultMetadataID = first.ResultMetadataID
	out.PkIndexes = first.PkIndexes
	out.PkCnt = first.PkCnt
	out.Metadata = first.Metadata
	return out, nil
}
