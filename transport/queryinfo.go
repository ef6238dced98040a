package transport

import "github.com/scylladb/scylla-go-driver/frame"

// QueryInfo carries what the load-balancing policy and node/pool layer
// need to route one request (spec §4.D/§4.F): the partition token when
// token-aware routing is possible, and the keyspace a token must be
// interpreted against (different keyspaces may replicate differently).
type QueryInfo struct {
	token          Token
	tokenAware     bool
	keyspace       string
	consistency    frame.Consistency
	isConfirmedLWT bool
}

// NewQueryInfo builds a non-token-aware QueryInfo (plain round robin).
func NewQueryInfo(consistency frame.Consistency) QueryInfo {
	return QueryInfo{consistency: consistency}
}

// NewTokenAwareQueryInfo builds a QueryInfo that prefers the replicas of
// token within keyspace.
func NewTokenAwareQueryInfo(token Token, keyspace string, consistency frame.Consistency) QueryInfo {
	return QueryInfo{token: token, tokenAware: true, keyspace: keyspace, consistency: consistency}
}
