// Package scylla is a client driver for Scylla/Cassandra clusters
// speaking the CQL binary protocol. Session is the entry point: it
// owns the cluster's topology view and hands out Query/Batch builders
// that route, retry, and page through it.
package scylla

import (
	"context"
	"fmt"

	"github.com/scylladb/scylla-go-driver/frame"
	"github.com/scylladb/scylla-go-driver/transport"
)

type EventType = string

const (
	TopologyChange EventType = "TOPOLOGY_CHANGE"
	StatusChange   EventType = "STATUS_CHANGE"
	SchemaChange   EventType = "SCHEMA_CHANGE"
)

type Consistency = frame.Consistency

const (
	ANY         Consistency = 0x0000
	ONE         Consistency = 0x0001
	TWO         Consistency = 0x0002
	THREE       Consistency = 0x0003
	QUORUM      Consistency = 0x0004
	ALL         Consistency = 0x0005
	LOCALQUORUM Consistency = 0x0006
	EACHQUORUM  Consistency = 0x0007
	SERIAL      Consistency = 0x0008
	LOCALSERIAL Consistency = 0x0009
	LOCALONE    Consistency = 0x000A
)

var (
	ErrNoHosts   = fmt.Errorf("error in session config: no hosts given")
	ErrEventType = fmt.Errorf("error in session config: invalid event\npossible events:\n" +
		"TopologyChange EventType = \"TOPOLOGY_CHANGE\"\n" +
		"StatusChange   EventType = \"STATUS_CHANGE\"\n" +
		"SchemaChange   EventType = \"SCHEMA_CHANGE\"")
	ErrConsistency = fmt.Errorf("error in session config: invalid consistency\npossible consistencies are:\n" +
		"ANY         Consistency = 0x0000\n" +
		"ONE         Consistency = 0x0001\n" +
		"TWO         Consistency = 0x0002\n" +
		"THREE       Consistency = 0x0003\n" +
		"QUORUM      Consistency = 0x0004\n" +
		"ALL         Consistency = 0x0005\n" +
		"LOCALQUORUM Consistency = 0x0006\n" +
		"EACHQUORUM  Consistency = 0x0007\n" +
		"SERIAL      Consistency = 0x0008\n" +
		"LOCALSERIAL Consistency = 0x0009\n" +
		"LOCALONE    Consistency = 0x000A")
	errNoConnection = fmt.Errorf("no working connection")
)

// SessionConfig is everything NewSession needs: contact points, which
// server-pushed event types the control connection should subscribe
// to, and the transport-layer knobs (pool sizing, timeouts, auth,
// compression) from spec §6.
type SessionConfig struct {
	Hosts               []string
	Events              []EventType
	HostSelectionPolicy transport.HostSelectionPolicy
	RetryPolicy         transport.RetryPolicy
	transport.ConnConfig
}

func DefaultSessionConfig(keyspace string, hosts ...string) SessionConfig {
	return SessionConfig{
		Hosts:               hosts,
		HostSelectionPolicy: transport.NewRoundRobinPolicy(),
		RetryPolicy:         transport.NewDefaultRetryPolicy(),
		ConnConfig:          transport.DefaultConnConfig(keyspace),
	}
}

func (cfg SessionConfig) Clone() SessionConfig {
	v := cfg
	v.Hosts = append([]string(nil), cfg.Hosts...)
	v.Events = append([]EventType(nil), cfg.Events...)
	return v
}

func (cfg *SessionConfig) Validate() error {
	if len(cfg.Hosts) == 0 {
		return ErrNoHosts
	}
	for _, e := range cfg.Events {
		if e != TopologyChange && e != StatusChange && e != SchemaChange {
			return ErrEventType
		}
	}
	if cfg.DefaultConsistency > LOCALONE {
		return ErrConsistency
	}
	return nil
}

// Session is a client's single view of a cluster: one topology
// refresher, one load-balancing policy, one prepared-statement cache,
// shared by every Query/Batch it hands out (spec §1 overview).
type Session struct {
	cfg      SessionConfig
	cluster  *transport.Cluster
	prepared *preparedCache
}

// NewSession dials cfg.Hosts, bootstraps the cluster's topology, and
// starts its background refresh loop (spec §4.E).
func NewSession(ctx context.Context, cfg SessionConfig) (*Session, error) {
	cfg = cfg.Clone()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.HostSelectionPolicy == nil {
		cfg.HostSelectionPolicy = transport.NewRoundRobinPolicy()
	}
	if cfg.RetryPolicy == nil {
		cfg.RetryPolicy = transport.NewDefaultRetryPolicy()
	}

	cluster, err := transport.NewCluster(ctx, cfg.ConnConfig, cfg.HostSelectionPolicy, cfg.Events, cfg.Hosts...)
	if err != nil {
		return nil, err
	}

	return &Session{
		cfg:      cfg,
		cluster:  cluster,
		prepared: newPreparedCache(),
	}, nil
}

// Query builds an unprepared statement bound to this session.
func (s *Session) Query(content string) Query {
	return Query{
		session: s,
		stmt:    transport.Statement{Content: content, Consistency: s.cfg.DefaultConsistency},
	}
}

// Prepare builds a Query for content and prepares it immediately through
// the shared cache, returning the error if preparing fails (spec §4.H).
func (s *Session) Prepare(ctx context.Context, content string) (Query, error) {
	q := Query{
		session: s,
		stmt:    transport.Statement{Content: content, Consistency: s.cfg.DefaultConsistency},
	}
	if err := q.Prepare(ctx); err != nil {
		return Query{}, err
	}
	return q, nil
}

func NewRoundRobinPolicy() transport.HostSelectionPolicy {
	return transport.NewRoundRobinPolicy()
}

func NewSimpleTokenAwarePolicy(rf int) transport.HostSelectionPolicy {
	return transport.NewSimpleTokenAwarePolicy(transport.NewRoundRobinPolicy(), rf)
}

func NewNetworkTopologyTokenAwarePolicy(dcRf map[string]int) transport.HostSelectionPolicy {
	return transport.NewNetworkTopologyTokenAwarePolicy(transport.NewRoundRobinPolicy(), dcRf)
}

func NewDCAwareRoundRobinPolicy(localDC string) transport.HostSelectionPolicy {
	return transport.NewDCAwareRoundRobin(localDC)
}

// Close tears down the cluster's control connection and every node pool.
func (s *Session) Close() {
	s.cluster.Close()
}

// deadlineCtx bounds ctx by the session's RequestTimeout, if one is
// configured. context.WithTimeout already takes whichever of the two
// deadlines is sooner, so a shorter caller-supplied deadline is left
// alone (spec §4.H item 6: min(client_timeout, server_timeout)).
func (s *Session) deadlineCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.RequestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.cfg.RequestTimeout)
}
