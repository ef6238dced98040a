package transport

import (
	"crypto/tls"
	"time"
)

// PoolSizeKind selects how PoolSize.N is interpreted: once per host, or
// once per shard the sharder reports (spec §4.C, §6 connection_pool_size).
// ConnPool honours N only for PerHost on an unsharded server; otherwise
// it opens one connection per shard.
type PoolSizeKind int

const (
	PerHost PoolSizeKind = iota
	PerShard
)

// PoolSize is the connection_pool_size configuration knob.
type PoolSize struct {
	Kind PoolSizeKind
	N    int
}

func DefaultPoolSize() PoolSize { return PoolSize{Kind: PerShard, N: 1} }

// WriteCoalescingDelayKind selects between a fixed delay and the
// driver's small jittered default (spec §4.B, §6 write_coalescing_delay).
type WriteCoalescingDelayKind int

const (
	SmallNondeterministic WriteCoalescingDelayKind = iota
	FixedMillis
)

type WriteCoalescingDelay struct {
	Kind   WriteCoalescingDelayKind
	Millis time.Duration
}

// Identity is sent as STARTUP options so operators can see which
// application/driver version is connected (spec §6 `identity`).
type Identity struct {
	DriverName     string
	DriverVersion  string
	ApplicationName    string
	ApplicationVersion string
	ClientID       string
}

// PortRange is an inclusive [Min, Max] range of local ports the pool may
// bind to when selecting a shard-aware source port (spec §4.C).
type PortRange struct {
	Min, Max uint16
}

func DefaultShardAwarePortRange() PortRange {
	return PortRange{Min: 49152, Max: 65535}
}

// SpeculativeExecutionPolicy configures spec §4.G's parallel-attempt
// mechanism. MaxExtraAttempts=0 disables it: the request never fires
// more than one in-flight attempt.
type SpeculativeExecutionPolicy struct {
	Delay           time.Duration
	MaxExtraAttempts int
}

const (
	ShardAwarePortPlain = 19042
	ShardAwarePortTLS   = 19142
)

// ConnConfig collects every per-connection and per-cluster knob from
// spec §6's recognised configuration table. It is shared by
// Connection, ConnPool, and Cluster so a single struct is threaded
// through the whole transport layer, matching the teacher's
// `transport.ConnConfig` role.
type ConnConfig struct {
	// Contact points and addressing.
	LocalIPAddress        string
	ShardAwareLocalPortRange PortRange
	DisallowShardAwarePort   bool

	// TCP/TLS.
	ConnectTimeout     time.Duration
	TCPNoDelay         bool
	TCPKeepaliveInterval time.Duration
	TLSConfig          *tls.Config

	// Wire-level.
	Compression        string // frame.CompressionNone/LZ4/Snappy
	DefaultConsistency uint16

	// RequestTimeout bounds a single logical request (every attempt and
	// retry together), honoured as min(ctx deadline, RequestTimeout)
	// (spec §4.H item 6). Zero disables it, leaving ctx as the only bound.
	RequestTimeout time.Duration

	// Speculative execution: if MaxExtraAttempts > 0, a request that
	// hasn't completed after Delay fires a parallel attempt against the
	// next candidate node, up to MaxExtraAttempts additional attempts;
	// the first to succeed wins and the rest are cancelled (spec §4.G).
	SpeculativeExecution SpeculativeExecutionPolicy

	// Pool.
	ConnectionPoolSize PoolSize

	// Keepalive (CQL-level, distinct from TCP keepalive).
	KeepaliveInterval time.Duration
	KeepaliveTimeout  time.Duration

	// Write coalescing.
	EnableWriteCoalescing bool
	WriteCoalescingDelay  WriteCoalescingDelay

	// Schema/topology refresh.
	SchemaAgreementInterval          time.Duration
	SchemaAgreementTimeout           time.Duration
	SchemaAgreementAutomaticWaiting  bool
	RefreshMetadataOnAutoSchemaAgreement bool
	ClusterMetadataRefreshInterval   time.Duration
	FetchSchemaMetadata              bool
	KeyspacesToFetch                 []string
	MetadataRequestServersideTimeout time.Duration

	// Tracing.
	TracingInfoFetchAttempts    int
	TracingInfoFetchInterval    time.Duration
	TracingInfoFetchConsistency uint16

	// Identity and auth.
	Identity      Identity
	Username      string
	Password      string

	UsedKeyspace          string
	KeyspaceCaseSensitive bool

	Logger Logger
}

// DefaultConnConfig returns the defaults spec §6 names, with keyspace
// pre-selected (empty string means none).
func DefaultConnConfig(keyspace string) ConnConfig {
	return ConnConfig{
		ShardAwareLocalPortRange: DefaultShardAwarePortRange(),
		ConnectTimeout:           5 * time.Second,
		TCPNoDelay:               true,
		DefaultConsistency:       QUORUM,
		RequestTimeout:           10 * time.Second,
		ConnectionPoolSize:       DefaultPoolSize(),
		KeepaliveInterval:        30 * time.Second,
		KeepaliveTimeout:         30 * time.Second,
		EnableWriteCoalescing:    true,
		WriteCoalescingDelay:     WriteCoalescingDelay{Kind: SmallNondeterministic},
		SchemaAgreementInterval:  200 * time.Millisecond,
		SchemaAgreementTimeout:   60 * time.Second,
		SchemaAgreementAutomaticWaiting:      true,
		RefreshMetadataOnAutoSchemaAgreement: true,
		ClusterMetadataRefreshInterval:       60 * time.Second,
		FetchSchemaMetadata:                  true,
		MetadataRequestServersideTimeout:     2 * time.Second,
		TracingInfoFetchAttempts:             5,
		TracingInfoFetchInterval:             3 * time.Millisecond,
		TracingInfoFetchConsistency:          ONE,
		UsedKeyspace:                         keyspace,
		Logger:                               DefaultLogger{},
	}
}

// Consistency constants, native protocol v4 §4. Re-exported here so
// transport-layer callers (pool, cluster) need not import frame for the
// common case.
const (
	ANY         = 0x0000
	ONE         = 0x0001
	TWO         = 0x0002
	THREE       = 0x0003
	QUORUM      = 0x0004
	ALL         = 0x0005
	LOCALQUORUM = 0x0006
	EACHQUORUM  = 0x0007
	SERIAL      = 0x0008
	LOCALSERIAL = 0x0009
	LOCALONE    = 0x000A
)

// checkTCPKeepalive implements spec §9's "warn, don't reject" open
// question: a very short keepalive interval is accepted, just logged.
func checkTCPKeepalive(cfg *ConnConfig, log *internalLogger) {
	if cfg.TCPKeepaliveInterval > 0 && cfg.TCPKeepaliveInterval <= time.Second {
		log.warn("tcp_keepalive_interval of %s is unusually low; accepting it, but this may cause excessive keepalive traffic", cfg.TCPKeepaliveInterval)
	}
}
