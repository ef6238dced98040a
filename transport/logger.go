package transport

import (
	"log"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the public logging seam: callers may plug anything shaped
// like the standard log.Logger (Print/Printf/Println), exactly as the
// teacher driver exposed it.
type Logger interface {
	Print(v ...any)
	Printf(format string, v ...any)
	Println(v ...any)
}

// DefaultLogger discards everything; used when SessionConfig.Logger is
// left unset and the caller has not asked for diagnostics.
type DefaultLogger struct{}

func (DefaultLogger) Print(_ ...any)            {}
func (DefaultLogger) Printf(_ string, _ ...any) {}
func (DefaultLogger) Println(_ ...any)          {}

// DebugLogger routes to the standard logger, useful for quick
// troubleshooting without wiring a structured sink.
type DebugLogger struct{}

func (DebugLogger) Print(v ...any)                 { log.Print(v...) }
func (DebugLogger) Printf(format string, v ...any) { log.Printf(format, v...) }
func (DebugLogger) Println(v ...any)               { log.Println(v...) }

// internalLogger is what the driver's own components (connection
// lifecycle, pool resize, cluster refresh) log through. It fans out to
// a structured zerolog sink in addition to the caller's Logger, since
// these events carry fields (node, shard, reason) that would otherwise
// be lost flattened into a single Printf string.
type internalLogger struct {
	zl   zerolog.Logger
	user Logger
}

func newInternalLogger(user Logger) *internalLogger {
	if user == nil {
		user = DefaultLogger{}
	}
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true}).
		With().Timestamp().Str("component", "scylla-go-driver").Logger()
	return &internalLogger{zl: zl, user: user}
}

func (l *internalLogger) connEvent(addr string, shard int, event string, err error) {
	if err != nil {
		l.zl.Warn().Str("addr", addr).Int("shard", shard).Str("event", event).Err(err).Msg("connection")
		l.user.Printf("connection %s/%d: %s: %v", addr, shard, event, err)
		return
	}
	l.zl.Debug().Str("addr", addr).Int("shard", shard).Str("event", event).Msg("connection")
	l.user.Printf("connection %s/%d: %s", addr, shard, event)
}

func (l *internalLogger) poolEvent(addr, event string) {
	l.zl.Debug().Str("addr", addr).Str("event", event).Msg("pool")
	l.user.Printf("pool %s: %s", addr, event)
}

func (l *internalLogger) clusterEvent(event string, err error) {
	if err != nil {
		l.zl.Warn().Str("event", event).Err(err).Msg("cluster")
		l.user.Printf("cluster: %s: %v", event, err)
		return
	}
	l.zl.Debug().Str("event", event).Msg("cluster")
	l.user.Printf("cluster: %s", event)
}

func (l *internalLogger) warn(format string, args ...any) {
	l.zl.Warn().Msgf(format, args...)
	l.user.Printf(format, args...)
}
