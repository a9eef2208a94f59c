package log

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

// Options configures the process-wide logger. Zero value means INFO,
// console encoding, production sampling off.
type Options struct {
	Level       Level
	Development bool
	// OutputPaths defaults to stderr so the interactive shell keeps stdout
	// for the calendar itself.
	OutputPaths []string
}

var (
	mu      sync.Mutex
	atom    = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	sugared *zap.SugaredLogger
)

// Init (re)builds the global logger. It is safe to call more than once;
// the last call wins. Packages that log before Init get a stderr logger at
// INFO.
func Init(opts Options) error {
	atom.SetLevel(toZapLevel(opts.Level))

	ec := zap.NewProductionEncoderConfig()
	if opts.Development {
		ec = zap.NewDevelopmentEncoderConfig()
	}
	ec.EncodeTime = zapcore.RFC3339NanoTimeEncoder

	out := opts.OutputPaths
	if len(out) == 0 {
		out = []string{"stderr"}
	}

	zc := zap.Config{
		Level:             atom,
		Development:       opts.Development,
		Encoding:          "console",
		DisableStacktrace: !opts.Development,
		EncoderConfig:     ec,
		OutputPaths:       out,
		ErrorOutputPaths:  []string{"stderr"},
	}
	l, err := zc.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}

	mu.Lock()
	old := sugared
	sugared = l.Sugar()
	mu.Unlock()
	if old != nil {
		_ = old.Sync()
	}
	return nil
}

// ParseLevel maps a config string (debug/info/error, any case) to a Level.
// Unknown values yield LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func SetLevel(l Level) {
	atom.SetLevel(toZapLevel(l))
}

// Sync flushes buffered entries; call before exit.
func Sync() {
	mu.Lock()
	l := sugared
	mu.Unlock()
	if l != nil {
		_ = l.Sync()
	}
}

func Debug(msg string, kv ...any) {
	logger().Debugw(msg, pairs(kv)...)
}

func Info(msg string, kv ...any) {
	logger().Infow(msg, pairs(kv)...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	logger().Errorw(msg, pairs(extended)...)
}

func logger() *zap.SugaredLogger {
	mu.Lock()
	l := sugared
	mu.Unlock()
	if l != nil {
		return l
	}
	if err := Init(Options{Level: LevelInfo}); err != nil {
		return zap.NewNop().Sugar()
	}
	mu.Lock()
	defer mu.Unlock()
	return sugared
}

// pairs keeps key/value pairs whose key is a string. A trailing key with no
// value is dropped.
func pairs(kv []any) []any {
	out := make([]any, 0, len(kv))
	for i := 0; i+1 < len(kv); i += 2 {
		if _, ok := kv[i].(string); !ok {
			continue
		}
		out = append(out, kv[i], kv[i+1])
	}
	return out
}

func toZapLevel(l Level) zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
