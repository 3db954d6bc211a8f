package logger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/Meesho/BharatMLStack/serving-adapter/pkg/metric"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultLevel         = zerolog.WarnLevel
	defaultDrainInterval = 5 * time.Millisecond

	processInfoField = "processInfo"
	traceInfoField   = "traceInfo"
)

// Config controls the global logger. A positive RingBufferSize routes writes
// through a diode ring buffer that drops lines instead of blocking callers.
type Config struct {
	AppName        string
	Level          string
	RingBufferSize int
	DrainInterval  time.Duration
}

var (
	mu     sync.Mutex
	closer io.Closer
)

// InitLogger installs the global zerolog logger. Later calls reconfigure it
// and flush the previous ring buffer.
func InitLogger(config Config) error {
	if config.AppName == "" {
		return errors.New("logger: app name is not set")
	}
	level, err := parseLevel(config.Level)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	if closer != nil {
		_ = closer.Close()
		closer = nil
	}

	var out io.Writer = os.Stdout
	if config.RingBufferSize > 0 {
		interval := config.DrainInterval
		if interval <= 0 {
			interval = defaultDrainInterval
		}
		dw := ringBuffer(out, config.RingBufferSize, interval)
		closer = dw
		out = dw
	}

	zerolog.SetGlobalLevel(level)
	zerolog.CallerMarshalFunc = func(_ uintptr, file string, line int) string {
		return fmt.Sprintf("[%s::%d]", filepath.Base(file), line)
	}
	zerolog.ErrorStackMarshaler = func(err error) interface{} {
		return fmt.Sprintf("%s\n%s", err, debug.Stack())
	}
	log.Logger = zerolog.New(consoleWriter(out)).
		With().
		Timestamp().
		Caller().
		Str(processInfoField, fmt.Sprintf("- [%s, %d] -", config.AppName, os.Getpid())).
		Logger().
		Hook(TraceHook{})

	log.Info().Msgf("logger initialized at level %s", level)
	return nil
}

// Close flushes the ring buffer, if one is in use.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if closer != nil {
		_ = closer.Close()
		closer = nil
	}
}

func consoleWriter(out io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    true,
		TimeFormat: "2006-01-02 15:04:05.000",
		FormatLevel: func(i interface{}) string {
			return strings.ToUpper(fmt.Sprintf("- [%-5s] -", i))
		},
		FormatCaller:  func(i interface{}) string { return fmt.Sprint(i) },
		FormatMessage: func(i interface{}) string { return fmt.Sprint(i) },
		FieldsExclude: []string{processInfoField, traceInfoField},
		PartsOrder: []string{
			zerolog.TimestampFieldName,
			zerolog.LevelFieldName,
			zerolog.CallerFieldName,
			processInfoField,
			traceInfoField,
			zerolog.MessageFieldName,
		},
	}
}

func ringBuffer(out io.Writer, size int, interval time.Duration) diode.Writer {
	var warnOnce sync.Once
	metric.Incr(metric.LogRbInitialized, []string{})
	return diode.NewWriter(out, size, interval, func(missed int) {
		metric.Count(metric.LogRbDropped, int64(missed), []string{})
		warnOnce.Do(func() {
			fmt.Fprintln(os.Stderr, "logger: ring buffer full, dropping lines")
		})
	})
}

// parseLevel accepts zerolog level names in any case; empty means WARN.
func parseLevel(s string) (zerolog.Level, error) {
	if s == "" {
		return defaultLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("logger: invalid level %q", s)
	}
	if level == zerolog.NoLevel {
		return zerolog.NoLevel, fmt.Errorf("logger: invalid level %q", s)
	}
	return level, nil
}

// TraceHook stamps "(trace,span)" on events logged with a span-carrying
// context.
type TraceHook struct{}

func (TraceHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	sc := trace.SpanFromContext(e.GetCtx()).SpanContext()
	var traceID, spanID string
	if sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	if sc.HasSpanID() {
		spanID = sc.SpanID().String()
	}
	e.Str(traceInfoField, fmt.Sprintf("(%s,%s)", traceID, spanID))
}
