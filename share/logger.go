package pdshare

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"go.uber.org/zap"
)

// LogLevel specifies the level of spew that shoud go to the log
type LogLevel int

const (
	// LogLevelUnknown is a default value for LogLevel. It's
	// behavior is undefined
	LogLevelUnknown LogLevel = iota

	// LogLevelPanic causes output of an error message followed by a panic
	LogLevelPanic

	// LogLevelFatal causes output of an error message followed by os.Exit(1)
	LogLevelFatal

	// LogLevelError is for unexpected error messages
	LogLevelError

	// LogLevelWarning is for Warning messages
	LogLevelWarning

	// LogLevelInfo is for Info messages
	LogLevelInfo

	// LogLevelDebug is for debug messaged
	LogLevelDebug

	// LogLevelTrace is for trace messages
	LogLevelTrace
)

var logLevelNames = [...]string{
	"unknown", "panic", "fatal", "error", "warning", "info", "debug", "trace",
}

var nameToLogLevel = func() map[string]LogLevel {
	var result = make(map[string]LogLevel)
	for i, name := range logLevelNames {
		result[name] = LogLevel(i)
	}
	result["warn"] = LogLevelWarning
	return result
}()

// StringToLogLevel converts a string to a LogLevel
func StringToLogLevel(s string) LogLevel {
	result, ok := nameToLogLevel[strings.ToLower(s)]
	if !ok {
		result = LogLevelUnknown
	}
	return result
}

func (x LogLevel) String() string {
	if x < LogLevelUnknown || x > LogLevelTrace {
		x = LogLevelUnknown
	}
	return logLevelNames[x]
}

// FromString initializes a LogLevel from a string
func (x *LogLevel) FromString(s string) error {
	result := StringToLogLevel(s)
	if result == LogLevelUnknown {
		return fmt.Errorf("Unknown log level: \"%s\"", s)
	}
	*x = result
	return nil
}

// MinLogger is a minimal logging sink
type MinLogger interface {
	Print(args ...interface{})
}

// LevelPrinter is implemented by sinks that want to see the level of each record
// (e.g., structured sinks). BasicLogger prefers it over Print when available.
type LevelPrinter interface {
	PrintLevel(logLevel LogLevel, prefix string, msg string)
}

// Logger is an interface for a logging component that supports logging levels and prefix forking
type Logger interface {
	// Prefix returns the Logger's prefix string (does not include ": " trailer)
	Prefix() string

	// GetLogLevel returns the current log level
	GetLogLevel() LogLevel

	// SetLogLevel changes the log level
	SetLogLevel(logLevel LogLevel)

	// Panicf outputs a log message and then panics
	Panicf(f string, args ...interface{})

	// Fatalf outputs a log message and then exits with error status
	Fatalf(f string, args ...interface{})

	// Logf outputs to a Logger iff logging level is enabled
	Logf(logLevel LogLevel, f string, args ...interface{})

	// ELogf outputs to a Logger iff ERROR logging level is enabled
	ELogf(f string, args ...interface{})

	// WLogf outputs to a Logger iff WARNING logging level is enabled
	WLogf(f string, args ...interface{})

	// ILogf outputs to a Logger iff INFO logging level is enabled
	ILogf(f string, args ...interface{})

	// DLogf outputs to a Logger iff DEBUG logging level is enabled
	DLogf(f string, args ...interface{})

	// TLogf outputs to a Logger iff TRACE logging level is enabled
	TLogf(f string, args ...interface{})

	// Errorf returns an error object with a description string that has the
	// Logger's prefix
	Errorf(f string, args ...interface{}) error

	// Sprintf returns a string that has the Logger's prefix
	Sprintf(f string, args ...interface{}) string

	// ELogErrorf outputs an error message to a Logger iff ERROR logging level is enabled,
	// and returns an error object with a description string that has the
	// logger's prefix
	ELogErrorf(f string, args ...interface{}) error

	// WLogErrorf is like ELogErrorf at WARNING level
	WLogErrorf(f string, args ...interface{}) error

	// DLogErrorf is like ELogErrorf at DEBUG level
	DLogErrorf(f string, args ...interface{}) error

	// Fork creates a new Logger that has an additional formatted string appended onto
	// an existing logger's prefix (with ": " added between)
	Fork(prefix string, args ...interface{}) Logger
}

// BasicLogger is a logical log output stream with a level filter
// and a prefix added to each output record.
type BasicLogger struct {
	prefix string
	// prefixC is prefix if prefix is empty; otherwise prefix + ": "
	prefixC  string
	sink     MinLogger
	logLevel LogLevel
}

const defaultLogFlags = log.Ldate | log.Ltime

type loggerOptions struct {
	writer   io.Writer
	prefix   string
	logLevel LogLevel
	flags    int
	zap      *zap.Logger
}

// Option configures New
type Option func(*loggerOptions) error

// WithWriter directs text output to w instead of os.Stderr
func WithWriter(w io.Writer) Option {
	return func(o *loggerOptions) error {
		if w == nil {
			return fmt.Errorf("nil log writer")
		}
		o.writer = w
		return nil
	}
}

// WithPrefix sets the root prefix
func WithPrefix(prefix string) Option {
	return func(o *loggerOptions) error {
		o.prefix = prefix
		return nil
	}
}

// WithLogLevel sets the initial log level
func WithLogLevel(logLevel LogLevel) Option {
	return func(o *loggerOptions) error {
		if logLevel <= LogLevelUnknown || logLevel > LogLevelTrace {
			return fmt.Errorf("invalid log level: %d", int(logLevel))
		}
		o.logLevel = logLevel
		return nil
	}
}

// WithFlags sets the standard library log flags used by the text sink
func WithFlags(flags int) Option {
	return func(o *loggerOptions) error {
		o.flags = flags
		return nil
	}
}

// WithZap sends records to a zap logger instead of the text sink
func WithZap(z *zap.Logger) Option {
	return func(o *loggerOptions) error {
		o.zap = z
		return nil
	}
}

// New creates a Logger. With no options it writes text records at INFO level to os.Stderr.
func New(opts ...Option) (Logger, error) {
	o := &loggerOptions{
		writer:   os.Stderr,
		logLevel: LogLevelInfo,
		flags:    defaultLogFlags,
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	var sink MinLogger
	if o.zap != nil {
		sink = &zapSink{sugar: o.zap.Sugar()}
	} else {
		sink = log.New(o.writer, "", o.flags)
	}
	return newBasicLogger(sink, o.prefix, o.logLevel), nil
}

func newBasicLogger(sink MinLogger, prefix string, logLevel LogLevel) *BasicLogger {
	prefixC := prefix
	if prefixC != "" {
		prefixC += ": "
	}
	return &BasicLogger{
		prefix:   prefix,
		prefixC:  prefixC,
		sink:     sink,
		logLevel: logLevel,
	}
}

func (l *BasicLogger) emit(logLevel LogLevel, msg string) {
	if lp, ok := l.sink.(LevelPrinter); ok {
		lp.PrintLevel(logLevel, l.prefix, msg)
		return
	}
	l.sink.Print(l.prefixC + msg)
}

// Logf outputs to a Logger if the given logLevel is enabled. Then,
// if the given logLevel is LogLevelPanic or LogLevelFatal, exits appropriately
func (l *BasicLogger) Logf(logLevel LogLevel, f string, args ...interface{}) {
	if logLevel <= l.logLevel || logLevel <= LogLevelFatal {
		msg := fmt.Sprintf(f, args...)
		l.emit(logLevel, msg)
		if logLevel == LogLevelFatal {
			os.Exit(1)
		}
		if logLevel == LogLevelPanic {
			panic(l.prefixC + msg)
		}
	}
}

// Panicf outputs a formatted log message, and then panics
func (l *BasicLogger) Panicf(f string, args ...interface{}) {
	l.Logf(LogLevelPanic, f, args...)
}

// Fatalf outputs a formatted log message, and then exits with error code 1
func (l *BasicLogger) Fatalf(f string, args ...interface{}) {
	l.Logf(LogLevelFatal, f, args...)
}

// ELogf outputs a formatted log message if logLevel permits
func (l *BasicLogger) ELogf(f string, args ...interface{}) {
	l.Logf(LogLevelError, f, args...)
}

// WLogf outputs a formatted log message if logLevel permits
func (l *BasicLogger) WLogf(f string, args ...interface{}) {
	l.Logf(LogLevelWarning, f, args...)
}

// ILogf outputs a formatted log message if logLevel permits
func (l *BasicLogger) ILogf(f string, args ...interface{}) {
	l.Logf(LogLevelInfo, f, args...)
}

// DLogf outputs a formatted log message if logLevel permits
func (l *BasicLogger) DLogf(f string, args ...interface{}) {
	l.Logf(LogLevelDebug, f, args...)
}

// TLogf outputs a formatted log message if logLevel permits
func (l *BasicLogger) TLogf(f string, args ...interface{}) {
	l.Logf(LogLevelTrace, f, args...)
}

// Errorf returns an error object with a description string that has the
// Logger's prefix
func (l *BasicLogger) Errorf(f string, args ...interface{}) error {
	return fmt.Errorf("%s"+f, append([]interface{}{l.prefixC}, args...)...)
}

// Sprintf returns a string that has the Logger's prefix
func (l *BasicLogger) Sprintf(f string, args ...interface{}) string {
	return l.prefixC + fmt.Sprintf(f, args...)
}

func (l *BasicLogger) logErrorf(logLevel LogLevel, f string, args ...interface{}) error {
	err := l.Errorf(f, args...)
	if logLevel <= l.logLevel {
		l.emit(logLevel, fmt.Sprintf(f, args...))
	}
	return err
}

// ELogErrorf outputs an error message to a Logger iff logging level is enabled,
// and returns an error object with a description string that has the
// logger's prefix
func (l *BasicLogger) ELogErrorf(f string, args ...interface{}) error {
	return l.logErrorf(LogLevelError, f, args...)
}

// WLogErrorf is like ELogErrorf at WARNING level
func (l *BasicLogger) WLogErrorf(f string, args ...interface{}) error {
	return l.logErrorf(LogLevelWarning, f, args...)
}

// DLogErrorf is like ELogErrorf at DEBUG level
func (l *BasicLogger) DLogErrorf(f string, args ...interface{}) error {
	return l.logErrorf(LogLevelDebug, f, args...)
}

// Fork creates a new Logger that has an additional formatted string appended onto
// an existing logger's prefix (with ": " added between). The fork shares the
// parent's sink.
func (l *BasicLogger) Fork(prefix string, args ...interface{}) Logger {
	newPrefix := fmt.Sprintf(prefix, args...)
	if l.prefix != "" {
		newPrefix = l.prefix + ": " + newPrefix
	}
	return newBasicLogger(l.sink, newPrefix, l.logLevel)
}

// Prefix returns the Logger's prefix string (does not include ": " trailer)
func (l *BasicLogger) Prefix() string {
	return l.prefix
}

// GetLogLevel returns the log level
func (l *BasicLogger) GetLogLevel() LogLevel {
	return l.logLevel
}

// SetLogLevel sets the log level
func (l *BasicLogger) SetLogLevel(logLevel LogLevel) {
	l.logLevel = logLevel
}

type zapSink struct {
	sugar *zap.SugaredLogger
}

func (s *zapSink) Print(args ...interface{}) {
	s.sugar.Info(args...)
}

func (s *zapSink) PrintLevel(logLevel LogLevel, prefix string, msg string) {
	kv := []interface{}{"component", prefix}
	switch {
	case logLevel <= LogLevelError:
		s.sugar.Errorw(msg, kv...)
	case logLevel == LogLevelWarning:
		s.sugar.Warnw(msg, kv...)
	case logLevel == LogLevelInfo:
		s.sugar.Infow(msg, kv...)
	default:
		s.sugar.Debugw(msg, append(kv, "level_name", logLevel.String())...)
	}
}

// NewJSONZapLogger builds a production zap logger writing JSON records to stderr,
// with zap's own level opened up as far as logLevel requires.
func NewJSONZapLogger(logLevel LogLevel) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.Sampling = nil
	if logLevel >= LogLevelDebug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}
