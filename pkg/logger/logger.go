package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap logger
type Logger struct {
	*zap.Logger
}

type settings struct {
	console bool
	output  zapcore.WriteSyncer
	fields  []zap.Field
}

// Option configures New.
type Option func(*settings)

// WithConsole switches to the human-readable encoder used in development.
func WithConsole(enabled bool) Option {
	return func(s *settings) { s.console = enabled }
}

// WithOutput redirects log lines away from stdout.
func WithOutput(w zapcore.WriteSyncer) Option {
	return func(s *settings) { s.output = w }
}

// WithService stamps every line with the service name and environment.
func WithService(name, environment string) Option {
	return func(s *settings) {
		s.fields = append(s.fields, zap.String("service", name), zap.String("environment", environment))
	}
}

// New creates a new logger instance
func New(level string, opts ...Option) (*Logger, error) {
	s := settings{output: zapcore.AddSync(os.Stdout)}
	for _, opt := range opts {
		opt(&s)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if s.console {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, s.output, ParseLevel(level))
	zapLogger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)).With(s.fields...)

	return &Logger{Logger: zapLogger}, nil
}

// NewNop returns a logger that discards everything. Used by tests.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// ParseLevel maps a LOG_LEVEL value to a zap level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	var l zapcore.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "warning":
		return zapcore.WarnLevel
	case "":
		return zapcore.InfoLevel
	}
	if err := l.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		return zapcore.InfoLevel
	}
	return l
}

// WithField adds a field to the logger
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{Logger: l.Logger.With(zap.Any(key, value))}
}

// WithFields adds multiple fields to the logger
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	zapFields := make([]zap.Field, 0, len(fields))
	for key, value := range fields {
		zapFields = append(zapFields, zap.Any(key, value))
	}
	return &Logger{Logger: l.Logger.With(zapFields...)}
}

// WithError adds an error field to the logger
func (l *Logger) WithError(err error) *Logger {
	return &Logger{Logger: l.Logger.With(zap.Error(err))}
}

// WithClient scopes the logger to one client id.
func (l *Logger) WithClient(clientID string) *Logger {
	return &Logger{Logger: l.Logger.With(zap.String("client_id", clientID))}
}

// WithEmail adds a hashed email field so addresses never reach the log sink
func (l *Logger) WithEmail(email string) *Logger {
	return l.WithField("email_hash", HashEmail(email))
}

// HashEmail returns a short, stable fingerprint of a normalized email address
func HashEmail(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])[:12]
}
