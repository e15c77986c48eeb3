package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu           sync.Mutex
	logger       *zap.Logger
	namedLoggers = make(map[string]*zap.Logger)
)

func init() {
	logger, _ = zap.NewDevelopmentConfig().Build()
}

// Config - настройки логирования
type Config struct {
	Production bool
	Level      string
}

// Build returns a zap logger for the config without touching the global one.
func (c Config) Build() (*zap.Logger, error) {
	conf := zap.NewDevelopmentConfig()
	if c.Production {
		conf = zap.NewProductionConfig()
		conf.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	if c.Level != "" {
		level, err := zap.ParseAtomicLevel(c.Level)
		if err != nil {
			return nil, err
		}
		conf.Level = level
	}
	return conf.Build()
}

// ApplyGlobal replaces the default logger and rebinds existing named loggers.
// Call it once at startup, before components start logging.
func (c Config) ApplyGlobal() error {
	l, err := c.Build()
	if err != nil {
		return err
	}
	SetDefault(l)
	return nil
}

// SetDefault replaces the default logger
func SetDefault(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
	for name, nl := range namedLoggers {
		*nl = *l.Named(name)
	}
}

func Default() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

// NewNamed returns the logger registered under name, creating it on first use.
func NewNamed(name string) *zap.Logger {
	mu.Lock()
	defer mu.Unlock()

	if l, exists := namedLoggers[name]; exists {
		return l
	}
	l := logger.Named(name)
	namedLoggers[name] = l
	return l
}
