package logging

const (
	LogLevelDebug = 0
	LogLevelInfo  = 1
	LogLevelWarn  = 2
	LogLevelError = 3
)

// Logger is the printf-style logging surface shared by every package.
// Prefixes such as "module: hsu-endpoint-server , " are prepended to the format.
type Logger interface {
	LogLevelf(level int, format string, args ...interface{})
	Debugf(msg string, args ...interface{})
	Infof(msg string, args ...interface{})
	Warnf(msg string, args ...interface{})
	Errorf(msg string, args ...interface{})
}

type LogLevelFunc func(level int, format string, args ...interface{})
type LogFunc func(format string, args ...interface{})

// LogFuncs are the sinks of a logger. LogLevelf, when set, receives every level.
type LogFuncs struct {
	LogLevelf LogLevelFunc
	Debugf    LogFunc
	Infof     LogFunc
	Warnf     LogFunc
	Errorf    LogFunc
}

type logger struct {
	prefix string
	levelf LogLevelFunc
	sinks  [LogLevelError + 1]LogFunc
}

func NewLogger(prefix string, funcs LogFuncs) Logger {
	return &logger{
		prefix: prefix,
		levelf: funcs.LogLevelf,
		sinks:  [LogLevelError + 1]LogFunc{funcs.Debugf, funcs.Infof, funcs.Warnf, funcs.Errorf},
	}
}

// WithPrefix derives a logger that prepends prefix to every message of parent.
func WithPrefix(parent Logger, prefix string) Logger {
	if base, ok := parent.(*logger); ok {
		derived := *base
		derived.prefix = base.prefix + prefix
		return &derived
	}
	return &logger{prefix: prefix, levelf: parent.LogLevelf}
}

func (l *logger) LogLevelf(level int, format string, args ...interface{}) {
	format = l.prefix + format
	if l.levelf != nil {
		l.levelf(level, format, args...)
		return
	}
	if level < LogLevelDebug || level > LogLevelError {
		level = LogLevelError
	}
	if sink := l.sinks[level]; sink != nil {
		sink(format, args...)
	}
}

func (l *logger) Debugf(msg string, args ...interface{}) {
	l.LogLevelf(LogLevelDebug, msg, args...)
}

func (l *logger) Infof(msg string, args ...interface{}) {
	l.LogLevelf(LogLevelInfo, msg, args...)
}

func (l *logger) Warnf(msg string, args ...interface{}) {
	l.LogLevelf(LogLevelWarn, msg, args...)
}

func (l *logger) Errorf(msg string, args ...interface{}) {
	l.LogLevelf(LogLevelError, msg, args...)
}
