package gitlog

import "github.com/sirupsen/logrus"

// logrusLogger adapts a *logrus.Logger to the Logger interface, matching
// the key/value call shape the rest of the codebase logs with.
type logrusLogger struct {
	entry *logrus.Logger
}

// NewLogrus builds the default Logger, backed by logrus, at the given
// verbosity: 0 = warnings and errors only, 1 = info, 2 = debug.
func NewLogrus(verbosity int) Logger {
	l := logrus.New()
	switch {
	case verbosity >= 2:
		l.SetLevel(logrus.DebugLevel)
	case verbosity == 1:
		l.SetLevel(logrus.InfoLevel)
	default:
		l.SetLevel(logrus.WarnLevel)
	}
	return &logrusLogger{entry: l}
}

func fields(kv []any) logrus.Fields {
	f := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		f[key] = kv[i+1]
	}
	return f
}

func (l *logrusLogger) Debug(msg string, kv ...any) { l.entry.WithFields(fields(kv)).Debug(msg) }
func (l *logrusLogger) Info(msg string, kv ...any)  { l.entry.WithFields(fields(kv)).Info(msg) }
func (l *logrusLogger) Warn(msg string, kv ...any)  { l.entry.WithFields(fields(kv)).Warn(msg) }
func (l *logrusLogger) Error(msg string, kv ...any) { l.entry.WithFields(fields(kv)).Error(msg) }
