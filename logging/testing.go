package logging

import (
	"fmt"
	"sort"
	"strings"
	"testing"
)

var _ Logger = (*TestLogger)(nil)

// TestLogger routes log output through the Go testing framework, so io
// loop output shows up attached to the test that produced it.
type TestLogger struct {
	t      *testing.T
	fields map[string]any
}

func NewTestLogger(t *testing.T) *TestLogger {
	return &TestLogger{
		t:      t,
		fields: map[string]any{},
	}
}

func (l *TestLogger) withFields(fields Fields) *TestLogger {
	n := &TestLogger{
		t:      l.t,
		fields: make(map[string]any, len(l.fields)+len(fields)),
	}
	for k, v := range l.fields {
		n.fields[k] = v
	}
	for k, v := range fields {
		n.fields[k] = v
	}
	return n
}

func (l *TestLogger) Debugf(format string, args ...any) {
	l.t.Helper()
	l.logf("DEBUG", format, args...)
}

func (l *TestLogger) Infof(format string, args ...any) {
	l.t.Helper()
	l.logf("INFO", format, args...)
}

func (l *TestLogger) Warnf(format string, args ...any) {
	l.t.Helper()
	l.logf("WARN", format, args...)
}

func (l *TestLogger) Errorf(format string, args ...any) {
	l.t.Helper()
	l.logf("ERROR", format, args...)
}

func (l *TestLogger) Debug(args ...any) {
	l.t.Helper()
	l.logf("DEBUG", "%s", fmt.Sprint(args...))
}

func (l *TestLogger) Info(args ...any) {
	l.t.Helper()
	l.logf("INFO", "%s", fmt.Sprint(args...))
}

func (l *TestLogger) Warn(args ...any) {
	l.t.Helper()
	l.logf("WARN", "%s", fmt.Sprint(args...))
}

func (l *TestLogger) Error(args ...any) {
	l.t.Helper()
	l.logf("ERROR", "%s", fmt.Sprint(args...))
}

func (l *TestLogger) WithError(err error) Logger {
	return l.withFields(Fields{"error": err})
}

func (l *TestLogger) WithField(key string, value any) Logger {
	return l.withFields(Fields{key: value})
}

func (l *TestLogger) WithFields(fields Fields) Logger {
	return l.withFields(fields)
}

func (l *TestLogger) logf(level, format string, args ...any) {
	l.t.Helper()

	kv := make([]string, 0, len(l.fields))
	for k, v := range l.fields {
		kv = append(kv, fmt.Sprintf("%s=%v", k, v))
	}
	sort.Strings(kv)

	msg := fmt.Sprintf("level=%s, msg=%s", strings.ToLower(level), fmt.Sprintf(format, args...))
	if len(kv) > 0 {
		msg += ", " + strings.Join(kv, ", ")
	}
	l.t.Log(msg)
}
