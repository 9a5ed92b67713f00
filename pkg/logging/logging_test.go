package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger_DispatchesByLevel(t *testing.T) {
	var got []string
	record := func(tag string) LogFunc {
		return func(format string, args ...interface{}) {
			got = append(got, tag+":"+format)
		}
	}
	logger := NewLogger("p , ", LogFuncs{
		Debugf: record("debug"),
		Infof:  record("info"),
		Errorf: record("error"),
	})

	logger.Debugf("a")
	logger.Infof("b")
	logger.Warnf("dropped without a warn sink")
	logger.Errorf("c")
	logger.LogLevelf(42, "out of range")

	assert.Equal(t, []string{"debug:p , a", "info:p , b", "error:p , c", "error:p , out of range"}, got)
}

func TestWithPrefix_Composes(t *testing.T) {
	var got []string
	base := NewLogger("module: x , ", LogFuncs{
		LogLevelf: func(level int, format string, args ...interface{}) {
			got = append(got, format)
		},
	})

	WithPrefix(WithPrefix(base, "registrar , "), "attempt , ").Infof("hello %d", 1)
	WithPrefix(&foreignLogger{sink: &got}, "retry , ").Warnf("stale")

	assert.Equal(t, []string{
		"module: x , registrar , attempt , hello %d",
		"retry , stale",
	}, got)
}

type foreignLogger struct {
	sink *[]string
}

func (l *foreignLogger) LogLevelf(level int, format string, args ...interface{}) {
	*l.sink = append(*l.sink, format)
}
func (l *foreignLogger) Debugf(format string, args ...interface{}) {}
func (l *foreignLogger) Infof(format string, args ...interface{})  {}
func (l *foreignLogger) Warnf(format string, args ...interface{})  {}
func (l *foreignLogger) Errorf(format string, args ...interface{}) {}

func TestFromZap_WritesThroughZap(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := FromZap("module: test , ", zap.New(core))

	logger.Debugf("below threshold")
	logger.Infof("installed unit, handle: %d", 3)
	WithPrefix(logger, "client , ").Errorf("lookup failed: %s", "boom")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "module: test , installed unit, handle: 3", entries[0].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "module: test , client , lookup failed: boom", entries[1].Message)
}

func TestNewZapLogger_RejectsUnwritableOutput(t *testing.T) {
	_, _, err := NewZapLogger("", ZapConfig{Level: "info", Format: "json", Output: t.TempDir() + "/missing/dir/log"})
	assert.Error(t, err)

	logger, sync, err := NewZapLogger("", ZapConfig{Level: "bogus", Output: t.TempDir() + "/log"})
	require.NoError(t, err)
	logger.Infof("falls back to info")
	assert.NoError(t, sync())
}
