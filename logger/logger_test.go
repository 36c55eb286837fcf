package logger

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogger(t *testing.T) {
	buf := new(bytes.Buffer)
	l := NewLogger(WithLevel(TraceLevel), WithOutput(buf))

	h1 := NewHelper(l.Fields(map[string]interface{}{"key1": "val1"}))
	h1.Tracef("trace_%s", "msg1")
	h1.Warn("warn_msg1")

	h2 := NewHelper(l).WithError(errors.New("boom"))
	h2.Errorf("error_%s", "msg2")

	l.Fields(map[string]interface{}{"key3": "val4"}).Log(InfoLevel, "test_msg")

	out := buf.String()
	assert.Contains(t, out, "trace_msg1")
	assert.Contains(t, out, "key1=val1")
	assert.Contains(t, out, "error_msg2")
	assert.Contains(t, out, "error=boom")
	assert.Contains(t, out, "key3=val4")
}

func TestLevelFilter(t *testing.T) {
	buf := new(bytes.Buffer)
	l := NewLogger(WithLevel(WarnLevel), WithOutput(buf))

	l.Log(InfoLevel, "hidden")
	l.Log(ErrorLevel, "shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.True(t, l.Options().Level.Enabled(ErrorLevel))
	assert.False(t, l.Options().Level.Enabled(DebugLevel))
}

func TestGetLevel(t *testing.T) {
	for _, lvl := range []Level{TraceLevel, DebugLevel, InfoLevel, WarnLevel, ErrorLevel, FatalLevel} {
		got, err := GetLevel(lvl.String())
		assert.NoError(t, err)
		assert.Equal(t, lvl, got)
	}

	got, err := GetLevel("verbose")
	assert.Error(t, err)
	assert.Equal(t, InfoLevel, got)
}

func TestWithName(t *testing.T) {
	buf := new(bytes.Buffer)
	l := NewLogger(WithOutput(buf), WithName("ttl"))
	l.Logf(InfoLevel, "sweep %d", 3)

	assert.Contains(t, buf.String(), "component=ttl")
	assert.Contains(t, buf.String(), "sweep 3")
}
