package wschain

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf).WithField("conn", "c1").WithField("a", 1)

	l.Debugf("sent %d bytes", 3)
	l.Warnln("slow", "peer")

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)

	pattern := regexp.MustCompile(`^\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{3}\] `)
	assert.Regexp(t, pattern, lines[0])
	assert.True(t, strings.HasSuffix(lines[0], "DEBUG [a=1, conn=c1]: sent 3 bytes"))
	assert.True(t, strings.HasSuffix(lines[1], "WARN [a=1, conn=c1]: slow peer"))
}

func TestWriterLogger_WithFieldDoesNotLeak(t *testing.T) {
	var buf bytes.Buffer
	base := NewWriterLogger(&buf)
	_ = base.WithField("k", "v")

	base.Info("plain")
	assert.True(t, strings.HasSuffix(buf.String(), "INFO: plain\n"))
}

func TestZerologLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologLogger(zerolog.New(&buf)).WithField("endpoint", "e1")

	l.Errorf("serve: %s", "boom")
	l.Infoln("a", "b")

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "error", first["level"])
	assert.Equal(t, "e1", first["endpoint"])
	assert.Equal(t, "serve: boom", first["message"])

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "a b", second["message"])
}

func TestNopLogger(t *testing.T) {
	l := NopLogger().WithField("k", "v")
	assert.NotPanics(t, func() {
		l.Debug("x")
		l.Errorf("%d", 1)
	})
}
