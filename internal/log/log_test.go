package log

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{" DEBUG ", LevelDebug},
		{"info", LevelInfo},
		{"error", LevelError},
		{"warn", LevelError},
		{"", LevelInfo},
		{"bogus", LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestLevelsAndFields(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelInfo)
	t.Cleanup(func() { SetLevel(LevelInfo) })

	Debug("hidden", "k", "v")
	assert.Empty(t, buf.String())

	Info("feed parsed", "events", 3, "dangling")
	out := buf.String()
	assert.Contains(t, out, "feed parsed")
	assert.Contains(t, out, "events=3")
	assert.NotContains(t, out, "dangling")

	buf.Reset()
	Error("fetch failed", errors.New("boom"), "source", "team")
	out = buf.String()
	assert.Contains(t, out, "level=error")
	assert.Contains(t, out, "err=boom")
	assert.Contains(t, out, "source=team")

	buf.Reset()
	SetLevel(LevelDebug)
	Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}
