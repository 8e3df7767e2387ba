package common

import (
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputSplitterWriteReturnsLength(t *testing.T) {
	splitter := &OutputSplitter{}

	for _, line := range []string{
		`time="2026-01-01T00:00:00Z" level=info msg="noun saved"`,
		`time="2026-01-01T00:00:00Z" level=error msg="backend write failed"`,
		`level=info msg="error occurred but not error level"`,
		"",
	} {
		n, err := splitter.Write([]byte(line))
		require.NoError(t, err)
		assert.Equal(t, len(line), n)
	}
}

func TestOutputSplitterConcurrentWrites(t *testing.T) {
	splitter := &OutputSplitter{}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			line := `level=info msg="concurrent"`
			if i%2 == 0 {
				line = `level=error msg="concurrent"`
			}
			_, err := splitter.Write([]byte(line))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
}

func TestGlobalLoggerUsesSplitter(t *testing.T) {
	require.NotNil(t, Logger)
	_, ok := Logger.Out.(*OutputSplitter)
	assert.True(t, ok, "package logger should route output through OutputSplitter")
}

func TestNewLoggerLevels(t *testing.T) {
	logger := NewLogger(LoggerConfig{Level: LogLevelDebug, Format: "json"})
	assert.True(t, logger.IsLevelEnabled(logrus.DebugLevel))
	logger = NewLogger(LoggerConfig{Level: LogLevelError, Format: "text"})
	assert.False(t, logger.IsLevelEnabled(logrus.InfoLevel))
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "<not set>", MaskSecret(""))
	assert.Equal(t, "***", MaskSecret("short"))
	assert.Equal(t, "myve...y123", MaskSecret("myverylongsecretkey123"))
}

func TestContextLoggerFieldChaining(t *testing.T) {
	base := NewContextLogger(nil, map[string]interface{}{"service": "synapsedb"})
	derived := base.WithField("branch", "main")

	assert.Len(t, base.fields, 1, "chaining must not mutate the parent logger")
	assert.Len(t, derived.fields, 2)
}
