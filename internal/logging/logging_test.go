package logging

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

const (
	filePrefix = "test"
	fileSuffix = ".log"
	gzipSuffix = ".gz"
)

func TestNewFilePlugin_RotatesAndCompresses(t *testing.T) {
	p, c := NewFilePlugin(filePrefix+fileSuffix, zapcore.DebugLevel)
	logger := NewLogger(p)
	b := make([]byte, 10000)
	count := 10000
	for count > 0 {
		count--
		logger.Info(string(b))
	}
	require.NoError(t, c.Close())
	time.Sleep(3 * time.Second)

	fs, err := os.ReadDir(".")
	require.NoError(t, err)
	var logCount, gzCount int
	for _, f := range fs {
		name := f.Name()
		if !strings.HasPrefix(name, filePrefix) {
			continue
		}
		if strings.HasSuffix(name, fileSuffix) {
			logCount++
			assert.NoError(t, os.Remove(name))
			continue
		}
		if strings.HasSuffix(name, fileSuffix+gzipSuffix) {
			gzCount++
			assert.NoError(t, os.Remove(name))
		}
	}

	require.Equal(t, 1, logCount)
	require.Equal(t, 2, gzCount)
}

func TestNewStdoutPlugin_BuildsUsableLogger(t *testing.T) {
	core := NewStdoutPlugin(zapcore.InfoLevel)
	logger := NewLogger(core)
	assert.NotNil(t, logger)
	logger.Info("logging package smoke test")
}
