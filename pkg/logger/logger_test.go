package logger_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfdb/shelfdb.go/pkg/logger"
)

func TestLog(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	templogger, err := logger.NewBuild().FromBuffer(buff).Make()
	require.NoError(t, err)
	require.NotNil(t, templogger)

	require.Equal(t, 0, buff.Len())
	templogger.Info("Test", "store", "tests", "count", 2)
	require.Contains(t, buff.String(), "Test")
	assert.Contains(t, buff.String(), `"store":"tests"`)
	assert.Contains(t, buff.String(), `"count":2`)
}

func TestLogLevelFilters(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	l, err := logger.NewBuild().FromBuffer(buff).Level("warn").Make()
	require.NoError(t, err)

	l.Debug("hidden")
	l.Info("hidden")
	assert.Equal(t, 0, buff.Len())

	l.Error("failed", "err", errors.New("boom"))
	assert.Contains(t, buff.String(), `"err":"boom"`)
}

func TestWithPrependsArgs(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	l, err := logger.NewBuild().FromBuffer(buff).Make()
	require.NoError(t, err)

	logger.With(l, "component", "memory").Info("opened", "store", "tests")
	assert.Contains(t, buff.String(), `"component":"memory"`)
	assert.Contains(t, buff.String(), `"store":"tests"`)
}

func TestNopDiscards(t *testing.T) {
	l := logger.Nop()
	assert.NotPanics(t, func() {
		l.Error("x", "k", "v")
		logger.With(l, "a", 1).Debug("y")
	})
}
