package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestComponentTagsEntries(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	SetLogger(zap.New(core).Sugar())
	t.Cleanup(func() { SetLogger(nil) })

	Component("sweeper").Infow("swept", "count", 3)
	Warn("plain warning", "k", "v")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "swept", entries[0].Message)
	assert.Equal(t, "sweeper", entries[0].ContextMap()["component"])
	assert.Equal(t, int64(3), entries[0].ContextMap()["count"])
	assert.Equal(t, "v", entries[1].ContextMap()["k"])
}

func TestGetLogger_FallbackWithoutInit(t *testing.T) {
	SetLogger(nil)
	assert.NotNil(t, GetLogger())
	SetLogger(nil)
}

func TestInit(t *testing.T) {
	require.NoError(t, Init("production"))
	assert.NotNil(t, GetLogger())
	SetLogger(nil)
}
