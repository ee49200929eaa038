package temporal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSDKLoggerFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewSDKLogger(zap.New(core))

	l.(log.WithLogger).With("Namespace", "default").Warn("Dial failed",
		"Attempt", 2,
		"Callback", func() {},
		"Dangling")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "temporal", entries[0].LoggerName)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)

	fields := entries[0].ContextMap()
	assert.Equal(t, "default", fields["Namespace"])
	assert.EqualValues(t, 2, fields["Attempt"])
	assert.Equal(t, "<func()>", fields["Callback"])
	assert.NotContains(t, fields, "Dangling")
}

func TestSDKLoggerNilLogger(t *testing.T) {
	assert.NotPanics(t, func() { NewSDKLogger(nil).Info("ignored", "k", nil) })
}
