package logging

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNew_ParsesRecognizedLevel(t *testing.T) {
	log := New("debug")
	require.Equal(t, zerolog.DebugLevel, log.GetLevel())
}

func TestNew_UnrecognizedLevelFallsBackToInfo(t *testing.T) {
	log := New("not-a-level")
	require.Equal(t, zerolog.InfoLevel, log.GetLevel())
}

func TestFrom_ReturnsAttachedLogger(t *testing.T) {
	log := New("warn")
	ctx := WithLogger(context.Background(), log)

	got := From(ctx)
	require.Equal(t, zerolog.WarnLevel, got.GetLevel())
}

func TestFrom_ReturnsNopLoggerWhenNoneAttached(t *testing.T) {
	got := From(context.Background())
	require.Equal(t, zerolog.Disabled, got.GetLevel())
}
