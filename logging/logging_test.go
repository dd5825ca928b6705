package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pet-adoption-pipeline/config"
)

func TestWithComponentAddsField(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })

	log.Logger = NewLogger(&buf)
	l := WithComponent("pacing")
	l.Info().Msg("hello")

	assert.Contains(t, buf.String(), `"component":"pacing"`)
	assert.Contains(t, buf.String(), `"message":"hello"`)
}

func TestInitWritesFileSink(t *testing.T) {
	prev := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	path := filepath.Join(t.TempDir(), "logs", "pipeline.log")
	Init(config.LogConfig{Level: "warn", File: path, MaxSizeMB: 1}, false)
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	log.Warn().Str("stage", "compose").Msg("music missing")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "music missing")
}
