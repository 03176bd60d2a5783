package config

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPEN_AI_API_KEY", "sk-test")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.OpenAIAPIKey)
	assert.Equal(t, 28, cfg.Speech.MinUnitLength)
	assert.Equal(t, 10, cfg.Speech.NoiseFloor)
	assert.Equal(t, "alloy", cfg.Speech.Voice)
	assert.Equal(t, 1200*time.Millisecond, cfg.StallTimeout())
	assert.False(t, cfg.Speech.SkipFailedChunks)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocode.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: info
speech:
  voice: nova
  min_unit_length: 40
  max_in_flight: 2
chat:
  fast_model: gpt-4o-mini
`), 0644))
	t.Setenv("OPEN_AI_API_KEY", "sk-test")
	t.Setenv("VOCODE_VOICE", "echo")
	t.Setenv("VOCODE_SKIP_FAILED", "true")
	t.Setenv("VOCODE_STALL_TIMEOUT_MS", "900")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "echo", cfg.Speech.Voice, "env wins over the file")
	assert.Equal(t, 40, cfg.Speech.MinUnitLength)
	assert.Equal(t, 2, cfg.Speech.MaxInFlight)
	assert.Equal(t, "gpt-4o-mini", cfg.Chat.FastModel)
	assert.Equal(t, "gpt-4", cfg.Chat.SmartModel, "untouched defaults survive")
	assert.True(t, cfg.Speech.SkipFailedChunks)
	assert.Equal(t, 900*time.Millisecond, cfg.StallTimeout())
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("OPEN_AI_API_KEY", "sk-test")

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadIgnoresGarbageOverride(t *testing.T) {
	t.Setenv("OPEN_AI_API_KEY", "sk-test")
	t.Setenv("VOCODE_MIN_UNIT_LENGTH", "many")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 28, cfg.Speech.MinUnitLength)
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.OpenAIAPIKey = "sk-test"
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing api key", func(c *Config) { c.OpenAIAPIKey = "" }},
		{"zero min length", func(c *Config) { c.Speech.MinUnitLength = 0 }},
		{"last resort above min", func(c *Config) { c.Speech.LastResortFloor = 50 }},
		{"negative stall", func(c *Config) { c.Speech.StallTimeoutMS = -1 }},
		{"no in flight", func(c *Config) { c.Speech.MaxInFlight = 0 }},
		{"speed", func(c *Config) { c.Speech.Speed = 9 }},
		{"format", func(c *Config) { c.Speech.Format = "ogg" }},
		{"empty voice", func(c *Config) { c.Speech.Voice = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestCoordinatorConfig(t *testing.T) {
	cfg := Default()
	cfg.Speech.SkipFailedChunks = true
	cfg.Speech.Voice = "nova"

	coordinatorCfg := cfg.Coordinator()

	assert.Equal(t, 28, coordinatorCfg.MinUnitLength)
	assert.Equal(t, 10, coordinatorCfg.LastResortFloor)
	assert.Equal(t, 1200*time.Millisecond, coordinatorCfg.StallTimeout)
	assert.Equal(t, "nova", coordinatorCfg.Voice)
	assert.True(t, coordinatorCfg.SkipFailedChunks)
}

func TestDispatcherOptionsCreatesDebugDir(t *testing.T) {
	cfg := Default()
	opts, err := cfg.DispatcherOptions()
	require.NoError(t, err)
	assert.Len(t, opts, 2)

	cfg.DebugDir = filepath.Join(t.TempDir(), "clips")
	opts, err = cfg.DispatcherOptions()
	require.NoError(t, err)
	assert.Len(t, opts, 3)
	assert.DirExists(t, cfg.DebugDir)
}
