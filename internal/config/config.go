// Package config layers defaults, an optional YAML file, .env and environment variables.
package config

import (
	"github.com/joho/godotenv"
	"github.com/petrzlen/vocode-streaming/pkg/coordinator"
	"github.com/petrzlen/vocode-streaming/pkg/synthesizer"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	OpenAIAPIKey string `yaml:"-"` // secrets only come from the environment
	LogLevel     string `yaml:"log_level"`
	HTTPAddr     string `yaml:"http_addr"`
	DebugDir     string `yaml:"debug_dir"` // dump synthesized clips here when set

	Speech SpeechConfig `yaml:"speech"`
	Chat   ChatConfig   `yaml:"chat"`
	Audio  AudioConfig  `yaml:"audio"`
}

type SpeechConfig struct {
	Voice            string  `yaml:"voice"`
	Speed            float64 `yaml:"speed"`
	Model            string  `yaml:"model"`
	Format           string  `yaml:"format"`
	MinUnitLength    int     `yaml:"min_unit_length"`
	NoiseFloor       int     `yaml:"noise_floor"`
	LastResortFloor  int     `yaml:"last_resort_floor"`
	StallTimeoutMS   int     `yaml:"stall_timeout_ms"`
	MaxInFlight      int     `yaml:"max_in_flight"`
	SkipFailedChunks bool    `yaml:"skip_failed_chunks"`
}

type ChatConfig struct {
	FastModel  string `yaml:"fast_model"`
	SmartModel string `yaml:"smart_model"`
}

type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
}

func Default() Config {
	return Config{
		LogLevel: "debug",
		HTTPAddr: ":8081",
		Speech: SpeechConfig{
			Voice:           "alloy",
			Speed:           1.0,
			Model:           "tts-1",
			Format:          "mp3",
			MinUnitLength:   28,
			NoiseFloor:      10,
			LastResortFloor: 10,
			StallTimeoutMS:  1200,
			MaxInFlight:     4,
		},
		Chat: ChatConfig{
			FastModel:  "gpt-3.5-turbo",
			SmartModel: "gpt-4",
		},
		Audio: AudioConfig{
			SampleRate: 24000, // what OpenAI TTS produces
		},
	}
}

// Load reads path (skipped when empty), then .env (if present), then the environment.
func Load(path string) (cfg Config, err error) {
	cfg = Default()

	if path != "" {
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			err = errors.Wrapf(readErr, "failed to read config file %s", path)
			return
		}
		if err = yaml.Unmarshal(data, &cfg); err != nil {
			err = errors.Wrapf(err, "failed to parse config file %s", path)
			return
		}
	}

	if dotenvErr := godotenv.Load(); dotenvErr != nil {
		log.Debug().Err(dotenvErr).Msg("no .env file loaded, using the environment as is")
	}
	applyEnvOverrides(&cfg)

	err = cfg.Validate()
	return
}

// LoadFromEnv is Load with the file path taken from VOCODE_CONFIG.
func LoadFromEnv() (Config, error) {
	return Load(os.Getenv("VOCODE_CONFIG"))
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.OpenAIAPIKey, "OPEN_AI_API_KEY")
	overrideString(&cfg.LogLevel, "LOG_LEVEL")
	overrideString(&cfg.HTTPAddr, "VOCODE_HTTP_ADDR")
	overrideString(&cfg.DebugDir, "VOCODE_DEBUG_DIR")
	overrideString(&cfg.Speech.Voice, "VOCODE_VOICE")
	overrideFloat(&cfg.Speech.Speed, "VOCODE_SPEED")
	overrideInt(&cfg.Speech.MinUnitLength, "VOCODE_MIN_UNIT_LENGTH")
	overrideInt(&cfg.Speech.StallTimeoutMS, "VOCODE_STALL_TIMEOUT_MS")
	overrideInt(&cfg.Speech.MaxInFlight, "VOCODE_MAX_IN_FLIGHT")
	overrideBool(&cfg.Speech.SkipFailedChunks, "VOCODE_SKIP_FAILED")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		} else {
			log.Warn().Str("env", envKey).Str("value", value).Msg("ignoring non-integer override")
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func (c Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return errors.New("OPEN_AI_API_KEY must be set")
	}
	if c.Speech.Voice == "" {
		return errors.New("speech.voice must not be empty")
	}
	if c.Speech.MinUnitLength <= 0 {
		return errors.New("speech.min_unit_length must be positive")
	}
	if c.Speech.LastResortFloor <= 0 || c.Speech.LastResortFloor > c.Speech.MinUnitLength {
		return errors.New("speech.last_resort_floor must be between 1 and min_unit_length")
	}
	if c.Speech.StallTimeoutMS <= 0 {
		return errors.New("speech.stall_timeout_ms must be positive")
	}
	if c.Speech.MaxInFlight <= 0 {
		return errors.New("speech.max_in_flight must be >= 1")
	}
	if c.Speech.Speed < 0.25 || c.Speech.Speed > 4.0 {
		return errors.New("speech.speed must be between 0.25 and 4.0")
	}
	switch c.Speech.Format {
	case "mp3", "flac", "wav":
	default:
		return errors.New("speech.format must be one of mp3|flac|wav")
	}
	if c.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	return nil
}

func (c Config) StallTimeout() time.Duration {
	return time.Duration(c.Speech.StallTimeoutMS) * time.Millisecond
}

func (c Config) Coordinator() coordinator.Config {
	return coordinator.Config{
		MinUnitLength:    c.Speech.MinUnitLength,
		NoiseFloor:       c.Speech.NoiseFloor,
		LastResortFloor:  c.Speech.LastResortFloor,
		StallTimeout:     c.StallTimeout(),
		Voice:            c.Speech.Voice,
		SkipFailedChunks: c.Speech.SkipFailedChunks,
	}
}

// DispatcherOptions wires concurrency, speed and the optional debug dump directory.
func (c Config) DispatcherOptions() (opts []synthesizer.DispatcherOption, err error) {
	opts = []synthesizer.DispatcherOption{
		synthesizer.WithMaxInFlight(c.Speech.MaxInFlight),
		synthesizer.WithSpeed(c.Speech.Speed),
	}
	if c.DebugDir == "" {
		return
	}
	osFs := afero.NewOsFs()
	if err = osFs.MkdirAll(c.DebugDir, 0o755); err != nil {
		err = errors.Wrapf(err, "cannot create debug dir %s", c.DebugDir)
		return
	}
	opts = append(opts, synthesizer.WithDebugFs(afero.NewBasePathFs(osFs, c.DebugDir)))
	return
}

func (c Config) TTSOptions() []synthesizer.OpenAITTSOption {
	return []synthesizer.OpenAITTSOption{
		synthesizer.WithModel(c.Speech.Model),
		synthesizer.WithResponseFormat(c.Speech.Format),
	}
}
