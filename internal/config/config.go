package config

import (
	"fmt"
	"path/filepath"
	"time"
)

type Config struct {
	Server   ServerConfig
	Gemini   GeminiConfig
	Storage  StorageConfig
	Blob     BlobConfig
	Batch    BatchConfig
	Schedule ScheduleConfig
	Pipeline PipelineConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port int
}

type GeminiConfig struct {
	BaseURL     string
	APIKey      string
	TextModel   string
	ImageModel  string
	SpeechModel string
	Voice       string
}

type StorageConfig struct {
	DataDir string
}

type BlobConfig struct {
	// Dir is where generated media lands; empty means <data_dir>/media.
	Dir string
	// BaseURL, when set, is prepended to media paths in returned URIs.
	// Empty produces file:// URIs.
	BaseURL string
}

type BatchConfig struct {
	WaveSize  int
	WavePause string
}

// PauseDuration parses WavePause, falling back to 2s on bad input.
func (b BatchConfig) PauseDuration() time.Duration {
	d, err := time.ParseDuration(b.WavePause)
	if err != nil || d < 0 {
		return 2 * time.Second
	}
	return d
}

type ScheduleConfig struct {
	Enabled bool
	At      string
}

type PipelineConfig struct {
	MaxProgressNotes int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		Gemini: GeminiConfig{
			BaseURL:     "https://generativelanguage.googleapis.com",
			TextModel:   "gemini-2.5-flash",
			ImageModel:  "imagen-3.0-generate-002",
			SpeechModel: "gemini-2.5-flash-preview-tts",
			Voice:       "Kore",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Batch: BatchConfig{
			WaveSize:  5,
			WavePause: "2s",
		},
		Schedule: ScheduleConfig{
			Enabled: false,
			At:      "06:00",
		},
		Pipeline: PipelineConfig{
			MaxProgressNotes: 5,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/forja/config.json, then applies FORJA_* environment
// overrides. The Gemini API key may also come from the local secret store.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

func loadWith(b ConfigBackend, kc Keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Blob.Dir == "" {
		cfg.Blob.Dir = filepath.Join(cfg.Storage.DataDir, "media")
	}

	// Secret store fallback for the API key.
	if cfg.Gemini.APIKey == "" {
		if key, err := kc.Get(secretService, "gemini_api_key"); err == nil && key != "" {
			cfg.Gemini.APIKey = key
		}
	}

	if cfg.Gemini.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: Gemini API key. Set it via environment variable FORJA_GEMINI_API_KEY")
	}

	if cfg.Schedule.Enabled {
		if _, err := time.Parse("15:04", cfg.Schedule.At); err != nil {
			return Config{}, fmt.Errorf("invalid schedule.daily_at %q: must be HH:MM", cfg.Schedule.At)
		}
	}

	return cfg, nil
}
