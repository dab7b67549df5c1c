package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "FORJA_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "gemini.base_url", typ: kString, env: "FORJA_GEMINI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.BaseURL },
	},
	{
		key: "gemini.api_key", typ: kString, env: "FORJA_GEMINI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Gemini.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.APIKey },
	},
	{
		key: "gemini.text_model", typ: kString, env: "FORJA_GEMINI_TEXT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.TextModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.TextModel },
	},
	{
		key: "gemini.image_model", typ: kString, env: "FORJA_GEMINI_IMAGE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.ImageModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.ImageModel },
	},
	{
		key: "gemini.speech_model", typ: kString, env: "FORJA_GEMINI_SPEECH_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.SpeechModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.SpeechModel },
	},
	{
		key: "gemini.voice", typ: kString, env: "FORJA_GEMINI_VOICE",
		apply:   func(cfg *Config, v any) { cfg.Gemini.Voice = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.Voice },
	},
	{
		key: "storage.data_dir", typ: kString, env: "FORJA_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "blob.dir", typ: kString, env: "FORJA_BLOB_DIR",
		apply:   func(cfg *Config, v any) { cfg.Blob.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Blob.Dir },
	},
	{
		key: "blob.base_url", typ: kString, env: "FORJA_BLOB_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Blob.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Blob.BaseURL },
	},
	{
		key: "batch.wave_size", typ: kInt, env: "FORJA_BATCH_WAVE_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Batch.WaveSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Batch.WaveSize },
	},
	{
		key: "batch.wave_pause", typ: kString, env: "FORJA_BATCH_WAVE_PAUSE",
		apply:   func(cfg *Config, v any) { cfg.Batch.WavePause = v.(string) },
		extract: func(cfg Config) any { return cfg.Batch.WavePause },
	},
	{
		key: "schedule.enabled", typ: kBool, env: "FORJA_SCHEDULE_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Schedule.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Schedule.Enabled },
	},
	{
		key: "schedule.daily_at", typ: kString, env: "FORJA_SCHEDULE_DAILY_AT",
		apply:   func(cfg *Config, v any) { cfg.Schedule.At = v.(string) },
		extract: func(cfg Config) any { return cfg.Schedule.At },
	},
	{
		key: "pipeline.max_progress_notes", typ: kInt, env: "FORJA_PIPELINE_MAX_PROGRESS_NOTES",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.MaxProgressNotes = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.MaxProgressNotes },
	},
	{
		key: "log.level", typ: kString, env: "FORJA_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
