// Package config loads service settings from defaults, an optional TOML
// file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server      Server      `toml:"server"`
	LLM         LLM         `toml:"llm"`
	Pipeline    Pipeline    `toml:"pipeline"`
	Audio       Audio       `toml:"audio"`
	Transcriber Transcriber `toml:"transcriber"`
	Database    Database    `toml:"database"`
	Telegram    Telegram    `toml:"telegram"`
	Report      Report      `toml:"report"`
	Log         Log         `toml:"log"`
}

type Server struct {
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

func (s Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// LLM configures the OpenAI-compatible MedGemma endpoint.
type LLM struct {
	BaseURL       string        `toml:"base_url"`
	Model         string        `toml:"model"`
	APIKey        string        `toml:"api_key"`
	MaxTokens     int           `toml:"max_tokens"`
	Temperature   float32       `toml:"temperature"`
	Timeout       time.Duration `toml:"timeout"`
	MaxRetries    int           `toml:"max_retries"`
	RetryBackoff  time.Duration `toml:"retry_backoff"`
	ParseRetry    bool          `toml:"parse_retry"`
	MaxConcurrent int64         `toml:"max_concurrent"`
	// CallLog, when set, receives one JSON line per LLM call.
	CallLog string `toml:"call_log"`
}

type Pipeline struct {
	Debounce               time.Duration `toml:"debounce"`
	DemographicsDebounce   time.Duration `toml:"demographics_debounce"`
	ChiefComplaintDebounce time.Duration `toml:"chief_complaint_debounce"`
	KeywordsDebounce       time.Duration `toml:"keywords_debounce"`
	SymptomDebounce        time.Duration `toml:"symptom_debounce"`
	EnableDemographics     bool          `toml:"enable_demographics"`
	EnableSymptomPipeline  bool          `toml:"enable_symptom_pipeline"`
	MaxSymptomCalls        int           `toml:"max_symptom_calls"`
	SimilarityThreshold    float64       `toml:"similarity_threshold"`
	LiveTranscript         bool          `toml:"live_transcript"`
	KeywordCatalog         string        `toml:"keyword_catalog"`
}

// RoleDebounce returns the per-role overrides keyed by role name. Roles
// without an override are absent. The symptom override wins over the
// keywords override since both drive the keyword role.
func (p Pipeline) RoleDebounce() map[string]time.Duration {
	out := map[string]time.Duration{}
	if p.DemographicsDebounce > 0 {
		out["demographics"] = p.DemographicsDebounce
	}
	if p.ChiefComplaintDebounce > 0 {
		out["chief_complaint"] = p.ChiefComplaintDebounce
	}
	if p.KeywordsDebounce > 0 {
		out["keywords"] = p.KeywordsDebounce
	}
	if p.SymptomDebounce > 0 {
		out["keywords"] = p.SymptomDebounce
	}
	return out
}

type Audio struct {
	SampleRate int           `toml:"sample_rate"`
	MinChunk   time.Duration `toml:"min_chunk"`
	Overlap    time.Duration `toml:"overlap"`
}

type Transcriber struct {
	URL     string        `toml:"url"`
	Timeout time.Duration `toml:"timeout"`
}

type Database struct {
	URL           string        `toml:"url"`
	ConnectTries  int           `toml:"connect_tries"`
	RetryInterval time.Duration `toml:"retry_interval"`
}

func (d Database) Enabled() bool { return d.URL != "" }

type Telegram struct {
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
	BaseURL  string `toml:"base_url"`
}

func (t Telegram) Enabled() bool { return t.BotToken != "" && t.ChatID != "" }

type Report struct {
	FontPath     string `toml:"font_path"`
	BoldFontPath string `toml:"bold_font_path"`
}

type Log struct {
	Level string `toml:"level"`
}

func Default() Config {
	return Config{
		Server: Server{
			Host:        "0.0.0.0",
			Port:        8080,
			CORSOrigins: []string{"http://localhost:5173", "http://localhost:3000"},
		},
		LLM: LLM{
			BaseURL:       "http://127.0.0.1:11424/v1",
			Model:         "google/medgemma-4b-it",
			APIKey:        "EMPTY",
			MaxTokens:     1024,
			Temperature:   0.3,
			Timeout:       20 * time.Second,
			MaxRetries:    2,
			RetryBackoff:  500 * time.Millisecond,
			ParseRetry:    true,
			MaxConcurrent: 4,
		},
		Pipeline: Pipeline{
			Debounce:              5 * time.Second,
			EnableDemographics:    true,
			EnableSymptomPipeline: true,
			SimilarityThreshold:   0.75,
			LiveTranscript:        true,
		},
		Audio: Audio{
			SampleRate: 16000,
			MinChunk:   2 * time.Second,
			Overlap:    500 * time.Millisecond,
		},
		Transcriber: Transcriber{
			URL:     "http://asr:8000/transcribe",
			Timeout: 60 * time.Second,
		},
		Database: Database{
			ConnectTries:  10,
			RetryInterval: 2 * time.Second,
		},
		Telegram: Telegram{
			BaseURL: "https://api.telegram.org",
		},
		Report: Report{
			FontPath:     "/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
			BoldFontPath: "/usr/share/fonts/truetype/dejavu/DejaVuSans-Bold.ttf",
		},
		Log: Log{Level: "info"},
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment apply.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.overlayEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("load config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return raw.apply(meta, c)
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if strings.TrimSpace(c.LLM.BaseURL) == "" {
		errs = append(errs, errors.New("llm.base_url is required"))
	}
	if c.LLM.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("llm.max_concurrent must be at least 1, got %d", c.LLM.MaxConcurrent))
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("llm.max_retries must not be negative, got %d", c.LLM.MaxRetries))
	}
	if c.Pipeline.Debounce < 0 {
		errs = append(errs, fmt.Errorf("pipeline.debounce must not be negative, got %s", c.Pipeline.Debounce))
	}
	if t := c.Pipeline.SimilarityThreshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("pipeline.similarity_threshold must be in (0, 1], got %g", t))
	}
	if c.Pipeline.MaxSymptomCalls < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_symptom_calls must not be negative, got %d", c.Pipeline.MaxSymptomCalls))
	}
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate))
	}
	return errors.Join(errs...)
}
