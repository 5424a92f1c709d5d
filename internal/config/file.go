package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// fileConfig mirrors the TOML layout. Durations are strings such as "5s" or
// "500ms"; only keys present in the file override the defaults.
type fileConfig struct {
	Server struct {
		Host        string   `toml:"host"`
		Port        int      `toml:"port"`
		CORSOrigins []string `toml:"cors_origins"`
	} `toml:"server"`
	LLM struct {
		BaseURL       string  `toml:"base_url"`
		Model         string  `toml:"model"`
		APIKey        string  `toml:"api_key"`
		MaxTokens     int     `toml:"max_tokens"`
		Temperature   float32 `toml:"temperature"`
		Timeout       string  `toml:"timeout"`
		MaxRetries    int     `toml:"max_retries"`
		RetryBackoff  string  `toml:"retry_backoff"`
		ParseRetry    bool    `toml:"parse_retry"`
		MaxConcurrent int64   `toml:"max_concurrent"`
		CallLog       string  `toml:"call_log"`
	} `toml:"llm"`
	Pipeline struct {
		Debounce               string  `toml:"debounce"`
		DemographicsDebounce   string  `toml:"demographics_debounce"`
		ChiefComplaintDebounce string  `toml:"chief_complaint_debounce"`
		KeywordsDebounce       string  `toml:"keywords_debounce"`
		SymptomDebounce        string  `toml:"symptom_debounce"`
		EnableDemographics     bool    `toml:"enable_demographics"`
		EnableSymptomPipeline  bool    `toml:"enable_symptom_pipeline"`
		MaxSymptomCalls        int     `toml:"max_symptom_calls"`
		SimilarityThreshold    float64 `toml:"similarity_threshold"`
		LiveTranscript         bool    `toml:"live_transcript"`
		KeywordCatalog         string  `toml:"keyword_catalog"`
	} `toml:"pipeline"`
	Audio struct {
		SampleRate int    `toml:"sample_rate"`
		MinChunk   string `toml:"min_chunk"`
		Overlap    string `toml:"overlap"`
	} `toml:"audio"`
	Transcriber struct {
		URL     string `toml:"url"`
		Timeout string `toml:"timeout"`
	} `toml:"transcriber"`
	Database struct {
		URL           string `toml:"url"`
		ConnectTries  int    `toml:"connect_tries"`
		RetryInterval string `toml:"retry_interval"`
	} `toml:"database"`
	Telegram struct {
		BotToken string `toml:"bot_token"`
		ChatID   string `toml:"chat_id"`
		BaseURL  string `toml:"base_url"`
	} `toml:"telegram"`
	Report struct {
		FontPath     string `toml:"font_path"`
		BoldFontPath string `toml:"bold_font_path"`
	} `toml:"report"`
	Log struct {
		Level string `toml:"level"`
	} `toml:"log"`
}

func (raw fileConfig) apply(meta toml.MetaData, cfg *Config) error {
	var errs []error
	dur := func(dst *time.Duration, v string, key ...string) {
		if !meta.IsDefined(key...) {
			return
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("parse %s: %w", strings.Join(key, "."), err))
			return
		}
		*dst = d
	}

	set(meta, &cfg.Server.Host, strings.TrimSpace(raw.Server.Host), "server", "host")
	set(meta, &cfg.Server.Port, raw.Server.Port, "server", "port")
	set(meta, &cfg.Server.CORSOrigins, normalizeList(raw.Server.CORSOrigins), "server", "cors_origins")

	set(meta, &cfg.LLM.BaseURL, strings.TrimSpace(raw.LLM.BaseURL), "llm", "base_url")
	set(meta, &cfg.LLM.Model, strings.TrimSpace(raw.LLM.Model), "llm", "model")
	set(meta, &cfg.LLM.APIKey, raw.LLM.APIKey, "llm", "api_key")
	set(meta, &cfg.LLM.MaxTokens, raw.LLM.MaxTokens, "llm", "max_tokens")
	set(meta, &cfg.LLM.Temperature, raw.LLM.Temperature, "llm", "temperature")
	dur(&cfg.LLM.Timeout, raw.LLM.Timeout, "llm", "timeout")
	set(meta, &cfg.LLM.MaxRetries, raw.LLM.MaxRetries, "llm", "max_retries")
	dur(&cfg.LLM.RetryBackoff, raw.LLM.RetryBackoff, "llm", "retry_backoff")
	set(meta, &cfg.LLM.ParseRetry, raw.LLM.ParseRetry, "llm", "parse_retry")
	set(meta, &cfg.LLM.MaxConcurrent, raw.LLM.MaxConcurrent, "llm", "max_concurrent")
	set(meta, &cfg.LLM.CallLog, strings.TrimSpace(raw.LLM.CallLog), "llm", "call_log")

	dur(&cfg.Pipeline.Debounce, raw.Pipeline.Debounce, "pipeline", "debounce")
	dur(&cfg.Pipeline.DemographicsDebounce, raw.Pipeline.DemographicsDebounce, "pipeline", "demographics_debounce")
	dur(&cfg.Pipeline.ChiefComplaintDebounce, raw.Pipeline.ChiefComplaintDebounce, "pipeline", "chief_complaint_debounce")
	dur(&cfg.Pipeline.KeywordsDebounce, raw.Pipeline.KeywordsDebounce, "pipeline", "keywords_debounce")
	dur(&cfg.Pipeline.SymptomDebounce, raw.Pipeline.SymptomDebounce, "pipeline", "symptom_debounce")
	set(meta, &cfg.Pipeline.EnableDemographics, raw.Pipeline.EnableDemographics, "pipeline", "enable_demographics")
	set(meta, &cfg.Pipeline.EnableSymptomPipeline, raw.Pipeline.EnableSymptomPipeline, "pipeline", "enable_symptom_pipeline")
	set(meta, &cfg.Pipeline.MaxSymptomCalls, raw.Pipeline.MaxSymptomCalls, "pipeline", "max_symptom_calls")
	set(meta, &cfg.Pipeline.SimilarityThreshold, raw.Pipeline.SimilarityThreshold, "pipeline", "similarity_threshold")
	set(meta, &cfg.Pipeline.LiveTranscript, raw.Pipeline.LiveTranscript, "pipeline", "live_transcript")
	set(meta, &cfg.Pipeline.KeywordCatalog, strings.TrimSpace(raw.Pipeline.KeywordCatalog), "pipeline", "keyword_catalog")

	set(meta, &cfg.Audio.SampleRate, raw.Audio.SampleRate, "audio", "sample_rate")
	dur(&cfg.Audio.MinChunk, raw.Audio.MinChunk, "audio", "min_chunk")
	dur(&cfg.Audio.Overlap, raw.Audio.Overlap, "audio", "overlap")

	set(meta, &cfg.Transcriber.URL, strings.TrimSpace(raw.Transcriber.URL), "transcriber", "url")
	dur(&cfg.Transcriber.Timeout, raw.Transcriber.Timeout, "transcriber", "timeout")

	set(meta, &cfg.Database.URL, strings.TrimSpace(raw.Database.URL), "database", "url")
	set(meta, &cfg.Database.ConnectTries, raw.Database.ConnectTries, "database", "connect_tries")
	dur(&cfg.Database.RetryInterval, raw.Database.RetryInterval, "database", "retry_interval")

	set(meta, &cfg.Telegram.BotToken, strings.TrimSpace(raw.Telegram.BotToken), "telegram", "bot_token")
	set(meta, &cfg.Telegram.ChatID, strings.TrimSpace(raw.Telegram.ChatID), "telegram", "chat_id")
	set(meta, &cfg.Telegram.BaseURL, strings.TrimSpace(raw.Telegram.BaseURL), "telegram", "base_url")

	set(meta, &cfg.Report.FontPath, strings.TrimSpace(raw.Report.FontPath), "report", "font_path")
	set(meta, &cfg.Report.BoldFontPath, strings.TrimSpace(raw.Report.BoldFontPath), "report", "bold_font_path")

	set(meta, &cfg.Log.Level, strings.TrimSpace(raw.Log.Level), "log", "level")

	return errors.Join(errs...)
}

func set[T any](meta toml.MetaData, dst *T, v T, key ...string) {
	if meta.IsDefined(key...) {
		*dst = v
	}
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
