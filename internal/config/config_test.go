package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "opd.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func envMap(kv map[string]string) func(string) string {
	return func(k string) string { return kv[k] }
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Pipeline.Debounce != 5*time.Second || cfg.Pipeline.SimilarityThreshold != 0.75 {
		t.Fatalf("unexpected pipeline defaults: %+v", cfg.Pipeline)
	}
	if cfg.Server.Addr() != "0.0.0.0:8080" {
		t.Fatalf("Addr = %q", cfg.Server.Addr())
	}
}

func TestFileOverlayKeepsUndefinedDefaults(t *testing.T) {
	path := writeConfig(t, `
[llm]
model = "medgemma-27b"
timeout = "45s"
parse_retry = false

[pipeline]
debounce = "3s"
symptom_debounce = "8s"
enable_demographics = false
`)
	cfg := Default()
	if err := cfg.overlayFile(path); err != nil {
		t.Fatalf("overlay: %v", err)
	}
	if cfg.LLM.Model != "medgemma-27b" || cfg.LLM.Timeout != 45*time.Second || cfg.LLM.ParseRetry {
		t.Fatalf("llm overlay not applied: %+v", cfg.LLM)
	}
	if cfg.LLM.BaseURL != Default().LLM.BaseURL || cfg.LLM.MaxConcurrent != 4 {
		t.Fatalf("undefined llm keys changed: %+v", cfg.LLM)
	}
	if cfg.Pipeline.Debounce != 3*time.Second || cfg.Pipeline.EnableDemographics {
		t.Fatalf("pipeline overlay not applied: %+v", cfg.Pipeline)
	}
	if !cfg.Pipeline.EnableSymptomPipeline {
		t.Fatal("enable_symptom_pipeline flipped without being defined")
	}
	want := map[string]time.Duration{"keywords": 8 * time.Second}
	if got := cfg.Pipeline.RoleDebounce(); !reflect.DeepEqual(got, want) {
		t.Fatalf("RoleDebounce = %v, want %v", got, want)
	}
}

func TestFileOverlayErrors(t *testing.T) {
	cases := map[string]string{
		"bad duration": "[pipeline]\ndebounce = \"soon\"\n",
		"unknown key":  "[pipeline]\ndebouce = \"5s\"\n",
		"bad toml":     "[pipeline\n",
	}
	for name, body := range cases {
		cfg := Default()
		if err := cfg.overlayFile(writeConfig(t, body)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestEnvOverlay(t *testing.T) {
	cfg := Default()
	err := cfg.overlayEnv(envMap(map[string]string{
		"PORT":                                   "9000",
		"DATABASE_URL":                           "postgres://legacy",
		"OPD_DATABASE_URL":                       "postgres://prefixed",
		"TELEGRAM_BOT_TOKEN":                     "token",
		"DOCTOR_CHAT_ID":                         "42",
		"OPD_MEDGEMMA_BASE_URL":                  "http://llm:8000/v1",
		"OPD_PIPELINE_DEBOUNCE_SECONDS":          "2.5",
		"OPD_KEYWORDS_PIPELINE_DEBOUNCE_SECONDS": "4s",
		"OPD_ENABLE_SYMPTOM_PIPELINE":            "false",
		"OPD_MAX_SYMPTOM_CALLS_PER_CYCLE":        "3",
		"OPD_CORS_ORIGINS":                       "http://a, http://b ,",
	}))
	if err != nil {
		t.Fatalf("overlayEnv: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Database.URL != "postgres://prefixed" {
		t.Errorf("database url = %q, want prefixed to win", cfg.Database.URL)
	}
	if !cfg.Telegram.Enabled() || cfg.Telegram.ChatID != "42" {
		t.Errorf("telegram = %+v", cfg.Telegram)
	}
	if cfg.LLM.BaseURL != "http://llm:8000/v1" {
		t.Errorf("base url = %q", cfg.LLM.BaseURL)
	}
	if cfg.Pipeline.Debounce != 2500*time.Millisecond || cfg.Pipeline.KeywordsDebounce != 4*time.Second {
		t.Errorf("debounce = %s / %s", cfg.Pipeline.Debounce, cfg.Pipeline.KeywordsDebounce)
	}
	if cfg.Pipeline.EnableSymptomPipeline || cfg.Pipeline.MaxSymptomCalls != 3 {
		t.Errorf("pipeline = %+v", cfg.Pipeline)
	}
	if !reflect.DeepEqual(cfg.Server.CORSOrigins, []string{"http://a", "http://b"}) {
		t.Errorf("cors = %q", cfg.Server.CORSOrigins)
	}
}

func TestEnvOverlayCollectsErrors(t *testing.T) {
	cfg := Default()
	err := cfg.overlayEnv(envMap(map[string]string{
		"OPD_PORT":                    "eighty",
		"OPD_ENABLE_SYMPTOM_PIPELINE": "maybe",
	}))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"OPD_PORT", "OPD_ENABLE_SYMPTOM_PIPELINE"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Pipeline.SimilarityThreshold = 1.5
	cfg.LLM.MaxConcurrent = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"similarity_threshold", "max_concurrent"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("OPD_LOG_LEVEL", "debug")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level = %q", cfg.Log.Level)
	}
}
