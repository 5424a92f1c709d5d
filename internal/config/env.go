package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "OPD_"

// overlayEnv applies OPD_* variables and the legacy unprefixed deployment
// variables. Prefixed names win over legacy ones.
func (c *Config) overlayEnv(getenv func(string) string) error {
	e := envReader{getenv: getenv}

	e.str(&c.Server.Host, "HOST")
	e.legacyInt(&c.Server.Port, "PORT")
	e.intVar(&c.Server.Port, "PORT")
	e.list(&c.Server.CORSOrigins, "CORS_ORIGINS")

	e.str(&c.LLM.BaseURL, "MEDGEMMA_BASE_URL")
	e.str(&c.LLM.Model, "MEDGEMMA_MODEL")
	e.str(&c.LLM.APIKey, "MEDGEMMA_API_KEY")
	e.intVar(&c.LLM.MaxTokens, "MEDGEMMA_MAX_TOKENS")
	e.float32Var(&c.LLM.Temperature, "MEDGEMMA_TEMPERATURE")
	e.seconds(&c.LLM.Timeout, "MEDGEMMA_REQUEST_TIMEOUT_SECONDS")
	e.intVar(&c.LLM.MaxRetries, "MEDGEMMA_MAX_RETRIES")
	e.seconds(&c.LLM.RetryBackoff, "MEDGEMMA_RETRY_BACKOFF_SECONDS")
	e.boolVar(&c.LLM.ParseRetry, "MEDGEMMA_PARSE_RETRY_ENABLED")
	e.int64Var(&c.LLM.MaxConcurrent, "MEDGEMMA_MAX_CONCURRENT_CALLS")
	e.str(&c.LLM.CallLog, "MEDGEMMA_LOG_PATH")

	e.seconds(&c.Pipeline.Debounce, "PIPELINE_DEBOUNCE_SECONDS")
	e.seconds(&c.Pipeline.DemographicsDebounce, "DEMOGRAPHICS_PIPELINE_DEBOUNCE_SECONDS")
	e.seconds(&c.Pipeline.ChiefComplaintDebounce, "CHIEF_COMPLAINT_PIPELINE_DEBOUNCE_SECONDS")
	e.seconds(&c.Pipeline.KeywordsDebounce, "KEYWORDS_PIPELINE_DEBOUNCE_SECONDS")
	e.seconds(&c.Pipeline.SymptomDebounce, "SYMPTOM_PIPELINE_DEBOUNCE_SECONDS")
	e.boolVar(&c.Pipeline.EnableDemographics, "ENABLE_DEMOGRAPHICS_EXTRACTION")
	e.boolVar(&c.Pipeline.EnableSymptomPipeline, "ENABLE_SYMPTOM_PIPELINE")
	e.intVar(&c.Pipeline.MaxSymptomCalls, "MAX_SYMPTOM_CALLS_PER_CYCLE")
	e.float64Var(&c.Pipeline.SimilarityThreshold, "QUESTION_SIMILARITY_THRESHOLD")
	e.boolVar(&c.Pipeline.LiveTranscript, "LIVE_TRANSCRIPT_ENABLED")
	e.str(&c.Pipeline.KeywordCatalog, "KEYWORD_CATALOG")

	e.intVar(&c.Audio.SampleRate, "AUDIO_SAMPLE_RATE")
	e.seconds(&c.Audio.MinChunk, "AUDIO_CHUNK_MIN_SECONDS")
	e.seconds(&c.Audio.Overlap, "AUDIO_OVERLAP_SECONDS")

	e.str(&c.Transcriber.URL, "TRANSCRIBER_URL")
	e.seconds(&c.Transcriber.Timeout, "TRANSCRIBER_TIMEOUT_SECONDS")

	e.legacyStr(&c.Database.URL, "DATABASE_URL")
	e.str(&c.Database.URL, "DATABASE_URL")
	e.legacyStr(&c.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	e.str(&c.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	e.legacyStr(&c.Telegram.ChatID, "DOCTOR_CHAT_ID")
	e.str(&c.Telegram.ChatID, "TELEGRAM_CHAT_ID")

	e.str(&c.Report.FontPath, "REPORT_FONT_PATH")
	e.str(&c.Report.BoldFontPath, "REPORT_BOLD_FONT_PATH")
	e.str(&c.Log.Level, "LOG_LEVEL")

	return errors.Join(e.errs...)
}

type envReader struct {
	getenv func(string) string
	errs   []error
}

func (e *envReader) lookup(name string) (string, bool) {
	v := strings.TrimSpace(e.getenv(name))
	return v, v != ""
}

func (e *envReader) str(dst *string, key string) {
	if v, ok := e.lookup(envPrefix + key); ok {
		*dst = v
	}
}

func (e *envReader) legacyStr(dst *string, name string) {
	if v, ok := e.lookup(name); ok {
		*dst = v
	}
}

func (e *envReader) list(dst *[]string, key string) {
	if v, ok := e.lookup(envPrefix + key); ok {
		*dst = normalizeList(strings.Split(v, ","))
	}
}

func (e *envReader) intVar(dst *int, key string) {
	e.parseInt(dst, envPrefix+key)
}

func (e *envReader) legacyInt(dst *int, name string) {
	e.parseInt(dst, name)
}

func (e *envReader) parseInt(dst *int, name string) {
	v, ok := e.lookup(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", name, err))
		return
	}
	*dst = n
}

func (e *envReader) int64Var(dst *int64, key string) {
	v, ok := e.lookup(envPrefix + key)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return
	}
	*dst = n
}

func (e *envReader) float64Var(dst *float64, key string) {
	v, ok := e.lookup(envPrefix + key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return
	}
	*dst = f
}

func (e *envReader) float32Var(dst *float32, key string) {
	f := float64(*dst)
	e.float64Var(&f, key)
	*dst = float32(f)
}

func (e *envReader) boolVar(dst *bool, key string) {
	v, ok := e.lookup(envPrefix + key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return
	}
	*dst = b
}

// seconds accepts a plain number of seconds ("2.5") or a Go duration ("2500ms").
func (e *envReader) seconds(dst *time.Duration, key string) {
	v, ok := e.lookup(envPrefix + key)
	if !ok {
		return
	}
	d, err := parseSeconds(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return
	}
	*dst = d
}

func parseSeconds(v string) (time.Duration, error) {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}
