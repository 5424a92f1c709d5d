package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/semaphore"

	"opd-copilot/internal/agent"
	"opd-copilot/internal/config"
	"opd-copilot/internal/consultation"
	"opd-copilot/internal/encounter"
	"opd-copilot/internal/keywords"
	"opd-copilot/internal/pipeline"
	"opd-copilot/internal/platform/observability"
	"opd-copilot/internal/platform/telegram"
	"opd-copilot/internal/report"
)

const appName = "opd-copilot"

var (
	configPath    string
	migrationsURL string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          appName,
		Short:        "Real-time outpatient interview copilot",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("OPD_CONFIG"), "Path to a TOML config file")
	rootCmd.PersistentFlags().StringVar(&migrationsURL, "migrations", "file://migrations", "Migration source URL")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := observability.InitLogger(appName, cfg.Log.Level)
	observability.RegisterMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Infrastructure
	var repo consultation.Repository
	if cfg.Database.Enabled() {
		db, err := connectDB(ctx, cfg.Database, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("could not connect to database, consultations will not be archived")
		} else {
			defer db.Close()
			if err := migrateUp(cfg.Database.URL, logger); err != nil {
				logger.Error().Err(err).Msg("migrations failed")
			}
			repo = consultation.NewRepository(db)
		}
	} else {
		logger.Info().Msg("no database configured, consultations will not be archived")
	}

	// 2. Clients
	llm := agent.NewClient(agent.Config{
		BaseURL:      cfg.LLM.BaseURL,
		Model:        cfg.LLM.Model,
		APIKey:       cfg.LLM.APIKey,
		MaxTokens:    cfg.LLM.MaxTokens,
		Temperature:  cfg.LLM.Temperature,
		Timeout:      cfg.LLM.Timeout,
		MaxRetries:   cfg.LLM.MaxRetries,
		RetryBackoff: cfg.LLM.RetryBackoff,
		ParseRetry:   cfg.LLM.ParseRetry,
	}, semaphore.NewWeighted(cfg.LLM.MaxConcurrent), logger)
	if cfg.LLM.CallLog != "" {
		f, err := os.OpenFile(cfg.LLM.CallLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open llm call log: %w", err)
		}
		defer f.Close()
		llm.SetCallLog(f)
	}

	catalog, err := keywords.Load(cfg.Pipeline.KeywordCatalog)
	if err != nil {
		return err
	}
	extractor := agent.NewExtractor(llm, logger)
	keywordPipeline := agent.NewKeywordPipeline(llm, catalog,
		encounter.NewMatcher(cfg.Pipeline.SimilarityThreshold),
		agent.KeywordOptions{
			Enabled:         cfg.Pipeline.EnableSymptomPipeline,
			MaxSymptomCalls: cfg.Pipeline.MaxSymptomCalls,
		}, logger)
	summarizer := agent.NewSummarizer(llm, logger)
	transcriber := agent.NewTranscriber(agent.TranscriberConfig{
		URL:        cfg.Transcriber.URL,
		Timeout:    cfg.Transcriber.Timeout,
		SampleRate: cfg.Audio.SampleRate,
	}, logger)

	var reportSvc consultation.ReportService
	if cfg.Telegram.Enabled() {
		tgClient := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.BaseURL)
		reportSvc = report.NewService(tgClient, cfg.Telegram.ChatID, report.Fonts{
			Regular: cfg.Report.FontPath,
			Bold:    cfg.Report.BoldFontPath,
		}, logger)
	} else {
		logger.Warn().Msg("telegram bot token or doctor chat id not set, reports will not be sent")
	}

	// 3. Services
	roleDebounce := map[pipeline.Role]time.Duration{}
	for role, d := range cfg.Pipeline.RoleDebounce() {
		roleDebounce[pipeline.Role(role)] = d
	}
	factory := func(sink pipeline.Sink, sessionLog zerolog.Logger) *pipeline.Orchestrator {
		return pipeline.New(pipeline.Deps{
			Transcriber:    transcriber,
			Demographics:   extractor,
			ChiefComplaint: extractor,
			Keywords:       keywordPipeline,
			Summary:        summarizer,
			Sink:           sink,
		}, pipeline.Options{
			Debounce:           cfg.Pipeline.Debounce,
			RoleDebounce:       roleDebounce,
			EnableDemographics: cfg.Pipeline.EnableDemographics,
			LiveTranscript:     cfg.Pipeline.LiveTranscript,
			Threshold:          cfg.Pipeline.SimilarityThreshold,
			SampleRate:         cfg.Audio.SampleRate,
			AudioMinChunk:      cfg.Audio.MinChunk,
			AudioOverlap:       cfg.Audio.Overlap,
			Logger:             sessionLog,
		})
	}
	consultationSvc := consultation.NewService(factory, repo, reportSvc, logger)
	consultationHandler := consultation.NewHandler(consultationSvc, logger)

	// 4. Router
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetrics)
	r.Use(middleware.Recoverer)
	r.Use(cors(cfg.Server.CORSOrigins))

	r.Get("/health", healthHandler(cfg, repo != nil))
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api", func(r chi.Router) {
		consultation.RegisterRoutes(r, consultationHandler)
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			consultationSvc.Shutdown()
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	// Sessions first so open event streams end and the server can drain.
	consultationSvc.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

// connectDB opens the archive database, retrying while it starts up.
func connectDB(ctx context.Context, cfg config.Database, logger zerolog.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, err
	}
	tries := max(1, cfg.ConnectTries)
	for i := 0; i < tries; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err == nil {
			logger.Info().Msg("connected to database")
			return db, nil
		}
		logger.Info().Err(err).Msgf("waiting for database (%d/%d)", i+1, tries)
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(cfg.RetryInterval):
		}
	}
	db.Close()
	return nil, err
}

func cors(origins []string) func(http.Handler) http.Handler {
	allowAll := len(origins) == 0
	allowed := map[string]bool{}
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.TrimRight(o, "/")] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case allowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case allowed[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func healthHandler(cfg config.Config, archive bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":            "ok",
			"llm_base_url":      cfg.LLM.BaseURL,
			"llm_model":         cfg.LLM.Model,
			"transcriber_url":   cfg.Transcriber.URL,
			"archive_enabled":   archive,
			"reports_enabled":   cfg.Telegram.Enabled(),
			"symptom_pipeline":  cfg.Pipeline.EnableSymptomPipeline,
			"demographics_role": cfg.Pipeline.EnableDemographics,
		})
	}
}
