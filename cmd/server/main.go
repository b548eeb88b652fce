package main

import (
	// Standard library
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	// External dependencies
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	// Internal packages
	"github.com/houzhh15/meeting-proxy/cmd/server/internal/api"
	"github.com/houzhh15/meeting-proxy/cmd/server/internal/audit"
	"github.com/houzhh15/meeting-proxy/cmd/server/internal/config"
	"github.com/houzhh15/meeting-proxy/cmd/server/internal/conversation"
	"github.com/houzhh15/meeting-proxy/cmd/server/internal/knowledge"
	"github.com/houzhh15/meeting-proxy/cmd/server/internal/middleware"
	"github.com/houzhh15/meeting-proxy/cmd/server/internal/pipeline"
	"github.com/houzhh15/meeting-proxy/cmd/server/internal/remote"
	"github.com/houzhh15/meeting-proxy/cmd/server/internal/scheduler"
	"github.com/houzhh15/meeting-proxy/cmd/server/internal/session"
	"github.com/houzhh15/meeting-proxy/cmd/server/internal/store"
	"github.com/houzhh15/meeting-proxy/pkg/logger"
)

// defaultPersona 人格配置文件缺失时的回退提示词
const defaultPersona = "あなたは会議に参加するAIアシスタントです。丁寧な日本語で簡潔に回答してください。"

func main() {
	logInstance, err := logger.Init(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: os.Getenv("ENV"),
		WithSource:  !strings.EqualFold(os.Getenv("ENV"), "production"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	appLogger := logInstance.With("component", "meeting-proxy")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		appLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		appLogger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	appLogger.Info("configuration loaded", "env", cfg.Server.Env, "port", cfg.Server.Port)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	// Persistence: postgres when DATABASE_URL is set, in-memory otherwise.
	// 持久化不可达是致命错误，直接退出。
	var st store.Store
	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			appLogger.Error("database pool init failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			appLogger.Error("database unreachable", "error", err)
			os.Exit(1)
		}
		pg := store.NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			appLogger.Error("schema migration failed", "error", err)
			os.Exit(1)
		}
		st = pg
		appLogger.Info("postgres store ready")
	} else {
		st = store.NewMemory()
		appLogger.Warn("DATABASE_URL not set, using in-memory store (dev only)")
	}

	// Session tracking and audit log
	tracker := session.NewTracker(st, logInstance)
	auditor := audit.NewConversationAuditor(cfg.Audit.LogPath)
	tracker.SetAuditor(auditor)
	appLogger.Info("conversation audit log ready", "path", cfg.Audit.LogPath)

	// Persona system prompt
	persona := defaultPersona
	if data, err := os.ReadFile(cfg.Bot.PersonaPath); err == nil {
		persona = strings.TrimSpace(string(data))
		appLogger.Info("persona profile loaded", "path", cfg.Bot.PersonaPath)
	} else {
		appLogger.Warn("persona profile not found, using default", "path", cfg.Bot.PersonaPath)
	}

	// Remote collaborators
	dispatcher := remote.NewRecallClient(cfg.Recall.BaseURL, cfg.Recall.APIKey, cfg.Recall.WebhookBaseURL, cfg.Scheduler.DispatchTimeout)
	generator, err := remote.NewGeminiGenerator(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model,
		cfg.Gemini.MaxOutputTokens, cfg.Gemini.Temperature, cfg.Gemini.Timeout)
	if err != nil {
		appLogger.Error("generator init failed", "error", err)
		os.Exit(1)
	}
	synthesizer := remote.NewTTSClient(cfg.TTS.BaseURL, cfg.TTS.VoiceName, cfg.TTS.SpeakingRate, cfg.TTS.Timeout)

	// Response pipeline and conversation engine
	pipe := pipeline.New(st, knowledge.NewSelector(), generator, synthesizer, dispatcher,
		logInstance, persona, cfg.Bot.DisplayName, cfg.Bot.Acknowledgment)
	matcher := conversation.NewTriggerMatcher(cfg.Bot.DisplayName, cfg.Bot.TriggerKeywords, cfg.Bot.QuestionSuffixes)
	engine := conversation.NewEngine(st, matcher, pipe, auditor, logInstance, cfg.Bot.HistoryWindow)

	// Join scheduler
	sched := scheduler.New(st, tracker, dispatcher, scheduler.SystemClock(), scheduler.Config{
		TickInterval:    cfg.Scheduler.TickInterval,
		JoinLeadTime:    cfg.Scheduler.JoinLeadTime,
		MissGracePeriod: cfg.Scheduler.MissGracePeriod,
		DispatchTimeout: cfg.Scheduler.DispatchTimeout,
		MaxRetries:      cfg.Scheduler.MaxRetries,
		MaxConcurrent:   cfg.Scheduler.MaxConcurrent,
		BotName:         cfg.Bot.DisplayName,
	}, logInstance)
	if err := sched.Start(); err != nil {
		appLogger.Error("scheduler start failed", "error", err)
		os.Exit(1)
	}

	// HTTP surface
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())

	api.RegisterRoutes(r, api.Deps{
		Store:      st,
		Tracker:    tracker,
		Engine:     engine,
		Dispatcher: dispatcher,
		Logger:     logInstance,
		APIKey:     cfg.Security.APIKey,
		StartedAt:  time.Now(),
	})

	srv := &http.Server{
		Addr:    cfg.GetServerAddr(),
		Handler: r,
	}

	go func() {
		appLogger.Info("server starting", "addr", srv.Addr, "env", cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	<-quit
	appLogger.Info("shutdown signal received, shutting down server...")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	appLogger.Info("server shutdown complete")
}
