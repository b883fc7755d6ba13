package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"nanostyle-server/modules/common/config"
	"nanostyle-server/modules/common/gemini"
	"nanostyle-server/modules/common/logger"
	"nanostyle-server/modules/common/middleware"
	"nanostyle-server/modules/common/redis"
	"nanostyle-server/modules/common/storage"
	"nanostyle-server/modules/intake"
	"nanostyle-server/modules/session"
	"nanostyle-server/modules/tryon"
)

const cleanupInterval = 5 * time.Minute

// 헬스 체크 엔드포인트
func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "nanostyle-tryon",
	})
}

func main() {
	// 설정 로드 전에도 APP_ENV 기준으로 로그 포맷 결정
	appLogger := logger.Init(os.Getenv("APP_ENV"))

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to load config")
	}
	appLogger = logger.Init(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Gemini
	genaiClient, err := gemini.NewClient(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to create Gemini client")
	}
	generator := tryon.NewService(genaiClient.Models, cfg.GeminiModel)

	previews := intake.NewPreviewRegistry()
	imageIntake := intake.New(previews, cfg.MaxUploadBytes)

	// 결과 보관 (선택)
	var (
		publishers []session.ResultPublisher
		results    session.ResultLookup
	)
	if cfg.RedisEnabled() {
		rdb, err := redis.Connect(ctx, cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("❌ Failed to connect to Redis")
		}
		defer rdb.Close()

		cache := redis.NewResultCache(rdb, cfg.ResultCacheTTL)
		publishers = append(publishers, cache)
		results = cache
	}
	if cfg.ArchiveEnabled() {
		archiver, err := storage.NewArchiver(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("❌ Failed to create result archiver")
		}
		publishers = append(publishers, archiver)
	}

	manager := session.NewManager(generator, previews, session.Options{
		IdleTimeout: cfg.SessionIdleTimeout,
		MaxAge:      cfg.SessionMaxAge,
		Publishers:  publishers,
	})
	manager.StartCleanupRoutine(ctx, cleanupInterval)

	hub := session.NewHub(manager, cfg.AllowedOrigins)
	handler := session.NewHandler(manager, imageIntake, previews, results, cfg.MaxUploadBytes)

	// 라우터 설정
	r := mux.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(appLogger))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.HandleFunc("/", healthCheck).Methods("GET")
	r.HandleFunc("/health", healthCheck).Methods("GET")
	r.HandleFunc("/ws", hub.ServeWS)
	handler.RegisterRoutes(r)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Msgf("🚀 NanoStyle try-on server starting on port %s", cfg.Port)
		log.Info().Msgf("📡 WebSocket endpoint: ws://localhost:%s/ws?session={id}", cfg.Port)
		log.Info().Msgf("❤️  Health check: http://localhost:%s/health", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("🛑 Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to shutdown server")
	}
	manager.Wait()
	log.Info().Msg("server stopped")
}
