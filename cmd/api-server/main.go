package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/careline/callflow/internal/ai"
	"github.com/careline/callflow/internal/api"
	"github.com/careline/callflow/internal/appointment"
	"github.com/careline/callflow/internal/call"
	"github.com/careline/callflow/internal/config"
	"github.com/careline/callflow/internal/db"
	"github.com/careline/callflow/internal/redisclient"
	"github.com/careline/callflow/internal/voice"
)

const version = "0.1.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running in env=%s http_port=%s", cfg.Env, cfg.HTTPPort)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, int32(cfg.PgMaxConns))
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("redis connection error: %v", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Printf("error closing redis: %v", err)
		}
	}()
	log.Println("connected to Redis")

	repo := appointment.NewPgRepository(pgPool)
	feed := redisclient.NewAppointmentFeed(rdb)

	store := appointment.NewStore(repo, feed)
	if err := store.Start(rootCtx); err != nil {
		log.Fatalf("start appointment store: %v", err)
	}
	defer store.Close()

	var assistant ai.Assistant
	if cfg.OpenAIKey != "" {
		assistant = ai.NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIModel)
		log.Printf("ai assistant enabled model=%s", cfg.OpenAIModel)
	} else {
		log.Println("OPENAI_API_KEY not set, calls use the fallback script")
	}

	var synth voice.Synthesizer
	if cfg.VoiceEnabled() {
		client, err := voice.New(voice.Config{
			BaseURL: cfg.ElevenLabsURL,
			APIKey:  cfg.ElevenLabsKey,
			VoiceID: cfg.VoiceID,
		})
		if err != nil {
			log.Fatalf("voice client error: %v", err)
		}
		synth = client
		log.Printf("voice synthesis enabled voice=%s", cfg.VoiceID)
	} else {
		log.Println("voice synthesis disabled, calls run text-only")
	}

	router := api.NewRouter(api.RouterConfig{
		Store:     store,
		Registry:  call.NewRegistry(),
		Reminders: redisclient.NewReminderKV(rdb),
		Assistant: assistant,
		Synth:     synth,
		Pacing: call.Pacing{
			ConnectDelay: cfg.ConnectDelay,
			TurnDelay:    cfg.TurnDelay,
			EndDelay:     cfg.EndDelay,
		},
		BaseContext: rootCtx,
		PgPool:      pgPool,
		Redis:       rdb,
		Env:         cfg.Env,
		Version:     version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on :%s", cfg.HTTPPort)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
		log.Println("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}

	log.Println("api-server stopped")
}
