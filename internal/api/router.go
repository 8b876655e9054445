package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/careline/callflow/internal/ai"
	"github.com/careline/callflow/internal/appointment"
	"github.com/careline/callflow/internal/call"
	"github.com/careline/callflow/internal/redisclient"
	"github.com/careline/callflow/internal/voice"
)

type RouterConfig struct {
	Store     *appointment.Store
	Registry  *call.Registry
	Reminders redisclient.ReminderKV
	Assistant ai.Assistant      // nil disables AI lines (fallback script only)
	Synth     voice.Synthesizer // nil disables voice
	Pacing    call.Pacing
	// BaseContext parents call sessions so they outlive the request that
	// started them and stop on shutdown.
	BaseContext context.Context
	PgPool      *pgxpool.Pool
	Redis       *redis.Client
	Env         string
	Version     string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	hub := NewHub()

	r.Route("/appointments", func(r chi.Router) {
		r.Get("/", listAppointmentsHandler(cfg.Store))
		r.Post("/", createAppointmentHandler(cfg.Store))
		r.Get("/stats", statsHandler(cfg.Store))

		r.Route("/{id}", func(r chi.Router) {
			r.Post("/status", updateStatusHandler(cfg.Store))
			r.Post("/reschedule", rescheduleHandler(cfg.Store))
			r.Delete("/", deleteAppointmentHandler(cfg.Store))

			r.Get("/reminder", getReminderHandler(cfg.Reminders))
			r.Put("/reminder", setReminderHandler(cfg.Reminders))
			r.Delete("/reminder", deleteReminderHandler(cfg.Reminders))

			r.Post("/call", startCallHandler(cfg, hub))
		})
	})

	r.Route("/calls/{id}", func(r chi.Router) {
		r.Get("/", getCallHandler(cfg.Registry))
		r.Post("/respond", respondCallHandler(cfg.Registry))
		r.Post("/hangup", hangupCallHandler(cfg.Registry))
		r.Get("/stream", callStreamHandler(cfg.Registry, hub))
	})

	return r
}
