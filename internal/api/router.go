package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/homefix/appointment-scheduling/internal/appointment"
	"github.com/homefix/appointment-scheduling/internal/availability"
	"github.com/homefix/appointment-scheduling/internal/risk"
)

type RouterConfig struct {
	Service  *appointment.Service
	Resolver *availability.Resolver
	Queue    *risk.QueueManager
	PgPool   *pgxpool.Pool
	Redis    *redis.Client
	Logger   *zap.Logger
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Get("/providers/{id}/slots", getSlotsHandler(cfg.Resolver))

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", createAppointmentHandler(cfg.Service))
		r.Get("/{id}", getAppointmentHandler(cfg.Service))
		r.Get("/{id}/history", getHistoryHandler(cfg.Service))
		r.Post("/{id}/confirm", confirmAppointmentHandler(cfg.Service))
		r.Post("/{id}/reject", rejectAppointmentHandler(cfg.Service))
		r.Post("/{id}/cancel", cancelAppointmentHandler(cfg.Service))
		r.Post("/{id}/reschedule", requestRescheduleHandler(cfg.Service))
		r.Post("/{id}/reschedule/respond", respondRescheduleHandler(cfg.Service))
		r.Post("/{id}/arrival", markArrivedHandler(cfg.Service))
		r.Post("/{id}/start", startAppointmentHandler(cfg.Service))
		r.Post("/{id}/complete", completeAppointmentHandler(cfg.Service))
		r.Post("/{id}/no-show", markNoShowHandler(cfg.Service))
		r.Post("/{id}/operational-status", updateOperationalStatusHandler(cfg.Service))
		r.Post("/{id}/presence", confirmPresenceHandler(cfg.Service))
	})

	r.Route("/risk-queue", func(r chi.Router) {
		r.Get("/", listRiskQueueHandler(cfg.Queue))
		r.Post("/{id}/resolve", resolveRiskQueueItemHandler(cfg.Queue))
	})

	return r
}
