package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/availability"
	"github.com/hackgods/clinic-booking/internal/reminder"
	"github.com/hackgods/clinic-booking/internal/tz"
)

type RouterConfig struct {
	Appointments *appointment.Service
	Availability *availability.Service
	Reminders    *reminder.Scheduler
	Zone         tz.Zone

	Postgres Pinger        // nil with the memory driver
	Redis    *redis.Client // nil without the redis booking lock
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(ActorMiddleware)

	// Health endpoints
	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	appts, zone := cfg.Appointments, cfg.Zone

	// Doctor calendar
	r.Route("/doctors/{doctor_id}", func(r chi.Router) {
		r.Get("/slots", slotsHandler(cfg.Availability, zone))

		r.Get("/rules", listRulesHandler(cfg.Availability))
		r.Put("/rules", upsertRulesHandler(cfg.Availability))
		r.Delete("/rules", resetRulesHandler(cfg.Availability))

		r.Get("/settings", getSettingsHandler(cfg.Availability))
		r.Put("/settings", updateSettingsHandler(cfg.Availability))

		r.Get("/blocks", listBlocksHandler(appts, zone))
		r.Post("/blocks", createBlockHandler(appts, zone))
	})
	r.Delete("/blocks/{id}", deleteBlockHandler(appts))

	// Appointment endpoints
	r.Post("/holds", holdHandler(appts, zone))
	r.Post("/appointments", bookHandler(appts, zone))
	r.Get("/appointments", listAppointmentsHandler(appts, zone))
	r.Get("/appointments/{id}", getAppointmentHandler(appts))
	r.Delete("/appointments/{id}", deleteAppointmentHandler(appts))
	r.Post("/appointments/{id}/confirm", confirmAppointmentHandler(appts))
	r.Post("/appointments/{id}/reschedule", rescheduleAppointmentHandler(appts, zone))

	// Operator endpoints
	r.Route("/admin", func(r chi.Router) {
		r.Use(requireSystem)

		r.Post("/payments/apply", applyPaymentsHandler(appts))

		r.Get("/reminder-jobs", listJobsHandler(cfg.Reminders))
		r.Post("/reminder-jobs/rebuild", recoverJobsHandler(cfg.Reminders))
		r.Get("/reminder-jobs/{job_id}", getJobHandler(cfg.Reminders))
		r.Post("/reminder-jobs/{job_id}/run", runJobHandler(cfg.Reminders))
		r.Post("/reminder-jobs/{job_id}/cancel", cancelJobHandler(cfg.Reminders))
		r.Post("/appointments/{id}/reminder", rebuildReminderHandler(cfg.Reminders))
	})

	return r
}
