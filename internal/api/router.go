package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Service SchedulingService
	Auth    *Authenticator
	Health  *HealthHandler
	Logger  *zap.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &handlers{svc: cfg.Service, logger: logger}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}

	r.Route("/api", func(r chi.Router) {
		// public
		r.Get("/availability", h.listOpenSlots)
		r.Get("/doctors", h.listDoctors)

		r.Group(func(r chi.Router) {
			r.Use(cfg.Auth.Middleware)

			r.Post("/availability", h.createSlot)
			r.Post("/availability/day", h.createDayOpenings)
			r.Delete("/availability", h.deleteSlotRange)
			r.Delete("/availability/{id}", h.deleteSlot)

			r.Post("/appointments", h.createAppointment)
			r.Get("/appointments/my", h.listMyAppointments)
			r.Get("/appointments/doctor/{doctorId}", h.listDoctorAgenda)
			r.Get("/appointments/{id}", h.getAppointment)
			r.Patch("/appointments/{id}/status", h.updateStatus)

			r.Get("/patients", h.listPatients)
			r.Get("/patients/{id}", h.getPatient)
		})
	})

	return r
}
