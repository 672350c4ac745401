package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hackgods/care-fulfillment/internal/appointment"
	"github.com/hackgods/care-fulfillment/internal/metrics"
	"github.com/hackgods/care-fulfillment/internal/order"
	"github.com/hackgods/care-fulfillment/internal/prescription"
	"github.com/hackgods/care-fulfillment/internal/session"
)

type RouterConfig struct {
	Appointments  *appointment.Service
	Orders        *order.Service
	Prescriptions *prescription.Gate
	Tokens        *session.Tokens
	Health        *HealthHandler
	Limiter       *RateLimiter // optional; guards booking and checkout
	Logger        *zap.Logger
	Metrics       *metrics.Collector
	Gatherer      prometheus.Gatherer
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limited := func(next http.HandlerFunc) http.Handler {
		if cfg.Limiter == nil {
			return next
		}
		return cfg.Limiter.Middleware(next)
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger, cfg.Metrics))

	health := cfg.Health
	if health == nil {
		health = NewHealthHandler("", "")
	}
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(cfg.Gatherer))

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(cfg.Tokens))

		r.Get("/doctors", listDoctorsHandler(cfg.Appointments, logger))
		r.Get("/doctors/{doctorID}/availability", availabilityHandler(cfg.Appointments, logger))

		r.Method(http.MethodPost, "/appointments", limited(bookAppointmentHandler(cfg.Appointments, logger)))
		r.Get("/appointments", listAppointmentsHandler(cfg.Appointments, logger))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Appointments, logger))
		r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Appointments, logger))
		r.Post("/appointments/{id}/complete", completeAppointmentHandler(cfg.Appointments, logger))

		r.Get("/medicines", listMedicinesHandler(cfg.Orders, logger))
		r.Method(http.MethodPost, "/orders", limited(checkoutHandler(cfg.Orders, logger)))
		r.Get("/orders", listOrdersHandler(cfg.Orders, logger))
		r.Get("/orders/{id}", getOrderHandler(cfg.Orders, logger))
		r.Post("/orders/{id}/advance", advanceOrderHandler(cfg.Orders, logger))
		r.Post("/orders/{id}/cancel", cancelOrderHandler(cfg.Orders, logger))
		r.Post("/orders/{id}/prescription", attachPrescriptionHandler(cfg.Orders, logger))

		r.Get("/prescriptions", listPrescriptionsHandler(cfg.Prescriptions, logger))
		r.Get("/prescriptions/{id}", getPrescriptionHandler(cfg.Prescriptions, logger))
		r.Post("/prescriptions/{id}/review", reviewPrescriptionHandler(cfg.Prescriptions, cfg.Orders, logger))
	})

	return r
}
