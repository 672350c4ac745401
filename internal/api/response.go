package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hackgods/care-fulfillment/internal/appointment"
	"github.com/hackgods/care-fulfillment/internal/order"
	"github.com/hackgods/care-fulfillment/internal/prescription"
	"github.com/hackgods/care-fulfillment/internal/session"
	"github.com/hackgods/care-fulfillment/internal/slot"
)

// Stable error codes returned in ErrorResponse.Error.
const (
	codeSlotUnavailable     = "slot_unavailable"
	codePaymentFailed       = "payment_failed"
	codeInvalidPrescription = "invalid_prescription"
	codeInvalidTransition   = "invalid_transition"
	codeScheduledInPast     = "scheduled_in_past"
	codeNotFound            = "not_found"
	codeForbidden           = "forbidden"
	codeUnauthorized        = "unauthorized"
	codeInvalidRequest      = "invalid_request"
	codeRateLimited         = "rate_limited"
	codeInternal            = "internal_error"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// classify maps a domain error onto an HTTP status and stable code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, appointment.ErrSlotUnavailable):
		return http.StatusConflict, codeSlotUnavailable
	case errors.Is(err, appointment.ErrPaymentFailed),
		errors.Is(err, order.ErrPaymentFailed):
		return http.StatusPaymentRequired, codePaymentFailed
	case errors.Is(err, prescription.ErrInvalidPrescription):
		return http.StatusUnprocessableEntity, codeInvalidPrescription
	case errors.Is(err, appointment.ErrInvalidTransition),
		errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, prescription.ErrAlreadyReviewed):
		return http.StatusConflict, codeInvalidTransition
	case errors.Is(err, appointment.ErrScheduledInPast):
		return http.StatusUnprocessableEntity, codeScheduledInPast
	case errors.Is(err, appointment.ErrAppointmentNotFound),
		errors.Is(err, appointment.ErrDoctorNotFound),
		errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, order.ErrMedicineNotFound),
		errors.Is(err, prescription.ErrPrescriptionNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, session.ErrForbidden):
		return http.StatusForbidden, codeForbidden
	case errors.Is(err, session.ErrTokenExpired),
		errors.Is(err, session.ErrTokenInvalid):
		return http.StatusUnauthorized, codeUnauthorized
	case errors.Is(err, appointment.ErrInvalidInput),
		errors.Is(err, order.ErrInvalidInput),
		errors.Is(err, prescription.ErrInvalidVerdict),
		errors.Is(err, slot.ErrInvalidDate):
		return http.StatusBadRequest, codeInvalidRequest
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func fail(logger *zap.Logger, w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	details := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		details = "unexpected error"
	}
	writeError(w, status, code, details)
}
