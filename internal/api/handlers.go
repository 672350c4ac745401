package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/care-fulfillment/internal/appointment"
	"github.com/hackgods/care-fulfillment/internal/order"
	"github.com/hackgods/care-fulfillment/internal/prescription"
	"github.com/hackgods/care-fulfillment/internal/session"
)

// maxBodyBytes leaves room for a base64 encoded prescription upload.
const maxBodyBytes = 8 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "could not parse JSON body")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func optionalID(w http.ResponseWriter, raw, field string) (uuid.UUID, bool) {
	if raw == "" {
		return uuid.Nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, field+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func page(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}

func sessionOf(r *http.Request) session.Session {
	sess, _ := session.FromContext(r.Context())
	return sess
}

func listDoctorsHandler(svc *appointment.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctors, err := svc.ListDoctors(r.Context())
		if err != nil {
			fail(logger, w, r, err)
			return
		}
		resp := make([]DoctorResponse, 0, len(doctors))
		for _, d := range doctors {
			resp = append(resp, toDoctor(d))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func availabilityHandler(svc *appointment.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := pathID(w, r, "doctorID")
		if !ok {
			return
		}
		date := r.URL.Query().Get("date")
		avail, err := svc.Availability(r.Context(), doctorID, date)
		if err != nil {
			fail(logger, w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAvailability(doctorID, date, avail))
	}
}

func bookAppointmentHandler(svc *appointment.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequest, "doctor_id must be a valid UUID")
			return
		}
		patientID, ok := optionalID(w, req.PatientID, "patient_id")
		if !ok {
			return
		}

		appt, err := svc.Book(r.Context(), sessionOf(r), appointment.BookCommand{
			DoctorID:      doctorID,
			PatientID:     patientID,
			Date:          req.Date,
			Time:          req.Time,
			Mode:          appointment.Mode(req.Mode),
			PaymentMethod: req.PaymentMethod,
		})
		if err != nil {
			fail(logger, w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAppointment(appt))
	}
}

func listAppointmentsHandler(svc *appointment.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := page(r)
		appts, err := svc.List(r.Context(), sessionOf(r), limit, offset)
		if err != nil {
			fail(logger, w, r, err)
			return
		}
		resp := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointment(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getAppointmentHandler(svc *appointment.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		appt, err := svc.Get(r.Context(), sessionOf(r), id)
		if err != nil {
			fail(logger, w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointment(appt))
	}
}

func cancelAppointmentHandler(svc *appointment.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var req CancelAppointmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		appt, err := svc.Cancel(r.Context(), sessionOf(r), id, appointment.CancelCommand{
			Reason: appointment.CancelReason(req.Reason),
		})
		if err != nil {
			fail(logger, w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointment(appt))
	}
}

func completeAppointmentHandler(svc *appointment.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var req CompleteAppointmentRequest
		if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
			return
		}
		appt, err := svc.Complete(r.Context(), sessionOf(r), id, appointment.CompleteCommand{
			IssuePrescription: req.IssuePrescription,
			PrescriptionNotes: req.PrescriptionNotes,
		})
		if err != nil {
			fail(logger, w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointment(appt))
	}
}

func listMedicinesHandler(svc *order.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		meds, err := svc.ListMedicines(r.Context())
		if err != nil {
			fail(logger, w, r, err)
			return
		}
		resp := make([]MedicineResponse, 0, len(meds))
		for _, m := range meds {
			resp = append(resp, toMedicine(m))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func toClaim(req *ClaimRequest) (*prescription.Claim, error) {
	if req == nil {
		return nil, nil
	}
	switch prescription.ClaimKind(req.Kind) {
	case prescription.ClaimExisting:
		id, err := uuid.Parse(req.PrescriptionID)
		if err != nil {
			return nil, errors.New("prescription_id must be a valid UUID")
		}
		return &prescription.Claim{Kind: prescription.ClaimExisting, PrescriptionID: id}, nil
	case prescription.ClaimUpload:
		return &prescription.Claim{
			Kind: prescription.ClaimUpload,
			Document: &prescription.Document{
				FileName:    req.FileName,
				ContentType: req.ContentType,
				Data:        req.Data,
			},
		}, nil
	default:
		return nil, errors.New("prescription kind must be existing or upload")
	}
}

func checkoutHandler(svc *order.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CheckoutRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		patientID, ok := optionalID(w, req.PatientID, "patient_id")
		if !ok {
			return
		}
		items := make([]order.Item, 0, len(req.Items))
		for _, it := range req.Items {
			id, err := uuid.Parse(it.MedicineID)
			if err != nil {
				writeError(w, http.StatusBadRequest, codeInvalidRequest, "medicine_id must be a valid UUID")
				return
			}
			items = append(items, order.Item{MedicineID: id, Quantity: it.Quantity})
		}
		claim, err := toClaim(req.Prescription)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
			return
		}

		o, err := svc.Checkout(r.Context(), sessionOf(r), order.CheckoutCommand{
			PatientID:     patientID,
			Items:         items,
			Address:       req.Address,
			PaymentMethod: req.PaymentMethod,
			Prescription:  claim,
		})
		if err != nil {
			fail(logger, w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toOrder(o))
	}
}

func listOrdersHandler(svc *order.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := page(r)
		orders, err := svc.List(r.Context(), sessionOf(r), limit, offset)
		if err != nil {
			fail(logger, w, r, err)
			return
		}
		resp := make([]OrderResponse, 0, len(orders))
		for i := range orders {
			resp = append(resp, toOrder(&orders[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getOrderHandler(svc *order.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		o, err := svc.Get(r.Context(), sessionOf(r), id)
		if err != nil {
			fail(logger, w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toOrder(o))
	}
}

func advanceOrderHandler(svc *order.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		o, err := svc.Advance(r.Context(), sessionOf(r), id)
		if err != nil {
			fail(logger, w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toOrder(o))
	}
}

func cancelOrderHandler(svc *order.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var req CancelOrderRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		o, err := svc.Cancel(r.Context(), sessionOf(r), id, order.CancelReason(req.Reason))
		if err != nil {
			fail(logger, w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toOrder(o))
	}
}

func attachPrescriptionHandler(svc *order.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		var req ClaimRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		claim, err := toClaim(&req)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
			return
		}
		o, err := svc.AttachPrescription(r.Context(), sessionOf(r), id, *claim)
		if err != nil {
			fail(logger, w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toOrder(o))
	}
}

// canRead reports whether the caller may see a prescription: its patient,
// the issuing doctor, pharmacists and staff.
func canRead(sess session.Session, p *prescription.Prescription) bool {
	switch {
	case sess.Owns(p.PatientID), sess.Role == session.RolePharmacist:
		return true
	case sess.Role == session.RoleDoctor && p.DoctorID != nil:
		return *p.DoctorID == sess.UserID
	}
	return false
}

func listPrescriptionsHandler(svc *prescription.Gate, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := sessionOf(r)
		if sess.Role != session.RolePatient {
			fail(logger, w, r, session.ErrForbidden)
			return
		}
		list, err := svc.ListByPatient(r.Context(), sess.UserID)
		if err != nil {
			fail(logger, w, r, err)
			return
		}
		resp := make([]PrescriptionResponse, 0, len(list))
		for i := range list {
			resp = append(resp, toPrescription(&list[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getPrescriptionHandler(svc *prescription.Gate, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		p, err := svc.Get(r.Context(), id)
		if err != nil {
			fail(logger, w, r, err)
			return
		}
		if !canRead(sessionOf(r), p) {
			fail(logger, w, r, session.ErrForbidden)
			return
		}
		writeJSON(w, http.StatusOK, toPrescription(p))
	}
}

func reviewPrescriptionHandler(gate *prescription.Gate, orders *order.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		sess := sessionOf(r)
		if !(sess.Role.Staff() || sess.Role == session.RolePharmacist) {
			fail(logger, w, r, session.ErrForbidden)
			return
		}
		var req ReviewRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		p, err := gate.Review(r.Context(), id, prescription.Verdict(req.Verdict))
		if err != nil {
			fail(logger, w, r, err)
			return
		}
		parked, err := orders.HandlePrescriptionReview(r.Context(), *p)
		if err != nil {
			fail(logger, w, r, err)
			return
		}

		resp := ReviewResponse{Prescription: toPrescription(p), ParkedOrders: make([]uuid.UUID, 0, len(parked))}
		for _, o := range parked {
			resp.ParkedOrders = append(resp.ParkedOrders, o.ID)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
