package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hackgods/homecare-scheduling/internal/scheduling"
)

// SchedulingService is the slice of scheduling.Service the handlers use.
type SchedulingService interface {
	CreateSlot(ctx context.Context, req scheduling.NewSlot, requester scheduling.Requester) (*scheduling.AvailabilitySlot, error)
	CreateDayOpenings(ctx context.Context, req scheduling.DayOpenings, requester scheduling.Requester) (*scheduling.BatchResult, error)
	ListOpenSlots(ctx context.Context, f scheduling.SlotFilter) ([]scheduling.AvailabilitySlot, error)
	DeleteSlot(ctx context.Context, slotID int64, requester scheduling.Requester) error
	DeleteOpenSlotsInRange(ctx context.Context, requester scheduling.Requester, doctorID int64, from, to time.Time) (int64, error)

	Book(ctx context.Context, slotID int64, requester scheduling.Requester, patientID *int64, notes *string) (*scheduling.Appointment, error)
	SetStatus(ctx context.Context, appointmentID int64, requested scheduling.AppointmentStatus, requester scheduling.Requester) (*scheduling.Appointment, error)
	GetAppointment(ctx context.Context, id int64, requester scheduling.Requester) (*scheduling.Appointment, error)
	ListMyAppointments(ctx context.Context, requester scheduling.Requester, status *scheduling.AppointmentStatus) ([]scheduling.Appointment, error)
	ListDoctorAgenda(ctx context.Context, requester scheduling.Requester, doctorID int64, status *scheduling.AppointmentStatus) ([]scheduling.Appointment, error)
	ListDoctors(ctx context.Context, query string) ([]scheduling.User, error)
	ListPatients(ctx context.Context, requester scheduling.Requester, query string) ([]scheduling.User, error)
	GetPatient(ctx context.Context, requester scheduling.Requester, patientID int64) (*scheduling.User, error)
}

type handlers struct {
	svc    SchedulingService
	logger *zap.Logger
}

// Availability

func (h *handlers) createSlot(w http.ResponseWriter, r *http.Request) {
	requester, ok := RequesterFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	var req CreateSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	in := scheduling.NewSlot{DoctorID: req.DoctorID}
	if req.StartsAt != nil {
		in.StartsAt = *req.StartsAt
	}
	if req.EndsAt != nil {
		in.EndsAt = *req.EndsAt
	}

	slot, err := h.svc.CreateSlot(r.Context(), in, requester)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSlotResponse(*slot))
}

func (h *handlers) createDayOpenings(w http.ResponseWriter, r *http.Request) {
	requester, ok := RequesterFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	var req DayOpeningsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	res, err := h.svc.CreateDayOpenings(r.Context(), scheduling.DayOpenings{
		DoctorID:    req.DoctorID,
		Date:        req.Date,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		DurationMin: req.DurationMin,
	}, requester)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	skipped := make([]SkippedResponse, 0, len(res.Skipped))
	for _, s := range res.Skipped {
		skipped = append(skipped, SkippedResponse{StartsAt: s.StartsAt, EndsAt: s.EndsAt, Reason: s.Reason})
	}

	writeJSON(w, http.StatusCreated, DayOpeningsResponse{
		Created: toSlotResponses(res.Created),
		Skipped: skipped,
	})
}

func (h *handlers) listOpenSlots(w http.ResponseWriter, r *http.Request) {
	var f scheduling.SlotFilter
	var err error

	q := r.URL.Query()
	if f.DoctorID, err = optionalInt64(q.Get("doctorId")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorId must be an integer")
		return
	}
	if f.From, err = optionalTime(q.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_from", "from must be an RFC3339 timestamp")
		return
	}
	if f.To, err = optionalTime(q.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_to", "to must be an RFC3339 timestamp")
		return
	}

	slots, err := h.svc.ListOpenSlots(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toSlotResponses(slots))
}

func (h *handlers) deleteSlot(w http.ResponseWriter, r *http.Request) {
	requester, ok := RequesterFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_slot_id", "id must be an integer")
		return
	}

	if err := h.svc.DeleteSlot(r.Context(), id, requester); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) deleteSlotRange(w http.ResponseWriter, r *http.Request) {
	requester, ok := RequesterFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	q := r.URL.Query()
	doctorID, err := strconv.ParseInt(q.Get("doctorId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorId must be an integer")
		return
	}
	from, err := time.Parse(time.RFC3339, q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_from", "from must be an RFC3339 timestamp")
		return
	}
	to, err := time.Parse(time.RFC3339, q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_to", "to must be an RFC3339 timestamp")
		return
	}

	n, err := h.svc.DeleteOpenSlotsInRange(r.Context(), requester, doctorID, from, to)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, DeleteRangeResponse{Deleted: n})
}

// Appointments

func (h *handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	requester, ok := RequesterFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	var req CreateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if req.SlotID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_slot_id", "slotId is required")
		return
	}

	appt, err := h.svc.Book(r.Context(), req.SlotID, requester, req.PatientID, req.Notes)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAppointmentResponse(*appt))
}

func (h *handlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	requester, ok := RequesterFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be an integer")
		return
	}

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	status, err := scheduling.ParseStatus(req.Status)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	appt, err := h.svc.SetStatus(r.Context(), id, status, requester)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	requester, ok := RequesterFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be an integer")
		return
	}

	appt, err := h.svc.GetAppointment(r.Context(), id, requester)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
}

func (h *handlers) listMyAppointments(w http.ResponseWriter, r *http.Request) {
	requester, ok := RequesterFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	status, err := optionalStatus(r.URL.Query().Get("status"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	appts, err := h.svc.ListMyAppointments(r.Context(), requester, status)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponses(appts))
}

func (h *handlers) listDoctorAgenda(w http.ResponseWriter, r *http.Request) {
	requester, ok := RequesterFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	doctorID, err := pathID(r, "doctorId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorId must be an integer")
		return
	}

	status, err := optionalStatus(r.URL.Query().Get("status"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	appts, err := h.svc.ListDoctorAgenda(r.Context(), requester, doctorID, status)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponses(appts))
}

// Directory

func (h *handlers) listDoctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := h.svc.ListDoctors(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponses(doctors))
}

// Patients

func (h *handlers) listPatients(w http.ResponseWriter, r *http.Request) {
	requester, ok := RequesterFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	patients, err := h.svc.ListPatients(r.Context(), requester, r.URL.Query().Get("q"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponses(patients))
}

func (h *handlers) getPatient(w http.ResponseWriter, r *http.Request) {
	requester, ok := RequesterFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	patientID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", "id must be an integer")
		return
	}

	patient, err := h.svc.GetPatient(r.Context(), requester, patientID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(*patient))
}

// Params

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func optionalInt64(raw string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func optionalTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

func optionalStatus(raw string) (*scheduling.AppointmentStatus, error) {
	if raw == "" {
		return nil, nil
	}
	s, err := scheduling.ParseStatus(raw)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
