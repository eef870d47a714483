package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/apperror"
	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/interval"
	"github.com/hackgods/clinic-booking/internal/tz"
)

func holdHandler(svc *appointment.Service, zone tz.Zone) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req HoldRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		method, err := appointment.ParsePaymentMethod(req.PaymentMethod)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		slots := make([]interval.Interval, 0, len(req.Slots))
		for i, s := range req.Slots {
			start, end, err := parseRange(zone, s.Start, s.End)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_time", fmt.Sprintf("slots[%d]: %v", i, err))
				return
			}
			slots = append(slots, interval.Interval{Start: start, End: end})
		}

		held, err := svc.Hold(r.Context(), ActorFrom(r.Context()), appointment.HoldRequest{
			DoctorID:      doctorID,
			Slots:         slots,
			HoldMinutes:   req.HoldMinutes,
			PaymentMethod: method,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponses(held))
	}
}

func bookHandler(svc *appointment.Service, zone tz.Zone) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		var patientID *uuid.UUID
		if req.PatientID != nil && *req.PatientID != "" {
			id, err := uuid.Parse(*req.PatientID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			patientID = &id
		}
		status, err := appointment.ParseStatus(req.Status)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		method, err := appointment.ParsePaymentMethod(req.PaymentMethod)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		start, end, err := parseRange(zone, req.Start, req.End)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_time", err.Error())
			return
		}

		appt, err := svc.Book(r.Context(), ActorFrom(r.Context()), appointment.BookRequest{
			DoctorID:      doctorID,
			PatientID:     patientID,
			Start:         start,
			End:           end,
			Status:        status,
			PaymentMethod: method,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(*appt))
	}
}

func confirmAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.Confirm(r.Context(), ActorFrom(r.Context()), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

func rescheduleAppointmentHandler(svc *appointment.Service, zone tz.Zone) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		var req RescheduleRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		start, end, err := parseRange(zone, req.Start, req.End)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_time", err.Error())
			return
		}

		appt, err := svc.Reschedule(r.Context(), ActorFrom(r.Context()), id, start, end)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.Get(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

func listAppointmentsHandler(svc *appointment.Service, zone tz.Zone) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var f appointment.ListFilter

		for key, dst := range map[string]**uuid.UUID{"doctor_id": &f.DoctorID, "patient_id": &f.PatientID} {
			if raw := q.Get(key); raw != "" {
				id, err := uuid.Parse(raw)
				if err != nil {
					writeError(w, http.StatusBadRequest, "invalid_"+key, key+" must be a valid UUID")
					return
				}
				*dst = &id
			}
		}
		if raw := q.Get("status"); raw != "" {
			st, err := appointment.ParseStatus(raw)
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			f.Status = &st
		}
		for key, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
			if raw := q.Get(key); raw != "" {
				t, err := zone.Parse(raw)
				if err != nil {
					writeError(w, http.StatusBadRequest, "invalid_time", key+": "+err.Error())
					return
				}
				*dst = &t
			}
		}
		for key, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
			if raw := q.Get(key); raw != "" {
				n, err := strconv.Atoi(raw)
				if err != nil || n < 0 {
					writeError(w, http.StatusBadRequest, "invalid_"+key, key+" must be a non-negative integer")
					return
				}
				*dst = n
			}
		}

		appts, err := svc.List(r.Context(), f)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponses(appts))
	}
}

func deleteAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		if err := svc.Delete(r.Context(), ActorFrom(r.Context()), id); err != nil {
			writeServiceError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func applyPaymentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ApplyPaymentsRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if len(req.AppointmentIDs) == 0 {
			writeError(w, http.StatusBadRequest, "empty_batch", "appointment_ids must not be empty")
			return
		}

		ids := make([]uuid.UUID, 0, len(req.AppointmentIDs))
		for _, raw := range req.AppointmentIDs {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_appointment_id", fmt.Sprintf("%q is not a valid UUID", raw))
				return
			}
			ids = append(ids, id)
		}

		writeJSON(w, http.StatusOK, ApplyPaymentsResponse{Results: svc.ApplyPayments(r.Context(), ids)})
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseRange(zone tz.Zone, rawStart, rawEnd string) (time.Time, time.Time, error) {
	start, err := zone.Parse(rawStart)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start: %w", apperror.ErrValidation, err)
	}
	end, err := zone.Parse(rawEnd)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end: %w", apperror.ErrValidation, err)
	}
	return start, end, nil
}
