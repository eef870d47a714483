package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/availability"
	"github.com/hackgods/clinic-booking/internal/interval"
	"github.com/hackgods/clinic-booking/internal/tz"
)

func slotsHandler(svc *availability.Service, zone tz.Zone) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "doctor_id")
		if !ok {
			return
		}
		q := r.URL.Query()
		from, to, err := parseRange(zone, q.Get("from"), q.Get("to"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_time", err.Error())
			return
		}

		var slot time.Duration
		if raw := q.Get("duration"); raw != "" {
			minutes, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_slot_duration", "duration must be whole minutes")
				return
			}
			slot = time.Duration(minutes) * time.Minute
			if slot == 0 {
				writeServiceError(w, r, availability.ErrInvalidSlotDuration)
				return
			}
		}

		slots, err := svc.AvailableSlots(r.Context(), doctorID, from, to, slot)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toSlotResponses(slots))
	}
}

func listRulesHandler(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "doctor_id")
		if !ok {
			return
		}

		rules, err := svc.ListWeeklyRules(r.Context(), doctorID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toRuleResponses(rules))
	}
}

func upsertRulesHandler(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := ownDoctorParam(w, r)
		if !ok {
			return
		}
		var req WeeklyRulesRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		rules := make([]availability.WeeklyRule, 0, len(req.Rules))
		for _, body := range req.Rules {
			rules = append(rules, availability.WeeklyRule{
				Weekday: body.Weekday,
				Enabled: body.Enabled,
				Ranges:  body.Ranges,
			})
		}

		saved, err := svc.UpsertWeeklyRules(r.Context(), doctorID, rules)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toRuleResponses(saved))
	}
}

func resetRulesHandler(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := ownDoctorParam(w, r)
		if !ok {
			return
		}

		n, err := svc.ResetWeeklyRules(r.Context(), doctorID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
	}
}

func getSettingsHandler(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "doctor_id")
		if !ok {
			return
		}

		s, err := svc.GetSettings(r.Context(), doctorID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, SettingsResponse{DoctorID: s.DoctorID, SlotMinutes: s.SlotMinutes})
	}
}

func updateSettingsHandler(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := ownDoctorParam(w, r)
		if !ok {
			return
		}
		var req SettingsRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		s, err := svc.UpdateSettings(r.Context(), doctorID, req.SlotMinutes)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, SettingsResponse{DoctorID: s.DoctorID, SlotMinutes: s.SlotMinutes})
	}
}

func createBlockHandler(svc *appointment.Service, zone tz.Zone) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "doctor_id")
		if !ok {
			return
		}
		var req BlockRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		start, err := zone.Parse(req.Start)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_time", "start: "+err.Error())
			return
		}
		var end time.Time
		if req.End != "" || !req.AllDay {
			if end, err = zone.Parse(req.End); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_time", "end: "+err.Error())
				return
			}
		}

		b, err := svc.CreateBlock(r.Context(), ActorFrom(r.Context()), appointment.BlockRequest{
			DoctorID: doctorID,
			Start:    start,
			End:      end,
			AllDay:   req.AllDay,
			Reason:   req.Reason,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toBlockResponse(*b))
	}
}

func listBlocksHandler(svc *appointment.Service, zone tz.Zone) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "doctor_id")
		if !ok {
			return
		}

		var window *interval.Interval
		q := r.URL.Query()
		if q.Get("from") != "" || q.Get("to") != "" {
			from, to, err := parseRange(zone, q.Get("from"), q.Get("to"))
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_time", err.Error())
				return
			}
			window = &interval.Interval{Start: from, End: to}
		}

		blocks, err := svc.ListBlocks(r.Context(), doctorID, window)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		out := make([]BlockResponse, 0, len(blocks))
		for _, b := range blocks {
			out = append(out, toBlockResponse(b))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func deleteBlockHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		if err := svc.DeleteBlock(r.Context(), ActorFrom(r.Context()), id); err != nil {
			writeServiceError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// ownDoctorParam reads the doctor id from the path and requires the caller
// to be that doctor.
func ownDoctorParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	doctorID, ok := uuidParam(w, r, "doctor_id")
	if !ok {
		return uuid.Nil, false
	}
	if !ActorFrom(r.Context()).IsDoctor(doctorID) {
		writeError(w, http.StatusForbidden, "forbidden", "forbidden")
		return uuid.Nil, false
	}
	return doctorID, true
}
