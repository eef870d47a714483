package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-booking/internal/api"
	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/availability"
	"github.com/hackgods/clinic-booking/internal/clock"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/memstore"
	"github.com/hackgods/clinic-booking/internal/observability/metrics"
	"github.com/hackgods/clinic-booking/internal/reminder"
	"github.com/hackgods/clinic-booking/internal/tz"
)

// 2025-06-02 is a Monday; the clinic runs on Guayaquil time (UTC-5).
var t0 = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

type nopSender struct{}

func (nopSender) NotifyReminder(context.Context, appointment.Appointment) error { return nil }

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type server struct {
	handler http.Handler
	store   *memstore.Store
	clock   *clock.Fake
	doctor  uuid.UUID
}

func newServer(t *testing.T) *server {
	t.Helper()
	clk := clock.NewFake(t0)
	store := memstore.New(clk)
	zone := tz.MustZone("America/Guayaquil")
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	appts := appointment.NewService(appointment.Deps{
		Repo:    store,
		Checker: store,
		Tasks:   store,
		Clock:   clk,
		Zone:    zone,
		Metrics: m,
	}, config.Config{
		HoldTTL:           15 * time.Minute,
		MaxHoldTTL:        time.Hour,
		RescheduleMinLead: 4 * time.Hour,
	})
	sched := reminder.NewScheduler(store, store, nopSender{}, clk, reminder.Config{}, m, nil)
	t.Cleanup(sched.Stop)
	appts.SetReminders(sched)

	avail := availability.NewService(store, store, availability.Options{
		Zone:        zone,
		Clock:       clk,
		DefaultSlot: 50 * time.Minute,
		Sweeper:     appts,
	})

	return &server{
		handler: api.NewRouter(api.RouterConfig{
			Appointments: appts,
			Availability: avail,
			Reminders:    sched,
			Zone:         zone,
			Gatherer:     reg,
			Env:          "test",
			Version:      "v0",
		}),
		store:  store,
		clock:  clk,
		doctor: uuid.New(),
	}
}

type caller struct {
	id   uuid.UUID
	role appointment.Role
}

func (s *server) do(t *testing.T, who caller, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if who.role != "" {
		req.Header.Set(api.HeaderActorRole, string(who.role))
		req.Header.Set(api.HeaderActorID, who.id.String())
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *server) doctorCaller() caller { return caller{id: s.doctor, role: appointment.RoleDoctor} }

func patientCaller() caller { return caller{id: uuid.New(), role: appointment.RolePatient} }

var system = caller{role: appointment.RoleSystem}

func (s *server) publishTuesdayMorning(t *testing.T) {
	t.Helper()
	rec := s.do(t, s.doctorCaller(), http.MethodPut, "/doctors/"+s.doctor.String()+"/rules", api.WeeklyRulesRequest{
		Rules: []api.WeeklyRuleBody{{
			Weekday: time.Tuesday,
			Enabled: true,
			Ranges:  []availability.Range{{Start: 9 * 60, End: 12 * 60}},
		}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func (s *server) slotsPath() string {
	return "/doctors/" + s.doctor.String() + "/slots?from=2025-06-03&to=2025-06-04"
}

func hold(start, end string) api.HoldRequest {
	return api.HoldRequest{Slots: []api.SlotRequest{{Start: start, End: end}}}
}

func (s *server) holdAs(t *testing.T, who caller, start, end string) *httptest.ResponseRecorder {
	t.Helper()
	req := hold(start, end)
	req.DoctorID = s.doctor.String()
	return s.do(t, who, http.MethodPost, "/holds", req)
}

func TestHealthEndpoints(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, caller{}, http.MethodGet, "/health/live", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[api.LivenessResponse](t, rec).Status)
	assert.NotEmpty(t, rec.Header().Get(api.HeaderRequestID))

	rec = s.do(t, caller{}, http.MethodGet, "/health/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[api.ReadinessResponse](t, rec).Dependencies)
}

func TestReadinessFailsWhenPostgresIsDown(t *testing.T) {
	h := api.NewHealthHandler(pinger{err: errors.New("connection refused")}, nil, "test", "v0")
	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decode[api.ReadinessResponse](t, rec)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "down", resp.Dependencies["postgres"])
}

func TestHoldConfirmFlow(t *testing.T) {
	s := newServer(t)
	s.publishTuesdayMorning(t)

	rec := s.do(t, caller{}, http.MethodGet, s.slotsPath(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	slots := decode[[]api.SlotResponse](t, rec)
	require.Len(t, slots, 3)
	assert.Equal(t, time.Date(2025, 6, 3, 14, 0, 0, 0, time.UTC), slots[0].Start.UTC())

	rec = s.holdAs(t, patientCaller(), "2025-06-03T09:00", "2025-06-03T09:50")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	held := decode[[]api.AppointmentResponse](t, rec)
	require.Len(t, held, 1)
	assert.Equal(t, "pending", held[0].Status)
	require.NotNil(t, held[0].HoldUntil)
	assert.Equal(t, t0.Add(15*time.Minute), held[0].HoldUntil.UTC())

	rec = s.do(t, caller{}, http.MethodGet, s.slotsPath(), nil)
	assert.Len(t, decode[[]api.SlotResponse](t, rec), 2)

	// the same instant written with an offset is the same slot
	rec = s.holdAs(t, patientCaller(), "2025-06-03T14:00:00Z", "2025-06-03T14:50:00Z")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_taken", decode[api.ErrorResponse](t, rec).Error)

	rec = s.do(t, s.doctorCaller(), http.MethodPost, "/appointments/"+held[0].ID.String()+"/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	confirmed := decode[api.AppointmentResponse](t, rec)
	assert.Equal(t, "confirmed", confirmed.Status)
	assert.Nil(t, confirmed.HoldUntil)

	rec = s.do(t, system, http.MethodGet, "/admin/reminder-jobs?status=scheduled", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	jobs := decode[[]reminder.Job](t, rec)
	require.Len(t, jobs, 1)
	assert.Equal(t, reminder.JobID(confirmed.ID), jobs[0].ID)
	assert.Equal(t, time.Date(2025, 6, 3, 13, 50, 0, 0, time.UTC), jobs[0].RunAt.UTC())

	rec = s.do(t, s.doctorCaller(), http.MethodPost, "/appointments/"+held[0].ID.String()+"/confirm", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_status", decode[api.ErrorResponse](t, rec).Error)
}

func TestErrorMapping(t *testing.T) {
	s := newServer(t)
	patient := patientCaller()
	missing := uuid.New().String()

	tests := []struct {
		name   string
		who    caller
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{
			name: "reversed range", who: patient, method: http.MethodPost, path: "/holds",
			body:   api.HoldRequest{DoctorID: s.doctor.String(), Slots: []api.SlotRequest{{Start: "2025-06-03T10:00", End: "2025-06-03T09:00"}}},
			status: http.StatusBadRequest, code: "invalid_range",
		},
		{
			name: "past slot", who: patient, method: http.MethodPost, path: "/holds",
			body:   api.HoldRequest{DoctorID: s.doctor.String(), Slots: []api.SlotRequest{{Start: "2025-06-01T09:00", End: "2025-06-01T09:50"}}},
			status: http.StatusBadRequest, code: "slot_in_past",
		},
		{
			name: "overlapping batch", who: patient, method: http.MethodPost, path: "/holds",
			body: api.HoldRequest{DoctorID: s.doctor.String(), Slots: []api.SlotRequest{
				{Start: "2025-06-03T09:00", End: "2025-06-03T09:50"},
				{Start: "2025-06-03T09:30", End: "2025-06-03T10:20"},
			}},
			status: http.StatusConflict, code: "batch_overlap",
		},
		{
			name: "unparseable time", who: patient, method: http.MethodPost, path: "/holds",
			body:   api.HoldRequest{DoctorID: s.doctor.String(), Slots: []api.SlotRequest{{Start: "tomorrow", End: "later"}}},
			status: http.StatusBadRequest, code: "invalid_time",
		},
		{
			name: "doctor cannot hold", who: s.doctorCaller(), method: http.MethodPost, path: "/holds",
			body:   api.HoldRequest{DoctorID: s.doctor.String(), Slots: []api.SlotRequest{{Start: "2025-06-03T09:00", End: "2025-06-03T09:50"}}},
			status: http.StatusForbidden, code: "forbidden",
		},
		{
			name: "unknown appointment", who: patient, method: http.MethodGet, path: "/appointments/" + missing,
			status: http.StatusNotFound, code: "appointment_not_found",
		},
		{
			name: "malformed id", who: patient, method: http.MethodGet, path: "/appointments/nope",
			status: http.StatusBadRequest, code: "invalid_id",
		},
		{
			name: "window too large", method: http.MethodGet,
			path:   "/doctors/" + s.doctor.String() + "/slots?from=2025-06-03&to=2025-08-03",
			status: http.StatusBadRequest, code: "window_too_large",
		},
		{
			name: "rules of another doctor", who: patient, method: http.MethodPut,
			path: "/doctors/" + s.doctor.String() + "/rules", body: api.WeeklyRulesRequest{},
			status: http.StatusForbidden, code: "forbidden",
		},
		{
			name: "operator endpoint", who: patient, method: http.MethodGet, path: "/admin/reminder-jobs",
			status: http.StatusForbidden, code: "forbidden",
		},
		{
			name: "unknown job", who: system, method: http.MethodPost, path: "/admin/reminder-jobs/appt_reminder:" + missing + "/run",
			status: http.StatusNotFound, code: "job_not_found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.who, tt.method, tt.path, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[api.ErrorResponse](t, rec).Error)
		})
	}
}

func TestRescheduleTooLateIsRejected(t *testing.T) {
	s := newServer(t)
	patientID := uuid.New()

	rec := s.do(t, s.doctorCaller(), http.MethodPost, "/appointments", api.BookRequest{
		DoctorID:  s.doctor.String(),
		PatientID: ptr(patientID.String()),
		Start:     "2025-06-02T15:00:00Z",
		End:       "2025-06-02T15:50:00Z",
		Status:    "confirmed",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	booked := decode[api.AppointmentResponse](t, rec)

	rec = s.do(t, caller{id: patientID, role: appointment.RolePatient}, http.MethodPost,
		"/appointments/"+booked.ID.String()+"/reschedule", api.RescheduleRequest{
			Start: "2025-06-04T15:00:00Z",
			End:   "2025-06-04T15:50:00Z",
		})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "reschedule_too_late", decode[api.ErrorResponse](t, rec).Error)
}

func TestApplyPaymentsReportsPerID(t *testing.T) {
	s := newServer(t)
	patient := patientCaller()

	rec := s.holdAs(t, patient, "2025-06-03T09:00", "2025-06-03T09:50")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[[]api.AppointmentResponse](t, rec)[0].ID
	missing := uuid.New()

	body := api.ApplyPaymentsRequest{AppointmentIDs: []string{id.String(), id.String(), missing.String()}}
	rec = s.do(t, system, http.MethodPost, "/admin/payments/apply", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	results := decode[api.ApplyPaymentsResponse](t, rec).Results
	require.Len(t, results, 3)
	assert.Equal(t, appointment.PaymentConfirmed, results[0].Outcome)
	assert.Equal(t, appointment.PaymentAlreadyConfirmed, results[1].Outcome)
	assert.Equal(t, appointment.PaymentFailed, results[2].Outcome)
	assert.Equal(t, "appointment_not_found", results[2].Code)
}

func TestBlocksEndpoints(t *testing.T) {
	s := newServer(t)
	s.publishTuesdayMorning(t)
	base := "/doctors/" + s.doctor.String() + "/blocks"

	rec := s.do(t, s.doctorCaller(), http.MethodPost, base, api.BlockRequest{Start: "2025-06-03", AllDay: true})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	block := decode[api.BlockResponse](t, rec)
	assert.Equal(t, time.Date(2025, 6, 3, 5, 0, 0, 0, time.UTC), block.StartAt)
	assert.Equal(t, time.Date(2025, 6, 4, 5, 0, 0, 0, time.UTC), block.EndAt)

	rec = s.do(t, caller{}, http.MethodGet, s.slotsPath(), nil)
	assert.Empty(t, decode[[]api.SlotResponse](t, rec))

	rec = s.do(t, caller{}, http.MethodGet, base+"?from=2025-06-03&to=2025-06-04", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]api.BlockResponse](t, rec), 1)

	rec = s.do(t, patientCaller(), http.MethodDelete, "/blocks/"+block.ID.String(), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, s.doctorCaller(), http.MethodDelete, "/blocks/"+block.ID.String(), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, caller{}, http.MethodGet, s.slotsPath(), nil)
	assert.Len(t, decode[[]api.SlotResponse](t, rec), 3)
}

func TestReminderJobAdministration(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, s.doctorCaller(), http.MethodPost, "/appointments", api.BookRequest{
		DoctorID:  s.doctor.String(),
		PatientID: ptr(uuid.NewString()),
		Start:     "2025-06-03T14:00:00Z",
		End:       "2025-06-03T14:50:00Z",
		Status:    "confirmed",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[api.AppointmentResponse](t, rec).ID
	jobPath := "/admin/reminder-jobs/" + reminder.JobID(id)

	rec = s.do(t, system, http.MethodPost, jobPath+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, reminder.StatusCanceled, decode[reminder.Job](t, rec).Status)

	rec = s.do(t, system, http.MethodPost, jobPath+"/run", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "job_not_scheduled", decode[api.ErrorResponse](t, rec).Error)

	rec = s.do(t, system, http.MethodPost, fmt.Sprintf("/admin/appointments/%s/reminder", id), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, reminder.StatusScheduled, decode[reminder.Job](t, rec).Status)

	rec = s.do(t, system, http.MethodPost, jobPath+"/run", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, reminder.StatusExecuted, decode[reminder.Job](t, rec).Status)

	rec = s.do(t, system, http.MethodPost, "/admin/reminder-jobs/rebuild", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, reminder.RecoveryReport{}, decode[reminder.RecoveryReport](t, rec))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newServer(t)
	s.holdAs(t, patientCaller(), "2025-06-03T09:00", "2025-06-03T09:50")

	rec := s.do(t, caller{}, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `clinic_hold_requests_total{result="ok"} 1`)
}

func ptr[T any](v T) *T { return &v }
