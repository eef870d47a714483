package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/availability"
	"github.com/hackgods/clinic-booking/internal/interval"
)

// Times in requests are ISO-8601 strings. A value with an offset is an
// instant; a naive value is read in the clinic timezone.

type SlotRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type HoldRequest struct {
	DoctorID      string        `json:"doctor_id"`
	Slots         []SlotRequest `json:"slots"`
	HoldMinutes   int           `json:"hold_minutes,omitempty"`
	PaymentMethod string        `json:"payment_method,omitempty"`
}

type BookRequest struct {
	DoctorID      string  `json:"doctor_id"`
	PatientID     *string `json:"patient_id,omitempty"`
	Start         string  `json:"start"`
	End           string  `json:"end"`
	Status        string  `json:"status"`
	PaymentMethod string  `json:"payment_method,omitempty"`
}

type RescheduleRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type BlockRequest struct {
	Start  string  `json:"start"`
	End    string  `json:"end,omitempty"`
	AllDay bool    `json:"all_day"`
	Reason *string `json:"reason,omitempty"`
}

type ApplyPaymentsRequest struct {
	AppointmentIDs []string `json:"appointment_ids"`
}

type ApplyPaymentsResponse struct {
	Results []appointment.PaymentResult `json:"results"`
}

type WeeklyRuleBody struct {
	Weekday time.Weekday         `json:"weekday"`
	Enabled bool                 `json:"enabled"`
	Ranges  []availability.Range `json:"ranges"`
}

type WeeklyRulesRequest struct {
	Rules []WeeklyRuleBody `json:"rules"`
}

type WeeklyRuleResponse struct {
	Weekday   time.Weekday         `json:"weekday"`
	Enabled   bool                 `json:"enabled"`
	Ranges    []availability.Range `json:"ranges"`
	UpdatedAt time.Time            `json:"updated_at"`
}

type SettingsRequest struct {
	SlotMinutes int `json:"slot_minutes"`
}

type SettingsResponse struct {
	DoctorID    uuid.UUID `json:"doctor_id"`
	SlotMinutes int       `json:"slot_minutes"`
}

type SlotResponse struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type AppointmentResponse struct {
	ID            uuid.UUID  `json:"id"`
	DoctorID      uuid.UUID  `json:"doctor_id"`
	PatientID     *uuid.UUID `json:"patient_id,omitempty"`
	StartAt       time.Time  `json:"start_at"`
	EndAt         time.Time  `json:"end_at"`
	Status        string     `json:"status"`
	HoldUntil     *time.Time `json:"hold_until,omitempty"`
	PaymentMethod string     `json:"payment_method,omitempty"`
	MeetingURL    *string    `json:"meeting_url,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type BlockResponse struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	StartAt   time.Time `json:"start_at"`
	EndAt     time.Time `json:"end_at"`
	AllDay    bool      `json:"all_day"`
	Reason    *string   `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:            a.ID,
		DoctorID:      a.DoctorID,
		PatientID:     a.PatientID,
		StartAt:       a.StartAt.UTC(),
		EndAt:         a.EndAt.UTC(),
		Status:        string(a.Status),
		HoldUntil:     a.HoldUntil,
		PaymentMethod: string(a.PaymentMethod),
		MeetingURL:    a.MeetingURL,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

func toAppointmentResponses(appts []appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(appts))
	for _, a := range appts {
		out = append(out, toAppointmentResponse(a))
	}
	return out
}

func toBlockResponse(b appointment.Block) BlockResponse {
	return BlockResponse{
		ID:        b.ID,
		DoctorID:  b.DoctorID,
		StartAt:   b.StartAt.UTC(),
		EndAt:     b.EndAt.UTC(),
		AllDay:    b.AllDay,
		Reason:    b.Reason,
		CreatedAt: b.CreatedAt,
	}
}

func toSlotResponses(slots []interval.Interval) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, SlotResponse{Start: s.Start, End: s.End})
	}
	return out
}

func toRuleResponses(rules []availability.WeeklyRule) []WeeklyRuleResponse {
	out := make([]WeeklyRuleResponse, 0, len(rules))
	for _, r := range rules {
		ranges := r.Ranges
		if ranges == nil {
			ranges = []availability.Range{}
		}
		out = append(out, WeeklyRuleResponse{
			Weekday:   r.Weekday,
			Enabled:   r.Enabled,
			Ranges:    ranges,
			UpdatedAt: r.UpdatedAt,
		})
	}
	return out
}
