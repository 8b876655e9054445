package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/careline/callflow/internal/appointment"
	"github.com/careline/callflow/internal/call"
)

type CreateAppointmentRequest struct {
	PatientName     string    `json:"patient_name"`
	PhoneNumber     string    `json:"phone_number"`
	AppointmentTime time.Time `json:"appointment_time"`
	Notes           *string   `json:"notes,omitempty"`
}

type AppointmentResponse struct {
	ID              uuid.UUID `json:"id"`
	PatientName     string    `json:"patient_name"`
	PhoneNumber     string    `json:"phone_number"`
	AppointmentTime time.Time `json:"appointment_time"`
	Status          string    `json:"status"`
	Notes           *string   `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toAppointmentResponse(a appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		PatientName:     a.PatientName,
		PhoneNumber:     a.PhoneNumber,
		AppointmentTime: a.AppointmentTime,
		Status:          string(a.Status),
		Notes:           a.Notes,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

type ListAppointmentsResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
	Stale        bool                  `json:"stale"`
}

type StatsResponse struct {
	Total       int `json:"total"`
	Pending     int `json:"pending"`
	Confirmed   int `json:"confirmed"`
	Cancelled   int `json:"cancelled"`
	Rescheduled int `json:"rescheduled"`
	Today       int `json:"today"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type RescheduleRequest struct {
	AppointmentTime time.Time `json:"appointment_time"`
}

type ReminderRequest struct {
	LeadMinutes int `json:"lead_minutes"`
}

type ReminderResponse struct {
	Set         bool `json:"set"`
	LeadMinutes int  `json:"lead_minutes,omitempty"`
}

type StartCallResponse struct {
	CallID        uuid.UUID `json:"call_id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	State         string    `json:"state"`
}

type CallResponse struct {
	CallID          uuid.UUID      `json:"call_id"`
	AppointmentID   uuid.UUID      `json:"appointment_id"`
	State           string         `json:"state"`
	Speaking        bool           `json:"speaking"`
	Ready           bool           `json:"ready"`
	DurationSeconds int            `json:"duration_seconds"`
	Transcript      []call.Message `json:"transcript"`
}

func toCallResponse(s *call.Session) CallResponse {
	return CallResponse{
		CallID:          s.ID(),
		AppointmentID:   s.Appointment().ID,
		State:           string(s.State()),
		Speaking:        s.IsSpeaking(),
		Ready:           s.Ready(),
		DurationSeconds: int(s.Duration().Seconds()),
		Transcript:      s.Transcript(),
	}
}

type RespondRequest struct {
	Choice string `json:"choice"`
}

// CallEventPayload is the websocket frame for session events.
type CallEventPayload struct {
	Type          string    `json:"type"`
	CallID        uuid.UUID `json:"call_id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	Status        string    `json:"status,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// AudioPayload is the websocket frame carrying one synthesized utterance.
type AudioPayload struct {
	Type         string `json:"type"`
	CallID       string `json:"call_id"`
	AudioContent string `json:"audio_content"` // base64 MPEG audio
}
