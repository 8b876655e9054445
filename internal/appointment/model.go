package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusConfirmed   Status = "confirmed"
	StatusCancelled   Status = "cancelled"
	StatusRescheduled Status = "rescheduled"
)

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusRescheduled:
		return true
	}
	return false
}

type Appointment struct {
	ID              uuid.UUID
	PatientName     string
	PhoneNumber     string
	AppointmentTime time.Time
	Status          Status
	Notes           *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CreateParams carries the caller-supplied fields for a new appointment.
// Status, timestamps and id are system-assigned.
type CreateParams struct {
	PatientName     string
	PhoneNumber     string
	AppointmentTime time.Time
	Notes           *string
}

// Stats is the per-status breakdown shown on the dashboard cards.
type Stats struct {
	Total       int
	Pending     int
	Confirmed   int
	Cancelled   int
	Rescheduled int
	Today       int
}
