package ai

import (
	"context"
	"errors"
)

type Action string

const (
	ActionGreet      Action = "greet"
	ActionConfirm    Action = "confirm"
	ActionReschedule Action = "reschedule"
	ActionCancel     Action = "cancel"
)

var ErrUnavailable = errors.New("ai assistant unavailable")

// Request carries everything a call line needs. Date, time and notes are only
// set for the greeting; the follow-up lines use the patient name and action.
type Request struct {
	PatientName     string
	AppointmentDate string
	AppointmentTime string
	Notes           string
	Action          Action
}

// Assistant produces one conversational line per request. Implementations may
// be unreachable at any time; callers must be able to continue with
// FallbackMessage instead.
type Assistant interface {
	Generate(ctx context.Context, req Request) (string, error)
}
