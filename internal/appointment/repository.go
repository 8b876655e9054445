package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all DB interactions needed by the store and workers.
type Repository interface {
	ListByTime(ctx context.Context) ([]Appointment, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	Create(ctx context.Context, params CreateParams) (*Appointment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) (*Appointment, error)
	// Reschedule sets the appointment time and moves the status to
	// rescheduled in one statement.
	Reschedule(ctx context.Context, id uuid.UUID, newTime time.Time) (*Appointment, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// Reminder worker
	ListUpcoming(ctx context.Context, until time.Time) ([]Appointment, error)

	// Dashboard stats
	CountByStatus(ctx context.Context) (Stats, error)
}
