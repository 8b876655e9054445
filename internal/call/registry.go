package call

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/careline/callflow/internal/appointment"
)

var (
	ErrCallInProgress = errors.New("another call is already active")
	ErrCallNotFound   = errors.New("call not found")
)

// Registry tracks live sessions and enforces the one-active-call rule the
// dashboard relies on.
type Registry struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uuid.UUID]*Session)}
}

// Start begins a call for the appointment unless another call is still live.
func (r *Registry) Start(ctx context.Context, appt appointment.Appointment, deps Deps) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, s := range r.sessions {
		if s.State() == StateEnded {
			delete(r.sessions, id)
			continue
		}
		return nil, ErrCallInProgress
	}

	s := Start(ctx, appt, deps)
	r.sessions[s.ID()] = s
	return s, nil
}

func (r *Registry) Get(id uuid.UUID) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrCallNotFound
	}
	return s, nil
}

// Remove drops a session from the registry, typically after its close event.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}
