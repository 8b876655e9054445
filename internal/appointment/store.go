package appointment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/careline/callflow/internal/redisclient"
)

// Store owns the synchronized appointment collection. It mirrors the remote
// system of record: reads come from a cache that is invalidated wholesale and
// refetched whenever any mutation is observed, locally or via the change feed.
// Coarse invalidate-and-refetch keeps the cache strictly consistent with the
// database without any client-side merge logic.
type Store struct {
	repo Repository
	feed redisclient.Feed

	mu         sync.Mutex
	cache      []Appointment
	haveCache  bool
	invalid    bool
	gen        uint64
	refetching bool
	dirty      bool
	subs       map[int]func()
	nextSub    int
	dispose    func()

	ctx context.Context
}

func NewStore(repo Repository, feed redisclient.Feed) *Store {
	return &Store{
		repo: repo,
		feed: feed,
		subs: make(map[int]func()),
		ctx:  context.Background(),
	}
}

// Start attaches the store to the change feed. Each store instance owns its
// own subscription handle; Close releases it.
func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	if s.feed == nil {
		return nil
	}

	dispose, err := s.feed.Subscribe(ctx, func(redisclient.ChangeEvent) {
		s.invalidate()
	})
	if err != nil {
		return fmt.Errorf("subscribe appointment feed: %w", err)
	}

	s.mu.Lock()
	s.dispose = dispose
	s.mu.Unlock()
	return nil
}

func (s *Store) Close() {
	s.mu.Lock()
	dispose := s.dispose
	s.dispose = nil
	s.mu.Unlock()

	if dispose != nil {
		dispose()
	}
}

// List returns the appointment collection ordered by appointment time. When
// the remote read fails the previous cache (possibly empty) is returned with
// stale=true alongside a *FetchError.
func (s *Store) List(ctx context.Context) ([]Appointment, bool, error) {
	s.mu.Lock()
	if s.haveCache && !s.invalid {
		out := copyAppointments(s.cache)
		s.mu.Unlock()
		return out, false, nil
	}
	gen := s.gen
	s.mu.Unlock()

	appts, err := s.repo.ListByTime(ctx)
	if err != nil {
		s.mu.Lock()
		out := copyAppointments(s.cache)
		s.mu.Unlock()
		return out, true, &FetchError{Cause: err}
	}

	s.mu.Lock()
	// Install only if no invalidation raced the fetch: a snapshot read before a
	// mutation committed must not clobber the fresher cache the refetch wrote.
	if s.gen == gen {
		s.cache = appts
		s.haveCache = true
		s.invalid = false
	}
	s.mu.Unlock()
	return copyAppointments(appts), false, nil
}

// Subscribe registers onChange to run after every refetch triggered by a
// mutation event. The returned disposer releases the registration; calling it
// more than once is a no-op.
func (s *Store) Subscribe(onChange func()) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = onChange
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, &FetchError{Cause: err}
	}
	return appt, nil
}

func (s *Store) Create(ctx context.Context, params CreateParams) (*Appointment, error) {
	appt, err := s.repo.Create(ctx, params)
	if err != nil {
		return nil, &PersistenceError{Op: "create appointment", Cause: err}
	}
	s.changed(ctx, redisclient.ChangeInsert, appt.ID)
	return appt, nil
}

// UpdateStatus writes the new status remotely, then runs the same
// invalidation path a subscription event would.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) (*Appointment, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid appointment status %q", status)
	}

	appt, err := s.repo.UpdateStatus(ctx, id, status)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, &PersistenceError{Op: "update appointment status", Cause: err}
	}

	s.changed(ctx, redisclient.ChangeUpdate, appt.ID)
	return appt, nil
}

// Reschedule sets the appointment time and the rescheduled status in a single
// remote write. The new time is taken as-is; range checks belong to the caller.
func (s *Store) Reschedule(ctx context.Context, id uuid.UUID, newTime time.Time) (*Appointment, error) {
	appt, err := s.repo.Reschedule(ctx, id, newTime)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, &PersistenceError{Op: "reschedule appointment", Cause: err}
	}

	s.changed(ctx, redisclient.ChangeUpdate, appt.ID)
	return appt, nil
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return &PersistenceError{Op: "delete appointment", Cause: err}
	}
	s.changed(ctx, redisclient.ChangeDelete, id)
	return nil
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return Stats{}, &FetchError{Cause: err}
	}
	return stats, nil
}

func (s *Store) changed(ctx context.Context, kind redisclient.ChangeKind, id uuid.UUID) {
	if s.feed != nil {
		ev := redisclient.ChangeEvent{Kind: kind, AppointmentID: id}
		if err := s.feed.Publish(ctx, ev); err != nil {
			log.Printf("publish appointment change: %v", err)
		}
	}
	s.invalidate()
}

// invalidate marks the cache dirty and kicks a background refetch. Overlapping
// invalidations coalesce into at most one extra refetch.
func (s *Store) invalidate() {
	s.mu.Lock()
	s.invalid = true
	s.gen++
	if s.refetching {
		s.dirty = true
		s.mu.Unlock()
		return
	}
	s.refetching = true
	s.mu.Unlock()

	go s.refetch()
}

func (s *Store) refetch() {
	for {
		s.mu.Lock()
		gen := s.gen
		s.mu.Unlock()

		appts, err := s.repo.ListByTime(s.ctx)

		s.mu.Lock()
		if err == nil && s.gen == gen {
			s.cache = appts
			s.haveCache = true
			s.invalid = false
		}
		if s.dirty {
			s.dirty = false
			s.mu.Unlock()
			continue
		}
		s.refetching = false
		subs := make([]func(), 0, len(s.subs))
		for _, fn := range s.subs {
			subs = append(subs, fn)
		}
		s.mu.Unlock()

		if err != nil {
			log.Printf("refetch appointments: %v", err)
		}
		for _, fn := range subs {
			fn()
		}
		return
	}
}

func copyAppointments(in []Appointment) []Appointment {
	out := make([]Appointment, len(in))
	copy(out, in)
	return out
}
