package call

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/careline/callflow/internal/ai"
	"github.com/careline/callflow/internal/appointment"
)

type State string

const (
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateEnded      State = "ended"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// Message is one turn in the call transcript. Transcripts live and die with
// the session; they are never persisted.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Choice string

const (
	ChoiceConfirm    Choice = "confirm"
	ChoiceReschedule Choice = "reschedule"
	ChoiceCancel     Choice = "cancel"
)

type EventType string

const (
	EventStatusChanged       EventType = "statusChanged"
	EventRescheduleRequested EventType = "rescheduleRequested"
	EventVoiceUnavailable    EventType = "voiceUnavailable"
	EventClosed              EventType = "closed"
)

// Event is the closed set of outbound notifications a session emits, so any
// host can react without the session knowing about a particular UI.
type Event struct {
	Type        EventType
	Appointment appointment.Appointment
	Status      appointment.Status
	Err         error
}

var (
	ErrNotActive     = errors.New("call is not active")
	ErrBusy          = errors.New("assistant is still talking")
	ErrAlreadyChosen = errors.New("a choice was already made on this call")
)

// Speaker is the voice collaborator as the session sees it: speak one
// utterance, blocking until delivered, or stop mid-utterance.
type Speaker interface {
	Speak(ctx context.Context, text string) error
	Stop()
}

// StatusUpdater is the one store operation a session performs.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, id uuid.UUID, status appointment.Status) (*appointment.Appointment, error)
}

// Pacing holds the fixed UX delays between call phases. They shape the feel
// of the call, not its correctness; ordering of append, speech, delay and
// transition is what matters.
type Pacing struct {
	ConnectDelay time.Duration
	TurnDelay    time.Duration
	EndDelay     time.Duration
}

type Deps struct {
	Assistant    ai.Assistant  // nil means fallback script only
	Speaker      Speaker       // nil means text-only
	Store        StatusUpdater // nil means no status commit (tests)
	Pacing       Pacing
	VoiceEnabled bool
}

// aiTimeout bounds every assistant request so an unreachable AI never stalls
// a call past its connection delay.
const aiTimeout = 10 * time.Second

const rescheduleHandoffLine = "I understand you'd like to reschedule. Let me open the calendar for you to select a new date and time."

const endOfCallLine = "Call ended."

var userLines = map[Choice]string{
	ChoiceConfirm:    "Yes, I'd like to confirm the appointment.",
	ChoiceReschedule: "I need to reschedule this appointment.",
	ChoiceCancel:     "Please cancel this appointment.",
}

// Session is the state machine simulating one phone call for one appointment.
// All transitions run on one logical thread of control: the run goroutine
// handles connect and greeting, a single respond goroutine handles the chosen
// branch, and both check for cancellation after every suspension point.
type Session struct {
	id   uuid.UUID
	appt appointment.Appointment
	deps Deps

	mu          sync.Mutex
	state       State
	transcript  []Message
	chosen      bool
	speaking    bool
	voiceFailed bool
	activeAt    time.Time
	endedAt     time.Time

	events chan Event
	ctx    context.Context
	cancel context.CancelFunc
}

// Start instantiates the session in Connecting state and schedules the
// transition to Active after the connection delay. No real dial happens.
func Start(ctx context.Context, appt appointment.Appointment, deps Deps) *Session {
	s := &Session{
		id:     uuid.New(),
		appt:   appt,
		deps:   deps,
		state:  StateConnecting,
		events: make(chan Event, 16),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	go s.run()
	return s
}

func (s *Session) ID() uuid.UUID { return s.id }

func (s *Session) Appointment() appointment.Appointment { return s.appt }

// Events delivers the session's outbound events. The channel is buffered and
// never closed; sends are best-effort so a slow host cannot stall the call.
func (s *Session) Events() <-chan Event { return s.events }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) IsSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Transcript returns a copy of the messages appended so far.
func (s *Session) Transcript() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Duration reports how long the call has been (or was) active.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeAt.IsZero() {
		return 0
	}
	if !s.endedAt.IsZero() {
		return s.endedAt.Sub(s.activeAt)
	}
	return time.Since(s.activeAt)
}

// Ready reports whether the session is waiting for the caller's choice.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateActive && !s.chosen && !s.speaking && len(s.transcript) > 0
}

func (s *Session) run() {
	if !s.sleep(s.deps.Pacing.ConnectDelay) {
		return
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return
	}
	s.state = StateActive
	s.activeAt = time.Now()
	s.mu.Unlock()

	greeting := s.generate(ai.Request{
		PatientName:     s.appt.PatientName,
		AppointmentDate: s.appt.AppointmentTime.Format("Monday, January 2"),
		AppointmentTime: s.appt.AppointmentTime.Format("3:04 PM"),
		Notes:           derefNotes(s.appt.Notes),
		Action:          ai.ActionGreet,
	})
	if !s.append(RoleAssistant, greeting) {
		return
	}
	s.speak(greeting)
}

// Respond records the caller's choice and runs the matching branch. Exactly
// one choice is accepted per session, and only once the assistant's current
// utterance has finished.
func (s *Session) Respond(choice Choice) error {
	line, ok := userLines[choice]
	if !ok {
		return fmt.Errorf("unknown choice %q", choice)
	}

	s.mu.Lock()
	switch {
	case s.state != StateActive:
		s.mu.Unlock()
		return ErrNotActive
	case s.chosen:
		s.mu.Unlock()
		return ErrAlreadyChosen
	case s.speaking || len(s.transcript) == 0:
		s.mu.Unlock()
		return ErrBusy
	}
	s.chosen = true
	s.mu.Unlock()

	go s.respond(choice, line)
	return nil
}

func (s *Session) respond(choice Choice, line string) {
	if !s.append(RoleUser, line) {
		return
	}

	if choice == ChoiceReschedule {
		if !s.append(RoleAssistant, rescheduleHandoffLine) {
			return
		}
		s.speak(rescheduleHandoffLine)
		if !s.sleep(s.deps.Pacing.TurnDelay) {
			return
		}
		// Hand off: the host owns the reschedule flow and decides when this
		// session ends.
		s.emit(Event{Type: EventRescheduleRequested, Appointment: s.appt})
		return
	}

	closing := s.generate(ai.Request{
		PatientName: s.appt.PatientName,
		Action:      ai.Action(choice),
	})
	if !s.append(RoleAssistant, closing) {
		return
	}
	s.speak(closing)
	if !s.sleep(s.deps.Pacing.TurnDelay) {
		return
	}

	status := appointment.StatusConfirmed
	if choice == ChoiceCancel {
		status = appointment.StatusCancelled
	}

	ev := Event{Type: EventStatusChanged, Appointment: s.appt, Status: status}
	if s.deps.Store != nil {
		updated, err := s.deps.Store.UpdateStatus(s.ctx, s.appt.ID, status)
		if err != nil {
			// Surfaced to the host; the call still wraps up.
			log.Printf("call %s: status commit failed: %v", s.id, err)
			ev.Err = err
		} else {
			ev.Appointment = *updated
		}
	}
	s.emit(ev)
	s.End()
}

// End hangs up: stops any active speech immediately, cancels pending
// assistant or voice completions, and schedules the single close event.
// Redundant calls are no-ops.
func (s *Session) End() {
	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return
	}
	s.state = StateEnded
	s.endedAt = time.Now()
	s.transcript = append(s.transcript, Message{Role: RoleSystem, Content: endOfCallLine})
	s.mu.Unlock()

	if s.deps.Speaker != nil {
		s.deps.Speaker.Stop()
	}
	s.cancel()

	time.AfterFunc(s.deps.Pacing.EndDelay, func() {
		s.emit(Event{Type: EventClosed, Appointment: s.appt})
	})
}

// generate asks the assistant for a line and falls back to the deterministic
// script on failure or on an empty reply, so the machine never stalls on AI.
func (s *Session) generate(req ai.Request) string {
	if s.deps.Assistant == nil {
		return ai.FallbackMessage(req)
	}

	ctx, cancel := context.WithTimeout(s.ctx, aiTimeout)
	defer cancel()

	msg, err := s.deps.Assistant.Generate(ctx, req)
	if err != nil {
		if s.ctx.Err() == nil {
			log.Printf("call %s: assistant failed, using fallback: %v", s.id, err)
		}
		return ai.FallbackMessage(req)
	}
	if strings.TrimSpace(msg) == "" {
		return ai.FallbackMessage(req)
	}
	return msg
}

// append adds a message unless the session already ended. Late AI or speech
// completions land here after a hang-up and are dropped.
func (s *Session) append(role Role, content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateEnded {
		return false
	}
	s.transcript = append(s.transcript, Message{Role: role, Content: content})
	return true
}

// speak delivers one utterance through the voice collaborator. Failures are
// non-fatal: the first one emits a single voiceUnavailable event and switches
// the rest of the session to text-only.
func (s *Session) speak(text string) {
	s.mu.Lock()
	ok := s.deps.VoiceEnabled && s.deps.Speaker != nil && !s.voiceFailed && s.state == StateActive
	if !ok {
		s.mu.Unlock()
		return
	}
	s.speaking = true
	s.mu.Unlock()

	err := s.deps.Speaker.Speak(s.ctx, text)

	s.mu.Lock()
	s.speaking = false
	firstFailure := false
	if err != nil && s.ctx.Err() == nil && !s.voiceFailed {
		s.voiceFailed = true
		firstFailure = true
	}
	s.mu.Unlock()

	if firstFailure {
		log.Printf("call %s: voice unavailable, continuing text-only: %v", s.id, err)
		s.emit(Event{Type: EventVoiceUnavailable, Appointment: s.appt, Err: err})
	}
}

func (s *Session) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		log.Printf("call %s: dropping %s event, host not draining", s.id, ev.Type)
	}
}

func derefNotes(notes *string) string {
	if notes == nil {
		return ""
	}
	return *notes
}
