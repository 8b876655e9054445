package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/careline/callflow/internal/appointment"
	"github.com/careline/callflow/internal/call"
	"github.com/careline/callflow/internal/redisclient"
	"github.com/careline/callflow/internal/voice"
)

func listAppointmentsHandler(store *appointment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appts, stale, err := store.List(r.Context())
		if err != nil {
			// Not fatal: serve whatever snapshot we still have, flagged stale.
			log.Printf("list appointments: %v", err)
		}

		resp := ListAppointmentsResponse{
			Appointments: make([]AppointmentResponse, 0, len(appts)),
			Stale:        stale,
		}
		for _, a := range appts {
			resp.Appointments = append(resp.Appointments, toAppointmentResponse(a))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func createAppointmentHandler(store *appointment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.PatientName == "" {
			writeError(w, http.StatusBadRequest, "invalid_patient_name", "patient_name must not be empty")
			return
		}
		if req.AppointmentTime.IsZero() {
			writeError(w, http.StatusBadRequest, "invalid_appointment_time", "appointment_time is required")
			return
		}

		appt, err := store.Create(r.Context(), appointment.CreateParams{
			PatientName:     req.PatientName,
			PhoneNumber:     req.PhoneNumber,
			AppointmentTime: req.AppointmentTime,
			Notes:           req.Notes,
		})
		if err != nil {
			handleStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAppointmentResponse(*appt))
	}
}

func statsHandler(store *appointment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := store.Stats(r.Context())
		if err != nil {
			handleStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, StatsResponse{
			Total:       stats.Total,
			Pending:     stats.Pending,
			Confirmed:   stats.Confirmed,
			Cancelled:   stats.Cancelled,
			Rescheduled: stats.Rescheduled,
			Today:       stats.Today,
		})
	}
}

func updateStatusHandler(store *appointment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		var req UpdateStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		status := appointment.Status(req.Status)
		if !status.Valid() {
			writeError(w, http.StatusUnprocessableEntity, "invalid_status", "status must be pending, confirmed, cancelled or rescheduled")
			return
		}

		appt, err := store.UpdateStatus(r.Context(), id, status)
		if err != nil {
			handleStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

func rescheduleHandler(store *appointment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.AppointmentTime.IsZero() {
			writeError(w, http.StatusBadRequest, "invalid_appointment_time", "appointment_time is required")
			return
		}

		appt, err := store.Reschedule(r.Context(), id, req.AppointmentTime)
		if err != nil {
			handleStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

func deleteAppointmentHandler(store *appointment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		if err := store.Delete(r.Context(), id); err != nil {
			handleStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func getReminderHandler(reminders redisclient.ReminderKV) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		lead, set, err := reminders.Get(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, ReminderResponse{Set: set, LeadMinutes: int(lead.Minutes())})
	}
}

func setReminderHandler(reminders redisclient.ReminderKV) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		var req ReminderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.LeadMinutes <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_lead_minutes", "lead_minutes must be positive")
			return
		}
		if err := reminders.Set(r.Context(), id, time.Duration(req.LeadMinutes)*time.Minute); err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func deleteReminderHandler(reminders redisclient.ReminderKV) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		if err := reminders.Delete(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// callIDHolder lets the voice sink learn the call id that only exists once
// the session has been created.
type callIDHolder struct {
	mu sync.Mutex
	id uuid.UUID
	ok bool
}

func (h *callIDHolder) set(id uuid.UUID) {
	h.mu.Lock()
	h.id = id
	h.ok = true
	h.mu.Unlock()
}

func (h *callIDHolder) get() (uuid.UUID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.id, h.ok
}

func startCallHandler(cfg RouterConfig, hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}

		appt, err := cfg.Store.Get(r.Context(), id)
		if err != nil {
			handleStoreError(w, err)
			return
		}

		deps := call.Deps{
			Assistant:    cfg.Assistant,
			Store:        cfg.Store,
			Pacing:       cfg.Pacing,
			VoiceEnabled: cfg.Synth != nil,
		}

		holder := &callIDHolder{}
		if cfg.Synth != nil {
			sink := func(audio []byte) error {
				if callID, ok := holder.get(); ok {
					hub.Broadcast(callID, AudioPayload{
						Type:         "audio",
						CallID:       callID.String(),
						AudioContent: base64.StdEncoding.EncodeToString(audio),
					})
				}
				return nil
			}
			deps.Speaker = voice.NewSpeaker(cfg.Synth, sink, 0)
		}

		// Sessions outlive the HTTP request that starts them.
		sess, err := cfg.Registry.Start(cfg.BaseContext, *appt, deps)
		if err != nil {
			if errors.Is(err, call.ErrCallInProgress) {
				writeError(w, http.StatusConflict, "call_in_progress", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		holder.set(sess.ID())

		go pumpCallEvents(cfg.Registry, hub, sess)

		writeJSON(w, http.StatusCreated, StartCallResponse{
			CallID:        sess.ID(),
			AppointmentID: appt.ID,
			State:         string(sess.State()),
		})
	}
}

// pumpCallEvents forwards session events to the hub until the close event,
// then retires the session.
func pumpCallEvents(registry *call.Registry, hub *Hub, sess *call.Session) {
	for ev := range sess.Events() {
		payload := CallEventPayload{
			Type:          string(ev.Type),
			CallID:        sess.ID(),
			AppointmentID: ev.Appointment.ID,
		}
		if ev.Type == call.EventStatusChanged {
			payload.Status = string(ev.Status)
		}
		if ev.Err != nil {
			payload.Error = ev.Err.Error()
		}
		hub.Broadcast(sess.ID(), payload)

		if ev.Type == call.EventClosed {
			registry.Remove(sess.ID())
			return
		}
	}
}

func getCallHandler(registry *call.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := lookupCall(w, r, registry)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, toCallResponse(sess))
	}
}

func respondCallHandler(registry *call.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := lookupCall(w, r, registry)
		if !ok {
			return
		}

		var req RespondRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		err := sess.Respond(call.Choice(req.Choice))
		switch {
		case err == nil:
			writeJSON(w, http.StatusAccepted, toCallResponse(sess))
		case errors.Is(err, call.ErrNotActive):
			writeError(w, http.StatusConflict, "call_not_active", err.Error())
		case errors.Is(err, call.ErrBusy):
			writeError(w, http.StatusConflict, "assistant_talking", err.Error())
		case errors.Is(err, call.ErrAlreadyChosen):
			writeError(w, http.StatusConflict, "choice_already_made", err.Error())
		default:
			writeError(w, http.StatusBadRequest, "invalid_choice", err.Error())
		}
	}
}

func hangupCallHandler(registry *call.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := lookupCall(w, r, registry)
		if !ok {
			return
		}
		sess.End()
		w.WriteHeader(http.StatusNoContent)
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func callStreamHandler(registry *call.Registry, hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := lookupCall(w, r, registry)
		if !ok {
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("upgrade call stream: %v", err)
			return
		}

		callID := sess.ID()
		hub.Add(callID, conn)
		defer func() {
			hub.Remove(callID, conn)
			_ = conn.Close()
		}()

		// Initial snapshot so the client does not have to poll once.
		hub.Broadcast(callID, struct {
			Type string       `json:"type"`
			Call CallResponse `json:"call"`
		}{Type: "snapshot", Call: toCallResponse(sess)})

		// Drain the connection; we only detect the client going away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}

func appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func lookupCall(w http.ResponseWriter, r *http.Request, registry *call.Registry) (*call.Session, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_call_id", "id must be a valid UUID")
		return nil, false
	}
	sess, err := registry.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "call_not_found", err.Error())
		return nil, false
	}
	return sess, true
}

func handleStoreError(w http.ResponseWriter, err error) {
	var fetchErr *appointment.FetchError
	var persistErr *appointment.PersistenceError

	switch {
	case errors.Is(err, appointment.ErrNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.As(err, &fetchErr):
		writeError(w, http.StatusBadGateway, "fetch_failed", err.Error())
	case errors.As(err, &persistErr):
		writeError(w, http.StatusBadGateway, "persistence_failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
