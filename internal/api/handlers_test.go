package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careline/callflow/internal/appointment"
	"github.com/careline/callflow/internal/call"
)

// memRepo is an in-memory appointment.Repository for handler tests.
type memRepo struct {
	mu    sync.Mutex
	appts map[uuid.UUID]appointment.Appointment
}

func newMemRepo(appts ...appointment.Appointment) *memRepo {
	r := &memRepo{appts: make(map[uuid.UUID]appointment.Appointment)}
	for _, a := range appts {
		r.appts[a.ID] = a
	}
	return r
}

func (r *memRepo) ListByTime(ctx context.Context) ([]appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]appointment.Appointment, 0, len(r.appts))
	for _, a := range r.appts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppointmentTime.Before(out[j].AppointmentTime) })
	return out, nil
}

func (r *memRepo) GetByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok {
		return nil, appointment.ErrNotFound
	}
	return &a, nil
}

func (r *memRepo) Create(ctx context.Context, params appointment.CreateParams) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := appointment.Appointment{
		ID:              uuid.New(),
		PatientName:     params.PatientName,
		PhoneNumber:     params.PhoneNumber,
		AppointmentTime: params.AppointmentTime,
		Status:          appointment.StatusPending,
		Notes:           params.Notes,
	}
	r.appts[a.ID] = a
	return &a, nil
}

func (r *memRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status appointment.Status) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok {
		return nil, appointment.ErrNotFound
	}
	a.Status = status
	r.appts[id] = a
	return &a, nil
}

func (r *memRepo) Reschedule(ctx context.Context, id uuid.UUID, newTime time.Time) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok {
		return nil, appointment.ErrNotFound
	}
	a.AppointmentTime = newTime
	a.Status = appointment.StatusRescheduled
	r.appts[id] = a
	return &a, nil
}

func (r *memRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.appts[id]; !ok {
		return appointment.ErrNotFound
	}
	delete(r.appts, id)
	return nil
}

func (r *memRepo) ListUpcoming(ctx context.Context, until time.Time) ([]appointment.Appointment, error) {
	return nil, nil
}

func (r *memRepo) CountByStatus(ctx context.Context) (appointment.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var s appointment.Stats
	for _, a := range r.appts {
		s.Total++
		if a.Status == appointment.StatusPending {
			s.Pending++
		}
	}
	return s, nil
}

// memReminders is an in-memory ReminderKV.
type memReminders struct {
	mu    sync.Mutex
	leads map[uuid.UUID]time.Duration
}

func newMemReminders() *memReminders {
	return &memReminders{leads: make(map[uuid.UUID]time.Duration)}
}

func (m *memReminders) Get(ctx context.Context, id uuid.UUID) (time.Duration, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lead, ok := m.leads[id]
	return lead, ok, nil
}

func (m *memReminders) Set(ctx context.Context, id uuid.UUID, lead time.Duration) error {
	if lead <= 0 {
		return fmt.Errorf("reminder lead must be positive, got %s", lead)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leads[id] = lead
	return nil
}

func (m *memReminders) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.leads, id)
	return nil
}

func testAppt(name string, status appointment.Status, when time.Time) appointment.Appointment {
	return appointment.Appointment{
		ID:              uuid.New(),
		PatientName:     name,
		PhoneNumber:     "+1 555 0100",
		AppointmentTime: when,
		Status:          status,
	}
}

func newTestRouter(t *testing.T, appts ...appointment.Appointment) http.Handler {
	t.Helper()

	repo := newMemRepo(appts...)
	store := appointment.NewStore(repo, nil)
	require.NoError(t, store.Start(context.Background()))
	t.Cleanup(store.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	return NewRouter(RouterConfig{
		Store:     store,
		Registry:  call.NewRegistry(),
		Reminders: newMemReminders(),
		Pacing: call.Pacing{
			ConnectDelay: 20 * time.Millisecond,
			TurnDelay:    10 * time.Millisecond,
			// Wide enough that tests can observe the ended state before the
			// close event retires the session from the registry.
			EndDelay: 250 * time.Millisecond,
		},
		BaseContext: ctx,
		Env:         "test",
		Version:     "test",
	})
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestListAppointmentsOrderedByTime(t *testing.T) {
	base := time.Now().Add(time.Hour).Truncate(time.Minute)
	router := newTestRouter(t,
		testAppt("Second", appointment.StatusPending, base.Add(time.Hour)),
		testAppt("First", appointment.StatusPending, base),
	)

	rec := doJSON(t, router, http.MethodGet, "/appointments", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[ListAppointmentsResponse](t, rec)
	assert.False(t, resp.Stale)
	require.Len(t, resp.Appointments, 2)
	assert.Equal(t, "First", resp.Appointments[0].PatientName)
	assert.Equal(t, "Second", resp.Appointments[1].PatientName)
}

func TestCreateAppointment(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/appointments", CreateAppointmentRequest{
		PatientName:     "Maria Lopez",
		PhoneNumber:     "+1 555 0100",
		AppointmentTime: time.Now().Add(24 * time.Hour),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "Maria Lopez", resp.PatientName)
	assert.Equal(t, "pending", resp.Status)
}

func TestCreateAppointmentValidation(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/appointments", CreateAppointmentRequest{
		AppointmentTime: time.Now().Add(time.Hour),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/appointments", CreateAppointmentRequest{
		PatientName: "Maria Lopez",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateStatus(t *testing.T) {
	appt := testAppt("Maria Lopez", appointment.StatusPending, time.Now().Add(time.Hour))
	router := newTestRouter(t, appt)

	rec := doJSON(t, router, http.MethodPost, "/appointments/"+appt.ID.String()+"/status",
		UpdateStatusRequest{Status: "confirmed"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "confirmed", decode[AppointmentResponse](t, rec).Status)
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	appt := testAppt("Maria Lopez", appointment.StatusPending, time.Now().Add(time.Hour))
	router := newTestRouter(t, appt)

	rec := doJSON(t, router, http.MethodPost, "/appointments/"+appt.ID.String()+"/status",
		UpdateStatusRequest{Status: "archived"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestUpdateStatusNotFound(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/appointments/"+uuid.NewString()+"/status",
		UpdateStatusRequest{Status: "confirmed"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/appointments/not-a-uuid/status",
		UpdateStatusRequest{Status: "confirmed"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReschedule(t *testing.T) {
	appt := testAppt("Maria Lopez", appointment.StatusPending, time.Now().Add(time.Hour))
	router := newTestRouter(t, appt)

	newTime := time.Now().Add(72 * time.Hour).Truncate(time.Second)
	rec := doJSON(t, router, http.MethodPost, "/appointments/"+appt.ID.String()+"/reschedule",
		RescheduleRequest{AppointmentTime: newTime})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "rescheduled", resp.Status)
	assert.True(t, resp.AppointmentTime.Equal(newTime))
}

func TestDeleteAppointment(t *testing.T) {
	appt := testAppt("Maria Lopez", appointment.StatusPending, time.Now().Add(time.Hour))
	router := newTestRouter(t, appt)

	rec := doJSON(t, router, http.MethodDelete, "/appointments/"+appt.ID.String()+"/", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/appointments/"+appt.ID.String()+"/", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStats(t *testing.T) {
	router := newTestRouter(t,
		testAppt("A", appointment.StatusPending, time.Now().Add(time.Hour)),
		testAppt("B", appointment.StatusConfirmed, time.Now().Add(2*time.Hour)),
	)

	rec := doJSON(t, router, http.MethodGet, "/appointments/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[StatsResponse](t, rec)
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, 1, resp.Pending)
}

func TestReminderLifecycle(t *testing.T) {
	appt := testAppt("Maria Lopez", appointment.StatusPending, time.Now().Add(time.Hour))
	router := newTestRouter(t, appt)
	path := "/appointments/" + appt.ID.String() + "/reminder"

	rec := doJSON(t, router, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[ReminderResponse](t, rec).Set)

	rec = doJSON(t, router, http.MethodPut, path, ReminderRequest{LeadMinutes: 120})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ReminderResponse](t, rec)
	assert.True(t, resp.Set)
	assert.Equal(t, 120, resp.LeadMinutes)

	rec = doJSON(t, router, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodGet, path, nil)
	assert.False(t, decode[ReminderResponse](t, rec).Set)

	rec = doJSON(t, router, http.MethodPut, path, ReminderRequest{LeadMinutes: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func waitForCall(t *testing.T, router http.Handler, callID string, done func(CallResponse) bool) CallResponse {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec := doJSON(t, router, http.MethodGet, "/calls/"+callID+"/", nil)
		if rec.Code == http.StatusNotFound {
			// The close event already retired the session.
			time.Sleep(5 * time.Millisecond)
			continue
		}
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[CallResponse](t, rec)
		if done(resp) {
			return resp
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("call never reached the expected state")
	return CallResponse{}
}

func TestCallLifecycle(t *testing.T) {
	appt := testAppt("Maria Lopez", appointment.StatusPending, time.Now().Add(time.Hour))
	router := newTestRouter(t, appt)

	rec := doJSON(t, router, http.MethodPost, "/appointments/"+appt.ID.String()+"/call", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	started := decode[StartCallResponse](t, rec)
	assert.Equal(t, appt.ID, started.AppointmentID)
	assert.Equal(t, "connecting", started.State)
	callID := started.CallID.String()

	// A second call is rejected while this one is live.
	rec = doJSON(t, router, http.MethodPost, "/appointments/"+appt.ID.String()+"/call", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	waitForCall(t, router, callID, func(c CallResponse) bool { return c.Ready })

	rec = doJSON(t, router, http.MethodPost, "/calls/"+callID+"/respond", RespondRequest{Choice: "confirm"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	// Only one choice per call.
	rec = doJSON(t, router, http.MethodPost, "/calls/"+callID+"/respond", RespondRequest{Choice: "cancel"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	final := waitForCall(t, router, callID, func(c CallResponse) bool { return c.State == "ended" })
	require.Len(t, final.Transcript, 4)

	// The confirm was written through the store.
	rec = doJSON(t, router, http.MethodGet, "/appointments", nil)
	resp := decode[ListAppointmentsResponse](t, rec)
	require.Len(t, resp.Appointments, 1)
	assert.Equal(t, "confirmed", resp.Appointments[0].Status)
}

func TestCallHangup(t *testing.T) {
	appt := testAppt("Maria Lopez", appointment.StatusPending, time.Now().Add(time.Hour))
	router := newTestRouter(t, appt)

	rec := doJSON(t, router, http.MethodPost, "/appointments/"+appt.ID.String()+"/call", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	callID := decode[StartCallResponse](t, rec).CallID.String()

	rec = doJSON(t, router, http.MethodPost, "/calls/"+callID+"/hangup", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	waitForCall(t, router, callID, func(c CallResponse) bool { return c.State == "ended" })
}

func TestStartCallUnknownAppointment(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/appointments/"+uuid.NewString()+"/call", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCallNotFound(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/calls/"+uuid.NewString()+"/", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/calls/not-a-uuid/", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthLive(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/health/live", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[LivenessResponse](t, rec).Status)
}
