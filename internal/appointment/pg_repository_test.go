package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var apptCols = []string{
	"id", "patient_name", "phone_number", "appointment_time",
	"status", "notes", "created_at", "updated_at",
}

func apptRow(id uuid.UUID, name string, when time.Time, status Status, notes *string) *pgxmock.Rows {
	now := time.Now()
	return pgxmock.NewRows(apptCols).
		AddRow(id, name, "+1 555 0100", when, status, notes, now, now)
}

func newMockRepo(t *testing.T) (*PgRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPgRepository(mock), mock
}

func TestPgRepositoryListByTime(t *testing.T) {
	repo, mock := newMockRepo(t)

	when := time.Now().Add(time.Hour)
	id1, id2 := uuid.New(), uuid.New()
	rows := pgxmock.NewRows(apptCols).
		AddRow(id1, "First Patient", "+1 555 0100", when, StatusPending, (*string)(nil), when, when).
		AddRow(id2, "Second Patient", "+1 555 0101", when.Add(time.Hour), StatusConfirmed, (*string)(nil), when, when)

	mock.ExpectQuery(`SELECT (.+) FROM appointments ORDER BY appointment_time ASC`).
		WillReturnRows(rows)

	appts, err := repo.ListByTime(context.Background())
	require.NoError(t, err)
	require.Len(t, appts, 2)
	assert.Equal(t, id1, appts[0].ID)
	assert.Equal(t, StatusConfirmed, appts[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryGetByIDNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	id := uuid.New()
	mock.ExpectQuery(`SELECT (.+) FROM appointments WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(apptCols))

	_, err := repo.GetByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryUpdateStatusReturnsUpdatedRow(t *testing.T) {
	repo, mock := newMockRepo(t)

	id := uuid.New()
	when := time.Now().Add(time.Hour)
	mock.ExpectQuery(`UPDATE appointments SET status = \$2`).
		WithArgs(id, StatusConfirmed).
		WillReturnRows(apptRow(id, "Maria Lopez", when, StatusConfirmed, nil))

	appt, err := repo.UpdateStatus(context.Background(), id, StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, appt.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryRescheduleSetsTimeAndStatus(t *testing.T) {
	repo, mock := newMockRepo(t)

	id := uuid.New()
	newTime := time.Now().Add(72 * time.Hour)
	mock.ExpectQuery(`UPDATE appointments SET appointment_time = \$2, status = 'rescheduled'`).
		WithArgs(id, newTime).
		WillReturnRows(apptRow(id, "Maria Lopez", newTime, StatusRescheduled, nil))

	appt, err := repo.Reschedule(context.Background(), id, newTime)
	require.NoError(t, err)
	assert.Equal(t, StatusRescheduled, appt.Status)
	assert.True(t, appt.AppointmentTime.Equal(newTime))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryDelete(t *testing.T) {
	repo, mock := newMockRepo(t)

	id := uuid.New()
	mock.ExpectExec(`DELETE FROM appointments WHERE id = \$1`).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, repo.Delete(context.Background(), id))

	missing := uuid.New()
	mock.ExpectExec(`DELETE FROM appointments WHERE id = \$1`).
		WithArgs(missing).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	assert.ErrorIs(t, repo.Delete(context.Background(), missing), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryCountByStatus(t *testing.T) {
	repo, mock := newMockRepo(t)

	rows := pgxmock.NewRows([]string{"total", "pending", "confirmed", "cancelled", "rescheduled", "today"}).
		AddRow(10, 4, 3, 2, 1, 5)
	mock.ExpectQuery(`SELECT count\(\*\)`).WillReturnRows(rows)

	stats, err := repo.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, stats.Total)
	assert.Equal(t, 4, stats.Pending)
	assert.Equal(t, 5, stats.Today)
	assert.NoError(t, mock.ExpectationsWereMet())
}
