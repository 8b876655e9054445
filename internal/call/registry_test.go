package call

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAllowsOneLiveCall(t *testing.T) {
	reg := NewRegistry()

	first, err := reg.Start(context.Background(), testAppointment(), Deps{Pacing: testPacing})
	require.NoError(t, err)
	defer first.End()

	_, err = reg.Start(context.Background(), testAppointment(), Deps{Pacing: testPacing})
	assert.ErrorIs(t, err, ErrCallInProgress)
}

func TestRegistryPrunesEndedCalls(t *testing.T) {
	reg := NewRegistry()

	first, err := reg.Start(context.Background(), testAppointment(), Deps{Pacing: testPacing})
	require.NoError(t, err)
	first.End()

	second, err := reg.Start(context.Background(), testAppointment(), Deps{Pacing: testPacing})
	require.NoError(t, err)
	defer second.End()

	// The ended session is gone; the live one is reachable.
	_, err = reg.Get(first.ID())
	assert.ErrorIs(t, err, ErrCallNotFound)

	got, err := reg.Get(second.ID())
	require.NoError(t, err)
	assert.Equal(t, second.ID(), got.ID())
}

func TestRegistryGetUnknown(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get(uuid.New())
	assert.ErrorIs(t, err, ErrCallNotFound)
}

func TestRegistryRemove(t *testing.T) {
	reg := NewRegistry()

	s, err := reg.Start(context.Background(), testAppointment(), Deps{Pacing: testPacing})
	require.NoError(t, err)
	s.End()

	reg.Remove(s.ID())
	_, err = reg.Get(s.ID())
	assert.ErrorIs(t, err, ErrCallNotFound)
}
