package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studykit/internal/store"
)

func TestEmitWritesRecord(t *testing.T) {
	st, err := store.New(":memory:", nil)
	require.NoError(t, err)
	defer st.Close()

	e := New(st, nil)
	e.Emit(context.Background(), Event{
		StudyID:       "s1",
		ParticipantID: "p1",
		Action:        ActionIntakeSubmitted,
		EntityType:    "form_submission",
		EntityID:      7,
		Detail:        map[string]any{"rule_count": 3},
	})

	n, err := st.CountAuditLogs(context.Background(), "s1", ActionIntakeSubmitted)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEmitSurvivesClosedStore(t *testing.T) {
	st, err := store.New(":memory:", nil)
	require.NoError(t, err)
	st.Close()

	e := New(st, nil)
	// Best-effort: must not panic and must not surface the failure.
	assert.NotPanics(t, func() {
		e.Emit(context.Background(), Event{StudyID: "s1", Action: ActionIntakeSubmitted})
	})
}

func TestNilEmitterIsSafe(t *testing.T) {
	var e *Emitter
	assert.NotPanics(t, func() {
		e.Emit(context.Background(), Event{Action: "x"})
	})
}
