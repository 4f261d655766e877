package slots

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mohammed-Mafaz/Parking-System/internal/domain/parking"
	"github.com/Mohammed-Mafaz/Parking-System/internal/repository"
)

func testPolygons() []Polygon {
	return []Polygon{
		{Name: "SlotA", Vertices: []parking.Point{{X: 100, Y: 100}, {X: 200, Y: 100}, {X: 200, Y: 200}, {X: 100, Y: 200}}},
		{Name: "SlotB", Vertices: []parking.Point{{X: 300, Y: 100}, {X: 400, Y: 100}, {X: 400, Y: 200}, {X: 300, Y: 200}}},
	}
}

func newTestTracker(t *testing.T) (*Tracker, *repository.Memory) {
	store := repository.NewMemory()
	tracker, err := NewTracker(store, testPolygons(), 10*time.Second, 10*time.Second, zerolog.Nop())
	require.NoError(t, err)
	return tracker, store
}

func parkSession(t *testing.T, store *repository.Memory, plateText string, at time.Time) string {
	t.Helper()
	s := &parking.ParkingSession{
		ID:        "session-" + plateText,
		Plate:     plateText,
		EntryTime: at,
		Status:    parking.StatusParked,
	}
	require.NoError(t, store.CreateSession(context.Background(), s))
	return s.ID
}

func TestPolygonContains(t *testing.T) {
	p := testPolygons()[0]

	assert.True(t, p.Contains(parking.Point{X: 150, Y: 150}))
	assert.False(t, p.Contains(parking.Point{X: 250, Y: 150}))
	assert.False(t, p.Contains(parking.Point{X: 50, Y: 50}))
}

func TestValidatePolygonsRejectsOverlap(t *testing.T) {
	overlapping := []Polygon{
		{Name: "SlotA", Vertices: []parking.Point{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 100}, {X: 0, Y: 100}}},
		{Name: "SlotB", Vertices: []parking.Point{{X: 50, Y: 50}, {X: 150, Y: 50}, {X: 150, Y: 150}, {X: 50, Y: 150}}},
	}
	assert.Error(t, ValidatePolygons(overlapping))
	assert.NoError(t, ValidatePolygons(testPolygons()))
}

func TestGrantDelayPreventsDriveThroughMapping(t *testing.T) {
	tracker, store := newTestTracker(t)
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	id := parkSession(t, store, "KA01AB1234", t0)

	// Present for less than the grant delay: never mapped.
	tracker.Observe(context.Background(), "KA01AB1234", parking.Point{X: 150, Y: 150}, t0)
	tracker.Observe(context.Background(), "KA01AB1234", parking.Point{X: 150, Y: 150}, t0.Add(9*time.Second))

	session, err := store.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, session.Slot)
	assert.Equal(t, "", tracker.Occupancy()["SlotA"])
}

func TestOccupiedSlotIsNotGrantedTwice(t *testing.T) {
	tracker, store := newTestTracker(t)
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	firstID := parkSession(t, store, "KA01AB1234", t0)
	secondID := parkSession(t, store, "MH12XY0001", t0)

	// Two plates dwelling in the same polygon past the grant delay:
	// only the first holds the slot, the other waits for the revoke.
	tracker.Observe(context.Background(), "KA01AB1234", parking.Point{X: 150, Y: 150}, t0)
	tracker.Observe(context.Background(), "MH12XY0001", parking.Point{X: 160, Y: 160}, t0)
	tracker.Observe(context.Background(), "KA01AB1234", parking.Point{X: 150, Y: 150}, t0.Add(10*time.Second))
	tracker.Observe(context.Background(), "MH12XY0001", parking.Point{X: 160, Y: 160}, t0.Add(10*time.Second))

	first, err := store.GetSession(context.Background(), firstID)
	require.NoError(t, err)
	require.NotNil(t, first.Slot)
	assert.Equal(t, "SlotA", *first.Slot)

	second, err := store.GetSession(context.Background(), secondID)
	require.NoError(t, err)
	assert.Nil(t, second.Slot)
	assert.Equal(t, "KA01AB1234", tracker.Occupancy()["SlotA"])
}

func TestDwellPastGrantDelayMapsSlot(t *testing.T) {
	tracker, store := newTestTracker(t)
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	id := parkSession(t, store, "KA01AB1234", t0)

	tracker.Observe(context.Background(), "KA01AB1234", parking.Point{X: 150, Y: 150}, t0)
	tracker.Observe(context.Background(), "KA01AB1234", parking.Point{X: 160, Y: 160}, t0.Add(10*time.Second))

	session, err := store.GetSession(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, session.Slot)
	assert.Equal(t, "SlotA", *session.Slot)
	assert.Equal(t, "KA01AB1234", tracker.Occupancy()["SlotA"])

	states, err := store.ListSlotStates(context.Background())
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.True(t, states[0].Mapped)
	assert.Equal(t, "KA01AB1234", states[0].OccupyingPlate)
}

func TestSlotChangeResetsDwell(t *testing.T) {
	tracker, store := newTestTracker(t)
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	id := parkSession(t, store, "KA01AB1234", t0)

	tracker.Observe(context.Background(), "KA01AB1234", parking.Point{X: 150, Y: 150}, t0)
	// Moves to SlotB; dwell starts over.
	tracker.Observe(context.Background(), "KA01AB1234", parking.Point{X: 350, Y: 150}, t0.Add(9*time.Second))
	tracker.Observe(context.Background(), "KA01AB1234", parking.Point{X: 350, Y: 150}, t0.Add(15*time.Second))

	session, err := store.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, session.Slot)

	tracker.Observe(context.Background(), "KA01AB1234", parking.Point{X: 350, Y: 150}, t0.Add(19*time.Second))
	session, err = store.GetSession(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, session.Slot)
	assert.Equal(t, "SlotB", *session.Slot)
}

func TestRevokeDelayKeepsMappingThroughBlips(t *testing.T) {
	tracker, store := newTestTracker(t)
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	id := parkSession(t, store, "KA01AB1234", t0)

	tracker.Observe(context.Background(), "KA01AB1234", parking.Point{X: 150, Y: 150}, t0)
	tracker.Observe(context.Background(), "KA01AB1234", parking.Point{X: 150, Y: 150}, t0.Add(10*time.Second))

	// Absent but within the revoke delay: stays mapped.
	tracker.Sweep(context.Background(), t0.Add(19*time.Second))
	session, err := store.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.NotNil(t, session.Slot)
	assert.Equal(t, "KA01AB1234", tracker.Occupancy()["SlotA"])
}

func TestSweepRevokesAfterAbsence(t *testing.T) {
	tracker, store := newTestTracker(t)
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	id := parkSession(t, store, "KA01AB1234", t0)

	tracker.Observe(context.Background(), "KA01AB1234", parking.Point{X: 150, Y: 150}, t0)
	tracker.Observe(context.Background(), "KA01AB1234", parking.Point{X: 150, Y: 150}, t0.Add(10*time.Second))

	tracker.Sweep(context.Background(), t0.Add(20*time.Second))

	session, err := store.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, session.Slot)
	assert.Equal(t, "", tracker.Occupancy()["SlotA"])

	states, err := store.ListSlotStates(context.Background())
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestObserveOutsideAllPolygonsIgnored(t *testing.T) {
	tracker, _ := newTestTracker(t)
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	tracker.Observe(context.Background(), "KA01AB1234", parking.Point{X: 500, Y: 500}, t0)
	tracker.Observe(context.Background(), "KA01AB1234", parking.Point{X: 500, Y: 500}, t0.Add(time.Minute))

	assert.Equal(t, "", tracker.Occupancy()["SlotA"])
	assert.Equal(t, "", tracker.Occupancy()["SlotB"])
}

func TestNoSessionNoMapping(t *testing.T) {
	tracker, store := newTestTracker(t)
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	// Plate never entered through the gate.
	tracker.Observe(context.Background(), "ZZ99ZZ9999", parking.Point{X: 150, Y: 150}, t0)
	tracker.Observe(context.Background(), "ZZ99ZZ9999", parking.Point{X: 150, Y: 150}, t0.Add(15*time.Second))

	states, err := store.ListSlotStates(context.Background())
	require.NoError(t, err)
	assert.Empty(t, states)
	assert.Equal(t, "", tracker.Occupancy()["SlotA"])
}
