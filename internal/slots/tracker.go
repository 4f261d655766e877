// Package slots maps confirmed, location-tagged detections to named
// parking slots. Grant and revoke grace periods are decoupled so a
// vehicle driving through a slot's field of view is never mapped, and a
// single missed frame never unmaps a parked one.
package slots

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Mohammed-Mafaz/Parking-System/internal/domain/parking"
)

// Polygon is a named slot region in image space.
type Polygon struct {
	Name     string
	Vertices []parking.Point
}

// Contains runs an even-odd ray cast from the point.
func (p Polygon) Contains(pt parking.Point) bool {
	inside := false
	n := len(p.Vertices)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		vi, vj := p.Vertices[i], p.Vertices[j]
		if (vi.Y > pt.Y) != (vj.Y > pt.Y) &&
			pt.X < (vj.X-vi.X)*(pt.Y-vi.Y)/(vj.Y-vi.Y)+vi.X {
			inside = !inside
		}
	}
	return inside
}

// ValidatePolygons rejects layouts where one slot's vertex falls inside
// another slot. Overlap is a configuration error, never resolved at
// runtime.
func ValidatePolygons(polygons []Polygon) error {
	for i, a := range polygons {
		if len(a.Vertices) < 3 {
			return fmt.Errorf("slot %s: polygon needs at least 3 vertices", a.Name)
		}
		for j, b := range polygons {
			if i == j {
				continue
			}
			for _, v := range b.Vertices {
				if a.Contains(v) {
					return fmt.Errorf("slots %s and %s overlap", a.Name, b.Name)
				}
			}
		}
	}
	return nil
}

// SlotStore is the persistence slice the tracker needs.
type SlotStore interface {
	FindParkedSessionWithoutSlot(ctx context.Context, plate string) (*parking.ParkingSession, error)
	AssignSessionSlot(ctx context.Context, id, slot string) (bool, error)
	ClearSessionSlot(ctx context.Context, plate, slot string) error
	SaveSlotState(ctx context.Context, s *parking.SlotState) error
	DeleteSlotState(ctx context.Context, slotName string) error
	ListSlotStates(ctx context.Context) ([]parking.SlotState, error)
}

type entry struct {
	slot      string
	firstSeen time.Time
	lastSeen  time.Time
	mapped    bool
}

// Tracker holds the per-plate dwell cache. All mutation happens through
// Observe and Sweep; SlotState rows mirror the cache for the query
// surface.
type Tracker struct {
	mu          sync.Mutex
	store       SlotStore
	polygons    []Polygon
	grantDelay  time.Duration
	revokeDelay time.Duration
	plates      map[string]*entry
	log         zerolog.Logger
}

func NewTracker(store SlotStore, polygons []Polygon, grantDelay, revokeDelay time.Duration, log zerolog.Logger) (*Tracker, error) {
	if err := ValidatePolygons(polygons); err != nil {
		return nil, err
	}
	return &Tracker{
		store:       store,
		polygons:    polygons,
		grantDelay:  grantDelay,
		revokeDelay: revokeDelay,
		plates:      make(map[string]*entry),
		log:         log,
	}, nil
}

// Observe handles one confirmed, location-tagged detection. The first
// polygon containing the centroid wins; the slot is mapped onto the
// plate's PARKED session only after the grant delay has elapsed.
func (t *Tracker) Observe(ctx context.Context, plateText string, at parking.Point, now time.Time) {
	slot := ""
	for _, p := range t.polygons {
		if p.Contains(at) {
			slot = p.Name
			break
		}
	}
	if slot == "" {
		return
	}

	t.mu.Lock()
	e, ok := t.plates[plateText]
	if !ok || e.slot != slot {
		e = &entry{slot: slot, firstSeen: now}
		t.plates[plateText] = e
	}
	e.lastSeen = now
	// A slot already mapped to another plate stays with it until the
	// revoke sweep clears the absence.
	shouldMap := !e.mapped && now.Sub(e.firstSeen) >= t.grantDelay && !t.mappedLocked(slot)
	t.mu.Unlock()

	if !shouldMap {
		return
	}

	session, err := t.store.FindParkedSessionWithoutSlot(ctx, plateText)
	if err != nil {
		t.log.Error().Err(err).Str("plate", plateText).Msg("failed to look up session for slot mapping")
		return
	}
	if session == nil {
		return
	}

	assigned, err := t.store.AssignSessionSlot(ctx, session.ID, slot)
	if err != nil {
		t.log.Error().Err(err).Str("session_id", session.ID).Msg("failed to assign slot")
		return
	}
	if !assigned {
		return
	}

	t.mu.Lock()
	if cur, ok := t.plates[plateText]; ok && cur.slot == slot {
		cur.mapped = true
	}
	t.mu.Unlock()

	state := &parking.SlotState{
		SlotName:       slot,
		OccupyingPlate: plateText,
		FirstSeen:      e.firstSeen,
		LastSeen:       now,
		Mapped:         true,
	}
	if err := t.store.SaveSlotState(ctx, state); err != nil {
		t.log.Error().Err(err).Str("slot", slot).Msg("failed to persist slot state")
	}

	t.log.Info().
		Str("plate", plateText).
		Str("slot", slot).
		Str("session_id", session.ID).
		Msg("slot mapped")
}

// mappedLocked reports whether any plate currently holds the slot.
// Callers must hold t.mu.
func (t *Tracker) mappedLocked(slot string) bool {
	for _, e := range t.plates {
		if e.mapped && e.slot == slot {
			return true
		}
	}
	return false
}

// Sweep clears every mapped slot whose plate has been absent for at
// least the revoke delay, and drops stale unmapped candidates. Runs once
// per tracking pass.
func (t *Tracker) Sweep(ctx context.Context, now time.Time) {
	type revocation struct {
		plate string
		slot  string
	}
	var revoked []revocation

	t.mu.Lock()
	for plateText, e := range t.plates {
		if now.Sub(e.lastSeen) < t.revokeDelay {
			continue
		}
		if e.mapped {
			revoked = append(revoked, revocation{plate: plateText, slot: e.slot})
		}
		delete(t.plates, plateText)
	}
	t.mu.Unlock()

	for _, r := range revoked {
		if err := t.store.ClearSessionSlot(ctx, r.plate, r.slot); err != nil {
			t.log.Error().Err(err).Str("plate", r.plate).Msg("failed to clear session slot")
		}
		if err := t.store.DeleteSlotState(ctx, r.slot); err != nil {
			t.log.Error().Err(err).Str("slot", r.slot).Msg("failed to delete slot state")
		}
		t.log.Info().Str("plate", r.plate).Str("slot", r.slot).Msg("slot unmapped")
	}
}

// Occupancy returns slot name -> occupying plate for every configured
// slot; free slots map to the empty string.
func (t *Tracker) Occupancy() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]string, len(t.polygons))
	for _, p := range t.polygons {
		out[p.Name] = ""
	}
	for plateText, e := range t.plates {
		if e.mapped {
			out[e.slot] = plateText
		}
	}
	return out
}
