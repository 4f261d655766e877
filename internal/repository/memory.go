package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Mohammed-Mafaz/Parking-System/internal/domain/parking"
)

// Memory is an in-process store with the same contract as
// ParkingRepository, including the compare-and-set guards. It backs the
// "memory" database driver and the test suites.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]*parking.ParkingSession
	slots    map[string]*parking.SlotState
	attempts map[string]*parking.PaymentAttempt
	events   []parking.ConfirmedEvent
	nextID   int64
}

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*parking.ParkingSession),
		slots:    make(map[string]*parking.SlotState),
		attempts: make(map[string]*parking.PaymentAttempt),
	}
}

func cloneSession(s *parking.ParkingSession) *parking.ParkingSession {
	c := *s
	if s.ExitTime != nil {
		t := *s.ExitTime
		c.ExitTime = &t
	}
	if s.Slot != nil {
		v := *s.Slot
		c.Slot = &v
	}
	if s.PaymentLinkID != nil {
		v := *s.PaymentLinkID
		c.PaymentLinkID = &v
	}
	return &c
}

func cloneAttempt(a *parking.PaymentAttempt) *parking.PaymentAttempt {
	c := *a
	if a.LinkID != nil {
		v := *a.LinkID
		c.LinkID = &v
	}
	if a.ShortURL != nil {
		v := *a.ShortURL
		c.ShortURL = &v
	}
	return &c
}

func (m *Memory) CreateSession(_ context.Context, s *parking.ParkingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = cloneSession(s)
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (*parking.ParkingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return cloneSession(s), nil
}

func (m *Memory) GetOpenSessionByPlate(_ context.Context, plateText string) (*parking.ParkingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *parking.ParkingSession
	for _, s := range m.sessions {
		if s.Plate != plateText || s.ExitTime != nil {
			continue
		}
		if best == nil || s.EntryTime.After(best.EntryTime) {
			best = s
		}
	}
	if best == nil {
		return nil, nil
	}
	return cloneSession(best), nil
}

func (m *Memory) CloseSession(_ context.Context, id string, exitTime time.Time, amount int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || s.Status != parking.StatusParked {
		return false, nil
	}
	t := exitTime
	s.ExitTime = &t
	s.Amount = amount
	s.Status = parking.StatusExited
	return true, nil
}

func (m *Memory) SettleSession(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || s.Status != parking.StatusExited {
		return false, nil
	}
	s.Paid = true
	s.Status = parking.StatusSettled
	return true, nil
}

func (m *Memory) SetSessionPaymentLink(_ context.Context, id, linkID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		v := linkID
		s.PaymentLinkID = &v
	}
	return nil
}

func (m *Memory) FindParkedSessionWithoutSlot(_ context.Context, plateText string) (*parking.ParkingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *parking.ParkingSession
	for _, s := range m.sessions {
		if s.Plate != plateText || s.Status != parking.StatusParked || s.Slot != nil {
			continue
		}
		if best == nil || s.EntryTime.After(best.EntryTime) {
			best = s
		}
	}
	if best == nil {
		return nil, nil
	}
	return cloneSession(best), nil
}

func (m *Memory) AssignSessionSlot(_ context.Context, id, slot string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || s.Status != parking.StatusParked || s.Slot != nil {
		return false, nil
	}
	v := slot
	s.Slot = &v
	return true, nil
}

func (m *Memory) ClearSessionSlot(_ context.Context, plateText, slot string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if s.Plate == plateText && s.Slot != nil && *s.Slot == slot {
			s.Slot = nil
		}
	}
	return nil
}

func (m *Memory) ListSessions(_ context.Context, f SessionFilter) ([]parking.ParkingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []parking.ParkingSession
	for _, s := range m.sessions {
		if f.Plate != nil && s.Plate != *f.Plate {
			continue
		}
		if f.Status != nil && s.Status != *f.Status {
			continue
		}
		if f.From != nil && s.EntryTime.Before(*f.From) {
			continue
		}
		if f.To != nil && s.EntryTime.After(*f.To) {
			continue
		}
		out = append(out, *cloneSession(s))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EntryTime.After(out[j].EntryTime)
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) SaveSlotState(_ context.Context, s *parking.SlotState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *s
	m.slots[s.SlotName] = &c
	return nil
}

func (m *Memory) DeleteSlotState(_ context.Context, slotName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots, slotName)
	return nil
}

func (m *Memory) ListSlotStates(_ context.Context) ([]parking.SlotState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]parking.SlotState, 0, len(m.slots))
	for _, s := range m.slots {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlotName < out[j].SlotName })
	return out, nil
}

func (m *Memory) CreateAttempt(_ context.Context, a *parking.PaymentAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now
	m.attempts[a.ID] = cloneAttempt(a)
	return nil
}

func (m *Memory) GetAttempt(_ context.Context, id string) (*parking.PaymentAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return nil, nil
	}
	return cloneAttempt(a), nil
}

func (m *Memory) GetAttemptBySession(_ context.Context, sessionID string) (*parking.PaymentAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.attempts {
		if a.SessionID == sessionID {
			return cloneAttempt(a), nil
		}
	}
	return nil, nil
}

func (m *Memory) GetAttemptByLink(_ context.Context, linkID string) (*parking.PaymentAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.attempts {
		if a.LinkID != nil && *a.LinkID == linkID {
			return cloneAttempt(a), nil
		}
	}
	return nil, nil
}

func (m *Memory) SetAttemptLink(_ context.Context, id, linkID, shortURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.attempts[id]; ok {
		l, u := linkID, shortURL
		a.LinkID = &l
		a.ShortURL = &u
		a.UpdatedAt = time.Now()
	}
	return nil
}

func (m *Memory) CASAttemptStatus(_ context.Context, id string, from, to parking.AttemptStatus, method parking.PaymentMethod) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.attempts[id]
	if !ok || a.Status != from {
		return false, nil
	}
	a.Status = to
	if method != "" {
		a.Method = method
	}
	a.UpdatedAt = time.Now()
	return true, nil
}

func (m *Memory) ListAttemptsByStatus(_ context.Context, statuses ...parking.AttemptStatus) ([]parking.PaymentAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []parking.PaymentAttempt
	for _, a := range m.attempts {
		for _, s := range statuses {
			if a.Status == s {
				out = append(out, *cloneAttempt(a))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *Memory) AppendEvent(_ context.Context, e *parking.ConfirmedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	e.ID = m.nextID
	m.events = append(m.events, *e)
	return nil
}

func (m *Memory) ListEvents(_ context.Context, limit int) ([]parking.ConfirmedEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 || limit > 100 {
		limit = 50
	}
	out := make([]parking.ConfirmedEvent, 0, limit)
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.events[i])
	}
	return out, nil
}
