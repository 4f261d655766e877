package parking

import (
	"time"
)

type CameraRole string

const (
	RoleEntrance CameraRole = "entrance"
	RoleExit     CameraRole = "exit"
	RoleSection  CameraRole = "section"
)

type SessionStatus string

const (
	StatusParked  SessionStatus = "PARKED"
	StatusExited  SessionStatus = "EXITED"
	StatusSettled SessionStatus = "SETTLED"
)

type PaymentMethod string

const (
	MethodUPI  PaymentMethod = "UPI"
	MethodCash PaymentMethod = "CASH"
)

type AttemptStatus string

const (
	AttemptPending       AttemptStatus = "PENDING"
	AttemptSuccess       AttemptStatus = "SUCCESS"
	AttemptCashConfirmed AttemptStatus = "CASH_CONFIRMED"
	AttemptFailed        AttemptStatus = "FAILED"
	AttemptTimeout       AttemptStatus = "TIMEOUT"
)

// Terminal reports whether the attempt can no longer change state.
func (s AttemptStatus) Terminal() bool {
	return s != AttemptPending
}

type EventType string

const (
	EventEntry EventType = "ENTRY"
	EventExit  EventType = "EXIT"
)

// Point is an image-space coordinate, used for slot containment checks.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Detection is a single per-frame plate candidate from the perception
// collaborator. Detections are never persisted.
type Detection struct {
	Plate      string  `json:"plate"`
	Confidence float64 `json:"confidence"`
	Location   *Point  `json:"location,omitempty"`
}

// ConfirmedEvent is a plate reading that passed the consensus check.
type ConfirmedEvent struct {
	ID         int64                  `json:"id"`
	Plate      string                 `json:"plate"`
	CameraID   string                 `json:"camera_id"`
	Type       EventType              `json:"type"`
	EventTime  time.Time              `json:"event_time"`
	RawPayload map[string]interface{} `json:"raw_payload,omitempty"`
}

type ParkingSession struct {
	ID            string        `json:"id"`
	Plate         string        `json:"plate"`
	EntryTime     time.Time     `json:"entry_time"`
	ExitTime      *time.Time    `json:"exit_time,omitempty"`
	Slot          *string       `json:"slot,omitempty"`
	Amount        int64         `json:"amount"`
	Paid          bool          `json:"paid"`
	PaymentLinkID *string       `json:"payment_link_id,omitempty"`
	Status        SessionStatus `json:"status"`
}

// Open reports whether the session has not yet recorded an exit.
func (s *ParkingSession) Open() bool {
	return s.ExitTime == nil
}

type SlotState struct {
	SlotName       string    `json:"slot_name"`
	OccupyingPlate string    `json:"occupying_plate,omitempty"`
	FirstSeen      time.Time `json:"first_seen"`
	LastSeen       time.Time `json:"last_seen"`
	Mapped         bool      `json:"mapped"`
}

type PaymentAttempt struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id"`
	Method    PaymentMethod `json:"method"`
	Status    AttemptStatus `json:"status"`
	Amount    int64         `json:"amount"`
	LinkID    *string       `json:"link_id,omitempty"`
	ShortURL  *string       `json:"short_url,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}
