package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Mohammed-Mafaz/Parking-System/internal/debounce"
	"github.com/Mohammed-Mafaz/Parking-System/internal/domain/parking"
	"github.com/Mohammed-Mafaz/Parking-System/internal/fees"
	"github.com/Mohammed-Mafaz/Parking-System/internal/repository"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotFound       = errors.New("not found")
	ErrAlreadyParked  = errors.New("plate already has an open session")
	ErrNoOpenSession  = errors.New("no open session for plate")
	ErrStaleTimestamp = errors.New("timestamp precedes recorded session time")
)

// SessionStore is the slice of the persistence contract the lifecycle
// manager needs. Both the Postgres repository and the memory store
// satisfy it.
type SessionStore interface {
	CreateSession(ctx context.Context, s *parking.ParkingSession) error
	GetSession(ctx context.Context, id string) (*parking.ParkingSession, error)
	GetOpenSessionByPlate(ctx context.Context, plate string) (*parking.ParkingSession, error)
	CloseSession(ctx context.Context, id string, exitTime time.Time, amount int64) (bool, error)
	SettleSession(ctx context.Context, id string) (bool, error)
	ListSessions(ctx context.Context, f repository.SessionFilter) ([]parking.ParkingSession, error)
	AppendEvent(ctx context.Context, e *parking.ConfirmedEvent) error
	ListEvents(ctx context.Context, limit int) ([]parking.ConfirmedEvent, error)
}

// PaymentStarter begins settlement for a freshly exited session. The
// reconciler satisfies it; a nil starter leaves billable exits on the
// ledger unpaid (surfaced through the operator queue by reconciliation).
type PaymentStarter interface {
	Begin(ctx context.Context, session *parking.ParkingSession)
}

// EventPublisher fans confirmed events out to external consumers. May be
// nil when no broker is configured.
type EventPublisher interface {
	PublishConfirmed(e *parking.ConfirmedEvent) error
}

// SessionService owns the session lifecycle: NONE -> PARKED -> EXITED ->
// SETTLED, with at most one open session per plate.
type SessionService struct {
	store     SessionStore
	fees      *fees.Calculator
	cooldown  *debounce.Cache
	payments  PaymentStarter
	publisher EventPublisher
	log       zerolog.Logger
}

func NewSessionService(store SessionStore, calc *fees.Calculator, cooldown *debounce.Cache, log zerolog.Logger) *SessionService {
	return &SessionService{
		store:    store,
		fees:     calc,
		cooldown: cooldown,
		log:      log,
	}
}

// SetPaymentStarter wires the reconciler in after construction; the
// reconciler itself only depends on the store, so this breaks what would
// otherwise be a construction cycle.
func (s *SessionService) SetPaymentStarter(p PaymentStarter) { s.payments = p }

func (s *SessionService) SetPublisher(p EventPublisher) { s.publisher = p }

// ConfirmEntry opens a session for a consensus-confirmed plate. Repeated
// confirmations inside the cooldown are no-ops returning (nil, nil);
// an existing open session is a logical conflict, not a new row. raw
// carries the triggering detection context onto the event ledger.
func (s *SessionService) ConfirmEntry(ctx context.Context, plateText, cameraID string, at time.Time, raw map[string]interface{}) (*parking.ParkingSession, error) {
	if plateText == "" {
		return nil, fmt.Errorf("%w: plate is required", ErrInvalidInput)
	}
	if at.IsZero() {
		return nil, fmt.Errorf("%w: timestamp is required", ErrInvalidInput)
	}

	if !s.cooldown.Allow("entry:"+plateText, at) {
		s.log.Debug().Str("plate", plateText).Msg("entry confirmation suppressed by cooldown")
		return nil, nil
	}

	existing, err := s.store.GetOpenSessionByPlate(ctx, plateText)
	if err != nil {
		return nil, fmt.Errorf("failed to look up open session: %w", err)
	}
	if existing != nil {
		s.log.Info().
			Str("plate", plateText).
			Str("session_id", existing.ID).
			Msg("entry ignored, plate already parked")
		return nil, ErrAlreadyParked
	}

	session := &parking.ParkingSession{
		ID:        uuid.New().String(),
		Plate:     plateText,
		EntryTime: at,
		Status:    parking.StatusParked,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		s.log.Error().Err(err).Str("plate", plateText).Msg("failed to create session")
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.recordEvent(ctx, plateText, cameraID, parking.EventEntry, at, raw)

	s.log.Info().
		Str("session_id", session.ID).
		Str("plate", plateText).
		Str("camera_id", cameraID).
		Time("entry_time", at).
		Msg("logged new entry")
	return session, nil
}

// ConfirmExit closes the plate's latest open session, computes the fee
// and hands the session to the payment starter when something is owed.
func (s *SessionService) ConfirmExit(ctx context.Context, plateText, cameraID string, at time.Time, raw map[string]interface{}) (*parking.ParkingSession, error) {
	if plateText == "" {
		return nil, fmt.Errorf("%w: plate is required", ErrInvalidInput)
	}
	if at.IsZero() {
		return nil, fmt.Errorf("%w: timestamp is required", ErrInvalidInput)
	}

	if !s.cooldown.Allow("exit:"+plateText, at) {
		s.log.Debug().Str("plate", plateText).Msg("exit confirmation suppressed by cooldown")
		return nil, nil
	}

	session, err := s.store.GetOpenSessionByPlate(ctx, plateText)
	if err != nil {
		return nil, fmt.Errorf("failed to look up open session: %w", err)
	}
	if session == nil {
		s.log.Warn().Str("plate", plateText).Msg("exit ignored, no open session")
		return nil, ErrNoOpenSession
	}
	if at.Before(session.EntryTime) {
		return nil, fmt.Errorf("%w: exit %s before entry %s", ErrStaleTimestamp, at, session.EntryTime)
	}

	amount, err := s.fees.Amount(session.EntryTime, at)
	if err != nil {
		s.log.Error().
			Err(err).
			Str("session_id", session.ID).
			Msg("fee computation rejected exit")
		return nil, err
	}

	ok, err := s.store.CloseSession(ctx, session.ID, at, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to close session: %w", err)
	}
	if !ok {
		// Lost a race with a concurrent exit confirmation; the winner
		// already closed it.
		s.log.Info().Str("session_id", session.ID).Msg("session already closed")
		return nil, ErrNoOpenSession
	}

	session.ExitTime = &at
	session.Amount = amount
	session.Status = parking.StatusExited

	s.recordEvent(ctx, plateText, cameraID, parking.EventExit, at, raw)

	s.log.Info().
		Str("session_id", session.ID).
		Str("plate", plateText).
		Int64("amount", amount).
		Time("exit_time", at).
		Msg("logged exit")

	if amount == 0 {
		if _, err := s.store.SettleSession(ctx, session.ID); err != nil {
			s.log.Error().Err(err).Str("session_id", session.ID).Msg("failed to settle free stay")
		} else {
			session.Status = parking.StatusSettled
			session.Paid = true
		}
		return session, nil
	}

	if s.payments != nil {
		s.payments.Begin(ctx, session)
	}
	return session, nil
}

func (s *SessionService) recordEvent(ctx context.Context, plateText, cameraID string, typ parking.EventType, at time.Time, raw map[string]interface{}) {
	event := &parking.ConfirmedEvent{
		Plate:      plateText,
		CameraID:   cameraID,
		Type:       typ,
		EventTime:  at,
		RawPayload: raw,
	}
	if err := s.store.AppendEvent(ctx, event); err != nil {
		s.log.Error().Err(err).Str("plate", plateText).Msg("failed to append confirmed event")
	}
	if s.publisher != nil {
		if err := s.publisher.PublishConfirmed(event); err != nil {
			s.log.Error().Err(err).Str("plate", plateText).Msg("failed to publish confirmed event")
		}
	}
}

func (s *SessionService) GetOpenSession(ctx context.Context, plateText string) (*parking.ParkingSession, error) {
	if plateText == "" {
		return nil, fmt.Errorf("%w: plate is required", ErrInvalidInput)
	}
	session, err := s.store.GetOpenSessionByPlate(ctx, plateText)
	if err != nil {
		return nil, fmt.Errorf("failed to look up open session: %w", err)
	}
	if session == nil {
		return nil, ErrNotFound
	}
	return session, nil
}

func (s *SessionService) ListSessions(ctx context.Context, f repository.SessionFilter) ([]parking.ParkingSession, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	sessions, err := s.store.ListSessions(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

func (s *SessionService) RecentEvents(ctx context.Context, limit int) ([]parking.ConfirmedEvent, error) {
	events, err := s.store.ListEvents(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}
