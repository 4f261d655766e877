// Package payment reconciles an asynchronous, possibly-failing external
// payment confirmation with a manual cash override, exactly once per
// session.
package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Mohammed-Mafaz/Parking-System/internal/domain/parking"
)

var (
	ErrUnknownLink  = errors.New("no attempt for payment link")
	ErrNoAttempt    = errors.New("no payment attempt for session")
	ErrTerminal     = errors.New("payment attempt already settled")
	ErrInvalidInput = errors.New("invalid input")
)

// AttemptStore is the persistence slice the reconciler needs. It writes
// attempts plus the paid/payment_link_id side of sessions; the session
// lifecycle fields stay with the lifecycle manager.
type AttemptStore interface {
	CreateAttempt(ctx context.Context, a *parking.PaymentAttempt) error
	GetAttempt(ctx context.Context, id string) (*parking.PaymentAttempt, error)
	GetAttemptBySession(ctx context.Context, sessionID string) (*parking.PaymentAttempt, error)
	GetAttemptByLink(ctx context.Context, linkID string) (*parking.PaymentAttempt, error)
	SetAttemptLink(ctx context.Context, id, linkID, shortURL string) error
	CASAttemptStatus(ctx context.Context, id string, from, to parking.AttemptStatus, method parking.PaymentMethod) (bool, error)
	ListAttemptsByStatus(ctx context.Context, statuses ...parking.AttemptStatus) ([]parking.PaymentAttempt, error)
	SettleSession(ctx context.Context, id string) (bool, error)
	SetSessionPaymentLink(ctx context.Context, id, linkID string) error
}

type Options struct {
	Currency     string
	PollInterval time.Duration
	PollWindow   time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// Reconciler drives payment attempts to a terminal state. Poll loops run
// on the reconciler's own context so a camera worker shutting down never
// cancels an in-flight settlement.
type Reconciler struct {
	store    AttemptStore
	provider Provider
	opts     Options
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewReconciler(store AttemptStore, provider Provider, opts Options, log zerolog.Logger) *Reconciler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.PollWindow <= 0 {
		opts.PollWindow = 60 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Currency == "" {
		opts.Currency = "INR"
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		store:    store,
		provider: provider,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		log:      log,
	}
}

// Begin starts settlement for a session that just entered EXITED with a
// nonzero amount. It returns immediately; link creation and polling run
// asynchronously so detection processing never blocks on network I/O.
func (r *Reconciler) Begin(_ context.Context, session *parking.ParkingSession) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(session)
	}()
}

func (r *Reconciler) run(session *parking.ParkingSession) {
	attempt := &parking.PaymentAttempt{
		ID:        uuid.New().String(),
		SessionID: session.ID,
		Method:    parking.MethodUPI,
		Status:    parking.AttemptPending,
		Amount:    session.Amount,
	}
	if err := r.store.CreateAttempt(r.ctx, attempt); err != nil {
		r.log.Error().Err(err).Str("session_id", session.ID).Msg("failed to create payment attempt")
		return
	}

	link, err := r.createLink(session)
	if err != nil {
		// A billable exit must never be dropped silently: mark the
		// attempt FAILED so it lands on the operator queue.
		r.log.Error().
			Err(err).
			Str("session_id", session.ID).
			Str("plate", session.Plate).
			Msg("payment link creation failed, queued for manual reconciliation")
		if _, casErr := r.store.CASAttemptStatus(r.ctx, attempt.ID, parking.AttemptPending, parking.AttemptFailed, ""); casErr != nil {
			r.log.Error().Err(casErr).Str("attempt_id", attempt.ID).Msg("failed to mark attempt failed")
		}
		return
	}

	if err := r.store.SetAttemptLink(r.ctx, attempt.ID, link.ID, link.ShortURL); err != nil {
		r.log.Error().Err(err).Str("attempt_id", attempt.ID).Msg("failed to store payment link")
	}
	if err := r.store.SetSessionPaymentLink(r.ctx, session.ID, link.ID); err != nil {
		r.log.Error().Err(err).Str("session_id", session.ID).Msg("failed to store payment link on session")
	}

	r.log.Info().
		Str("session_id", session.ID).
		Str("plate", session.Plate).
		Str("link_id", link.ID).
		Str("short_url", link.ShortURL).
		Int64("amount", session.Amount).
		Msg("payment link created")

	r.poll(attempt.ID, session.ID, link.ID)
}

func (r *Reconciler) createLink(session *parking.ParkingSession) (*PaymentLink, error) {
	description := fmt.Sprintf("Parking fee for %s", session.Plate)
	var lastErr error
	backoff := r.opts.RetryBackoff
	for attempt := 0; attempt < r.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-r.ctx.Done():
				return nil, r.ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		link, err := r.provider.CreatePaymentLink(r.ctx, session.Amount*100, r.opts.Currency, description, session.Plate)
		if err == nil {
			return link, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("after %d attempts: %w", r.opts.MaxRetries, lastErr)
}

// poll checks the provider on a fixed interval until settlement, a
// provider-side failure, or the wall-clock deadline. Past the deadline
// the attempt times out and is never retried in the background.
func (r *Reconciler) poll(attemptID, sessionID, linkID string) {
	deadline := time.NewTimer(r.opts.PollWindow)
	defer deadline.Stop()
	tick := time.NewTicker(r.opts.PollInterval)
	defer tick.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-deadline.C:
			ok, err := r.store.CASAttemptStatus(r.ctx, attemptID, parking.AttemptPending, parking.AttemptTimeout, "")
			if err != nil {
				r.log.Error().Err(err).Str("attempt_id", attemptID).Msg("failed to time out attempt")
				return
			}
			if ok {
				r.log.Warn().
					Str("attempt_id", attemptID).
					Str("session_id", sessionID).
					Msg("payment window expired, queued for manual reconciliation")
			}
			return
		case <-tick.C:
			status, err := r.provider.CheckPaymentStatus(r.ctx, linkID)
			if err != nil {
				// Transient until the window expires.
				r.log.Debug().Err(err).Str("link_id", linkID).Msg("payment status check failed")
				continue
			}
			switch status {
			case LinkPaid:
				r.settle(attemptID, sessionID, parking.AttemptSuccess, parking.MethodUPI)
				return
			case LinkFailed:
				if _, err := r.store.CASAttemptStatus(r.ctx, attemptID, parking.AttemptPending, parking.AttemptFailed, ""); err != nil {
					r.log.Error().Err(err).Str("attempt_id", attemptID).Msg("failed to mark attempt failed")
				}
				return
			}
		}
	}
}

// settle performs the first-writer-wins transition. Losing the race is a
// quiet no-op: the attempt is already terminal and must stay immutable.
func (r *Reconciler) settle(attemptID, sessionID string, to parking.AttemptStatus, method parking.PaymentMethod) bool {
	won, err := r.store.CASAttemptStatus(r.ctx, attemptID, parking.AttemptPending, to, method)
	if err != nil {
		r.log.Error().Err(err).Str("attempt_id", attemptID).Msg("failed to transition attempt")
		return false
	}
	if !won {
		r.log.Info().
			Str("attempt_id", attemptID).
			Str("wanted", string(to)).
			Msg("settlement already recorded, ignoring duplicate confirmation")
		return false
	}

	if _, err := r.store.SettleSession(r.ctx, sessionID); err != nil {
		r.log.Error().Err(err).Str("session_id", sessionID).Msg("failed to settle session")
	}
	r.log.Info().
		Str("attempt_id", attemptID).
		Str("session_id", sessionID).
		Str("status", string(to)).
		Msg("payment settled")
	return true
}

// ConfirmCash applies a manual operator override. It wins over a pending
// provider confirmation and is a conflict once the attempt is terminal.
func (r *Reconciler) ConfirmCash(ctx context.Context, sessionID string) (*parking.PaymentAttempt, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}

	attempt, err := r.store.GetAttemptBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up attempt: %w", err)
	}
	if attempt == nil {
		return nil, ErrNoAttempt
	}
	if attempt.Status.Terminal() {
		return attempt, ErrTerminal
	}

	if !r.settle(attempt.ID, sessionID, parking.AttemptCashConfirmed, parking.MethodCash) {
		// Raced with a provider confirmation; report the terminal state.
		current, err := r.store.GetAttempt(ctx, attempt.ID)
		if err != nil || current == nil {
			return attempt, ErrTerminal
		}
		return current, ErrTerminal
	}
	return r.store.GetAttempt(ctx, attempt.ID)
}

// ApplyCallback handles a webhook-style settlement notification keyed by
// link id. Duplicate deliveries and late arrivals after an override are
// no-ops.
func (r *Reconciler) ApplyCallback(ctx context.Context, linkID string, status LinkStatus) error {
	if linkID == "" {
		return fmt.Errorf("%w: link id is required", ErrInvalidInput)
	}

	attempt, err := r.store.GetAttemptByLink(ctx, linkID)
	if err != nil {
		return fmt.Errorf("failed to look up attempt by link: %w", err)
	}
	if attempt == nil {
		return ErrUnknownLink
	}
	if attempt.Status.Terminal() {
		r.log.Debug().
			Str("attempt_id", attempt.ID).
			Str("link_id", linkID).
			Msg("callback for settled attempt ignored")
		return nil
	}

	switch status {
	case LinkPaid:
		r.settle(attempt.ID, attempt.SessionID, parking.AttemptSuccess, parking.MethodUPI)
	case LinkFailed:
		if _, err := r.store.CASAttemptStatus(ctx, attempt.ID, parking.AttemptPending, parking.AttemptFailed, ""); err != nil {
			return fmt.Errorf("failed to mark attempt failed: %w", err)
		}
	}
	return nil
}

// PendingQueue lists attempts needing manual reconciliation.
func (r *Reconciler) PendingQueue(ctx context.Context) ([]parking.PaymentAttempt, error) {
	return r.store.ListAttemptsByStatus(ctx, parking.AttemptFailed, parking.AttemptTimeout)
}

// Close stops accepting new settlements and waits for in-flight poll
// loops to finish their windows, up to the given grace period.
func (r *Reconciler) Close(grace time.Duration) {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		r.cancel()
		<-done
	}
}
