// Package pipeline wires the detection path: perception output flows
// through the normalizer and the consensus aggregator, and confirmed
// plates are dispatched by camera role. A single worker parameterized by
// role serves every camera kind.
package pipeline

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/Mohammed-Mafaz/Parking-System/internal/consensus"
	"github.com/Mohammed-Mafaz/Parking-System/internal/domain/parking"
	"github.com/Mohammed-Mafaz/Parking-System/internal/plate"
	"github.com/Mohammed-Mafaz/Parking-System/internal/service"
	"github.com/Mohammed-Mafaz/Parking-System/internal/slots"
)

// Perceiver is the perception collaborator (detector + OCR) for one
// camera. Implementations returning zero detections for a frame are the
// common case. A Perceiver that also implements io.Closer has its capture
// resource released after the worker drains.
type Perceiver interface {
	Perceive(ctx context.Context) ([]parking.Detection, error)
}

// Engine is the shared detection sink: one normalizer and aggregator
// instance feeding the session lifecycle and the slot tracker.
type Engine struct {
	normalizer *plate.Normalizer
	aggregator *consensus.Aggregator
	sessions   *service.SessionService
	tracker    *slots.Tracker
	log        zerolog.Logger
}

func NewEngine(n *plate.Normalizer, a *consensus.Aggregator, sessions *service.SessionService, tracker *slots.Tracker, log zerolog.Logger) *Engine {
	return &Engine{
		normalizer: n,
		aggregator: a,
		sessions:   sessions,
		tracker:    tracker,
		log:        log,
	}
}

// OnDetection feeds one raw candidate through normalization and
// consensus, dispatching by camera role once confirmed. A rejected or
// not-yet-confirmed candidate returns ("", false, nil): expected,
// frequent, and not an error.
func (e *Engine) OnDetection(ctx context.Context, cameraID string, role parking.CameraRole, det parking.Detection, at time.Time) (string, bool, error) {
	normalized, ok := e.normalizer.Normalize(det.Plate, det.Confidence)
	if !ok {
		return "", false, nil
	}

	conf, confirmed := e.aggregator.Observe(normalized, cameraID, at)
	if !confirmed {
		return "", false, nil
	}

	switch role {
	case parking.RoleEntrance:
		_, err := e.sessions.ConfirmEntry(ctx, conf.Plate, cameraID, at, rawPayload(det, role))
		if err != nil && !isLogicalConflict(err) {
			return conf.Plate, true, err
		}
	case parking.RoleExit:
		_, err := e.sessions.ConfirmExit(ctx, conf.Plate, cameraID, at, rawPayload(det, role))
		if err != nil && !isLogicalConflict(err) {
			return conf.Plate, true, err
		}
	case parking.RoleSection:
		if det.Location != nil && e.tracker != nil {
			e.tracker.Observe(ctx, conf.Plate, *det.Location, at)
		}
	}
	return conf.Plate, true, nil
}

// rawPayload captures the detection context that triggered a
// confirmation so the event ledger records it verbatim.
func rawPayload(det parking.Detection, role parking.CameraRole) map[string]interface{} {
	return map[string]interface{}{
		"raw_text":    det.Plate,
		"confidence":  det.Confidence,
		"camera_role": string(role),
	}
}

// Logical conflicts (already parked, nothing to exit) are the caller's
// signal, not pipeline failures; they are already logged by the service.
func isLogicalConflict(err error) bool {
	return errors.Is(err, service.ErrAlreadyParked) ||
		errors.Is(err, service.ErrNoOpenSession) ||
		errors.Is(err, service.ErrStaleTimestamp)
}

// Worker runs one camera's frame loop.
type Worker struct {
	CameraID string
	Role     parking.CameraRole
	Perceive Perceiver
	Interval time.Duration

	engine *Engine
	clock  func() time.Time
	log    zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewWorker(cameraID string, role parking.CameraRole, p Perceiver, interval time.Duration, engine *Engine, log zerolog.Logger) *Worker {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &Worker{
		CameraID: cameraID,
		Role:     role,
		Perceive: p,
		Interval: interval,
		engine:   engine,
		clock:    time.Now,
		log:      log.With().Str("camera_id", cameraID).Str("role", string(role)).Logger(),
	}
}

// Start launches the frame loop.
func (w *Worker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)
		w.run(ctx)
	}()
	w.log.Info().Msg("camera worker started")
}

func (w *Worker) run(ctx context.Context) {
	tick := time.NewTicker(w.Interval)
	defer tick.Stop()

	// Housekeeping runs on a coarser cadence than frames.
	housekeep := time.NewTicker(time.Second)
	defer housekeep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-housekeep.C:
			now := w.clock()
			w.engine.aggregator.EvictIdle(now)
			if w.Role == parking.RoleSection && w.engine.tracker != nil {
				w.engine.tracker.Sweep(ctx, now)
			}
		case <-tick.C:
			detections, err := w.Perceive.Perceive(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.log.Debug().Err(err).Msg("perception failed for frame")
				continue
			}
			now := w.clock()
			for _, det := range detections {
				// Confirmations in flight must complete even if Stop
				// cancels the loop mid-frame.
				if _, _, err := w.engine.OnDetection(context.WithoutCancel(ctx), w.CameraID, w.Role, det, now); err != nil {
					w.log.Error().Err(err).Msg("failed to process detection")
				}
			}
		}
	}
}

// Stop halts the frame loop, waits for in-flight confirmations to drain,
// then releases the capture resource. In-flight payment settlements are
// owned by the reconciler and deliberately outlive the worker.
func (w *Worker) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done

	if closer, ok := w.Perceive.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			w.log.Error().Err(err).Msg("failed to release capture resource")
		}
	}
	w.log.Info().Msg("camera worker stopped")
}
