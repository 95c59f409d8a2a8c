package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kursadbilgin/flight-watch/internal/domain"
	"github.com/kursadbilgin/flight-watch/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TriggerManualCheck starts an out-of-schedule poll of every Active flight and of Armed
// flights activating within one interval. Only one manual check runs at a time.
func (m *Monitor) TriggerManualCheck(ctx context.Context) error {
	if !m.manualRunning.CompareAndSwap(false, true) {
		m.metrics.IncManualCheck("conflict")
		return fmt.Errorf("%w: manual check already running", domain.ErrConflict)
	}

	correlationID, ok := observability.CorrelationIDFromContext(ctx)
	if !ok {
		correlationID = observability.NewCorrelationID()
	}
	runCtx := observability.WithCorrelationID(m.lifecycleContext(), correlationID)

	m.background.Add(1)
	go func() {
		defer m.background.Done()
		defer m.manualRunning.Store(false)

		checked := m.runManualCheck(runCtx)
		m.metrics.IncManualCheck("completed")
		observability.WithContextLogger(m.logger, runCtx).Info("manual check completed", zap.Int("flights", checked))
	}()

	m.metrics.IncManualCheck("started")
	return nil
}

func (m *Monitor) runManualCheck(ctx context.Context) int {
	now := m.now().UTC()
	interval := m.Interval()
	logger := observability.WithContextLogger(m.logger, ctx)

	var (
		checked atomic.Int64
		g       errgroup.Group
	)
	g.SetLimit(m.cfg.Workers)

	for _, fm := range m.snapshot() {
		if !eligibleForManualCheck(fm, now, interval) {
			continue
		}
		fm := fm
		g.Go(func() error {
			polled, err := m.evaluateManual(ctx, fm)
			if err != nil {
				logger.Debug("flight busy, skipped by manual check", zap.String("flightId", fm.id), zap.Error(err))
				return nil
			}
			if polled {
				checked.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return int(checked.Load())
}

func eligibleForManualCheck(fm *flightMonitor, now time.Time, interval time.Duration) bool {
	if fm.suspended.Load() || fm.pendingCancel() != "" {
		return false
	}

	switch fm.currentPhase() {
	case domain.PhaseActive:
		return true
	case domain.PhaseArmed:
		activatesAt := fm.flight().ScheduledDeparture.Add(-domain.ActivationLead)
		return activatesAt.Sub(now) <= interval
	default:
		return false
	}
}

// evaluateManual polls once without touching phase, LastPollAt or the failure counters.
func (m *Monitor) evaluateManual(ctx context.Context, fm *flightMonitor) (bool, error) {
	if !fm.mu.TryLock() {
		m.metrics.IncLockContention()
		return false, domain.ErrRaceDetected
	}
	defer fm.mu.Unlock()

	state := fm.state
	if state.Phase == domain.PhaseConcluded || state.Suspended || fm.pendingCancel() != "" || fm.reschedulePending() {
		return false, nil
	}

	before := digestOf(state)
	m.poll(ctx, fm, fm.flight(), state, m.now().UTC(), true)

	fm.mirror()
	if digestOf(state) != before {
		m.persist(ctx, state)
	}
	return true, nil
}
