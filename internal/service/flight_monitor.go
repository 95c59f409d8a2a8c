package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kursadbilgin/flight-watch/internal/detector"
	"github.com/kursadbilgin/flight-watch/internal/domain"
	"github.com/kursadbilgin/flight-watch/internal/observability"
	"github.com/kursadbilgin/flight-watch/internal/provider"
	"github.com/kursadbilgin/flight-watch/internal/reminder"
	"go.uber.org/zap"
)

// flightMonitor serializes every trigger for one flight. state is only touched
// with mu held; the atomics mirror it for lock-free status reads.
type flightMonitor struct {
	id    string
	mu    sync.Mutex
	state *domain.MonitoringState

	current      atomic.Pointer[domain.Flight]
	cancelReason atomic.Pointer[string]
	phase        atomic.Pointer[domain.Phase]
	suspended    atomic.Bool

	dispatchMu   sync.Mutex
	stopDispatch context.CancelCauseFunc
}

var errCancelRequested = errors.New("flight cancellation requested")

func newFlightMonitor(flight domain.Flight, state *domain.MonitoringState) *flightMonitor {
	fm := &flightMonitor{id: flight.ID, state: state}
	fm.setFlight(flight)
	fm.mirror()
	return fm
}

func (fm *flightMonitor) flight() domain.Flight {
	return *fm.current.Load()
}

func (fm *flightMonitor) setFlight(flight domain.Flight) {
	fm.current.Store(&flight)
}

// requestCancel is safe to call while another goroutine holds mu. A fan-out in
// progress stops before its next recipient.
func (fm *flightMonitor) requestCancel(reason string) {
	fm.cancelReason.CompareAndSwap(nil, &reason)

	fm.dispatchMu.Lock()
	defer fm.dispatchMu.Unlock()
	if fm.stopDispatch != nil {
		fm.stopDispatch(errCancelRequested)
	}
}

// dispatchContext derives the context of one fan-out; it is cancelled as soon as a
// cancellation of the flight is requested. Must be called with mu held.
func (fm *flightMonitor) dispatchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)

	fm.dispatchMu.Lock()
	fm.stopDispatch = cancel
	fm.dispatchMu.Unlock()

	if fm.pendingCancel() != "" {
		cancel(errCancelRequested)
	}

	return ctx, func() {
		fm.dispatchMu.Lock()
		fm.stopDispatch = nil
		fm.dispatchMu.Unlock()
		cancel(nil)
	}
}

func (fm *flightMonitor) pendingCancel() string {
	if reason := fm.cancelReason.Load(); reason != nil {
		return *reason
	}
	return ""
}

func (fm *flightMonitor) currentPhase() domain.Phase {
	if phase := fm.phase.Load(); phase != nil {
		return *phase
	}
	return domain.PhaseDormant
}

// mirror must be called with mu held.
func (fm *flightMonitor) mirror() {
	phase := fm.state.Phase
	fm.phase.Store(&phase)
	fm.suspended.Store(fm.state.Suspended)
}

func (fm *flightMonitor) retirable(now time.Time) bool {
	if fm.currentPhase() != domain.PhaseConcluded {
		return false
	}
	if !fm.mu.TryLock() {
		return false
	}
	defer fm.mu.Unlock()

	if !remindersAllowed(fm, fm.state) {
		return true
	}
	return !reminder.For(fm.flight()).Pending(fm.state, now)
}

// remindersAllowed stops reminders once a flight was cancelled or removed.
func remindersAllowed(fm *flightMonitor, state *domain.MonitoringState) bool {
	if fm.pendingCancel() != "" {
		return false
	}
	return state.Phase != domain.PhaseConcluded || state.ConcludeReason == domain.ConcludeDeparted
}

// reschedulePending reports a departure change the next evaluation has not applied yet.
// It must be called with mu held.
func (fm *flightMonitor) reschedulePending() bool {
	recorded := fm.state.ScheduledDeparture
	return !recorded.IsZero() && !recorded.Equal(fm.flight().ScheduledDeparture)
}

type stateDigest struct {
	phase     domain.Phase
	departure time.Time
	status    *domain.CanonicalStatus
	lastPoll  time.Time
	failures  int
	nextRetry time.Time
	suspended bool
	concluded time.Time
}

func digestOf(state *domain.MonitoringState) stateDigest {
	return stateDigest{
		phase:     state.Phase,
		departure: state.ScheduledDeparture,
		status:    state.LastPolledStatus,
		lastPoll:  state.LastPollAt,
		failures:  state.ConsecutiveFailures,
		nextRetry: state.NextRetryAt,
		suspended: state.Suspended,
		concluded: state.ConcludedAt,
	}
}

var phaseRank = map[domain.Phase]int{
	domain.PhaseDormant:   0,
	domain.PhaseArmed:     1,
	domain.PhaseActive:    2,
	domain.PhaseConcluded: 3,
}

// evaluate is the scheduled evaluation of one flight: lifecycle, reminders, then a poll when due.
func (m *Monitor) evaluate(ctx context.Context, fm *flightMonitor) error {
	if !fm.mu.TryLock() {
		m.metrics.IncLockContention()
		return domain.ErrRaceDetected
	}
	defer fm.mu.Unlock()

	now := m.now().UTC()
	flight := fm.flight()
	state := fm.state
	before := digestOf(state)

	m.followSchedule(ctx, flight, state, now)
	m.advancePhase(ctx, fm, flight, state, now)
	fm.mirror()

	if remindersAllowed(fm, state) {
		m.sendReminders(ctx, fm, flight, state, now)
	}
	if reason := fm.pendingCancel(); reason != "" {
		m.conclude(ctx, state, reason, now)
	}

	if state.Phase == domain.PhaseActive && !state.Suspended && m.pollDue(state, now) {
		m.poll(ctx, fm, flight, state, now, false)
	}

	fm.mirror()
	if digestOf(state) != before {
		m.persist(ctx, state)
	}
	return nil
}

// followSchedule applies a departure change from the flight store. A rescheduled flight is
// placed in the phase its new departure calls for, which may be an earlier one, and is
// polled and reminded as if it were new. Concluded flights stay concluded.
func (m *Monitor) followSchedule(ctx context.Context, flight domain.Flight, state *domain.MonitoringState, now time.Time) {
	if state.Phase == domain.PhaseConcluded {
		state.ScheduledDeparture = flight.ScheduledDeparture
		return
	}

	previous := state.ScheduledDeparture
	if !state.Reschedule(flight.ScheduledDeparture) {
		return
	}

	logger := observability.WithContextLogger(m.logger, ctx).With(observability.FlightFields(flight.ID, flight.FlightNumber)...)
	if err := m.clearReminders(ctx, flight.ID); err != nil {
		logger.Error("failed to clear reminder ledger of rescheduled flight", zap.Error(err))
	}

	next := m.phaseFor(flight, state, now)
	logger.Info("flight rescheduled",
		zap.Time("previousDeparture", previous),
		zap.Time("scheduledDeparture", flight.ScheduledDeparture),
		zap.String("from", state.Phase.String()),
		zap.String("to", next.String()),
	)
	if next != domain.PhaseConcluded {
		state.Phase = next
	}
}

func (m *Monitor) clearReminders(ctx context.Context, flightID string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	return m.states.ClearReminders(ctx, flightID)
}

func (m *Monitor) advancePhase(ctx context.Context, fm *flightMonitor, flight domain.Flight, state *domain.MonitoringState, now time.Time) {
	if state.Phase == domain.PhaseConcluded {
		return
	}
	if reason := fm.pendingCancel(); reason != "" {
		m.conclude(ctx, state, reason, now)
		return
	}
	if flight.Cancelled {
		m.conclude(ctx, state, domain.ConcludeCancelledUpstream, now)
		return
	}

	next := m.phaseFor(flight, state, now)
	if phaseRank[next] <= phaseRank[state.Phase] {
		return
	}
	if next == domain.PhaseConcluded {
		m.conclude(ctx, state, domain.ConcludeDeparted, now)
		return
	}

	observability.WithContextLogger(m.logger, ctx).Info("flight phase changed",
		zap.String("flightId", flight.ID),
		zap.String("from", state.Phase.String()),
		zap.String("to", next.String()),
	)
	state.Phase = next
}

func (m *Monitor) phaseFor(flight domain.Flight, state *domain.MonitoringState, now time.Time) domain.Phase {
	departure := flight.ScheduledDeparture
	latest := departure
	if state.LastPolledStatus != nil {
		if observed := state.LastPolledStatus.LatestDeparture(); !observed.IsZero() {
			latest = observed
		}
	}

	switch {
	case !now.Before(latest.Add(m.cfg.GracePeriod)):
		return domain.PhaseConcluded
	case !now.Before(departure.Add(-domain.ActivationLead)):
		return domain.PhaseActive
	case !now.Before(departure.Add(-domain.ArmLead)):
		return domain.PhaseArmed
	default:
		return domain.PhaseDormant
	}
}

func (m *Monitor) sendReminders(ctx context.Context, fm *flightMonitor, flight domain.Flight, state *domain.MonitoringState, now time.Time) {
	for _, timer := range reminder.For(flight).Due(state, now) {
		dispatchCtx, release := fm.dispatchContext(ctx)
		result := m.notifier.DispatchReminder(dispatchCtx, flight, state, timer)
		release()

		if fm.pendingCancel() != "" {
			return
		}
		if result.AllFailed() {
			observability.WithContextLogger(m.logger, ctx).Warn("reminder not delivered, retrying next tick",
				zap.String("flightId", flight.ID),
				zap.String("kind", timer.Kind.String()),
			)
		}
	}
}

func (m *Monitor) pollDue(state *domain.MonitoringState, now time.Time) bool {
	if state.ConsecutiveFailures > 0 && !state.NextRetryAt.IsZero() {
		return !now.Before(state.NextRetryAt)
	}
	if state.LastPollAt.IsZero() {
		return true
	}
	return now.Sub(state.LastPollAt) >= m.Interval()
}

// poll queries the provider and applies the result. Manual polls leave the schedule alone.
func (m *Monitor) poll(ctx context.Context, fm *flightMonitor, flight domain.Flight, state *domain.MonitoringState, now time.Time, manual bool) {
	status, err := m.client.Query(ctx, flight.FlightNumber, flight.ScheduledDeparture)

	if !manual {
		state.LastPollAt = now
	}

	if reason := fm.pendingCancel(); reason != "" {
		observability.WithContextLogger(m.logger, ctx).Info("discarding poll result of cancelled flight",
			zap.String("flightId", flight.ID),
		)
		m.conclude(ctx, state, reason, m.now().UTC())
		return
	}

	if err != nil {
		m.handlePollError(ctx, flight, state, err, now, manual)
		return
	}

	if !manual {
		state.ConsecutiveFailures = 0
		state.NextRetryAt = time.Time{}
	}
	m.applyStatus(ctx, fm, flight, state, *status, now)
}

func (m *Monitor) applyStatus(ctx context.Context, fm *flightMonitor, flight domain.Flight, state *domain.MonitoringState, status domain.CanonicalStatus, now time.Time) {
	logger := observability.WithContextLogger(m.logger, ctx).With(observability.FlightFields(flight.ID, flight.FlightNumber)...)

	change := detector.Classify(state.LastPolledStatus, status)
	if change.IsReportable() {
		m.metrics.IncChangeDetected(change.Kind.String())
		dispatchCtx, release := fm.dispatchContext(ctx)
		result := m.notifier.DispatchChange(dispatchCtx, flight, state, change)
		release()

		if reason := fm.pendingCancel(); reason != "" {
			logger.Info("flight cancelled during fan-out, remaining recipients discarded",
				zap.String("kind", change.Kind.String()),
				zap.Int("sent", result.Sent),
			)
			m.conclude(ctx, state, reason, m.now().UTC())
			return
		}
		if result.AllFailed() {
			logger.Warn("change not delivered, keeping previous baseline", zap.String("kind", change.Kind.String()))
			return
		}
	}

	state.LastPolledStatus = &status

	if status.Cancelled {
		m.conclude(ctx, state, domain.ConcludeCancelledByCarrier, now)
	}
}

func (m *Monitor) handlePollError(ctx context.Context, flight domain.Flight, state *domain.MonitoringState, err error, now time.Time, manual bool) {
	logger := observability.WithContextLogger(m.logger, ctx).With(observability.FlightFields(flight.ID, flight.FlightNumber)...)

	if ctx.Err() != nil {
		logger.Debug("poll interrupted", zap.Error(err))
		return
	}

	var ambiguous *domain.AmbiguousFlightError
	if errors.As(err, &ambiguous) || errors.Is(err, domain.ErrAmbiguousFlight) {
		state.Suspended = true
		candidates := 0
		if ambiguous != nil {
			candidates = len(ambiguous.Candidates)
		}
		logger.Warn("provider matched several flights, monitoring suspended until resumed",
			zap.Int("candidates", candidates),
			zap.Error(err),
		)
		return
	}

	if manual {
		logger.Warn("manual poll failed", zap.Error(err))
		return
	}

	state.ConsecutiveFailures++
	delay := m.Interval()
	if provider.IsTransient(err) {
		delay = m.computeRetryDelay(state.ConsecutiveFailures)
	}
	state.NextRetryAt = now.Add(delay)

	logger.Warn("poll failed",
		zap.Int("consecutiveFailures", state.ConsecutiveFailures),
		zap.Time("nextRetryAt", state.NextRetryAt),
		zap.Bool("transient", provider.IsTransient(err)),
		zap.Error(err),
	)
}
