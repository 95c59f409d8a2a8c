package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kursadbilgin/flight-watch/internal/domain"
	"github.com/kursadbilgin/flight-watch/internal/observability"
	"github.com/kursadbilgin/flight-watch/internal/provider"
	"github.com/kursadbilgin/flight-watch/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultTickInterval = time.Minute
	defaultGracePeriod  = 30 * time.Minute
	defaultLookback     = 24 * time.Hour
	defaultPollWorkers  = 4
	defaultRetryBase    = time.Minute
	defaultRetryJitter  = 30 * time.Second
	persistTimeout      = 5 * time.Second
)

type MonitorConfig struct {
	IntervalMinutes int
	// TickInterval is how often phases and reminders are evaluated.
	TickInterval time.Duration
	// GracePeriod keeps a flight Active after its latest known departure.
	GracePeriod time.Duration
	// Lookback bounds how far in the past departures are still listed.
	Lookback    time.Duration
	Workers     int
	RetryBase   time.Duration
	RetryJitter time.Duration
}

// MonitoringStatus is the snapshot served by the status endpoint.
type MonitoringStatus struct {
	ActiveFlightCount  int      `json:"activeFlightCount"`
	ArmedFlightCount   int      `json:"armedFlightCount"`
	IntervalMinutes    int      `json:"intervalMinutes"`
	SuspendedFlights   []string `json:"suspendedFlights"`
	ManualCheckRunning bool     `json:"manualCheckRunning"`
}

// Monitor owns the monitoring lifecycle of every flight in the arming window.
type Monitor struct {
	flights  repository.FlightStore
	states   repository.MonitoringRepository
	client   provider.FlightStatusClient
	notifier Notifier
	logger   *zap.Logger
	metrics  *observability.Metrics
	cfg      MonitorConfig

	intervalMu sync.RWMutex
	interval   time.Duration

	mu       sync.Mutex
	monitors map[string]*flightMonitor
	retired  map[string]struct{}
	runCtx   context.Context

	manualRunning atomic.Bool
	background    sync.WaitGroup

	now      func() time.Time
	randIntn func(int) int
}

func NewMonitor(
	flights repository.FlightStore,
	states repository.MonitoringRepository,
	client provider.FlightStatusClient,
	notifier Notifier,
	cfg MonitorConfig,
	logger *zap.Logger,
) (*Monitor, error) {
	if flights == nil {
		return nil, fmt.Errorf("flight store is required")
	}
	if states == nil {
		return nil, fmt.Errorf("monitoring repository is required")
	}
	if client == nil {
		return nil, fmt.Errorf("flight status client is required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}

	if cfg.IntervalMinutes == 0 {
		cfg.IntervalMinutes = domain.DefaultPollIntervalMinutes
	}
	if err := domain.ValidateIntervalMinutes(cfg.IntervalMinutes); err != nil {
		return nil, err
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGracePeriod
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = defaultLookback
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultPollWorkers
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = defaultRetryBase
	}
	if cfg.RetryJitter <= 0 {
		cfg.RetryJitter = defaultRetryJitter
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Monitor{
		flights:  flights,
		states:   states,
		client:   client,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		interval: time.Duration(cfg.IntervalMinutes) * time.Minute,
		monitors: make(map[string]*flightMonitor),
		retired:  make(map[string]struct{}),
		now:      time.Now,
		randIntn: rand.Intn,
	}, nil
}

func (m *Monitor) SetMetrics(metrics *observability.Metrics) {
	if m == nil {
		return
	}
	m.metrics = metrics
}

// Start runs an initial tick and then one tick per TickInterval until ctx is done.
func (m *Monitor) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	m.mu.Lock()
	m.runCtx = ctx
	m.mu.Unlock()

	if err := m.Tick(ctx); err != nil && ctx.Err() == nil {
		m.logger.Error("monitor initial tick failed", zap.Error(err))
	}

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				m.logger.Error("monitor tick failed", zap.Error(err))
			}
		}
	}
}

// Wait blocks until background manual checks have returned.
func (m *Monitor) Wait() {
	m.background.Wait()
}

// Tick reconciles tracked flights with the flight store and evaluates each of them once.
// When the store cannot be listed, flights already tracked are still evaluated from
// their last known records and nothing is retired; the listing error is returned after.
func (m *Monitor) Tick(ctx context.Context) error {
	ctx = observability.WithCorrelationID(ctx, observability.NewCorrelationID())
	now := m.now().UTC()
	logger := observability.WithContextLogger(m.logger, ctx)

	listed, refreshErr := m.refresh(ctx, now)
	if refreshErr != nil {
		logger.Warn("flight store unavailable, evaluating tracked flights only", zap.Error(refreshErr))
	}

	var g errgroup.Group
	g.SetLimit(m.cfg.Workers)
	for _, fm := range m.snapshot() {
		fm := fm
		g.Go(func() error {
			if err := m.evaluate(ctx, fm); err != nil {
				if errors.Is(err, domain.ErrRaceDetected) {
					logger.Debug("flight busy, skipping this tick", zap.String("flightId", fm.id))
					return nil
				}
				logger.Error("flight evaluation failed", zap.String("flightId", fm.id), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	if refreshErr == nil {
		m.retire(m.now().UTC(), listed)
	}
	m.publishGauges()
	return refreshErr
}

func (m *Monitor) refresh(ctx context.Context, now time.Time) (map[string]struct{}, error) {
	from := now.Add(-m.cfg.Lookback)
	to := now.Add(domain.ArmLead).Add(m.cfg.TickInterval)

	flights, err := m.flights.ListDepartingBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list flights departing between %s and %s: %w", from.Format(time.RFC3339), to.Format(time.RFC3339), err)
	}

	logger := observability.WithContextLogger(m.logger, ctx)
	listed := make(map[string]struct{}, len(flights))

	for _, flight := range flights {
		flight = flight.Normalize()
		if err := flight.Validate(); err != nil {
			logger.Warn("skipping invalid flight record", zap.String("flightId", flight.ID), zap.Error(err))
			continue
		}
		listed[flight.ID] = struct{}{}

		if fm := m.lookup(flight.ID); fm != nil {
			fm.setFlight(flight)
			continue
		}
		if m.isRetired(flight.ID) {
			continue
		}
		if _, err := m.track(ctx, flight); err != nil {
			fields := append(observability.FlightFields(flight.ID, flight.FlightNumber), zap.Error(err))
			logger.Error("failed to start monitoring flight", fields...)
		}
	}

	for _, fm := range m.snapshot() {
		if _, ok := listed[fm.id]; ok {
			continue
		}
		m.reconcileUnlisted(ctx, fm)
	}

	m.mu.Lock()
	for id := range m.retired {
		if _, ok := listed[id]; !ok {
			delete(m.retired, id)
		}
	}
	m.mu.Unlock()

	return listed, nil
}

func (m *Monitor) track(ctx context.Context, flight domain.Flight) (*flightMonitor, error) {
	state, err := m.states.Load(ctx, flight.ID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		state = domain.NewMonitoringState(flight.ID)
	case err != nil:
		return nil, fmt.Errorf("load monitoring state for %s: %w", flight.ID, err)
	}

	fm := newFlightMonitor(flight, state)

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.monitors[flight.ID]; ok {
		return existing, nil
	}
	m.monitors[flight.ID] = fm
	return fm, nil
}

// reconcileUnlisted refreshes a tracked flight that dropped out of the listing window.
func (m *Monitor) reconcileUnlisted(ctx context.Context, fm *flightMonitor) {
	flight, err := m.flights.GetByID(ctx, fm.id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		fm.requestCancel(domain.ConcludeDeletedUpstream)
	case err != nil:
		observability.WithContextLogger(m.logger, ctx).Warn("failed to refresh unlisted flight",
			zap.String("flightId", fm.id), zap.Error(err))
	default:
		fm.setFlight(flight.Normalize())
	}
}

// retire drops monitors with nothing left to do. Their persisted state stays for the janitor.
func (m *Monitor) retire(now time.Time, listed map[string]struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, fm := range m.monitors {
		if fm.retirable(now) {
			delete(m.monitors, id)
			if _, ok := listed[id]; ok {
				m.retired[id] = struct{}{}
			}
			continue
		}
		if _, ok := listed[id]; ok {
			continue
		}
		if fm.currentPhase() == domain.PhaseDormant || now.Before(fm.flight().ScheduledDeparture.Add(-domain.ArmLead)) {
			delete(m.monitors, id)
		}
	}
}

func (m *Monitor) publishGauges() {
	if m.metrics == nil {
		return
	}

	counts := make(map[domain.Phase]int, 4)
	for _, fm := range m.snapshot() {
		counts[fm.currentPhase()]++
	}
	for _, phase := range []domain.Phase{domain.PhaseDormant, domain.PhaseArmed, domain.PhaseActive, domain.PhaseConcluded} {
		m.metrics.SetMonitoredFlights(phase.String(), counts[phase])
	}
}

func (m *Monitor) Interval() time.Duration {
	m.intervalMu.RLock()
	defer m.intervalMu.RUnlock()
	return m.interval
}

// SetInterval changes the poll interval; it applies from the next evaluation of each flight.
func (m *Monitor) SetInterval(minutes int) error {
	if err := domain.ValidateIntervalMinutes(minutes); err != nil {
		return err
	}

	m.intervalMu.Lock()
	previous := m.interval
	m.interval = time.Duration(minutes) * time.Minute
	m.intervalMu.Unlock()

	m.logger.Info("poll interval changed",
		zap.Duration("previous", previous),
		zap.Int("intervalMinutes", minutes),
	)
	return nil
}

func (m *Monitor) GetStatus() MonitoringStatus {
	status := MonitoringStatus{
		IntervalMinutes:    int(m.Interval() / time.Minute),
		SuspendedFlights:   []string{},
		ManualCheckRunning: m.manualRunning.Load(),
	}

	for _, fm := range m.snapshot() {
		phase := fm.currentPhase()
		switch phase {
		case domain.PhaseActive:
			status.ActiveFlightCount++
		case domain.PhaseArmed:
			status.ArmedFlightCount++
		}
		if fm.suspended.Load() && phase != domain.PhaseConcluded {
			status.SuspendedFlights = append(status.SuspendedFlights, fm.id)
		}
	}
	sort.Strings(status.SuspendedFlights)

	return status
}

// CancelFlight concludes a flight that was cancelled or deleted upstream. A poll in flight
// for it finishes, but its result is discarded.
func (m *Monitor) CancelFlight(ctx context.Context, flightID string, reason string) error {
	id := strings.TrimSpace(flightID)
	if id == "" {
		return fmt.Errorf("%w: flight id is required", domain.ErrValidation)
	}

	fm := m.lookup(id)
	if fm == nil {
		return m.concludeUntracked(ctx, id, reason)
	}

	fm.requestCancel(reason)
	if !fm.mu.TryLock() {
		m.logger.Info("flight cancellation deferred to in-flight evaluation", zap.String("flightId", id), zap.String("reason", reason))
		return nil
	}
	defer fm.mu.Unlock()

	if m.conclude(ctx, fm.state, reason, m.now().UTC()) {
		fm.mirror()
		m.persist(ctx, fm.state)
	}
	return nil
}

// concludeUntracked persists a conclusion so the flight is never armed later.
func (m *Monitor) concludeUntracked(ctx context.Context, id string, reason string) error {
	state, err := m.states.Load(ctx, id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		state = domain.NewMonitoringState(id)
	case err != nil:
		return fmt.Errorf("load monitoring state for %s: %w", id, err)
	}

	if !m.conclude(ctx, state, reason, m.now().UTC()) {
		return nil
	}
	if err := m.states.SaveState(ctx, state); err != nil {
		return fmt.Errorf("save monitoring state for %s: %w", id, err)
	}
	return nil
}

// ResumeFlight lifts a suspension after an operator resolved an ambiguous match.
func (m *Monitor) ResumeFlight(ctx context.Context, flightID string) error {
	id := strings.TrimSpace(flightID)
	fm := m.lookup(id)
	if fm == nil {
		return fmt.Errorf("%w: flight %s is not monitored", domain.ErrNotFound, id)
	}

	if !fm.mu.TryLock() {
		return fmt.Errorf("%w: %w", domain.ErrConflict, domain.ErrRaceDetected)
	}
	defer fm.mu.Unlock()

	state := fm.state
	if state.Phase == domain.PhaseConcluded {
		return fmt.Errorf("%w: flight %s is concluded", domain.ErrConflict, id)
	}

	state.Suspended = false
	state.ConsecutiveFailures = 0
	state.NextRetryAt = time.Time{}
	fm.mirror()
	m.persist(ctx, state)

	m.logger.Info("flight monitoring resumed", zap.String("flightId", id))
	return nil
}

func (m *Monitor) conclude(ctx context.Context, state *domain.MonitoringState, reason string, now time.Time) bool {
	if !state.Conclude(reason, now) {
		return false
	}
	observability.WithContextLogger(m.logger, ctx).Info("flight monitoring concluded",
		zap.String("flightId", state.FlightID),
		zap.String("reason", reason),
	)
	return true
}

func (m *Monitor) persist(ctx context.Context, state *domain.MonitoringState) {
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := m.states.SaveState(persistCtx, state); err != nil {
		observability.WithContextLogger(m.logger, ctx).Error("failed to persist monitoring state",
			zap.String("flightId", state.FlightID),
			zap.Error(err),
		)
	}
}

// computeRetryDelay doubles RetryBase per consecutive failure, capped at the poll interval.
func (m *Monitor) computeRetryDelay(failures int) time.Duration {
	interval := m.Interval()
	delay := m.cfg.RetryBase
	for i := 1; i < failures && delay < interval; i++ {
		delay *= 2
	}
	if delay > interval {
		delay = interval
	}

	if m.cfg.RetryJitter > 0 {
		jitterMillis := int(m.cfg.RetryJitter / time.Millisecond)
		delay += time.Duration(m.randIntn(jitterMillis+1)) * time.Millisecond
	}
	return delay
}

func (m *Monitor) lookup(id string) *flightMonitor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.monitors[id]
}

func (m *Monitor) isRetired(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.retired[id]
	return ok
}

func (m *Monitor) snapshot() []*flightMonitor {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*flightMonitor, 0, len(m.monitors))
	for _, fm := range m.monitors {
		out = append(out, fm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (m *Monitor) lifecycleContext() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runCtx == nil {
		return context.Background()
	}
	return m.runCtx
}
