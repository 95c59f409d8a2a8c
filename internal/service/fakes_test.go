package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/flight-watch/internal/domain"
	"github.com/kursadbilgin/flight-watch/internal/provider"
	"go.uber.org/zap"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start.UTC()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeFlightStore struct {
	mu      sync.Mutex
	flights []domain.Flight

	listFn    func(ctx context.Context, from, to time.Time) ([]domain.Flight, error)
	getByIDFn func(ctx context.Context, id string) (*domain.Flight, error)
}

func (f *fakeFlightStore) set(flights ...domain.Flight) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flights = flights
}

func (f *fakeFlightStore) ListDepartingBetween(ctx context.Context, from, to time.Time) ([]domain.Flight, error) {
	if f.listFn != nil {
		return f.listFn(ctx, from, to)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Flight(nil), f.flights...), nil
}

func (f *fakeFlightStore) GetByID(ctx context.Context, id string) (*domain.Flight, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, flight := range f.flights {
		if flight.ID == id {
			flight := flight
			return &flight, nil
		}
	}
	return nil, domain.ErrNotFound
}

// fakeMonitoringRepo keeps state in memory unless a fn overrides the call.
type fakeMonitoringRepo struct {
	mu        sync.Mutex
	states    map[string]*domain.MonitoringState
	events    map[string]int
	reminders map[string]int
	cleared   map[string]int
	saves     int

	loadFn  func(ctx context.Context, flightID string) (*domain.MonitoringState, error)
	saveFn  func(ctx context.Context, state *domain.MonitoringState) error
	purgeFn func(ctx context.Context, cutoff time.Time) (int64, error)
}

func newFakeMonitoringRepo() *fakeMonitoringRepo {
	return &fakeMonitoringRepo{
		states:    make(map[string]*domain.MonitoringState),
		events:    make(map[string]int),
		reminders: make(map[string]int),
		cleared:   make(map[string]int),
	}
}

func (f *fakeMonitoringRepo) Load(ctx context.Context, flightID string) (*domain.MonitoringState, error) {
	if f.loadFn != nil {
		return f.loadFn(ctx, flightID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.states[flightID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return state.Clone(), nil
}

func (f *fakeMonitoringRepo) SaveState(ctx context.Context, state *domain.MonitoringState) error {
	if f.saveFn != nil {
		return f.saveFn(ctx, state)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	f.states[state.FlightID] = state.Clone()
	return nil
}

func (f *fakeMonitoringRepo) RecordEvent(ctx context.Context, flightID string, key domain.EventKey, sentAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := flightID + "/" + key.String()
	f.events[id]++
	return f.events[id] == 1, nil
}

func (f *fakeMonitoringRepo) RecordReminder(ctx context.Context, flightID string, kind domain.ReminderKind, sentAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := flightID + "/" + kind.String()
	f.reminders[id]++
	return f.reminders[id] == 1, nil
}

func (f *fakeMonitoringRepo) ClearReminders(ctx context.Context, flightID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared[flightID]++
	for id := range f.reminders {
		if strings.HasPrefix(id, flightID+"/") {
			delete(f.reminders, id)
		}
	}
	return nil
}

func (f *fakeMonitoringRepo) clearCount(flightID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cleared[flightID]
}

func (f *fakeMonitoringRepo) PurgeConcludedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if f.purgeFn != nil {
		return f.purgeFn(ctx, cutoff)
	}
	return 0, nil
}

func (f *fakeMonitoringRepo) stored(flightID string) *domain.MonitoringState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[flightID].Clone()
}

func (f *fakeMonitoringRepo) eventRows(flightID string, key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[flightID+"/"+key]
}

type fakeDirectory struct {
	passengers map[string]domain.Passenger
	volunteers map[string]domain.Volunteer
	dashboard  []domain.DashboardUser

	passengersFn func(ctx context.Context, ids []string) ([]domain.Passenger, error)
	volunteerFn  func(ctx context.Context, id string) (*domain.Volunteer, error)
	dashboardFn  func(ctx context.Context, codes []string) ([]domain.DashboardUser, error)
}

func (f *fakeDirectory) PassengersByIDs(ctx context.Context, ids []string) ([]domain.Passenger, error) {
	if f.passengersFn != nil {
		return f.passengersFn(ctx, ids)
	}
	out := make([]domain.Passenger, 0, len(ids))
	for _, id := range ids {
		if p, ok := f.passengers[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeDirectory) VolunteerByID(ctx context.Context, id string) (*domain.Volunteer, error) {
	if f.volunteerFn != nil {
		return f.volunteerFn(ctx, id)
	}
	v, ok := f.volunteers[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &v, nil
}

func (f *fakeDirectory) DashboardUsersForAirports(ctx context.Context, codes []string) ([]domain.DashboardUser, error) {
	if f.dashboardFn != nil {
		return f.dashboardFn(ctx, codes)
	}
	return f.dashboard, nil
}

type sentMessage struct {
	RecipientID string
	Text        string
}

type fakeMessenger struct {
	mu     sync.Mutex
	sent   []sentMessage
	sendFn func(ctx context.Context, recipientID string, text string) error
}

func (f *fakeMessenger) Name() string { return "fake" }

func (f *fakeMessenger) SendMessage(ctx context.Context, recipientID string, text string) error {
	if f.sendFn != nil {
		if err := f.sendFn(ctx, recipientID, text); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{RecipientID: recipientID, Text: text})
	return nil
}

// matching returns the recipients of messages containing substr, in send order.
func (f *fakeMessenger) matching(substr string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0)
	for _, msg := range f.sent {
		if strings.Contains(msg.Text, substr) {
			out = append(out, msg.RecipientID)
		}
	}
	return out
}

type fakeStatusClient struct {
	mu    sync.Mutex
	calls []time.Time
	clock *testClock

	queryFn func(ctx context.Context, flightNumber string, departure time.Time) (*domain.CanonicalStatus, error)
}

var _ provider.FlightStatusClient = (*fakeStatusClient)(nil)

func (f *fakeStatusClient) Query(ctx context.Context, flightNumber string, departure time.Time) (*domain.CanonicalStatus, error) {
	f.mu.Lock()
	if f.clock != nil {
		f.calls = append(f.calls, f.clock.Now())
	} else {
		f.calls = append(f.calls, time.Time{})
	}
	f.mu.Unlock()

	if f.queryFn != nil {
		return f.queryFn(ctx, flightNumber, departure)
	}
	return &domain.CanonicalStatus{FlightNumber: flightNumber, ScheduledDeparture: departure}, nil
}

func (f *fakeStatusClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeStatusClient) callTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.calls...)
}

func delayedStatus(flightNumber string, departure time.Time, minutes int) *domain.CanonicalStatus {
	estimated := departure.Add(time.Duration(minutes) * time.Minute)
	return &domain.CanonicalStatus{
		FlightNumber:       flightNumber,
		ScheduledDeparture: departure,
		EstimatedDeparture: &estimated,
		DelayMinutes:       minutes,
	}
}

func strPtr(s string) *string { return &s }

// monitorFixture wires a Monitor to in-memory collaborators and a real Dispatcher.
type monitorFixture struct {
	clock     *testClock
	store     *fakeFlightStore
	repo      *fakeMonitoringRepo
	directory *fakeDirectory
	messenger *fakeMessenger
	client    *fakeStatusClient
	monitor   *Monitor
}

var fixtureStart = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

func newMonitorFixture(t testing.TB, flights ...domain.Flight) *monitorFixture {
	clock := newTestClock(fixtureStart)
	store := &fakeFlightStore{}
	store.set(flights...)

	fx := &monitorFixture{
		clock: clock,
		store: store,
		repo:  newFakeMonitoringRepo(),
		directory: &fakeDirectory{
			passengers: map[string]domain.Passenger{
				"p-1": {ID: "p-1", Name: "Ada", ChatID: "chat-p1"},
			},
			volunteers: map[string]domain.Volunteer{
				"v-pickup":  {ID: "v-pickup", Name: "Bo", ChatID: "chat-v1"},
				"v-dropoff": {ID: "v-dropoff", Name: "Cy", ChatID: "chat-v2"},
			},
			dashboard: []domain.DashboardUser{
				{ID: "d-1", Name: "Ops", ChatID: "chat-d1", AirportAccess: []string{"SFO"}},
			},
		},
		messenger: &fakeMessenger{},
		client:    &fakeStatusClient{clock: clock},
	}

	dispatcher, err := NewDispatcher(fx.directory, fx.repo, fx.messenger, time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	dispatcher.now = clock.Now

	monitor, err := NewMonitor(store, fx.repo, fx.client, dispatcher, MonitorConfig{
		IntervalMinutes: 30,
		TickInterval:    time.Minute,
		GracePeriod:     30 * time.Minute,
		Workers:         4,
		RetryBase:       time.Minute,
		RetryJitter:     time.Second,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewMonitor() error = %v", err)
	}
	monitor.now = clock.Now
	monitor.randIntn = func(int) int { return 0 }
	fx.monitor = monitor

	return fx
}

func (fx *monitorFixture) tick(t testing.TB) {
	if err := fx.monitor.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
}

func (fx *monitorFixture) phase(id string) domain.Phase {
	fm := fx.monitor.lookup(id)
	if fm == nil {
		return ""
	}
	return fm.currentPhase()
}

// testFlight departs from SFO at departure with a passenger and a pickup volunteer.
func testFlight(id string, departure time.Time) domain.Flight {
	return domain.Flight{
		ID:                 id,
		FlightNumber:       "UA100",
		ScheduledDeparture: departure,
		ScheduledArrival:   departure.Add(5 * time.Hour),
		Origin:             "SFO",
		Destination:        "JFK",
		PassengerIDs:       []string{"p-1"},
		PickupVolunteerID:  strPtr("v-pickup"),
	}
}
