package repository

import (
	"testing"
	"time"

	"github.com/kursadbilgin/flight-watch/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
)

func TestFlightModelToDomainNormalizes(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("CET", 3600)
	empty := ""
	model := &FlightModel{
		ID:                 "f-1",
		FlightNumber:       "ua 100",
		ScheduledDeparture: time.Date(2026, 3, 10, 19, 0, 0, 0, loc),
		Origin:             "sfo",
		Destination:        "jfk",
		PassengerIDs:       []string{"p-1", "p-2"},
		PickupVolunteerID:  &empty,
	}

	flight := flightModelToDomain(model)

	if flight.FlightNumber != "UA100" || flight.Origin != "SFO" {
		t.Fatalf("flight = %+v, want normalized number and airport", flight)
	}
	if flight.ScheduledDeparture.Location() != time.UTC {
		t.Fatalf("ScheduledDeparture location = %v, want UTC", flight.ScheduledDeparture.Location())
	}
	if flight.PickupVolunteerID != nil {
		t.Fatal("PickupVolunteerID should be nil for empty ids")
	}

	model.PassengerIDs[0] = "mutated"
	if flight.PassengerIDs[0] != "p-1" {
		t.Fatal("PassengerIDs should not alias the model slice")
	}
}

func TestStateModelRoundTripKeepsLedgers(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	state := domain.NewMonitoringState("f-1")
	state.Phase = domain.PhaseActive
	state.ScheduledDeparture = now.Add(4 * time.Hour)
	state.LastPollAt = now
	state.LastPolledStatus = &domain.CanonicalStatus{FlightNumber: "UA100", DelayMinutes: 20}

	model := stateModelFromDomain(state)
	if model.NextRetryAt != nil {
		t.Fatal("zero NextRetryAt should persist as NULL")
	}

	loaded := stateModelToDomain(model,
		[]SentEventModel{{FlightID: "f-1", Kind: domain.ChangeDelay, Fingerprint: "DELAY:1:1/A1", SentAt: now}},
		[]SentReminderModel{{FlightID: "f-1", Kind: domain.ReminderCheckIn24h, SentAt: now}},
	)

	if loaded.Phase != domain.PhaseActive || !loaded.LastPollAt.Equal(now) {
		t.Fatalf("loaded = %+v, want active phase and poll time", loaded)
	}
	if !loaded.ScheduledDeparture.Equal(now.Add(4 * time.Hour)) {
		t.Fatalf("ScheduledDeparture = %v, want %v", loaded.ScheduledDeparture, now.Add(4*time.Hour))
	}
	if !loaded.HasSentEvent(domain.EventKey{Kind: domain.ChangeDelay, Fingerprint: "DELAY:1:1/A1"}) {
		t.Fatal("loaded state is missing the sent event")
	}
	if !loaded.HasSentReminder(domain.ReminderCheckIn24h) {
		t.Fatal("loaded state is missing the sent reminder")
	}
}

func TestFilterDashboardUsers(t *testing.T) {
	t.Parallel()

	models := []DashboardUserModel{
		{ID: "d-1", ChatID: "1", AirportAccess: []string{"SFO"}},
		{ID: "d-2", ChatID: "2", AirportAccess: []string{"LAX"}},
		{ID: "d-3", ChatID: "3", AirportAccess: []string{"lax", "jfk"}},
	}

	users := filterDashboardUsers(models, []string{"SFO", "JFK"})
	if len(users) != 2 || users[0].ID != "d-1" || users[1].ID != "d-3" {
		t.Fatalf("filterDashboardUsers() = %+v, want d-1 and d-3", users)
	}
}

func TestFlightDocumentDecode(t *testing.T) {
	t.Parallel()

	dep := time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)
	raw, err := bson.Marshal(bson.M{
		"_id":                "f-1",
		"flightNumber":       "dl 200",
		"scheduledDeparture": dep,
		"origin":             "atl",
		"passengerIds":       bson.A{"p-1"},
		"dropoffVolunteerId": "v-1",
	})
	if err != nil {
		t.Fatalf("bson.Marshal() error = %v", err)
	}

	var doc flightDocument
	if err := bson.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("bson.Unmarshal() error = %v", err)
	}

	flight := doc.toDomain()
	if flight.FlightNumber != "DL200" || flight.Origin != "ATL" {
		t.Fatalf("flight = %+v, want normalized fields", flight)
	}
	if flight.DropoffVolunteerID == nil || *flight.DropoffVolunteerID != "v-1" {
		t.Fatalf("DropoffVolunteerID = %v, want v-1", flight.DropoffVolunteerID)
	}
	if !flight.ScheduledDeparture.Equal(dep) {
		t.Fatalf("ScheduledDeparture = %v, want %v", flight.ScheduledDeparture, dep)
	}
}

func TestDepartingBetweenFilter(t *testing.T) {
	t.Parallel()

	from := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	filter := departingBetweenFilter(from, from.Add(24*time.Hour))

	window, ok := filter["scheduledDeparture"].(bson.M)
	if !ok {
		t.Fatalf("filter = %v, want scheduledDeparture range", filter)
	}
	if got, _ := window["$gte"].(time.Time); !got.Equal(from) {
		t.Fatalf("$gte = %v, want %v", window["$gte"], from)
	}
}
