package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestFlightNormalize(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("PST", -8*3600)
	blank := "  "
	volunteer := " v-1 "
	f := Flight{
		ID:                 "f-1",
		FlightNumber:       " ua 100 ",
		Origin:             "sfo",
		Destination:        " jfk",
		ScheduledDeparture: time.Date(2026, 3, 1, 8, 0, 0, 0, loc),
		PickupVolunteerID:  &blank,
		DropoffVolunteerID: &volunteer,
	}.Normalize()

	if f.FlightNumber != "UA100" {
		t.Fatalf("FlightNumber = %q, want UA100", f.FlightNumber)
	}
	if f.Route() != "SFO→JFK" {
		t.Fatalf("Route() = %q, want SFO→JFK", f.Route())
	}
	if f.ScheduledDeparture.Location() != time.UTC {
		t.Fatalf("ScheduledDeparture location = %v, want UTC", f.ScheduledDeparture.Location())
	}
	if f.PickupVolunteerID != nil {
		t.Fatalf("PickupVolunteerID = %q, want nil", *f.PickupVolunteerID)
	}
	if f.DropoffVolunteerID == nil || *f.DropoffVolunteerID != "v-1" {
		t.Fatalf("DropoffVolunteerID = %v, want v-1", f.DropoffVolunteerID)
	}
}

func TestFlightValidate(t *testing.T) {
	t.Parallel()

	err := Flight{ID: "f-1"}.Validate()
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Validate() error = %v, want ErrValidation", err)
	}

	err = Flight{ID: "f-1", FlightNumber: "UA100", ScheduledDeparture: time.Now()}.Validate()
	if err != nil {
		t.Fatalf("Validate() unexpected error = %v", err)
	}
}

func TestDashboardUserHasAccessTo(t *testing.T) {
	t.Parallel()

	user := DashboardUser{ID: "d-1", AirportAccess: []string{"sfo"}}
	if !user.HasAccessTo("JFK", "SFO") {
		t.Fatal("HasAccessTo(JFK, SFO) = false, want true")
	}
	if user.HasAccessTo("LAX") {
		t.Fatal("HasAccessTo(LAX) = true, want false")
	}
}

func TestAmbiguousFlightError(t *testing.T) {
	t.Parallel()

	err := &AmbiguousFlightError{
		FlightNumber: "UA100",
		Candidates: []FlightCandidate{
			{Ident: "UAL100", Origin: "SFO", Destination: "JFK"},
			{Ident: "UAL100", Origin: "ORD", Destination: "LHR"},
		},
	}
	if !errors.Is(err, ErrAmbiguousFlight) {
		t.Fatal("errors.Is(err, ErrAmbiguousFlight) = false, want true")
	}
	if !strings.Contains(err.Error(), "ORD") {
		t.Fatalf("Error() = %q, want candidate routes listed", err.Error())
	}
}
