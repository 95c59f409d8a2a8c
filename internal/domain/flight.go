package domain

import (
	"fmt"
	"strings"
	"time"
)

// Flight is the read-only flight record owned by the surrounding application.
type Flight struct {
	ID                 string
	FlightNumber       string
	ScheduledDeparture time.Time
	ScheduledArrival   time.Time
	Origin             string
	Destination        string
	PassengerIDs       []string
	PickupVolunteerID  *string
	DropoffVolunteerID *string
	Cancelled          bool
}

// Normalize returns a copy with UTC instants and upper-case identifiers.
func (f Flight) Normalize() Flight {
	f.FlightNumber = NormalizeFlightNumber(f.FlightNumber)
	f.Origin = NormalizeAirportCode(f.Origin)
	f.Destination = NormalizeAirportCode(f.Destination)
	f.ScheduledDeparture = f.ScheduledDeparture.UTC()
	f.ScheduledArrival = f.ScheduledArrival.UTC()
	f.PickupVolunteerID = normalizeOptionalID(f.PickupVolunteerID)
	f.DropoffVolunteerID = normalizeOptionalID(f.DropoffVolunteerID)
	return f
}

func (f Flight) Validate() error {
	if strings.TrimSpace(f.ID) == "" {
		return fmt.Errorf("%w: flight id is required", ErrValidation)
	}
	if strings.TrimSpace(f.FlightNumber) == "" {
		return fmt.Errorf("%w: flight number is required", ErrValidation)
	}
	if f.ScheduledDeparture.IsZero() {
		return fmt.Errorf("%w: scheduled departure is required", ErrValidation)
	}
	return nil
}

// Airports returns the distinct non-empty origin and destination codes.
func (f Flight) Airports() []string {
	codes := make([]string, 0, 2)
	for _, code := range []string{f.Origin, f.Destination} {
		code = NormalizeAirportCode(code)
		if code == "" {
			continue
		}
		if len(codes) == 1 && codes[0] == code {
			continue
		}
		codes = append(codes, code)
	}
	return codes
}

// Route renders "SFO→JFK" style labels for messages and logs.
func (f Flight) Route() string {
	origin, destination := f.Origin, f.Destination
	if origin == "" {
		origin = "?"
	}
	if destination == "" {
		destination = "?"
	}
	return origin + "→" + destination
}

// Duration tolerates zero or slightly negative values; ordering is validated upstream.
func (f Flight) Duration() time.Duration {
	if f.ScheduledArrival.IsZero() {
		return 0
	}
	return f.ScheduledArrival.Sub(f.ScheduledDeparture)
}

// Passenger is a traveller on one or more flights.
type Passenger struct {
	ID     string
	Name   string
	ChatID string
}

// Volunteer drives a passenger to (dropoff) or from (pickup) the airport.
type Volunteer struct {
	ID     string
	Name   string
	ChatID string
}

// DashboardUser is an operator scoped to a set of airports.
type DashboardUser struct {
	ID            string
	Name          string
	ChatID        string
	AirportAccess []string
}

// HasAccessTo reports whether the user's airport list intersects codes.
func (u DashboardUser) HasAccessTo(codes ...string) bool {
	for _, granted := range u.AirportAccess {
		granted = NormalizeAirportCode(granted)
		if granted == "" {
			continue
		}
		for _, code := range codes {
			if granted == NormalizeAirportCode(code) {
				return true
			}
		}
	}
	return false
}

func NormalizeAirportCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NormalizeFlightNumber strips whitespace so "ua 123" and "UA123" compare equal.
func NormalizeFlightNumber(number string) string {
	return strings.ToUpper(strings.Join(strings.Fields(number), ""))
}

func normalizeOptionalID(id *string) *string {
	if id == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*id)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
