package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")

	// ErrProviderUnavailable covers timeouts, 5xx, quota exhaustion and malformed provider responses.
	ErrProviderUnavailable = errors.New("flight status provider unavailable")
	// ErrFlightNotFound means the provider has no flight for the requested number and date.
	ErrFlightNotFound = errors.New("flight not found at provider")
	// ErrAmbiguousFlight means the provider matched more than one flight; a human has to pick.
	ErrAmbiguousFlight = errors.New("provider matched multiple flights")
	// ErrDeliveryFailed is reported per recipient when the messaging channel refuses a message.
	ErrDeliveryFailed = errors.New("message delivery failed")
	// ErrConfigurationInvalid is returned synchronously for out-of-bounds settings.
	ErrConfigurationInvalid = errors.New("invalid configuration")
	// ErrRaceDetected means another trigger currently owns the flight; skip and retry next tick.
	ErrRaceDetected = errors.New("flight is already being processed")
)

// FlightCandidate is one of several provider matches for a flight number and date.
type FlightCandidate struct {
	Ident              string
	Origin             string
	Destination        string
	ScheduledDeparture time.Time
}

// AmbiguousFlightError carries the provider candidates so an operator can resolve them.
type AmbiguousFlightError struct {
	FlightNumber string
	Candidates   []FlightCandidate
}

func (e *AmbiguousFlightError) Error() string {
	if e == nil {
		return "<nil>"
	}

	routes := make([]string, 0, len(e.Candidates))
	for _, c := range e.Candidates {
		routes = append(routes, fmt.Sprintf("%s %s-%s", c.Ident, c.Origin, c.Destination))
	}

	return fmt.Sprintf("%s: %s matched %d flights [%s]",
		ErrAmbiguousFlight.Error(), e.FlightNumber, len(e.Candidates), strings.Join(routes, ", "))
}

func (e *AmbiguousFlightError) Is(target error) bool {
	return target == ErrAmbiguousFlight
}
