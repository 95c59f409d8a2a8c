package domain

import (
	"strings"
	"time"
)

// CanonicalStatus is a provider-independent flight status snapshot.
type CanonicalStatus struct {
	FlightNumber       string     `json:"flightNumber"`
	ScheduledDeparture time.Time  `json:"scheduledDeparture"`
	EstimatedDeparture *time.Time `json:"estimatedDeparture,omitempty"`
	ActualDeparture    *time.Time `json:"actualDeparture,omitempty"`
	ScheduledArrival   time.Time  `json:"scheduledArrival"`
	EstimatedArrival   *time.Time `json:"estimatedArrival,omitempty"`
	ActualArrival      *time.Time `json:"actualArrival,omitempty"`
	DelayMinutes       int        `json:"delayMinutes"`
	Terminal           string     `json:"terminal,omitempty"`
	Gate               string     `json:"gate,omitempty"`
	Cancelled          bool       `json:"cancelled"`
	FetchedAt          time.Time  `json:"fetchedAt"`
}

// LatestDeparture is max(actual, estimated), falling back to the scheduled departure.
func (s CanonicalStatus) LatestDeparture() time.Time {
	latest := time.Time{}
	for _, t := range []*time.Time{s.ActualDeparture, s.EstimatedDeparture} {
		if t != nil && t.After(latest) {
			latest = *t
		}
	}
	if latest.IsZero() {
		return s.ScheduledDeparture
	}
	return latest
}

// BestDeparture prefers actual over estimated over scheduled.
func (s CanonicalStatus) BestDeparture() time.Time {
	switch {
	case s.ActualDeparture != nil:
		return *s.ActualDeparture
	case s.EstimatedDeparture != nil:
		return *s.EstimatedDeparture
	default:
		return s.ScheduledDeparture
	}
}

func (s CanonicalStatus) NormalizedTerminal() string {
	return strings.ToUpper(strings.TrimSpace(s.Terminal))
}

func (s CanonicalStatus) NormalizedGate() string {
	return strings.ToUpper(strings.TrimSpace(s.Gate))
}
