package provider

import (
	"context"
	"time"

	"github.com/kursadbilgin/flight-watch/internal/domain"
)

// FlightStatusClient translates one provider lookup into a canonical status.
//
// Query returns domain.ErrFlightNotFound, a *domain.AmbiguousFlightError or a
// *ProviderError when no single status can be produced. It never retries.
type FlightStatusClient interface {
	Query(ctx context.Context, flightNumber string, departure time.Time) (*domain.CanonicalStatus, error)
}

// ClientFunc adapts a function to FlightStatusClient.
type ClientFunc func(ctx context.Context, flightNumber string, departure time.Time) (*domain.CanonicalStatus, error)

func (f ClientFunc) Query(ctx context.Context, flightNumber string, departure time.Time) (*domain.CanonicalStatus, error) {
	return f(ctx, flightNumber, departure)
}
