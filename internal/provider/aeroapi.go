package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/flight-watch/internal/domain"
)

const (
	defaultAeroAPITimeout = 15 * time.Second
	// searchWindow brackets the scheduled departure when asking the provider for candidates.
	searchWindow = 12 * time.Hour
)

type aeroAPIResponse struct {
	Flights []aeroAPIFlight `json:"flights"`
}

type aeroAPIAirport struct {
	CodeIATA string `json:"code_iata"`
	Code     string `json:"code"`
}

type aeroAPIFlight struct {
	Ident          string          `json:"ident"`
	IdentIATA      string          `json:"ident_iata"`
	Origin         *aeroAPIAirport `json:"origin"`
	Destination    *aeroAPIAirport `json:"destination"`
	ScheduledOut   *time.Time      `json:"scheduled_out"`
	EstimatedOut   *time.Time      `json:"estimated_out"`
	ActualOut      *time.Time      `json:"actual_out"`
	ScheduledIn    *time.Time      `json:"scheduled_in"`
	EstimatedIn    *time.Time      `json:"estimated_in"`
	ActualIn       *time.Time      `json:"actual_in"`
	DepartureDelay *int            `json:"departure_delay"`
	TerminalOrigin string          `json:"terminal_origin"`
	GateOrigin     string          `json:"gate_origin"`
	Cancelled      bool            `json:"cancelled"`
}

// AeroAPIClient queries a FlightAware AeroAPI compatible endpoint.
type AeroAPIClient struct {
	client  *resty.Client
	baseURL string
	apiKey  string
	now     func() time.Time
}

func NewAeroAPIClient(baseURL, apiKey string, timeout time.Duration) (*AeroAPIClient, error) {
	client := resty.New()
	if timeout <= 0 {
		timeout = defaultAeroAPITimeout
	}
	client.SetTimeout(timeout)

	return NewAeroAPIClientWithClient(baseURL, apiKey, client)
}

func NewAeroAPIClientWithClient(baseURL, apiKey string, client *resty.Client) (*AeroAPIClient, error) {
	trimmedURL := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmedURL == "" {
		return nil, fmt.Errorf("flight status base url is required")
	}
	if _, err := url.ParseRequestURI(trimmedURL); err != nil {
		return nil, fmt.Errorf("invalid flight status base url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultAeroAPITimeout)
	}
	client.SetRetryCount(0)

	return &AeroAPIClient{
		client:  client,
		baseURL: trimmedURL,
		apiKey:  strings.TrimSpace(apiKey),
		now:     time.Now,
	}, nil
}

func (c *AeroAPIClient) Query(ctx context.Context, flightNumber string, departure time.Time) (*domain.CanonicalStatus, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("flight status client is not initialized")
	}

	ident := domain.NormalizeFlightNumber(flightNumber)
	if ident == "" {
		return nil, fmt.Errorf("%w: flight number is required", domain.ErrValidation)
	}
	departure = departure.UTC()

	request := c.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetPathParam("ident", ident).
		SetQueryParam("start", departure.Add(-searchWindow).Format(time.RFC3339)).
		SetQueryParam("end", departure.Add(searchWindow).Format(time.RFC3339))
	if c.apiKey != "" {
		request.SetHeader("x-apikey", c.apiKey)
	}

	response, err := request.Get(c.baseURL + "/flights/{ident}")
	if err != nil {
		return nil, &ProviderError{
			Ident:     ident,
			Message:   "flight status request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Ident:     ident,
			Message:   "flight status provider returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	body := response.Body()

	if statusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s on %s", domain.ErrFlightNotFound, ident, departure.Format(time.DateOnly))
	}
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return nil, &ProviderError{
			Ident:      ident,
			StatusCode: statusCode,
			Message:    providerErrorMessage(statusCode, strings.TrimSpace(string(body))),
			Transient:  isTransientHTTPStatus(statusCode),
		}
	}

	var payload aeroAPIResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &ProviderError{
			Ident:      ident,
			StatusCode: statusCode,
			Message:    "malformed flight status response",
			Transient:  true,
			Cause:      err,
		}
	}

	candidates := make([]aeroAPIFlight, 0, len(payload.Flights))
	for _, flight := range payload.Flights {
		if flight.ScheduledOut == nil {
			continue
		}
		if diff := flight.ScheduledOut.Sub(departure); diff < -searchWindow || diff > searchWindow {
			continue
		}
		candidates = append(candidates, flight)
	}

	switch len(candidates) {
	case 0:
		return nil, fmt.Errorf("%w: %s on %s", domain.ErrFlightNotFound, ident, departure.Format(time.DateOnly))
	case 1:
		status := candidates[0].toCanonical(ident, c.now().UTC())
		return &status, nil
	default:
		ambiguous := &domain.AmbiguousFlightError{FlightNumber: ident}
		for _, candidate := range candidates {
			ambiguous.Candidates = append(ambiguous.Candidates, candidate.toCandidate())
		}
		return nil, ambiguous
	}
}

func (f aeroAPIFlight) toCanonical(ident string, fetchedAt time.Time) domain.CanonicalStatus {
	status := domain.CanonicalStatus{
		FlightNumber:       ident,
		ScheduledDeparture: utc(f.ScheduledOut),
		EstimatedDeparture: utcPtr(f.EstimatedOut),
		ActualDeparture:    utcPtr(f.ActualOut),
		ScheduledArrival:   utc(f.ScheduledIn),
		EstimatedArrival:   utcPtr(f.EstimatedIn),
		ActualArrival:      utcPtr(f.ActualIn),
		Terminal:           strings.TrimSpace(f.TerminalOrigin),
		Gate:               strings.TrimSpace(f.GateOrigin),
		Cancelled:          f.Cancelled,
		FetchedAt:          fetchedAt,
	}

	if f.DepartureDelay != nil {
		status.DelayMinutes = *f.DepartureDelay / 60
	} else {
		status.DelayMinutes = int(status.BestDeparture().Sub(status.ScheduledDeparture) / time.Minute)
	}

	return status
}

func (f aeroAPIFlight) toCandidate() domain.FlightCandidate {
	ident := f.IdentIATA
	if ident == "" {
		ident = f.Ident
	}
	return domain.FlightCandidate{
		Ident:              ident,
		Origin:             f.Origin.code(),
		Destination:        f.Destination.code(),
		ScheduledDeparture: utc(f.ScheduledOut),
	}
}

func (a *aeroAPIAirport) code() string {
	if a == nil {
		return ""
	}
	if a.CodeIATA != "" {
		return a.CodeIATA
	}
	return a.Code
}

func utc(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func providerErrorMessage(statusCode int, body string) string {
	if body == "" {
		return http.StatusText(statusCode)
	}
	const maxBody = 256
	if len(body) <= maxBody {
		return body
	}
	cut := maxBody
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut] + "..."
}
