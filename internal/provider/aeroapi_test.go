package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/kursadbilgin/flight-watch/internal/domain"
)

var testDeparture = time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)

func newTestAeroAPIClient(t *testing.T, handler http.HandlerFunc) *AeroAPIClient {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewAeroAPIClient(server.URL, "secret", time.Second)
	if err != nil {
		t.Fatalf("NewAeroAPIClient() error = %v", err)
	}
	client.now = func() time.Time { return testDeparture.Add(-5 * time.Hour) }
	return client
}

func TestAeroAPIClientQuerySuccess(t *testing.T) {
	t.Parallel()

	client := newTestAeroAPIClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/flights/UA100" {
			t.Errorf("path = %s, want /flights/UA100", r.URL.Path)
		}
		if got := r.Header.Get("x-apikey"); got != "secret" {
			t.Errorf("x-apikey = %q, want secret", got)
		}
		if got := r.URL.Query().Get("start"); got != "2026-03-10T06:00:00Z" {
			t.Errorf("start = %q, want 2026-03-10T06:00:00Z", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"flights":[{
			"ident":"UAL100","ident_iata":"UA100",
			"origin":{"code_iata":"SFO"},"destination":{"code_iata":"JFK"},
			"scheduled_out":"2026-03-10T18:00:00Z",
			"estimated_out":"2026-03-10T18:25:00Z",
			"scheduled_in":"2026-03-10T23:30:00Z",
			"departure_delay":1500,
			"terminal_origin":"3","gate_origin":"F12",
			"cancelled":false
		}]}`))
	})

	status, err := client.Query(context.Background(), "ua 100", testDeparture)
	if err != nil {
		t.Fatalf("Query() unexpected error: %v", err)
	}

	if status.DelayMinutes != 25 {
		t.Fatalf("DelayMinutes = %d, want 25", status.DelayMinutes)
	}
	if status.Terminal != "3" || status.Gate != "F12" {
		t.Fatalf("location = %s/%s, want 3/F12", status.Terminal, status.Gate)
	}
	if status.EstimatedDeparture == nil || !status.EstimatedDeparture.Equal(testDeparture.Add(25*time.Minute)) {
		t.Fatalf("EstimatedDeparture = %v, want departure+25m", status.EstimatedDeparture)
	}
	if status.FlightNumber != "UA100" {
		t.Fatalf("FlightNumber = %q, want UA100", status.FlightNumber)
	}
}

func TestAeroAPIClientDerivesDelayWithoutProviderValue(t *testing.T) {
	t.Parallel()

	client := newTestAeroAPIClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"flights":[{"ident":"UA100",
			"scheduled_out":"2026-03-10T18:00:00Z","actual_out":"2026-03-10T18:40:00Z"}]}`))
	})

	status, err := client.Query(context.Background(), "UA100", testDeparture)
	if err != nil {
		t.Fatalf("Query() unexpected error: %v", err)
	}
	if status.DelayMinutes != 40 {
		t.Fatalf("DelayMinutes = %d, want 40", status.DelayMinutes)
	}
}

func TestAeroAPIClientQueryOutcomes(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		statusCode    int
		body          string
		wantIs        error
		wantTransient bool
	}{
		{name: "not found status", statusCode: http.StatusNotFound, wantIs: domain.ErrFlightNotFound},
		{name: "empty list", statusCode: http.StatusOK, body: `{"flights":[]}`, wantIs: domain.ErrFlightNotFound},
		{
			name:       "other day only",
			statusCode: http.StatusOK,
			body:       `{"flights":[{"ident":"UA100","scheduled_out":"2026-03-12T18:00:00Z"}]}`,
			wantIs:     domain.ErrFlightNotFound,
		},
		{
			name:       "two candidates",
			statusCode: http.StatusOK,
			body: `{"flights":[
				{"ident":"UA100","origin":{"code_iata":"SFO"},"destination":{"code_iata":"ORD"},"scheduled_out":"2026-03-10T18:00:00Z"},
				{"ident":"UA100","origin":{"code_iata":"ORD"},"destination":{"code_iata":"LHR"},"scheduled_out":"2026-03-10T23:00:00Z"}
			]}`,
			wantIs: domain.ErrAmbiguousFlight,
		},
		{name: "quota exhausted", statusCode: http.StatusTooManyRequests, wantIs: domain.ErrProviderUnavailable, wantTransient: true},
		{name: "server error", statusCode: http.StatusBadGateway, wantIs: domain.ErrProviderUnavailable, wantTransient: true},
		{name: "malformed body", statusCode: http.StatusOK, body: `{"flights":`, wantIs: domain.ErrProviderUnavailable, wantTransient: true},
		{name: "unauthorized", statusCode: http.StatusUnauthorized, wantIs: domain.ErrProviderUnavailable},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			client := newTestAeroAPIClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
				_, _ = w.Write([]byte(tc.body))
			})

			_, err := client.Query(context.Background(), "UA100", testDeparture)
			if !errors.Is(err, tc.wantIs) {
				t.Fatalf("Query() error = %v, want %v", err, tc.wantIs)
			}
			if got := IsTransient(err); got != tc.wantTransient {
				t.Fatalf("IsTransient() = %v, want %v", got, tc.wantTransient)
			}
		})
	}
}

func TestAeroAPIClientAmbiguousCarriesCandidates(t *testing.T) {
	t.Parallel()

	client := newTestAeroAPIClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"flights":[
			{"ident":"UAL100","ident_iata":"UA100","origin":{"code_iata":"SFO"},"destination":{"code_iata":"ORD"},"scheduled_out":"2026-03-10T18:00:00Z"},
			{"ident":"UAL100","ident_iata":"UA100","origin":{"code":"KORD"},"destination":{"code_iata":"LHR"},"scheduled_out":"2026-03-10T23:00:00Z"}
		]}`))
	})

	_, err := client.Query(context.Background(), "UA100", testDeparture)

	var ambiguous *domain.AmbiguousFlightError
	if !errors.As(err, &ambiguous) {
		t.Fatalf("Query() error = %T, want *domain.AmbiguousFlightError", err)
	}
	if len(ambiguous.Candidates) != 2 {
		t.Fatalf("Candidates = %d, want 2", len(ambiguous.Candidates))
	}
	if ambiguous.Candidates[1].Origin != "KORD" {
		t.Fatalf("Candidates[1].Origin = %q, want KORD fallback code", ambiguous.Candidates[1].Origin)
	}
}

func TestAeroAPIClientTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	client, err := NewAeroAPIClient(server.URL, "", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("NewAeroAPIClient() error = %v", err)
	}

	_, err = client.Query(context.Background(), "UA100", testDeparture)
	if !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("Query() error = %v, want ErrProviderUnavailable", err)
	}
	if !IsTransient(err) {
		t.Fatal("timeout should be transient")
	}
}

func TestNewAeroAPIClientValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewAeroAPIClient("", "k", time.Second); err == nil {
		t.Fatal("NewAeroAPIClient() with empty url error = nil, want error")
	}
	if _, err := NewAeroAPIClientWithClient("http://example.test", "k", nil); err == nil {
		t.Fatal("NewAeroAPIClientWithClient() with nil client error = nil, want error")
	}
}

func TestProviderErrorMessage(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", 300)
	// The two-byte rune straddles the 256-byte limit.
	straddling := strings.Repeat("a", 255) + "é" + strings.Repeat("b", 40)

	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{name: "empty body uses status text", status: http.StatusBadGateway, body: "", want: "Bad Gateway"},
		{name: "short body kept", status: http.StatusBadRequest, body: "bad ident", want: "bad ident"},
		{name: "long body truncated", status: http.StatusBadRequest, body: long, want: long[:256] + "..."},
		{name: "multibyte rune not split", status: http.StatusBadRequest, body: straddling, want: strings.Repeat("a", 255) + "..."},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := providerErrorMessage(tt.status, tt.body)
			if got != tt.want {
				t.Fatalf("providerErrorMessage() = %q, want %q", got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Fatalf("providerErrorMessage() = %q, want valid UTF-8", got)
			}
		})
	}
}
