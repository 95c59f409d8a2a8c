package handler

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/flight-watch/internal/domain"
	"github.com/kursadbilgin/flight-watch/internal/service"
	"github.com/kursadbilgin/flight-watch/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func TestMonitoringRoutes_GetStatus(t *testing.T) {
	t.Parallel()

	svc := &stubMonitoringService{
		getStatusFn: func() service.MonitoringStatus {
			return service.MonitoringStatus{
				ActiveFlightCount: 2,
				ArmedFlightCount:  5,
				IntervalMinutes:   45,
				SuspendedFlights:  []string{"f-9"},
			}
		},
	}
	app := newMonitoringTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/monitoring/status", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var got service.MonitoringStatus
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if got.ActiveFlightCount != 2 || got.IntervalMinutes != 45 {
		t.Fatalf("body = %+v, want active 2 interval 45", got)
	}
	if len(got.SuspendedFlights) != 1 || got.SuspendedFlights[0] != "f-9" {
		t.Fatalf("suspendedFlights = %v, want [f-9]", got.SuspendedFlights)
	}
}

func TestMonitoringRoutes_SetInterval(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCalled bool
	}{
		{name: "accepted", body: `{"minutes":45}`, wantStatus: fiber.StatusOK, wantCalled: true},
		{name: "below minimum", body: `{"minutes":10}`, wantStatus: fiber.StatusBadRequest, wantCalled: true},
		{name: "above maximum", body: `{"minutes":121}`, wantStatus: fiber.StatusBadRequest, wantCalled: true},
		{name: "missing minutes", body: `{}`, wantStatus: fiber.StatusBadRequest},
		{name: "malformed body", body: `{"minutes":`, wantStatus: fiber.StatusBadRequest},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			called := false
			svc := &stubMonitoringService{
				setIntervalFn: func(minutes int) error {
					called = true
					return domain.ValidateIntervalMinutes(minutes)
				},
			}
			app := newMonitoringTestApp(t, svc)

			resp, body := performRequest(t, app, http.MethodPut, "/v1/monitoring/interval", tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body=%s", resp.StatusCode, tt.wantStatus, string(body))
			}
			if called != tt.wantCalled {
				t.Fatalf("SetInterval called = %v, want %v", called, tt.wantCalled)
			}
		})
	}
}

func TestMonitoringRoutes_TriggerManualCheck(t *testing.T) {
	t.Parallel()

	running := false
	svc := &stubMonitoringService{
		triggerFn: func(ctx context.Context) error {
			if running {
				return fmt.Errorf("%w: manual check already running", domain.ErrConflict)
			}
			running = true
			return nil
		},
	}
	app := newMonitoringTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/monitoring/check", "")
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(body))
	}

	resp, body = performRequest(t, app, http.MethodPost, "/v1/monitoring/check", "")
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("status = %d, want 409, body=%s", resp.StatusCode, string(body))
	}
}

func TestMonitoringRoutes_ResumeFlight(t *testing.T) {
	t.Parallel()

	svc := &stubMonitoringService{
		resumeFn: func(ctx context.Context, flightID string) error {
			switch flightID {
			case "f-1":
				return nil
			case "f-busy":
				return fmt.Errorf("%w: %w", domain.ErrConflict, domain.ErrRaceDetected)
			default:
				return fmt.Errorf("%w: flight %s is not monitored", domain.ErrNotFound, flightID)
			}
		},
	}
	app := newMonitoringTestApp(t, svc)

	tests := []struct {
		path       string
		wantStatus int
	}{
		{path: "/v1/monitoring/flights/f-1/resume", wantStatus: fiber.StatusOK},
		{path: "/v1/monitoring/flights/f-busy/resume", wantStatus: fiber.StatusConflict},
		{path: "/v1/monitoring/flights/f-404/resume", wantStatus: fiber.StatusNotFound},
	}

	for _, tt := range tests {
		resp, body := performRequest(t, app, http.MethodPost, tt.path, "")
		if resp.StatusCode != tt.wantStatus {
			t.Fatalf("%s status = %d, want %d, body=%s", tt.path, resp.StatusCode, tt.wantStatus, string(body))
		}
	}
}

func TestNewMonitoringHandlerRequiresService(t *testing.T) {
	t.Parallel()

	if _, err := NewMonitoringHandler(nil); err == nil {
		t.Fatal("NewMonitoringHandler(nil) error = nil, want error")
	}
}

func TestHealthIntegration_LivezAndReadyz(t *testing.T) {
	t.Parallel()

	t.Run("livez returns 200", func(t *testing.T) {
		t.Parallel()

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app)

		resp, body := performRequest(t, app, http.MethodGet, "/livez", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 200 when dependencies healthy", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{})
		t.Cleanup(func() { _ = sqlDB.Close() })

		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, PostgresCheck(sqlDB), RedisCheck(rdb))

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 503 when a dependency is down", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{pingErr: errors.New("postgres down")})
		t.Cleanup(func() { _ = sqlDB.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app,
			PostgresCheck(sqlDB),
			ReadinessCheck{Name: "rabbitmq", Ping: func(context.Context) error { return nil }},
		)

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503, body=%s", resp.StatusCode, string(body))
		}

		var payload struct {
			Checks map[string]string `json:"checks"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("json unmarshal error = %v", err)
		}
		if payload.Checks["postgres"] != "down" || payload.Checks["rabbitmq"] != "ok" {
			t.Fatalf("checks = %v, want postgres down and rabbitmq ok", payload.Checks)
		}
	})
}

type stubMonitoringService struct {
	getStatusFn   func() service.MonitoringStatus
	setIntervalFn func(minutes int) error
	triggerFn     func(ctx context.Context) error
	resumeFn      func(ctx context.Context, flightID string) error
}

func (s *stubMonitoringService) GetStatus() service.MonitoringStatus {
	if s.getStatusFn != nil {
		return s.getStatusFn()
	}
	return service.MonitoringStatus{}
}

func (s *stubMonitoringService) SetInterval(minutes int) error {
	if s.setIntervalFn != nil {
		return s.setIntervalFn(minutes)
	}
	return nil
}

func (s *stubMonitoringService) TriggerManualCheck(ctx context.Context) error {
	if s.triggerFn != nil {
		return s.triggerFn(ctx)
	}
	return nil
}

func (s *stubMonitoringService) ResumeFlight(ctx context.Context, flightID string) error {
	if s.resumeFn != nil {
		return s.resumeFn(ctx, flightID)
	}
	return nil
}

func newMonitoringTestApp(t *testing.T, svc MonitoringService) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})
	app.Use(transport.CorrelationID())

	if err := RegisterMonitoringRoutes(app, svc); err != nil {
		t.Fatalf("RegisterMonitoringRoutes() error = %v", err)
	}

	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

type stubConnector struct {
	pingErr error
}

func (c stubConnector) Connect(context.Context) (driver.Conn, error) {
	return stubConn(c), nil
}

func (c stubConnector) Driver() driver.Driver {
	return stubDriver(c)
}

type stubDriver struct {
	pingErr error
}

func (d stubDriver) Open(string) (driver.Conn, error) {
	return stubConn(d), nil
}

type stubConn struct {
	pingErr error
}

func (c stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c stubConn) Close() error                        { return nil }
func (c stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not implemented") }
func (c stubConn) Ping(context.Context) error          { return c.pingErr }
