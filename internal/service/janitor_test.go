package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNewLedgerJanitor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		schedule string
		wantErr  bool
		want     string
	}{
		{name: "default schedule", schedule: "", want: defaultJanitorSchedule},
		{name: "cron expression", schedule: "15 3 * * *", want: "15 3 * * *"},
		{name: "descriptor", schedule: "@daily", want: "@daily"},
		{name: "invalid", schedule: "every hour", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			janitor, err := NewLedgerJanitor(newFakeMonitoringRepo(), tt.schedule, 0, zap.NewNop())
			if tt.wantErr {
				if err == nil {
					t.Fatal("NewLedgerJanitor() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewLedgerJanitor() error = %v", err)
			}
			if janitor.schedule != tt.want {
				t.Fatalf("schedule = %q, want %q", janitor.schedule, tt.want)
			}
			if janitor.retention != defaultLedgerRetention {
				t.Fatalf("retention = %s, want %s", janitor.retention, defaultLedgerRetention)
			}
		})
	}
}

func TestLedgerJanitorPurgeUsesRetentionCutoff(t *testing.T) {
	t.Parallel()

	var gotCutoff time.Time
	repo := newFakeMonitoringRepo()
	repo.purgeFn = func(ctx context.Context, cutoff time.Time) (int64, error) {
		gotCutoff = cutoff
		return 12, nil
	}

	janitor, err := NewLedgerJanitor(repo, "@hourly", 48*time.Hour, zap.NewNop())
	if err != nil {
		t.Fatalf("NewLedgerJanitor() error = %v", err)
	}
	janitor.now = func() time.Time { return fixtureStart }

	rows, err := janitor.Purge(context.Background())
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if rows != 12 {
		t.Fatalf("rows = %d, want 12", rows)
	}
	if want := fixtureStart.Add(-48 * time.Hour); !gotCutoff.Equal(want) {
		t.Fatalf("cutoff = %s, want %s", gotCutoff, want)
	}
}

func TestLedgerJanitorPurgeWrapsRepositoryError(t *testing.T) {
	t.Parallel()

	repoErr := errors.New("db down")
	repo := newFakeMonitoringRepo()
	repo.purgeFn = func(ctx context.Context, cutoff time.Time) (int64, error) {
		return 0, repoErr
	}

	janitor, err := NewLedgerJanitor(repo, "", 0, nil)
	if err != nil {
		t.Fatalf("NewLedgerJanitor() error = %v", err)
	}

	if _, err := janitor.Purge(context.Background()); !errors.Is(err, repoErr) {
		t.Fatalf("Purge() error = %v, want %v", err, repoErr)
	}
}

func TestLedgerJanitorStartStopsOnCancel(t *testing.T) {
	t.Parallel()

	janitor, err := NewLedgerJanitor(newFakeMonitoringRepo(), "@every 1h", time.Hour, zap.NewNop())
	if err != nil {
		t.Fatalf("NewLedgerJanitor() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- janitor.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
}
