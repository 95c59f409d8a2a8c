package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/flight-watch/internal/observability"
	"github.com/kursadbilgin/flight-watch/internal/repository"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	defaultJanitorSchedule   = "@hourly"
	defaultLedgerRetention   = 7 * 24 * time.Hour
	defaultJanitorRunTimeout = time.Minute
)

// LedgerJanitor purges state and dedup ledgers of flights concluded before the retention window.
type LedgerJanitor struct {
	states    repository.MonitoringRepository
	schedule  string
	retention time.Duration
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewLedgerJanitor(
	states repository.MonitoringRepository,
	schedule string,
	retention time.Duration,
	logger *zap.Logger,
) (*LedgerJanitor, error) {
	if states == nil {
		return nil, fmt.Errorf("monitoring repository is required")
	}

	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		schedule = defaultJanitorSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}
	if retention <= 0 {
		retention = defaultLedgerRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &LedgerJanitor{
		states:    states,
		schedule:  schedule,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (j *LedgerJanitor) SetMetrics(metrics *observability.Metrics) {
	if j == nil {
		return
	}
	j.metrics = metrics
}

// Start registers the purge job and blocks until ctx is done.
func (j *LedgerJanitor) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	engine := cron.New(cron.WithLocation(time.UTC))
	if _, err := engine.AddFunc(j.schedule, func() {
		runCtx, cancel := context.WithTimeout(ctx, defaultJanitorRunTimeout)
		defer cancel()
		if _, err := j.Purge(runCtx); err != nil && ctx.Err() == nil {
			j.logger.Error("ledger purge failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("register ledger purge job: %w", err)
	}

	engine.Start()
	j.logger.Info("ledger janitor started", zap.String("schedule", j.schedule), zap.Duration("retention", j.retention))

	<-ctx.Done()

	stopped := engine.Stop()
	<-stopped.Done()
	return nil
}

// Purge removes everything concluded before now minus the retention window.
func (j *LedgerJanitor) Purge(ctx context.Context) (int64, error) {
	cutoff := j.now().UTC().Add(-j.retention)

	rows, err := j.states.PurgeConcludedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge concluded before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	j.metrics.AddLedgerRowsPurged(rows)
	if rows > 0 {
		j.logger.Info("purged concluded monitoring records", zap.Int64("rows", rows), zap.Time("cutoff", cutoff))
	}
	return rows, nil
}
