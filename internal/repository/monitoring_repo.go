package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/flight-watch/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MonitoringRepository persists monitoring state and the append-only dedup ledgers.
type MonitoringRepository interface {
	Load(ctx context.Context, flightID string) (*domain.MonitoringState, error)
	SaveState(ctx context.Context, state *domain.MonitoringState) error
	// RecordEvent inserts the ledger row and reports whether it was new.
	RecordEvent(ctx context.Context, flightID string, key domain.EventKey, sentAt time.Time) (bool, error)
	RecordReminder(ctx context.Context, flightID string, kind domain.ReminderKind, sentAt time.Time) (bool, error)
	// ClearReminders drops the reminder ledger of a rescheduled flight.
	ClearReminders(ctx context.Context, flightID string) error
	// PurgeConcludedBefore removes state and ledgers of flights concluded before cutoff.
	PurgeConcludedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

var _ MonitoringRepository = (*GormMonitoringRepo)(nil)

type GormMonitoringRepo struct {
	db    *gorm.DB
	newID func() string
}

func NewGormMonitoringRepo(db *gorm.DB) *GormMonitoringRepo {
	return &GormMonitoringRepo{db: db, newID: uuid.NewString}
}

func (r *GormMonitoringRepo) Load(ctx context.Context, flightID string) (*domain.MonitoringState, error) {
	var (
		model     MonitoringStateModel
		events    []SentEventModel
		reminders []SentReminderModel
	)

	db := r.db.WithContext(ctx)
	err := db.First(&model, "flight_id = ?", flightID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := db.Where("flight_id = ?", flightID).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to load sent events: %w", err)
	}
	if err := db.Where("flight_id = ?", flightID).Find(&reminders).Error; err != nil {
		return nil, fmt.Errorf("failed to load sent reminders: %w", err)
	}

	return stateModelToDomain(&model, events, reminders), nil
}

func (r *GormMonitoringRepo) SaveState(ctx context.Context, state *domain.MonitoringState) error {
	model := stateModelFromDomain(state)
	if model == nil {
		return fmt.Errorf("%w: monitoring state is required", domain.ErrValidation)
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "flight_id"}},
			UpdateAll: true,
		}).
		Create(model).Error
}

func (r *GormMonitoringRepo) RecordEvent(ctx context.Context, flightID string, key domain.EventKey, sentAt time.Time) (bool, error) {
	model := SentEventModel{
		ID:          r.newID(),
		FlightID:    flightID,
		Kind:        key.Kind,
		Fingerprint: key.Fingerprint,
		SentAt:      sentAt.UTC(),
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormMonitoringRepo) RecordReminder(ctx context.Context, flightID string, kind domain.ReminderKind, sentAt time.Time) (bool, error) {
	model := SentReminderModel{
		ID:       r.newID(),
		FlightID: flightID,
		Kind:     kind,
		SentAt:   sentAt.UTC(),
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormMonitoringRepo) ClearReminders(ctx context.Context, flightID string) error {
	if err := r.db.WithContext(ctx).Where("flight_id = ?", flightID).Delete(&SentReminderModel{}).Error; err != nil {
		return fmt.Errorf("failed to clear sent reminders: %w", err)
	}
	return nil
}

func (r *GormMonitoringRepo) PurgeConcludedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var purged int64

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		concluded := tx.Model(&MonitoringStateModel{}).
			Select("flight_id").
			Where("phase = ? AND concluded_at < ?", domain.PhaseConcluded, cutoff.UTC())

		events := tx.Where("flight_id IN (?)", concluded).Delete(&SentEventModel{})
		if events.Error != nil {
			return events.Error
		}
		reminders := tx.Where("flight_id IN (?)", concluded).Delete(&SentReminderModel{})
		if reminders.Error != nil {
			return reminders.Error
		}
		states := tx.Where("phase = ? AND concluded_at < ?", domain.PhaseConcluded, cutoff.UTC()).
			Delete(&MonitoringStateModel{})
		if states.Error != nil {
			return states.Error
		}

		purged = events.RowsAffected + reminders.RowsAffected + states.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}

	return purged, nil
}
