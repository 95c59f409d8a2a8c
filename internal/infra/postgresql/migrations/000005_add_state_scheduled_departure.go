package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/flight-watch/internal/repository"
	"gorm.io/gorm"
)

func addStateScheduledDeparture() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_add_state_scheduled_departure",
		Migrate: func(tx *gorm.DB) error {
			if tx.Migrator().HasColumn(&repository.MonitoringStateModel{}, "ScheduledDeparture") {
				return nil
			}
			return tx.Migrator().AddColumn(&repository.MonitoringStateModel{}, "ScheduledDeparture")
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropColumn(&repository.MonitoringStateModel{}, "ScheduledDeparture")
		},
	}
}
