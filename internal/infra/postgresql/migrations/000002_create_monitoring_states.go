package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/flight-watch/internal/repository"
	"gorm.io/gorm"
)

func createMonitoringStatesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_monitoring_states",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.MonitoringStateModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.MonitoringStateModel{})
		},
	}
}
