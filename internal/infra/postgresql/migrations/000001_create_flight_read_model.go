package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/flight-watch/internal/repository"
	"gorm.io/gorm"
)

// Local development schema for the tables the surrounding application owns.
func createFlightReadModelTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_flight_read_model",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&repository.FlightModel{},
				&repository.PassengerModel{},
				&repository.VolunteerModel{},
				&repository.DashboardUserModel{},
			)
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				&repository.DashboardUserModel{},
				&repository.VolunteerModel{},
				&repository.PassengerModel{},
				&repository.FlightModel{},
			)
		},
	}
}
