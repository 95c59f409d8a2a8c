package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/flight-watch/internal/repository"
	"gorm.io/gorm"
)

func createSentLedgerTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_sent_ledgers",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.SentEventModel{}, &repository.SentReminderModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SentReminderModel{}, &repository.SentEventModel{})
		},
	}
}
