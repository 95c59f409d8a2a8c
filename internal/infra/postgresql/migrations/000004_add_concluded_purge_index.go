package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func addConcludedPurgeIndex() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_add_concluded_purge_index",
		Migrate: func(tx *gorm.DB) error {
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_monitoring_states_concluded ON monitoring_states (concluded_at) WHERE phase = 'CONCLUDED'`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Exec(`DROP INDEX IF EXISTS idx_monitoring_states_concluded`).Error
		},
	}
}
