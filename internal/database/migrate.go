package database

import (
	"gorm.io/gorm"

	"github.com/indiko7777/callsanta/internal/domain"
)

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Order{},
		&domain.Participant{},
	)
}
