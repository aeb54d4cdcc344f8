package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/tokenrouter/tokenrouter/internal/models"
)

// Migrate creates or updates the schema for all persisted models.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if err := conn.AutoMigrate(
		&models.Team{},
		&models.RequestLog{},
	); err != nil {
		return fmt.Errorf("db: migrate: %w", err)
	}
	return nil
}
