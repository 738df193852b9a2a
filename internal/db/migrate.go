/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"time"

	"gorm.io/gorm"

	"github.com/friendsincode/queuecast/internal/models"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.PlayHistory{},
	); err != nil {
		return err
	}
	return closeDanglingPlays(database)
}

// closeDanglingPlays ends rows left open by a process that exited without
// shutting down cleanly.
func closeDanglingPlays(database *gorm.DB) error {
	return database.Model(&models.PlayHistory{}).
		Where("ended_at IS NULL").
		Updates(map[string]any{
			"ended_at":   time.Now().UTC(),
			"end_reason": models.EndShutdown,
		}).Error
}
