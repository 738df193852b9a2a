/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/queuecast/internal/telemetry"
)

// SlowQueryThreshold is how long a history statement may take before it is
// logged at Warn.
const SlowQueryThreshold = 200 * time.Millisecond

const startedKey = "queuecast:started_at"

// queryMetrics is a gorm plugin timing the statements the history recorder
// issues: a create when a play starts, an update when it ends, and reads for
// Recent. Deletes never happen, so they are not instrumented.
type queryMetrics struct {
	slow   time.Duration
	logger zerolog.Logger
}

func newQueryMetrics(slow time.Duration, logger zerolog.Logger) *queryMetrics {
	return &queryMetrics{slow: slow, logger: logger}
}

// Name implements gorm.Plugin.
func (m *queryMetrics) Name() string { return "queuecast:query_metrics" }

// Initialize implements gorm.Plugin.
func (m *queryMetrics) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	return errors.Join(
		cb.Create().Before("gorm:create").Register("queuecast:before_create", m.start),
		cb.Create().After("gorm:create").Register("queuecast:after_create", m.finish("create")),
		cb.Update().Before("gorm:update").Register("queuecast:before_update", m.start),
		cb.Update().After("gorm:update").Register("queuecast:after_update", m.finish("update")),
		cb.Query().Before("gorm:query").Register("queuecast:before_query", m.start),
		cb.Query().After("gorm:query").Register("queuecast:after_query", m.finish("query")),
	)
}

func (m *queryMetrics) start(tx *gorm.DB) {
	tx.InstanceSet(startedKey, time.Now())
}

func (m *queryMetrics) finish(operation string) func(*gorm.DB) {
	return func(tx *gorm.DB) {
		v, ok := tx.InstanceGet(startedKey)
		started, _ := v.(time.Time)
		if !ok || started.IsZero() {
			return
		}
		elapsed := time.Since(started)

		table := tx.Statement.Table
		if table == "" {
			table = "unknown"
		}
		telemetry.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(elapsed.Seconds())

		if err := tx.Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			telemetry.DatabaseErrorsTotal.WithLabelValues(operation, errorType(err)).Inc()
		}

		if m.slow > 0 && elapsed >= m.slow {
			m.logger.Warn().
				Str("operation", operation).
				Str("table", table).
				Int64("rows", tx.RowsAffected).
				Dur("elapsed", elapsed).
				Msg("slow history query")
		}
	}
}

// errorType is the error_type label for a failed statement.
func errorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return "duplicate_key"
	default:
		return "query_error"
	}
}

// ReportPoolStats samples the connection pool into the
// database_connections_active gauge.
func ReportPoolStats(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	telemetry.DatabaseConnectionsActive.Set(float64(sqlDB.Stats().OpenConnections))
}
