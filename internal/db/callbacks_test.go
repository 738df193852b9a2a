package db

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/queuecast/internal/config"
	"github.com/friendsincode/queuecast/internal/models"
)

func TestQueryMetricsLogsSlowHistoryStatements(t *testing.T) {
	database, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var buf bytes.Buffer
	if err := database.Use(newQueryMetrics(time.Nanosecond, zerolog.New(&buf))); err != nil {
		t.Fatalf("use: %v", err)
	}
	if err := Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	buf.Reset()
	row := &models.PlayHistory{TrackID: "intro.wav", StartedAt: time.Now().UTC()}
	if err := database.Create(row).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	out := buf.String()
	for _, want := range []string{`"operation":"create"`, `"table":"play_histories"`, "slow history query"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in log output, got %s", want, out)
		}
	}

	buf.Reset()
	var rows []models.PlayHistory
	if err := database.Find(&rows).Error; err != nil {
		t.Fatalf("find: %v", err)
	}
	if !strings.Contains(buf.String(), `"operation":"query"`) {
		t.Fatalf("expected query to be timed, got %s", buf.String())
	}
}

func TestQueryMetricsQuietBelowThreshold(t *testing.T) {
	database, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var buf bytes.Buffer
	if err := database.Use(newQueryMetrics(time.Hour, zerolog.New(&buf))); err != nil {
		t.Fatalf("use: %v", err)
	}
	if err := Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := database.Create(&models.PlayHistory{TrackID: "a.wav", StartedAt: time.Now()}).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("fast statements should not be logged, got %s", buf.String())
	}
}

func TestErrorType(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: context.DeadlineExceeded, want: "timeout"},
		{err: fmt.Errorf("insert: %w", context.Canceled), want: "canceled"},
		{err: gorm.ErrDuplicatedKey, want: "duplicate_key"},
		{err: errors.New("disk I/O error"), want: "query_error"},
	}
	for _, tt := range tests {
		if got := errorType(tt.err); got != tt.want {
			t.Errorf("errorType(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestConnectSQLite(t *testing.T) {
	database, err := Connect(&config.Config{
		Environment: "test",
		DBBackend:   config.DatabaseSQLite,
		DBDSN:       "file::memory:",
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer Close(database)

	if err := Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ReportPoolStats(database)

	if _, err := Dialector("oracle", "x"); err == nil {
		t.Fatal("expected unknown backend to be rejected")
	}
}
