// Package dbtest opens isolated in-memory sqlite databases carrying the
// consultly schema for package tests.
package dbtest

import (
	"fmt"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/consultly/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	seq         atomic.Int64
	unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_]+`)
)

// Open returns a fresh database for t. Row locks are stripped because sqlite
// serialises writers itself, and the pool is capped at one connection so the
// in-memory database is shared by every statement.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	name := unsafeChars.ReplaceAllString(t.Name(), "_")
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, seq.Add(1))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	})
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}

	if err := db.StripRowLocks(conn); err != nil {
		t.Fatalf("failed to register callbacks: %v", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("failed to create schema: %v", err)
		}
	}
	return conn
}

// Exec runs a seed statement and fails the test on error.
func Exec(t *testing.T, conn *gorm.DB, sql string, args ...any) {
	t.Helper()
	if err := conn.Exec(sql, args...).Error; err != nil {
		t.Fatalf("seed failed: %v\n%s", err, sql)
	}
}

// Count returns the number of rows in table.
func Count(t *testing.T, conn *gorm.DB, table string) int64 {
	t.Helper()
	var n int64
	if err := conn.Table(table).Count(&n).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

// SeedAccount inserts an enabled account.
func SeedAccount(t *testing.T, conn *gorm.DB, id int64, email string) {
	t.Helper()
	Exec(t, conn, `INSERT INTO accounts (id, email_address, created_at) VALUES (?, ?, ?)`,
		id, email, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
}

// SeedConsultant inserts an account with a consultant profile.
func SeedConsultant(t *testing.T, conn *gorm.DB, id int64, email string, feePerHour int64) {
	t.Helper()
	SeedAccount(t, conn, id, email)
	Exec(t, conn, `INSERT INTO consultant_profiles (account_id, fee_per_hour_in_yen, updated_at) VALUES (?, ?, ?)`,
		id, feePerHour, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
}

var schema = []string{
	`CREATE TABLE accounts (
		id INTEGER PRIMARY KEY,
		email_address TEXT NOT NULL UNIQUE,
		disabled_at DATETIME,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE consultant_profiles (
		account_id INTEGER PRIMARY KEY,
		fee_per_hour_in_yen INTEGER NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE consultation_requests (
		id INTEGER PRIMARY KEY,
		user_account_id INTEGER NOT NULL,
		consultant_id INTEGER NOT NULL,
		fee_per_hour_in_yen INTEGER NOT NULL,
		platform_fee_rate_in_percentage INTEGER NOT NULL,
		first_candidate_date_time DATETIME NOT NULL,
		second_candidate_date_time DATETIME NOT NULL,
		third_candidate_date_time DATETIME NOT NULL,
		latest_candidate_date_time DATETIME NOT NULL,
		charge_id TEXT NOT NULL UNIQUE,
		authorization_metadata TEXT NOT NULL DEFAULT '{}',
		credit_facilities_expired_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE consultations (
		id INTEGER PRIMARY KEY,
		user_account_id INTEGER NOT NULL,
		consultant_id INTEGER NOT NULL,
		meeting_at DATETIME NOT NULL,
		room_name TEXT NOT NULL UNIQUE,
		user_account_entered_at DATETIME,
		consultant_entered_at DATETIME,
		created_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX uq_consultations_consultant_meeting ON consultations (consultant_id, meeting_at)`,
	`CREATE UNIQUE INDEX uq_consultations_user_meeting ON consultations (user_account_id, meeting_at)`,
	`CREATE TABLE user_ratings (
		id INTEGER PRIMARY KEY,
		consultation_id INTEGER NOT NULL UNIQUE,
		value INTEGER,
		rated_at DATETIME
	)`,
	`CREATE TABLE consultant_ratings (
		id INTEGER PRIMARY KEY,
		consultation_id INTEGER NOT NULL UNIQUE,
		value INTEGER,
		rated_at DATETIME
	)`,
	`CREATE TABLE settlements (
		id INTEGER PRIMARY KEY,
		consultation_id INTEGER NOT NULL UNIQUE,
		charge_id TEXT NOT NULL UNIQUE,
		fee_per_hour_in_yen INTEGER NOT NULL,
		platform_fee_rate_in_percentage INTEGER NOT NULL,
		credit_facilities_expired_at DATETIME NOT NULL
	)`,
	`CREATE TABLE stopped_settlements (
		id INTEGER PRIMARY KEY,
		consultation_id INTEGER NOT NULL UNIQUE,
		charge_id TEXT NOT NULL UNIQUE,
		fee_per_hour_in_yen INTEGER NOT NULL,
		platform_fee_rate_in_percentage INTEGER NOT NULL,
		credit_facilities_expired_at DATETIME NOT NULL,
		stopped_at DATETIME NOT NULL
	)`,
	`CREATE TABLE receipts (
		id INTEGER PRIMARY KEY,
		consultation_id INTEGER NOT NULL UNIQUE,
		charge_id TEXT NOT NULL UNIQUE,
		fee_per_hour_in_yen INTEGER NOT NULL,
		platform_fee_rate_in_percentage INTEGER NOT NULL,
		settled_at DATETIME NOT NULL
	)`,
	`CREATE TABLE maintenances (
		id INTEGER PRIMARY KEY,
		maintenance_start_at DATETIME NOT NULL,
		maintenance_end_at DATETIME NOT NULL,
		description TEXT NOT NULL DEFAULT ''
	)`,
}
