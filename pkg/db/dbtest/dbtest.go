// Package dbtest opens throwaway sqlite databases carrying the payment schema
// so repository and service tests run without Postgres.
package dbtest

import (
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var schema = []string{
	`CREATE TABLE payment_events (
  id TEXT PRIMARY KEY,
  provider TEXT NOT NULL,
  provider_event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  provider_payment_id TEXT,
  tenant_id TEXT,
  amount_cents INTEGER NOT NULL DEFAULT 0,
  raw_payload TEXT NOT NULL,
  received_at DATETIME NOT NULL,
  processed_at DATETIME,
  process_error TEXT
);`,
	`CREATE UNIQUE INDEX ux_payment_events_provider_event ON payment_events (provider, provider_event_id);`,
	`CREATE TABLE partners (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  commission_bps INTEGER NOT NULL DEFAULT 0,
  gateway_customer_id TEXT,
  payout_wallet_id TEXT,
  created_at DATETIME
);`,
	`CREATE TABLE tenants (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  partner_id TEXT,
  name TEXT NOT NULL,
  created_at DATETIME
);`,
	`CREATE TABLE plans (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  price_cents INTEGER NOT NULL,
  created_at DATETIME
);`,
	`CREATE TABLE modules (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  price_cents INTEGER NOT NULL,
  created_at DATETIME
);`,
	`CREATE TABLE tenant_subscriptions (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  plan_id TEXT NOT NULL,
  status TEXT NOT NULL,
  period_start DATETIME NOT NULL,
  period_end DATETIME NOT NULL,
  last_payment_method TEXT,
  last_payment_provider TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE UNIQUE INDEX ux_tenant_subscriptions_tenant ON tenant_subscriptions (tenant_id);`,
	`CREATE TABLE addon_subscriptions (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  module_id TEXT NOT NULL,
  status TEXT NOT NULL,
  started_at DATETIME,
  expires_at DATETIME,
  trial_ends_at DATETIME,
  is_free INTEGER NOT NULL DEFAULT 0,
  price_paid_cents INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE UNIQUE INDEX ux_addon_subscriptions_tenant_module ON addon_subscriptions (tenant_id, module_id);`,
	`CREATE TABLE devices (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  name TEXT NOT NULL,
  secret_hash TEXT NOT NULL,
  hash_version INTEGER NOT NULL DEFAULT 2,
  enabled INTEGER NOT NULL DEFAULT 1,
  status TEXT NOT NULL,
  last_seen_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE UNIQUE INDEX ux_devices_tenant_name ON devices (tenant_id, name);`,
	`CREATE TABLE print_jobs (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  status TEXT NOT NULL,
  attempts INTEGER NOT NULL DEFAULT 0,
  max_attempts INTEGER NOT NULL DEFAULT 3,
  available_at DATETIME NOT NULL,
  claimed_by TEXT,
  claimed_at DATETIME,
  printed_at DATETIME,
  last_error TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE settlements (
  id TEXT PRIMARY KEY,
  partner_id TEXT NOT NULL,
  period_start DATETIME NOT NULL,
  period_end DATETIME NOT NULL,
  calculated_amount_cents INTEGER NOT NULL,
  ledger_amount_cents INTEGER,
  reserve_held_cents INTEGER NOT NULL DEFAULT 0,
  chargeback_window_end DATETIME NOT NULL,
  reserve_cutoff_at DATETIME NOT NULL,
  status TEXT NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE UNIQUE INDEX ux_settlements_partner_period ON settlements (partner_id, period_start, period_end);`,
	`CREATE TABLE payout_jobs (
  id TEXT PRIMARY KEY,
  settlement_id TEXT NOT NULL,
  status TEXT NOT NULL,
  attempts INTEGER NOT NULL DEFAULT 0,
  max_attempts INTEGER NOT NULL DEFAULT 5,
  next_attempt_at DATETIME NOT NULL,
  last_error TEXT,
  discrepancy_cents INTEGER,
  completed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE UNIQUE INDEX ux_payout_jobs_settlement ON payout_jobs (settlement_id);`,
	`CREATE TABLE transfers (
  id TEXT PRIMARY KEY,
  payout_job_id TEXT NOT NULL,
  provider TEXT NOT NULL,
  provider_transfer_id TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  status TEXT NOT NULL,
  created_at DATETIME
);`,
	`CREATE UNIQUE INDEX ux_transfers_payout_job ON transfers (payout_job_id);`,
	`CREATE TABLE transaction_effects (
  id TEXT PRIMARY KEY,
  source_type TEXT NOT NULL,
  source_id TEXT NOT NULL,
  target_type TEXT NOT NULL,
  target_id TEXT NOT NULL,
  direction TEXT NOT NULL,
  kind TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  external_provider TEXT,
  external_ref TEXT,
  idempotency_key TEXT NOT NULL,
  occurred_at DATETIME NOT NULL,
  created_at DATETIME
);`,
	`CREATE UNIQUE INDEX ux_transaction_effects_idempotency ON transaction_effects (idempotency_key);`,
	`CREATE TABLE reconciliation_records (
  id TEXT PRIMARY KEY,
  provider TEXT NOT NULL,
  provider_payment_id TEXT NOT NULL,
  status TEXT NOT NULL,
  provider_amount_cents INTEGER,
  expected_amount_cents INTEGER,
  difference_cents INTEGER NOT NULL DEFAULT 0,
  checked_at DATETIME NOT NULL
);`,
	`CREATE UNIQUE INDEX ux_reconciliation_records_provider_payment ON reconciliation_records (provider, provider_payment_id);`,
	`CREATE TABLE invoices (
  id TEXT PRIMARY KEY,
  partner_id TEXT NOT NULL,
  period TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  status TEXT NOT NULL,
  gateway_provider TEXT,
  gateway_charge_id TEXT,
  paid_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE UNIQUE INDEX ux_invoices_partner_period ON invoices (partner_id, period);`,
	`CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
	`CREATE TABLE outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json TEXT NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME NOT NULL,
  created_at DATETIME
);`,
}

// Open returns an isolated in-memory database with every payment table created.
// A single pooled connection keeps concurrent tests from tripping SQLITE_LOCKED.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := "file:backoffice_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return conn
}
