/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"fmt"

	"usdt-vault-go/internal/models"
	"usdt-vault-go/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.VaultStore.
var _ store.VaultStore = (*Service)(nil)

type Service struct {
	db *sql.DB
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000")
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	// Set connection timeouts and limits
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test connection with timeout
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := &Service{db: db}
	if err := service.InitSchema(); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Database service initialized successfully")
	return service, nil
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) InitSchema() error {
	schema := `
	-- Deposits: one row per confirmed on-chain funding event (append-only).
	-- Amounts are stored as exact decimal strings, never floats.
	CREATE TABLE IF NOT EXISTS deposits (
		id TEXT PRIMARY KEY,
		user_address TEXT NOT NULL,
		chain_id INTEGER NOT NULL,
		source_tx_hash TEXT NOT NULL,
		original_amount TEXT NOT NULL,
		current_balance TEXT NOT NULL,
		yield_accrued TEXT NOT NULL DEFAULT '0',
		last_redeemed_amount TEXT NOT NULL DEFAULT '0',
		last_redeemed_at TIMESTAMP,
		last_redeemed_tx_hash TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(chain_id, source_tx_hash)
	);

	CREATE INDEX IF NOT EXISTS idx_deposits_user_chain ON deposits(user_address, chain_id);
	CREATE INDEX IF NOT EXISTS idx_deposits_created_at ON deposits(created_at);

	-- Reserve ledger: one row per chain, guarded by an optimistic version column.
	CREATE TABLE IF NOT EXISTS reserve_ledger (
		chain_id INTEGER PRIMARY KEY,
		total_reserve TEXT NOT NULL DEFAULT '0',
		notes TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Redemption log: append-only audit trail, immutable once written.
	CREATE TABLE IF NOT EXISTS redemption_log (
		id TEXT PRIMARY KEY,
		user_address TEXT NOT NULL,
		chain_id INTEGER NOT NULL,
		amount TEXT NOT NULL,
		tx_id TEXT NOT NULL DEFAULT '',
		reserve_before TEXT NOT NULL,
		reserve_after TEXT NOT NULL,
		simulated BOOLEAN NOT NULL DEFAULT 0,
		on_chain_success BOOLEAN NOT NULL DEFAULT 0,
		transfer_error TEXT NOT NULL DEFAULT '',
		block_number INTEGER,
		gas_used TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_redemption_log_user_chain ON redemption_log(user_address, chain_id);
	CREATE INDEX IF NOT EXISTS idx_redemption_log_idempotency ON redemption_log(idempotency_key);
	CREATE INDEX IF NOT EXISTS idx_redemption_log_created_at ON redemption_log(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}
