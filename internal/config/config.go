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

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"usdt-vault-go/internal/models"
)

func Load() (*models.Config, error) {
	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}

	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	submitTimeout, err := getEnvDuration("EXECUTOR_SUBMIT_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}

	confirmTimeout, err := getEnvDuration("EXECUTOR_CONFIRM_TIMEOUT", 90*time.Second)
	if err != nil {
		return nil, err
	}

	pollingInterval, err := getEnvDuration("LISTENER_POLLING_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, err
	}

	backend := getEnvString("VAULT_BACKEND", "sqlite")
	if backend != "sqlite" && backend != "formance" {
		return nil, fmt.Errorf("invalid VAULT_BACKEND %q: must be sqlite or formance", backend)
	}

	return &models.Config{
		Backend: backend,
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "vault.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
		},
		Formance: models.FormanceConfig{
			StackURL:     getEnvString("FORMANCE_STACK_URL", ""),
			ClientID:     getEnvString("FORMANCE_CLIENT_ID", ""),
			ClientSecret: getEnvString("FORMANCE_CLIENT_SECRET", ""),
			LedgerName:   getEnvString("FORMANCE_LEDGER_NAME", "usdt-vault"),
		},
		Executor: models.ExecutorConfig{
			TreasuryPrivateKey: getEnvString("TREASURY_PRIVATE_KEY", ""),
			SubmitTimeout:      submitTimeout,
			ConfirmTimeout:     confirmTimeout,
			WaitForReceipt:     getEnvBool("EXECUTOR_WAIT_FOR_RECEIPT", true),
		},
		Listener: models.ListenerConfig{
			PollingInterval: pollingInterval,
			LookbackBlocks:  int64(getEnvInt("LISTENER_LOOKBACK_BLOCKS", 100)),
			ChainsFile:      getEnvString("CHAINS_FILE", "chains.yaml"),
		},
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
