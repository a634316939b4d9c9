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

const (
	// Deposit queries
	queryInsertDeposit = `
		INSERT INTO deposits (
			id, user_address, chain_id, source_tx_hash, original_amount,
			current_balance, yield_accrued, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, '0', ?, ?)
		RETURNING id, user_address, chain_id, source_tx_hash, original_amount,
		          current_balance, yield_accrued, last_redeemed_amount,
		          last_redeemed_at, last_redeemed_tx_hash, created_at, updated_at`

	queryGetDeposits = `
		SELECT id, user_address, chain_id, source_tx_hash, original_amount,
		       current_balance, yield_accrued, last_redeemed_amount,
		       last_redeemed_at, last_redeemed_tx_hash, created_at, updated_at
		FROM deposits
		WHERE user_address = ? AND chain_id = ?
		ORDER BY created_at, id`

	queryGetDepositById = `
		SELECT id, current_balance, yield_accrued
		FROM deposits
		WHERE id = ?`

	queryCreditYield = `
		UPDATE deposits
		SET current_balance = ?, yield_accrued = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND current_balance = ?`

	queryDebitDeposit = `
		UPDATE deposits
		SET current_balance = ?, last_redeemed_amount = ?, last_redeemed_at = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND current_balance = ?`

	queryRevertDepositDebit = `
		UPDATE deposits
		SET current_balance = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND current_balance = ?`

	queryStampRedemptionTx = `
		UPDATE deposits
		SET last_redeemed_tx_hash = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`

	// Reserve ledger queries
	queryGetReserve = `
		SELECT chain_id, total_reserve, notes, version, updated_at
		FROM reserve_ledger
		WHERE chain_id = ?`

	queryInsertReserve = `
		INSERT INTO reserve_ledger (chain_id, total_reserve, notes, version)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(chain_id) DO UPDATE SET
			total_reserve = excluded.total_reserve,
			notes = excluded.notes,
			version = reserve_ledger.version + 1,
			updated_at = CURRENT_TIMESTAMP`

	queryUpdateReserve = `
		UPDATE reserve_ledger
		SET total_reserve = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE chain_id = ? AND version = ?`

	// Redemption log queries
	queryInsertRedemptionLog = `
		INSERT INTO redemption_log (
			id, user_address, chain_id, amount, tx_id, reserve_before, reserve_after,
			simulated, on_chain_success, transfer_error, block_number, gas_used,
			idempotency_key, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetRedemptionByIdempotencyKey = `
		SELECT id, user_address, chain_id, amount, tx_id, reserve_before, reserve_after,
		       simulated, on_chain_success, transfer_error, block_number, gas_used,
		       idempotency_key, created_at
		FROM redemption_log
		WHERE idempotency_key = ?
		ORDER BY created_at DESC
		LIMIT 1`

	queryGetRedemptionHistory = `
		SELECT id, user_address, chain_id, amount, tx_id, reserve_before, reserve_after,
		       simulated, on_chain_success, transfer_error, block_number, gas_used,
		       idempotency_key, created_at
		FROM redemption_log
		WHERE user_address = ? AND chain_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`
)
