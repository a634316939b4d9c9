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

package models

import (
	"github.com/shopspring/decimal"
)

// RedeemResult represents the outcome of one redemption attempt
type RedeemResult struct {
	Success       bool            `json:"success"`
	TxId          string          `json:"tx_id,omitempty"`
	NewBalance    decimal.Decimal `json:"new_balance"`
	ReserveBefore decimal.Decimal `json:"reserve_before"`
	ReserveAfter  decimal.Decimal `json:"reserve_after"`
	BlockNumber   *int64          `json:"block_number,omitempty"`
	GasUsed       string          `json:"gas_used,omitempty"`
	Simulated     bool            `json:"simulated"`
	ErrorKind     string          `json:"error_kind,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// CreditResult represents the outcome of crediting a confirmed deposit
type CreditResult struct {
	Success              bool            `json:"success"`
	DepositId            string          `json:"deposit_id,omitempty"`
	UpdatedTotalForChain decimal.Decimal `json:"updated_total_for_chain"`
	Error                string          `json:"error,omitempty"`
}

// ChainBalance represents a user's spendable balance on one chain
type ChainBalance struct {
	ChainId      int64           `json:"chain_id"`
	Balance      decimal.Decimal `json:"balance"`
	DepositCount int             `json:"deposit_count"`
}
