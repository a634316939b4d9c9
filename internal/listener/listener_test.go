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

package listener

import (
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

func transferLog(from, to ethcommon.Address, amount *big.Int) *types.Log {
	return &types.Log{
		Topics: []ethcommon.Hash{
			transferEventSig,
			ethcommon.BytesToHash(from.Bytes()),
			ethcommon.BytesToHash(to.Bytes()),
		},
		Data: ethcommon.LeftPadBytes(amount.Bytes(), 32),
	}
}

func TestParseTransferLog(t *testing.T) {
	from := ethcommon.HexToAddress("0x1111111111111111111111111111111111111111")
	to := ethcommon.HexToAddress("0x2222222222222222222222222222222222222222")

	// 25 USDT in 6-decimal minor units.
	log := transferLog(from, to, big.NewInt(25_000_000))

	sender, amount, err := parseTransferLog(log, 6)
	if err != nil {
		t.Fatalf("parseTransferLog failed: %v", err)
	}
	if sender != "0x1111111111111111111111111111111111111111" {
		t.Errorf("unexpected sender %s", sender)
	}
	if !amount.Equal(decimal.NewFromInt(25)) {
		t.Errorf("expected 25, got %s", amount.String())
	}
}

func TestParseTransferLogSubUnit(t *testing.T) {
	from := ethcommon.HexToAddress("0x1111111111111111111111111111111111111111")
	to := ethcommon.HexToAddress("0x2222222222222222222222222222222222222222")

	log := transferLog(from, to, big.NewInt(1))

	_, amount, err := parseTransferLog(log, 6)
	if err != nil {
		t.Fatalf("parseTransferLog failed: %v", err)
	}
	if !amount.Equal(decimal.RequireFromString("0.000001")) {
		t.Errorf("expected 0.000001, got %s", amount.String())
	}
}

func TestParseTransferLogMalformed(t *testing.T) {
	// Missing indexed topics.
	log := &types.Log{Topics: []ethcommon.Hash{transferEventSig}}
	if _, _, err := parseTransferLog(log, 6); err == nil {
		t.Error("expected error for log with missing topics")
	}

	// Truncated data payload.
	from := ethcommon.HexToAddress("0x1111111111111111111111111111111111111111")
	to := ethcommon.HexToAddress("0x2222222222222222222222222222222222222222")
	log = transferLog(from, to, big.NewInt(1))
	log.Data = log.Data[:16]
	if _, _, err := parseTransferLog(log, 6); err == nil {
		t.Error("expected error for truncated data")
	}
}
