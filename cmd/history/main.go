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

package main

import (
	"context"
	"flag"
	"fmt"

	"usdt-vault-go/internal/common"
	"usdt-vault-go/internal/config"
	"usdt-vault-go/internal/models"
	"usdt-vault-go/internal/settlement"

	"go.uber.org/zap"
)

func statusLabel(log models.RedemptionLog) string {
	switch {
	case log.Simulated:
		return "SIMULATED"
	case log.OnChainSuccess:
		return "SETTLED"
	default:
		return "FAILED"
	}
}

func printLog(log models.RedemptionLog, isLast bool) {
	fmt.Printf("%s %s | %-9s | %s USDT | reserve %s -> %s\n",
		common.BoxPrefix(isLast),
		log.CreatedAt.Format("2006-01-02 15:04:05"),
		statusLabel(log),
		log.Amount.String(),
		log.ReserveBefore.String(),
		log.ReserveAfter.String())
	if log.TxId != "" {
		fmt.Printf("%s   tx: %s\n", common.BoxDetailPrefix(isLast), log.TxId)
	}
	if log.TransferError != "" {
		fmt.Printf("%s   error: %s\n", common.BoxDetailPrefix(isLast), log.TransferError)
	}
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	userFlag := flag.String("user", "", "Wallet address to query (required)")
	chainFlag := flag.Int64("chain", 0, "Chain id (required)")
	limitFlag := flag.Int("limit", 20, "Maximum entries to show")
	offsetFlag := flag.Int("offset", 0, "Entries to skip")
	flag.Parse()

	if *userFlag == "" || *chainFlag <= 0 {
		logger.Fatal("Required flags: --user, --chain")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	vaultStore, err := common.InitializeStore(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize store", zap.Error(err))
	}
	defer vaultStore.Close()

	userAddress, err := settlement.NormalizeAddress(*userFlag)
	if err != nil {
		logger.Fatal("Invalid user address", zap.Error(err))
	}

	logs, err := vaultStore.GetRedemptionHistory(ctx, userAddress, *chainFlag, *limitFlag, *offsetFlag)
	if err != nil {
		logger.Fatal("Failed to query redemption history", zap.Error(err))
	}

	common.PrintHeader(
		fmt.Sprintf("Redemption History: %s on chain %d", userAddress, *chainFlag),
		common.DefaultWidth)

	if len(logs) == 0 {
		fmt.Println("No redemption attempts recorded.")
	}
	for i, log := range logs {
		printLog(log, i == len(logs)-1)
	}

	common.PrintFooter(fmt.Sprintf("Entries: %d", len(logs)), common.DefaultWidth)
}
