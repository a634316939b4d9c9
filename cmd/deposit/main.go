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
	"usdt-vault-go/internal/executor"
	"usdt-vault-go/internal/settlement"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// cmd/deposit credits one confirmed on-chain deposit by hand. Normal operation
// uses the listener; this is for backfills and testing.
func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	userFlag := flag.String("user", "", "Depositor wallet address (required)")
	chainFlag := flag.Int64("chain", 0, "Chain id (required)")
	amountFlag := flag.String("amount", "", "Deposit amount in USDT (required)")
	txHashFlag := flag.String("tx-hash", "", "Source transaction hash (required)")
	flag.Parse()

	if *userFlag == "" || *chainFlag <= 0 || *amountFlag == "" || *txHashFlag == "" {
		logger.Fatal("Required flags: --user, --chain, --amount, --tx-hash")
	}

	amount, err := decimal.NewFromString(*amountFlag)
	if err != nil {
		logger.Fatal("Invalid amount", zap.String("amount", *amountFlag), zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	registry, err := common.LoadChainRegistry(cfg.Listener.ChainsFile)
	if err != nil {
		logger.Fatal("Failed to load chain registry", zap.Error(err))
	}

	vaultStore, err := common.InitializeStore(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize store", zap.Error(err))
	}
	defer vaultStore.Close()

	svc := settlement.NewService(vaultStore, executor.NewMockExecutor(), common.SupportedChainIds(registry))

	result, err := svc.CreditDeposit(ctx, settlement.CreditRequest{
		UserAddress:  *userFlag,
		ChainId:      *chainFlag,
		Amount:       amount,
		SourceTxHash: *txHashFlag,
	})
	if err != nil {
		logger.Fatal("Deposit crediting failed",
			zap.String("error_kind", string(settlement.KindOf(err))),
			zap.Error(err))
	}

	common.PrintHeader("Deposit Credited", common.DefaultWidth)
	fmt.Printf("Deposit ID:  %s\n", result.DepositId)
	fmt.Printf("User:        %s\n", *userFlag)
	fmt.Printf("Chain:       %d\n", *chainFlag)
	fmt.Printf("Amount:      %s USDT\n", amount.String())
	fmt.Printf("Chain total: %s USDT\n", result.UpdatedTotalForChain.String())
	common.PrintFooter("Done", common.DefaultWidth)
}
