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
	"usdt-vault-go/internal/models"
	"usdt-vault-go/internal/settlement"

	"go.uber.org/zap"
)

func formatTxHash(hash string) string {
	if hash == "" {
		return "none"
	}
	if len(hash) > 12 {
		return hash[:12] + "..."
	}
	return hash
}

func printDeposits(deposits []models.Deposit) {
	for i, d := range deposits {
		isLast := i == len(deposits)-1
		fmt.Printf("%s %s: balance %s / original %s (yield %s, src: %s)\n",
			common.BoxPrefix(isLast),
			d.Id,
			d.CurrentBalance.String(),
			d.OriginalAmount.String(),
			d.YieldAccrued.String(),
			formatTxHash(d.SourceTxHash))
		if d.LastRedeemedAt != nil {
			fmt.Printf("%s   last redeemed %s at %s (tx: %s)\n",
				common.BoxDetailPrefix(isLast),
				d.LastRedeemedAmount.String(),
				d.LastRedeemedAt.Format("2006-01-02 15:04:05"),
				formatTxHash(d.LastRedeemedTxHash))
		}
	}
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	userFlag := flag.String("user", "", "Wallet address to query (required)")
	verboseFlag := flag.Bool("verbose", false, "Show individual deposits per chain")
	flag.Parse()

	if *userFlag == "" {
		logger.Fatal("Required flag: --user")
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

	userAddress, err := settlement.NormalizeAddress(*userFlag)
	if err != nil {
		logger.Fatal("Invalid user address", zap.Error(err))
	}

	balances, err := svc.ChainBalances(ctx, userAddress)
	if err != nil {
		logger.Fatal("Failed to query balances", zap.Error(err))
	}

	common.PrintHeader(fmt.Sprintf("Vault Balances: %s", userAddress), common.DefaultWidth)

	if len(balances) == 0 {
		fmt.Println("No deposits found on any configured chain.")
	}
	for _, b := range balances {
		chainName := fmt.Sprintf("chain %d", b.ChainId)
		if chain, ok := registry[b.ChainId]; ok && chain.Name != "" {
			chainName = chain.Name
		}
		fmt.Printf("\n┌─ %s (%d)\n", chainName, b.ChainId)
		fmt.Printf("│  Balance:  %s USDT across %d deposit(s)\n", b.Balance.String(), b.DepositCount)
		if *verboseFlag {
			common.PrintBoxSeparator(78)
			deposits, err := vaultStore.GetDeposits(ctx, userAddress, b.ChainId)
			if err != nil {
				logger.Error("Failed to load deposits", zap.Int64("chain_id", b.ChainId), zap.Error(err))
				continue
			}
			printDeposits(deposits)
		}
	}

	common.PrintFooter(fmt.Sprintf("Chains with funds: %d", len(balances)), common.DefaultWidth)
}
