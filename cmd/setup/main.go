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

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// cmd/setup seeds (or resets) the redemption reserve for one chain. The
// reserve is the hard ceiling on redemptions, so seeding is an explicit
// operator action rather than something the service does on its own.
func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	chainFlag := flag.Int64("chain", 0, "Chain id to seed (required)")
	amountFlag := flag.String("amount", "", "Reserve amount in USDT (required)")
	notesFlag := flag.String("notes", "", "Free-form note recorded on the reserve")
	flag.Parse()

	if *chainFlag <= 0 || *amountFlag == "" {
		logger.Fatal("Required flags: --chain, --amount")
	}

	amount, err := decimal.NewFromString(*amountFlag)
	if err != nil {
		logger.Fatal("Invalid amount", zap.String("amount", *amountFlag), zap.Error(err))
	}
	if amount.Sign() < 0 {
		logger.Fatal("Reserve amount must not be negative", zap.String("amount", amount.String()))
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	registry, err := common.LoadChainRegistry(cfg.Listener.ChainsFile)
	if err != nil {
		logger.Fatal("Failed to load chain registry", zap.Error(err))
	}
	chain, ok := registry[*chainFlag]
	if !ok {
		logger.Fatal("Chain not present in registry", zap.Int64("chain_id", *chainFlag))
	}

	vaultStore, err := common.InitializeStore(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize store", zap.Error(err))
	}
	defer vaultStore.Close()

	if err := vaultStore.SeedReserve(ctx, *chainFlag, amount, *notesFlag); err != nil {
		logger.Fatal("Failed to seed reserve", zap.Int64("chain_id", *chainFlag), zap.Error(err))
	}

	reserve, err := vaultStore.GetReserve(ctx, *chainFlag)
	if err != nil {
		logger.Fatal("Failed to read back reserve", zap.Error(err))
	}

	common.PrintHeader("Reserve Seeded", common.DefaultWidth)
	fmt.Printf("Chain:   %s (%d)\n", chain.Name, reserve.ChainId)
	fmt.Printf("Reserve: %s USDT\n", reserve.TotalReserve.String())
	if reserve.Notes != "" {
		fmt.Printf("Notes:   %s\n", reserve.Notes)
	}
	common.PrintFooter("Done", common.DefaultWidth)
}
