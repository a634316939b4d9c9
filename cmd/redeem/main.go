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
	"errors"
	"flag"
	"fmt"
	"os"

	"usdt-vault-go/internal/common"
	"usdt-vault-go/internal/config"
	"usdt-vault-go/internal/models"
	"usdt-vault-go/internal/settlement"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type redeemFlags struct {
	user           string
	chain          int64
	amount         decimal.Decimal
	token          string
	simulate       bool
	idempotencyKey string
}

func parseAndValidateFlags() (*redeemFlags, error) {
	userFlag := flag.String("user", "", "Redeeming wallet address (required)")
	chainFlag := flag.Int64("chain", 0, "Chain id (required)")
	amountFlag := flag.String("amount", "", "Amount to redeem in USDT (required)")
	tokenFlag := flag.String("token", "USDT", "Token type")
	simulateFlag := flag.Bool("simulate", false, "Dry-run: report the outcome without moving funds")
	keyFlag := flag.String("idempotency-key", "", "Idempotency key (generated if omitted)")
	flag.Parse()

	if *userFlag == "" || *chainFlag <= 0 || *amountFlag == "" {
		return nil, fmt.Errorf("required flags: --user, --chain, --amount")
	}

	amount, err := decimal.NewFromString(*amountFlag)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("amount must be greater than zero")
	}

	key := *keyFlag
	if key == "" && !*simulateFlag {
		key = uuid.New().String()
	}

	return &redeemFlags{
		user:           *userFlag,
		chain:          *chainFlag,
		amount:         amount,
		token:          *tokenFlag,
		simulate:       *simulateFlag,
		idempotencyKey: key,
	}, nil
}

func printResult(flags *redeemFlags, result *models.RedeemResult) {
	title := "Redemption Settled"
	if result.Simulated {
		title = "Redemption Simulated"
	}
	common.PrintHeader(title, common.DefaultWidth)
	fmt.Printf("User:           %s\n", flags.user)
	fmt.Printf("Chain:          %d\n", flags.chain)
	fmt.Printf("Amount:         %s USDT\n", flags.amount.String())
	if result.TxId != "" {
		fmt.Printf("Transaction:    %s\n", result.TxId)
	}
	if result.BlockNumber != nil {
		fmt.Printf("Block:          %d\n", *result.BlockNumber)
	}
	if result.GasUsed != "" {
		fmt.Printf("Gas used:       %s\n", result.GasUsed)
	}
	fmt.Printf("New balance:    %s USDT\n", result.NewBalance.String())
	fmt.Printf("Reserve before: %s USDT\n", result.ReserveBefore.String())
	fmt.Printf("Reserve after:  %s USDT\n", result.ReserveAfter.String())
	if flags.idempotencyKey != "" {
		fmt.Printf("Idempotency:    %s\n", flags.idempotencyKey)
	}
	common.PrintFooter("Done", common.DefaultWidth)
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	flags, err := parseAndValidateFlags()
	if err != nil {
		logger.Fatal("Invalid flags", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	result, err := services.Settlement.Redeem(ctx, settlement.RedeemRequest{
		UserAddress:    flags.user,
		ChainId:        flags.chain,
		Amount:         flags.amount,
		TokenType:      flags.token,
		Simulate:       flags.simulate,
		IdempotencyKey: flags.idempotencyKey,
	})
	if err != nil {
		kind := settlement.KindOf(err)
		fmt.Printf("\n✗ Redemption failed [%s]: %s\n", kind, result.Error)
		var se *settlement.Error
		if errors.As(err, &se) {
			for k, v := range se.Details {
				fmt.Printf("  %s: %s\n", k, v)
			}
		}
		logger.Error("Redemption failed",
			zap.String("error_kind", string(kind)),
			zap.Error(err))
		os.Exit(1)
	}

	printResult(flags, result)
}
