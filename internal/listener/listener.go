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
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"usdt-vault-go/internal/models"
	"usdt-vault-go/internal/settlement"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// maxBlockRange caps one FilterLogs request; public RPC nodes reject wide ranges.
const maxBlockRange = 2000

var transferEventSig = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// DepositListener polls each configured chain for USDT Transfer events into
// the treasury address and credits the matching vault deposits. Crediting is
// idempotent, so overlapping scans after a restart are harmless.
type DepositListener struct {
	settlement      *settlement.Service
	chains          map[int64]models.ChainConfig
	pollingInterval time.Duration
	lookbackBlocks  int64

	mu          sync.Mutex
	clients     map[int64]*ethclient.Client
	lastScanned map[int64]int64

	stopChan chan struct{}
	doneChan chan struct{}
}

func NewDepositListener(svc *settlement.Service, chains map[int64]models.ChainConfig, cfg models.ListenerConfig) *DepositListener {
	interval := cfg.PollingInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	lookback := cfg.LookbackBlocks
	if lookback <= 0 {
		lookback = 100
	}
	return &DepositListener{
		settlement:      svc,
		chains:          chains,
		pollingInterval: interval,
		lookbackBlocks:  lookback,
		clients:         make(map[int64]*ethclient.Client),
		lastScanned:     make(map[int64]int64),
		stopChan:        make(chan struct{}),
		doneChan:        make(chan struct{}),
	}
}

// Start connects to every configured chain and begins the polling loop.
func (d *DepositListener) Start(ctx context.Context) error {
	zap.L().Info("Starting deposit listener")

	if len(d.chains) == 0 {
		return fmt.Errorf("no chains to monitor")
	}

	for chainId, chain := range d.chains {
		client, err := ethclient.DialContext(ctx, chain.RpcUrl)
		if err != nil {
			return fmt.Errorf("failed to connect to chain %d: %w", chainId, err)
		}
		head, err := client.HeaderByNumber(ctx, nil)
		if err != nil {
			client.Close()
			return fmt.Errorf("failed to fetch head for chain %d: %w", chainId, err)
		}
		start := head.Number.Int64() - d.lookbackBlocks
		if start < 0 {
			start = 0
		}
		d.clients[chainId] = client
		d.lastScanned[chainId] = start

		zap.L().Info("Monitoring chain for deposits",
			zap.Int64("chain_id", chainId),
			zap.String("name", chain.Name),
			zap.String("treasury", chain.TreasuryAddress),
			zap.Int64("from_block", start))
	}

	go d.pollLoop(ctx)

	zap.L().Info("Deposit listener started",
		zap.Duration("polling_interval", d.pollingInterval),
		zap.Int64("lookback_blocks", d.lookbackBlocks))
	return nil
}

// Stop gracefully stops the deposit listener.
func (d *DepositListener) Stop() {
	zap.L().Info("Stopping deposit listener")
	close(d.stopChan)
	<-d.doneChan
	for _, client := range d.clients {
		client.Close()
	}
	zap.L().Info("Deposit listener stopped")
}

func (d *DepositListener) pollLoop(ctx context.Context) {
	defer close(d.doneChan)

	ticker := time.NewTicker(d.pollingInterval)
	defer ticker.Stop()

	d.pollChains(ctx)

	for {
		select {
		case <-ticker.C:
			d.pollChains(ctx)
		case <-d.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// pollChains scans all monitored chains concurrently.
func (d *DepositListener) pollChains(ctx context.Context) {
	var wg sync.WaitGroup
	for chainId := range d.chains {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if err := d.pollChain(ctx, id); err != nil {
				zap.L().Error("Failed to poll chain",
					zap.Int64("chain_id", id),
					zap.Error(err))
			}
		}(chainId)
	}
	wg.Wait()
}

// pollChain scans one chain from the last scanned block up to the confirmed
// head, bounded by maxBlockRange per pass. The remainder is picked up next tick.
func (d *DepositListener) pollChain(ctx context.Context, chainId int64) error {
	chain := d.chains[chainId]
	client := d.clients[chainId]

	head, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to fetch head: %w", err)
	}
	confirmed := head.Number.Int64() - chain.Confirmations
	if confirmed < 0 {
		confirmed = 0
	}

	d.mu.Lock()
	from := d.lastScanned[chainId] + 1
	d.mu.Unlock()
	if from > confirmed {
		return nil
	}
	to := confirmed
	if to-from > maxBlockRange {
		to = from + maxBlockRange
	}

	treasury := ethcommon.HexToAddress(chain.TreasuryAddress)
	query := ethereum.FilterQuery{
		FromBlock: big.NewInt(from),
		ToBlock:   big.NewInt(to),
		Addresses: []ethcommon.Address{ethcommon.HexToAddress(chain.UsdtContract)},
		Topics: [][]ethcommon.Hash{
			{transferEventSig},
			nil,
			{ethcommon.BytesToHash(treasury.Bytes())},
		},
	}

	logs, err := client.FilterLogs(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to filter transfer logs: %w", err)
	}

	for i := range logs {
		if err := d.processTransfer(ctx, chainId, chain, &logs[i]); err != nil {
			zap.L().Error("Failed to process transfer log",
				zap.Int64("chain_id", chainId),
				zap.String("tx_hash", logs[i].TxHash.Hex()),
				zap.Error(err))
		}
	}

	d.mu.Lock()
	d.lastScanned[chainId] = to
	d.mu.Unlock()

	if len(logs) > 0 {
		zap.L().Info("Scanned block range",
			zap.Int64("chain_id", chainId),
			zap.Int64("from", from),
			zap.Int64("to", to),
			zap.Int("transfers", len(logs)))
	}
	return nil
}

// processTransfer credits one confirmed USDT transfer into the treasury.
// Duplicate transactions are expected on overlapping scans and ignored.
func (d *DepositListener) processTransfer(ctx context.Context, chainId int64, chain models.ChainConfig, log *types.Log) error {
	sender, amount, err := parseTransferLog(log, chain.TokenDecimals)
	if err != nil {
		return err
	}

	blockNumber := int64(log.BlockNumber)
	ctx = models.WithDepositContext(ctx, &models.DepositContext{
		SourceAddress: sender,
		BlockNumber:   blockNumber,
		LogIndex:      log.Index,
	})

	result, err := d.settlement.CreditDeposit(ctx, settlement.CreditRequest{
		UserAddress:  sender,
		ChainId:      chainId,
		Amount:       amount,
		SourceTxHash: strings.ToLower(log.TxHash.Hex()),
	})
	if err != nil {
		if settlement.KindOf(err) == settlement.KindDuplicateTransaction {
			return nil
		}
		return err
	}

	zap.L().Info("Deposit detected and credited",
		zap.Int64("chain_id", chainId),
		zap.String("user_address", sender),
		zap.String("amount", amount.String()),
		zap.String("tx_hash", log.TxHash.Hex()),
		zap.Int64("block", blockNumber),
		zap.String("deposit_id", result.DepositId))
	return nil
}

// parseTransferLog extracts the sender and human-unit amount from an ERC-20
// Transfer event log.
func parseTransferLog(log *types.Log, tokenDecimals int32) (string, decimal.Decimal, error) {
	if len(log.Topics) < 3 {
		return "", decimal.Zero, fmt.Errorf("transfer log has %d topics, want 3", len(log.Topics))
	}
	if len(log.Data) != 32 {
		return "", decimal.Zero, fmt.Errorf("transfer log data is %d bytes, want 32", len(log.Data))
	}
	sender := strings.ToLower(ethcommon.BytesToAddress(log.Topics[1].Bytes()).Hex())
	raw := new(big.Int).SetBytes(log.Data)
	amount := decimal.NewFromBigInt(raw, -tokenDecimals)
	return sender, amount, nil
}
