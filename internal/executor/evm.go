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

package executor

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"usdt-vault-go/internal/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// EvmExecutor submits signed ERC-20 transfers from the treasury account.
// RPC clients are built lazily per chain and cached; the cache is guarded by a
// mutex because redemptions for different chains run concurrently.
type EvmExecutor struct {
	chains map[int64]models.ChainConfig
	cfg    models.ExecutorConfig
	key    *ecdsa.PrivateKey
	from   ethcommon.Address

	mu      sync.Mutex
	clients map[int64]*ethclient.Client
}

var _ TransferExecutor = (*EvmExecutor)(nil)

func NewEvmExecutor(chains map[int64]models.ChainConfig, cfg models.ExecutorConfig) (*EvmExecutor, error) {
	if len(chains) == 0 {
		return nil, fmt.Errorf("executor requires at least one configured chain")
	}
	if cfg.TreasuryPrivateKey == "" {
		return nil, fmt.Errorf("missing treasury private key")
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.TreasuryPrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid treasury private key: %w", err)
	}

	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 15 * time.Second
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 90 * time.Second
	}

	return &EvmExecutor{
		chains:  chains,
		cfg:     cfg,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		clients: make(map[int64]*ethclient.Client),
	}, nil
}

// Execute performs (or simulates) one USDT transfer. The submission phase runs
// under SubmitTimeout; a deadline hit after broadcast started is reported as an
// ambiguous Timeout because the transaction may still land on chain.
func (e *EvmExecutor) Execute(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if req.Simulate {
		// Synthetic but clearly marked: no RPC traffic, no signing.
		result := &TransferResult{
			Success:   true,
			TxId:      "sim-" + uuid.New().String(),
			Simulated: true,
		}
		zap.L().Info("Simulated transfer",
			zap.String("destination", req.Destination),
			zap.String("amount", req.Amount.String()),
			zap.Int64("chain_id", req.ChainId),
			zap.String("tx_id", result.TxId))
		return result, nil
	}

	chain, ok := e.chains[req.ChainId]
	if !ok {
		return failure(ErrorKindUnknown, fmt.Sprintf("chain %d not configured", req.ChainId), false), nil
	}

	client, err := e.clientFor(ctx, req.ChainId)
	if err != nil {
		return failure(ErrorKindUnknown, fmt.Sprintf("rpc connection failed: %v", err), false), nil
	}

	submitCtx, cancel := context.WithTimeout(ctx, e.cfg.SubmitTimeout)
	defer cancel()

	token := ethcommon.HexToAddress(chain.UsdtContract)
	destination := ethcommon.HexToAddress(req.Destination)
	tokenAmount := req.Amount.Shift(chain.TokenDecimals).BigInt()
	data := erc20TransferCalldata(destination, tokenAmount)

	nonce, err := client.PendingNonceAt(submitCtx, e.from)
	if err != nil {
		return failure(classifyRpcError(submitCtx, err), fmt.Sprintf("nonce lookup failed: %v", err), false), nil
	}

	gasPrice, err := client.SuggestGasPrice(submitCtx)
	if err != nil {
		return failure(classifyRpcError(submitCtx, err), fmt.Sprintf("gas price lookup failed: %v", err), false), nil
	}

	gasLimit, err := client.EstimateGas(submitCtx, ethereum.CallMsg{
		From: e.from,
		To:   &token,
		Data: data,
	})
	if err != nil {
		kind := ErrorKindGasEstimationFailed
		if strings.Contains(err.Error(), "insufficient funds") {
			kind = ErrorKindInsufficientTreasuryFunds
		}
		return failure(kind, fmt.Sprintf("gas estimation failed: %v", err), false), nil
	}

	tx := types.NewTransaction(nonce, token, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(req.ChainId)), e.key)
	if err != nil {
		return failure(ErrorKindUnknown, fmt.Sprintf("signing failed: %v", err), false), nil
	}

	zap.L().Info("Submitting USDT transfer",
		zap.Int64("chain_id", req.ChainId),
		zap.String("destination", req.Destination),
		zap.String("amount", req.Amount.String()),
		zap.String("tx_hash", signedTx.Hash().Hex()),
		zap.Uint64("nonce", nonce))

	if err := client.SendTransaction(submitCtx, signedTx); err != nil {
		// Past this point the node may have accepted the transaction even
		// though the call errored; a deadline hit is ambiguous.
		return failure(classifyRpcError(submitCtx, err),
			fmt.Sprintf("transaction submission failed: %v", err),
			errors.Is(submitCtx.Err(), context.DeadlineExceeded)), nil
	}

	result := &TransferResult{
		Success: true,
		TxId:    signedTx.Hash().Hex(),
		GasUsed: "",
	}

	if e.cfg.WaitForReceipt {
		confirmCtx, confirmCancel := context.WithTimeout(ctx, e.cfg.ConfirmTimeout)
		defer confirmCancel()

		receipt, err := bind.WaitMined(confirmCtx, client, signedTx)
		if err != nil {
			// Broadcast succeeded; only confirmation is unknown. Return the
			// hash so reconciliation can pick it up later.
			zap.L().Warn("Transfer broadcast but confirmation timed out",
				zap.String("tx_hash", result.TxId), zap.Error(err))
			return result, nil
		}
		if receipt.Status == types.ReceiptStatusFailed {
			return failure(ErrorKindUnknown,
				fmt.Sprintf("transaction %s reverted on chain", result.TxId), false), nil
		}
		block := receipt.BlockNumber.Int64()
		result.BlockNumber = &block
		result.GasUsed = fmt.Sprintf("%d", receipt.GasUsed)
	}

	zap.L().Info("Transfer settled",
		zap.String("tx_hash", result.TxId),
		zap.Int64("chain_id", req.ChainId))
	return result, nil
}

// clientFor returns the cached RPC client for a chain, dialing on first use.
func (e *EvmExecutor) clientFor(ctx context.Context, chainId int64) (*ethclient.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if client, ok := e.clients[chainId]; ok {
		return client, nil
	}

	chain := e.chains[chainId]
	httpClient, err := createCustomHttpClient()
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	rpcClient, err := rpc.DialOptions(ctx, chain.RpcUrl, rpc.WithHTTPClient(&httpClient))
	if err != nil {
		return nil, fmt.Errorf("unable to dial %s: %w", chain.Name, err)
	}

	client := ethclient.NewClient(rpcClient)
	e.clients[chainId] = client
	zap.L().Info("EVM client connected",
		zap.Int64("chain_id", chainId),
		zap.String("chain", chain.Name))
	return client, nil
}

// Invalidate drops the cached client for a chain so the next call re-dials.
// Called when chain configuration changes at runtime.
func (e *EvmExecutor) Invalidate(chainId int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if client, ok := e.clients[chainId]; ok {
		client.Close()
		delete(e.clients, chainId)
	}
}

// Close releases every cached RPC client.
func (e *EvmExecutor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, client := range e.clients {
		client.Close()
		delete(e.clients, id)
	}
}

func createCustomHttpClient() (http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return http.Client{}, err
	}

	return http.Client{
		Transport: tr,
		Timeout:   60 * time.Second,
	}, nil
}

func erc20TransferCalldata(to ethcommon.Address, amount *big.Int) []byte {
	methodId := crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]
	data := make([]byte, 0, 4+32+32)
	data = append(data, methodId...)
	data = append(data, ethcommon.LeftPadBytes(to.Bytes(), 32)...)
	data = append(data, ethcommon.LeftPadBytes(amount.Bytes(), 32)...)
	return data
}

func classifyRpcError(ctx context.Context, err error) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return ErrorKindInsufficientTreasuryFunds
	case strings.Contains(msg, "nonce too low"), strings.Contains(msg, "nonce too high"),
		strings.Contains(msg, "replacement transaction"):
		return ErrorKindNonceExpired
	default:
		return ErrorKindUnknown
	}
}

func failure(kind, message string, ambiguous bool) *TransferResult {
	return &TransferResult{
		Success:   false,
		ErrorKind: kind,
		Message:   message,
		Ambiguous: ambiguous,
	}
}
