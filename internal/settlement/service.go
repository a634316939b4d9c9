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

package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"usdt-vault-go/internal/executor"
	"usdt-vault-go/internal/models"
	"usdt-vault-go/internal/store"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// usdtDecimals is the finest granularity accepted on redemption amounts.
const usdtDecimals = 6

// redeemState tracks where a redemption attempt is in its lifecycle. Once the
// reserve is debited the attempt must run to Settled or Failed; there is no
// cancellation and no retry inside a single Redeem call.
type redeemState string

const (
	stateValidated         redeemState = "Validated"
	stateReserveDebited    redeemState = "ReserveDebited"
	stateDepositsDebited   redeemState = "DepositsDebited"
	stateTransferAttempted redeemState = "TransferAttempted"
	stateSettled           redeemState = "Settled"
	stateFailed            redeemState = "Failed"
)

// RedeemRequest is the typed, validated-once form of a redemption request.
type RedeemRequest struct {
	UserAddress    string
	ChainId        int64
	Amount         decimal.Decimal
	TokenType      string
	Simulate       bool
	IdempotencyKey string
}

// CreditRequest records one confirmed on-chain deposit.
type CreditRequest struct {
	UserAddress  string
	ChainId      int64
	Amount       decimal.Decimal
	SourceTxHash string
}

// Service is the settlement core: it decides whether a redemption may proceed,
// mutates the ledgers, drives the external transfer to a terminal outcome and
// records it in the audit trail.
type Service struct {
	store           store.VaultStore
	executor        executor.TransferExecutor
	supportedChains map[int64]bool
}

func NewService(vaultStore store.VaultStore, transferExecutor executor.TransferExecutor, supportedChains []int64) *Service {
	chains := make(map[int64]bool, len(supportedChains))
	for _, id := range supportedChains {
		chains[id] = true
	}
	return &Service{
		store:           vaultStore,
		executor:        transferExecutor,
		supportedChains: chains,
	}
}

// Redeem runs one redemption attempt end to end:
// validate -> reserve debit -> proportional deposit debit -> transfer -> log.
// Validation failures leave no trace in the ledgers. After the reserve debit
// commits, a transfer failure rolls back both the reserve and the deposit
// debits before the failure is logged and returned, so a failed transfer never
// leaves the user's balance reduced without funds having moved.
func (s *Service) Redeem(ctx context.Context, req RedeemRequest) (*models.RedeemResult, error) {
	userAddress, err := s.validateRedeemRequest(&req)
	if err != nil {
		return failureResult(req.Simulate, err), err
	}
	req.UserAddress = userAddress

	// A replayed idempotency key returns the prior outcome instead of running
	// a second transfer for the same intent.
	if req.IdempotencyKey != "" {
		prior, err := s.store.FindRedemptionByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			ierr := newError(KindInternalError, "idempotency lookup failed", err)
			return failureResult(req.Simulate, ierr), ierr
		}
		if prior != nil {
			zap.L().Info("Replayed idempotency key, returning prior outcome",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.String("log_id", prior.Id))
			return s.resultFromLog(ctx, prior)
		}
	}

	state := stateValidated
	zap.L().Info("Redemption validated",
		zap.String("user_address", req.UserAddress),
		zap.Int64("chain_id", req.ChainId),
		zap.String("amount", req.Amount.String()),
		zap.Bool("simulate", req.Simulate))

	// Step 1: load the user's deposits and check spendable balance.
	deposits, err := s.store.GetDeposits(ctx, req.UserAddress, req.ChainId)
	if err != nil {
		ierr := newError(KindInternalError, "failed to load deposits", err)
		return failureResult(req.Simulate, ierr), ierr
	}

	totalSpendable := decimal.Zero
	for _, d := range deposits {
		totalSpendable = totalSpendable.Add(d.CurrentBalance)
	}

	if len(deposits) == 0 || totalSpendable.IsZero() {
		nerr := newErrorWithDetails(KindNoFunds,
			fmt.Sprintf("no funds for %s on chain %d", req.UserAddress, req.ChainId), nil)
		return failureResult(req.Simulate, nerr), nerr
	}
	if req.Amount.GreaterThan(totalSpendable) {
		berr := newErrorWithDetails(KindInsufficientBalance, "requested amount exceeds spendable balance",
			map[string]string{
				"requested": req.Amount.String(),
				"available": totalSpendable.String(),
				"shortfall": req.Amount.Sub(totalSpendable).String(),
			})
		return failureResult(req.Simulate, berr), berr
	}

	// Step 2: reserve check and debit. Simulated runs never touch the reserve;
	// they only read it for reporting.
	var reserveBefore, reserveAfter decimal.Decimal
	if req.Simulate {
		if reserve, err := s.store.GetReserve(ctx, req.ChainId); err == nil {
			reserveBefore = reserve.TotalReserve
			reserveAfter = reserve.TotalReserve
		}
	} else {
		reserveBefore, reserveAfter, err = s.store.DebitReserve(ctx, req.ChainId, req.Amount)
		if err != nil {
			rerr := s.classifyReserveError(ctx, req, err)
			return failureResult(req.Simulate, rerr), rerr
		}
		state = stateReserveDebited
	}

	// Step 3: plan the proportional debit across deposits in creation order.
	debits, err := planDebits(deposits, req.Amount)
	if err != nil {
		if state == stateReserveDebited {
			s.rollbackReserve(ctx, req.ChainId, req.Amount)
		}
		ierr := newError(KindInternalError, "failed to plan deposit debits", err)
		return failureResult(req.Simulate, ierr), ierr
	}

	if !req.Simulate {
		if err := s.store.ApplyDepositDebits(ctx, debits); err != nil {
			s.rollbackReserve(ctx, req.ChainId, req.Amount)
			ierr := newError(KindInternalError, "failed to apply deposit debits", err)
			return failureResult(req.Simulate, ierr), ierr
		}
		state = stateDepositsDebited
	}

	// Step 4: external settlement.
	state = stateTransferAttempted
	transfer, err := s.executor.Execute(ctx, executor.TransferRequest{
		Destination:    req.UserAddress,
		Amount:         req.Amount,
		ChainId:        req.ChainId,
		Simulate:       req.Simulate,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		transfer = &executor.TransferResult{
			Success:   false,
			ErrorKind: executor.ErrorKindUnknown,
			Message:   err.Error(),
		}
	}

	if !transfer.Success {
		state = stateFailed
		return s.finalizeFailure(ctx, req, debits, reserveBefore, transfer)
	}

	// Step 5: finalize. Stamp the settled tx on every debited deposit, append
	// the audit record, report the new balance.
	state = stateSettled
	if !req.Simulate {
		depositIds := make([]string, len(debits))
		for i, debit := range debits {
			depositIds[i] = debit.DepositId
		}
		if err := s.store.StampRedemptionTx(ctx, depositIds, transfer.TxId); err != nil {
			zap.L().Error("Failed to stamp redemption tx on deposits",
				zap.String("tx_id", transfer.TxId), zap.Error(err))
		}
	}

	newBalance := totalSpendable
	if !req.Simulate {
		newBalance = totalSpendable.Sub(req.Amount)
	}

	if _, err := s.store.AppendRedemptionLog(ctx, store.RedemptionLogParams{
		UserAddress:    req.UserAddress,
		ChainId:        req.ChainId,
		Amount:         req.Amount,
		TxId:           transfer.TxId,
		ReserveBefore:  reserveBefore,
		ReserveAfter:   reserveAfter,
		Simulated:      req.Simulate,
		OnChainSuccess: !req.Simulate,
		BlockNumber:    transfer.BlockNumber,
		GasUsed:        transfer.GasUsed,
		IdempotencyKey: req.IdempotencyKey,
		AttemptedAt:    time.Now().UTC(),
	}); err != nil {
		zap.L().Error("Failed to append redemption log", zap.Error(err))
	}

	zap.L().Info("Redemption settled",
		zap.String("user_address", req.UserAddress),
		zap.Int64("chain_id", req.ChainId),
		zap.String("amount", req.Amount.String()),
		zap.String("tx_id", transfer.TxId),
		zap.String("state", string(state)),
		zap.Bool("simulated", req.Simulate))

	return &models.RedeemResult{
		Success:       true,
		TxId:          transfer.TxId,
		NewBalance:    newBalance,
		ReserveBefore: reserveBefore,
		ReserveAfter:  reserveAfter,
		BlockNumber:   transfer.BlockNumber,
		GasUsed:       transfer.GasUsed,
		Simulated:     req.Simulate,
	}, nil
}

// finalizeFailure rolls back the ledger mutations of a failed transfer,
// appends the audit record and returns TransferFailed. Rollback failures are
// surfaced as InternalError because the ledgers then need manual attention.
func (s *Service) finalizeFailure(ctx context.Context, req RedeemRequest, debits []store.DepositDebit,
	reserveBefore decimal.Decimal, transfer *executor.TransferResult) (*models.RedeemResult, error) {

	var rollbackErr error
	reserveAfter := reserveBefore
	if !req.Simulate {
		if err := s.store.RevertDepositDebits(ctx, debits); err != nil {
			rollbackErr = fmt.Errorf("deposit debit rollback failed: %w", err)
		}
		if _, after, err := s.store.CreditReserve(ctx, req.ChainId, req.Amount); err != nil {
			rollbackErr = errors.Join(rollbackErr, fmt.Errorf("reserve rollback failed: %w", err))
		} else {
			reserveAfter = after
		}
	}

	transferError := transfer.Message
	if transfer.Ambiguous {
		transferError = fmt.Sprintf("%s (ambiguous: submission may have broadcast)", transferError)
	}

	if _, err := s.store.AppendRedemptionLog(ctx, store.RedemptionLogParams{
		UserAddress:    req.UserAddress,
		ChainId:        req.ChainId,
		Amount:         req.Amount,
		ReserveBefore:  reserveBefore,
		ReserveAfter:   reserveAfter,
		Simulated:      req.Simulate,
		OnChainSuccess: false,
		TransferError:  transferError,
		IdempotencyKey: req.IdempotencyKey,
		AttemptedAt:    time.Now().UTC(),
	}); err != nil {
		zap.L().Error("Failed to append redemption log for failed transfer", zap.Error(err))
	}

	zap.L().Warn("Redemption failed at transfer step",
		zap.String("user_address", req.UserAddress),
		zap.Int64("chain_id", req.ChainId),
		zap.String("amount", req.Amount.String()),
		zap.String("error_kind", transfer.ErrorKind),
		zap.String("transfer_error", transferError),
		zap.Bool("rolled_back", rollbackErr == nil))

	if rollbackErr != nil {
		zap.L().Error("Ledger rollback incomplete, manual reconciliation required",
			zap.String("user_address", req.UserAddress),
			zap.Int64("chain_id", req.ChainId),
			zap.Error(rollbackErr))
		ierr := newError(KindInternalError, "transfer failed and rollback incomplete", rollbackErr)
		return failureResult(req.Simulate, ierr), ierr
	}

	terr := &Error{
		Kind:    KindTransferFailed,
		Message: transferError,
		Details: map[string]string{"executorErrorKind": transfer.ErrorKind},
	}
	result := failureResult(req.Simulate, terr)
	result.ReserveBefore = reserveBefore
	result.ReserveAfter = reserveAfter
	return result, terr
}

func (s *Service) validateRedeemRequest(req *RedeemRequest) (string, error) {
	if req.Amount.Sign() <= 0 {
		return "", newErrorWithDetails(KindInvalidAmount,
			fmt.Sprintf("amount must be positive, got %s", req.Amount.String()), nil)
	}
	if !req.Amount.Equal(req.Amount.Truncate(usdtDecimals)) {
		return "", newErrorWithDetails(KindInvalidAmount,
			fmt.Sprintf("amount %s exceeds USDT precision of %d decimals", req.Amount.String(), usdtDecimals), nil)
	}
	if req.TokenType != "" && !strings.EqualFold(req.TokenType, "USDT") {
		return "", newErrorWithDetails(KindInvalidAmount,
			fmt.Sprintf("unsupported token type %q", req.TokenType), nil)
	}
	if !s.supportedChains[req.ChainId] {
		return "", newErrorWithDetails(KindUnsupportedChain,
			fmt.Sprintf("chain %d is not supported", req.ChainId), nil)
	}
	return NormalizeAddress(req.UserAddress)
}

// NormalizeAddress validates and case-normalizes an EVM address. All store
// keys use the normalized form so the same wallet never splits into multiple
// balances by casing.
func NormalizeAddress(address string) (string, error) {
	trimmed := strings.TrimSpace(address)
	if !ethcommon.IsHexAddress(trimmed) {
		return "", newErrorWithDetails(KindInvalidUser,
			fmt.Sprintf("%q is not a valid address", address), nil)
	}
	return strings.ToLower(ethcommon.HexToAddress(trimmed).Hex()), nil
}

func (s *Service) classifyReserveError(ctx context.Context, req RedeemRequest, err error) error {
	switch {
	case errors.Is(err, store.ErrReserveNotConfigured):
		// Configuration gap: fail loudly, never fabricate a success.
		return newError(KindReserveNotConfigured,
			fmt.Sprintf("reserve ledger not configured for chain %d", req.ChainId), err)
	case errors.Is(err, store.ErrInsufficientReserve):
		details := map[string]string{"requested": req.Amount.String()}
		if reserve, rerr := s.store.GetReserve(ctx, req.ChainId); rerr == nil {
			details["reserve"] = reserve.TotalReserve.String()
			details["shortfall"] = req.Amount.Sub(reserve.TotalReserve).String()
		}
		return &Error{
			Kind:    KindInsufficientReserve,
			Message: fmt.Sprintf("reserve on chain %d cannot cover %s", req.ChainId, req.Amount.String()),
			Details: details,
			Err:     err,
		}
	default:
		return newError(KindInternalError, "reserve debit failed", err)
	}
}

// rollbackReserve undoes a committed reserve debit after a later step failed
// before the transfer was attempted.
func (s *Service) rollbackReserve(ctx context.Context, chainId int64, amount decimal.Decimal) {
	if _, _, err := s.store.CreditReserve(ctx, chainId, amount); err != nil {
		zap.L().Error("Reserve rollback failed, manual reconciliation required",
			zap.Int64("chain_id", chainId),
			zap.String("amount", amount.String()),
			zap.Error(err))
	}
}

// resultFromLog reconstructs a RedeemResult from a prior audit entry.
func (s *Service) resultFromLog(ctx context.Context, entry *models.RedemptionLog) (*models.RedeemResult, error) {
	newBalance, err := s.store.GetUserChainBalance(ctx, entry.UserAddress, entry.ChainId)
	if err != nil {
		ierr := newError(KindInternalError, "balance lookup failed", err)
		return failureResult(entry.Simulated, ierr), ierr
	}

	result := &models.RedeemResult{
		Success:       entry.OnChainSuccess || entry.Simulated,
		TxId:          entry.TxId,
		NewBalance:    newBalance,
		ReserveBefore: entry.ReserveBefore,
		ReserveAfter:  entry.ReserveAfter,
		BlockNumber:   entry.BlockNumber,
		GasUsed:       entry.GasUsed,
		Simulated:     entry.Simulated,
	}
	if !result.Success {
		result.ErrorKind = string(KindTransferFailed)
		result.Error = entry.TransferError
	}
	return result, nil
}

func failureResult(simulated bool, err error) *models.RedeemResult {
	result := &models.RedeemResult{
		Success:   false,
		Simulated: simulated,
		ErrorKind: string(KindOf(err)),
		Error:     err.Error(),
	}
	var se *Error
	if errors.As(err, &se) {
		result.Error = se.Message
	}
	return result
}
