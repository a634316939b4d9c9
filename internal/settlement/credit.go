package settlement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"usdt-vault-go/internal/models"
	"usdt-vault-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	maxCreditAttempts  = 3
	creditRetryBackoff = 100 * time.Millisecond
)

// CreditDeposit records one confirmed on-chain deposit. The store's unique
// (chain_id, source_tx_hash) constraint is the only duplicate guard -- there is
// deliberately no check-then-insert, so two concurrent requests for the same
// transaction cannot both pass a pre-check. Transient store errors are retried
// a bounded number of times; a constraint conflict is a genuine duplicate and
// returns immediately.
func (s *Service) CreditDeposit(ctx context.Context, req CreditRequest) (*models.CreditResult, error) {
	if req.Amount.Sign() <= 0 {
		verr := newErrorWithDetails(KindInvalidAmount,
			fmt.Sprintf("deposit amount must be positive, got %s", req.Amount.String()), nil)
		return &models.CreditResult{Success: false, Error: verr.Message}, verr
	}
	if req.SourceTxHash == "" {
		verr := newErrorWithDetails(KindInvalidAmount, "source transaction hash is required", nil)
		return &models.CreditResult{Success: false, Error: verr.Message}, verr
	}
	if !s.supportedChains[req.ChainId] {
		verr := newErrorWithDetails(KindUnsupportedChain,
			fmt.Sprintf("chain %d is not supported", req.ChainId), nil)
		return &models.CreditResult{Success: false, Error: verr.Message}, verr
	}
	userAddress, err := NormalizeAddress(req.UserAddress)
	if err != nil {
		return &models.CreditResult{Success: false, Error: err.Error()}, err
	}

	var deposit *models.Deposit
	var lastErr error
	for attempt := 1; attempt <= maxCreditAttempts; attempt++ {
		deposit, lastErr = s.store.CreateDeposit(ctx, store.CreateDepositParams{
			UserAddress:  userAddress,
			ChainId:      req.ChainId,
			Amount:       req.Amount,
			SourceTxHash: req.SourceTxHash,
		})
		if lastErr == nil {
			break
		}
		if errors.Is(lastErr, store.ErrDuplicateTransaction) {
			zap.L().Info("Duplicate deposit rejected",
				zap.String("source_tx_hash", req.SourceTxHash),
				zap.Int64("chain_id", req.ChainId))
			derr := newError(KindDuplicateTransaction,
				fmt.Sprintf("transaction %s already credited on chain %d", req.SourceTxHash, req.ChainId),
				lastErr)
			return &models.CreditResult{Success: false, Error: derr.Message}, derr
		}

		zap.L().Warn("Deposit insert failed, retrying",
			zap.Int("attempt", attempt),
			zap.String("source_tx_hash", req.SourceTxHash),
			zap.Error(lastErr))
		select {
		case <-ctx.Done():
			ierr := newError(KindInternalError, "deposit crediting cancelled", ctx.Err())
			return &models.CreditResult{Success: false, Error: ierr.Message}, ierr
		case <-time.After(creditRetryBackoff * time.Duration(attempt)):
		}
	}
	if lastErr != nil {
		ierr := newError(KindInternalError,
			fmt.Sprintf("deposit insert failed after %d attempts", maxCreditAttempts), lastErr)
		return &models.CreditResult{Success: false, Error: ierr.Message}, ierr
	}

	total, err := s.store.GetUserChainBalance(ctx, userAddress, req.ChainId)
	if err != nil {
		ierr := newError(KindInternalError, "balance lookup failed after crediting", err)
		return &models.CreditResult{Success: false, Error: ierr.Message}, ierr
	}

	zap.L().Info("Deposit credited",
		zap.String("deposit_id", deposit.Id),
		zap.String("user_address", userAddress),
		zap.Int64("chain_id", req.ChainId),
		zap.String("amount", req.Amount.String()),
		zap.String("chain_total", total.String()))

	return &models.CreditResult{
		Success:              true,
		DepositId:            deposit.Id,
		UpdatedTotalForChain: total,
	}, nil
}

// ChainBalances returns the user's spendable balance per supported chain.
func (s *Service) ChainBalances(ctx context.Context, userAddress string) ([]models.ChainBalance, error) {
	normalized, err := NormalizeAddress(userAddress)
	if err != nil {
		return nil, err
	}

	var balances []models.ChainBalance
	for chainId := range s.supportedChains {
		deposits, err := s.store.GetDeposits(ctx, normalized, chainId)
		if err != nil {
			return nil, newError(KindInternalError,
				fmt.Sprintf("failed to load deposits for chain %d", chainId), err)
		}
		if len(deposits) == 0 {
			continue
		}
		total := decimalSum(deposits)
		balances = append(balances, models.ChainBalance{
			ChainId:      chainId,
			Balance:      total,
			DepositCount: len(deposits),
		})
	}
	sort.Slice(balances, func(i, j int) bool { return balances[i].ChainId < balances[j].ChainId })
	return balances, nil
}

func decimalSum(deposits []models.Deposit) (total decimal.Decimal) {
	for _, d := range deposits {
		total = total.Add(d.CurrentBalance)
	}
	return total
}
