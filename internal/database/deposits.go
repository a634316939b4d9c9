package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"usdt-vault-go/internal/models"
	"usdt-vault-go/internal/store"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreateDeposit records a confirmed on-chain deposit. The UNIQUE(chain_id,
// source_tx_hash) index is the duplicate guard; a constraint violation maps to
// store.ErrDuplicateTransaction so the same on-chain transaction can never be
// credited twice, even under concurrent requests.
func (s *Service) CreateDeposit(ctx context.Context, params store.CreateDepositParams) (*models.Deposit, error) {
	zap.L().Info("Creating deposit",
		zap.String("user_address", params.UserAddress),
		zap.Int64("chain_id", params.ChainId),
		zap.String("source_tx_hash", params.SourceTxHash),
		zap.String("amount", params.Amount.String()))

	now := time.Now().UTC()
	deposit := &models.Deposit{}
	var originalStr, balanceStr, yieldStr, lastRedeemedStr string
	var lastRedeemedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, queryInsertDeposit,
		uuid.New().String(), params.UserAddress, params.ChainId, params.SourceTxHash,
		params.Amount.String(), params.Amount.String(), now, now).
		Scan(&deposit.Id, &deposit.UserAddress, &deposit.ChainId, &deposit.SourceTxHash,
			&originalStr, &balanceStr, &yieldStr, &lastRedeemedStr,
			&lastRedeemedAt, &deposit.LastRedeemedTxHash, &deposit.CreatedAt, &deposit.UpdatedAt)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, fmt.Errorf("%w: source tx %s already credited on chain %d",
				store.ErrDuplicateTransaction, params.SourceTxHash, params.ChainId)
		}
		return nil, fmt.Errorf("failed to insert deposit: %w", err)
	}

	if deposit.OriginalAmount, err = decimal.NewFromString(originalStr); err != nil {
		return nil, fmt.Errorf("failed to parse original amount '%s': %w", originalStr, err)
	}
	if deposit.CurrentBalance, err = decimal.NewFromString(balanceStr); err != nil {
		return nil, fmt.Errorf("failed to parse current balance '%s': %w", balanceStr, err)
	}
	if deposit.YieldAccrued, err = decimal.NewFromString(yieldStr); err != nil {
		return nil, fmt.Errorf("failed to parse yield accrued '%s': %w", yieldStr, err)
	}
	if deposit.LastRedeemedAmount, err = decimal.NewFromString(lastRedeemedStr); err != nil {
		return nil, fmt.Errorf("failed to parse last redeemed amount '%s': %w", lastRedeemedStr, err)
	}
	if lastRedeemedAt.Valid {
		deposit.LastRedeemedAt = &lastRedeemedAt.Time
	}

	zap.L().Info("Deposit created",
		zap.String("deposit_id", deposit.Id),
		zap.String("user_address", deposit.UserAddress),
		zap.Int64("chain_id", deposit.ChainId))
	return deposit, nil
}

// GetDeposits returns all of a user's deposits on a chain in creation order
// (created_at ascending, id as tiebreak). The order is what makes the
// proportional debit deterministic across runs.
func (s *Service) GetDeposits(ctx context.Context, userAddress string, chainId int64) ([]models.Deposit, error) {
	rows, err := s.db.QueryContext(ctx, queryGetDeposits, userAddress, chainId)
	if err != nil {
		return nil, fmt.Errorf("failed to get deposits: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var deposits []models.Deposit
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		deposits = append(deposits, *d)
	}

	if err := rows.Err(); err != nil {
		zap.L().Error("Error during deposit row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating deposit rows: %w", err)
	}

	return deposits, nil
}

// GetUserChainBalance sums current_balance across a user's deposits on a chain.
// The sum happens in Go on exact decimals; SQL SUM over TEXT would go through
// floats and drift.
func (s *Service) GetUserChainBalance(ctx context.Context, userAddress string, chainId int64) (decimal.Decimal, error) {
	deposits, err := s.GetDeposits(ctx, userAddress, chainId)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, d := range deposits {
		total = total.Add(d.CurrentBalance)
	}
	return total, nil
}

// CreditYield increases a deposit's drawable balance and accumulated yield.
// The current_balance predicate is an optimistic guard against a concurrent
// redemption debiting the same deposit.
func (s *Service) CreditYield(ctx context.Context, depositId string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("yield credit must be positive, got %s", amount.String())
	}

	var id, balanceStr, yieldStr string
	err := s.db.QueryRowContext(ctx, queryGetDepositById, depositId).Scan(&id, &balanceStr, &yieldStr)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", store.ErrDepositNotFound, depositId)
	}
	if err != nil {
		return fmt.Errorf("failed to load deposit: %w", err)
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return fmt.Errorf("failed to parse balance '%s': %w", balanceStr, err)
	}
	accrued, err := decimal.NewFromString(yieldStr)
	if err != nil {
		return fmt.Errorf("failed to parse yield '%s': %w", yieldStr, err)
	}

	result, err := s.db.ExecContext(ctx, queryCreditYield,
		balance.Add(amount).String(), accrued.Add(amount).String(), depositId, balanceStr)
	if err != nil {
		return fmt.Errorf("failed to credit yield: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("yield credit failed - %w", store.ErrConcurrentModification)
	}

	zap.L().Info("Yield credited",
		zap.String("deposit_id", depositId),
		zap.String("amount", amount.String()))
	return nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeposit(row rowScanner) (*models.Deposit, error) {
	var d models.Deposit
	var originalStr, balanceStr, yieldStr, lastRedeemedStr string
	var lastRedeemedAt sql.NullTime

	err := row.Scan(&d.Id, &d.UserAddress, &d.ChainId, &d.SourceTxHash,
		&originalStr, &balanceStr, &yieldStr, &lastRedeemedStr,
		&lastRedeemedAt, &d.LastRedeemedTxHash, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan deposit: %w", err)
	}

	if d.OriginalAmount, err = decimal.NewFromString(originalStr); err != nil {
		return nil, fmt.Errorf("failed to parse original amount '%s': %w", originalStr, err)
	}
	if d.CurrentBalance, err = decimal.NewFromString(balanceStr); err != nil {
		return nil, fmt.Errorf("failed to parse current balance '%s': %w", balanceStr, err)
	}
	if d.YieldAccrued, err = decimal.NewFromString(yieldStr); err != nil {
		return nil, fmt.Errorf("failed to parse yield accrued '%s': %w", yieldStr, err)
	}
	if d.LastRedeemedAmount, err = decimal.NewFromString(lastRedeemedStr); err != nil {
		return nil, fmt.Errorf("failed to parse last redeemed amount '%s': %w", lastRedeemedStr, err)
	}
	if lastRedeemedAt.Valid {
		d.LastRedeemedAt = &lastRedeemedAt.Time
	}
	return &d, nil
}
