package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"usdt-vault-go/internal/models"
	"usdt-vault-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ApplyDepositDebits writes a planned proportional debit in one database
// transaction. Each UPDATE carries the expected pre-debit balance as a
// predicate, so a concurrent mutation of any touched deposit aborts the whole
// batch with store.ErrConcurrentModification and nothing is partially applied.
func (s *Service) ApplyDepositDebits(ctx context.Context, debits []store.DepositDebit) error {
	if len(debits) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, debit := range debits {
		result, err := tx.ExecContext(ctx, queryDebitDeposit,
			debit.BalanceAfter.String(), debit.Take.String(), now,
			debit.DepositId, debit.BalanceBefore.String())
		if err != nil {
			return fmt.Errorf("failed to debit deposit %s: %w", debit.DepositId, err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return fmt.Errorf("deposit %s changed concurrently - %w",
				debit.DepositId, store.ErrConcurrentModification)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deposit debits: %w", err)
	}

	zap.L().Info("Deposit debits applied", zap.Int("count", len(debits)))
	return nil
}

// RevertDepositDebits restores the pre-debit balances after a failed transfer.
// The inverse of ApplyDepositDebits: each UPDATE expects the post-debit balance
// and writes back the pre-debit one, all in a single transaction.
func (s *Service) RevertDepositDebits(ctx context.Context, debits []store.DepositDebit) error {
	if len(debits) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, debit := range debits {
		result, err := tx.ExecContext(ctx, queryRevertDepositDebit,
			debit.BalanceBefore.String(), debit.DepositId, debit.BalanceAfter.String())
		if err != nil {
			return fmt.Errorf("failed to revert deposit %s: %w", debit.DepositId, err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return fmt.Errorf("deposit %s changed concurrently during revert - %w",
				debit.DepositId, store.ErrConcurrentModification)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deposit debit revert: %w", err)
	}

	zap.L().Info("Deposit debits reverted", zap.Int("count", len(debits)))
	return nil
}

// StampRedemptionTx records the settlement transaction hash on every deposit
// that contributed to a successful redemption.
func (s *Service) StampRedemptionTx(ctx context.Context, depositIds []string, txId string) error {
	if len(depositIds) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range depositIds {
		if _, err := tx.ExecContext(ctx, queryStampRedemptionTx, txId, id); err != nil {
			return fmt.Errorf("failed to stamp deposit %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit redemption tx stamp: %w", err)
	}
	return nil
}

// AppendRedemptionLog writes the audit record for a concluded redemption
// attempt. Exactly one entry per attempt, success or failure.
func (s *Service) AppendRedemptionLog(ctx context.Context, params store.RedemptionLogParams) (*models.RedemptionLog, error) {
	entry := &models.RedemptionLog{
		Id:             uuid.New().String(),
		UserAddress:    params.UserAddress,
		ChainId:        params.ChainId,
		Amount:         params.Amount,
		TxId:           params.TxId,
		ReserveBefore:  params.ReserveBefore,
		ReserveAfter:   params.ReserveAfter,
		Simulated:      params.Simulated,
		OnChainSuccess: params.OnChainSuccess,
		TransferError:  params.TransferError,
		BlockNumber:    params.BlockNumber,
		GasUsed:        params.GasUsed,
		IdempotencyKey: params.IdempotencyKey,
		CreatedAt:      params.AttemptedAt,
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var blockNumber sql.NullInt64
	if params.BlockNumber != nil {
		blockNumber = sql.NullInt64{Int64: *params.BlockNumber, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, queryInsertRedemptionLog,
		entry.Id, entry.UserAddress, entry.ChainId, entry.Amount.String(),
		entry.TxId, entry.ReserveBefore.String(), entry.ReserveAfter.String(),
		entry.Simulated, entry.OnChainSuccess, entry.TransferError,
		blockNumber, entry.GasUsed, entry.IdempotencyKey, entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to append redemption log: %w", err)
	}

	zap.L().Info("Redemption log appended",
		zap.String("log_id", entry.Id),
		zap.String("user_address", entry.UserAddress),
		zap.Int64("chain_id", entry.ChainId),
		zap.Bool("on_chain_success", entry.OnChainSuccess),
		zap.Bool("simulated", entry.Simulated))
	return entry, nil
}

// FindRedemptionByIdempotencyKey returns the most recent log entry recorded
// under a caller-supplied idempotency key, or nil when none exists.
func (s *Service) FindRedemptionByIdempotencyKey(ctx context.Context, key string) (*models.RedemptionLog, error) {
	if key == "" {
		return nil, nil
	}

	entry, err := scanRedemptionLog(s.db.QueryRowContext(ctx, queryGetRedemptionByIdempotencyKey, key))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
	}
	return entry, nil
}

// GetRedemptionHistory returns paginated redemption log entries for a user on a chain.
func (s *Service) GetRedemptionHistory(ctx context.Context, userAddress string, chainId int64, limit, offset int) ([]models.RedemptionLog, error) {
	rows, err := s.db.QueryContext(ctx, queryGetRedemptionHistory, userAddress, chainId, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get redemption history: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var entries []models.RedemptionLog
	for rows.Next() {
		entry, err := scanRedemptionLog(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating redemption log rows: %w", err)
	}
	return entries, nil
}

func scanRedemptionLog(row rowScanner) (*models.RedemptionLog, error) {
	var entry models.RedemptionLog
	var amountStr, beforeStr, afterStr string
	var blockNumber sql.NullInt64

	err := row.Scan(&entry.Id, &entry.UserAddress, &entry.ChainId, &amountStr,
		&entry.TxId, &beforeStr, &afterStr, &entry.Simulated, &entry.OnChainSuccess,
		&entry.TransferError, &blockNumber, &entry.GasUsed, &entry.IdempotencyKey,
		&entry.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan redemption log: %w", err)
	}

	if entry.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return nil, fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
	}
	if entry.ReserveBefore, err = decimal.NewFromString(beforeStr); err != nil {
		return nil, fmt.Errorf("failed to parse reserve before '%s': %w", beforeStr, err)
	}
	if entry.ReserveAfter, err = decimal.NewFromString(afterStr); err != nil {
		return nil, fmt.Errorf("failed to parse reserve after '%s': %w", afterStr, err)
	}
	if blockNumber.Valid {
		entry.BlockNumber = &blockNumber.Int64
	}
	return &entry, nil
}
