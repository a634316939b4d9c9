package database

import (
	"context"
	"database/sql"
	"fmt"

	"usdt-vault-go/internal/models"
	"usdt-vault-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// maxReserveAttempts bounds the optimistic retry loop around the versioned
// reserve update. Conflicts only happen when two redemptions race on the same
// chain, so a small count is plenty.
const maxReserveAttempts = 5

// GetReserve loads the reserve ledger row for a chain. A missing row is a
// configuration gap and surfaces as store.ErrReserveNotConfigured -- it is
// never papered over with a fabricated balance.
func (s *Service) GetReserve(ctx context.Context, chainId int64) (*models.ReserveLedger, error) {
	reserve, _, err := s.getReserveRow(ctx, chainId)
	return reserve, err
}

// SeedReserve creates or replaces the reserve ledger row for a chain.
// Seeding is an out-of-band operator action, not part of the redemption path.
func (s *Service) SeedReserve(ctx context.Context, chainId int64, amount decimal.Decimal, notes string) error {
	if amount.IsNegative() {
		return fmt.Errorf("reserve cannot be negative, got %s", amount.String())
	}

	_, err := s.db.ExecContext(ctx, queryInsertReserve, chainId, amount.String(), notes)
	if err != nil {
		return fmt.Errorf("failed to seed reserve: %w", err)
	}

	zap.L().Info("Reserve seeded",
		zap.Int64("chain_id", chainId),
		zap.String("total_reserve", amount.String()))
	return nil
}

// DebitReserve atomically decrements a chain's reserve. The sufficiency check
// and the write are tied together by the version predicate: if another
// redemption commits in between, the UPDATE matches zero rows and the whole
// read-check-write cycle retries against the fresh row. The reserve can never
// go negative and two racing redemptions can never both spend the same funds.
func (s *Service) DebitReserve(ctx context.Context, chainId int64, amount decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("debit amount must be positive, got %s", amount.String())
	}

	for attempt := 1; attempt <= maxReserveAttempts; attempt++ {
		reserve, version, err := s.getReserveRow(ctx, chainId)
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}

		if reserve.TotalReserve.LessThan(amount) {
			return decimal.Zero, decimal.Zero, fmt.Errorf(
				"%w: requested %s, reserve %s on chain %d",
				store.ErrInsufficientReserve, amount.String(), reserve.TotalReserve.String(), chainId)
		}

		after := reserve.TotalReserve.Sub(amount)
		ok, err := s.compareAndSetReserve(ctx, chainId, after, version)
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		if ok {
			zap.L().Info("Reserve debited",
				zap.Int64("chain_id", chainId),
				zap.String("amount", amount.String()),
				zap.String("reserve_before", reserve.TotalReserve.String()),
				zap.String("reserve_after", after.String()))
			return reserve.TotalReserve, after, nil
		}

		zap.L().Debug("Reserve version conflict, retrying",
			zap.Int64("chain_id", chainId),
			zap.Int("attempt", attempt))
	}

	return decimal.Zero, decimal.Zero, fmt.Errorf("reserve debit failed after %d attempts - %w",
		maxReserveAttempts, store.ErrConcurrentModification)
}

// CreditReserve adds funds back to a chain's reserve. Used by the settlement
// core to roll back a debit when the on-chain transfer fails.
func (s *Service) CreditReserve(ctx context.Context, chainId int64, amount decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("credit amount must be positive, got %s", amount.String())
	}

	for attempt := 1; attempt <= maxReserveAttempts; attempt++ {
		reserve, version, err := s.getReserveRow(ctx, chainId)
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}

		after := reserve.TotalReserve.Add(amount)
		ok, err := s.compareAndSetReserve(ctx, chainId, after, version)
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		if ok {
			zap.L().Info("Reserve credited",
				zap.Int64("chain_id", chainId),
				zap.String("amount", amount.String()),
				zap.String("reserve_after", after.String()))
			return reserve.TotalReserve, after, nil
		}
	}

	return decimal.Zero, decimal.Zero, fmt.Errorf("reserve credit failed after %d attempts - %w",
		maxReserveAttempts, store.ErrConcurrentModification)
}

func (s *Service) getReserveRow(ctx context.Context, chainId int64) (*models.ReserveLedger, int64, error) {
	var reserve models.ReserveLedger
	var totalStr string
	var version int64

	err := s.db.QueryRowContext(ctx, queryGetReserve, chainId).
		Scan(&reserve.ChainId, &totalStr, &reserve.Notes, &version, &reserve.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, 0, fmt.Errorf("%w: chain %d", store.ErrReserveNotConfigured, chainId)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get reserve: %w", err)
	}

	reserve.TotalReserve, err = decimal.NewFromString(totalStr)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to parse reserve '%s': %w", totalStr, err)
	}
	return &reserve, version, nil
}

func (s *Service) compareAndSetReserve(ctx context.Context, chainId int64, newTotal decimal.Decimal, version int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, queryUpdateReserve, newTotal.String(), chainId, version)
	if err != nil {
		return false, fmt.Errorf("failed to update reserve: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}
