package formance

import (
	"context"
	"fmt"
	"time"

	"usdt-vault-go/internal/models"
	"usdt-vault-go/internal/store"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// numscriptReserveDebit moves reserve funds toward the settlement account.
// The source is bounded, so the ledger itself enforces sufficiency atomically;
// a short reserve surfaces as INSUFFICIENT_FUND, never as a negative balance.
const numscriptReserveDebit = `vars {
  number $amount
  account $reserve
  account $settlement
  string $chain_id
}

send [USDT/6 $amount] (
  source = $reserve
  destination = $settlement
)

set_tx_meta("event_type", "reserve_debit")
set_tx_meta("chain_id", $chain_id)
`

// numscriptReserveCredit is the compensating entry for a reserve debit whose
// on-chain transfer failed. The settlement source allows overdraft so rollback
// can never itself fail on insufficiency.
const numscriptReserveCredit = `vars {
  number $amount
  account $reserve
  account $settlement
  string $chain_id
}

send [USDT/6 $amount] (
  source = $settlement allowing unbounded overdraft
  destination = $reserve
)

set_tx_meta("event_type", "reserve_credit")
set_tx_meta("chain_id", $chain_id)
`

const numscriptReserveSeedUp = `vars {
  number $amount
  account $reserve
  string $chain_id
}

send [USDT/6 $amount] (
  source = @world
  destination = $reserve
)

set_tx_meta("event_type", "reserve_seed")
set_tx_meta("chain_id", $chain_id)
`

const numscriptReserveSeedDown = `vars {
  number $amount
  account $reserve
  string $chain_id
}

send [USDT/6 $amount] (
  source = $reserve
  destination = @world
)

set_tx_meta("event_type", "reserve_seed")
set_tx_meta("chain_id", $chain_id)
`

// GetReserve returns the reserve state for a chain. A chain whose reserve
// account was never seeded reports ErrReserveNotConfigured.
func (s *Service) GetReserve(ctx context.Context, chainId int64) (*models.ReserveLedger, error) {
	resp, err := s.client.Ledger.V2.GetAccount(ctx, operations.V2GetAccountRequest{
		Ledger:  s.ledger,
		Address: reserveAccount(chainId),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("%w: chain %d", store.ErrReserveNotConfigured, chainId)
		}
		return nil, fmt.Errorf("failed to get reserve account: %w", err)
	}

	acct := resp.V2AccountResponse.Data
	if acct.Metadata["entity_type"] != "reserve" {
		return nil, fmt.Errorf("%w: chain %d", store.ErrReserveNotConfigured, chainId)
	}

	total := decimal.Zero
	if bal := volumeBalance(s.getAccountVolumes(ctx, reserveAccount(chainId)), usdtAsset); bal != nil {
		total = decimal.NewFromBigInt(bal, -usdtPrecision)
	}

	updatedAt := time.Now()
	if acct.UpdatedAt != nil {
		updatedAt = *acct.UpdatedAt
	}

	return &models.ReserveLedger{
		ChainId:      chainId,
		TotalReserve: total,
		Notes:        acct.Metadata["notes"],
		UpdatedAt:    updatedAt,
	}, nil
}

// SeedReserve sets a chain's reserve to an absolute amount by posting the
// difference against @world, then marks the account as configured.
func (s *Service) SeedReserve(ctx context.Context, chainId int64, amount decimal.Decimal, notes string) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("reserve amount must not be negative, got %s", amount.String())
	}

	current := decimal.Zero
	if bal := volumeBalance(s.getAccountVolumes(ctx, reserveAccount(chainId)), usdtAsset); bal != nil {
		current = decimal.NewFromBigInt(bal, -usdtPrecision)
	}

	diff := amount.Sub(current)
	if !diff.IsZero() {
		script := numscriptReserveSeedUp
		if diff.Sign() < 0 {
			script = numscriptReserveSeedDown
			diff = diff.Neg()
		}
		_, err := s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
			Ledger: s.ledger,
			V2PostTransaction: shared.V2PostTransaction{
				Script: &shared.V2PostTransactionScript{
					Plain: script,
					Vars: map[string]string{
						"amount":   toMinorUnits(diff),
						"reserve":  reserveAccount(chainId),
						"chain_id": fmt.Sprintf("%d", chainId),
					},
				},
			},
		})
		if err != nil {
			return fmt.Errorf("error seeding reserve: %w", err)
		}
	}

	_, err := s.client.Ledger.V2.AddMetadataToAccount(ctx, operations.V2AddMetadataToAccountRequest{
		Ledger:  s.ledger,
		Address: reserveAccount(chainId),
		RequestBody: map[string]string{
			"entity_type": "reserve",
			"notes":       notes,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to mark reserve account: %w", err)
	}

	zap.L().Info("Reserve seeded in Formance",
		zap.Int64("chain_id", chainId),
		zap.String("amount", amount.String()))
	return nil
}

// DebitReserve atomically moves funds from the chain reserve to the settlement
// account. The bounded Numscript source is the concurrency guard: two racing
// debits can never overdraw the reserve.
func (s *Service) DebitReserve(ctx context.Context, chainId int64, amount decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	state, err := s.GetReserve(ctx, chainId)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	before := state.TotalReserve

	_, err = s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger: s.ledger,
		V2PostTransaction: shared.V2PostTransaction{
			Script: &shared.V2PostTransactionScript{
				Plain: numscriptReserveDebit,
				Vars: map[string]string{
					"amount":     toMinorUnits(amount),
					"reserve":    reserveAccount(chainId),
					"settlement": settlementAccount(chainId),
					"chain_id":   fmt.Sprintf("%d", chainId),
				},
			},
		},
	})
	if err != nil {
		if isInsufficientFundError(err) {
			return decimal.Zero, decimal.Zero, fmt.Errorf("%w: chain %d reserve %s cannot cover %s",
				store.ErrInsufficientReserve, chainId, before.String(), amount.String())
		}
		return decimal.Zero, decimal.Zero, fmt.Errorf("error debiting reserve: %w", err)
	}

	after := before.Sub(amount)
	zap.L().Info("Reserve debited in Formance",
		zap.Int64("chain_id", chainId),
		zap.String("amount", amount.String()),
		zap.String("reserve_after", after.String()))
	return before, after, nil
}

// CreditReserve returns previously debited funds to the chain reserve. Used on
// the rollback path after a failed on-chain transfer.
func (s *Service) CreditReserve(ctx context.Context, chainId int64, amount decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	state, err := s.GetReserve(ctx, chainId)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	before := state.TotalReserve

	_, err = s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger: s.ledger,
		V2PostTransaction: shared.V2PostTransaction{
			Script: &shared.V2PostTransactionScript{
				Plain: numscriptReserveCredit,
				Vars: map[string]string{
					"amount":     toMinorUnits(amount),
					"reserve":    reserveAccount(chainId),
					"settlement": settlementAccount(chainId),
					"chain_id":   fmt.Sprintf("%d", chainId),
				},
			},
		},
	})
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("error crediting reserve: %w", err)
	}

	after := before.Add(amount)
	zap.L().Info("Reserve credited in Formance",
		zap.Int64("chain_id", chainId),
		zap.String("amount", amount.String()),
		zap.String("reserve_after", after.String()))
	return before, after, nil
}
