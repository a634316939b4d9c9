package formance

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"usdt-vault-go/internal/models"
	"usdt-vault-go/internal/store"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const numscriptDepositCredit = `vars {
  number $amount
  account $deposit
  string $user_address
  string $chain_id
  string $source_tx_hash
}

send [USDT/6 $amount] (
  source = @world
  destination = $deposit
)

set_tx_meta("event_type", "deposit_credit")
set_tx_meta("user_address", $user_address)
set_tx_meta("chain_id", $chain_id)
set_tx_meta("source_tx_hash", $source_tx_hash)
`

const numscriptYieldCredit = `vars {
  number $amount
  account $deposit
  string $deposit_id
}

send [USDT/6 $amount] (
  source = @world
  destination = $deposit
)

set_tx_meta("event_type", "yield_credit")
set_tx_meta("deposit_id", $deposit_id)
`

// depositReference builds the transaction reference that makes deposit crediting
// idempotent: the ledger rejects a second transaction with the same reference,
// which is the only duplicate guard (no check-then-insert).
func depositReference(chainId int64, sourceTxHash string) string {
	return fmt.Sprintf("deposit:%d:%s", chainId, strings.ToLower(sourceTxHash))
}

// CreateDeposit records a confirmed on-chain deposit as a new per-deposit
// ledger account funded from @world, then stamps the record attributes on the
// account metadata. A CONFLICT on the transaction reference means the source
// transaction hash was already credited for this chain.
func (s *Service) CreateDeposit(ctx context.Context, params store.CreateDepositParams) (*models.Deposit, error) {
	depositId := uuid.New().String()
	account := depositAccount(params.ChainId, depositId)
	now := time.Now().UTC()

	postTx := shared.V2PostTransaction{
		Reference: strPtr(depositReference(params.ChainId, params.SourceTxHash)),
		Script: &shared.V2PostTransactionScript{
			Plain: numscriptDepositCredit,
			Vars: map[string]string{
				"amount":         toMinorUnits(params.Amount),
				"deposit":        account,
				"user_address":   params.UserAddress,
				"chain_id":       strconv.FormatInt(params.ChainId, 10),
				"source_tx_hash": params.SourceTxHash,
			},
		},
	}
	if dc := models.GetDepositContext(ctx); dc != nil && !dc.TransactionTime.IsZero() {
		postTx.Timestamp = &dc.TransactionTime
		now = dc.TransactionTime.UTC()
	}

	_, err := s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger:            s.ledger,
		V2PostTransaction: postTx,
	})
	if err != nil {
		if isConflictError(err) {
			return nil, fmt.Errorf("%w: source tx %s already credited on chain %d",
				store.ErrDuplicateTransaction, params.SourceTxHash, params.ChainId)
		}
		return nil, fmt.Errorf("error recording deposit: %w", err)
	}

	meta := map[string]string{
		"entity_type":     "deposit",
		"deposit_id":      depositId,
		"user_address":    params.UserAddress,
		"chain_id":        strconv.FormatInt(params.ChainId, 10),
		"source_tx_hash":  params.SourceTxHash,
		"original_amount": params.Amount.String(),
		"yield_accrued":   "0",
		"created_at":      now.Format(time.RFC3339Nano),
	}
	_, err = s.client.Ledger.V2.AddMetadataToAccount(ctx, operations.V2AddMetadataToAccountRequest{
		Ledger:      s.ledger,
		Address:     account,
		RequestBody: meta,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to stamp deposit account metadata: %w", err)
	}

	zap.L().Info("Deposit recorded in Formance",
		zap.String("deposit_id", depositId),
		zap.String("user_address", params.UserAddress),
		zap.Int64("chain_id", params.ChainId),
		zap.String("amount", params.Amount.String()))

	return &models.Deposit{
		Id:             depositId,
		UserAddress:    params.UserAddress,
		ChainId:        params.ChainId,
		SourceTxHash:   params.SourceTxHash,
		OriginalAmount: params.Amount,
		CurrentBalance: params.Amount,
		YieldAccrued:   decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// GetDeposits returns a user's deposit records for one chain in creation order.
// Balances come from the account volumes, attributes from the account metadata.
func (s *Service) GetDeposits(ctx context.Context, userAddress string, chainId int64) ([]models.Deposit, error) {
	filter := map[string]any{
		"$and": []any{
			map[string]any{"$match": map[string]any{"metadata[entity_type]": "deposit"}},
			map[string]any{"$match": map[string]any{"metadata[user_address]": userAddress}},
			map[string]any{"$match": map[string]any{"metadata[chain_id]": strconv.FormatInt(chainId, 10)}},
		},
	}

	var deposits []models.Deposit
	var cursor *string
	for {
		resp, err := s.client.Ledger.V2.ListAccounts(ctx, operations.V2ListAccountsRequest{
			Ledger:      s.ledger,
			PageSize:    ptrInt64(100),
			Cursor:      cursor,
			Expand:      v3.Pointer("volumes"),
			RequestBody: filter,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list deposit accounts: %w", err)
		}
		for i := range resp.V2AccountsCursorResponse.Cursor.Data {
			acct := resp.V2AccountsCursorResponse.Cursor.Data[i]
			deposits = append(deposits, accountToDeposit(&acct))
		}
		next := resp.V2AccountsCursorResponse.Cursor.Next
		if next == nil || *next == "" {
			break
		}
		cursor = next
	}

	sort.SliceStable(deposits, func(i, j int) bool {
		if !deposits[i].CreatedAt.Equal(deposits[j].CreatedAt) {
			return deposits[i].CreatedAt.Before(deposits[j].CreatedAt)
		}
		return deposits[i].Id < deposits[j].Id
	})
	return deposits, nil
}

// GetUserChainBalance returns the sum of a user's deposit balances on one chain.
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

// CreditYield adds accrued yield to a deposit's drawable balance.
func (s *Service) CreditYield(ctx context.Context, depositId string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("yield amount must be positive, got %s", amount.String())
	}

	acct, err := s.findDepositAccount(ctx, depositId)
	if err != nil {
		return err
	}

	_, err = s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger: s.ledger,
		V2PostTransaction: shared.V2PostTransaction{
			Script: &shared.V2PostTransactionScript{
				Plain: numscriptYieldCredit,
				Vars: map[string]string{
					"amount":     toMinorUnits(amount),
					"deposit":    acct.Address,
					"deposit_id": depositId,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("error crediting yield: %w", err)
	}

	accrued, _ := decimal.NewFromString(acct.Metadata["yield_accrued"])
	_, err = s.client.Ledger.V2.AddMetadataToAccount(ctx, operations.V2AddMetadataToAccountRequest{
		Ledger:  s.ledger,
		Address: acct.Address,
		RequestBody: map[string]string{
			"yield_accrued": accrued.Add(amount).String(),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to update yield metadata: %w", err)
	}

	zap.L().Info("Yield credited in Formance",
		zap.String("deposit_id", depositId),
		zap.String("amount", amount.String()))
	return nil
}

// findDepositAccount resolves a deposit id to its ledger account via the
// deposit_id metadata key.
func (s *Service) findDepositAccount(ctx context.Context, depositId string) (*shared.V2Account, error) {
	resp, err := s.client.Ledger.V2.ListAccounts(ctx, operations.V2ListAccountsRequest{
		Ledger:   s.ledger,
		PageSize: ptrInt64(1),
		Expand:   v3.Pointer("volumes"),
		RequestBody: map[string]any{
			"$match": map[string]any{"metadata[deposit_id]": depositId},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to look up deposit account: %w", err)
	}
	if len(resp.V2AccountsCursorResponse.Cursor.Data) == 0 {
		return nil, fmt.Errorf("%w: %s", store.ErrDepositNotFound, depositId)
	}
	return &resp.V2AccountsCursorResponse.Cursor.Data[0], nil
}

// accountToDeposit maps a deposit ledger account (metadata + volumes) to the model.
func accountToDeposit(acct *shared.V2Account) models.Deposit {
	meta := acct.Metadata

	chainId, _ := strconv.ParseInt(meta["chain_id"], 10, 64)
	original, _ := decimal.NewFromString(meta["original_amount"])
	yield, _ := decimal.NewFromString(meta["yield_accrued"])
	lastAmount, _ := decimal.NewFromString(meta["last_redeemed_amount"])
	createdAt, _ := time.Parse(time.RFC3339Nano, meta["created_at"])

	var lastRedeemedAt *time.Time
	if raw := meta["last_redeemed_at"]; raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			lastRedeemedAt = &t
		}
	}

	balance := decimal.Zero
	if bal := volumeBalance(acct.Volumes, usdtAsset); bal != nil {
		balance = decimal.NewFromBigInt(bal, -usdtPrecision)
	}

	updatedAt := createdAt
	if acct.UpdatedAt != nil {
		updatedAt = *acct.UpdatedAt
	}

	return models.Deposit{
		Id:                 meta["deposit_id"],
		UserAddress:        meta["user_address"],
		ChainId:            chainId,
		SourceTxHash:       meta["source_tx_hash"],
		OriginalAmount:     original,
		CurrentBalance:     balance,
		YieldAccrued:       yield,
		LastRedeemedAmount: lastAmount,
		LastRedeemedAt:     lastRedeemedAt,
		LastRedeemedTxHash: meta["last_redeemed_tx_hash"],
		CreatedAt:          createdAt,
		UpdatedAt:          updatedAt,
	}
}
