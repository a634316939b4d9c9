package formance

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"usdt-vault-go/internal/models"
	"usdt-vault-go/internal/store"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const numscriptRedemptionLog = `vars {
  number $amount
  string $log_id
  string $user_address
  string $chain_id
  string $tx_id
  string $reserve_before
  string $reserve_after
  string $amount_human
  string $simulated
  string $on_chain_success
  string $transfer_error
  string $block_number
  string $gas_used
  string $idempotency_key
}

send [USDT/6 $amount] (
  source = @world
  destination = @vault:audit:redemptions
)

set_tx_meta("event_type", "redemption_log")
set_tx_meta("log_id", $log_id)
set_tx_meta("user_address", $user_address)
set_tx_meta("chain_id", $chain_id)
set_tx_meta("tx_id", $tx_id)
set_tx_meta("reserve_before", $reserve_before)
set_tx_meta("reserve_after", $reserve_after)
set_tx_meta("amount_human", $amount_human)
set_tx_meta("simulated", $simulated)
set_tx_meta("on_chain_success", $on_chain_success)
set_tx_meta("transfer_error", $transfer_error)
set_tx_meta("block_number", $block_number)
set_tx_meta("gas_used", $gas_used)
set_tx_meta("idempotency_key", $idempotency_key)
`

// ApplyDepositDebits posts all deposit debits of one redemption as a single
// atomic ledger transaction. Every source is bounded, so a deposit whose
// balance moved under us surfaces as INSUFFICIENT_FUND and nothing is applied.
func (s *Service) ApplyDepositDebits(ctx context.Context, debits []store.DepositDebit) error {
	if len(debits) == 0 {
		return nil
	}

	accounts := make(map[string]string, len(debits))
	var script strings.Builder
	for _, debit := range debits {
		acct, err := s.findDepositAccount(ctx, debit.DepositId)
		if err != nil {
			return err
		}
		chainId := acct.Metadata["chain_id"]
		accounts[debit.DepositId] = acct.Address
		fmt.Fprintf(&script, "send [USDT/6 %s] (\n  source = @%s\n  destination = @vault:chains:%s:settlement\n)\n\n",
			toMinorUnits(debit.Take), acct.Address, chainId)
	}
	script.WriteString(`set_tx_meta("event_type", "redemption_debit")` + "\n")

	_, err := s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger: s.ledger,
		V2PostTransaction: shared.V2PostTransaction{
			Script: &shared.V2PostTransactionScript{
				Plain: script.String(),
			},
		},
	})
	if err != nil {
		if isInsufficientFundError(err) {
			return fmt.Errorf("%w: deposit balance changed during redemption", store.ErrConcurrentModification)
		}
		return fmt.Errorf("error applying deposit debits: %w", err)
	}

	for _, debit := range debits {
		_, err = s.client.Ledger.V2.AddMetadataToAccount(ctx, operations.V2AddMetadataToAccountRequest{
			Ledger:  s.ledger,
			Address: accounts[debit.DepositId],
			RequestBody: map[string]string{
				"last_redeemed_amount": debit.Take.String(),
			},
		})
		if err != nil {
			return fmt.Errorf("failed to stamp debit metadata: %w", err)
		}
	}

	zap.L().Info("Deposit debits applied in Formance", zap.Int("deposits", len(debits)))
	return nil
}

// RevertDepositDebits posts the compensating entries for a failed redemption,
// returning each debited amount from settlement to its deposit account. The
// settlement source allows overdraft so the rollback cannot fail on balance.
func (s *Service) RevertDepositDebits(ctx context.Context, debits []store.DepositDebit) error {
	if len(debits) == 0 {
		return nil
	}

	var script strings.Builder
	for _, debit := range debits {
		acct, err := s.findDepositAccount(ctx, debit.DepositId)
		if err != nil {
			return err
		}
		chainId := acct.Metadata["chain_id"]
		fmt.Fprintf(&script, "send [USDT/6 %s] (\n  source = @vault:chains:%s:settlement allowing unbounded overdraft\n  destination = @%s\n)\n\n",
			toMinorUnits(debit.Take), chainId, acct.Address)
	}
	script.WriteString(`set_tx_meta("event_type", "redemption_reversal")` + "\n")

	_, err := s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger: s.ledger,
		V2PostTransaction: shared.V2PostTransaction{
			Script: &shared.V2PostTransactionScript{
				Plain: script.String(),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("error reverting deposit debits: %w", err)
	}

	zap.L().Info("Deposit debits reverted in Formance", zap.Int("deposits", len(debits)))
	return nil
}

// StampRedemptionTx records the on-chain transaction hash on every deposit
// that contributed to a settled redemption.
func (s *Service) StampRedemptionTx(ctx context.Context, depositIds []string, txId string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, depositId := range depositIds {
		acct, err := s.findDepositAccount(ctx, depositId)
		if err != nil {
			return err
		}
		_, err = s.client.Ledger.V2.AddMetadataToAccount(ctx, operations.V2AddMetadataToAccountRequest{
			Ledger:  s.ledger,
			Address: acct.Address,
			RequestBody: map[string]string{
				"last_redeemed_tx_hash": txId,
				"last_redeemed_at":      now,
			},
		})
		if err != nil {
			return fmt.Errorf("failed to stamp redemption tx on deposit %s: %w", depositId, err)
		}
	}
	return nil
}

// AppendRedemptionLog mirrors one redemption attempt into the audit account.
// The log lives entirely in transaction metadata; the posting amount makes the
// audit account's volume a running total of attempted redemptions.
func (s *Service) AppendRedemptionLog(ctx context.Context, params store.RedemptionLogParams) (*models.RedemptionLog, error) {
	logId := uuid.New().String()
	attemptedAt := params.AttemptedAt
	if attemptedAt.IsZero() {
		attemptedAt = time.Now().UTC()
	}

	blockNumber := ""
	if params.BlockNumber != nil {
		blockNumber = strconv.FormatInt(*params.BlockNumber, 10)
	}

	postTx := shared.V2PostTransaction{
		Reference: strPtr("redeem:" + logId),
		Timestamp: &attemptedAt,
		Script: &shared.V2PostTransactionScript{
			Plain: numscriptRedemptionLog,
			Vars: map[string]string{
				"amount":           toMinorUnits(params.Amount),
				"log_id":           logId,
				"user_address":     params.UserAddress,
				"chain_id":         strconv.FormatInt(params.ChainId, 10),
				"tx_id":            params.TxId,
				"reserve_before":   params.ReserveBefore.String(),
				"reserve_after":    params.ReserveAfter.String(),
				"amount_human":     params.Amount.String(),
				"simulated":        strconv.FormatBool(params.Simulated),
				"on_chain_success": strconv.FormatBool(params.OnChainSuccess),
				"transfer_error":   params.TransferError,
				"block_number":     blockNumber,
				"gas_used":         params.GasUsed,
				"idempotency_key":  params.IdempotencyKey,
			},
		},
	}

	_, err := s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger:            s.ledger,
		V2PostTransaction: postTx,
	})
	if err != nil {
		return nil, fmt.Errorf("error appending redemption log: %w", err)
	}

	return &models.RedemptionLog{
		Id:             logId,
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
		CreatedAt:      attemptedAt,
	}, nil
}

// FindRedemptionByIdempotencyKey returns the logged outcome of a prior attempt
// with this key, or (nil, nil) when none exists.
func (s *Service) FindRedemptionByIdempotencyKey(ctx context.Context, key string) (*models.RedemptionLog, error) {
	if key == "" {
		return nil, nil
	}
	resp, err := s.client.Ledger.V2.ListTransactions(ctx, operations.V2ListTransactionsRequest{
		Ledger:   s.ledger,
		PageSize: ptrInt64(1),
		RequestBody: map[string]any{
			"$and": []any{
				map[string]any{"$match": map[string]any{"metadata[event_type]": "redemption_log"}},
				map[string]any{"$match": map[string]any{"metadata[idempotency_key]": key}},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query redemptions by idempotency key: %w", err)
	}
	if len(resp.V2TransactionsCursorResponse.Cursor.Data) == 0 {
		return nil, nil
	}
	log := logFromTransaction(&resp.V2TransactionsCursorResponse.Cursor.Data[0])
	return &log, nil
}

// GetRedemptionHistory returns a user's redemption attempts for one chain,
// newest first.
func (s *Service) GetRedemptionHistory(ctx context.Context, userAddress string, chainId int64, limit, offset int) ([]models.RedemptionLog, error) {
	filter := map[string]any{
		"$and": []any{
			map[string]any{"$match": map[string]any{"metadata[event_type]": "redemption_log"}},
			map[string]any{"$match": map[string]any{"metadata[user_address]": userAddress}},
			map[string]any{"$match": map[string]any{"metadata[chain_id]": strconv.FormatInt(chainId, 10)}},
		},
	}

	var logs []models.RedemptionLog
	skip := offset
	var cursor *string
	for len(logs) < limit {
		resp, err := s.client.Ledger.V2.ListTransactions(ctx, operations.V2ListTransactionsRequest{
			Ledger:      s.ledger,
			PageSize:    ptrInt64(100),
			Cursor:      cursor,
			RequestBody: filter,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list redemption history: %w", err)
		}
		data := resp.V2TransactionsCursorResponse.Cursor.Data
		if len(data) == 0 {
			break
		}
		for i := range data {
			if skip > 0 {
				skip--
				continue
			}
			if len(logs) >= limit {
				break
			}
			logs = append(logs, logFromTransaction(&data[i]))
		}
		next := resp.V2TransactionsCursorResponse.Cursor.Next
		if next == nil || *next == "" {
			break
		}
		cursor = next
	}
	return logs, nil
}

// logFromTransaction rebuilds a redemption log from an audit transaction's metadata.
func logFromTransaction(tx *shared.V2Transaction) models.RedemptionLog {
	meta := tx.Metadata

	chainId, _ := strconv.ParseInt(meta["chain_id"], 10, 64)
	amount, _ := decimal.NewFromString(meta["amount_human"])
	reserveBefore, _ := decimal.NewFromString(meta["reserve_before"])
	reserveAfter, _ := decimal.NewFromString(meta["reserve_after"])

	var blockNumber *int64
	if raw := meta["block_number"]; raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			blockNumber = &n
		}
	}

	return models.RedemptionLog{
		Id:             meta["log_id"],
		UserAddress:    meta["user_address"],
		ChainId:        chainId,
		Amount:         amount,
		TxId:           meta["tx_id"],
		ReserveBefore:  reserveBefore,
		ReserveAfter:   reserveAfter,
		Simulated:      meta["simulated"] == "true",
		OnChainSuccess: meta["on_chain_success"] == "true",
		TransferError:  meta["transfer_error"],
		BlockNumber:    blockNumber,
		GasUsed:        meta["gas_used"],
		IdempotencyKey: meta["idempotency_key"],
		CreatedAt:      tx.Timestamp,
	}
}
