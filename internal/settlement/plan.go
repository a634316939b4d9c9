package settlement

import (
	"fmt"

	"usdt-vault-go/internal/models"
	"usdt-vault-go/internal/store"

	"github.com/shopspring/decimal"
)

// planDebits distributes a redemption amount across a user's deposits in the
// order the store returned them (creation order). Each deposit with a positive
// balance contributes min(remaining, balance) until the amount is covered.
// The result is deterministic: the same deposits and amount always produce the
// same debit plan.
//
// The caller has already checked that the total spendable balance covers the
// amount; a non-zero remainder here means the balances moved underneath us and
// is reported as an error rather than silently under-debiting.
func planDebits(deposits []models.Deposit, amount decimal.Decimal) ([]store.DepositDebit, error) {
	remaining := amount
	var debits []store.DepositDebit

	for _, d := range deposits {
		if remaining.IsZero() {
			break
		}
		if d.CurrentBalance.LessThanOrEqual(decimal.Zero) {
			continue
		}

		take := decimal.Min(remaining, d.CurrentBalance)
		debits = append(debits, store.DepositDebit{
			DepositId:     d.Id,
			Take:          take,
			BalanceBefore: d.CurrentBalance,
			BalanceAfter:  d.CurrentBalance.Sub(take),
		})
		remaining = remaining.Sub(take)
	}

	if !remaining.IsZero() {
		return nil, fmt.Errorf("debit plan short by %s of %s", remaining.String(), amount.String())
	}

	// Invariant: the takes sum to the requested amount exactly.
	total := decimal.Zero
	for _, debit := range debits {
		total = total.Add(debit.Take)
	}
	if !total.Equal(amount) {
		return nil, fmt.Errorf("debit plan sums to %s, want %s", total.String(), amount.String())
	}

	return debits, nil
}
