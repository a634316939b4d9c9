package models

import (
	"context"
	"time"
)

type depositContextKey struct{}

// DepositContext carries supplementary on-chain data through context so the
// Formance backend can store it as transaction metadata without changing the
// VaultStore interface.
type DepositContext struct {
	SourceAddress   string    // external sender wallet address
	BlockNumber     int64     // block in which the deposit was mined
	LogIndex        uint      // position of the Transfer log within the block
	TransactionTime time.Time // block timestamp, used as the ledger entry time
}

// WithDepositContext attaches on-chain deposit data to a context.
func WithDepositContext(ctx context.Context, dc *DepositContext) context.Context {
	return context.WithValue(ctx, depositContextKey{}, dc)
}

// GetDepositContext retrieves on-chain deposit data from context, or nil if absent.
func GetDepositContext(ctx context.Context) *DepositContext {
	dc, _ := ctx.Value(depositContextKey{}).(*DepositContext)
	return dc
}
