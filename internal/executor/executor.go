package executor

import (
	"context"

	"github.com/shopspring/decimal"
)

// Transfer failure classifications surfaced to the settlement core.
const (
	ErrorKindInsufficientTreasuryFunds = "InsufficientTreasuryFunds"
	ErrorKindGasEstimationFailed       = "GasEstimationFailed"
	ErrorKindNonceExpired              = "NonceExpired"
	ErrorKindUserRejected              = "UserRejected"
	ErrorKindTimeout                   = "Timeout"
	ErrorKindUnknown                   = "Unknown"
)

// TransferRequest asks for a token transfer from the treasury to a destination.
type TransferRequest struct {
	Destination    string
	Amount         decimal.Decimal
	ChainId        int64
	Simulate       bool
	IdempotencyKey string
}

// TransferResult describes the terminal outcome of one transfer attempt.
// Ambiguous marks a timed-out submission that may or may not have broadcast;
// callers must not treat it as a confirmed failure.
type TransferResult struct {
	Success     bool
	TxId        string
	BlockNumber *int64
	GasUsed     string
	Simulated   bool
	ErrorKind   string
	Message     string
	Ambiguous   bool
}

// TransferExecutor moves tokens from a treasury-controlled account to a
// destination on a chain. Simulate mode fabricates a result without any
// on-chain effect.
type TransferExecutor interface {
	Execute(ctx context.Context, req TransferRequest) (*TransferResult, error)
	Close()
}
