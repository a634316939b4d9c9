package store

import (
	"context"
	"errors"
	"time"

	"usdt-vault-go/internal/models"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrDuplicateTransaction   = errors.New("duplicate transaction")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrInsufficientReserve    = errors.New("insufficient reserve")
	ErrReserveNotConfigured   = errors.New("reserve not configured for chain")
	ErrDepositNotFound        = errors.New("deposit not found")
)

// CreateDepositParams contains the parameters for recording a confirmed on-chain deposit.
type CreateDepositParams struct {
	UserAddress  string
	ChainId      int64
	Amount       decimal.Decimal
	SourceTxHash string
}

// DepositDebit is one deposit's share of a redemption, as planned by the
// settlement core. Applied (and, on transfer failure, reverted) as a batch.
type DepositDebit struct {
	DepositId     string
	Take          decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
}

// RedemptionLogParams captures the full outcome of one redemption attempt.
type RedemptionLogParams struct {
	UserAddress    string
	ChainId        int64
	Amount         decimal.Decimal
	TxId           string
	ReserveBefore  decimal.Decimal
	ReserveAfter   decimal.Decimal
	Simulated      bool
	OnChainSuccess bool
	TransferError  string
	BlockNumber    *int64
	GasUsed        string
	IdempotencyKey string
	AttemptedAt    time.Time
}

// VaultStore defines the contract that every backend (SQLite, Formance, ...) must satisfy.
type VaultStore interface {
	// --- Deposits ---
	GetDeposits(ctx context.Context, userAddress string, chainId int64) ([]models.Deposit, error)
	GetUserChainBalance(ctx context.Context, userAddress string, chainId int64) (decimal.Decimal, error)
	CreateDeposit(ctx context.Context, params CreateDepositParams) (*models.Deposit, error)
	CreditYield(ctx context.Context, depositId string, amount decimal.Decimal) error

	// --- Reserve ledger ---
	GetReserve(ctx context.Context, chainId int64) (*models.ReserveLedger, error)
	SeedReserve(ctx context.Context, chainId int64, amount decimal.Decimal, notes string) error
	DebitReserve(ctx context.Context, chainId int64, amount decimal.Decimal) (before, after decimal.Decimal, err error)
	CreditReserve(ctx context.Context, chainId int64, amount decimal.Decimal) (before, after decimal.Decimal, err error)

	// --- Redemption ---
	ApplyDepositDebits(ctx context.Context, debits []DepositDebit) error
	RevertDepositDebits(ctx context.Context, debits []DepositDebit) error
	StampRedemptionTx(ctx context.Context, depositIds []string, txId string) error
	AppendRedemptionLog(ctx context.Context, params RedemptionLogParams) (*models.RedemptionLog, error)
	FindRedemptionByIdempotencyKey(ctx context.Context, key string) (*models.RedemptionLog, error)
	GetRedemptionHistory(ctx context.Context, userAddress string, chainId int64, limit, offset int) ([]models.RedemptionLog, error)

	// --- Lifecycle ---
	Close()
}
