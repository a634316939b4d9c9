package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Deposit represents one confirmed on-chain funding event and its remaining
// drawable balance. Deposits are never deleted; redemptions draw them down.
type Deposit struct {
	Id                 string          `db:"id"`
	UserAddress        string          `db:"user_address"`
	ChainId            int64           `db:"chain_id"`
	SourceTxHash       string          `db:"source_tx_hash"`
	OriginalAmount     decimal.Decimal `db:"original_amount"`
	CurrentBalance     decimal.Decimal `db:"current_balance"`
	YieldAccrued       decimal.Decimal `db:"yield_accrued"`
	LastRedeemedAmount decimal.Decimal `db:"last_redeemed_amount"`
	LastRedeemedAt     *time.Time      `db:"last_redeemed_at"`
	LastRedeemedTxHash string          `db:"last_redeemed_tx_hash"`
	CreatedAt          time.Time       `db:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at"`
}

// ReserveLedger is the per-chain pool of settled funds backing redemptions.
// Exactly one row per chain id; mutated only by the settlement core.
type ReserveLedger struct {
	ChainId      int64           `db:"chain_id"`
	TotalReserve decimal.Decimal `db:"total_reserve"`
	Notes        string          `db:"notes"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

// RedemptionLog is the append-only audit record of one redemption attempt.
// Financial fields are immutable once written.
type RedemptionLog struct {
	Id             string          `db:"id"`
	UserAddress    string          `db:"user_address"`
	ChainId        int64           `db:"chain_id"`
	Amount         decimal.Decimal `db:"amount"`
	TxId           string          `db:"tx_id"`
	ReserveBefore  decimal.Decimal `db:"reserve_before"`
	ReserveAfter   decimal.Decimal `db:"reserve_after"`
	Simulated      bool            `db:"simulated"`
	OnChainSuccess bool            `db:"on_chain_success"`
	TransferError  string          `db:"transfer_error"`
	BlockNumber    *int64          `db:"block_number"`
	GasUsed        string          `db:"gas_used"`
	IdempotencyKey string          `db:"idempotency_key"`
	CreatedAt      time.Time       `db:"created_at"`
}
