package formance

import (
	"math/big"
	"testing"
	"time"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
)

// ---------- Unit tests for pure helpers (no Formance stack needed) ----------

func TestToMinorUnits(t *testing.T) {
	tests := []struct {
		amount string
		want   string
	}{
		{"25", "25000000"},
		{"0.01", "10000"},
		{"0.000001", "1"},
		{"1234.567890", "1234567890"},
	}
	for _, tt := range tests {
		d, err := decimal.NewFromString(tt.amount)
		if err != nil {
			t.Fatalf("bad test amount %q: %v", tt.amount, err)
		}
		if got := toMinorUnits(d); got != tt.want {
			t.Errorf("toMinorUnits(%s) = %q, want %q", tt.amount, got, tt.want)
		}
	}
}

func TestFromMinorUnits(t *testing.T) {
	if got := fromMinorUnits("25000000"); !got.Equal(decimal.NewFromInt(25)) {
		t.Errorf("expected 25, got %s", got.String())
	}
	if got := fromMinorUnits("not-a-number"); !got.IsZero() {
		t.Errorf("expected 0 for garbage input, got %s", got.String())
	}
}

func TestAccountPaths(t *testing.T) {
	if got := depositAccount(8453, "abc"); got != "vault:chains:8453:deposits:abc" {
		t.Errorf("depositAccount = %q", got)
	}
	if got := reserveAccount(8453); got != "vault:chains:8453:reserve" {
		t.Errorf("reserveAccount = %q", got)
	}
	if got := settlementAccount(1); got != "vault:chains:1:settlement" {
		t.Errorf("settlementAccount = %q", got)
	}
}

func TestDepositReference(t *testing.T) {
	got := depositReference(8453, "0xABC123DeF")
	want := "deposit:8453:0xabc123def"
	if got != want {
		t.Errorf("depositReference = %q, want %q", got, want)
	}
}

func TestVolumeBalance(t *testing.T) {
	// Explicit balance field wins.
	vols := map[string]shared.V2Volume{
		usdtAsset: {Balance: big.NewInt(25_000_000)},
	}
	if got := volumeBalance(vols, usdtAsset); got.Cmp(big.NewInt(25_000_000)) != 0 {
		t.Errorf("expected 25000000, got %s", got)
	}

	// Derived from input - output when balance is absent.
	vols = map[string]shared.V2Volume{
		usdtAsset: {Input: big.NewInt(100_000_000), Output: big.NewInt(40_000_000)},
	}
	if got := volumeBalance(vols, usdtAsset); got.Cmp(big.NewInt(60_000_000)) != 0 {
		t.Errorf("expected 60000000, got %s", got)
	}

	// Missing asset returns nil.
	if got := volumeBalance(vols, "USDC/6"); got != nil {
		t.Errorf("expected nil for missing asset, got %s", got)
	}
}

func TestIsConflictError(t *testing.T) {
	if isConflictError(nil) {
		t.Error("nil should not be a conflict error")
	}
	if isInsufficientFundError(nil) {
		t.Error("nil should not be an insufficient fund error")
	}
}

func TestAccountToDeposit(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	acct := shared.V2Account{
		Address: "vault:chains:8453:deposits:dep-1",
		Metadata: map[string]string{
			"entity_type":     "deposit",
			"deposit_id":      "dep-1",
			"user_address":    "0xabc",
			"chain_id":        "8453",
			"source_tx_hash":  "0xdeadbeef",
			"original_amount": "100",
			"yield_accrued":   "1.5",
			"created_at":      created.Format(time.RFC3339Nano),
		},
		Volumes: map[string]shared.V2Volume{
			usdtAsset: {Balance: big.NewInt(75_000_000)},
		},
	}

	d := accountToDeposit(&acct)
	if d.Id != "dep-1" || d.ChainId != 8453 {
		t.Fatalf("unexpected identity: %+v", d)
	}
	if !d.OriginalAmount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected original 100, got %s", d.OriginalAmount)
	}
	if !d.CurrentBalance.Equal(decimal.NewFromInt(75)) {
		t.Errorf("expected balance 75, got %s", d.CurrentBalance)
	}
	if !d.YieldAccrued.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("expected yield 1.5, got %s", d.YieldAccrued)
	}
	if !d.CreatedAt.Equal(created) {
		t.Errorf("expected created_at %s, got %s", created, d.CreatedAt)
	}
	if d.LastRedeemedAt != nil {
		t.Error("expected nil LastRedeemedAt for never-redeemed deposit")
	}
}

func TestLogFromTransaction(t *testing.T) {
	ts := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	tx := shared.V2Transaction{
		Timestamp: ts,
		Metadata: map[string]string{
			"event_type":       "redemption_log",
			"log_id":           "log-1",
			"user_address":     "0xabc",
			"chain_id":         "8453",
			"amount_human":     "25",
			"tx_id":            "0xfeed",
			"reserve_before":   "100000",
			"reserve_after":    "99975",
			"simulated":        "false",
			"on_chain_success": "true",
			"block_number":     "123456",
			"gas_used":         "52000",
			"idempotency_key":  "key-1",
		},
	}

	log := logFromTransaction(&tx)
	if log.Id != "log-1" || log.ChainId != 8453 {
		t.Fatalf("unexpected identity: %+v", log)
	}
	if !log.Amount.Equal(decimal.NewFromInt(25)) {
		t.Errorf("expected amount 25, got %s", log.Amount)
	}
	if !log.OnChainSuccess || log.Simulated {
		t.Error("expected successful non-simulated log")
	}
	if log.BlockNumber == nil || *log.BlockNumber != 123456 {
		t.Errorf("expected block 123456, got %v", log.BlockNumber)
	}
	if !log.CreatedAt.Equal(ts) {
		t.Errorf("expected timestamp %s, got %s", ts, log.CreatedAt)
	}
}
