package settlement

import (
	"testing"

	"usdt-vault-go/internal/models"

	"github.com/shopspring/decimal"
)

func depositRow(id string, balance string) models.Deposit {
	return models.Deposit{
		Id:             id,
		CurrentBalance: decimal.RequireFromString(balance),
	}
}

func TestPlanDebits_OldestFirst(t *testing.T) {
	deposits := []models.Deposit{
		depositRow("d1", "10"),
		depositRow("d2", "5"),
		depositRow("d3", "20"),
	}

	debits, err := planDebits(deposits, decimal.NewFromInt(12))
	if err != nil {
		t.Fatalf("planDebits failed: %v", err)
	}
	if len(debits) != 2 {
		t.Fatalf("Expected 2 debits, got %d", len(debits))
	}

	if debits[0].DepositId != "d1" || !debits[0].Take.Equal(decimal.NewFromInt(10)) {
		t.Errorf("First debit should drain d1 fully, got %s take %s", debits[0].DepositId, debits[0].Take.String())
	}
	if !debits[0].BalanceAfter.IsZero() {
		t.Errorf("Expected d1 to end at 0, got %s", debits[0].BalanceAfter.String())
	}
	if debits[1].DepositId != "d2" || !debits[1].Take.Equal(decimal.NewFromInt(2)) {
		t.Errorf("Second debit should take 2 from d2, got %s take %s", debits[1].DepositId, debits[1].Take.String())
	}
	if !debits[1].BalanceAfter.Equal(decimal.NewFromInt(3)) {
		t.Errorf("Expected d2 to end at 3, got %s", debits[1].BalanceAfter.String())
	}
}

func TestPlanDebits_SkipsEmptyDeposits(t *testing.T) {
	deposits := []models.Deposit{
		depositRow("d1", "0"),
		depositRow("d2", "7"),
	}

	debits, err := planDebits(deposits, decimal.NewFromInt(7))
	if err != nil {
		t.Fatalf("planDebits failed: %v", err)
	}
	if len(debits) != 1 || debits[0].DepositId != "d2" {
		t.Fatalf("Expected a single debit against d2, got %+v", debits)
	}
}

func TestPlanDebits_FractionalAmounts(t *testing.T) {
	deposits := []models.Deposit{
		depositRow("d1", "0.000001"),
		depositRow("d2", "1"),
	}

	debits, err := planDebits(deposits, decimal.RequireFromString("0.500001"))
	if err != nil {
		t.Fatalf("planDebits failed: %v", err)
	}
	total := decimal.Zero
	for _, d := range debits {
		total = total.Add(d.Take)
	}
	if !total.Equal(decimal.RequireFromString("0.500001")) {
		t.Errorf("Takes should sum to the requested amount, got %s", total.String())
	}
}

func TestPlanDebits_ShortBalanceIsAnError(t *testing.T) {
	deposits := []models.Deposit{depositRow("d1", "5")}

	if _, err := planDebits(deposits, decimal.NewFromInt(6)); err == nil {
		t.Fatal("Expected error when deposits cannot cover the amount")
	}
}

func TestNormalizeAddress(t *testing.T) {
	normalized, err := NormalizeAddress("  0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B ")
	if err != nil {
		t.Fatalf("NormalizeAddress failed: %v", err)
	}
	if normalized != "0xab5801a7d398351b8be11c439e05c5b3259aec9b" {
		t.Errorf("Expected lowercased address, got %s", normalized)
	}

	if _, err := NormalizeAddress("not-an-address"); KindOf(err) != KindInvalidUser {
		t.Errorf("Expected InvalidUser, got %v", err)
	}
	if _, err := NormalizeAddress(""); err == nil {
		t.Error("Expected error for empty address")
	}
}
