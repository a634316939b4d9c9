package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"usdt-vault-go/internal/database"
	"usdt-vault-go/internal/executor"
	"usdt-vault-go/internal/models"
	"usdt-vault-go/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUser  = "0x1111111111111111111111111111111111111111"
	testChain = int64(8453)
)

func newTestVault(t *testing.T) (*Service, store.VaultStore, *executor.MockExecutor) {
	t.Helper()
	db, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:         ":memory:",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		PingTimeout:  5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	mock := executor.NewMockExecutor()
	return NewService(db, mock, []int64{1, testChain}), db, mock
}

func creditTestDeposit(t *testing.T, svc *Service, amount, txHash string) {
	t.Helper()
	result, err := svc.CreditDeposit(context.Background(), CreditRequest{
		UserAddress:  testUser,
		ChainId:      testChain,
		Amount:       decimal.RequireFromString(amount),
		SourceTxHash: txHash,
	})
	require.NoError(t, err)
	require.True(t, result.Success)
}

func seedTestReserve(t *testing.T, vaultStore store.VaultStore, amount string) {
	t.Helper()
	require.NoError(t, vaultStore.SeedReserve(
		context.Background(), testChain, decimal.RequireFromString(amount), "test float"))
}

func TestRedeem_EndToEnd(t *testing.T) {
	svc, vaultStore, _ := newTestVault(t)
	ctx := context.Background()

	creditTestDeposit(t, svc, "100", "0x01")
	seedTestReserve(t, vaultStore, "100000")

	result, err := svc.Redeem(ctx, RedeemRequest{
		UserAddress: testUser,
		ChainId:     testChain,
		Amount:      decimal.NewFromInt(25),
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	assert.True(t, result.NewBalance.Equal(decimal.NewFromInt(75)),
		"expected new balance 75, got %s", result.NewBalance)
	assert.True(t, result.ReserveBefore.Equal(decimal.NewFromInt(100000)))
	assert.True(t, result.ReserveAfter.Equal(decimal.NewFromInt(99975)))
	assert.NotEmpty(t, result.TxId)
	require.NotNil(t, result.BlockNumber)

	// Deposits carry the settled tx stamp.
	deposits, err := vaultStore.GetDeposits(ctx, testUser, testChain)
	require.NoError(t, err)
	require.Len(t, deposits, 1)
	assert.Equal(t, result.TxId, deposits[0].LastRedeemedTxHash)
	require.NotNil(t, deposits[0].LastRedeemedAt)

	logs, err := vaultStore.GetRedemptionHistory(ctx, testUser, testChain, 10, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].OnChainSuccess)
	assert.Equal(t, result.TxId, logs[0].TxId)
}

func TestRedeem_ProportionalAcrossDeposits(t *testing.T) {
	svc, vaultStore, _ := newTestVault(t)
	ctx := context.Background()

	creditTestDeposit(t, svc, "10", "0x01")
	creditTestDeposit(t, svc, "5", "0x02")
	creditTestDeposit(t, svc, "20", "0x03")
	seedTestReserve(t, vaultStore, "1000")

	result, err := svc.Redeem(ctx, RedeemRequest{
		UserAddress: testUser,
		ChainId:     testChain,
		Amount:      decimal.NewFromInt(12),
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.True(t, result.NewBalance.Equal(decimal.NewFromInt(23)))

	// Oldest deposits drain first: 10 -> 0, 5 -> 3, 20 untouched.
	deposits, err := vaultStore.GetDeposits(ctx, testUser, testChain)
	require.NoError(t, err)
	require.Len(t, deposits, 3)
	assert.True(t, deposits[0].CurrentBalance.IsZero())
	assert.True(t, deposits[1].CurrentBalance.Equal(decimal.NewFromInt(3)))
	assert.True(t, deposits[2].CurrentBalance.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, result.TxId, deposits[0].LastRedeemedTxHash)
	assert.Equal(t, "", deposits[2].LastRedeemedTxHash)
}

func TestRedeem_SimulateLeavesLedgersUntouched(t *testing.T) {
	svc, vaultStore, mock := newTestVault(t)
	ctx := context.Background()

	creditTestDeposit(t, svc, "100", "0x01")
	seedTestReserve(t, vaultStore, "500")

	result, err := svc.Redeem(ctx, RedeemRequest{
		UserAddress: testUser,
		ChainId:     testChain,
		Amount:      decimal.NewFromInt(40),
		Simulate:    true,
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.True(t, result.Simulated)
	assert.True(t, result.ReserveBefore.Equal(decimal.NewFromInt(500)))
	assert.True(t, result.ReserveAfter.Equal(decimal.NewFromInt(500)))

	balance, err := vaultStore.GetUserChainBalance(ctx, testUser, testChain)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(100)), "simulate must not debit deposits")

	reserve, err := vaultStore.GetReserve(ctx, testChain)
	require.NoError(t, err)
	assert.True(t, reserve.TotalReserve.Equal(decimal.NewFromInt(500)), "simulate must not debit the reserve")

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].Simulate)
}

func TestRedeem_NoFunds(t *testing.T) {
	svc, vaultStore, _ := newTestVault(t)
	seedTestReserve(t, vaultStore, "100")

	result, err := svc.Redeem(context.Background(), RedeemRequest{
		UserAddress: testUser,
		ChainId:     testChain,
		Amount:      decimal.NewFromInt(1),
	})
	require.Error(t, err)
	assert.Equal(t, KindNoFunds, KindOf(err))
	assert.False(t, result.Success)
}

func TestRedeem_InsufficientBalanceDetails(t *testing.T) {
	svc, vaultStore, _ := newTestVault(t)

	creditTestDeposit(t, svc, "35", "0x01")
	seedTestReserve(t, vaultStore, "1000")

	_, err := svc.Redeem(context.Background(), RedeemRequest{
		UserAddress: testUser,
		ChainId:     testChain,
		Amount:      decimal.NewFromInt(50),
	})
	require.Error(t, err)
	require.Equal(t, KindInsufficientBalance, KindOf(err))

	var serr *Error
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "50", serr.Details["requested"])
	assert.Equal(t, "35", serr.Details["available"])
	assert.Equal(t, "15", serr.Details["shortfall"])
}

func TestRedeem_InsufficientReserve(t *testing.T) {
	svc, vaultStore, mock := newTestVault(t)
	ctx := context.Background()

	creditTestDeposit(t, svc, "100", "0x01")
	seedTestReserve(t, vaultStore, "10")

	_, err := svc.Redeem(ctx, RedeemRequest{
		UserAddress: testUser,
		ChainId:     testChain,
		Amount:      decimal.NewFromInt(50),
	})
	require.Error(t, err)
	require.Equal(t, KindInsufficientReserve, KindOf(err))

	var serr *Error
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "50", serr.Details["requested"])
	assert.Equal(t, "10", serr.Details["reserve"])
	assert.Equal(t, "40", serr.Details["shortfall"])

	// No transfer was attempted and deposits are untouched.
	assert.Empty(t, mock.Calls())
	balance, err := vaultStore.GetUserChainBalance(ctx, testUser, testChain)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(100)))
}

func TestRedeem_ReserveNotConfigured(t *testing.T) {
	svc, _, _ := newTestVault(t)

	creditTestDeposit(t, svc, "100", "0x01")

	_, err := svc.Redeem(context.Background(), RedeemRequest{
		UserAddress: testUser,
		ChainId:     testChain,
		Amount:      decimal.NewFromInt(1),
	})
	require.Error(t, err)
	assert.Equal(t, KindReserveNotConfigured, KindOf(err))
}

func TestRedeem_ExactReserveDrain(t *testing.T) {
	svc, vaultStore, _ := newTestVault(t)
	ctx := context.Background()

	creditTestDeposit(t, svc, "100", "0x01")
	seedTestReserve(t, vaultStore, "100")

	result, err := svc.Redeem(ctx, RedeemRequest{
		UserAddress: testUser,
		ChainId:     testChain,
		Amount:      decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.True(t, result.ReserveAfter.IsZero())
	assert.True(t, result.NewBalance.IsZero())
}

func TestRedeem_TransferFailureRollsBack(t *testing.T) {
	svc, vaultStore, mock := newTestVault(t)
	ctx := context.Background()

	creditTestDeposit(t, svc, "10", "0x01")
	creditTestDeposit(t, svc, "5", "0x02")
	seedTestReserve(t, vaultStore, "1000")

	mock.FailKind = executor.ErrorKindGasEstimationFailed
	mock.FailMessage = "gas estimation reverted"

	result, err := svc.Redeem(ctx, RedeemRequest{
		UserAddress: testUser,
		ChainId:     testChain,
		Amount:      decimal.NewFromInt(12),
	})
	require.Error(t, err)
	require.Equal(t, KindTransferFailed, KindOf(err))
	assert.False(t, result.Success)

	var serr *Error
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, executor.ErrorKindGasEstimationFailed, serr.Details["executorErrorKind"])

	// Both ledgers are back where they started.
	deposits, err := vaultStore.GetDeposits(ctx, testUser, testChain)
	require.NoError(t, err)
	require.Len(t, deposits, 2)
	assert.True(t, deposits[0].CurrentBalance.Equal(decimal.NewFromInt(10)))
	assert.True(t, deposits[1].CurrentBalance.Equal(decimal.NewFromInt(5)))

	reserve, err := vaultStore.GetReserve(ctx, testChain)
	require.NoError(t, err)
	assert.True(t, reserve.TotalReserve.Equal(decimal.NewFromInt(1000)))

	// The failed attempt is still on the audit trail.
	logs, err := vaultStore.GetRedemptionHistory(ctx, testUser, testChain, 10, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.False(t, logs[0].OnChainSuccess)
	assert.Contains(t, logs[0].TransferError, "gas estimation reverted")
}

func TestRedeem_AmbiguousTimeout(t *testing.T) {
	svc, vaultStore, mock := newTestVault(t)
	ctx := context.Background()

	creditTestDeposit(t, svc, "100", "0x01")
	seedTestReserve(t, vaultStore, "1000")

	mock.FailKind = executor.ErrorKindTimeout
	mock.FailMessage = "confirmation deadline exceeded"

	_, err := svc.Redeem(ctx, RedeemRequest{
		UserAddress: testUser,
		ChainId:     testChain,
		Amount:      decimal.NewFromInt(10),
	})
	require.Error(t, err)
	require.Equal(t, KindTransferFailed, KindOf(err))

	logs, err := vaultStore.GetRedemptionHistory(ctx, testUser, testChain, 10, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0].TransferError, "ambiguous")
	assert.Contains(t, logs[0].TransferError, "may have broadcast")
}

func TestRedeem_IdempotencyReplay(t *testing.T) {
	svc, vaultStore, mock := newTestVault(t)
	ctx := context.Background()

	creditTestDeposit(t, svc, "100", "0x01")
	seedTestReserve(t, vaultStore, "1000")

	req := RedeemRequest{
		UserAddress:    testUser,
		ChainId:        testChain,
		Amount:         decimal.NewFromInt(25),
		IdempotencyKey: "replay-key",
	}

	first, err := svc.Redeem(ctx, req)
	require.NoError(t, err)
	require.True(t, first.Success)
	require.Len(t, mock.Calls(), 1)

	// Replaying the key returns the prior outcome without a second transfer.
	second, err := svc.Redeem(ctx, req)
	require.NoError(t, err)
	require.True(t, second.Success)
	assert.Equal(t, first.TxId, second.TxId)
	assert.True(t, second.NewBalance.Equal(decimal.NewFromInt(75)))
	assert.Len(t, mock.Calls(), 1)

	balance, err := vaultStore.GetUserChainBalance(ctx, testUser, testChain)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(75)), "replay must not debit again")
}

func TestRedeem_ValidationFailures(t *testing.T) {
	svc, _, mock := newTestVault(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  RedeemRequest
		kind Kind
	}{
		{
			name: "zero amount",
			req:  RedeemRequest{UserAddress: testUser, ChainId: testChain, Amount: decimal.Zero},
			kind: KindInvalidAmount,
		},
		{
			name: "negative amount",
			req:  RedeemRequest{UserAddress: testUser, ChainId: testChain, Amount: decimal.NewFromInt(-5)},
			kind: KindInvalidAmount,
		},
		{
			name: "sub-unit precision",
			req:  RedeemRequest{UserAddress: testUser, ChainId: testChain, Amount: decimal.RequireFromString("1.0000001")},
			kind: KindInvalidAmount,
		},
		{
			name: "wrong token",
			req:  RedeemRequest{UserAddress: testUser, ChainId: testChain, Amount: decimal.NewFromInt(1), TokenType: "USDC"},
			kind: KindInvalidAmount,
		},
		{
			name: "unsupported chain",
			req:  RedeemRequest{UserAddress: testUser, ChainId: 999, Amount: decimal.NewFromInt(1)},
			kind: KindUnsupportedChain,
		},
		{
			name: "invalid address",
			req:  RedeemRequest{UserAddress: "bogus", ChainId: testChain, Amount: decimal.NewFromInt(1)},
			kind: KindInvalidUser,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := svc.Redeem(ctx, tc.req)
			require.Error(t, err)
			assert.Equal(t, tc.kind, KindOf(err))
			assert.False(t, result.Success)
			assert.Equal(t, string(tc.kind), result.ErrorKind)
		})
	}

	// Validation failures never reach the executor.
	assert.Empty(t, mock.Calls())
}

func TestCreditDeposit_DuplicateRejected(t *testing.T) {
	svc, vaultStore, _ := newTestVault(t)
	ctx := context.Background()

	creditTestDeposit(t, svc, "100", "0xaa")

	result, err := svc.CreditDeposit(ctx, CreditRequest{
		UserAddress:  testUser,
		ChainId:      testChain,
		Amount:       decimal.NewFromInt(100),
		SourceTxHash: "0xaa",
	})
	require.Error(t, err)
	assert.Equal(t, KindDuplicateTransaction, KindOf(err))
	assert.False(t, result.Success)

	balance, err := vaultStore.GetUserChainBalance(ctx, testUser, testChain)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(100)), "duplicate must not credit twice")
}

func TestCreditDeposit_MixedCaseAddressesMerge(t *testing.T) {
	svc, _, _ := newTestVault(t)
	ctx := context.Background()

	first, err := svc.CreditDeposit(ctx, CreditRequest{
		UserAddress:  "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B",
		ChainId:      testChain,
		Amount:       decimal.NewFromInt(10),
		SourceTxHash: "0x01",
	})
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := svc.CreditDeposit(ctx, CreditRequest{
		UserAddress:  "0xab5801a7d398351b8be11c439e05c5b3259aec9b",
		ChainId:      testChain,
		Amount:       decimal.NewFromInt(5),
		SourceTxHash: "0x02",
	})
	require.NoError(t, err)
	assert.True(t, second.UpdatedTotalForChain.Equal(decimal.NewFromInt(15)),
		"casing must not split a wallet into two balances")
}

func TestRedeem_ConservationUnderConcurrency(t *testing.T) {
	svc, vaultStore, _ := newTestVault(t)
	ctx := context.Background()

	creditTestDeposit(t, svc, "100", "0x01")
	seedTestReserve(t, vaultStore, "100")

	// Two 60-unit redemptions race against a balance of 100. At most one can
	// settle; no path may leave the books short.
	var wg sync.WaitGroup
	outcomes := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, outcomes[n] = svc.Redeem(ctx, RedeemRequest{
				UserAddress: testUser,
				ChainId:     testChain,
				Amount:      decimal.NewFromInt(60),
			})
		}(i)
	}
	wg.Wait()

	settled := decimal.Zero
	for _, err := range outcomes {
		if err == nil {
			settled = settled.Add(decimal.NewFromInt(60))
		}
	}

	balance, err := vaultStore.GetUserChainBalance(ctx, testUser, testChain)
	require.NoError(t, err)
	reserve, err := vaultStore.GetReserve(ctx, testChain)
	require.NoError(t, err)

	assert.True(t, balance.Add(settled).Equal(decimal.NewFromInt(100)),
		"deposits settled + remaining must equal the initial balance, got %s settled with %s left",
		settled, balance)
	assert.True(t, reserve.TotalReserve.Add(settled).Equal(decimal.NewFromInt(100)),
		"reserve must drop by exactly the settled amount")
}

func TestChainBalances(t *testing.T) {
	svc, _, _ := newTestVault(t)
	ctx := context.Background()

	creditTestDeposit(t, svc, "100", "0x01")
	_, err := svc.CreditDeposit(ctx, CreditRequest{
		UserAddress:  testUser,
		ChainId:      1,
		Amount:       decimal.NewFromInt(7),
		SourceTxHash: "0x02",
	})
	require.NoError(t, err)

	balances, err := svc.ChainBalances(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, balances, 2)

	assert.Equal(t, int64(1), balances[0].ChainId)
	assert.True(t, balances[0].Balance.Equal(decimal.NewFromInt(7)))
	assert.Equal(t, testChain, balances[1].ChainId)
	assert.True(t, balances[1].Balance.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 1, balances[1].DepositCount)
}
