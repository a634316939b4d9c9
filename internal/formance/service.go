package formance

import (
	"context"
	"errors"
	"fmt"

	"usdt-vault-go/internal/models"
	"usdt-vault-go/internal/store"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/sdkerrors"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.VaultStore.
var _ store.VaultStore = (*Service)(nil)

// usdtAsset is the Formance UMN notation for USDT with 6 decimals.
// The vault holds exactly one asset, so this is a constant rather than a table.
const usdtAsset = "USDT/6"

const usdtPrecision = 6

// Service implements store.VaultStore backed by a Formance Stack ledger.
//
// Chart of accounts:
//
//	vault:chains:{chainId}:deposits:{depositId}  one account per deposit record
//	vault:chains:{chainId}:reserve               per-chain redemption reserve
//	vault:chains:{chainId}:settlement            funds leaving toward on-chain payout
//	vault:audit:redemptions                      audit mirror of redemption attempts
type Service struct {
	client *v3.Formance
	ledger string
}

// NewService creates a Formance-backed VaultStore.
// It connects to the stack, creates the ledger if it doesn't already exist, and returns ready to use.
func NewService(ctx context.Context, cfg models.FormanceConfig) (*Service, error) {
	if cfg.StackURL == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("formance config requires StackURL, ClientID, and ClientSecret")
	}
	if cfg.LedgerName == "" {
		cfg.LedgerName = "usdt-vault"
	}

	zap.L().Info("Connecting to Formance Stack",
		zap.String("stack_url", cfg.StackURL),
		zap.String("ledger", cfg.LedgerName))

	client := v3.New(
		v3.WithServerURL(cfg.StackURL),
		v3.WithSecurity(shared.Security{
			ClientID:     v3.Pointer(cfg.ClientID),
			ClientSecret: v3.Pointer(cfg.ClientSecret),
		}),
	)

	svc := &Service{client: client, ledger: cfg.LedgerName}

	if err := svc.ensureLedger(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure ledger exists: %w", err)
	}

	zap.L().Info("Formance service initialized", zap.String("ledger", cfg.LedgerName))
	return svc, nil
}

// ensureLedger creates the ledger if it does not already exist.
func (s *Service) ensureLedger(ctx context.Context) error {
	_, err := s.client.Ledger.V2.CreateLedger(ctx, operations.V2CreateLedgerRequest{
		Ledger: s.ledger,
		V2CreateLedgerRequest: shared.V2CreateLedgerRequest{
			Metadata: map[string]string{
				"application": "usdt-vault",
			},
		},
	})
	if err != nil {
		var apiErr *sdkerrors.V2ErrorResponse
		if errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumLedgerAlreadyExists {
			zap.L().Info("Ledger already exists", zap.String("ledger", s.ledger))
			return nil
		}
		return err
	}
	zap.L().Info("Ledger created", zap.String("ledger", s.ledger))
	return nil
}

// Close is a no-op for the Formance backend (HTTP client needs no teardown).
func (s *Service) Close() {}

// ---------- account paths ----------

func depositAccount(chainId int64, depositId string) string {
	return fmt.Sprintf("vault:chains:%d:deposits:%s", chainId, depositId)
}

func reserveAccount(chainId int64) string {
	return fmt.Sprintf("vault:chains:%d:reserve", chainId)
}

func settlementAccount(chainId int64) string {
	return fmt.Sprintf("vault:chains:%d:settlement", chainId)
}

const auditAccount = "vault:audit:redemptions"

// ---------- helpers ----------

// toMinorUnits converts a human decimal amount to the USDT smallest-unit string
// used in Numscript, e.g. "25" -> "25000000".
func toMinorUnits(amount decimal.Decimal) string {
	return amount.Shift(usdtPrecision).BigInt().String()
}

// fromMinorUnits converts a smallest-unit big.Int balance back to a human decimal.
func fromMinorUnits(raw string) decimal.Decimal {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d.Shift(-usdtPrecision)
}

// isConflictError checks whether a Formance SDK error is a CONFLICT (duplicate reference).
func isConflictError(err error) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	return errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumConflict
}

// isNotFoundError checks whether a Formance SDK error is NOT_FOUND.
func isNotFoundError(err error) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	return errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumNotFound
}

// isInsufficientFundError checks whether a Formance SDK error is INSUFFICIENT_FUND,
// raised when a bounded Numscript source cannot cover the requested amount.
func isInsufficientFundError(err error) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	return errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumInsufficientFund
}

func strPtr(s string) *string { return &s }

func ptrInt64(v int64) *int64 { return &v }
