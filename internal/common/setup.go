package common

import (
	"context"
	"fmt"
	"log"
	"strings"

	"usdt-vault-go/internal/database"
	"usdt-vault-go/internal/executor"
	"usdt-vault-go/internal/formance"
	"usdt-vault-go/internal/models"
	"usdt-vault-go/internal/settlement"
	"usdt-vault-go/internal/store"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Try to load .env file - if it doesn't exist, that's okay
	// Environment variables can be set via other means (shell export, docker, etc.)
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

type Services struct {
	Store      store.VaultStore
	Executor   executor.TransferExecutor
	Settlement *settlement.Service
	Registry   map[int64]models.ChainConfig
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeServices wires the full stack: chain registry, vault store
// (backend chosen by VAULT_BACKEND), transfer executor, and settlement core.
func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	registry, err := LoadChainRegistry(cfg.Listener.ChainsFile)
	if err != nil {
		return nil, err
	}

	vaultStore, err := InitializeStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var exec executor.TransferExecutor
	if cfg.Executor.TreasuryPrivateKey == "" {
		zap.L().Warn("TREASURY_PRIVATE_KEY not set, using mock transfer executor")
		exec = executor.NewMockExecutor()
	} else {
		exec, err = executor.NewEvmExecutor(registry, cfg.Executor)
		if err != nil {
			vaultStore.Close()
			return nil, err
		}
	}

	svc := settlement.NewService(vaultStore, exec, SupportedChainIds(registry))

	return &Services{
		Store:      vaultStore,
		Executor:   exec,
		Settlement: svc,
		Registry:   registry,
	}, nil
}

// InitializeStore initializes just the vault store without the executor.
// Useful for read-only operations like querying balances and history.
func InitializeStore(ctx context.Context, cfg *models.Config) (store.VaultStore, error) {
	switch cfg.Backend {
	case "formance":
		zap.L().Info("Using Formance ledger backend")
		return formance.NewService(ctx, cfg.Formance)
	case "sqlite", "":
		zap.L().Info("Using SQLite backend", zap.String("path", cfg.Database.Path))
		return database.NewService(ctx, cfg.Database)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func (cs *Services) Close() {
	if cs.Store != nil {
		cs.Store.Close()
	}
	if cs.Executor != nil {
		cs.Executor.Close()
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
