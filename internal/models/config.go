package models

import "time"

// Config represents the application configuration
type Config struct {
	Backend  string // "sqlite" or "formance"
	Database DatabaseConfig
	Formance FormanceConfig
	Executor ExecutorConfig
	Listener ListenerConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// FormanceConfig holds Formance Stack connection settings
type FormanceConfig struct {
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
}

// ExecutorConfig holds on-chain transfer executor settings
type ExecutorConfig struct {
	TreasuryPrivateKey string
	SubmitTimeout      time.Duration
	ConfirmTimeout     time.Duration
	WaitForReceipt     bool
}

// ListenerConfig holds deposit listener settings
type ListenerConfig struct {
	PollingInterval time.Duration
	LookbackBlocks  int64
	ChainsFile      string
}
