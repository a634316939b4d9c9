package common

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeChainsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chains.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write chains file: %v", err)
	}
	return path
}

func TestLoadChainRegistry(t *testing.T) {
	path := writeChainsFile(t, `
chains:
  - chain_id: 1
    name: ethereum-mainnet
    rpc_url: https://eth.example.com
    usdt_contract: "0xdAC17F958D2ee523a2206206994597C13D831ec7"
    confirmations: 12
    treasury_address: "0x1111111111111111111111111111111111111111"
  - chain_id: 8453
    name: base-mainnet
    rpc_url: https://base.example.com
    usdt_contract: "0xfde4C96c8593536E31F229EA8f37b2ADa2699bb2"
    token_decimals: 18
`)

	registry, err := LoadChainRegistry(path)
	if err != nil {
		t.Fatalf("LoadChainRegistry failed: %v", err)
	}
	if len(registry) != 2 {
		t.Fatalf("Expected 2 chains, got %d", len(registry))
	}

	eth := registry[1]
	if eth.Name != "ethereum-mainnet" || eth.Confirmations != 12 {
		t.Errorf("Ethereum entry did not round-trip: %+v", eth)
	}
	if eth.TokenDecimals != 6 {
		t.Errorf("Expected default token_decimals 6, got %d", eth.TokenDecimals)
	}
	if registry[8453].TokenDecimals != 18 {
		t.Errorf("Explicit token_decimals should be kept, got %d", registry[8453].TokenDecimals)
	}

	ids := SupportedChainIds(registry)
	if len(ids) != 2 {
		t.Errorf("Expected 2 supported chain ids, got %v", ids)
	}
}

func TestLoadChainRegistry_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "empty file",
			content: "chains: []\n",
			wantErr: "no chains configured",
		},
		{
			name: "missing chain_id",
			content: `
chains:
  - rpc_url: https://eth.example.com
    usdt_contract: "0x01"
`,
			wantErr: "missing chain_id",
		},
		{
			name: "missing rpc_url",
			content: `
chains:
  - chain_id: 1
    usdt_contract: "0x01"
`,
			wantErr: "missing rpc_url",
		},
		{
			name: "missing usdt_contract",
			content: `
chains:
  - chain_id: 1
    rpc_url: https://eth.example.com
`,
			wantErr: "missing usdt_contract",
		},
		{
			name: "duplicate chain",
			content: `
chains:
  - chain_id: 1
    rpc_url: https://a.example.com
    usdt_contract: "0x01"
  - chain_id: 1
    rpc_url: https://b.example.com
    usdt_contract: "0x02"
`,
			wantErr: "duplicate chain_id",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeChainsFile(t, tc.content)
			_, err := LoadChainRegistry(path)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestLoadChainRegistry_MissingFile(t *testing.T) {
	if _, err := LoadChainRegistry(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Expected error for missing file")
	}
}
