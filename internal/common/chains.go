package common

import (
	"fmt"
	"os"
	"path/filepath"

	"usdt-vault-go/internal/models"

	"gopkg.in/yaml.v2"
)

type ChainsConfig struct {
	Chains []models.ChainConfig `yaml:"chains"`
}

// LoadChainRegistry reads the chains file and returns the registry keyed by
// chain id. The registry is the single source of truth for which chains are
// supported; a chain id absent from it fails validation everywhere.
func LoadChainRegistry(chainsFile string) (map[int64]models.ChainConfig, error) {
	var chainsPath string
	if filepath.IsAbs(chainsFile) {
		chainsPath = chainsFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		chainsPath = filepath.Join(wd, chainsFile)
	}

	data, err := os.ReadFile(chainsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", chainsFile, err)
	}

	var config ChainsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", chainsFile, err)
	}

	registry := make(map[int64]models.ChainConfig, len(config.Chains))
	for i, chain := range config.Chains {
		if chain.ChainId <= 0 {
			return nil, fmt.Errorf("chain at index %d missing chain_id", i)
		}
		if chain.RpcUrl == "" {
			return nil, fmt.Errorf("chain %d missing rpc_url", chain.ChainId)
		}
		if chain.UsdtContract == "" {
			return nil, fmt.Errorf("chain %d missing usdt_contract", chain.ChainId)
		}
		if chain.TokenDecimals == 0 {
			chain.TokenDecimals = 6
		}
		if _, dup := registry[chain.ChainId]; dup {
			return nil, fmt.Errorf("duplicate chain_id %d in %s", chain.ChainId, chainsFile)
		}
		registry[chain.ChainId] = chain
	}

	if len(registry) == 0 {
		return nil, fmt.Errorf("no chains configured in %s", chainsFile)
	}
	return registry, nil
}

// SupportedChainIds returns the chain ids present in a registry.
func SupportedChainIds(registry map[int64]models.ChainConfig) []int64 {
	ids := make([]int64, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	return ids
}
