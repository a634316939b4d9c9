package models

// ChainConfig describes one supported chain: where to reach it and where the
// USDT contract lives on it.
type ChainConfig struct {
	ChainId         int64  `yaml:"chain_id"`
	Name            string `yaml:"name"`
	RpcUrl          string `yaml:"rpc_url"`
	UsdtContract    string `yaml:"usdt_contract"`
	TokenDecimals   int32  `yaml:"token_decimals"`
	Confirmations   int64  `yaml:"confirmations"`
	TreasuryAddress string `yaml:"treasury_address"`
}
