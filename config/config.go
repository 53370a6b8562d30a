package config

import (
	"math/big"
	"time"

	"gowrapportal/approval"
	"gowrapportal/fees"
)

type Configuration struct {
	// Local daemon config
	Server struct {
		Listen     string        `yaml:"listen" envconfig:"listen"`
		UseRedis   bool          `yaml:"use_redis" envconfig:"use_redis"`
		RedisPort  int           `yaml:"redis_port" envconfig:"redis_port"`
		RedisHost  string        `yaml:"redis_host" envconfig:"redis_host"`
		SessionTTL time.Duration `yaml:"session_ttl" envconfig:"session_ttl"`
	} `yaml:"server"`
	// Wallet the daemon talks to. Either an EIP-1193 style JSON-RPC endpoint
	// or, for development only, a local key.
	Wallet struct {
		RPCURL        string `yaml:"rpc_url" envconfig:"rpc_url"`
		PrivateKey    string `yaml:"private_key" envconfig:"private_key"`
		StartingChain int    `yaml:"starting_chain" envconfig:"starting_chain"`
	} `yaml:"wallet"`
	Policy   Policy        `yaml:"policy"`
	Networks []ChainConfig `yaml:"networks" ignored:"true"`
	// USD price of each network's native coin, fees are shown in USD when set
	NativeUSD map[int]string `yaml:"native_usd" ignored:"true"`
}

// Policy holds every product constant, named and overridable.
type Policy struct {
	OptimizedPercent     int64 `yaml:"optimized_percent" envconfig:"optimized_percent"`
	LargeAmountTokens    int64 `yaml:"large_amount_tokens" envconfig:"large_amount_tokens"` // whole canonical tokens
	HighGasGwei          int64 `yaml:"high_gas_gwei" envconfig:"high_gas_gwei"`
	ProtocolFeeBps       int64 `yaml:"protocol_fee_bps" envconfig:"protocol_fee_bps"`
	BridgeFeeGwei        int64 `yaml:"bridge_fee_gwei" envconfig:"bridge_fee_gwei"`
	GasNormalGwei        int64 `yaml:"gas_normal_gwei" envconfig:"gas_normal_gwei"`
	GasHighGwei          int64 `yaml:"gas_high_gwei" envconfig:"gas_high_gwei"`
	GasExtremeGwei       int64 `yaml:"gas_extreme_gwei" envconfig:"gas_extreme_gwei"`
	StabilityBandPercent int64 `yaml:"stability_band_percent" envconfig:"stability_band_percent"`

	ApprovalGas uint64 `yaml:"approval_gas" envconfig:"approval_gas"`
	WrapGas     uint64 `yaml:"wrap_gas" envconfig:"wrap_gas"`
	BridgeGas   uint64 `yaml:"bridge_gas" envconfig:"bridge_gas"`
	UnwrapGas   uint64 `yaml:"unwrap_gas" envconfig:"unwrap_gas"`

	// minimum amounts in canonical base units (1e-8)
	MinWrapUnits   int64 `yaml:"min_wrap_units" envconfig:"min_wrap_units"`
	MinBridgeUnits int64 `yaml:"min_bridge_units" envconfig:"min_bridge_units"`
	MinUnwrapUnits int64 `yaml:"min_unwrap_units" envconfig:"min_unwrap_units"`

	RedemptionDelay     time.Duration `yaml:"redemption_delay" envconfig:"redemption_delay"`
	ReceiptTimeout      time.Duration `yaml:"receipt_timeout" envconfig:"receipt_timeout"`
	DestinationTimeout  time.Duration `yaml:"destination_timeout" envconfig:"destination_timeout"`
	ReceiptPollInterval time.Duration `yaml:"receipt_poll_interval" envconfig:"receipt_poll_interval"`

	AllowancePollInterval  time.Duration `yaml:"allowance_poll_interval" envconfig:"allowance_poll_interval"`
	GasPollInterval        time.Duration `yaml:"gas_poll_interval" envconfig:"gas_poll_interval"`
	RedemptionPollInterval time.Duration `yaml:"redemption_poll_interval" envconfig:"redemption_poll_interval"`
	GasHistory             int           `yaml:"gas_history" envconfig:"gas_history"`
}

var Config Configuration

// maximum number of EVM RPC retries
const EVM_RETRIES = 3

const gwei = 1_000_000_000

// EVM-chains configs
type ChainConfig struct {
	Name             string        `yaml:"name"`
	ChainID          int           `yaml:"chain_id"`
	RPCList          []string      `yaml:"rpc_list"`
	PortalAddress    string        `yaml:"portal_address"` // deposit, bridge and redemption queue contract, spender of approvals
	MinConfirmations int           `yaml:"min_confirmations"`
	Tokens           []TokenConfig `yaml:"tokens"`
}

type TokenConfig struct {
	Address   string `yaml:"address"`
	Symbol    string `yaml:"symbol"`
	Name      string `yaml:"name"`
	Decimals  int    `yaml:"decimals"`
	CanWrap   bool   `yaml:"can_wrap"`
	CanBridge bool   `yaml:"can_bridge"`
	CanRedeem bool   `yaml:"can_redeem"`
	Canonical bool   `yaml:"canonical"`
}

// canonical WBGL token, same address on every network
const canonicalAddress = "0x2bA64EFB7A4Ec8983E22A49c81fa216AC33f383A"

func canonicalToken() TokenConfig {
	return TokenConfig{Address: canonicalAddress, Symbol: "WBGL", Name: "Wrapped BGL", Decimals: 8, CanBridge: true, Canonical: true}
}

func stable(address, symbol, name string, decimals int) TokenConfig {
	return TokenConfig{Address: address, Symbol: symbol, Name: name, Decimals: decimals, CanWrap: true, CanRedeem: true}
}

// EVMChains is the default network table, portal addresses come from config.yml.
var EVMChains = map[int]ChainConfig{
	1: {
		Name:             "Eth",
		ChainID:          1,
		RPCList:          []string{"https://eth.drpc.org", "https://eth.llamarpc.com"},
		MinConfirmations: 3,
		Tokens:           []TokenConfig{
			canonicalToken(),
			stable("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", "USDC", "USD Coin", 6),
			stable("0xdAC17F958D2ee523a2206206994597C13D831ec7", "USDT", "Tether USD", 6),
			stable("0x6B175474E89094C44Da98b954EedeAC495271d0F", "DAI", "Dai Stablecoin", 18),
		},
	}, // Ethereum
	10: {
		Name:             "Optimism",
		ChainID:          10,
		RPCList:          []string{"https://rpc.ankr.com/optimism", "https://optimism.llamarpc.com", "https://optimism.drpc.org"},
		MinConfirmations: 3,
		Tokens:           []TokenConfig{
			canonicalToken(),
			stable("0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85", "USDC", "USD Coin", 6),
		},
	}, // Optimism
	56: {
		Name:             "BNB",
		ChainID:          56,
		RPCList:          []string{"https://rpc.ankr.com/bsc", "https://bsc.drpc.org", "https://bsc.meowrpc.com"},
		MinConfirmations: 3,
		Tokens:           []TokenConfig{
			canonicalToken(),
			stable("0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d", "USDC", "Binance-Peg USD Coin", 18),
		},
	}, // BNB
	42161: {
		Name:             "Arbitrum",
		ChainID:          42161,
		RPCList:          []string{"https://rpc.ankr.com/arbitrum", "https://arbitrum.llamarpc.com", "https://arbitrum.meowrpc.com"},
		MinConfirmations: 3,
		Tokens:           []TokenConfig{
			canonicalToken(),
			stable("0xaf88d065e77c8cC2239327C5EDb3A432268e5831", "USDC", "USD Coin", 6),
		},
	}, // Arbitrum
}

func DefaultPolicy() Policy {
	return Policy{
		OptimizedPercent:     150,
		LargeAmountTokens:    100_000,
		HighGasGwei:          50,
		ProtocolFeeBps:       10,
		BridgeFeeGwei:        1_000_000, // 0.001 native
		GasNormalGwei:        20,
		GasHighGwei:          50,
		GasExtremeGwei:       100,
		StabilityBandPercent: 10,

		ApprovalGas: 46_000,
		WrapGas:     120_000,
		BridgeGas:   200_000,
		UnwrapGas:   150_000,

		MinWrapUnits:   1_000_000,
		MinBridgeUnits: 10_000_000,
		MinUnwrapUnits: 1_000_000,

		RedemptionDelay:     864000 * time.Second,
		ReceiptTimeout:      10 * time.Minute,
		DestinationTimeout:  30 * time.Minute,
		ReceiptPollInterval: 3 * time.Second,

		AllowancePollInterval:  5 * time.Second,
		GasPollInterval:        10 * time.Second,
		RedemptionPollInterval: 30 * time.Second,
		GasHistory:             12,
	}
}

func gweiToWei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(gwei))
}

func (p Policy) ApprovalPolicy() approval.Policy {
	return approval.Policy{
		OptimizedPercent:     p.OptimizedPercent,
		LargeAmountThreshold: new(big.Int).Mul(big.NewInt(p.LargeAmountTokens), big.NewInt(1e8)),
		HighGasThreshold:     gweiToWei(p.HighGasGwei),
		ApprovalGas:          p.ApprovalGas,
	}
}

func (p Policy) FeePolicy() fees.Policy {
	return fees.Policy{
		ApprovalGas:          p.ApprovalGas,
		WrapGas:              p.WrapGas,
		BridgeGas:            p.BridgeGas,
		UnwrapGas:            p.UnwrapGas,
		ProtocolFeeBps:       p.ProtocolFeeBps,
		BridgeMinFee:         gweiToWei(p.BridgeFeeGwei),
		NormalFrom:           gweiToWei(p.GasNormalGwei),
		HighFrom:             gweiToWei(p.GasHighGwei),
		ExtremeFrom:          gweiToWei(p.GasExtremeGwei),
		StabilityBandPercent: p.StabilityBandPercent,
	}
}

// Chain returns the effective config of a network.
func (c *Configuration) Chain(chainID int) (ChainConfig, bool) {
	for _, n := range c.Networks {
		if n.ChainID == chainID {
			return n, true
		}
	}
	return ChainConfig{}, false
}
