package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	ethav "github.com/KOREAN139/ethereum-address-validator"
	"github.com/ethereum/go-ethereum/common"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

const envPrefix = "portal"

// reading config error is fatal, and exits main thread
func processError(err error) {
	fmt.Println(err)
	os.Exit(2)
}

func defaults() Configuration {
	var cfg Configuration
	cfg.Server.Listen = "127.0.0.1:8080"
	cfg.Server.RedisHost = "127.0.0.1"
	cfg.Server.RedisPort = 6379
	cfg.Server.SessionTTL = 30 * 24 * time.Hour
	cfg.Wallet.StartingChain = 1
	cfg.Policy = DefaultPolicy()
	return cfg
}

func readFile(path string, cfg *Configuration) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "cannot open config file %s", path)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(cfg); err != nil {
		return errors.Wrapf(err, "cannot decode config file %s", path)
	}
	return nil
}

func readEnv(cfg *Configuration) error {
	return errors.Wrap(envconfig.Process(envPrefix, cfg), "cannot read environment")
}

// mergeNetworks lays networks from the file over the default table. A file
// entry replaces only the fields it sets.
func mergeNetworks(file []ChainConfig) []ChainConfig {
	merged := make(map[int]ChainConfig, len(EVMChains))
	for id, c := range EVMChains {
		merged[id] = c
	}
	for _, n := range file {
		base, ok := merged[n.ChainID]
		if !ok {
			merged[n.ChainID] = n
			continue
		}
		if n.Name != "" {
			base.Name = n.Name
		}
		if len(n.RPCList) > 0 {
			base.RPCList = n.RPCList
		}
		if n.PortalAddress != "" {
			base.PortalAddress = n.PortalAddress
		}
		if n.MinConfirmations > 0 {
			base.MinConfirmations = n.MinConfirmations
		}
		if len(n.Tokens) > 0 {
			base.Tokens = n.Tokens
		}
		merged[n.ChainID] = base
	}

	res := make([]ChainConfig, 0, len(merged))
	for _, c := range merged {
		res = append(res, c)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ChainID < res[j].ChainID })
	return res
}

func validAddress(addr string) bool {
	if !common.IsHexAddress(addr) {
		return false
	}
	return ethav.Validate(common.HexToAddress(addr).Hex()) == nil
}

// Validate checks the network table. Networks without a portal contract
// are dropped since nothing can be executed on them.
func (c *Configuration) Validate() error {
	networks := make([]ChainConfig, 0, len(c.Networks))
	for _, n := range c.Networks {
		if n.PortalAddress == "" {
			continue
		}
		if !validAddress(n.PortalAddress) {
			return errors.Errorf("network %d: invalid portal address %q", n.ChainID, n.PortalAddress)
		}
		if len(n.RPCList) == 0 {
			return errors.Errorf("network %d: empty rpc list", n.ChainID)
		}
		canonical := 0
		for _, t := range n.Tokens {
			if !validAddress(t.Address) {
				return errors.Errorf("network %d: invalid token address %q", n.ChainID, t.Address)
			}
			if t.Decimals < 0 || t.Decimals > 36 {
				return errors.Errorf("network %d: token %s has unsupported precision %d", n.ChainID, t.Symbol, t.Decimals)
			}
			if t.Canonical {
				canonical++
				if t.Decimals != 8 {
					return errors.Errorf("network %d: canonical token %s must have 8 decimals", n.ChainID, t.Symbol)
				}
			}
		}
		if canonical > 1 {
			return errors.Errorf("network %d: %d canonical tokens", n.ChainID, canonical)
		}
		networks = append(networks, n)
	}
	if len(networks) == 0 {
		return errors.New("no network with a portal address configured")
	}
	c.Networks = networks

	if c.Policy.OptimizedPercent < 100 {
		return errors.Errorf("optimized_percent %d is below 100", c.Policy.OptimizedPercent)
	}
	if c.Policy.RedemptionDelay <= 0 {
		return errors.New("redemption_delay must be positive")
	}
	// a checkpoint has to outlive the security delay it is waiting on
	if c.Server.SessionTTL < c.Policy.RedemptionDelay {
		return errors.Errorf("session_ttl %s is shorter than redemption_delay %s", c.Server.SessionTTL, c.Policy.RedemptionDelay)
	}
	if c.Wallet.RPCURL == "" && strings.TrimSpace(c.Wallet.PrivateKey) == "" {
		return errors.New("either wallet rpc_url or private_key is required")
	}
	return nil
}

// Load reads path (when not empty) over the defaults, then the PORTAL_*
// environment, and validates the result.
func Load(path string) (*Configuration, error) {
	cfg := defaults()
	if path != "" {
		if err := readFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	if err := readEnv(&cfg); err != nil {
		return nil, err
	}
	cfg.Networks = mergeNetworks(cfg.Networks)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func Init() {
	path := os.Getenv("PORTAL_CONFIG")
	if path == "" {
		path = "config.yml"
	}
	cfg, err := Load(path)
	if err != nil {
		processError(err)
	}
	Config = *cfg
}
