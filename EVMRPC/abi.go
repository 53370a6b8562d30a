package EVMRPC

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const erc20JSON = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]}
]`

// portal is the deposit, bridge and redemption queue contract of a network.
const portalJSON = `[
	{"type":"function","name":"deposit","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"bridge","stateMutability":"payable","inputs":[{"name":"destChainId","type":"uint256"},{"name":"recipient","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"requestRedemption","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"id","type":"uint256"}]},
	{"type":"function","name":"availableReserve","stateMutability":"view","inputs":[{"name":"token","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getRedemptionRequests","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"requests","type":"tuple[]","components":[
		{"name":"id","type":"uint256"},
		{"name":"owner","type":"address"},
		{"name":"token","type":"address"},
		{"name":"canonicalAmount","type":"uint256"},
		{"name":"underlyingAmount","type":"uint256"},
		{"name":"requestTime","type":"uint256"},
		{"name":"fulfilled","type":"bool"},
		{"name":"fulfilledAt","type":"uint256"}
	]}]}
]`

var (
	erc20ABI  = mustParse(erc20JSON)
	portalABI = mustParse(portalJSON)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
