package orchestrator

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"

	"gowrapportal/types"
)

// Call is one contract interaction the orchestrator asks the gateway to submit.
type Call struct {
	Kind    types.StepKind
	ChainID int
	From    string // signing account
	Token   types.TokenDescriptor

	Amount *big.Int // in Token's precision
	Value  *big.Int // native value attached, bridge fee

	Spender   string // approval
	DestChain int    // bridge
	Recipient string // bridge
	Target    types.TokenDescriptor
}

type ReceiptStatus int

const (
	ReceiptPending ReceiptStatus = iota
	ReceiptSuccess
	ReceiptReverted
)

func (s ReceiptStatus) String() string {
	switch s {
	case ReceiptSuccess:
		return "success"
	case ReceiptReverted:
		return "reverted"
	}
	return "pending"
}

// Chain is everything the flows read from or submit to the networks.
type Chain interface {
	Portal(chainID int) (string, error)
	ReadBalance(ctx context.Context, token types.TokenDescriptor, account string) (*big.Int, error)
	ReadAllowance(ctx context.Context, token types.TokenDescriptor, owner, spender string) (*big.Int, error)
	ReadGasPrice(ctx context.Context, chainID int) (*big.Int, error)
	ReadRedemptionRequests(ctx context.Context, chainID int, owner string) ([]types.RedemptionRequest, error)
	ReadAvailableReserve(ctx context.Context, token types.TokenDescriptor) (*big.Int, error)

	// Submit hands the call to the wallet and returns the transaction hash.
	Submit(ctx context.Context, call Call) (string, error)
	// WaitForReceipt blocks until the transaction is mined or ctx is done.
	WaitForReceipt(ctx context.Context, chainID int, ref string) (ReceiptStatus, error)
	// CheckReceipt never blocks, ReceiptPending means not mined yet.
	CheckReceipt(ctx context.Context, chainID int, ref string) (ReceiptStatus, error)
}

// Wallet is the user's signer as seen by the flows.
type Wallet interface {
	CurrentAccount(ctx context.Context) (string, error)
	CurrentNetwork(ctx context.Context) (int, error)
	RequestNetworkSwitch(ctx context.Context, chainID int) error
}

// PriceOracle supplies the native token price in USD, optional.
type PriceOracle interface {
	NativeUSD(ctx context.Context, chainID int) (decimal.Decimal, error)
}
