package EVMRPC

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"

	"gowrapportal/config"
	"gowrapportal/orchestrator"
	"gowrapportal/tokens"
	"gowrapportal/types"
)

// TxRequest is an unsigned transaction handed to the wallet.
type TxRequest struct {
	ChainID int
	From    common.Address
	To      common.Address
	Data    []byte
	Value   *big.Int
}

// Sender signs and broadcasts, returning the transaction hash.
type Sender interface {
	SendTransaction(ctx context.Context, tx TxRequest) (string, error)
}

// Gateway implements the chain side of the flows for every configured network.
type Gateway struct {
	networks     map[int]config.ChainConfig
	sender       Sender
	pollInterval time.Duration
}

func NewGateway(networks []config.ChainConfig, sender Sender, pollInterval time.Duration) *Gateway {
	g := &Gateway{
		networks:     make(map[int]config.ChainConfig, len(networks)),
		sender:       sender,
		pollInterval: pollInterval,
	}
	if g.pollInterval <= 0 {
		g.pollInterval = 3 * time.Second
	}
	for _, n := range networks {
		g.networks[n.ChainID] = n
	}
	return g
}

func (g *Gateway) network(chainID int) (config.ChainConfig, error) {
	n, ok := g.networks[chainID]
	if !ok {
		return config.ChainConfig{}, errors.Errorf("chain %d is not configured", chainID)
	}
	return n, nil
}

func (g *Gateway) Portal(chainID int) (string, error) {
	n, err := g.network(chainID)
	if err != nil {
		return "", err
	}
	return n.PortalAddress, nil
}

// call runs a read-only contract call on chainID and returns the raw outputs.
func (g *Gateway) call(ctx context.Context, chainID int, address string, contract abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	n, err := g.network(chainID)
	if err != nil {
		return nil, err
	}
	out, err := WithClient(ctx, n.RPCList, func(client *ethclient.Client) ([]interface{}, error) {
		bound := bind.NewBoundContract(common.HexToAddress(address), contract, client, client, client)
		var res []interface{}
		err := bound.Call(&bind.CallOpts{Context: ctx}, &res, method, args...)
		return res, err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "%s on chain %d", method, chainID)
	}
	if len(out) == 0 {
		return nil, errors.Errorf("%s on chain %d returned nothing", method, chainID)
	}
	return out, nil
}

func (g *Gateway) readUint(ctx context.Context, chainID int, address string, contract abi.ABI, method string, args ...interface{}) (*big.Int, error) {
	out, err := g.call(ctx, chainID, address, contract, method, args...)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (g *Gateway) ReadBalance(ctx context.Context, token types.TokenDescriptor, account string) (*big.Int, error) {
	return g.readUint(ctx, token.ChainID, token.Address, erc20ABI, "balanceOf", common.HexToAddress(account))
}

func (g *Gateway) ReadAllowance(ctx context.Context, token types.TokenDescriptor, owner, spender string) (*big.Int, error) {
	return g.readUint(ctx, token.ChainID, token.Address, erc20ABI, "allowance",
		common.HexToAddress(owner), common.HexToAddress(spender))
}

func (g *Gateway) ReadAvailableReserve(ctx context.Context, token types.TokenDescriptor) (*big.Int, error) {
	n, err := g.network(token.ChainID)
	if err != nil {
		return nil, err
	}
	return g.readUint(ctx, token.ChainID, n.PortalAddress, portalABI, "availableReserve", common.HexToAddress(token.Address))
}

func (g *Gateway) ReadTokenMetadata(ctx context.Context, token types.TokenDescriptor) (tokens.Metadata, error) {
	var meta tokens.Metadata
	out, err := g.call(ctx, token.ChainID, token.Address, erc20ABI, "decimals")
	if err != nil {
		return meta, err
	}
	meta.Decimals = int(*abi.ConvertType(out[0], new(uint8)).(*uint8))

	if out, err = g.call(ctx, token.ChainID, token.Address, erc20ABI, "symbol"); err != nil {
		return meta, err
	}
	meta.Symbol = *abi.ConvertType(out[0], new(string)).(*string)

	if out, err = g.call(ctx, token.ChainID, token.Address, erc20ABI, "name"); err != nil {
		return meta, err
	}
	meta.Name = *abi.ConvertType(out[0], new(string)).(*string)
	return meta, nil
}

func (g *Gateway) ReadGasPrice(ctx context.Context, chainID int) (*big.Int, error) {
	n, err := g.network(chainID)
	if err != nil {
		return nil, err
	}
	price, err := WithClient(ctx, n.RPCList, func(client *ethclient.Client) (*big.Int, error) {
		return client.SuggestGasPrice(ctx)
	})
	return price, errors.Wrapf(err, "gas price on chain %d", chainID)
}

// redemptionTuple mirrors the portal's request struct.
type redemptionTuple struct {
	Id               *big.Int
	Owner            common.Address
	Token            common.Address
	CanonicalAmount  *big.Int
	UnderlyingAmount *big.Int
	RequestTime      *big.Int
	Fulfilled        bool
	FulfilledAt      *big.Int
}

func (g *Gateway) ReadRedemptionRequests(ctx context.Context, chainID int, owner string) ([]types.RedemptionRequest, error) {
	n, err := g.network(chainID)
	if err != nil {
		return nil, err
	}
	out, err := g.call(ctx, chainID, n.PortalAddress, portalABI, "getRedemptionRequests", common.HexToAddress(owner))
	if err != nil {
		return nil, err
	}
	return decodeRequests(out), nil
}

func decodeRequests(out []interface{}) []types.RedemptionRequest {
	tuples := *abi.ConvertType(out[0], new([]redemptionTuple)).(*[]redemptionTuple)
	res := make([]types.RedemptionRequest, 0, len(tuples))
	for _, t := range tuples {
		r := types.RedemptionRequest{
			ID:               t.Id.Uint64(),
			Owner:            t.Owner.Hex(),
			SourceToken:      t.Token.Hex(),
			CanonicalAmount:  t.CanonicalAmount,
			UnderlyingAmount: t.UnderlyingAmount,
			RequestTime:      time.Unix(t.RequestTime.Int64(), 0),
			Fulfilled:        t.Fulfilled,
		}
		if t.FulfilledAt != nil && t.FulfilledAt.Sign() > 0 {
			r.FulfilledAt = time.Unix(t.FulfilledAt.Int64(), 0)
		}
		res = append(res, r)
	}
	return res
}

// Submit packs the call for its contract and lets the wallet sign and send it.
func (g *Gateway) Submit(ctx context.Context, call orchestrator.Call) (string, error) {
	n, err := g.network(call.ChainID)
	if err != nil {
		return "", err
	}
	tx, err := packCall(call, n.PortalAddress)
	if err != nil {
		return "", err
	}
	hash, err := g.sender.SendTransaction(ctx, tx)
	if err != nil {
		return "", errors.Wrapf(err, "sending %s on chain %d", call.Kind, call.ChainID)
	}
	log.Info().Str("kind", string(call.Kind)).Int("chain", call.ChainID).Str("tx", hash).Msg("transaction sent")
	return hash, nil
}

func packCall(call orchestrator.Call, portal string) (TxRequest, error) {
	tx := TxRequest{
		ChainID: call.ChainID,
		From:    common.HexToAddress(call.From),
		To:      common.HexToAddress(portal),
		Value:   new(big.Int),
	}
	var err error
	switch call.Kind {
	case types.StepApproval:
		tx.To = common.HexToAddress(call.Token.Address)
		tx.Data, err = erc20ABI.Pack("approve", common.HexToAddress(call.Spender), call.Amount)
	case types.StepDeposit:
		tx.Data, err = portalABI.Pack("deposit", common.HexToAddress(call.Token.Address), call.Amount)
	case types.StepSend:
		if call.Value != nil {
			tx.Value.Set(call.Value)
		}
		tx.Data, err = portalABI.Pack("bridge", big.NewInt(int64(call.DestChain)), common.HexToAddress(call.Recipient), call.Amount)
	case types.StepQueueRedemption:
		tx.Data, err = portalABI.Pack("requestRedemption", common.HexToAddress(call.Target.Address), call.Amount)
	default:
		return TxRequest{}, errors.Errorf("step %s submits nothing", call.Kind)
	}
	if err != nil {
		return TxRequest{}, errors.Wrapf(err, "packing %s", call.Kind)
	}
	return tx, nil
}

// CheckReceipt reports the outcome of a transaction once it has the
// network's minimum confirmations.
func (g *Gateway) CheckReceipt(ctx context.Context, chainID int, ref string) (orchestrator.ReceiptStatus, error) {
	n, err := g.network(chainID)
	if err != nil {
		return orchestrator.ReceiptPending, err
	}
	hash := common.HexToHash(ref)
	return WithClient(ctx, n.RPCList, func(client *ethclient.Client) (orchestrator.ReceiptStatus, error) {
		receipt, err := client.TransactionReceipt(ctx, hash)
		if errors.Is(err, ethereum.NotFound) {
			return orchestrator.ReceiptPending, nil
		}
		if err != nil {
			return orchestrator.ReceiptPending, err
		}
		if n.MinConfirmations > 1 {
			head, err := client.BlockNumber(ctx)
			if err != nil {
				return orchestrator.ReceiptPending, err
			}
			if confirmations(head, receipt.BlockNumber) < uint64(n.MinConfirmations) {
				return orchestrator.ReceiptPending, nil
			}
		}
		return receiptStatus(receipt), nil
	})
}

// WaitForReceipt polls CheckReceipt until the transaction is settled or ctx is done.
func (g *Gateway) WaitForReceipt(ctx context.Context, chainID int, ref string) (orchestrator.ReceiptStatus, error) {
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()
	for {
		status, err := g.CheckReceipt(ctx, chainID, ref)
		if err == nil && status != orchestrator.ReceiptPending {
			return status, nil
		}
		if err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("tx", ref).Int("chain", chainID).Msg("receipt lookup failed")
		}
		select {
		case <-ctx.Done():
			return orchestrator.ReceiptPending, ctx.Err()
		case <-ticker.C:
		}
	}
}

func confirmations(head uint64, mined *big.Int) uint64 {
	if mined == nil || !mined.IsUint64() || mined.Uint64() > head {
		return 0
	}
	return head - mined.Uint64() + 1
}

func receiptStatus(r *ethtypes.Receipt) orchestrator.ReceiptStatus {
	if r.Status == ethtypes.ReceiptStatusSuccessful {
		return orchestrator.ReceiptSuccess
	}
	return orchestrator.ReceiptReverted
}
