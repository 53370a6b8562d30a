package wallet

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/ybbus/jsonrpc"

	"gowrapportal/EVMRPC"
	"gowrapportal/types"
)

// a wallet request waits for the user, so it gets a long timeout
const requestTimeout = 5 * time.Minute

// RPCWallet talks to a browser or desktop wallet bridged over JSON-RPC.
type RPCWallet struct {
	client jsonrpc.RPCClient

	mu      sync.Mutex
	account string
}

func NewRPCWallet(endpoint string) *RPCWallet {
	return &RPCWallet{
		client: jsonrpc.NewClientWithOpts(endpoint, &jsonrpc.RPCClientOpts{
			HTTPClient: &http.Client{Timeout: requestTimeout},
		}),
	}
}

// call sends one request. The request can not be withdrawn once the wallet
// has it, so ctx is only checked before sending.
func (w *RPCWallet) call(ctx context.Context, out interface{}, method string, params ...interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	resp, err := w.client.Call(method, params...)
	if err != nil {
		return errors.Wrapf(err, "wallet %s", method)
	}
	if resp.Error != nil {
		return classify(resp.Error.Code, resp.Error.Message)
	}
	if out == nil {
		return nil
	}
	return errors.Wrapf(resp.GetObject(out), "decoding %s", method)
}

func (w *RPCWallet) CurrentAccount(ctx context.Context) (string, error) {
	var accounts []string
	if err := w.call(ctx, &accounts, "eth_accounts"); err != nil {
		return "", err
	}
	if len(accounts) == 0 {
		return "", errors.New("wallet exposes no account, connect it first")
	}
	w.mu.Lock()
	if w.account != accounts[0] {
		log.Info().Str("account", accounts[0]).Msg("wallet account changed")
		w.account = accounts[0]
	}
	w.mu.Unlock()
	return accounts[0], nil
}

func (w *RPCWallet) CurrentNetwork(ctx context.Context) (int, error) {
	var chainID string
	if err := w.call(ctx, &chainID, "eth_chainId"); err != nil {
		return 0, err
	}
	id, err := hexutil.DecodeUint64(chainID)
	if err != nil {
		return 0, errors.Wrapf(err, "bad chain id %q", chainID)
	}
	return int(id), nil
}

func (w *RPCWallet) RequestNetworkSwitch(ctx context.Context, chainID int) error {
	params := []interface{}{map[string]string{"chainId": hexutil.EncodeUint64(uint64(chainID))}}
	return w.call(ctx, nil, "wallet_switchEthereumChain", params)
}

type sendParams struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value"`
}

// SendTransaction asks the wallet to sign and broadcast. The wallet
// estimates gas and picks the fee itself.
func (w *RPCWallet) SendTransaction(ctx context.Context, tx EVMRPC.TxRequest) (string, error) {
	network, err := w.CurrentNetwork(ctx)
	if err != nil {
		return "", err
	}
	if network != tx.ChainID {
		return "", types.NewError(types.KindNetworkMismatch, "wallet is on chain %d, transaction is for chain %d", network, tx.ChainID)
	}

	p := sendParams{
		From:  tx.From.Hex(),
		To:    tx.To.Hex(),
		Data:  hexutil.Encode(tx.Data),
		Value: "0x0",
	}
	if tx.Value != nil {
		p.Value = hexutil.EncodeBig(tx.Value)
	}
	var hash string
	if err := w.call(ctx, &hash, "eth_sendTransaction", []interface{}{p}); err != nil {
		return "", err
	}
	return hash, nil
}
