package wallet

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"

	"gowrapportal/EVMRPC"
	"gowrapportal/config"
	"gowrapportal/types"
)

// KeyedWallet signs with a local private key. Development networks only.
type KeyedWallet struct {
	key      *ecdsa.PrivateKey
	address  common.Address
	networks map[int]config.ChainConfig

	mu      sync.Mutex
	chainID int
}

func NewKeyedWallet(hexKey string, networks []config.ChainConfig, startingChain int) (*KeyedWallet, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "error instantiating private key")
	}
	w := &KeyedWallet{
		key:      privateKey,
		address:  crypto.PubkeyToAddress(privateKey.PublicKey),
		networks: make(map[int]config.ChainConfig, len(networks)),
		chainID:  startingChain,
	}
	for _, n := range networks {
		w.networks[n.ChainID] = n
	}
	if _, ok := w.networks[startingChain]; !ok {
		return nil, errors.Errorf("starting chain %d is not configured", startingChain)
	}
	return w, nil
}

func (w *KeyedWallet) CurrentAccount(context.Context) (string, error) {
	return w.address.Hex(), nil
}

func (w *KeyedWallet) CurrentNetwork(context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chainID, nil
}

func (w *KeyedWallet) RequestNetworkSwitch(_ context.Context, chainID int) error {
	if _, ok := w.networks[chainID]; !ok {
		return classify(codeUnknownChain, "unrecognized chain")
	}
	w.mu.Lock()
	w.chainID = chainID
	w.mu.Unlock()
	log.Info().Int("chain", chainID).Msg("switched network")
	return nil
}

// SendTransaction signs with the local key and broadcasts through the
// network's RPC list. The transaction is signed once with a fixed nonce,
// retries and failover rebroadcast the same signed bytes.
func (w *KeyedWallet) SendTransaction(ctx context.Context, tx EVMRPC.TxRequest) (string, error) {
	current, _ := w.CurrentNetwork(ctx)
	if current != tx.ChainID {
		return "", types.NewError(types.KindNetworkMismatch, "wallet is on chain %d, transaction is for chain %d", current, tx.ChainID)
	}
	if tx.From != w.address {
		return "", errors.Errorf("wallet can not sign for %s", tx.From.Hex())
	}
	n := w.networks[tx.ChainID]

	var (
		signed *gethtypes.Transaction
		sent   bool // some broadcast may have reached a node
		reterr error
	)
	for i := 0; i < config.EVM_RETRIES; i++ {
		_, err := EVMRPC.WithClient(ctx, n.RPCList, func(client *ethclient.Client) (struct{}, error) {
			if signed == nil {
				s, err := w.sign(ctx, client, tx)
				if err != nil {
					return struct{}{}, err
				}
				signed = s
			}
			return struct{}{}, broadcast(ctx, client, signed, &sent)
		})
		if err == nil {
			return signed.Hash().Hex(), nil
		}
		reterr = err
		if types.KindOf(err) == types.KindTransactionReverted || ctx.Err() != nil {
			break
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("error sending transaction")
	}
	return "", reterr
}

func (w *KeyedWallet) sign(ctx context.Context, client *ethclient.Client, tx EVMRPC.TxRequest) (*gethtypes.Transaction, error) {
	nonce, err := client.PendingNonceAt(ctx, w.address)
	if err != nil {
		return nil, errors.Wrap(err, "error getting nonce for wallet")
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "error getting suggested gas price")
	}
	if tx.ChainID != 1 {
		gasPrice.Mul(gasPrice, big.NewInt(2))
	}

	value := new(big.Int)
	if tx.Value != nil {
		value.Set(tx.Value)
	}
	to := tx.To
	gas, err := client.EstimateGas(ctx, ethereum.CallMsg{From: w.address, To: &to, Value: value, Data: tx.Data})
	if err != nil {
		if isRevert(err.Error()) {
			return nil, types.WrapError(types.KindTransactionReverted, err, "%s", err.Error())
		}
		return nil, errors.Wrap(err, "error estimating gas")
	}

	unsigned := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas * 12 / 10,
		To:       &to,
		Value:    value,
		Data:     tx.Data,
	})
	signed, err := gethtypes.SignTx(unsigned, gethtypes.LatestSignerForChainID(big.NewInt(int64(tx.ChainID))), w.key)
	if err != nil {
		return nil, errors.Wrap(err, "error signing transaction")
	}
	log.Debug().Str("tx", signed.Hash().Hex()).Uint64("nonce", nonce).Int("chain", tx.ChainID).Msg("transaction signed")
	return signed, nil
}

// broadcast sends the signed transaction. A node that already holds it
// counts as success, and so does a spent nonce once an earlier broadcast
// may have gone through. sent is set by any answer other than a node's
// explicit rejection.
func broadcast(ctx context.Context, client *ethclient.Client, signed *gethtypes.Transaction, sent *bool) error {
	err := client.SendTransaction(ctx, signed)
	if err == nil {
		*sent = true
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already known"), strings.Contains(msg, "known transaction"):
		*sent = true
		return nil
	case strings.Contains(msg, "nonce too low") && *sent:
		return nil
	}
	var rejected gethrpc.Error
	if !errors.As(err, &rejected) {
		*sent = true
	}
	return errors.Wrap(err, "error sending transaction")
}
