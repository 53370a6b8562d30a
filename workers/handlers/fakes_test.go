package handlers_test

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"gowrapportal/orchestrator"
	"gowrapportal/redemption"
	"gowrapportal/types"
)

const (
	account = "0x1111111111111111111111111111111111111111"
	portal  = "0x2222222222222222222222222222222222222222"
)

type fakeChain struct {
	mu sync.Mutex

	balances  map[string]*big.Int
	allowance *big.Int
	gasPrice  *big.Int
	requests  []types.RedemptionRequest
	readErr   error
	submitted int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		balances:  make(map[string]*big.Int),
		allowance: new(big.Int),
		gasPrice:  big.NewInt(10_000_000_000),
	}
}

func key(chainID int, token string) string {
	return fmt.Sprintf("%d/%s", chainID, strings.ToLower(token))
}

func (c *fakeChain) setBalance(chainID int, token string, v int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[key(chainID, token)] = big.NewInt(v)
}

func (c *fakeChain) Portal(int) (string, error) {
	return portal, nil
}

func (c *fakeChain) ReadBalance(_ context.Context, token types.TokenDescriptor, _ string) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return nil, c.readErr
	}
	if b, ok := c.balances[key(token.ChainID, token.Address)]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (c *fakeChain) ReadAllowance(context.Context, types.TokenDescriptor, string, string) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.allowance), nil
}

func (c *fakeChain) ReadGasPrice(context.Context, int) (*big.Int, error) {
	return new(big.Int).Set(c.gasPrice), nil
}

func (c *fakeChain) ReadRedemptionRequests(context.Context, int, string) ([]types.RedemptionRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.RedemptionRequest(nil), c.requests...), nil
}

func (c *fakeChain) ReadAvailableReserve(context.Context, types.TokenDescriptor) (*big.Int, error) {
	return big.NewInt(1_000_000_000_000_000), nil
}

func (c *fakeChain) Submit(context.Context, orchestrator.Call) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitted++
	return fmt.Sprintf("0x%064x", c.submitted), nil
}

func (c *fakeChain) WaitForReceipt(context.Context, int, string) (orchestrator.ReceiptStatus, error) {
	return orchestrator.ReceiptSuccess, nil
}

func (c *fakeChain) CheckReceipt(context.Context, int, string) (orchestrator.ReceiptStatus, error) {
	return orchestrator.ReceiptSuccess, nil
}

type fakeWallet struct {
	mu       sync.Mutex
	account  string
	network  int
	switched []int
}

func (w *fakeWallet) CurrentAccount(context.Context) (string, error) {
	if w.account == "" {
		return "", types.NewError(types.KindApprovalRejected, "no account connected")
	}
	return w.account, nil
}

func (w *fakeWallet) CurrentNetwork(context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.network, nil
}

func (w *fakeWallet) RequestNetworkSwitch(_ context.Context, chainID int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if chainID == 137 {
		return types.NewError(types.KindNetworkMismatch, "chain %d is not configured", chainID)
	}
	w.switched = append(w.switched, chainID)
	w.network = chainID
	return nil
}

type fakeSnapshots struct {
	gas      []*big.Int
	queue    *redemption.QueueAnalytics
	balances map[string]*big.Int
}

func (s *fakeSnapshots) GasSamples(int) []*big.Int {
	return s.gas
}

func (s *fakeSnapshots) Queue() (redemption.QueueAnalytics, bool) {
	if s.queue == nil {
		return redemption.QueueAnalytics{}, false
	}
	return *s.queue, true
}

func (s *fakeSnapshots) Approval(string) (types.ApprovalState, bool) {
	return types.ApprovalState{}, false
}

func (s *fakeSnapshots) Balance(account string, chainID int, token string) (*big.Int, bool) {
	b, ok := s.balances[strings.ToLower(account)+"/"+key(chainID, token)]
	return b, ok
}

type fakeArchive struct {
	down    bool
	records map[types.FlowStatus][]types.FlowRecord
}

func (a *fakeArchive) Ping(context.Context) error {
	if a.down {
		return errors.New("connection refused")
	}
	return nil
}

func (a *fakeArchive) FindByStatus(_ context.Context, status types.FlowStatus) ([]types.FlowRecord, error) {
	if a.down {
		return nil, errors.New("connection refused")
	}
	return a.records[status], nil
}
