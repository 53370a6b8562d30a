package orchestrator_test

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"gowrapportal/orchestrator"
	"gowrapportal/types"
)

const (
	account = "0x1111111111111111111111111111111111111111"
	portal  = "0x2222222222222222222222222222222222222222"
)

var (
	usdx = types.TokenDescriptor{
		Address: "0x3333333333333333333333333333333333333333", Symbol: "USDX", Decimals: 8,
		ChainID: 1, CanWrap: true, CanRedeem: true,
	}
	wbgl = types.TokenDescriptor{
		Address: "0x4444444444444444444444444444444444444444", Symbol: "WBGL", Decimals: 8,
		ChainID: 1, CanBridge: true, IsCanonical: true,
	}
	wbglBNB = types.TokenDescriptor{
		Address: "0x4444444444444444444444444444444444444444", Symbol: "WBGL", Decimals: 8,
		ChainID: 56, CanBridge: true, IsCanonical: true,
	}
)

func balanceKey(token types.TokenDescriptor, owner string) string {
	return fmt.Sprintf("%d/%s/%s", token.ChainID, strings.ToLower(token.Address), strings.ToLower(owner))
}

type fakeChain struct {
	mu sync.Mutex

	balances  map[string]*big.Int
	allowance *big.Int
	gasPrice  *big.Int
	reserve   *big.Int
	requests  []types.RedemptionRequest
	now       time.Time

	calls     []orchestrator.Call
	kinds     map[string]types.StepKind
	submitErr map[types.StepKind]error
	hang      map[types.StepKind]bool
	revert    map[types.StepKind]bool

	// approval mined without changing the allowance
	keepAllowance bool
	// bridged funds show up on the destination
	deliver bool
	// answer of CheckReceipt
	checked orchestrator.ReceiptStatus
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		balances:  make(map[string]*big.Int),
		allowance: new(big.Int),
		gasPrice:  big.NewInt(10_000_000_000),
		reserve:   big.NewInt(1_000_000_000_000),
		now:       time.Unix(1_700_000_000, 0),
		kinds:     make(map[string]types.StepKind),
		submitErr: make(map[types.StepKind]error),
		hang:      make(map[types.StepKind]bool),
		revert:    make(map[types.StepKind]bool),
		deliver:   true,
	}
}

func (c *fakeChain) setBalance(token types.TokenDescriptor, owner string, v int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[balanceKey(token, owner)] = big.NewInt(v)
}

func (c *fakeChain) setAllowance(v int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allowance = big.NewInt(v)
}

func (c *fakeChain) submitted() []orchestrator.Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]orchestrator.Call(nil), c.calls...)
}

func (c *fakeChain) Portal(int) (string, error) {
	return portal, nil
}

func (c *fakeChain) ReadBalance(_ context.Context, token types.TokenDescriptor, owner string) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.balances[balanceKey(token, owner)]; ok {
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
	return new(big.Int).Set(c.reserve), nil
}

func (c *fakeChain) Submit(_ context.Context, call orchestrator.Call) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.submitErr[call.Kind]; err != nil {
		return "", err
	}
	c.calls = append(c.calls, call)
	ref := fmt.Sprintf("0x%064x", len(c.calls))
	c.kinds[ref] = call.Kind

	switch call.Kind {
	case types.StepApproval:
		if !c.keepAllowance {
			c.allowance = new(big.Int).Set(call.Amount)
		}
	case types.StepDeposit:
		key := balanceKey(call.Token, call.From)
		c.balances[key] = new(big.Int).Sub(c.balances[key], call.Amount)
	case types.StepSend:
		if c.deliver {
			dest := call.Token
			dest.ChainID = call.DestChain
			key := balanceKey(dest, call.Recipient)
			prev, ok := c.balances[key]
			if !ok {
				prev = new(big.Int)
			}
			c.balances[key] = new(big.Int).Add(prev, call.Amount)
		}
	case types.StepQueueRedemption:
		var id uint64 = 1
		for _, r := range c.requests {
			if r.ID >= id {
				id = r.ID + 1
			}
		}
		c.requests = append(c.requests, types.RedemptionRequest{
			ID:               id,
			Owner:            call.From,
			SourceToken:      call.Target.Address,
			CanonicalAmount:  new(big.Int).Set(call.Amount),
			UnderlyingAmount: new(big.Int).Set(call.Amount),
			RequestTime:      c.now,
		})
	}
	return ref, nil
}

func (c *fakeChain) WaitForReceipt(ctx context.Context, _ int, ref string) (orchestrator.ReceiptStatus, error) {
	c.mu.Lock()
	kind := c.kinds[ref]
	hang, revert := c.hang[kind], c.revert[kind]
	c.mu.Unlock()

	if hang {
		<-ctx.Done()
		return orchestrator.ReceiptPending, ctx.Err()
	}
	if revert {
		return orchestrator.ReceiptReverted, nil
	}
	return orchestrator.ReceiptSuccess, nil
}

func (c *fakeChain) CheckReceipt(context.Context, int, string) (orchestrator.ReceiptStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checked, nil
}

type fakeWallet struct {
	mu      sync.Mutex
	network int
}

func (w *fakeWallet) CurrentAccount(context.Context) (string, error) {
	return account, nil
}

func (w *fakeWallet) CurrentNetwork(context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.network, nil
}

func (w *fakeWallet) RequestNetworkSwitch(_ context.Context, chainID int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.network = chainID
	return nil
}
