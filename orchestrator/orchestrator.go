// Package orchestrator plans and drives the multi-step wrap, bridge and
// unwrap flows against the user's wallet and the network gateways.
package orchestrator

import (
	"context"
	"math/big"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"gowrapportal/amount"
	"gowrapportal/approval"
	"gowrapportal/fees"
	"gowrapportal/operation"
	"gowrapportal/types"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "orchestrator").Logger()
}

type Settings struct {
	Approval approval.Policy
	Fees     fees.Policy

	// canonical base units
	MinWrap   *big.Int
	MinBridge *big.Int
	MinUnwrap *big.Int

	RedemptionDelay     time.Duration
	ReceiptTimeout      time.Duration
	DestinationTimeout  time.Duration
	ReceiptPollInterval time.Duration
}

func (s Settings) minimum(op types.OperationKind) *big.Int {
	switch op {
	case types.OperationWrap:
		return s.MinWrap
	case types.OperationBridge:
		return s.MinBridge
	case types.OperationUnwrap:
		return s.MinUnwrap
	}
	return nil
}

// BalanceRefresh is sent once the last submitting step of a flow completes.
type BalanceRefresh struct {
	FlowID   string
	Account  string
	ChainIDs []int
}

type Orchestrator struct {
	chain    Chain
	wallet   Wallet
	settings Settings
	store    SessionStore
	gas      GasHistory
	oracle   PriceOracle
	now      func() time.Time

	refreshFeed event.Feed

	mu    sync.RWMutex
	flows map[string]*Flow
}

type Option func(*Orchestrator)

func WithStore(s SessionStore) Option {
	return func(o *Orchestrator) { o.store = s }
}

// GasHistory supplies recent gas price samples of a network, oldest first.
type GasHistory interface {
	Samples(chainID int) []*big.Int
}

// WithGasHistory makes plans carry the gas trend of the sampled prices.
func WithGasHistory(h GasHistory) Option {
	return func(o *Orchestrator) { o.gas = h }
}

func WithOracle(p PriceOracle) Option {
	return func(o *Orchestrator) { o.oracle = p }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func New(chain Chain, wallet Wallet, settings Settings, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		chain:    chain,
		wallet:   wallet,
		settings: settings,
		store:    NewMemoryStore(),
		now:      time.Now,
		flows:    make(map[string]*Flow),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SubscribeRefresh delivers a BalanceRefresh every time a flow finishes submitting.
func (o *Orchestrator) SubscribeRefresh(ch chan<- BalanceRefresh) event.Subscription {
	return o.refreshFeed.Subscribe(ch)
}

type Request struct {
	From   types.TokenDescriptor
	To     types.TokenDescriptor
	Amount types.Amount // in From's precision

	// bridge only, defaults to the connected account
	Recipient string

	// approval strategy picked by the user, empty means the recommended one
	Strategy types.ApprovalStrategy
}

// Plan is the validated, priced description of a flow before execution.
type Plan struct {
	Operation types.OperationKind    `json:"operation"`
	From      types.TokenDescriptor  `json:"from"`
	To        types.TokenDescriptor  `json:"to"`
	Amount    types.Amount           `json:"amount"`
	Account   string                 `json:"account"`
	Recipient string                 `json:"recipient,omitempty"`
	Strategy  types.ApprovalStrategy `json:"strategy,omitempty"`

	Approval *types.ApprovalState `json:"approval,omitempty"` // wrap only
	Fees     fees.FeeBreakdown    `json:"fees"`

	// unwrap only, amount owed in the redeemed token's precision
	Underlying *types.Amount `json:"underlying,omitempty"`

	// unwrap only, the reserve can not currently cover the request
	ReserveShortfall bool `json:"reserveShortfall"`
}

// Plan validates the request and builds a flow with every step pending.
// Nothing is submitted.
func (o *Orchestrator) Plan(ctx context.Context, req Request) (*Flow, error) {
	op := operation.Classify(req.From, req.To)
	if op == types.OperationInvalid {
		return nil, types.NewError(types.KindNoOperationForPair, "%s on %d can not become %s on %d",
			req.From.Symbol, req.From.ChainID, req.To.Symbol, req.To.ChainID)
	}
	if req.Amount.Sign() <= 0 {
		return nil, types.NewError(types.KindInvalidAmount, "amount must be positive")
	}
	if req.Amount.Decimals != req.From.Decimals {
		return nil, types.NewError(types.KindUnsupportedPrecision, "amount has %d decimals, %s uses %d",
			req.Amount.Decimals, req.From.Symbol, req.From.Decimals)
	}

	canonical, err := amount.Canonical(req.Amount)
	if err != nil {
		return nil, err
	}
	if floor := o.settings.minimum(op); floor != nil && canonical.Value.Cmp(floor) < 0 {
		return nil, types.NewError(types.KindBelowMinimumAmount, "minimum for %s is %s", op,
			amount.Format(types.NewAmount(floor, types.CanonicalDecimals)))
	}

	account, err := o.wallet.CurrentAccount(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "reading wallet account")
	}

	recipient := ""
	if op == types.OperationBridge {
		recipient = req.Recipient
		if recipient == "" {
			recipient = account
		}
		if !common.IsHexAddress(recipient) {
			return nil, types.NewError(types.KindInvalidAddress, "bad recipient %q", recipient)
		}
	}

	balance, err := o.chain.ReadBalance(ctx, req.From, account)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s balance", req.From.Symbol)
	}
	if req.Amount.Value.Cmp(balance) > 0 {
		return nil, types.NewError(types.KindInsufficientBalance, "balance is %s %s",
			amount.Format(types.NewAmount(balance, req.From.Decimals)), req.From.Symbol)
	}

	gasPrice, err := o.chain.ReadGasPrice(ctx, req.From.ChainID)
	if err != nil {
		return nil, errors.Wrap(err, "reading gas price")
	}

	plan := Plan{
		Operation: op,
		From:      req.From,
		To:        req.To,
		Amount:    types.NewAmount(req.Amount.Value, req.Amount.Decimals),
		Account:   account,
		Recipient: recipient,
		Strategy:  req.Strategy,
	}

	needsApproval := false
	switch op {
	case types.OperationWrap:
		state, err := o.approvalState(ctx, plan, gasPrice)
		if err != nil {
			return nil, err
		}
		plan.Approval = &state
		needsApproval = state.IsRequired
		if plan.Strategy == "" {
			plan.Strategy = state.Recommended
		}
	case types.OperationUnwrap:
		owed, err := amount.FromCanonical(req.Amount.Value, req.To.Decimals)
		if err != nil {
			return nil, err
		}
		plan.Underlying = &owed
		reserve, err := o.chain.ReadAvailableReserve(ctx, req.To)
		if err != nil {
			log.Warn().Err(err).Str("token", req.To.Symbol).Msg("reserve unavailable")
		} else if reserve.Cmp(owed.Value) < 0 {
			plan.ReserveShortfall = true
		}
	}

	in := fees.Input{
		Operation:     op,
		Amount:        plan.Amount,
		GasPrice:      gasPrice,
		NeedsApproval: needsApproval,
	}
	if o.gas != nil {
		in.History = o.gas.Samples(req.From.ChainID)
	}
	if o.oracle != nil {
		if price, err := o.oracle.NativeUSD(ctx, req.From.ChainID); err == nil {
			in.NativeUSD = &price
		}
	}
	plan.Fees, err = fees.Estimate(o.settings.Fees, in)
	if err != nil {
		return nil, err
	}

	f := &Flow{
		o:    o,
		plan: plan,
		record: types.FlowRecord{
			ID:        uuid.New().String(),
			Status:    types.FlowPlanned,
			Operation: op,
			From:      plan.From,
			To:        plan.To,
			Amount:    plan.Amount,
			Account:   account,
			Recipient: recipient,
			Steps:     o.buildSteps(plan, needsApproval),
			TsCreated: o.now().Unix(),
			Strategy:  plan.Strategy,
		},
	}
	if op == types.OperationBridge {
		f.record.BridgeFee = new(big.Int).Set(plan.Fees.BridgeFee)
	}
	o.mu.Lock()
	o.flows[f.record.ID] = f
	o.mu.Unlock()

	f.checkpoint(ctx)
	log.Info().Str("flow", f.record.ID).Str("operation", string(op)).Str("amount", amount.Format(plan.Amount)).
		Str("from", req.From.Symbol).Str("to", req.To.Symbol).Msg("flow planned")
	return f, nil
}

// approvalState evaluates the current allowance of the portal for the plan's token.
func (o *Orchestrator) approvalState(ctx context.Context, plan Plan, gasPrice *big.Int) (types.ApprovalState, error) {
	spender, err := o.chain.Portal(plan.From.ChainID)
	if err != nil {
		return types.ApprovalState{}, err
	}
	allowance, err := o.chain.ReadAllowance(ctx, plan.From, plan.Account, spender)
	if err != nil {
		return types.ApprovalState{}, errors.Wrap(err, "reading allowance")
	}
	if gasPrice == nil {
		if gasPrice, err = o.chain.ReadGasPrice(ctx, plan.From.ChainID); err != nil {
			return types.ApprovalState{}, errors.Wrap(err, "reading gas price")
		}
	}
	return approval.Evaluate(o.settings.Approval,
		types.NewAmount(allowance, plan.From.Decimals), plan.Amount, gasPrice)
}

// ErrFlowNotFound is returned by Restore for ids neither live nor checkpointed.
var ErrFlowNotFound = errors.New("flow not found")

// Flow returns a live flow by id.
func (o *Orchestrator) Flow(id string) (*Flow, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	f, ok := o.flows[id]
	return f, ok
}

// Flows lists the live flows, unordered.
func (o *Orchestrator) Flows() []*Flow {
	o.mu.RLock()
	defer o.mu.RUnlock()
	res := make([]*Flow, 0, len(o.flows))
	for _, f := range o.flows {
		res = append(res, f)
	}
	return res
}

// Forget drops a flow from memory and from the session store.
func (o *Orchestrator) Forget(ctx context.Context, id string) error {
	o.mu.Lock()
	delete(o.flows, id)
	o.mu.Unlock()
	return o.store.Delete(ctx, id)
}

// Restore rebuilds a live flow from its session checkpoint, for example
// after the daemon restarted while a redemption was in its security delay.
// Steps the previous process left in flight are settled first, see settle.
func (o *Orchestrator) Restore(ctx context.Context, id string) (*Flow, error) {
	if f, ok := o.Flow(id); ok {
		return f, nil
	}
	rec, ok, err := o.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrap(ErrFlowNotFound, id)
	}
	f := &Flow{
		o:         o,
		record:    rec,
		abandoned: rec.Status == types.FlowAbandoned,
		plan: Plan{
			Operation: rec.Operation,
			From:      rec.From,
			To:        rec.To,
			Amount:    rec.Amount,
			Account:   rec.Account,
			Recipient: rec.Recipient,
			Strategy:  rec.Strategy,
		},
	}
	if rec.BridgeFee != nil {
		f.plan.Fees.BridgeFee = new(big.Int).Set(rec.BridgeFee)
	}
	if f.settle() {
		f.checkpoint(ctx)
	}

	o.mu.Lock()
	if live, ok := o.flows[id]; ok {
		o.mu.Unlock()
		return live, nil
	}
	o.flows[id] = f
	o.mu.Unlock()
	return f, nil
}
