package workers

import (
	"context"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"gowrapportal/approval"
	"gowrapportal/config"
	"gowrapportal/orchestrator"
	"gowrapportal/redemption"
	"gowrapportal/tokens"
	"gowrapportal/types"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "workers").Logger()
}

// Pollers refresh the shared State on timers. Every poller stops with its context.
type Pollers struct {
	Chain    orchestrator.Chain
	Wallet   orchestrator.Wallet
	Registry *tokens.Registry
	Flows    *orchestrator.Orchestrator
	State    *State
	Policy   config.Policy
	Now      func() time.Time
}

func (p *Pollers) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Run starts every poller and blocks until ctx is done.
func (p *Pollers) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, chainID := range p.Registry.Chains() {
		chainID := chainID
		g.Go(func() error {
			every(ctx, p.Policy.GasPollInterval, func() { p.pollGasPrice(ctx, chainID) })
			return nil
		})
	}
	g.Go(func() error {
		every(ctx, p.Policy.AllowancePollInterval, func() { p.pollAllowances(ctx) })
		return nil
	})
	g.Go(func() error {
		every(ctx, p.Policy.RedemptionPollInterval, func() { p.pollRedemptions(ctx) })
		return nil
	})
	g.Go(func() error {
		return p.Worker_balances(ctx)
	})
	return g.Wait()
}

// every runs f right away and then on each tick until ctx is done.
func every(ctx context.Context, interval time.Duration, f func()) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		f()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Pollers) pollGasPrice(ctx context.Context, chainID int) {
	price, err := p.Chain.ReadGasPrice(ctx, chainID)
	if err != nil {
		if ctx.Err() == nil {
			pollErrors.WithLabelValues("gas").Inc()
			log.Warn().Err(err).Int("chain", chainID).Msg("error reading gas price")
		}
		return
	}
	p.State.Gas.Add(chainID, price)
	gwei, _ := new(big.Float).Quo(new(big.Float).SetInt(price), big.NewFloat(1e9)).Float64()
	gasPriceGwei.WithLabelValues(strconv.Itoa(chainID)).Set(gwei)
}

// pollAllowances re-evaluates the approval state of every wrap flow that
// has not deposited yet.
func (p *Pollers) pollAllowances(ctx context.Context) {
	states := make(map[string]types.ApprovalState)
	for _, f := range p.Flows.Flows() {
		plan := f.Plan()
		if plan.Operation != types.OperationWrap {
			continue
		}
		switch f.Status() {
		case types.FlowSucceeded, types.FlowAbandoned:
			continue
		}

		spender, err := p.Chain.Portal(plan.From.ChainID)
		if err != nil {
			continue
		}
		allowance, err := p.Chain.ReadAllowance(ctx, plan.From, plan.Account, spender)
		if err != nil {
			if ctx.Err() == nil {
				pollErrors.WithLabelValues("allowance").Inc()
				log.Warn().Err(err).Str("flow", f.ID()).Msg("error reading allowance")
			}
			continue
		}
		state, err := approval.Evaluate(p.Policy.ApprovalPolicy(),
			types.NewAmount(allowance, plan.From.Decimals), plan.Amount, p.State.Gas.Latest(plan.From.ChainID))
		if err != nil {
			log.Warn().Err(err).Str("flow", f.ID()).Msg("cannot evaluate approval")
			continue
		}
		states[f.ID()] = state
	}
	p.State.approvals.Set(states, p.now())
}

// pollRedemptions refreshes the account's redemption queue on every
// network and completes the security delay of flows whose request is ready.
func (p *Pollers) pollRedemptions(ctx context.Context) {
	account, err := p.Wallet.CurrentAccount(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Debug().Err(err).Msg("no wallet account, skipping redemptions")
		}
		return
	}

	byChain := make(map[int][]types.RedemptionRequest)
	var all []types.RedemptionRequest
	for _, chainID := range p.Registry.Chains() {
		if _, ok := p.Registry.Canonical(chainID); !ok {
			continue
		}
		requests, err := p.Chain.ReadRedemptionRequests(ctx, chainID, account)
		if err != nil {
			if ctx.Err() == nil {
				pollErrors.WithLabelValues("redemptions").Inc()
				log.Warn().Err(err).Int("chain", chainID).Msg("error reading redemption requests")
			}
			continue
		}
		byChain[chainID] = requests
		all = append(all, requests...)
	}

	now := p.now()
	analytics := redemption.Analyze(all, now, p.Policy.RedemptionDelay)
	p.State.requests.Set(byChain, now)
	p.State.queue.Set(analytics, now)
	pendingRedemptions.Set(float64(analytics.Pending.Count + analytics.Ready.Count))

	// abandoned unwraps still hold a queued request, only success ends the delay
	for _, f := range p.Flows.Flows() {
		if f.Plan().Operation != types.OperationUnwrap || f.Status() == types.FlowSucceeded {
			continue
		}
		requests, ok := byChain[f.Plan().From.ChainID]
		if !ok {
			continue
		}
		f.SyncRedemption(ctx, requests, now)
	}
}

// Worker_balances refreshes the connected account's balances at start and
// after every flow that finished submitting.
func (p *Pollers) Worker_balances(ctx context.Context) error {
	events := make(chan orchestrator.BalanceRefresh, 8)
	sub := p.Flows.SubscribeRefresh(events)
	defer sub.Unsubscribe()

	if account, err := p.Wallet.CurrentAccount(ctx); err == nil {
		if chainID, err := p.Wallet.CurrentNetwork(ctx); err == nil {
			p.refreshBalances(ctx, account, []int{chainID})
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			return err
		case ev := <-events:
			p.refreshBalances(ctx, ev.Account, ev.ChainIDs)
		}
	}
}

func (p *Pollers) refreshBalances(ctx context.Context, account string, chainIDs []int) {
	update := make(map[string]*big.Int)
	for _, chainID := range chainIDs {
		for _, token := range p.Registry.ForNetwork(chainID) {
			balance, err := p.Chain.ReadBalance(ctx, token, account)
			if err != nil {
				if ctx.Err() == nil {
					pollErrors.WithLabelValues("balance").Inc()
					log.Warn().Err(err).Int("chain", chainID).Str("token", token.Symbol).Msg("error reading balance")
				}
				continue
			}
			update[balanceKey(account, chainID, token.Address)] = balance
		}
	}
	p.State.mergeBalances(update, p.now())
	log.Debug().Str("account", account).Ints("chains", chainIDs).Msg("balances refreshed")
}
