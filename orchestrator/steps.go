package orchestrator

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"gowrapportal/amount"
	"gowrapportal/types"
)

const (
	defaultPollInterval = 3 * time.Second

	approvalDuration = 30 * time.Second
	depositDuration  = 30 * time.Second
	sendDuration     = time.Minute
	queueDuration    = 30 * time.Second
)

func newStep(kind types.StepKind, chainID int, label string, eta time.Duration) types.TransactionStep {
	return types.TransactionStep{
		ID:                uuid.New().String(),
		Kind:              kind,
		Label:             label,
		Status:            types.StepPending,
		ChainID:           chainID,
		EstimatedDuration: eta,
	}
}

func (o *Orchestrator) buildSteps(plan Plan, needsApproval bool) []types.TransactionStep {
	src := plan.From.ChainID
	switch plan.Operation {
	case types.OperationWrap:
		var steps []types.TransactionStep
		if needsApproval {
			steps = append(steps, newStep(types.StepApproval, src, "Approve "+plan.From.Symbol, approvalDuration))
		}
		return append(steps, newStep(types.StepDeposit, src, "Deposit "+plan.From.Symbol, depositDuration))
	case types.OperationBridge:
		return []types.TransactionStep{
			newStep(types.StepSend, src, fmt.Sprintf("Send %s to chain %d", plan.From.Symbol, plan.To.ChainID), sendDuration),
			newStep(types.StepDestinationConfirmation, plan.To.ChainID, fmt.Sprintf("Confirm arrival on chain %d", plan.To.ChainID),
				o.settings.DestinationTimeout),
		}
	case types.OperationUnwrap:
		return []types.TransactionStep{
			newStep(types.StepQueueRedemption, src, "Queue redemption for "+plan.To.Symbol, queueDuration),
			newStep(types.StepSecurityDelay, src, "Security delay", o.settings.RedemptionDelay),
		}
	}
	return nil
}

// submit performs the submitting part of a step. An empty reference with
// no error means there was nothing to submit.
func (f *Flow) submit(ctx context.Context, step types.TransactionStep) (string, error) {
	plan := f.Plan()
	switch step.Kind {
	case types.StepApproval:
		state, err := f.o.approvalState(ctx, plan, nil)
		if err != nil {
			return "", err
		}
		if !state.IsRequired {
			log.Info().Str("flow", f.ID()).Msg("allowance already sufficient, approval skipped")
			return "", nil
		}
		opt, ok := state.Option(plan.Strategy)
		if !ok {
			opt, _ = state.Option(state.Recommended)
		}
		spender, err := f.o.chain.Portal(plan.From.ChainID)
		if err != nil {
			return "", err
		}
		return f.send(ctx, Call{
			Kind:    types.StepApproval,
			ChainID: plan.From.ChainID,
			From:    plan.Account,
			Token:   plan.From,
			Amount:  opt.Amount.Int(),
			Spender: spender,
		})

	case types.StepDeposit:
		state, err := f.o.approvalState(ctx, plan, nil)
		if err != nil {
			return "", err
		}
		if state.IsRequired {
			return "", types.NewError(types.KindInsufficientAllowance, "allowance %s is below %s",
				amount.Format(state.CurrentAllowance), amount.Format(state.RequiredAmount))
		}
		return f.send(ctx, Call{
			Kind:    types.StepDeposit,
			ChainID: plan.From.ChainID,
			From:    plan.Account,
			Token:   plan.From,
			Amount:  plan.Amount.Int(),
		})

	case types.StepSend:
		before, err := f.o.chain.ReadBalance(ctx, plan.To, plan.Recipient)
		if err != nil {
			return "", errors.Wrap(err, "reading destination balance")
		}
		f.mu.Lock()
		f.record.DestBalanceBefore = before.String()
		f.mu.Unlock()
		return f.send(ctx, Call{
			Kind:      types.StepSend,
			ChainID:   plan.From.ChainID,
			From:      plan.Account,
			Token:     plan.From,
			Amount:    plan.Amount.Int(),
			Value:     f.o.bridgeFee(plan),
			DestChain: plan.To.ChainID,
			Recipient: plan.Recipient,
		})

	case types.StepQueueRedemption:
		known := make(map[uint64]bool)
		existing, err := f.o.chain.ReadRedemptionRequests(ctx, plan.From.ChainID, plan.Account)
		if err != nil {
			log.Warn().Err(err).Str("flow", f.ID()).Msg("can not list requests before queueing")
			known = nil
		}
		for _, r := range existing {
			known[r.ID] = true
		}
		f.mu.Lock()
		f.knownRequests = known
		f.mu.Unlock()
		return f.send(ctx, Call{
			Kind:    types.StepQueueRedemption,
			ChainID: plan.From.ChainID,
			From:    plan.Account,
			Token:   plan.From,
			Amount:  plan.Amount.Int(),
			Target:  plan.To,
		})
	}
	return "", nil
}

// send keeps the wallet's error kinds, anything else is a submission failure.
func (f *Flow) send(ctx context.Context, call Call) (string, error) {
	ref, err := f.o.chain.Submit(ctx, call)
	if err != nil {
		if types.KindOf(err) != types.KindUnknown {
			return "", err
		}
		return "", types.WrapError(types.KindSubmissionFailed, err, "%s not submitted: %v", call.Kind, err)
	}
	return ref, nil
}

// confirm runs the checks that follow a mined transaction.
func (f *Flow) confirm(ctx context.Context, step types.TransactionStep) error {
	plan := f.Plan()
	switch step.Kind {
	case types.StepApproval:
		state, err := f.o.approvalState(ctx, plan, nil)
		if err != nil {
			return err
		}
		if state.IsRequired {
			return types.NewError(types.KindInsufficientAllowance, "allowance %s still below %s after approval",
				amount.Format(state.CurrentAllowance), amount.Format(state.RequiredAmount))
		}
	case types.StepDestinationConfirmation:
		return f.awaitDestination(ctx, plan)
	case types.StepQueueRedemption:
		requests, err := f.o.chain.ReadRedemptionRequests(ctx, plan.From.ChainID, plan.Account)
		if err != nil {
			log.Warn().Err(err).Str("flow", f.ID()).Msg("can not identify queued request yet")
			return nil
		}
		f.mu.Lock()
		if id, ok := f.matchRequest(requests); ok {
			f.record.RedemptionID = &id
		}
		f.mu.Unlock()
	}
	return nil
}

// awaitDestination polls the recipient's canonical balance on the
// destination network until the bridged amount arrived.
func (f *Flow) awaitDestination(ctx context.Context, plan Plan) error {
	f.mu.Lock()
	recorded := f.record.DestBalanceBefore
	f.mu.Unlock()

	before, ok := new(big.Int).SetString(recorded, 10)
	if !ok {
		before = new(big.Int)
	}
	expected, err := amount.Normalize(plan.Amount, plan.To.Decimals)
	if err != nil {
		return err
	}
	want := new(big.Int).Add(before, expected.Value)

	timeout := f.o.settings.DestinationTimeout
	dctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	interval := f.o.settings.ReceiptPollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		balance, err := f.o.chain.ReadBalance(dctx, plan.To, plan.Recipient)
		if err == nil && balance.Cmp(want) >= 0 {
			return nil
		}
		if err != nil && dctx.Err() == nil {
			log.Warn().Err(err).Str("flow", f.ID()).Int("chain", plan.To.ChainID).Msg("destination balance read failed")
		}
		select {
		case <-dctx.Done():
			if ctx.Err() != nil {
				return types.WrapError(types.KindDestinationConfirmationTimeout, ctx.Err(),
					"stopped waiting for funds on chain %d", plan.To.ChainID)
			}
			return types.NewError(types.KindDestinationConfirmationTimeout,
				"funds did not arrive on chain %d within %s", plan.To.ChainID, timeout)
		case <-ticker.C:
		}
	}
}

// matchRequest finds the request this flow queued: a request with the
// flow's amount and payout token that was not there before submission,
// newest first. Must be called with f.mu held.
func (f *Flow) matchRequest(requests []types.RedemptionRequest) (uint64, bool) {
	var (
		found bool
		best  uint64
	)
	created := time.Unix(f.record.TsCreated, 0).Add(-time.Minute)
	for _, r := range requests {
		if r.CanonicalAmount == nil || r.CanonicalAmount.Cmp(f.record.Amount.Value) != 0 {
			continue
		}
		if r.SourceToken != "" && !strings.EqualFold(r.SourceToken, f.record.To.Address) {
			continue
		}
		if f.knownRequests != nil {
			if f.knownRequests[r.ID] {
				continue
			}
		} else if r.RequestTime.Before(created) {
			continue
		}
		if !found || r.ID > best {
			best, found = r.ID, true
		}
	}
	return best, found
}

// bridgeFee is the native value sent with a bridge send. Plans restored
// from a checkpoint without a recorded fee pay the policy minimum.
func (o *Orchestrator) bridgeFee(plan Plan) *big.Int {
	if plan.Fees.BridgeFee != nil && plan.Fees.BridgeFee.Sign() > 0 {
		return plan.Fees.BridgeFee
	}
	if o.settings.Fees.BridgeMinFee != nil {
		return new(big.Int).Set(o.settings.Fees.BridgeMinFee)
	}
	return new(big.Int)
}
