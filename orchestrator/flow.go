package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"gowrapportal/redemption"
	"gowrapportal/types"
)

// Flow is one planned operation and its ordered steps. Only its own
// execution mutates the steps, everyone else reads snapshots.
type Flow struct {
	o *Orchestrator

	mu        sync.Mutex
	busy      bool
	abandoned bool
	cancel    context.CancelFunc
	plan      Plan
	record    types.FlowRecord

	// owner's request ids seen right before the queue step submitted
	knownRequests map[uint64]bool
}

func (f *Flow) ID() string {
	return f.record.ID
}

func (f *Flow) Plan() Plan {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plan
}

// Steps returns a copy of the current step list.
func (f *Flow) Steps() []types.TransactionStep {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copySteps(f.record.Steps)
}

func (f *Flow) Record() types.FlowRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot()
}

func (f *Flow) Status() types.FlowStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record.Status
}

// snapshot must be called with f.mu held.
func (f *Flow) snapshot() types.FlowRecord {
	rec := f.record
	rec.Steps = copySteps(f.record.Steps)
	if f.record.RedemptionID != nil {
		id := *f.record.RedemptionID
		rec.RedemptionID = &id
	}
	return rec
}

func copySteps(in []types.TransactionStep) []types.TransactionStep {
	out := make([]types.TransactionStep, len(in))
	copy(out, in)
	return out
}

func (f *Flow) acquire() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return types.NewError(types.KindFlowBusy, "flow %s is already executing", f.record.ID)
	}
	if f.abandoned || f.record.Status == types.FlowAbandoned {
		return types.NewError(types.KindFlowAbandoned, "flow %s was abandoned", f.record.ID)
	}
	f.busy = true
	return nil
}

// settle resolves steps an interrupted process left active. A submitted
// transaction is never sent again blindly: with a reference it is looked
// up on retry, without one it needs an explicit retry. It reports whether
// the record changed.
func (f *Flow) settle() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settleSteps()
}

// settleSteps must be called with f.mu held.
func (f *Flow) settleSteps() bool {
	changed := false
	var failed *types.Error
	for i := range f.record.Steps {
		s := &f.record.Steps[i]
		if s.Status != types.StepActive {
			continue
		}
		switch {
		case s.Kind == types.StepSecurityDelay:
			continue
		case s.Kind == types.StepDestinationConfirmation:
			// nothing submitted, the balance to compare with is recorded
			s.Status = types.StepPending
		case s.TxRef != "":
			s.Status = types.StepFailed
			s.Error = types.NewError(types.KindReceiptTimeout, "outcome of %s unknown after restart", s.TxRef)
		default:
			s.Status = types.StepFailed
			s.Error = types.NewError(types.KindSubmissionFailed, "%s was interrupted, check the wallet before retrying", s.Label)
		}
		if s.Status == types.StepFailed && failed == nil {
			failed = s.Error
		}
		stepTransitions.WithLabelValues(string(s.Kind), string(s.Status)).Inc()
		changed = true
	}

	switch {
	case failed != nil && f.record.Status != types.FlowAbandoned:
		f.record.Status = types.FlowFailed
		f.record.Message = failed.Error()
		changed = true
	case f.record.Status == types.FlowExecuting:
		f.record.Status = types.FlowPlanned
		f.record.Message = "interrupted, execute to resume"
		changed = true
	}
	return changed
}

func (f *Flow) release() {
	f.mu.Lock()
	f.busy = false
	f.cancel = nil
	f.mu.Unlock()
}

// Execute runs the remaining steps strictly in order and returns the
// reference of the last submitted transaction. It stops at the first
// failure, a failed step is only ever cleared by Retry.
func (f *Flow) Execute(ctx context.Context) (string, error) {
	if err := f.acquire(); err != nil {
		return "", err
	}
	defer f.release()
	return f.run(ctx)
}

// Retry rebuilds the remaining steps from the current chain state and
// executes them. A step whose receipt never arrived is looked up by its
// transaction and is not submitted again while the outcome is unknown.
func (f *Flow) Retry(ctx context.Context) (string, error) {
	if err := f.acquire(); err != nil {
		return "", err
	}
	defer f.release()
	return f.retry(ctx)
}

// Start runs Execute, or Retry when retry is set, in the background. The
// flow is acquired before Start returns, so FlowBusy is reported here and
// done receives the outcome.
func (f *Flow) Start(ctx context.Context, retry bool, done func(ref string, err error)) error {
	if err := f.acquire(); err != nil {
		return err
	}
	go func() {
		run := f.run
		if retry {
			run = f.retry
		}
		ref, err := run(ctx)
		f.release()
		if done != nil {
			done(ref, err)
		}
	}()
	return nil
}

func (f *Flow) retry(ctx context.Context) (string, error) {
	steps := f.Steps()
	for i, s := range steps {
		if s.Status != types.StepFailed {
			continue
		}
		if s.TxRef != "" && types.KindOf(s.Error) == types.KindReceiptTimeout {
			mined, err := f.recheck(ctx, i, s)
			if err != nil {
				return s.TxRef, err
			}
			if mined {
				log.Info().Str("flow", f.ID()).Str("tx", s.TxRef).Msg("receipt found on retry")
			}
		}
		break
	}

	if err := f.rebuild(ctx); err != nil {
		return "", err
	}
	return f.run(ctx)
}

// recheck resolves a step that stopped waiting for its receipt. It reports
// whether the transaction was mined successfully.
func (f *Flow) recheck(ctx context.Context, i int, s types.TransactionStep) (bool, error) {
	status, err := f.o.chain.CheckReceipt(ctx, s.ChainID, s.TxRef)
	if err != nil {
		return false, types.WrapError(types.KindReceiptTimeout, err, "can not look up %s", s.TxRef)
	}
	switch status {
	case ReceiptPending:
		return false, types.NewError(types.KindReceiptTimeout, "%s is still pending, not resubmitting", s.TxRef)
	case ReceiptReverted:
		// outcome is known, the step may be submitted again
		return false, nil
	}
	if err := f.confirm(ctx, s); err != nil {
		return false, f.fail(ctx, i, s.TxRef, err)
	}
	f.updateStep(ctx, i, func(st *types.TransactionStep) {
		st.Status = types.StepCompleted
		st.Error = nil
	})
	if i == f.lastSubmitting() {
		f.notifyRefresh()
	}
	return true, nil
}

// rebuild keeps the completed steps and plans the rest again. Approval is
// put back in front of the deposit only if the allowance read now says so.
func (f *Flow) rebuild(ctx context.Context) error {
	plan := f.Plan()
	steps := f.Steps()

	done := make(map[types.StepKind]bool)
	var kept []types.TransactionStep
	for _, s := range steps {
		if s.Status == types.StepCompleted {
			kept = append(kept, s)
			done[s.Kind] = true
		}
	}

	needsApproval := false
	if plan.Operation == types.OperationWrap && !done[types.StepDeposit] {
		state, err := f.o.approvalState(ctx, plan, nil)
		if err != nil {
			return err
		}
		needsApproval = state.IsRequired
	}
	for _, s := range f.o.buildSteps(plan, needsApproval) {
		if done[s.Kind] && s.Kind != types.StepApproval {
			continue
		}
		kept = append(kept, s)
	}

	f.mu.Lock()
	f.record.Steps = kept
	f.record.Message = ""
	f.mu.Unlock()
	f.checkpoint(ctx)
	return nil
}

// Abandon stops the flow. Before anything was submitted this is a clean
// no-op, afterwards it only stops waiting: submitted transactions can not
// be recalled. A queued redemption stays waiting so its security delay is
// still tracked to completion.
func (f *Flow) Abandon() {
	f.mu.Lock()
	f.abandoned = true
	cancel := f.cancel
	busy := f.busy
	switch {
	case busy, f.record.Status == types.FlowSucceeded:
	case f.record.Status == types.FlowWaiting:
		f.record.Message = "abandoned, the queued redemption still completes"
	default:
		f.record.Status = types.FlowAbandoned
	}
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !busy {
		f.checkpoint(context.Background())
	}
	log.Info().Str("flow", f.ID()).Bool("executing", busy).Msg("flow abandoned")
}

func (f *Flow) isAbandoned() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.abandoned
}

func (f *Flow) run(ctx context.Context) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	f.mu.Lock()
	f.settleSteps()
	f.cancel = cancel
	prev := f.record.Status
	f.record.Status = types.FlowExecuting
	f.mu.Unlock()
	f.checkpoint(ctx)

	last := f.lastSubmitting()
	lastRef := ""
	for i := 0; ; i++ {
		step, ok := f.step(i)
		if !ok {
			break
		}
		switch step.Status {
		case types.StepCompleted:
			if step.TxRef != "" {
				lastRef = step.TxRef
			}
			continue
		case types.StepFailed:
			f.setStatus(ctx, types.FlowFailed, "")
			if step.Error == nil {
				return lastRef, types.NewError(types.KindUnknown, "step %s failed", step.Label)
			}
			return lastRef, step.Error
		}

		if f.isAbandoned() {
			f.setStatus(ctx, types.FlowAbandoned, "abandoned before "+step.Label)
			return lastRef, types.NewError(types.KindFlowAbandoned, "flow %s was abandoned", f.ID())
		}

		if step.Kind == types.StepSecurityDelay {
			f.updateStep(ctx, i, func(s *types.TransactionStep) { s.Status = types.StepActive })
			f.setStatus(ctx, types.FlowWaiting, "redemption queued, waiting for the security delay")
			return lastRef, nil
		}

		ref, err := f.runStep(ctx, i, step)
		if ref != "" {
			lastRef = ref
		}
		if err != nil {
			if types.KindOf(err) == types.KindNetworkMismatch {
				f.setStatus(ctx, prev, err.Error())
			}
			return lastRef, err
		}
		if i == last {
			f.notifyRefresh()
		}
	}

	f.setStatus(ctx, types.FlowSucceeded, "")
	log.Info().Str("flow", f.ID()).Str("tx", lastRef).Msg("flow completed")
	return lastRef, nil
}

func (f *Flow) runStep(ctx context.Context, i int, step types.TransactionStep) (string, error) {
	if step.Kind != types.StepDestinationConfirmation {
		if err := f.checkNetwork(ctx, step.ChainID); err != nil {
			return "", err
		}
	}

	f.updateStep(ctx, i, func(s *types.TransactionStep) {
		s.Status = types.StepActive
		s.Error = nil
	})
	log.Info().Str("flow", f.ID()).Str("step", string(step.Kind)).Int("chain", step.ChainID).Msg("step started")

	ref, err := f.submit(ctx, step)
	if err == nil && ref != "" {
		f.updateStep(ctx, i, func(s *types.TransactionStep) { s.TxRef = ref })
		err = f.await(ctx, step.ChainID, ref)
	}
	if err == nil {
		err = f.confirm(ctx, step)
	}
	if err != nil {
		return ref, f.fail(ctx, i, ref, err)
	}

	f.updateStep(ctx, i, func(s *types.TransactionStep) { s.Status = types.StepCompleted })
	log.Info().Str("flow", f.ID()).Str("step", string(step.Kind)).Str("tx", ref).Msg("step completed")
	return ref, nil
}

func (f *Flow) checkNetwork(ctx context.Context, chainID int) error {
	current, err := f.o.wallet.CurrentNetwork(ctx)
	if err != nil {
		return errors.Wrap(err, "reading wallet network")
	}
	if current != chainID {
		return types.NewError(types.KindNetworkMismatch, "wallet is on chain %d, step runs on chain %d", current, chainID)
	}
	return nil
}

// await waits for the receipt within the receipt timeout. Any failure to
// learn the outcome is a ReceiptTimeout so the step is looked up, not
// submitted again, on retry.
func (f *Flow) await(ctx context.Context, chainID int, ref string) error {
	wctx := ctx
	if timeout := f.o.settings.ReceiptTimeout; timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	status, err := f.o.chain.WaitForReceipt(wctx, chainID, ref)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return types.WrapError(types.KindReceiptTimeout, err, "stopped waiting for %s", ref)
	case errors.Is(err, context.DeadlineExceeded):
		return types.WrapError(types.KindReceiptTimeout, err, "%s not mined within %s", ref, f.o.settings.ReceiptTimeout)
	default:
		return types.WrapError(types.KindReceiptTimeout, err, "receipt of %s unavailable", ref)
	}
	if status == ReceiptReverted {
		return types.NewError(types.KindTransactionReverted, "%s reverted", ref)
	}
	return nil
}

func (f *Flow) fail(ctx context.Context, i int, ref string, err error) error {
	if ref == "" && ctx.Err() != nil && f.isAbandoned() {
		// nothing reached the network
		f.updateStep(ctx, i, func(s *types.TransactionStep) { s.Status = types.StepPending })
		f.setStatus(ctx, types.FlowAbandoned, "abandoned")
		return types.NewError(types.KindFlowAbandoned, "flow %s was abandoned", f.ID())
	}

	e := types.AsError(err)
	f.updateStep(ctx, i, func(s *types.TransactionStep) {
		s.Status = types.StepFailed
		s.Error = e
	})
	status := types.FlowFailed
	if f.isAbandoned() {
		status = types.FlowAbandoned
	}
	f.setStatus(ctx, status, e.Error())
	log.Warn().Str("flow", f.ID()).Str("kind", string(e.Kind)).Str("tx", ref).Msg(e.Message)
	return e
}

// SyncRedemption completes the security delay once the flow's redemption
// request is ready or already fulfilled. It reports whether the delay
// completed. Every call while the delay runs checkpoints the flow, which
// keeps the session alive for as long as the delay lasts.
func (f *Flow) SyncRedemption(ctx context.Context, requests []types.RedemptionRequest, now time.Time) bool {
	f.mu.Lock()
	idx := -1
	for i, s := range f.record.Steps {
		if s.Kind == types.StepSecurityDelay && s.Status == types.StepActive {
			idx = i
			break
		}
	}
	if idx < 0 {
		f.mu.Unlock()
		return false
	}
	if f.record.RedemptionID == nil {
		if id, ok := f.matchRequest(requests); ok {
			f.record.RedemptionID = &id
		}
	}
	if f.record.RedemptionID == nil {
		rec := f.snapshot()
		f.mu.Unlock()
		f.save(ctx, rec)
		return false
	}

	var req *types.RedemptionRequest
	for i := range requests {
		if requests[i].ID == *f.record.RedemptionID {
			req = &requests[i]
			break
		}
	}
	delay := f.o.settings.RedemptionDelay
	if req == nil || !(req.Fulfilled || redemption.IsReady(*req, now, delay)) {
		if req != nil {
			f.record.Steps[idx].EstimatedDuration = redemption.Remaining(*req, now, delay)
		}
		rec := f.snapshot()
		f.mu.Unlock()
		f.save(ctx, rec)
		return false
	}

	f.record.Steps[idx].Status = types.StepCompleted
	f.record.Steps[idx].EstimatedDuration = 0
	f.record.Status = types.FlowSucceeded
	f.record.Message = ""
	rec := f.snapshot()
	f.mu.Unlock()

	stepTransitions.WithLabelValues(string(types.StepSecurityDelay), string(types.StepCompleted)).Inc()
	f.save(ctx, rec)
	log.Info().Str("flow", rec.ID).Uint64("request", *rec.RedemptionID).Msg("security delay elapsed")
	return true
}

func (f *Flow) step(i int) (types.TransactionStep, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.record.Steps) {
		return types.TransactionStep{}, false
	}
	return f.record.Steps[i], true
}

// lastSubmitting is the index of the last step that is not a time-only wait.
func (f *Flow) lastSubmitting() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.record.Steps) - 1; i >= 0; i-- {
		if f.record.Steps[i].Kind != types.StepSecurityDelay {
			return i
		}
	}
	return -1
}

func (f *Flow) updateStep(ctx context.Context, i int, change func(*types.TransactionStep)) {
	f.mu.Lock()
	before := f.record.Steps[i].Status
	change(&f.record.Steps[i])
	after := f.record.Steps[i]
	rec := f.snapshot()
	f.mu.Unlock()

	if after.Status != before {
		stepTransitions.WithLabelValues(string(after.Kind), string(after.Status)).Inc()
	}
	f.save(ctx, rec)
}

func (f *Flow) setStatus(ctx context.Context, status types.FlowStatus, message string) {
	f.mu.Lock()
	f.record.Status = status
	f.record.Message = message
	f.mu.Unlock()
	f.checkpoint(ctx)
}

func (f *Flow) checkpoint(ctx context.Context) {
	f.mu.Lock()
	rec := f.snapshot()
	f.mu.Unlock()
	f.save(ctx, rec)
}

// save never fails the flow, a lost checkpoint only costs the resume.
func (f *Flow) save(ctx context.Context, rec types.FlowRecord) {
	if err := f.o.store.Save(context.WithoutCancel(ctx), rec); err != nil {
		log.Error().Err(err).Str("flow", rec.ID).Msg("checkpoint failed")
	}
}

func (f *Flow) notifyRefresh() {
	plan := f.Plan()
	chains := []int{plan.From.ChainID}
	if plan.To.ChainID != plan.From.ChainID {
		chains = append(chains, plan.To.ChainID)
	}
	f.o.refreshFeed.Send(BalanceRefresh{FlowID: f.ID(), Account: plan.Account, ChainIDs: chains})
}
