package orchestrator_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gowrapportal/approval"
	"gowrapportal/fees"
	"gowrapportal/orchestrator"
	"gowrapportal/types"
)

const delay = 864000 * time.Second

func settings() orchestrator.Settings {
	return orchestrator.Settings{
		Approval:            approval.DefaultPolicy(),
		Fees:                fees.DefaultPolicy(),
		MinWrap:             big.NewInt(1_000_000),
		MinBridge:           big.NewInt(10_000_000),
		MinUnwrap:           big.NewInt(1_000_000),
		RedemptionDelay:     delay,
		ReceiptTimeout:      time.Second,
		DestinationTimeout:  time.Second,
		ReceiptPollInterval: 5 * time.Millisecond,
	}
}

func setup(t *testing.T, opts ...orchestrator.Option) (*orchestrator.Orchestrator, *fakeChain, *fakeWallet) {
	t.Helper()
	chain := newFakeChain()
	wallet := &fakeWallet{network: 1}
	return orchestrator.New(chain, wallet, settings(), opts...), chain, wallet
}

func kinds(steps []types.TransactionStep) []types.StepKind {
	res := make([]types.StepKind, 0, len(steps))
	for _, s := range steps {
		res = append(res, s.Kind)
	}
	return res
}

func wrapRequest(value int64) orchestrator.Request {
	return orchestrator.Request{From: usdx, To: wbgl, Amount: types.NewAmountInt64(value, 8)}
}

func TestWrapWithSufficientAllowance(t *testing.T) {
	o, chain, _ := setup(t)
	chain.setBalance(usdx, account, 500_000_000)
	chain.setAllowance(500_000_000)

	flow, err := o.Plan(context.Background(), wrapRequest(200_000_000))
	require.NoError(t, err)

	plan := flow.Plan()
	assert.Equal(t, types.OperationWrap, plan.Operation)
	require.NotNil(t, plan.Approval)
	assert.False(t, plan.Approval.IsRequired)
	assert.Equal(t, []types.StepKind{types.StepDeposit}, kinds(flow.Steps()))
	assert.Equal(t, types.FlowPlanned, flow.Status())

	ref, err := flow.Execute(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, ref)

	calls := chain.submitted()
	require.Len(t, calls, 1)
	assert.Equal(t, types.StepDeposit, calls[0].Kind)
	assert.Equal(t, int64(200_000_000), calls[0].Amount.Int64())

	steps := flow.Steps()
	assert.Equal(t, types.StepCompleted, steps[0].Status)
	assert.Equal(t, ref, steps[0].TxRef)
	assert.Equal(t, types.FlowSucceeded, flow.Status())
}

func TestWrapApprovesBeforeDeposit(t *testing.T) {
	o, chain, _ := setup(t)
	chain.setBalance(usdx, account, 500_000_000)

	refresh := make(chan orchestrator.BalanceRefresh, 1)
	sub := o.SubscribeRefresh(refresh)
	defer sub.Unsubscribe()

	flow, err := o.Plan(context.Background(), wrapRequest(200_000_000))
	require.NoError(t, err)
	assert.True(t, flow.Plan().Approval.IsRequired)
	assert.Equal(t, types.StrategyOptimized, flow.Plan().Strategy)
	assert.Equal(t, []types.StepKind{types.StepApproval, types.StepDeposit}, kinds(flow.Steps()))

	_, err = flow.Execute(context.Background())
	require.NoError(t, err)

	calls := chain.submitted()
	require.Len(t, calls, 2)
	assert.Equal(t, types.StepApproval, calls[0].Kind)
	assert.Equal(t, portal, calls[0].Spender)
	assert.Equal(t, int64(300_000_000), calls[0].Amount.Int64())
	assert.Equal(t, types.StepDeposit, calls[1].Kind)

	for _, s := range flow.Steps() {
		assert.Equal(t, types.StepCompleted, s.Status)
		assert.NotEmpty(t, s.TxRef)
	}

	select {
	case ev := <-refresh:
		assert.Equal(t, flow.ID(), ev.FlowID)
		assert.Equal(t, []int{1}, ev.ChainIDs)
	case <-time.After(time.Second):
		t.Fatal("no balance refresh")
	}
}

func TestApprovalThatDoesNotCoverStopsBeforeDeposit(t *testing.T) {
	o, chain, _ := setup(t)
	chain.setBalance(usdx, account, 500_000_000)
	chain.keepAllowance = true

	flow, err := o.Plan(context.Background(), wrapRequest(200_000_000))
	require.NoError(t, err)

	_, err = flow.Execute(context.Background())
	require.ErrorIs(t, err, types.ErrInsufficientAllowance)

	steps := flow.Steps()
	assert.Equal(t, types.StepFailed, steps[0].Status)
	assert.Equal(t, types.KindInsufficientAllowance, steps[0].Error.Kind)
	assert.NotEmpty(t, steps[0].TxRef)
	assert.Equal(t, types.StepPending, steps[1].Status)
	assert.Len(t, chain.submitted(), 1)
}

func TestPlanValidation(t *testing.T) {
	o, chain, _ := setup(t)
	chain.setBalance(usdx, account, 500_000_000)

	tests := []struct {
		name string
		req  orchestrator.Request
		want error
	}{
		{"same token", orchestrator.Request{From: wbgl, To: wbgl, Amount: types.NewAmountInt64(1e8, 8)}, types.ErrNoOperationForPair},
		{"zero", wrapRequest(0), types.ErrInvalidAmount},
		{"negative", wrapRequest(-5), types.ErrInvalidAmount},
		{"below minimum", wrapRequest(999_999), types.ErrBelowMinimumAmount},
		{"above balance", wrapRequest(500_000_001), types.ErrInsufficientBalance},
		{"wrong precision", orchestrator.Request{From: usdx, To: wbgl, Amount: types.NewAmountInt64(1e8, 6)}, types.ErrUnsupportedPrecision},
		{"bad recipient", orchestrator.Request{From: wbgl, To: wbglBNB, Amount: types.NewAmountInt64(1e8, 8), Recipient: "nope"}, types.ErrInvalidAddress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Plan(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, chain.submitted())
	assert.Empty(t, o.Flows())
}

func TestNetworkMismatchSubmitsNothing(t *testing.T) {
	o, chain, wallet := setup(t)
	chain.setBalance(usdx, account, 500_000_000)
	chain.setAllowance(500_000_000)
	wallet.network = 56

	flow, err := o.Plan(context.Background(), wrapRequest(200_000_000))
	require.NoError(t, err)

	_, err = flow.Execute(context.Background())
	require.ErrorIs(t, err, types.ErrNetworkMismatch)
	assert.Empty(t, chain.submitted())
	assert.Equal(t, types.StepPending, flow.Steps()[0].Status)
	assert.Equal(t, types.FlowPlanned, flow.Status())

	require.NoError(t, wallet.RequestNetworkSwitch(context.Background(), 1))
	_, err = flow.Execute(context.Background())
	require.NoError(t, err)
	assert.Len(t, chain.submitted(), 1)
}

func TestRejectedApprovalHalts(t *testing.T) {
	o, chain, _ := setup(t)
	chain.setBalance(usdx, account, 500_000_000)
	chain.submitErr[types.StepApproval] = types.NewError(types.KindApprovalRejected, "user rejected")

	flow, err := o.Plan(context.Background(), wrapRequest(200_000_000))
	require.NoError(t, err)

	_, err = flow.Execute(context.Background())
	require.ErrorIs(t, err, types.ErrApprovalRejected)
	steps := flow.Steps()
	assert.Equal(t, types.StepFailed, steps[0].Status)
	assert.Equal(t, types.StepPending, steps[1].Status)
	assert.Equal(t, types.FlowFailed, flow.Status())

	// no automatic retry, the failed step is sticky
	_, err = flow.Execute(context.Background())
	require.ErrorIs(t, err, types.ErrApprovalRejected)
	assert.Empty(t, chain.submitted())
}

func TestRetryDropsApprovalWhenAllowanceArrived(t *testing.T) {
	o, chain, _ := setup(t)
	chain.setBalance(usdx, account, 500_000_000)
	chain.submitErr[types.StepApproval] = types.NewError(types.KindApprovalRejected, "user rejected")

	flow, err := o.Plan(context.Background(), wrapRequest(200_000_000))
	require.NoError(t, err)
	_, err = flow.Execute(context.Background())
	require.Error(t, err)

	chain.setAllowance(1_000_000_000)
	_, err = flow.Retry(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []types.StepKind{types.StepDeposit}, kinds(flow.Steps()))
	calls := chain.submitted()
	require.Len(t, calls, 1)
	assert.Equal(t, types.StepDeposit, calls[0].Kind)
}

func TestRetryKeepsApprovalWhenStillNeeded(t *testing.T) {
	o, chain, _ := setup(t)
	chain.setBalance(usdx, account, 500_000_000)
	chain.submitErr[types.StepApproval] = types.NewError(types.KindApprovalRejected, "user rejected")

	flow, err := o.Plan(context.Background(), wrapRequest(200_000_000))
	require.NoError(t, err)
	_, err = flow.Execute(context.Background())
	require.Error(t, err)

	delete(chain.submitErr, types.StepApproval)
	_, err = flow.Retry(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []types.StepKind{types.StepApproval, types.StepDeposit}, kinds(flow.Steps()))
	assert.Len(t, chain.submitted(), 2)
}

func TestRevertedDepositFails(t *testing.T) {
	o, chain, _ := setup(t)
	chain.setBalance(usdx, account, 500_000_000)
	chain.setAllowance(500_000_000)
	chain.revert[types.StepDeposit] = true

	flow, err := o.Plan(context.Background(), wrapRequest(200_000_000))
	require.NoError(t, err)

	_, err = flow.Execute(context.Background())
	require.ErrorIs(t, err, types.ErrTransactionReverted)
	assert.NotEmpty(t, flow.Steps()[0].TxRef)
}

func TestReceiptTimeoutIsNotResubmitted(t *testing.T) {
	s := settings()
	s.ReceiptTimeout = 20 * time.Millisecond
	chain := newFakeChain()
	o := orchestrator.New(chain, &fakeWallet{network: 1}, s)
	chain.setBalance(usdx, account, 500_000_000)
	chain.setAllowance(500_000_000)
	chain.hang[types.StepDeposit] = true

	flow, err := o.Plan(context.Background(), wrapRequest(200_000_000))
	require.NoError(t, err)

	_, err = flow.Execute(context.Background())
	require.ErrorIs(t, err, types.ErrReceiptTimeout)
	ref := flow.Steps()[0].TxRef
	require.NotEmpty(t, ref)

	chain.checked = orchestrator.ReceiptPending
	_, err = flow.Retry(context.Background())
	require.ErrorIs(t, err, types.ErrReceiptTimeout)
	assert.Len(t, chain.submitted(), 1)
	assert.Equal(t, types.StepFailed, flow.Steps()[0].Status)

	chain.checked = orchestrator.ReceiptSuccess
	got, err := flow.Retry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ref, got)
	assert.Len(t, chain.submitted(), 1)
	assert.Equal(t, types.StepCompleted, flow.Steps()[0].Status)
	assert.Equal(t, types.FlowSucceeded, flow.Status())
}

func TestBridgeWaitsForDestination(t *testing.T) {
	o, chain, _ := setup(t)
	chain.setBalance(wbgl, account, 500_000_000)

	flow, err := o.Plan(context.Background(), orchestrator.Request{From: wbgl, To: wbglBNB, Amount: types.NewAmountInt64(100_000_000, 8)})
	require.NoError(t, err)
	assert.Equal(t, []types.StepKind{types.StepSend, types.StepDestinationConfirmation}, kinds(flow.Steps()))
	assert.Equal(t, 56, flow.Steps()[1].ChainID)

	_, err = flow.Execute(context.Background())
	require.NoError(t, err)

	calls := chain.submitted()
	require.Len(t, calls, 1)
	assert.Equal(t, 56, calls[0].DestChain)
	assert.Equal(t, account, calls[0].Recipient)
	assert.Equal(t, fees.DefaultPolicy().BridgeMinFee, calls[0].Value)
	assert.Equal(t, types.FlowSucceeded, flow.Status())
}

func TestBridgeDestinationTimeout(t *testing.T) {
	s := settings()
	s.DestinationTimeout = 30 * time.Millisecond
	chain := newFakeChain()
	chain.deliver = false
	o := orchestrator.New(chain, &fakeWallet{network: 1}, s)
	chain.setBalance(wbgl, account, 500_000_000)

	flow, err := o.Plan(context.Background(), orchestrator.Request{From: wbgl, To: wbglBNB, Amount: types.NewAmountInt64(100_000_000, 8)})
	require.NoError(t, err)

	_, err = flow.Execute(context.Background())
	require.ErrorIs(t, err, types.ErrDestinationConfirmationTimeout)
	steps := flow.Steps()
	assert.Equal(t, types.StepCompleted, steps[0].Status)
	assert.Equal(t, types.StepFailed, steps[1].Status)
}

func TestUnwrapQueuesAndWaitsForDelay(t *testing.T) {
	o, chain, _ := setup(t)
	chain.setBalance(wbgl, account, 500_000_000)
	chain.reserve = big.NewInt(10)
	chain.requests = []types.RedemptionRequest{{
		ID: 7, Owner: account, SourceToken: usdx.Address,
		CanonicalAmount: big.NewInt(100_000_000), UnderlyingAmount: big.NewInt(100_000_000),
		RequestTime: chain.now.Add(-time.Hour),
	}}

	flow, err := o.Plan(context.Background(), orchestrator.Request{From: wbgl, To: usdx, Amount: types.NewAmountInt64(100_000_000, 8)})
	require.NoError(t, err)
	assert.Equal(t, types.OperationUnwrap, flow.Plan().Operation)
	assert.True(t, flow.Plan().ReserveShortfall)
	assert.Equal(t, []types.StepKind{types.StepQueueRedemption, types.StepSecurityDelay}, kinds(flow.Steps()))

	_, err = flow.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.FlowWaiting, flow.Status())
	steps := flow.Steps()
	assert.Equal(t, types.StepCompleted, steps[0].Status)
	assert.Equal(t, types.StepActive, steps[1].Status)

	rec := flow.Record()
	require.NotNil(t, rec.RedemptionID)
	assert.Equal(t, uint64(8), *rec.RedemptionID)

	requests, _ := chain.ReadRedemptionRequests(context.Background(), 1, account)
	assert.False(t, flow.SyncRedemption(context.Background(), requests, chain.now.Add(delay-time.Second)))
	assert.Equal(t, types.StepActive, flow.Steps()[1].Status)

	assert.True(t, flow.SyncRedemption(context.Background(), requests, chain.now.Add(delay)))
	assert.Equal(t, types.StepCompleted, flow.Steps()[1].Status)
	assert.Equal(t, types.FlowSucceeded, flow.Status())
}

func TestFlowBusyAndAbandonWhileWaiting(t *testing.T) {
	s := settings()
	s.ReceiptTimeout = 0
	chain := newFakeChain()
	o := orchestrator.New(chain, &fakeWallet{network: 1}, s)
	chain.setBalance(usdx, account, 500_000_000)
	chain.setAllowance(500_000_000)
	chain.hang[types.StepDeposit] = true

	flow, err := o.Plan(context.Background(), wrapRequest(200_000_000))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := flow.Execute(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool { return len(chain.submitted()) == 1 }, time.Second, time.Millisecond)

	_, err = flow.Execute(context.Background())
	require.ErrorIs(t, err, types.ErrFlowBusy)

	flow.Abandon()
	select {
	case err := <-done:
		require.ErrorIs(t, err, types.ErrReceiptTimeout)
	case <-time.After(time.Second):
		t.Fatal("execute did not stop waiting")
	}
	assert.Equal(t, types.FlowAbandoned, flow.Status())
	assert.NotEmpty(t, flow.Steps()[0].TxRef)
}

func TestAbandonBeforeExecute(t *testing.T) {
	o, chain, _ := setup(t)
	chain.setBalance(usdx, account, 500_000_000)

	flow, err := o.Plan(context.Background(), wrapRequest(200_000_000))
	require.NoError(t, err)

	flow.Abandon()
	_, err = flow.Execute(context.Background())
	require.ErrorIs(t, err, types.ErrFlowAbandoned)
	assert.Empty(t, chain.submitted())
	for _, s := range flow.Steps() {
		assert.Equal(t, types.StepPending, s.Status)
	}
}

func TestStepsAreSnapshots(t *testing.T) {
	o, chain, _ := setup(t)
	chain.setBalance(usdx, account, 500_000_000)

	flow, err := o.Plan(context.Background(), wrapRequest(200_000_000))
	require.NoError(t, err)

	steps := flow.Steps()
	steps[0].Status = types.StepFailed
	assert.Equal(t, types.StepPending, flow.Steps()[0].Status)
}

func TestRestoreFromStore(t *testing.T) {
	store := orchestrator.NewMemoryStore()
	o, chain, wallet := setup(t, orchestrator.WithStore(store))
	chain.setBalance(usdx, account, 500_000_000)

	flow, err := o.Plan(context.Background(), wrapRequest(200_000_000))
	require.NoError(t, err)

	restarted := orchestrator.New(chain, wallet, settings(), orchestrator.WithStore(store))
	restored, err := restarted.Restore(context.Background(), flow.ID())
	require.NoError(t, err)
	assert.Equal(t, flow.Steps(), restored.Steps())
	assert.Equal(t, types.FlowPlanned, restored.Status())

	require.NoError(t, restarted.Forget(context.Background(), flow.ID()))
	_, err = restarted.Restore(context.Background(), flow.ID())
	require.Error(t, err)
}

// interrupted saves a copy of flow's record as a crashed process would have
// left it, with the step of kind active.
func interrupted(t *testing.T, store orchestrator.SessionStore, flow *orchestrator.Flow, kind types.StepKind, ref string) {
	t.Helper()
	rec := flow.Record()
	rec.Status = types.FlowExecuting
	for i := range rec.Steps {
		if rec.Steps[i].Kind == kind {
			rec.Steps[i].Status = types.StepActive
			rec.Steps[i].TxRef = ref
		}
	}
	require.NoError(t, store.Save(context.Background(), rec))
}

func TestRestoreDoesNotResubmitInFlightStep(t *testing.T) {
	store := orchestrator.NewMemoryStore()
	o, chain, wallet := setup(t, orchestrator.WithStore(store))
	chain.setBalance(usdx, account, 500_000_000)
	chain.setAllowance(500_000_000)

	flow, err := o.Plan(context.Background(), wrapRequest(200_000_000))
	require.NoError(t, err)
	ref := "0x00000000000000000000000000000000000000000000000000000000000000aa"
	interrupted(t, store, flow, types.StepDeposit, ref)

	restarted := orchestrator.New(chain, wallet, settings(), orchestrator.WithStore(store))
	restored, err := restarted.Restore(context.Background(), flow.ID())
	require.NoError(t, err)
	step := restored.Steps()[0]
	assert.Equal(t, types.StepFailed, step.Status)
	assert.Equal(t, ref, step.TxRef)
	assert.Equal(t, types.KindReceiptTimeout, step.Error.Kind)
	assert.Equal(t, types.FlowFailed, restored.Status())

	saved, ok, err := store.Load(context.Background(), flow.ID())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.StepFailed, saved.Steps[0].Status)

	_, err = restored.Execute(context.Background())
	require.ErrorIs(t, err, types.ErrReceiptTimeout)
	assert.Empty(t, chain.submitted())

	chain.checked = orchestrator.ReceiptPending
	_, err = restored.Retry(context.Background())
	require.ErrorIs(t, err, types.ErrReceiptTimeout)
	assert.Empty(t, chain.submitted())

	chain.checked = orchestrator.ReceiptSuccess
	got, err := restored.Retry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ref, got)
	assert.Empty(t, chain.submitted())
	assert.Equal(t, types.FlowSucceeded, restored.Status())
}

func TestRestoreFailsStepInterruptedBeforeReference(t *testing.T) {
	store := orchestrator.NewMemoryStore()
	o, chain, wallet := setup(t, orchestrator.WithStore(store))
	chain.setBalance(usdx, account, 500_000_000)
	chain.setAllowance(500_000_000)

	flow, err := o.Plan(context.Background(), wrapRequest(200_000_000))
	require.NoError(t, err)
	interrupted(t, store, flow, types.StepDeposit, "")

	restarted := orchestrator.New(chain, wallet, settings(), orchestrator.WithStore(store))
	restored, err := restarted.Restore(context.Background(), flow.ID())
	require.NoError(t, err)
	step := restored.Steps()[0]
	assert.Equal(t, types.StepFailed, step.Status)
	assert.Equal(t, types.KindSubmissionFailed, step.Error.Kind)

	_, err = restored.Execute(context.Background())
	require.ErrorIs(t, err, types.ErrSubmissionFailed)
	assert.Empty(t, chain.submitted())
}

func TestRestoreResumesDestinationConfirmation(t *testing.T) {
	store := orchestrator.NewMemoryStore()
	o, chain, wallet := setup(t, orchestrator.WithStore(store))
	chain.setBalance(wbgl, account, 500_000_000)

	flow, err := o.Plan(context.Background(), orchestrator.Request{From: wbgl, To: wbglBNB, Amount: types.NewAmountInt64(100_000_000, 8)})
	require.NoError(t, err)
	rec := flow.Record()
	rec.Status = types.FlowExecuting
	rec.Steps[0].Status = types.StepCompleted
	rec.Steps[0].TxRef = "0x00000000000000000000000000000000000000000000000000000000000000bb"
	rec.Steps[1].Status = types.StepActive
	rec.DestBalanceBefore = "0"
	require.NoError(t, store.Save(context.Background(), rec))
	chain.setBalance(wbglBNB, account, 100_000_000)

	restarted := orchestrator.New(chain, wallet, settings(), orchestrator.WithStore(store))
	restored, err := restarted.Restore(context.Background(), flow.ID())
	require.NoError(t, err)
	assert.Equal(t, types.StepPending, restored.Steps()[1].Status)
	assert.Equal(t, types.FlowPlanned, restored.Status())

	_, err = restored.Execute(context.Background())
	require.NoError(t, err)
	assert.Empty(t, chain.submitted())
	assert.Equal(t, types.FlowSucceeded, restored.Status())
}

func TestRestoredBridgePaysPlannedFee(t *testing.T) {
	store := orchestrator.NewMemoryStore()
	planned := settings()
	planned.Fees.BridgeMinFee = big.NewInt(3_000_000_000_000_000)
	chain := newFakeChain()
	wallet := &fakeWallet{network: 1}
	o := orchestrator.New(chain, wallet, planned, orchestrator.WithStore(store))
	chain.setBalance(wbgl, account, 500_000_000)
	req := orchestrator.Request{From: wbgl, To: wbglBNB, Amount: types.NewAmountInt64(100_000_000, 8)}

	flow, err := o.Plan(context.Background(), req)
	require.NoError(t, err)
	legacy, err := o.Plan(context.Background(), req)
	require.NoError(t, err)
	rec := legacy.Record()
	rec.BridgeFee = nil
	require.NoError(t, store.Save(context.Background(), rec))

	restarted := orchestrator.New(chain, wallet, settings(), orchestrator.WithStore(store))
	restored, err := restarted.Restore(context.Background(), flow.ID())
	require.NoError(t, err)
	_, err = restored.Execute(context.Background())
	require.NoError(t, err)

	restored, err = restarted.Restore(context.Background(), legacy.ID())
	require.NoError(t, err)
	_, err = restored.Execute(context.Background())
	require.NoError(t, err)

	calls := chain.submitted()
	require.Len(t, calls, 2)
	assert.Equal(t, planned.Fees.BridgeMinFee, calls[0].Value)
	assert.Equal(t, settings().Fees.BridgeMinFee, calls[1].Value)
}

func TestRestoredWrapKeepsStrategy(t *testing.T) {
	store := orchestrator.NewMemoryStore()
	o, chain, wallet := setup(t, orchestrator.WithStore(store))
	chain.setBalance(usdx, account, 500_000_000)

	req := wrapRequest(200_000_000)
	req.Strategy = types.StrategyExact
	flow, err := o.Plan(context.Background(), req)
	require.NoError(t, err)

	restarted := orchestrator.New(chain, wallet, settings(), orchestrator.WithStore(store))
	restored, err := restarted.Restore(context.Background(), flow.ID())
	require.NoError(t, err)
	assert.Equal(t, types.StrategyExact, restored.Plan().Strategy)

	_, err = restored.Execute(context.Background())
	require.NoError(t, err)
	calls := chain.submitted()
	require.Len(t, calls, 2)
	assert.Equal(t, int64(200_000_000), calls[0].Amount.Int64())
}

func TestRetryFindingLastStepMinedRefreshesBalances(t *testing.T) {
	s := settings()
	s.ReceiptTimeout = 20 * time.Millisecond
	chain := newFakeChain()
	o := orchestrator.New(chain, &fakeWallet{network: 1}, s)
	chain.setBalance(usdx, account, 500_000_000)
	chain.setAllowance(500_000_000)
	chain.hang[types.StepDeposit] = true

	events := make(chan orchestrator.BalanceRefresh, 4)
	sub := o.SubscribeRefresh(events)
	defer sub.Unsubscribe()

	flow, err := o.Plan(context.Background(), wrapRequest(200_000_000))
	require.NoError(t, err)
	_, err = flow.Execute(context.Background())
	require.ErrorIs(t, err, types.ErrReceiptTimeout)
	assert.Empty(t, events)

	chain.checked = orchestrator.ReceiptSuccess
	_, err = flow.Retry(context.Background())
	require.NoError(t, err)

	require.Len(t, events, 1)
	ev := <-events
	assert.Equal(t, flow.ID(), ev.FlowID)
	assert.Equal(t, account, ev.Account)
	assert.Equal(t, []int{1}, ev.ChainIDs)
}

func TestAbandonDuringSecurityDelayStillCompletes(t *testing.T) {
	o, chain, _ := setup(t)
	chain.setBalance(wbgl, account, 500_000_000)

	flow, err := o.Plan(context.Background(), orchestrator.Request{From: wbgl, To: usdx, Amount: types.NewAmountInt64(100_000_000, 8)})
	require.NoError(t, err)
	_, err = flow.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, types.FlowWaiting, flow.Status())

	flow.Abandon()
	assert.Equal(t, types.FlowWaiting, flow.Status())
	assert.Equal(t, types.StepActive, flow.Steps()[1].Status)
	_, err = flow.Execute(context.Background())
	require.ErrorIs(t, err, types.ErrFlowAbandoned)

	requests, _ := chain.ReadRedemptionRequests(context.Background(), 1, account)
	assert.True(t, flow.SyncRedemption(context.Background(), requests, chain.now.Add(delay)))
	assert.Equal(t, types.StepCompleted, flow.Steps()[1].Status)
	assert.Equal(t, types.FlowSucceeded, flow.Status())
}

func TestSecurityDelayTicksCheckpoint(t *testing.T) {
	store := orchestrator.NewMemoryStore()
	o, chain, _ := setup(t, orchestrator.WithStore(store))
	chain.setBalance(wbgl, account, 500_000_000)

	flow, err := o.Plan(context.Background(), orchestrator.Request{From: wbgl, To: usdx, Amount: types.NewAmountInt64(100_000_000, 8)})
	require.NoError(t, err)
	_, err = flow.Execute(context.Background())
	require.NoError(t, err)

	// an expired session is written again by the next tick
	require.NoError(t, store.Delete(context.Background(), flow.ID()))
	requests, _ := chain.ReadRedemptionRequests(context.Background(), 1, account)
	assert.False(t, flow.SyncRedemption(context.Background(), requests, chain.now.Add(delay-time.Second)))

	rec, ok, err := store.Load(context.Background(), flow.ID())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.FlowWaiting, rec.Status)
	assert.Equal(t, time.Second, rec.Steps[1].EstimatedDuration)
}

func TestStartReportsBusyAndOutcome(t *testing.T) {
	s := settings()
	s.ReceiptTimeout = 0
	chain := newFakeChain()
	o := orchestrator.New(chain, &fakeWallet{network: 1}, s)
	chain.setBalance(usdx, account, 500_000_000)
	chain.setAllowance(500_000_000)
	chain.hang[types.StepDeposit] = true

	flow, err := o.Plan(context.Background(), wrapRequest(200_000_000))
	require.NoError(t, err)

	done := make(chan error, 1)
	require.NoError(t, flow.Start(context.Background(), false, func(_ string, err error) { done <- err }))
	require.ErrorIs(t, flow.Start(context.Background(), false, nil), types.ErrFlowBusy)

	require.Eventually(t, func() bool { return len(chain.submitted()) == 1 }, time.Second, time.Millisecond)
	flow.Abandon()

	select {
	case err := <-done:
		require.ErrorIs(t, err, types.ErrReceiptTimeout)
	case <-time.After(time.Second):
		t.Fatal("background execution did not finish")
	}
}
