package handlers_test

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gowrapportal/config"
	"gowrapportal/orchestrator"
	"gowrapportal/redemption"
	"gowrapportal/tokens"
	"gowrapportal/types"
	"gowrapportal/workers/handlers"
)

const (
	usdcEth = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	wbglEth = "0x2bA64EFB7A4Ec8983E22A49c81fa216AC33f383A"
)

type env struct {
	api    *handlers.API
	chain  *fakeChain
	wallet *fakeWallet
	snaps  *fakeSnapshots
	router chi.Router
}

func setup(t *testing.T) *env {
	t.Helper()
	chain := newFakeChain()
	chain.allowance = big.NewInt(1_000_000_000_000)
	wallet := &fakeWallet{account: account, network: 1}
	snaps := &fakeSnapshots{balances: make(map[string]*big.Int)}
	policy := config.DefaultPolicy()

	flows := orchestrator.New(chain, wallet, orchestrator.Settings{
		Approval:            policy.ApprovalPolicy(),
		Fees:                policy.FeePolicy(),
		RedemptionDelay:     policy.RedemptionDelay,
		ReceiptTimeout:      time.Second,
		DestinationTimeout:  time.Second,
		ReceiptPollInterval: 5 * time.Millisecond,
	})
	api := &handlers.API{
		Registry:  tokens.NewRegistry([]config.ChainConfig{config.EVMChains[1], config.EVMChains[56]}),
		Chain:     chain,
		Wallet:    wallet,
		Flows:     flows,
		Snapshots: snaps,
		Policy:    policy,
	}
	r := chi.NewRouter()
	api.Routes(r)
	return &env{api: api, chain: chain, wallet: wallet, snaps: snaps, router: r}
}

func (e *env) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, code int, kind types.ErrorKind, field string) {
	t.Helper()
	require.Equal(t, code, rec.Code, rec.Body.String())
	var res handlers.APIResponse
	decode(t, rec, &res)
	assert.Equal(t, "error", res.Status)
	assert.Equal(t, string(kind), res.Kind)
	assert.Equal(t, field, res.Field)
}

const wrapBody = `{"fromChain":"eth","from":"USDC","toChain":"1","to":"WBGL","amount":"200"}`

func (e *env) plan(t *testing.T, body string) handlers.FlowResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/flows", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res handlers.FlowResponse
	decode(t, rec, &res)
	return res
}

func TestState(t *testing.T) {
	e := setup(t)
	rec := e.do(t, http.MethodGet, "/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res handlers.APIStateResponse
	decode(t, rec, &res)
	assert.Equal(t, "ok", res.Status)
	assert.Equal(t, account, res.Account)
	assert.Equal(t, 1, res.ChainID)
	assert.Equal(t, []int{1, 56}, res.Chains)

	e.wallet.account = ""
	rec = e.do(t, http.MethodGet, "/state", "")
	decode(t, rec, &res)
	assert.Equal(t, "disconnected", res.Status)
}

func TestHealthCheck(t *testing.T) {
	e := setup(t)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/health", "").Code)

	e.api.Archive = &fakeArchive{down: true}
	assert.Equal(t, http.StatusServiceUnavailable, e.do(t, http.MethodGet, "/health", "").Code)
}

func TestSwitchNetwork(t *testing.T) {
	e := setup(t)
	rec := e.do(t, http.MethodPost, "/network/bnb", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int{56}, e.wallet.switched)

	assertError(t, e.do(t, http.MethodPost, "/network/137", ""), http.StatusConflict, types.KindNetworkMismatch, "")
	assertError(t, e.do(t, http.MethodPost, "/network/solana", ""), http.StatusBadRequest, "", "chain")
}

func TestTokens(t *testing.T) {
	e := setup(t)
	var list []types.TokenDescriptor
	decode(t, e.do(t, http.MethodGet, "/tokens/eth", ""), &list)
	assert.Len(t, list, 4)

	decode(t, e.do(t, http.MethodGet, "/tokens/eth?from=WBGL", ""), &list)
	var got []string
	for _, tk := range list {
		got = append(got, tk.Symbol+"@"+map[int]string{1: "eth", 56: "bnb"}[tk.ChainID])
	}
	assert.Equal(t, []string{"USDC@eth", "USDT@eth", "DAI@eth", "WBGL@bnb"}, got)

	assertError(t, e.do(t, http.MethodGet, "/tokens/eth?from=XYZ", ""), http.StatusBadRequest, "", "from")
}

func TestBalance(t *testing.T) {
	e := setup(t)
	e.chain.setBalance(1, usdcEth, 1_500_000)

	rec := e.do(t, http.MethodGet, "/balance/eth/usdc", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res handlers.BalanceResponse
	decode(t, rec, &res)
	assert.Equal(t, "1.5", res.Formatted)
	assert.Equal(t, account, res.Account)
	assert.False(t, res.Cached)

	assertError(t, e.do(t, http.MethodGet, "/balance/eth/usdc?account=0x12", ""), http.StatusBadRequest, "", "account")
	assertError(t, e.do(t, http.MethodGet, "/balance/eth/XYZ", ""), http.StatusBadRequest, "", "token")
}

func TestBalanceFallsBackToSnapshot(t *testing.T) {
	e := setup(t)
	e.chain.readErr = types.NewError(types.KindUnknown, "rpc down")

	assertError(t, e.do(t, http.MethodGet, "/balance/eth/usdc", ""), http.StatusInternalServerError, types.KindUnknown, "")

	e.snaps.balances[account+"/"+key(1, usdcEth)] = big.NewInt(2_000_000)
	var res handlers.BalanceResponse
	decode(t, e.do(t, http.MethodGet, "/balance/eth/usdc", ""), &res)
	assert.True(t, res.Cached)
	assert.Equal(t, "2", res.Formatted)

	// a balance cached for one account is never served for another
	other := "0x3333333333333333333333333333333333333333"
	assertError(t, e.do(t, http.MethodGet, "/balance/eth/usdc?account="+other, ""), http.StatusInternalServerError, types.KindUnknown, "")
}

func TestApproval(t *testing.T) {
	e := setup(t)
	e.chain.allowance = new(big.Int)

	rec := e.do(t, http.MethodGet, "/approval?chain=eth&token=USDC&amount=100", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var state types.ApprovalState
	decode(t, rec, &state)
	assert.True(t, state.IsRequired)
	assert.Equal(t, int64(100_000_000), state.RequiredAmount.Value.Int64())
	assert.Len(t, state.Options, 3)

	assertError(t, e.do(t, http.MethodGet, "/approval?chain=eth&token=USDC&amount=0.0000001", ""),
		http.StatusBadRequest, types.KindInvalidAmount, "")
}

func TestFees(t *testing.T) {
	e := setup(t)
	rec := e.do(t, http.MethodGet, "/fees?from_chain=eth&from=WBGL&to_chain=bnb&to=WBGL&amount=10", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res map[string]interface{}
	decode(t, rec, &res)
	assert.Equal(t, "bridge", res["operation"])

	assertError(t, e.do(t, http.MethodGet, "/fees?from_chain=eth&from=USDC&to_chain=bnb&to=USDC&amount=10", ""),
		http.StatusBadRequest, types.KindNoOperationForPair, "")
}

func TestQueue(t *testing.T) {
	e := setup(t)
	e.chain.requests = []types.RedemptionRequest{{
		ID:               3,
		Owner:            account,
		CanonicalAmount:  big.NewInt(100_000_000),
		UnderlyingAmount: big.NewInt(1_000_000),
		RequestTime:      time.Now().Add(-time.Hour),
	}}

	var q redemption.QueueAnalytics
	decode(t, e.do(t, http.MethodGet, "/queue", ""), &q)
	// one request on each network
	assert.Len(t, q.Requests, 2)

	e.snaps.queue = &redemption.QueueAnalytics{}
	decode(t, e.do(t, http.MethodGet, "/queue", ""), &q)
	assert.Empty(t, q.Requests)
}

func TestPlanAndExecuteFlow(t *testing.T) {
	e := setup(t)
	e.chain.setBalance(1, usdcEth, 500_000_000)

	res := e.plan(t, wrapBody)
	require.NotNil(t, res.Plan)
	assert.Equal(t, types.OperationWrap, res.Plan.Operation)
	assert.Equal(t, types.FlowPlanned, res.Flow.Status)
	require.Len(t, res.Flow.Steps, 1)
	assert.Equal(t, types.StepDeposit, res.Flow.Steps[0].Kind)

	rec := e.do(t, http.MethodPost, "/flows/"+res.Flow.ID+"/execute", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.Eventually(t, func() bool {
		var got handlers.FlowResponse
		decode(t, e.do(t, http.MethodGet, "/flows/"+res.Flow.ID, ""), &got)
		return got.Flow.Status == types.FlowSucceeded
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, e.chain.submitted)
}

func TestPlanFlowValidation(t *testing.T) {
	e := setup(t)
	e.chain.setBalance(1, usdcEth, 500_000_000)

	tests := []struct {
		name  string
		body  string
		code  int
		kind  types.ErrorKind
		field string
	}{
		{"malformed", `{"fromChain":`, http.StatusBadRequest, "", ""},
		{"unknown chain", `{"fromChain":"sol","from":"USDC","toChain":"eth","to":"WBGL","amount":"1"}`, http.StatusBadRequest, "", "fromChain"},
		{"unknown token", `{"fromChain":"eth","from":"FOO","toChain":"eth","to":"WBGL","amount":"1"}`, http.StatusBadRequest, "", "from"},
		{"bad amount", `{"fromChain":"eth","from":"USDC","toChain":"eth","to":"WBGL","amount":"abc"}`, http.StatusBadRequest, types.KindInvalidAmount, ""},
		{"zero amount", `{"fromChain":"eth","from":"USDC","toChain":"eth","to":"WBGL","amount":"0"}`, http.StatusBadRequest, types.KindInvalidAmount, ""},
		{"no operation", `{"fromChain":"eth","from":"USDC","toChain":"bnb","to":"USDC","amount":"1"}`, http.StatusBadRequest, types.KindNoOperationForPair, ""},
		{"over balance", `{"fromChain":"eth","from":"USDC","toChain":"eth","to":"WBGL","amount":"501"}`, http.StatusBadRequest, types.KindInsufficientBalance, ""},
		{"bad recipient", `{"fromChain":"eth","from":"WBGL","toChain":"bnb","to":"WBGL","amount":"1","recipient":"bgl1q"}`, http.StatusBadRequest, "", "recipient"},
		{"bad strategy", `{"fromChain":"eth","from":"USDC","toChain":"eth","to":"WBGL","amount":"1","strategy":"max"}`, http.StatusBadRequest, "", "strategy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertError(t, e.do(t, http.MethodPost, "/flows", tt.body), tt.code, tt.kind, tt.field)
		})
	}
	assert.Empty(t, e.api.Flows.Flows())
}

func TestUnknownFlow(t *testing.T) {
	e := setup(t)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/flows/nope", "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodPost, "/flows/nope/execute", "").Code)
}

func TestAbandonFlow(t *testing.T) {
	e := setup(t)
	e.chain.setBalance(1, usdcEth, 500_000_000)
	res := e.plan(t, wrapBody)

	rec := e.do(t, http.MethodDelete, "/flows/"+res.Flow.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got handlers.FlowResponse
	decode(t, rec, &got)
	assert.Equal(t, types.FlowAbandoned, got.Flow.Status)

	assertError(t, e.do(t, http.MethodPost, "/flows/"+res.Flow.ID+"/execute", ""), http.StatusGone, types.KindFlowAbandoned, "")
	assert.Zero(t, e.chain.submitted)
}

func TestListFlows(t *testing.T) {
	e := setup(t)
	e.chain.setBalance(1, usdcEth, 500_000_000)
	live := e.plan(t, wrapBody)

	var records []types.FlowRecord
	decode(t, e.do(t, http.MethodGet, "/flows", ""), &records)
	require.Len(t, records, 1)
	assert.Equal(t, live.Flow.ID, records[0].ID)

	e.api.Archive = &fakeArchive{records: map[types.FlowStatus][]types.FlowRecord{
		types.FlowFailed: {{ID: "old", Status: types.FlowFailed}},
	}}
	decode(t, e.do(t, http.MethodGet, "/flows?status=failed", ""), &records)
	require.Len(t, records, 1)
	assert.Equal(t, "old", records[0].ID)

	e.api.Archive = &fakeArchive{down: true}
	assert.Equal(t, http.StatusInternalServerError, e.do(t, http.MethodGet, "/flows?status=failed", "").Code)
}
