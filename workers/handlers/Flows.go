package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"

	"github.com/go-chi/chi"
	"github.com/pkg/errors"

	"gowrapportal/amount"
	"gowrapportal/orchestrator"
	"gowrapportal/types"
)

func (a *API) lookup(w http.ResponseWriter, r *http.Request) (*orchestrator.Flow, bool) {
	f, err := a.Flows.Restore(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, orchestrator.ErrFlowNotFound) {
			responseJSON(w, &APIResponse{
				Status:  "error",
				Message: "flow not found",
			}, http.StatusNotFound)
			return nil, false
		}
		responseError(w, err)
		return nil, false
	}
	return f, true
}

func (a *API) flowResponse(f *orchestrator.Flow, withPlan bool) *FlowResponse {
	res := &FlowResponse{Flow: f.Record()}
	if withPlan {
		plan := f.Plan()
		res.Plan = &plan
	}
	if st, ok := a.Snapshots.Approval(f.ID()); ok {
		res.Approval = &st
	}
	return res
}

// PlanFlow validates a transfer and returns the flow with its steps, nothing
// is submitted yet.
func (a *API) PlanFlow(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		responseBadRequest(w, "", "error reading request")
		return
	}
	var req FlowRequest
	if err := json.Unmarshal(body, &req); err != nil {
		responseBadRequest(w, "", "error parsing request")
		return
	}

	fromChain, ok := parseChain(req.FromChain)
	if !ok {
		responseBadRequest(w, "fromChain", "unknown chain")
		return
	}
	toChain, ok := parseChain(req.ToChain)
	if !ok {
		responseBadRequest(w, "toChain", "unknown chain")
		return
	}
	from, ok := a.Registry.Find(fromChain, req.From)
	if !ok {
		responseBadRequest(w, "from", "unknown token")
		return
	}
	to, ok := a.Registry.Find(toChain, req.To)
	if !ok {
		responseBadRequest(w, "to", "unknown token")
		return
	}
	value, err := amount.Parse(req.Amount, from.Decimals)
	if err != nil {
		responseError(w, err)
		return
	}
	if req.Recipient != "" && !validAddress(req.Recipient) {
		responseBadRequest(w, "recipient", "invalid address")
		return
	}
	strategy := types.ApprovalStrategy(req.Strategy)
	switch strategy {
	case "", types.StrategyExact, types.StrategyOptimized, types.StrategyUnlimited:
	default:
		responseBadRequest(w, "strategy", "unknown approval strategy")
		return
	}

	f, err := a.Flows.Plan(r.Context(), orchestrator.Request{
		From:      from,
		To:        to,
		Amount:    value,
		Recipient: req.Recipient,
		Strategy:  strategy,
	})
	if err != nil {
		responseError(w, err)
		return
	}
	responseJSON(w, a.flowResponse(f, true), http.StatusCreated)
}

func (a *API) ExecuteFlow(w http.ResponseWriter, r *http.Request) {
	a.startFlow(w, r, false)
}

func (a *API) RetryFlow(w http.ResponseWriter, r *http.Request) {
	a.startFlow(w, r, true)
}

// startFlow runs the flow in the background, the client polls GET /flows/{id}.
func (a *API) startFlow(w http.ResponseWriter, r *http.Request, retry bool) {
	f, ok := a.lookup(w, r)
	if !ok {
		return
	}
	err := f.Start(a.baseContext(), retry, func(ref string, err error) {
		if err != nil {
			log.Warn().Err(err).Str("flow", f.ID()).Msg("flow stopped")
			return
		}
		log.Info().Str("flow", f.ID()).Str("tx", ref).Msg("flow finished")
	})
	if err != nil {
		responseError(w, err)
		return
	}
	responseJSON(w, a.flowResponse(f, false), http.StatusAccepted)
}

func (a *API) GetFlow(w http.ResponseWriter, r *http.Request) {
	f, ok := a.lookup(w, r)
	if !ok {
		return
	}
	responseJSON(w, a.flowResponse(f, true), http.StatusOK)
}

// AbandonFlow stops a flow. Transactions already sent are not recalled.
func (a *API) AbandonFlow(w http.ResponseWriter, r *http.Request) {
	f, ok := a.lookup(w, r)
	if !ok {
		return
	}
	f.Abandon()
	responseJSON(w, a.flowResponse(f, false), http.StatusOK)
}

// ListFlows lists live flows, newest first. With ?status= and a session
// store, checkpointed flows of that status are listed too.
func (a *API) ListFlows(w http.ResponseWriter, r *http.Request) {
	status := types.FlowStatus(r.URL.Query().Get("status"))

	seen := make(map[string]bool)
	records := []types.FlowRecord{}
	for _, f := range a.Flows.Flows() {
		rec := f.Record()
		if status != "" && rec.Status != status {
			continue
		}
		seen[rec.ID] = true
		records = append(records, rec)
	}

	if status != "" && a.Archive != nil {
		stored, err := a.Archive.FindByStatus(r.Context(), status)
		if err != nil {
			log.Error().Err(err).Str("status", string(status)).Msg("error listing flows")
			responseJSON(w, &APIResponse{
				Status:  "error",
				Message: "error listing flows",
			}, http.StatusInternalServerError)
			return
		}
		for _, rec := range stored {
			if !seen[rec.ID] {
				records = append(records, rec)
			}
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].TsCreated > records[j].TsCreated
	})
	responseJSON(w, records, http.StatusOK)
}
