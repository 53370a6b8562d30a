package handlers

import (
	"context"
	"math/big"
	"net/http"

	"gowrapportal/amount"
	"gowrapportal/approval"
	"gowrapportal/types"
)

// Approval evaluates the allowance the portal holds for ?chain=&token=&amount=.
func (a *API) Approval(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	chainID, ok := parseChain(q.Get("chain"))
	if !ok {
		responseBadRequest(w, "chain", "unknown chain")
		return
	}
	token, ok := a.Registry.Find(chainID, q.Get("token"))
	if !ok {
		responseBadRequest(w, "token", "unknown token")
		return
	}
	required, err := amount.Parse(q.Get("amount"), token.Decimals)
	if err != nil {
		responseError(w, err)
		return
	}

	account, err := a.Wallet.CurrentAccount(r.Context())
	if err != nil {
		responseError(w, err)
		return
	}
	spender, err := a.Chain.Portal(chainID)
	if err != nil {
		responseError(w, err)
		return
	}
	allowance, err := a.Chain.ReadAllowance(r.Context(), token, account, spender)
	if err != nil {
		responseError(w, err)
		return
	}
	gasPrice, err := a.gasPrice(r.Context(), chainID)
	if err != nil {
		responseError(w, err)
		return
	}

	state, err := approval.Evaluate(a.Policy.ApprovalPolicy(), types.NewAmount(allowance, token.Decimals), required, gasPrice)
	if err != nil {
		responseError(w, err)
		return
	}
	responseJSON(w, state, http.StatusOK)
}

// gasPrice prefers the latest polled sample over a live read.
func (a *API) gasPrice(ctx context.Context, chainID int) (*big.Int, error) {
	if samples := a.Snapshots.GasSamples(chainID); len(samples) > 0 {
		return samples[len(samples)-1], nil
	}
	return a.Chain.ReadGasPrice(ctx, chainID)
}
