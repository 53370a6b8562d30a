package handlers

import (
	"net/http"
)

// State reports the connected account and network.
func (a *API) State(w http.ResponseWriter, r *http.Request) {
	res := &APIStateResponse{
		Status: "ok",
		Chains: a.Registry.Chains(),
	}
	account, err := a.Wallet.CurrentAccount(r.Context())
	if err != nil {
		res.Status = "disconnected"
		res.Message = err.Error()
		responseJSON(w, res, http.StatusOK)
		return
	}
	res.Account = account
	if res.ChainID, err = a.Wallet.CurrentNetwork(r.Context()); err != nil {
		res.Message = err.Error()
	}
	responseJSON(w, res, http.StatusOK)
}
