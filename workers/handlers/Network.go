package handlers

import (
	"net/http"

	"github.com/go-chi/chi"
)

// SwitchNetwork asks the wallet to move to another chain.
func (a *API) SwitchNetwork(w http.ResponseWriter, r *http.Request) {
	chainID, ok := parseChain(chi.URLParam(r, "chain"))
	if !ok {
		responseBadRequest(w, "chain", "unknown chain")
		return
	}
	if err := a.Wallet.RequestNetworkSwitch(r.Context(), chainID); err != nil {
		responseError(w, err)
		return
	}
	responseJSON(w, &APIResponse{
		Status: "ok",
	}, http.StatusOK)
}
