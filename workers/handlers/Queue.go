package handlers

import (
	"net/http"
	"time"

	"gowrapportal/redemption"
	"gowrapportal/types"
)

// Queue returns the connected account's redemption queue analytics. Until the
// poller has run once the queue is read live.
func (a *API) Queue(w http.ResponseWriter, r *http.Request) {
	if q, ok := a.Snapshots.Queue(); ok {
		responseJSON(w, q, http.StatusOK)
		return
	}

	account, err := a.Wallet.CurrentAccount(r.Context())
	if err != nil {
		responseError(w, err)
		return
	}
	var all []types.RedemptionRequest
	for _, chainID := range a.Registry.Chains() {
		if _, ok := a.Registry.Canonical(chainID); !ok {
			continue
		}
		requests, err := a.Chain.ReadRedemptionRequests(r.Context(), chainID, account)
		if err != nil {
			log.Warn().Err(err).Int("chain", chainID).Msg("error reading redemption requests")
			responseError(w, err)
			return
		}
		all = append(all, requests...)
	}
	responseJSON(w, redemption.Analyze(all, time.Now(), a.Policy.RedemptionDelay), http.StatusOK)
}
