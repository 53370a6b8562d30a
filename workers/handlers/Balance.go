package handlers

import (
	"net/http"

	"github.com/go-chi/chi"

	"gowrapportal/amount"
	"gowrapportal/types"
)

// Balance reads a token balance of ?account=, or of the connected account.
func (a *API) Balance(w http.ResponseWriter, r *http.Request) {
	chainID, ok := parseChain(chi.URLParam(r, "chain"))
	if !ok {
		responseBadRequest(w, "chain", "unknown chain")
		return
	}
	token, ok := a.Registry.Find(chainID, chi.URLParam(r, "token"))
	if !ok {
		responseBadRequest(w, "token", "unknown token")
		return
	}

	account := r.URL.Query().Get("account")
	connected := account == ""
	if connected {
		var err error
		if account, err = a.Wallet.CurrentAccount(r.Context()); err != nil {
			responseError(w, err)
			return
		}
	} else if !validAddress(account) {
		responseBadRequest(w, "account", "invalid address")
		return
	}

	res := &BalanceResponse{Token: token, Account: account}
	value, err := a.Chain.ReadBalance(r.Context(), token, account)
	if err != nil {
		cached, ok := a.Snapshots.Balance(account, chainID, token.Address)
		if !ok {
			log.Warn().Err(err).Int("chain", chainID).Str("token", token.Symbol).Msg("error reading balance")
			responseError(w, err)
			return
		}
		value, res.Cached = cached, true
	}
	res.Value = value
	res.Formatted = amount.Format(types.NewAmount(value, token.Decimals))
	responseJSON(w, res, http.StatusOK)
}
