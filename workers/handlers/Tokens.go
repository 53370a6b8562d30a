package handlers

import (
	"net/http"

	"github.com/go-chi/chi"

	"gowrapportal/operation"
)

// Tokens lists the tokens of a chain. With ?from=<token> it lists only the
// tokens, on any chain, that token can be moved to.
func (a *API) Tokens(w http.ResponseWriter, r *http.Request) {
	chainID, ok := parseChain(chi.URLParam(r, "chain"))
	if !ok {
		responseBadRequest(w, "chain", "unknown chain")
		return
	}

	key := r.URL.Query().Get("from")
	if key == "" {
		responseJSON(w, a.Registry.ForNetwork(chainID), http.StatusOK)
		return
	}

	from, ok := a.Registry.Find(chainID, key)
	if !ok {
		responseBadRequest(w, "from", "unknown token")
		return
	}
	responseJSON(w, operation.Destinations(from, a.Registry.All()), http.StatusOK)
}
