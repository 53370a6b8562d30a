package handlers

import (
	"net/http"
)

func (a *API) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if a.Archive != nil {
		if err := a.Archive.Ping(r.Context()); err != nil {
			log.Error().Err(err).Msg("session store unreachable")
			responseJSON(w, &APIResponse{
				Status:  "error",
				Message: "session store unreachable",
			}, http.StatusServiceUnavailable)
			return
		}
	}
	responseJSON(w, &APIResponse{
		Status: "ok",
	}, http.StatusOK)
}
