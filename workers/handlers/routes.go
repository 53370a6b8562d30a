package handlers

import (
	"github.com/go-chi/chi"
)

// Routes mounts the API on r.
func (a *API) Routes(r chi.Router) {
	r.Get("/state", a.State)
	r.Get("/health", a.HealthCheck)
	r.Post("/network/{chain}", a.SwitchNetwork)

	r.Get("/tokens/{chain}", a.Tokens)
	r.Get("/balance/{chain}/{token}", a.Balance)
	r.Get("/approval", a.Approval)
	r.Get("/fees", a.Fees)
	r.Get("/queue", a.Queue)

	r.Get("/flows", a.ListFlows)
	r.Post("/flows", a.PlanFlow)
	r.Get("/flows/{id}", a.GetFlow)
	r.Delete("/flows/{id}", a.AbandonFlow)
	r.Post("/flows/{id}/execute", a.ExecuteFlow)
	r.Post("/flows/{id}/retry", a.RetryFlow)
}
