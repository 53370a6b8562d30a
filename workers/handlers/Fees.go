package handlers

import (
	"net/http"

	"gowrapportal/amount"
	"gowrapportal/approval"
	"gowrapportal/fees"
	"gowrapportal/operation"
	"gowrapportal/types"
)

// Fees estimates the cost of moving ?amount= from ?from_chain=&from= to ?to_chain=&to=.
func (a *API) Fees(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fromChain, ok := parseChain(q.Get("from_chain"))
	if !ok {
		responseBadRequest(w, "from_chain", "unknown chain")
		return
	}
	toChain, ok := parseChain(q.Get("to_chain"))
	if !ok {
		responseBadRequest(w, "to_chain", "unknown chain")
		return
	}
	from, ok := a.Registry.Find(fromChain, q.Get("from"))
	if !ok {
		responseBadRequest(w, "from", "unknown token")
		return
	}
	to, ok := a.Registry.Find(toChain, q.Get("to"))
	if !ok {
		responseBadRequest(w, "to", "unknown token")
		return
	}
	value, err := amount.Parse(q.Get("amount"), from.Decimals)
	if err != nil {
		responseError(w, err)
		return
	}

	op := operation.Classify(from, to)
	if op == types.OperationInvalid {
		responseError(w, types.NewError(types.KindNoOperationForPair, "%s on %d can not become %s on %d", from.Symbol, from.ChainID, to.Symbol, to.ChainID))
		return
	}

	gasPrice, err := a.gasPrice(r.Context(), fromChain)
	if err != nil {
		responseError(w, err)
		return
	}

	in := fees.Input{
		Operation: op,
		Amount:    value,
		GasPrice:  gasPrice,
		History:   a.Snapshots.GasSamples(fromChain),
	}
	if op == types.OperationWrap {
		in.NeedsApproval = a.needsApproval(r, from, value)
	}
	if a.Oracle != nil {
		if price, err := a.Oracle.NativeUSD(r.Context(), fromChain); err == nil {
			in.NativeUSD = &price
		}
	}

	breakdown, err := fees.Estimate(a.Policy.FeePolicy(), in)
	if err != nil {
		responseError(w, err)
		return
	}
	responseJSON(w, breakdown, http.StatusOK)
}

// needsApproval assumes an approval whenever the allowance can not be read.
func (a *API) needsApproval(r *http.Request, token types.TokenDescriptor, value types.Amount) bool {
	account, err := a.Wallet.CurrentAccount(r.Context())
	if err != nil {
		return true
	}
	spender, err := a.Chain.Portal(token.ChainID)
	if err != nil {
		return true
	}
	allowance, err := a.Chain.ReadAllowance(r.Context(), token, account, spender)
	if err != nil {
		return true
	}
	required, err := approval.Required(types.NewAmount(allowance, token.Decimals), value)
	return err != nil || required
}
