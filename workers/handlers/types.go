package handlers

import (
	"math/big"

	"gowrapportal/orchestrator"
	"gowrapportal/types"
)

type APIResponse struct {
	Status  string `json:"status"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type APIStateResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Account string `json:"account,omitempty"`
	ChainID int    `json:"chainId,omitempty"`
	Chains  []int  `json:"chains"`
}

type BalanceResponse struct {
	Token     types.TokenDescriptor `json:"token"`
	Account   string                `json:"account"`
	Value     *big.Int              `json:"value"`
	Formatted string                `json:"formatted"`

	// served from the last refresh because the live read failed
	Cached bool `json:"cached,omitempty"`
}

// FlowRequest plans a flow. Chains are ids or short names (eth, op, bnb, arb),
// tokens are addresses or symbols and the amount is a decimal string.
type FlowRequest struct {
	FromChain string `json:"fromChain"`
	From      string `json:"from"`
	ToChain   string `json:"toChain"`
	To        string `json:"to"`
	Amount    string `json:"amount"`
	Recipient string `json:"recipient,omitempty"`
	Strategy  string `json:"strategy,omitempty"`
}

type FlowResponse struct {
	Flow     types.FlowRecord     `json:"flow"`
	Plan     *orchestrator.Plan   `json:"plan,omitempty"`
	Approval *types.ApprovalState `json:"approval,omitempty"` // last polled, wrap only
}
