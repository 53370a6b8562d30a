package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	ethav "github.com/KOREAN139/ethereum-address-validator"
	"github.com/ethereum/go-ethereum/common"

	"gowrapportal/types"
)

func responseJSON(w http.ResponseWriter, data interface{}, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func responseBadRequest(w http.ResponseWriter, field, message string) {
	responseJSON(w, &APIResponse{
		Status:  "error",
		Field:   field,
		Message: message,
	}, http.StatusBadRequest)
}

func httpStatus(kind types.ErrorKind) int {
	switch kind {
	case types.KindInvalidAmount, types.KindUnsupportedPrecision, types.KindBelowMinimumAmount,
		types.KindNoOperationForPair, types.KindInvalidAddress, types.KindInsufficientBalance,
		types.KindInsufficientAllowance:
		return http.StatusBadRequest
	case types.KindNetworkMismatch, types.KindFlowBusy, types.KindApprovalRejected:
		return http.StatusConflict
	case types.KindFlowAbandoned:
		return http.StatusGone
	case types.KindTransactionReverted, types.KindSubmissionFailed:
		return http.StatusBadGateway
	case types.KindReceiptTimeout, types.KindDestinationConfirmationTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// responseError keeps the error kind so callers can branch on it.
func responseError(w http.ResponseWriter, err error) {
	e := types.AsError(err)
	responseJSON(w, &APIResponse{
		Status:  "error",
		Kind:    string(e.Kind),
		Message: e.Error(),
	}, httpStatus(e.Kind))
}

var chainNames = map[string]int{
	"eth": 1,
	"op":  10,
	"bnb": 56,
	"arb": 42161,
}

// parseChain accepts a chain id or one of the short names.
func parseChain(s string) (int, bool) {
	if id, ok := chainNames[strings.ToLower(s)]; ok {
		return id, true
	}
	id, err := strconv.Atoi(s)
	return id, err == nil && id > 0
}

func validAddress(addr string) bool {
	return common.IsHexAddress(addr) && ethav.Validate(common.HexToAddress(addr).Hex()) == nil
}
