// Package wallet connects the daemon to the user's signer: an EIP-1193
// style JSON-RPC wallet, or a local key for development networks.
package wallet

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"gowrapportal/types"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "wallet").Logger()
}

// EIP-1193 provider error codes
const (
	codeUserRejected   = 4001
	codeUnauthorized   = 4100
	codeUnknownChain   = 4902
	codeExecutionError = 3
)

func isRevert(message string) bool {
	return strings.Contains(strings.ToLower(message), "execution reverted")
}

// classify maps a wallet error code and message onto the error kinds the flows branch on.
func classify(code int, message string) *types.Error {
	switch {
	case code == codeUserRejected || code == codeUnauthorized:
		return types.NewError(types.KindApprovalRejected, "wallet: %s", message)
	case code == codeUnknownChain:
		return types.NewError(types.KindNetworkMismatch, "wallet: %s", message)
	case code == codeExecutionError || isRevert(message):
		return types.NewError(types.KindTransactionReverted, "wallet: %s", message)
	}
	return types.NewError(types.KindSubmissionFailed, "wallet error %d: %s", code, message)
}
