package handlers

import (
	"context"
	"math/big"
	"os"
	"time"

	"github.com/rs/zerolog"

	"gowrapportal/config"
	"gowrapportal/orchestrator"
	"gowrapportal/redemption"
	"gowrapportal/tokens"
	"gowrapportal/types"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "api").Logger()
}

// Snapshots is the state the pollers keep fresh.
type Snapshots interface {
	GasSamples(chainID int) []*big.Int
	Queue() (redemption.QueueAnalytics, bool)
	Approval(flowID string) (types.ApprovalState, bool)
	Balance(account string, chainID int, token string) (*big.Int, bool)
}

// Archive is the persistent session store, redis in production.
type Archive interface {
	Ping(ctx context.Context) error
	FindByStatus(ctx context.Context, status types.FlowStatus) ([]types.FlowRecord, error)
}

// API holds everything the handlers read from. Oracle and Archive are optional.
type API struct {
	Registry  *tokens.Registry
	Chain     orchestrator.Chain
	Wallet    orchestrator.Wallet
	Flows     *orchestrator.Orchestrator
	Snapshots Snapshots
	Policy    config.Policy
	Oracle    orchestrator.PriceOracle
	Archive   Archive

	// parent of background executions, which outlive their request
	BaseContext context.Context
}

func (a *API) baseContext() context.Context {
	if a.BaseContext != nil {
		return a.BaseContext
	}
	return context.Background()
}
