package main

import (
	"context"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"gowrapportal/EVMRPC"
	"gowrapportal/config"
	"gowrapportal/oracle"
	"gowrapportal/orchestrator"
	"gowrapportal/redis"
	"gowrapportal/tokens"
	"gowrapportal/types"
	"gowrapportal/wallet"
	"gowrapportal/workers"
	"gowrapportal/workers/handlers"
)

var log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
	With().Timestamp().Str("component", "main").Logger()

// sender is what both wallet kinds provide.
type sender interface {
	orchestrator.Wallet
	EVMRPC.Sender
}

func newWallet(cfg *config.Configuration) (sender, error) {
	if cfg.Wallet.RPCURL != "" {
		return wallet.NewRPCWallet(cfg.Wallet.RPCURL), nil
	}
	// this is for development, the key signs for every configured network
	log.Warn().Msg("Signing with a local private key")
	return wallet.NewKeyedWallet(cfg.Wallet.PrivateKey, cfg.Networks, cfg.Wallet.StartingChain)
}

func main() {
	log.Info().Msg("Starting wrap portal")

	config.Init()
	cfg := &config.Config
	policy := cfg.Policy

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := newWallet(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot set up wallet")
	}
	gateway := EVMRPC.NewGateway(cfg.Networks, w, policy.ReceiptPollInterval)

	registry := tokens.NewRegistry(cfg.Networks)
	registry.Refresh(ctx, gateway)

	state := workers.NewState(policy.GasHistory)
	opts := []orchestrator.Option{orchestrator.WithGasHistory(state.Gas)}

	var archive handlers.Archive
	var store *redis.Store
	if cfg.Server.UseRedis {
		// without persistence do not continue
		store = redis.NewStore(redis.NewPool(cfg.Server.RedisHost, cfg.Server.RedisPort), cfg.Server.SessionTTL)
		if err := store.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("Cannot connect to redis")
		}
		opts = append(opts, orchestrator.WithStore(store))
		archive = store
	}

	var prices orchestrator.PriceOracle
	if len(cfg.NativeUSD) > 0 {
		static, err := oracle.NewStatic(cfg.NativeUSD)
		if err != nil {
			log.Fatal().Err(err).Msg("Bad native_usd prices")
		}
		prices = static
		opts = append(opts, orchestrator.WithOracle(static))
	}

	flows := orchestrator.New(gateway, w, orchestrator.Settings{
		Approval:            policy.ApprovalPolicy(),
		Fees:                policy.FeePolicy(),
		MinWrap:             big.NewInt(policy.MinWrapUnits),
		MinBridge:           big.NewInt(policy.MinBridgeUnits),
		MinUnwrap:           big.NewInt(policy.MinUnwrapUnits),
		RedemptionDelay:     policy.RedemptionDelay,
		ReceiptTimeout:      policy.ReceiptTimeout,
		DestinationTimeout:  policy.DestinationTimeout,
		ReceiptPollInterval: policy.ReceiptPollInterval,
	}, opts...)

	// redemptions in their security delay survive restarts
	if store != nil {
		waiting, err := store.FindByStatus(ctx, types.FlowWaiting)
		if err != nil {
			log.Error().Err(err).Msg("Cannot list waiting flows")
		}
		for _, rec := range waiting {
			if _, err := flows.Restore(ctx, rec.ID); err != nil {
				log.Warn().Err(err).Str("flow", rec.ID).Msg("Cannot restore flow")
			}
		}
		log.Info().Int("count", len(waiting)).Msg("Restored waiting flows")
	}

	pollers := &workers.Pollers{
		Chain:    gateway,
		Wallet:   w,
		Registry: registry,
		Flows:    flows,
		State:    state,
		Policy:   policy,
	}
	api := &handlers.API{
		Registry:    registry,
		Chain:       gateway,
		Wallet:      w,
		Flows:       flows,
		Snapshots:   state,
		Policy:      policy,
		Oracle:      prices,
		Archive:     archive,
		BaseContext: ctx,
	}

	// worker threads:
	// * gas price, allowance, redemption queue and balance pollers
	// * static app service and API serving HTTP server
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pollers.Run(ctx) })
	g.Go(func() error { return workers.Worker_HTTP(ctx, cfg.Server.Listen, api) })

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("Stopped")
	}
	log.Info().Msg("Stopped")
}
