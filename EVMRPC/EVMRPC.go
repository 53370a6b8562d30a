// Package EVMRPC reads from and submits to the EVM networks over their
// public RPC endpoints, failing over along each network's RPC list.
package EVMRPC

import (
	"context"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "evmrpc").Logger()
}

// WithClient runs f against the endpoints of rpcList in order and returns
// the first successful result, or the last error.
func WithClient[T any](ctx context.Context, rpcList []string, f func(client *ethclient.Client) (T, error)) (res T, err error) {
	if len(rpcList) == 0 {
		err = errors.New("no RPC endpoints configured")
		return
	}

	var client *ethclient.Client
	for _, url := range rpcList {
		client, err = ethclient.DialContext(ctx, url)
		if err != nil {
			log.Warn().Err(err).Str("url", url).Msg("error connecting")
			continue
		}

		res, err = f(client)
		client.Close()
		if err == nil || ctx.Err() != nil {
			return
		}
		log.Debug().Err(err).Str("url", url).Msg("call failed, trying next endpoint")
	}
	return
}
