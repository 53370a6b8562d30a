// Package tokens builds the token descriptors for each configured network.
package tokens

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gowrapportal/config"
	"gowrapportal/types"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "tokens").Logger()
}

type Metadata struct {
	Decimals int
	Symbol   string
	Name     string
}

// MetadataReader is the part of the chain gateway the registry needs.
type MetadataReader interface {
	ReadTokenMetadata(ctx context.Context, token types.TokenDescriptor) (Metadata, error)
}

type Registry struct {
	mu       sync.RWMutex
	byChain  map[int][]types.TokenDescriptor
	chainIDs []int
}

func NewRegistry(networks []config.ChainConfig) *Registry {
	r := &Registry{byChain: make(map[int][]types.TokenDescriptor, len(networks))}
	for _, n := range networks {
		list := make([]types.TokenDescriptor, 0, len(n.Tokens))
		for _, t := range n.Tokens {
			list = append(list, types.TokenDescriptor{
				Address:     t.Address,
				Symbol:      t.Symbol,
				Name:        t.Name,
				Decimals:    t.Decimals,
				ChainID:     n.ChainID,
				CanWrap:     t.CanWrap && !t.Canonical,
				CanBridge:   t.CanBridge,
				CanRedeem:   t.CanRedeem && !t.Canonical,
				IsCanonical: t.Canonical,
			})
		}
		r.byChain[n.ChainID] = list
		r.chainIDs = append(r.chainIDs, n.ChainID)
	}
	return r
}

// ForNetwork returns the descriptors of the active network. The slice is a copy.
func (r *Registry) ForNetwork(chainID int) []types.TokenDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.byChain[chainID]
	res := make([]types.TokenDescriptor, len(list))
	copy(res, list)
	return res
}

// All returns every descriptor of every network, networks in config order.
func (r *Registry) All() []types.TokenDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []types.TokenDescriptor
	for _, id := range r.chainIDs {
		res = append(res, r.byChain[id]...)
	}
	return res
}

func (r *Registry) Chains() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]int, len(r.chainIDs))
	copy(res, r.chainIDs)
	return res
}

// Find looks a token up by address or, failing that, by symbol.
func (r *Registry) Find(chainID int, key string) (types.TokenDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range r.byChain[chainID] {
		if strings.EqualFold(t.Address, key) {
			return t, true
		}
	}
	for _, t := range r.byChain[chainID] {
		if strings.EqualFold(t.Symbol, key) {
			return t, true
		}
	}
	return types.TokenDescriptor{}, false
}

func (r *Registry) Canonical(chainID int) (types.TokenDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range r.byChain[chainID] {
		if t.IsCanonical {
			return t, true
		}
	}
	return types.TokenDescriptor{}, false
}

// Refresh checks configured metadata against the chain. On-chain decimals
// win, a canonical token reporting other than 8 decimals is kept as
// configured and logged.
func (r *Registry) Refresh(ctx context.Context, reader MetadataReader) {
	for _, chainID := range r.Chains() {
		for _, t := range r.ForNetwork(chainID) {
			meta, err := reader.ReadTokenMetadata(ctx, t)
			if err != nil {
				log.Warn().Err(err).Int("chain", chainID).Str("token", t.Symbol).Msg("Cannot read token metadata")
				continue
			}
			if meta.Decimals == t.Decimals {
				continue
			}
			if t.IsCanonical {
				log.Error().Int("chain", chainID).Str("token", t.Symbol).Int("decimals", meta.Decimals).Msg("Canonical token does not report 8 decimals")
				continue
			}
			log.Warn().Int("chain", chainID).Str("token", t.Symbol).Int("configured", t.Decimals).Int("onchain", meta.Decimals).Msg("Token decimals differ, using on-chain value")
			r.setDecimals(chainID, t.Address, meta.Decimals)
		}
	}
}

func (r *Registry) setDecimals(chainID int, address string, decimals int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.byChain[chainID]
	for i := range list {
		if strings.EqualFold(list[i].Address, address) {
			list[i].Decimals = decimals
		}
	}
}
