// Package oracle provides native token prices for USD fee figures.
package oracle

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var ErrNoPrice = errors.New("price unavailable")

// Static serves fixed prices per chain, for local use and tests.
type Static struct {
	mu     sync.RWMutex
	prices map[int]decimal.Decimal
}

func NewStatic(prices map[int]string) (*Static, error) {
	s := &Static{prices: make(map[int]decimal.Decimal, len(prices))}
	for chainID, text := range prices {
		price, err := decimal.NewFromString(text)
		if err != nil {
			return nil, errors.Wrapf(err, "price for chain %d", chainID)
		}
		if !price.IsPositive() {
			return nil, errors.Errorf("price for chain %d must be positive", chainID)
		}
		s.prices[chainID] = price
	}
	return s, nil
}

func (s *Static) Set(chainID int, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[chainID] = price
}

func (s *Static) NativeUSD(_ context.Context, chainID int) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	price, ok := s.prices[chainID]
	if !ok {
		return decimal.Zero, ErrNoPrice
	}
	return price, nil
}
