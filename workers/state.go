package workers

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"gowrapportal/fees"
	"gowrapportal/redemption"
	"gowrapportal/types"
)

// Snapshot holds the last polled value, readers always get the newest one.
type Snapshot[T any] struct {
	mu      sync.RWMutex
	value   T
	updated time.Time
	set     bool
}

func (s *Snapshot[T]) Set(v T, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value, s.updated, s.set = v, at, true
}

// Get returns the value, when it was polled and whether it ever was.
func (s *Snapshot[T]) Get() (T, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value, s.updated, s.set
}

// GasBook keeps one gas price window per network.
type GasBook struct {
	mu       sync.RWMutex
	size     int
	trackers map[int]*fees.GasTracker
}

func NewGasBook(size int) *GasBook {
	return &GasBook{size: size, trackers: make(map[int]*fees.GasTracker)}
}

func (b *GasBook) tracker(chainID int) *fees.GasTracker {
	b.mu.RLock()
	t, ok := b.trackers[chainID]
	b.mu.RUnlock()
	if ok {
		return t
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok = b.trackers[chainID]; !ok {
		t = fees.NewGasTracker(b.size)
		b.trackers[chainID] = t
	}
	return t
}

func (b *GasBook) Add(chainID int, price *big.Int) {
	b.tracker(chainID).Add(price)
}

func (b *GasBook) Samples(chainID int) []*big.Int {
	return b.tracker(chainID).Samples()
}

func (b *GasBook) Latest(chainID int) *big.Int {
	return b.tracker(chainID).Latest()
}

func balanceKey(account string, chainID int, token string) string {
	return fmt.Sprintf("%s/%d/%s", strings.ToLower(account), chainID, strings.ToLower(token))
}

// State is everything the pollers publish for the HTTP side.
type State struct {
	Gas *GasBook

	queue     Snapshot[redemption.QueueAnalytics]
	requests  Snapshot[map[int][]types.RedemptionRequest]
	approvals Snapshot[map[string]types.ApprovalState]
	balances  Snapshot[map[string]*big.Int]
}

func NewState(gasHistory int) *State {
	return &State{Gas: NewGasBook(gasHistory)}
}

func (s *State) GasSamples(chainID int) []*big.Int {
	return s.Gas.Samples(chainID)
}

func (s *State) Queue() (redemption.QueueAnalytics, bool) {
	q, _, ok := s.queue.Get()
	return q, ok
}

// Approval returns the polled approval state of a wrap flow.
func (s *State) Approval(flowID string) (types.ApprovalState, bool) {
	m, _, _ := s.approvals.Get()
	st, ok := m[flowID]
	return st, ok
}

// Balance returns the last refreshed balance of account.
func (s *State) Balance(account string, chainID int, token string) (*big.Int, bool) {
	m, _, _ := s.balances.Get()
	b, ok := m[balanceKey(account, chainID, token)]
	if !ok {
		return nil, false
	}
	return new(big.Int).Set(b), true
}

// mergeBalances replaces the balances of the given keys and keeps the rest.
func (s *State) mergeBalances(update map[string]*big.Int, at time.Time) {
	prev, _, _ := s.balances.Get()
	next := make(map[string]*big.Int, len(prev)+len(update))
	for k, v := range prev {
		next[k] = v
	}
	for k, v := range update {
		next[k] = v
	}
	s.balances.Set(next, at)
}
