// Package redemption derives queue position, readiness and aggregate
// statistics for a user's redemption requests. Nothing here is stored:
// every value is a function of the request list, the fixed delay and now.
package redemption

import (
	"math/big"
	"sort"
	"time"

	"gowrapportal/types"
)

type State string

const (
	StatePending   State = "pending"
	StateReady     State = "ready"
	StateCompleted State = "completed"
)

type RequestView struct {
	Request   types.RedemptionRequest `json:"request"`
	State     State                   `json:"state"`
	IsReady   bool                    `json:"isReady"`
	Position  int                     `json:"position,omitempty"` // 0 once fulfilled
	Progress  float64                 `json:"progress"`
	Remaining time.Duration           `json:"remaining"`
	ReadyAt   time.Time               `json:"readyAt"`
}

type Bucket struct {
	Count          int      `json:"count"`
	CanonicalTotal *big.Int `json:"canonicalTotal"`
}

type QueueAnalytics struct {
	Requests  []RequestView `json:"requests"` // unfulfilled in queue order, then fulfilled
	Pending   Bucket        `json:"pending"`
	Ready     Bucket        `json:"ready"`
	Completed Bucket        `json:"completed"`

	// over fulfilled requests with a known fulfilment time only
	AverageWait  time.Duration `json:"averageWait"`
	LongestWait  time.Duration `json:"longestWait"`
	ShortestWait time.Duration `json:"shortestWait"`
	WaitSamples  int           `json:"waitSamples"`

	GeneratedAt time.Time `json:"generatedAt"`
}

// View returns the derived view of one request.
func (q QueueAnalytics) View(id uint64) (RequestView, bool) {
	for _, v := range q.Requests {
		if v.Request.ID == id {
			return v, true
		}
	}
	return RequestView{}, false
}

func IsReady(r types.RedemptionRequest, now time.Time, fixedDelay time.Duration) bool {
	return !r.Fulfilled && now.Sub(r.RequestTime) >= fixedDelay
}

// Progress is the elapsed share of the fixed delay, clamped to [0, 1].
func Progress(r types.RedemptionRequest, now time.Time, fixedDelay time.Duration) float64 {
	if r.Fulfilled || fixedDelay <= 0 {
		return 1
	}
	p := float64(now.Sub(r.RequestTime)) / float64(fixedDelay)
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

func Remaining(r types.RedemptionRequest, now time.Time, fixedDelay time.Duration) time.Duration {
	if r.Fulfilled {
		return 0
	}
	left := fixedDelay - now.Sub(r.RequestTime)
	if left < 0 {
		return 0
	}
	return left
}

// queueLess orders unfulfilled requests FIFO by request time, identical
// timestamps by ascending id.
func queueLess(a, b types.RedemptionRequest) bool {
	if !a.RequestTime.Equal(b.RequestTime) {
		return a.RequestTime.Before(b.RequestTime)
	}
	return a.ID < b.ID
}

// Analyze is safe to run on every poll tick, the input slice is not modified.
func Analyze(requests []types.RedemptionRequest, now time.Time, fixedDelay time.Duration) QueueAnalytics {
	res := QueueAnalytics{
		Requests:    make([]RequestView, 0, len(requests)),
		Pending:     Bucket{CanonicalTotal: new(big.Int)},
		Ready:       Bucket{CanonicalTotal: new(big.Int)},
		Completed:   Bucket{CanonicalTotal: new(big.Int)},
		GeneratedAt: now,
	}

	var open, done []types.RedemptionRequest
	for _, r := range requests {
		if r.Fulfilled {
			done = append(done, r)
		} else {
			open = append(open, r)
		}
	}
	sort.SliceStable(open, func(i, j int) bool { return queueLess(open[i], open[j]) })
	sort.SliceStable(done, func(i, j int) bool { return queueLess(done[i], done[j]) })

	for i, r := range open {
		v := RequestView{
			Request:   r,
			IsReady:   IsReady(r, now, fixedDelay),
			Position:  i + 1,
			Progress:  Progress(r, now, fixedDelay),
			Remaining: Remaining(r, now, fixedDelay),
			ReadyAt:   r.RequestTime.Add(fixedDelay),
		}
		if v.IsReady {
			v.State = StateReady
			add(&res.Ready, r)
		} else {
			v.State = StatePending
			add(&res.Pending, r)
		}
		res.Requests = append(res.Requests, v)
	}

	var total time.Duration
	for _, r := range done {
		res.Requests = append(res.Requests, RequestView{
			Request:  r,
			State:    StateCompleted,
			Progress: 1,
			ReadyAt:  r.RequestTime.Add(fixedDelay),
		})
		add(&res.Completed, r)

		if r.FulfilledAt.IsZero() {
			continue
		}
		wait := r.FulfilledAt.Sub(r.RequestTime)
		if res.WaitSamples == 0 || wait > res.LongestWait {
			res.LongestWait = wait
		}
		if res.WaitSamples == 0 || wait < res.ShortestWait {
			res.ShortestWait = wait
		}
		total += wait
		res.WaitSamples++
	}
	if res.WaitSamples > 0 {
		res.AverageWait = total / time.Duration(res.WaitSamples)
	}

	return res
}

func add(b *Bucket, r types.RedemptionRequest) {
	b.Count++
	if r.CanonicalAmount != nil {
		b.CanonicalTotal.Add(b.CanonicalTotal, r.CanonicalAmount)
	}
}
