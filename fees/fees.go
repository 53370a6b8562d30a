// Package fees estimates the cost of an operation and classifies the
// live gas price into a tier, a trend and an execution recommendation.
package fees

import (
	"math/big"

	"github.com/shopspring/decimal"

	"gowrapportal/amount"
	"gowrapportal/types"
)

type GasTier string

const (
	TierLow     GasTier = "low"
	TierNormal  GasTier = "normal"
	TierHigh    GasTier = "high"
	TierExtreme GasTier = "extreme"
)

type GasTrend string

const (
	TrendRising  GasTrend = "rising"
	TrendFalling GasTrend = "falling"
	TrendStable  GasTrend = "stable"
)

type Recommendation string

const (
	RecommendWait             Recommendation = "wait"
	RecommendAlternativeRoute Recommendation = "alternativeRoute"
	RecommendExecuteNow       Recommendation = "executeNow"
	RecommendExecute          Recommendation = "execute"
)

// native assets of every supported network have 18 decimals
const nativeDecimals = 18

type Policy struct {
	ApprovalGas uint64
	WrapGas     uint64
	BridgeGas   uint64
	UnwrapGas   uint64

	// Protocol fee on wraps, in basis points of the deposited amount.
	ProtocolFeeBps int64
	// Native amount (wei) charged per bridge transfer.
	BridgeMinFee *big.Int

	// Tier boundaries in wei per gas: below NormalFrom is low, from
	// ExtremeFrom on is extreme.
	NormalFrom  *big.Int
	HighFrom    *big.Int
	ExtremeFrom *big.Int

	StabilityBandPercent int64
}

func DefaultPolicy() Policy {
	return Policy{
		ApprovalGas:          46_000,
		WrapGas:              120_000,
		BridgeGas:            200_000,
		UnwrapGas:            150_000,
		ProtocolFeeBps:       10,
		BridgeMinFee:         big.NewInt(1_000_000_000_000_000), // 0.001 native
		NormalFrom:           big.NewInt(20_000_000_000),
		HighFrom:             big.NewInt(50_000_000_000),
		ExtremeFrom:          big.NewInt(100_000_000_000),
		StabilityBandPercent: 10,
	}
}

// GasUnits returns the baseline gas of the operation's transaction.
func (p Policy) GasUnits(op types.OperationKind) uint64 {
	switch op {
	case types.OperationWrap:
		return p.WrapGas
	case types.OperationBridge:
		return p.BridgeGas
	case types.OperationUnwrap:
		return p.UnwrapGas
	}
	return 0
}

type Input struct {
	Operation     types.OperationKind
	Amount        types.Amount // in the source token's precision
	GasPrice      *big.Int
	NeedsApproval bool
	History       []*big.Int       // recent gas price samples, oldest first
	NativeUSD     *decimal.Decimal // nil when no price is available
}

type FeeBreakdown struct {
	Operation      types.OperationKind `json:"operation"`
	GasUnits       uint64              `json:"gasUnits"`
	GasPrice       *big.Int            `json:"gasPrice"`
	NetworkFee     *big.Int            `json:"networkFee"`  // wei
	ProtocolFee    types.Amount        `json:"protocolFee"` // source token units
	BridgeFee      *big.Int            `json:"bridgeFee"`   // wei
	TotalNative    *big.Int            `json:"totalNative"`
	NetAmount      types.Amount        `json:"netAmount"` // canonical amount after fees, wrap and bridge only
	Tier           GasTier             `json:"tier"`
	Trend          GasTrend            `json:"trend"`
	Recommendation Recommendation      `json:"recommendation"`

	NetworkFeeUSD *decimal.Decimal `json:"networkFeeUsd,omitempty"`
	BridgeFeeUSD  *decimal.Decimal `json:"bridgeFeeUsd,omitempty"`
	TotalUSD      *decimal.Decimal `json:"totalUsd,omitempty"`
}

func Estimate(p Policy, in Input) (FeeBreakdown, error) {
	if in.Operation != types.OperationWrap && in.Operation != types.OperationBridge && in.Operation != types.OperationUnwrap {
		return FeeBreakdown{}, types.NewError(types.KindNoOperationForPair, "no fee schedule for operation %q", in.Operation)
	}
	if in.Amount.Sign() < 0 {
		return FeeBreakdown{}, types.NewError(types.KindInvalidAmount, "negative amount")
	}

	gasPrice := new(big.Int)
	if in.GasPrice != nil {
		gasPrice.Set(in.GasPrice)
	}

	units := p.GasUnits(in.Operation)
	if in.NeedsApproval {
		units += p.ApprovalGas
	}
	networkFee := new(big.Int).Mul(new(big.Int).SetUint64(units), gasPrice)

	res := FeeBreakdown{
		Operation:   in.Operation,
		GasUnits:    units,
		GasPrice:    gasPrice,
		NetworkFee:  networkFee,
		ProtocolFee: types.NewAmount(nil, in.Amount.Decimals),
		BridgeFee:   new(big.Int),
		Tier:        Tier(p, gasPrice),
		Trend:       Trend(p, in.History),
	}
	res.Recommendation = Recommend(res.Tier, res.Trend)

	switch in.Operation {
	case types.OperationWrap:
		fee := ProtocolFee(p, in.Amount.Int())
		res.ProtocolFee = types.Amount{Value: fee, Decimals: in.Amount.Decimals}
		net, err := amount.ToCanonical(new(big.Int).Sub(in.Amount.Int(), fee), in.Amount.Decimals)
		if err != nil {
			return FeeBreakdown{}, err
		}
		res.NetAmount = net
	case types.OperationBridge:
		if p.BridgeMinFee != nil {
			res.BridgeFee.Set(p.BridgeMinFee)
		}
		net, err := amount.Canonical(in.Amount)
		if err != nil {
			return FeeBreakdown{}, err
		}
		res.NetAmount = net
	}

	res.TotalNative = new(big.Int).Add(res.NetworkFee, res.BridgeFee)

	if in.NativeUSD != nil {
		res.NetworkFeeUSD = toUSD(res.NetworkFee, *in.NativeUSD)
		res.BridgeFeeUSD = toUSD(res.BridgeFee, *in.NativeUSD)
		res.TotalUSD = toUSD(res.TotalNative, *in.NativeUSD)
	}

	return res, nil
}

// ProtocolFee is value * bps / 10000, rounded down.
func ProtocolFee(p Policy, value *big.Int) *big.Int {
	fee := new(big.Int).Mul(value, big.NewInt(p.ProtocolFeeBps))
	return fee.Quo(fee, big.NewInt(10_000))
}

func Tier(p Policy, gasPrice *big.Int) GasTier {
	switch {
	case p.ExtremeFrom != nil && gasPrice.Cmp(p.ExtremeFrom) >= 0:
		return TierExtreme
	case p.HighFrom != nil && gasPrice.Cmp(p.HighFrom) >= 0:
		return TierHigh
	case p.NormalFrom != nil && gasPrice.Cmp(p.NormalFrom) >= 0:
		return TierNormal
	}
	return TierLow
}

// Trend compares the average of the two latest samples with the average of
// the two before them. Less than four samples is stable.
func Trend(p Policy, history []*big.Int) GasTrend {
	n := len(history)
	if n < 4 {
		return TrendStable
	}
	// both sides are sums of two samples, so the averages' halves cancel out
	recent := new(big.Int).Add(history[n-1], history[n-2])
	previous := new(big.Int).Add(history[n-3], history[n-4])

	scaledRecent := new(big.Int).Mul(recent, big.NewInt(100))
	upper := new(big.Int).Mul(previous, big.NewInt(100+p.StabilityBandPercent))
	lower := new(big.Int).Mul(previous, big.NewInt(100-p.StabilityBandPercent))

	switch {
	case scaledRecent.Cmp(upper) > 0:
		return TrendRising
	case scaledRecent.Cmp(lower) < 0:
		return TrendFalling
	}
	return TrendStable
}

func Recommend(tier GasTier, trend GasTrend) Recommendation {
	switch {
	case tier == TierExtreme:
		return RecommendWait
	case tier == TierHigh && trend == TrendRising:
		return RecommendAlternativeRoute
	case tier == TierLow, tier == TierNormal && trend == TrendFalling:
		return RecommendExecuteNow
	}
	return RecommendExecute
}

func toUSD(wei *big.Int, price decimal.Decimal) *decimal.Decimal {
	v := decimal.NewFromBigInt(wei, -nativeDecimals).Mul(price)
	return &v
}
