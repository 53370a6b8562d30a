// Package approval derives whether an ERC-20 approval is needed and which
// grant strategies are on offer. Granting itself is done by the orchestrator.
package approval

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"

	"gowrapportal/amount"
	"gowrapportal/types"
)

// Policy holds the product constants behind the recommendation.
type Policy struct {
	// Optimized grants this percentage of the required amount.
	OptimizedPercent int64
	// Above this canonical amount the exact grant is recommended.
	LargeAmountThreshold *big.Int
	// Above this gas price (wei) the unlimited grant is recommended.
	HighGasThreshold *big.Int
	// Gas units of one approve call.
	ApprovalGas uint64
}

func DefaultPolicy() Policy {
	return Policy{
		OptimizedPercent:     150,
		LargeAmountThreshold: new(big.Int).Mul(big.NewInt(100_000), big.NewInt(1e8)),
		HighGasThreshold:     big.NewInt(50_000_000_000),
		ApprovalGas:          46_000,
	}
}

// Required reports whether allowance does not cover required. A zero
// required amount never needs an approval.
func Required(allowance, required types.Amount) (bool, error) {
	if required.IsZero() {
		return false, nil
	}
	cmp, err := amount.Compare(allowance, required)
	if err != nil {
		return false, err
	}
	return cmp < 0, nil
}

// Evaluate builds the approval state for one allowance / gas price
// observation. The options are ranked with the recommended one first.
// A missing required value counts as zero, as in Required.
func Evaluate(p Policy, allowance, required types.Amount, gasPrice *big.Int) (types.ApprovalState, error) {
	required = types.NewAmount(required.Value, required.Decimals)
	isRequired, err := Required(allowance, required)
	if err != nil {
		return types.ApprovalState{}, err
	}

	recommended, err := Recommend(p, required, gasPrice)
	if err != nil {
		return types.ApprovalState{}, err
	}

	gasCost := new(big.Int)
	if gasPrice != nil {
		gasCost.Mul(new(big.Int).SetUint64(p.ApprovalGas), gasPrice)
	}

	optimizedRisk := types.RiskLow
	if p.OptimizedPercent > 200 {
		optimizedRisk = types.RiskMedium
	}

	options := []types.ApprovalOption{
		{
			Strategy: types.StrategyExact,
			Amount:   types.NewAmount(required.Value, required.Decimals),
			Risk:     types.RiskLow,
		},
		{
			Strategy: types.StrategyOptimized,
			Amount:   types.Amount{Value: optimizedAmount(p, required.Value), Decimals: required.Decimals},
			Risk:     optimizedRisk,
		},
		{
			Strategy: types.StrategyUnlimited,
			Amount:   types.NewAmount(math.MaxBig256, required.Decimals),
			Risk:     types.RiskHigh,
		},
	}

	ranked := make([]types.ApprovalOption, 0, len(options))
	for _, o := range options {
		o.EstimatedGasCost = new(big.Int).Set(gasCost)
		if o.Strategy == recommended {
			o.Recommended = true
			ranked = append([]types.ApprovalOption{o}, ranked...)
			continue
		}
		ranked = append(ranked, o)
	}

	return types.ApprovalState{
		CurrentAllowance: types.NewAmount(allowance.Value, allowance.Decimals),
		RequiredAmount:   types.NewAmount(required.Value, required.Decimals),
		IsRequired:       isRequired,
		Recommended:      recommended,
		Options:          ranked,
	}, nil
}

// Recommend picks a strategy: optimized by default, unlimited when gas is
// high, exact for large amounts. The large amount override wins when both apply.
func Recommend(p Policy, required types.Amount, gasPrice *big.Int) (types.ApprovalStrategy, error) {
	canonical, err := amount.Canonical(types.NewAmount(required.Value, required.Decimals))
	if err != nil {
		return "", err
	}
	if p.LargeAmountThreshold != nil && canonical.Value.Cmp(p.LargeAmountThreshold) > 0 {
		return types.StrategyExact, nil
	}
	if p.HighGasThreshold != nil && gasPrice != nil && gasPrice.Cmp(p.HighGasThreshold) > 0 {
		return types.StrategyUnlimited, nil
	}
	return types.StrategyOptimized, nil
}

func optimizedAmount(p Policy, required *big.Int) *big.Int {
	res := new(big.Int).Mul(required, big.NewInt(p.OptimizedPercent))
	return res.Quo(res, big.NewInt(100))
}
