// Package operation decides which operation a selected token pair implies.
package operation

import (
	"gowrapportal/types"
)

// Classify never fails: pairs no operation fits are Invalid, which callers
// treat as "cannot proceed".
func Classify(from, to types.TokenDescriptor) types.OperationKind {
	if from.Same(to) {
		return types.OperationInvalid
	}

	sameNetwork := from.ChainID == to.ChainID

	switch {
	case !from.IsCanonical && to.IsCanonical && sameNetwork:
		if !from.CanWrap {
			return types.OperationInvalid
		}
		return types.OperationWrap
	case from.IsCanonical && !to.IsCanonical && sameNetwork:
		if !to.CanRedeem {
			return types.OperationInvalid
		}
		return types.OperationUnwrap
	case from.IsCanonical && to.IsCanonical && !sameNetwork:
		if !from.CanBridge || !to.CanBridge {
			return types.OperationInvalid
		}
		return types.OperationBridge
	}

	return types.OperationInvalid
}

// Destinations lists the tokens from can be turned into, in the given order.
func Destinations(from types.TokenDescriptor, candidates []types.TokenDescriptor) []types.TokenDescriptor {
	res := make([]types.TokenDescriptor, 0, len(candidates))
	for _, to := range candidates {
		if Classify(from, to) != types.OperationInvalid {
			res = append(res, to)
		}
	}
	return res
}
