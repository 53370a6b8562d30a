// Package amount converts token amounts between their native precision and
// the canonical 8-decimal settlement unit. All arithmetic is integer.
package amount

import (
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/shopspring/decimal"

	"gowrapportal/types"
)

// MaxDecimals is the largest token precision accepted.
const MaxDecimals = 36

var ten = big.NewInt(10)

// plain decimal notation only, no sign, exponent or bare dot
var decimalText = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

func pow10(n int) *big.Int {
	return new(big.Int).Exp(ten, big.NewInt(int64(n)), nil)
}

func checkPrecision(decimals int) error {
	if decimals < 0 || decimals > MaxDecimals {
		return types.NewError(types.KindUnsupportedPrecision, "precision %d outside [0, %d]", decimals, MaxDecimals)
	}
	return nil
}

func checkValue(value *big.Int) error {
	if value == nil {
		return types.NewError(types.KindInvalidAmount, "missing amount")
	}
	if value.Sign() < 0 {
		return types.NewError(types.KindInvalidAmount, "negative amount %s", value.String())
	}
	return nil
}

// rescale moves value from one precision to another. Scaling down truncates,
// the remainder is dropped for good.
func rescale(value *big.Int, from, to int) *big.Int {
	switch {
	case from == to:
		return new(big.Int).Set(value)
	case from < to:
		return new(big.Int).Mul(value, pow10(to-from))
	default:
		return new(big.Int).Quo(value, pow10(from-to))
	}
}

// ToCanonical converts value expressed with sourceDecimals into the canonical
// unit. For sourceDecimals > 8 this is lossy: FromCanonical(ToCanonical(x))
// gives back x without its low-order digits.
func ToCanonical(value *big.Int, sourceDecimals int) (types.Amount, error) {
	if err := checkPrecision(sourceDecimals); err != nil {
		return types.Amount{}, err
	}
	if err := checkValue(value); err != nil {
		return types.Amount{}, err
	}
	return types.Amount{Value: rescale(value, sourceDecimals, types.CanonicalDecimals), Decimals: types.CanonicalDecimals}, nil
}

// FromCanonical converts a canonical-unit value into targetDecimals.
func FromCanonical(value *big.Int, targetDecimals int) (types.Amount, error) {
	if err := checkPrecision(targetDecimals); err != nil {
		return types.Amount{}, err
	}
	if err := checkValue(value); err != nil {
		return types.Amount{}, err
	}
	return types.Amount{Value: rescale(value, types.CanonicalDecimals, targetDecimals), Decimals: targetDecimals}, nil
}

// Normalize rescales a to the given precision with the same truncation rules.
func Normalize(a types.Amount, decimals int) (types.Amount, error) {
	if err := checkPrecision(a.Decimals); err != nil {
		return types.Amount{}, err
	}
	if err := checkPrecision(decimals); err != nil {
		return types.Amount{}, err
	}
	if err := checkValue(a.Value); err != nil {
		return types.Amount{}, err
	}
	return types.Amount{Value: rescale(a.Value, a.Decimals, decimals), Decimals: decimals}, nil
}

// Canonical is ToCanonical for an Amount.
func Canonical(a types.Amount) (types.Amount, error) {
	return Normalize(a, types.CanonicalDecimals)
}

// Compare compares two amounts. Amounts of different precision are compared
// in the canonical unit.
func Compare(a, b types.Amount) (int, error) {
	if a.Decimals == b.Decimals {
		if err := checkValue(a.Value); err != nil {
			return 0, err
		}
		if err := checkValue(b.Value); err != nil {
			return 0, err
		}
		return a.Value.Cmp(b.Value), nil
	}
	ca, err := Canonical(a)
	if err != nil {
		return 0, err
	}
	cb, err := Canonical(b)
	if err != nil {
		return 0, err
	}
	return ca.Value.Cmp(cb.Value), nil
}

// Parse reads a user supplied decimal string such as "1.25" into an Amount
// with the token's precision. More fractional digits than the token
// supports is an error, never a silent rounding.
func Parse(text string, decimals int) (types.Amount, error) {
	if err := checkPrecision(decimals); err != nil {
		return types.Amount{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return types.Amount{}, types.NewError(types.KindInvalidAmount, "empty amount")
	}
	if !decimalText.MatchString(text) {
		return types.Amount{}, types.NewError(types.KindInvalidAmount, "malformed amount %q", text)
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return types.Amount{}, types.WrapError(types.KindInvalidAmount, err, "malformed amount %q", text)
	}
	if d.Exponent() < 0 && -int(d.Exponent()) > decimals {
		// trailing zeros are fine, real precision is not
		if !d.Equal(d.Truncate(int32(decimals))) {
			return types.Amount{}, types.NewError(types.KindInvalidAmount, "amount %q has more than %d decimals", text, decimals)
		}
	}
	value := d.Shift(int32(decimals)).BigInt()
	if value.Cmp(math.MaxBig256) > 0 {
		return types.Amount{}, types.NewError(types.KindInvalidAmount, "amount %q exceeds uint256", text)
	}
	return types.Amount{Value: value, Decimals: decimals}, nil
}

// Format renders a as an exact decimal string, e.g. 150000000@8 -> "1.5".
func Format(a types.Amount) string {
	return Decimal(a).String()
}

// Decimal exposes a as a decimal.Decimal for display and USD conversion.
func Decimal(a types.Amount) decimal.Decimal {
	return decimal.NewFromBigInt(a.Int(), -int32(a.Decimals))
}
