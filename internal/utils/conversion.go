/*
This file contains common utility functions for converting between raw on-chain integers,
SDK decimals and display values, with explicit precision handling.
*/

package utils

import (
	"errors"
	"fmt"
	"math"

	sdkmath "cosmossdk.io/math"
	"github.com/Rhymond/go-money"
)

// TokenDecimals is the precision of every BEP-20 amount handled here.
const TokenDecimals = 18

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidPrecision = errors.New("precision is invalid")
	ErrAmountNil        = errors.New("amount is nil")
	ErrAmountNegative   = errors.New("amount is negative")
	ErrNotFinite        = errors.New("value is not finite")
	ErrConversionFailed = errors.New("conversion failed")
)

// precisionFactor returns 10^precision as a decimal.
func precisionFactor(precision int) sdkmath.LegacyDec {
	factor := sdkmath.LegacyNewDec(1)
	for i := 0; i < precision; i++ {
		factor = factor.MulInt64(10)
	}
	return factor
}

// RawToDec normalizes a raw integer amount by 10^precision.
func RawToDec(amount sdkmath.Int, precision int) (sdkmath.LegacyDec, error) {
	if precision < 0 || precision > sdkmath.LegacyPrecision {
		return sdkmath.LegacyZeroDec(), fmt.Errorf("%w: %d (must be between 0 and %d)", ErrInvalidPrecision, precision, sdkmath.LegacyPrecision)
	}
	if amount.IsNil() {
		return sdkmath.LegacyZeroDec(), ErrAmountNil
	}
	if amount.IsNegative() {
		return sdkmath.LegacyZeroDec(), ErrAmountNegative
	}

	return sdkmath.LegacyNewDecFromInt(amount).Quo(precisionFactor(precision)), nil
}

// ParseRawAmount parses a raw integer string such as "2500000000000000000".
func ParseRawAmount(raw string) (sdkmath.Int, error) {
	amount, ok := sdkmath.NewIntFromString(raw)
	if !ok {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %q is not an integer", ErrConversionFailed, raw)
	}
	if amount.IsNegative() {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}
	return amount, nil
}

// DecOrZero dereferences an optional decimal, treating nil as zero.
func DecOrZero(d *sdkmath.LegacyDec) sdkmath.LegacyDec {
	if d == nil || d.IsNil() {
		return sdkmath.LegacyZeroDec()
	}
	return *d
}

// DecToFloat64 converts a decimal to float64 for metrics. Precision loss is accepted there only.
func DecToFloat64(d sdkmath.LegacyDec) (float64, error) {
	if d.IsNil() {
		return 0, ErrAmountNil
	}
	f, err := d.Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: result is %f", ErrNotFinite, f)
	}
	return f, nil
}

// FormatUSD renders a decimal as a USD display string, e.g. "$15,200.00".
// Sub-cent digits are truncated.
func FormatUSD(d sdkmath.LegacyDec) string {
	if d.IsNil() {
		d = sdkmath.LegacyZeroDec()
	}
	cents := d.MulInt64(100).TruncateInt()
	if !cents.IsInt64() {
		return "$" + d.TruncateInt().String()
	}
	return money.New(cents.Int64(), money.USD).Display()
}
