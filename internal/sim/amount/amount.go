// Package amount holds token arithmetic helpers. All balances are integers in
// base units; one token is 10^Decimals base units.
package amount

import (
	"fmt"
	"strings"

	sdkmath "cosmossdk.io/math"
)

const (
	Decimals = 18

	// BPS is the basis-point denominator.
	BPS = 10000
)

var oneToken = sdkmath.NewIntWithDecimal(1, Decimals)

func Zero() sdkmath.Int { return sdkmath.ZeroInt() }

func OneToken() sdkmath.Int { return oneToken }

func Tokens(n int64) sdkmath.Int { return sdkmath.NewInt(n).Mul(oneToken) }

// ParseTokens parses a decimal token amount such as "0.25" into base units.
func ParseTokens(s string) (sdkmath.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return sdkmath.ZeroInt(), fmt.Errorf("empty amount")
	}
	d, err := sdkmath.LegacyNewDecFromStr(s)
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return sdkmath.ZeroInt(), fmt.Errorf("amount %q: negative", s)
	}
	return d.MulInt(oneToken).TruncateInt(), nil
}

func MustTokens(s string) sdkmath.Int {
	v, err := ParseTokens(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Parse parses an integer amount in base units.
func Parse(s string) (sdkmath.Int, error) {
	v, ok := sdkmath.NewIntFromString(strings.TrimSpace(s))
	if !ok {
		return sdkmath.ZeroInt(), fmt.Errorf("amount %q: not an integer", s)
	}
	if v.IsNegative() {
		return sdkmath.ZeroInt(), fmt.Errorf("amount %q: negative", s)
	}
	return v, nil
}

// FormatTokens renders base units as a decimal token string.
func FormatTokens(v sdkmath.Int) string {
	return sdkmath.LegacyNewDecFromIntWithPrec(v, Decimals).String()
}

// MulBP returns v*bp/10000, truncated.
func MulBP(v sdkmath.Int, bp uint32) sdkmath.Int {
	return v.MulRaw(int64(bp)).QuoRaw(BPS)
}

// OrZero maps the nil Int (zero value of the struct) to zero.
func OrZero(v sdkmath.Int) sdkmath.Int {
	if v.IsNil() {
		return sdkmath.ZeroInt()
	}
	return v
}

// Word encodes v as a 32-byte big-endian word.
func Word(v sdkmath.Int) ([32]byte, error) {
	var out [32]byte
	v = OrZero(v)
	if v.IsNegative() {
		return out, fmt.Errorf("negative amount %s", v)
	}
	if v.BigInt().BitLen() > 256 {
		return out, fmt.Errorf("amount %s exceeds 256 bits", v)
	}
	v.BigInt().FillBytes(out[:])
	return out, nil
}
