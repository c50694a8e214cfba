package statepoint

import (
	"errors"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// Number is a numeric scalar stored as its canonical literal.
//
// Numbers compare by value: 1, 1.0, 1e0 and 10e-1 all canonicalize to "1".
// Integral values keep arbitrary precision; non-integral values are rounded
// to the nearest float64 and rendered in shortest round-trip form.
type Number struct {
	lit string
}

var errNonFinite = errors.New("non-finite number")

// Int returns the Number for an integer.
func Int(i int64) Number {
	return Number{lit: strconv.FormatInt(i, 10)}
}

// Uint returns the Number for an unsigned integer.
func Uint(u uint64) Number {
	return Number{lit: strconv.FormatUint(u, 10)}
}

// Float returns the Number for f. NaN and infinities have no canonical form.
func Float(f float64) (Number, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Number{}, errNonFinite
	}
	if f == math.Trunc(f) {
		bf := new(big.Float).SetFloat64(f)
		i, _ := bf.Int(nil)
		return Number{lit: i.String()}, nil
	}
	return Number{lit: strconv.FormatFloat(f, 'g', -1, 64)}, nil
}

// MustFloat is Float for literals known to be finite.
func MustFloat(f float64) Number {
	n, err := Float(f)
	if err != nil {
		panic(err)
	}
	return n
}

// ParseNumber parses a JSON number literal into its canonical form. Integer
// literals keep arbitrary precision; literals with a fraction or exponent go
// through float64, so "1.0" and "1" agree while "1e400" is rejected.
func ParseNumber(lit string) (Number, error) {
	s := strings.TrimSpace(lit)
	if s == "" {
		return Number{}, errors.New("empty number literal")
	}
	if !strings.ContainsAny(s, ".eE") {
		i, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return Number{}, errors.New("invalid number literal " + strconv.Quote(lit))
		}
		return Number{lit: i.String()}, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Number{}, errors.New("invalid or out of range number literal " + strconv.Quote(lit))
	}
	return Float(f)
}

// String returns the canonical literal.
func (n Number) String() string {
	if n.lit == "" {
		return "0"
	}
	return n.lit
}

// Int64 returns the value as an int64 when it is integral and fits.
func (n Number) Int64() (int64, bool) {
	i, err := strconv.ParseInt(n.String(), 10, 64)
	return i, err == nil
}

// Float64 returns the nearest float64.
func (n Number) Float64() float64 {
	f, _ := strconv.ParseFloat(n.String(), 64)
	return f
}
