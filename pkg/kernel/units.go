package kernel

import (
	"fmt"
	"math/big"
	"strings"
)

// WinstonDecimals is the number of decimal places between AR and winston.
const WinstonDecimals = 12

var winstonScale = new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(WinstonDecimals), nil))

// ParseUnits parses a decimal string (plain or exponent notation) exactly.
func ParseUnits(s string) (*big.Rat, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, "/") {
		return nil, fmt.Errorf("units: invalid number %q", s)
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("units: invalid number %q", s)
	}
	return r, nil
}

// WinstonToAr converts a winston amount to AR with the given number of
// decimal places, rounding half away from zero.
func WinstonToAr(winston string, decimals int, formatted bool) (string, error) {
	w, err := ParseUnits(winston)
	if err != nil {
		return "", err
	}
	ar := new(big.Rat).Quo(w, winstonScale)
	out := FormatFixed(ar, decimals)
	if formatted {
		out = groupThousands(out)
	}
	return out, nil
}

// ArToWinston converts an AR amount to whole winston.
func ArToWinston(ar string, formatted bool) (string, error) {
	a, err := ParseUnits(ar)
	if err != nil {
		return "", err
	}
	out := FormatFixed(new(big.Rat).Mul(a, winstonScale), 0)
	if formatted {
		out = groupThousands(out)
	}
	return out, nil
}

// CompareUnits returns -1, 0 or +1.
func CompareUnits(a, b string) (int, error) {
	x, err := ParseUnits(a)
	if err != nil {
		return 0, err
	}
	y, err := ParseUnits(b)
	if err != nil {
		return 0, err
	}
	return x.Cmp(y), nil
}

// AddUnits returns a+b as a whole number string.
func AddUnits(a, b string) (string, error) {
	return combineUnits(a, b, (*big.Rat).Add)
}

// SubUnits returns a-b as a whole number string.
func SubUnits(a, b string) (string, error) {
	return combineUnits(a, b, (*big.Rat).Sub)
}

func combineUnits(a, b string, op func(z, x, y *big.Rat) *big.Rat) (string, error) {
	x, err := ParseUnits(a)
	if err != nil {
		return "", err
	}
	y, err := ParseUnits(b)
	if err != nil {
		return "", err
	}
	return FormatFixed(op(new(big.Rat), x, y), 0), nil
}

// FormatFixed renders r with exactly scale fractional digits, rounding
// half away from zero.
func FormatFixed(r *big.Rat, scale int) string {
	if scale < 0 {
		scale = 0
	}
	factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(scale)), nil)
	scaled := new(big.Rat).Mul(new(big.Rat).Abs(r), new(big.Rat).SetInt(factor))

	q, rem := new(big.Int).QuoRem(scaled.Num(), scaled.Denom(), new(big.Int))
	// rem/denom >= 1/2  <=>  2*rem >= denom
	if rem.Sign() != 0 && new(big.Int).Lsh(rem, 1).Cmp(scaled.Denom()) >= 0 {
		q.Add(q, big.NewInt(1))
	}

	sign := ""
	if r.Sign() < 0 && q.Sign() != 0 {
		sign = "-"
	}
	digits := q.String()
	if scale == 0 {
		return sign + digits
	}
	for len(digits) <= scale {
		digits = "0" + digits
	}
	cut := len(digits) - scale
	return sign + digits[:cut] + "." + digits[cut:]
}

func groupThousands(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, hasFrac := strings.Cut(s, ".")
	var b strings.Builder
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	if hasFrac {
		return sign + b.String() + "." + frac
	}
	return sign + b.String()
}
