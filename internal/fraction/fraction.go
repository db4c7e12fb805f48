// Package fraction provides an exact rational number type for dose amounts
// and supply counts. Repeated additions and subtractions of doses must not
// accumulate floating-point drift, so all balance arithmetic is done on
// integer numerator/denominator pairs.
package fraction

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
)

// Fraction is an exact rational number. The zero value is 0/1 and is ready
// to use. Fractions are kept normalized: gcd(num, den) == 1 and den > 0.
type Fraction struct {
	num int64
	den int64
}

// Zero is the canonical zero quantity.
var Zero = Fraction{0, 1}

// New creates a normalized fraction. It panics if den is zero, since a zero
// denominator is a programming error, not user input (user input goes
// through Parse).
func New(num, den int64) Fraction {
	if den == 0 {
		panic("fraction: zero denominator")
	}
	if den < 0 {
		num, den = -num, -den
	}
	g := gcd(abs(num), den)
	return Fraction{num / g, den / g}
}

// FromInt creates a whole-number fraction.
func FromInt(n int64) Fraction {
	return Fraction{n, 1}
}

// Parse parses "3", "-3", "1/2" or "-3/4".
func Parse(s string) (Fraction, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, fmt.Errorf("fraction: empty string")
	}

	if idx := strings.IndexByte(s, '/'); idx >= 0 {
		num, err := strconv.ParseInt(strings.TrimSpace(s[:idx]), 10, 64)
		if err != nil {
			return Zero, fmt.Errorf("fraction: invalid numerator in %q: %w", s, err)
		}
		den, err := strconv.ParseInt(strings.TrimSpace(s[idx+1:]), 10, 64)
		if err != nil {
			return Zero, fmt.Errorf("fraction: invalid denominator in %q: %w", s, err)
		}
		if den == 0 {
			return Zero, fmt.Errorf("fraction: zero denominator in %q", s)
		}
		return New(num, den), nil
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Zero, fmt.Errorf("fraction: invalid number %q: %w", s, err)
	}
	return FromInt(n), nil
}

// Num returns the numerator of the normalized fraction.
func (f Fraction) Num() int64 {
	if f.den == 0 {
		return 0
	}
	return f.num
}

// Den returns the denominator of the normalized fraction. Never zero.
func (f Fraction) Den() int64 {
	if f.den == 0 {
		return 1
	}
	return f.den
}

// Add returns f + other.
func (f Fraction) Add(other Fraction) Fraction {
	return New(f.Num()*other.Den()+other.Num()*f.Den(), f.Den()*other.Den())
}

// Sub returns f - other.
func (f Fraction) Sub(other Fraction) Fraction {
	return New(f.Num()*other.Den()-other.Num()*f.Den(), f.Den()*other.Den())
}

// Cmp compares f against a whole number, returning -1, 0 or +1.
func (f Fraction) Cmp(n int64) int {
	return f.CmpFrac(FromInt(n))
}

// CmpFrac compares f against another fraction, returning -1, 0 or +1.
func (f Fraction) CmpFrac(other Fraction) int {
	lhs := f.Num() * other.Den()
	rhs := other.Num() * f.Den()
	switch {
	case lhs < rhs:
		return -1
	case lhs > rhs:
		return 1
	default:
		return 0
	}
}

// IsZero reports whether f equals zero.
func (f Fraction) IsZero() bool {
	return f.Num() == 0
}

// Negative reports whether f is below zero.
func (f Fraction) Negative() bool {
	return f.Num() < 0
}

// Float64 returns a floating approximation for display and ratio math.
// Balance arithmetic must stay on Add/Sub.
func (f Fraction) Float64() float64 {
	return float64(f.Num()) / float64(f.Den())
}

// String renders "3" for whole numbers and "1/2" otherwise.
func (f Fraction) String() string {
	if f.Den() == 1 {
		return strconv.FormatInt(f.Num(), 10)
	}
	return strconv.FormatInt(f.Num(), 10) + "/" + strconv.FormatInt(f.Den(), 10)
}

// Value implements driver.Valuer so gorm stores fractions as text.
func (f Fraction) Value() (driver.Value, error) {
	return f.String(), nil
}

// Scan implements sql.Scanner.
func (f *Fraction) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*f = Zero
		return nil
	case string:
		parsed, err := Parse(v)
		if err != nil {
			return err
		}
		*f = parsed
		return nil
	case []byte:
		parsed, err := Parse(string(v))
		if err != nil {
			return err
		}
		*f = parsed
		return nil
	case int64:
		*f = FromInt(v)
		return nil
	default:
		return fmt.Errorf("fraction: cannot scan %T", src)
	}
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	if a == 0 {
		return 1
	}
	return a
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
