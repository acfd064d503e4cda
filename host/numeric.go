package host

import (
	"math"
	"strconv"
	"strings"
)

type signed interface {
	~int8 | ~int16 | ~int32 | ~int64
}

type integer interface {
	signed | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

// powWrap raises b to e in T's width, wrapping on overflow. Negative
// exponents truncate toward zero.
func powWrap[T integer](b, e T) T {
	if e < 0 {
		switch {
		case b == 1:
			return 1
		case b+1 == 0:
			if e%2 == 0 {
				return 1
			}
			return b
		}
		return 0
	}
	r := T(1)
	for e > 0 {
		if e&1 != 0 {
			r *= b
		}
		b *= b
		e >>= 1
	}
	return r
}

func mulChecked(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, false
	}
	c := a * b
	return c, c/b == a
}

// powChecked is the 64-bit power with overflow detection.
func powChecked(b, e int64) (any, error) {
	if e < 0 || b >= -1 && b <= 1 {
		return powWrap(b, e), nil
	}
	// |b| >= 2 overflows within 64 steps.
	r := int64(1)
	for i := int64(0); i < e; i++ {
		var ok bool
		if r, ok = mulChecked(r, b); !ok {
			return nil, Throw(OverflowType, "%d ** %d overflows", b, e)
		}
	}
	return r, nil
}

func absChecked[T signed](v T) (any, error) {
	if v >= 0 {
		return v, nil
	}
	if -v < 0 {
		return nil, Throw(OverflowType, "abs of %d overflows", v)
	}
	return -v, nil
}

func powFloat(b, e float64) float64 {
	return math.Pow(b, e)
}

// ParseInt parses decimal text, or "radix#digits" when the leading number
// is a radix whose magnitude lies in 2..36. A negative radix negates the
// result. Digits wider than 63 bits keep their bit pattern.
func ParseInt(s string) (int64, bool) {
	if i := strings.IndexByte(s, '#'); i >= 0 {
		r, err := strconv.ParseInt(s[:i], 10, 64)
		if err != nil || r >= -1 && r <= 1 || r < -36 || r > 36 {
			return 0, false
		}
		neg := r < 0
		if neg {
			r = -r
		}
		u, err := strconv.ParseUint(s[i+1:], int(r), 64)
		if err != nil {
			return 0, false
		}
		v := int64(u)
		if neg {
			v = -v
		}
		return v, true
	}
	v, err := strconv.ParseInt(s, 10, 64)
	return v, err == nil
}

// ParseFloat parses s as a 64-bit float.
func ParseFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}

// ToStr formats v the way the language's toStr does.
func ToStr(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int8:
		return strconv.FormatInt(int64(v), 10)
	case int16:
		return strconv.FormatInt(int64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint8:
		return strconv.FormatUint(uint64(v), 10)
	case uint16:
		return strconv.FormatUint(uint64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case *Exception:
		return v.Error()
	}
	return "<object>"
}
