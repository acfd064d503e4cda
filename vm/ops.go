package vm

import (
	"fmt"
	"math"

	"github.com/yvt/queen-compiler-sub002/bytecode"
	"github.com/yvt/queen-compiler-sub002/host"
)

type integer interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

type float interface{ ~float32 | ~float64 }

// constInt builds the value of kind k whose bit pattern is v.
func constInt(k bytecode.Kind, v int64) any {
	switch k {
	case bytecode.KindBool:
		return v != 0
	case bytecode.KindInt8:
		return int8(v)
	case bytecode.KindInt16:
		return int16(v)
	case bytecode.KindInt32:
		return int32(v)
	case bytecode.KindUInt8:
		return uint8(v)
	case bytecode.KindUInt16:
		return uint16(v)
	case bytecode.KindUInt32:
		return uint32(v)
	case bytecode.KindUInt64:
		return uint64(v)
	case bytecode.KindFloat32:
		return float32(v)
	case bytecode.KindFloat64:
		return float64(v)
	}
	return v
}

func kindOfValue(v any) bytecode.Kind {
	switch v.(type) {
	case bool:
		return bytecode.KindBool
	case int8:
		return bytecode.KindInt8
	case int16:
		return bytecode.KindInt16
	case int32:
		return bytecode.KindInt32
	case int64:
		return bytecode.KindInt64
	case uint8:
		return bytecode.KindUInt8
	case uint16:
		return bytecode.KindUInt16
	case uint32:
		return bytecode.KindUInt32
	case uint64:
		return bytecode.KindUInt64
	case float32:
		return bytecode.KindFloat32
	case float64:
		return bytecode.KindFloat64
	case string:
		return bytecode.KindString
	}
	return bytecode.KindNone
}

func mismatch(op bytecode.Op, a, b any) error {
	return fmt.Errorf("vm: %v on %T and %T", op, a, b)
}

// arith applies a binary arithmetic, bitwise or shift operator. Shift
// counts are int64; the other operators take operands of one kind.
func arith(op bytecode.Op, a, b any) (any, error) {
	if op == bytecode.OSHL || op == bytecode.OSHR || op == bytecode.OSHRUN {
		n, ok := b.(int64)
		if !ok {
			return nil, mismatch(op, a, b)
		}
		return shift(op, a, n)
	}
	switch x := a.(type) {
	case int8:
		return intOp(op, x, b)
	case int16:
		return intOp(op, x, b)
	case int32:
		return intOp(op, x, b)
	case int64:
		y, ok := b.(int64)
		if !ok {
			return nil, mismatch(op, a, b)
		}
		switch op {
		case bytecode.OADDOVF:
			s := x + y
			if (x > 0 && y > 0 && s < 0) || (x < 0 && y < 0 && s >= 0) {
				return nil, host.Throw(host.OverflowType, "%d + %d overflows", x, y)
			}
			return s, nil
		case bytecode.OSUBOVF:
			d := x - y
			if (x >= 0 && y < 0 && d < 0) || (x < 0 && y > 0 && d >= 0) {
				return nil, host.Throw(host.OverflowType, "%d - %d overflows", x, y)
			}
			return d, nil
		case bytecode.OMULOVF:
			if x != 0 && y != 0 {
				p := x * y
				if p/y != x || (x == -1 && y == math.MinInt64) || (y == -1 && x == math.MinInt64) {
					return nil, host.Throw(host.OverflowType, "%d * %d overflows", x, y)
				}
				return p, nil
			}
			return int64(0), nil
		}
		return intOp(op, x, b)
	case uint8:
		return intOp(op, x, b)
	case uint16:
		return intOp(op, x, b)
	case uint32:
		return intOp(op, x, b)
	case uint64:
		return intOp(op, x, b)
	case float32:
		return floatOp(op, x, b)
	case float64:
		return floatOp(op, x, b)
	}
	return nil, mismatch(op, a, b)
}

func intOp[T integer](op bytecode.Op, x T, b any) (any, error) {
	y, ok := b.(T)
	if !ok {
		return nil, mismatch(op, x, b)
	}
	switch op {
	case bytecode.OADD, bytecode.OADDOVF:
		return x + y, nil
	case bytecode.OSUB, bytecode.OSUBOVF:
		return x - y, nil
	case bytecode.OMUL, bytecode.OMULOVF:
		return x * y, nil
	case bytecode.ODIV, bytecode.ODIVUN:
		if y == 0 {
			return nil, host.Throw(host.DivideByZeroType, "division by zero")
		}
		return x / y, nil
	case bytecode.OREM, bytecode.OREMUN:
		if y == 0 {
			return nil, host.Throw(host.DivideByZeroType, "division by zero")
		}
		return x % y, nil
	case bytecode.OAND:
		return x & y, nil
	case bytecode.OOR:
		return x | y, nil
	case bytecode.OXOR:
		return x ^ y, nil
	}
	return nil, mismatch(op, x, b)
}

func floatOp[T float](op bytecode.Op, x T, b any) (any, error) {
	y, ok := b.(T)
	if !ok {
		return nil, mismatch(op, x, b)
	}
	switch op {
	case bytecode.OADD:
		return x + y, nil
	case bytecode.OSUB:
		return x - y, nil
	case bytecode.OMUL:
		return x * y, nil
	case bytecode.ODIV:
		return x / y, nil
	case bytecode.OREM:
		return T(math.Mod(float64(x), float64(y))), nil
	}
	return nil, mismatch(op, x, b)
}

func shift(op bytecode.Op, a any, n int64) (any, error) {
	if n < 0 {
		return nil, host.Throw(host.ArgumentExceptionType, "negative shift count %d", n)
	}
	switch x := a.(type) {
	case int8:
		return shiftInt(op, x, n, 8), nil
	case int16:
		return shiftInt(op, x, n, 16), nil
	case int32:
		return shiftInt(op, x, n, 32), nil
	case int64:
		return shiftInt(op, x, n, 64), nil
	case uint8:
		return shiftInt(op, x, n, 8), nil
	case uint16:
		return shiftInt(op, x, n, 16), nil
	case uint32:
		return shiftInt(op, x, n, 32), nil
	case uint64:
		return shiftInt(op, x, n, 64), nil
	}
	return nil, mismatch(op, a, n)
}

// shiftInt shifts x of the given bit width. The unsigned right shift of a
// signed value shifts in zeros.
func shiftInt[T integer](op bytecode.Op, x T, n int64, width uint) T {
	switch op {
	case bytecode.OSHL:
		return x << uint64(n)
	case bytecode.OSHR:
		return x >> uint64(n)
	}
	u := uint64(x)
	if width < 64 {
		u &= 1<<width - 1
	}
	return T(u >> uint64(n))
}

func unary(op bytecode.Op, a any) (any, error) {
	switch x := a.(type) {
	case int8:
		return unaryInt(op, x)
	case int16:
		return unaryInt(op, x)
	case int32:
		return unaryInt(op, x)
	case int64:
		return unaryInt(op, x)
	case uint8:
		return unaryInt(op, x)
	case uint16:
		return unaryInt(op, x)
	case uint32:
		return unaryInt(op, x)
	case uint64:
		return unaryInt(op, x)
	case float32:
		if op == bytecode.ONEG {
			return -x, nil
		}
	case float64:
		if op == bytecode.ONEG {
			return -x, nil
		}
	case bool:
		if op == bytecode.ONOT {
			return !x, nil
		}
	}
	return nil, fmt.Errorf("vm: %v on %T", op, a)
}

func unaryInt[T integer](op bytecode.Op, x T) (any, error) {
	if op == bytecode.ONEG {
		return -x, nil
	}
	return ^x, nil
}

// equal implements ceq: values of one kind compare by value, references by
// identity.
func equal(a, b any) bool {
	return a == b
}

// compareValues orders two numeric values of one kind. unordered is set
// when a float operand is NaN.
func compareValues(a, b any) (c int, unordered bool, err error) {
	switch x := a.(type) {
	case int8:
		return cmpOrdered(x, b)
	case int16:
		return cmpOrdered(x, b)
	case int32:
		return cmpOrdered(x, b)
	case int64:
		return cmpOrdered(x, b)
	case uint8:
		return cmpOrdered(x, b)
	case uint16:
		return cmpOrdered(x, b)
	case uint32:
		return cmpOrdered(x, b)
	case uint64:
		return cmpOrdered(x, b)
	case float32:
		return cmpOrdered(x, b)
	case float64:
		return cmpOrdered(x, b)
	case bool:
		y, ok := b.(bool)
		if !ok {
			break
		}
		switch {
		case x == y:
			return 0, false, nil
		case !x:
			return -1, false, nil
		}
		return 1, false, nil
	}
	return 0, false, fmt.Errorf("vm: cannot order %T and %T", a, b)
}

func cmpOrdered[T integer | float](x T, b any) (int, bool, error) {
	y, ok := b.(T)
	if !ok {
		return 0, false, fmt.Errorf("vm: cannot order %T and %T", x, b)
	}
	switch {
	case x < y:
		return -1, false, nil
	case x > y:
		return 1, false, nil
	case x == y:
		return 0, false, nil
	}
	return 0, true, nil
}

// relation implements cgt, cgt.un, clt and clt.un. The unsigned forms are
// true for unordered floats; on references cgt.un tests a non-null value
// against null.
func relation(op bytecode.Op, a, b any) (bool, error) {
	if kindOfValue(a) == bytecode.KindNone || kindOfValue(a) == bytecode.KindString {
		switch op {
		case bytecode.OCGTUN:
			return a != nil && b == nil, nil
		case bytecode.OCLTUN:
			return a == nil && b != nil, nil
		}
		return false, fmt.Errorf("vm: %v on %T and %T", op, a, b)
	}
	c, unordered, err := compareValues(a, b)
	if err != nil {
		return false, err
	}
	un := op == bytecode.OCGTUN || op == bytecode.OCLTUN
	if unordered {
		return un, nil
	}
	if op == bytecode.OCGT || op == bytecode.OCGTUN {
		return c > 0, nil
	}
	return c < 0, nil
}

func branchTaken(op bytecode.Op, a, b any) (bool, error) {
	if op == bytecode.OBEQ {
		return equal(a, b), nil
	}
	if op == bytecode.OBNEUN {
		return !equal(a, b), nil
	}
	c, unordered, err := compareValues(a, b)
	if err != nil {
		return false, err
	}
	if unordered {
		switch op {
		case bytecode.OBLTUN, bytecode.OBLEUN, bytecode.OBGTUN, bytecode.OBGEUN:
			return true, nil
		}
		return false, nil
	}
	switch op {
	case bytecode.OBLT, bytecode.OBLTUN:
		return c < 0, nil
	case bytecode.OBLE, bytecode.OBLEUN:
		return c <= 0, nil
	case bytecode.OBGT, bytecode.OBGTUN:
		return c > 0, nil
	}
	return c >= 0, nil
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float32:
		return x != 0
	case float64:
		return x != 0
	}
	if k := kindOfValue(v); k.IsInteger() {
		bits, _ := intBits(v)
		return bits != 0
	}
	return true
}

// intBits returns the bit pattern of an integer value and whether its
// kind is unsigned.
func intBits(v any) (int64, bool) {
	switch x := v.(type) {
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case int8:
		return int64(x), false
	case int16:
		return int64(x), false
	case int32:
		return int64(x), false
	case int64:
		return x, false
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return int64(x), true
	}
	return 0, false
}

// convert implements conv: numeric values change width or representation,
// truncating or wrapping like the target's arithmetic.
func convert(v any, k bytecode.Kind) (any, error) {
	switch x := v.(type) {
	case float32:
		return fromFloat(float64(x), k)
	case float64:
		return fromFloat(x, k)
	}
	if kindOfValue(v) == bytecode.KindNone || kindOfValue(v) == bytecode.KindString {
		return nil, fmt.Errorf("vm: conv.%v of %T", k, v)
	}
	bits, unsigned := intBits(v)
	switch k {
	case bytecode.KindFloat32:
		if unsigned {
			return float32(uint64(bits)), nil
		}
		return float32(bits), nil
	case bytecode.KindFloat64:
		if unsigned {
			return float64(uint64(bits)), nil
		}
		return float64(bits), nil
	case bytecode.KindString, bytecode.KindNone:
		return nil, fmt.Errorf("vm: conv.%v of %T", k, v)
	}
	return constInt(k, bits), nil
}

func fromFloat(x float64, k bytecode.Kind) (any, error) {
	switch k {
	case bytecode.KindFloat32:
		return float32(x), nil
	case bytecode.KindFloat64:
		return x, nil
	case bytecode.KindBool:
		return x != 0, nil
	case bytecode.KindString, bytecode.KindNone:
		return nil, fmt.Errorf("vm: conv.%v of float", k)
	}
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return constInt(k, 0), nil
	}
	if k.IsUnsigned() && x >= 0 {
		return constInt(k, int64(uint64(x))), nil
	}
	return constInt(k, int64(x)), nil
}
