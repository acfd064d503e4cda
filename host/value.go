package host

import (
	"fmt"

	"github.com/yvt/queen-compiler-sub002/bytecode"
)

// Numeric exception codes used when host faults are converted.
const (
	CodeAccessViolation int64 = 0xC0000005
	CodeIntDivideByZero int64 = 0xC0000094
	CodeIntOverflow     int64 = 0xC0000095
	CodeAssertionFailed int64 = 0xE9170000
	CodeInvalidCast     int64 = 0xE9170001
	CodeIndexOutOfRange int64 = 0xE9170002
	CodeInvalidArgument int64 = 0xE9170006
)

// Exception is a thrown host exception. NumericException instances carry a
// Code; the other types are converted through ToExcpt.
type Exception struct {
	Type    *Type
	Message string
	Code    int64
}

func (e *Exception) Error() string {
	if e.Type == NumericExceptionType {
		return fmt.Sprintf("%s 0x%08X: %s", e.Type.Name, uint64(e.Code), e.Message)
	}
	return e.Type.Name + ": " + e.Message
}

// Throw returns a new exception of type t.
func Throw(t *Type, format string, args ...any) *Exception {
	return &Exception{Type: t, Message: fmt.Sprintf(format, args...)}
}

// NewNumericException returns a numeric exception with the given code.
func NewNumericException(code int64, msg string) *Exception {
	return &Exception{Type: NumericExceptionType, Message: msg, Code: code}
}

// nativeCodes maps convertible host exception types to their codes.
var nativeCodes = map[*Type]int64{
	NullReferenceType:     CodeAccessViolation,
	DivideByZeroType:      CodeIntDivideByZero,
	OverflowType:          CodeIntOverflow,
	InvalidCastType:       CodeInvalidCast,
	IndexOutOfRangeType:   CodeIndexOutOfRange,
	ArgumentExceptionType: CodeInvalidArgument,
}

// ToExcpt converts v to the language's numeric exception form. It returns
// nil when v is not an exception or has no numeric counterpart.
func ToExcpt(v any) *Exception {
	e, ok := v.(*Exception)
	if !ok || e == nil {
		return nil
	}
	if e.Type.IsSubclassOf(NumericExceptionType) {
		return e
	}
	for t := e.Type; t != nil; t = t.Base {
		if code, ok := nativeCodes[t]; ok {
			return NewNumericException(code, e.Message)
		}
	}
	return nil
}

// Array is an array value. Elements are stored row-major.
type Array struct {
	Elem bytecode.Type
	Dims []int
	Data []any
}

// NewArray allocates an array filled with zero.
func NewArray(elem bytecode.Type, zero any, dims ...int) *Array {
	n := 1
	for _, d := range dims {
		n *= d
	}
	a := &Array{Elem: elem, Dims: append([]int(nil), dims...), Data: make([]any, n)}
	for i := range a.Data {
		a.Data[i] = zero
	}
	return a
}

// Len returns the length of the first dimension.
func (a *Array) Len() int {
	if len(a.Dims) == 0 {
		return 0
	}
	return a.Dims[0]
}

// Offset maps a multi-dimensional index to a position in Data.
func (a *Array) Offset(idx ...int64) (int, error) {
	if len(idx) != len(a.Dims) {
		return 0, Throw(IndexOutOfRangeType, "rank %d array indexed with %d indices", len(a.Dims), len(idx))
	}
	off := 0
	for i, x := range idx {
		if x < 0 || x >= int64(a.Dims[i]) {
			return 0, Throw(IndexOutOfRangeType, "index %d out of range [0, %d)", x, a.Dims[i])
		}
		off = off*a.Dims[i] + int(x)
	}
	return off, nil
}

// Clone returns a shallow copy of a.
func (a *Array) Clone() *Array {
	return &Array{Elem: a.Elem, Dims: append([]int(nil), a.Dims...), Data: append([]any(nil), a.Data...)}
}

// Ref is a by-reference cell: the address of a local, argument, field,
// static or array element.
type Ref struct {
	Get func() any
	Set func(any)
}

// Zero returns the default value of kind k.
func Zero(k bytecode.Kind) any {
	switch k {
	case bytecode.KindBool:
		return false
	case bytecode.KindInt8:
		return int8(0)
	case bytecode.KindInt16:
		return int16(0)
	case bytecode.KindInt32:
		return int32(0)
	case bytecode.KindInt64:
		return int64(0)
	case bytecode.KindUInt8:
		return uint8(0)
	case bytecode.KindUInt16:
		return uint16(0)
	case bytecode.KindUInt32:
		return uint32(0)
	case bytecode.KindUInt64:
		return uint64(0)
	case bytecode.KindFloat32:
		return float32(0)
	case bytecode.KindFloat64:
		return float64(0)
	}
	return nil
}
