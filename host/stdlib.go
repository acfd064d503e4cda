package host

import (
	"strconv"
	"strings"

	"github.com/yvt/queen-compiler-sub002/bytecode"
)

// Implicit roots and the standard host types. Members are attached in init
// because their implementations refer back to the types.
var (
	ObjectType    = &Type{Name: "Object"}
	ValueTypeType = &Type{Name: "ValueType", Base: ObjectType, Abstract: true}
	StringType    = &Type{Name: "String", Base: ObjectType, Sealed: true}

	ExceptionType         = &Type{Name: "Exception", Base: ObjectType}
	NumericExceptionType  = &Type{Name: "NumericException", Base: ExceptionType}
	NullReferenceType     = &Type{Name: "NullReferenceException", Base: ExceptionType}
	DivideByZeroType      = &Type{Name: "DivideByZeroException", Base: ExceptionType}
	OverflowType          = &Type{Name: "OverflowException", Base: ExceptionType}
	InvalidCastType       = &Type{Name: "InvalidCastException", Base: ExceptionType}
	IndexOutOfRangeType   = &Type{Name: "IndexOutOfRangeException", Base: ExceptionType}
	ArgumentExceptionType = &Type{Name: "ArgumentException", Base: ExceptionType}
	InvalidOperationType  = &Type{Name: "InvalidOperationException", Base: ExceptionType}
	IOExceptionType       = &Type{Name: "IOException", Base: ExceptionType}

	RuntimeType = &Type{Name: "Runtime", Base: ObjectType, Abstract: true, Sealed: true}
	MathType    = &Type{Name: "Math", Base: ObjectType, Abstract: true, Sealed: true}
)

// MaxDelegateParams is the largest parameter count with a shared host
// delegate shape.
const MaxDelegateParams = 8

var (
	actionTypes [MaxDelegateParams + 1]*Type
	funcTypes   [MaxDelegateParams + 1]*Type
)

// ActionType returns the shared delegate shape for n parameters and no
// result, or nil when n is out of range.
func ActionType(n int) *Type {
	if n < 0 || n > MaxDelegateParams {
		return nil
	}
	return actionTypes[n]
}

// FuncType returns the shared delegate shape for n parameters and a
// result; the result type is its last type argument.
func FuncType(n int) *Type {
	if n < 0 || n > MaxDelegateParams {
		return nil
	}
	return funcTypes[n]
}

func params(types ...bytecode.Type) []bytecode.Param {
	ps := make([]bytecode.Param, len(types))
	for i, t := range types {
		ps[i] = bytecode.Param{Name: "a" + strconv.Itoa(i), Type: t}
	}
	return ps
}

func static(name string, ret bytecode.Type, impl Func, ps ...bytecode.Type) *Method {
	return &Method{Name: name, Static: true, Params: params(ps...), Return: ret, Impl: impl}
}

func instance(name string, ret bytecode.Type, impl Func, ps ...bytecode.Type) *Method {
	return &Method{Name: name, Params: params(ps...), Return: ret, Impl: impl}
}

func ctor(impl Func, ps ...bytecode.Type) *Method {
	return &Method{Name: bytecode.CtorName, Params: params(ps...), Impl: impl}
}

func init() {
	object := ObjectType.Ref()
	numeric := NumericExceptionType.Ref()

	ObjectType.addMethod(ctor(func(Env, []any) (any, error) { return nil, nil }))

	ExceptionType.addMethod(ctor(func(_ Env, args []any) (any, error) {
		return &Exception{Type: ExceptionType, Message: str(args[0])}, nil
	}, bytecode.String))
	ExceptionType.addField(&Field{Name: "Message", Type: bytecode.String, Get: func(recv any) any {
		return recv.(*Exception).Message
	}})
	NumericExceptionType.addMethod(ctor(func(_ Env, args []any) (any, error) {
		return NewNumericException(args[0].(int64), str(args[1])), nil
	}, bytecode.Int64, bytecode.String))
	NumericExceptionType.addField(&Field{Name: "Code", Type: bytecode.Int64, Get: func(recv any) any {
		return recv.(*Exception).Code
	}})
	for _, t := range []*Type{NullReferenceType, DivideByZeroType, OverflowType, InvalidCastType,
		IndexOutOfRangeType, ArgumentExceptionType, InvalidOperationType, IOExceptionType} {
		t := t
		t.addMethod(ctor(func(_ Env, args []any) (any, error) {
			return &Exception{Type: t, Message: str(args[0])}, nil
		}, bytecode.String))
	}

	StringType.addMethod(static("Concat", bytecode.String, func(_ Env, args []any) (any, error) {
		return str(args[0]) + str(args[1]), nil
	}, bytecode.String, bytecode.String))
	StringType.addMethod(instance("Substring", bytecode.String, substring, bytecode.Int64, bytecode.Int64))
	StringType.addMethod(instance("get_Length", bytecode.Int64, func(_ Env, args []any) (any, error) {
		s, err := nonNullString(args[0])
		if err != nil {
			return nil, err
		}
		return int64(len([]rune(s))), nil
	}))

	addRuntime(object, numeric)
	addMath()

	for n := 0; n <= MaxDelegateParams; n++ {
		actionTypes[n] = delegateShape("Action`"+strconv.Itoa(n), n, false)
		funcTypes[n] = delegateShape("Func`"+strconv.Itoa(n+1), n, true)
	}
}

// delegateShape builds a generic delegate with n parameters. Its Invoke
// refers to the type arguments positionally.
func delegateShape(name string, n int, result bool) *Type {
	arity := n
	if result {
		arity++
	}
	t := &Type{Name: name, Base: ObjectType, Arity: arity, Sealed: true, Delegate: true}
	ps := make([]bytecode.Param, n)
	for i := range ps {
		ps[i] = bytecode.Param{Name: "a" + strconv.Itoa(i), Type: &bytecode.GenericParam{Name: "T" + strconv.Itoa(i), Index: i}}
	}
	var ret bytecode.Type
	if result {
		ret = &bytecode.GenericParam{Name: "TResult", Index: n}
	}
	t.addMethod(&Method{Name: "Invoke", Params: ps, Return: ret})
	return t
}

func addRuntime(object, numeric bytecode.Type) {
	rt := RuntimeType
	rt.addMethod(static("ToExcpt", numeric, func(_ Env, args []any) (any, error) {
		if e := ToExcpt(args[0]); e != nil {
			return e, nil
		}
		return nil, nil
	}, object))
	rt.addMethod(static("AssertFail", nil, func(_ Env, args []any) (any, error) {
		return nil, NewNumericException(CodeAssertionFailed, str(args[0]))
	}, bytecode.String))
	rt.addMethod(static("CompareString", bytecode.Int32, func(_ Env, args []any) (any, error) {
		a, err := nonNullString(args[0])
		if err != nil {
			return nil, err
		}
		b, err := nonNullString(args[1])
		if err != nil {
			return nil, err
		}
		return int32(strings.Compare(a, b)), nil
	}, bytecode.String, bytecode.String))
	rt.addMethod(static("ArrayCompare", bytecode.Int32, arrayCompare, object, object))
	rt.addMethod(static("ArrayConcat", object, arrayConcat, object, object))
	rt.addMethod(static("ArraySub", object, arraySub, object, bytecode.Int64, bytecode.Int64))
	rt.addMethod(static("ArraySort", nil, arraySort, object))
	rt.addMethod(static("ArrayReverse", nil, arrayReverse, object))
	rt.addMethod(static("ArrayShuffle", nil, arrayShuffle, object))
	rt.addMethod(static("ToStr", bytecode.String, func(_ Env, args []any) (any, error) {
		return ToStr(args[0]), nil
	}, object))
	rt.addMethod(static("Find", bytecode.Int64, find, bytecode.String, bytecode.String, bytecode.Int64))
	rt.addMethod(&Method{
		Name:   "ParseInt",
		Static: true,
		Params: []bytecode.Param{{Name: "s", Type: bytecode.String}, {Name: "ok", Type: bytecode.Bool, ByRef: true}},
		Return: bytecode.Int64,
		Impl: func(_ Env, args []any) (any, error) {
			v, ok := ParseInt(str(args[0]))
			args[1].(*Ref).Set(ok)
			return v, nil
		},
	})
	rt.addMethod(&Method{
		Name:   "ParseFloat",
		Static: true,
		Params: []bytecode.Param{{Name: "s", Type: bytecode.String}, {Name: "ok", Type: bytecode.Bool, ByRef: true}},
		Return: bytecode.Float64,
		Impl: func(_ Env, args []any) (any, error) {
			v, ok := ParseFloat(str(args[0]))
			args[1].(*Ref).Set(ok)
			return v, nil
		},
	})
	rt.addMethod(static("PowChecked", bytecode.Int64, func(_ Env, args []any) (any, error) {
		return powChecked(args[0].(int64), args[1].(int64))
	}, bytecode.Int64, bytecode.Int64))
	addPow[int8](rt, bytecode.Int8)
	addPow[int16](rt, bytecode.Int16)
	addPow[int32](rt, bytecode.Int32)
	addPow[int64](rt, bytecode.Int64)
	addPow[uint8](rt, bytecode.UInt8)
	addPow[uint16](rt, bytecode.UInt16)
	addPow[uint32](rt, bytecode.UInt32)
	addPow[uint64](rt, bytecode.UInt64)
}

// PowName returns the runtime helper computing powers of kind k.
func PowName(k bytecode.Kind) string {
	return "Pow" + strings.ToUpper(k.String()[:1]) + strings.Replace(k.String()[1:], "int", "Int", 1)
}

func addPow[T integer](rt *Type, p *bytecode.Prim) {
	rt.addMethod(static(PowName(p.Kind), p, func(_ Env, args []any) (any, error) {
		return powWrap(args[0].(T), args[1].(T)), nil
	}, p, p))
}

func addMath() {
	addAbs[int8](bytecode.Int8)
	addAbs[int16](bytecode.Int16)
	addAbs[int32](bytecode.Int32)
	addAbs[int64](bytecode.Int64)
	MathType.addMethod(static("Abs", bytecode.Float32, func(_ Env, args []any) (any, error) {
		v := args[0].(float32)
		if v < 0 {
			v = -v
		}
		return v, nil
	}, bytecode.Float32))
	MathType.addMethod(static("Abs", bytecode.Float64, func(_ Env, args []any) (any, error) {
		v := args[0].(float64)
		if v < 0 {
			v = -v
		}
		return v, nil
	}, bytecode.Float64))
	MathType.addMethod(static("Pow", bytecode.Float64, func(_ Env, args []any) (any, error) {
		return powFloat(args[0].(float64), args[1].(float64)), nil
	}, bytecode.Float64, bytecode.Float64))
}

func addAbs[T signed](p *bytecode.Prim) {
	MathType.addMethod(static("Abs", p, func(_ Env, args []any) (any, error) {
		return absChecked(args[0].(T))
	}, p))
}

// Standard returns a registry holding the standard host types.
func Standard() *Registry {
	r := NewRegistry()
	for _, t := range []*Type{
		ObjectType, ValueTypeType, StringType,
		ExceptionType, NumericExceptionType, NullReferenceType, DivideByZeroType,
		OverflowType, InvalidCastType, IndexOutOfRangeType, ArgumentExceptionType,
		InvalidOperationType, IOExceptionType,
		RuntimeType, MathType,
	} {
		r.Register(t)
	}
	for n := 0; n <= MaxDelegateParams; n++ {
		r.Register(actionTypes[n])
		r.Register(funcTypes[n])
	}
	return r
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func nonNullString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", Throw(NullReferenceType, "null string")
	}
	return s, nil
}

func substring(_ Env, args []any) (any, error) {
	s, err := nonNullString(args[0])
	if err != nil {
		return nil, err
	}
	rs := []rune(s)
	start, n := args[1].(int64), args[2].(int64)
	if n < 0 {
		n = int64(len(rs)) - start
	}
	if start < 0 || n < 0 || start+n > int64(len(rs)) {
		return nil, Throw(IndexOutOfRangeType, "substring [%d, %d) of length %d", start, start+n, len(rs))
	}
	return string(rs[start : start+n]), nil
}

func find(_ Env, args []any) (any, error) {
	s, err := nonNullString(args[0])
	if err != nil {
		return nil, err
	}
	pat, err := nonNullString(args[1])
	if err != nil {
		return nil, err
	}
	rs := []rune(s)
	start := args[2].(int64)
	if start < 0 {
		start = 0
	}
	if start > int64(len(rs)) {
		return int64(-1), nil
	}
	i := strings.Index(string(rs[start:]), pat)
	if i < 0 {
		return int64(-1), nil
	}
	return start + int64(len([]rune(string(rs[start:])[:i]))), nil
}
