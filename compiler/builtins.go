// Map-based dispatch registry for built-in member functions of arrays and
// primitives. Each (receiver class, name) pair registers the function that
// lowers the call.

package compiler

import (
	"github.com/yvt/queen-compiler-sub002/bytecode"
	"github.com/yvt/queen-compiler-sub002/host"
	"github.com/yvt/queen-compiler-sub002/it"
)

// recvClass groups receivers sharing a set of built-ins.
type recvClass uint8

const (
	recvArray recvClass = iota
	recvString
	recvInt
	recvFloat
	recvBool
)

type builtinKey struct {
	recv recvClass
	name string
}

// builtinLowerer emits a built-in call. k is the receiver's kind, or
// KindNone for arrays.
type builtinLowerer func(e *funcEmitter, x *it.BuiltinCall, k bytecode.Kind) error

// builtinRegistry maps receiver classes and names to lowering functions.
var builtinRegistry = map[builtinKey]builtinLowerer{}

// registerBuiltin registers a lowering function for name on class.
func registerBuiltin(class recvClass, name string, fn builtinLowerer) {
	builtinRegistry[builtinKey{class, name}] = fn
}

func init() {
	registerBuiltin(recvArray, "len", lowerArrayLen)
	registerBuiltin(recvArray, "sort", arrayHelper("ArraySort"))
	registerBuiltin(recvArray, "reverse", arrayHelper("ArrayReverse"))
	registerBuiltin(recvArray, "shuffle", arrayHelper("ArrayShuffle"))
	registerBuiltin(recvArray, "sub", lowerArraySub)

	registerBuiltin(recvString, "len", lowerStringLen)
	registerBuiltin(recvString, "sub", lowerStringSub)
	registerBuiltin(recvString, "find", lowerStringFind)
	registerBuiltin(recvString, "toInt", parseHelper("ParseInt"))
	registerBuiltin(recvString, "toFloat", parseHelper("ParseFloat"))

	registerBuiltin(recvInt, "abs", lowerAbs)
	registerBuiltin(recvInt, "and", bitwise(bytecode.OAND))
	registerBuiltin(recvInt, "or", bitwise(bytecode.OOR))
	registerBuiltin(recvInt, "xor", bitwise(bytecode.OXOR))
	registerBuiltin(recvInt, "not", lowerNot)
	registerBuiltin(recvInt, "shl", bitwise(bytecode.OSHL))
	registerBuiltin(recvInt, "shr", bitwise(bytecode.OSHRUN))
	registerBuiltin(recvInt, "sar", bitwise(bytecode.OSHR))
	registerBuiltin(recvInt, it.ToStrName, lowerToStr)

	registerBuiltin(recvFloat, "abs", lowerAbs)
	registerBuiltin(recvFloat, it.ToStrName, lowerToStr)

	registerBuiltin(recvBool, it.ToStrName, lowerToStr)
}

func classify(t it.Type) (recvClass, bytecode.Kind, bool) {
	if _, ok := t.(*it.ArrayType); ok {
		return recvArray, bytecode.KindNone, true
	}
	k, ok := kindOf(t)
	switch {
	case !ok:
		return 0, k, false
	case k == bytecode.KindString:
		return recvString, k, true
	case k == bytecode.KindBool:
		return recvBool, k, true
	case k.IsFloat():
		return recvFloat, k, true
	}
	return recvInt, k, true
}

func (e *funcEmitter) builtin(x *it.BuiltinCall) (exprResult, error) {
	class, k, ok := classify(x.Recv.Type())
	if !ok {
		return exprResult{}, internalf(nil, "built-in %s on %v", x.Name, x.Recv.Type())
	}
	fn, ok := builtinRegistry[builtinKey{class, x.Name}]
	if !ok {
		return exprResult{}, internalf(nil, "no built-in %s on %v", x.Name, x.Recv.Type())
	}
	return exprResult{}, fn(e, x, k)
}

// emitHost emits the receiver and the arguments, then calls m.
func (e *funcEmitter) emitHost(x *it.BuiltinCall, m bytecode.Method) error {
	if err := e.value(x.Recv); err != nil {
		return err
	}
	if err := e.values(x.Args); err != nil {
		return err
	}
	e.g.Emit(bytecode.InstM(e.callOp(m, false), m))
	return nil
}

func lowerArrayLen(e *funcEmitter, x *it.BuiltinCall, _ bytecode.Kind) error {
	if err := e.value(x.Recv); err != nil {
		return err
	}
	e.g.Emit(bytecode.InstN(bytecode.OLDLEN, 0))
	return nil
}

func arrayHelper(name string) builtinLowerer {
	return func(e *funcEmitter, x *it.BuiltinCall, _ bytecode.Kind) error {
		m, err := e.c.hostCall(host.RuntimeType, name, e.c.hostRef(host.ObjectType))
		if err != nil {
			return err
		}
		return e.emitHost(x, m)
	}
}

func lowerArraySub(e *funcEmitter, x *it.BuiltinCall, _ bytecode.Kind) error {
	m, err := e.c.hostCall(host.RuntimeType, "ArraySub", e.c.hostRef(host.ObjectType), bytecode.Int64, bytecode.Int64)
	if err != nil {
		return err
	}
	t, err := e.c.Resolve(x.Recv.Type())
	if err != nil {
		return err
	}
	if err := e.emitHost(x, m); err != nil {
		return err
	}
	e.g.Emit(bytecode.InstT(bytecode.OCASTCLASS, t))
	return nil
}

func lowerStringLen(e *funcEmitter, x *it.BuiltinCall, _ bytecode.Kind) error {
	m, err := e.c.hostCall(host.StringType, "get_Length")
	if err != nil {
		return err
	}
	return e.emitHost(x, m)
}

func lowerStringSub(e *funcEmitter, x *it.BuiltinCall, _ bytecode.Kind) error {
	m, err := e.c.hostCall(host.StringType, "Substring", bytecode.Int64, bytecode.Int64)
	if err != nil {
		return err
	}
	return e.emitHost(x, m)
}

// lowerStringFind searches from the optional start index, 0 by default.
func lowerStringFind(e *funcEmitter, x *it.BuiltinCall, _ bytecode.Kind) error {
	m, err := e.c.hostCall(host.RuntimeType, "Find", bytecode.String, bytecode.String, bytecode.Int64)
	if err != nil {
		return err
	}
	if len(x.Args) < 1 || len(x.Args) > 2 {
		return internalf(nil, "find takes 1 or 2 arguments, got %d", len(x.Args))
	}
	if err := e.value(x.Recv); err != nil {
		return err
	}
	if err := e.values(x.Args); err != nil {
		return err
	}
	if len(x.Args) == 1 {
		e.g.Emit(bytecode.ConstI(bytecode.KindInt64, 0))
	}
	e.g.Emit(bytecode.InstM(bytecode.OCALL, m))
	return nil
}

// parseHelper converts a string, reporting success through the optional
// by-reference flag argument.
func parseHelper(name string) builtinLowerer {
	return func(e *funcEmitter, x *it.BuiltinCall, _ bytecode.Kind) error {
		m, err := e.c.hostCall(host.RuntimeType, name, bytecode.String, bytecode.Bool)
		if err != nil {
			return err
		}
		if err := e.value(x.Recv); err != nil {
			return err
		}
		var tmp int
		switch len(x.Args) {
		case 0:
			tmp = e.frame.AllocTemp(bytecode.Bool)
			e.g.Emit(bytecode.InstN(bytecode.OLDLOCA, tmp))
		case 1:
			if tmp, err = e.address(x.Args[0]); err != nil {
				return err
			}
		default:
			return internalf(nil, "%s takes at most 1 argument, got %d", name, len(x.Args))
		}
		e.g.Emit(bytecode.InstM(bytecode.OCALL, m))
		if tmp >= 0 {
			e.frame.Release(tmp)
		}
		return nil
	}
}

// lowerAbs calls Math.Abs of the receiver's exact width. The generalized
// integer uses the int64 overload; unsigned values are their own absolute
// value.
func lowerAbs(e *funcEmitter, x *it.BuiltinCall, k bytecode.Kind) error {
	if k.IsUnsigned() {
		return e.value(x.Recv)
	}
	p := bytecode.PrimOf(k)
	m, err := e.c.hostCall(host.MathType, "Abs", p)
	if err != nil {
		return err
	}
	return e.emitHost(x, m)
}

func bitwise(op bytecode.Op) builtinLowerer {
	return func(e *funcEmitter, x *it.BuiltinCall, _ bytecode.Kind) error {
		if len(x.Args) != 1 {
			return internalf(nil, "%s takes 1 argument, got %d", x.Name, len(x.Args))
		}
		if err := e.value(x.Recv); err != nil {
			return err
		}
		if err := e.value(x.Args[0]); err != nil {
			return err
		}
		e.g.Op(op)
		return nil
	}
}

func lowerNot(e *funcEmitter, x *it.BuiltinCall, _ bytecode.Kind) error {
	if err := e.value(x.Recv); err != nil {
		return err
	}
	e.g.Op(bytecode.ONOT)
	return nil
}

func lowerToStr(e *funcEmitter, x *it.BuiltinCall, k bytecode.Kind) error {
	m, err := e.c.hostCall(host.RuntimeType, "ToStr", e.c.hostRef(host.ObjectType))
	if err != nil {
		return err
	}
	if err := e.value(x.Recv); err != nil {
		return err
	}
	e.g.Emit(bytecode.InstT(bytecode.OBOX, bytecode.PrimOf(k)))
	e.g.Emit(bytecode.InstM(bytecode.OCALL, m))
	return nil
}
