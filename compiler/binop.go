package compiler

import (
	"github.com/yvt/queen-compiler-sub002/bytecode"
	"github.com/yvt/queen-compiler-sub002/host"
	"github.com/yvt/queen-compiler-sub002/it"
)

// binary emits the three operator families: arithmetic on primitives,
// concatenation, and comparisons.
func (e *funcEmitter) binary(x *it.Binary) (exprResult, error) {
	switch {
	case x.Op.IsComparison():
		return e.compare(x)
	case x.Op == it.OpConcat:
		return exprResult{}, e.concat(x)
	}
	k, ok := kindOf(x.L.Type())
	if !ok || !k.IsNumeric() {
		return exprResult{}, internalf(nil, "operator %s on %v", x.Op, x.L.Type())
	}
	pk, _ := it.PrimOf(x.L.Type())
	if x.Op == it.OpPow {
		return exprResult{}, e.pow(x, pk, k)
	}
	if err := e.value(x.L); err != nil {
		return exprResult{}, err
	}
	if err := e.value(x.R); err != nil {
		return exprResult{}, err
	}
	// only the generalized integer traps on overflow
	checked := pk == it.PrimInteger
	var op bytecode.Op
	switch x.Op {
	case it.OpAdd:
		op = pick(checked, bytecode.OADDOVF, bytecode.OADD)
	case it.OpSub:
		op = pick(checked, bytecode.OSUBOVF, bytecode.OSUB)
	case it.OpMul:
		op = pick(checked, bytecode.OMULOVF, bytecode.OMUL)
	case it.OpDiv:
		op = pick(k.IsUnsigned(), bytecode.ODIVUN, bytecode.ODIV)
	case it.OpMod:
		op = pick(k.IsUnsigned(), bytecode.OREMUN, bytecode.OREM)
	default:
		return exprResult{}, internalf(nil, "unexpected operator %s", x.Op)
	}
	e.g.Op(op)
	return exprResult{}, nil
}

func pick(cond bool, a, b bytecode.Op) bytecode.Op {
	if cond {
		return a
	}
	return b
}

// pow calls the power helper for the operand width. Floats go through
// Math.Pow in double precision.
func (e *funcEmitter) pow(x *it.Binary, pk it.PrimKind, k bytecode.Kind) error {
	if k.IsFloat() {
		for _, operand := range []it.Expr{x.L, x.R} {
			if err := e.value(operand); err != nil {
				return err
			}
			if k == bytecode.KindFloat32 {
				e.g.Emit(bytecode.Conv(bytecode.KindFloat64))
			}
		}
		m, err := e.c.hostCall(host.MathType, "Pow", bytecode.Float64, bytecode.Float64)
		if err != nil {
			return err
		}
		e.g.Emit(bytecode.InstM(bytecode.OCALL, m))
		if k == bytecode.KindFloat32 {
			e.g.Emit(bytecode.Conv(bytecode.KindFloat32))
		}
		return nil
	}
	if err := e.value(x.L); err != nil {
		return err
	}
	if err := e.value(x.R); err != nil {
		return err
	}
	var m bytecode.Method
	var err error
	if pk == it.PrimInteger {
		m, err = e.c.hostCall(host.RuntimeType, "PowChecked", bytecode.Int64, bytecode.Int64)
	} else {
		p := bytecode.PrimOf(k)
		m, err = e.c.hostCall(host.RuntimeType, host.PowName(k), p, p)
	}
	if err != nil {
		return err
	}
	e.g.Emit(bytecode.InstM(bytecode.OCALL, m))
	return nil
}

func (e *funcEmitter) concat(x *it.Binary) error {
	if err := e.value(x.L); err != nil {
		return err
	}
	if err := e.value(x.R); err != nil {
		return err
	}
	if k, ok := kindOf(x.L.Type()); ok && k == bytecode.KindString {
		m, err := e.c.hostCall(host.StringType, "Concat", bytecode.String, bytecode.String)
		if err != nil {
			return err
		}
		e.g.Emit(bytecode.InstM(bytecode.OCALL, m))
		return nil
	}
	if _, ok := x.L.Type().(*it.ArrayType); !ok {
		return internalf(nil, "concatenation of %v", x.L.Type())
	}
	obj := e.c.hostRef(host.ObjectType)
	m, err := e.c.hostCall(host.RuntimeType, "ArrayConcat", obj, obj)
	if err != nil {
		return err
	}
	t, err := e.c.Resolve(x.L.Type())
	if err != nil {
		return err
	}
	e.g.Emit(bytecode.InstM(bytecode.OCALL, m))
	e.g.Emit(bytecode.InstT(bytecode.OCASTCLASS, t))
	return nil
}

// compare emits a comparison. Primitives compare directly; strings, arrays
// and classes first reduce to a three-way ordering that is then compared
// with zero.
func (e *funcEmitter) compare(x *it.Binary) (exprResult, error) {
	if x.Op == it.OpRefEq || x.Op == it.OpRefNe {
		if err := e.value(x.L); err != nil {
			return exprResult{}, err
		}
		if err := e.value(x.R); err != nil {
			return exprResult{}, err
		}
		e.g.Op(bytecode.OCEQ)
		return exprResult{negated: x.Op == it.OpRefNe}, nil
	}
	t := x.L.Type()
	if _, null := t.(*it.NullType); null {
		t = x.R.Type()
	}
	k, prim := kindOf(t)
	if prim && k != bytecode.KindString {
		if err := e.value(x.L); err != nil {
			return exprResult{}, err
		}
		if err := e.value(x.R); err != nil {
			return exprResult{}, err
		}
		return primCompare(e.g, x.Op, k), nil
	}

	var m bytecode.Method
	var err error
	zero := bytecode.KindInt32
	switch {
	case prim:
		m, err = e.c.hostCall(host.RuntimeType, "CompareString", bytecode.String, bytecode.String)
	case isArray(t):
		obj := e.c.hostRef(host.ObjectType)
		m, err = e.c.hostCall(host.RuntimeType, "ArrayCompare", obj, obj)
	default:
		cmp := lookupMember(t, it.CmpName)
		if cmp == nil {
			return exprResult{}, internalf(t, "ordering of a type without %s", it.CmpName)
		}
		m, err = e.c.Method(cmp)
		zero = bytecode.KindInt64
	}
	if err != nil {
		return exprResult{}, err
	}
	if err := e.value(x.L); err != nil {
		return exprResult{}, err
	}
	if err := e.value(x.R); err != nil {
		return exprResult{}, err
	}
	e.g.Emit(bytecode.InstM(e.callOp(m, false), m))
	e.g.Emit(bytecode.ConstI(zero, 0))
	return primCompare(e.g, x.Op, zero), nil
}

func isArray(t it.Type) bool {
	_, ok := t.(*it.ArrayType)
	return ok
}

// primCompare compares the two values of kind k on the stack. The
// inverse operators are the positive ones marked negated; for floats the
// positive counterpart is the unordered compare, so each operator keeps
// its IEEE meaning when an operand is NaN.
func primCompare(g *bytecode.Gen, op it.BinOp, k bytecode.Kind) exprResult {
	un := k.IsUnsigned() || k.IsFloat()
	lt := pick(k.IsUnsigned(), bytecode.OCLTUN, bytecode.OCLT)
	gt := pick(k.IsUnsigned(), bytecode.OCGTUN, bytecode.OCGT)
	switch op {
	case it.OpEq:
		g.Op(bytecode.OCEQ)
	case it.OpNe:
		g.Op(bytecode.OCEQ)
		return exprResult{negated: true}
	case it.OpLt:
		g.Op(lt)
	case it.OpGt:
		g.Op(gt)
	case it.OpLe:
		g.Op(pick(un, bytecode.OCGTUN, bytecode.OCGT))
		return exprResult{negated: true}
	case it.OpGe:
		g.Op(pick(un, bytecode.OCLTUN, bytecode.OCLT))
		return exprResult{negated: true}
	}
	return exprResult{}
}

// lookupMember finds name on a class or on an instantiation of one, with
// the instantiation's view of members declared by its definition.
func lookupMember(t it.Type, name string) it.Member {
	switch t := t.(type) {
	case *it.ClassType:
		if t.Entity != nil {
			return t.Entity.LookupMember(name)
		}
	case *it.InstantiatedType:
		def, ok := t.Def.(*it.ClassType)
		if !ok || def.Entity == nil {
			return nil
		}
		if m := def.Entity.Member(name); m != nil {
			return t.Mutate(m)
		}
		return def.Entity.LookupMember(name)
	}
	return nil
}
