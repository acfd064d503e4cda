package compiler

import (
	"encoding/binary"
	"math"

	"github.com/yvt/queen-compiler-sub002/bytecode"
	"github.com/yvt/queen-compiler-sub002/host"
	"github.com/yvt/queen-compiler-sub002/it"
)

// blobThreshold is the smallest constant array literal initialized from a
// packed image.
const blobThreshold = 4

// value emits x and materializes a negated result.
func (e *funcEmitter) value(x it.Expr) error {
	r, err := e.expr(x)
	if err != nil {
		return err
	}
	if r.negated {
		e.normalize()
	}
	return nil
}

func (e *funcEmitter) values(xs []it.Expr) error {
	for _, x := range xs {
		if err := e.value(x); err != nil {
			return err
		}
	}
	return nil
}

// normalize replaces the negated boolean on the stack by its complement.
func (e *funcEmitter) normalize() {
	f := e.g.DefineLabel()
	end := e.g.DefineLabel()
	e.g.Branch(bytecode.OBRTRUE, f)
	e.g.Emit(bytecode.ConstI(bytecode.KindBool, 1))
	e.g.Branch(bytecode.OBR, end)
	e.mark(f)
	e.g.Emit(bytecode.ConstI(bytecode.KindBool, 0))
	e.mark(end)
}

// branch jumps to target when x evaluates to onTrue and falls through
// otherwise. Negations and short-circuit operators are folded into the
// branch sense.
func (e *funcEmitter) branch(x it.Expr, target bytecode.Label, onTrue bool) error {
	switch x := x.(type) {
	case *it.Unary:
		if x.Op == it.OpNot {
			return e.branch(x.X, target, !onTrue)
		}
	case *it.Logical:
		if (x.Op == it.OpAnd) == onTrue {
			skip := e.g.DefineLabel()
			if err := e.branch(x.L, skip, !onTrue); err != nil {
				return err
			}
			if err := e.branch(x.R, target, onTrue); err != nil {
				return err
			}
			e.mark(skip)
			return nil
		}
		if err := e.branch(x.L, target, onTrue); err != nil {
			return err
		}
		return e.branch(x.R, target, onTrue)
	case *it.Const:
		if b, ok := x.Value.(bool); ok {
			if b == onTrue {
				e.g.Branch(bytecode.OBR, target)
			}
			return nil
		}
	}
	r, err := e.expr(x)
	if err != nil {
		return err
	}
	if onTrue != r.negated {
		e.g.Branch(bytecode.OBRTRUE, target)
	} else {
		e.g.Branch(bytecode.OBRFALSE, target)
	}
	return nil
}

// expr emits x, leaving its value on the stack.
func (e *funcEmitter) expr(x it.Expr) (exprResult, error) {
	var err error
	switch x := x.(type) {
	case *it.Const:
		err = e.constant(x.T, x.Value)
	case *it.Null:
		e.g.Op(bytecode.OLDNULL)
	case *it.Default:
		err = e.zero(x.T)
	case *it.LocalRef:
		if x.Var.Const {
			if x.Var.Value == nil {
				return exprResult{}, internalf(x.Var, "constant without a value")
			}
			return e.expr(x.Var.Value)
		}
		var slot int
		if slot, err = e.local(x.Var); err == nil {
			e.g.Emit(bytecode.InstN(bytecode.OLDLOC, slot))
		}
	case *it.ParamRef:
		e.g.Emit(bytecode.InstN(bytecode.OLDARG, e.argIndex(x.Param)))
		if x.Param.ByRef {
			e.g.Op(bytecode.OLDIND)
		}
	case *it.This:
		if e.md.IsStatic() {
			return exprResult{}, internalf(e.node(), "receiver used in a static method")
		}
		e.g.Emit(bytecode.InstN(bytecode.OLDARG, 0))
	case *it.FieldRef:
		err = e.loadField(x)
	case *it.GlobalRef:
		var f bytecode.Field
		if f, err = e.c.Field(x.Var); err == nil {
			e.g.Emit(bytecode.InstF(bytecode.OLDSFLD, f))
		}
	case *it.PropertyRef:
		err = e.loadProperty(x)
	case *it.Index:
		if err = e.value(x.Array); err == nil {
			if err = e.values(x.Indices); err == nil {
				e.g.Emit(bytecode.InstN(bytecode.OLDELEM, len(x.Indices)))
			}
		}
	case *it.Call:
		err = e.call(x)
	case *it.Invoke:
		err = e.invoke(x)
	case *it.FuncRef:
		err = e.funcRef(x)
	case *it.New:
		err = e.newObject(x)
	case *it.NewArray:
		err = e.newArray(x)
	case *it.ArrayLit:
		err = e.arrayLit(x)
	case *it.Binary:
		return e.binary(x)
	case *it.Unary:
		return e.unary(x)
	case *it.Logical:
		err = e.logicalValue(x)
	case *it.Convert:
		err = e.convert(x)
	case *it.Is:
		return e.is(x)
	case *it.Cond:
		err = e.cond(x)
	case *it.BuiltinCall:
		return e.builtin(x)
	default:
		err = internalf(nil, "unexpected expression %T", x)
	}
	return exprResult{}, err
}

func (e *funcEmitter) constant(t it.Type, v any) error {
	k, ok := kindOf(t)
	if !ok {
		if v != nil {
			return internalf(t, "constant of non-primitive type")
		}
		e.g.Op(bytecode.OLDNULL)
		return nil
	}
	if k == bytecode.KindString {
		if v == nil {
			e.g.Op(bytecode.OLDNULL)
			return nil
		}
		s, ok := v.(string)
		if !ok {
			return internalf(t, "string constant holds %T", v)
		}
		e.g.Emit(bytecode.ConstS(s))
		return nil
	}
	lit, err := coerceLiteral(v, k)
	if err != nil {
		return internalWrap(t, err, "constant")
	}
	e.g.Emit(constInst(k, lit))
	return nil
}

// constInst loads lit, a value of kind k as produced by coerceLiteral.
func constInst(k bytecode.Kind, lit any) bytecode.Inst {
	switch v := lit.(type) {
	case bool:
		if v {
			return bytecode.ConstI(k, 1)
		}
		return bytecode.ConstI(k, 0)
	case float32:
		return bytecode.ConstR(k, float64(v))
	case float64:
		return bytecode.ConstR(k, v)
	case int8:
		return bytecode.ConstI(k, int64(v))
	case int16:
		return bytecode.ConstI(k, int64(v))
	case int32:
		return bytecode.ConstI(k, int64(v))
	case int64:
		return bytecode.ConstI(k, v)
	case uint8:
		return bytecode.ConstI(k, int64(v))
	case uint16:
		return bytecode.ConstI(k, int64(v))
	case uint32:
		return bytecode.ConstI(k, int64(v))
	case uint64:
		return bytecode.ConstI(k, int64(v))
	}
	return bytecode.Inst0(bytecode.OLDNULL)
}

// zero loads the default value of t.
func (e *funcEmitter) zero(t it.Type) error {
	if k, ok := kindOf(t); ok {
		switch {
		case k == bytecode.KindString:
			e.g.Op(bytecode.OLDNULL)
		case k.IsFloat():
			e.g.Emit(bytecode.ConstR(k, 0))
		default:
			e.g.Emit(bytecode.ConstI(k, 0))
		}
		return nil
	}
	if _, ok := t.(*it.GenericParameter); ok {
		// a fresh local holds the default of whatever the parameter
		// is instantiated with
		h, err := e.c.Resolve(t)
		if err != nil {
			return err
		}
		slot := e.frame.AllocLocal("$default", h)
		e.g.Emit(bytecode.InstN(bytecode.OLDLOC, slot))
		return nil
	}
	e.g.Op(bytecode.OLDNULL)
	return nil
}

func (e *funcEmitter) loadField(x *it.FieldRef) error {
	f, err := e.c.Field(x.Field)
	if err != nil {
		return err
	}
	if f.IsStatic() {
		e.g.Emit(bytecode.InstF(bytecode.OLDSFLD, f))
		return nil
	}
	if x.Recv == nil {
		return internalf(x.Field, "instance field read without a receiver")
	}
	if err := e.value(x.Recv); err != nil {
		return err
	}
	e.g.Emit(bytecode.InstF(bytecode.OLDFLD, f))
	return nil
}

func (e *funcEmitter) loadProperty(x *it.PropertyRef) error {
	get, _, err := e.c.accessors(x.Prop)
	if err != nil {
		return err
	}
	if get == nil {
		return internalf(x.Prop, "property has no getter")
	}
	if !get.IsStatic() {
		if x.Recv == nil {
			return internalf(x.Prop, "instance property read without a receiver")
		}
		if err := e.value(x.Recv); err != nil {
			return err
		}
	}
	if err := e.values(x.Index); err != nil {
		return err
	}
	e.g.Emit(bytecode.InstM(e.callOp(get, false), get))
	return nil
}

// callOp selects virtual dispatch for instance methods that can be
// overridden.
func (e *funcEmitter) callOp(m bytecode.Method, nonVirtual bool) bytecode.Op {
	if m.IsStatic() || nonVirtual || !isVirtual(m) {
		return bytecode.OCALL
	}
	return bytecode.OCALLVIRT
}

func isVirtual(m bytecode.Method) bool {
	switch m := m.(type) {
	case *bytecode.MethodDef:
		return m.Attrs&bytecode.MethodVirtual != 0
	case *bytecode.MethodOn:
		return m.Def.Attrs&bytecode.MethodVirtual != 0
	case *bytecode.MethodInst:
		return isVirtual(m.Method)
	case *bytecode.HostMethod:
		return !m.Static && m.Name != bytecode.CtorName
	}
	return false
}

// args emits call arguments for the formal parameters ps. It returns the
// temporaries holding copies of non-addressable by-reference arguments,
// which the caller releases after the call.
func (e *funcEmitter) args(ps []bytecode.Param, xs []it.Expr) ([]int, error) {
	if len(ps) != len(xs) {
		return nil, internalf(nil, "%d arguments for %d parameters", len(xs), len(ps))
	}
	var temps []int
	for i, x := range xs {
		if !ps[i].ByRef {
			if err := e.value(x); err != nil {
				return nil, err
			}
			continue
		}
		tmp, err := e.address(x)
		if err != nil {
			return nil, err
		}
		if tmp >= 0 {
			temps = append(temps, tmp)
		}
	}
	return temps, nil
}

func (e *funcEmitter) release(temps []int) {
	for _, t := range temps {
		e.frame.Release(t)
	}
}

// address loads the address of x. Expressions without a storage location
// are copied into a temporary whose address is passed instead; writes
// through it are not copied back. The temporary's slot is returned, or -1.
func (e *funcEmitter) address(x it.Expr) (int, error) {
	switch x := x.(type) {
	case *it.LocalRef:
		if !x.Var.Const {
			slot, err := e.local(x.Var)
			if err != nil {
				return -1, err
			}
			e.g.Emit(bytecode.InstN(bytecode.OLDLOCA, slot))
			return -1, nil
		}
	case *it.ParamRef:
		idx := e.argIndex(x.Param)
		if x.Param.ByRef {
			e.g.Emit(bytecode.InstN(bytecode.OLDARG, idx))
		} else {
			e.g.Emit(bytecode.InstN(bytecode.OLDARGA, idx))
		}
		return -1, nil
	case *it.FieldRef:
		f, err := e.c.Field(x.Field)
		if err != nil {
			return -1, err
		}
		if _, isHost := f.(*bytecode.HostField); isHost {
			break
		}
		if f.IsStatic() {
			e.g.Emit(bytecode.InstF(bytecode.OLDSFLDA, f))
			return -1, nil
		}
		if err := e.value(x.Recv); err != nil {
			return -1, err
		}
		e.g.Emit(bytecode.InstF(bytecode.OLDFLDA, f))
		return -1, nil
	case *it.GlobalRef:
		f, err := e.c.Field(x.Var)
		if err != nil {
			return -1, err
		}
		e.g.Emit(bytecode.InstF(bytecode.OLDSFLDA, f))
		return -1, nil
	case *it.Index:
		if err := e.value(x.Array); err != nil {
			return -1, err
		}
		if err := e.values(x.Indices); err != nil {
			return -1, err
		}
		e.g.Emit(bytecode.InstN(bytecode.OLDELEMA, len(x.Indices)))
		return -1, nil
	}
	t, err := e.c.Resolve(x.Type())
	if err != nil {
		return -1, err
	}
	if t == nil {
		return -1, internalf(nil, "by-reference argument of no type")
	}
	if err := e.value(x); err != nil {
		return -1, err
	}
	tmp := e.frame.AllocTemp(t)
	e.g.Emit(bytecode.InstN(bytecode.OSTLOC, tmp))
	e.g.Emit(bytecode.InstN(bytecode.OLDLOCA, tmp))
	return tmp, nil
}

func (e *funcEmitter) call(x *it.Call) error {
	m, err := e.c.Method(x.Func)
	if err != nil {
		return err
	}
	if len(x.TypeArgs) > 0 {
		targs, err := e.c.resolveAll(x.TypeArgs)
		if err != nil {
			return err
		}
		mi, err := e.c.mod.InstantiateMethod(m, targs...)
		if err != nil {
			return internalWrap(x.Func, err, "instantiate %s", m)
		}
		m = mi
	}
	if !m.IsStatic() {
		if x.Recv == nil {
			return internalf(x.Func, "instance call without a receiver")
		}
		if err := e.value(x.Recv); err != nil {
			return err
		}
	}
	ps, _ := m.Signature()
	temps, err := e.args(ps, x.Args)
	if err != nil {
		return err
	}
	e.g.Emit(bytecode.InstM(e.callOp(m, x.NonVirtual), m))
	e.release(temps)
	return nil
}

func (e *funcEmitter) invoke(x *it.Invoke) error {
	ft, ok := x.Fn.Type().(*it.FunctionType)
	if !ok {
		return internalf(nil, "invoke of %v", x.Fn.Type())
	}
	m, err := e.c.invokeMethod(ft)
	if err != nil {
		return err
	}
	if err := e.value(x.Fn); err != nil {
		return err
	}
	ps, _ := m.Signature()
	temps, err := e.args(ps, x.Args)
	if err != nil {
		return err
	}
	e.g.Emit(bytecode.InstM(bytecode.OCALLVIRT, m))
	e.release(temps)
	return nil
}

func (e *funcEmitter) funcRef(x *it.FuncRef) error {
	m, err := e.c.Method(x.Func)
	if err != nil {
		return err
	}
	dt, err := e.c.Resolve(x.T)
	if err != nil {
		return err
	}
	if m.IsStatic() {
		e.g.Op(bytecode.OLDNULL)
	} else {
		if x.Recv == nil {
			return internalf(x.Func, "instance function value without a receiver")
		}
		if err := e.value(x.Recv); err != nil {
			return err
		}
	}
	e.g.Emit(bytecode.NewDelegate(dt, m))
	return nil
}

func (e *funcEmitter) newObject(x *it.New) error {
	ctor, err := e.c.constructor(x.T, x.Ctor)
	if err != nil {
		return err
	}
	ps, _ := ctor.Signature()
	temps, err := e.args(ps, x.Args)
	if err != nil {
		return err
	}
	e.g.Emit(bytecode.InstM(bytecode.ONEWOBJ, ctor))
	e.release(temps)
	return nil
}

func (e *funcEmitter) newArray(x *it.NewArray) error {
	if len(x.Lens) != x.T.Rank {
		return internalf(x.T, "%d lengths for a rank %d array", len(x.Lens), x.T.Rank)
	}
	elem, err := e.c.Resolve(x.T.Elem)
	if err != nil {
		return err
	}
	if err := e.values(x.Lens); err != nil {
		return err
	}
	e.g.Emit(bytecode.NewArr(elem, x.T.Rank))
	return nil
}

// arrayLit builds a one-dimensional array. Literals of enough numeric
// constants are filled from a packed image first; only the elements that
// differ from the default are then stored individually.
func (e *funcEmitter) arrayLit(x *it.ArrayLit) error {
	elem, err := e.c.Resolve(x.T.Elem)
	if err != nil {
		return err
	}
	e.g.Emit(bytecode.ConstI(bytecode.KindInt64, int64(len(x.Elems))))
	e.g.Emit(bytecode.NewArr(elem, 1))

	k, _ := kindOf(x.T.Elem)
	blob, lits, ok := packLiteral(k, x.Elems)
	if !ok {
		for i, el := range x.Elems {
			if err := e.storeElem(i, el); err != nil {
				return err
			}
		}
		return nil
	}
	e.g.Op(bytecode.ODUP)
	e.g.Emit(bytecode.InitBlob(blob))
	zero := host.Zero(k)
	for i, lit := range lits {
		if lit == zero {
			continue
		}
		e.g.Op(bytecode.ODUP)
		e.g.Emit(bytecode.ConstI(bytecode.KindInt64, int64(i)))
		e.g.Emit(constInst(k, lit))
		e.g.Emit(bytecode.InstN(bytecode.OSTELEM, 1))
	}
	return nil
}

func (e *funcEmitter) storeElem(i int, el it.Expr) error {
	e.g.Op(bytecode.ODUP)
	e.g.Emit(bytecode.ConstI(bytecode.KindInt64, int64(i)))
	if err := e.value(el); err != nil {
		return err
	}
	e.g.Emit(bytecode.InstN(bytecode.OSTELEM, 1))
	return nil
}

// packLiteral returns the little-endian image of elems and their coerced
// values when every element is a numeric constant and there are enough of
// them.
func packLiteral(k bytecode.Kind, elems []it.Expr) ([]byte, []any, bool) {
	if len(elems) < blobThreshold || !k.IsNumeric() {
		return nil, nil, false
	}
	buf := make([]byte, 0, len(elems)*k.Size())
	lits := make([]any, len(elems))
	for i, el := range elems {
		c, ok := el.(*it.Const)
		if !ok {
			return nil, nil, false
		}
		lit, err := coerceLiteral(c.Value, k)
		if err != nil {
			return nil, nil, false
		}
		lits[i] = lit
		switch v := lit.(type) {
		case int8:
			buf = append(buf, byte(v))
		case uint8:
			buf = append(buf, v)
		case int16:
			buf = binary.LittleEndian.AppendUint16(buf, uint16(v))
		case uint16:
			buf = binary.LittleEndian.AppendUint16(buf, v)
		case int32:
			buf = binary.LittleEndian.AppendUint32(buf, uint32(v))
		case uint32:
			buf = binary.LittleEndian.AppendUint32(buf, v)
		case int64:
			buf = binary.LittleEndian.AppendUint64(buf, uint64(v))
		case uint64:
			buf = binary.LittleEndian.AppendUint64(buf, v)
		case float32:
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		case float64:
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
		default:
			return nil, nil, false
		}
	}
	return buf, lits, true
}

func (e *funcEmitter) unary(x *it.Unary) (exprResult, error) {
	if x.Op == it.OpNot {
		r, err := e.expr(x.X)
		return exprResult{negated: !r.negated}, err
	}
	k, ok := kindOf(x.X.Type())
	if !ok || !k.IsNumeric() {
		return exprResult{}, internalf(nil, "negation of %v", x.X.Type())
	}
	if pk, _ := it.PrimOf(x.X.Type()); pk == it.PrimInteger {
		e.g.Emit(bytecode.ConstI(bytecode.KindInt64, 0))
		if err := e.value(x.X); err != nil {
			return exprResult{}, err
		}
		e.g.Op(bytecode.OSUBOVF)
		return exprResult{}, nil
	}
	if err := e.value(x.X); err != nil {
		return exprResult{}, err
	}
	e.g.Op(bytecode.ONEG)
	return exprResult{}, nil
}

func (e *funcEmitter) logicalValue(x *it.Logical) error {
	f := e.g.DefineLabel()
	end := e.g.DefineLabel()
	if err := e.branch(x, f, false); err != nil {
		return err
	}
	e.g.Emit(bytecode.ConstI(bytecode.KindBool, 1))
	e.g.Branch(bytecode.OBR, end)
	e.mark(f)
	e.g.Emit(bytecode.ConstI(bytecode.KindBool, 0))
	e.mark(end)
	return nil
}

func (e *funcEmitter) cond(x *it.Cond) error {
	elseL := e.g.DefineLabel()
	end := e.g.DefineLabel()
	if err := e.branch(x.C, elseL, false); err != nil {
		return err
	}
	if err := e.value(x.Then); err != nil {
		return err
	}
	e.g.Branch(bytecode.OBR, end)
	e.mark(elseL)
	if err := e.value(x.Else); err != nil {
		return err
	}
	e.mark(end)
	return nil
}

// is tests the dynamic type; a negative test is the positive one with the
// result marked negated.
func (e *funcEmitter) is(x *it.Is) (exprResult, error) {
	t, err := e.c.Resolve(x.Target)
	if err != nil {
		return exprResult{}, err
	}
	if err := e.value(x.X); err != nil {
		return exprResult{}, err
	}
	e.g.Emit(bytecode.InstT(bytecode.OISINST, t))
	e.g.Op(bytecode.OLDNULL)
	e.g.Op(bytecode.OCGTUN)
	return exprResult{negated: x.Not}, nil
}

func (e *funcEmitter) convert(x *it.Convert) error {
	from, to := x.X.Type(), x.T
	if err := e.value(x.X); err != nil {
		return err
	}
	fk, fok := kindOf(from)
	tk, tok := kindOf(to)
	fok = fok && fk != bytecode.KindString
	tok = tok && tk != bytecode.KindString
	switch {
	case fok && tok:
		if fk != tk {
			e.g.Emit(bytecode.Conv(tk))
		}
		return nil
	case fok:
		h, err := e.c.Resolve(from)
		if err != nil {
			return err
		}
		e.g.Emit(bytecode.InstT(bytecode.OBOX, h))
		return nil
	case tok:
		h, err := e.c.Resolve(to)
		if err != nil {
			return err
		}
		e.g.Emit(bytecode.InstT(bytecode.OUNBOXANY, h))
		return nil
	}
	if _, null := from.(*it.NullType); null || it.IsSubclassOf(from, to) {
		return nil
	}
	h, err := e.c.Resolve(to)
	if err != nil {
		return err
	}
	e.g.Emit(bytecode.InstT(bytecode.OCASTCLASS, h))
	return nil
}
