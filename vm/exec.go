package vm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/yvt/queen-compiler-sub002/bytecode"
	"github.com/yvt/queen-compiler-sub002/host"
)

type frame struct {
	md     *bytecode.MethodDef
	body   *bytecode.Body
	args   []any
	locals []any
	stack  []any
	targs  []bytecode.Type
	margs  []bytecode.Type

	// caught records the exception each running catch handler received.
	caught map[int]*host.Exception
	// conts are the continuations of running finally handlers.
	conts []cont
}

// cont is what happens when a finally handler ends: either the unwinding of
// exc resumes after handler, or control moves on to the pending finally
// handlers and then to target.
type cont struct {
	handler int
	exc     *host.Exception
	pc      int
	target  int
	pending []int
}

// malformed reports bytecode that cannot execute. It is raised by stack
// helpers and turned into an error by exec.
type malformed struct{ msg string }

func (f *frame) subst(mod *bytecode.Module, t bytecode.Type) bytecode.Type {
	if len(f.targs) == 0 && len(f.margs) == 0 {
		return t
	}
	return mod.Subst(t, f.targs, f.margs)
}

func (f *frame) push(v any) { f.stack = append(f.stack, v) }

func (f *frame) pop() any {
	n := len(f.stack)
	if n == 0 {
		panic(malformed{fmt.Sprintf("stack underflow in %s", f.md)})
	}
	v := f.stack[n-1]
	f.stack = f.stack[:n-1]
	return v
}

func (f *frame) popN(n int) []any {
	if len(f.stack) < n {
		panic(malformed{fmt.Sprintf("stack underflow in %s", f.md)})
	}
	out := append([]any(nil), f.stack[len(f.stack)-n:]...)
	f.stack = f.stack[:len(f.stack)-n]
	return out
}

func (f *frame) popInts(n int) []int64 {
	vs := f.popN(n)
	out := make([]int64, n)
	for i, v := range vs {
		x, ok := v.(int64)
		if !ok {
			panic(malformed{fmt.Sprintf("index of type %T in %s", v, f.md)})
		}
		out[i] = x
	}
	return out
}

// escape carries an exception that left every handler of a frame from the
// end of a finally handler.
type escape struct{ exc *host.Exception }

func (e *escape) Error() string { return e.exc.Error() }

func (m *Machine) exec(f *frame) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(malformed)
			if !ok {
				panic(r)
			}
			err = fmt.Errorf("vm: %s", e.msg)
		}
	}()
	code := f.body.Code
	pc := 0
	for {
		if pc < 0 || pc >= len(code) {
			return nil, fmt.Errorf("vm: %s: control left the code at %d", f.md, pc)
		}
		next, res, done, err := m.step(f, pc, code[pc])
		if err != nil {
			var esc *escape
			if errors.As(err, &esc) {
				return nil, esc.exc
			}
			var exc *host.Exception
			if !errors.As(err, &exc) {
				return nil, err
			}
			npc, ok := m.unwind(f, pc, exc, 0)
			if !ok {
				return nil, exc
			}
			pc = npc
			continue
		}
		if done {
			return res, nil
		}
		pc = next
	}
}

// unwind finds the handler for exc thrown at pc, starting the search at
// handler index from.
func (m *Machine) unwind(f *frame, pc int, exc *host.Exception, from int) (int, bool) {
	hs := f.body.Handlers
	live := f.conts[:0]
	for _, c := range f.conts {
		if h := hs[c.handler]; h.Start <= pc && pc < h.End {
			live = append(live, c)
		}
	}
	f.conts = live
	for i := from; i < len(hs); i++ {
		h := hs[i]
		if pc < h.TryStart || pc >= h.TryEnd {
			continue
		}
		switch h.Kind {
		case bytecode.HandlerCatch:
			if !m.catches(h.CatchType, exc) {
				continue
			}
			f.stack = append(f.stack[:0], exc)
			f.caught[i] = exc
			return h.Start, true
		case bytecode.HandlerFinally:
			f.stack = f.stack[:0]
			f.conts = append(f.conts, cont{handler: i, exc: exc, pc: pc})
			return h.Start, true
		}
	}
	return 0, false
}

func (m *Machine) catches(t bytecode.Type, exc *host.Exception) bool {
	ht := m.hostType(t)
	return ht != nil && exc.Type.IsSubclassOf(ht)
}

// leave exits the protected regions around pc that do not contain target,
// running their finally handlers innermost first.
func (m *Machine) leave(f *frame, pc, target int) int {
	f.stack = f.stack[:0]
	var fs []int
	for i, h := range f.body.Handlers {
		if h.Kind != bytecode.HandlerFinally {
			continue
		}
		if h.TryStart <= pc && pc < h.TryEnd && !(h.TryStart <= target && target < h.TryEnd) {
			fs = append(fs, i)
		}
	}
	if len(fs) == 0 {
		return target
	}
	f.conts = append(f.conts, cont{handler: fs[0], target: target, pending: fs[1:]})
	return f.body.Handlers[fs[0]].Start
}

func (m *Machine) endFinally(f *frame) (int, error) {
	if len(f.conts) == 0 {
		return 0, fmt.Errorf("vm: %s: endfinally outside a finally handler", f.md)
	}
	c := f.conts[len(f.conts)-1]
	f.conts = f.conts[:len(f.conts)-1]
	if c.exc != nil {
		npc, ok := m.unwind(f, c.pc, c.exc, c.handler+1)
		if !ok {
			return 0, &escape{c.exc}
		}
		return npc, nil
	}
	if len(c.pending) > 0 {
		next := c.pending[0]
		f.conts = append(f.conts, cont{handler: next, target: c.target, pending: c.pending[1:]})
		return f.body.Handlers[next].Start, nil
	}
	return c.target, nil
}

// rethrow returns the exception of the innermost catch handler running at
// pc.
func (m *Machine) rethrow(f *frame, pc int) error {
	for i, h := range f.body.Handlers {
		if h.Kind == bytecode.HandlerCatch && h.Start <= pc && pc < h.End {
			if exc := f.caught[i]; exc != nil {
				return exc
			}
		}
	}
	return fmt.Errorf("vm: %s: rethrow outside a catch handler", f.md)
}

func nullRef(what string) *host.Exception {
	return host.Throw(host.NullReferenceType, "%s on null", what)
}

// step executes one instruction. It returns the next pc, or done with the
// method's result.
func (m *Machine) step(f *frame, pc int, inst bytecode.Inst) (next int, result any, done bool, err error) {
	next = pc + 1
	switch inst.Op {
	case bytecode.ONOP:
	case bytecode.ODUP:
		v := f.pop()
		f.push(v)
		f.push(v)
	case bytecode.OPOP:
		f.pop()

	case bytecode.OLDCI:
		f.push(constInt(inst.Kind, inst.Int))
	case bytecode.OLDCR:
		if inst.Kind == bytecode.KindFloat32 {
			f.push(float32(inst.Float))
		} else {
			f.push(inst.Float)
		}
	case bytecode.OLDSTR:
		f.push(inst.Str)
	case bytecode.OLDNULL:
		f.push(nil)

	case bytecode.OLDARG:
		f.push(f.args[inst.Int])
	case bytecode.OLDARGA:
		f.push(slotRef(f.args, int(inst.Int)))
	case bytecode.OSTARG:
		f.args[inst.Int] = f.pop()
	case bytecode.OLDLOC:
		f.push(f.locals[inst.Int])
	case bytecode.OLDLOCA:
		f.push(slotRef(f.locals, int(inst.Int)))
	case bytecode.OSTLOC:
		f.locals[inst.Int] = f.pop()

	case bytecode.OLDFLD:
		recv := f.pop()
		if recv == nil {
			return 0, nil, false, nullRef("field load")
		}
		v, err := m.loadField(recv, inst.Field)
		if err != nil {
			return 0, nil, false, err
		}
		f.push(v)
	case bytecode.OLDFLDA:
		o, err := object(f.pop(), "field address")
		if err != nil {
			return 0, nil, false, err
		}
		fd := fieldDef(inst.Field)
		f.push(&host.Ref{Get: func() any { return o.Fields[fd] }, Set: func(v any) { o.Fields[fd] = v }})
	case bytecode.OSTFLD:
		v := f.pop()
		o, err := object(f.pop(), "field store")
		if err != nil {
			return 0, nil, false, err
		}
		o.Fields[fieldDef(inst.Field)] = v
	case bytecode.OLDSFLD:
		fd := fieldDef(inst.Field)
		if fd == nil {
			return 0, nil, false, fmt.Errorf("vm: static field %v", inst.Field)
		}
		f.push(m.Static(fd))
	case bytecode.OLDSFLDA:
		fd := fieldDef(inst.Field)
		f.push(&host.Ref{Get: func() any { return m.Static(fd) }, Set: func(v any) { m.statics[fd] = v }})
	case bytecode.OSTSFLD:
		m.statics[fieldDef(inst.Field)] = f.pop()

	case bytecode.OLDELEM:
		idx := f.popInts(int(inst.Int))
		a, off, err := element(f.pop(), idx)
		if err != nil {
			return 0, nil, false, err
		}
		f.push(a.Data[off])
	case bytecode.OLDELEMA:
		idx := f.popInts(int(inst.Int))
		a, off, err := element(f.pop(), idx)
		if err != nil {
			return 0, nil, false, err
		}
		f.push(slotRef(a.Data, off))
	case bytecode.OSTELEM:
		v := f.pop()
		idx := f.popInts(int(inst.Int))
		a, off, err := element(f.pop(), idx)
		if err != nil {
			return 0, nil, false, err
		}
		a.Data[off] = v
	case bytecode.OLDLEN:
		a, ok := f.pop().(*host.Array)
		if !ok || a == nil {
			return 0, nil, false, nullRef("length")
		}
		if int(inst.Int) >= len(a.Dims) {
			return 0, nil, false, host.Throw(host.IndexOutOfRangeType, "dimension %d of a rank %d array", inst.Int, len(a.Dims))
		}
		f.push(int64(a.Dims[inst.Int]))
	case bytecode.ONEWARR:
		lens := f.popInts(int(inst.Int))
		dims := make([]int, len(lens))
		for i, n := range lens {
			if n < 0 {
				return 0, nil, false, host.Throw(host.ArgumentExceptionType, "negative array length %d", n)
			}
			dims[i] = int(n)
		}
		elem := f.subst(m.mod, inst.Type)
		f.push(host.NewArray(elem, m.zero(elem), dims...))
	case bytecode.OINITBLOB:
		a, ok := f.pop().(*host.Array)
		if !ok || a == nil {
			return 0, nil, false, nullRef("initblob")
		}
		if err := m.initBlob(a, inst.Blob); err != nil {
			return 0, nil, false, err
		}

	case bytecode.OLDIND:
		r, ok := f.pop().(*host.Ref)
		if !ok || r == nil {
			return 0, nil, false, nullRef("indirect load")
		}
		f.push(r.Get())
	case bytecode.OSTIND:
		v := f.pop()
		r, ok := f.pop().(*host.Ref)
		if !ok || r == nil {
			return 0, nil, false, nullRef("indirect store")
		}
		r.Set(v)

	case bytecode.OADD, bytecode.OSUB, bytecode.OMUL, bytecode.ODIV, bytecode.ODIVUN,
		bytecode.OREM, bytecode.OREMUN, bytecode.OADDOVF, bytecode.OSUBOVF, bytecode.OMULOVF,
		bytecode.OAND, bytecode.OOR, bytecode.OXOR, bytecode.OSHL, bytecode.OSHR, bytecode.OSHRUN:
		b := f.pop()
		a := f.pop()
		v, err := arith(inst.Op, a, b)
		if err != nil {
			return 0, nil, false, err
		}
		f.push(v)
	case bytecode.ONEG, bytecode.ONOT:
		v, err := unary(inst.Op, f.pop())
		if err != nil {
			return 0, nil, false, err
		}
		f.push(v)

	case bytecode.OCEQ:
		b := f.pop()
		f.push(equal(f.pop(), b))
	case bytecode.OCGT, bytecode.OCGTUN, bytecode.OCLT, bytecode.OCLTUN:
		b := f.pop()
		v, err := relation(inst.Op, f.pop(), b)
		if err != nil {
			return 0, nil, false, err
		}
		f.push(v)

	case bytecode.OBR:
		next = int(inst.Int)
	case bytecode.OBRTRUE, bytecode.OBRFALSE:
		if truthy(f.pop()) == (inst.Op == bytecode.OBRTRUE) {
			next = int(inst.Int)
		}
	case bytecode.OBEQ, bytecode.OBNEUN, bytecode.OBLT, bytecode.OBLTUN, bytecode.OBLE,
		bytecode.OBLEUN, bytecode.OBGT, bytecode.OBGTUN, bytecode.OBGE, bytecode.OBGEUN:
		b := f.pop()
		ok, err := branchTaken(inst.Op, f.pop(), b)
		if err != nil {
			return 0, nil, false, err
		}
		if ok {
			next = int(inst.Int)
		}
	case bytecode.OLEAVE:
		next = m.leave(f, pc, int(inst.Int))

	case bytecode.OCONV:
		v, err := convert(f.pop(), inst.Kind)
		if err != nil {
			return 0, nil, false, err
		}
		f.push(v)

	case bytecode.OCALL, bytecode.OCALLVIRT:
		if err := m.call(f, inst.Method, inst.Op == bytecode.OCALLVIRT); err != nil {
			return 0, nil, false, err
		}
	case bytecode.ONEWOBJ:
		if err := m.newObj(f, inst.Method); err != nil {
			return 0, nil, false, err
		}
	case bytecode.ORET:
		if f.md.Return != nil {
			return 0, f.pop(), true, nil
		}
		return 0, nil, true, nil
	case bytecode.ONEWDELEGATE:
		recv := f.pop()
		c, err := m.resolve(f, inst.Method, recv, true)
		if err != nil {
			return 0, nil, false, err
		}
		f.push(&Delegate{Type: f.subst(m.mod, inst.Type), Recv: recv, target: c})

	case bytecode.OBOX:
	case bytecode.OUNBOXANY:
		v := f.pop()
		if v == nil {
			return 0, nil, false, nullRef("unbox")
		}
		t := f.subst(m.mod, inst.Type)
		if !m.isInstance(v, t) && !m.isInstance(v, underlying(t)) {
			return 0, nil, false, host.Throw(host.InvalidCastType, "cannot unbox %T as %s", v, t)
		}
		f.push(v)
	case bytecode.OISINST:
		v := f.pop()
		if !m.isInstance(v, f.subst(m.mod, inst.Type)) {
			v = nil
		}
		f.push(v)
	case bytecode.OCASTCLASS:
		v := f.pop()
		t := f.subst(m.mod, inst.Type)
		if v != nil && !m.isInstance(v, t) {
			return 0, nil, false, host.Throw(host.InvalidCastType, "cannot cast %T to %s", v, t)
		}
		f.push(v)

	case bytecode.OTHROW:
		v := f.pop()
		exc, ok := v.(*host.Exception)
		if !ok || exc == nil {
			return 0, nil, false, nullRef("throw")
		}
		return 0, nil, false, exc
	case bytecode.ORETHROW:
		return 0, nil, false, m.rethrow(f, pc)
	case bytecode.OENDFINALLY:
		npc, err := m.endFinally(f)
		if err != nil {
			return 0, nil, false, err
		}
		next = npc

	default:
		return 0, nil, false, fmt.Errorf("vm: %s: unknown opcode %v", f.md, inst.Op)
	}
	return next, nil, false, nil
}

func underlying(t bytecode.Type) bytecode.Type {
	if td, ok := t.(*bytecode.TypeDef); ok && td.Underlying != nil {
		return td.Underlying
	}
	return t
}

func slotRef(s []any, i int) *host.Ref {
	return &host.Ref{Get: func() any { return s[i] }, Set: func(v any) { s[i] = v }}
}

func object(v any, what string) (*Object, error) {
	o, ok := v.(*Object)
	if !ok || o == nil {
		if v == nil {
			return nil, nullRef(what)
		}
		return nil, fmt.Errorf("vm: %s on %T", what, v)
	}
	return o, nil
}

func element(v any, idx []int64) (*host.Array, int, error) {
	a, ok := v.(*host.Array)
	if !ok || a == nil {
		return nil, 0, nullRef("element access")
	}
	off, err := a.Offset(idx...)
	return a, off, err
}

func fieldDef(fl bytecode.Field) *bytecode.FieldDef {
	switch fl := fl.(type) {
	case *bytecode.FieldDef:
		return fl
	case *bytecode.FieldOn:
		return fl.Def
	}
	return nil
}

func (m *Machine) loadField(recv any, fl bytecode.Field) (any, error) {
	if hf, ok := fl.(*bytecode.HostField); ok {
		ht := m.hostType(hf.Owner)
		if ht == nil {
			return nil, fmt.Errorf("vm: host type %s is not registered", hf.Owner)
		}
		for t := ht; t != nil; t = t.Base {
			if fd := t.Field(hf.Name); fd != nil {
				return fd.Get(recv), nil
			}
		}
		return nil, fmt.Errorf("vm: host field %s is not registered", hf)
	}
	o, err := object(recv, "field load")
	if err != nil {
		return nil, err
	}
	return o.Fields[fieldDef(fl)], nil
}

// call pops the arguments and, for instance methods, the receiver, then
// calls mt and pushes its result.
func (m *Machine) call(f *frame, mt bytecode.Method, virtual bool) error {
	params, ret := mt.Signature()
	args := f.popN(len(params))
	if !mt.IsStatic() {
		recv := f.pop()
		if recv == nil {
			return nullRef("call of " + mt.MethodName())
		}
		if d, ok := recv.(*Delegate); ok && mt.MethodName() == "Invoke" {
			r, err := m.invokeDelegate(d, args)
			if err != nil {
				return err
			}
			if ret != nil {
				f.push(r)
			}
			return nil
		}
		args = append([]any{recv}, args...)
	}
	var recv any
	if len(args) > 0 && !mt.IsStatic() {
		recv = args[0]
	}
	c, err := m.resolve(f, mt, recv, virtual)
	if err != nil {
		return err
	}
	r, err := m.invoke(c, args)
	if err != nil {
		return err
	}
	if ret != nil {
		f.push(r)
	}
	return nil
}

func (m *Machine) invokeDelegate(d *Delegate, args []any) (any, error) {
	if d.target.md != nil && !d.target.md.IsStatic() || d.target.host != nil && !d.target.host.Static {
		args = append([]any{d.Recv}, args...)
	}
	return m.invoke(d.target, args)
}

// Invoke calls the delegate d with args.
func (m *Machine) Invoke(d *Delegate, args ...any) (any, error) {
	return m.invokeDelegate(d, args)
}

func (m *Machine) newObj(f *frame, ctor bytecode.Method) error {
	params, _ := ctor.Signature()
	args := f.popN(len(params))
	switch x := ctor.(type) {
	case *bytecode.HostMethod:
		h, err := m.hostMethod(x)
		if err != nil {
			return err
		}
		v, err := h.Impl(m, args)
		if err != nil {
			return err
		}
		f.push(v)
		return nil
	case *bytecode.MethodDef:
		o := m.NewObject(x.Owner)
		c := callee{md: x}
		if _, err := m.invoke(c, append([]any{o}, args...)); err != nil {
			return err
		}
		f.push(o)
		return nil
	case *bytecode.MethodOn:
		owner := f.subst(m.mod, x.Owner)
		o := m.NewObject(owner)
		c := callee{md: x.Def}
		if g, ok := owner.(*bytecode.GenericInst); ok {
			c.targs = g.Args
		}
		if _, err := m.invoke(c, append([]any{o}, args...)); err != nil {
			return err
		}
		f.push(o)
		return nil
	}
	return fmt.Errorf("vm: cannot construct with %v", ctor)
}

// initBlob fills a from a little-endian image of its elements.
func (m *Machine) initBlob(a *host.Array, blob []byte) error {
	k := bytecode.KindOf(underlying(a.Elem))
	size := k.Size()
	if size == 0 || len(blob) != size*len(a.Data) {
		return fmt.Errorf("vm: blob of %d bytes for %d elements of %s", len(blob), len(a.Data), a.Elem)
	}
	for i := range a.Data {
		b := blob[i*size : (i+1)*size]
		var bits uint64
		switch size {
		case 1:
			bits = uint64(b[0])
		case 2:
			bits = uint64(binary.LittleEndian.Uint16(b))
		case 4:
			bits = uint64(binary.LittleEndian.Uint32(b))
		case 8:
			bits = binary.LittleEndian.Uint64(b)
		}
		switch k {
		case bytecode.KindFloat32:
			a.Data[i] = math.Float32frombits(uint32(bits))
		case bytecode.KindFloat64:
			a.Data[i] = math.Float64frombits(bits)
		default:
			a.Data[i] = constInt(k, signExtend(bits, size, k))
		}
	}
	return nil
}

func signExtend(bits uint64, size int, k bytecode.Kind) int64 {
	if k.IsUnsigned() || k == bytecode.KindBool || size == 8 {
		return int64(bits)
	}
	shift := uint(64 - 8*size)
	return int64(bits<<shift) >> shift
}
