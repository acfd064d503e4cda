package compiler

import (
	"github.com/yvt/queen-compiler-sub002/bytecode"
	"github.com/yvt/queen-compiler-sub002/host"
	"github.com/yvt/queen-compiler-sub002/it"
)

// funcEmitter emits the body of one method.
type funcEmitter struct {
	c     *Compiler
	fn    *it.Function
	md    *bytecode.MethodDef
	g     *bytecode.Gen
	frame *Frame

	blocks map[*it.Block]*blockLabels
	// depth counts the exception regions enclosing the code being emitted.
	depth int
	// marked is the pc of the most recently placed label.
	marked int

	retType it.Type
	ret     bytecode.Label
	retUsed bool
	retSlot int
}

type blockLabels struct {
	start, end bytecode.Label
	depth      int
}

// exprResult describes the value an expression left on the stack. A
// negated result holds the complement of the expression's boolean value;
// consumers either branch on the opposite sense or normalize it.
type exprResult struct {
	negated bool
}

func (c *Compiler) newEmitter(md *bytecode.MethodDef, f *it.Function) *funcEmitter {
	g := md.Gen()
	e := &funcEmitter{
		c:      c,
		fn:     f,
		md:     md,
		g:      g,
		frame:  NewFrame(g),
		blocks: make(map[*it.Block]*blockLabels),
		marked: -1,
	}
	if f != nil {
		e.retType = f.Return
	}
	return e
}

// compileFunction emits the body of f into md.
func (c *Compiler) compileFunction(f *it.Function, md *bytecode.MethodDef) error {
	if f.Body == nil {
		return internalf(f, "function without a body")
	}
	e := c.newEmitter(md, f)
	if f.IsCtor() {
		if err := e.callBaseCtor(); err != nil {
			return err
		}
	}
	if err := e.block(f.Body); err != nil {
		return err
	}
	return e.finish()
}

// compileDefaultCtor emits the constructor synthesized for classes that
// declare none.
func (c *Compiler) compileDefaultCtor(cl *it.ClassEntity, md *bytecode.MethodDef) error {
	e := c.newEmitter(md, nil)
	if err := e.callBaseCtor(); err != nil {
		return internalWrap(cl, err, "default constructor")
	}
	return e.finish()
}

// compileScopeInit emits the scope initializer: global initial values,
// then the scope's top-level statements.
func (c *Compiler) compileScopeInit(s *it.Scope, md *bytecode.MethodDef) error {
	e := c.newEmitter(md, nil)
	for _, g := range s.Globals {
		if g.Init == nil {
			continue
		}
		f, err := c.Field(g)
		if err != nil {
			return err
		}
		if err := e.value(g.Init); err != nil {
			return err
		}
		e.g.Emit(bytecode.InstF(bytecode.OSTSFLD, f))
	}
	if err := e.block(s.Init); err != nil {
		return err
	}
	return e.finish()
}

func (e *funcEmitter) callBaseCtor() error {
	base, err := e.c.baseCtor(e.md.Owner)
	if err != nil {
		return err
	}
	e.g.Emit(bytecode.InstN(bytecode.OLDARG, 0))
	e.g.Emit(bytecode.InstM(bytecode.OCALL, base))
	return nil
}

// finish appends the fall-through return and the shared return label, then
// resolves the body.
func (e *funcEmitter) finish() error {
	if e.reachable() {
		if e.retType != nil {
			if err := e.zero(e.retType); err != nil {
				return err
			}
		}
		e.g.Op(bytecode.ORET)
	}
	if e.retUsed {
		e.mark(e.ret)
		if e.retType != nil {
			e.g.Emit(bytecode.InstN(bytecode.OLDLOC, e.retSlot))
		}
		e.g.Op(bytecode.ORET)
	}
	if err := e.g.End(); err != nil {
		return internalWrap(e.node(), err, "emit %s", e.md)
	}
	return nil
}

func (e *funcEmitter) node() any {
	if e.fn != nil {
		return e.fn
	}
	return nil
}

// reachable reports whether control can fall through to the next
// instruction.
func (e *funcEmitter) reachable() bool {
	last, ok := e.g.Last()
	return !ok || !last.Op.IsTerminator() || e.marked == e.g.PC()
}

func (e *funcEmitter) mark(l bytecode.Label) {
	e.g.MarkLabel(l)
	e.marked = e.g.PC()
}

// jump transfers control to l, leaving exception regions when l lies
// outside some of the regions open here.
func (e *funcEmitter) jump(l bytecode.Label, depth int) {
	if depth < e.depth {
		e.g.Branch(bytecode.OLEAVE, l)
		return
	}
	e.g.Branch(bytecode.OBR, l)
}

func (e *funcEmitter) argIndex(p *it.Parameter) int {
	if e.md.IsStatic() {
		return p.Index
	}
	return p.Index + 1
}

// local returns the slot of v, allocating it on first use.
func (e *funcEmitter) local(v *it.LocalVariable) (int, error) {
	if i, ok := v.Slot(); ok {
		return i, nil
	}
	t, err := e.c.Resolve(v.Type)
	if err != nil {
		return 0, err
	}
	i := e.frame.AllocLocal(v.Name, t)
	if !v.AttachSlot(i) {
		return 0, internalf(v, "slot attached twice")
	}
	return i, nil
}

func (e *funcEmitter) block(b *it.Block) error {
	if b == nil {
		return nil
	}
	bl := &blockLabels{end: e.g.DefineLabel(), depth: e.depth}
	if b.IsLoop {
		bl.start = e.g.DefineLabel()
		e.mark(bl.start)
	}
	e.blocks[b] = bl
	for _, s := range b.Stmts {
		if err := e.stmt(s); err != nil {
			return err
		}
	}
	if b.IsLoop {
		e.g.Branch(bytecode.OBR, bl.start)
	}
	e.mark(bl.end)
	return nil
}

func (e *funcEmitter) stmt(s it.Stmt) error {
	switch s := s.(type) {
	case *it.ExprStmt:
		if _, err := e.expr(s.X); err != nil {
			return err
		}
		if s.X.Type() != nil {
			e.g.Op(bytecode.OPOP)
		}
		return nil
	case *it.VarDecl:
		if s.Var.Const {
			return nil
		}
		slot, err := e.local(s.Var)
		if err != nil {
			return err
		}
		if s.Init != nil {
			err = e.value(s.Init)
		} else {
			err = e.zero(s.Var.Type)
		}
		if err != nil {
			return err
		}
		e.g.Emit(bytecode.InstN(bytecode.OSTLOC, slot))
		return nil
	case *it.Assign:
		return e.assign(s)
	case *it.If:
		return e.ifStmt(s)
	case *it.BlockStmt:
		return e.block(s.Block)
	case *it.Exit:
		bl, ok := e.blocks[s.Block]
		if !ok {
			return internalf(nil, "exit from a block not being emitted")
		}
		e.jump(bl.end, bl.depth)
		return nil
	case *it.Continue:
		bl, ok := e.blocks[s.Block]
		if !ok || !s.Block.IsLoop {
			return internalf(nil, "continue outside a loop")
		}
		e.jump(bl.start, bl.depth)
		return nil
	case *it.Return:
		return e.returnStmt(s)
	case *it.Throw:
		return e.throwStmt(s)
	case *it.Assert:
		return e.assertStmt(s)
	case *it.Try:
		return e.tryStmt(s)
	case *it.Switch:
		return e.switchStmt(s)
	}
	return internalf(nil, "unexpected statement %T", s)
}

func (e *funcEmitter) assign(s *it.Assign) error {
	switch t := s.Target.(type) {
	case *it.LocalRef:
		if t.Var.Const {
			return internalf(t.Var, "assignment to a constant")
		}
		slot, err := e.local(t.Var)
		if err != nil {
			return err
		}
		if err := e.value(s.Value); err != nil {
			return err
		}
		e.g.Emit(bytecode.InstN(bytecode.OSTLOC, slot))
	case *it.ParamRef:
		idx := e.argIndex(t.Param)
		if t.Param.ByRef {
			e.g.Emit(bytecode.InstN(bytecode.OLDARG, idx))
			if err := e.value(s.Value); err != nil {
				return err
			}
			e.g.Op(bytecode.OSTIND)
			return nil
		}
		if err := e.value(s.Value); err != nil {
			return err
		}
		e.g.Emit(bytecode.InstN(bytecode.OSTARG, idx))
	case *it.FieldRef:
		f, err := e.c.Field(t.Field)
		if err != nil {
			return err
		}
		if f.IsStatic() {
			if err := e.value(s.Value); err != nil {
				return err
			}
			e.g.Emit(bytecode.InstF(bytecode.OSTSFLD, f))
			return nil
		}
		if err := e.value(t.Recv); err != nil {
			return err
		}
		if err := e.value(s.Value); err != nil {
			return err
		}
		e.g.Emit(bytecode.InstF(bytecode.OSTFLD, f))
	case *it.GlobalRef:
		f, err := e.c.Field(t.Var)
		if err != nil {
			return err
		}
		if err := e.value(s.Value); err != nil {
			return err
		}
		e.g.Emit(bytecode.InstF(bytecode.OSTSFLD, f))
	case *it.Index:
		if err := e.value(t.Array); err != nil {
			return err
		}
		if err := e.values(t.Indices); err != nil {
			return err
		}
		if err := e.value(s.Value); err != nil {
			return err
		}
		e.g.Emit(bytecode.InstN(bytecode.OSTELEM, len(t.Indices)))
	case *it.PropertyRef:
		_, set, err := e.c.accessors(t.Prop)
		if err != nil {
			return err
		}
		if set == nil {
			return internalf(t.Prop, "property has no setter")
		}
		if !set.IsStatic() {
			if err := e.value(t.Recv); err != nil {
				return err
			}
		}
		if err := e.values(t.Index); err != nil {
			return err
		}
		if err := e.value(s.Value); err != nil {
			return err
		}
		e.g.Emit(bytecode.InstM(e.callOp(set, false), set))
	default:
		return internalf(nil, "assignment to %T", s.Target)
	}
	return nil
}

func (e *funcEmitter) ifStmt(s *it.If) error {
	switch {
	case isEmpty(s.Then) && isEmpty(s.Else):
		if _, err := e.expr(s.Cond); err != nil {
			return err
		}
		e.g.Op(bytecode.OPOP)
		return nil
	case isEmpty(s.Then):
		end := e.g.DefineLabel()
		if err := e.branch(s.Cond, end, true); err != nil {
			return err
		}
		if err := e.block(s.Else); err != nil {
			return err
		}
		e.mark(end)
		return nil
	}
	elseL := e.g.DefineLabel()
	if err := e.branch(s.Cond, elseL, false); err != nil {
		return err
	}
	if err := e.block(s.Then); err != nil {
		return err
	}
	if isEmpty(s.Else) {
		e.mark(elseL)
		return nil
	}
	end := e.g.DefineLabel()
	e.g.Branch(bytecode.OBR, end)
	e.mark(elseL)
	if err := e.block(s.Else); err != nil {
		return err
	}
	e.mark(end)
	return nil
}

// isEmpty reports whether b emits no code. Loops never are.
func isEmpty(b *it.Block) bool {
	return b == nil || (!b.IsLoop && len(b.Stmts) == 0)
}

// returnStmt returns directly outside exception regions. Inside them, the
// value goes to a hidden local and control leaves to a return sequence
// shared by the whole method.
func (e *funcEmitter) returnStmt(s *it.Return) error {
	if (s.Value == nil) != (e.retType == nil) {
		return internalf(e.node(), "return value does not match the signature")
	}
	if s.Value != nil {
		if err := e.value(s.Value); err != nil {
			return err
		}
	}
	if e.depth == 0 {
		e.g.Op(bytecode.ORET)
		return nil
	}
	if !e.retUsed {
		e.retUsed = true
		e.ret = e.g.DefineLabel()
		if e.retType != nil {
			t, err := e.c.Resolve(e.retType)
			if err != nil {
				return err
			}
			e.retSlot = e.frame.AllocLocal("$ret", t)
		}
	}
	if s.Value != nil {
		e.g.Emit(bytecode.InstN(bytecode.OSTLOC, e.retSlot))
	}
	e.g.Branch(bytecode.OLEAVE, e.ret)
	return nil
}

func (e *funcEmitter) throwStmt(s *it.Throw) error {
	if err := e.value(s.Code); err != nil {
		return err
	}
	if k, ok := kindOf(s.Code.Type()); !ok || !k.IsInteger() {
		return internalf(nil, "exception code of type %v", s.Code.Type())
	} else if k != bytecode.KindInt64 {
		e.g.Emit(bytecode.Conv(bytecode.KindInt64))
	}
	if s.Message != nil {
		if err := e.value(s.Message); err != nil {
			return err
		}
	} else {
		e.g.Emit(bytecode.ConstS(""))
	}
	ctor, err := e.c.hostCall(host.NumericExceptionType, bytecode.CtorName, bytecode.Int64, bytecode.String)
	if err != nil {
		return err
	}
	e.g.Emit(bytecode.InstM(bytecode.ONEWOBJ, ctor))
	e.g.Op(bytecode.OTHROW)
	return nil
}

// assertStmt traps through the runtime when the condition is false.
// Assertions are compiled only in debug builds.
func (e *funcEmitter) assertStmt(s *it.Assert) error {
	if !e.c.cfg.Debug {
		return nil
	}
	ok := e.g.DefineLabel()
	if err := e.branch(s.Cond, ok, true); err != nil {
		return err
	}
	e.g.Emit(bytecode.ConstS(s.Message))
	fail, err := e.c.hostCall(host.RuntimeType, "AssertFail", bytecode.String)
	if err != nil {
		return err
	}
	e.g.Emit(bytecode.InstM(bytecode.OCALL, fail))
	e.mark(ok)
	return nil
}

// switchStmt compares the value against each case in order using the
// language's equality.
func (e *funcEmitter) switchStmt(s *it.Switch) error {
	t, err := e.c.Resolve(s.Value.Type())
	if err != nil {
		return err
	}
	if err := e.value(s.Value); err != nil {
		return err
	}
	tmp := &it.LocalVariable{Name: "$switch", Type: s.Value.Type()}
	slot := e.frame.AllocTemp(t)
	tmp.AttachSlot(slot)
	e.g.Emit(bytecode.InstN(bytecode.OSTLOC, slot))

	labels := make([]bytecode.Label, len(s.Cases))
	for i, cs := range s.Cases {
		labels[i] = e.g.DefineLabel()
		for _, v := range cs.Values {
			eq := &it.Binary{Op: it.OpEq, L: &it.LocalRef{Var: tmp}, R: v}
			if err := e.branch(eq, labels[i], true); err != nil {
				return err
			}
		}
	}
	end := e.g.DefineLabel()
	if err := e.block(s.Default); err != nil {
		return err
	}
	e.g.Branch(bytecode.OBR, end)
	for i, cs := range s.Cases {
		e.mark(labels[i])
		if err := e.block(cs.Body); err != nil {
			return err
		}
		e.g.Branch(bytecode.OBR, end)
	}
	e.mark(end)
	e.frame.Release(slot)
	return nil
}
