package compiler

import (
	"strconv"

	"github.com/yvt/queen-compiler-sub002/it"
)

// Closure rewriting moves state shared with local functions into
// surrogate objects. A function whose locals, parameters or receiver are
// used by its local functions gets a surrogate class; the captured
// variables become its fields and the capturing local functions become
// its instance methods. A local function that reaches state two or more
// levels up walks a chain of $parent links.

type captureRewriter struct {
	c     *Compiler
	owner map[*it.LocalVariable]*it.Function
	decl  map[*it.LocalVariable]*it.Block
	info  map[*it.LocalVariable]bool
	skip  map[it.Stmt]bool
	seq   int
	dirty bool
}

func (c *Compiler) rewriteCaptures(fns []*it.Function) error {
	r := &captureRewriter{
		c:     c,
		owner: make(map[*it.LocalVariable]*it.Function),
		decl:  make(map[*it.LocalVariable]*it.Block),
		info:  make(map[*it.LocalVariable]bool),
		skip:  make(map[it.Stmt]bool),
	}
	for _, f := range fns {
		r.collectOwners(f)
	}
	for {
		r.dirty = false
		for _, f := range fns {
			if f.Parent == nil {
				continue
			}
			if err := r.scan(f); err != nil {
				return err
			}
		}
		if !r.dirty {
			break
		}
	}
	for _, f := range fns {
		if !f.Captures {
			continue
		}
		s := f.Parent.Body.Surrogate()
		s.AddFunc(f)
		f.Static = false
	}
	for _, f := range fns {
		r.substitute(f)
	}
	for v, f := range r.owner {
		if _, ok := f.CapturedLocals[v]; ok && !r.info[v] {
			if b := r.decl[v]; b != nil {
				b.Remove(v)
			}
		}
	}
	return nil
}

func (r *captureRewriter) collectOwners(f *it.Function) {
	if f.Body == nil {
		return
	}
	it.Inspect(f.Body, func(n it.Node) bool {
		switch n := n.(type) {
		case *it.Block:
			for _, v := range n.Locals {
				r.owner[v] = f
				r.decl[v] = n
			}
		case *it.Try:
			for _, h := range n.Handlers {
				if h.Info != nil {
					r.owner[h.Info] = f
					r.info[h.Info] = true
				}
			}
		}
		return true
	})
}

// scan records what the local function fn reaches outside itself.
func (r *captureRewriter) scan(fn *it.Function) error {
	if fn.Body == nil {
		return nil
	}
	var err error
	it.Inspect(fn.Body, func(n it.Node) bool {
		if err != nil {
			return false
		}
		if s, ok := n.(it.Stmt); ok && r.skip[s] {
			return false
		}
		switch n := n.(type) {
		case *it.LocalRef:
			if a := r.owner[n.Var]; a != nil && a != fn && !n.Var.Const {
				if err = r.need(fn, a); err == nil {
					err = r.captureLocal(a, n.Var)
				}
			}
		case *it.ParamRef:
			if a := n.Param.Func; a != nil && a != fn {
				if n.Param.ByRef {
					err = internalf(n.Param, "by-reference parameter captured by %s", fn.Name)
					break
				}
				if err = r.need(fn, a); err == nil {
					err = r.captureParam(a, n.Param)
				}
			}
		case *it.This:
			m := rootOf(fn)
			if m.Static || m.Class == nil {
				err = internalf(fn, "receiver captured from static %s", m.Name)
				break
			}
			if err = r.need(fn, m); err == nil {
				err = r.captureThis(m)
			}
		case *it.Call:
			err = r.reference(fn, n.Func)
		case *it.FuncRef:
			err = r.reference(fn, n.Func)
		}
		return err == nil
	})
	return err
}

// reference handles a call or function value naming g from fn. A
// capturing g runs on its parent's surrogate, which fn must reach.
func (r *captureRewriter) reference(fn *it.Function, m it.Member) error {
	g, ok := m.(*it.Function)
	if !ok || g.Parent == nil || !g.Captures || g.Parent == fn {
		return nil
	}
	return r.need(fn, g.Parent)
}

func rootOf(f *it.Function) *it.Function {
	for f.Parent != nil {
		f = f.Parent
	}
	return f
}

// need makes the state of the ancestor a reachable from fn: every function
// from fn up to a becomes an instance method of its parent's surrogate, and
// every surrogate between them links to the next one up.
func (r *captureRewriter) need(fn, a *it.Function) error {
	if genericContext(fn) {
		return internalf(fn, "capture in a generic context")
	}
	for x := fn; x != a; x = x.Parent {
		if x == nil || x.Parent == nil {
			return internalf(fn, "%s is not enclosed by %s", fn.Name, a.Name)
		}
		if !x.Captures {
			x.Captures = true
			r.dirty = true
		}
		if err := r.surrogate(x.Parent); err != nil {
			return err
		}
	}
	for y := fn.Parent; y != a; y = y.Parent {
		if err := r.parentLink(y); err != nil {
			return err
		}
	}
	return nil
}

// surrogate creates f's surrogate class and the statement instantiating
// it, once.
func (r *captureRewriter) surrogate(f *it.Function) error {
	if f.SurrogateVar != nil {
		return nil
	}
	if genericContext(f) {
		return internalf(f, "capture in a generic context")
	}
	r.seq++
	cl := it.NewClass(f.Name+"$closure"+strconv.Itoa(r.seq), it.KindClass)
	cl.Type.Surrogate = true
	cl.Type.Sealed = true
	cl.Scope = f.Scope
	f.Body.AddType(cl)
	if !f.Body.BindSurrogate(cl) {
		return internalf(f, "block already has a surrogate")
	}
	v := f.Body.Declare(&it.LocalVariable{Name: "$s", Type: cl.Type})
	f.SurrogateVar = v
	init := &it.BlockStmt{Block: &it.Block{}}
	init.Block.Append(&it.VarDecl{Var: v, Init: &it.New{T: cl.Type}})
	f.InitBlock = init
	r.skip[init] = true
	f.Body.Stmts = append([]it.Stmt{init}, f.Body.Stmts...)
	r.dirty = true
	return nil
}

func (r *captureRewriter) addField(f *it.Function, name string, t it.Type) *it.Field {
	cl := f.Body.Surrogate()
	unique := name
	for i := 1; cl.Member(unique) != nil; i++ {
		unique = name + strconv.Itoa(i)
	}
	return cl.AddField(&it.Field{Name: unique, Type: t})
}

func (r *captureRewriter) initAssign(f *it.Function, fld *it.Field, v it.Expr) {
	f.InitBlock.Block.Append(&it.Assign{
		Target: it.FieldOf(&it.LocalRef{Var: f.SurrogateVar}, fld),
		Value:  v,
	})
}

func (r *captureRewriter) captureLocal(a *it.Function, v *it.LocalVariable) error {
	if _, ok := a.CapturedLocals[v]; ok {
		return nil
	}
	if err := r.surrogate(a); err != nil {
		return err
	}
	if a.CapturedLocals == nil {
		a.CapturedLocals = make(map[*it.LocalVariable]*it.Field)
	}
	a.CapturedLocals[v] = r.addField(a, v.Name, v.Type)
	r.dirty = true
	return nil
}

func (r *captureRewriter) captureParam(a *it.Function, p *it.Parameter) error {
	if _, ok := a.CapturedParams[p]; ok {
		return nil
	}
	if err := r.surrogate(a); err != nil {
		return err
	}
	if a.CapturedParams == nil {
		a.CapturedParams = make(map[*it.Parameter]*it.Field)
	}
	fld := r.addField(a, p.Name, p.Type)
	a.CapturedParams[p] = fld
	r.initAssign(a, fld, &it.ParamRef{Param: p})
	r.dirty = true
	return nil
}

func (r *captureRewriter) captureThis(m *it.Function) error {
	if m.CapturedThis != nil {
		return nil
	}
	if err := r.surrogate(m); err != nil {
		return err
	}
	m.CapturedThis = r.addField(m, "$this", m.Class.Type)
	r.initAssign(m, m.CapturedThis, &it.This{T: m.Class.Type})
	r.dirty = true
	return nil
}

// parentLink gives y's surrogate a field holding the surrogate of y's
// parent, which is the receiver y runs on.
func (r *captureRewriter) parentLink(y *it.Function) error {
	if y.ParentField != nil {
		return nil
	}
	if err := r.surrogate(y); err != nil {
		return err
	}
	pt := y.Parent.SurrogateVar.Type
	y.ParentField = r.addField(y, "$parent", pt)
	r.initAssign(y, y.ParentField, &it.This{T: pt})
	r.dirty = true
	return nil
}

// reach returns the expression denoting a's surrogate inside fn.
func reach(fn, a *it.Function) it.Expr {
	if fn == a {
		return &it.LocalRef{Var: a.SurrogateVar}
	}
	var e it.Expr = &it.This{T: fn.Parent.SurrogateVar.Type}
	for y := fn.Parent; y != a; y = y.Parent {
		e = it.FieldOf(e, y.ParentField)
	}
	return e
}

// substitute rewrites fn's body so that captured state is accessed
// through surrogates.
func (r *captureRewriter) substitute(fn *it.Function) {
	if fn.Body == nil {
		return
	}
	rw := &it.Rewriter{
		Skip: func(s it.Stmt) bool { return r.skip[s] },
		Expr: func(e it.Expr) it.Expr {
			switch e := e.(type) {
			case *it.LocalRef:
				if a := r.owner[e.Var]; a != nil {
					if fld, ok := a.CapturedLocals[e.Var]; ok {
						return it.FieldOf(reach(fn, a), fld)
					}
				}
			case *it.ParamRef:
				if a := e.Param.Func; a != nil {
					if fld, ok := a.CapturedParams[e.Param]; ok {
						return it.FieldOf(reach(fn, a), fld)
					}
				}
			case *it.This:
				if fn.Parent != nil {
					m := rootOf(fn)
					if m.CapturedThis != nil {
						return it.FieldOf(reach(fn, m), m.CapturedThis)
					}
				}
			case *it.Call:
				if g, ok := e.Func.(*it.Function); ok && g.Captures && e.Recv == nil {
					e.Recv = reach(fn, g.Parent)
				}
			case *it.FuncRef:
				if g, ok := e.Func.(*it.Function); ok && g.Captures && e.Recv == nil {
					e.Recv = reach(fn, g.Parent)
				}
			}
			return e
		},
		Stmt: func(s it.Stmt) []it.Stmt {
			switch s := s.(type) {
			case *it.VarDecl:
				a := r.owner[s.Var]
				if a == nil {
					break
				}
				fld, ok := a.CapturedLocals[s.Var]
				if !ok {
					break
				}
				v := s.Init
				if v == nil {
					v = &it.Default{T: s.Var.Type}
				}
				return []it.Stmt{&it.Assign{Target: it.FieldOf(reach(fn, a), fld), Value: v}}
			case *it.Try:
				for _, h := range s.Handlers {
					if h.Info == nil {
						continue
					}
					a := r.owner[h.Info]
					fld, ok := a.CapturedLocals[h.Info]
					if !ok {
						continue
					}
					body := &it.Block{}
					body.Append(
						&it.Assign{Target: it.FieldOf(reach(fn, a), fld), Value: &it.LocalRef{Var: h.Info}},
						&it.BlockStmt{Block: h.Body},
					)
					h.Body = body
				}
			}
			return []it.Stmt{s}
		},
	}
	rw.Block(fn.Body)
}
