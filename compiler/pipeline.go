package compiler

import (
	"errors"
	"strconv"

	"golang.org/x/tools/container/intsets"

	"github.com/yvt/queen-compiler-sub002/bytecode"
	"github.com/yvt/queen-compiler-sub002/it"
)

// phase orders deferred declaration work. Every task of one phase runs
// before any task of the next.
type phase int

const (
	phaseTypes     phase = iota // type shells and their generic parameters
	phaseMembers                // member shells and signatures
	phaseHierarchy              // base types, interfaces and overrides
	phaseBodies                 // method bodies
	phaseFinalize               // sealing, bottom-up
	numPhases
)

var phaseNames = [numPhases]string{"types", "members", "hierarchy", "bodies", "finalize"}

func (p phase) String() string {
	if p >= 0 && p < numPhases {
		return phaseNames[p]
	}
	return "phase" + strconv.Itoa(int(p))
}

type task func() error

// later queues fn for phase p. Work may be queued for the running phase,
// which drains to completion, but never for a phase already drained.
func (c *Compiler) later(p phase, fn task) error {
	if p < c.phase {
		return internalf(nil, "work queued for %s phase while running %s", p, c.phase)
	}
	c.queues[p] = append(c.queues[p], fn)
	return nil
}

func (c *Compiler) run() error {
	for p := phaseTypes; p < numPhases; p++ {
		c.phase = p
		if p == phaseFinalize {
			if err := c.later(p, c.finalizeAll); err != nil {
				return err
			}
		}
		for len(c.queues[p]) > 0 {
			fn := c.queues[p][0]
			c.queues[p] = c.queues[p][1:]
			if err := fn(); err != nil {
				return err
			}
		}
	}
	c.phase = numPhases
	return nil
}

// declareType registers a freshly defined type for finalization.
func (c *Compiler) declareType(td *bytecode.TypeDef) {
	c.declared = append(c.declared, td)
	if td.Enclosing != nil {
		c.dependsOn(td, td.Enclosing)
	}
}

func (c *Compiler) dependsOn(td, dep *bytecode.TypeDef) {
	if dep != nil && dep != td {
		c.deps[td] = append(c.deps[td], dep)
	}
}

// declareScope creates the static holder of a scope's globals and declares
// the scope's classes, including the types local to its functions.
func (c *Compiler) declareScope(s *it.Scope) error {
	holder := c.mod.DefineType("@"+s.Name, bytecode.KindClass, nil)
	holder.Flags |= bytecode.TypeAbstract | bytecode.TypeSealed
	if !s.Holder.Set(holder) {
		return internalf(nil, "scope %s declared twice", s.Name)
	}
	c.declareType(holder)
	c.scopes = append(c.scopes, s)

	for _, cl := range s.Classes {
		if err := c.declareClass(cl, nil); err != nil {
			return err
		}
	}
	fns := (&it.Root{Scopes: []*it.Scope{s}}).Functions()
	for _, f := range fns {
		if err := c.declareBlockTypes(f.Body, c.methodName(f), holder); err != nil {
			return err
		}
	}
	if err := c.declareBlockTypes(s.Init, "$init", holder); err != nil {
		return err
	}
	return c.later(phaseMembers, func() error { return c.declareScopeMembers(s, holder, fns) })
}

// declareBlockTypes declares the types local to b. Bodies of local
// functions are not entered.
func (c *Compiler) declareBlockTypes(b *it.Block, prefix string, holder *bytecode.TypeDef) error {
	if b == nil {
		return nil
	}
	var err error
	it.Inspect(b, func(n it.Node) bool {
		blk, ok := n.(*it.Block)
		if !ok || err != nil {
			return err == nil
		}
		for _, cl := range blk.Types {
			c.localSeq++
			name := prefix + "$" + cl.Name + strconv.Itoa(c.localSeq)
			if err = c.declareNamedClass(cl, name, holder); err != nil {
				break
			}
		}
		return err == nil
	})
	return err
}

func (c *Compiler) declareClass(cl *it.ClassEntity, enclosing *bytecode.TypeDef) error {
	name := cl.Name
	if enclosing == nil && cl.Scope != nil && cl.Scope.Name != "" {
		name = cl.Scope.Name + "@" + cl.Name
	}
	return c.declareNamedClass(cl, name, enclosing)
}

// declareNamedClass creates the type shell of cl. Enums receive their
// literals here; everything else is queued.
func (c *Compiler) declareNamedClass(cl *it.ClassEntity, name string, enclosing *bytecode.TypeDef) error {
	ct := cl.Type
	kind := bytecode.KindClass
	switch ct.Kind {
	case it.KindInterface:
		kind = bytecode.KindInterface
	case it.KindEnum:
		kind = bytecode.KindEnum
	}
	names := make([]string, len(ct.Params))
	for i, p := range ct.Params {
		names[i] = p.Name
	}
	td := c.mod.DefineType(name, kind, enclosing, names...)
	if !ct.Record().Set(td) {
		return internalf(cl, "class declared twice")
	}
	for i, p := range ct.Params {
		if !p.Record().Set(td.GenericParams[i]) {
			return internalf(cl, "generic parameter %s bound twice", p.Name)
		}
	}
	if ct.Abstract || ct.Kind == it.KindInterface {
		td.Flags |= bytecode.TypeAbstract
	}
	if ct.Sealed || ct.Surrogate {
		td.Flags |= bytecode.TypeSealed
	}
	c.declareType(td)
	c.classes[td] = cl

	if ct.Kind == it.KindEnum {
		if err := c.declareEnum(cl, td); err != nil {
			return err
		}
	} else {
		if err := c.later(phaseMembers, func() error { return c.declareMembers(cl, td) }); err != nil {
			return err
		}
		if err := c.later(phaseHierarchy, func() error { return c.linkClass(cl, td) }); err != nil {
			return err
		}
	}
	for _, n := range cl.Nested {
		if err := c.declareClass(n, td); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) declareEnum(cl *it.ClassEntity, td *bytecode.TypeDef) error {
	ut, err := c.Resolve(it.Underlying(cl.Type))
	if err != nil {
		return err
	}
	p, ok := ut.(*bytecode.Prim)
	if !ok || !p.Kind.IsInteger() {
		return internalf(cl, "enum represented by %s", ut)
	}
	td.Underlying = p
	for _, m := range cl.Members() {
		f, ok := m.(*it.Field)
		if !ok {
			return internalf(cl, "enum member %s is not a literal", m.MemberName())
		}
		v, err := coerceLiteral(f.Value, p.Kind)
		if err != nil {
			return internalWrap(f, err, "enum literal %s", f.Name)
		}
		if !f.Record().Set(td.DefineLiteral(f.Name, v)) {
			return internalf(f, "literal declared twice")
		}
	}
	return nil
}

// declareMembers creates method, field and property shells of cl.
func (c *Compiler) declareMembers(cl *it.ClassEntity, td *bytecode.TypeDef) error {
	hasDefault := false
	ctors := 0
	for _, m := range cl.Members() {
		switch m := m.(type) {
		case *it.Function:
			md, err := c.defineMethod(m, td)
			if err != nil {
				return err
			}
			if m.IsCtor() {
				ctors++
				hasDefault = hasDefault || len(md.Params) == 0
			}
		case *it.Field:
			t, err := c.Resolve(m.Type)
			if err != nil {
				return err
			}
			if !m.Record().Set(td.DefineField(m.Name, t, m.Static)) {
				return internalf(m, "field declared twice")
			}
		case *it.Property:
			if err := c.declareProperty(m, td); err != nil {
				return err
			}
		default:
			return internalf(cl, "unexpected member %T", m)
		}
	}
	if cl.Type.Kind != it.KindClass {
		return nil
	}
	switch {
	case ctors == 0:
		md := td.DefineConstructor()
		if err := c.later(phaseBodies, func() error { return c.compileDefaultCtor(cl, md) }); err != nil {
			return err
		}
	case !hasDefault && !cl.Type.Abstract:
		td.Flags |= bytecode.TypeNotConstructible
	}
	return nil
}

func (c *Compiler) declareProperty(p *it.Property, td *bytecode.TypeDef) error {
	for _, param := range p.Params {
		if param.ByRef {
			return internalf(p, "property parameter %s is by-reference", param.Name)
		}
	}
	for _, acc := range []*it.Function{p.Getter, p.Setter} {
		if acc == nil {
			continue
		}
		if _, err := c.defineMethod(acc, td); err != nil {
			return err
		}
	}
	return nil
}

// defineMethod creates the shell of f on td and queues its body.
func (c *Compiler) defineMethod(f *it.Function, td *bytecode.TypeDef) (*bytecode.MethodDef, error) {
	var md *bytecode.MethodDef
	if f.IsCtor() {
		if len(f.Generics) > 0 {
			return nil, internalf(f, "generic constructor")
		}
		md = td.DefineMethod(bytecode.CtorName, bytecode.MethodCtor)
	} else {
		var attrs bytecode.MethodAttrs
		if f.Static {
			attrs |= bytecode.MethodStatic
		}
		if f.Virtual || f.Abstract || f.Override != nil || td.Kind == bytecode.KindInterface {
			attrs |= bytecode.MethodVirtual
		}
		if f.Abstract || td.Kind == bytecode.KindInterface {
			attrs |= bytecode.MethodAbstract
		}
		if f.Parent != nil {
			attrs |= bytecode.MethodHidden
		}
		names := make([]string, len(f.Generics))
		for i, g := range f.Generics {
			names[i] = g.Name
		}
		md = td.DefineMethod(c.methodName(f), attrs, names...)
	}
	if !f.Record().Set(md) {
		return nil, internalf(f, "function declared twice")
	}
	for i, g := range f.Generics {
		if !g.Record().Set(md.GenericParams[i]) {
			return nil, internalf(f, "generic parameter %s bound twice", g.Name)
		}
	}
	if err := c.signature(f, md); err != nil {
		return nil, err
	}
	if md.Attrs&bytecode.MethodAbstract == 0 {
		if err := c.later(phaseBodies, func() error { return c.compileFunction(f, md) }); err != nil {
			return nil, err
		}
	}
	return md, nil
}

// methodName mangles local functions by their chain of parents.
func (c *Compiler) methodName(f *it.Function) string {
	if f.Parent == nil || f.Captures {
		return f.Name
	}
	return c.methodName(f.Parent) + "$" + f.Name
}

func (c *Compiler) signature(f *it.Function, md *bytecode.MethodDef) error {
	ret, err := c.Resolve(f.Return)
	if err != nil {
		return err
	}
	ps := make([]bytecode.Param, len(f.Params))
	for i, p := range f.Params {
		t, err := c.Resolve(p.Type)
		if err != nil {
			return err
		}
		ps[i] = bytecode.Param{Name: p.Name, Type: t, ByRef: p.ByRef}
	}
	md.SetSignature(ret, ps...)
	return nil
}

// declareScopeMembers creates the scope's globals, global functions,
// non-capturing local functions and initializer on its holder. Capturing
// local functions are members of a surrogate class instead.
func (c *Compiler) declareScopeMembers(s *it.Scope, holder *bytecode.TypeDef, fns []*it.Function) error {
	for _, g := range s.Globals {
		t, err := c.Resolve(g.Type)
		if err != nil {
			return err
		}
		if !g.Record().Set(holder.DefineField(g.Name, t, true)) {
			return internalf(g, "global declared twice")
		}
	}
	for _, f := range fns {
		if f.Class != nil {
			continue
		}
		if f.Parent != nil && genericContext(f) {
			return internalf(f, "local function in a generic context")
		}
		if _, err := c.defineMethod(f, holder); err != nil {
			return err
		}
	}
	init := holder.DefineMethod("$init", bytecode.MethodStatic|bytecode.MethodHidden)
	c.inits[s] = init
	return c.later(phaseBodies, func() error { return c.compileScopeInit(s, init) })
}

// genericContext reports whether f is nested in a generic function or a
// member of a generic class.
func genericContext(f *it.Function) bool {
	for x := f; x != nil; x = x.Parent {
		if len(x.Generics) > 0 {
			return true
		}
		if x.Class != nil && !x.Class.Type.Surrogate && len(x.Class.Type.Params) > 0 {
			return true
		}
	}
	return false
}

// linkClass resolves the base type and interfaces of cl and binds
// overrides.
func (c *Compiler) linkClass(cl *it.ClassEntity, td *bytecode.TypeDef) error {
	ct := cl.Type
	if ct.Super != nil {
		base, err := c.Resolve(ct.Super)
		if err != nil {
			return err
		}
		if ht := hostDefinition(base); ht != nil {
			if h := c.host.Lookup(ht.Name); h != nil && h.Sealed {
				return internalf(cl, "base host type %s is sealed", ht.Name)
			}
		}
		td.Base = base
		c.dependsOn(td, definitionOf(base))
	}
	for _, i := range ct.Ifaces {
		h, err := c.Resolve(i)
		if err != nil {
			return err
		}
		td.AddInterface(h)
	}
	for _, m := range cl.Members() {
		f, ok := m.(*it.Function)
		if !ok || f.Override == nil {
			continue
		}
		md := f.Record().Handle().(*bytecode.MethodDef)
		base, err := c.Method(f.Override)
		if err != nil {
			return err
		}
		md.Overrides = base
	}
	return nil
}

func definitionOf(t bytecode.Type) *bytecode.TypeDef {
	switch t := t.(type) {
	case *bytecode.TypeDef:
		return t
	case *bytecode.GenericInst:
		td, _ := t.Def.(*bytecode.TypeDef)
		return td
	}
	return nil
}

func hostDefinition(t bytecode.Type) *bytecode.HostType {
	switch t := t.(type) {
	case *bytecode.HostType:
		return t
	case *bytecode.GenericInst:
		ht, _ := t.Def.(*bytecode.HostType)
		return ht
	}
	return nil
}

// finalizeAll seals every declared type after the types it depends on. A
// type the format rejects is reported as a warning; the remaining types
// are still finalized. Any other failure is internal.
func (c *Compiler) finalizeAll() error {
	var visited intsets.Sparse
	var visit func(td *bytecode.TypeDef) error
	visit = func(td *bytecode.TypeDef) error {
		if !visited.Insert(td.ID) {
			return nil
		}
		for _, dep := range c.deps[td] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		return c.finalizeType(td)
	}
	for _, td := range c.declared {
		if err := visit(td); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) finalizeType(td finalizer) error {
	err := td.Finalize()
	if err == nil {
		return nil
	}
	var tle *bytecode.TypeLoadError
	switch {
	case errors.As(err, &tle):
		c.warnf("%v", tle)
	case errors.Is(err, bytecode.ErrBaseNotFinalized):
		c.warnf("%v", err)
	default:
		return internalWrap(nil, err, "finalize %s", td)
	}
	return nil
}

// finalizer is the part of a type definition finalizeAll needs.
type finalizer interface {
	Finalize() error
	String() string
}
