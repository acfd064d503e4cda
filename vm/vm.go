// Package vm interprets bytecode modules. It is the reference execution
// model for compiled programs: values are Go values of the matching kind,
// objects carry their instantiated class, and thrown exceptions are
// *host.Exception values.
package vm

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"github.com/yvt/queen-compiler-sub002/bytecode"
	"github.com/yvt/queen-compiler-sub002/host"
)

// DefaultMaxDepth bounds the call depth when Config.MaxDepth is zero.
const DefaultMaxDepth = 4096

// Config configures a Machine.
type Config struct {
	// Host resolves host types, methods and fields by name. The standard
	// registry is used when nil.
	Host *host.Registry
	// Seed seeds the random source of shuffling helpers.
	Seed int64
	// MaxDepth bounds the call depth.
	MaxDepth int
}

// Object is an instance of a module-defined class.
type Object struct {
	// Type is the instantiated class, a *bytecode.TypeDef or a
	// *bytecode.GenericInst.
	Type   bytecode.Type
	Fields map[*bytecode.FieldDef]any
}

// Delegate is a method bound to an optional receiver.
type Delegate struct {
	Type   bytecode.Type
	Recv   any
	target callee
}

// callee is a resolved call target together with its generic context.
type callee struct {
	md    *bytecode.MethodDef
	host  *host.Method
	targs []bytecode.Type
	margs []bytecode.Type
}

func (c callee) String() string {
	if c.md != nil {
		return c.md.String()
	}
	if c.host != nil {
		return c.host.Owner.Name + "::" + c.host.Name
	}
	return "<nil>"
}

// Machine runs one module. It is not safe for concurrent use.
type Machine struct {
	mod      *bytecode.Module
	reg      *host.Registry
	rand     *rand.Rand
	maxDepth int
	depth    int
	inited   bool

	statics map[*bytecode.FieldDef]any
	hosts   map[*bytecode.HostMethod]*host.Method
}

// New returns a machine for mod.
func New(mod *bytecode.Module, cfg Config) *Machine {
	reg := cfg.Host
	if reg == nil {
		reg = host.Standard()
	}
	depth := cfg.MaxDepth
	if depth <= 0 {
		depth = DefaultMaxDepth
	}
	return &Machine{
		mod:      mod,
		reg:      reg,
		rand:     rand.New(rand.NewSource(cfg.Seed)),
		maxDepth: depth,
		statics:  make(map[*bytecode.FieldDef]any),
		hosts:    make(map[*bytecode.HostMethod]*host.Method),
	}
}

// Rand implements host.Env.
func (m *Machine) Rand() *rand.Rand { return m.rand }

// Init runs the module's initializers once.
func (m *Machine) Init() error {
	if m.inited {
		return nil
	}
	m.inited = true
	for _, md := range m.mod.Inits {
		if _, err := m.Call(md); err != nil {
			return fmt.Errorf("init %s: %w", md.Name, err)
		}
	}
	return nil
}

// Run initializes the module and calls its entry point.
func (m *Machine) Run() (any, error) {
	if m.mod.Entry == nil {
		return nil, errors.New("vm: module has no entry point")
	}
	if err := m.Init(); err != nil {
		return nil, err
	}
	return m.Call(m.mod.Entry)
}

// Call calls the static method md with args.
func (m *Machine) Call(md *bytecode.MethodDef, args ...any) (any, error) {
	if !md.IsStatic() {
		return nil, fmt.Errorf("vm: %s is not static", md)
	}
	return m.invoke(callee{md: md}, args)
}

// CallMethod calls the instance method md on recv with args, dispatching
// virtually.
func (m *Machine) CallMethod(recv any, md bytecode.Method, args ...any) (any, error) {
	c, err := m.resolve(nil, md, recv, true)
	if err != nil {
		return nil, err
	}
	return m.invoke(c, append([]any{recv}, args...))
}

// Static returns the value of a static field.
func (m *Machine) Static(fd *bytecode.FieldDef) any {
	if fd.Literal {
		return fd.Value
	}
	if v, ok := m.statics[fd]; ok {
		return v
	}
	return m.zero(fd.Type)
}

// NewObject creates an instance of t with zeroed fields, without running a
// constructor.
func (m *Machine) NewObject(t bytecode.Type) *Object {
	o := &Object{Type: t, Fields: make(map[*bytecode.FieldDef]any)}
	for _, lvl := range m.chain(t) {
		for _, fd := range lvl.td.Fields {
			if fd.Static || fd.Literal {
				continue
			}
			o.Fields[fd] = m.zero(m.mod.Subst(fd.Type, lvl.args, nil))
		}
	}
	return o
}

// zero returns the default value of t.
func (m *Machine) zero(t bytecode.Type) any {
	switch t := t.(type) {
	case *bytecode.Prim:
		return host.Zero(t.Kind)
	case *bytecode.TypeDef:
		if t.Kind == bytecode.KindEnum && t.Underlying != nil {
			return host.Zero(t.Underlying.Kind)
		}
	}
	return nil
}

// level is one class of an object's inheritance chain with the type
// arguments it is instantiated with.
type level struct {
	td   *bytecode.TypeDef
	args []bytecode.Type
}

func (m *Machine) chain(t bytecode.Type) []level {
	var out []level
	for t != nil {
		var lvl level
		switch x := t.(type) {
		case *bytecode.TypeDef:
			lvl.td = x
		case *bytecode.GenericInst:
			lvl.td, _ = x.Def.(*bytecode.TypeDef)
			lvl.args = x.Args
		}
		if lvl.td == nil {
			break
		}
		out = append(out, lvl)
		if lvl.td.Base == nil {
			break
		}
		t = m.mod.Subst(lvl.td.Base, lvl.args, nil)
	}
	return out
}

// argsFor returns the type arguments td is instantiated with in o's chain.
func (m *Machine) argsFor(o *Object, td *bytecode.TypeDef) []bytecode.Type {
	for _, lvl := range m.chain(o.Type) {
		if lvl.td == td {
			return lvl.args
		}
	}
	return nil
}

// dispatch finds the implementation of target for o's class.
func (m *Machine) dispatch(o *Object, target *bytecode.MethodDef) (*bytecode.MethodDef, []bytecode.Type) {
	iface := target.Owner.Kind == bytecode.KindInterface
	for _, lvl := range m.chain(o.Type) {
		for _, md := range lvl.td.Methods {
			if md == target || overrides(md, target) {
				return md, lvl.args
			}
			if iface && md.Name == target.Name && len(md.Params) == len(target.Params) && md.Attrs&bytecode.MethodAbstract == 0 {
				return md, lvl.args
			}
		}
	}
	return target, m.argsFor(o, target.Owner)
}

func overrides(md, target *bytecode.MethodDef) bool {
	for x := md.Overrides; x != nil; {
		d := defOf(x)
		if d == nil {
			return false
		}
		if d == target {
			return true
		}
		x = d.Overrides
	}
	return false
}

func defOf(m bytecode.Method) *bytecode.MethodDef {
	switch m := m.(type) {
	case *bytecode.MethodDef:
		return m
	case *bytecode.MethodOn:
		return m.Def
	case *bytecode.MethodInst:
		return defOf(m.Method)
	}
	return nil
}

// hostType returns the registered host type behind t.
func (m *Machine) hostType(t bytecode.Type) *host.Type {
	switch t := t.(type) {
	case *bytecode.HostType:
		return m.reg.Lookup(t.Name)
	case *bytecode.GenericInst:
		return m.hostType(t.Def)
	}
	return nil
}

func (m *Machine) hostMethod(hm *bytecode.HostMethod) (*host.Method, error) {
	if h, ok := m.hosts[hm]; ok {
		return h, nil
	}
	ht := m.hostType(hm.Owner)
	if ht == nil {
		return nil, fmt.Errorf("vm: host type %s is not registered", hm.Owner)
	}
	params := make([]bytecode.Type, len(hm.Params))
	for i, p := range hm.Params {
		params[i] = p.Type
	}
	h := ht.LookupMethod(hm.Name, params...)
	if h == nil || h.Static != hm.Static {
		return nil, fmt.Errorf("vm: host method %s is not registered", hm)
	}
	m.hosts[hm] = h
	return h, nil
}

// resolve binds the method handle mt to an implementation, using recv for
// instance methods of module-defined classes.
func (m *Machine) resolve(f *frame, mt bytecode.Method, recv any, virtual bool) (callee, error) {
	switch x := mt.(type) {
	case *bytecode.MethodInst:
		c, err := m.resolve(f, x.Method, recv, virtual)
		if err != nil {
			return callee{}, err
		}
		c.margs = m.substAll(f, x.Args)
		return c, nil
	case *bytecode.HostMethod:
		h, err := m.hostMethod(x)
		if err != nil {
			return callee{}, err
		}
		var targs []bytecode.Type
		if g, ok := x.Owner.(*bytecode.GenericInst); ok {
			targs = m.substAll(f, g.Args)
		}
		return callee{host: h, targs: targs}, nil
	case *bytecode.MethodDef:
		if o, ok := recv.(*Object); ok && !x.IsStatic() {
			return m.bindObject(o, x, virtual), nil
		}
		c := callee{md: x}
		if f != nil && f.md.Owner == x.Owner {
			c.targs = f.targs
		}
		return c, nil
	case *bytecode.MethodOn:
		if o, ok := recv.(*Object); ok && !x.IsStatic() {
			return m.bindObject(o, x.Def, virtual), nil
		}
		return callee{md: x.Def, targs: m.substAll(f, x.Owner.Args)}, nil
	}
	return callee{}, fmt.Errorf("vm: cannot call %v", mt)
}

func (m *Machine) bindObject(o *Object, md *bytecode.MethodDef, virtual bool) callee {
	if virtual && md.Attrs&bytecode.MethodVirtual != 0 {
		impl, targs := m.dispatch(o, md)
		return callee{md: impl, targs: targs}
	}
	return callee{md: md, targs: m.argsFor(o, md.Owner)}
}

func (m *Machine) substAll(f *frame, ts []bytecode.Type) []bytecode.Type {
	if f == nil {
		return ts
	}
	out := make([]bytecode.Type, len(ts))
	for i, t := range ts {
		out[i] = f.subst(m.mod, t)
	}
	return out
}

// invoke runs c. Instance methods receive the receiver as args[0].
func (m *Machine) invoke(c callee, args []any) (any, error) {
	if c.host != nil {
		if c.host.Impl == nil {
			return nil, fmt.Errorf("vm: host method %s has no implementation", c)
		}
		return c.host.Impl(m, args)
	}
	md := c.md
	if md.Body == nil {
		return nil, fmt.Errorf("vm: %s has no body", md)
	}
	if m.depth >= m.maxDepth {
		return nil, fmt.Errorf("vm: call depth exceeds %d in %s", m.maxDepth, md)
	}
	m.depth++
	defer func() { m.depth-- }()

	f := &frame{
		md:     md,
		body:   md.Body,
		args:   args,
		locals: make([]any, len(md.Body.Locals)),
		targs:  c.targs,
		margs:  c.margs,
		caught: make(map[int]*host.Exception),
	}
	for i, l := range md.Body.Locals {
		f.locals[i] = m.zero(f.subst(m.mod, l.Type))
	}
	return m.exec(f)
}

// isInstance reports whether v is an instance of t.
func (m *Machine) isInstance(v any, t bytecode.Type) bool {
	if v == nil {
		return false
	}
	if d, ok := v.(*Delegate); ok && bytecode.SameType(d.Type, t) {
		return true
	}
	switch t := t.(type) {
	case *bytecode.HostType, *bytecode.GenericInst:
		if ht := m.hostType(t); ht != nil {
			return m.isHostInstance(v, ht)
		}
	case *bytecode.ArrayType:
		a, ok := v.(*host.Array)
		return ok && len(a.Dims) == t.Rank && bytecode.SameType(a.Elem, t.Elem)
	case *bytecode.Prim:
		return kindOfValue(v) == t.Kind
	}
	switch v := v.(type) {
	case *Object:
		for _, lvl := range m.chain(v.Type) {
			if m.sameClass(lvl, t) {
				return true
			}
			for _, i := range lvl.td.Interfaces {
				if bytecode.SameType(m.mod.Subst(i, lvl.args, nil), t) {
					return true
				}
			}
		}
	case *Delegate:
		return bytecode.SameType(v.Type, t)
	}
	return false
}

func (m *Machine) sameClass(lvl level, t bytecode.Type) bool {
	switch t := t.(type) {
	case *bytecode.TypeDef:
		return lvl.td == t && len(lvl.args) == 0
	case *bytecode.GenericInst:
		if t.Def != lvl.td || len(t.Args) != len(lvl.args) {
			return false
		}
		for i, a := range t.Args {
			if !bytecode.SameType(a, lvl.args[i]) {
				return false
			}
		}
		return true
	}
	return false
}

func (m *Machine) isHostInstance(v any, ht *host.Type) bool {
	if ht == host.ObjectType {
		return true
	}
	switch v := v.(type) {
	case *host.Exception:
		return v.Type.IsSubclassOf(ht)
	case string:
		return ht == host.StringType
	case *Object, *host.Array, *Delegate:
		return false
	}
	return ht == host.ValueTypeType
}

// Compare implements host.Env: it orders primitives, strings and arrays
// directly and objects through their cmp method.
func (m *Machine) Compare(a, b any) (int, error) {
	switch x := a.(type) {
	case nil:
		if b == nil {
			return 0, nil
		}
		return -1, nil
	case string:
		y, ok := b.(string)
		if !ok {
			break
		}
		return strings.Compare(x, y), nil
	case *host.Array:
		y, ok := b.(*host.Array)
		if !ok {
			break
		}
		return host.CompareArrays(m, x, y)
	case *Object:
		return m.compareObjects(x, b)
	default:
		if b == nil {
			return 1, nil
		}
		c, unordered, err := compareValues(a, b)
		if err != nil {
			return 0, err
		}
		if unordered {
			return 0, nil
		}
		return c, nil
	}
	if b == nil {
		return 1, nil
	}
	return 0, fmt.Errorf("vm: cannot compare %T with %T", a, b)
}

func (m *Machine) compareObjects(o *Object, b any) (int, error) {
	for _, lvl := range m.chain(o.Type) {
		md := lvl.td.Method("cmp")
		if md == nil || md.IsStatic() || len(md.Params) != 1 {
			continue
		}
		impl, targs := m.dispatch(o, md)
		r, err := m.invoke(callee{md: impl, targs: targs}, []any{o, b})
		if err != nil {
			return 0, err
		}
		n, ok := r.(int64)
		if !ok {
			return 0, fmt.Errorf("vm: %s returned %T", md, r)
		}
		switch {
		case n < 0:
			return -1, nil
		case n > 0:
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("vm: %s has no cmp method", o.Type)
}
