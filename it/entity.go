package it

import (
	"github.com/yvt/queen-compiler-sub002/host"
)

// Special member names.
const (
	CtorName  = "ctor"
	ToStrName = "toStr"
	CmpName   = "cmp"
)

// Root is a whole program.
type Root struct {
	Scopes []*Scope
	// Entry is the program's main function, if any.
	Entry *Function
}

// Scope is one source file's global namespace. Its functions and variables
// are held by a synthesized static class.
type Scope struct {
	// Holder records the static class holding the scope's globals.
	Holder  Record
	Name    string
	Classes []*ClassEntity
	Funcs   []*Function
	Globals []*GlobalVariable
	// Init holds statements run when the program starts.
	Init *Block
}

// NewScope returns an empty scope.
func NewScope(name string) *Scope {
	return &Scope{Name: name, Init: &Block{}}
}

// AddClass declares a top-level class.
func (s *Scope) AddClass(c *ClassEntity) *ClassEntity {
	c.Scope = s
	s.Classes = append(s.Classes, c)
	return c
}

// AddFunc declares a global function.
func (s *Scope) AddFunc(f *Function) *Function {
	f.Scope = s
	f.Static = true
	s.Funcs = append(s.Funcs, f)
	return f
}

// AddGlobal declares a global variable.
func (s *Scope) AddGlobal(v *GlobalVariable) *GlobalVariable {
	v.Scope = s
	s.Globals = append(s.Globals, v)
	return v
}

// Member is a function, property, field or variable that can be resolved
// to a target handle.
type Member interface {
	MemberName() string
	Record() *Record
}

type memberBase struct {
	rec Record
}

func (b *memberBase) Record() *Record { return &b.rec }

// ClassEntity is a named class, interface or enum declaration.
type ClassEntity struct {
	Name  string
	Scope *Scope
	// Outer is the lexically enclosing class, if any.
	Outer *ClassEntity
	// Block is set for types declared inside a function body.
	Block  *Block
	Type   *ClassType
	Nested []*ClassEntity

	members []Member
	byName  map[string][]Member
}

// NewClass creates a declaration and binds it to a fresh ClassType.
func NewClass(name string, kind ClassKind, params ...string) *ClassEntity {
	c := &ClassEntity{Name: name, byName: make(map[string][]Member)}
	c.Type = &ClassType{Entity: c, Kind: kind}
	for i, p := range params {
		c.Type.Params = append(c.Type.Params, &GenericParameter{Name: p, Index: i, Class: c})
	}
	return c
}

// QualifiedName returns the name prefixed by enclosing classes.
func (c *ClassEntity) QualifiedName() string {
	if c.Outer != nil {
		return c.Outer.QualifiedName() + "." + c.Name
	}
	if c.Scope != nil && c.Scope.Name != "" {
		return c.Scope.Name + "@" + c.Name
	}
	return c.Name
}

// AddNested declares n inside c.
func (c *ClassEntity) AddNested(n *ClassEntity) *ClassEntity {
	n.Outer = c
	n.Scope = c.Scope
	c.Nested = append(c.Nested, n)
	return n
}

func (c *ClassEntity) add(name string, m Member) {
	c.members = append(c.members, m)
	c.byName[name] = append(c.byName[name], m)
}

// AddFunc adds a method.
func (c *ClassEntity) AddFunc(f *Function) *Function {
	f.Class = c
	f.Scope = c.Scope
	c.add(f.Name, f)
	return f
}

// AddField adds a field.
func (c *ClassEntity) AddField(f *Field) *Field {
	f.Class = c
	c.add(f.Name, f)
	return f
}

// AddProperty adds a property along with its accessors.
func (c *ClassEntity) AddProperty(p *Property) *Property {
	p.Class = c
	for _, acc := range []*Function{p.Getter, p.Setter} {
		if acc != nil {
			acc.Class = c
			acc.Scope = c.Scope
			acc.Static = p.Static
		}
	}
	c.add(p.Name, p)
	return p
}

// Members returns c's own members in declaration order.
func (c *ClassEntity) Members() []Member { return c.members }

// Member returns the first member of c itself named name.
func (c *ClassEntity) Member(name string) Member {
	if ms := c.byName[name]; len(ms) > 0 {
		return ms[0]
	}
	return nil
}

// Constructors returns the functions named ctor.
func (c *ClassEntity) Constructors() []*Function {
	var out []*Function
	for _, m := range c.byName[CtorName] {
		if f, ok := m.(*Function); ok {
			out = append(out, f)
		}
	}
	return out
}

// LookupMember finds name on c or, walking Superclass, on its bases.
func (c *ClassEntity) LookupMember(name string) Member {
	var t Type = c.Type
	for t != nil {
		def := t
		if inst, ok := t.(*InstantiatedType); ok {
			def = inst.Def
		}
		ct, ok := def.(*ClassType)
		if !ok || ct.Entity == nil {
			return nil
		}
		if m := ct.Entity.Member(name); m != nil {
			if inst, ok := t.(*InstantiatedType); ok {
				return inst.Mutate(m)
			}
			return m
		}
		t = t.Superclass()
	}
	return nil
}

// Parameter is a formal parameter of a function.
type Parameter struct {
	Name  string
	Type  Type
	ByRef bool
	Index int
	Func  *Function
}

// Function is a method, constructor, property accessor, global function or
// local function, together with its body.
type Function struct {
	memberBase
	Name  string
	Class *ClassEntity
	Scope *Scope
	// Parent is the lexically enclosing function of a local function.
	Parent *Function

	Static   bool
	Virtual  bool
	Abstract bool
	// Override is the base method this one overrides.
	Override Member

	Params   []*Parameter
	Return   Type
	Generics []*GenericParameter
	Body     *Block

	// Capture bookkeeping, written only by closure rewriting.
	CapturedLocals map[*LocalVariable]*Field
	CapturedParams map[*Parameter]*Field
	// CapturedThis holds the receiver when local functions refer to it.
	CapturedThis *Field
	// ParentField links this function's surrogate to its parent's.
	ParentField *Field
	// SurrogateVar holds this function's surrogate instance.
	SurrogateVar *LocalVariable
	// InitBlock is the statement inserted to create the surrogate.
	InitBlock *BlockStmt
	// Captures is set on local functions that reach enclosing state and
	// therefore run as instance methods of their parent's surrogate.
	Captures bool
}

// NewFunction returns a function with the given parameters and an empty
// body.
func NewFunction(name string, ret Type, params ...*Parameter) *Function {
	f := &Function{Name: name, Return: ret, Body: &Block{}}
	for i, p := range params {
		p.Index = i
		p.Func = f
	}
	f.Params = params
	return f
}

// AddGeneric declares a method type parameter.
func (f *Function) AddGeneric(name string) *GenericParameter {
	g := &GenericParameter{Name: name, Index: len(f.Generics), Func: f}
	f.Generics = append(f.Generics, g)
	return g
}

// AddLocalFunc declares g as a local function of f inside block b.
func (f *Function) AddLocalFunc(b *Block, g *Function) *Function {
	g.Parent = f
	g.Scope = f.Scope
	g.Static = true
	b.Funcs = append(b.Funcs, g)
	return g
}

func (f *Function) MemberName() string { return f.Name }

// IsCtor reports whether f is an instance constructor.
func (f *Function) IsCtor() bool { return f.Class != nil && !f.Static && f.Name == CtorName }

// Type returns f's function type.
func (f *Function) Type() *FunctionType {
	ft := &FunctionType{Return: f.Return}
	for _, p := range f.Params {
		ft.Params = append(ft.Params, FuncParam{Type: p.Type, ByRef: p.ByRef})
	}
	return ft
}

// Field is a member variable. Enum literals are static fields with Value
// set.
type Field struct {
	memberBase
	Name   string
	Class  *ClassEntity
	Type   Type
	Static bool
	// Value is the constant value of an enum literal.
	Value any
}

func (f *Field) MemberName() string { return f.Name }

// Property is a property or indexer. Getter and setter share Params.
type Property struct {
	memberBase
	Name   string
	Class  *ClassEntity
	Type   Type
	Static bool
	Params []*Parameter
	Getter *Function
	Setter *Function
}

func (p *Property) MemberName() string { return p.Name }

// GlobalVariable is a variable declared at scope level.
type GlobalVariable struct {
	memberBase
	Name  string
	Scope *Scope
	Type  Type
	Init  Expr
}

func (v *GlobalVariable) MemberName() string { return v.Name }

// ImportedFunction is a host method seen as a member.
type ImportedFunction struct {
	memberBase
	Owner  *ImportedType
	Method *host.Method
}

func (f *ImportedFunction) MemberName() string { return f.Method.Name }

// ImportedField is a host field seen as a member.
type ImportedField struct {
	memberBase
	Owner *ImportedType
	Field *host.Field
}

func (f *ImportedField) MemberName() string { return f.Field.Name }

// MutatedFunction is a method viewed through an instantiated owner.
type MutatedFunction struct {
	memberBase
	Owner *InstantiatedType
	// Base is a *Function or *ImportedFunction.
	Base Member
}

func (m *MutatedFunction) MemberName() string { return m.Base.MemberName() }

// Return returns the substituted return type, or nil when the base is a
// host method.
func (m *MutatedFunction) Return() Type {
	if f, ok := m.Base.(*Function); ok {
		return Subst(f.Return, m.Owner.Def.GenericParameters(), m.Owner.Args)
	}
	return nil
}

// MutatedField is a field viewed through an instantiated owner.
type MutatedField struct {
	memberBase
	Owner *InstantiatedType
	// Base is a *Field or *ImportedField.
	Base Member
}

func (m *MutatedField) MemberName() string { return m.Base.MemberName() }

// Type returns the substituted field type, or nil for host fields.
func (m *MutatedField) Type() Type {
	if f, ok := m.Base.(*Field); ok {
		return Subst(f.Type, m.Owner.Def.GenericParameters(), m.Owner.Args)
	}
	return nil
}

// MutatedProperty is a property viewed through an instantiated owner.
type MutatedProperty struct {
	memberBase
	Owner *InstantiatedType
	Base  *Property
}

func (m *MutatedProperty) MemberName() string { return m.Base.Name }

// Getter returns the mutated getter, or nil.
func (m *MutatedProperty) Getter() Member {
	if m.Base.Getter == nil {
		return nil
	}
	return m.Owner.Mutate(m.Base.Getter)
}

// Setter returns the mutated setter, or nil.
func (m *MutatedProperty) Setter() Member {
	if m.Base.Setter == nil {
		return nil
	}
	return m.Owner.Mutate(m.Base.Setter)
}

// Block is a lexical scope.
type Block struct {
	Stmts  []Stmt
	Locals []*LocalVariable
	// Types and Funcs are declared locally in the block.
	Types  []*ClassEntity
	Funcs  []*Function
	IsLoop bool

	surrogate *ClassEntity
}

// Declare adds v to the block's local table.
func (b *Block) Declare(v *LocalVariable) *LocalVariable {
	b.Locals = append(b.Locals, v)
	return v
}

// Lookup returns the local named name declared directly in b.
func (b *Block) Lookup(name string) *LocalVariable {
	for _, v := range b.Locals {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// Remove drops v from the local table.
func (b *Block) Remove(v *LocalVariable) bool {
	for i, x := range b.Locals {
		if x == v {
			b.Locals = append(b.Locals[:i], b.Locals[i+1:]...)
			return true
		}
	}
	return false
}

// AddType declares a block-local type.
func (b *Block) AddType(c *ClassEntity) *ClassEntity {
	c.Block = b
	b.Types = append(b.Types, c)
	return c
}

// Surrogate returns the class holding state captured from b, or nil.
func (b *Block) Surrogate() *ClassEntity { return b.surrogate }

// BindSurrogate records c as b's surrogate class. The binding is made once;
// later calls report false and keep the first class.
func (b *Block) BindSurrogate(c *ClassEntity) bool {
	if b.surrogate != nil {
		return false
	}
	b.surrogate = c
	return true
}

// Append adds statements to the end of b.
func (b *Block) Append(s ...Stmt) *Block {
	b.Stmts = append(b.Stmts, s...)
	return b
}

// LocalVariable is a local variable or constant.
type LocalVariable struct {
	Name string
	Type Type
	// Const marks a compile-time constant whose value is Value.
	Const bool
	Value Expr

	slot  int
	bound bool
}

// Slot returns the storage slot attached by code generation.
func (v *LocalVariable) Slot() (int, bool) { return v.slot, v.bound }

// AttachSlot binds v to storage slot i. It reports false when v already
// has a slot.
func (v *LocalVariable) AttachSlot(i int) bool {
	if v.bound {
		return false
	}
	v.slot, v.bound = i, true
	return true
}
