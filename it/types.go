// Package it defines the typed intermediate tree the backend consumes:
// types, entities and members, statements and expressions, along with the
// walking and rewriting helpers used by tree transformations.
//
// The tree is produced by semantic analysis. Node types are trusted as
// given; only closure rewriting changes the tree.
package it

import (
	"strconv"
	"strings"

	"github.com/yvt/queen-compiler-sub002/host"
)

// Record is a write-once slot holding the target handle a type or member
// resolved to.
type Record struct {
	handle any
}

// Handle returns the stored handle, or nil.
func (r *Record) Handle() any { return r.handle }

// Resolved reports whether a handle is stored.
func (r *Record) Resolved() bool { return r.handle != nil }

// Set stores h. It reports false and keeps the old handle when one is
// already stored.
func (r *Record) Set(h any) bool {
	if r.handle != nil {
		return false
	}
	r.handle = h
	return true
}

// Type is a source-level type.
type Type interface {
	String() string
	// Superclass returns the direct base, or nil for the root, value
	// kinds and types whose only base is an implicit host root.
	Superclass() Type
	Interfaces() []Type
	GenericParameters() []*GenericParameter
	Record() *Record
}

type typeBase struct {
	rec Record
}

func (b *typeBase) Record() *Record                        { return &b.rec }
func (*typeBase) Superclass() Type                         { return nil }
func (*typeBase) Interfaces() []Type                       { return nil }
func (*typeBase) GenericParameters() []*GenericParameter { return nil }

// PrimKind enumerates the primitive types.
type PrimKind uint8

const (
	PrimBool PrimKind = iota
	PrimInt8
	PrimInt16
	PrimInt32
	PrimInt64
	// PrimInteger is the language's generalized integer. It shares int64's
	// representation but its arithmetic is overflow-checked.
	PrimInteger
	PrimUInt8
	PrimUInt16
	PrimUInt32
	PrimUInt64
	PrimFloat32
	PrimFloat64
	PrimString
	NumPrimKinds
)

var primNames = [NumPrimKinds]string{
	"bool", "int8", "int16", "int32", "int64", "int",
	"byte8", "byte16", "byte32", "byte64", "float32", "float", "[]char",
}

func (k PrimKind) String() string {
	if k < NumPrimKinds {
		return primNames[k]
	}
	return "prim" + strconv.Itoa(int(k))
}

// IsInteger reports whether k is a signed or unsigned integer kind.
func (k PrimKind) IsInteger() bool { return k >= PrimInt8 && k <= PrimUInt64 }

// IsUnsigned reports whether k is one of the unsigned widths.
func (k PrimKind) IsUnsigned() bool { return k >= PrimUInt8 && k <= PrimUInt64 }

func (k PrimKind) IsFloat() bool   { return k == PrimFloat32 || k == PrimFloat64 }
func (k PrimKind) IsNumeric() bool { return k.IsInteger() || k.IsFloat() }

// Primitive is a built-in value type. Primitives compare structurally.
type Primitive struct {
	typeBase
	Kind PrimKind
}

func (p *Primitive) String() string { return p.Kind.String() }

// NewPrimitive returns a fresh primitive of kind k. The predeclared values
// below are normally used instead.
func NewPrimitive(k PrimKind) *Primitive { return &Primitive{Kind: k} }

var (
	Bool    = NewPrimitive(PrimBool)
	Int8    = NewPrimitive(PrimInt8)
	Int16   = NewPrimitive(PrimInt16)
	Int32   = NewPrimitive(PrimInt32)
	Int64   = NewPrimitive(PrimInt64)
	Int     = NewPrimitive(PrimInteger)
	UInt8   = NewPrimitive(PrimUInt8)
	UInt16  = NewPrimitive(PrimUInt16)
	UInt32  = NewPrimitive(PrimUInt32)
	UInt64  = NewPrimitive(PrimUInt64)
	Float32 = NewPrimitive(PrimFloat32)
	Float64 = NewPrimitive(PrimFloat64)
	String  = NewPrimitive(PrimString)
)

// ClassKind distinguishes classes, interfaces and enums.
type ClassKind uint8

const (
	KindClass ClassKind = iota
	KindInterface
	KindEnum
)

// ClassType is the type of a class, interface or enum declaration. It is
// bound to exactly one ClassEntity.
type ClassType struct {
	typeBase
	Entity *ClassEntity
	Kind   ClassKind
	Super  Type
	Ifaces []Type
	Params []*GenericParameter
	// Underlying is the representation of an enum.
	Underlying *Primitive
	Abstract   bool
	Sealed     bool
	// Surrogate marks a class synthesized to hold captured state.
	Surrogate bool
}

func (c *ClassType) String() string {
	if c.Entity == nil {
		return "<unbound class>"
	}
	return c.Entity.QualifiedName()
}

func (c *ClassType) Superclass() Type                         { return c.Super }
func (c *ClassType) Interfaces() []Type                       { return c.Ifaces }
func (c *ClassType) GenericParameters() []*GenericParameter { return c.Params }

// ArrayType is an array of Elem with Rank dimensions. Arrays compare
// structurally.
type ArrayType struct {
	typeBase
	Elem Type
	Rank int
}

// ArrayOf returns the one-dimensional array type of elem.
func ArrayOf(elem Type) *ArrayType { return &ArrayType{Elem: elem, Rank: 1} }

func (a *ArrayType) String() string {
	return "[" + strings.Repeat(",", a.Rank-1) + "]" + a.Elem.String()
}

// GenericParameter is a type parameter of a class or a function.
type GenericParameter struct {
	typeBase
	Name  string
	Index int
	Class *ClassEntity
	Func  *Function
}

func (g *GenericParameter) String() string { return g.Name }

// InstantiatedType is a generic class or host type closed over Args.
type InstantiatedType struct {
	typeBase
	// Def is a *ClassType or an *ImportedType.
	Def  Type
	Args []Type

	mutated map[Member]Member
}

// Instantiate closes def over args.
func Instantiate(def Type, args ...Type) *InstantiatedType {
	return &InstantiatedType{Def: def, Args: args}
}

func (t *InstantiatedType) String() string {
	var b strings.Builder
	b.WriteString(t.Def.String())
	b.WriteByte('<')
	for i, a := range t.Args {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(a.String())
	}
	b.WriteByte('>')
	return b.String()
}

func (t *InstantiatedType) Superclass() Type {
	return Subst(t.Def.Superclass(), t.Def.GenericParameters(), t.Args)
}

func (t *InstantiatedType) Interfaces() []Type {
	var out []Type
	for _, i := range t.Def.Interfaces() {
		out = append(out, Subst(i, t.Def.GenericParameters(), t.Args))
	}
	return out
}

// Mutate returns the view of base, a member of t's definition, with t's
// type arguments substituted. Views are created once per base member.
func (t *InstantiatedType) Mutate(base Member) Member {
	if m, ok := t.mutated[base]; ok {
		return m
	}
	if t.mutated == nil {
		t.mutated = make(map[Member]Member)
	}
	var m Member
	switch b := base.(type) {
	case *Property:
		m = &MutatedProperty{Owner: t, Base: b}
	case *Field, *ImportedField:
		m = &MutatedField{Owner: t, Base: b}
	default:
		m = &MutatedFunction{Owner: t, Base: b}
	}
	t.mutated[base] = m
	return m
}

// FuncParam is one parameter of a function type.
type FuncParam struct {
	Type  Type
	ByRef bool
}

// FunctionType is the structural type of function values.
type FunctionType struct {
	typeBase
	Params []FuncParam
	Return Type
}

func (f *FunctionType) String() string {
	var b strings.Builder
	b.WriteString("func<(")
	for i, p := range f.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		if p.ByRef {
			b.WriteByte('&')
		}
		b.WriteString(p.Type.String())
	}
	b.WriteByte(')')
	if f.Return != nil {
		b.WriteString(": ")
		b.WriteString(f.Return.String())
	}
	b.WriteByte('>')
	return b.String()
}

// NullType is the type of the null literal.
type NullType struct {
	typeBase
}

func (*NullType) String() string { return "null" }

// ImportedType wraps a host type. The implicit host roots never surface
// through Superclass or Interfaces.
type ImportedType struct {
	typeBase
	Host *host.Type

	base   *ImportedType
	ifaces []Type
	params []*GenericParameter
	funcs  map[*host.Method]*ImportedFunction
	fields map[*host.Field]*ImportedField
	linked bool
}

// Importer hands out one ImportedType per host type so that records are
// shared by every reference.
type Importer struct {
	types map[*host.Type]*ImportedType
}

// NewImporter returns an empty importer.
func NewImporter() *Importer {
	return &Importer{types: make(map[*host.Type]*ImportedType)}
}

// Import returns the imported view of h.
func (im *Importer) Import(h *host.Type) *ImportedType {
	if t, ok := im.types[h]; ok {
		return t
	}
	t := &ImportedType{Host: h}
	for i := 0; i < h.Arity; i++ {
		t.params = append(t.params, &GenericParameter{Name: "T" + strconv.Itoa(i), Index: i})
	}
	im.types[h] = t
	t.link(im)
	return t
}

func (t *ImportedType) link(im *Importer) {
	if t.linked {
		return
	}
	t.linked = true
	if b := t.Host.Base; b != nil && !b.IsRoot() {
		t.base = im.Import(b)
	}
	for _, i := range t.Host.Interfaces {
		if !i.IsRoot() {
			t.ifaces = append(t.ifaces, im.Import(i))
		}
	}
}

func (t *ImportedType) String() string { return t.Host.Name }

func (t *ImportedType) Superclass() Type {
	if t.base == nil {
		return nil
	}
	return t.base
}

func (t *ImportedType) Interfaces() []Type                       { return t.ifaces }
func (t *ImportedType) GenericParameters() []*GenericParameter { return t.params }

// Func returns the member view of the host method m.
func (t *ImportedType) Func(m *host.Method) *ImportedFunction {
	if f, ok := t.funcs[m]; ok {
		return f
	}
	if t.funcs == nil {
		t.funcs = make(map[*host.Method]*ImportedFunction)
	}
	f := &ImportedFunction{Owner: t, Method: m}
	t.funcs[m] = f
	return f
}

// Field returns the member view of the host field f.
func (t *ImportedType) Field(f *host.Field) *ImportedField {
	if v, ok := t.fields[f]; ok {
		return v
	}
	if t.fields == nil {
		t.fields = make(map[*host.Field]*ImportedField)
	}
	v := &ImportedField{Owner: t, Field: f}
	t.fields[f] = v
	return v
}

// Equal reports whether a and b denote the same type: structurally for
// primitives, arrays and function types, by definition and arguments for
// classes and instantiations.
func Equal(a, b Type) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	switch a := a.(type) {
	case *Primitive:
		b, ok := b.(*Primitive)
		return ok && a.Kind == b.Kind
	case *ArrayType:
		b, ok := b.(*ArrayType)
		return ok && a.Rank == b.Rank && Equal(a.Elem, b.Elem)
	case *InstantiatedType:
		b, ok := b.(*InstantiatedType)
		if !ok || !Equal(a.Def, b.Def) || len(a.Args) != len(b.Args) {
			return false
		}
		for i := range a.Args {
			if !Equal(a.Args[i], b.Args[i]) {
				return false
			}
		}
		return true
	case *FunctionType:
		b, ok := b.(*FunctionType)
		if !ok || len(a.Params) != len(b.Params) || !Equal(a.Return, b.Return) {
			return false
		}
		for i := range a.Params {
			if a.Params[i].ByRef != b.Params[i].ByRef || !Equal(a.Params[i].Type, b.Params[i].Type) {
				return false
			}
		}
		return true
	case *NullType:
		_, ok := b.(*NullType)
		return ok
	case *ImportedType:
		b, ok := b.(*ImportedType)
		return ok && a.Host == b.Host
	}
	return false
}

// Subst replaces the parameters params by args throughout t.
func Subst(t Type, params []*GenericParameter, args []Type) Type {
	if t == nil || len(params) == 0 {
		return t
	}
	switch t := t.(type) {
	case *GenericParameter:
		for i, p := range params {
			if p == t && i < len(args) {
				return args[i]
			}
		}
	case *ArrayType:
		if e := Subst(t.Elem, params, args); e != t.Elem {
			return &ArrayType{Elem: e, Rank: t.Rank}
		}
	case *InstantiatedType:
		changed := false
		out := make([]Type, len(t.Args))
		for i, a := range t.Args {
			out[i] = Subst(a, params, args)
			changed = changed || out[i] != a
		}
		if changed {
			return Instantiate(t.Def, out...)
		}
	case *FunctionType:
		changed := false
		ps := make([]FuncParam, len(t.Params))
		for i, p := range t.Params {
			ps[i] = FuncParam{Type: Subst(p.Type, params, args), ByRef: p.ByRef}
			changed = changed || ps[i].Type != p.Type
		}
		ret := Subst(t.Return, params, args)
		if changed || ret != t.Return {
			return &FunctionType{Params: ps, Return: ret}
		}
	}
	return t
}

// Underlying returns the primitive an enum is represented by, or t itself.
// An enum without an explicit representation is an Int.
func Underlying(t Type) Type {
	if c, ok := t.(*ClassType); ok && c.Kind == KindEnum {
		if c.Underlying == nil {
			return Int
		}
		return c.Underlying
	}
	return t
}

// PrimOf returns t's primitive kind when t is a primitive or an enum.
func PrimOf(t Type) (PrimKind, bool) {
	if p, ok := Underlying(t).(*Primitive); ok {
		return p.Kind, true
	}
	return 0, false
}

// IsSubclassOf reports whether t is u or derives from it.
func IsSubclassOf(t, u Type) bool {
	for x := t; x != nil; x = x.Superclass() {
		if Equal(x, u) {
			return true
		}
		for _, i := range x.Interfaces() {
			if Equal(i, u) {
				return true
			}
		}
	}
	return false
}
