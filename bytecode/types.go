package bytecode

import (
	"strconv"
	"strings"
)

// Kind identifies a primitive value type.
type Kind uint8

const (
	KindNone Kind = iota
	KindBool
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindUInt8
	KindUInt16
	KindUInt32
	KindUInt64
	KindFloat32
	KindFloat64
	KindString
	numKinds
)

var kindNames = [numKinds]string{
	KindNone:    "none",
	KindBool:    "bool",
	KindInt8:    "int8",
	KindInt16:   "int16",
	KindInt32:   "int32",
	KindInt64:   "int64",
	KindUInt8:   "uint8",
	KindUInt16:  "uint16",
	KindUInt32:  "uint32",
	KindUInt64:  "uint64",
	KindFloat32: "float32",
	KindFloat64: "float64",
	KindString:  "string",
}

func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return "kind" + strconv.Itoa(int(k))
}

// IsInteger reports whether k is one of the eight integer widths.
func (k Kind) IsInteger() bool {
	return k >= KindInt8 && k <= KindUInt64
}

// IsUnsigned reports whether k is an unsigned integer width.
func (k Kind) IsUnsigned() bool {
	return k >= KindUInt8 && k <= KindUInt64
}

// IsFloat reports whether k is a floating-point width.
func (k Kind) IsFloat() bool {
	return k == KindFloat32 || k == KindFloat64
}

// IsNumeric reports whether k is an integer or floating-point width.
func (k Kind) IsNumeric() bool {
	return k.IsInteger() || k.IsFloat()
}

// Size returns the storage size in bytes of a value of kind k,
// or 0 for kinds without a fixed-size representation.
func (k Kind) Size() int {
	switch k {
	case KindBool, KindInt8, KindUInt8:
		return 1
	case KindInt16, KindUInt16:
		return 2
	case KindInt32, KindUInt32, KindFloat32:
		return 4
	case KindInt64, KindUInt64, KindFloat64:
		return 8
	}
	return 0
}

// Type is a handle to a target type.
type Type interface {
	String() string
	isType()
}

// Prim is a primitive value type.
type Prim struct {
	Kind Kind
}

func (p *Prim) String() string { return p.Kind.String() }
func (*Prim) isType()          {}

var prims = func() (ps [numKinds]*Prim) {
	for k := KindBool; k < numKinds; k++ {
		ps[k] = &Prim{Kind: k}
	}
	return ps
}()

// PrimOf returns the canonical handle for primitive kind k.
func PrimOf(k Kind) *Prim {
	if k == KindNone || k >= numKinds {
		return nil
	}
	return prims[k]
}

// Canonical primitive handles.
var (
	Bool    = PrimOf(KindBool)
	Int8    = PrimOf(KindInt8)
	Int16   = PrimOf(KindInt16)
	Int32   = PrimOf(KindInt32)
	Int64   = PrimOf(KindInt64)
	UInt8   = PrimOf(KindUInt8)
	UInt16  = PrimOf(KindUInt16)
	UInt32  = PrimOf(KindUInt32)
	UInt64  = PrimOf(KindUInt64)
	Float32 = PrimOf(KindFloat32)
	Float64 = PrimOf(KindFloat64)
	String  = PrimOf(KindString)
)

// HostType refers to a type supplied by the host runtime, by name.
// Handles are memoized per module; see Module.HostType.
type HostType struct {
	Name  string
	Arity int
}

func (h *HostType) String() string { return h.Name }
func (*HostType) isType()          {}

// ArrayType is an array of Elem with Rank dimensions.
type ArrayType struct {
	Elem Type
	Rank int
}

func (a *ArrayType) String() string {
	return a.Elem.String() + "[" + strings.Repeat(",", a.Rank-1) + "]"
}
func (*ArrayType) isType() {}

// GenericInst is a generic definition closed over Args.
// Def is a *TypeDef or a *HostType.
type GenericInst struct {
	Def  Type
	Args []Type
}

func (g *GenericInst) String() string {
	var b strings.Builder
	b.WriteString(g.Def.String())
	b.WriteByte('<')
	for i, a := range g.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(a.String())
	}
	b.WriteByte('>')
	return b.String()
}
func (*GenericInst) isType() {}

// GenericParam is a type parameter of a type definition or of a method.
// At most one of Type and Method is set; host signatures use unowned
// parameters as positional placeholders for the owner's type arguments.
type GenericParam struct {
	Name   string
	Index  int
	Type   *TypeDef
	Method *MethodDef
}

func (p *GenericParam) String() string {
	if p.Name != "" {
		return p.Name
	}
	if p.Method != nil {
		return "!!" + strconv.Itoa(p.Index)
	}
	return "!" + strconv.Itoa(p.Index)
}
func (*GenericParam) isType() {}

// typeKey returns a string identifying t structurally; two handles with the
// same key denote the same target type within one module.
func typeKey(t Type) string {
	switch t := t.(type) {
	case nil:
		return "_"
	case *Prim:
		return t.Kind.String()
	case *TypeDef:
		return "#" + strconv.Itoa(t.ID)
	case *HostType:
		return "@" + t.Name
	case *ArrayType:
		return typeKey(t.Elem) + "[" + strconv.Itoa(t.Rank) + "]"
	case *GenericInst:
		var b strings.Builder
		b.WriteString(typeKey(t.Def))
		b.WriteByte('<')
		for i, a := range t.Args {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(typeKey(a))
		}
		b.WriteByte('>')
		return b.String()
	case *GenericParam:
		switch {
		case t.Method != nil:
			return "!!m" + strconv.Itoa(t.Method.ID) + "." + strconv.Itoa(t.Index)
		case t.Type != nil:
			return "!#" + strconv.Itoa(t.Type.ID) + "." + strconv.Itoa(t.Index)
		}
		// host signature placeholder
		return "!" + strconv.Itoa(t.Index)
	}
	return "?"
}

// SameType reports whether a and b denote the same target type.
func SameType(a, b Type) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return typeKey(a) == typeKey(b)
}

// KindOf returns the primitive kind of t, or KindNone when t is not a
// primitive handle.
func KindOf(t Type) Kind {
	if p, ok := t.(*Prim); ok {
		return p.Kind
	}
	return KindNone
}

// Subst replaces generic parameters in t: type parameters by typeArgs and
// method parameters by methodArgs. Handles that contain no parameters are
// returned unchanged.
func (m *Module) Subst(t Type, typeArgs, methodArgs []Type) Type {
	switch t := t.(type) {
	case *GenericParam:
		if t.Method != nil {
			if t.Index < len(methodArgs) {
				return methodArgs[t.Index]
			}
			return t
		}
		if t.Index < len(typeArgs) {
			return typeArgs[t.Index]
		}
		return t
	case *ArrayType:
		e := m.Subst(t.Elem, typeArgs, methodArgs)
		if e == t.Elem {
			return t
		}
		return m.ArrayOf(e, t.Rank)
	case *GenericInst:
		args := make([]Type, len(t.Args))
		changed := false
		for i, a := range t.Args {
			args[i] = m.Subst(a, typeArgs, methodArgs)
			changed = changed || args[i] != a
		}
		if !changed {
			return t
		}
		g, err := m.Instantiate(t.Def, args...)
		if err != nil {
			return t
		}
		return g
	}
	return t
}
