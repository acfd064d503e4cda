package bytecode

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

var (
	// ErrNotSupported is returned when an operation is not available for
	// the kind of handle it was given, such as re-targeting a member onto
	// an instantiation of a host-defined generic.
	ErrNotSupported = errors.New("operation not supported on this handle")

	// ErrBaseNotFinalized is returned by Finalize when a type it depends on
	// has not been finalized yet.
	ErrBaseNotFinalized = errors.New("dependency not finalized")
)

// TypeLoadError reports a type definition the module format rejects.
type TypeLoadError struct {
	Type   string
	Reason string
}

func (e *TypeLoadError) Error() string {
	return fmt.Sprintf("type load %s: %s", e.Type, e.Reason)
}

// Module is a complete target module.
type Module struct {
	Name    string
	Version *semver.Version

	Types []*TypeDef

	// Entry is the method run by a launcher, if any.
	Entry *MethodDef
	// Inits are static initializers run in order before Entry.
	Inits []*MethodDef

	nextMethodID int
	nextFieldID  int

	hosts       map[string]*HostType
	arrays      map[string]*ArrayType
	insts       map[string]*GenericInst
	methodOns   map[string]*MethodOn
	fieldOns    map[string]*FieldOn
	methodInsts map[string]*MethodInst
	hostMethods map[string]*HostMethod
	hostFields  map[string]*HostField
}

// NewModule returns an empty module.
func NewModule(name string) *Module {
	return &Module{
		Name:        name,
		hosts:       make(map[string]*HostType),
		arrays:      make(map[string]*ArrayType),
		insts:       make(map[string]*GenericInst),
		methodOns:   make(map[string]*MethodOn),
		fieldOns:    make(map[string]*FieldOn),
		methodInsts: make(map[string]*MethodInst),
		hostMethods: make(map[string]*HostMethod),
		hostFields:  make(map[string]*HostField),
	}
}

// SetVersion parses and records the module's semantic version.
func (m *Module) SetVersion(v string) error {
	if v == "" {
		m.Version = nil
		return nil
	}
	sv, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("module version %q: %w", v, err)
	}
	m.Version = sv
	return nil
}

// TypeKind classifies a type definition.
type TypeKind uint8

const (
	KindClass TypeKind = iota
	KindInterface
	KindEnum
	KindDelegate
)

var typeKindNames = [...]string{"class", "interface", "enum", "delegate"}

func (k TypeKind) String() string {
	if int(k) < len(typeKindNames) {
		return typeKindNames[k]
	}
	return "typekind" + strconv.Itoa(int(k))
}

// TypeFlags are attributes of a type definition.
type TypeFlags uint8

const (
	TypeAbstract TypeFlags = 1 << iota
	TypeSealed
	// TypeNotConstructible marks a class that cannot be created without
	// arguments.
	TypeNotConstructible
)

// TypeDef is a type defined by the module.
type TypeDef struct {
	ID            int
	Name          string
	Kind          TypeKind
	Flags         TypeFlags
	Enclosing     *TypeDef
	GenericParams []*GenericParam
	Base          Type
	Interfaces    []Type
	Underlying    *Prim // enums only

	Fields  []*FieldDef
	Methods []*MethodDef

	module    *Module
	finalized bool
}

func (*TypeDef) isType() {}

func (td *TypeDef) String() string {
	if td.Enclosing != nil {
		return td.Enclosing.String() + "/" + td.Name
	}
	return td.Name
}

// DefineType declares a new type. Generic parameters are created from
// typeParams in order.
func (m *Module) DefineType(name string, kind TypeKind, enclosing *TypeDef, typeParams ...string) *TypeDef {
	td := &TypeDef{
		ID:        len(m.Types),
		Name:      name,
		Kind:      kind,
		Enclosing: enclosing,
		module:    m,
	}
	for i, p := range typeParams {
		td.GenericParams = append(td.GenericParams, &GenericParam{Name: p, Index: i, Type: td})
	}
	if kind == KindDelegate {
		td.Flags |= TypeSealed
	}
	m.Types = append(m.Types, td)
	return td
}

// AddInterface records that td implements iface.
func (td *TypeDef) AddInterface(iface Type) {
	td.Interfaces = append(td.Interfaces, iface)
}

// DefineField adds a field.
func (td *TypeDef) DefineField(name string, t Type, static bool) *FieldDef {
	f := &FieldDef{ID: td.module.nextFieldID, Owner: td, Name: name, Type: t, Static: static}
	td.module.nextFieldID++
	td.Fields = append(td.Fields, f)
	return f
}

// DefineLiteral adds a constant static field holding v, whose dynamic type
// must match the enum's underlying kind.
func (td *TypeDef) DefineLiteral(name string, v any) *FieldDef {
	f := td.DefineField(name, td, true)
	f.Literal = true
	f.Value = v
	return f
}

// DefineMethod adds a method. Method generic parameters are created from
// typeParams in order; use SetSignature when the signature refers to them.
func (td *TypeDef) DefineMethod(name string, attrs MethodAttrs, typeParams ...string) *MethodDef {
	md := &MethodDef{ID: td.module.nextMethodID, Owner: td, Name: name, Attrs: attrs}
	td.module.nextMethodID++
	for i, p := range typeParams {
		md.GenericParams = append(md.GenericParams, &GenericParam{Name: p, Index: i, Method: md})
	}
	td.Methods = append(td.Methods, md)
	return md
}

// DefineConstructor adds an instance constructor taking params.
func (td *TypeDef) DefineConstructor(params ...Param) *MethodDef {
	md := td.DefineMethod(CtorName, MethodCtor)
	md.Params = params
	return md
}

// Method returns the first method named name, or nil.
func (td *TypeDef) Method(name string) *MethodDef {
	for _, md := range td.Methods {
		if md.Name == name {
			return md
		}
	}
	return nil
}

// Field returns the field named name, or nil.
func (td *TypeDef) Field(name string) *FieldDef {
	for _, f := range td.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// DefaultConstructor returns the zero-argument constructor, or nil.
func (td *TypeDef) DefaultConstructor() *MethodDef {
	for _, md := range td.Methods {
		if md.Attrs&MethodCtor != 0 && len(md.Params) == 0 {
			return md
		}
	}
	return nil
}

// Finalized reports whether Finalize has succeeded.
func (td *TypeDef) Finalized() bool { return td.finalized }

// Finalize seals the definition. The base type and the enclosing type, when
// defined by this module, must be finalized first. Finalize is idempotent.
func (td *TypeDef) Finalize() error {
	if td.finalized {
		return nil
	}
	if td.Enclosing != nil && !td.Enclosing.finalized {
		return fmt.Errorf("finalize %s: %w: enclosing %s", td, ErrBaseNotFinalized, td.Enclosing)
	}
	if base := definitionOf(td.Base); base != nil {
		if !base.finalized {
			return fmt.Errorf("finalize %s: %w: base %s", td, ErrBaseNotFinalized, base)
		}
		if base.Flags&TypeSealed != 0 {
			return &TypeLoadError{Type: td.String(), Reason: "base type " + base.String() + " is sealed"}
		}
		if base.Kind == KindInterface {
			return &TypeLoadError{Type: td.String(), Reason: "base type " + base.String() + " is an interface"}
		}
	}
	if td.Kind == KindClass && td.Flags&TypeAbstract == 0 {
		for _, md := range td.Methods {
			if md.Attrs&MethodAbstract != 0 {
				return &TypeLoadError{Type: td.String(), Reason: "abstract method " + md.Name + " in non-abstract class"}
			}
		}
	}
	if td.Kind == KindEnum && td.Underlying == nil {
		return &TypeLoadError{Type: td.String(), Reason: "enum without underlying type"}
	}
	td.finalized = true
	return nil
}

// definitionOf returns the module-defined type behind t, looking through
// generic instantiation.
func definitionOf(t Type) *TypeDef {
	switch t := t.(type) {
	case *TypeDef:
		return t
	case *GenericInst:
		if td, ok := t.Def.(*TypeDef); ok {
			return td
		}
	}
	return nil
}

// HostType returns the memoized handle for the host type name.
func (m *Module) HostType(name string, arity int) *HostType {
	if h, ok := m.hosts[name]; ok {
		return h
	}
	h := &HostType{Name: name, Arity: arity}
	m.hosts[name] = h
	return h
}

// ArrayOf returns the memoized array type of elem with rank dimensions.
func (m *Module) ArrayOf(elem Type, rank int) *ArrayType {
	if rank < 1 {
		rank = 1
	}
	key := typeKey(elem) + "[" + strconv.Itoa(rank) + "]"
	if a, ok := m.arrays[key]; ok {
		return a
	}
	a := &ArrayType{Elem: elem, Rank: rank}
	m.arrays[key] = a
	return a
}

// Instantiate closes the generic definition def over args. Results are
// memoized structurally.
func (m *Module) Instantiate(def Type, args ...Type) (*GenericInst, error) {
	var arity int
	switch d := def.(type) {
	case *TypeDef:
		arity = len(d.GenericParams)
	case *HostType:
		arity = d.Arity
	default:
		return nil, fmt.Errorf("instantiate %s: %w", def, ErrNotSupported)
	}
	if arity != len(args) {
		return nil, fmt.Errorf("instantiate %s: have %d type arguments, want %d", def, len(args), arity)
	}
	key := typeKey(&GenericInst{Def: def, Args: args})
	if g, ok := m.insts[key]; ok {
		return g, nil
	}
	g := &GenericInst{Def: def, Args: append([]Type(nil), args...)}
	m.insts[key] = g
	return g, nil
}

func paramsKey(b *strings.Builder, params []Param) {
	b.WriteByte('(')
	for i, p := range params {
		if i > 0 {
			b.WriteByte(',')
		}
		if p.ByRef {
			b.WriteByte('&')
		}
		b.WriteString(typeKey(p.Type))
	}
	b.WriteByte(')')
}
