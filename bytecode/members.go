package bytecode

import (
	"fmt"
	"strconv"
	"strings"
)

// CtorName is the name of instance constructors.
const CtorName = ".ctor"

// MethodAttrs are attributes of a method.
type MethodAttrs uint8

const (
	MethodStatic MethodAttrs = 1 << iota
	MethodVirtual
	MethodAbstract
	MethodCtor
	// MethodHidden marks compiler-generated helpers.
	MethodHidden
)

// Param is a formal parameter.
type Param struct {
	Name  string
	Type  Type
	ByRef bool
}

// Method is a callable member handle.
type Method interface {
	MethodName() string
	// Signature returns the parameter list and return type (nil for none)
	// as declared, before substitution of the owner's type arguments.
	Signature() ([]Param, Type)
	IsStatic() bool
	String() string
	isMethod()
}

// Field is a data member handle.
type Field interface {
	FieldName() string
	FieldType() Type
	IsStatic() bool
	String() string
	isField()
}

// MethodDef is a method defined by the module.
type MethodDef struct {
	ID            int
	Owner         *TypeDef
	Name          string
	Attrs         MethodAttrs
	GenericParams []*GenericParam
	Params        []Param
	Return        Type

	// Overrides names the base-class or interface method this one
	// replaces in virtual dispatch, if any.
	Overrides Method

	Body *Body
}

func (md *MethodDef) MethodName() string              { return md.Name }
func (md *MethodDef) Signature() ([]Param, Type)      { return md.Params, md.Return }
func (md *MethodDef) IsStatic() bool                  { return md.Attrs&MethodStatic != 0 }
func (*MethodDef) isMethod()                          {}
func (md *MethodDef) SetSignature(ret Type, p ...Param) { md.Return, md.Params = ret, p }

func (md *MethodDef) String() string {
	var b strings.Builder
	b.WriteString(md.Owner.String())
	b.WriteString("::")
	b.WriteString(md.Name)
	writeSig(&b, md.Params, md.Return)
	return b.String()
}

func writeSig(b *strings.Builder, params []Param, ret Type) {
	b.WriteByte('(')
	for i, p := range params {
		if i > 0 {
			b.WriteString(", ")
		}
		if p.ByRef {
			b.WriteByte('&')
		}
		b.WriteString(p.Type.String())
	}
	b.WriteByte(')')
	if ret != nil {
		b.WriteString(" ")
		b.WriteString(ret.String())
	}
}

// Local is a method-local variable slot.
type Local struct {
	Name string
	Type Type
}

// HandlerKind distinguishes catch clauses from finally clauses.
type HandlerKind uint8

const (
	HandlerCatch HandlerKind = iota
	HandlerFinally
)

// Handler is one exception region. Code in [TryStart, TryEnd) is protected;
// the handler body occupies [Start, End). Nested regions precede the regions
// enclosing them.
type Handler struct {
	Kind      HandlerKind
	TryStart  int
	TryEnd    int
	Start     int
	End       int
	CatchType Type
}

// Body is a method's code.
type Body struct {
	Code     []Inst
	Locals   []Local
	Handlers []Handler
}

// FieldDef is a field defined by the module.
type FieldDef struct {
	ID      int
	Owner   *TypeDef
	Name    string
	Type    Type
	Static  bool
	Literal bool
	Value   any
}

func (f *FieldDef) FieldName() string { return f.Name }
func (f *FieldDef) FieldType() Type   { return f.Type }
func (f *FieldDef) IsStatic() bool    { return f.Static }
func (*FieldDef) isField()            {}
func (f *FieldDef) String() string    { return f.Owner.String() + "::" + f.Name }

// MethodOn is a method of a generic definition viewed through one of its
// instantiations.
type MethodOn struct {
	Owner *GenericInst
	Def   *MethodDef
}

func (mo *MethodOn) MethodName() string         { return mo.Def.Name }
func (mo *MethodOn) Signature() ([]Param, Type) { return mo.Def.Params, mo.Def.Return }
func (mo *MethodOn) IsStatic() bool             { return mo.Def.IsStatic() }
func (*MethodOn) isMethod()                     {}

func (mo *MethodOn) String() string {
	var b strings.Builder
	b.WriteString(mo.Owner.String())
	b.WriteString("::")
	b.WriteString(mo.Def.Name)
	writeSig(&b, mo.Def.Params, mo.Def.Return)
	return b.String()
}

// FieldOn is a field of a generic definition viewed through one of its
// instantiations.
type FieldOn struct {
	Owner *GenericInst
	Def   *FieldDef
}

func (fo *FieldOn) FieldName() string { return fo.Def.Name }
func (fo *FieldOn) FieldType() Type   { return fo.Def.Type }
func (fo *FieldOn) IsStatic() bool    { return fo.Def.Static }
func (*FieldOn) isField()             {}
func (fo *FieldOn) String() string    { return fo.Owner.String() + "::" + fo.Def.Name }

// MethodInst is a generic method closed over Args.
type MethodInst struct {
	Method Method
	Args   []Type
}

func (mi *MethodInst) MethodName() string         { return mi.Method.MethodName() }
func (mi *MethodInst) Signature() ([]Param, Type) { return mi.Method.Signature() }
func (mi *MethodInst) IsStatic() bool             { return mi.Method.IsStatic() }
func (*MethodInst) isMethod()                     {}

func (mi *MethodInst) String() string {
	var b strings.Builder
	b.WriteString(mi.Method.String())
	b.WriteByte('<')
	for i, a := range mi.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(a.String())
	}
	b.WriteByte('>')
	return b.String()
}

// HostMethod refers to a host-runtime method by owner, name and signature.
type HostMethod struct {
	Owner  Type
	Name   string
	Static bool
	Arity  int
	Params []Param
	Return Type
}

func (hm *HostMethod) MethodName() string         { return hm.Name }
func (hm *HostMethod) Signature() ([]Param, Type) { return hm.Params, hm.Return }
func (hm *HostMethod) IsStatic() bool             { return hm.Static }
func (*HostMethod) isMethod()                     {}

func (hm *HostMethod) String() string {
	var b strings.Builder
	b.WriteString(hm.Owner.String())
	b.WriteString("::")
	b.WriteString(hm.Name)
	writeSig(&b, hm.Params, hm.Return)
	return b.String()
}

// HostField refers to a host-runtime field by owner and name.
type HostField struct {
	Owner  Type
	Name   string
	Type   Type
	Static bool
}

func (hf *HostField) FieldName() string { return hf.Name }
func (hf *HostField) FieldType() Type   { return hf.Type }
func (hf *HostField) IsStatic() bool    { return hf.Static }
func (*HostField) isField()             {}
func (hf *HostField) String() string    { return hf.Owner.String() + "::" + hf.Name }

func methodKey(m Method) string {
	switch m := m.(type) {
	case *MethodDef:
		return "m" + strconv.Itoa(m.ID)
	case *MethodOn:
		return typeKey(m.Owner) + "::m" + strconv.Itoa(m.Def.ID)
	case *MethodInst:
		var b strings.Builder
		b.WriteString(methodKey(m.Method))
		b.WriteByte('<')
		for i, a := range m.Args {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(typeKey(a))
		}
		b.WriteByte('>')
		return b.String()
	case *HostMethod:
		var b strings.Builder
		b.WriteString(typeKey(m.Owner))
		b.WriteString("::")
		b.WriteString(m.Name)
		if m.Static {
			b.WriteString(" static")
		}
		paramsKey(&b, m.Params)
		b.WriteString(typeKey(m.Return))
		return b.String()
	}
	return "?"
}

// MethodOn re-targets def, a method of a module-defined generic, onto the
// instantiation owner. It returns ErrNotSupported when owner instantiates a
// host-defined generic.
func (m *Module) MethodOn(owner *GenericInst, def Method) (Method, error) {
	td, ok := owner.Def.(*TypeDef)
	if !ok {
		return nil, fmt.Errorf("method %s on %s: %w", def.MethodName(), owner, ErrNotSupported)
	}
	md, ok := def.(*MethodDef)
	if !ok || md.Owner != td {
		return nil, fmt.Errorf("method %s on %s: %w", def.MethodName(), owner, ErrNotSupported)
	}
	key := typeKey(owner) + "::m" + strconv.Itoa(md.ID)
	if mo, ok := m.methodOns[key]; ok {
		return mo, nil
	}
	mo := &MethodOn{Owner: owner, Def: md}
	m.methodOns[key] = mo
	return mo, nil
}

// FieldOn re-targets def onto the instantiation owner, like MethodOn.
func (m *Module) FieldOn(owner *GenericInst, def Field) (Field, error) {
	td, ok := owner.Def.(*TypeDef)
	if !ok {
		return nil, fmt.Errorf("field %s on %s: %w", def.FieldName(), owner, ErrNotSupported)
	}
	fd, ok := def.(*FieldDef)
	if !ok || fd.Owner != td {
		return nil, fmt.Errorf("field %s on %s: %w", def.FieldName(), owner, ErrNotSupported)
	}
	key := typeKey(owner) + "::f" + strconv.Itoa(fd.ID)
	if fo, ok := m.fieldOns[key]; ok {
		return fo, nil
	}
	fo := &FieldOn{Owner: owner, Def: fd}
	m.fieldOns[key] = fo
	return fo, nil
}

// InstantiateMethod closes the generic method mt over args.
func (m *Module) InstantiateMethod(mt Method, args ...Type) (*MethodInst, error) {
	var arity int
	switch d := mt.(type) {
	case *MethodDef:
		arity = len(d.GenericParams)
	case *MethodOn:
		arity = len(d.Def.GenericParams)
	case *HostMethod:
		arity = d.Arity
	default:
		return nil, fmt.Errorf("instantiate method %s: %w", mt, ErrNotSupported)
	}
	if arity != len(args) {
		return nil, fmt.Errorf("instantiate method %s: have %d type arguments, want %d", mt, len(args), arity)
	}
	key := methodKey(&MethodInst{Method: mt, Args: args})
	if mi, ok := m.methodInsts[key]; ok {
		return mi, nil
	}
	mi := &MethodInst{Method: mt, Args: append([]Type(nil), args...)}
	m.methodInsts[key] = mi
	return mi, nil
}

// HostMethod returns the memoized reference to a host method.
func (m *Module) HostMethod(owner Type, name string, static bool, arity int, ret Type, params ...Param) *HostMethod {
	hm := &HostMethod{Owner: owner, Name: name, Static: static, Arity: arity, Params: params, Return: ret}
	key := methodKey(hm)
	if old, ok := m.hostMethods[key]; ok {
		return old
	}
	m.hostMethods[key] = hm
	return hm
}

// HostField returns the memoized reference to a host field.
func (m *Module) HostField(owner Type, name string, t Type, static bool) *HostField {
	key := typeKey(owner) + "::" + name
	if hf, ok := m.hostFields[key]; ok {
		return hf
	}
	hf := &HostField{Owner: owner, Name: name, Type: t, Static: static}
	m.hostFields[key] = hf
	return hf
}
