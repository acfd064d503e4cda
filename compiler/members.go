package compiler

import (
	"errors"
	"fmt"

	"github.com/yvt/queen-compiler-sub002/bytecode"
	"github.com/yvt/queen-compiler-sub002/host"
	"github.com/yvt/queen-compiler-sub002/it"
)

// Method returns the callable handle of m, resolving it at most once.
func (c *Compiler) Method(m it.Member) (bytecode.Method, error) {
	rec := m.Record()
	if h, ok := rec.Handle().(bytecode.Method); ok {
		return h, nil
	}
	var h bytecode.Method
	switch m := m.(type) {
	case *it.Function:
		return nil, internalf(m, "function used before it was declared")
	case *it.ImportedFunction:
		owner, err := c.Resolve(m.Owner)
		if err != nil {
			return nil, err
		}
		h = c.hostMethod(owner, m.Method)
	case *it.MutatedFunction:
		owner, err := c.instOwner(m.Owner)
		if err != nil {
			return nil, err
		}
		base, err := c.Method(m.Base)
		if err != nil {
			return nil, err
		}
		h, err = c.methodOn(owner, base, m)
		if err != nil {
			return nil, err
		}
	default:
		return nil, internalf(m, "%T is not callable", m)
	}
	rec.Set(h)
	return h, nil
}

func (c *Compiler) hostMethod(owner bytecode.Type, m *host.Method) *bytecode.HostMethod {
	return c.mod.HostMethod(owner, m.Name, m.Static, m.Arity, m.Return, m.Params...)
}

func (c *Compiler) instOwner(t *it.InstantiatedType) (*bytecode.GenericInst, error) {
	h, err := c.Resolve(t)
	if err != nil {
		return nil, err
	}
	g, ok := h.(*bytecode.GenericInst)
	if !ok {
		return nil, internalf(t, "instantiation resolved to %s", h)
	}
	return g, nil
}

// methodOn re-targets base onto owner. Re-targeting is not available for
// instantiations of host generics; those fall back, once, to a lookup of
// the method by name on the instantiated host type.
func (c *Compiler) methodOn(owner *bytecode.GenericInst, base bytecode.Method, m it.Member) (bytecode.Method, error) {
	h, err := c.mod.MethodOn(owner, base)
	if err == nil {
		return h, nil
	}
	if !errors.Is(err, bytecode.ErrNotSupported) {
		return nil, internalWrap(m, err, "method on %s", owner)
	}
	hm, ok := base.(*bytecode.HostMethod)
	if !ok {
		return nil, internalWrap(m, err, "method on %s", owner)
	}
	ht := c.hostOf(owner)
	if ht == nil {
		return nil, internalWrap(m, err, "method on %s", owner)
	}
	found := ht.LookupMethod(hm.Name, paramTypes(hm.Params)...)
	if found == nil {
		return nil, internalf(m, "host type %s has no method %s", ht.Name, hm.Name)
	}
	return c.hostMethod(owner, found), nil
}

// Field returns the data handle of m, resolving it at most once.
func (c *Compiler) Field(m it.Member) (bytecode.Field, error) {
	rec := m.Record()
	if h, ok := rec.Handle().(bytecode.Field); ok {
		return h, nil
	}
	var h bytecode.Field
	switch m := m.(type) {
	case *it.Field, *it.GlobalVariable:
		return nil, internalf(m, "field used before it was declared")
	case *it.ImportedField:
		owner, err := c.Resolve(m.Owner)
		if err != nil {
			return nil, err
		}
		h = c.mod.HostField(owner, m.Field.Name, m.Field.Type, m.Field.Static)
	case *it.MutatedField:
		owner, err := c.instOwner(m.Owner)
		if err != nil {
			return nil, err
		}
		base, err := c.Field(m.Base)
		if err != nil {
			return nil, err
		}
		h, err = c.fieldOn(owner, base, m)
		if err != nil {
			return nil, err
		}
	default:
		return nil, internalf(m, "%T is not a field", m)
	}
	rec.Set(h)
	return h, nil
}

func (c *Compiler) fieldOn(owner *bytecode.GenericInst, base bytecode.Field, m it.Member) (bytecode.Field, error) {
	h, err := c.mod.FieldOn(owner, base)
	if err == nil {
		return h, nil
	}
	if !errors.Is(err, bytecode.ErrNotSupported) {
		return nil, internalWrap(m, err, "field on %s", owner)
	}
	ht := c.hostOf(owner)
	if ht == nil {
		return nil, internalWrap(m, err, "field on %s", owner)
	}
	found := ht.Field(base.FieldName())
	if found == nil {
		return nil, internalf(m, "host type %s has no field %s", ht.Name, base.FieldName())
	}
	return c.mod.HostField(owner, found.Name, found.Type, found.Static), nil
}

// hostOf returns the registered host type behind a host instantiation.
func (c *Compiler) hostOf(g *bytecode.GenericInst) *host.Type {
	ht, ok := g.Def.(*bytecode.HostType)
	if !ok {
		return nil
	}
	return c.host.Lookup(ht.Name)
}

func paramTypes(ps []bytecode.Param) []bytecode.Type {
	out := make([]bytecode.Type, len(ps))
	for i, p := range ps {
		out[i] = p.Type
	}
	return out
}

// accessors returns the getter and setter of a property, either of which
// may be nil.
func (c *Compiler) accessors(p it.Member) (get, set bytecode.Method, err error) {
	var g, s it.Member
	switch p := p.(type) {
	case *it.Property:
		if p.Getter != nil {
			g = p.Getter
		}
		if p.Setter != nil {
			s = p.Setter
		}
	case *it.MutatedProperty:
		g, s = p.Getter(), p.Setter()
	default:
		return nil, nil, internalf(p, "%T is not a property", p)
	}
	if g != nil {
		if get, err = c.Method(g); err != nil {
			return nil, nil, err
		}
	}
	if s != nil {
		if set, err = c.Method(s); err != nil {
			return nil, nil, err
		}
	}
	return get, set, nil
}

// constructor returns the constructor creating t. A nil ctor selects the
// default constructor, which a class marked not constructible lacks.
func (c *Compiler) constructor(t it.Type, ctor it.Member) (bytecode.Method, error) {
	if ctor != nil {
		return c.Method(ctor)
	}
	h, err := c.Resolve(t)
	if err != nil {
		return nil, err
	}
	switch h := h.(type) {
	case *bytecode.TypeDef:
		if h.Flags&bytecode.TypeNotConstructible != 0 {
			return nil, internalf(t, "class is not constructible without arguments")
		}
		if h.Flags&bytecode.TypeAbstract != 0 {
			return nil, internalf(t, "abstract class instantiated")
		}
		md := h.DefaultConstructor()
		if md == nil {
			return nil, internalf(t, "class has no default constructor")
		}
		return md, nil
	case *bytecode.GenericInst:
		switch def := h.Def.(type) {
		case *bytecode.TypeDef:
			if def.Flags&(bytecode.TypeNotConstructible|bytecode.TypeAbstract) != 0 {
				return nil, internalf(t, "class is not constructible without arguments")
			}
			md := def.DefaultConstructor()
			if md == nil {
				return nil, internalf(t, "class has no default constructor")
			}
			m, err := c.mod.MethodOn(h, md)
			if err != nil {
				return nil, internalWrap(t, err, "constructor")
			}
			return m, nil
		case *bytecode.HostType:
			return c.hostCtor(h, def)
		}
	case *bytecode.HostType:
		return c.hostCtor(h, h)
	}
	return nil, internalf(t, "cannot construct %s", h)
}

func (c *Compiler) hostCtor(owner bytecode.Type, def *bytecode.HostType) (bytecode.Method, error) {
	ht := c.host.Lookup(def.Name)
	if ht == nil {
		return nil, internalf(nil, "host type %s is not registered", def.Name)
	}
	if ht.Abstract || ht.Interface {
		return nil, internalf(nil, "host type %s is not constructible", def.Name)
	}
	for _, m := range ht.Constructors() {
		if len(m.Params) == 0 {
			return c.hostMethod(owner, m), nil
		}
	}
	return nil, internalf(nil, "host type %s has no default constructor", def.Name)
}

// baseCtor returns the default constructor of td's base, which every
// constructor calls first.
func (c *Compiler) baseCtor(td *bytecode.TypeDef) (bytecode.Method, error) {
	switch b := td.Base.(type) {
	case nil:
		return c.hostCtor(c.hostRef(host.ObjectType), c.hostRef(host.ObjectType))
	case *bytecode.TypeDef:
		if md := b.DefaultConstructor(); md != nil {
			return md, nil
		}
	case *bytecode.GenericInst:
		if def, ok := b.Def.(*bytecode.TypeDef); ok {
			if md := def.DefaultConstructor(); md != nil {
				return c.mod.MethodOn(b, md)
			}
		}
	case *bytecode.HostType:
		return c.hostCtor(b, b)
	}
	return nil, internalf(nil, "base of %s has no default constructor", td)
}

// hostCall returns a handle to the static runtime helper name on t whose
// parameters are exactly params.
func (c *Compiler) hostCall(t *host.Type, name string, params ...bytecode.Type) (bytecode.Method, error) {
	if params == nil {
		params = []bytecode.Type{}
	}
	m := t.Method(name, params...)
	if m == nil {
		return nil, internalf(nil, "host runtime lacks %s.%s%v", t.Name, name, params)
	}
	return c.hostMethod(c.hostRef(t), m), nil
}

// hostFieldOf returns a handle to the instance field name of t.
func (c *Compiler) hostFieldOf(t *host.Type, name string) (bytecode.Field, error) {
	f := t.Field(name)
	if f == nil {
		return nil, internalf(nil, "host type %s lacks field %s", t.Name, name)
	}
	return c.mod.HostField(c.hostRef(t), f.Name, f.Type, f.Static), nil
}

// coerceLiteral converts the literal v to the Go representation of kind k,
// keeping the bit pattern of integers.
func coerceLiteral(v any, k bytecode.Kind) (any, error) {
	var n int64
	switch v := v.(type) {
	case int64:
		n = v
	case int:
		n = int64(v)
	case uint64:
		n = int64(v)
	case bool:
		if k == bytecode.KindBool {
			return v, nil
		}
		if v {
			n = 1
		}
	case float64:
		switch k {
		case bytecode.KindFloat32:
			return float32(v), nil
		case bytecode.KindFloat64:
			return v, nil
		}
		return nil, fmt.Errorf("float literal for %s", k)
	case string:
		if k == bytecode.KindString {
			return v, nil
		}
		return nil, fmt.Errorf("string literal for %s", k)
	default:
		return nil, fmt.Errorf("literal of type %T", v)
	}
	switch k {
	case bytecode.KindBool:
		return n != 0, nil
	case bytecode.KindInt8:
		return int8(n), nil
	case bytecode.KindInt16:
		return int16(n), nil
	case bytecode.KindInt32:
		return int32(n), nil
	case bytecode.KindInt64:
		return n, nil
	case bytecode.KindUInt8:
		return uint8(n), nil
	case bytecode.KindUInt16:
		return uint16(n), nil
	case bytecode.KindUInt32:
		return uint32(n), nil
	case bytecode.KindUInt64:
		return uint64(n), nil
	case bytecode.KindFloat32:
		return float32(n), nil
	case bytecode.KindFloat64:
		return float64(n), nil
	}
	return nil, fmt.Errorf("literal for %s", k)
}
