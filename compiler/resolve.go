package compiler

import (
	"strconv"
	"strings"

	"github.com/yvt/queen-compiler-sub002/bytecode"
	"github.com/yvt/queen-compiler-sub002/host"
	"github.com/yvt/queen-compiler-sub002/it"
)

// primKinds maps source primitives to target kinds. The generalized
// integer shares int64's representation.
var primKinds = [it.NumPrimKinds]bytecode.Kind{
	it.PrimBool:    bytecode.KindBool,
	it.PrimInt8:    bytecode.KindInt8,
	it.PrimInt16:   bytecode.KindInt16,
	it.PrimInt32:   bytecode.KindInt32,
	it.PrimInt64:   bytecode.KindInt64,
	it.PrimInteger: bytecode.KindInt64,
	it.PrimUInt8:   bytecode.KindUInt8,
	it.PrimUInt16:  bytecode.KindUInt16,
	it.PrimUInt32:  bytecode.KindUInt32,
	it.PrimUInt64:  bytecode.KindUInt64,
	it.PrimFloat32: bytecode.KindFloat32,
	it.PrimFloat64: bytecode.KindFloat64,
	it.PrimString:  bytecode.KindString,
}

// kindOf returns the target kind of a primitive or enum type.
func kindOf(t it.Type) (bytecode.Kind, bool) {
	k, ok := it.PrimOf(t)
	if !ok {
		return bytecode.KindNone, false
	}
	return primKinds[k], true
}

// Resolve returns the target handle of t, resolving it at most once. A nil
// type resolves to nil, meaning no value.
func (c *Compiler) Resolve(t it.Type) (bytecode.Type, error) {
	if t == nil {
		return nil, nil
	}
	rec := t.Record()
	if h, ok := rec.Handle().(bytecode.Type); ok {
		return h, nil
	}
	h, err := c.resolve(t)
	if err != nil {
		return nil, err
	}
	rec.Set(h)
	return h, nil
}

func (c *Compiler) resolve(t it.Type) (bytecode.Type, error) {
	switch t := t.(type) {
	case *it.Primitive:
		if t.Kind >= it.NumPrimKinds {
			return nil, internalf(t, "unknown primitive kind %d", t.Kind)
		}
		return bytecode.PrimOf(primKinds[t.Kind]), nil
	case *it.ArrayType:
		elem, err := c.Resolve(t.Elem)
		if err != nil {
			return nil, err
		}
		if elem == nil {
			return nil, internalf(t, "array of no type")
		}
		return c.mod.ArrayOf(elem, t.Rank), nil
	case *it.InstantiatedType:
		def, err := c.Resolve(t.Def)
		if err != nil {
			return nil, err
		}
		args, err := c.resolveAll(t.Args)
		if err != nil {
			return nil, err
		}
		g, err := c.mod.Instantiate(def, args...)
		if err != nil {
			return nil, internalWrap(t, err, "instantiate")
		}
		return g, nil
	case *it.FunctionType:
		return c.delegateType(t)
	case *it.ImportedType:
		return c.importedType(t)
	case *it.NullType:
		return c.hostRef(host.ObjectType), nil
	case *it.ClassType:
		// shells record themselves when declared
		return nil, internalf(t, "class type resolved before it was declared")
	case *it.GenericParameter:
		return nil, internalf(t, "generic parameter resolved outside its declaration")
	}
	return nil, internalf(t, "unexpected type %T", t)
}

func (c *Compiler) resolveAll(ts []it.Type) ([]bytecode.Type, error) {
	out := make([]bytecode.Type, len(ts))
	for i, t := range ts {
		h, err := c.Resolve(t)
		if err != nil {
			return nil, err
		}
		out[i] = h
	}
	return out, nil
}

// hostRef returns the module's handle for a host type.
func (c *Compiler) hostRef(t *host.Type) *bytecode.HostType {
	return c.mod.HostType(t.Name, t.Arity)
}

// importedType checks that t names a registered host type.
func (c *Compiler) importedType(t *it.ImportedType) (bytecode.Type, error) {
	h := c.host.Lookup(t.Host.Name)
	if h == nil {
		return nil, internalf(t, "host type %s is not registered", t.Host.Name)
	}
	if h != t.Host {
		return nil, internalf(t, "host type %s registered twice", t.Host.Name)
	}
	return c.hostRef(h), nil
}

// delegateType maps a function type to a delegate. Shapes with at most
// host.MaxDelegateParams by-value parameters use the shared host shapes;
// the rest get one synthesized generic delegate per shape.
func (c *Compiler) delegateType(ft *it.FunctionType) (bytecode.Type, error) {
	n := len(ft.Params)
	args := make([]bytecode.Type, 0, n+1)
	byRef := false
	for _, p := range ft.Params {
		t, err := c.Resolve(p.Type)
		if err != nil {
			return nil, err
		}
		if t == nil {
			return nil, internalf(ft, "parameter of no type")
		}
		args = append(args, t)
		byRef = byRef || p.ByRef
	}
	ret, err := c.Resolve(ft.Return)
	if err != nil {
		return nil, err
	}
	if ret != nil {
		args = append(args, ret)
	}

	var def bytecode.Type
	if !byRef && n <= host.MaxDelegateParams {
		var h *host.Type
		if ret == nil {
			h = host.ActionType(n)
		} else {
			h = host.FuncType(n)
		}
		def = c.hostRef(h)
	} else {
		td, err := c.synthesizeDelegate(ft, ret != nil)
		if err != nil {
			return nil, err
		}
		def = td
	}
	if len(args) == 0 {
		return def, nil
	}
	g, err := c.mod.Instantiate(def, args...)
	if err != nil {
		return nil, internalWrap(ft, err, "instantiate delegate")
	}
	return g, nil
}

// delegateKey names a delegate shape: whether it returns a value and which
// parameters are by reference.
func delegateKey(ft *it.FunctionType) string {
	var b strings.Builder
	if ft.Return != nil {
		b.WriteByte('r')
	} else {
		b.WriteByte('v')
	}
	for _, p := range ft.Params {
		if p.ByRef {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

// synthesizeDelegate returns the generic delegate definition for ft's
// shape, creating and sealing it on first use.
func (c *Compiler) synthesizeDelegate(ft *it.FunctionType, result bool) (*bytecode.TypeDef, error) {
	key := delegateKey(ft)
	if td, ok := c.delegates[key]; ok {
		return td, nil
	}
	n := len(ft.Params)
	names := make([]string, 0, n+1)
	for i := 0; i < n; i++ {
		names = append(names, "T"+strconv.Itoa(i))
	}
	if result {
		names = append(names, "TResult")
	}
	td := c.mod.DefineType("$Delegate"+strconv.Itoa(len(c.delegates))+"_"+key, bytecode.KindDelegate, nil, names...)
	invoke := td.DefineMethod("Invoke", bytecode.MethodVirtual|bytecode.MethodAbstract)
	ps := make([]bytecode.Param, n)
	for i, p := range ft.Params {
		ps[i] = bytecode.Param{Name: "a" + strconv.Itoa(i), Type: td.GenericParams[i], ByRef: p.ByRef}
	}
	var ret bytecode.Type
	if result {
		ret = td.GenericParams[n]
	}
	invoke.SetSignature(ret, ps...)
	if err := td.Finalize(); err != nil {
		return nil, internalWrap(ft, err, "seal delegate")
	}
	c.delegates[key] = td
	return td, nil
}

// invokeMethod returns the Invoke method of the delegate ft maps to.
func (c *Compiler) invokeMethod(ft *it.FunctionType) (bytecode.Method, error) {
	dt, err := c.Resolve(ft)
	if err != nil {
		return nil, err
	}
	switch d := dt.(type) {
	case *bytecode.HostType:
		return c.hostInvoke(d, d)
	case *bytecode.GenericInst:
		switch def := d.Def.(type) {
		case *bytecode.HostType:
			return c.hostInvoke(d, def)
		case *bytecode.TypeDef:
			m, err := c.mod.MethodOn(d, def.Method("Invoke"))
			if err != nil {
				return nil, internalWrap(ft, err, "delegate invoke")
			}
			return m, nil
		}
	}
	return nil, internalf(ft, "function type resolved to %s", dt)
}

func (c *Compiler) hostInvoke(owner bytecode.Type, def *bytecode.HostType) (bytecode.Method, error) {
	h := c.host.Lookup(def.Name)
	if h == nil {
		return nil, internalf(nil, "host delegate %s is not registered", def.Name)
	}
	m := h.Method("Invoke")
	if m == nil {
		return nil, internalf(nil, "host delegate %s has no Invoke", def.Name)
	}
	return c.mod.HostMethod(owner, m.Name, false, 0, m.Return, m.Params...), nil
}
