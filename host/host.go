// Package host describes the types and functions the host runtime provides
// to compiled modules: the implicit roots, the exception hierarchy, the
// runtime support helpers the compiler calls by fixed name, and the shared
// generic delegate shapes. It also defines the runtime representations of
// arrays, by-reference cells and exceptions shared with the interpreter.
package host

import (
	"math/rand"
	"sort"

	"github.com/yvt/queen-compiler-sub002/bytecode"
)

// Env is the interpreter surface host functions may call back into.
type Env interface {
	// Compare orders two values using the language's comparison rules,
	// calling user-defined cmp methods where needed.
	Compare(a, b any) (int, error)
	// Rand returns the random source used by shuffling helpers.
	Rand() *rand.Rand
}

// Func implements a host method. Instance methods receive the receiver as
// args[0]. A returned *Exception is thrown into the running program.
type Func func(env Env, args []any) (any, error)

// Type is a host-native type.
type Type struct {
	Name       string
	Base       *Type
	Interfaces []*Type
	Arity      int

	Abstract  bool
	Sealed    bool
	Interface bool
	Delegate  bool
	// Value marks value kinds, which derive from the ValueType root.
	Value bool

	Methods []*Method
	Fields  []*Field
}

// Method is a host method or constructor.
type Method struct {
	Owner  *Type
	Name   string
	Static bool
	Arity  int
	Params []bytecode.Param
	Return bytecode.Type
	Impl   Func
}

// IsConstructor reports whether m constructs instances of its owner.
func (m *Method) IsConstructor() bool { return m.Name == bytecode.CtorName }

// Field is a host field, read through Get.
type Field struct {
	Owner  *Type
	Name   string
	Type   bytecode.Type
	Static bool
	Get    func(recv any) any
}

// Ref returns a signature placeholder naming t.
func (t *Type) Ref() *bytecode.HostType {
	return &bytecode.HostType{Name: t.Name, Arity: t.Arity}
}

// IsRoot reports whether t is one of the two implicit roots that source
// code never sees as a superclass.
func (t *Type) IsRoot() bool {
	return t == ObjectType || t == ValueTypeType
}

// IsSubclassOf reports whether t is u or derives from it.
func (t *Type) IsSubclassOf(u *Type) bool {
	for x := t; x != nil; x = x.Base {
		if x == u {
			return true
		}
		for _, it := range x.Interfaces {
			if it == u {
				return true
			}
		}
	}
	return false
}

// Method returns the method named name whose parameter types match params.
// With no params given, the first method named name is returned.
func (t *Type) Method(name string, params ...bytecode.Type) *Method {
	for _, m := range t.Methods {
		if m.Name != name {
			continue
		}
		if params == nil {
			return m
		}
		if len(m.Params) != len(params) {
			continue
		}
		match := true
		for i, p := range m.Params {
			if !bytecode.SameType(p.Type, params[i]) {
				match = false
				break
			}
		}
		if match {
			return m
		}
	}
	return nil
}

// LookupMethod finds name on t or its bases.
func (t *Type) LookupMethod(name string, params ...bytecode.Type) *Method {
	for x := t; x != nil; x = x.Base {
		if m := x.Method(name, params...); m != nil {
			return m
		}
	}
	return nil
}

// Field returns the field named name on t or its bases.
func (t *Type) Field(name string) *Field {
	for x := t; x != nil; x = x.Base {
		for _, f := range x.Fields {
			if f.Name == name {
				return f
			}
		}
	}
	return nil
}

// Constructors returns t's constructors.
func (t *Type) Constructors() []*Method {
	var ctors []*Method
	for _, m := range t.Methods {
		if m.IsConstructor() {
			ctors = append(ctors, m)
		}
	}
	return ctors
}

func (t *Type) addMethod(m *Method) *Method {
	m.Owner = t
	t.Methods = append(t.Methods, m)
	return m
}

func (t *Type) addField(f *Field) *Field {
	f.Owner = t
	t.Fields = append(t.Fields, f)
	return f
}

// Registry maps host type names to their metadata.
type Registry struct {
	types map[string]*Type
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*Type)}
}

// Register adds t, replacing any type of the same name.
func (r *Registry) Register(t *Type) *Type {
	r.types[t.Name] = t
	return t
}

// Lookup returns the type named name, or nil.
func (r *Registry) Lookup(name string) *Type {
	return r.types[name]
}

// Names returns the registered type names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
