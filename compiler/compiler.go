// Package compiler lowers a typed intermediate tree into a bytecode module.
//
// Compilation runs a closure-capture rewrite over the tree and then five
// strictly ordered declaration phases: type shells, member shells,
// hierarchy links, bodies and finalization. Types and members are resolved
// on demand and memoized on the tree's own records.
package compiler

import (
	"errors"
	"fmt"

	"github.com/yvt/queen-compiler-sub002/bytecode"
	"github.com/yvt/queen-compiler-sub002/host"
	"github.com/yvt/queen-compiler-sub002/it"
)

// Config configures a compilation.
type Config struct {
	// ModuleName names the produced module.
	ModuleName string
	// Version is the module's semantic version; empty for none.
	Version string
	// Debug enables assertions.
	Debug bool
	// Host lists the host types imported types may refer to. The
	// standard registry is used when nil.
	Host *host.Registry
	// Importer supplies imported types the compiler creates itself.
	// A fresh importer is used when nil.
	Importer *it.Importer
}

// InternalError reports a state correct upstream phases should have
// prevented. It always aborts compilation.
type InternalError struct {
	Node any
	Msg  string
	Err  error
}

func (e *InternalError) Error() string {
	s := "internal compiler error: " + e.Msg
	if e.Node != nil {
		s += fmt.Sprintf(" (at %v)", describe(e.Node))
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *InternalError) Unwrap() error { return e.Err }

func internalf(node any, format string, args ...any) error {
	return &InternalError{Node: node, Msg: fmt.Sprintf(format, args...)}
}

func internalWrap(node any, err error, format string, args ...any) error {
	var ie *InternalError
	if errors.As(err, &ie) {
		return err
	}
	return &InternalError{Node: node, Msg: fmt.Sprintf(format, args...), Err: err}
}

func describe(n any) string {
	switch n := n.(type) {
	case *it.Function:
		if n.Class != nil {
			return n.Class.QualifiedName() + "." + n.Name
		}
		return n.Name
	case *it.ClassEntity:
		return n.QualifiedName()
	case it.Type:
		return n.String()
	case it.Member:
		return n.MemberName()
	case *it.LocalVariable:
		return "local " + n.Name
	case *it.Parameter:
		return "parameter " + n.Name
	}
	return fmt.Sprintf("%T", n)
}

// Compiler compiles one program. It is single-use and not safe for
// concurrent use.
type Compiler struct {
	cfg  Config
	mod  *bytecode.Module
	host *host.Registry
	im   *it.Importer

	// Warnings collects diagnostics that did not abort compilation.
	Warnings []string

	phase  phase
	queues [numPhases][]task
	used   bool

	// delegates memoizes synthesized delegate definitions by shape.
	delegates map[string]*bytecode.TypeDef
	// deps records finalization edges: a type is finalized after its
	// base and its enclosing type.
	deps     map[*bytecode.TypeDef][]*bytecode.TypeDef
	declared []*bytecode.TypeDef
	scopes   []*it.Scope
	inits    map[*it.Scope]*bytecode.MethodDef
	classes  map[*bytecode.TypeDef]*it.ClassEntity
	localSeq int
}

// New returns a compiler for cfg.
func New(cfg Config) (*Compiler, error) {
	mod := bytecode.NewModule(cfg.ModuleName)
	if err := mod.SetVersion(cfg.Version); err != nil {
		return nil, err
	}
	reg := cfg.Host
	if reg == nil {
		reg = host.Standard()
	}
	im := cfg.Importer
	if im == nil {
		im = it.NewImporter()
	}
	return &Compiler{
		cfg:       cfg,
		mod:       mod,
		host:      reg,
		im:        im,
		delegates: make(map[string]*bytecode.TypeDef),
		deps:      make(map[*bytecode.TypeDef][]*bytecode.TypeDef),
		inits:     make(map[*it.Scope]*bytecode.MethodDef),
		classes:   make(map[*bytecode.TypeDef]*it.ClassEntity),
	}, nil
}

// Module returns the module being built.
func (c *Compiler) Module() *bytecode.Module { return c.mod }

// Compile lowers root into the compiler's module.
func (c *Compiler) Compile(root *it.Root) (*bytecode.Module, error) {
	if c.used {
		return nil, errors.New("compiler: Compile called twice")
	}
	c.used = true

	if err := c.rewriteCaptures(root.Functions()); err != nil {
		return nil, err
	}
	for _, s := range root.Scopes {
		s := s
		if err := c.later(phaseTypes, func() error { return c.declareScope(s) }); err != nil {
			return nil, err
		}
	}
	if err := c.run(); err != nil {
		return nil, err
	}
	for _, s := range c.scopes {
		c.mod.Inits = append(c.mod.Inits, c.inits[s])
	}
	if root.Entry != nil {
		md, ok := root.Entry.Record().Handle().(*bytecode.MethodDef)
		if !ok || !md.IsStatic() {
			return nil, internalf(root.Entry, "entry point is not a registered static function")
		}
		c.mod.Entry = md
	}
	return c.mod, nil
}

// Compile compiles root with cfg, returning the module and the warnings
// collected along the way.
func Compile(cfg Config, root *it.Root) (*bytecode.Module, []string, error) {
	c, err := New(cfg)
	if err != nil {
		return nil, nil, err
	}
	mod, err := c.Compile(root)
	return mod, c.Warnings, err
}

func (c *Compiler) warnf(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}
