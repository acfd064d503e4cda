package it

// Inspect traverses the tree rooted at n in source order, calling f for
// each node. When f returns false the children of that node are skipped.
// Local functions and local types are not entered.
func Inspect(n Node, f func(Node) bool) {
	if n == nil || !f(n) {
		return
	}
	switch n := n.(type) {
	case *Block:
		for _, s := range n.Stmts {
			Inspect(s, f)
		}
	case *ExprStmt:
		inspectExpr(n.X, f)
	case *VarDecl:
		inspectExpr(n.Init, f)
	case *Assign:
		inspectExpr(n.Target, f)
		inspectExpr(n.Value, f)
	case *If:
		inspectExpr(n.Cond, f)
		inspectBlock(n.Then, f)
		inspectBlock(n.Else, f)
	case *BlockStmt:
		inspectBlock(n.Block, f)
	case *Return:
		inspectExpr(n.Value, f)
	case *Throw:
		inspectExpr(n.Code, f)
		inspectExpr(n.Message, f)
	case *Assert:
		inspectExpr(n.Cond, f)
	case *Try:
		inspectBlock(n.Body, f)
		for _, h := range n.Handlers {
			inspectBlock(h.Body, f)
		}
		inspectBlock(n.Finally, f)
	case *Switch:
		inspectExpr(n.Value, f)
		for _, c := range n.Cases {
			for _, v := range c.Values {
				inspectExpr(v, f)
			}
			inspectBlock(c.Body, f)
		}
		inspectBlock(n.Default, f)

	case *FieldRef:
		inspectExpr(n.Recv, f)
	case *PropertyRef:
		inspectExpr(n.Recv, f)
		inspectExprs(n.Index, f)
	case *Index:
		inspectExpr(n.Array, f)
		inspectExprs(n.Indices, f)
	case *Call:
		inspectExpr(n.Recv, f)
		inspectExprs(n.Args, f)
	case *Invoke:
		inspectExpr(n.Fn, f)
		inspectExprs(n.Args, f)
	case *FuncRef:
		inspectExpr(n.Recv, f)
	case *New:
		inspectExprs(n.Args, f)
	case *NewArray:
		inspectExprs(n.Lens, f)
	case *ArrayLit:
		inspectExprs(n.Elems, f)
	case *Binary:
		inspectExpr(n.L, f)
		inspectExpr(n.R, f)
	case *Unary:
		inspectExpr(n.X, f)
	case *Logical:
		inspectExpr(n.L, f)
		inspectExpr(n.R, f)
	case *Convert:
		inspectExpr(n.X, f)
	case *Is:
		inspectExpr(n.X, f)
	case *Cond:
		inspectExpr(n.C, f)
		inspectExpr(n.Then, f)
		inspectExpr(n.Else, f)
	case *BuiltinCall:
		inspectExpr(n.Recv, f)
		inspectExprs(n.Args, f)
	}
}

func inspectBlock(b *Block, f func(Node) bool) {
	if b != nil {
		Inspect(b, f)
	}
}

func inspectExpr(e Expr, f func(Node) bool) {
	if e != nil {
		Inspect(e, f)
	}
}

func inspectExprs(es []Expr, f func(Node) bool) {
	for _, e := range es {
		inspectExpr(e, f)
	}
}

// Rewriter replaces nodes bottom-up: children are rewritten before their
// parent is offered to Expr or Stmt. Replacement nodes are not revisited.
type Rewriter struct {
	// Expr returns the replacement for e, or e itself.
	Expr func(e Expr) Expr
	// Stmt returns the statements replacing s.
	Stmt func(s Stmt) []Stmt
	// Skip reports statements to leave untouched, children included.
	Skip func(s Stmt) bool
}

// Block rewrites b's statements in place.
func (r *Rewriter) Block(b *Block) {
	if b == nil {
		return
	}
	out := make([]Stmt, 0, len(b.Stmts))
	for _, s := range b.Stmts {
		if r.Skip != nil && r.Skip(s) {
			out = append(out, s)
			continue
		}
		r.stmt(s)
		if r.Stmt != nil {
			out = append(out, r.Stmt(s)...)
		} else {
			out = append(out, s)
		}
	}
	b.Stmts = out
}

func (r *Rewriter) stmt(s Stmt) {
	switch s := s.(type) {
	case *ExprStmt:
		s.X = r.Rewrite(s.X)
	case *VarDecl:
		s.Init = r.Rewrite(s.Init)
	case *Assign:
		s.Target = r.Rewrite(s.Target)
		s.Value = r.Rewrite(s.Value)
	case *If:
		s.Cond = r.Rewrite(s.Cond)
		r.Block(s.Then)
		r.Block(s.Else)
	case *BlockStmt:
		r.Block(s.Block)
	case *Return:
		s.Value = r.Rewrite(s.Value)
	case *Throw:
		s.Code = r.Rewrite(s.Code)
		s.Message = r.Rewrite(s.Message)
	case *Assert:
		s.Cond = r.Rewrite(s.Cond)
	case *Try:
		r.Block(s.Body)
		for _, h := range s.Handlers {
			r.Block(h.Body)
		}
		r.Block(s.Finally)
	case *Switch:
		s.Value = r.Rewrite(s.Value)
		for _, c := range s.Cases {
			r.exprs(c.Values)
			r.Block(c.Body)
		}
		r.Block(s.Default)
	}
}

func (r *Rewriter) exprs(es []Expr) {
	for i, e := range es {
		es[i] = r.Rewrite(e)
	}
}

// Rewrite rewrites e and returns its replacement.
func (r *Rewriter) Rewrite(e Expr) Expr {
	if e == nil {
		return nil
	}
	switch e := e.(type) {
	case *FieldRef:
		e.Recv = r.Rewrite(e.Recv)
	case *PropertyRef:
		e.Recv = r.Rewrite(e.Recv)
		r.exprs(e.Index)
	case *Index:
		e.Array = r.Rewrite(e.Array)
		r.exprs(e.Indices)
	case *Call:
		e.Recv = r.Rewrite(e.Recv)
		r.exprs(e.Args)
	case *Invoke:
		e.Fn = r.Rewrite(e.Fn)
		r.exprs(e.Args)
	case *FuncRef:
		e.Recv = r.Rewrite(e.Recv)
	case *New:
		r.exprs(e.Args)
	case *NewArray:
		r.exprs(e.Lens)
	case *ArrayLit:
		r.exprs(e.Elems)
	case *Binary:
		e.L = r.Rewrite(e.L)
		e.R = r.Rewrite(e.R)
	case *Unary:
		e.X = r.Rewrite(e.X)
	case *Logical:
		e.L = r.Rewrite(e.L)
		e.R = r.Rewrite(e.R)
	case *Convert:
		e.X = r.Rewrite(e.X)
	case *Is:
		e.X = r.Rewrite(e.X)
	case *Cond:
		e.C = r.Rewrite(e.C)
		e.Then = r.Rewrite(e.Then)
		e.Else = r.Rewrite(e.Else)
	case *BuiltinCall:
		e.Recv = r.Rewrite(e.Recv)
		r.exprs(e.Args)
	}
	if r.Expr != nil {
		return r.Expr(e)
	}
	return e
}

// Functions returns every function of the program: methods, property
// accessors, global functions and local functions at any depth, outer
// functions before the functions nested in them.
func (root *Root) Functions() []*Function {
	var out []*Function
	var class func(c *ClassEntity)
	var fn func(f *Function)
	block := func(b *Block) {
		Inspect(b, func(n Node) bool {
			if b, ok := n.(*Block); ok {
				for _, c := range b.Types {
					class(c)
				}
				for _, g := range b.Funcs {
					fn(g)
				}
			}
			return true
		})
	}
	fn = func(f *Function) {
		out = append(out, f)
		if f.Body != nil {
			block(f.Body)
		}
	}
	class = func(c *ClassEntity) {
		for _, m := range c.Members() {
			switch m := m.(type) {
			case *Function:
				if m.Parent == nil {
					fn(m)
				}
			case *Property:
				if m.Getter != nil {
					fn(m.Getter)
				}
				if m.Setter != nil {
					fn(m.Setter)
				}
			}
		}
		for _, n := range c.Nested {
			class(n)
		}
	}
	for _, s := range root.Scopes {
		for _, c := range s.Classes {
			class(c)
		}
		for _, f := range s.Funcs {
			fn(f)
		}
		block(s.Init)
	}
	return out
}
