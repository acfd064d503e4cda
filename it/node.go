package it

// Node is a statement, an expression or a block.
type Node interface {
	node()
}

// Stmt is a statement.
type Stmt interface {
	Node
	stmt()
}

// Expr is an expression. Type returns the type semantic analysis assigned.
type Expr interface {
	Node
	Type() Type
	expr()
}

func (*Block) node() {}

// Statements.
type (
	// ExprStmt evaluates X and discards its value.
	ExprStmt struct {
		X Expr
	}

	// VarDecl declares Var and stores Init, or the default value, into it.
	VarDecl struct {
		Var  *LocalVariable
		Init Expr
	}

	// Assign stores Value into the location Target denotes.
	Assign struct {
		Target Expr
		Value  Expr
	}

	// If runs Then or Else. Either arm may be nil.
	If struct {
		Cond Expr
		Then *Block
		Else *Block
	}

	// BlockStmt runs a nested block; loops are blocks with IsLoop set.
	BlockStmt struct {
		Block *Block
	}

	// Exit leaves Block.
	Exit struct {
		Block *Block
	}

	// Continue jumps to the start of the loop Block.
	Continue struct {
		Block *Block
	}

	// Return leaves the function with Value, if any.
	Return struct {
		Value Expr
	}

	// Throw raises a numeric exception with Code and an optional Message.
	Throw struct {
		Code    Expr
		Message Expr
	}

	// Assert traps when Cond is false. It is compiled only in debug mode.
	Assert struct {
		Cond    Expr
		Message string
	}

	// Try runs Body under Handlers and Finally.
	Try struct {
		Body     *Block
		Handlers []*Handler
		Finally  *Block
	}

	// Switch runs the first case with a value equal to Value.
	Switch struct {
		Value   Expr
		Cases   []*Case
		Default *Block
	}
)

// Case is one arm of a Switch.
type Case struct {
	Values []Expr
	Body   *Block
}

// Handler is one catch clause. A typed handler matches host exceptions
// assignable to Typed; a numeric handler (Typed nil) matches numeric
// exceptions whose code lies in one of Ranges, or any code when Ranges is
// empty.
type Handler struct {
	Typed  Type
	Ranges []CodeRange
	// Info receives the caught exception, if set.
	Info *LocalVariable
	Body *Block
}

// CodeRange is an inclusive range of exception codes. A nil bound is open.
type CodeRange struct {
	Lo, Hi *int64
}

// Between returns the range [lo, hi].
func Between(lo, hi int64) CodeRange { return CodeRange{Lo: &lo, Hi: &hi} }

// Code returns the range holding only c.
func Code(c int64) CodeRange { return Between(c, c) }

// AtLeast returns the range [lo, ∞).
func AtLeast(lo int64) CodeRange { return CodeRange{Lo: &lo} }

// AtMost returns the range (-∞, hi].
func AtMost(hi int64) CodeRange { return CodeRange{Hi: &hi} }

func (*ExprStmt) node()  {}
func (*VarDecl) node()   {}
func (*Assign) node()    {}
func (*If) node()        {}
func (*BlockStmt) node() {}
func (*Exit) node()      {}
func (*Continue) node()  {}
func (*Return) node()    {}
func (*Throw) node()     {}
func (*Assert) node()    {}
func (*Try) node()       {}
func (*Switch) node()    {}

func (*ExprStmt) stmt()  {}
func (*VarDecl) stmt()   {}
func (*Assign) stmt()    {}
func (*If) stmt()        {}
func (*BlockStmt) stmt() {}
func (*Exit) stmt()      {}
func (*Continue) stmt()  {}
func (*Return) stmt()    {}
func (*Throw) stmt()     {}
func (*Assert) stmt()    {}
func (*Try) stmt()       {}
func (*Switch) stmt()    {}

// BinOp is a binary operator.
type BinOp uint8

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpPow
	OpConcat
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	// OpRefEq and OpRefNe compare references.
	OpRefEq
	OpRefNe
)

var binOpNames = [...]string{"+", "-", "*", "/", "%", "^", "~", "=", "<>", "<", "<=", ">", ">=", "=&", "<>&"}

func (op BinOp) String() string {
	if int(op) < len(binOpNames) {
		return binOpNames[op]
	}
	return "?"
}

// IsComparison reports whether op yields bool.
func (op BinOp) IsComparison() bool { return op >= OpEq }

// UnOp is a unary operator.
type UnOp uint8

const (
	OpNeg UnOp = iota
	// OpNot is logical negation.
	OpNot
)

// LogicalOp is a short-circuit operator.
type LogicalOp uint8

const (
	OpAnd LogicalOp = iota
	OpOr
)

// Expressions.
type (
	// Const is a literal. Integers and enum values are int64 (unsigned by
	// bit pattern), floats are float64.
	Const struct {
		T     Type
		Value any
	}

	// Null is the null reference of type T.
	Null struct {
		T Type
	}

	// Default is the default value of T.
	Default struct {
		T Type
	}

	LocalRef struct {
		Var *LocalVariable
	}

	ParamRef struct {
		Param *Parameter
	}

	// This is the receiver of the enclosing method.
	This struct {
		T Type
	}

	// FieldRef reads a field; Recv is nil for static fields.
	FieldRef struct {
		Recv  Expr
		Field Member
		T     Type
	}

	GlobalRef struct {
		Var *GlobalVariable
	}

	// PropertyRef reads a property or indexer through its getter.
	PropertyRef struct {
		Recv  Expr
		Prop  Member
		Index []Expr
		T     Type
	}

	// Index reads an array element.
	Index struct {
		Array   Expr
		Indices []Expr
	}

	// Call invokes Func. Recv is nil for static functions. NonVirtual
	// suppresses virtual dispatch, as in calls to a base implementation.
	Call struct {
		Func       Member
		Recv       Expr
		Args       []Expr
		TypeArgs   []Type
		T          Type
		NonVirtual bool
	}

	// Invoke calls the function value Fn.
	Invoke struct {
		Fn   Expr
		Args []Expr
		T    Type
	}

	// FuncRef creates a function value bound to Recv, if any.
	FuncRef struct {
		Func Member
		Recv Expr
		T    *FunctionType
	}

	// New creates an instance of T with Ctor, or with the default
	// constructor when Ctor is nil.
	New struct {
		T    Type
		Ctor Member
		Args []Expr
	}

	// NewArray allocates an array with the given lengths.
	NewArray struct {
		T    *ArrayType
		Lens []Expr
	}

	// ArrayLit builds a one-dimensional array from Elems.
	ArrayLit struct {
		T     *ArrayType
		Elems []Expr
	}

	Binary struct {
		Op   BinOp
		L, R Expr
	}

	Unary struct {
		Op UnOp
		X  Expr
	}

	Logical struct {
		Op   LogicalOp
		L, R Expr
	}

	// Convert converts X to T.
	Convert struct {
		X Expr
		T Type
	}

	// Is tests whether X is an instance of Target; Not negates the test.
	Is struct {
		X      Expr
		Target Type
		Not    bool
	}

	// Cond is the conditional expression.
	Cond struct {
		C, Then, Else Expr
	}

	// BuiltinCall applies a built-in member function such as len or abs to
	// a primitive or array receiver.
	BuiltinCall struct {
		Recv Expr
		Name string
		Args []Expr
		T    Type
	}
)

func (e *Const) Type() Type   { return e.T }
func (e *Null) Type() Type    { return e.T }
func (e *Default) Type() Type { return e.T }
func (e *LocalRef) Type() Type {
	return e.Var.Type
}
func (e *ParamRef) Type() Type    { return e.Param.Type }
func (e *This) Type() Type        { return e.T }
func (e *FieldRef) Type() Type    { return e.T }
func (e *GlobalRef) Type() Type   { return e.Var.Type }
func (e *PropertyRef) Type() Type { return e.T }
func (e *Call) Type() Type        { return e.T }
func (e *Invoke) Type() Type      { return e.T }
func (e *FuncRef) Type() Type     { return e.T }
func (e *New) Type() Type         { return e.T }
func (e *NewArray) Type() Type    { return e.T }
func (e *ArrayLit) Type() Type    { return e.T }
func (e *Convert) Type() Type     { return e.T }
func (e *BuiltinCall) Type() Type { return e.T }
func (e *Logical) Type() Type     { return Bool }
func (e *Is) Type() Type          { return Bool }
func (e *Cond) Type() Type        { return e.Then.Type() }

func (e *Index) Type() Type {
	if a, ok := e.Array.Type().(*ArrayType); ok {
		return a.Elem
	}
	return nil
}

func (e *Binary) Type() Type {
	if e.Op.IsComparison() {
		return Bool
	}
	return e.L.Type()
}

func (e *Unary) Type() Type {
	if e.Op == OpNot {
		return Bool
	}
	return e.X.Type()
}

func (*Const) node()       {}
func (*Null) node()        {}
func (*Default) node()     {}
func (*LocalRef) node()    {}
func (*ParamRef) node()    {}
func (*This) node()        {}
func (*FieldRef) node()    {}
func (*GlobalRef) node()   {}
func (*PropertyRef) node() {}
func (*Index) node()       {}
func (*Call) node()        {}
func (*Invoke) node()      {}
func (*FuncRef) node()     {}
func (*New) node()         {}
func (*NewArray) node()    {}
func (*ArrayLit) node()    {}
func (*Binary) node()      {}
func (*Unary) node()       {}
func (*Logical) node()     {}
func (*Convert) node()     {}
func (*Is) node()          {}
func (*Cond) node()        {}
func (*BuiltinCall) node() {}

func (*Const) expr()       {}
func (*Null) expr()        {}
func (*Default) expr()     {}
func (*LocalRef) expr()    {}
func (*ParamRef) expr()    {}
func (*This) expr()        {}
func (*FieldRef) expr()    {}
func (*GlobalRef) expr()   {}
func (*PropertyRef) expr() {}
func (*Index) expr()       {}
func (*Call) expr()        {}
func (*Invoke) expr()      {}
func (*FuncRef) expr()     {}
func (*New) expr()         {}
func (*NewArray) expr()    {}
func (*ArrayLit) expr()    {}
func (*Binary) expr()      {}
func (*Unary) expr()       {}
func (*Logical) expr()     {}
func (*Convert) expr()     {}
func (*Is) expr()          {}
func (*Cond) expr()        {}
func (*BuiltinCall) expr() {}

// FieldOf returns a read of the field f on recv with f's own type.
func FieldOf(recv Expr, f *Field) *FieldRef {
	return &FieldRef{Recv: recv, Field: f, T: f.Type}
}

// IntConst returns an Integer literal.
func IntConst(v int64) *Const { return &Const{T: Int, Value: v} }

// BoolConst returns a bool literal.
func BoolConst(v bool) *Const { return &Const{T: Bool, Value: v} }
