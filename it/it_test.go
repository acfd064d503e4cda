package it

import (
	"testing"

	"github.com/yvt/queen-compiler-sub002/host"
)

func TestEqual(t *testing.T) {
	list := NewClass("List", KindClass, "T")
	other := NewClass("List", KindClass, "T")
	tests := []struct {
		a, b Type
		want bool
	}{
		{Int, NewPrimitive(PrimInteger), true},
		{Int, Int64, false},
		{ArrayOf(Int), ArrayOf(NewPrimitive(PrimInteger)), true},
		{ArrayOf(Int), &ArrayType{Elem: Int, Rank: 2}, false},
		{Instantiate(list.Type, Int), Instantiate(list.Type, Int), true},
		{Instantiate(list.Type, Int), Instantiate(other.Type, Int), false},
		{Instantiate(list.Type, Int), Instantiate(list.Type, Bool), false},
		{
			&FunctionType{Params: []FuncParam{{Type: Int, ByRef: true}}},
			&FunctionType{Params: []FuncParam{{Type: Int, ByRef: true}}},
			true,
		},
		{
			&FunctionType{Params: []FuncParam{{Type: Int, ByRef: true}}},
			&FunctionType{Params: []FuncParam{{Type: Int}}},
			false,
		},
		{&NullType{}, &NullType{}, true},
		{list.Type, other.Type, false},
	}
	for i, tt := range tests {
		if got := Equal(tt.a, tt.b); got != tt.want {
			t.Errorf("%d: Equal(%v, %v) = %v, want %v", i, tt.a, tt.b, got, tt.want)
		}
	}
}

func TestRecordWriteOnce(t *testing.T) {
	var r Record
	if r.Resolved() {
		t.Fatal("fresh record resolved")
	}
	if !r.Set("a") {
		t.Fatal("first Set failed")
	}
	if r.Set("b") {
		t.Error("second Set succeeded")
	}
	if r.Handle() != "a" {
		t.Errorf("Handle() = %v, want a", r.Handle())
	}
}

func TestMutateAndLookup(t *testing.T) {
	base := NewClass("Box", KindClass, "T")
	val := base.AddField(&Field{Name: "val", Type: base.Type.Params[0]})
	get := base.AddFunc(NewFunction("get", base.Type.Params[0]))

	derived := NewClass("IntBox", KindClass)
	derived.Type.Super = Instantiate(base.Type, Int)

	m := derived.LookupMember("val")
	mf, ok := m.(*MutatedField)
	if !ok || mf.Base != val {
		t.Fatalf("LookupMember(val) = %#v, want mutated val", m)
	}
	if !Equal(mf.Type(), Int) {
		t.Errorf("mutated field type = %v, want int", mf.Type())
	}
	inst := derived.Type.Super.(*InstantiatedType)
	if inst.Mutate(val) != inst.Mutate(val) {
		t.Error("Mutate is not memoized")
	}
	g := inst.Mutate(get).(*MutatedFunction)
	if !Equal(g.Return(), Int) {
		t.Errorf("mutated return = %v, want int", g.Return())
	}
	if derived.LookupMember("missing") != nil {
		t.Error("found a missing member")
	}
}

func TestImportedHidesRoots(t *testing.T) {
	im := NewImporter()
	numeric := im.Import(host.NumericExceptionType)
	if numeric != im.Import(host.NumericExceptionType) {
		t.Fatal("Import is not memoized")
	}
	exc := numeric.Superclass()
	if exc == nil || exc.String() != "Exception" {
		t.Fatalf("superclass = %v, want Exception", exc)
	}
	if exc.Superclass() != nil {
		t.Errorf("Exception superclass = %v, want nil", exc.Superclass())
	}
	if !IsSubclassOf(numeric, exc) {
		t.Error("NumericException is not an Exception")
	}
	f := im.Import(host.FuncType(1))
	if len(f.GenericParameters()) != 2 {
		t.Errorf("Func`2 has %d parameters", len(f.GenericParameters()))
	}
}

func TestRewriterBottomUp(t *testing.T) {
	x := &LocalVariable{Name: "x", Type: Int}
	y := &LocalVariable{Name: "y", Type: Int}
	b := &Block{}
	b.Declare(x)
	b.Declare(y)
	skipped := &ExprStmt{X: &LocalRef{Var: x}}
	b.Append(
		&VarDecl{Var: x, Init: IntConst(1)},
		&Assign{Target: &LocalRef{Var: y}, Value: &Binary{Op: OpAdd, L: &LocalRef{Var: x}, R: &LocalRef{Var: x}}},
		skipped,
	)
	visits := 0
	r := &Rewriter{
		Expr: func(e Expr) Expr {
			visits++
			if l, ok := e.(*LocalRef); ok && l.Var == x {
				return &LocalRef{Var: y}
			}
			return e
		},
		Stmt: func(s Stmt) []Stmt {
			if d, ok := s.(*VarDecl); ok && d.Var == x {
				return []Stmt{&Assign{Target: &LocalRef{Var: y}, Value: d.Init}}
			}
			return []Stmt{s}
		},
		Skip: func(s Stmt) bool { return s == skipped },
	}
	r.Block(b)

	if _, ok := b.Stmts[0].(*Assign); !ok {
		t.Fatalf("stmt 0 = %T, want *Assign", b.Stmts[0])
	}
	bin := b.Stmts[1].(*Assign).Value.(*Binary)
	if bin.L.(*LocalRef).Var != y || bin.R.(*LocalRef).Var != y {
		t.Error("operands not rewritten")
	}
	if skipped.X.(*LocalRef).Var != x {
		t.Error("skipped statement was rewritten")
	}
	// const, y, x, x, binary
	if visits != 5 {
		t.Errorf("visits = %d, want 5", visits)
	}
}

func TestFunctionsOrder(t *testing.T) {
	s := NewScope("main")
	outer := s.AddFunc(NewFunction("outer", nil))
	inner := outer.AddLocalFunc(outer.Body, NewFunction("inner", nil))
	nested := &Block{}
	outer.Body.Append(&BlockStmt{Block: nested})
	deep := outer.AddLocalFunc(nested, NewFunction("deep", nil))
	c := s.AddClass(NewClass("C", KindClass))
	m := c.AddFunc(NewFunction("m", nil))

	root := &Root{Scopes: []*Scope{s}}
	got := root.Functions()
	want := []*Function{m, outer, inner, deep}
	if len(got) != len(want) {
		t.Fatalf("Functions() returned %d functions, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Functions()[%d] = %s, want %s", i, got[i].Name, want[i].Name)
		}
	}
}

func TestUnderlying(t *testing.T) {
	plain := NewClass("Color", KindEnum)
	small := NewClass("Flag", KindEnum)
	small.Type.Underlying = Int8
	cls := NewClass("Box", KindClass)
	tests := []struct {
		t    Type
		want Type
		prim bool
	}{
		{plain.Type, Int, true},
		{small.Type, Int8, true},
		{Float32, Float32, true},
		{cls.Type, cls.Type, false},
	}
	for _, tt := range tests {
		if got := Underlying(tt.t); !Equal(got, tt.want) {
			t.Errorf("Underlying(%v) = %v, want %v", tt.t, got, tt.want)
		}
		if _, ok := PrimOf(tt.t); ok != tt.prim {
			t.Errorf("PrimOf(%v) ok = %v, want %v", tt.t, ok, tt.prim)
		}
	}
}
