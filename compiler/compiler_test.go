package compiler

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/yvt/queen-compiler-sub002/bytecode"
	"github.com/yvt/queen-compiler-sub002/host"
	"github.com/yvt/queen-compiler-sub002/it"
	"github.com/yvt/queen-compiler-sub002/vm"
)

func lref(v *it.LocalVariable) *it.LocalRef { return &it.LocalRef{Var: v} }
func pref(p *it.Parameter) *it.ParamRef     { return &it.ParamRef{Param: p} }

func bin(op it.BinOp, l, r it.Expr) *it.Binary { return &it.Binary{Op: op, L: l, R: r} }

func param(name string, t it.Type) *it.Parameter { return &it.Parameter{Name: name, Type: t} }

func block(stmts ...it.Stmt) *it.Block { return (&it.Block{}).Append(stmts...) }

func newRoot() (*it.Root, *it.Scope) {
	s := it.NewScope("main")
	return &it.Root{Scopes: []*it.Scope{s}}, s
}

func compile(t *testing.T, cfg Config, root *it.Root) *bytecode.Module {
	t.Helper()
	if cfg.ModuleName == "" {
		cfg.ModuleName = "test"
	}
	mod, warnings, err := Compile(cfg, root)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	for _, w := range warnings {
		t.Errorf("unexpected warning: %s", w)
	}
	return mod
}

func methodOf(t *testing.T, f *it.Function) *bytecode.MethodDef {
	t.Helper()
	md, ok := f.Record().Handle().(*bytecode.MethodDef)
	if !ok {
		t.Fatalf("%s has no method handle", f.Name)
	}
	return md
}

func run(t *testing.T, mod *bytecode.Module, f *it.Function, args ...any) (any, error) {
	t.Helper()
	m := vm.New(mod, vm.Config{})
	if err := m.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return m.Call(methodOf(t, f), args...)
}

func mustRun(t *testing.T, mod *bytecode.Module, f *it.Function, args ...any) any {
	t.Helper()
	v, err := run(t, mod, f, args...)
	if err != nil {
		t.Fatalf("%s%v: %v", f.Name, args, err)
	}
	return v
}

func countOps(md *bytecode.MethodDef, op bytecode.Op) int {
	n := 0
	for _, in := range md.Body.Code {
		if in.Op == op {
			n++
		}
	}
	return n
}

func TestResolveConverges(t *testing.T) {
	c, err := New(Config{ModuleName: "test"})
	if err != nil {
		t.Fatal(err)
	}
	a1, err := c.Resolve(it.ArrayOf(it.Int))
	if err != nil {
		t.Fatal(err)
	}
	a2, err := c.Resolve(it.ArrayOf(it.Int))
	if err != nil {
		t.Fatal(err)
	}
	if a1 != a2 {
		t.Errorf("equal array types resolved to %p and %p", a1, a2)
	}
	nested := it.ArrayOf(it.ArrayOf(it.Float64))
	n1, _ := c.Resolve(nested)
	n2, _ := c.Resolve(nested)
	if n1 != n2 {
		t.Errorf("second resolution of %v returned a new handle", nested)
	}
	if got := nested.Record().Handle(); got != n1 {
		t.Errorf("record holds %v, want %v", got, n1)
	}

	fn := func() *it.FunctionType {
		return &it.FunctionType{Params: []it.FuncParam{{Type: it.Int}}, Return: it.Bool}
	}
	f1, _ := c.Resolve(fn())
	f2, _ := c.Resolve(fn())
	if f1 != f2 {
		t.Errorf("equal function types resolved to %v and %v", f1, f2)
	}
	g, ok := f1.(*bytecode.GenericInst)
	if !ok {
		t.Fatalf("function type resolved to %T, want *bytecode.GenericInst", f1)
	}
	if _, ok := g.Def.(*bytecode.HostType); !ok {
		t.Errorf("by-value shape uses %T, want a host delegate", g.Def)
	}
	if len(c.delegates) != 0 {
		t.Errorf("by-value shape synthesized %d delegates", len(c.delegates))
	}

	v, err := c.Resolve(nil)
	if err != nil || v != nil {
		t.Errorf("Resolve(nil) = %v, %v; want nil, nil", v, err)
	}
}

func TestDelegateShapeMemo(t *testing.T) {
	c, err := New(Config{ModuleName: "test"})
	if err != nil {
		t.Fatal(err)
	}
	byRef := func(p it.Type, ret it.Type) *it.FunctionType {
		return &it.FunctionType{Params: []it.FuncParam{{Type: p, ByRef: true}}, Return: ret}
	}
	d1, err := c.Resolve(byRef(it.Int, it.Bool))
	if err != nil {
		t.Fatal(err)
	}
	d2, err := c.Resolve(byRef(it.Float64, it.String))
	if err != nil {
		t.Fatal(err)
	}
	d3, err := c.Resolve(byRef(it.Int, it.Bool))
	if err != nil {
		t.Fatal(err)
	}
	g1, g2 := d1.(*bytecode.GenericInst), d2.(*bytecode.GenericInst)
	if g1.Def != g2.Def {
		t.Errorf("same shape synthesized %v and %v", g1.Def, g2.Def)
	}
	if d1 == d2 {
		t.Errorf("different argument types share instantiation %v", d1)
	}
	if d1 != d3 {
		t.Errorf("equal types resolved to %v and %v", d1, d3)
	}
	td := g1.Def.(*bytecode.TypeDef)
	if !td.Finalized() {
		t.Errorf("%v is not finalized", td)
	}
	if td.Kind != bytecode.KindDelegate {
		t.Errorf("%v has kind %v, want delegate", td, td.Kind)
	}
	inv := td.Method("Invoke")
	if inv == nil || len(inv.Params) != 1 || !inv.Params[0].ByRef {
		t.Errorf("Invoke of %v = %+v, want one by-reference parameter", td, inv)
	}

	// a different shape gets its own definition
	proc, err := c.Resolve(&it.FunctionType{Params: []it.FuncParam{{Type: it.Int, ByRef: true}}})
	if err != nil {
		t.Fatal(err)
	}
	if proc.(*bytecode.GenericInst).Def == g1.Def {
		t.Errorf("shapes with and without a result share %v", g1.Def)
	}

	wide := &it.FunctionType{Return: it.Int}
	for i := 0; i <= host.MaxDelegateParams; i++ {
		wide.Params = append(wide.Params, it.FuncParam{Type: it.Int})
	}
	w, err := c.Resolve(wide)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := w.(*bytecode.GenericInst).Def.(*bytecode.TypeDef); !ok {
		t.Errorf("%d-parameter shape uses %v, want a synthesized delegate", len(wide.Params), w)
	}
	if got, want := len(c.delegates), 3; got != want {
		t.Errorf("synthesized %d delegates, want %d", got, want)
	}
}

func TestCaptureSharedField(t *testing.T) {
	root, s := newRoot()
	p := param("p", it.Int)
	outer := s.AddFunc(it.NewFunction("outer", it.Int, p))
	x := outer.Body.Declare(&it.LocalVariable{Name: "x", Type: it.Int})
	inner := outer.AddLocalFunc(outer.Body, it.NewFunction("inner", it.Int))
	inner.Body.Append(&it.Return{
		Value: bin(it.OpAdd, bin(it.OpAdd, lref(x), pref(p)), bin(it.OpAdd, pref(p), lref(x))),
	})
	outer.Body.Append(
		&it.VarDecl{Var: x, Init: it.IntConst(10)},
		&it.Return{Value: &it.Call{Func: inner, T: it.Int}},
	)
	mod := compile(t, Config{}, root)

	if !inner.Captures {
		t.Fatal("inner does not capture")
	}
	if got := len(outer.CapturedLocals); got != 1 {
		t.Errorf("captured %d locals, want 1", got)
	}
	fld, ok := outer.CapturedParams[p]
	if !ok || len(outer.CapturedParams) != 1 {
		t.Fatalf("captured params = %v, want only p", outer.CapturedParams)
	}
	fields := 0
	for _, m := range outer.Body.Surrogate().Members() {
		if _, ok := m.(*it.Field); ok {
			fields++
		}
	}
	if fields != 2 {
		t.Errorf("surrogate has %d fields, want 2", fields)
	}
	inits := 0
	for _, st := range outer.InitBlock.Block.Stmts {
		if a, ok := st.(*it.Assign); ok {
			if fr, ok := a.Target.(*it.FieldRef); ok && fr.Field == fld {
				inits++
			}
		}
	}
	if inits != 1 {
		t.Errorf("parameter field initialized %d times, want 1", inits)
	}
	if got, want := mustRun(t, mod, outer, int64(3)), int64(26); got != want {
		t.Errorf("outer(3) = %v, want %v", got, want)
	}
}

func TestCaptureThroughParentChain(t *testing.T) {
	root, s := newRoot()
	p := param("p", it.Int)
	outer := s.AddFunc(it.NewFunction("outer", it.Int, p))
	mid := outer.AddLocalFunc(outer.Body, it.NewFunction("mid", it.Int))
	leaf := mid.AddLocalFunc(mid.Body, it.NewFunction("leaf", it.Int))
	leaf.Body.Append(&it.Return{Value: bin(it.OpMul, pref(p), it.IntConst(2))})
	mid.Body.Append(&it.Return{Value: bin(it.OpAdd, &it.Call{Func: leaf, T: it.Int}, it.IntConst(1))})
	outer.Body.Append(&it.Return{Value: &it.Call{Func: mid, T: it.Int}})
	mod := compile(t, Config{}, root)

	if mid.ParentField == nil {
		t.Error("mid has no parent link")
	}
	if outer.ParentField != nil {
		t.Error("outer has a parent link")
	}
	if got, want := mustRun(t, mod, outer, int64(5)), int64(11); got != want {
		t.Errorf("outer(5) = %v, want %v", got, want)
	}
}

func TestCaptureRejected(t *testing.T) {
	tests := []struct {
		name  string
		build func(s *it.Scope)
	}{
		{"generic context", func(s *it.Scope) {
			f := s.AddFunc(it.NewFunction("f", it.Int))
			f.AddGeneric("T")
			v := f.Body.Declare(&it.LocalVariable{Name: "v", Type: it.Int})
			g := f.AddLocalFunc(f.Body, it.NewFunction("g", it.Int))
			g.Body.Append(&it.Return{Value: lref(v)})
			f.Body.Append(&it.VarDecl{Var: v}, &it.Return{Value: &it.Call{Func: g, T: it.Int}})
		}},
		{"by-reference parameter", func(s *it.Scope) {
			p := &it.Parameter{Name: "p", Type: it.Int, ByRef: true}
			f := s.AddFunc(it.NewFunction("f", it.Int, p))
			g := f.AddLocalFunc(f.Body, it.NewFunction("g", it.Int))
			g.Body.Append(&it.Return{Value: pref(p)})
			f.Body.Append(&it.Return{Value: &it.Call{Func: g, T: it.Int}})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root, s := newRoot()
			tt.build(s)
			_, _, err := Compile(Config{ModuleName: "test"}, root)
			var ie *InternalError
			if !errors.As(err, &ie) {
				t.Fatalf("Compile error = %v, want *InternalError", err)
			}
		})
	}
}

func TestLoopExitContinue(t *testing.T) {
	root, s := newRoot()
	n := param("n", it.Int)
	f := s.AddFunc(it.NewFunction("sumOdd", it.Int, n))
	i := f.Body.Declare(&it.LocalVariable{Name: "i", Type: it.Int})
	sum := f.Body.Declare(&it.LocalVariable{Name: "s", Type: it.Int})
	loop := &it.Block{IsLoop: true}
	loop.Append(
		&it.Assign{Target: lref(i), Value: bin(it.OpAdd, lref(i), it.IntConst(1))},
		&it.If{Cond: bin(it.OpGt, lref(i), pref(n)), Then: block(&it.Exit{Block: loop})},
		&it.If{
			Cond: bin(it.OpEq, bin(it.OpMod, lref(i), it.IntConst(2)), it.IntConst(0)),
			Then: block(&it.Continue{Block: loop}),
		},
		&it.Assign{Target: lref(sum), Value: bin(it.OpAdd, lref(sum), lref(i))},
	)
	f.Body.Append(
		&it.VarDecl{Var: i},
		&it.VarDecl{Var: sum},
		&it.BlockStmt{Block: loop},
		&it.Return{Value: lref(sum)},
	)
	mod := compile(t, Config{}, root)
	for _, tt := range []struct{ n, want int64 }{{0, 0}, {1, 1}, {10, 25}} {
		if got := mustRun(t, mod, f, tt.n); got != tt.want {
			t.Errorf("sumOdd(%d) = %v, want %d", tt.n, got, tt.want)
		}
	}
}

func TestArrayLiteralPaths(t *testing.T) {
	want := []int32{0, 7, 0, -3, 0, 1}
	i32 := func(v int32) *it.Const { return &it.Const{T: it.Int32, Value: int64(v)} }
	at := it.ArrayOf(it.Int32)

	root, s := newRoot()
	packed := &it.ArrayLit{T: at}
	plain := &it.ArrayLit{T: at}
	for _, v := range want {
		packed.Elems = append(packed.Elems, i32(v))
		// a non-constant element forces element-wise stores
		plain.Elems = append(plain.Elems, bin(it.OpAdd, i32(v), i32(0)))
	}
	short := &it.ArrayLit{T: at, Elems: []it.Expr{i32(4), i32(0), i32(5)}}

	fPacked := s.AddFunc(it.NewFunction("packed", at))
	fPacked.Body.Append(&it.Return{Value: packed})
	fPlain := s.AddFunc(it.NewFunction("plain", at))
	fPlain.Body.Append(&it.Return{Value: plain})
	fShort := s.AddFunc(it.NewFunction("short", at))
	fShort.Body.Append(&it.Return{Value: short})
	mod := compile(t, Config{}, root)

	tests := []struct {
		f       *it.Function
		want    []int32
		blobs   int
		stelems int
	}{
		{fPacked, want, 1, 3},
		{fPlain, want, 0, len(want)},
		{fShort, []int32{4, 0, 5}, 0, 3},
	}
	for _, tt := range tests {
		t.Run(tt.f.Name, func(t *testing.T) {
			md := methodOf(t, tt.f)
			if got := countOps(md, bytecode.OINITBLOB); got != tt.blobs {
				t.Errorf("%d initblob instructions, want %d", got, tt.blobs)
			}
			if got := countOps(md, bytecode.OSTELEM); got != tt.stelems {
				t.Errorf("%d stelem instructions, want %d", got, tt.stelems)
			}
			v := mustRun(t, mod, tt.f)
			arr, ok := v.(*host.Array)
			if !ok {
				t.Fatalf("result is %T, want *host.Array", v)
			}
			if len(arr.Data) != len(tt.want) {
				t.Fatalf("length %d, want %d", len(arr.Data), len(tt.want))
			}
			for i, w := range tt.want {
				if arr.Data[i] != w {
					t.Errorf("[%d] = %v (%T), want %d", i, arr.Data[i], arr.Data[i], w)
				}
			}
		})
	}
}

func TestFloatComparisons(t *testing.T) {
	ops := []it.BinOp{it.OpEq, it.OpNe, it.OpLt, it.OpLe, it.OpGt, it.OpGe}
	eval := func(op it.BinOp, a, b float64) bool {
		switch op {
		case it.OpEq:
			return a == b
		case it.OpNe:
			return a != b
		case it.OpLt:
			return a < b
		case it.OpLe:
			return a <= b
		case it.OpGt:
			return a > b
		}
		return a >= b
	}

	type variant struct {
		op     it.BinOp
		negate bool
		f      *it.Function
	}
	root, s := newRoot()
	var vs []variant
	for _, op := range ops {
		for _, negate := range []bool{false, true} {
			a, b := param("a", it.Float64), param("b", it.Float64)
			var cond it.Expr = bin(op, pref(a), pref(b))
			if negate {
				cond = &it.Unary{Op: it.OpNot, X: cond}
			}
			value := s.AddFunc(it.NewFunction(fmt.Sprintf("value%d_%t", op, negate), it.Bool, a, b))
			value.Body.Append(&it.Return{Value: cond})
			vs = append(vs, variant{op, negate, value})

			a, b = param("a", it.Float64), param("b", it.Float64)
			cond = bin(op, pref(a), pref(b))
			if negate {
				cond = &it.Unary{Op: it.OpNot, X: cond}
			}
			branch := s.AddFunc(it.NewFunction(fmt.Sprintf("branch%d_%t", op, negate), it.Bool, a, b))
			branch.Body.Append(
				&it.If{Cond: cond, Then: block(&it.Return{Value: it.BoolConst(true)})},
				&it.Return{Value: it.BoolConst(false)},
			)
			vs = append(vs, variant{op, negate, branch})
		}
	}
	mod := compile(t, Config{}, root)

	nan := math.NaN()
	inputs := [][2]float64{{1, 2}, {2, 1}, {1, 1}, {nan, 1}, {1, nan}, {nan, nan}}
	for _, v := range vs {
		for _, in := range inputs {
			want := eval(v.op, in[0], in[1]) != v.negate
			got := mustRun(t, mod, v.f, in[0], in[1])
			if got != want {
				t.Errorf("%s(%v, %v) = %v, want %v", v.f.Name, in[0], in[1], got, want)
			}
		}
	}
}

func TestExceptionDispatchOrder(t *testing.T) {
	im := it.NewImporter()
	overflow := im.Import(host.OverflowType)
	divide := im.Import(host.DivideByZeroType)

	root, s := newRoot()
	sel := param("sel", it.Int)
	f := s.AddFunc(it.NewFunction("classify", it.Int, sel))
	ret := func(v int64) *it.Block { return block(&it.Return{Value: it.IntConst(v)}) }
	is := func(v int64) it.Expr { return bin(it.OpEq, pref(sel), it.IntConst(v)) }
	body := block(
		&it.If{Cond: is(-1), Then: block(&it.Return{Value: bin(it.OpAdd, it.IntConst(math.MaxInt64), it.IntConst(1))})},
		&it.If{Cond: is(-2), Then: block(&it.Return{Value: bin(it.OpDiv, it.IntConst(1), bin(it.OpAdd, pref(sel), it.IntConst(2)))})},
		&it.Throw{Code: pref(sel)},
	)
	f.Body.Append(&it.Try{
		Body: body,
		Handlers: []*it.Handler{
			{Typed: overflow, Body: ret(100)},
			{Ranges: []it.CodeRange{it.Between(1, 5)}, Body: ret(200)},
			{Ranges: []it.CodeRange{it.Code(10)}, Body: ret(300)},
			{Typed: divide, Body: ret(400)},
		},
	})
	mod := compile(t, Config{Importer: im}, root)

	md := methodOf(t, f)
	if got := len(md.Body.Handlers); got != 2 {
		t.Fatalf("%d handler regions, want 2", got)
	}
	if ct, ok := md.Body.Handlers[0].CatchType.(*bytecode.HostType); !ok || ct.Name != host.OverflowType.Name {
		t.Errorf("first region catches %v, want %s", md.Body.Handlers[0].CatchType, host.OverflowType.Name)
	}
	if ct, ok := md.Body.Handlers[1].CatchType.(*bytecode.HostType); !ok || ct.Name != host.ObjectType.Name {
		t.Errorf("second region catches %v, want %s", md.Body.Handlers[1].CatchType, host.ObjectType.Name)
	}

	for _, tt := range []struct{ sel, want int64 }{
		{-1, 100},
		{1, 200},
		{5, 200},
		{10, 300},
		{-2, 400},
	} {
		if got := mustRun(t, mod, f, tt.sel); got != tt.want {
			t.Errorf("classify(%d) = %v, want %d", tt.sel, got, tt.want)
		}
	}

	_, err := run(t, mod, f, int64(7))
	var exc *host.Exception
	if !errors.As(err, &exc) {
		t.Fatalf("classify(7) error = %v, want an exception", err)
	}
	if exc.Type != host.NumericExceptionType || exc.Code != 7 {
		t.Errorf("classify(7) raised %v, want numeric code 7", exc)
	}
}

func TestTryFinallyReturn(t *testing.T) {
	root, s := newRoot()
	g := s.AddGlobal(&it.GlobalVariable{Name: "log", Type: it.Int})
	p := param("p", it.Int)
	f := s.AddFunc(it.NewFunction("f", it.Int, p))
	f.Body.Append(&it.Try{
		Body: block(
			&it.If{Cond: bin(it.OpGt, pref(p), it.IntConst(0)), Then: block(&it.Return{Value: pref(p)})},
			&it.Throw{Code: it.IntConst(3)},
		),
		Handlers: []*it.Handler{{Body: block(&it.Return{Value: it.IntConst(-1)})}},
		Finally: block(&it.Assign{
			Target: &it.GlobalRef{Var: g},
			Value:  bin(it.OpAdd, &it.GlobalRef{Var: g}, it.IntConst(1)),
		}),
	})
	get := s.AddFunc(it.NewFunction("getLog", it.Int))
	get.Body.Append(&it.Return{Value: &it.GlobalRef{Var: g}})
	mod := compile(t, Config{}, root)

	m := vm.New(mod, vm.Config{})
	if err := m.Init(); err != nil {
		t.Fatal(err)
	}
	for _, tt := range []struct{ p, want int64 }{{4, 4}, {0, -1}} {
		got, err := m.Call(methodOf(t, f), tt.p)
		if err != nil {
			t.Fatalf("f(%d): %v", tt.p, err)
		}
		if got != tt.want {
			t.Errorf("f(%d) = %v, want %d", tt.p, got, tt.want)
		}
	}
	if got, err := m.Call(methodOf(t, get)); err != nil || got != int64(2) {
		t.Errorf("finally ran %v times (%v), want 2", got, err)
	}
}

func TestByRefArguments(t *testing.T) {
	root, s := newRoot()
	x := &it.Parameter{Name: "x", Type: it.Int, ByRef: true}
	inc := s.AddFunc(it.NewFunction("inc", nil, x))
	inc.Body.Append(&it.Assign{Target: pref(x), Value: bin(it.OpAdd, pref(x), it.IntConst(1))})

	call := func(arg it.Expr) it.Stmt { return &it.ExprStmt{X: &it.Call{Func: inc, Args: []it.Expr{arg}}} }
	f := s.AddFunc(it.NewFunction("f", it.Int))
	v := f.Body.Declare(&it.LocalVariable{Name: "v", Type: it.Int})
	arr := f.Body.Declare(&it.LocalVariable{Name: "a", Type: it.ArrayOf(it.Int)})
	elem := &it.Index{Array: lref(arr), Indices: []it.Expr{it.IntConst(1)}}
	f.Body.Append(
		&it.VarDecl{Var: v, Init: it.IntConst(1)},
		&it.VarDecl{Var: arr, Init: &it.ArrayLit{T: it.ArrayOf(it.Int), Elems: []it.Expr{it.IntConst(1), it.IntConst(2)}}},
		call(lref(v)),
		// a value without storage is copied in and the write is dropped
		call(bin(it.OpAdd, lref(v), it.IntConst(0))),
		call(elem),
		&it.Return{Value: bin(it.OpAdd, bin(it.OpMul, lref(v), it.IntConst(100)), elem)},
	)
	mod := compile(t, Config{}, root)
	if got, want := mustRun(t, mod, f), int64(203); got != want {
		t.Errorf("f() = %v, want %v", got, want)
	}
}

func TestAbsWidth(t *testing.T) {
	root, s := newRoot()
	box := s.AddClass(it.NewClass("Box", it.KindClass))
	small := box.AddField(&it.Field{Name: "small", Type: it.Int16})
	wide := box.AddField(&it.Field{Name: "wide", Type: it.Int})

	absOf := func(name string, fld *it.Field, v int64) *it.Function {
		f := s.AddFunc(it.NewFunction(name, fld.Type))
		b := f.Body.Declare(&it.LocalVariable{Name: "b", Type: box.Type})
		f.Body.Append(
			&it.VarDecl{Var: b, Init: &it.New{T: box.Type}},
			&it.Assign{Target: it.FieldOf(lref(b), fld), Value: &it.Const{T: fld.Type, Value: v}},
			&it.Return{Value: &it.BuiltinCall{Recv: it.FieldOf(lref(b), fld), Name: "abs", T: fld.Type}},
		)
		return f
	}
	fSmall := absOf("absSmall", small, -5)
	fWide := absOf("absWide", wide, -7)
	mod := compile(t, Config{}, root)

	tests := []struct {
		f     *it.Function
		param bytecode.Type
		want  any
	}{
		{fSmall, bytecode.PrimOf(bytecode.KindInt16), int16(5)},
		{fWide, bytecode.PrimOf(bytecode.KindInt64), int64(7)},
	}
	for _, tt := range tests {
		t.Run(tt.f.Name, func(t *testing.T) {
			var abs *bytecode.HostMethod
			for _, in := range methodOf(t, tt.f).Body.Code {
				if hm, ok := in.Method.(*bytecode.HostMethod); ok && hm.Name == "Abs" {
					abs = hm
				}
			}
			if abs == nil {
				t.Fatal("no call to Abs")
			}
			if len(abs.Params) != 1 || abs.Params[0].Type != tt.param {
				t.Errorf("Abs takes %v, want %v", abs.Params, tt.param)
			}
			if got := mustRun(t, mod, tt.f); got != tt.want {
				t.Errorf("result %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestForwardReferences(t *testing.T) {
	root, s := newRoot()
	// Derived is declared before its base and the two refer to each other.
	derived := s.AddClass(it.NewClass("Derived", it.KindClass))
	base := s.AddClass(it.NewClass("Base", it.KindClass))
	derived.Type.Super = base.Type
	back := derived.AddField(&it.Field{Name: "back", Type: base.Type})
	base.AddField(&it.Field{Name: "next", Type: derived.Type})
	mk := base.AddFunc(it.NewFunction("make", derived.Type))
	mk.Body.Append(&it.Return{Value: &it.New{T: derived.Type}})

	f := s.AddFunc(it.NewFunction("f", it.Int))
	a := f.Body.Declare(&it.LocalVariable{Name: "a", Type: base.Type})
	d := f.Body.Declare(&it.LocalVariable{Name: "d", Type: derived.Type})
	f.Body.Append(
		&it.VarDecl{Var: a, Init: &it.New{T: base.Type}},
		&it.VarDecl{Var: d, Init: &it.Call{Func: mk, Recv: lref(a), T: derived.Type}},
		&it.Assign{Target: it.FieldOf(lref(d), back), Value: lref(a)},
		&it.Return{Value: &it.Cond{
			C:    &it.Is{X: it.FieldOf(lref(d), back), Target: derived.Type},
			Then: it.IntConst(2),
			Else: &it.Cond{C: &it.Is{X: lref(d), Target: base.Type}, Then: it.IntConst(1), Else: it.IntConst(0)},
		}},
	)
	mod := compile(t, Config{}, root)

	btd := base.Type.Record().Handle().(*bytecode.TypeDef)
	dtd := derived.Type.Record().Handle().(*bytecode.TypeDef)
	if dtd.Base != btd {
		t.Errorf("base of %v is %v, want %v", dtd, dtd.Base, btd)
	}
	for _, td := range []*bytecode.TypeDef{btd, dtd} {
		if !td.Finalized() {
			t.Errorf("%v is not finalized", td)
		}
	}
	if got := mustRun(t, mod, f); got != int64(1) {
		t.Errorf("f() = %v, want 1", got)
	}
}

func TestFinalizeWarnings(t *testing.T) {
	root, s := newRoot()
	shape := s.AddClass(it.NewClass("Shape", it.KindClass))
	area := shape.AddFunc(it.NewFunction("area", it.Float64))
	area.Abstract = true
	area.Body = nil

	leaf := s.AddClass(it.NewClass("Leaf", it.KindClass))
	leaf.Type.Sealed = true
	sub := s.AddClass(it.NewClass("Sub", it.KindClass))
	sub.Type.Super = leaf.Type
	subSub := s.AddClass(it.NewClass("SubSub", it.KindClass))
	subSub.Type.Super = sub.Type

	_, warnings, err := Compile(Config{ModuleName: "test"}, root)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	want := []string{"abstract method area", "is sealed", "not finalized"}
	if len(warnings) != len(want) {
		t.Fatalf("warnings = %q, want %d", warnings, len(want))
	}
	for _, w := range want {
		found := false
		for _, got := range warnings {
			found = found || strings.Contains(got, w)
		}
		if !found {
			t.Errorf("no warning mentions %q in %q", w, warnings)
		}
	}
	if td := leaf.Type.Record().Handle().(*bytecode.TypeDef); !td.Finalized() {
		t.Errorf("%v is not finalized", td)
	}
}

func TestConstructibility(t *testing.T) {
	root, s := newRoot()
	only := s.AddClass(it.NewClass("OnlyArgs", it.KindClass))
	only.AddFunc(it.NewFunction(it.CtorName, nil, param("n", it.Int)))
	both := s.AddClass(it.NewClass("Both", it.KindClass))
	both.AddFunc(it.NewFunction(it.CtorName, nil, param("n", it.Int)))
	both.AddFunc(it.NewFunction(it.CtorName, nil))
	none := s.AddClass(it.NewClass("None", it.KindClass))
	abstract := s.AddClass(it.NewClass("Abstract", it.KindClass))
	abstract.Type.Abstract = true
	abstract.AddFunc(it.NewFunction(it.CtorName, nil, param("n", it.Int)))
	compile(t, Config{}, root)

	for _, tt := range []struct {
		cl   *it.ClassEntity
		want bool
	}{{only, true}, {both, false}, {none, false}, {abstract, false}} {
		td := tt.cl.Type.Record().Handle().(*bytecode.TypeDef)
		if got := td.Flags&bytecode.TypeNotConstructible != 0; got != tt.want {
			t.Errorf("%s not constructible = %v, want %v", tt.cl.Name, got, tt.want)
		}
		if tt.cl == none && td.DefaultConstructor() == nil {
			t.Errorf("%s has no synthesized constructor", tt.cl.Name)
		}
	}
}

func TestPhaseOrder(t *testing.T) {
	c, err := New(Config{ModuleName: "test"})
	if err != nil {
		t.Fatal(err)
	}
	c.phase = phaseBodies
	if err := c.later(phaseBodies, func() error { return nil }); err != nil {
		t.Errorf("queueing for the running phase: %v", err)
	}
	err = c.later(phaseTypes, func() error { return nil })
	var ie *InternalError
	if !errors.As(err, &ie) {
		t.Errorf("queueing for a drained phase: %v, want *InternalError", err)
	}
}

func TestCompileTwice(t *testing.T) {
	root, _ := newRoot()
	c, err := New(Config{ModuleName: "test"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Compile(root); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Compile(root); err == nil {
		t.Error("second Compile succeeded")
	}
}

func TestEntryAndGlobals(t *testing.T) {
	root, s := newRoot()
	g := s.AddGlobal(&it.GlobalVariable{Name: "g", Type: it.Int, Init: it.IntConst(41)})
	main := s.AddFunc(it.NewFunction("main", it.Int))
	main.Body.Append(&it.Return{Value: bin(it.OpAdd, &it.GlobalRef{Var: g}, it.IntConst(1))})
	root.Entry = main
	mod := compile(t, Config{Version: "1.2.0"}, root)

	if mod.Entry != methodOf(t, main) {
		t.Errorf("entry = %v, want main", mod.Entry)
	}
	if len(mod.Inits) != 1 || mod.Inits[0].Name != "$init" {
		t.Errorf("inits = %v, want one $init", mod.Inits)
	}
	got, err := vm.New(mod, vm.Config{}).Run()
	if err != nil {
		t.Fatal(err)
	}
	if got != int64(42) {
		t.Errorf("Run() = %v, want 42", got)
	}
}

func TestAssertDebugOnly(t *testing.T) {
	build := func() (*it.Root, *it.Function) {
		root, s := newRoot()
		f := s.AddFunc(it.NewFunction("f", it.Int))
		f.Body.Append(
			&it.Assert{Cond: it.BoolConst(false), Message: "boom"},
			&it.Return{Value: it.IntConst(1)},
		)
		return root, f
	}
	root, f := build()
	mod := compile(t, Config{}, root)
	if got := mustRun(t, mod, f); got != int64(1) {
		t.Errorf("release f() = %v, want 1", got)
	}

	root, f = build()
	mod = compile(t, Config{Debug: true}, root)
	if _, err := run(t, mod, f); err == nil {
		t.Error("debug f() did not trap")
	}
}

func TestBadVersion(t *testing.T) {
	if _, err := New(Config{ModuleName: "test", Version: "not-a-version"}); err == nil {
		t.Error("New accepted an invalid version")
	}
}

func TestCaptureThis(t *testing.T) {
	root, s := newRoot()
	counter := s.AddClass(it.NewClass("Counter", it.KindClass))
	n := counter.AddField(&it.Field{Name: "n", Type: it.Int})
	get := counter.AddFunc(it.NewFunction("get", it.Int))
	inner := get.AddLocalFunc(get.Body, it.NewFunction("inner", it.Int))
	inner.Body.Append(&it.Return{Value: bin(it.OpAdd, it.FieldOf(&it.This{T: counter.Type}, n), it.IntConst(1))})
	get.Body.Append(&it.Return{Value: &it.Call{Func: inner, T: it.Int}})

	f := s.AddFunc(it.NewFunction("f", it.Int))
	c := f.Body.Declare(&it.LocalVariable{Name: "c", Type: counter.Type})
	f.Body.Append(
		&it.VarDecl{Var: c, Init: &it.New{T: counter.Type}},
		&it.Assign{Target: it.FieldOf(lref(c), n), Value: it.IntConst(41)},
		&it.Return{Value: &it.Call{Func: get, Recv: lref(c), T: it.Int}},
	)
	mod := compile(t, Config{}, root)

	if get.CapturedThis == nil {
		t.Fatal("receiver not captured")
	}
	if !inner.Captures {
		t.Error("inner does not capture")
	}
	if got := mustRun(t, mod, f); got != int64(42) {
		t.Errorf("f() = %v, want 42", got)
	}
}

func TestCaptureCatchInfo(t *testing.T) {
	im := it.NewImporter()
	numeric := im.Import(host.NumericExceptionType)
	code := numeric.Field(host.NumericExceptionType.Field("Code"))

	root, s := newRoot()
	f := s.AddFunc(it.NewFunction("f", it.Int))
	info := &it.LocalVariable{Name: "e", Type: numeric}
	g := f.AddLocalFunc(f.Body, it.NewFunction("g", it.Int))
	g.Body.Append(&it.Return{Value: bin(it.OpMul, &it.FieldRef{Recv: lref(info), Field: code, T: it.Int}, it.IntConst(2))})
	h := &it.Handler{
		Ranges: []it.CodeRange{it.Between(1, 10)},
		Info:   info,
		Body:   block(&it.Return{Value: &it.Call{Func: g, T: it.Int}}),
	}
	f.Body.Append(
		&it.Try{Body: block(&it.Throw{Code: it.IntConst(7)}), Handlers: []*it.Handler{h}},
		&it.Return{Value: it.IntConst(0)},
	)
	mod := compile(t, Config{Importer: im}, root)

	fld, ok := f.CapturedLocals[info]
	if !ok {
		t.Fatal("catch variable not captured")
	}
	if len(h.Body.Stmts) != 2 {
		t.Fatalf("handler body has %d statements, want 2", len(h.Body.Stmts))
	}
	a, ok := h.Body.Stmts[0].(*it.Assign)
	if !ok {
		t.Fatalf("handler starts with %T, want *it.Assign", h.Body.Stmts[0])
	}
	if fr, ok := a.Target.(*it.FieldRef); !ok || fr.Field != fld {
		t.Errorf("handler stores to %v, want the surrogate field", a.Target)
	}
	if got := mustRun(t, mod, f); got != int64(14) {
		t.Errorf("f() = %v, want 14", got)
	}
}

func TestGenericMembers(t *testing.T) {
	root, s := newRoot()
	box := s.AddClass(it.NewClass("Box", it.KindClass, "T"))
	tp := box.Type.Params[0]
	val := box.AddField(&it.Field{Name: "val", Type: tp})
	get := box.AddFunc(it.NewFunction("get", tp))
	get.Body.Append(&it.Return{Value: it.FieldOf(&it.This{T: box.Type}, val)})

	inst := it.Instantiate(box.Type, it.Int)
	mval := inst.Mutate(val)
	mget := inst.Mutate(get)
	if inst.Mutate(val) != mval {
		t.Fatal("Mutate returned a second view of the same field")
	}
	f := s.AddFunc(it.NewFunction("f", it.Int))
	b := f.Body.Declare(&it.LocalVariable{Name: "b", Type: inst})
	f.Body.Append(
		&it.VarDecl{Var: b, Init: &it.New{T: inst}},
		&it.Assign{Target: &it.FieldRef{Recv: lref(b), Field: mval, T: it.Int}, Value: it.IntConst(5)},
		&it.Return{Value: bin(it.OpAdd, &it.Call{Func: mget, Recv: lref(b), T: it.Int}, it.IntConst(1))},
	)
	mod := compile(t, Config{}, root)

	if _, ok := mget.Record().Handle().(*bytecode.MethodOn); !ok {
		t.Errorf("get resolved to %T, want *bytecode.MethodOn", mget.Record().Handle())
	}
	if _, ok := mval.Record().Handle().(*bytecode.FieldOn); !ok {
		t.Errorf("val resolved to %T, want *bytecode.FieldOn", mval.Record().Handle())
	}
	if got := mustRun(t, mod, f); got != int64(6) {
		t.Errorf("f() = %v, want 6", got)
	}
}

func TestHostGenericMethod(t *testing.T) {
	im := it.NewImporter()
	shape := host.FuncType(1)
	fn := im.Import(shape)
	inst := it.Instantiate(fn, it.Int, it.Int)
	invoke := inst.Mutate(fn.Func(shape.Method("Invoke")))

	root, s := newRoot()
	x := param("x", it.Int)
	double := s.AddFunc(it.NewFunction("double", it.Int, x))
	double.Body.Append(&it.Return{Value: bin(it.OpMul, pref(x), it.IntConst(2))})
	f := s.AddFunc(it.NewFunction("f", it.Int))
	ref := &it.FuncRef{Func: double, T: &it.FunctionType{Params: []it.FuncParam{{Type: it.Int}}, Return: it.Int}}
	f.Body.Append(&it.Return{Value: &it.Call{Func: invoke, Recv: ref, Args: []it.Expr{it.IntConst(21)}, T: it.Int}})
	mod := compile(t, Config{Importer: im}, root)

	hm, ok := invoke.Record().Handle().(*bytecode.HostMethod)
	if !ok {
		t.Fatalf("Invoke resolved to %T, want *bytecode.HostMethod", invoke.Record().Handle())
	}
	if _, ok := hm.Owner.(*bytecode.GenericInst); !ok {
		t.Errorf("Invoke is owned by %v, want the instantiation", hm.Owner)
	}
	if got := mustRun(t, mod, f); got != int64(42) {
		t.Errorf("f() = %v, want 42", got)
	}
}

func TestEnumOperators(t *testing.T) {
	root, s := newRoot()
	color := s.AddClass(it.NewClass("Color", it.KindEnum))
	red := color.AddField(&it.Field{Name: "Red", Type: color.Type, Static: true, Value: int64(1)})
	blue := color.AddField(&it.Field{Name: "Blue", Type: color.Type, Static: true, Value: int64(2)})
	lit := func(f *it.Field) *it.FieldRef { return it.FieldOf(nil, f) }

	less := s.AddFunc(it.NewFunction("less", it.Bool))
	less.Body.Append(&it.Return{Value: bin(it.OpLt, lit(red), lit(blue))})
	sum := s.AddFunc(it.NewFunction("sum", color.Type))
	sum.Body.Append(&it.Return{Value: bin(it.OpAdd, lit(red), lit(blue))})
	c := param("c", color.Type)
	pick := s.AddFunc(it.NewFunction("pick", it.Int, c))
	pick.Body.Append(
		&it.Switch{
			Value: pref(c),
			Cases: []*it.Case{
				{Values: []it.Expr{lit(red)}, Body: block(&it.Return{Value: it.IntConst(10)})},
				{Values: []it.Expr{lit(blue)}, Body: block(&it.Return{Value: it.IntConst(20)})},
			},
		},
		&it.Return{Value: it.IntConst(0)},
	)
	mod := compile(t, Config{}, root)

	td := color.Type.Record().Handle().(*bytecode.TypeDef)
	if td.Underlying == nil || td.Underlying.Kind != bytecode.KindInt64 {
		t.Errorf("Color is represented by %v, want int64", td.Underlying)
	}
	tests := []struct {
		f    *it.Function
		args []any
		want any
	}{
		{less, nil, true},
		{sum, nil, int64(3)},
		{pick, []any{int64(2)}, int64(20)},
		{pick, []any{int64(1)}, int64(10)},
		{pick, []any{int64(9)}, int64(0)},
	}
	for _, tt := range tests {
		if got := mustRun(t, mod, tt.f, tt.args...); got != tt.want {
			t.Errorf("%s%v = %v, want %v", tt.f.Name, tt.args, got, tt.want)
		}
	}
}

func TestEnumLiteralCoercion(t *testing.T) {
	root, s := newRoot()
	flag := s.AddClass(it.NewClass("Flag", it.KindEnum))
	flag.Type.Underlying = it.Int8
	neg := flag.AddField(&it.Field{Name: "Neg", Type: flag.Type, Static: true, Value: int64(-1)})
	wrap := flag.AddField(&it.Field{Name: "Wrap", Type: flag.Type, Static: true, Value: int64(200)})
	f := s.AddFunc(it.NewFunction("f", flag.Type))
	f.Body.Append(&it.Return{Value: it.FieldOf(nil, wrap)})
	mod := compile(t, Config{}, root)

	for _, tt := range []struct {
		f    *it.Field
		want int8
	}{{neg, -1}, {wrap, -56}} {
		fd, ok := tt.f.Record().Handle().(*bytecode.FieldDef)
		if !ok {
			t.Fatalf("%s has no field handle", tt.f.Name)
		}
		if !fd.Literal || fd.Value != tt.want {
			t.Errorf("%s = %v (%T), want literal %v", tt.f.Name, fd.Value, fd.Value, tt.want)
		}
	}
	if got := mustRun(t, mod, f); got != int8(-56) {
		t.Errorf("f() = %v (%T), want int8(-56)", got, got)
	}
}

func TestUnmatchedHostExceptionRethrown(t *testing.T) {
	root, s := newRoot()
	p := param("p", it.Int)
	f := s.AddFunc(it.NewFunction("f", it.Int, p))
	f.Body.Append(
		&it.Try{
			Body: block(&it.Return{Value: bin(it.OpDiv, it.IntConst(10), pref(p))}),
			Handlers: []*it.Handler{
				{Ranges: []it.CodeRange{it.Between(1, 5)}, Body: block(&it.Return{Value: it.IntConst(-1)})},
			},
		},
		&it.Return{Value: it.IntConst(0)},
	)
	mod := compile(t, Config{}, root)

	if got := mustRun(t, mod, f, int64(2)); got != int64(5) {
		t.Errorf("f(2) = %v, want 5", got)
	}
	_, err := run(t, mod, f, int64(0))
	var exc *host.Exception
	if !errors.As(err, &exc) {
		t.Fatalf("f(0) error = %v, want an exception", err)
	}
	if exc.Type != host.DivideByZeroType {
		t.Errorf("f(0) raised %v, want %s", exc, host.DivideByZeroType.Name)
	}
}

func TestIntComparisons(t *testing.T) {
	ops := []it.BinOp{it.OpEq, it.OpNe, it.OpLt, it.OpLe, it.OpGt, it.OpGe}
	eval := func(op it.BinOp, c int) bool {
		switch op {
		case it.OpEq:
			return c == 0
		case it.OpNe:
			return c != 0
		case it.OpLt:
			return c < 0
		case it.OpLe:
			return c <= 0
		case it.OpGt:
			return c > 0
		}
		return c >= 0
	}
	type variant struct {
		op     it.BinOp
		negate bool
		f      *it.Function
	}
	types := []struct {
		name   string
		t      it.Type
		inputs [][2]any
		cmp    func(a, b any) int
	}{
		{"int", it.Int, [][2]any{{int64(1), int64(2)}, {int64(2), int64(1)}, {int64(-3), int64(-3)}, {int64(-1), int64(1)}},
			func(a, b any) int { return cmpOf(a.(int64), b.(int64)) }},
		{"uint64", it.UInt64, [][2]any{{uint64(1), uint64(2)}, {uint64(math.MaxUint64), uint64(1)}, {uint64(7), uint64(7)}},
			func(a, b any) int { return cmpOf(a.(uint64), b.(uint64)) }},
	}
	for _, tt := range types {
		t.Run(tt.name, func(t *testing.T) {
			root, s := newRoot()
			var vs []variant
			for _, op := range ops {
				for _, negate := range []bool{false, true} {
					a, b := param("a", tt.t), param("b", tt.t)
					var cond it.Expr = bin(op, pref(a), pref(b))
					if negate {
						cond = &it.Unary{Op: it.OpNot, X: cond}
					}
					value := s.AddFunc(it.NewFunction(fmt.Sprintf("value%d_%t", op, negate), it.Bool, a, b))
					value.Body.Append(&it.Return{Value: cond})
					vs = append(vs, variant{op, negate, value})

					a, b = param("a", tt.t), param("b", tt.t)
					cond = bin(op, pref(a), pref(b))
					if negate {
						cond = &it.Unary{Op: it.OpNot, X: cond}
					}
					branch := s.AddFunc(it.NewFunction(fmt.Sprintf("branch%d_%t", op, negate), it.Bool, a, b))
					branch.Body.Append(
						&it.If{Cond: cond, Then: block(&it.Return{Value: it.BoolConst(true)})},
						&it.Return{Value: it.BoolConst(false)},
					)
					vs = append(vs, variant{op, negate, branch})
				}
			}
			mod := compile(t, Config{}, root)
			for _, v := range vs {
				for _, in := range tt.inputs {
					want := eval(v.op, tt.cmp(in[0], in[1])) != v.negate
					if got := mustRun(t, mod, v.f, in[0], in[1]); got != want {
						t.Errorf("%s(%v, %v) = %v, want %v", v.f.Name, in[0], in[1], got, want)
					}
				}
			}
		})
	}
}

func cmpOf[T int64 | uint64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func TestIfArms(t *testing.T) {
	root, s := newRoot()
	gt := func(p *it.Parameter) it.Expr { return bin(it.OpGt, pref(p), it.IntConst(0)) }
	p := param("p", it.Int)
	none := s.AddFunc(it.NewFunction("none", it.Int, p))
	none.Body.Append(&it.If{Cond: gt(p)}, &it.Return{Value: it.IntConst(1)})
	p = param("p", it.Int)
	elseOnly := s.AddFunc(it.NewFunction("elseOnly", it.Int, p))
	elseOnly.Body.Append(
		&it.If{Cond: gt(p), Else: block(&it.Return{Value: it.IntConst(2)})},
		&it.Return{Value: it.IntConst(1)},
	)
	p = param("p", it.Int)
	thenOnly := s.AddFunc(it.NewFunction("thenOnly", it.Int, p))
	thenOnly.Body.Append(
		&it.If{Cond: gt(p), Then: block(&it.Return{Value: it.IntConst(2)})},
		&it.Return{Value: it.IntConst(1)},
	)
	mod := compile(t, Config{}, root)

	branches := func(f *it.Function) int {
		md := methodOf(t, f)
		return countOps(md, bytecode.OBR) + countOps(md, bytecode.OBRTRUE) + countOps(md, bytecode.OBRFALSE)
	}
	tests := []struct {
		f        *it.Function
		branches int
		pos, neg int64
	}{
		{none, 0, 1, 1},
		{elseOnly, 1, 1, 2},
		{thenOnly, 1, 2, 1},
	}
	for _, tt := range tests {
		if got := branches(tt.f); got != tt.branches {
			t.Errorf("%s has %d branches, want %d", tt.f.Name, got, tt.branches)
		}
		if got := mustRun(t, mod, tt.f, int64(3)); got != tt.pos {
			t.Errorf("%s(3) = %v, want %d", tt.f.Name, got, tt.pos)
		}
		if got := mustRun(t, mod, tt.f, int64(-3)); got != tt.neg {
			t.Errorf("%s(-3) = %v, want %d", tt.f.Name, got, tt.neg)
		}
	}
}

type brokenType struct{ err error }

func (b brokenType) Finalize() error { return b.err }
func (brokenType) String() string { return "main@Broken" }

func TestFinalizeTypeErrors(t *testing.T) {
	c, err := New(Config{ModuleName: "test"})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.finalizeType(brokenType{&bytecode.TypeLoadError{Type: "main@Broken", Reason: "sealed base"}}); err != nil {
		t.Errorf("type load error: %v, want a warning", err)
	}
	if err := c.finalizeType(brokenType{bytecode.ErrBaseNotFinalized}); err != nil {
		t.Errorf("unfinalized base: %v, want a warning", err)
	}
	if len(c.Warnings) != 2 {
		t.Errorf("warnings = %q, want 2", c.Warnings)
	}
	err = c.finalizeType(brokenType{errors.New("corrupt")})
	var ie *InternalError
	if !errors.As(err, &ie) {
		t.Errorf("unexpected failure: %v, want *InternalError", err)
	}
}
