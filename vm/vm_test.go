package vm

import (
	"errors"
	"math"
	"testing"

	"github.com/yvt/queen-compiler-sub002/bytecode"
	"github.com/yvt/queen-compiler-sub002/host"
)

// program builds static methods on one class.
type program struct {
	mod  *bytecode.Module
	prog *bytecode.TypeDef
}

func newProgram() *program {
	mod := bytecode.NewModule("test")
	prog := mod.DefineType("Prog", bytecode.KindClass, nil)
	prog.Base = mod.HostType("Object", 0)
	return &program{mod: mod, prog: prog}
}

func (p *program) static(name string, ret bytecode.Type, params ...bytecode.Param) (*bytecode.MethodDef, *bytecode.Gen) {
	md := p.prog.DefineMethod(name, bytecode.MethodStatic)
	md.SetSignature(ret, params...)
	return md, md.Gen()
}

func (p *program) hostCall(owner *host.Type, name string) *bytecode.HostMethod {
	var hm *host.Method
	for _, m := range owner.Methods {
		if m.Name == name {
			hm = m
			break
		}
	}
	return p.mod.HostMethod(owner.Ref(), hm.Name, hm.Static, hm.Arity, hm.Return, hm.Params...)
}

func end(t *testing.T, g *bytecode.Gen) {
	t.Helper()
	if err := g.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
}

func run(t *testing.T, p *program, md *bytecode.MethodDef, args ...any) any {
	t.Helper()
	got, err := New(p.mod, Config{}).Call(md, args...)
	if err != nil {
		t.Fatalf("Call %s: %v", md.Name, err)
	}
	return got
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		name string
		op   bytecode.Op
		a, b any
		want any
	}{
		{"add", bytecode.OADD, int64(2), int64(3), int64(5)},
		{"wrap", bytecode.OADD, int8(127), int8(1), int8(-128)},
		{"div.un", bytecode.ODIVUN, uint32(7), uint32(2), uint32(3)},
		{"rem", bytecode.OREM, int64(-7), int64(2), int64(-1)},
		{"fdiv", bytecode.ODIV, 1.0, 4.0, 0.25},
		{"shr.un", bytecode.OSHRUN, int8(-1), int64(4), int8(15)},
		{"sar", bytecode.OSHR, int8(-16), int64(2), int8(-4)},
		{"shl", bytecode.OSHL, uint8(0x81), int64(1), uint8(2)},
		{"xor", bytecode.OXOR, uint16(0xff00), uint16(0x0ff0), uint16(0xf0f0)},
	}
	for _, tt := range tests {
		got, err := arith(tt.op, tt.a, tt.b)
		if err != nil {
			t.Errorf("%s: %v", tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: got %v (%T), want %v (%T)", tt.name, got, got, tt.want, tt.want)
		}
	}
}

func TestArithmeticFaults(t *testing.T) {
	tests := []struct {
		name string
		op   bytecode.Op
		a, b any
		want *host.Type
	}{
		{"add.ovf", bytecode.OADDOVF, int64(math.MaxInt64), int64(1), host.OverflowType},
		{"sub.ovf", bytecode.OSUBOVF, int64(math.MinInt64), int64(1), host.OverflowType},
		{"mul.ovf", bytecode.OMULOVF, int64(1) << 62, int64(4), host.OverflowType},
		{"mul.ovf min", bytecode.OMULOVF, int64(math.MinInt64), int64(-1), host.OverflowType},
		{"div by zero", bytecode.ODIV, int32(1), int32(0), host.DivideByZeroType},
		{"rem by zero", bytecode.OREMUN, uint64(1), uint64(0), host.DivideByZeroType},
	}
	for _, tt := range tests {
		_, err := arith(tt.op, tt.a, tt.b)
		var exc *host.Exception
		if !errors.As(err, &exc) || exc.Type != tt.want {
			t.Errorf("%s: got %v, want %s", tt.name, err, tt.want.Name)
		}
	}
}

func TestRelationNaN(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		op   bytecode.Op
		want bool
	}{
		{bytecode.OCLT, false},
		{bytecode.OCGT, false},
		{bytecode.OCLTUN, true},
		{bytecode.OCGTUN, true},
	}
	for _, tt := range tests {
		got, err := relation(tt.op, nan, 1.0)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("%v NaN 1: got %v, want %v", tt.op, got, tt.want)
		}
	}
	if equal(nan, nan) {
		t.Errorf("ceq NaN NaN: got true")
	}
	// cgt.un on references is the non-null test
	if ok, _ := relation(bytecode.OCGTUN, "x", nil); !ok {
		t.Errorf("cgt.un \"x\" null: got false")
	}
	if ok, _ := relation(bytecode.OCGTUN, nil, nil); ok {
		t.Errorf("cgt.un null null: got true")
	}
}

func TestConvert(t *testing.T) {
	tests := []struct {
		v    any
		k    bytecode.Kind
		want any
	}{
		{int64(300), bytecode.KindUInt8, uint8(44)},
		{int8(-1), bytecode.KindUInt16, uint16(0xffff)},
		{uint8(255), bytecode.KindInt64, int64(255)},
		{3.9, bytecode.KindInt32, int32(3)},
		{-3.9, bytecode.KindInt64, int64(-3)},
		{int64(2), bytecode.KindFloat32, float32(2)},
		{uint64(math.MaxUint64), bytecode.KindFloat64, float64(math.MaxUint64)},
	}
	for _, tt := range tests {
		got, err := convert(tt.v, tt.k)
		if err != nil {
			t.Errorf("conv.%v %v: %v", tt.k, tt.v, err)
			continue
		}
		if got != tt.want {
			t.Errorf("conv.%v %v: got %v (%T), want %v (%T)", tt.k, tt.v, got, got, tt.want, tt.want)
		}
	}
}

func TestLoopAndLocals(t *testing.T) {
	p := newProgram()
	// sum of 1..n
	md, g := p.static("sum", bytecode.Int64, bytecode.Param{Name: "n", Type: bytecode.Int64})
	acc := g.DeclareLocal(bytecode.Int64, "acc")
	i := g.DeclareLocal(bytecode.Int64, "i")
	top, done := g.DefineLabel(), g.DefineLabel()
	g.Emit(bytecode.ConstI(bytecode.KindInt64, 1))
	g.Emit(bytecode.InstN(bytecode.OSTLOC, i))
	g.MarkLabel(top)
	g.Emit(bytecode.InstN(bytecode.OLDLOC, i))
	g.Emit(bytecode.InstN(bytecode.OLDARG, 0))
	g.Branch(bytecode.OBGT, done)
	g.Emit(bytecode.InstN(bytecode.OLDLOC, acc))
	g.Emit(bytecode.InstN(bytecode.OLDLOC, i))
	g.Op(bytecode.OADDOVF)
	g.Emit(bytecode.InstN(bytecode.OSTLOC, acc))
	g.Emit(bytecode.InstN(bytecode.OLDLOC, i))
	g.Emit(bytecode.ConstI(bytecode.KindInt64, 1))
	g.Op(bytecode.OADD)
	g.Emit(bytecode.InstN(bytecode.OSTLOC, i))
	g.Branch(bytecode.OBR, top)
	g.MarkLabel(done)
	g.Emit(bytecode.InstN(bytecode.OLDLOC, acc))
	g.Op(bytecode.ORET)
	end(t, g)

	if got := run(t, p, md, int64(10)); got != int64(55) {
		t.Errorf("sum(10): got %v, want 55", got)
	}
}

func TestInitBlob(t *testing.T) {
	p := newProgram()
	arr := p.mod.ArrayOf(bytecode.Int16, 1)
	md, g := p.static("lit", arr)
	g.Emit(bytecode.ConstI(bytecode.KindInt64, 3))
	g.Emit(bytecode.NewArr(bytecode.Int16, 1))
	g.Op(bytecode.ODUP)
	g.Emit(bytecode.InitBlob([]byte{0x01, 0x00, 0xff, 0xff, 0x00, 0x80}))
	g.Op(bytecode.ORET)
	end(t, g)

	a := run(t, p, md).(*host.Array)
	want := []any{int16(1), int16(-1), int16(math.MinInt16)}
	for i, w := range want {
		if a.Data[i] != w {
			t.Errorf("element %d: got %v, want %v", i, a.Data[i], w)
		}
	}
}

// TestFinallyOnLeave checks that leaving nested regions runs both finally
// handlers innermost first.
func TestFinallyOnLeave(t *testing.T) {
	p := newProgram()
	log := p.prog.DefineField("log", bytecode.Int64, true)
	md, g := p.static("f", bytecode.Int64)

	appendDigit := func(d int64) {
		g.Emit(bytecode.InstF(bytecode.OLDSFLD, log))
		g.Emit(bytecode.ConstI(bytecode.KindInt64, 10))
		g.Op(bytecode.OMUL)
		g.Emit(bytecode.ConstI(bytecode.KindInt64, d))
		g.Op(bytecode.OADD)
		g.Emit(bytecode.InstF(bytecode.OSTSFLD, log))
	}
	exit := g.DefineLabel()
	g.BeginTry()
	g.BeginTry()
	appendDigit(1)
	g.Branch(bytecode.OLEAVE, exit)
	if err := g.BeginFinally(); err != nil {
		t.Fatal(err)
	}
	appendDigit(2)
	if err := g.EndTry(); err != nil {
		t.Fatal(err)
	}
	appendDigit(9)
	if err := g.BeginFinally(); err != nil {
		t.Fatal(err)
	}
	appendDigit(3)
	if err := g.EndTry(); err != nil {
		t.Fatal(err)
	}
	g.MarkLabel(exit)
	g.Emit(bytecode.InstF(bytecode.OLDSFLD, log))
	g.Op(bytecode.ORET)
	end(t, g)

	if got := run(t, p, md); got != int64(123) {
		t.Errorf("got %v, want 123", got)
	}
}

// TestCatchAfterFinally throws inside a try/finally nested in a catch-all
// and checks the finally runs before the outer handler.
func TestCatchAfterFinally(t *testing.T) {
	p := newProgram()
	log := p.prog.DefineField("log", bytecode.Int64, true)
	ctor := p.hostCall(host.NumericExceptionType, bytecode.CtorName)
	code := p.mod.HostField(host.NumericExceptionType.Ref(), "Code", bytecode.Int64, false)
	md, g := p.static("f", bytecode.Int64)

	g.BeginTry()
	g.BeginTry()
	g.Emit(bytecode.ConstI(bytecode.KindInt64, 7))
	g.Emit(bytecode.ConstS("boom"))
	g.Emit(bytecode.InstM(bytecode.ONEWOBJ, ctor))
	g.Op(bytecode.OTHROW)
	if err := g.BeginFinally(); err != nil {
		t.Fatal(err)
	}
	g.Emit(bytecode.ConstI(bytecode.KindInt64, 100))
	g.Emit(bytecode.InstF(bytecode.OSTSFLD, log))
	if err := g.EndTry(); err != nil {
		t.Fatal(err)
	}
	if err := g.BeginCatch(host.ObjectType.Ref()); err != nil {
		t.Fatal(err)
	}
	g.Emit(bytecode.InstF(bytecode.OLDFLD, code))
	g.Emit(bytecode.InstF(bytecode.OLDSFLD, log))
	g.Op(bytecode.OADD)
	g.Emit(bytecode.InstF(bytecode.OSTSFLD, log))
	if err := g.EndTry(); err != nil {
		t.Fatal(err)
	}
	g.Emit(bytecode.InstF(bytecode.OLDSFLD, log))
	g.Op(bytecode.ORET)
	end(t, g)

	if got := run(t, p, md); got != int64(107) {
		t.Errorf("got %v, want 107", got)
	}
}

func TestUncaughtException(t *testing.T) {
	p := newProgram()
	md, g := p.static("f", bytecode.Int64)
	g.Emit(bytecode.ConstI(bytecode.KindInt64, 1))
	g.Emit(bytecode.ConstI(bytecode.KindInt64, 0))
	g.Op(bytecode.ODIV)
	g.Op(bytecode.ORET)
	end(t, g)

	_, err := New(p.mod, Config{}).Call(md)
	var exc *host.Exception
	if !errors.As(err, &exc) || exc.Type != host.DivideByZeroType {
		t.Fatalf("got %v, want DivideByZeroException", err)
	}
	if conv := host.ToExcpt(exc); conv == nil || conv.Code != host.CodeIntDivideByZero {
		t.Errorf("ToExcpt: got %v", conv)
	}
}

func TestVirtualDispatch(t *testing.T) {
	p := newProgram()
	object := p.mod.HostType("Object", 0)
	objCtor := p.hostCall(host.ObjectType, bytecode.CtorName)

	ctorBody := func(md *bytecode.MethodDef) {
		g := md.Gen()
		g.Emit(bytecode.InstN(bytecode.OLDARG, 0))
		g.Emit(bytecode.InstM(bytecode.OCALL, objCtor))
		g.Op(bytecode.ORET)
		end(t, g)
	}
	constBody := func(md *bytecode.MethodDef, v int64) {
		g := md.Gen()
		g.Emit(bytecode.ConstI(bytecode.KindInt64, v))
		g.Op(bytecode.ORET)
		end(t, g)
	}

	base := p.mod.DefineType("Base", bytecode.KindClass, nil)
	base.Base = object
	ctorBody(base.DefineConstructor())
	bf := base.DefineMethod("f", bytecode.MethodVirtual)
	bf.SetSignature(bytecode.Int64)
	constBody(bf, 1)

	derived := p.mod.DefineType("Derived", bytecode.KindClass, nil)
	derived.Base = base
	dctor := derived.DefineConstructor()
	ctorBody(dctor)
	df := derived.DefineMethod("f", bytecode.MethodVirtual)
	df.SetSignature(bytecode.Int64)
	df.Overrides = bf
	constBody(df, 2)

	for _, tt := range []struct {
		op   bytecode.Op
		want int64
	}{{bytecode.OCALLVIRT, 2}, {bytecode.OCALL, 1}} {
		md, g := p.static("f"+tt.op.String(), bytecode.Int64)
		g.Emit(bytecode.InstM(bytecode.ONEWOBJ, dctor))
		g.Emit(bytecode.InstM(tt.op, bf))
		g.Op(bytecode.ORET)
		end(t, g)
		if got := run(t, p, md); got != tt.want {
			t.Errorf("%v Base::f on Derived: got %v, want %d", tt.op, got, tt.want)
		}
	}

	md, g := p.static("cast", bytecode.Bool)
	g.Emit(bytecode.InstM(bytecode.ONEWOBJ, dctor))
	g.Emit(bytecode.InstT(bytecode.OISINST, base))
	g.Op(bytecode.OLDNULL)
	g.Op(bytecode.OCGTUN)
	g.Op(bytecode.ORET)
	end(t, g)
	if got := run(t, p, md); got != true {
		t.Errorf("Derived is Base: got %v", got)
	}
}

func TestCallDepth(t *testing.T) {
	p := newProgram()
	md, g := p.static("loop", nil)
	g.Emit(bytecode.InstM(bytecode.OCALL, md))
	g.Op(bytecode.ORET)
	end(t, g)

	_, err := New(p.mod, Config{MaxDepth: 32}).Call(md)
	if err == nil {
		t.Fatal("unbounded recursion returned no error")
	}
	var exc *host.Exception
	if errors.As(err, &exc) {
		t.Errorf("depth error is a program exception: %v", err)
	}
}
