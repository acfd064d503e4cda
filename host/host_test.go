package host

import (
	"bufio"
	"bytes"
	"errors"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"testing"

	"golang.org/x/tools/txtar"

	"github.com/yvt/queen-compiler-sub002/bytecode"
)

const parseCases = `
Each line of ints.txt is: input value ok.
-- ints.txt --
0 0 true
-42 -42 true
16#FF 255 true
2#1010 10 true
36#z 35 true
-16#10 -16 true
16#FFFFFFFFFFFFFFFF -1 true
1#0 0 false
-1#0 0 false
0#0 0 false
37#1 0 false
10#12a 0 false
abc 0 false
-- floats.txt --
1.5 1.5 true
-0.25 -0.25 true
1e3 1000 true
x 0 false
`

func TestParse(t *testing.T) {
	ar := txtar.Parse([]byte(parseCases))
	for _, f := range ar.Files {
		sc := bufio.NewScanner(bytes.NewReader(f.Data))
		for sc.Scan() {
			fields := strings.Fields(sc.Text())
			if len(fields) != 3 {
				continue
			}
			wantOK := fields[2] == "true"
			switch f.Name {
			case "ints.txt":
				want, _ := strconv.ParseInt(fields[1], 10, 64)
				got, ok := ParseInt(fields[0])
				if ok != wantOK || ok && got != want {
					t.Errorf("ParseInt(%q) = %d, %v; want %d, %v", fields[0], got, ok, want, wantOK)
				}
			case "floats.txt":
				want, _ := strconv.ParseFloat(fields[1], 64)
				got, ok := ParseFloat(fields[0])
				if ok != wantOK || ok && got != want {
					t.Errorf("ParseFloat(%q) = %v, %v; want %v, %v", fields[0], got, ok, want, wantOK)
				}
			}
		}
	}
}

func TestPowWrap(t *testing.T) {
	tests := []struct {
		b, e, want int64
	}{
		{2, 10, 1024},
		{-3, 3, -27},
		{5, 0, 1},
		{2, -1, 0},
		{1, -5, 1},
		{-1, -3, -1},
		{-1, -4, 1},
	}
	for _, tt := range tests {
		if got := powWrap(tt.b, tt.e); got != tt.want {
			t.Errorf("powWrap(%d, %d) = %d, want %d", tt.b, tt.e, got, tt.want)
		}
	}
	if got := powWrap[uint8](2, 9); got != 0 {
		t.Errorf("powWrap[uint8](2, 9) = %d, want 0", got)
	}
}

func TestPowChecked(t *testing.T) {
	got, err := powChecked(3, 4)
	if err != nil || got.(int64) != 81 {
		t.Errorf("powChecked(3, 4) = %v, %v; want 81", got, err)
	}
	got, err = powChecked(-1, math.MaxInt64)
	if err != nil || got.(int64) != -1 {
		t.Errorf("powChecked(-1, max) = %v, %v; want -1", got, err)
	}
	_, err = powChecked(2, 63)
	var e *Exception
	if !errors.As(err, &e) || e.Type != OverflowType {
		t.Errorf("powChecked(2, 63) error = %v, want overflow", err)
	}
}

func TestMathAbs(t *testing.T) {
	abs := MathType.Method("Abs", bytecode.Int8)
	if abs == nil {
		t.Fatal("Math.Abs(int8) not registered")
	}
	got, err := abs.Impl(nil, []any{int8(-5)})
	if err != nil || got != int8(5) {
		t.Errorf("Abs(int8(-5)) = %v, %v", got, err)
	}
	_, err = abs.Impl(nil, []any{int8(math.MinInt8)})
	if e := ToExcpt(err); e == nil || e.Code != CodeIntOverflow {
		t.Errorf("Abs(min int8) error = %v, want overflow code", err)
	}
	if MathType.Method("Abs", bytecode.Float64) == nil {
		t.Error("Math.Abs(float64) not registered")
	}
}

func TestToExcpt(t *testing.T) {
	tests := []struct {
		in   any
		code int64
		ok   bool
	}{
		{Throw(DivideByZeroType, "x"), CodeIntDivideByZero, true},
		{Throw(NullReferenceType, "x"), CodeAccessViolation, true},
		{NewNumericException(0x1234, "user"), 0x1234, true},
		{Throw(IOExceptionType, "disk"), 0, false},
		{"not an exception", 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got := ToExcpt(tt.in)
		if (got != nil) != tt.ok {
			t.Errorf("ToExcpt(%v) = %v, want ok=%v", tt.in, got, tt.ok)
			continue
		}
		if got != nil && got.Code != tt.code {
			t.Errorf("ToExcpt(%v).Code = %#x, want %#x", tt.in, got.Code, tt.code)
		}
	}
}

func TestRuntimeToExcptReturnsNilInterface(t *testing.T) {
	m := RuntimeType.Method("ToExcpt")
	got, err := m.Impl(nil, []any{"x"})
	if err != nil || got != nil {
		t.Errorf("ToExcpt(non-exception) = %#v, %v; want untyped nil", got, err)
	}
}

type testEnv struct{ r *rand.Rand }

func (testEnv) Compare(a, b any) (int, error) {
	x, y := a.(int64), b.(int64)
	switch {
	case x < y:
		return -1, nil
	case x > y:
		return 1, nil
	}
	return 0, nil
}

func (e testEnv) Rand() *rand.Rand { return e.r }

func ints(vs ...int64) *Array {
	a := NewArray(bytecode.Int64, int64(0), len(vs))
	for i, v := range vs {
		a.Data[i] = v
	}
	return a
}

func TestArrayHelpers(t *testing.T) {
	env := testEnv{rand.New(rand.NewSource(1))}

	a := ints(3, 1, 2)
	if _, err := arraySort(env, []any{a}); err != nil {
		t.Fatal(err)
	}
	if got := ToStr(a.Data[0]) + ToStr(a.Data[1]) + ToStr(a.Data[2]); got != "123" {
		t.Errorf("sorted = %s, want 123", got)
	}
	arrayReverse(env, []any{a})
	if a.Data[0] != int64(3) {
		t.Errorf("reversed[0] = %v, want 3", a.Data[0])
	}

	sub, err := arraySub(env, []any{ints(1, 2, 3, 4), int64(1), int64(-1)})
	if err != nil {
		t.Fatal(err)
	}
	if n := sub.(*Array).Len(); n != 3 {
		t.Errorf("sub len = %d, want 3", n)
	}
	if _, err := arraySub(env, []any{ints(1), int64(0), int64(2)}); ToExcpt(err) == nil {
		t.Errorf("out of range sub error = %v", err)
	}

	cat, _ := arrayConcat(env, []any{ints(1), ints(2, 3)})
	c, err := CompareArrays(env, cat.(*Array), ints(1, 2, 3))
	if err != nil || c != 0 {
		t.Errorf("concat compares %d, %v; want equal", c, err)
	}
	if c, _ := CompareArrays(env, ints(1, 2), ints(1, 2, 0)); c != -1 {
		t.Errorf("prefix compares %d, want -1", c)
	}

	s := ints(1, 2, 3, 4, 5, 6, 7, 8)
	arrayShuffle(env, []any{s})
	sum := int64(0)
	for _, v := range s.Data {
		sum += v.(int64)
	}
	if sum != 36 {
		t.Errorf("shuffle lost elements: sum %d", sum)
	}
}

func TestArrayOffset(t *testing.T) {
	a := NewArray(bytecode.Int32, int32(0), 2, 3)
	off, err := a.Offset(1, 2)
	if err != nil || off != 5 {
		t.Errorf("Offset(1, 2) = %d, %v; want 5", off, err)
	}
	if _, err := a.Offset(2, 0); err == nil {
		t.Error("Offset(2, 0) succeeded")
	}
	if _, err := a.Offset(0); err == nil {
		t.Error("Offset with wrong rank succeeded")
	}
}

func TestStringHelpers(t *testing.T) {
	sub := StringType.Method("Substring")
	got, err := sub.Impl(nil, []any{"héllo", int64(1), int64(3)})
	if err != nil || got != "éll" {
		t.Errorf("Substring = %v, %v; want éll", got, err)
	}
	if _, err := sub.Impl(nil, []any{nil, int64(0), int64(0)}); ToExcpt(err) == nil {
		t.Errorf("Substring on null error = %v", err)
	}
	idx, _ := find(nil, []any{"abcabc", "c", int64(3)})
	if idx != int64(5) {
		t.Errorf("find = %v, want 5", idx)
	}
	idx, _ = find(nil, []any{"abc", "z", int64(0)})
	if idx != int64(-1) {
		t.Errorf("find missing = %v, want -1", idx)
	}
}

func TestDelegateShapes(t *testing.T) {
	if ActionType(9) != nil || FuncType(-1) != nil {
		t.Error("out of range shapes exist")
	}
	f := FuncType(2)
	if f.Name != "Func`3" || f.Arity != 3 || !f.Delegate {
		t.Errorf("FuncType(2) = %+v", f)
	}
	inv := f.Method("Invoke")
	if len(inv.Params) != 2 {
		t.Fatalf("Invoke has %d params, want 2", len(inv.Params))
	}
	if r, ok := inv.Return.(*bytecode.GenericParam); !ok || r.Index != 2 {
		t.Errorf("Invoke returns %v, want type argument 2", inv.Return)
	}
	if ActionType(0).Method("Invoke").Return != nil {
		t.Error("Action`0 returns a value")
	}
	reg := Standard()
	for _, name := range []string{"Object", "Runtime", "Math", "Action`8", "Func`9", "NumericException"} {
		if reg.Lookup(name) == nil {
			t.Errorf("Standard() lacks %s", name)
		}
	}
}

func TestPowName(t *testing.T) {
	for k, want := range map[bytecode.Kind]string{
		bytecode.KindInt8:   "PowInt8",
		bytecode.KindUInt64: "PowUInt64",
	} {
		if got := PowName(k); got != want {
			t.Errorf("PowName(%v) = %s, want %s", k, got, want)
		}
		if RuntimeType.Method(want) == nil {
			t.Errorf("Runtime.%s not registered", want)
		}
	}
}
