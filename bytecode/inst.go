package bytecode

import (
	"fmt"
	"math"
	"strconv"
)

// Inst is a single stack machine instruction. Which operand fields are
// meaningful depends on Op.
type Inst struct {
	Op     Op
	Kind   Kind
	Int    int64 // constant, slot index, rank, or branch target
	Float  float64
	Str    string
	Type   Type
	Method Method
	Field  Field
	Blob   []byte
}

// Inst0 creates an instruction without operands.
func Inst0(op Op) Inst {
	return Inst{Op: op}
}

// InstN creates an instruction with an index or rank operand.
func InstN(op Op, n int) Inst {
	return Inst{Op: op, Int: int64(n)}
}

// ConstI loads the integer or boolean constant v of kind k. Unsigned values
// are passed by bit pattern.
func ConstI(k Kind, v int64) Inst {
	return Inst{Op: OLDCI, Kind: k, Int: v}
}

// ConstR loads the floating-point constant v of kind k.
func ConstR(k Kind, v float64) Inst {
	return Inst{Op: OLDCR, Kind: k, Float: v}
}

// ConstS loads a string constant.
func ConstS(s string) Inst {
	return Inst{Op: OLDSTR, Str: s}
}

// Conv converts the top of stack to kind k.
func Conv(k Kind) Inst {
	return Inst{Op: OCONV, Kind: k}
}

// InstT creates an instruction with a type operand.
func InstT(op Op, t Type) Inst {
	return Inst{Op: op, Type: t}
}

// NewArr allocates an array of elem with rank dimensions; the lengths are
// popped from the stack.
func NewArr(elem Type, rank int) Inst {
	return Inst{Op: ONEWARR, Type: elem, Int: int64(rank)}
}

// InstM creates a call-like instruction.
func InstM(op Op, m Method) Inst {
	return Inst{Op: op, Method: m}
}

// InstF creates a field access instruction.
func InstF(op Op, f Field) Inst {
	return Inst{Op: op, Field: f}
}

// InitBlob fills the array on top of the stack from a packed little-endian
// image of its elements.
func InitBlob(b []byte) Inst {
	return Inst{Op: OINITBLOB, Blob: b}
}

// NewDelegate binds the method m to the object on top of the stack (null for
// static methods) as a delegate of type t.
func NewDelegate(t Type, m Method) Inst {
	return Inst{Op: ONEWDELEGATE, Type: t, Method: m}
}

func (inst Inst) String() string {
	s := inst.Op.String()
	switch inst.Op.operand() {
	case argIndex:
		s += " " + strconv.FormatInt(inst.Int, 10)
	case argConstI:
		s += "." + inst.Kind.String() + " " + formatConst(inst.Kind, inst.Int)
	case argConstR:
		s += "." + inst.Kind.String() + " " + strconv.FormatFloat(inst.Float, 'g', -1, 64)
	case argString:
		s += " " + strconv.Quote(inst.Str)
	case argBranch:
		s += " " + strconv.FormatInt(inst.Int, 10)
	case argType:
		s += " " + typeString(inst.Type)
	case argTypeRank:
		s += " " + typeString(inst.Type) + ", " + strconv.FormatInt(inst.Int, 10)
	case argMethod:
		s += " " + methodString(inst.Method)
	case argField:
		if inst.Field == nil {
			s += " <nil>"
		} else {
			s += " " + inst.Field.String()
		}
	case argKind:
		s += "." + inst.Kind.String()
	case argBlob:
		s += fmt.Sprintf(" [%d bytes]", len(inst.Blob))
	case argDelegate:
		s += " " + typeString(inst.Type) + ", " + methodString(inst.Method)
	}
	return s
}

func formatConst(k Kind, v int64) string {
	switch {
	case k == KindBool:
		return strconv.FormatBool(v != 0)
	case k.IsUnsigned():
		return strconv.FormatUint(uint64(v), 10)
	}
	return strconv.FormatInt(v, 10)
}

func typeString(t Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}

func methodString(m Method) string {
	if m == nil {
		return "<nil>"
	}
	return m.String()
}

// floatBits and floatFromBits keep float constants exact across encoding.
func floatBits(f float64) uint64     { return math.Float64bits(f) }
func floatFromBits(u uint64) float64 { return math.Float64frombits(u) }
