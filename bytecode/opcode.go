// Package bytecode provides the target module model for the Queen backend:
// a typed evaluation-stack instruction set with explicit exception regions,
// generic type and method instantiation, and by-reference parameters,
// together with its binary encoding.
package bytecode

// Op is a stack machine opcode.
type Op byte

const (
	ONOP Op = iota
	ODUP
	OPOP

	OLDCI  // push integer/bool constant of Inst.Kind
	OLDCR  // push float constant of Inst.Kind
	OLDSTR // push string constant
	OLDNULL

	OLDARG
	OLDARGA
	OSTARG
	OLDLOC
	OLDLOCA
	OSTLOC

	OLDFLD
	OLDFLDA
	OSTFLD
	OLDSFLD
	OLDSFLDA
	OSTSFLD

	OLDELEM  // Inst.Int = rank
	OLDELEMA // Inst.Int = rank
	OSTELEM  // Inst.Int = rank
	OLDLEN   // Inst.Int = dimension
	ONEWARR  // Inst.Type = element, Inst.Int = rank
	OINITBLOB

	OLDIND
	OSTIND

	OADD
	OSUB
	OMUL
	ODIV
	ODIVUN
	OREM
	OREMUN
	OADDOVF
	OSUBOVF
	OMULOVF
	OAND
	OOR
	OXOR
	OSHL
	OSHR
	OSHRUN
	ONEG
	ONOT

	OCEQ
	OCGT
	OCGTUN
	OCLT
	OCLTUN

	OBR
	OBRTRUE
	OBRFALSE
	OBEQ
	OBNEUN
	OBLT
	OBLTUN
	OBLE
	OBLEUN
	OBGT
	OBGTUN
	OBGE
	OBGEUN
	OLEAVE

	OCONV // Inst.Kind = target kind

	OCALL
	OCALLVIRT
	ONEWOBJ
	ORET
	ONEWDELEGATE // Inst.Type = delegate type, Inst.Method = target

	OBOX
	OUNBOXANY
	OISINST
	OCASTCLASS

	OTHROW
	ORETHROW
	OENDFINALLY

	numOps
)

// operandKind describes which Inst fields an opcode carries.
type operandKind byte

const (
	argNone operandKind = iota
	argIndex
	argConstI
	argConstR
	argString
	argBranch
	argType
	argTypeRank
	argMethod
	argField
	argKind
	argBlob
	argDelegate
)

var opInfo = [numOps]struct {
	name string
	arg  operandKind
}{
	ONOP: {"nop", argNone}, ODUP: {"dup", argNone}, OPOP: {"pop", argNone},
	OLDCI: {"ldc", argConstI}, OLDCR: {"ldc.r", argConstR},
	OLDSTR: {"ldstr", argString}, OLDNULL: {"ldnull", argNone},
	OLDARG: {"ldarg", argIndex}, OLDARGA: {"ldarga", argIndex}, OSTARG: {"starg", argIndex},
	OLDLOC: {"ldloc", argIndex}, OLDLOCA: {"ldloca", argIndex}, OSTLOC: {"stloc", argIndex},
	OLDFLD: {"ldfld", argField}, OLDFLDA: {"ldflda", argField}, OSTFLD: {"stfld", argField},
	OLDSFLD: {"ldsfld", argField}, OLDSFLDA: {"ldsflda", argField}, OSTSFLD: {"stsfld", argField},
	OLDELEM: {"ldelem", argIndex}, OLDELEMA: {"ldelema", argIndex}, OSTELEM: {"stelem", argIndex},
	OLDLEN: {"ldlen", argIndex}, ONEWARR: {"newarr", argTypeRank}, OINITBLOB: {"initblob", argBlob},
	OLDIND: {"ldind", argNone}, OSTIND: {"stind", argNone},
	OADD: {"add", argNone}, OSUB: {"sub", argNone}, OMUL: {"mul", argNone},
	ODIV: {"div", argNone}, ODIVUN: {"div.un", argNone},
	OREM: {"rem", argNone}, OREMUN: {"rem.un", argNone},
	OADDOVF: {"add.ovf", argNone}, OSUBOVF: {"sub.ovf", argNone}, OMULOVF: {"mul.ovf", argNone},
	OAND: {"and", argNone}, OOR: {"or", argNone}, OXOR: {"xor", argNone},
	OSHL: {"shl", argNone}, OSHR: {"shr", argNone}, OSHRUN: {"shr.un", argNone},
	ONEG: {"neg", argNone}, ONOT: {"not", argNone},
	OCEQ: {"ceq", argNone}, OCGT: {"cgt", argNone}, OCGTUN: {"cgt.un", argNone},
	OCLT: {"clt", argNone}, OCLTUN: {"clt.un", argNone},
	OBR: {"br", argBranch}, OBRTRUE: {"brtrue", argBranch}, OBRFALSE: {"brfalse", argBranch},
	OBEQ: {"beq", argBranch}, OBNEUN: {"bne.un", argBranch},
	OBLT: {"blt", argBranch}, OBLTUN: {"blt.un", argBranch},
	OBLE: {"ble", argBranch}, OBLEUN: {"ble.un", argBranch},
	OBGT: {"bgt", argBranch}, OBGTUN: {"bgt.un", argBranch},
	OBGE: {"bge", argBranch}, OBGEUN: {"bge.un", argBranch},
	OLEAVE: {"leave", argBranch},
	OCONV:  {"conv", argKind},
	OCALL:  {"call", argMethod}, OCALLVIRT: {"callvirt", argMethod}, ONEWOBJ: {"newobj", argMethod},
	ORET: {"ret", argNone}, ONEWDELEGATE: {"newdelegate", argDelegate},
	OBOX: {"box", argType}, OUNBOXANY: {"unbox.any", argType},
	OISINST: {"isinst", argType}, OCASTCLASS: {"castclass", argType},
	OTHROW: {"throw", argNone}, ORETHROW: {"rethrow", argNone}, OENDFINALLY: {"endfinally", argNone},
}

func (op Op) String() string {
	if op < numOps && opInfo[op].name != "" {
		return opInfo[op].name
	}
	return "???"
}

func (op Op) operand() operandKind {
	if op < numOps {
		return opInfo[op].arg
	}
	return argNone
}

// IsBranch reports whether the opcode takes a label target.
func (op Op) IsBranch() bool {
	return op.operand() == argBranch
}

// IsTerminator reports whether control never falls through op.
func (op Op) IsTerminator() bool {
	switch op {
	case OBR, OLEAVE, ORET, OTHROW, ORETHROW, OENDFINALLY:
		return true
	}
	return false
}
