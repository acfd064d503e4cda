package bytecode

import (
	"bytes"
	"fmt"
	"io"
)

// Magic identifies an encoded module.
const Magic int32 = 0x0B17C0DE

// type reference tags
const (
	tagNone byte = iota
	tagPrim
	tagDef
	tagHost
	tagArray
	tagInst
	tagTypeParam
	tagMethodParam
)

// method and field reference tags
const (
	refNone byte = iota
	refDef
	refOn
	refInst
	refHost
)

// EncodeToBytes returns the binary encoding of m.
func (m *Module) EncodeToBytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode writes the module to w. All definitions are written as shells
// first so that references in signatures and code may point forward.
func (m *Module) Encode(w io.Writer) error {
	e := &encoder{m: m, index: make(map[*TypeDef]int32, len(m.Types))}
	for i, td := range m.Types {
		e.index[td] = int32(i)
	}

	encodeOperand(&e.buf, Magic)
	e.name(m.Name)
	if m.Version != nil {
		e.name(m.Version.Original())
	} else {
		e.name("")
	}
	encodeOperand(&e.buf, int32(len(m.Types)))

	// Shells
	for _, td := range m.Types {
		e.name(td.Name)
		e.buf.WriteByte(byte(td.Kind))
		e.buf.WriteByte(byte(td.Flags))
		if td.Enclosing != nil {
			encodeOperand(&e.buf, e.index[td.Enclosing]+1)
		} else {
			encodeOperand(&e.buf, 0)
		}
		e.names(td.GenericParams)
		encodeOperand(&e.buf, int32(len(td.Fields)))
		for _, f := range td.Fields {
			e.name(f.Name)
			var flags byte
			if f.Static {
				flags |= 1
			}
			if f.Literal {
				flags |= 2
			}
			e.buf.WriteByte(flags)
		}
		encodeOperand(&e.buf, int32(len(td.Methods)))
		for _, md := range td.Methods {
			e.name(md.Name)
			e.buf.WriteByte(byte(md.Attrs))
			e.names(md.GenericParams)
		}
	}

	// Details
	for _, td := range m.Types {
		if err := e.typ(td.Base); err != nil {
			return fmt.Errorf("type %s base: %w", td, err)
		}
		encodeOperand(&e.buf, int32(len(td.Interfaces)))
		for _, it := range td.Interfaces {
			if err := e.typ(it); err != nil {
				return fmt.Errorf("type %s interface: %w", td, err)
			}
		}
		if td.Underlying != nil {
			e.buf.WriteByte(byte(td.Underlying.Kind))
		} else {
			e.buf.WriteByte(byte(KindNone))
		}
		for _, f := range td.Fields {
			if err := e.typ(f.Type); err != nil {
				return fmt.Errorf("field %s: %w", f, err)
			}
			if f.Literal {
				if err := e.literal(f.Value); err != nil {
					return fmt.Errorf("field %s: %w", f, err)
				}
			}
		}
		for _, md := range td.Methods {
			if err := e.method(md); err != nil {
				return fmt.Errorf("method %s: %w", md, err)
			}
		}
	}

	if err := e.methodRef(methodOrNil(m.Entry)); err != nil {
		return fmt.Errorf("entry: %w", err)
	}
	encodeOperand(&e.buf, int32(len(m.Inits)))
	for _, md := range m.Inits {
		if err := e.methodRef(md); err != nil {
			return fmt.Errorf("init: %w", err)
		}
	}

	_, err := w.Write(e.buf.Bytes())
	return err
}

func methodOrNil(md *MethodDef) Method {
	if md == nil {
		return nil
	}
	return md
}

type encoder struct {
	m     *Module
	buf   bytes.Buffer
	index map[*TypeDef]int32
}

// name writes a null-terminated string.
func (e *encoder) name(s string) {
	e.buf.WriteString(s)
	e.buf.WriteByte(0)
}

func (e *encoder) names(ps []*GenericParam) {
	encodeOperand(&e.buf, int32(len(ps)))
	for _, p := range ps {
		e.name(p.Name)
	}
}

// str writes a length-prefixed string, which may contain NUL bytes.
func (e *encoder) str(s string) {
	encodeOperand(&e.buf, int32(len(s)))
	e.buf.WriteString(s)
}

func (e *encoder) defIndex(td *TypeDef) (int32, error) {
	i, ok := e.index[td]
	if !ok {
		return 0, fmt.Errorf("type %s not defined by module", td)
	}
	return i, nil
}

func (e *encoder) typ(t Type) error {
	switch t := t.(type) {
	case nil:
		e.buf.WriteByte(tagNone)
	case *Prim:
		e.buf.WriteByte(tagPrim)
		e.buf.WriteByte(byte(t.Kind))
	case *TypeDef:
		i, err := e.defIndex(t)
		if err != nil {
			return err
		}
		e.buf.WriteByte(tagDef)
		encodeOperand(&e.buf, i)
	case *HostType:
		e.buf.WriteByte(tagHost)
		e.name(t.Name)
		encodeOperand(&e.buf, int32(t.Arity))
	case *ArrayType:
		e.buf.WriteByte(tagArray)
		encodeOperand(&e.buf, int32(t.Rank))
		return e.typ(t.Elem)
	case *GenericInst:
		e.buf.WriteByte(tagInst)
		if err := e.typ(t.Def); err != nil {
			return err
		}
		encodeOperand(&e.buf, int32(len(t.Args)))
		for _, a := range t.Args {
			if err := e.typ(a); err != nil {
				return err
			}
		}
	case *GenericParam:
		if t.Method != nil {
			i, err := e.defIndex(t.Method.Owner)
			if err != nil {
				return err
			}
			e.buf.WriteByte(tagMethodParam)
			encodeOperand(&e.buf, i)
			encodeOperand(&e.buf, int32(methodIndex(t.Method)))
		} else {
			if t.Type == nil {
				return fmt.Errorf("unowned type parameter %s", t)
			}
			i, err := e.defIndex(t.Type)
			if err != nil {
				return err
			}
			e.buf.WriteByte(tagTypeParam)
			encodeOperand(&e.buf, i)
		}
		encodeOperand(&e.buf, int32(t.Index))
	default:
		return fmt.Errorf("unknown type handle %T", t)
	}
	return nil
}

func methodIndex(md *MethodDef) int {
	for i, x := range md.Owner.Methods {
		if x == md {
			return i
		}
	}
	return -1
}

func fieldIndex(fd *FieldDef) int {
	for i, x := range fd.Owner.Fields {
		if x == fd {
			return i
		}
	}
	return -1
}

func (e *encoder) params(ps []Param) error {
	encodeOperand(&e.buf, int32(len(ps)))
	for _, p := range ps {
		e.name(p.Name)
		if p.ByRef {
			e.buf.WriteByte(1)
		} else {
			e.buf.WriteByte(0)
		}
		if err := e.typ(p.Type); err != nil {
			return err
		}
	}
	return nil
}

func (e *encoder) methodRef(mt Method) error {
	switch mt := mt.(type) {
	case nil:
		e.buf.WriteByte(refNone)
	case *MethodDef:
		i, err := e.defIndex(mt.Owner)
		if err != nil {
			return err
		}
		e.buf.WriteByte(refDef)
		encodeOperand(&e.buf, i)
		encodeOperand(&e.buf, int32(methodIndex(mt)))
	case *MethodOn:
		e.buf.WriteByte(refOn)
		if err := e.typ(mt.Owner); err != nil {
			return err
		}
		return e.methodRef(mt.Def)
	case *MethodInst:
		e.buf.WriteByte(refInst)
		if err := e.methodRef(mt.Method); err != nil {
			return err
		}
		encodeOperand(&e.buf, int32(len(mt.Args)))
		for _, a := range mt.Args {
			if err := e.typ(a); err != nil {
				return err
			}
		}
	case *HostMethod:
		e.buf.WriteByte(refHost)
		if err := e.typ(mt.Owner); err != nil {
			return err
		}
		e.name(mt.Name)
		if mt.Static {
			e.buf.WriteByte(1)
		} else {
			e.buf.WriteByte(0)
		}
		encodeOperand(&e.buf, int32(mt.Arity))
		if err := e.params(mt.Params); err != nil {
			return err
		}
		return e.typ(mt.Return)
	default:
		return fmt.Errorf("unknown method handle %T", mt)
	}
	return nil
}

func (e *encoder) fieldRef(f Field) error {
	switch f := f.(type) {
	case nil:
		e.buf.WriteByte(refNone)
	case *FieldDef:
		i, err := e.defIndex(f.Owner)
		if err != nil {
			return err
		}
		e.buf.WriteByte(refDef)
		encodeOperand(&e.buf, i)
		encodeOperand(&e.buf, int32(fieldIndex(f)))
	case *FieldOn:
		e.buf.WriteByte(refOn)
		if err := e.typ(f.Owner); err != nil {
			return err
		}
		return e.fieldRef(f.Def)
	case *HostField:
		e.buf.WriteByte(refHost)
		if err := e.typ(f.Owner); err != nil {
			return err
		}
		e.name(f.Name)
		if f.Static {
			e.buf.WriteByte(1)
		} else {
			e.buf.WriteByte(0)
		}
		return e.typ(f.Type)
	default:
		return fmt.Errorf("unknown field handle %T", f)
	}
	return nil
}

func (e *encoder) literal(v any) error {
	var k Kind
	var bits uint64
	switch v := v.(type) {
	case bool:
		k = KindBool
		if v {
			bits = 1
		}
	case int8:
		k, bits = KindInt8, uint64(v)
	case int16:
		k, bits = KindInt16, uint64(v)
	case int32:
		k, bits = KindInt32, uint64(v)
	case int64:
		k, bits = KindInt64, uint64(v)
	case uint8:
		k, bits = KindUInt8, uint64(v)
	case uint16:
		k, bits = KindUInt16, uint64(v)
	case uint32:
		k, bits = KindUInt32, uint64(v)
	case uint64:
		k, bits = KindUInt64, v
	default:
		return fmt.Errorf("literal of type %T", v)
	}
	e.buf.WriteByte(byte(k))
	encodeLong(&e.buf, bits)
	return nil
}

func (e *encoder) method(md *MethodDef) error {
	if err := e.params(md.Params); err != nil {
		return err
	}
	if err := e.typ(md.Return); err != nil {
		return err
	}
	if err := e.methodRef(md.Overrides); err != nil {
		return err
	}
	if md.Body == nil {
		e.buf.WriteByte(0)
		return nil
	}
	e.buf.WriteByte(1)
	b := md.Body
	encodeOperand(&e.buf, int32(len(b.Locals)))
	for _, l := range b.Locals {
		e.name(l.Name)
		if err := e.typ(l.Type); err != nil {
			return err
		}
	}
	encodeOperand(&e.buf, int32(len(b.Code)))
	for pc, inst := range b.Code {
		if err := e.inst(inst); err != nil {
			return fmt.Errorf("pc %d: %w", pc, err)
		}
	}
	encodeOperand(&e.buf, int32(len(b.Handlers)))
	for _, h := range b.Handlers {
		e.buf.WriteByte(byte(h.Kind))
		encodeOperand(&e.buf, int32(h.TryStart))
		encodeOperand(&e.buf, int32(h.TryEnd))
		encodeOperand(&e.buf, int32(h.Start))
		encodeOperand(&e.buf, int32(h.End))
		if err := e.typ(h.CatchType); err != nil {
			return err
		}
	}
	return nil
}

// inst writes op, then the operands its operandKind names.
func (e *encoder) inst(inst Inst) error {
	e.buf.WriteByte(byte(inst.Op))
	switch inst.Op.operand() {
	case argIndex, argBranch:
		encodeOperand(&e.buf, int32(inst.Int))
	case argConstI:
		e.buf.WriteByte(byte(inst.Kind))
		encodeLong(&e.buf, uint64(inst.Int))
	case argConstR:
		e.buf.WriteByte(byte(inst.Kind))
		encodeLong(&e.buf, floatBits(inst.Float))
	case argString:
		e.str(inst.Str)
	case argType:
		return e.typ(inst.Type)
	case argTypeRank:
		encodeOperand(&e.buf, int32(inst.Int))
		return e.typ(inst.Type)
	case argMethod:
		return e.methodRef(inst.Method)
	case argField:
		return e.fieldRef(inst.Field)
	case argKind:
		e.buf.WriteByte(byte(inst.Kind))
	case argBlob:
		encodeOperand(&e.buf, int32(len(inst.Blob)))
		e.buf.Write(inst.Blob)
	case argDelegate:
		if err := e.typ(inst.Type); err != nil {
			return err
		}
		return e.methodRef(inst.Method)
	}
	return nil
}

// encodeOperand writes a variable-length encoded signed integer.
//
//	[-64, 63]         → 1 byte  (bits 7-6 = 00 or 01)
//	[-8192, 8191]     → 2 bytes (bits 7-6 = 10)
//	[-2^29, 2^29 - 1] → 4 bytes (bits 7-6 = 11)
func encodeOperand(buf *bytes.Buffer, val int32) {
	if val >= -64 && val <= 63 {
		buf.WriteByte(byte(val) &^ 0x80)
		return
	}
	if val >= -8192 && val <= 8191 {
		buf.WriteByte(byte(val>>8)&^0xC0 | 0x80)
		buf.WriteByte(byte(val))
		return
	}
	buf.WriteByte(byte(val>>24) | 0xC0)
	buf.WriteByte(byte(val >> 16))
	buf.WriteByte(byte(val >> 8))
	buf.WriteByte(byte(val))
}

// encodeLong writes an 8-byte big-endian value.
func encodeLong(buf *bytes.Buffer, val uint64) {
	for shift := 56; shift >= 0; shift -= 8 {
		buf.WriteByte(byte(val >> uint(shift)))
	}
}
