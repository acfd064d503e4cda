package bytecode

import (
	"encoding/binary"
	"fmt"
)

// Decode parses a module from its binary encoding. Host references are
// re-memoized, so decoding and re-encoding yields identical bytes.
func Decode(data []byte) (*Module, error) {
	r := &reader{data: data, pos: 0}

	magic, err := r.operand()
	if err != nil {
		return nil, fmt.Errorf("magic: %w", err)
	}
	if magic != Magic {
		return nil, fmt.Errorf("bad magic: %#x", magic)
	}
	name, err := r.readString()
	if err != nil {
		return nil, fmt.Errorf("module name: %w", err)
	}
	m := NewModule(name)
	version, err := r.readString()
	if err != nil {
		return nil, fmt.Errorf("version: %w", err)
	}
	if err := m.SetVersion(version); err != nil {
		return nil, err
	}
	ntypes, err := r.count()
	if err != nil {
		return nil, fmt.Errorf("type count: %w", err)
	}

	// Shells
	for i := 0; i < ntypes; i++ {
		if err := r.readShell(m); err != nil {
			return nil, fmt.Errorf("type %d: %w", i, err)
		}
	}

	d := &decoder{r: r, m: m}
	for _, td := range m.Types {
		if err := d.readDetails(td); err != nil {
			return nil, fmt.Errorf("type %s: %w", td, err)
		}
	}

	entry, err := d.methodRef()
	if err != nil {
		return nil, fmt.Errorf("entry: %w", err)
	}
	if entry != nil {
		md, ok := entry.(*MethodDef)
		if !ok {
			return nil, fmt.Errorf("entry: not a method definition")
		}
		m.Entry = md
	}
	ninits, err := r.count()
	if err != nil {
		return nil, fmt.Errorf("init count: %w", err)
	}
	for i := 0; i < ninits; i++ {
		ref, err := d.methodRef()
		if err != nil {
			return nil, fmt.Errorf("init %d: %w", i, err)
		}
		md, ok := ref.(*MethodDef)
		if !ok {
			return nil, fmt.Errorf("init %d: not a method definition", i)
		}
		m.Inits = append(m.Inits, md)
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%d trailing bytes", r.remaining())
	}
	return m, nil
}

func (r *reader) readShell(m *Module) error {
	name, err := r.readString()
	if err != nil {
		return err
	}
	kind, err := r.readByte()
	if err != nil {
		return err
	}
	flags, err := r.readByte()
	if err != nil {
		return err
	}
	enc, err := r.operand()
	if err != nil {
		return err
	}
	var enclosing *TypeDef
	if enc > 0 {
		if int(enc) > len(m.Types) {
			return fmt.Errorf("enclosing type %d defined later", enc-1)
		}
		enclosing = m.Types[enc-1]
	}
	params, err := r.readNames()
	if err != nil {
		return err
	}
	td := m.DefineType(name, TypeKind(kind), enclosing, params...)
	td.Flags = TypeFlags(flags)

	nfields, err := r.count()
	if err != nil {
		return err
	}
	for i := 0; i < nfields; i++ {
		fname, err := r.readString()
		if err != nil {
			return err
		}
		fflags, err := r.readByte()
		if err != nil {
			return err
		}
		f := td.DefineField(fname, nil, fflags&1 != 0)
		f.Literal = fflags&2 != 0
	}
	nmethods, err := r.count()
	if err != nil {
		return err
	}
	for i := 0; i < nmethods; i++ {
		mname, err := r.readString()
		if err != nil {
			return err
		}
		attrs, err := r.readByte()
		if err != nil {
			return err
		}
		mparams, err := r.readNames()
		if err != nil {
			return err
		}
		td.DefineMethod(mname, MethodAttrs(attrs), mparams...)
	}
	return nil
}

type decoder struct {
	r *reader
	m *Module
}

func (d *decoder) readDetails(td *TypeDef) error {
	base, err := d.typ()
	if err != nil {
		return fmt.Errorf("base: %w", err)
	}
	td.Base = base
	n, err := d.r.count()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		t, err := d.typ()
		if err != nil {
			return fmt.Errorf("interface %d: %w", i, err)
		}
		td.AddInterface(t)
	}
	uk, err := d.r.readByte()
	if err != nil {
		return err
	}
	if Kind(uk) != KindNone {
		td.Underlying = PrimOf(Kind(uk))
	}
	for _, f := range td.Fields {
		if f.Type, err = d.typ(); err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
		if f.Literal {
			if f.Value, err = d.literal(); err != nil {
				return fmt.Errorf("field %s: %w", f.Name, err)
			}
		}
	}
	for _, md := range td.Methods {
		if err := d.method(md); err != nil {
			return fmt.Errorf("method %s: %w", md.Name, err)
		}
	}
	return nil
}

func (d *decoder) def() (*TypeDef, error) {
	i, err := d.r.operand()
	if err != nil {
		return nil, err
	}
	if i < 0 || int(i) >= len(d.m.Types) {
		return nil, fmt.Errorf("type index %d out of range", i)
	}
	return d.m.Types[i], nil
}

func (d *decoder) methodDef() (*MethodDef, error) {
	td, err := d.def()
	if err != nil {
		return nil, err
	}
	i, err := d.r.operand()
	if err != nil {
		return nil, err
	}
	if i < 0 || int(i) >= len(td.Methods) {
		return nil, fmt.Errorf("method index %d out of range in %s", i, td)
	}
	return td.Methods[i], nil
}

func (d *decoder) typ() (Type, error) {
	tag, err := d.r.readByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagNone:
		return nil, nil
	case tagPrim:
		k, err := d.r.readByte()
		if err != nil {
			return nil, err
		}
		p := PrimOf(Kind(k))
		if p == nil {
			return nil, fmt.Errorf("bad primitive kind %d", k)
		}
		return p, nil
	case tagDef:
		return d.def()
	case tagHost:
		name, err := d.r.readString()
		if err != nil {
			return nil, err
		}
		arity, err := d.r.operand()
		if err != nil {
			return nil, err
		}
		return d.m.HostType(name, int(arity)), nil
	case tagArray:
		rank, err := d.r.operand()
		if err != nil {
			return nil, err
		}
		elem, err := d.typ()
		if err != nil {
			return nil, err
		}
		return d.m.ArrayOf(elem, int(rank)), nil
	case tagInst:
		def, err := d.typ()
		if err != nil {
			return nil, err
		}
		n, err := d.r.count()
		if err != nil {
			return nil, err
		}
		args := make([]Type, n)
		for i := range args {
			if args[i], err = d.typ(); err != nil {
				return nil, err
			}
		}
		return d.m.Instantiate(def, args...)
	case tagTypeParam:
		td, err := d.def()
		if err != nil {
			return nil, err
		}
		i, err := d.r.operand()
		if err != nil {
			return nil, err
		}
		if i < 0 || int(i) >= len(td.GenericParams) {
			return nil, fmt.Errorf("type parameter %d out of range in %s", i, td)
		}
		return td.GenericParams[i], nil
	case tagMethodParam:
		md, err := d.methodDef()
		if err != nil {
			return nil, err
		}
		i, err := d.r.operand()
		if err != nil {
			return nil, err
		}
		if i < 0 || int(i) >= len(md.GenericParams) {
			return nil, fmt.Errorf("method type parameter %d out of range in %s", i, md.Name)
		}
		return md.GenericParams[i], nil
	}
	return nil, fmt.Errorf("bad type tag %d", tag)
}

func (d *decoder) params() ([]Param, error) {
	n, err := d.r.count()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	ps := make([]Param, n)
	for i := range ps {
		if ps[i].Name, err = d.r.readString(); err != nil {
			return nil, err
		}
		b, err := d.r.readByte()
		if err != nil {
			return nil, err
		}
		ps[i].ByRef = b != 0
		if ps[i].Type, err = d.typ(); err != nil {
			return nil, err
		}
	}
	return ps, nil
}

func (d *decoder) methodRef() (Method, error) {
	tag, err := d.r.readByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case refNone:
		return nil, nil
	case refDef:
		return d.methodDef()
	case refOn:
		owner, err := d.typ()
		if err != nil {
			return nil, err
		}
		gi, ok := owner.(*GenericInst)
		if !ok {
			return nil, fmt.Errorf("method owner %s is not an instantiation", owner)
		}
		def, err := d.methodRef()
		if err != nil {
			return nil, err
		}
		return d.m.MethodOn(gi, def)
	case refInst:
		base, err := d.methodRef()
		if err != nil {
			return nil, err
		}
		n, err := d.r.count()
		if err != nil {
			return nil, err
		}
		args := make([]Type, n)
		for i := range args {
			if args[i], err = d.typ(); err != nil {
				return nil, err
			}
		}
		return d.m.InstantiateMethod(base, args...)
	case refHost:
		owner, err := d.typ()
		if err != nil {
			return nil, err
		}
		name, err := d.r.readString()
		if err != nil {
			return nil, err
		}
		static, err := d.r.readByte()
		if err != nil {
			return nil, err
		}
		arity, err := d.r.operand()
		if err != nil {
			return nil, err
		}
		ps, err := d.params()
		if err != nil {
			return nil, err
		}
		ret, err := d.typ()
		if err != nil {
			return nil, err
		}
		return d.m.HostMethod(owner, name, static != 0, int(arity), ret, ps...), nil
	}
	return nil, fmt.Errorf("bad method tag %d", tag)
}

func (d *decoder) fieldRef() (Field, error) {
	tag, err := d.r.readByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case refNone:
		return nil, nil
	case refDef:
		td, err := d.def()
		if err != nil {
			return nil, err
		}
		i, err := d.r.operand()
		if err != nil {
			return nil, err
		}
		if i < 0 || int(i) >= len(td.Fields) {
			return nil, fmt.Errorf("field index %d out of range in %s", i, td)
		}
		return td.Fields[i], nil
	case refOn:
		owner, err := d.typ()
		if err != nil {
			return nil, err
		}
		gi, ok := owner.(*GenericInst)
		if !ok {
			return nil, fmt.Errorf("field owner %s is not an instantiation", owner)
		}
		def, err := d.fieldRef()
		if err != nil {
			return nil, err
		}
		return d.m.FieldOn(gi, def)
	case refHost:
		owner, err := d.typ()
		if err != nil {
			return nil, err
		}
		name, err := d.r.readString()
		if err != nil {
			return nil, err
		}
		static, err := d.r.readByte()
		if err != nil {
			return nil, err
		}
		t, err := d.typ()
		if err != nil {
			return nil, err
		}
		return d.m.HostField(owner, name, t, static != 0), nil
	}
	return nil, fmt.Errorf("bad field tag %d", tag)
}

func (d *decoder) literal() (any, error) {
	k, err := d.r.readByte()
	if err != nil {
		return nil, err
	}
	bits, err := d.r.readLong()
	if err != nil {
		return nil, err
	}
	switch Kind(k) {
	case KindBool:
		return bits != 0, nil
	case KindInt8:
		return int8(bits), nil
	case KindInt16:
		return int16(bits), nil
	case KindInt32:
		return int32(bits), nil
	case KindInt64:
		return int64(bits), nil
	case KindUInt8:
		return uint8(bits), nil
	case KindUInt16:
		return uint16(bits), nil
	case KindUInt32:
		return uint32(bits), nil
	case KindUInt64:
		return bits, nil
	}
	return nil, fmt.Errorf("bad literal kind %d", k)
}

func (d *decoder) method(md *MethodDef) error {
	var err error
	if md.Params, err = d.params(); err != nil {
		return err
	}
	if md.Return, err = d.typ(); err != nil {
		return err
	}
	if md.Overrides, err = d.methodRef(); err != nil {
		return err
	}
	has, err := d.r.readByte()
	if err != nil {
		return err
	}
	if has == 0 {
		return nil
	}
	b := &Body{}
	nlocals, err := d.r.count()
	if err != nil {
		return err
	}
	for i := 0; i < nlocals; i++ {
		name, err := d.r.readString()
		if err != nil {
			return err
		}
		t, err := d.typ()
		if err != nil {
			return err
		}
		b.Locals = append(b.Locals, Local{Name: name, Type: t})
	}
	ncode, err := d.r.count()
	if err != nil {
		return err
	}
	b.Code = make([]Inst, ncode)
	for pc := range b.Code {
		if b.Code[pc], err = d.inst(); err != nil {
			return fmt.Errorf("pc %d: %w", pc, err)
		}
	}
	nh, err := d.r.count()
	if err != nil {
		return err
	}
	for i := 0; i < nh; i++ {
		var h Handler
		kind, err := d.r.readByte()
		if err != nil {
			return err
		}
		h.Kind = HandlerKind(kind)
		var vals [4]int32
		for j := range vals {
			if vals[j], err = d.r.operand(); err != nil {
				return err
			}
		}
		h.TryStart, h.TryEnd, h.Start, h.End = int(vals[0]), int(vals[1]), int(vals[2]), int(vals[3])
		if h.CatchType, err = d.typ(); err != nil {
			return err
		}
		b.Handlers = append(b.Handlers, h)
	}
	md.Body = b
	return nil
}

func (d *decoder) inst() (Inst, error) {
	op, err := d.r.readByte()
	if err != nil {
		return Inst{}, err
	}
	inst := Inst{Op: Op(op)}
	if inst.Op >= numOps {
		return inst, fmt.Errorf("bad opcode %d", op)
	}
	switch inst.Op.operand() {
	case argIndex, argBranch:
		v, err := d.r.operand()
		if err != nil {
			return inst, err
		}
		inst.Int = int64(v)
	case argConstI, argConstR:
		k, err := d.r.readByte()
		if err != nil {
			return inst, err
		}
		inst.Kind = Kind(k)
		bits, err := d.r.readLong()
		if err != nil {
			return inst, err
		}
		if inst.Op == OLDCR {
			inst.Float = floatFromBits(bits)
		} else {
			inst.Int = int64(bits)
		}
	case argString:
		n, err := d.r.count()
		if err != nil {
			return inst, err
		}
		b, err := d.r.readBytes(n)
		if err != nil {
			return inst, err
		}
		inst.Str = string(b)
	case argType:
		inst.Type, err = d.typ()
	case argTypeRank:
		v, err := d.r.operand()
		if err != nil {
			return inst, err
		}
		inst.Int = int64(v)
		inst.Type, err = d.typ()
		if err != nil {
			return inst, err
		}
	case argMethod:
		inst.Method, err = d.methodRef()
	case argField:
		inst.Field, err = d.fieldRef()
	case argKind:
		k, err := d.r.readByte()
		if err != nil {
			return inst, err
		}
		inst.Kind = Kind(k)
	case argBlob:
		n, err := d.r.count()
		if err != nil {
			return inst, err
		}
		if inst.Blob, err = d.r.readBytes(n); err != nil {
			return inst, err
		}
	case argDelegate:
		if inst.Type, err = d.typ(); err != nil {
			return inst, err
		}
		inst.Method, err = d.methodRef()
	}
	return inst, err
}

// reader wraps a byte slice with a position cursor.
type reader struct {
	data []byte
	pos  int
}

func (r *reader) remaining() int {
	return len(r.data) - r.pos
}

func (r *reader) readByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, fmt.Errorf("unexpected EOF at offset %d", r.pos)
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) readBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, fmt.Errorf("unexpected EOF: need %d bytes at offset %d", n, r.pos)
	}
	b := make([]byte, n)
	copy(b, r.data[r.pos:r.pos+n])
	r.pos += n
	return b, nil
}

// operand decodes a variable-length signed integer.
func (r *reader) operand() (int32, error) {
	c, err := r.readByte()
	if err != nil {
		return 0, err
	}
	switch c & 0xC0 {
	case 0x00:
		return int32(c), nil
	case 0x40:
		return int32(c) | ^int32(0x7F), nil
	case 0x80:
		c2, err := r.readByte()
		if err != nil {
			return 0, err
		}
		v := int32(c)
		if c&0x20 != 0 {
			v |= ^int32(0x3F)
		} else {
			v &= 0x3F
		}
		return v<<8 | int32(c2), nil
	default:
		rest, err := r.readBytes(3)
		if err != nil {
			return 0, err
		}
		v := int32(c)
		if c&0x20 != 0 {
			v |= ^int32(0x3F)
		} else {
			v &= 0x3F
		}
		return v<<24 | int32(rest[0])<<16 | int32(rest[1])<<8 | int32(rest[2]), nil
	}
}

// count reads a non-negative operand.
func (r *reader) count() (int, error) {
	n, err := r.operand()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative count %d at offset %d", n, r.pos)
	}
	return int(n), nil
}

// readLong reads an 8-byte big-endian value.
func (r *reader) readLong() (uint64, error) {
	b, err := r.readBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// readString reads a null-terminated string.
func (r *reader) readString() (string, error) {
	start := r.pos
	for r.pos < len(r.data) {
		if r.data[r.pos] == 0 {
			s := string(r.data[start:r.pos])
			r.pos++
			return s, nil
		}
		r.pos++
	}
	return "", fmt.Errorf("unterminated string at offset %d", start)
}

func (r *reader) readNames() ([]string, error) {
	n, err := r.count()
	if err != nil {
		return nil, err
	}
	var names []string
	for i := 0; i < n; i++ {
		s, err := r.readString()
		if err != nil {
			return nil, err
		}
		names = append(names, s)
	}
	return names, nil
}
