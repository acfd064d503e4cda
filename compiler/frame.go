package compiler

import "github.com/yvt/queen-compiler-sub002/bytecode"

// Frame tracks the local slots of the method being emitted. Named slots
// belong to source variables; temporaries are hidden helpers that can be
// released and reused by later code of the same type.
type Frame struct {
	g     *bytecode.Gen
	slots []FrameSlot
	free  map[bytecode.Type][]int
}

// FrameSlot is one allocated local.
type FrameSlot struct {
	Name  string
	Index int
	Type  bytecode.Type
	Temp  bool
}

// NewFrame returns a frame allocating locals through g.
func NewFrame(g *bytecode.Gen) *Frame {
	return &Frame{g: g, free: make(map[bytecode.Type][]int)}
}

// AllocLocal allocates a slot for a named variable.
func (f *Frame) AllocLocal(name string, t bytecode.Type) int {
	return f.alloc(name, t, false)
}

// AllocTemp allocates a hidden slot, reusing a released one of the same
// type when possible.
func (f *Frame) AllocTemp(t bytecode.Type) int {
	if idx := f.free[t]; len(idx) > 0 {
		i := idx[len(idx)-1]
		f.free[t] = idx[:len(idx)-1]
		return i
	}
	return f.alloc("", t, true)
}

// Release returns a temporary to the pool.
func (f *Frame) Release(i int) {
	s := f.slots[i]
	if !s.Temp {
		return
	}
	f.free[s.Type] = append(f.free[s.Type], i)
}

func (f *Frame) alloc(name string, t bytecode.Type, temp bool) int {
	label := name
	if temp {
		label = "$t"
	}
	i := f.g.DeclareLocal(t, label)
	f.slots = append(f.slots, FrameSlot{Name: name, Index: i, Type: t, Temp: temp})
	return i
}
