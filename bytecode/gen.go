package bytecode

import (
	"errors"
	"fmt"
)

// Label is a forward-referenceable code position within one body.
type Label int

var (
	// ErrRetInRegion reports a ret inside a protected region or handler;
	// such code must leave to a label outside the region instead.
	ErrRetInRegion = errors.New("ret inside exception region")

	errNoTry = errors.New("no open exception block")
)

// Gen builds a method body. Branch operands refer to labels until End
// resolves them to instruction indices.
type Gen struct {
	md     *MethodDef
	body   *Body
	labels []int
	fixups []int
	tries  []*tryBlock
}

type tryBlock struct {
	start   int
	tryEnd  int
	end     Label
	open    *Handler
	done    []Handler
	finally bool
}

// Gen starts a fresh body for md.
func (md *MethodDef) Gen() *Gen {
	md.Body = &Body{}
	return &Gen{md: md, body: md.Body}
}

// Method returns the method being built.
func (g *Gen) Method() *MethodDef { return g.md }

// PC returns the index of the next instruction.
func (g *Gen) PC() int { return len(g.body.Code) }

// Last returns the most recently emitted instruction, if any.
func (g *Gen) Last() (Inst, bool) {
	if len(g.body.Code) == 0 {
		return Inst{}, false
	}
	return g.body.Code[len(g.body.Code)-1], true
}

// DeclareLocal allocates a local slot.
func (g *Gen) DeclareLocal(t Type, name string) int {
	g.body.Locals = append(g.body.Locals, Local{Name: name, Type: t})
	return len(g.body.Locals) - 1
}

// DefineLabel creates an unplaced label.
func (g *Gen) DefineLabel() Label {
	g.labels = append(g.labels, -1)
	return Label(len(g.labels) - 1)
}

// MarkLabel places l at the next instruction.
func (g *Gen) MarkLabel(l Label) {
	g.labels[l] = len(g.body.Code)
}

// Emit appends inst.
func (g *Gen) Emit(inst Inst) {
	if inst.Op.IsBranch() {
		g.fixups = append(g.fixups, len(g.body.Code))
	}
	g.body.Code = append(g.body.Code, inst)
}

// Op appends an operand-less instruction.
func (g *Gen) Op(op Op) { g.Emit(Inst0(op)) }

// Branch appends a branch to l.
func (g *Gen) Branch(op Op, l Label) {
	g.Emit(Inst{Op: op, Int: int64(l)})
}

// BeginTry opens a protected region and returns the label placed after the
// whole exception block.
func (g *Gen) BeginTry() Label {
	tb := &tryBlock{start: g.PC(), tryEnd: -1, end: g.DefineLabel()}
	g.tries = append(g.tries, tb)
	return tb.end
}

// closeRegion ends the try body or the current catch clause.
func (g *Gen) closeRegion(tb *tryBlock) {
	g.Branch(OLEAVE, tb.end)
	if tb.tryEnd < 0 {
		tb.tryEnd = g.PC()
	}
	if tb.open != nil {
		tb.open.End = g.PC()
		tb.done = append(tb.done, *tb.open)
		tb.open = nil
	}
}

// BeginCatch starts a catch clause for exceptions assignable to t. On entry
// the exception object is on the stack.
func (g *Gen) BeginCatch(t Type) error {
	if len(g.tries) == 0 {
		return errNoTry
	}
	tb := g.tries[len(g.tries)-1]
	if tb.finally {
		return fmt.Errorf("catch after finally in %s", g.md)
	}
	g.closeRegion(tb)
	tb.open = &Handler{Kind: HandlerCatch, TryStart: tb.start, TryEnd: tb.tryEnd, Start: g.PC(), CatchType: t}
	return nil
}

// BeginFinally starts the finally clause. It protects the try body and all
// catch clauses emitted so far.
func (g *Gen) BeginFinally() error {
	if len(g.tries) == 0 {
		return errNoTry
	}
	tb := g.tries[len(g.tries)-1]
	if tb.finally {
		return fmt.Errorf("second finally in %s", g.md)
	}
	g.closeRegion(tb)
	tb.finally = true
	tb.open = &Handler{Kind: HandlerFinally, TryStart: tb.start, TryEnd: g.PC(), Start: g.PC()}
	return nil
}

// EndTry closes the exception block and places its end label.
func (g *Gen) EndTry() error {
	if len(g.tries) == 0 {
		return errNoTry
	}
	tb := g.tries[len(g.tries)-1]
	g.tries = g.tries[:len(g.tries)-1]
	if tb.open == nil {
		return fmt.Errorf("exception block without handlers in %s", g.md)
	}
	if tb.finally {
		g.Op(OENDFINALLY)
	} else {
		g.Branch(OLEAVE, tb.end)
	}
	tb.open.End = g.PC()
	tb.done = append(tb.done, *tb.open)
	tb.open = nil
	g.body.Handlers = append(g.body.Handlers, tb.done...)
	g.MarkLabel(tb.end)
	return nil
}

// End resolves labels and validates the body.
func (g *Gen) End() error {
	if len(g.tries) != 0 {
		return fmt.Errorf("end %s: %d exception blocks left open", g.md, len(g.tries))
	}
	for _, pc := range g.fixups {
		inst := &g.body.Code[pc]
		l := inst.Int
		if l < 0 || int(l) >= len(g.labels) {
			return fmt.Errorf("end %s: pc %d: bad label %d", g.md, pc, l)
		}
		target := g.labels[l]
		if target < 0 {
			return fmt.Errorf("end %s: pc %d: label %d never marked", g.md, pc, l)
		}
		inst.Int = int64(target)
	}
	g.fixups = nil
	for pc, inst := range g.body.Code {
		if inst.Op != ORET {
			continue
		}
		for _, h := range g.body.Handlers {
			if (pc >= h.TryStart && pc < h.TryEnd) || (pc >= h.Start && pc < h.End) {
				return fmt.Errorf("end %s: pc %d: %w", g.md, pc, ErrRetInRegion)
			}
		}
	}
	return nil
}
