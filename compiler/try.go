package compiler

import (
	"github.com/yvt/queen-compiler-sub002/bytecode"
	"github.com/yvt/queen-compiler-sub002/host"
	"github.com/yvt/queen-compiler-sub002/it"
)

// tryStmt lowers a try statement in two tiers. Typed handlers that come
// before the first numeric handler become native catch clauses. The
// remaining handlers share one catch-all clause: it converts the exception
// to its numeric form once and tests the handlers in source order, by
// instance-of for typed handlers and by inclusive code ranges for numeric
// ones, rethrowing when none matches. Finally protects everything.
func (e *funcEmitter) tryStmt(s *it.Try) error {
	if len(s.Handlers) == 0 && s.Finally == nil {
		return e.block(s.Body)
	}
	end := e.g.BeginTry()
	e.depth++
	if err := e.block(s.Body); err != nil {
		return err
	}
	var temps []int
	i := 0
	for ; i < len(s.Handlers) && s.Handlers[i].Typed != nil; i++ {
		if err := e.typedCatch(s.Handlers[i]); err != nil {
			return err
		}
	}
	if i < len(s.Handlers) {
		var err error
		if temps, err = e.dispatchCatch(s.Handlers[i:], end); err != nil {
			return err
		}
	}
	if s.Finally != nil {
		if err := e.g.BeginFinally(); err != nil {
			return internalWrap(e.node(), err, "finally")
		}
		if err := e.block(s.Finally); err != nil {
			return err
		}
	}
	if err := e.g.EndTry(); err != nil {
		return internalWrap(e.node(), err, "try")
	}
	e.marked = e.g.PC()
	e.depth--
	e.release(temps)
	return nil
}

func (e *funcEmitter) typedCatch(h *it.Handler) error {
	t, err := e.c.Resolve(h.Typed)
	if err != nil {
		return err
	}
	if err := e.g.BeginCatch(t); err != nil {
		return internalWrap(e.node(), err, "catch")
	}
	if err := e.storeInfo(h); err != nil {
		return err
	}
	return e.block(h.Body)
}

// storeInfo moves the exception on the stack into the handler's info
// variable, or drops it.
func (e *funcEmitter) storeInfo(h *it.Handler) error {
	if h.Info == nil {
		e.g.Op(bytecode.OPOP)
		return nil
	}
	slot, err := e.local(h.Info)
	if err != nil {
		return err
	}
	e.g.Emit(bytecode.InstN(bytecode.OSTLOC, slot))
	return nil
}

func (e *funcEmitter) dispatchCatch(hs []*it.Handler, end bytecode.Label) ([]int, error) {
	obj := e.c.hostRef(host.ObjectType)
	numeric := e.c.hostRef(host.NumericExceptionType)
	toExcpt, err := e.c.hostCall(host.RuntimeType, "ToExcpt", obj)
	if err != nil {
		return nil, err
	}
	code, err := e.c.hostFieldOf(host.NumericExceptionType, "Code")
	if err != nil {
		return nil, err
	}
	if err := e.g.BeginCatch(obj); err != nil {
		return nil, internalWrap(e.node(), err, "catch")
	}
	orig := e.frame.AllocTemp(obj)
	conv := e.frame.AllocTemp(numeric)
	e.g.Emit(bytecode.InstN(bytecode.OSTLOC, orig))
	e.g.Emit(bytecode.InstN(bytecode.OLDLOC, orig))
	e.g.Emit(bytecode.InstM(bytecode.OCALL, toExcpt))
	e.g.Emit(bytecode.InstN(bytecode.OSTLOC, conv))

	for _, h := range hs {
		next := e.g.DefineLabel()
		if h.Typed != nil {
			t, err := e.c.Resolve(h.Typed)
			if err != nil {
				return nil, err
			}
			e.g.Emit(bytecode.InstN(bytecode.OLDLOC, orig))
			e.g.Emit(bytecode.InstT(bytecode.OISINST, t))
			e.g.Branch(bytecode.OBRFALSE, next)
			e.g.Emit(bytecode.InstN(bytecode.OLDLOC, orig))
			e.g.Emit(bytecode.InstT(bytecode.OCASTCLASS, t))
		} else {
			e.g.Emit(bytecode.InstN(bytecode.OLDLOC, conv))
			e.g.Branch(bytecode.OBRFALSE, next)
			if len(h.Ranges) > 0 {
				e.codeRanges(h.Ranges, conv, code, next)
			}
			e.g.Emit(bytecode.InstN(bytecode.OLDLOC, conv))
		}
		if err := e.storeInfo(h); err != nil {
			return nil, err
		}
		if err := e.block(h.Body); err != nil {
			return nil, err
		}
		e.g.Branch(bytecode.OLEAVE, end)
		e.mark(next)
	}
	e.g.Op(bytecode.ORETHROW)
	return []int{orig, conv}, nil
}

// codeRanges falls through when the code of the exception in conv lies in
// one of rs and jumps to miss otherwise.
func (e *funcEmitter) codeRanges(rs []it.CodeRange, conv int, code bytecode.Field, miss bytecode.Label) {
	hit := e.g.DefineLabel()
	for _, r := range rs {
		skip := e.g.DefineLabel()
		if r.Lo != nil {
			e.g.Emit(bytecode.InstN(bytecode.OLDLOC, conv))
			e.g.Emit(bytecode.InstF(bytecode.OLDFLD, code))
			e.g.Emit(bytecode.ConstI(bytecode.KindInt64, *r.Lo))
			e.g.Branch(bytecode.OBLT, skip)
		}
		if r.Hi != nil {
			e.g.Emit(bytecode.InstN(bytecode.OLDLOC, conv))
			e.g.Emit(bytecode.InstF(bytecode.OLDFLD, code))
			e.g.Emit(bytecode.ConstI(bytecode.KindInt64, *r.Hi))
			e.g.Branch(bytecode.OBGT, skip)
		}
		e.g.Branch(bytecode.OBR, hit)
		e.mark(skip)
	}
	e.g.Branch(bytecode.OBR, miss)
	e.mark(hit)
}
