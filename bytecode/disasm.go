package bytecode

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Disassemble writes a human-readable listing of m to w.
func (m *Module) Disassemble(w io.Writer) error {
	bw := bufio.NewWriter(w)
	version := "-"
	if m.Version != nil {
		version = m.Version.String()
	}
	fmt.Fprintf(bw, "module %s %s\n", m.Name, version)
	for _, td := range m.Types {
		disasmType(bw, td)
	}
	if m.Entry != nil {
		fmt.Fprintf(bw, "entry %s\n", m.Entry)
	}
	for _, md := range m.Inits {
		fmt.Fprintf(bw, "init %s\n", md)
	}
	return bw.Flush()
}

func disasmType(w *bufio.Writer, td *TypeDef) {
	var flags []string
	if td.Flags&TypeAbstract != 0 {
		flags = append(flags, "abstract")
	}
	if td.Flags&TypeSealed != 0 {
		flags = append(flags, "sealed")
	}
	if td.Flags&TypeNotConstructible != 0 {
		flags = append(flags, "noctor")
	}
	fmt.Fprintf(w, "\n%s %s", td.Kind, td)
	if len(td.GenericParams) > 0 {
		names := make([]string, len(td.GenericParams))
		for i, p := range td.GenericParams {
			names[i] = p.String()
		}
		fmt.Fprintf(w, "<%s>", strings.Join(names, ", "))
	}
	if td.Base != nil {
		fmt.Fprintf(w, " : %s", td.Base)
	}
	if td.Underlying != nil {
		fmt.Fprintf(w, " : %s", td.Underlying)
	}
	for _, it := range td.Interfaces {
		fmt.Fprintf(w, ", %s", it)
	}
	if len(flags) > 0 {
		fmt.Fprintf(w, " [%s]", strings.Join(flags, " "))
	}
	fmt.Fprintln(w)

	for _, f := range td.Fields {
		prefix := "field"
		if f.Static {
			prefix = "static field"
		}
		if f.Literal {
			fmt.Fprintf(w, "  literal %s = %v\n", f.Name, f.Value)
			continue
		}
		fmt.Fprintf(w, "  %s %s %s\n", prefix, f.Name, typeString(f.Type))
	}
	for _, md := range td.Methods {
		disasmMethod(w, md)
	}
}

func disasmMethod(w *bufio.Writer, md *MethodDef) {
	var attrs []string
	if md.Attrs&MethodStatic != 0 {
		attrs = append(attrs, "static")
	}
	if md.Attrs&MethodVirtual != 0 {
		attrs = append(attrs, "virtual")
	}
	if md.Attrs&MethodAbstract != 0 {
		attrs = append(attrs, "abstract")
	}
	attrs = append(attrs, "method")
	var b strings.Builder
	b.WriteString(md.Name)
	if len(md.GenericParams) > 0 {
		b.WriteByte('<')
		for i, p := range md.GenericParams {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(p.String())
		}
		b.WriteByte('>')
	}
	writeSig(&b, md.Params, md.Return)
	fmt.Fprintf(w, "  %s %s\n", strings.Join(attrs, " "), b.String())
	if md.Overrides != nil {
		fmt.Fprintf(w, "    .override %s\n", md.Overrides)
	}
	if md.Body == nil {
		return
	}
	for i, l := range md.Body.Locals {
		fmt.Fprintf(w, "    .local %d %s %s\n", i, l.Name, typeString(l.Type))
	}
	for pc, inst := range md.Body.Code {
		fmt.Fprintf(w, "    %04d  %s\n", pc, inst)
	}
	for _, h := range md.Body.Handlers {
		if h.Kind == HandlerFinally {
			fmt.Fprintf(w, "    .try %d-%d finally %d-%d\n", h.TryStart, h.TryEnd, h.Start, h.End)
		} else {
			fmt.Fprintf(w, "    .try %d-%d catch %s %d-%d\n", h.TryStart, h.TryEnd, typeString(h.CatchType), h.Start, h.End)
		}
	}
}
