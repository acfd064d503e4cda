// qdis prints the disassembly of compiled modules.
//
// Usage:
//
//	qdis [-j n] file.qbc [file.qbc ...]
package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/yvt/queen-compiler-sub002/bytecode"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("qdis: ")
	jobs := flag.Int("j", runtime.NumCPU(), "number of files decoded in parallel")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "usage: qdis [-j n] file.qbc [file.qbc ...]\n")
		os.Exit(2)
	}

	// Modules are decoded concurrently; listings are printed in argument
	// order.
	out := make([]bytes.Buffer, flag.NArg())
	var g errgroup.Group
	g.SetLimit(*jobs)
	for i, name := range flag.Args() {
		i, name := i, name
		g.Go(func() error {
			data, err := os.ReadFile(name)
			if err != nil {
				return err
			}
			mod, err := bytecode.Decode(data)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			if flag.NArg() > 1 {
				fmt.Fprintf(&out[i], "%s:\n", name)
			}
			return mod.Disassemble(&out[i])
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
	for i := range out {
		if _, err := out[i].WriteTo(os.Stdout); err != nil {
			log.Fatal(err)
		}
	}
}
