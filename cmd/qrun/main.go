// qrun runs the entry point of a compiled module.
//
// Usage:
//
//	qrun [-seed n] [-depth n] file.qbc
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/yvt/queen-compiler-sub002/bytecode"
	"github.com/yvt/queen-compiler-sub002/host"
	"github.com/yvt/queen-compiler-sub002/vm"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("qrun: ")
	seed := flag.Int64("seed", 0, "random seed (default: current time)")
	depth := flag.Int("depth", vm.DefaultMaxDepth, "maximum call depth")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: qrun [-seed n] [-depth n] file.qbc\n")
		os.Exit(2)
	}
	data, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	mod, err := bytecode.Decode(data)
	if err != nil {
		log.Fatalf("%s: %v", flag.Arg(0), err)
	}
	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	m := vm.New(mod, vm.Config{Host: host.Standard(), Seed: *seed, MaxDepth: *depth})
	v, err := m.Run()
	if err != nil {
		var exc *host.Exception
		if errors.As(err, &exc) {
			log.Printf("uncaught exception: %v", exc)
			os.Exit(1)
		}
		log.Fatal(err)
	}
	if v != nil {
		fmt.Println(v)
	}
}
