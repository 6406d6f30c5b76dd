// Command capsule inspects a capsule runtime: its classes, its queue
// journal and flattened events.
//
//	capsule classes gfx.
//	capsule describe demo.ticker
//	capsule create demo.ticker --retries 2
//	capsule journal list --journal ~/.capsule/journal.db
//	capsule event decode dump.bin
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
