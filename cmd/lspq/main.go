// Command lspq runs one-shot queries against a language server: launch,
// initialize, open the file, ask, print, shut down.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
