// wardtrace detects infection clusters from ward transfer and microbiology
// tables and serves the results over HTTP.
//
// Usage:
//
//	wardtrace serve [--config=wardtrace.yaml]
//	wardtrace detect --transfers=<csv> --microbiology=<csv>
//	wardtrace detect --source=samples|upload
//	wardtrace show [infection index] [--history]
package main

import (
	"fmt"
	"os"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
