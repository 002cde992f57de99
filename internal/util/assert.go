// Package util holds small invariant-checking and arithmetic helpers
// shared across the node's internal packages.
package util

import "fmt"

// Debug gates Assert. Left on: an invariant violation here means state
// corruption, and panicking loudly beats silently continuing.
var Debug = true

// Assert panics with the formatted message if cond is false.
func Assert(cond bool, format string, a ...interface{}) {
	if Debug && !cond {
		panic(fmt.Sprintf(format, a...))
	}
}
