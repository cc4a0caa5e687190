package overlay

import "fmt"

// invariant reports a violation of one of the changeset's structural
// invariants. Every caller path that can reach this is a logic bug, not
// a recoverable condition, so it is never returned as an error value -
// it aborts the goroutine, the same way pkg/index uses panic for
// malformed index definitions.
func invariant(format string, args ...interface{}) {
	panic("overlay: invariant violation: " + fmt.Sprintf(format, args...))
}
