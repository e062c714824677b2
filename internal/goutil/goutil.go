package goutil

import (
	"log"
	"runtime/debug"
)

// SafeGo runs fn on a new goroutine and logs any panic with a stack trace
// before re-panicking. The terminal UI owns stdout, so a bare panic from a
// background goroutine would otherwise vanish with the screen.
func SafeGo(logger *log.Logger, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Printf("PANIC: %v\n%s", r, debug.Stack())
				panic(r)
			}
		}()
		fn()
	}()
}
