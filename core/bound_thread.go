package core

import (
	"bytes"
	"fmt"
	"runtime"
	"strconv"
	"sync/atomic"
)

// FatalError is raised (as a panic value) when a caller breaks a scheduling
// contract. Task execution never recovers it.
type FatalError struct {
	Op  string
	Msg string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("sequence manager: %s: %s", e.Op, e.Msg)
}

func fatalf(op, format string, args ...any) {
	panic(&FatalError{Op: op, Msg: fmt.Sprintf(format, args...)})
}

// BoundThread identifies the single goroutine allowed to run tasks and touch
// thread-affine state. It starts unbound; while unbound every assertion
// passes so objects can be built on one goroutine and handed to another.
type BoundThread struct {
	name string
	id   atomic.Uint64
}

func NewBoundThread(name string) *BoundThread {
	return &BoundThread{name: name}
}

// Bind attaches the calling goroutine. Binding twice is fatal.
func (b *BoundThread) Bind() {
	id := currentGoroutineID()
	if !b.id.CompareAndSwap(0, id) {
		fatalf("BoundThread.Bind", "%s is already bound to goroutine %d", b.name, b.id.Load())
	}
}

func (b *BoundThread) IsBound() bool {
	return b.id.Load() != 0
}

// IsCurrent reports whether the caller may touch thread-affine state.
func (b *BoundThread) IsCurrent() bool {
	id := b.id.Load()
	return id == 0 || id == currentGoroutineID()
}

// Assert fails fatally when called off the bound goroutine.
func (b *BoundThread) Assert(op string) {
	id := b.id.Load()
	if id == 0 {
		return
	}
	if cur := currentGoroutineID(); cur != id {
		fatalf(op, "called on goroutine %d, %s is bound to goroutine %d", cur, b.name, id)
	}
}

var goroutinePrefix = []byte("goroutine ")

// currentGoroutineID parses the id out of the "goroutine N [running]:" header.
func currentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], goroutinePrefix)
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
