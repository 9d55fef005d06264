// Package vm - error handling with stack traces
package vm

import (
	"fmt"

	"github.com/kristofer/smogvm/pkg/object"
)

// smogError wraps a raised object.Value so it can travel as a Go error
// across a synchronous nested call (invokeSync, callValue, Call) without
// losing the exact value that was raised: reraise unwraps it and drives
// the original value through the enclosing floor's own handler chain,
// rather than re-raising a RuntimeError that merely describes it.
type smogError struct {
	Value object.Value
}

func newSmogError(v object.Value) *smogError {
	return &smogError{Value: v}
}

// Error renders a raised value for contexts that only accept a plain Go
// error (an uncaught raise reaching cmd/smog's top level). An Instance
// with an "_err" field (every corelib Exception) prints that message
// plus its stacktrace; anything else prints its string form.
func (e *smogError) Error() string {
	if e.Value.IsObject() {
		if inst, ok := e.Value.AsObject().(*object.Instance); ok {
			msg := "uncaught exception"
			if m, ok := inst.Fields["_err"]; ok {
				if s, ok := m.AsObject().(*object.String); ok {
					msg = s.Go()
				}
			}
			if st, ok := inst.Fields["_stacktrace"]; ok {
				if trace, ok := st.AsObject().(*object.StackTrace); ok && len(trace.Frames) > 0 {
					return msg + "\n" + trace.String()
				}
			}
			return msg
		}
		if s, ok := e.Value.AsObject().(*object.String); ok {
			return s.Go()
		}
	}
	return fmt.Sprintf("%v", e.Value)
}

// buildStackTrace snapshots the live frame stack, newest call first, for
// attaching to a raised instance's "_stacktrace" field.
func (vm *VM) buildStackTrace() *object.StackTrace {
	frames := make([]object.StackFrame, 0, len(vm.frames))
	for i := len(vm.frames) - 1; i >= 0; i-- {
		fr := vm.frames[i]
		name := "<anonymous>"
		if fr.closure.Fn.Name != nil {
			name = fr.closure.Fn.Name.Go()
		}
		frames = append(frames, object.StackFrame{
			FuncName: name,
			Line:     fr.closure.Fn.Code.LineAt(fr.ip),
		})
	}
	st := object.NewStackTrace(frames)
	vm.heap.Track(st, 32+16*len(frames))
	return st
}
