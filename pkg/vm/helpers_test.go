package vm

import (
	"testing"

	"github.com/kristofer/smogvm/pkg/compiler"
	"github.com/kristofer/smogvm/pkg/corelib"
	"github.com/kristofer/smogvm/pkg/object"
	"github.com/kristofer/smogvm/pkg/parser"
	"github.com/stretchr/testify/require"
)

// recorded accumulates values passed to the "record" native every test
// program has available, standing in for assertions on observable
// side effects since a module's top-level return value is always null.
type recorded struct {
	values []object.Value
}

func newTestVM(t *testing.T, src string) (*VM, *recorded) {
	t.Helper()
	p := parser.New(src)
	program, err := p.Parse()
	require.NoError(t, err)
	require.Empty(t, p.Errors())

	heap := object.NewHeap()
	module := object.NewModule(heap.Intern("test"))

	reg := corelib.Bootstrap(heap)
	for name, v := range reg.Globals {
		module.SetGlobal(name, v)
	}

	rec := &recorded{}
	recordFn := object.NewNative(heap.Intern("record"), 1, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		rec.values = append(rec.values, args[0])
		return object.Null, true
	})
	heap.Track(recordFn, 40)
	module.SetGlobal("record", object.FromObj(recordFn))

	_, err = compiler.Compile(program, heap, module)
	require.NoError(t, err)

	m := New(heap, module)
	for name, cls := range reg.Classes {
		m.RegisterCoreClass(name, cls)
	}
	return m, rec
}

func runTest(t *testing.T, src string) *recorded {
	t.Helper()
	m, rec := newTestVM(t, src)
	_, err := m.Run()
	require.NoError(t, err)
	return rec
}
