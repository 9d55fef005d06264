package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArithmetic(t *testing.T) {
	rec := runTest(t, `record(1 + 2 * 3)`)
	require.Len(t, rec.values, 1)
	require.Equal(t, float64(7), rec.values[0].AsNumber())
}

func TestStringConcat(t *testing.T) {
	rec := runTest(t, `record("foo" + "bar")`)
	s, ok := rec.values[0].AsObject().(interface{ Go() string })
	require.True(t, ok)
	require.Equal(t, "foobar", s.Go())
}

func TestVarAndGlobalAssignment(t *testing.T) {
	rec := runTest(t, `
var x = 10
x = x + 5
record(x)
`)
	require.Equal(t, float64(15), rec.values[0].AsNumber())
}

func TestIfElse(t *testing.T) {
	rec := runTest(t, `
if 1 < 2 do
  record("yes")
else
  record("no")
end
`)
	require.Len(t, rec.values, 1)
}

func TestWhileLoop(t *testing.T) {
	rec := runTest(t, `
var i = 0
while i < 3 do
  record(i)
  i = i + 1
end
`)
	require.Len(t, rec.values, 3)
	require.Equal(t, float64(0), rec.values[0].AsNumber())
	require.Equal(t, float64(2), rec.values[2].AsNumber())
}

func TestFunctionCallAndClosure(t *testing.T) {
	rec := runTest(t, `
fun makeAdder(n)
  fun adder(x)
    return x + n
  end
  return adder
end

var add5 = makeAdder(5)
record(add5(10))
`)
	require.Equal(t, float64(15), rec.values[0].AsNumber())
}

func TestRecursion(t *testing.T) {
	rec := runTest(t, `
fun fib(n)
  if n < 2 do
    return n
  end
  return fib(n - 1) + fib(n - 2)
end

record(fib(10))
`)
	require.Equal(t, float64(55), rec.values[0].AsNumber())
}

func TestClassMethodsAndInheritance(t *testing.T) {
	rec := runTest(t, `
class Animal is Object
  fun Animal(name)
    this.name = name
  end
  fun speak()
    return this.name + " makes a sound"
  end
end

class Dog is Animal
  fun Dog(name)
    super.Animal(name)
  end
  fun speak()
    return this.name + " barks"
  end
end

var a = Animal("Generic")
var d = Dog("Rex")
record(a.speak())
record(d.speak())
`)
	require.Len(t, rec.values, 2)
	s0, _ := rec.values[0].AsObject().(interface{ Go() string })
	s1, _ := rec.values[1].AsObject().(interface{ Go() string })
	require.Equal(t, "Generic makes a sound", s0.Go())
	require.Equal(t, "Rex barks", s1.Go())
}

func TestTryExceptCatchesRaise(t *testing.T) {
	rec := runTest(t, `
try
  raise TypeException("boom")
except TypeException as e do
  record(e._err)
end
`)
	require.Len(t, rec.values, 1)
	s, ok := rec.values[0].AsObject().(interface{ Go() string })
	require.True(t, ok)
	require.Equal(t, "boom", s.Go())
}

func TestListMethods(t *testing.T) {
	rec := runTest(t, `
var xs = [1, 2, 3]
xs.add(4)
record(xs.__len__())
record(xs[0])
record(xs[3])
`)
	require.Equal(t, float64(4), rec.values[0].AsNumber())
	require.Equal(t, float64(1), rec.values[1].AsNumber())
	require.Equal(t, float64(4), rec.values[2].AsNumber())
}

func TestForeachOverList(t *testing.T) {
	rec := runTest(t, `
foreach v in [10, 20, 30] do
  record(v)
end
`)
	require.Len(t, rec.values, 3)
	require.Equal(t, float64(60), rec.values[0].AsNumber()+rec.values[1].AsNumber()+rec.values[2].AsNumber())
}

func TestTableSubscript(t *testing.T) {
	rec := runTest(t, `
var t = {"a": 1, "b": 2}
t["c"] = 3
record(t["c"])
`)
	require.Equal(t, float64(3), rec.values[0].AsNumber())
}
