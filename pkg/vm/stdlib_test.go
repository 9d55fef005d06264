package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// goString unwraps a recorded value as a Go string, asserting it is
// actually a *object.String underneath without importing pkg/object
// just for the type assertion.
func goString(t *testing.T, rec *recorded, i int) string {
	t.Helper()
	s, ok := rec.values[i].AsObject().(interface{ Go() string })
	require.True(t, ok, "value %d is not a string", i)
	return s.Go()
}

func TestStringHashingAndEncoding(t *testing.T) {
	rec := runTest(t, `
record("hello".sha256())
record("hello".md5())
record("hello".base64Encode())
record("aGVsbG8=".base64Decode())
`)
	require.Len(t, rec.values, 4)
	require.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", goString(t, rec, 0))
	require.Equal(t, "5d41402abc4b2a76b9719d911017c592", goString(t, rec, 1))
	require.Equal(t, "aGVsbG8=", goString(t, rec, 2))
	require.Equal(t, "hello", goString(t, rec, 3))
}

func TestStringRegexAndSplit(t *testing.T) {
	rec := runTest(t, `
record("abc123".regexMatch("[0-9]+"))
record("a,b,c".split(","))
record("  padded  ".trim())
record("Shout".upper())
`)
	require.Len(t, rec.values, 4)
	require.True(t, rec.values[0].AsBool())
	require.Equal(t, "padded", goString(t, rec, 2))
	require.Equal(t, "SHOUT", goString(t, rec, 3))
}

func TestStringCompressionRoundTrip(t *testing.T) {
	rec := runTest(t, `
var original = "roundtrip me"
var packed = original.gzipCompress()
record(packed.gzipDecompress())
`)
	require.Len(t, rec.values, 1)
	require.Equal(t, "roundtrip me", goString(t, rec, 0))
}

func TestJSONParseAndGenerate(t *testing.T) {
	rec := runTest(t, `
var parsed = jsonParse("{\"a\": 1, \"b\": [2, 3]}")
record(parsed["a"])
record(parsed["b"][1])
`)
	require.Len(t, rec.values, 2)
	require.Equal(t, float64(1), rec.values[0].AsNumber())
	require.Equal(t, float64(3), rec.values[1].AsNumber())
}

func TestExceptionConstructorSetsErrAndCause(t *testing.T) {
	rec := runTest(t, `
var e = InvalidArgException("bad arg", "root cause")
record(e._err)
record(e._cause)
record(e.__string__())
`)
	require.Len(t, rec.values, 3)
	require.Equal(t, "bad arg", goString(t, rec, 0))
	require.Equal(t, "root cause", goString(t, rec, 1))
	require.Equal(t, "InvalidArgException: bad arg", goString(t, rec, 2))
}
