package corelib

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/kristofer/smogvm/pkg/object"
)

// installIOGlobals wires the free functions every module's globals
// start out with: print/println plus the stdlib-backed primitives
// (HTTP, file, JSON, random, date/time), generalized from free Go
// functions taking Go strings/ints into natives taking and returning
// object.Value.
func installIOGlobals(heap *object.Heap, globals map[string]object.Value) {
	globalNative(heap, globals, "print", 0, true, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = printString(a)
		}
		fmt.Print(strings.Join(parts, " "))
		return object.Null, true
	})
	globalNative(heap, globals, "println", 0, true, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = printString(a)
		}
		fmt.Println(strings.Join(parts, " "))
		return object.Null, true
	})

	globalNative(heap, globals, "httpGet", 1, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		resp, err := http.Get(recvString(args[0]))
		if err != nil {
			return object.Null, vm.Raise(vm.CoreClass("TypeException"), "HTTP GET failed: %v", err)
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return object.Null, vm.Raise(vm.CoreClass("TypeException"), "failed to read response body: %v", err)
		}
		return object.FromObj(vm.Intern(string(body))), true
	})
	globalNative(heap, globals, "httpPost", 2, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		resp, err := http.Post(recvString(args[0]), "text/plain", strings.NewReader(recvString(args[1])))
		if err != nil {
			return object.Null, vm.Raise(vm.CoreClass("TypeException"), "HTTP POST failed: %v", err)
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return object.Null, vm.Raise(vm.CoreClass("TypeException"), "failed to read response body: %v", err)
		}
		return object.FromObj(vm.Intern(string(body))), true
	})

	globalNative(heap, globals, "fileRead", 1, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		content, err := os.ReadFile(recvString(args[0]))
		if err != nil {
			return object.Null, vm.Raise(vm.CoreClass("TypeException"), "failed to read file: %v", err)
		}
		return object.FromObj(vm.Intern(string(content))), true
	})
	globalNative(heap, globals, "fileWrite", 2, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		if err := os.WriteFile(recvString(args[0]), []byte(recvString(args[1])), 0644); err != nil {
			return object.Null, vm.Raise(vm.CoreClass("TypeException"), "failed to write file: %v", err)
		}
		return object.Null, true
	})
	globalNative(heap, globals, "fileExists", 1, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		_, err := os.Stat(recvString(args[0]))
		return object.Bool(err == nil), true
	})
	globalNative(heap, globals, "fileDelete", 1, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		if err := os.Remove(recvString(args[0])); err != nil {
			return object.Null, vm.Raise(vm.CoreClass("TypeException"), "failed to delete file: %v", err)
		}
		return object.Null, true
	})

	globalNative(heap, globals, "jsonParse", 1, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		var result any
		if err := json.Unmarshal([]byte(recvString(args[0])), &result); err != nil {
			return object.Null, vm.Raise(vm.CoreClass("TypeException"), "failed to parse JSON: %v", err)
		}
		return fromJSON(heap, result), true
	})
	globalNative(heap, globals, "jsonGenerate", 1, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		data, err := json.Marshal(toJSON(args[0]))
		if err != nil {
			return object.Null, vm.Raise(vm.CoreClass("TypeException"), "failed to generate JSON: %v", err)
		}
		return object.FromObj(vm.Intern(string(data))), true
	})

	globalNative(heap, globals, "randomInt", 2, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		lo, hi := int64(args[0].AsNumber()), int64(args[1].AsNumber())
		if lo > hi {
			return object.Null, vm.Raise(vm.CoreClass("InvalidArgException"), "min must be <= max")
		}
		n, err := rand.Int(rand.Reader, big.NewInt(hi-lo+1))
		if err != nil {
			return object.Null, vm.Raise(vm.CoreClass("TypeException"), "failed to generate random number: %v", err)
		}
		return object.Num(float64(n.Int64() + lo)), true
	})
	globalNative(heap, globals, "randomFloat", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		buf := make([]byte, 8)
		if _, err := io.ReadFull(rand.Reader, buf); err != nil {
			return object.Null, vm.Raise(vm.CoreClass("TypeException"), "failed to generate random float: %v", err)
		}
		var n uint64
		for _, b := range buf {
			n = n<<8 | uint64(b)
		}
		return object.Num(float64(n>>11) / float64(uint64(1)<<53)), true
	})
	globalNative(heap, globals, "randomBytes", 1, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		n := int(args[0].AsNumber())
		buf := make([]byte, n)
		if _, err := io.ReadFull(rand.Reader, buf); err != nil {
			return object.Null, vm.Raise(vm.CoreClass("TypeException"), "failed to generate random bytes: %v", err)
		}
		return object.FromObj(vm.Intern(string(buf))), true
	})

	globalNative(heap, globals, "dateNow", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		return object.Num(float64(time.Now().Unix())), true
	})
	globalNative(heap, globals, "dateFormat", 2, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		t := time.Unix(int64(args[0].AsNumber()), 0)
		return object.FromObj(vm.Intern(t.Format(dateLayout(recvString(args[1]))))), true
	})
	globalNative(heap, globals, "dateParse", 2, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		t, err := time.Parse(dateLayout(recvString(args[1])), recvString(args[0]))
		if err != nil {
			return object.Null, vm.Raise(vm.CoreClass("TypeException"), "failed to parse date: %v", err)
		}
		return object.Num(float64(t.Unix())), true
	})
	globalNative(heap, globals, "timeYear", 1, false, timeField(func(t time.Time) int { return t.Year() }))
	globalNative(heap, globals, "timeMonth", 1, false, timeField(func(t time.Time) int { return int(t.Month()) }))
	globalNative(heap, globals, "timeDay", 1, false, timeField(func(t time.Time) int { return t.Day() }))
	globalNative(heap, globals, "timeHour", 1, false, timeField(func(t time.Time) int { return t.Hour() }))
	globalNative(heap, globals, "timeMinute", 1, false, timeField(func(t time.Time) int { return t.Minute() }))
	globalNative(heap, globals, "timeSecond", 1, false, timeField(func(t time.Time) int { return t.Second() }))
}

func timeField(f func(time.Time) int) object.NativeFn {
	return func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		t := time.Unix(int64(args[0].AsNumber()), 0)
		return object.Num(float64(f(t))), true
	}
}

// dateLayout maps a small set of named format shorthands to Go's
// reference-time layout strings, falling through to treating the
// format argument itself as a layout for anything else.
func dateLayout(format string) string {
	switch format {
	case "iso8601", "ISO8601", "rfc3339", "RFC3339":
		return time.RFC3339
	case "date":
		return "2006-01-02"
	case "time":
		return "15:04:05"
	case "datetime":
		return "2006-01-02 15:04:05"
	default:
		return format
	}
}

// printString renders a value the way print/println show it: strings
// unquoted, everything else the same as a container element would
// display.
func printString(v object.Value) string {
	if v.IsObject() {
		if s, ok := v.AsObject().(*object.String); ok {
			return s.Go()
		}
	}
	return display(nil, v)
}

// fromJSON converts a decoded encoding/json value into object.Values,
// targeting List/Table for arrays/objects.
func fromJSON(heap *object.Heap, v any) object.Value {
	switch x := v.(type) {
	case nil:
		return object.Null
	case bool:
		return object.Bool(x)
	case float64:
		return object.Num(x)
	case string:
		return object.FromObj(heap.Intern(x))
	case []any:
		elems := make([]object.Value, len(x))
		for i, e := range x {
			elems[i] = fromJSON(heap, e)
		}
		l := object.NewList(elems)
		heap.Track(l, 24+16*len(elems))
		return object.FromObj(l)
	case map[string]any:
		t := object.NewTable()
		heap.Track(t, 32)
		for k, e := range x {
			t.Set(object.FromObj(heap.Intern(k)), fromJSON(heap, e))
		}
		return object.FromObj(t)
	default:
		return object.Null
	}
}

// toJSON converts an object.Value tree into plain Go values
// encoding/json can marshal.
func toJSON(v object.Value) any {
	switch v.Kind() {
	case object.KindNull:
		return nil
	case object.KindBool:
		return v.AsBool()
	case object.KindNumber:
		return v.AsNumber()
	case object.KindObject:
		switch o := v.AsObject().(type) {
		case *object.String:
			return o.Go()
		case *object.List:
			out := make([]any, len(o.Elems))
			for i, e := range o.Elems {
				out[i] = toJSON(e)
			}
			return out
		case *object.Tuple:
			out := make([]any, len(o.Elems))
			for i, e := range o.Elems {
				out[i] = toJSON(e)
			}
			return out
		case *object.Table:
			out := make(map[string]any)
			for _, e := range o.Entries() {
				if k, ok := e.Key.AsObject().(*object.String); ok {
					out[k.Go()] = toJSON(e.Value)
				}
			}
			return out
		}
	}
	return nil
}
