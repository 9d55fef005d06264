package corelib

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/kristofer/smogvm/pkg/object"
)

// installStringMethods wires String's core dunders (subscripting,
// length, concatenation, equality, iteration over runes) plus the
// teacher's stdlib-backed text primitives, re-homed from a free
// function per pattern into a native method called on the receiver
// string: "abc".sha256() rather than sha256Hash("abc").
func installStringMethods(heap *object.Heap, cls *object.Class, iterator *object.Class) {
	native(heap, cls, "__len__", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		s := recvString(args[0])
		return object.Num(float64(len([]rune(s)))), true
	})
	native(heap, cls, "__string__", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		return args[0], true
	})
	native(heap, cls, "__eq__", 1, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		return object.Bool(args[0].Equals(args[1])), true
	})
	native(heap, cls, "__hash__", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		return object.Num(float64(object.HashValue(args[0]))), true
	})
	native(heap, cls, "__add__", 1, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		other, ok := args[1].AsObject().(*object.String)
		if !ok {
			return object.Null, vm.Raise(vm.CoreClass("TypeException"), "can only concatenate string to string")
		}
		return object.FromObj(vm.Intern(recvString(args[0]) + other.Go())), true
	})
	native(heap, cls, "__get__", 1, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		runes := []rune(recvString(args[0]))
		idx, ok := runeIndex(args[1], len(runes))
		if !ok {
			return object.Null, vm.Raise(vm.CoreClass("IndexOutOfBoundException"), "string index out of range")
		}
		return object.FromObj(vm.Intern(string(runes[idx]))), true
	})
	native(heap, cls, "__iter__", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		return newIterator(heap, iterator, args[0]), true
	})

	native(heap, cls, "regexMatch", 1, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		matched, err := regexp.MatchString(recvString(args[1]), recvString(args[0]))
		if err != nil {
			return object.Null, vm.Raise(vm.CoreClass("RegexException"), "invalid regex pattern: %v", err)
		}
		return object.Bool(matched), true
	})
	native(heap, cls, "regexFindAll", 1, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		re, err := regexp.Compile(recvString(args[1]))
		if err != nil {
			return object.Null, vm.Raise(vm.CoreClass("RegexException"), "invalid regex pattern: %v", err)
		}
		matches := re.FindAllString(recvString(args[0]), -1)
		elems := make([]object.Value, len(matches))
		for i, m := range matches {
			elems[i] = object.FromObj(vm.Intern(m))
		}
		l := object.NewList(elems)
		heap.Track(l, 24+16*len(elems))
		return object.FromObj(l), true
	})
	native(heap, cls, "regexReplace", 2, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		re, err := regexp.Compile(recvString(args[1]))
		if err != nil {
			return object.Null, vm.Raise(vm.CoreClass("RegexException"), "invalid regex pattern: %v", err)
		}
		out := re.ReplaceAllString(recvString(args[0]), recvString(args[2]))
		return object.FromObj(vm.Intern(out)), true
	})

	native(heap, cls, "base64Encode", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		return object.FromObj(vm.Intern(base64.StdEncoding.EncodeToString([]byte(recvString(args[0]))))), true
	})
	native(heap, cls, "base64Decode", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		decoded, err := base64.StdEncoding.DecodeString(recvString(args[0]))
		if err != nil {
			return object.Null, vm.Raise(vm.CoreClass("InvalidArgException"), "failed to decode base64: %v", err)
		}
		return object.FromObj(vm.Intern(string(decoded))), true
	})
	native(heap, cls, "sha256", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		sum := sha256.Sum256([]byte(recvString(args[0])))
		return object.FromObj(vm.Intern(fmt.Sprintf("%x", sum))), true
	})
	native(heap, cls, "sha512", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		sum := sha512.Sum512([]byte(recvString(args[0])))
		return object.FromObj(vm.Intern(fmt.Sprintf("%x", sum))), true
	})
	native(heap, cls, "md5", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		sum := md5.Sum([]byte(recvString(args[0])))
		return object.FromObj(vm.Intern(fmt.Sprintf("%x", sum))), true
	})

	native(heap, cls, "gzipCompress", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write([]byte(recvString(args[0]))); err != nil {
			return object.Null, vm.Raise(vm.CoreClass("TypeException"), "gzip write failed: %v", err)
		}
		if err := w.Close(); err != nil {
			return object.Null, vm.Raise(vm.CoreClass("TypeException"), "gzip close failed: %v", err)
		}
		return object.FromObj(vm.Intern(base64.StdEncoding.EncodeToString(buf.Bytes()))), true
	})
	native(heap, cls, "gzipDecompress", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		decoded, err := base64.StdEncoding.DecodeString(recvString(args[0]))
		if err != nil {
			return object.Null, vm.Raise(vm.CoreClass("InvalidArgException"), "failed to decode base64: %v", err)
		}
		r, err := gzip.NewReader(bytes.NewReader(decoded))
		if err != nil {
			return object.Null, vm.Raise(vm.CoreClass("TypeException"), "failed to open gzip: %v", err)
		}
		defer r.Close()
		content, err := io.ReadAll(r)
		if err != nil {
			return object.Null, vm.Raise(vm.CoreClass("TypeException"), "failed to read gzip: %v", err)
		}
		return object.FromObj(vm.Intern(string(content))), true
	})
	native(heap, cls, "zipCompress", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		var buf bytes.Buffer
		w := zip.NewWriter(&buf)
		f, err := w.Create("data")
		if err != nil {
			return object.Null, vm.Raise(vm.CoreClass("TypeException"), "failed to create zip entry: %v", err)
		}
		if _, err := f.Write([]byte(recvString(args[0]))); err != nil {
			return object.Null, vm.Raise(vm.CoreClass("TypeException"), "failed to write zip entry: %v", err)
		}
		if err := w.Close(); err != nil {
			return object.Null, vm.Raise(vm.CoreClass("TypeException"), "failed to close zip: %v", err)
		}
		return object.FromObj(vm.Intern(base64.StdEncoding.EncodeToString(buf.Bytes()))), true
	})
	native(heap, cls, "zipDecompress", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		decoded, err := base64.StdEncoding.DecodeString(recvString(args[0]))
		if err != nil {
			return object.Null, vm.Raise(vm.CoreClass("InvalidArgException"), "failed to decode base64: %v", err)
		}
		r, err := zip.NewReader(bytes.NewReader(decoded), int64(len(decoded)))
		if err != nil {
			return object.Null, vm.Raise(vm.CoreClass("TypeException"), "failed to open zip: %v", err)
		}
		if len(r.File) == 0 {
			return object.Null, vm.Raise(vm.CoreClass("TypeException"), "zip archive is empty")
		}
		f, err := r.File[0].Open()
		if err != nil {
			return object.Null, vm.Raise(vm.CoreClass("TypeException"), "failed to open zip entry: %v", err)
		}
		defer f.Close()
		content, err := io.ReadAll(f)
		if err != nil {
			return object.Null, vm.Raise(vm.CoreClass("TypeException"), "failed to read zip entry: %v", err)
		}
		return object.FromObj(vm.Intern(string(content))), true
	})
	native(heap, cls, "split", 1, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		parts := strings.Split(recvString(args[0]), recvString(args[1]))
		elems := make([]object.Value, len(parts))
		for i, p := range parts {
			elems[i] = object.FromObj(vm.Intern(p))
		}
		l := object.NewList(elems)
		heap.Track(l, 24+16*len(elems))
		return object.FromObj(l), true
	})
	native(heap, cls, "trim", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		return object.FromObj(vm.Intern(strings.TrimSpace(recvString(args[0])))), true
	})
	native(heap, cls, "upper", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		return object.FromObj(vm.Intern(strings.ToUpper(recvString(args[0])))), true
	})
	native(heap, cls, "lower", 0, false, func(vm object.NativeContext, args []object.Value) (object.Value, bool) {
		return object.FromObj(vm.Intern(strings.ToLower(recvString(args[0])))), true
	})
}

func recvString(v object.Value) string {
	if s, ok := v.AsObject().(*object.String); ok {
		return s.Go()
	}
	return ""
}

// runeIndex normalizes a subscript value (Python-style negative indices
// allowed) against a length, reporting whether it lands in bounds.
func runeIndex(idx object.Value, length int) (int, bool) {
	if !idx.IsNumber() {
		return 0, false
	}
	i := int(idx.AsNumber())
	if i < 0 {
		i += length
	}
	if i < 0 || i >= length {
		return 0, false
	}
	return i, true
}
