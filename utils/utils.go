package utils

import (
	"database/sql/driver"
	"fmt"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// moduleDir is the source directory of this module, frames inside it are skipped
var moduleDir = func() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.ToSlash(filepath.Dir(filepath.Dir(file))) + "/"
}()

// CallerFrame returns the first frame outside of this module, test files excepted
func CallerFrame() runtime.Frame {
	pcs := [13]uintptr{}
	// skip runtime.Callers, CallerFrame and its caller
	length := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:length])
	for {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.File, moduleDir) || strings.HasSuffix(frame.File, "_test.go") {
			return frame
		}
		if !more {
			return runtime.Frame{}
		}
	}
}

// FileWithLineNum formats the caller frame as file:line
func FileWithLineNum() string {
	if frame := CallerFrame(); frame.PC != 0 {
		return frame.File + ":" + strconv.Itoa(frame.Line)
	}
	return ""
}

// ToStringKey joins values into a key usable to index rows by their primary or foreign keys
func ToStringKey(values ...interface{}) string {
	parts := make([]string, 0, len(values))
	for _, value := range values {
		if valuer, ok := value.(driver.Valuer); ok {
			value, _ = valuer.Value()
		}
		if value == nil {
			parts = append(parts, "<nil>")
			continue
		}
		parts = append(parts, ToString(reflect.Indirect(reflect.ValueOf(value)).Interface()))
	}
	return strings.Join(parts, "_")
}

// ToString renders scalars the way cast does and anything else with fmt
func ToString(value interface{}) string {
	if s, err := cast.ToStringE(value); err == nil {
		return s
	}
	return fmt.Sprint(value)
}

// Contains reports whether elem is in elems
func Contains(elems []string, elem string) bool {
	for _, e := range elems {
		if e == elem {
			return true
		}
	}
	return false
}

// Union appends the elements of src missing from dst, keeping order
func Union(dst []string, src ...string) []string {
	results := append(make([]string, 0, len(dst)+len(src)), dst...)
	for _, s := range src {
		if !Contains(results, s) {
			results = append(results, s)
		}
	}
	return results
}

// AssertEqual reports deep equality, functions are equal when they share the same code pointer
func AssertEqual(src, dst interface{}) bool {
	if src == nil || dst == nil {
		return src == dst
	}

	sv, dv := reflect.ValueOf(src), reflect.ValueOf(dst)
	if sv.Kind() == reflect.Func || dv.Kind() == reflect.Func {
		return sv.Type() == dv.Type() && sv.Pointer() == dv.Pointer()
	}
	if reflect.DeepEqual(src, dst) {
		return true
	}

	if valuer, ok := src.(driver.Valuer); ok {
		src, _ = valuer.Value()
	}
	if valuer, ok := dst.(driver.Valuer); ok {
		dst, _ = valuer.Value()
	}
	return reflect.DeepEqual(src, dst)
}
