package cache

import (
	"encoding/json"
	"fmt"
	"reflect"
	"runtime"
	"sort"
	"strconv"
	"strings"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "::"

// KeySerializer builds stable cache keys from a name and a list of arguments.
// Adapters use it to implement KeyToString and QueryToString.
type KeySerializer interface {
	SerializeKey(name string, args ...any) string
}

// defaultKeySerializer walks arguments with reflection and writes a
// deterministic text form of each.
type defaultKeySerializer struct{}

// NewDefaultKeySerializer creates a new instance of the default key serializer.
func NewDefaultKeySerializer() KeySerializer {
	return defaultKeySerializer{}
}

// SerializeKey joins name and the serialized args with KeySeparator.
func (s defaultKeySerializer) SerializeKey(name string, args ...any) string {
	var b strings.Builder
	b.WriteString(name)
	for _, arg := range args {
		b.WriteString(KeySeparator)
		s.write(&b, reflect.ValueOf(arg))
	}
	return b.String()
}

func (s defaultKeySerializer) write(b *strings.Builder, rv reflect.Value) {
	if !rv.IsValid() {
		b.WriteString("nil")
		return
	}

	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			b.WriteString("nil")
			return
		}
		s.write(b, rv.Elem())
	case reflect.Interface:
		if rv.IsNil() {
			b.WriteString("interface:nil")
			return
		}
		s.write(b, rv.Elem())
	case reflect.Func:
		b.WriteString("func:")
		b.WriteString(funcName(rv))
	case reflect.Chan:
		fmt.Fprintf(b, "chan:%#x", rv.Pointer())
	case reflect.Slice:
		if rv.IsNil() {
			b.WriteString("slice:nil")
			return
		}
		s.writeList(b, "slice", rv)
	case reflect.Array:
		s.writeList(b, "array", rv)
	case reflect.Map:
		if rv.IsNil() {
			b.WriteString("map:nil")
			return
		}
		s.writeMap(b, rv)
	case reflect.Struct:
		s.writeStruct(b, rv)
	case reflect.String:
		b.WriteString(rv.String())
	case reflect.Bool:
		b.WriteString(strconv.FormatBool(rv.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		b.WriteString(strconv.FormatInt(rv.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		b.WriteString(strconv.FormatUint(rv.Uint(), 10))
	case reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		fmt.Fprintf(b, "%v", rv.Interface())
	default:
		s.writeJSON(b, rv)
	}
}

// funcName names a function by its symbol. Closures built by one factory
// share their symbol and code pointer whatever they captured, so their names
// do not tell instances apart, see HasClosure.
func funcName(rv reflect.Value) string {
	if rv.IsNil() {
		return "nil"
	}
	fn := runtime.FuncForPC(rv.Pointer())
	if fn == nil {
		return fmt.Sprintf("%#x", rv.Pointer())
	}
	return fn.Name()
}

// isClosure matches the compiler's "outer.funcN" naming of function literals
// and the "-fm" suffix of method values.
func isClosure(name string) bool {
	if strings.HasSuffix(name, "-fm") {
		return true
	}
	i := strings.LastIndex(name, ".func")
	if i < 0 {
		return false
	}
	suffix := name[i+len(".func"):]
	if j := strings.IndexByte(suffix, '.'); j >= 0 {
		suffix = suffix[:j]
	}
	_, err := strconv.Atoi(suffix)
	return err == nil
}

// HasClosure reports whether args hold a function literal or a method value.
// These may capture state the default serializer cannot see, so two of them
// can serialize to the same key while behaving differently.
func HasClosure(args ...any) bool {
	for _, arg := range args {
		if hasClosure(reflect.ValueOf(arg), 0) {
			return true
		}
	}
	return false
}

func hasClosure(rv reflect.Value, depth int) bool {
	if !rv.IsValid() || depth > 32 {
		return false
	}
	switch rv.Kind() {
	case reflect.Func:
		if rv.IsNil() {
			return false
		}
		fn := runtime.FuncForPC(rv.Pointer())
		return fn == nil || isClosure(fn.Name())
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return false
		}
		return hasClosure(rv.Elem(), depth+1)
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if hasClosure(rv.Index(i), depth+1) {
				return true
			}
		}
	case reflect.Map:
		iter := rv.MapRange()
		for iter.Next() {
			if hasClosure(iter.Value(), depth+1) {
				return true
			}
		}
	case reflect.Struct:
		rt := rv.Type()
		for i := 0; i < rt.NumField(); i++ {
			if rt.Field(i).IsExported() && hasClosure(rv.Field(i), depth+1) {
				return true
			}
		}
	}
	return false
}

func (s defaultKeySerializer) writeList(b *strings.Builder, label string, rv reflect.Value) {
	n := rv.Len()
	fmt.Fprintf(b, "%s[%d]:{", label, n)
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		s.write(b, rv.Index(i))
	}
	b.WriteByte('}')
}

// writeMap sorts entries by their serialized key.
func (s defaultKeySerializer) writeMap(b *strings.Builder, rv reflect.Value) {
	type entry struct{ key, value string }

	entries := make([]entry, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		var k, v strings.Builder
		s.write(&k, iter.Key())
		s.write(&v, iter.Value())
		entries = append(entries, entry{key: k.String(), value: v.String()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	fmt.Fprintf(b, "map[%d]:{", len(entries))
	for i, e := range entries {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(e.key)
		b.WriteByte('=')
		b.WriteString(e.value)
	}
	b.WriteByte('}')
}

// writeStruct writes exported fields only.
func (s defaultKeySerializer) writeStruct(b *strings.Builder, rv reflect.Value) {
	rt := rv.Type()
	b.WriteString("struct:{")
	first := true
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.WriteString(field.Name)
		b.WriteByte(':')
		s.write(b, rv.Field(i))
	}
	b.WriteByte('}')
}

func (s defaultKeySerializer) writeJSON(b *strings.Builder, rv reflect.Value) {
	if !rv.CanInterface() {
		fmt.Fprintf(b, "fallback:%s", rv.Type())
		return
	}
	data, err := json.Marshal(rv.Interface())
	if err != nil {
		fmt.Fprintf(b, "fallback:%s", rv.Type())
		return
	}
	b.WriteString("json:")
	b.Write(data)
}
