package cache

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// ArgSeparator delimits method arguments in a serialized call.
const ArgSeparator = "|"

// KeySerializer renders a method call into a deterministic string. The
// result is hashed into a key identifier and never stored verbatim.
type KeySerializer interface {
	SerializeKey(method string, args ...any) string
}

// ReflectSerializer walks arguments with reflection. Function values are
// rendered by pointer and are therefore only stable inside one process.
type ReflectSerializer struct{}

// NewKeySerializer returns the reflection based serializer.
func NewKeySerializer() KeySerializer {
	return ReflectSerializer{}
}

// SerializeKey implements KeySerializer.
func (s ReflectSerializer) SerializeKey(method string, args ...any) string {
	var b strings.Builder
	b.WriteString(method)
	for _, arg := range args {
		b.WriteString(ArgSeparator)
		s.write(&b, arg)
	}
	return b.String()
}

func (s ReflectSerializer) write(b *strings.Builder, v any) {
	if v == nil {
		b.WriteString("nil")
		return
	}
	s.writeValue(b, reflect.ValueOf(v))
}

func (s ReflectSerializer) writeValue(b *strings.Builder, rv reflect.Value) {
	switch rv.Kind() {
	case reflect.Invalid:
		b.WriteString("nil")
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		if rv.IsNil() {
			fmt.Fprintf(b, "%s:nil", rv.Kind())
			return
		}
		fmt.Fprintf(b, "%s:%#x", rv.Kind(), rv.Pointer())
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			b.WriteString("nil")
			return
		}
		s.writeValue(b, rv.Elem())
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
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		fmt.Fprintf(b, "%v", rv.Interface())
	default:
		s.writeJSON(b, rv)
	}
}

func (s ReflectSerializer) writeList(b *strings.Builder, label string, rv reflect.Value) {
	fmt.Fprintf(b, "%s[%d]:{", label, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		s.writeValue(b, rv.Index(i))
	}
	b.WriteByte('}')
}

func (s ReflectSerializer) writeMap(b *strings.Builder, rv reflect.Value) {
	type pair struct{ key, value string }

	pairs := make([]pair, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		var kb, vb strings.Builder
		s.writeValue(&kb, iter.Key())
		s.writeValue(&vb, iter.Value())
		pairs = append(pairs, pair{key: kb.String(), value: vb.String()})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })

	fmt.Fprintf(b, "map[%d]:{", len(pairs))
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p.key)
		b.WriteByte('=')
		b.WriteString(p.value)
	}
	b.WriteByte('}')
}

func (s ReflectSerializer) writeStruct(b *strings.Builder, rv reflect.Value) {
	rt := rv.Type()
	b.WriteString("struct:{")
	written := 0
	for i := 0; i < rv.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		if written > 0 {
			b.WriteByte(',')
		}
		b.WriteString(field.Name)
		b.WriteByte(':')
		s.writeValue(b, rv.Field(i))
		written++
	}
	b.WriteByte('}')
}

func (s ReflectSerializer) writeJSON(b *strings.Builder, rv reflect.Value) {
	if !rv.CanInterface() {
		fmt.Fprintf(b, "opaque:%s", rv.Type())
		return
	}
	data, err := json.Marshal(rv.Interface())
	if err != nil {
		fmt.Fprintf(b, "opaque:%s", rv.Type())
		return
	}
	b.WriteString("json:")
	b.Write(data)
}
