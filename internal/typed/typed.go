// Package typed converts untyped results returned through `any` based
// interfaces back into the caller's type parameter.
package typed

// Cast returns v as T. A nil v yields the zero value of T, which covers
// interface, pointer, slice and map types. ok is false only when v holds a
// value of another type.
func Cast[T any](v any) (result T, ok bool) {
	if v == nil {
		return result, true
	}
	result, ok = v.(T)
	return result, ok
}
