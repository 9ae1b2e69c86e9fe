package edit

import (
	"fmt"
	"reflect"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/matthewbaird/entitykit/internal/types"
)

// equalOpts treat nil and empty containers alike and compare unexported
// struct fields instead of panicking on them.
var equalOpts = []cmp.Option{
	cmpopts.EquateEmpty(),
	cmp.Exporter(func(reflect.Type) bool { return true }),
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return blank(a) && blank(b)
	}
	return cmp.Equal(a, b, equalOpts...)
}

// blank reports nil, a nil pointer, or an empty slice or map.
func blank(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map:
		return rv.Len() == 0
	case reflect.Pointer:
		return rv.IsNil()
	}
	return false
}

// instancesEqual compares two instances field by field. A missing field and
// a field holding nil are the same.
func instancesEqual(a, b *types.Instance) bool {
	if a.ID != b.ID || a.Type != b.Type {
		return false
	}
	for k, v := range a.Fields {
		if !valuesEqual(v, b.Fields[k]) {
			return false
		}
	}
	for k, v := range b.Fields {
		if _, ok := a.Fields[k]; !ok && !blank(v) {
			return false
		}
	}
	return true
}

func cloneInstance(in *types.Instance) *types.Instance {
	if in == nil {
		return nil
	}
	out := types.NewInstance(in.Type, in.ID)
	for k, v := range in.Fields {
		out.Fields[k] = cloneValue(v)
	}
	return out
}

// cloneValue deep-copies the value shapes a draft can hold. Anything else is
// treated as immutable and shared.
func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		if x == nil {
			return x
		}
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		if x == nil {
			return x
		}
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		if x == nil {
			return x
		}
		return append([]string(nil), x...)
	case []byte:
		if x == nil {
			return x
		}
		return append([]byte(nil), x...)
	case types.Ref:
		return cloneRef(x)
	case *types.Ref:
		if x == nil {
			return x
		}
		r := cloneRef(*x)
		return &r
	case []types.Ref:
		if x == nil {
			return x
		}
		out := make([]types.Ref, len(x))
		for i, r := range x {
			out[i] = cloneRef(r)
		}
		return out
	case types.Upload:
		x.Data = append([]byte(nil), x.Data...)
		return x
	case *types.Upload:
		if x == nil {
			return x
		}
		u := *x
		u.Data = append([]byte(nil), x.Data...)
		return &u
	default:
		return v
	}
}

func cloneRef(r types.Ref) types.Ref {
	if r.Snapshot != nil {
		r.Snapshot, _ = cloneValue(r.Snapshot).(map[string]any)
	}
	return r
}

// spliceAt returns a copy of list with value placed at index. index equal to
// the length appends; a nil value removes the element at index. The input is
// never modified, and element types are widened to []any when value does not
// fit the existing slice.
func spliceAt(list, value any, index int) (any, error) {
	var cur reflect.Value
	switch {
	case list != nil:
		cur = reflect.ValueOf(list)
		if cur.Kind() != reflect.Slice {
			return nil, fmt.Errorf("%w: holds %T", ErrNotList, list)
		}
	case value != nil:
		cur = reflect.MakeSlice(reflect.SliceOf(reflect.TypeOf(value)), 0, 0)
	default:
		cur = reflect.ValueOf([]any{})
	}

	n := cur.Len()
	if index < 0 || index > n || (value == nil && index == n) {
		return nil, fmt.Errorf("%w: index %d, length %d", ErrIndexOutOfRange, index, n)
	}

	if value == nil {
		out := reflect.MakeSlice(cur.Type(), 0, n-1)
		out = reflect.AppendSlice(out, cur.Slice(0, index))
		out = reflect.AppendSlice(out, cur.Slice(index+1, n))
		return out.Interface(), nil
	}

	val := reflect.ValueOf(value)
	if !val.Type().AssignableTo(cur.Type().Elem()) {
		widened := make([]any, n)
		for i := 0; i < n; i++ {
			widened[i] = cur.Index(i).Interface()
		}
		cur = reflect.ValueOf(widened)
	}

	out := reflect.MakeSlice(cur.Type(), n, n+1)
	reflect.Copy(out, cur)
	if index == n {
		out = reflect.Append(out, val)
	} else {
		out.Index(index).Set(val)
	}
	return out.Interface(), nil
}
