package column

import "fmt"

// typedColumn is the single generic implementation backing every concrete
// DataType below — the same "one struct, tagged variant" shape as the
// teacher's vector.Vector (class FLAT vs CONSTANT), specialized per
// element type via Go generics instead of storing `any` in a raw []byte.
type typedColumn[T any] struct {
	dt       *dataType[T]
	isConst  bool
	constLen int
	constVal T
	values   []T
}

func (c *typedColumn[T]) Type() DataType { return c.dt }

func (c *typedColumn[T]) Len() int {
	if c.isConst {
		return c.constLen
	}
	return len(c.values)
}

func (c *typedColumn[T]) Get(i int) any {
	if c.isConst {
		return c.constVal
	}
	return c.values[i]
}

func (c *typedColumn[T]) Append(v any) {
	if c.isConst {
		panic(fmt.Sprintf("column: Append called on constant %s column", c.dt.Name()))
	}
	c.values = append(c.values, v.(T))
}

func (c *typedColumn[T]) IsConst() bool { return c.isConst }

func (c *typedColumn[T]) Expand() Column {
	if !c.isConst {
		return c
	}
	values := make([]T, c.constLen)
	for i := range values {
		values[i] = c.constVal
	}
	return &typedColumn[T]{dt: c.dt, values: values}
}

// dataType is the generic DataType implementation every concrete type
// (Int16Type, StringType, ...) below is an instance of.
type dataType[T any] struct {
	name string
	zero T
}

func (dt *dataType[T]) Name() string { return dt.name }
func (dt *dataType[T]) Default() any { return dt.zero }

func (dt *dataType[T]) NewEmpty() Column {
	return &typedColumn[T]{dt: dt, values: []T{}}
}

func (dt *dataType[T]) NewConstant(n int, value any) Column {
	v := dt.zero
	if value != nil {
		v = value.(T)
	}
	return &typedColumn[T]{dt: dt, isConst: true, constLen: n, constVal: v}
}

func newType[T any](name string, zero T) *dataType[T] {
	return &dataType[T]{name: name, zero: zero}
}

// Concrete types. A handful is enough to exercise every code path the spec
// names (Int16/String appear in its own worked example, §8 scenario 6); the
// rest round out what an analytical column store realistically carries.
var (
	Int8Type    DataType = newType[int8]("Int8", 0)
	Int16Type   DataType = newType[int16]("Int16", 0)
	Int32Type   DataType = newType[int32]("Int32", 0)
	Int64Type   DataType = newType[int64]("Int64", 0)
	Float32Type DataType = newType[float32]("Float32", 0)
	Float64Type DataType = newType[float64]("Float64", 0)
	StringType  DataType = newType[string]("String", "")
	BoolType    DataType = newType[bool]("Bool", false)
)

// Registry implements the DataTypeRegistry external collaborator of
// spec §6: mapping a stable type name to its DataType, the way
// NativeCodec's decoder needs to turn a wire type name back into a
// constructor.
type Registry struct {
	byName map[string]DataType
}

// NewRegistry builds a registry seeded with the built-in types above.
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]DataType)}
	for _, dt := range []DataType{
		Int8Type, Int16Type, Int32Type, Int64Type,
		Float32Type, Float64Type, StringType, BoolType,
	} {
		r.Register(dt)
	}
	return r
}

// Register adds or overrides a type by name, letting a storage engine
// collaborator extend the registry with its own types without this
// package knowing about them.
func (r *Registry) Register(dt DataType) {
	r.byName[dt.Name()] = dt
}

// ByName looks up a type by its stable wire name.
func (r *Registry) ByName(name string) (DataType, bool) {
	dt, ok := r.byName[name]
	return dt, ok
}
