package column

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMaterializedColumnAppendAndGet(t *testing.T) {
	col := Int16Type.NewEmpty()
	col.Append(int16(1))
	col.Append(int16(2))
	col.Append(int16(3))

	require.Equal(t, 3, col.Len())
	require.Equal(t, int16(2), col.Get(1))
	require.False(t, col.IsConst())
}

func TestConstantColumnExpandsToMaterialized(t *testing.T) {
	col := StringType.NewConstant(4, "x")
	require.True(t, col.IsConst())
	require.Equal(t, 4, col.Len())
	require.Equal(t, "x", col.Get(3))

	expanded := col.Expand()
	require.False(t, expanded.IsConst())
	require.Equal(t, 4, expanded.Len())
	for i := 0; i < 4; i++ {
		require.Equal(t, "x", expanded.Get(i))
	}
}

func TestConstantColumnDefaultsWhenValueIsNil(t *testing.T) {
	col := Int32Type.NewConstant(2, nil)
	require.Equal(t, int32(0), col.Get(0))
}

func TestAppendOnConstantColumnPanics(t *testing.T) {
	col := BoolType.NewConstant(1, true)
	require.Panics(t, func() { col.Append(false) })
}

func TestRegistryLooksUpBuiltinTypesByName(t *testing.T) {
	r := NewRegistry()
	dt, ok := r.ByName("Int64")
	require.True(t, ok)
	require.Equal(t, "Int64", dt.Name())

	_, ok = r.ByName("NoSuchType")
	require.False(t, ok)
}
