package args

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modflow/modflow/backend/converter"
	"github.com/modflow/modflow/internal/sync"
)

func Test_ArgsToInputs(t *testing.T) {
	inputs, err := ArgsToInputs(converter.DefaultConverter, 1, "two", false)
	require.NoError(t, err)
	require.Len(t, inputs, 3)
}

func Test_InputsToArgs(t *testing.T) {
	fn := func(a int, b string) error { return nil }

	inputs, err := ArgsToInputs(converter.DefaultConverter, 42, "hello")
	require.NoError(t, err)

	values, addContext, err := InputsToArgs(converter.DefaultConverter, reflect.ValueOf(fn), inputs)
	require.NoError(t, err)
	require.False(t, addContext)
	require.Equal(t, 42, values[0].Interface())
	require.Equal(t, "hello", values[1].Interface())
}

func Test_InputsToArgs_Context(t *testing.T) {
	fn := func(ctx context.Context, a int) error { return nil }

	inputs, err := ArgsToInputs(converter.DefaultConverter, 42)
	require.NoError(t, err)

	values, addContext, err := InputsToArgs(converter.DefaultConverter, reflect.ValueOf(fn), inputs)
	require.NoError(t, err)
	require.True(t, addContext)
	require.Equal(t, 42, values[1].Interface())
}

func Test_InputsToArgs_Mismatch(t *testing.T) {
	fn := func(a int, b string) error { return nil }

	inputs, err := ArgsToInputs(converter.DefaultConverter, 42)
	require.NoError(t, err)

	_, _, err = InputsToArgs(converter.DefaultConverter, reflect.ValueOf(fn), inputs)
	require.Error(t, err)
}

func Test_ReturnTypeMatch(t *testing.T) {
	require.NoError(t, ReturnTypeMatch[int](func() (int, error) { return 0, nil }))
	require.NoError(t, ReturnTypeMatch[int](func() int { return 0 }))
	require.NoError(t, ReturnTypeMatch[any](func() (string, error) { return "", nil }))
	require.NoError(t, ReturnTypeMatch[int](func() error { return nil }))
	require.NoError(t, ReturnTypeMatch[int](func() {}))

	require.Error(t, ReturnTypeMatch[int](func() (string, error) { return "", nil }))
	require.Error(t, ReturnTypeMatch[int](func() (int, string) { return 0, "" }))
	require.Error(t, ReturnTypeMatch[int](func() (int, int, error) { return 0, 0, nil }))
	require.Error(t, ReturnTypeMatch[int]("not a function"))
}

func Test_ParamsMatch(t *testing.T) {
	fn := func(ctx context.Context, a int, b string) error { return nil }

	require.NoError(t, ParamsMatch(fn, 42, "hello"))
	require.Error(t, ParamsMatch(fn, 42))
	require.Error(t, ParamsMatch(fn, "hello", 42))
	require.Error(t, ParamsMatch(fn, 42, "hello", true))
}

func Test_ParamsMatch_NilArgs(t *testing.T) {
	require.NoError(t, ParamsMatch(func(p *int) {}, nil))
	require.Error(t, ParamsMatch(func(v int) {}, nil))
}

func Test_IsOwnContext(t *testing.T) {
	require.True(t, IsOwnContext(reflect.TypeOf((*sync.Context)(nil)).Elem()))
	require.False(t, IsOwnContext(reflect.TypeOf((*context.Context)(nil)).Elem()))
	require.False(t, IsOwnContext(reflect.TypeOf(42)))
}
