package sync

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Future_GetBlocksUntilSet(t *testing.T) {
	f := NewFuture[int]()

	var got int
	cr := NewCoroutine(Background(), func(ctx Context) error {
		var err error
		got, err = f.Get(ctx)
		return err
	})

	cr.Execute()
	require.True(t, cr.Blocked())
	require.False(t, f.Ready())

	f.Set(42, nil)
	require.True(t, f.Ready())

	cr.Execute()
	require.True(t, cr.Finished())
	require.NoError(t, cr.Error())
	require.Equal(t, 42, got)
}

func Test_Future_GetReturnsError(t *testing.T) {
	f := NewFuture[int]()
	expected := errors.New("expected")

	f.Set(0, expected)

	cr := NewCoroutine(Background(), func(ctx Context) error {
		_, err := f.Get(ctx)
		require.Equal(t, expected, err)
		return nil
	})

	cr.Execute()
	require.True(t, cr.Finished())
}

func Test_Future_SetTwicePanics(t *testing.T) {
	f := NewFuture[int]()
	f.Set(42, nil)

	require.Panics(t, func() {
		f.Set(42, nil)
	})
}
