package sync

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Coroutine_CanAccessState(t *testing.T) {
	c := NewCoroutine(Background(), func(ctx Context) error {
		s := getCoState(ctx)
		require.NotNil(t, s)

		return nil
	})

	c.Execute()
}

func Test_Coroutine_MarkedAsDone(t *testing.T) {
	c := NewCoroutine(Background(), func(ctx Context) error {
		return nil
	})

	c.Execute()

	require.True(t, c.Finished())
}

func Test_Coroutine_MarkedAsBlocked(t *testing.T) {
	c := NewCoroutine(Background(), func(ctx Context) error {
		s := getCoState(ctx)

		s.Yield()

		require.FailNow(t, "should not reach this")

		return nil
	})

	c.Execute()

	require.True(t, c.Blocked())
	require.False(t, c.Finished())
}

func Test_Coroutine_Continue(t *testing.T) {
	c := NewCoroutine(Background(), func(ctx Context) error {
		s := getCoState(ctx)
		s.Yield()

		return nil
	})

	c.Execute()

	require.True(t, c.Blocked())
	require.False(t, c.Finished())

	c.Execute()

	require.False(t, c.Blocked())
	require.True(t, c.Finished())
}

func Test_Coroutine_Continue_WhenFinished(t *testing.T) {
	c := NewCoroutine(Background(), func(ctx Context) error {
		return nil
	})

	c.Execute()
	require.True(t, c.Finished())

	c.Execute()
	require.True(t, c.Finished())
}

func Test_Coroutine_Error(t *testing.T) {
	expected := errors.New("workflow failed")

	c := NewCoroutine(Background(), func(ctx Context) error {
		return expected
	})

	c.Execute()

	require.True(t, c.Finished())
	require.Equal(t, expected, c.Error())
}

func Test_Coroutine_PanicIsCaptured(t *testing.T) {
	c := NewCoroutine(Background(), func(ctx Context) error {
		panic("boom")
	})

	c.Execute()

	require.True(t, c.Finished())
	require.Error(t, c.Error())
}

func Test_Coroutine_ExitIfBlocked(t *testing.T) {
	reached := false

	c := NewCoroutine(Background(), func(ctx Context) error {
		s := getCoState(ctx)
		s.Yield()

		reached = true

		return nil
	})

	c.Execute()
	require.True(t, c.Blocked())

	c.Exit()

	require.True(t, c.Finished())
	require.False(t, reached)
}

func Test_Coroutine_DeferredFunctionsRunOnExit(t *testing.T) {
	deferred := false

	c := NewCoroutine(Background(), func(ctx Context) error {
		defer func() {
			deferred = true
		}()

		s := getCoState(ctx)
		s.Yield()

		return nil
	})

	c.Execute()
	c.Exit()

	require.True(t, c.Finished())
	require.True(t, deferred)
}
