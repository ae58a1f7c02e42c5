package sync

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Context_WithValue(t *testing.T) {
	ctx := WithValue(Background(), "key", 42)

	require.Equal(t, 42, ctx.Value("key"))
	require.Nil(t, ctx.Value("other"))
}

func Test_Context_WithCancel(t *testing.T) {
	ctx, cancel := WithCancel(Background())

	require.Nil(t, ctx.Err())
	require.False(t, ctx.Done().(ChannelInternal[struct{}]).Closed())

	cancel()

	require.Equal(t, Canceled, ctx.Err())
	require.True(t, ctx.Done().(ChannelInternal[struct{}]).Closed())
}

func Test_Context_CancelPropagatesToChildren(t *testing.T) {
	parent, cancel := WithCancel(Background())
	child, _ := WithCancel(parent)

	cancel()

	require.Equal(t, Canceled, parent.Err())
	require.Equal(t, Canceled, child.Err())
}

func Test_Context_ChildCancelDoesNotAffectParent(t *testing.T) {
	parent, _ := WithCancel(Background())
	child, cancelChild := WithCancel(parent)

	cancelChild()

	require.Nil(t, parent.Err())
	require.Equal(t, Canceled, child.Err())
}
