package workflowstate

import (
	"log/slog"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/modflow/modflow/backend/converter"
	"github.com/modflow/modflow/core"
	"github.com/modflow/modflow/internal/command"
	"github.com/modflow/modflow/internal/sync"
)

func newState() *WfState {
	i := core.NewWorkflowInstance("instance", "execution")
	return NewWorkflowState(i, slog.Default(), converter.DefaultConverter, clock.NewMock())
}

func Test_ScheduleEventIDs_Increase(t *testing.T) {
	wf := newState()

	require.Equal(t, int64(1), wf.GetNextScheduleEventID())
	require.Equal(t, int64(2), wf.GetNextScheduleEventID())
	require.Equal(t, int64(3), wf.GetNextScheduleEventID())
}

func Test_Commands_TrackAndRemove(t *testing.T) {
	wf := newState()

	c1 := command.NewScheduleTaskCommand(wf.GetNextScheduleEventID(), "a", nil, nil)
	c2 := command.NewScheduleTaskCommand(wf.GetNextScheduleEventID(), "b", nil, nil)
	wf.AddCommand(c1)
	wf.AddCommand(c2)

	require.Equal(t, c1, wf.CommandByScheduleEventID(1))
	require.Equal(t, c2, wf.CommandByScheduleEventID(2))
	require.Nil(t, wf.CommandByScheduleEventID(3))

	wf.RemoveCommand(c1)
	require.Nil(t, wf.CommandByScheduleEventID(1))
	require.Len(t, wf.Commands(), 1)
}

func Test_BeginWait_OnlyOneOutstanding(t *testing.T) {
	wf := newState()

	deadline := time.Now().Add(time.Hour)
	require.NoError(t, wf.BeginWait("review", &deadline))

	ow := wf.OpenWait()
	require.NotNil(t, ow)
	require.Equal(t, "review", ow.Signal)
	require.Equal(t, deadline, *ow.Deadline)

	require.Error(t, wf.BeginWait("other", nil))

	wf.FinishWait()
	require.Nil(t, wf.OpenWait())
	require.NoError(t, wf.BeginWait("other", nil))
}

func Test_ReceiveSignal_DeliversToChannel(t *testing.T) {
	wf := newState()
	ctx := WithWorkflowState(sync.Background(), wf)

	ch := GetSignalChannel[string](ctx, converter.DefaultConverter, wf, "review")

	p, err := converter.DefaultConverter.To("approved")
	require.NoError(t, err)
	ReceiveSignal(wf, "review", p)

	v, ok := ch.ReceiveNonblocking()
	require.True(t, ok)
	require.Equal(t, "approved", v)
}

func Test_ReceiveSignal_BuffersUntilSubscribed(t *testing.T) {
	wf := newState()
	ctx := WithWorkflowState(sync.Background(), wf)

	p1, err := converter.DefaultConverter.To("first")
	require.NoError(t, err)
	p2, err := converter.DefaultConverter.To("second")
	require.NoError(t, err)

	// Signals arrive before workflow code subscribes
	ReceiveSignal(wf, "review", p1)
	ReceiveSignal(wf, "review", p2)

	ch := GetSignalChannel[string](ctx, converter.DefaultConverter, wf, "review")

	v, ok := ch.ReceiveNonblocking()
	require.True(t, ok)
	require.Equal(t, "first", v)

	v, ok = ch.ReceiveNonblocking()
	require.True(t, ok)
	require.Equal(t, "second", v)
}

func Test_GetSignalChannel_SameChannelForName(t *testing.T) {
	wf := newState()
	ctx := WithWorkflowState(sync.Background(), wf)

	ch1 := GetSignalChannel[string](ctx, converter.DefaultConverter, wf, "review")
	ch2 := GetSignalChannel[string](ctx, converter.DefaultConverter, wf, "review")

	require.Equal(t, ch1, ch2)
}

func Test_DecodingSettable_ResolvesFuture(t *testing.T) {
	f := sync.NewFuture[int]()
	ds := AsDecodingSettable(converter.DefaultConverter, f)

	p, err := converter.DefaultConverter.To(42)
	require.NoError(t, err)
	require.NoError(t, ds(p, nil))

	cr := sync.NewCoroutine(sync.Background(), func(ctx sync.Context) error {
		v, err := f.Get(ctx)
		require.NoError(t, err)
		require.Equal(t, 42, v)
		return nil
	})
	cr.Execute()
	require.True(t, cr.Finished())
}
