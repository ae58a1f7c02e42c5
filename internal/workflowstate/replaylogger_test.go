package workflowstate

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/modflow/modflow/backend/converter"
	"github.com/modflow/modflow/core"
)

func Test_ReplayLogger_SuppressesDuringReplay(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	i := core.NewWorkflowInstance("instance", "execution")
	wf := NewWorkflowState(i, logger, converter.DefaultConverter, clock.NewMock())

	wf.SetReplaying(true)
	wf.Logger().Info("replayed")
	require.Empty(t, buf.String())

	wf.SetReplaying(false)
	wf.Logger().Info("live")
	require.Contains(t, buf.String(), "live")
	require.NotContains(t, buf.String(), "replayed")
}
