package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/modflow/modflow/tester"
)

func Test_ModeratePost_Approved(t *testing.T) {
	tester := tester.NewWorkflowTester[string](ModeratePost)

	tester.OnTask(PublishPost, mock.Anything, "post-1").Return("published", nil)

	tester.SignalWorkflow(SignalPostReviewed, ReviewDecision{Approved: true, Reviewer: "alice"})

	tester.Execute(context.Background(), "post-1", 48*time.Hour)

	require.True(t, tester.WorkflowFinished())

	result, err := tester.WorkflowResult()
	require.NoError(t, err)
	require.Equal(t, "published", result)
	tester.AssertExpectations(t)
}

func Test_ModeratePost_Rejected(t *testing.T) {
	tester := tester.NewWorkflowTester[string](ModeratePost)

	tester.OnTask(RejectPost, mock.Anything, "post-1", "spam").Return("rejected", nil)

	tester.SignalWorkflow(SignalPostReviewed, ReviewDecision{Approved: false, Reviewer: "alice", Reason: "spam"})

	tester.Execute(context.Background(), "post-1", 48*time.Hour)

	require.True(t, tester.WorkflowFinished())

	result, err := tester.WorkflowResult()
	require.NoError(t, err)
	require.Equal(t, "rejected", result)
	tester.AssertExpectations(t)
}

func Test_ModeratePost_DeadlineExpired(t *testing.T) {
	tester := tester.NewWorkflowTester[string](ModeratePost)

	tester.OnTask(AutoPublishPost, mock.Anything, "post-1").Return("published", nil)

	start := tester.Now()

	tester.Execute(context.Background(), "post-1", 48*time.Hour)

	require.True(t, tester.WorkflowFinished())
	require.Equal(t, 48*time.Hour, tester.Now().Sub(start))

	result, err := tester.WorkflowResult()
	require.NoError(t, err)
	require.Equal(t, "published", result)
	tester.AssertExpectations(t)
}

func Test_ModeratePost_SignalBeforeDeadline(t *testing.T) {
	tester := tester.NewWorkflowTester[string](ModeratePost)

	tester.OnTask(PublishPost, mock.Anything, "post-1").Return("published", nil)

	// Reviewer decides a day into the two-day window
	tester.ScheduleCallback(24*time.Hour, func() {
		tester.SignalWorkflow(SignalPostReviewed, ReviewDecision{Approved: true, Reviewer: "bob"})
	})

	tester.Execute(context.Background(), "post-1", 48*time.Hour)

	require.True(t, tester.WorkflowFinished())

	result, err := tester.WorkflowResult()
	require.NoError(t, err)
	require.Equal(t, "published", result)

	// The auto-publish task never ran
	tester.AssertExpectations(t)
}
