package main

import (
	"time"

	"github.com/modflow/modflow/workflow"
)

// SignalPostReviewed is sent by the moderation UI when a reviewer decides on a post.
const SignalPostReviewed = "post.reviewed"

type ReviewDecision struct {
	Approved bool   `json:"approved"`
	Reviewer string `json:"reviewer"`
	Reason   string `json:"reason,omitempty"`
}

// ModeratePost waits for a review decision for up to reviewTimeout. If no decision
// arrives in time, the post is auto-published.
func ModeratePost(ctx workflow.Context, postID string, reviewTimeout time.Duration) (string, error) {
	logger := workflow.Logger(ctx)
	logger.Info("moderating post", "post_id", postID)

	decision, reviewed, err := workflow.WaitForSignal[ReviewDecision](ctx, SignalPostReviewed, reviewTimeout)
	if err != nil {
		return "", err
	}

	if !reviewed {
		logger.Info("review deadline expired, auto-publishing", "post_id", postID)

		return workflow.ExecuteTask[string](ctx, workflow.DefaultTaskOptions, AutoPublishPost, postID).Get(ctx)
	}

	if !decision.Approved {
		logger.Info("post rejected", "post_id", postID, "reviewer", decision.Reviewer)

		return workflow.ExecuteTask[string](ctx, workflow.DefaultTaskOptions, RejectPost, postID, decision.Reason).Get(ctx)
	}

	logger.Info("post approved", "post_id", postID, "reviewer", decision.Reviewer)

	return workflow.ExecuteTask[string](ctx, workflow.DefaultTaskOptions, PublishPost, postID).Get(ctx)
}
