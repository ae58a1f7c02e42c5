package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/modflow/modflow/task"
)

type PostStatus string

const (
	PostStatusPending   PostStatus = "pending"
	PostStatusPublished PostStatus = "published"
	PostStatusRejected  PostStatus = "rejected"
)

type Post struct {
	ID     string
	Title  string
	Status PostStatus
}

// PostRepository is the application-side store the tasks write to. Stands in for a
// real database.
type PostRepository struct {
	mu    sync.Mutex
	posts map[string]*Post
}

func NewPostRepository() *PostRepository {
	return &PostRepository{posts: make(map[string]*Post)}
}

func (r *PostRepository) Add(post *Post) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.posts[post.ID] = post
}

func (r *PostRepository) SetStatus(id string, status PostStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	post, ok := r.posts[id]
	if !ok {
		return fmt.Errorf("post %s not found", id)
	}

	post.Status = status
	return nil
}

var posts = NewPostRepository()

func PublishPost(ctx context.Context, postID string) (string, error) {
	logger := task.Logger(ctx)
	logger.Info("publishing post", "post_id", postID, "attempt", task.Attempt(ctx))

	if err := posts.SetStatus(postID, PostStatusPublished); err != nil {
		return "", err
	}

	return string(PostStatusPublished), nil
}

func RejectPost(ctx context.Context, postID string, reason string) (string, error) {
	logger := task.Logger(ctx)
	logger.Info("rejecting post", "post_id", postID, "reason", reason)

	if err := posts.SetStatus(postID, PostStatusRejected); err != nil {
		return "", err
	}

	return string(PostStatusRejected), nil
}

// AutoPublishPost is the compensating task for an expired review deadline.
func AutoPublishPost(ctx context.Context, postID string) (string, error) {
	logger := task.Logger(ctx)
	logger.Info("auto-publishing post after review deadline", "post_id", postID)

	if err := posts.SetStatus(postID, PostStatusPublished); err != nil {
		return "", err
	}

	return string(PostStatusPublished), nil
}
