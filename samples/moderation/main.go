package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/modflow/modflow/backend"
	"github.com/modflow/modflow/backend/memory"
	"github.com/modflow/modflow/backend/sqlitestore"
	"github.com/modflow/modflow/client"
	"github.com/modflow/modflow/worker"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())

	b := getBackend()
	defer b.Close()

	// Run worker
	w := runWorker(ctx, b)

	// Start workflow via client
	c := client.New(b)

	postID := uuid.NewString()
	posts.Add(&Post{ID: postID, Title: "Hello world", Status: PostStatusPending})

	wf, err := c.CreateWorkflowInstance(ctx, client.WorkflowInstanceOptions{
		InstanceID: postID,
	}, ModeratePost, postID, time.Second*10)
	if err != nil {
		log.Fatal("could not start workflow:", err)
	}

	// Simulate a reviewer approving the post before the deadline
	go func() {
		time.Sleep(time.Second * 3)

		err := c.SignalWorkflow(ctx, wf.InstanceID, SignalPostReviewed, ReviewDecision{
			Approved: true,
			Reviewer: "alice",
		})
		if err != nil {
			log.Println("could not signal workflow:", err)
		}
	}()

	result, err := client.GetWorkflowResult[string](ctx, c, wf, time.Second*30)
	if err != nil {
		log.Fatal(err)
	}

	log.Println("Workflow finished. Result:", result)

	cancel()
	w.WaitForCompletion()
}

func getBackend() backend.Backend {
	b := flag.String("backend", "memory", "backend to use: memory, sqlite")
	flag.Parse()

	switch *b {
	case "memory":
		return memory.NewBackend()

	case "sqlite":
		return sqlitestore.NewSqliteBackend("moderation.sqlite")

	default:
		panic("unknown backend " + *b)
	}
}

func runWorker(ctx context.Context, b backend.Backend) *worker.Worker {
	w := worker.New(b, nil)

	if err := w.RegisterWorkflow(ModeratePost); err != nil {
		log.Fatal("could not register workflow:", err)
	}

	for _, t := range []any{PublishPost, RejectPost, AutoPublishPost} {
		if err := w.RegisterTask(t); err != nil {
			log.Fatal("could not register task:", err)
		}
	}

	if err := w.Start(ctx); err != nil {
		panic("could not start worker")
	}

	return w
}
