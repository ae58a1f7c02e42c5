package workflow

import "github.com/modflow/modflow/internal/sync"

type Future[T any] = sync.Future[T]
