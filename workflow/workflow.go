// Package workflow contains the types and operations available to workflow code.
// Workflow functions must be deterministic: instead of the time, goroutine, and
// channel primitives from the standard library they use the replay-safe equivalents
// from this package.
package workflow

import (
	"github.com/modflow/modflow/core"
)

type (
	// Instance identifies a single run of a workflow.
	Instance = core.WorkflowInstance

	// Workflow is a function taking a workflow Context as its first argument,
	// returning an optional result and an error.
	Workflow = any
)
