// Package registry maps workflow and task names to their implementations.
package registry

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/modflow/modflow/internal/args"
	"github.com/modflow/modflow/internal/fn"
)

type Registry struct {
	sync.Mutex

	workflowMap map[string]any
	taskMap     map[string]any
}

func New() *Registry {
	return &Registry{
		workflowMap: make(map[string]any),
		taskMap:     make(map[string]any),
	}
}

func (r *Registry) RegisterWorkflow(workflow any, opts ...RegisterOption) error {
	cfg := registerOptions(opts).apply(RegisterConfig{})

	wfType := reflect.TypeOf(workflow)
	if wfType == nil || wfType.Kind() != reflect.Func {
		return fmt.Errorf("workflow must be a function")
	}

	if wfType.NumIn() == 0 || !args.IsOwnContext(wfType.In(0)) {
		return fmt.Errorf("workflow must accept workflow.Context as its first argument")
	}

	name := cfg.Name
	if name == "" {
		name = fn.Name(workflow)
	}

	r.Lock()
	defer r.Unlock()

	if _, ok := r.workflowMap[name]; ok {
		return fmt.Errorf("workflow %q already registered", name)
	}

	r.workflowMap[name] = workflow

	return nil
}

func (r *Registry) RegisterTask(task any, opts ...RegisterOption) error {
	cfg := registerOptions(opts).apply(RegisterConfig{})

	taskType := reflect.TypeOf(task)
	if taskType == nil || taskType.Kind() != reflect.Func {
		return fmt.Errorf("task must be a function")
	}

	name := cfg.Name
	if name == "" {
		name = fn.Name(task)
	}

	r.Lock()
	defer r.Unlock()

	if _, ok := r.taskMap[name]; ok {
		return fmt.Errorf("task %q already registered", name)
	}

	r.taskMap[name] = task

	return nil
}

func (r *Registry) GetWorkflow(name string) (any, error) {
	r.Lock()
	defer r.Unlock()

	if workflow, ok := r.workflowMap[name]; ok {
		return workflow, nil
	}

	return nil, fmt.Errorf("workflow %q not found", name)
}

func (r *Registry) GetTask(name string) (any, error) {
	r.Lock()
	defer r.Unlock()

	if task, ok := r.taskMap[name]; ok {
		return task, nil
	}

	return nil, fmt.Errorf("task %q not found", name)
}
