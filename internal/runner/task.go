package runner

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Task is a unit of background work fired by the cron runner.
type Task interface {
	// Name identifies the task in logs and for RunOnce.
	Name() string

	// Schedule is a six field cron expression (seconds first).
	Schedule() string

	Run(ctx context.Context) error

	// Timeout bounds one run. Zero leaves the run unbounded.
	Timeout() time.Duration
}

// TaskRegistry holds the tasks a Runner schedules.
type TaskRegistry struct {
	tasks map[string]Task
}

func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{tasks: make(map[string]Task)}
}

// Register adds task. Names must be unique.
func (r *TaskRegistry) Register(task Task) error {
	if task == nil {
		return fmt.Errorf("nil task")
	}
	name := task.Name()
	if name == "" {
		return fmt.Errorf("task name is empty")
	}
	if _, dup := r.tasks[name]; dup {
		return fmt.Errorf("task %q already registered", name)
	}
	r.tasks[name] = task
	return nil
}

// Get returns a task by name.
func (r *TaskRegistry) Get(name string) (Task, bool) {
	task, exists := r.tasks[name]
	return task, exists
}

// Names lists registered task names in sorted order.
func (r *TaskRegistry) Names() []string {
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
