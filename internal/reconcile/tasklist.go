// Package reconcile implements the snapshot/restore engine that drives a
// live modular runtime back to a target profile. Per-kind processors diff a
// live listing against the profile and queue corrective tasks; the Admin
// orchestrator repeats passes over the three unit layers until the runtime
// converges or the attempt budget runs out.
package reconcile

import (
	"context"
	"fmt"

	"baseline/pkg/logging"
)

// Op is the kind of corrective operation a task performs.
type Op string

const (
	OpInstall   Op = "install"
	OpUninstall Op = "uninstall"
	OpStart     Op = "start"
	OpStop      Op = "stop"
	// OpUpdate reconciles the required flag of features, distinct from any
	// lifecycle transition.
	OpUpdate Op = "update"
	// OpQuery stands for listing the live runtime; it appears in the report
	// when a listing itself fails.
	OpQuery Op = "query"
)

// taskKey identifies a task within one pass. At most one task exists per
// key per pass.
type taskKey struct {
	op  Op
	key string
}

func (k taskKey) String() string {
	return string(k.op) + " " + k.key
}

// Task is one queued corrective operation. Batched tasks carry a payload
// that later adds merge into.
type Task struct {
	Op  Op
	Key string

	// Payload holds batch state for merged tasks; processors type-assert it.
	Payload any

	run func(ctx context.Context) error
}

// NewTask creates a task with the given run function.
func NewTask(op Op, key string, run func(ctx context.Context) error) *Task {
	return &Task{Op: op, Key: key, run: run}
}

// Describe renders the task for diagnostics and dry-run output. Payloads
// implementing fmt.Stringer describe themselves.
func (t *Task) Describe() string {
	if s, ok := t.Payload.(fmt.Stringer); ok {
		return fmt.Sprintf("%s %s", t.Op, s)
	}
	return fmt.Sprintf("%s %s", t.Op, t.Key)
}

// TaskList accumulates the deduplicated corrective operations of one pass
// and executes them in insertion order.
type TaskList struct {
	tasks []*Task
	index map[taskKey]*Task
}

// NewTaskList creates an empty task list.
func NewTaskList() *TaskList {
	return &TaskList{index: make(map[taskKey]*Task)}
}

// Add queues a task unless one with the same (op, key) is already pending;
// the second attempt is dropped, not duplicated. It reports whether the
// task was queued.
func (l *TaskList) Add(op Op, key string, run func(ctx context.Context) error) bool {
	k := taskKey{op: op, key: key}
	if _, ok := l.index[k]; ok {
		return false
	}

	task := NewTask(op, key, run)
	l.index[k] = task
	l.tasks = append(l.tasks, task)
	return true
}

// AddIfAbsent returns the pending task for (op, key), seeding one if none
// exists yet. Callers merge batch payload into the returned task.
func (l *TaskList) AddIfAbsent(op Op, key string, seed func() *Task) *Task {
	k := taskKey{op: op, key: key}
	if task, ok := l.index[k]; ok {
		return task
	}

	task := seed()
	l.index[k] = task
	l.tasks = append(l.tasks, task)
	return task
}

// IsEmpty reports whether no tasks are queued.
func (l *TaskList) IsEmpty() bool {
	return len(l.tasks) == 0
}

// Len returns the number of queued tasks.
func (l *TaskList) Len() int {
	return len(l.tasks)
}

// Tasks returns the queued tasks in insertion order.
func (l *TaskList) Tasks() []*Task {
	return l.tasks
}

// Execute runs every queued task. Failures are handed to the report, which
// suppresses them unless the current attempt is the final one. Execute
// reports whether any task failed; the returned error is non-nil only when
// a failure was promoted to hard (or the context ended), which aborts the
// whole restore.
func (l *TaskList) Execute(ctx context.Context, report *Report) (failed bool, err error) {
	for _, task := range l.tasks {
		if ctx.Err() != nil {
			return failed, ctx.Err()
		}

		k := taskKey{op: task.Op, key: task.Key}
		ordinal := report.beginExecution(k)
		logging.Debug("TaskList", "Executing %s (%s attempt)", task.Describe(), ordinal)

		runErr := task.run(ctx)
		if runErr == nil {
			continue
		}

		failed = true
		switch report.record(k, runErr) {
		case OutcomeSuppressed:
			logging.Debug("TaskList", "Suppressed failure of %s (%s attempt): %v", task.Describe(), ordinal, runErr)
		case OutcomeFailed:
			logging.Error("TaskList", runErr, "Task %s failed on final attempt (%s)", task.Describe(), ordinal)
		}
	}

	if report.final && failed {
		return failed, report.Err()
	}
	return failed, nil
}
