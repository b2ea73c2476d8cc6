package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"
)

// Task represents an asynchronous operation with a name and function.
type Task struct {
	Name string
	Func func(context.Context) error
}

// Result is the outcome of one task.
type Result struct {
	Name     string
	Err      error
	Duration time.Duration
}

// PanicError is recorded when a task panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// RunAll executes every task in its own goroutine and blocks until all of
// them have returned. Results are in the same order as tasks.
func RunAll(ctx context.Context, tasks []Task) []Result {
	results := make([]Result, len(tasks))
	if len(tasks) == 0 {
		return results
	}

	done := make(chan struct{}, len(tasks))
	for i, task := range tasks {
		go func() {
			defer func() { done <- struct{}{} }()
			results[i] = run(ctx, task)
		}()
	}
	for range len(tasks) {
		<-done
	}
	return results
}

// RunParallel executes tasks like RunAll and joins every failure into one
// error, or returns nil when all tasks succeeded.
func RunParallel(ctx context.Context, tasks []Task) error {
	var errs []error
	for _, res := range RunAll(ctx, tasks) {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Name, res.Err))
		}
	}
	return errors.Join(errs...)
}

func run(ctx context.Context, task Task) (res Result) {
	res.Name = task.Name
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		if r := recover(); r != nil {
			res.Err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	res.Err = task.Func(ctx)
	return res
}
