// Package scheduler repeats a publish run on a fixed interval
package scheduler

import (
	"context"
	"time"
)

// Scheduler defines the interface for run schedulers
type Scheduler interface {
	// Start begins the scheduling loop
	Start(ctx context.Context) error

	// Stop gracefully stops the scheduler
	Stop() error

	// Wait blocks until the scheduling loop has exited
	Wait()

	// Status returns the current scheduler status
	Status() *Status
}

// Status represents the current state of a scheduler
type Status struct {
	Running        bool
	LastRunTime    time.Time
	NextRunTime    time.Time
	TotalRuns      int
	SuccessfulRuns int
	FailedRuns     int
	LastError      string
}

// Config contains scheduler configuration
type Config struct {
	// Interval specifies the duration between runs
	Interval time.Duration

	// RunImmediately starts the first run at Start instead of one
	// interval later
	RunImmediately bool
}

// Runner is the job a scheduler repeats
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context) error

// Run calls f(ctx)
func (f RunnerFunc) Run(ctx context.Context) error {
	return f(ctx)
}
