// Package lifecycle runs the daemon's long-lived jobs and its shutdown hooks.
package lifecycle

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"

	"golang.org/x/sync/errgroup"
)

type job struct {
	name string
	run  func(context.Context) error
}

type Manager struct {
	mu           sync.Mutex
	runJobs      []job
	shutdownJobs []job
}

func NewManager() *Manager {
	return &Manager{}
}

// AddRun registers a job that runs until its context is cancelled. The first
// job to fail cancels the others.
func (m *Manager) AddRun(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.runJobs = append(m.runJobs, job{name: name, run: fn})
	m.mu.Unlock()
}

// AddShutdown registers a hook run, in registration order, after every run
// job has returned.
func (m *Manager) AddShutdown(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.shutdownJobs = append(m.shutdownJobs, job{name: name, run: fn})
	m.mu.Unlock()
}

// StartAndWait runs all jobs until parent is done, one of sig arrives or a
// job fails, then runs the shutdown hooks.
func (m *Manager) StartAndWait(parent context.Context, sig ...os.Signal) error {
	ctx := parent
	if len(sig) > 0 {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(parent, sig...)
		defer stop()
	}

	runJobs, shutdownJobs := m.snapshot()

	g, runCtx := errgroup.WithContext(ctx)
	for _, j := range runJobs {
		g.Go(func() error {
			if err := j.run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				return &JobError{Name: j.name, Err: err}
			}
			return nil
		})
	}
	runErr := g.Wait()

	var shutdownErr error
	for _, j := range shutdownJobs {
		if err := j.run(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
			shutdownErr = errors.Join(shutdownErr, &JobError{Name: j.name, Err: err})
		}
	}
	return errors.Join(runErr, shutdownErr)
}

func (m *Manager) snapshot() ([]job, []job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]job(nil), m.runJobs...), append([]job(nil), m.shutdownJobs...)
}

// JobError names the job that failed.
type JobError struct {
	Name string
	Err  error
}

func (e *JobError) Error() string { return e.Name + ": " + e.Err.Error() }
func (e *JobError) Unwrap() error { return e.Err }
