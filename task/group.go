// Package task runs groups of cooperating goroutines, such as a Publisher
// and the signal handler which stops it.
package task

import (
	"context"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Group is a group of tasks which are executed concurrently, and which are
// collectively waited on. The first task to return a non-nil error cancels
// the Group's Context. Group is not itself thread-safe.
type Group struct {
	// Context of the Group, which is cancelled by:
	//  * Any task of the Group returning a non-nil error,
	//  * An explicit call to Cancel, or
	//  * Cancellation of the parent Context of the Group.
	//
	// Tasks should monitor Context and return upon its cancellation.
	ctx      context.Context
	cancelFn context.CancelFunc

	tasks   []task
	eg      *errgroup.Group
	started bool
}

type task struct {
	desc string
	fn   func() error
}

// NewGroup returns a new, empty Group with the given parent Context.
func NewGroup(ctx context.Context) *Group {
	ctx, cancel := context.WithCancel(ctx)
	eg, ctx := errgroup.WithContext(ctx)
	return &Group{ctx: ctx, eg: eg, cancelFn: cancel}
}

// Context returns the Group Context.
func (g *Group) Context() context.Context { return g.ctx }

// Cancel the Group Context.
func (g *Group) Cancel() { g.cancelFn() }

// Queue a task for execution. Queue panics if called after GoRun.
func (g *Group) Queue(desc string, fn func() error) {
	if g.started {
		panic("Queue called after GoRun")
	}
	g.tasks = append(g.tasks, task{desc: desc, fn: fn})
}

// QueueSignalHandler queues a task which cancels the Group upon the first
// of |sigs|, or returns when the Group is otherwise cancelled.
func (g *Group) QueueSignalHandler(sigs ...os.Signal) {
	var ch = make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)

	g.Queue("signal handler", func() error {
		defer signal.Stop(ch)

		select {
		case sig := <-ch:
			log.WithField("signal", sig).Info("caught signal")
			g.Cancel()
		case <-g.ctx.Done():
		}
		return nil
	})
}

// GoRun all queued tasks. GoRun panics if called more than once.
func (g *Group) GoRun() {
	if g.started {
		panic("GoRun already called")
	}
	g.started = true

	for i := range g.tasks {
		var t = g.tasks[i]
		g.eg.Go(func() error { return errors.WithMessage(t.fn(), t.desc) })
	}
}

// Wait for all tasks to complete, returning the first non-nil error.
// Wait panics if GoRun wasn't called.
func (g *Group) Wait() error {
	if !g.started {
		panic("Wait called before GoRun")
	}
	defer g.cancelFn()
	return g.eg.Wait()
}
