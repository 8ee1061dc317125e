// Package lifecycle implements process-wide termination signaling:
// a termination flag, graceful shutdown, and resource teardown.
//
// Grounded on an atexit-style test shape (exitCode(os.Signal), SIGINT/
// SIGKILL portable numbers) — SIGPIPE-ignoring and the immediate-vs-
// graceful signal split are this package's Go-idiomatic rendition of a
// signal(SIGPIPE, SIG_IGN) call plus SIGINT/SIGTERM handlers.
package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// Controller owns the process-wide terminate flag and the signal
// handling that sets it. SIGINT aborts immediately (developer safety
// net); SIGTERM initiates an orderly drain. SIGPIPE is ignored so that
// peer-closed sockets surface as ordinary write errors, not a killed
// process.
type Controller struct {
	terminated atomic.Bool
	cancel     context.CancelFunc
	ctx        context.Context
	sigCh      chan os.Signal
}

// New creates a Controller whose Context is canceled on SIGTERM; SIGINT
// ends the process.
func New() *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{cancel: cancel, ctx: ctx, sigCh: make(chan os.Signal, 4)}
	signal.Ignore(syscall.SIGPIPE)
	signal.Notify(c.sigCh, os.Interrupt, syscall.SIGTERM)
	go c.run()
	return c
}

func (c *Controller) run() {
	for sig := range c.sigCh {
		c.terminated.Store(true)
		c.cancel()
		if sig == os.Interrupt {
			// SIGINT: developer safety net, abort the process at once
			// (exit status 128+SIGINT).
			os.Exit(128 + 2)
		}
	}
}

// Terminated reports whether a shutdown signal has been received.
func (c *Controller) Terminated() bool { return c.terminated.Load() }

// Context is canceled the moment a shutdown signal arrives; workers and
// the controller select on it between messages and between HTTP
// transactions, never mid-transaction.
func (c *Controller) Context() context.Context { return c.ctx }

// Stop unregisters signal handling and releases resources; call on normal
// exit.
func (c *Controller) Stop() {
	signal.Stop(c.sigCh)
	close(c.sigCh)
	c.cancel()
}

// Terminate sets the flag programmatically (used by tests and by the
// controller when it decides to abort early for reasons other than an
// OS signal).
func (c *Controller) Terminate() {
	c.terminated.Store(true)
	c.cancel()
}
