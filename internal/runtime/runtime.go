// Package runtime carries the small set of values every long-lived
// component needs at construction — a logger, this host's NodeNo, and
// a shared shutdown signal — instead of module-level globals (§9
// "Global mutable state").
package runtime

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// Runtime is built once by each entrypoint, which hands its Log to
// GatewayLink, NodeLink, Observer, ConfigSync, and Scheduler at
// construction time and its Context to their long-running calls.
type Runtime struct {
	Log      *log.Logger
	NodeNo   int
	ctx      context.Context
	cancel   context.CancelFunc
	shutdown atomic.Bool
}

// New builds a Runtime for nodeNo, logging with prefix via the
// standard logger.
func New(nodeNo int, prefix string) *Runtime {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runtime{
		Log:    log.New(os.Stderr, prefix, log.LstdFlags),
		NodeNo: nodeNo,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Context is cancelled once a shutdown signal has been handled.
func (r *Runtime) Context() context.Context {
	return r.ctx
}

// ShuttingDown reports whether shutdown has been requested; loops
// that can't conveniently select on Context() poll this instead.
func (r *Runtime) ShuttingDown() bool {
	return r.shutdown.Load()
}

// Shutdown marks the runtime as shutting down and cancels its
// context. Safe to call more than once.
func (r *Runtime) Shutdown() {
	r.shutdown.Store(true)
	r.cancel()
}

// InstallSignalHandlers installs a single SIGTERM/SIGHUP/SIGINT handler that
// calls Shutdown (§4.8, §5 "Fault isolation"). Call once from main.
func (r *Runtime) InstallSignalHandlers() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		r.Log.Printf("received signal %v, shutting down", sig)
		r.Shutdown()
	}()
}
