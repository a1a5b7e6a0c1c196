// Package ptzdrv implements the camera driver abstraction and the arbiter
// that serializes competing move requests onto it.
package ptzdrv

import (
	"context"
	"log"
	"sync"
)

// Driver is the abstract camera command sink. Implementations are
// fire-and-forget: each method returns immediately and dispatches the
// actual wire command on a worker. Command errors are logged, never
// propagated — the next command supersedes the previous.
//
// The real wire protocol (ONVIF ContinuousMove, vendor HTTP absolute-move)
// is deliberately kept abstract; this interface is the thin boundary a
// concrete implementation plugs into.
type Driver interface {
	MoveContinuous(pan, tilt, zoom float64)
	MoveAbsolute(panDeg, tiltDeg, zoom float64)
	Stop()
	Close() error
}

// commandKind tags the single outstanding command slot.
type commandKind int

const (
	cmdContinuous commandKind = iota
	cmdAbsolute
	cmdStop
)

type command struct {
	kind            commandKind
	pan, tilt, zoom float64
	panDeg, tiltDeg float64
}

// LoggingDriver is a Driver that logs every command it would send and
// forwards it to an optional Transport. It is safe for concurrent use: a
// single worker goroutine serializes outgoing commands per camera so the
// camera never sees interleaved writes.
//
// Because each new command supersedes the previous one, the worker only
// ever needs a single-slot mailbox: LoggingDriver never queues a backlog of
// stale moves.
type LoggingDriver struct {
	name      string
	transport Transport

	mu      sync.Mutex
	pending *command
	signal  chan struct{}
	done    chan struct{}
	closed  bool
}

// Transport is implemented by the concrete wire-protocol adapter (ONVIF,
// vendor HTTP, or a test double). Errors are logged by LoggingDriver and
// never returned to the caller.
type Transport interface {
	MoveContinuous(ctx context.Context, pan, tilt, zoom float64) error
	MoveAbsolute(ctx context.Context, panDeg, tiltDeg, zoom float64) error
	Stop(ctx context.Context) error
}

// NewLoggingDriver returns a Driver named name, dispatching onto transport.
// A nil transport is valid — commands are logged only, useful for tests and
// for running with `--no-yolo`-style driverless configurations.
func NewLoggingDriver(name string, transport Transport) *LoggingDriver {
	d := &LoggingDriver{
		name:      name,
		transport: transport,
		signal:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go d.worker()
	return d
}

func (d *LoggingDriver) enqueue(c command) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.pending = &c
	d.mu.Unlock()

	select {
	case d.signal <- struct{}{}:
	default:
	}
}

func (d *LoggingDriver) MoveContinuous(pan, tilt, zoom float64) {
	d.enqueue(command{kind: cmdContinuous, pan: pan, tilt: tilt, zoom: zoom})
}

func (d *LoggingDriver) MoveAbsolute(panDeg, tiltDeg, zoom float64) {
	d.enqueue(command{kind: cmdAbsolute, panDeg: panDeg, tiltDeg: tiltDeg, zoom: zoom})
}

func (d *LoggingDriver) Stop() {
	d.enqueue(command{kind: cmdStop})
}

func (d *LoggingDriver) worker() {
	ctx := context.Background()
	for {
		select {
		case <-d.done:
			return
		case <-d.signal:
			d.mu.Lock()
			c := d.pending
			d.pending = nil
			d.mu.Unlock()
			if c == nil {
				continue
			}
			d.dispatch(ctx, *c)
		}
	}
}

func (d *LoggingDriver) dispatch(ctx context.Context, c command) {
	var err error
	switch c.kind {
	case cmdContinuous:
		log.Printf("[ptz:%s] continuous pan=%.3f tilt=%.3f zoom=%.3f", d.name, c.pan, c.tilt, c.zoom)
		if d.transport != nil {
			err = d.transport.MoveContinuous(ctx, c.pan, c.tilt, c.zoom)
		}
	case cmdAbsolute:
		log.Printf("[ptz:%s] absolute pan=%.1f tilt=%.1f zoom=%.3f", d.name, c.panDeg, c.tiltDeg, c.zoom)
		if d.transport != nil {
			err = d.transport.MoveAbsolute(ctx, c.panDeg, c.tiltDeg, c.zoom)
		}
	case cmdStop:
		log.Printf("[ptz:%s] stop", d.name)
		if d.transport != nil {
			err = d.transport.Stop(ctx)
		}
	}
	if err != nil {
		log.Printf("[ptz:%s] command failed (ignored, superseded by next command): %v", d.name, err)
	}
}

// Close stops the worker goroutine.
func (d *LoggingDriver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()
	close(d.done)
	return nil
}
