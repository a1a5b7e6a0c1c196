// Package orchestrator registers modules behind a small capability set,
// defines named ordered+conditional pipelines, and runs them per frame
// cadence, isolating each module's failure so the rest of the pipeline
// still executes.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
)

// SharedData is the mutable per-tick context threaded through a pipeline
// run (the current frame, flags, anything a later step's predicate needs
// to inspect from an earlier step's result).
type SharedData map[string]any

// Module is the capability set the orchestrator works against. Concrete
// modules (vision.Module, llm.Module, reporter.Module, ...) keep their own
// native constructors and method signatures; main.go adapts each into this
// interface with a small closure (see Func).
type Module interface {
	Name() string
	Initialize(ctx context.Context) error
	Process(ctx context.Context, shared SharedData) (any, error)
	Shutdown()
}

// Func adapts arbitrary init/process/shutdown closures into a Module,
// per design note 4.9 ("dynamic dispatch across modules... a small
// capability set; the orchestrator works against this set only").
type Func struct {
	ModuleName string
	InitFn     func(ctx context.Context) error
	ProcessFn  func(ctx context.Context, shared SharedData) (any, error)
	ShutdownFn func()
}

func (f *Func) Name() string { return f.ModuleName }

func (f *Func) Initialize(ctx context.Context) error {
	if f.InitFn == nil {
		return nil
	}
	return f.InitFn(ctx)
}

func (f *Func) Process(ctx context.Context, shared SharedData) (any, error) {
	if f.ProcessFn == nil {
		return nil, nil
	}
	return f.ProcessFn(ctx, shared)
}

func (f *Func) Shutdown() {
	if f.ShutdownFn != nil {
		f.ShutdownFn()
	}
}

// Predicate decides whether a pipeline step should run, given the results
// of every step that ran earlier in the same pipeline tick.
type Predicate func(results map[string]any) bool

// Step is one entry in a Pipeline.
type Step struct {
	ModuleName string
	Predicate  Predicate // nil means always run
}

// Pipeline is a named, ordered list of steps.
type Pipeline []Step

// Orchestrator is the registry + pipeline runner (C10).
type Orchestrator struct {
	mu        sync.Mutex
	modules   map[string]Module
	order     []string // registration order, for reverse-order shutdown
	disabled  map[string]bool
	pipelines map[string]Pipeline
}

// New returns an empty Orchestrator.
func New() *Orchestrator {
	return &Orchestrator{
		modules:   make(map[string]Module),
		disabled:  make(map[string]bool),
		pipelines: make(map[string]Pipeline),
	}
}

// Register calls module.Initialize(); a module that fails to initialize is
// retained disabled so the rest of the system still runs (never fatal).
func (o *Orchestrator) Register(ctx context.Context, m Module) {
	o.mu.Lock()
	defer o.mu.Unlock()

	name := m.Name()
	if err := m.Initialize(ctx); err != nil {
		log.Printf("[orchestrator] module %q failed to initialize, running disabled: %v", name, err)
		o.disabled[name] = true
	}
	o.modules[name] = m
	o.order = append(o.order, name)
}

// DefinePipeline registers a named, ordered list of steps.
func (o *Orchestrator) DefinePipeline(name string, steps Pipeline) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pipelines[name] = steps
}

// Enabled reports whether a registered module initialized successfully.
func (o *Orchestrator) Enabled(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, registered := o.modules[name]
	return registered && !o.disabled[name]
}

// Run iterates the named pipeline's steps in order. For each step, the
// predicate (if any) is evaluated against the results gathered so far; if
// it returns false the step is skipped, otherwise the module's
// safe_process wrapper runs and its result is inserted under the module's
// name. A disabled or unregistered module is treated as a no-op step (not
// an error) so a missing optional module never blocks the rest of the
// pipeline.
func (o *Orchestrator) Run(ctx context.Context, pipelineName string, shared SharedData) map[string]any {
	o.mu.Lock()
	steps := o.pipelines[pipelineName]
	o.mu.Unlock()

	results := make(map[string]any, len(steps))
	for _, step := range steps {
		if step.Predicate != nil && !step.Predicate(results) {
			continue
		}

		o.mu.Lock()
		mod, registered := o.modules[step.ModuleName]
		disabled := o.disabled[step.ModuleName]
		o.mu.Unlock()

		if !registered || disabled {
			continue
		}

		results[step.ModuleName] = o.safeProcess(ctx, mod, shared)
	}
	return results
}

// safeProcess converts a module's returned error or recovered panic into
// an {"error": ...} entry; subsequent steps still run either way. This is
// the only place in the orchestrator that uses recover — every other
// module failure surfaces as an explicit error return.
func (o *Orchestrator) safeProcess(ctx context.Context, mod Module, shared SharedData) (result any) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[orchestrator] module %q panicked: %v\n%s", mod.Name(), r, debug.Stack())
			result = map[string]any{"error": fmt.Sprintf("panic: %v", r)}
		}
	}()

	res, err := mod.Process(ctx, shared)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	return res
}

// ShutdownAll calls Shutdown on every registered module in reverse
// registration order.
func (o *Orchestrator) ShutdownAll() {
	o.mu.Lock()
	order := append([]string(nil), o.order...)
	modules := o.modules
	o.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		modules[order[i]].Shutdown()
	}
}
