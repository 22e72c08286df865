package kinetic

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"
)

// System is one named unit of per-frame logic. Name must be stable and
// unique within the scheduler: it is the identity used by Before/After
// constraints and by the dependency graph's cycle detector.
type System interface {
	Name() string
	Update(ctx context.Context, w *World) error
}

type systemSpec struct {
	system System
	phase  Phase
	before []string
	after  []string
}

// Scheduler orders named systems into the five fixed phases
// (initialization, network-receive, simulation, network-send,
// presentation) and, within each phase, topologically sorts them from
// their Before/After constraints. A phase's barrier always runs last in
// that phase and flushes every command buffer registered against it.
//
// Cancellation is not modelled: a system that returns an error or panics
// is logged and the scheduler continues with the next system in the
// phase, matching the documented "failure is not fatal to the frame, but
// structural invariants may be violated and will be detected on
// subsequent operations" policy.
type Scheduler struct {
	mu       sync.Mutex
	specs    map[Phase][]*systemSpec
	buffers  map[Phase][]*CommandBuffer
	resolved map[Phase][]*systemSpec
}

// NewScheduler constructs an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		specs:   make(map[Phase][]*systemSpec),
		buffers: make(map[Phase][]*CommandBuffer),
	}
}

// Register adds sys to phase, constrained to run before every system
// named in before and after every system named in after.
func (s *Scheduler) Register(phase Phase, sys System, before, after []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.specs[phase] = append(s.specs[phase], &systemSpec{system: sys, phase: phase, before: before, after: after})
	s.resolved = nil
}

// RegisterCommandBuffer registers cb to be flushed by phase's barrier at
// the end of that phase, in the order buffers were registered.
func (s *Scheduler) RegisterCommandBuffer(phase Phase, cb *CommandBuffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffers[phase] = append(s.buffers[phase], cb)
}

// Build returns phase's systems in a valid execution order, or a
// CircularDependencyError naming the offending system.
func (s *Scheduler) Build(phase Phase) ([]*systemSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buildLocked(phase)
}

func (s *Scheduler) buildLocked(phase Phase) ([]*systemSpec, error) {
	specs := s.specs[phase]
	byName := make(map[string]*systemSpec, len(specs))
	for _, sp := range specs {
		byName[sp.system.Name()] = sp
	}

	// edge u -> v means "u must run before v".
	graph := make(map[string][]string)
	for _, sp := range specs {
		name := sp.system.Name()
		for _, b := range sp.before {
			graph[name] = append(graph[name], b)
		}
		for _, a := range sp.after {
			graph[a] = append(graph[a], name)
		}
	}

	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(specs))
	var postorder []string

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case inStack:
			return NewCircularDependencyError(name)
		case done:
			return nil
		}
		state[name] = inStack
		for _, next := range graph[name] {
			if _, ok := byName[next]; !ok {
				continue // constraint names a system outside this phase; ignored
			}
			if err := visit(next); err != nil {
				return err
			}
		}
		state[name] = done
		postorder = append(postorder, name)
		return nil
	}

	for _, sp := range specs {
		if err := visit(sp.system.Name()); err != nil {
			return nil, err
		}
	}

	order := make([]*systemSpec, len(postorder))
	for i, name := range postorder {
		order[len(postorder)-1-i] = byName[name]
	}
	return order, nil
}

// buildLevelsLocked groups phase's topologically sorted systems into
// levels: every system in a level has no Before/After edge to any other
// system in the same level, so the whole level can run concurrently
// without violating the constraints that produced the order. A
// system's level is one past the deepest level of anything it must run
// after.
func (s *Scheduler) buildLevelsLocked(phase Phase) ([][]*systemSpec, error) {
	order, err := s.buildLocked(phase)
	if err != nil {
		return nil, err
	}
	if len(order) == 0 {
		return nil, nil
	}

	byName := make(map[string]*systemSpec, len(order))
	prereqs := make(map[string][]string)
	for _, sp := range order {
		name := sp.system.Name()
		byName[name] = sp
		for _, b := range sp.before {
			prereqs[b] = append(prereqs[b], name)
		}
		for _, a := range sp.after {
			prereqs[name] = append(prereqs[name], a)
		}
	}

	level := make(map[string]int, len(order))
	var levelOf func(name string) int
	levelOf = func(name string) int {
		if lv, ok := level[name]; ok {
			return lv
		}
		lv := 0
		for _, p := range prereqs[name] {
			if _, ok := byName[p]; !ok {
				continue // constraint names a system outside this phase; ignored
			}
			if pl := levelOf(p) + 1; pl > lv {
				lv = pl
			}
		}
		level[name] = lv
		return lv
	}

	maxLevel := 0
	for _, sp := range order {
		if lv := levelOf(sp.system.Name()); lv > maxLevel {
			maxLevel = lv
		}
	}

	levels := make([][]*systemSpec, maxLevel+1)
	for _, sp := range order {
		lv := level[sp.system.Name()]
		levels[lv] = append(levels[lv], sp)
	}
	return levels, nil
}

// RunFrame advances the repository clock, then runs every phase in
// fixed order: each phase's systems fanned out across errgroup.Group,
// level by level (a level never contains two systems with a Before/After
// edge between them, so concurrent execution never reorders a
// constrained pair), then that phase's barrier, which plays back every
// command buffer registered against the phase and clears the
// registration list.
func (s *Scheduler) RunFrame(ctx context.Context, w *World) error {
	w.Tick()
	for _, phase := range Phases {
		s.mu.Lock()
		levels, err := s.buildLevelsLocked(phase)
		s.mu.Unlock()
		if err != nil {
			return err
		}
		for _, level := range levels {
			s.runLevel(ctx, w, level)
		}
		if err := s.runBarrier(w, phase); err != nil {
			return err
		}
	}
	w.Events().Swap()
	return nil
}

// runLevel runs every system in level concurrently via errgroup.Group,
// joining before the next level starts. A system's own error or panic is
// logged and never aborts the group, matching runOne's existing
// failure-is-not-fatal-to-the-frame policy; the group's g.Wait() error
// is always nil.
func (s *Scheduler) runLevel(ctx context.Context, w *World, level []*systemSpec) {
	if len(level) == 1 {
		s.runOne(ctx, w, level[0]) // skip goroutine/errgroup overhead for the common trivial case
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, spec := range level {
		spec := spec
		g.Go(func() error {
			s.runOne(gctx, w, spec)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) runOne(ctx context.Context, w *World, spec *systemSpec) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("kinetic: system %q panicked in phase %s: %v", spec.system.Name(), spec.phase, r)
		}
	}()
	if err := spec.system.Update(ctx, w); err != nil {
		log.Printf("kinetic: system %q failed in phase %s: %v", spec.system.Name(), spec.phase, err)
	}
}

func (s *Scheduler) runBarrier(w *World, phase Phase) error {
	s.mu.Lock()
	buffers := s.buffers[phase]
	s.buffers[phase] = nil
	s.mu.Unlock()

	for _, cb := range buffers {
		if err := w.Playback(cb); err != nil {
			return fmt.Errorf("kinetic: barrier for phase %s: %w", phase, err)
		}
	}
	return nil
}
