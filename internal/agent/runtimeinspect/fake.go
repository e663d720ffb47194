package runtimeinspect

import (
	"context"
	"sync"
)

// Fake is a test double for Inspector, driven by explicit Set calls instead
// of a real runtime. Safe for concurrent use since the sweep reconciler and
// a test both touch it from different goroutines.
type Fake struct {
	mu      sync.Mutex
	running map[SlotRef]ContainerID
	err     error
}

func NewFake() *Fake {
	return &Fake{running: map[SlotRef]ContainerID{}}
}

// SetRunning replaces the full set of slots the fake reports as running.
func (f *Fake) SetRunning(running map[SlotRef]ContainerID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = running
}

// SetErr makes the next RunningAnnotated calls fail, simulating
// apierrors.KindContainerRuntimeUnavailable.
func (f *Fake) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *Fake) RunningAnnotated(_ context.Context) (map[SlotRef]ContainerID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[SlotRef]ContainerID, len(f.running))
	for k, v := range f.running {
		out[k] = v
	}
	return out, nil
}

var _ Inspector = (*Fake)(nil)
