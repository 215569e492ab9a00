package stream

import (
	"sync"

	"github.com/pkg/errors"
)

// fakeImplementation is the StreamImplementation of fakeExecutor.
type fakeImplementation struct {
	priority Priority
	handle   int
}

func (impl *fakeImplementation) SetPriority(priority Priority) { impl.priority = priority }
func (impl *fakeImplementation) Priority() Priority            { return impl.priority }
func (impl *fakeImplementation) PlatformSpecificHandle() any   { return impl.handle }

type memsetCall struct {
	pattern uint32
	size    uint64
	zero    bool
}

// fakeExecutor is a scripted Executor: work is not executed when queued. Host callbacks are kept and run
// by BlockHostUntilDone (or DeallocateStream), in order.
type fakeExecutor struct {
	mu sync.Mutex

	noImplementation bool
	failAllocate     bool
	failOps          bool
	blockErr         error
	statusErr        error

	allocated    map[*Stream]bool
	callbacks    map[*Stream][]func() error
	nextHandle   int
	blockCalls   int
	deallocCalls int
	dependencies int
	memsets      []memsetCall
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		allocated: make(map[*Stream]bool),
		callbacks: make(map[*Stream][]func() error),
	}
}

var errFakeRejected = errors.New("fake executor rejected the operation")

func (e *fakeExecutor) NewStreamImplementation() StreamImplementation {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.noImplementation {
		return nil
	}
	e.nextHandle++
	return &fakeImplementation{handle: e.nextHandle}
}

func (e *fakeExecutor) AllocateStream(s *Stream) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failAllocate {
		return errors.New("fake executor out of streams")
	}
	e.allocated[s] = true
	return nil
}

func (e *fakeExecutor) DeallocateStream(s *Stream) {
	e.mu.Lock()
	pending := e.callbacks[s]
	delete(e.callbacks, s)
	delete(e.allocated, s)
	e.deallocCalls++
	e.mu.Unlock()
	for _, callback := range pending {
		_ = callback()
	}
}

func (e *fakeExecutor) isAllocated(s *Stream) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.allocated[s]
}

func (e *fakeExecutor) op() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failOps {
		return errFakeRejected
	}
	return nil
}

func (e *fakeExecutor) CreateStreamDependency(dependent, other *Stream) error {
	if err := e.op(); err != nil {
		return err
	}
	e.mu.Lock()
	e.dependencies++
	e.mu.Unlock()
	return nil
}

func (e *fakeExecutor) WaitForEvent(s *Stream, event Event) error { return e.op() }
func (e *fakeExecutor) RecordEvent(s *Stream, event Event) error  { return e.op() }

func (e *fakeExecutor) MemcpyD2H(s *Stream, hostDst []byte, deviceSrc DeviceMemory, size uint64) error {
	return e.op()
}

func (e *fakeExecutor) MemcpyH2D(s *Stream, deviceDst *DeviceMemory, hostSrc []byte, size uint64) error {
	return e.op()
}

func (e *fakeExecutor) MemcpyD2D(s *Stream, deviceDst *DeviceMemory, deviceSrc DeviceMemory, size uint64) error {
	return e.op()
}

func (e *fakeExecutor) MemZero(s *Stream, location *DeviceMemory, size uint64) error {
	if err := e.op(); err != nil {
		return err
	}
	e.mu.Lock()
	e.memsets = append(e.memsets, memsetCall{size: size, zero: true})
	e.mu.Unlock()
	return nil
}

func (e *fakeExecutor) Memset32(s *Stream, location *DeviceMemory, pattern uint32, size uint64) error {
	if err := e.op(); err != nil {
		return err
	}
	e.mu.Lock()
	e.memsets = append(e.memsets, memsetCall{pattern: pattern, size: size})
	e.mu.Unlock()
	return nil
}

func (e *fakeExecutor) HostCallback(s *Stream, callback func() error) error {
	if err := e.op(); err != nil {
		return err
	}
	e.mu.Lock()
	e.callbacks[s] = append(e.callbacks[s], callback)
	e.mu.Unlock()
	return nil
}

func (e *fakeExecutor) BlockHostUntilDone(s *Stream) error {
	e.mu.Lock()
	e.blockCalls++
	pending := e.callbacks[s]
	delete(e.callbacks, s)
	blockErr := e.blockErr
	e.mu.Unlock()

	var firstErr error
	for _, callback := range pending {
		if err := callback(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return firstErr
	}
	return blockErr
}

func (e *fakeExecutor) GetStatus(s *Stream) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusErr
}

func (e *fakeExecutor) numBlockCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.blockCalls
}
