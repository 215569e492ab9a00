// Package stream implements Stream, an ordered queue of asynchronous work (copies, fills, host callbacks,
// event signaling) on an accelerator device represented by an Executor.
//
// Work queued on the same Stream is executed in order. Stream.WaitFor and events order work across streams.
//
// A Stream keeps track of the first failure of its work: once it is in an error state it stays that way,
// and a new Stream has to be created.
//
// Streams also keep a pool of sub-streams, see Stream.GetOrCreateSubStream.
package stream

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Stream is an ordered queue of asynchronous work on the device represented by its Executor.
//
// It is safe for concurrent use. Create it with New, initialize it with Stream.Initialize and, when no
// longer needed, release it with Stream.Destroy.
type Stream struct {
	executor Executor

	// ready is set once the stream is registered with the executor, and cleared on Destroy.
	ready atomic.Bool

	mu             sync.Mutex
	implementation StreamImplementation
	status         error
	subStreams     []subStream
	destroyed      bool
}

// subStream is an entry in the pool of sub-streams of a Stream. Streams marked reusable are idle.
type subStream struct {
	stream   *Stream
	reusable bool
}

// New creates a Stream bound to executor. No work can be queued until Stream.Initialize is called.
func New(executor Executor) *Stream {
	return &Stream{executor: executor}
}

// Executor returns the executor of the stream.
func (s *Stream) Executor() Executor {
	return s.executor
}

// String implements fmt.Stringer.
func (s *Stream) String() string {
	return fmt.Sprintf("Stream(%p)", s)
}

// Initialize acquires the platform implementation of the stream, sets its priority (optional, at most one)
// and registers it with the executor.
//
// It returns ErrAlreadyInitialized if called more than once -- even if the first call failed.
func (s *Stream) Initialize(priority ...Priority) error {
	if len(priority) > 1 {
		return newError(ErrInvalidArgument, nil, "Stream.Initialize takes at most one priority, got %d", len(priority))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.implementation != nil || s.destroyed {
		return newError(ErrAlreadyInitialized, nil, "stream %s appears to already have been initialized", s)
	}
	implementation := s.executor.NewStreamImplementation()
	if implementation == nil {
		return newError(ErrAllocation, nil, "executor provided no implementation for stream %s", s)
	}
	s.implementation = implementation
	if len(priority) == 1 && priority[0].IsSet() {
		implementation.SetPriority(priority[0])
	}
	if err := s.executor.AllocateStream(s); err != nil {
		return newError(ErrAllocation, err, "failed to allocate stream %s during initialization", s)
	}
	s.ready.Store(true)
	return nil
}

// IsInitialized returns whether the stream was successfully initialized and not yet destroyed.
func (s *Stream) IsInitialized() bool {
	return s.ready.Load()
}

// checkReady returns ErrNotInitialized if the stream can't be used.
func (s *Stream) checkReady(op string) error {
	if !s.ready.Load() {
		return newError(ErrNotInitialized, nil, "%s on stream %s", op, s)
	}
	return nil
}

// Priority returns the priority of the stream's implementation, or an unset Priority if not initialized.
func (s *Stream) Priority() Priority {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.implementation == nil {
		return Priority{}
	}
	return s.implementation.Priority()
}

// PlatformSpecificHandle returns the platform native handle of the stream, or nil if not initialized.
func (s *Stream) PlatformSpecificHandle() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.implementation == nil {
		return nil
	}
	return s.implementation.PlatformSpecificHandle()
}

// Status returns the first error the stream ran into, or nil if it is healthy.
func (s *Stream) Status() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Ok returns whether the stream is healthy, i.e. Status() == nil.
func (s *Stream) Ok() bool {
	return s.Status() == nil
}

// checkStatus records err as the stream status. The first error wins: once in error, later errors are only logged.
func (s *Stream) checkStatus(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != nil {
		klog.V(1).Infof("stream=%s already in error state, dropping later error: %v", s, err)
		return
	}
	klog.Errorf("stream=%s failed: %v", s, err)
	s.status = err
}

// RefreshStatus queries the executor for the device status of the stream, and records it if it is an error.
//
// Executors that don't support status queries return an ErrUnimplemented error: it is returned, but it
// doesn't put the stream in an error state.
func (s *Stream) RefreshStatus() error {
	if err := s.checkReady("RefreshStatus"); err != nil {
		return err
	}
	status := s.executor.GetStatus(s)
	if status == nil || errors.Is(status, ErrUnimplemented) {
		return status
	}
	s.checkStatus(status)
	return status
}

// GetOrCreateSubStream returns an idle and healthy sub-stream, creating one if needed.
// The sub-stream is owned by s: give it back with ReturnSubStream when done, never Destroy it.
//
// A sub-stream is handed to only one caller at a time. Idle sub-streams in an error state found along the way
// are dropped and destroyed.
func (s *Stream) GetOrCreateSubStream() (*Stream, error) {
	if err := s.checkReady("GetOrCreateSubStream"); err != nil {
		return nil, err
	}

	// Bad streams are destroyed only after mu is released: Destroy blocks until their work is done, and their
	// host callbacks may need mu.
	var badStreams []*Stream
	defer func() {
		for _, bad := range badStreams {
			destroyOrLog(bad)
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	// First reusable healthy sub-stream wins; reusable sub-streams in error are swapped with the last and popped.
	for index := 0; index < len(s.subStreams); {
		entry := &s.subStreams[index]
		if !entry.reusable {
			index++
			continue
		}
		sub := entry.stream
		if sub.Ok() {
			klog.V(1).Infof("stream=%s reusing sub_stream=%s", s, sub)
			entry.reusable = false
			return sub, nil
		}
		s.removeSubStreamLocked(index)
		badStreams = append(badStreams, sub)
		klog.V(1).Infof("stream=%s dropped !ok sub_stream=%s", s, sub)
	}

	sub := New(s.executor)
	if err := sub.Initialize(); err != nil {
		badStreams = append(badStreams, sub)
		return nil, errors.WithMessagef(err, "stream=%s failed to create new sub-stream", s)
	}
	s.subStreams = append(s.subStreams, subStream{stream: sub})
	klog.V(1).Infof("stream=%s created new sub_stream=%s", s, sub)
	return sub, nil
}

// ReturnSubStream gives back a sub-stream acquired with GetOrCreateSubStream. If it is healthy it becomes
// available for reuse, otherwise it is dropped and destroyed.
//
// It panics if sub was not created by s, or if it is already idle (returned twice): both are bugs in the caller.
func (s *Stream) ReturnSubStream(sub *Stream) {
	var badStream *Stream
	defer func() {
		if badStream != nil {
			destroyOrLog(badStream)
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	for index := range s.subStreams {
		if s.subStreams[index].stream != sub {
			continue
		}
		if s.subStreams[index].reusable {
			panic(errors.Errorf("stream=%s: sub-stream %s returned twice, it was not borrowed", s, sub))
		}
		if sub.Ok() {
			klog.V(1).Infof("stream=%s returned ok sub_stream=%s", s, sub)
			s.subStreams[index].reusable = true
		} else {
			klog.V(1).Infof("stream=%s returned !ok sub_stream=%s", s, sub)
			s.removeSubStreamLocked(index)
			badStream = sub
		}
		return
	}
	panic(errors.Errorf("stream=%s did not create the returned sub-stream %s", s, sub))
}

// removeSubStreamLocked swaps the entry at index with the last one and pops it. Order is not preserved.
func (s *Stream) removeSubStreamLocked(index int) {
	last := len(s.subStreams) - 1
	if index != last {
		s.subStreams[index], s.subStreams[last] = s.subStreams[last], s.subStreams[index]
	}
	s.subStreams[last] = subStream{}
	s.subStreams = s.subStreams[:last]
}

// NumSubStreams returns the number of sub-streams currently owned by the stream, idle or in use.
func (s *Stream) NumSubStreams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subStreams)
}

// WaitFor makes the work queued on s from now on wait for the work already queued on other.
//
// A stream can't wait for itself: it returns ErrInvalidArgument.
func (s *Stream) WaitFor(other *Stream) error {
	if other == s {
		return newError(ErrInvalidArgument, nil, "stream %s cannot wait for itself", s)
	}
	if other == nil {
		return newError(ErrInvalidArgument, nil, "stream %s cannot wait for a nil stream", s)
	}
	if err := s.checkReady("WaitFor"); err != nil {
		return err
	}
	if err := other.checkReady("WaitFor (other stream)"); err != nil {
		return err
	}
	if err := s.executor.CreateStreamDependency(s, other); err != nil {
		return newError(ErrInternal, err, "stream %s cannot wait for stream %s", s, other)
	}
	return nil
}

// WaitForEvent makes the work queued on s from now on wait until event is signaled.
func (s *Stream) WaitForEvent(event Event) error {
	if err := s.checkReady("WaitForEvent"); err != nil {
		return err
	}
	if err := s.executor.WaitForEvent(s, event); err != nil {
		return newError(ErrInternal, err, "stream %s failed to wait for event", s)
	}
	return nil
}

// RecordEvent queues the signaling of event once the work queued so far on s is done.
func (s *Stream) RecordEvent(event Event) error {
	if err := s.checkReady("RecordEvent"); err != nil {
		return err
	}
	if err := s.executor.RecordEvent(s, event); err != nil {
		return newError(ErrInternal, err, "stream %s failed to record event", s)
	}
	return nil
}

// MemcpyD2H queues the copy of size bytes from device memory src to hostDst.
// hostDst must not be touched until the copy is done (see BlockHostUntilDone and events).
func (s *Stream) MemcpyD2H(hostDst []byte, src DeviceMemory, size uint64) error {
	if err := s.checkReady("MemcpyD2H"); err != nil {
		return err
	}
	if err := s.executor.MemcpyD2H(s, hostDst, src, size); err != nil {
		return newError(ErrInternal, err, "failed to memcpy %d bytes from device to host", size)
	}
	return nil
}

// MemcpyH2D queues the copy of size bytes from hostSrc to device memory dst.
// hostSrc must not be changed until the copy is done.
func (s *Stream) MemcpyH2D(dst *DeviceMemory, hostSrc []byte, size uint64) error {
	if err := s.checkReady("MemcpyH2D"); err != nil {
		return err
	}
	if err := s.executor.MemcpyH2D(s, dst, hostSrc, size); err != nil {
		return newError(ErrInternal, err, "failed to memcpy %d bytes from host to device", size)
	}
	return nil
}

// MemcpyD2D queues the copy of size bytes between device memory locations.
func (s *Stream) MemcpyD2D(dst *DeviceMemory, src DeviceMemory, size uint64) error {
	if err := s.checkReady("MemcpyD2D"); err != nil {
		return err
	}
	if err := s.executor.MemcpyD2D(s, dst, src, size); err != nil {
		return newError(ErrInternal, err, "failed to memcpy %d bytes from device to device", size)
	}
	return nil
}

// MemZero queues the zeroing of size bytes at location.
func (s *Stream) MemZero(location *DeviceMemory, size uint64) error {
	if err := s.checkReady("MemZero"); err != nil {
		return err
	}
	if err := s.executor.MemZero(s, location, size); err != nil {
		return newError(ErrInternal, err, "failed to zero %d bytes", size)
	}
	return nil
}

// Memset32 queues the filling of size bytes at location with the 32-bit pattern.
// Executors usually require size and the location to be 4-bytes aligned.
func (s *Stream) Memset32(location *DeviceMemory, pattern uint32, size uint64) error {
	if err := s.checkReady("Memset32"); err != nil {
		return err
	}
	if err := s.executor.Memset32(s, location, pattern, size); err != nil {
		return newError(ErrInternal, err, "failed to memset32 %d bytes with pattern 0x%08x", size, pattern)
	}
	return nil
}

// DoHostCallback queues callback to be called in the host once the work queued so far on s is done.
// Work queued after it doesn't wait for it, unless it is ordered by the executor.
func (s *Stream) DoHostCallback(callback func()) error {
	return s.DoHostCallbackWithStatus(func() error {
		callback()
		return nil
	})
}

// DoHostCallbackWithStatus is like DoHostCallback, but if callback returns an error the stream is put in an
// error state.
func (s *Stream) DoHostCallbackWithStatus(callback func() error) error {
	if err := s.checkReady("DoHostCallback"); err != nil {
		return err
	}
	wrapped := func() error {
		err := callback()
		if err != nil {
			err = errors.WithMessagef(err, "host callback on stream %s failed", s)
			s.checkStatus(err)
		}
		return err
	}
	if err := s.executor.HostCallback(s, wrapped); err != nil {
		return newError(ErrInternal, err, "failed to queue host callback on stream %s", s)
	}
	return nil
}

// BlockHostUntilDone blocks until all work queued on s is done.
//
// A stream already in an error state can never be done: it fails immediately, without asking the executor.
func (s *Stream) BlockHostUntilDone() error {
	if err := s.checkReady("BlockHostUntilDone"); err != nil {
		return err
	}
	if status := s.Status(); status != nil {
		err := newError(ErrInternal, status, "stream %s did not block host until done; was already in an error state", s)
		klog.V(1).Infof("%v", err)
		return err
	}
	if err := s.executor.BlockHostUntilDone(s); err != nil {
		err = newError(ErrInternal, err, "stream %s failed while blocking host until done", s)
		s.checkStatus(err)
		return err
	}
	return nil
}

// Destroy blocks until the work queued on s is done, releases it from the executor and destroys its sub-streams.
// The stream can't be used afterward.
//
// A failure to complete the queued work is logged and returned, but the stream is released anyway.
// It is a no-op if the stream was already destroyed.
func (s *Stream) Destroy() error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil
	}
	s.destroyed = true
	s.mu.Unlock()

	var err error
	if s.ready.Load() {
		err = s.BlockHostUntilDone()
		if err != nil {
			klog.Warningf("Error blocking host until done in Stream.Destroy: %v", err)
		}
		s.ready.Store(false)
		s.executor.DeallocateStream(s)
	}

	s.mu.Lock()
	subStreams := s.subStreams
	s.subStreams = nil
	s.mu.Unlock()
	for _, entry := range subStreams {
		destroyOrLog(entry.stream)
	}
	return err
}

// destroyOrLog destroys the stream, and logs errors instead of returning them.
func destroyOrLog(s *Stream) {
	if err := s.Destroy(); err != nil {
		klog.Errorf("Stream.Destroy failed for %s: %v", s, err)
	}
}
