package stream

// Executor represents one (physical or logical) accelerator device, and performs the work queued on its streams.
//
// Streams call it from any goroutine, with the stream's own lock possibly held (AllocateStream, and the
// AllocateStream of sub-streams), so implementations must not call back into locking Stream methods from
// AllocateStream.
//
// Enqueue methods (everything except BlockHostUntilDone) must return as soon as the work is accepted,
// without waiting for it to be done.
type Executor interface {
	// NewStreamImplementation returns the platform specific part of a new stream.
	NewStreamImplementation() StreamImplementation

	// AllocateStream registers the stream with the executor, after which work can be queued on it.
	AllocateStream(s *Stream) error

	// DeallocateStream releases the executor's resources associated with the stream.
	// It's only called after all work queued on it is done.
	DeallocateStream(s *Stream)

	// CreateStreamDependency makes work queued on dependent after this call wait for all the work queued
	// on other before this call.
	CreateStreamDependency(dependent, other *Stream) error

	// WaitForEvent makes work queued on s after this call wait until event is signaled.
	WaitForEvent(s *Stream, event Event) error

	// RecordEvent queues the signaling of event on s.
	RecordEvent(s *Stream, event Event) error

	// MemcpyD2H queues a copy of size bytes from device memory to host memory.
	MemcpyD2H(s *Stream, hostDst []byte, deviceSrc DeviceMemory, size uint64) error

	// MemcpyH2D queues a copy of size bytes from host memory to device memory.
	MemcpyH2D(s *Stream, deviceDst *DeviceMemory, hostSrc []byte, size uint64) error

	// MemcpyD2D queues a copy of size bytes between two device memory locations.
	MemcpyD2D(s *Stream, deviceDst *DeviceMemory, deviceSrc DeviceMemory, size uint64) error

	// MemZero queues the zeroing of size bytes of device memory.
	MemZero(s *Stream, location *DeviceMemory, size uint64) error

	// Memset32 queues the filling of size bytes of device memory with the repeated 32-bit pattern.
	Memset32(s *Stream, location *DeviceMemory, pattern uint32, size uint64) error

	// HostCallback queues the call of callback in the host, in order with the other work of s.
	// A non-nil error returned by callback fails the stream.
	HostCallback(s *Stream, callback func() error) error

	// BlockHostUntilDone blocks until all work queued on s is done, and returns the first error, if any.
	BlockHostUntilDone(s *Stream) error

	// GetStatus returns the current error state of s on the device, without blocking.
	// Executors that can't tell should return an error of kind ErrUnimplemented (see Unimplemented).
	GetStatus(s *Stream) error
}

// StreamImplementation is the platform specific part of a Stream, created by Executor.NewStreamImplementation
// and owned by the Stream.
type StreamImplementation interface {
	SetPriority(priority Priority)
	Priority() Priority

	// PlatformSpecificHandle returns the platform native stream handle (e.g. a CUDA stream), for interoperability.
	PlatformSpecificHandle() any
}

// Event is a signal point that streams can record and wait for. Its implementation is platform specific.
type Event interface {
	// Await blocks until the last recording of the event is signaled, and returns its error, if any.
	Await() error
}
