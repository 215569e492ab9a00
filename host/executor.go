// Package host implements a stream.Executor whose device is the host itself: device memory is host memory and
// each stream is executed by its own goroutine.
//
// It is a reference platform, used to test and exercise code written against the stream package without an
// accelerator.
//
// Example:
//
//	executor := must.M1(host.New(host.DefaultConfig()))
//	defer executor.Close()
//	s := stream.New(executor)
//	must.M(s.Initialize())
//	mem := must.M1(executor.Allocate(1024))
//	must.M(s.MemcpyH2D(&mem, data, 1024))
//	must.M(s.BlockHostUntilDone())
package host

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/gomlx/streamexecutor/stream"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/klog/v2"
)

// Option configures an Executor at construction time.
type Option func(*Executor)

// WithRegisterer exports the executor metrics to reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Executor) {
		e.registerer = reg
	}
}

// Executor is the host platform implementation of stream.Executor.
type Executor struct {
	config     Config
	metrics    *metrics
	registerer prometheus.Registerer

	mu               sync.Mutex
	queues           map[*stream.Stream]*queue
	allocations      map[*allocation]struct{}
	memoryInUse      uint64
	nextStreamID     uint64
	nextAllocationID uint64
	closed           bool
}

var _ stream.Executor = (*Executor)(nil)

// New creates a host Executor with the given configuration.
func New(config Config, options ...Option) (*Executor, error) {
	if os.Getenv("STREAMEXECUTOR_HOST_DISABLE_STATUS") != "" {
		config.DisableStatus = true
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	e := &Executor{
		config:      config,
		metrics:     newMetrics(config.Name),
		queues:      make(map[*stream.Stream]*queue),
		allocations: make(map[*allocation]struct{}),
	}
	for _, option := range options {
		option(e)
	}
	if e.registerer != nil {
		if err := e.metrics.register(e.registerer); err != nil {
			return nil, errors.Wrapf(err, "failed to register metrics of host executor %q", config.Name)
		}
	}
	klog.V(1).Infof("created %s", e)
	return e, nil
}

// Config returns the configuration of the executor.
func (e *Executor) Config() Config {
	return e.config
}

// Platform returns the name of the platform instance, Config.Name.
func (e *Executor) Platform() string {
	return e.config.Name
}

// String implements fmt.Stringer.
func (e *Executor) String() string {
	return fmt.Sprintf("host.Executor[%q, alignment=%d, memory_limit=%d, max_streams=%d]",
		e.config.Name, e.config.Alignment, e.config.MemoryLimit, e.config.MaxStreams)
}

// StreamsAlive returns the number of streams currently allocated.
func (e *Executor) StreamsAlive() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queues)
}

// Close deallocates all streams still allocated, waiting for their pending work, and rejects any further
// allocation. Streams still referencing the executor fail their operations afterward.
// It is a no-op if already closed.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	queues := e.queues
	e.queues = make(map[*stream.Stream]*queue)
	e.mu.Unlock()

	for _, q := range queues {
		q.close()
	}
	e.metrics.streamsAlive.Set(0)
	if e.registerer != nil {
		for _, c := range e.metrics.collectors() {
			e.registerer.Unregister(c)
		}
	}
}

// StreamHandle is the platform specific handle of host streams.
type StreamHandle uint64

// String implements fmt.Stringer.
func (h StreamHandle) String() string {
	return fmt.Sprintf("host-stream-%d", uint64(h))
}

// streamImplementation is the host platform stream.StreamImplementation.
// The host platform doesn't prioritize streams: all workers are goroutines scheduled by the Go runtime.
type streamImplementation struct {
	handle   StreamHandle
	priority stream.Priority
}

func (impl *streamImplementation) SetPriority(priority stream.Priority) { impl.priority = priority }
func (impl *streamImplementation) Priority() stream.Priority          { return impl.priority }
func (impl *streamImplementation) PlatformSpecificHandle() any        { return impl.handle }

// NewStreamImplementation implements stream.Executor.
func (e *Executor) NewStreamImplementation() stream.StreamImplementation {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextStreamID++
	return &streamImplementation{handle: StreamHandle(e.nextStreamID)}
}

// AllocateStream implements stream.Executor. It starts the worker goroutine of the stream.
func (e *Executor) AllocateStream(s *stream.Stream) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.Errorf("host executor %q is closed", e.config.Name)
	}
	if _, found := e.queues[s]; found {
		return errors.Errorf("%s already allocated on host executor %q", s, e.config.Name)
	}
	if e.config.MaxStreams > 0 && len(e.queues) >= e.config.MaxStreams {
		return errors.Errorf("host executor %q: all %d streams in use", e.config.Name, e.config.MaxStreams)
	}
	name := fmt.Sprintf("%s/%s", e.config.Name, s)
	e.queues[s] = newQueue(name, e.config.QueueCapacity, e.metrics)
	e.metrics.streamsAllocated.Inc()
	e.metrics.streamsAlive.Set(float64(len(e.queues)))
	klog.V(2).Infof("allocated %s", name)
	return nil
}

// DeallocateStream implements stream.Executor. It waits for pending work and stops the stream's worker.
func (e *Executor) DeallocateStream(s *stream.Stream) {
	e.mu.Lock()
	q, found := e.queues[s]
	delete(e.queues, s)
	e.metrics.streamsAlive.Set(float64(len(e.queues)))
	e.mu.Unlock()
	if !found {
		return
	}
	q.close()
	klog.V(2).Infof("deallocated %s", q.name)
}

// queueFor returns the queue of an allocated stream.
func (e *Executor) queueFor(s *stream.Stream) (*queue, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	q, found := e.queues[s]
	if !found {
		return nil, errors.Errorf("%s is not allocated on host executor %q", s, e.config.Name)
	}
	return q, nil
}

func (e *Executor) enqueue(s *stream.Stream, op operation) error {
	q, err := e.queueFor(s)
	if err != nil {
		return err
	}
	return q.enqueue(op)
}

// toEvent checks that event is a host Event of this executor.
func (e *Executor) toEvent(event stream.Event) (*Event, error) {
	ev, ok := event.(*Event)
	if !ok || ev == nil {
		return nil, errors.Errorf("host executor %q: event %v (%T) is not a host event", e.config.Name, event, event)
	}
	if ev.executor != e {
		return nil, errors.Errorf("host executor %q: event belongs to a different executor", e.config.Name)
	}
	return ev, nil
}

// CreateStreamDependency implements stream.Executor: it records an internal signal on other, and makes
// dependent wait for it.
func (e *Executor) CreateStreamDependency(dependent, other *stream.Stream) error {
	otherQueue, err := e.queueFor(other)
	if err != nil {
		return err
	}
	dependentQueue, err := e.queueFor(dependent)
	if err != nil {
		return err
	}
	sig := newSignal()
	err = otherQueue.enqueue(operation{
		name: "signal_dependency",
		run: func() error {
			sig.fire(nil)
			return nil
		},
		skip: sig.fire,
	})
	if err != nil {
		return err
	}
	return dependentQueue.enqueue(operation{
		name: "wait_dependency",
		run: func() error {
			return errors.WithMessage(sig.wait(), "stream waited for failed")
		},
	})
}

// WaitForEvent implements stream.Executor. Waiting for an event never recorded doesn't wait.
func (e *Executor) WaitForEvent(s *stream.Stream, event stream.Event) error {
	ev, err := e.toEvent(event)
	if err != nil {
		return err
	}
	sig, err := ev.last()
	if err != nil {
		return err
	}
	return e.enqueue(s, operation{
		name: "wait_event",
		run: func() error {
			if sig == nil {
				return nil
			}
			return errors.WithMessage(sig.wait(), "event waited for failed")
		},
	})
}

// RecordEvent implements stream.Executor.
func (e *Executor) RecordEvent(s *stream.Stream, event stream.Event) error {
	ev, err := e.toEvent(event)
	if err != nil {
		return err
	}
	q, err := e.queueFor(s)
	if err != nil {
		return err
	}
	if _, err := ev.last(); err != nil {
		return err
	}
	sig := newSignal()
	err = q.enqueue(operation{
		name: "record_event",
		run: func() error {
			sig.fire(nil)
			return nil
		},
		skip: sig.fire,
	})
	if err != nil {
		return err
	}
	return ev.record(sig)
}

// MemcpyD2H implements stream.Executor.
func (e *Executor) MemcpyD2H(s *stream.Stream, hostDst []byte, deviceSrc stream.DeviceMemory, size uint64) error {
	src, err := e.resolve(deviceSrc, size)
	if err != nil {
		return errors.WithMessage(err, "MemcpyD2H source")
	}
	if uint64(len(hostDst)) < size {
		return errors.Errorf("MemcpyD2H: host destination has %d bytes, %d requested", len(hostDst), size)
	}
	dst := hostDst[:size]
	return e.enqueue(s, operation{
		name: "memcpy_d2h",
		run: func() error {
			copy(dst, src)
			return nil
		},
	})
}

// MemcpyH2D implements stream.Executor.
func (e *Executor) MemcpyH2D(s *stream.Stream, deviceDst *stream.DeviceMemory, hostSrc []byte, size uint64) error {
	if deviceDst == nil {
		return errors.New("MemcpyH2D: nil destination")
	}
	dst, err := e.resolve(*deviceDst, size)
	if err != nil {
		return errors.WithMessage(err, "MemcpyH2D destination")
	}
	if uint64(len(hostSrc)) < size {
		return errors.Errorf("MemcpyH2D: host source has %d bytes, %d requested", len(hostSrc), size)
	}
	src := hostSrc[:size]
	return e.enqueue(s, operation{
		name: "memcpy_h2d",
		run: func() error {
			copy(dst, src)
			return nil
		},
	})
}

// MemcpyD2D implements stream.Executor. Source and destination may overlap.
func (e *Executor) MemcpyD2D(s *stream.Stream, deviceDst *stream.DeviceMemory, deviceSrc stream.DeviceMemory, size uint64) error {
	if deviceDst == nil {
		return errors.New("MemcpyD2D: nil destination")
	}
	dst, err := e.resolve(*deviceDst, size)
	if err != nil {
		return errors.WithMessage(err, "MemcpyD2D destination")
	}
	src, err := e.resolve(deviceSrc, size)
	if err != nil {
		return errors.WithMessage(err, "MemcpyD2D source")
	}
	return e.enqueue(s, operation{
		name: "memcpy_d2d",
		run: func() error {
			copy(dst, src)
			return nil
		},
	})
}

// MemZero implements stream.Executor.
func (e *Executor) MemZero(s *stream.Stream, location *stream.DeviceMemory, size uint64) error {
	if location == nil {
		return errors.New("MemZero: nil location")
	}
	dst, err := e.resolve(*location, size)
	if err != nil {
		return errors.WithMessage(err, "MemZero")
	}
	return e.enqueue(s, operation{
		name: "memzero",
		run: func() error {
			clear(dst)
			return nil
		},
	})
}

// Memset32 implements stream.Executor. Size and offset of the location must be multiples of 4.
// The pattern is stored little-endian.
func (e *Executor) Memset32(s *stream.Stream, location *stream.DeviceMemory, pattern uint32, size uint64) error {
	if location == nil {
		return errors.New("Memset32: nil location")
	}
	if size%4 != 0 {
		return errors.Errorf("Memset32: size %d is not a multiple of 4", size)
	}
	if location.Offset()%4 != 0 {
		return errors.Errorf("Memset32: misaligned location %s", location)
	}
	dst, err := e.resolve(*location, size)
	if err != nil {
		return errors.WithMessage(err, "Memset32")
	}
	return e.enqueue(s, operation{
		name: "memset32",
		run: func() error {
			for ii := 0; ii < len(dst); ii += 4 {
				binary.LittleEndian.PutUint32(dst[ii:], pattern)
			}
			return nil
		},
	})
}

// HostCallback implements stream.Executor. The callback runs in the stream's worker goroutine: it must not block
// on its own stream (e.g. calling BlockHostUntilDone on it), or it deadlocks.
func (e *Executor) HostCallback(s *stream.Stream, callback func() error) error {
	if callback == nil {
		return errors.New("HostCallback: nil callback")
	}
	return e.enqueue(s, operation{
		name: "host_callback",
		run:  callback,
	})
}

// BlockHostUntilDone implements stream.Executor.
func (e *Executor) BlockHostUntilDone(s *stream.Stream) error {
	q, err := e.queueFor(s)
	if err != nil {
		return err
	}
	return q.wait()
}

// GetStatus implements stream.Executor. It returns a stream.ErrUnimplemented error if Config.DisableStatus is set.
func (e *Executor) GetStatus(s *stream.Stream) error {
	if e.config.DisableStatus {
		return stream.Unimplemented("GetStatus is not supported on host executor %q", e.config.Name)
	}
	q, err := e.queueFor(s)
	if err != nil {
		return err
	}
	return q.status()
}
