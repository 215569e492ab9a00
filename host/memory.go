package host

import (
	"fmt"
	"math"
	"unsafe"

	"github.com/gomlx/streamexecutor/stream"
	"github.com/pkg/errors"
)

// allocation is the opaque handle of host device memory, see Executor.Allocate.
type allocation struct {
	id       uint64
	executor *Executor
	buf      []byte
}

// String implements fmt.Stringer.
func (a *allocation) String() string {
	return fmt.Sprintf("%s#%d", a.executor.config.Name, a.id)
}

// alignedBytes returns a zeroed slice of size bytes whose first element is aligned to alignment,
// which must be a power of 2.
//
// It allocates extra space and slices it at the first aligned position. The Go garbage collector doesn't move
// heap objects, so the alignment holds for the lifetime of the slice.
func alignedBytes(size, alignment uint64) []byte {
	raw := make([]byte, size+alignment)
	offset := alignment - uint64(uintptr(unsafe.Pointer(unsafe.SliceData(raw))))%alignment
	if offset == alignment {
		offset = 0
	}
	return raw[offset : offset+size : offset+size]
}

// Allocate size bytes of device memory.
// The memory is zeroed and aligned to Config.Alignment. Release it with Deallocate.
func (e *Executor) Allocate(size uint64) (stream.DeviceMemory, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return stream.DeviceMemory{}, errors.Errorf("host executor %q is closed", e.config.Name)
	}
	if size > uint64(math.MaxInt)-e.config.Alignment {
		return stream.DeviceMemory{}, errors.Errorf("host executor %q out of memory: requested %d bytes can't be addressed",
			e.config.Name, size)
	}
	if e.config.MemoryLimit > 0 && size > e.config.MemoryLimit-e.memoryInUse {
		return stream.DeviceMemory{}, errors.Errorf("host executor %q out of memory: requested %d bytes, %d of %d in use",
			e.config.Name, size, e.memoryInUse, e.config.MemoryLimit)
	}
	e.nextAllocationID++
	a := &allocation{
		id:       e.nextAllocationID,
		executor: e,
		buf:      alignedBytes(size, e.config.Alignment),
	}
	e.allocations[a] = struct{}{}
	e.memoryInUse += size
	e.metrics.memoryInUse.Set(float64(e.memoryInUse))
	return stream.NewDeviceMemory(a, size), nil
}

// Deallocate releases memory returned by Allocate.
//
// Operations already queued that use the memory still complete, new ones are rejected.
func (e *Executor) Deallocate(mem stream.DeviceMemory) error {
	a, ok := mem.Opaque().(*allocation)
	if !ok || a.executor != e {
		return errors.Errorf("host executor %q: %s was not allocated by this executor", e.config.Name, mem)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, found := e.allocations[a]; !found {
		return errors.Errorf("host executor %q: %s already deallocated", e.config.Name, mem)
	}
	delete(e.allocations, a)
	e.memoryInUse -= uint64(len(a.buf))
	e.metrics.memoryInUse.Set(float64(e.memoryInUse))
	return nil
}

// MemoryInUse returns the number of bytes currently allocated.
func (e *Executor) MemoryInUse() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.memoryInUse
}

// resolve returns the bytes of the first size bytes referenced by mem.
func (e *Executor) resolve(mem stream.DeviceMemory, size uint64) ([]byte, error) {
	if mem.IsNull() {
		return nil, errors.New("null device memory")
	}
	a, ok := mem.Opaque().(*allocation)
	if !ok || a.executor != e {
		return nil, errors.Errorf("%s was not allocated by host executor %q", mem, e.config.Name)
	}
	e.mu.Lock()
	_, live := e.allocations[a]
	e.mu.Unlock()
	if !live {
		return nil, errors.Errorf("%s used after being deallocated", mem)
	}
	if size > mem.Size() {
		return nil, errors.Errorf("%d bytes out of range of %s", size, mem)
	}
	end := mem.Offset() + size
	if end < mem.Offset() || end > uint64(len(a.buf)) {
		return nil, errors.Errorf("%d bytes out of range of %s", size, mem)
	}
	return a.buf[mem.Offset():end], nil
}
