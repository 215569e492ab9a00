package stream

import "fmt"

// DeviceMemory is a lightweight reference to memory owned by an executor: it doesn't own the underlying
// allocation, and copying it doesn't copy the memory.
//
// The opaque handle is only meaningful to the executor that created it.
type DeviceMemory struct {
	opaque       any
	offset, size uint64
}

// NewDeviceMemory is used by executors to wrap one of their allocations.
func NewDeviceMemory(opaque any, size uint64) DeviceMemory {
	return DeviceMemory{opaque: opaque, size: size}
}

// Opaque returns the executor specific handle of the allocation.
func (m DeviceMemory) Opaque() any {
	return m.opaque
}

// Offset in bytes of this reference from the start of the allocation. Non-zero only for slices.
func (m DeviceMemory) Offset() uint64 {
	return m.offset
}

// Size in bytes of the referenced memory.
func (m DeviceMemory) Size() uint64 {
	return m.size
}

// IsNull returns whether this is a reference to no memory at all.
func (m DeviceMemory) IsNull() bool {
	return m.opaque == nil
}

// Slice returns a reference to size bytes starting offset bytes into m.
func (m DeviceMemory) Slice(offset, size uint64) (DeviceMemory, error) {
	if offset > m.size || size > m.size-offset {
		return DeviceMemory{}, newError(ErrInvalidArgument, nil,
			"slice [%d, %d+%d) out of range of device memory of %d bytes", offset, offset, size, m.size)
	}
	return DeviceMemory{opaque: m.opaque, offset: m.offset + offset, size: size}, nil
}

// String implements fmt.Stringer.
func (m DeviceMemory) String() string {
	if m.IsNull() {
		return "DeviceMemory(null)"
	}
	return fmt.Sprintf("DeviceMemory(%v+%d, %d bytes)", m.opaque, m.offset, m.size)
}
