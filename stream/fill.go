package stream

import (
	"github.com/gomlx/streamexecutor/dtypes"
)

// Fill queues the filling of count elements of type T at location with value.
//
// It is implemented with Stream.Memset32 (or Stream.MemZero for zero values), so the total size in bytes must be
// a multiple of 4, and 8-byte values must have equal 32-bit halves (see dtypes.Memset32Pattern).
func Fill[T dtypes.Supported](s *Stream, location *DeviceMemory, value T, count int) error {
	if count < 0 {
		return newError(ErrInvalidArgument, nil, "Fill with negative count %d", count)
	}
	dtype := dtypes.FromGenericsType[T]()
	pattern, err := dtypes.Memset32Pattern(value)
	if err != nil {
		return newError(ErrInvalidArgument, err, "can not fill %s memory with %v", dtype, value)
	}
	size := uint64(count) * uint64(dtype.Size())
	if size%4 != 0 {
		return newError(ErrInvalidArgument, nil,
			"Fill of %d elements of %s is %d bytes, not a multiple of 4", count, dtype, size)
	}
	if pattern == 0 {
		return s.MemZero(location, size)
	}
	return s.Memset32(location, pattern, size)
}
