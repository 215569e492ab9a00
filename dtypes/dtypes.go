// Package dtypes defines the element types of device memory that streams know how to fill, and how values of
// those types are packed into the 32-bit patterns used by Stream.Memset32.
package dtypes

import (
	"math"
	"strconv"
	"strings"

	"github.com/chewxy/math32"
	"github.com/gomlx/streamexecutor/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// DType enumerates the supported element types.
type DType int

const (
	// InvalidDType represents an invalid (or not set) dtype.
	InvalidDType DType = iota
	Bool
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float16
	BFloat16
	Float32
	Float64
)

var dtypeNames = []string{
	InvalidDType: "InvalidDType",
	Bool:         "Bool",
	Int8:         "Int8",
	Int16:        "Int16",
	Int32:        "Int32",
	Int64:        "Int64",
	Uint8:        "Uint8",
	Uint16:       "Uint16",
	Uint32:       "Uint32",
	Uint64:       "Uint64",
	Float16:      "Float16",
	BFloat16:     "BFloat16",
	Float32:      "Float32",
	Float64:      "Float64",
}

// shortNames are the XLA style names (PRED, S8, F32, ...), also accepted by MapOfNames.
var shortNames = []string{
	InvalidDType: "INVALID",
	Bool:         "PRED",
	Int8:         "S8",
	Int16:        "S16",
	Int32:        "S32",
	Int64:        "S64",
	Uint8:        "U8",
	Uint16:       "U16",
	Uint32:       "U32",
	Uint64:       "U64",
	Float16:      "F16",
	BFloat16:     "BF16",
	Float32:      "F32",
	Float64:      "F64",
}

// MapOfNames maps the names of the dtypes (long and short forms, in original and lower case) to their DType.
var MapOfNames = func() map[string]DType {
	m := make(map[string]DType, 4*len(dtypeNames))
	for ii, name := range dtypeNames {
		dtype := DType(ii)
		m[name] = dtype
		m[strings.ToLower(name)] = dtype
		m[shortNames[ii]] = dtype
		m[strings.ToLower(shortNames[ii])] = dtype
	}
	return m
}()

// String implements fmt.Stringer.
func (dtype DType) String() string {
	if dtype < 0 || int(dtype) >= len(dtypeNames) {
		return "DType(" + strconv.Itoa(int(dtype)) + ")"
	}
	return dtypeNames[dtype]
}

// IsValid returns whether dtype is one of the defined dtypes, other than InvalidDType.
func (dtype DType) IsValid() bool {
	return dtype > InvalidDType && int(dtype) < len(dtypeNames)
}

// Size returns the number of bytes used by one element of the dtype, or 0 for invalid dtypes.
func (dtype DType) Size() int {
	switch dtype {
	case Bool, Int8, Uint8:
		return 1
	case Int16, Uint16, Float16, BFloat16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	default:
		return 0
	}
}

// Supported lists the Go types that map to a DType.
type Supported interface {
	bool | int8 | int16 | int32 | int64 | int |
		uint8 | uint16 | uint32 | uint64 | uint |
		float16.Float16 | bfloat16.BFloat16 | float32 | float64
}

// FromGenericsType returns the DType corresponding to the Go type T.
func FromGenericsType[T Supported]() DType {
	var zero T
	return FromAny(zero)
}

// FromAny returns the DType of the Go value, or InvalidDType if the type is not supported.
func FromAny(value any) DType {
	switch value.(type) {
	case bool:
		return Bool
	case int8:
		return Int8
	case int16:
		return Int16
	case int32:
		return Int32
	case int64:
		return Int64
	case int:
		if strconv.IntSize == 32 {
			return Int32
		}
		return Int64
	case uint8:
		return Uint8
	case uint16:
		return Uint16
	case uint32:
		return Uint32
	case uint64:
		return Uint64
	case uint:
		if strconv.IntSize == 32 {
			return Uint32
		}
		return Uint64
	case float16.Float16:
		return Float16
	case bfloat16.BFloat16:
		return BFloat16
	case float32:
		return Float32
	case float64:
		return Float64
	}
	return InvalidDType
}

// Memset32Pattern packs value into the 32-bit pattern that, repeated over device memory, fills it with
// copies of value: 1-byte values are repeated 4 times and 2-byte values twice.
//
// 8-byte values can only be packed if both 32-bit halves are equal (e.g. zero), otherwise an error is returned.
func Memset32Pattern[T Supported](value T) (uint32, error) {
	switch v := any(value).(type) {
	case bool:
		if v {
			return repeat8(1), nil
		}
		return 0, nil
	case int8:
		return repeat8(uint8(v)), nil
	case uint8:
		return repeat8(v), nil
	case int16:
		return repeat16(uint16(v)), nil
	case uint16:
		return repeat16(v), nil
	case float16.Float16:
		return repeat16(v.Bits()), nil
	case bfloat16.BFloat16:
		return repeat16(v.Bits()), nil
	case int32:
		return uint32(v), nil
	case uint32:
		return v, nil
	case float32:
		return math32.Float32bits(v), nil
	case int64:
		return split64(uint64(v), value)
	case uint64:
		return split64(v, value)
	case int:
		return split64(uint64(v), value)
	case uint:
		return split64(uint64(v), value)
	case float64:
		return split64(math.Float64bits(v), value)
	}
	return 0, errors.Errorf("dtypes.Memset32Pattern: unsupported type %T", value)
}

func repeat8(b uint8) uint32 {
	return uint32(b) * 0x01010101
}

func repeat16(h uint16) uint32 {
	return uint32(h)<<16 | uint32(h)
}

func split64(bits uint64, value any) (uint32, error) {
	high, low := uint32(bits>>32), uint32(bits)
	if high != low {
		return 0, errors.Errorf("dtypes.Memset32Pattern: %T value %v can not be expressed as a repeated 32-bit pattern", value, value)
	}
	return low, nil
}
