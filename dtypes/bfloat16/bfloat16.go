// Package bfloat16 implements the "brain floating point" 16 bits format: the top 16 bits of a float32.
//
// Only conversions are provided: it is used to pack fill values for device memory, not to do arithmetic.
package bfloat16

import (
	"fmt"

	"github.com/chewxy/math32"
)

// BFloat16 holds the raw bits of a bfloat16 value.
type BFloat16 uint16

// FromFloat32 converts a float32 to BFloat16, rounding to nearest even.
// NaN values are kept as (quiet) NaN.
func FromFloat32(f float32) BFloat16 {
	if math32.IsNaN(f) {
		return BFloat16(0x7FC0)
	}
	bits := math32.Float32bits(f)
	roundingBias := uint32(0x7FFF) + ((bits >> 16) & 1)
	return BFloat16((bits + roundingBias) >> 16)
}

// FromBits returns the BFloat16 with the given raw bits.
func FromBits(bits uint16) BFloat16 {
	return BFloat16(bits)
}

// Bits returns the raw bits.
func (f BFloat16) Bits() uint16 {
	return uint16(f)
}

// Float32 converts back to float32, exactly.
func (f BFloat16) Float32() float32 {
	return math32.Float32frombits(uint32(f) << 16)
}

// String implements fmt.Stringer.
func (f BFloat16) String() string {
	return fmt.Sprintf("%g", f.Float32())
}
