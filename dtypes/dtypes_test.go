package dtypes

import (
	"testing"

	"github.com/gomlx/streamexecutor/dtypes/bfloat16"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestMapOfNames(t *testing.T) {
	require.Equal(t, Float16, MapOfNames["Float16"])
	require.Equal(t, Float16, MapOfNames["float16"])
	require.Equal(t, Float16, MapOfNames["F16"])
	require.Equal(t, Float16, MapOfNames["f16"])

	require.Equal(t, BFloat16, MapOfNames["BFloat16"])
	require.Equal(t, BFloat16, MapOfNames["bfloat16"])
	require.Equal(t, BFloat16, MapOfNames["BF16"])
	require.Equal(t, BFloat16, MapOfNames["bf16"])

	require.Equal(t, Bool, MapOfNames["PRED"])
	_, found := MapOfNames["complex64"]
	require.False(t, found)
}

func TestDType_Size(t *testing.T) {
	require.Equal(t, 1, Bool.Size())
	require.Equal(t, 2, BFloat16.Size())
	require.Equal(t, 4, Float32.Size())
	require.Equal(t, 8, Uint64.Size())
	require.Equal(t, 0, InvalidDType.Size())
	require.Equal(t, "DType(99)", DType(99).String())
	require.False(t, DType(99).IsValid())
	require.False(t, InvalidDType.IsValid())
	require.True(t, Int8.IsValid())
}

func TestFromGenericsType(t *testing.T) {
	require.Equal(t, Float32, FromGenericsType[float32]())
	require.Equal(t, Float16, FromGenericsType[float16.Float16]())
	require.Equal(t, BFloat16, FromGenericsType[bfloat16.BFloat16]())
	require.Equal(t, Uint8, FromGenericsType[uint8]())
	require.Equal(t, InvalidDType, FromAny("string"))
}

func TestMemset32Pattern(t *testing.T) {
	p, err := Memset32Pattern(uint8(0xAB))
	require.NoError(t, err)
	require.Equal(t, uint32(0xABABABAB), p)

	p, err = Memset32Pattern(int8(-1))
	require.NoError(t, err)
	require.Equal(t, uint32(0xFFFFFFFF), p)

	p, err = Memset32Pattern(true)
	require.NoError(t, err)
	require.Equal(t, uint32(0x01010101), p)

	p, err = Memset32Pattern(float16.Fromfloat32(1))
	require.NoError(t, err)
	require.Equal(t, uint32(0x3C003C00), p)

	p, err = Memset32Pattern(bfloat16.FromFloat32(1))
	require.NoError(t, err)
	require.Equal(t, uint32(0x3F803F80), p)

	p, err = Memset32Pattern(float32(1))
	require.NoError(t, err)
	require.Equal(t, uint32(0x3F800000), p)

	p, err = Memset32Pattern(int64(0))
	require.NoError(t, err)
	require.Equal(t, uint32(0), p)

	p, err = Memset32Pattern(uint64(0x1234567812345678))
	require.NoError(t, err)
	require.Equal(t, uint32(0x12345678), p)

	_, err = Memset32Pattern(float64(1))
	require.Error(t, err)
}

func TestBFloat16(t *testing.T) {
	require.Equal(t, float32(1), bfloat16.FromFloat32(1).Float32())
	require.Equal(t, uint16(0x3F80), bfloat16.FromFloat32(1).Bits())
	// 1+2^-8 is exactly halfway between two bfloat16 values: rounds to even.
	require.Equal(t, float32(1), bfloat16.FromFloat32(1+1.0/256).Float32())
	require.Equal(t, "-2", bfloat16.FromBits(0xC000).String())
}
