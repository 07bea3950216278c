package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMin(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(uint64(2), Min(2, 3))
	assert.Equal(uint64(2), Min(3, 2))
	assert.Equal(uint64(2), Min(2, 2))
}

func TestRoundUp(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(uint64(4), RoundUp(10, 3))
	assert.Equal(uint64(3), RoundUp(9, 3), "exact division")
	assert.Equal(uint64(0), RoundUp(0, 3))
	assert.Equal(uint64(5), RoundUp(512*4+511, 512))
	assert.Equal(uint64(5), RoundUp(512*4+1, 512), "round up by sz-1")
}

func TestSumOverflows(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(false, SumOverflows(1<<31, 1<<31))
	assert.Equal(false, SumOverflows(1<<64-2, 1))
	assert.Equal(false, SumOverflows(1, 1<<64-2))
	assert.Equal(false, SumOverflows(1<<32, 1<<32))

	assert.Equal(true, SumOverflows(1, 1<<64-1))
	assert.Equal(true, SumOverflows(1<<64-1, 1))
	assert.Equal(true, SumOverflows(2, 1<<64-1))
	assert.Equal(true, SumOverflows(1<<63, 1<<63))
}

func TestCloneAndZero(t *testing.T) {
	assert := assert.New(t)
	b := []byte{1, 2, 3}
	c := CloneByteSlice(b)
	Zero(b)
	assert.Equal([]byte{0, 0, 0}, b)
	assert.Equal([]byte{1, 2, 3}, c, "clone is independent")
}
