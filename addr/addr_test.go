package addr

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mit-pdos/go-easyfs/common"
)

func TestBitAddr(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(MkAddr(3, 0), MkBitAddr(3, 0))
	assert.Equal(MkAddr(3, 4095), MkBitAddr(3, 4095))
	assert.Equal(MkAddr(4, 1), MkBitAddr(3, common.NBITBLOCK+1))

	w, bit := MkBitAddr(1, 130).Word()
	assert.Equal(uint64(2), w)
	assert.Equal(uint64(2), bit)
}

func TestInodeAddr(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(MkAddr(2, 0), MkInodeAddr(2, 0))
	assert.Equal(MkAddr(2, 384), MkInodeAddr(2, 3))
	assert.Equal(MkAddr(3, 0), MkInodeAddr(2, 4))
	assert.Equal(MkAddr(4, 128), MkInodeAddr(2, 9))
}
