package block

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWriteReadFsync mirrors end-to-end scenario 2: disk0, 1MiB total,
// 512-byte blocks, write 1024 bytes of 0x41 at offset 1024, read back
// exactly, fsync leaves dirty_entries == 0.
func TestWriteReadFsync(t *testing.T) {
	const blockSize = 512
	const totalBlocks = (1 << 20) / blockSize

	p := New(totalBlocks, blockSize, 16)

	payload := bytes.Repeat([]byte{0x41}, 1024)
	n, err := p.Write(1024, payload)
	require.NoError(t, err)
	assert.Equal(t, 1024, n)

	out, err := p.Read(1024, 1024)
	require.NoError(t, err)
	assert.Equal(t, payload, out)

	require.NoError(t, p.Fsync())
	assert.Equal(t, 0, p.Stats().DirtyCount)
}

func TestWriteRejectsPastTotalSize(t *testing.T) {
	p := New(4, 512, 4)
	_, err := p.Write(2000, []byte{0x01, 0x02})
	require.Error(t, err)
}

func TestReadAtEOFReturnsEmpty(t *testing.T) {
	p := New(4, 512, 4)
	out, err := p.Read(4*512, 100)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestReadShortAtEOF(t *testing.T) {
	p := New(4, 512, 4)
	out, err := p.Read(4*512-100, 200)
	require.NoError(t, err)
	assert.Len(t, out, 100)
}

func TestPartialBlockWriteIsReadModifyWrite(t *testing.T) {
	p := New(2, 512, 4)
	_, err := p.Write(0, bytes.Repeat([]byte{0xFF}, 512))
	require.NoError(t, err)

	_, err = p.Write(10, []byte{0xAA, 0xBB})
	require.NoError(t, err)

	out, err := p.Read(0, 512)
	require.NoError(t, err)
	assert.Equal(t, byte(0xFF), out[0])
	assert.Equal(t, byte(0xAA), out[10])
	assert.Equal(t, byte(0xBB), out[11])
	assert.Equal(t, byte(0xFF), out[12])
}

func TestIOCtlBlkGetSizeAndFlsBuf(t *testing.T) {
	p := New(8, 512, 4)
	_, err := p.Write(0, []byte{0x01})
	require.NoError(t, err)

	size, err := p.IOCtl(0x2000, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 8, size)

	_, err = p.IOCtl(0x2001, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Stats().DirtyCount)
}

func TestCacheEvictionFlushesDirtySlot(t *testing.T) {
	p := New(32, 64, 2)

	for i := int64(0); i < 32; i++ {
		_, err := p.Write(i*64+1, []byte{byte(i)})
		require.NoError(t, err)
	}

	for i := int64(0); i < 32; i++ {
		out, err := p.Read(i*64+1, 1)
		require.NoError(t, err)
		assert.Equal(t, byte(i), out[0])
	}
}
