package char

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kos-sim/kos/domain"
)

func TestWriteReadRoundTrip(t *testing.T) {
	p := New(64)
	n, err := p.Write([]byte("hello"), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	out, err := p.Read(5, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))
}

func TestFlushSignalsBlockedReaderWithEOF(t *testing.T) {
	p := New(64)
	done := make(chan []byte, 1)
	go func() {
		out, err := p.Read(16, 0, nil)
		require.NoError(t, err)
		done <- out
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.Flush())

	select {
	case out := <-done:
		assert.Empty(t, out)
	case <-time.After(time.Second):
		t.Fatal("blocked reader was never woken by Flush")
	}
}

func TestNonblockWriteReturnsBusyWhenFull(t *testing.T) {
	p := New(4)
	_, err := p.Write([]byte("abcd"), 0, nil)
	require.NoError(t, err)

	_, err = p.Write([]byte("e"), domain.FlagNonblock, nil)
	require.Error(t, err)
}

func TestNonblockReadReturnsBusyWhenEmpty(t *testing.T) {
	p := New(16)
	_, err := p.Read(4, domain.FlagNonblock, nil)
	require.Error(t, err)
}

func TestReset(t *testing.T) {
	p := New(8)
	_, err := p.Write([]byte("ab"), 0, nil)
	require.NoError(t, err)
	require.NoError(t, p.Flush())
	require.NoError(t, p.Reset())

	stats := p.Stats()
	assert.False(t, stats.EOF)

	_, err = p.Read(2, domain.FlagNonblock, nil)
	require.Error(t, err)
}

// TestConcurrentWritersBlockingReader mirrors end-to-end scenario 1:
// two producers concurrently write 4-byte quartets, a consumer issues
// blocking reads until it holds 8 bytes (a read returns only what is
// buffered, so one read may return a single quartet), and must receive
// exactly the union of both quartets with each quartet's internal
// order preserved.
func TestConcurrentWritersBlockingReader(t *testing.T) {
	p := New(4096)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := p.Write([]byte("ABCD"), 0, nil)
		require.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := p.Write([]byte("EFGH"), 0, nil)
		require.NoError(t, err)
	}()

	var out []byte
	for len(out) < 8 {
		chunk, err := p.Read(8-len(out), 0, nil)
		require.NoError(t, err)
		out = append(out, chunk...)
	}
	wg.Wait()

	assert.Len(t, out, 8)

	got := append([]byte(nil), out...)
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	assert.Equal(t, []byte("ABCDEFGH"), got)

	assertSubsequence(t, out, "ABCD")
	assertSubsequence(t, out, "EFGH")

	assert.EqualValues(t, 8, p.Stats().CharsIn)
}

func assertSubsequence(t *testing.T, haystack []byte, needle string) {
	t.Helper()
	j := 0
	for _, b := range haystack {
		if j < len(needle) && b == needle[j] {
			j++
		}
	}
	assert.Equal(t, len(needle), j, "expected %q as a subsequence of %q", needle, haystack)
}
