package pool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireWrapsAround(t *testing.T) {
	p := New(3, 64)
	var bufs [][]byte
	for _, n := range []int{10, 20, 30, 40} {
		buf := p.Acquire(n)
		require.NotNil(t, buf)
		require.Len(t, buf, n)
		bufs = append(bufs, buf)
	}
	require.Same(t, &bufs[0][0], &bufs[3][0], "4th acquire must reuse the 1st buffer")
	require.NotSame(t, &bufs[0][0], &bufs[1][0])
	require.NotSame(t, &bufs[1][0], &bufs[2][0])
	require.Equal(t, uint64(4), p.Acquired())
}

func TestAcquireTooLarge(t *testing.T) {
	p := New(2, 8)
	require.Nil(t, p.Acquire(9))
	require.Nil(t, p.Acquire(-1))
	require.Equal(t, uint64(0), p.Acquired())
	require.Len(t, p.Acquire(8), 8)
	require.Len(t, p.Acquire(0), 0)
}

func TestBuffersDoNotOverlap(t *testing.T) {
	p := New(4, 4)
	for i := 0; i < p.Len(); i++ {
		buf := p.Acquire(4)
		for j := range buf {
			buf[j] = byte(i)
		}
	}
	for i := 0; i < p.Len(); i++ {
		require.Equal(t, []byte{byte(i), byte(i), byte(i), byte(i)}, p.Acquire(4))
	}
	// appending to an acquired buffer must not spill into its neighbour.
	buf := p.Acquire(4)
	_ = append(buf, 0xff)
	require.Equal(t, []byte{1, 1, 1, 1}, p.Acquire(4))
}

func TestConcurrentAcquire(t *testing.T) {
	p := New(5, 16)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				require.NotNil(t, p.Acquire(16))
			}
		}()
	}
	wg.Wait()
	require.Equal(t, uint64(800), p.Acquired())
}
