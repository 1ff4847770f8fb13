//go:build linux

package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestPoller_ReadReadiness(t *testing.T) {
	p, err := NewPoller()
	require.NoError(t, err)
	defer p.Close()

	a, b := socketPair(t)
	require.NoError(t, p.Add(a, InterestRead))

	events := make([]Event, 8)
	n, err := p.Wait(events, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = unix.Write(b, []byte("ping"))
	require.NoError(t, err)

	n, err = p.Wait(events, 1000)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, a, events[0].Fd)
	assert.True(t, events[0].Readable)
	assert.False(t, events[0].Writable)

	// level-triggered: still ready until read
	n, err = p.Wait(events, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPoller_ModifyAndRemove(t *testing.T) {
	p, err := NewPoller()
	require.NoError(t, err)
	defer p.Close()

	a, _ := socketPair(t)
	require.NoError(t, p.Add(a, InterestRead))
	require.NoError(t, p.Modify(a, InterestReadWrite))

	events := make([]Event, 8)
	n, err := p.Wait(events, 1000)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.True(t, events[0].Writable)

	require.NoError(t, p.Remove(a))
	n, err = p.Wait(events, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPoller_Hangup(t *testing.T) {
	p, err := NewPoller()
	require.NoError(t, err)
	defer p.Close()

	a, b := socketPair(t)
	require.NoError(t, p.Add(a, InterestRead))
	require.NoError(t, unix.Shutdown(b, unix.SHUT_WR))

	events := make([]Event, 8)
	n, err := p.Wait(events, 1000)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.True(t, events[0].Hangup)
}

func TestPoller_WakeInterruptsWait(t *testing.T) {
	p, err := NewPoller()
	require.NoError(t, err)
	defer p.Close()

	done := make(chan int, 1)
	go func() {
		events := make([]Event, 4)
		n, _ := p.Wait(events, -1)
		done <- n
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.Wake())

	select {
	case n := <-done:
		assert.Equal(t, 0, n, "wake must not surface as a descriptor event")
	case <-time.After(2 * time.Second):
		t.Fatal("Wait was not interrupted by Wake")
	}
}
