package concurrency

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandQueue_FIFO(t *testing.T) {
	q := NewCommandQueue()
	q.Enqueue(NewConnection{ID: 1, Descriptor: 7})
	q.Enqueue(InboundMessage{Descriptor: 7, Frame: []byte{0, 0, 0, 4}})
	q.Enqueue(LostConnection{Descriptor: 7, Reason: "peer closed"})
	assert.Equal(t, 3, q.Len())

	got := q.DrainAll()
	require.Len(t, got, 3)
	assert.Equal(t, KindNewConnection, got[0].Kind())
	assert.Equal(t, KindInboundMessage, got[1].Kind())
	assert.Equal(t, KindLostConnection, got[2].Kind())
	assert.Equal(t, 0, q.Len())
	assert.Nil(t, q.DrainAll())
}

func TestCommandQueue_IgnoresNil(t *testing.T) {
	q := NewCommandQueue()
	q.Enqueue(nil)
	assert.Equal(t, 0, q.Len())
}

func TestCommandQueue_Notify(t *testing.T) {
	q := NewCommandQueue()
	q.Enqueue(Invocation{Name: "a"})
	q.Enqueue(Invocation{Name: "b"})

	select {
	case <-q.Notify():
	case <-time.After(time.Second):
		t.Fatal("expected notification")
	}
	select {
	case <-q.Notify():
		t.Fatal("notifications should coalesce")
	default:
	}
}

// Concurrent producers interleaved with drains: nothing lost, nothing
// duplicated, per-producer order preserved.
func TestCommandQueue_ConcurrentDrain(t *testing.T) {
	const producers = 8
	const perProducer = 5000

	q := NewCommandQueue()
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(InboundMessage{Descriptor: p, Frame: []byte{byte(i >> 8), byte(i)}})
			}
		}(p)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	next := make([]int, producers)
	total := 0
	check := func(evs []Event) {
		for _, ev := range evs {
			msg := ev.(InboundMessage)
			seq := int(msg.Frame[0])<<8 | int(msg.Frame[1])
			require.Equal(t, next[msg.Descriptor], seq, "producer %d out of order", msg.Descriptor)
			next[msg.Descriptor]++
			total++
		}
	}

	for {
		select {
		case <-done:
			check(q.DrainAll())
			assert.Equal(t, producers*perProducer, total)
			return
		default:
			check(q.DrainAll())
		}
	}
}
