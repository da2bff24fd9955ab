package replication

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/braid/internal/transport"
)

func TestInbox_FIFO(t *testing.T) {
	q := newInbox()
	for _, s := range []string{"a", "b", "c"} {
		require.True(t, q.Enqueue(transport.Message{From: s}))
	}
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"a", "b", "c"} {
		m, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, m.From)
	}
	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestInbox_SignalCoalesces(t *testing.T) {
	q := newInbox()
	q.Enqueue(transport.Message{})
	q.Enqueue(transport.Message{})

	<-q.Wait()
	select {
	case <-q.Wait():
		t.Fatal("expected a single coalesced signal")
	default:
	}
	assert.Equal(t, 2, q.Len())
}

func TestInbox_CloseWakesAndRejects(t *testing.T) {
	q := newInbox()
	q.Close()
	q.Close()

	_, open := <-q.Wait()
	assert.False(t, open)
	assert.False(t, q.Enqueue(transport.Message{}))
}

func TestInbox_ConcurrentEnqueue(t *testing.T) {
	q := newInbox()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Enqueue(transport.Message{})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1000, q.Len())
}
