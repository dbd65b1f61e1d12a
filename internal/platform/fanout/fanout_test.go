package fanout

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet_DeliversInOrder(t *testing.T) {
	var s Set[int]
	var mu sync.Mutex
	var got []int
	s.Add(func(v int) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})
	for i := 0; i < 50; i++ {
		s.Publish(i)
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 50
	}, time.Second, 5*time.Millisecond)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestSet_RemoveStopsDelivery(t *testing.T) {
	var s Set[string]
	calls := make(chan string, 4)
	remove := s.Add(func(v string) { calls <- v })
	s.Publish("a")
	assert.Equal(t, "a", <-calls)
	remove()
	remove()
	assert.Equal(t, 0, s.Len())
	s.Publish("b")
	select {
	case v := <-calls:
		t.Fatalf("unexpected delivery %q after remove", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSet_CloseRejectsAdd(t *testing.T) {
	var s Set[int]
	s.Add(func(int) {})
	s.Close()
	assert.Equal(t, 0, s.Len())
	called := false
	s.Add(func(int) { called = true })
	s.Publish(1)
	time.Sleep(20 * time.Millisecond)
	assert.False(t, called)
}
