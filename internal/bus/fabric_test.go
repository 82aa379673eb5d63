package bus

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupForRoom(t *testing.T) {
	assert.Equal(t, "chat_lobby", GroupForRoom("lobby"))
	assert.Equal(t, "chat_", GroupForRoom(""))
}

func TestLocalFabric_BroadcastReachesAllMembersIncludingSender(t *testing.T) {
	f := NewLocalFabric(Options{})
	sender := f.Join("chat_lobby")
	other := f.Join("chat_lobby")
	outsider := f.Join("chat_random")

	f.Broadcast("chat_lobby", []byte("hello"))

	for _, sub := range []*Subscription{sender, other} {
		select {
		case d := <-sub.Deliveries():
			assert.Equal(t, "hello", string(d.Payload))
		default:
			t.Fatal("expected a delivery for every group member")
		}
	}

	select {
	case <-outsider.Deliveries():
		t.Fatal("broadcast leaked into another group")
	default:
	}
}

func TestLocalFabric_LeaveStopsDelivery(t *testing.T) {
	f := NewLocalFabric(Options{})
	sub := f.Join("chat_lobby")
	require.Equal(t, 1, f.GroupSize("chat_lobby"))

	f.Leave("chat_lobby", sub)
	assert.Equal(t, 0, f.GroupSize("chat_lobby"))

	f.Broadcast("chat_lobby", []byte("after-leave"))
	select {
	case <-sub.Deliveries():
		t.Fatal("received delivery after leaving")
	default:
	}

	// Leaving twice is a no-op.
	f.Leave("chat_lobby", sub)
}

func TestLocalFabric_SlowConsumerDropsOldest(t *testing.T) {
	f := NewLocalFabric(Options{QueueSize: 2})
	sub := f.Join("chat_lobby")

	f.Broadcast("chat_lobby", []byte("a"))
	f.Broadcast("chat_lobby", []byte("b"))
	f.Broadcast("chat_lobby", []byte("c"))

	var got []string
	for i := 0; i < 2; i++ {
		select {
		case d := <-sub.Deliveries():
			got = append(got, string(d.Payload))
		default:
			t.Fatal("expected queued delivery")
		}
	}
	assert.Equal(t, []string{"b", "c"}, got)

	select {
	case <-sub.Deliveries():
		t.Fatal("queue should be drained")
	default:
	}
}

func TestLocalFabric_PublisherNeverBlocksOnFullQueue(t *testing.T) {
	f := NewLocalFabric(Options{QueueSize: 1})
	f.Join("chat_lobby")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			f.Broadcast("chat_lobby", []byte(fmt.Sprintf("m%d", i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow consumer")
	}
}

func TestDelivery_Expired(t *testing.T) {
	now := time.Now()

	assert.False(t, Delivery{}.Expired(now))
	assert.False(t, Delivery{ExpiresAt: now.Add(time.Second)}.Expired(now))
	assert.True(t, Delivery{ExpiresAt: now.Add(-time.Second)}.Expired(now))
}

func TestLocalFabric_StampsExpiry(t *testing.T) {
	f := NewLocalFabric(Options{MessageExpiry: time.Minute})
	sub := f.Join("chat_lobby")

	before := time.Now()
	f.Broadcast("chat_lobby", []byte("x"))

	d := <-sub.Deliveries()
	assert.False(t, d.ExpiresAt.Before(before.Add(time.Minute)))
	assert.False(t, d.Expired(time.Now()))
	assert.True(t, d.Expired(time.Now().Add(2*time.Minute)))
}

func TestLocalFabric_ConcurrentJoinBroadcastLeave(t *testing.T) {
	f := NewLocalFabric(Options{QueueSize: 8})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := f.Join("chat_lobby")
			f.Broadcast("chat_lobby", []byte("ping"))
			f.Leave("chat_lobby", sub)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, f.GroupSize("chat_lobby"))
}
