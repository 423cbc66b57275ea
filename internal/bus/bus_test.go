package bus

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	t.Cleanup(b.Close)

	sub := b.Subscribe("orders")
	defer sub.Close()

	b.Publish("orders", Event{"type": "STATE_CHANGED", "order_id": int64(1)})

	evt := <-sub.C()
	assert.Equal(t, "STATE_CHANGED", evt["type"])
	assert.Equal(t, int64(1), evt["order_id"])
}

func TestChannelsAreIsolated(t *testing.T) {
	b := New()
	t.Cleanup(b.Close)

	orders := b.Subscribe("orders")
	defer orders.Close()
	kitchen := b.Subscribe("kitchen")
	defer kitchen.Close()

	b.Publish("orders", Event{"n": 1})

	assert.Len(t, orders.C(), 1)
	assert.Empty(t, kitchen.C())
}

func TestFanOut(t *testing.T) {
	b := New()
	t.Cleanup(b.Close)

	first := b.Subscribe("orders")
	defer first.Close()
	second := b.Subscribe("orders")
	defer second.Close()

	b.Publish("orders", Event{"n": 1})

	assert.Len(t, first.C(), 1)
	assert.Len(t, second.C(), 1)
}

func TestDropOldestWhenFull(t *testing.T) {
	b := New(WithQueueSize(100))
	t.Cleanup(b.Close)

	sub := b.Subscribe("orders")
	defer sub.Close()

	for i := 0; i < 150; i++ {
		b.Publish("orders", Event{"seq": i})
	}

	require.Len(t, sub.C(), 100)
	evt := <-sub.C()
	assert.Equal(t, 50, evt["seq"], "oldest 50 events evicted")

	var last Event
	for len(sub.C()) > 0 {
		last = <-sub.C()
	}
	assert.Equal(t, 149, last["seq"])
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	b := New(WithQueueSize(2))
	t.Cleanup(b.Close)

	slow := b.Subscribe("orders")
	defer slow.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish("orders", Event{"seq": i})
		}
		close(done)
	}()

	<-done
	assert.Len(t, slow.C(), 2)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	t.Cleanup(b.Close)

	sub := b.Subscribe("orders")
	require.Equal(t, 1, b.SubscriberCount("orders"))

	sub.Close()
	assert.Equal(t, 0, b.SubscriberCount("orders"))

	b.Publish("orders", Event{"n": 1})
	_, open := <-sub.C()
	assert.False(t, open)
}

func TestCloseIsIdempotent(t *testing.T) {
	b := New()
	sub := b.Subscribe("orders")
	sub.Close()
	sub.Close()
	b.Close()
	b.Close()

	post := b.Subscribe("orders")
	_, open := <-post.C()
	assert.False(t, open, "subscriptions after shutdown are born closed")
}

func TestShutdownRacesSubscriberClose(t *testing.T) {
	// Subscription.Close enters its Once and then takes the bus mutex;
	// Bus.Close must never hold the mutex while entering the same Once, or
	// the two sides wait on each other forever.
	for i := 0; i < 200; i++ {
		b := New(WithQueueSize(4))
		subs := make([]*Subscription, 8)
		for j := range subs {
			subs[j] = b.Subscribe("kiosk")
		}

		var wg sync.WaitGroup
		wg.Add(len(subs) + 1)
		start := make(chan struct{})
		for _, sub := range subs {
			go func(s *Subscription) {
				defer wg.Done()
				<-start
				s.Close()
			}(sub)
		}
		go func() {
			defer wg.Done()
			<-start
			b.Close()
		}()
		close(start)

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("shutdown blocked behind a subscriber close")
		}

		for _, sub := range subs {
			_, open := <-sub.C()
			assert.False(t, open, "every queue closed after shutdown")
		}
	}
}

func TestSubscribeAfterShutdownThenClose(t *testing.T) {
	b := New()
	b.Close()

	sub := b.Subscribe("orders")
	_, open := <-sub.C()
	require.False(t, open)
	sub.Close()
	sub.Close()
}

func TestManyChannels(t *testing.T) {
	b := New()
	t.Cleanup(b.Close)

	subs := make([]*Subscription, 10)
	for i := range subs {
		subs[i] = b.Subscribe(fmt.Sprintf("kiosk-%d", i))
		defer subs[i].Close()
	}
	for i := range subs {
		b.Publish(fmt.Sprintf("kiosk-%d", i), Event{"kiosk": i})
	}
	for i, sub := range subs {
		evt := <-sub.C()
		assert.Equal(t, i, evt["kiosk"])
	}
}
