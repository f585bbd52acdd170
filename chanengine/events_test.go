package chanengine

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestEventSinkDeliversToAllSubscribers(t *testing.T) {
	sink := NewEventSink()
	sub1 := sink.Subscribe()
	sub2 := sink.Subscribe()

	channel := common.HexToAddress("0x1")
	sink.Publish(Event{Type: EventSetup, ChannelAddress: channel})

	select {
	case ev := <-sub1:
		require.Equal(t, EventSetup, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("subscriber 1 never received the event")
	}
	select {
	case ev := <-sub2:
		require.Equal(t, EventSetup, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("subscriber 2 never received the event")
	}
}

func TestEventSinkDropsOnFullBufferWithoutBlocking(t *testing.T) {
	sink := NewEventSink()
	sub := sink.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < eventBufferSize+10; i++ {
			sink.Publish(Event{Type: EventDeposit})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber buffer")
	}

	// Drain what made it through; it must be at most the buffer size.
	drained := 0
	for {
		select {
		case <-sub:
			drained++
		default:
			require.LessOrEqual(t, drained, eventBufferSize)
			return
		}
	}
}
