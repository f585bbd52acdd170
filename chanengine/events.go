package chanengine

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/decred/dcrlnd-statechannel/chanstate"
)

// EventType enumerates the channel-update lifecycle events the engine
// publishes (spec §9: "the engine publishes lifecycle events ... via a
// bounded pub/sub that does not backpressure the protocol core").
type EventType string

const (
	EventSetup   EventType = "channel_setup"
	EventDeposit EventType = "channel_deposit"
	EventCreate  EventType = "transfer_created"
	EventResolve EventType = "transfer_resolved"
)

// Event is published once a channel update has been durably persisted.
type Event struct {
	Type           EventType
	ChannelAddress common.Address
	NextState      *chanstate.ChannelState
	Transfer       *chanstate.Transfer
}

// eventBufferSize bounds each subscriber's channel so one slow subscriber
// cannot stall the engine; publishes to a full subscriber are dropped
// rather than blocked, per the redesign guidance that the pub/sub must
// never backpressure the protocol core.
const eventBufferSize = 64

// EventSink is a bounded, non-backpressuring pub/sub of Event, replacing
// the shared event-emitter pattern the redesign guidance calls out.
type EventSink struct {
	mu   sync.Mutex
	subs []chan Event
}

// NewEventSink builds an empty sink.
func NewEventSink() *EventSink {
	return &EventSink{}
}

// Subscribe returns a channel that receives every future Publish call.
// Callers should range over it for as long as they care about events; there
// is no Unsubscribe since the core never blocks on delivery.
func (s *EventSink) Subscribe() <-chan Event {
	ch := make(chan Event, eventBufferSize)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

// Publish fans ev out to every subscriber, dropping it for any subscriber
// whose buffer is full instead of blocking the caller.
func (s *EventSink) Publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			log.Warnf("dropping %s event for channel %s: subscriber buffer full",
				ev.Type, ev.ChannelAddress.Hex())
		}
	}
}
