package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MessageBus decouples channels from the dialog controller and the
// dispatcher: channels publish inbound events and consume outbound
// messages, the controller does the reverse.
type MessageBus struct {
	inbound  chan InboundEvent
	outbound chan OutboundMessage
	closed   bool
	dropped  droppedCounters
	mu       sync.RWMutex
}

type droppedCounters struct {
	inbound  atomic.Uint64
	outbound atomic.Uint64
}

const publishTimeout = 100 * time.Millisecond

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundEvent, 100),
		outbound: make(chan OutboundMessage, 100),
	}
}

func (mb *MessageBus) PublishInbound(ev InboundEvent) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}

	select {
	case mb.inbound <- ev:
	default:
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case mb.inbound <- ev:
		case <-timer.C:
			mb.dropped.inbound.Add(1)
		}
	}
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundEvent, bool) {
	select {
	case ev, ok := <-mb.inbound:
		if !ok {
			return InboundEvent{}, false
		}
		return ev, true
	case <-ctx.Done():
		return InboundEvent{}, false
	}
}

func (mb *MessageBus) PublishOutbound(msg OutboundMessage) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}

	select {
	case mb.outbound <- msg:
	default:
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case mb.outbound <- msg:
		case <-timer.C:
			mb.dropped.outbound.Add(1)
		}
	}
}

func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg, ok := <-mb.outbound:
		if !ok {
			return OutboundMessage{}, false
		}
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

func (mb *MessageBus) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return
	}
	mb.closed = true
	close(mb.inbound)
	close(mb.outbound)
}

func (mb *MessageBus) DroppedInbound() uint64 {
	return mb.dropped.inbound.Load()
}

func (mb *MessageBus) DroppedOutbound() uint64 {
	return mb.dropped.outbound.Load()
}
