package bus

import (
	"context"
	"testing"
	"time"
)

func TestMessageBus_RoundTrip(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	mb.PublishInbound(InboundEvent{Channel: "line", UserID: "U1", Kind: EventText, Text: "用藥提醒"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ev, ok := mb.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("expected an inbound event")
	}
	if ev.Channel != "line" || ev.Text != "用藥提醒" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	mb.PublishOutbound(OutboundMessage{Channel: "line", UserID: "U1", Text: "請輸入藥品名稱:"})
	msg, ok := mb.SubscribeOutbound(ctx)
	if !ok {
		t.Fatal("expected an outbound message")
	}
	if msg.Text != "請輸入藥品名稱:" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestMessageBus_PublishInboundDropsWhenBufferFull(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	for i := 0; i < cap(mb.inbound); i++ {
		mb.PublishInbound(InboundEvent{Channel: "test", UserID: "u", Kind: EventText, Text: "msg"})
	}

	mb.PublishInbound(InboundEvent{Channel: "test", UserID: "u", Kind: EventText, Text: "overflow"})
	if mb.DroppedInbound() != 1 {
		t.Fatalf("expected dropped inbound count 1, got %d", mb.DroppedInbound())
	}
}

func TestMessageBus_PublishOutboundDropsWhenBufferFull(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	for i := 0; i < cap(mb.outbound); i++ {
		mb.PublishOutbound(OutboundMessage{Channel: "test", ChatID: "c", Text: "msg"})
	}

	mb.PublishOutbound(OutboundMessage{Channel: "test", ChatID: "c", Text: "overflow"})
	if mb.DroppedOutbound() != 1 {
		t.Fatalf("expected dropped outbound count 1, got %d", mb.DroppedOutbound())
	}
}

func TestMessageBus_ClosedChannelsReturnFalse(t *testing.T) {
	mb := NewMessageBus()
	mb.Close()

	if _, ok := mb.ConsumeInbound(context.Background()); ok {
		t.Fatalf("expected closed inbound consume to return ok=false")
	}
	if _, ok := mb.SubscribeOutbound(context.Background()); ok {
		t.Fatalf("expected closed outbound subscribe to return ok=false")
	}
}
