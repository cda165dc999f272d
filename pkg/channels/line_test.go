package channels

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/yclin-dev/medremind/pkg/bus"
	"github.com/yclin-dev/medremind/pkg/config"
)

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifyLineSignature(t *testing.T) {
	secret := "test_channel_secret"
	body := []byte(`{"events":[]}`)
	validSig := signBody(secret, body)

	tests := []struct {
		name      string
		body      []byte
		signature string
		want      bool
	}{
		{"valid signature", body, validSig, true},
		{"invalid signature", body, "aW52YWxpZA==", false},
		{"empty signature", body, "", false},
		{"tampered body", []byte(`{"events":[{"type":"message"}]}`), validSig, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := verifyLineSignature(secret, tt.body, tt.signature)
			if got != tt.want {
				t.Errorf("verifyLineSignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func newTestLineChannel(t *testing.T, secret string) (*LineChannel, *bus.MessageBus) {
	t.Helper()

	mb := bus.NewMessageBus()
	t.Cleanup(mb.Close)

	ch, err := NewLineChannel(config.LineConfig{
		ChannelSecret:      secret,
		ChannelAccessToken: "test_token",
	}, mb)
	if err != nil {
		t.Fatalf("new line channel: %v", err)
	}
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	return ch, mb
}

func nextEvent(t *testing.T, mb *bus.MessageBus) bus.InboundEvent {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ev, ok := mb.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("no inbound event published")
	}
	return ev
}

func TestLineWebhookTextMessage(t *testing.T) {
	secret := "s3cret"
	ch, mb := newTestLineChannel(t, secret)

	body := []byte(`{"events":[{
		"type": "message",
		"replyToken": "rt-1",
		"source": {"type": "user", "userId": "U123"},
		"message": {"id": "m1", "type": "text", "text": " 用藥提醒 "}
	}]}`)

	req := httptest.NewRequest(http.MethodPost, "/callback", strings.NewReader(string(body)))
	req.Header.Set("X-Line-Signature", signBody(secret, body))
	rec := httptest.NewRecorder()

	ch.WebhookHandler()(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	ev := nextEvent(t, mb)
	if ev.Channel != "line" || ev.Kind != bus.EventText {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.UserID != "U123" || ev.Text != "用藥提醒" || ev.ReplyToken != "rt-1" {
		t.Fatalf("unexpected event fields: %+v", ev)
	}
	if ev.ID == "" {
		t.Fatal("event id not assigned")
	}
}

func TestLineWebhookDatePostback(t *testing.T) {
	secret := "s3cret"
	ch, mb := newTestLineChannel(t, secret)

	body := []byte(`{"events":[{
		"type": "postback",
		"replyToken": "rt-2",
		"source": {"type": "user", "userId": "U123"},
		"postback": {"data": "start_date", "params": {"date": "2025-01-01"}}
	}]}`)

	req := httptest.NewRequest(http.MethodPost, "/callback", strings.NewReader(string(body)))
	req.Header.Set("X-Line-Signature", signBody(secret, body))
	rec := httptest.NewRecorder()

	ch.WebhookHandler()(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	ev := nextEvent(t, mb)
	if ev.Kind != bus.EventDateSelection {
		t.Fatalf("kind = %q, want date selection", ev.Kind)
	}
	if ev.FieldKey != "start_date" || ev.Date != "2025-01-01" {
		t.Fatalf("unexpected postback decode: %+v", ev)
	}
}

func TestLineWebhookLocationMessage(t *testing.T) {
	secret := "s3cret"
	ch, mb := newTestLineChannel(t, secret)

	body := []byte(`{"events":[{
		"type": "message",
		"source": {"type": "user", "userId": "U123"},
		"message": {"id": "m2", "type": "location", "latitude": 25.033, "longitude": 121.565}
	}]}`)

	req := httptest.NewRequest(http.MethodPost, "/callback", strings.NewReader(string(body)))
	req.Header.Set("X-Line-Signature", signBody(secret, body))
	rec := httptest.NewRecorder()

	ch.WebhookHandler()(rec, req)

	ev := nextEvent(t, mb)
	if ev.Kind != bus.EventLocation {
		t.Fatalf("kind = %q, want location", ev.Kind)
	}
	if ev.Latitude != 25.033 || ev.Longitude != 121.565 {
		t.Fatalf("unexpected coordinates: %+v", ev)
	}
}

func TestLineWebhookRejectsBadSignature(t *testing.T) {
	ch, _ := newTestLineChannel(t, "s3cret")

	body := []byte(`{"events":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/callback", strings.NewReader(string(body)))
	req.Header.Set("X-Line-Signature", "bm9wZQ==")
	rec := httptest.NewRecorder()

	ch.WebhookHandler()(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestLineWebhookRejectsGet(t *testing.T) {
	ch, _ := newTestLineChannel(t, "s3cret")

	req := httptest.NewRequest(http.MethodGet, "/callback", nil)
	rec := httptest.NewRecorder()

	ch.WebhookHandler()(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestLineWebhookDedupesRetries(t *testing.T) {
	secret := "s3cret"
	ch, mb := newTestLineChannel(t, secret)

	body := []byte(`{"events":[{
		"type": "message",
		"source": {"type": "user", "userId": "U123"},
		"message": {"id": "dup-1", "type": "text", "text": "hi"}
	}]}`)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/callback", strings.NewReader(string(body)))
		req.Header.Set("X-Line-Signature", signBody(secret, body))
		rec := httptest.NewRecorder()
		ch.WebhookHandler()(rec, req)
	}

	nextEvent(t, mb)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if ev, ok := mb.ConsumeInbound(ctx); ok {
		t.Fatalf("duplicate delivery published a second event: %+v", ev)
	}
}

func TestRenderLineMessages(t *testing.T) {
	t.Run("date picker becomes datetimepicker quick reply", func(t *testing.T) {
		msgs := renderLineMessages(bus.OutboundMessage{
			Text:       "請選擇開始日期",
			DatePicker: &bus.DatePrompt{Label: "開始日期", FieldKey: "start_date"},
		})
		if len(msgs) != 1 {
			t.Fatalf("expected 1 message, got %d", len(msgs))
		}
		qr := msgs[0].QuickReply
		if qr == nil || len(qr.Items) != 1 {
			t.Fatalf("expected one quick reply item: %+v", msgs[0])
		}
		action := qr.Items[0].Action
		if action.Type != "datetimepicker" || action.Mode != "date" || action.Data != "start_date" {
			t.Fatalf("unexpected action: %+v", action)
		}
	})

	t.Run("menu becomes message quick replies", func(t *testing.T) {
		msgs := renderLineMessages(bus.OutboundMessage{
			Text: "請選擇要修改的藥品",
			Menu: []bus.MenuItem{{Label: "普拿疼", Text: "普拿疼"}, {Label: "完成", Text: "完成"}},
		})
		if len(msgs) != 1 || msgs[0].QuickReply == nil {
			t.Fatalf("expected quick reply message: %+v", msgs)
		}
		if got := len(msgs[0].QuickReply.Items); got != 2 {
			t.Fatalf("expected 2 quick reply items, got %d", got)
		}
	})

	t.Run("flex payload wins over text", func(t *testing.T) {
		msgs := renderLineMessages(bus.OutboundMessage{
			Text:    "附近藥局",
			AltText: "附近藥局",
			Flex:    []byte(`{"type":"carousel","contents":[]}`),
		})
		if len(msgs) != 1 || msgs[0].Type != "flex" {
			t.Fatalf("expected flex message: %+v", msgs)
		}
		if msgs[0].AltText != "附近藥局" {
			t.Fatalf("alt text not carried: %+v", msgs[0])
		}
	})

	t.Run("empty message renders nothing", func(t *testing.T) {
		if msgs := renderLineMessages(bus.OutboundMessage{}); len(msgs) != 0 {
			t.Fatalf("expected no messages, got %+v", msgs)
		}
	})
}
