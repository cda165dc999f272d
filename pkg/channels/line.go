package channels

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/yclin-dev/medremind/pkg/bus"
	"github.com/yclin-dev/medremind/pkg/config"
	"github.com/yclin-dev/medremind/pkg/logger"
)

const lineAPIBase = "https://api.line.me/v2/bot"

// lineWebhookBody is the top-level webhook payload from the LINE Platform.
type lineWebhookBody struct {
	Destination string      `json:"destination"`
	Events      []lineEvent `json:"events"`
}

type lineEvent struct {
	Type       string        `json:"type"` // "message", "postback", "follow", ...
	Timestamp  int64         `json:"timestamp"`
	ReplyToken string        `json:"replyToken,omitempty"`
	Source     lineSource    `json:"source"`
	Message    *lineMsg      `json:"message,omitempty"`
	Postback   *linePostback `json:"postback,omitempty"`
}

type lineSource struct {
	Type    string `json:"type"` // "user", "group", "room"
	UserID  string `json:"userId,omitempty"`
	GroupID string `json:"groupId,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

type lineMsg struct {
	ID   string `json:"id"`
	Type string `json:"type"` // "text", "location", "sticker", ...
	Text string `json:"text,omitempty"`

	// Location messages.
	Title     string  `json:"title,omitempty"`
	Address   string  `json:"address,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

// linePostback carries the data key of the action that produced it and,
// for datetime pickers, the picked value in Params.
type linePostback struct {
	Data   string             `json:"data"`
	Params linePostbackParams `json:"params,omitempty"`
}

type linePostbackParams struct {
	Date string `json:"date,omitempty"`
}

// lineMessage is an outgoing message for the Messaging API.
type lineMessage struct {
	Type       string          `json:"type"` // "text", "flex"
	Text       string          `json:"text,omitempty"`
	AltText    string          `json:"altText,omitempty"`
	Contents   json.RawMessage `json:"contents,omitempty"`
	QuickReply *lineQuickReply `json:"quickReply,omitempty"`
}

type lineQuickReply struct {
	Items []lineQuickReplyItem `json:"items"`
}

type lineQuickReplyItem struct {
	Type   string          `json:"type"` // always "action"
	Action lineQuickAction `json:"action"`
}

type lineQuickAction struct {
	Type    string `json:"type"` // "message", "datetimepicker"
	Label   string `json:"label"`
	Text    string `json:"text,omitempty"`
	Data    string `json:"data,omitempty"`
	Mode    string `json:"mode,omitempty"` // "date" for datetimepicker
	Initial string `json:"initial,omitempty"`
}

type LineChannel struct {
	*BaseChannel
	cfg        config.LineConfig
	apiBase    string
	httpClient *http.Client

	// Dedup of recently processed webhook message ids. LINE retries
	// deliveries on slow responses.
	processed map[string]time.Time
	mu        sync.Mutex
}

func NewLineChannel(cfg config.LineConfig, messageBus *bus.MessageBus) (*LineChannel, error) {
	if strings.TrimSpace(cfg.ChannelAccessToken) == "" {
		return nil, fmt.Errorf("line channel access token is required")
	}

	return &LineChannel{
		BaseChannel: NewBaseChannel("line", messageBus, cfg.AllowFrom),
		cfg:         cfg,
		apiBase:     lineAPIBase,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		processed:   make(map[string]time.Time),
	}, nil
}

func (c *LineChannel) Start(ctx context.Context) error {
	logger.InfoC("line", "Starting LINE channel")
	if c.cfg.ChannelSecret == "" {
		logger.WarnC("line", "No channel secret configured, webhook signatures will not be verified")
	}
	c.setRunning(true)
	return nil
}

func (c *LineChannel) Stop(ctx context.Context) error {
	logger.InfoC("line", "Stopping LINE channel")
	c.setRunning(false)
	return nil
}

// WebhookHandler returns the HTTP handler for the Messaging API webhook.
// It acknowledges with 200 immediately and processes events in the
// background, which is what the platform expects to avoid retries.
func (c *LineChannel) WebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			logger.ErrorCF("line", "Failed to read webhook body", map[string]interface{}{
				"error": err.Error(),
			})
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		r.Body.Close()

		if c.cfg.ChannelSecret != "" {
			sig := r.Header.Get("X-Line-Signature")
			if !verifyLineSignature(c.cfg.ChannelSecret, body, sig) {
				logger.WarnC("line", "Webhook signature verification failed")
				http.Error(w, "invalid signature", http.StatusUnauthorized)
				return
			}
		}

		var hook lineWebhookBody
		if err := json.Unmarshal(body, &hook); err != nil {
			logger.ErrorCF("line", "Failed to parse webhook payload", map[string]interface{}{
				"error": err.Error(),
			})
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		w.WriteHeader(http.StatusOK)

		go c.processEvents(hook.Events)
	}
}

func (c *LineChannel) processEvents(events []lineEvent) {
	for _, event := range events {
		switch event.Type {
		case "message":
			c.handleMessageEvent(event)
		case "postback":
			c.handlePostbackEvent(event)
		case "follow":
			logger.InfoCF("line", "New follower", map[string]interface{}{
				"user_id": event.Source.UserID,
			})
		default:
			logger.DebugCF("line", "Unhandled event type", map[string]interface{}{
				"type": event.Type,
			})
		}
	}
}

func (c *LineChannel) handleMessageEvent(event lineEvent) {
	if event.Message == nil {
		return
	}

	if c.alreadyProcessed(event.Message.ID) {
		logger.DebugCF("line", "Duplicate message ignored", map[string]interface{}{
			"message_id": event.Message.ID,
		})
		return
	}

	ev := bus.InboundEvent{
		UserID:     event.Source.UserID,
		ChatID:     resolveLineTarget(event.Source),
		ReplyToken: event.ReplyToken,
	}

	switch event.Message.Type {
	case "text":
		text := strings.TrimSpace(event.Message.Text)
		if text == "" {
			return
		}
		ev.Kind = bus.EventText
		ev.Text = text
	case "location":
		ev.Kind = bus.EventLocation
		ev.Latitude = event.Message.Latitude
		ev.Longitude = event.Message.Longitude
	default:
		logger.DebugCF("line", "Non-text message ignored", map[string]interface{}{
			"message_id": event.Message.ID,
			"type":       event.Message.Type,
		})
		return
	}

	logger.DebugCF("line", "Received message", map[string]interface{}{
		"user_id": event.Source.UserID,
		"kind":    string(ev.Kind),
	})

	c.PublishEvent(ev)
}

// handlePostbackEvent turns a datetime picker selection into a
// date-selection event keyed by the action's data field.
func (c *LineChannel) handlePostbackEvent(event lineEvent) {
	if event.Postback == nil || event.Postback.Params.Date == "" {
		return
	}

	logger.DebugCF("line", "Postback received", map[string]interface{}{
		"user_id": event.Source.UserID,
		"data":    event.Postback.Data,
		"date":    event.Postback.Params.Date,
	})

	c.PublishEvent(bus.InboundEvent{
		UserID:     event.Source.UserID,
		ChatID:     resolveLineTarget(event.Source),
		Kind:       bus.EventDateSelection,
		FieldKey:   event.Postback.Data,
		Date:       event.Postback.Params.Date,
		ReplyToken: event.ReplyToken,
	})
}

func (c *LineChannel) alreadyProcessed(messageID string) bool {
	if messageID == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, seen := c.processed[messageID]; seen {
		return true
	}
	c.processed[messageID] = time.Now()

	if len(c.processed) > 1000 {
		cutoff := time.Now().Add(-1 * time.Hour)
		for id, t := range c.processed {
			if t.Before(cutoff) {
				delete(c.processed, id)
			}
		}
	}

	return false
}

func resolveLineTarget(src lineSource) string {
	if src.GroupID != "" {
		return src.GroupID
	}
	if src.RoomID != "" {
		return src.RoomID
	}
	return src.UserID
}

// Send delivers an outbound message, preferring the free reply path
// when the originating event's reply token is still usable and falling
// back to a push.
func (c *LineChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("line channel not running")
	}

	messages := renderLineMessages(msg)
	if len(messages) == 0 {
		return nil
	}

	target := msg.ChatID
	if target == "" {
		target = msg.UserID
	}
	if target == "" {
		return fmt.Errorf("line send target is empty")
	}

	if msg.ReplyToken != "" {
		if err := c.sendReply(ctx, msg.ReplyToken, messages); err == nil {
			return nil
		} else {
			logger.WarnCF("line", "Reply failed, falling back to push", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	return c.sendPush(ctx, target, messages)
}

// Notify pushes a plain text message, used by the reminder dispatcher.
func (c *LineChannel) Notify(ctx context.Context, userID, text string) error {
	if !c.IsRunning() {
		return fmt.Errorf("line channel not running")
	}
	return c.sendPush(ctx, userID, []lineMessage{{Type: "text", Text: text}})
}

func renderLineMessages(msg bus.OutboundMessage) []lineMessage {
	if len(msg.Flex) > 0 {
		altText := msg.AltText
		if altText == "" {
			altText = msg.Text
		}
		return []lineMessage{{
			Type:     "flex",
			AltText:  altText,
			Contents: msg.Flex,
		}}
	}

	if msg.Text == "" {
		return nil
	}

	out := lineMessage{Type: "text", Text: msg.Text}

	// Text messages cap at 5000 characters.
	if len(out.Text) > 5000 {
		out.Text = out.Text[:4997] + "..."
	}

	switch {
	case msg.AskLocation:
		out.QuickReply = &lineQuickReply{Items: []lineQuickReplyItem{{
			Type: "action",
			Action: lineQuickAction{
				Type:  "location",
				Label: "傳送我的位置",
			},
		}}}
	case msg.DatePicker != nil:
		out.QuickReply = &lineQuickReply{Items: []lineQuickReplyItem{{
			Type: "action",
			Action: lineQuickAction{
				Type:  "datetimepicker",
				Label: msg.DatePicker.Label,
				Data:  msg.DatePicker.FieldKey,
				Mode:  "date",
			},
		}}}
	case len(msg.Menu) > 0:
		items := make([]lineQuickReplyItem, 0, len(msg.Menu))
		for _, item := range msg.Menu {
			items = append(items, lineQuickReplyItem{
				Type: "action",
				Action: lineQuickAction{
					Type:  "message",
					Label: item.Label,
					Text:  item.Text,
				},
			})
		}
		out.QuickReply = &lineQuickReply{Items: items}
	}

	return []lineMessage{out}
}

func (c *LineChannel) sendReply(ctx context.Context, replyToken string, messages []lineMessage) error {
	payload := map[string]interface{}{
		"replyToken": replyToken,
		"messages":   messages,
	}
	return c.postJSON(ctx, c.apiBase+"/message/reply", payload)
}

func (c *LineChannel) sendPush(ctx context.Context, to string, messages []lineMessage) error {
	if to == "" {
		return fmt.Errorf("line push target is empty")
	}

	payload := map[string]interface{}{
		"to":       to,
		"messages": messages,
	}
	return c.postJSON(ctx, c.apiBase+"/message/push", payload)
}

func (c *LineChannel) postJSON(ctx context.Context, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal line payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create line request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.ChannelAccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("line request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("line API HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// verifyLineSignature checks the X-Line-Signature header, which is the
// base64-encoded HMAC-SHA256 of the raw request body keyed with the
// channel secret.
func verifyLineSignature(channelSecret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}
