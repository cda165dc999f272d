package channels

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/yclin-dev/medremind/pkg/bus"
)

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	Notify(ctx context.Context, userID, text string) error
	IsRunning() bool
	IsAllowed(senderID string) bool
}

type BaseChannel struct {
	bus       *bus.MessageBus
	running   bool
	name      string
	allowList []string
}

func NewBaseChannel(name string, bus *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{
		bus:       bus,
		name:      name,
		allowList: allowList,
		running:   false,
	}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running
}

func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	for _, allowed := range c.allowList {
		candidate := strings.TrimSpace(strings.TrimPrefix(allowed, "@"))
		if candidate == "" {
			continue
		}
		if candidate == senderID {
			return true
		}
	}

	return false
}

// PublishEvent stamps the event with this channel's name and a fresh
// event id, then puts it on the bus. Events from senders outside the
// allowlist are dropped.
func (c *BaseChannel) PublishEvent(ev bus.InboundEvent) {
	if !c.IsAllowed(ev.UserID) {
		return
	}

	ev.ID = uuid.NewString()
	ev.Channel = c.name

	c.bus.PublishInbound(ev)
}

func (c *BaseChannel) setRunning(running bool) {
	c.running = running
}
