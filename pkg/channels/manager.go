package channels

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/yclin-dev/medremind/pkg/bus"
	"github.com/yclin-dev/medremind/pkg/config"
	"github.com/yclin-dev/medremind/pkg/logger"
)

type Manager struct {
	channels     map[string]Channel
	bus          *bus.MessageBus
	config       *config.Config
	dispatchTask *asyncTask
	mu           sync.RWMutex
}

type asyncTask struct {
	cancel context.CancelFunc
}

func NewManager(cfg *config.Config, messageBus *bus.MessageBus) (*Manager, error) {
	m := &Manager{
		channels: make(map[string]Channel),
		bus:      messageBus,
		config:   cfg,
	}

	if err := m.initChannels(); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Manager) initChannels() error {
	logger.InfoC("channels", "Initializing channel manager")

	if strings.TrimSpace(m.config.Channels.Line.ChannelAccessToken) != "" {
		line, err := NewLineChannel(m.config.Channels.Line, m.bus)
		if err != nil {
			return fmt.Errorf("initialize LINE channel: %w", err)
		}
		m.channels["line"] = line
		logger.InfoC("channels", "LINE channel initialized")
	}

	if strings.TrimSpace(m.config.Channels.Discord.Token) != "" {
		discord, err := NewDiscordChannel(m.config.Channels.Discord, m.bus)
		if err != nil {
			return fmt.Errorf("initialize Discord channel: %w", err)
		}
		m.channels["discord"] = discord
		logger.InfoC("channels", "Discord channel initialized")
	}

	if len(m.channels) == 0 {
		return fmt.Errorf("no channels configured: set a LINE access token or a Discord token")
	}

	logger.InfoCF("channels", "Channel initialization completed", map[string]interface{}{
		"enabled_channels": len(m.channels),
	})

	return nil
}

func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	channelsCopy := make(map[string]Channel, len(m.channels))
	for name, channel := range m.channels {
		channelsCopy[name] = channel
	}
	m.mu.RUnlock()

	logger.InfoC("channels", "Starting all channels")

	var started []string
	var startErrors []string
	for name, channel := range channelsCopy {
		logger.InfoCF("channels", "Starting channel", map[string]interface{}{"channel": name})
		if err := channel.Start(ctx); err != nil {
			logger.ErrorCF("channels", "Failed to start channel", map[string]interface{}{
				"channel": name,
				"error":   err.Error(),
			})
			startErrors = append(startErrors, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		started = append(started, name)
	}

	if len(startErrors) > 0 {
		for _, name := range started {
			channel := channelsCopy[name]
			if err := channel.Stop(ctx); err != nil {
				logger.WarnCF("channels", "Failed to stop partially-started channel", map[string]interface{}{
					"channel": name,
					"error":   err.Error(),
				})
			}
		}
		return fmt.Errorf("failed to start channels: %s", strings.Join(startErrors, "; "))
	}

	dispatchCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	if m.dispatchTask != nil {
		m.dispatchTask.cancel()
	}
	m.dispatchTask = &asyncTask{cancel: cancel}
	m.mu.Unlock()

	go m.dispatchOutbound(dispatchCtx)

	logger.InfoCF("channels", "All channels started", map[string]interface{}{
		"count": len(started),
	})
	return nil
}

func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	logger.InfoC("channels", "Stopping all channels")

	if m.dispatchTask != nil {
		m.dispatchTask.cancel()
		m.dispatchTask = nil
	}

	for name, channel := range m.channels {
		if err := channel.Stop(ctx); err != nil {
			logger.ErrorCF("channels", "Error stopping channel", map[string]interface{}{
				"channel": name,
				"error":   err.Error(),
			})
		}
	}

	logger.InfoC("channels", "All channels stopped")
	return nil
}

func (m *Manager) dispatchOutbound(ctx context.Context) {
	logger.InfoC("channels", "Outbound dispatcher started")

	for {
		select {
		case <-ctx.Done():
			logger.InfoC("channels", "Outbound dispatcher stopped")
			return
		default:
			msg, ok := m.bus.SubscribeOutbound(ctx)
			if !ok {
				continue
			}

			m.mu.RLock()
			channel, exists := m.channels[msg.Channel]
			m.mu.RUnlock()

			if !exists {
				logger.WarnCF("channels", "Unknown channel for outbound message", map[string]interface{}{
					"channel": msg.Channel,
				})
				continue
			}

			if err := channel.Send(ctx, msg); err != nil {
				logger.ErrorCF("channels", "Error sending message to channel", map[string]interface{}{
					"channel": msg.Channel,
					"error":   err.Error(),
				})
			}
		}
	}
}

// NotifyUser delivers a reminder notification. Reminders record only
// the platform user id, so delivery is attempted on each running
// channel until one accepts it.
func (m *Manager) NotifyUser(ctx context.Context, userID, text string) error {
	m.mu.RLock()
	channelsCopy := make([]Channel, 0, len(m.channels))
	for _, channel := range m.channels {
		channelsCopy = append(channelsCopy, channel)
	}
	m.mu.RUnlock()

	var errs []string
	for _, channel := range channelsCopy {
		if !channel.IsRunning() {
			continue
		}
		if err := channel.Notify(ctx, userID, text); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", channel.Name(), err))
			continue
		}
		return nil
	}

	if len(errs) == 0 {
		return fmt.Errorf("no running channel to notify user %s", userID)
	}
	return fmt.Errorf("notify user %s: %s", userID, strings.Join(errs, "; "))
}

func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	channel, ok := m.channels[name]
	return channel, ok
}

func (m *Manager) RegisterChannel(name string, channel Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[name] = channel
}

func (m *Manager) GetStatus() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]interface{})
	for name, channel := range m.channels {
		status[name] = map[string]interface{}{
			"running": channel.IsRunning(),
		}
	}
	return status
}
