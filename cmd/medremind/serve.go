package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/yclin-dev/medremind/pkg/bus"
	"github.com/yclin-dev/medremind/pkg/channels"
	"github.com/yclin-dev/medremind/pkg/config"
	"github.com/yclin-dev/medremind/pkg/dialog"
	"github.com/yclin-dev/medremind/pkg/dispatch"
	"github.com/yclin-dev/medremind/pkg/drugs"
	"github.com/yclin-dev/medremind/pkg/logger"
	"github.com/yclin-dev/medremind/pkg/places"
	"github.com/yclin-dev/medremind/pkg/store"
)

func serveCmd(debug bool) {
	if debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("🔍 Debug mode enabled")
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if !debug {
		logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	}

	st, err := store.NewSQLiteStore(cfg.DatabasePath())
	if err != nil {
		fmt.Printf("Error opening database: %v\n", err)
		os.Exit(1)
	}

	msgBus := bus.NewMessageBus()
	controller := dialog.NewController(st, dialog.NewSessionStore(), msgBus)
	fallback := newFallbackHandler(cfg, st, msgBus)

	channelManager, err := channels.NewManager(cfg, msgBus)
	if err != nil {
		fmt.Printf("Error creating channel manager: %v\n", err)
		st.Close()
		os.Exit(1)
	}

	dispatcher := dispatch.NewDispatcher(st,
		dispatch.NotifyFunc(channelManager.NotifyUser),
		cfg.DispatchInterval(), cfg.Location())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go controller.Run(ctx, fallback)

	if err := channelManager.StartAll(ctx); err != nil {
		fmt.Printf("Error starting channels: %v\n", err)
		cancel()
		st.Close()
		os.Exit(1)
	}

	dispatcher.Start()
	fmt.Printf("✓ Dispatch loop started (every %s, %s)\n", cfg.DispatchInterval(), cfg.Location())

	server := newGatewayServer(cfg, st, channelManager)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorCF("gateway", "Gateway server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()
	fmt.Printf("✓ Gateway started on %s:%d\n", cfg.Gateway.Host, cfg.Gateway.Port)
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	<-sigChan

	fmt.Println("\nShutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	dispatcher.Stop()
	channelManager.StopAll(shutdownCtx)
	msgBus.Close()
	st.Close()
	fmt.Println("✓ Stopped")
}

// newGatewayServer builds the HTTP surface: liveness at "/", a debug
// reminder listing at "/show_reminders", and the LINE webhook when the
// LINE channel is enabled.
func newGatewayServer(cfg *config.Config, st store.Store, manager *channels.Manager) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":   "ok",
			"app":      appName,
			"version":  formatVersion(),
			"channels": manager.GetStatus(),
		})
	})

	mux.HandleFunc("/show_reminders", func(w http.ResponseWriter, r *http.Request) {
		reminders, err := st.ListReminders(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(reminders)
	})

	if ch, ok := manager.GetChannel("line"); ok {
		if line, ok := ch.(*channels.LineChannel); ok {
			path := cfg.Channels.Line.WebhookPath
			if path == "" {
				path = "/callback"
			}
			mux.Handle(path, line.WebhookHandler())
		}
	}

	return &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port),
		Handler: mux,
	}
}

const (
	msgAskLocation   = "請點選下方按鈕傳送你的位置，我才能幫你找附近藥局喔～"
	msgNoPharmacies  = "附近找不到藥局"
	msgPharmacyError = "⚠️ 查詢藥局失敗，請稍後再試"
)

// newFallbackHandler handles inbound events the dialog controller does
// not consume: "AI " Q&A, pharmacy search, and drug lookup for any
// other text.
func newFallbackHandler(cfg *config.Config, st store.Store, msgBus *bus.MessageBus) func(context.Context, bus.InboundEvent) {
	var gen drugs.Generator
	if strings.TrimSpace(cfg.Gemini.APIKey) != "" {
		client, err := drugs.NewGeminiClient(cfg.Gemini)
		if err != nil {
			logger.WarnCF("gateway", "Gemini client unavailable", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			gen = client
		}
	}
	if gen == nil {
		gen = unavailableGenerator{}
	}
	drugService := drugs.NewService(st, gen)

	var mapsClient *places.Client
	if strings.TrimSpace(cfg.Maps.APIKey) != "" {
		client, err := places.NewClient(cfg.Maps)
		if err != nil {
			logger.WarnCF("gateway", "Maps client unavailable", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			mapsClient = client
		}
	}

	reply := func(ev bus.InboundEvent, msg bus.OutboundMessage) {
		msg.Channel = ev.Channel
		msg.UserID = ev.UserID
		msg.ChatID = ev.ChatID
		msg.ReplyToken = ev.ReplyToken
		msgBus.PublishOutbound(msg)
	}

	return func(ctx context.Context, ev bus.InboundEvent) {
		switch ev.Kind {
		case bus.EventText:
			if answer, handled := drugService.Answer(ctx, ev.Text); handled {
				reply(ev, bus.OutboundMessage{Text: answer})
				return
			}
			if strings.Contains(ev.Text, "查詢藥局") {
				reply(ev, bus.OutboundMessage{Text: msgAskLocation, AskLocation: true})
				return
			}
			reply(ev, bus.OutboundMessage{Text: drugService.Lookup(ctx, ev.Text)})

		case bus.EventLocation:
			if mapsClient == nil {
				reply(ev, bus.OutboundMessage{Text: msgPharmacyError})
				return
			}
			pharmacies, err := mapsClient.NearbyPharmacies(ctx, ev.Latitude, ev.Longitude)
			if err != nil {
				logger.ErrorCF("gateway", "Pharmacy search failed", map[string]interface{}{
					"error": err.Error(),
				})
				reply(ev, bus.OutboundMessage{Text: msgPharmacyError})
				return
			}
			if len(pharmacies) == 0 {
				reply(ev, bus.OutboundMessage{Text: msgNoPharmacies})
				return
			}
			flex, err := places.BuildCarousel(pharmacies)
			if err != nil {
				reply(ev, bus.OutboundMessage{Text: msgPharmacyError})
				return
			}
			reply(ev, bus.OutboundMessage{
				Flex:    flex,
				AltText: places.CarouselAltText,
			})
		}
	}
}

type unavailableGenerator struct{}

func (unavailableGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return "", fmt.Errorf("gemini API key not configured")
}
