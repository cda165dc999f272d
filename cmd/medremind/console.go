package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/yclin-dev/medremind/pkg/bus"
	"github.com/yclin-dev/medremind/pkg/dialog"
	"github.com/yclin-dev/medremind/pkg/dispatch"
	"github.com/yclin-dev/medremind/pkg/logger"
	"github.com/yclin-dev/medremind/pkg/store"
)

// consoleCmd runs the reminder dialog locally. Input lines become text
// events from a synthetic console user; the dispatcher prints due
// notifications to stdout instead of pushing to a platform.
func consoleCmd(user string, debug bool) {
	if debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("🔍 Debug mode enabled")
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	st, err := store.NewSQLiteStore(cfg.DatabasePath())
	if err != nil {
		fmt.Printf("Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	msgBus := bus.NewMessageBus()
	controller := dialog.NewController(st, dialog.NewSessionStore(), msgBus)
	fallback := newFallbackHandler(cfg, st, msgBus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go controller.Run(ctx, fallback)
	go printOutbound(ctx, msgBus)

	dispatcher := dispatch.NewDispatcher(st,
		dispatch.NotifyFunc(func(ctx context.Context, userID, text string) error {
			fmt.Printf("\n%s\n", text)
			return nil
		}),
		cfg.DispatchInterval(), cfg.Location())
	dispatcher.Start()
	defer dispatcher.Stop()

	fmt.Printf("%s console (user %s, Ctrl+C to exit)\n", appName, user)
	fmt.Println("輸入「用藥提醒」建立提醒，「修改用藥提醒」修改提醒")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".medremind_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return
		}

		msgBus.PublishInbound(bus.InboundEvent{
			Channel: "console",
			UserID:  user,
			ChatID:  user,
			Kind:    bus.EventText,
			Text:    input,
		})
	}
}

func printOutbound(ctx context.Context, msgBus *bus.MessageBus) {
	for {
		msg, ok := msgBus.SubscribeOutbound(ctx)
		if !ok {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		text := msg.Text
		if text == "" {
			text = msg.AltText
		}
		if text == "" {
			continue
		}

		fmt.Printf("\n%s\n", text)
		switch {
		case msg.DatePicker != nil:
			fmt.Println("（請輸入日期，格式 YYYY-MM-DD）")
		case len(msg.Menu) > 0:
			for _, item := range msg.Menu {
				fmt.Printf("  - %s\n", item.Text)
			}
		}
		fmt.Print("> ")
	}
}
