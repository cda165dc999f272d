package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/yclin-dev/medremind/pkg/config"
	"github.com/yclin-dev/medremind/pkg/store"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const appName = "medremind"

func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func formatBuildInfo() (build string, goVer string) {
	if buildTime != "" {
		build = buildTime
	}
	goVer = goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return
}

func printVersion() {
	fmt.Printf("%s %s\n", appName, formatVersion())
	build, goVer := formatBuildInfo()
	if build != "" {
		fmt.Printf("  Build: %s\n", build)
	}
	if goVer != "" {
		fmt.Printf("  Go: %s\n", goVer)
	}
}

func main() {
	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func onboard() {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists at %s\n", configPath)
		fmt.Print("Overwrite? (y/n): ")
		reader := bufio.NewReader(os.Stdin)
		response, readErr := reader.ReadString('\n')
		if readErr != nil {
			fmt.Printf("Error reading input: %v\n", readErr)
			fmt.Println("Aborted.")
			return
		}
		response = strings.ToLower(strings.TrimSpace(response))
		if response != "y" && response != "yes" {
			fmt.Println("Aborted.")
			return
		}
	}

	cfg := config.DefaultConfig()
	if err := config.SaveConfig(configPath, cfg); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s is ready!\n", appName)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Add your LINE channel secret and access token to", configPath)
	fmt.Println("  2. (Optional) Add a Discord bot token to channels.discord.token")
	fmt.Println("  3. (Optional) Add Gemini and Google Maps API keys for drug lookup and pharmacy search")
	fmt.Println("  4. Try the dialog locally: medremind console")
	fmt.Println("  5. Run the bot: medremind serve")
	fmt.Println("  6. Check readiness: medremind status")
}

func statusCmd() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		return
	}

	configPath := getConfigPath()

	fmt.Printf("%s Status\n", appName)
	fmt.Printf("Version: %s\n", formatVersion())
	build, _ := formatBuildInfo()
	if build != "" {
		fmt.Printf("Build: %s\n", build)
	}
	fmt.Println()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Println("Config:", configPath, "✓")
	} else {
		fmt.Println("Config:", configPath, "✗")
	}

	dbPath := cfg.DatabasePath()
	if _, err := os.Stat(dbPath); err == nil {
		fmt.Println("Database:", dbPath, "✓")
	} else {
		fmt.Println("Database:", dbPath, "not initialized")
	}

	status := func(enabled bool) string {
		if enabled {
			return "✓"
		}
		return "not set"
	}
	lineReady := strings.TrimSpace(cfg.Channels.Line.ChannelAccessToken) != ""
	discordReady := strings.TrimSpace(cfg.Channels.Discord.Token) != ""
	geminiReady := strings.TrimSpace(cfg.Gemini.APIKey) != ""
	mapsReady := strings.TrimSpace(cfg.Maps.APIKey) != ""

	fmt.Println("LINE token:", status(lineReady))
	fmt.Println("Discord token:", status(discordReady))
	fmt.Println("Gemini API:", status(geminiReady))
	fmt.Println("Maps API:", status(mapsReady))
	fmt.Println("Serve ready:", status(lineReady || discordReady))
	fmt.Printf("Dispatch: every %s in %s\n", cfg.DispatchInterval(), cfg.Location())
}

func remindersListCmd() {
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

	reminders, err := st.ListReminders(context.Background())
	if err != nil {
		fmt.Printf("Error listing reminders: %v\n", err)
		os.Exit(1)
	}

	if len(reminders) == 0 {
		fmt.Println("No reminders.")
		return
	}

	fmt.Println("\nReminders:")
	fmt.Println("----------")
	for _, rem := range reminders {
		fmt.Printf("  #%d %s (user %s)\n", rem.ID, rem.Medicine, rem.UserID)
		fmt.Printf("    Window: %s → %s\n", rem.StartDate, rem.EndDate)
		fmt.Printf("    Times: %s\n", strings.Join(rem.Times, ", "))
	}
}

func remindersPruneCmd(before string) {
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

	removed, err := st.PruneLedgerBefore(context.Background(), before)
	if err != nil {
		fmt.Printf("Error pruning ledger: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Pruned %d delivery ledger entries before %s\n", removed, before)
}

func getConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".medremind", "config.json")
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(getConfigPath())
}
