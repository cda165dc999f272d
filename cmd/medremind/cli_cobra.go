package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yclin-dev/medremind/pkg/dialog"
)

func executeCLI() error {
	root := buildRootCommand()
	if err := root.Execute(); err != nil {
		return err
	}
	return nil
}

func buildRootCommand() *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   "medremind",
		Short: "Medication reminder bot with LINE/Discord channels and a scheduled dispatch loop",
		Long: strings.TrimSpace(`medremind keeps track of recurring daily medication reminders.

Users create and edit reminders through a guided chat dialog; a polling
dispatch loop pushes each due reminder at most once per scheduled slot.
Drug lookup and nearby pharmacy search ride along on the same channels.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newOnboardCommand())
	root.AddCommand(newServeCommand())
	root.AddCommand(newConsoleCommand())
	root.AddCommand(newRemindersCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func newOnboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "onboard",
		Short:   "Initialize ~/.medremind configuration",
		Long:    "Create a default configuration file for a new medremind installation.",
		Example: "  medremind onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			onboard()
			return nil
		},
	}
}

func newServeCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the channels, dialog controller, and dispatch loop",
		Long:    "Start channel adapters, the reminder dialog controller, the notification dispatcher, and the HTTP gateway.",
		Example: "  medremind serve --debug",
		RunE: func(cmd *cobra.Command, args []string) error {
			serveCmd(debug)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newConsoleCommand() *cobra.Command {
	var (
		user  string
		debug bool
	)

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Run the reminder dialog locally without a messaging platform",
		Example: strings.Join([]string{
			"  medremind console",
			"  medremind console --user alice",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			consoleCmd(user, debug)
			return nil
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "console", "User id for reminders created in this session")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newRemindersCommand() *cobra.Command {
	remindersRoot := &cobra.Command{
		Use:   "reminders",
		Short: "Inspect and maintain stored reminders",
	}

	remindersRoot.AddCommand(&cobra.Command{
		Use:     "list",
		Short:   "List all reminders",
		Example: "  medremind reminders list",
		RunE: func(cmd *cobra.Command, args []string) error {
			remindersListCmd()
			return nil
		},
	})

	prune := &cobra.Command{
		Use:     "prune <before-date>",
		Short:   "Delete delivery ledger entries older than a date",
		Long:    "Delete delivery ledger rows for dates strictly before the given ISO date (YYYY-MM-DD). Reminders themselves are never deleted.",
		Args:    cobra.ExactArgs(1),
		Example: "  medremind reminders prune 2025-01-01",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !dialog.IsISODate(args[0]) {
				return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", args[0])
			}
			remindersPruneCmd(args[0])
			return nil
		},
	}
	remindersRoot.AddCommand(prune)

	return remindersRoot
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show configuration and runtime readiness",
		Example: "  medremind status",
		RunE: func(cmd *cobra.Command, args []string) error {
			statusCmd()
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  medremind version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion()
			return nil
		},
	}
}
