package main

import (
	"bytes"
	"strings"
	"testing"
)

func runRootCommandForTest(args ...string) (string, error) {
	root := buildRootCommand()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestRootHelpListsCommands(t *testing.T) {
	output, err := runRootCommandForTest("--help")
	if err != nil {
		t.Fatalf("execute --help: %v\nOutput:\n%s", err, output)
	}

	for _, want := range []string{"onboard", "serve", "console", "reminders", "status", "version"} {
		if !strings.Contains(output, want) {
			t.Errorf("root help missing %q:\n%s", want, output)
		}
	}
}

func TestRemindersHelp(t *testing.T) {
	output, err := runRootCommandForTest("reminders", "--help")
	if err != nil {
		t.Fatalf("execute reminders --help: %v\nOutput:\n%s", err, output)
	}

	for _, want := range []string{"list", "prune"} {
		if !strings.Contains(output, want) {
			t.Errorf("reminders help missing %q:\n%s", want, output)
		}
	}
}

func TestRemindersPruneRejectsBadDate(t *testing.T) {
	_, err := runRootCommandForTest("reminders", "prune", "not-a-date")
	if err == nil {
		t.Fatal("expected an error for an invalid date")
	}
	if !strings.Contains(err.Error(), "YYYY-MM-DD") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRootWithoutSubcommandErrors(t *testing.T) {
	_, err := runRootCommandForTest()
	if err == nil {
		t.Fatal("expected an error when no subcommand is given")
	}
}
