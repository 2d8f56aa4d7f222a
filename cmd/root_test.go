package cmd

import (
	"testing"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	expected := []string{"serve", "run", "parse", "screenshot", "do", "wait", "scan", "status", "stop", "version"}
	commands := rootCmd.Commands()

	found := make(map[string]bool)
	for _, c := range commands {
		found[c.Name()] = true
	}

	for _, name := range expected {
		if !found[name] {
			t.Errorf("expected subcommand %q not found", name)
		}
	}
}

func TestScanCommand_HasModes(t *testing.T) {
	found := make(map[string]bool)
	for _, c := range scanCmd.Commands() {
		found[c.Name()] = true
	}
	for _, name := range []string{"tabs", "scroll"} {
		if !found[name] {
			t.Errorf("expected scan mode %q not found", name)
		}
	}
}

func TestRootCommand_Version(t *testing.T) {
	if rootCmd.Version == "" {
		t.Error("root command version should be set")
	}
}

func TestRootCommand_PersistentFlags(t *testing.T) {
	for _, name := range []string{"config", "format", "pretty"} {
		if rootCmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("expected persistent flag --%s", name)
		}
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" Summary, ,Claims,Authorizations ")
	want := []string{"Summary", "Claims", "Authorizations"}
	if len(got) != len(want) {
		t.Fatalf("splitList = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("splitList[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if splitList("") != nil {
		t.Error("empty input should give no items")
	}
}
