package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewRootCmd(t *testing.T) {
	t.Parallel()

	cmd := NewRootCmd()

	t.Run("has correct use", func(t *testing.T) {
		t.Parallel()
		if cmd.Use != "arbiter" {
			t.Errorf("expected use 'arbiter', got %q", cmd.Use)
		}
	})

	t.Run("has descriptions and version", func(t *testing.T) {
		t.Parallel()
		if cmd.Short == "" || cmd.Long == "" {
			t.Error("expected non-empty descriptions")
		}
		if cmd.Version == "" {
			t.Error("expected non-empty version")
		}
	})

	t.Run("has verbose flag", func(t *testing.T) {
		t.Parallel()
		flag := cmd.PersistentFlags().Lookup("verbose")
		if flag == nil {
			t.Fatal("expected verbose flag")
		}
		if flag.Shorthand != "v" {
			t.Errorf("expected shorthand 'v', got %q", flag.Shorthand)
		}
		if flag.DefValue != "false" {
			t.Errorf("expected default 'false', got %q", flag.DefValue)
		}
	})

	t.Run("has subcommands", func(t *testing.T) {
		t.Parallel()
		want := map[string]bool{
			"scan": false, "purge": false, "status": false,
			"phases": false, "init": false, "version": false,
		}
		for _, sub := range cmd.Commands() {
			if _, ok := want[sub.Name()]; ok {
				want[sub.Name()] = true
			}
		}
		for name, found := range want {
			if !found {
				t.Errorf("expected %s subcommand", name)
			}
		}
	})

	t.Run("silences usage and errors", func(t *testing.T) {
		t.Parallel()
		if !cmd.SilenceUsage {
			t.Error("expected SilenceUsage to be true")
		}
		if !cmd.SilenceErrors {
			t.Error("expected SilenceErrors to be true")
		}
	})
}

func TestSetupLogger(t *testing.T) {
	t.Parallel()

	t.Run("text by default", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		cmd := NewRootCmd()
		cmd.SetArgs([]string{"-v"})
		if err := cmd.ParseFlags([]string{"-v"}); err != nil {
			t.Fatal(err)
		}
		setupLogger(cmd, &buf).Debug("probe", "url", "https://example.com")
		if !strings.Contains(buf.String(), "msg=probe") {
			t.Errorf("expected text debug line, got %q", buf.String())
		}
	})

	t.Run("json when requested", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		cmd := NewRootCmd()
		if err := cmd.ParseFlags([]string{"--log-json"}); err != nil {
			t.Fatal(err)
		}
		setupLogger(cmd, &buf).Warn("phase failed")
		if !strings.Contains(buf.String(), `"msg":"phase failed"`) {
			t.Errorf("expected JSON line, got %q", buf.String())
		}
	})

	t.Run("warn level without verbose", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		setupLogger(NewRootCmd(), &buf).Info("hidden")
		if buf.Len() != 0 {
			t.Errorf("expected no output, got %q", buf.String())
		}
	})
}

func TestPhasesCmd(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	cmd := NewPhasesCmd()
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 16 {
		t.Fatalf("expected 16 phases, got %d", len(lines))
	}
	if !strings.HasSuffix(lines[0], "recon") {
		t.Errorf("expected recon first, got %q", lines[0])
	}
	if !strings.HasSuffix(lines[len(lines)-1], "chaos") {
		t.Errorf("expected chaos last, got %q", lines[len(lines)-1])
	}
}
