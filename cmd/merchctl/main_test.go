package main

import (
	"bytes"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/onnwee/merchbot/testutil"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestValidateValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	content := `
defaults:
  channel: "#shop"
tasks:
  - id: tour-tee
    kind: campaign
    source: summer-tour-tee
    every: 30s
  - id: viewers
    kind: viewers
    source: merchbot
    cron: "@hourly"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "validate", "-f", path)
	if err != nil {
		t.Fatalf("validate error = %v", err)
	}
	for _, want := range []string{"Tasks file is valid! (2 tasks)", "tour-tee", "@every 30s", "@hourly"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestValidateInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	if err := os.WriteFile(path, []byte("tasks:\n  - id: Bad ID\n    kind: shoes\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "validate", "-f", path); err == nil {
		t.Fatal("expected error for invalid tasks file")
	}
	if _, err := execute(t, "validate", "-f", filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestProbeCampaign(t *testing.T) {
	srv := testutil.NewMockTwitchServer(t)
	srv.Handle("/twitch/summer-tee", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(testutil.CampaignPage("Summer Tee", 1204)))
	})
	out, err := execute(t, "probe", "--kind", "campaign", "--base-url", srv.URL+"/twitch/", "summer-tee")
	if err != nil {
		t.Fatalf("probe error = %v", err)
	}
	if !strings.Contains(out, "summer-tee: 1204 (Summer Tee)") {
		t.Fatalf("output = %q", out)
	}
}

func TestProbeErrors(t *testing.T) {
	t.Setenv("TWITCH_CLIENT_ID", "")
	t.Setenv("TWITCH_CLIENT_SECRET", "")
	if _, err := execute(t, "probe", "--kind", "viewers", "merchbot"); err == nil {
		t.Fatal("expected error without helix credentials")
	}
	if _, err := execute(t, "probe", "--kind", "shoes", "x"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil || !strings.HasPrefix(out, "merchctl dev") {
		t.Fatalf("version = %q, %v", out, err)
	}
}
