package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if got := strings.Join(cfg.Vote.DefaultSongs, ","); got != "Albachiara,Vita Spericolata,Sally" {
		t.Fatalf("unexpected default songs %q", got)
	}
	if cfg.Storage.CASAttempts != 8 {
		t.Fatalf("expected 8 cas attempts, got %d", cfg.Storage.CASAttempts)
	}
	if cfg.SweepInterval() != time.Second {
		t.Fatalf("unexpected sweep interval %s", cfg.SweepInterval())
	}
	if cfg.Generator.TimeoutDuration() != time.Minute {
		t.Fatalf("unexpected generator timeout %s", cfg.Generator.TimeoutDuration())
	}
	if cfg.Requests.UserName != "Anonimo" || cfg.Requests.DedicatedTo != "N/A" {
		t.Fatalf("unexpected request defaults %+v", cfg.Requests)
	}
}

func TestFromYAMLKeepsDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("vote:\n  default_songs: [Uno, Due]\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.Vote.DefaultSongs) != 2 || cfg.Vote.DefaultSongs[0] != "Uno" {
		t.Fatalf("override lost: %+v", cfg.Vote.DefaultSongs)
	}
	if cfg.Generator.Model == "" || cfg.Generator.Prompt == "" {
		t.Fatalf("generator defaults lost: %+v", cfg.Generator)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"base path":    "server:\n  base_path: api\n",
		"redirect":     "server:\n  static_redirect: not-a-url\n",
		"empty song":   "vote:\n  default_songs: [\"\"]\n",
		"sweep":        "vote:\n  sweep_interval: soon\n",
		"temperature":  "generator:\n  temperature: 5\n",
		"prompt":       "generator:\n  prompt: \"{{.DedicatedTo\"\n",
		"webhook url":  "webhooks:\n  - events: [vote.cast]\n",
		"cas attempts": "storage:\n  cas_attempts: -1\n",
	}
	for name, raw := range cases {
		if _, err := FromYAML([]byte(raw)); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestLoadOptionalMissingFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg != nil {
		t.Fatalf("expected nil config, got %+v %v", cfg, err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatalf("expected error for missing config")
	}
	if err := os.WriteFile(filepath.Join(dir, "livehub.yml"), []byte(GenerateDefault()), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadOptional(dir)
	if err != nil || cfg == nil {
		t.Fatalf("expected config, got %v", err)
	}
}

func TestPromptRendersRequestFields(t *testing.T) {
	tmpl, err := ParsePrompt(Default().Generator.Prompt)
	if err != nil {
		t.Fatal(err)
	}
	var sb strings.Builder
	data := struct {
		DedicatedTo string
		Occasion    string
		Personality []string
		Story       string
	}{"Marco", "Compleanno", []string{"simpatico", "testardo"}, "Ha perso le chiavi"}
	if err := tmpl.Execute(&sb, data); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := sb.String()
	for _, want := range []string{"DEDICATA A: Marco", "OCCASIONE: Compleanno", "simpatico, testardo", "Ha perso le chiavi"} {
		if !strings.Contains(out, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestGeneratorAPIKeyFromEnv(t *testing.T) {
	t.Setenv("LIVEHUB_TEST_KEY", "secret")
	g := GeneratorConfig{APIKeyEnv: "LIVEHUB_TEST_KEY"}
	if g.APIKey() != "secret" {
		t.Fatalf("expected key from env")
	}
}
