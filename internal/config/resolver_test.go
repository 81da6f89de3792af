package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveConfig_Precedence_ConfigEnvCLI(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	yaml := `model: google/gemini-2.5-flash
cache:
  path: ~/.visioncue/from-config.db
eval:
  golden_dir: ./golden
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("VISIONCUE_CACHE", "~/from-env.db")
	t.Setenv("VISIONCUE_MODEL", "openrouter/openai/gpt-4o-mini")

	resolved, err := ResolveConfig(ResolveOptions{
		ConfigPath: cfgPath,
		CLIModel:   "mock",
		CLICache:   "~/from-cli.db",
	})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}

	if resolved.CachePath.Source != SourceCLI {
		t.Fatalf("expected cache path source cli, got %s", resolved.CachePath.Source)
	}
	if resolved.Model.Source != SourceCLI || resolved.Model.Value != "mock" {
		t.Fatalf("expected model from cli, got %s (%s)", resolved.Model.Value, resolved.Model.Source)
	}
	if resolved.GoldenDir.Source != SourceConfig {
		t.Fatalf("expected golden dir from config, got %s", resolved.GoldenDir.Source)
	}
}

func TestResolveConfig_MissingFileIsNotAnError(t *testing.T) {
	resolved, err := ResolveConfig(ResolveOptions{
		ConfigPath: filepath.Join(t.TempDir(), "nope.yaml"),
	})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	if resolved.Model.Value != "" {
		t.Fatalf("unexpected model from missing file: %q", resolved.Model.Value)
	}
}

func TestPolicy_OverridesAndDefaults(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	yaml := `policy:
  max_spans: "12"
  min_confidence: "0.7"
  allow_overlap: "true"
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	resolved, err := ResolveConfig(ResolveOptions{ConfigPath: cfgPath})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	p := resolved.Policy()
	if p.MaxSpans != 12 {
		t.Errorf("MaxSpans = %d, want 12", p.MaxSpans)
	}
	if p.MinConfidence != 0.7 {
		t.Errorf("MinConfidence = %f, want 0.7", p.MinConfidence)
	}
	if !p.AllowOverlap {
		t.Error("AllowOverlap not applied")
	}
	// Unset keys keep the defaults.
	if p.NonTechnicalWordLimit != 6 {
		t.Errorf("NonTechnicalWordLimit = %d, want default 6", p.NonTechnicalWordLimit)
	}
}

func TestAPIKeyForProvider_EnvOverridesConfig(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	yaml := `model: openrouter/openai/gpt-4o-mini
api_key: config-key
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("OPENROUTER_API_KEY", "env-key")

	resolved, err := ResolveConfig(ResolveOptions{ConfigPath: cfgPath})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	k := resolved.APIKeyForProvider("openrouter/some-model")
	if k.Value != "env-key" {
		t.Fatalf("expected env key, got %q", k.Value)
	}
	if k.Source != SourceEnv {
		t.Fatalf("expected source env, got %s", k.Source)
	}
}
