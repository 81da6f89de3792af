// Package config resolves runtime settings from a YAML file, environment
// variables, and CLI flags in ascending precedence. Every resolved value
// records where it came from so `visioncue config` can show provenance.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/visioncue/visioncue/internal/span"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

type ResolveOptions struct {
	ConfigPath string
	CLIModel   string
	CLICache   string
	CLIGolden  string
	CLISnaps   string
}

type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	Model       ResolvedValue `json:"model"`
	CachePath   ResolvedValue `json:"cache_path"`
	CacheSize   ResolvedValue `json:"cache_size"`
	GoldenDir   ResolvedValue `json:"golden_dir"`
	SnapshotDir ResolvedValue `json:"snapshot_dir"`

	MaxSpans              ResolvedValue `json:"max_spans"`
	MinConfidence         ResolvedValue `json:"min_confidence"`
	NonTechnicalWordLimit ResolvedValue `json:"non_technical_word_limit"`
	AllowOverlap          ResolvedValue `json:"allow_overlap"`
	TemplateVersion       ResolvedValue `json:"template_version"`

	ScoreDropThreshold ResolvedValue `json:"score_drop_threshold"`
	EvalDelayMs        ResolvedValue `json:"eval_delay_ms"`

	APIKeys map[string]ResolvedValue `json:"api_keys,omitempty"`
}

type fileConfig struct {
	Model string `yaml:"model"`
	Cache struct {
		Path string `yaml:"path"`
		Size string `yaml:"size"`
	} `yaml:"cache"`
	Eval struct {
		GoldenDir   string `yaml:"golden_dir"`
		SnapshotDir string `yaml:"snapshot_dir"`
		ScoreDrop   string `yaml:"score_drop"`
		DelayMs     string `yaml:"delay_ms"`
	} `yaml:"eval"`
	Policy struct {
		MaxSpans              string `yaml:"max_spans"`
		MinConfidence         string `yaml:"min_confidence"`
		NonTechnicalWordLimit string `yaml:"non_technical_word_limit"`
		AllowOverlap          string `yaml:"allow_overlap"`
		TemplateVersion       string `yaml:"template_version"`
	} `yaml:"policy"`
	APIKey string `yaml:"api_key"`
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".visioncue", "config.yaml")
}

func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{
		ConfigPath: path,
		APIKeys:    map[string]ResolvedValue{},
	}

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.Model, cfg.Model, SourceConfig, path)
		apply(&out.CachePath, cfg.Cache.Path, SourceConfig, path)
		apply(&out.CacheSize, cfg.Cache.Size, SourceConfig, path)
		apply(&out.GoldenDir, cfg.Eval.GoldenDir, SourceConfig, path)
		apply(&out.SnapshotDir, cfg.Eval.SnapshotDir, SourceConfig, path)
		apply(&out.ScoreDropThreshold, cfg.Eval.ScoreDrop, SourceConfig, path)
		apply(&out.EvalDelayMs, cfg.Eval.DelayMs, SourceConfig, path)
		apply(&out.MaxSpans, cfg.Policy.MaxSpans, SourceConfig, path)
		apply(&out.MinConfidence, cfg.Policy.MinConfidence, SourceConfig, path)
		apply(&out.NonTechnicalWordLimit, cfg.Policy.NonTechnicalWordLimit, SourceConfig, path)
		apply(&out.AllowOverlap, cfg.Policy.AllowOverlap, SourceConfig, path)
		apply(&out.TemplateVersion, cfg.Policy.TemplateVersion, SourceConfig, path)

		if key := strings.TrimSpace(cfg.APIKey); key != "" {
			provider := providerOf(cfg.Model)
			if provider == "" {
				provider = "default"
			}
			out.APIKeys[provider] = ResolvedValue{Value: key, Source: SourceConfig, From: path}
		}
	}

	applyEnv(&out.Model, "VISIONCUE_MODEL")
	applyEnv(&out.CachePath, "VISIONCUE_CACHE")
	applyEnv(&out.CacheSize, "VISIONCUE_CACHE_SIZE")
	applyEnv(&out.GoldenDir, "VISIONCUE_GOLDEN_DIR")
	applyEnv(&out.SnapshotDir, "VISIONCUE_SNAPSHOT_DIR")
	applyEnv(&out.ScoreDropThreshold, "VISIONCUE_SCORE_DROP")
	applyEnv(&out.EvalDelayMs, "VISIONCUE_EVAL_DELAY_MS")
	applyEnv(&out.MaxSpans, "VISIONCUE_MAX_SPANS")
	applyEnv(&out.MinConfidence, "VISIONCUE_MIN_CONFIDENCE")
	applyEnv(&out.TemplateVersion, "VISIONCUE_TEMPLATE_VERSION")

	for env, provider := range map[string]string{
		"OPENROUTER_API_KEY": "openrouter",
		"GEMINI_API_KEY":     "google",
		"GOOGLE_API_KEY":     "google",
	} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			out.APIKeys[provider] = ResolvedValue{Value: v, Source: SourceEnv, From: env}
		}
	}

	apply(&out.Model, opts.CLIModel, SourceCLI, "--model")
	apply(&out.CachePath, opts.CLICache, SourceCLI, "--cache")
	apply(&out.GoldenDir, opts.CLIGolden, SourceCLI, "--golden")
	apply(&out.SnapshotDir, opts.CLISnaps, SourceCLI, "--snapshots")

	if out.CachePath.Value != "" {
		out.CachePath.Value = expandUserPath(out.CachePath.Value)
	}

	return out, nil
}

// Policy assembles the span policy from resolved values, falling back to
// the built-in defaults for anything unset or unparsable.
func (r ResolvedConfig) Policy() span.Policy {
	p := span.DefaultPolicy()
	if v, ok := parseInt(r.MaxSpans.Value); ok {
		p.MaxSpans = v
	}
	if v, ok := parseFloat(r.MinConfidence.Value); ok {
		p.MinConfidence = v
	}
	if v, ok := parseInt(r.NonTechnicalWordLimit.Value); ok {
		p.NonTechnicalWordLimit = v
	}
	if v, ok := parseBool(r.AllowOverlap.Value); ok {
		p.AllowOverlap = v
	}
	if v := strings.TrimSpace(r.TemplateVersion.Value); v != "" {
		p.TemplateVersion = v
	}
	return p
}

// CacheEntries parses the cache size bound; 0 means use the default.
func (r ResolvedConfig) CacheEntries() int {
	if v, ok := parseInt(r.CacheSize.Value); ok && v > 0 {
		return v
	}
	return 0
}

// APIKeyForProvider returns the key configured for a provider or model
// string like "google/gemini-2.5-flash".
func (r ResolvedConfig) APIKeyForProvider(providerOrModel string) ResolvedValue {
	provider := providerOf(providerOrModel)
	if provider == "" {
		return ResolvedValue{}
	}
	if v, ok := r.APIKeys[provider]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	if v, ok := r.APIKeys["default"]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	return ResolvedValue{}
}

func providerOf(providerOrModel string) string {
	v := strings.ToLower(strings.TrimSpace(providerOrModel))
	if v == "" {
		return ""
	}
	if idx := strings.Index(v, "/"); idx > 0 {
		return v[:idx]
	}
	return v
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func parseInt(raw string) (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseFloat(raw string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseBool(raw string) (bool, bool) {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, false
	}
	return v, true
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
