package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/visioncue/visioncue/internal/cache"
	"github.com/visioncue/visioncue/internal/config"
	"github.com/visioncue/visioncue/internal/eval"
	"github.com/visioncue/visioncue/internal/golden"
	vcmcp "github.com/visioncue/visioncue/internal/mcp"
	"github.com/visioncue/visioncue/internal/openvocab"
	"github.com/visioncue/visioncue/internal/pipeline"
	"github.com/visioncue/visioncue/internal/span"
)

const version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "extract":
		if err := runExtract(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "eval":
		if err := runEval(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "compare":
		passed, err := runCompare(os.Args[2:])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if !passed {
			os.Exit(2)
		}
	case "cache":
		if err := runCache(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "config":
		if err := runConfig(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "mcp":
		if err := runMCP(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "version", "--version", "-v":
		fmt.Printf("visioncue %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// cliFlags holds flag values shared across subcommands.
type cliFlags struct {
	configPath string
	model      string
	cachePath  string
	goldenDir  string
	snapDir    string
	noModel    bool
	noCache    bool
	jsonOut    bool

	promptCtx span.PromptContext
	rest      []string
}

// parseArgs splits flags from positional arguments. Flags take their value
// from the next argument.
func parseArgs(args []string) (cliFlags, error) {
	var f cliFlags
	i := 0
	next := func(flag string) (string, error) {
		i++
		if i >= len(args) {
			return "", fmt.Errorf("%s requires a value", flag)
		}
		return args[i], nil
	}
	for ; i < len(args); i++ {
		arg := args[i]
		var err error
		switch {
		case arg == "--config":
			f.configPath, err = next(arg)
		case arg == "--model":
			f.model, err = next(arg)
		case arg == "--cache":
			f.cachePath, err = next(arg)
		case arg == "--golden":
			f.goldenDir, err = next(arg)
		case arg == "--snapshots":
			f.snapDir, err = next(arg)
		case arg == "--subject":
			f.promptCtx.Subject, err = next(arg)
		case arg == "--action":
			f.promptCtx.Action, err = next(arg)
		case arg == "--location":
			f.promptCtx.Location, err = next(arg)
		case arg == "--time":
			f.promptCtx.Time, err = next(arg)
		case arg == "--style":
			f.promptCtx.Style, err = next(arg)
		case arg == "--no-model":
			f.noModel = true
		case arg == "--no-cache":
			f.noCache = true
		case arg == "--json":
			f.jsonOut = true
		case strings.HasPrefix(arg, "-"):
			return f, fmt.Errorf("unknown flag: %s", arg)
		default:
			f.rest = append(f.rest, arg)
		}
		if err != nil {
			return f, err
		}
	}
	return f, nil
}

func resolve(f cliFlags) (config.ResolvedConfig, error) {
	return config.ResolveConfig(config.ResolveOptions{
		ConfigPath: f.configPath,
		CLIModel:   f.model,
		CLICache:   f.cachePath,
		CLIGolden:  f.goldenDir,
		CLISnaps:   f.snapDir,
	})
}

// buildAdapter turns the resolved model setting into a provider adapter.
// Returns nil (no error) when the model stage is disabled.
func buildAdapter(cfg config.ResolvedConfig, noModel bool) (openvocab.Adapter, error) {
	if noModel {
		return nil, nil
	}
	pc, err := openvocab.ParseModelFlag(cfg.Model.Value)
	if err != nil {
		return nil, err
	}
	if key := cfg.APIKeyForProvider(pc.Provider); key.Value != "" {
		pc.APIKey = key.Value
	}
	return openvocab.NewAdapter(pc)
}

func defaultCachePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".visioncue", "cache.db")
}

func openCache(cfg config.ResolvedConfig, disabled bool) (*cache.Cache, error) {
	if disabled {
		return nil, nil
	}
	path := cfg.CachePath.Value
	if path == "" {
		path = defaultCachePath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	store, err := cache.NewSQLiteStore(path)
	if err != nil {
		return nil, fmt.Errorf("opening cache store: %w", err)
	}
	return cache.New(cache.Config{
		Store:      store,
		Version:    cfg.Policy().TemplateVersion,
		MaxEntries: cfg.CacheEntries(),
	}), nil
}

func runExtract(args []string) error {
	f, err := parseArgs(args)
	if err != nil {
		return err
	}
	if len(f.rest) == 0 {
		return fmt.Errorf("usage: visioncue extract <prompt text> [--subject s] [--no-model] [--no-cache] [--json]")
	}
	text := strings.Join(f.rest, " ")

	cfg, err := resolve(f)
	if err != nil {
		return err
	}

	adapter, err := buildAdapter(cfg, f.noModel)
	if err != nil {
		// The deterministic sources still work without a model; degrade
		// instead of refusing the request.
		fmt.Fprintf(os.Stderr, "Warning: model unavailable, running deterministic-only: %v\n", err)
		adapter = nil
	}

	c, err := openCache(cfg, f.noCache)
	if err != nil {
		return err
	}
	if c != nil {
		defer c.Close()
	}

	runner := pipeline.NewRunner(pipeline.Config{
		Adapter: adapter,
		Cache:   c,
		Policy:  cfg.Policy(),
	})

	res, err := runner.Run(context.Background(), text, pipeline.Options{
		Context:      f.promptCtx,
		DisableModel: adapter == nil,
	})
	if err != nil {
		return err
	}

	if f.jsonOut {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	printResult(res)
	return nil
}

func printResult(res pipeline.Result) {
	if res.Meta.Adversarial {
		fmt.Println("Prompt flagged as adversarial; no control points extracted.")
		return
	}
	if len(res.Spans) == 0 {
		fmt.Println("No control points found.")
	}
	for _, s := range res.Spans {
		fmt.Printf("  [%d:%d] %-28s %.2f  %q\n", s.Start, s.End, s.Category, s.Confidence, s.Quote)
	}
	var notes []string
	if res.Meta.CacheHit {
		notes = append(notes, "cached")
	}
	if res.Meta.Degraded {
		notes = append(notes, "degraded: "+res.Meta.DegradedWhy)
	}
	if res.Meta.Model != "" {
		notes = append(notes, "model: "+res.Meta.Model)
	}
	if len(notes) > 0 {
		fmt.Printf("  (%s)\n", strings.Join(notes, "; "))
	}
}

func runEval(args []string) error {
	f, err := parseArgs(args)
	if err != nil {
		return err
	}
	cfg, err := resolve(f)
	if err != nil {
		return err
	}

	goldenDir := cfg.GoldenDir.Value
	if goldenDir == "" {
		goldenDir = "golden"
	}
	set, err := golden.LoadDir(goldenDir)
	if err != nil {
		return fmt.Errorf("loading golden set: %w", err)
	}

	adapter, err := buildAdapter(cfg, f.noModel)
	if err != nil {
		return fmt.Errorf("configuring model: %w", err)
	}

	runner := pipeline.NewRunner(pipeline.Config{
		Adapter: adapter,
		Policy:  cfg.Policy(),
	})

	delay := eval.DefaultDelay
	if raw := cfg.EvalDelayMs.Value; raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil {
			delay = time.Duration(ms) * time.Millisecond
			if ms <= 0 {
				delay = -1
			}
		}
	}

	fmt.Printf("Evaluating %d prompts from %s...\n", len(set.Prompts), goldenDir)
	snap, err := eval.Evaluate(context.Background(), runner, set, eval.Options{
		Delay:        delay,
		DisableModel: adapter == nil,
	})
	if err != nil {
		return err
	}

	snapDir := cfg.SnapshotDir.Value
	if snapDir == "" {
		snapDir = "snapshots"
	}
	path, err := eval.WriteSnapshot(snapDir, snap)
	if err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}

	fmt.Println()
	fmt.Print(eval.RenderSnapshot(snap))
	fmt.Printf("\nSnapshot written to %s\n", path)
	return nil
}

func runCompare(args []string) (bool, error) {
	f, err := parseArgs(args)
	if err != nil {
		return false, err
	}
	cfg, err := resolve(f)
	if err != nil {
		return false, err
	}

	snapDir := cfg.SnapshotDir.Value
	if snapDir == "" {
		snapDir = "snapshots"
	}

	var baselinePath, currentPath string
	switch len(f.rest) {
	case 2:
		baselinePath, currentPath = f.rest[0], f.rest[1]
	case 1:
		baselinePath = f.rest[0]
		currentPath, err = eval.LatestSnapshot(snapDir)
		if err != nil {
			return false, err
		}
		if currentPath == "" {
			return false, fmt.Errorf("no snapshots in %s; run 'visioncue eval' first", snapDir)
		}
	default:
		return false, fmt.Errorf("usage: visioncue compare <baseline.json> [current.json]")
	}

	baseline, err := eval.LoadSnapshot(baselinePath)
	if err != nil {
		return false, fmt.Errorf("loading baseline: %w", err)
	}
	current, err := eval.LoadSnapshot(currentPath)
	if err != nil {
		return false, fmt.Errorf("loading current snapshot: %w", err)
	}

	th := eval.Thresholds{ScoreDrop: eval.DefaultScoreDropThreshold}
	if raw := cfg.ScoreDropThreshold.Value; raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 {
			th.ScoreDrop = v
		}
	}

	cmp := eval.Compare(baseline, current, th)
	fmt.Print(eval.RenderComparison(cmp))
	return cmp.Passed(), nil
}

func runCache(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: visioncue cache <stats|clear>")
	}
	sub := args[0]
	f, err := parseArgs(args[1:])
	if err != nil {
		return err
	}
	cfg, err := resolve(f)
	if err != nil {
		return err
	}

	c, err := openCache(cfg, false)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := context.Background()
	switch sub {
	case "stats":
		// Hydrate so the persisted entries are counted.
		c.Hydrate(ctx)
		data, err := json.MarshalIndent(c.Stats(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	case "clear":
		c.Clear(ctx)
		fmt.Println("Cache cleared.")
	default:
		return fmt.Errorf("unknown cache subcommand: %s (use stats or clear)", sub)
	}
	return nil
}

func runConfig(args []string) error {
	f, err := parseArgs(args)
	if err != nil {
		return err
	}
	cfg, err := resolve(f)
	if err != nil {
		return err
	}

	// API keys are provenance-only in this view; never print the values.
	for k, v := range cfg.APIKeys {
		v.Value = "(set)"
		cfg.APIKeys[k] = v
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runMCP(args []string) error {
	f, err := parseArgs(args)
	if err != nil {
		return err
	}
	cfg, err := resolve(f)
	if err != nil {
		return err
	}

	adapter, err := buildAdapter(cfg, f.noModel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: model unavailable, serving deterministic-only: %v\n", err)
		adapter = nil
	}

	c, err := openCache(cfg, f.noCache)
	if err != nil {
		return err
	}
	if c != nil {
		defer c.Close()
	}

	runner := pipeline.NewRunner(pipeline.Config{
		Adapter: adapter,
		Cache:   c,
		Policy:  cfg.Policy(),
	})

	srv := vcmcp.NewServer(vcmcp.ServerConfig{
		Runner:  runner,
		Cache:   c,
		Version: version,
	})
	return server.ServeStdio(srv)
}

func printUsage() {
	fmt.Printf(`visioncue %s — Visual control-point extraction for video-generation prompts

Usage:
  visioncue <command> [arguments]

Commands:
  extract <text>      Extract labeled spans from a prompt
  eval                Score the pipeline against the golden set, write a snapshot
  compare <baseline>  Compare a snapshot against a baseline (exit 2 on regression)
  cache stats|clear   Inspect or wipe the result cache
  config              Print the resolved configuration and value provenance
  mcp                 Serve the extraction tools over MCP stdio
  version             Print version

Extract Flags:
  --subject, --action, --location, --time, --style
                      User-declared intent fields, matched at top priority
  --no-model          Deterministic sources only
  --no-cache          Skip the result cache
  --json              Emit the full result as JSON

Common Flags:
  --config <path>     Config file (default ~/.visioncue/config.yaml)
  --model <p/m>       Model provider/name (e.g. google/gemini-2.5-flash, mock)
  --cache <path>      Cache database path
  --golden <dir>      Golden set directory
  --snapshots <dir>   Snapshot directory
  -h, --help          Show this help message
  -v, --version       Print version
`, version)
}
