// Package cli implements the command-line front-end collaborator: run/clear
// commands over a graph rooted at a caller-supplied task, plus the hidden
// self-invocation mode a subprocess-dispatched task's child process runs
// under. It follows the flag.NewFlagSet/ExitError shape the engine's teacher
// codebase uses for its own CLI.
package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/vk/taskgraph"
)

// ExitError carries the process exit code a CLI failure should produce.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string { return e.Message }

// RootTaskFunc builds the root task a "run" invocation targets,
// from the flat JSON object passed via --args-json/--kwargs. Callers
// register their own task constructors here; the CLI has no notion of any
// concrete task type.
type RootTaskFunc func(cache *taskgraph.Cache, args map[string]any) (*taskgraph.Task, error)

// Config is the parsed command line.
type Config struct {
	// Mode is one of "run", "clear", or "dispatch" (the hidden self-invocation
	// entrypoint, selected by the presence of --task-name).
	Mode string

	CacheDir string
	Args     map[string]any

	// clear-mode target.
	ClearTaskName string
	ClearAll      bool

	// dispatch-mode fields.
	TaskName     string
	TaskID       string
	ArgsJSONPath string

	SchedulerWorkers int
}

// Parse processes argv (excluding the program name). It returns an
// *ExitError for usage failures the caller should report and exit on.
func Parse(argv []string, output io.Writer) (*Config, bool, error) {
	if len(argv) == 0 {
		printUsage(output)
		return nil, true, nil
	}

	sub := argv[0]
	switch sub {
	case "run":
		return parseRun(argv[1:], output)
	case "clear":
		return parseClear(argv[1:], output)
	case "-h", "--help", "help":
		printUsage(output)
		return nil, true, nil
	}

	// Hidden self-invocation mode: a dispatched child is called directly
	// with --task-name/--task-id/--cache/--args-json and no subcommand.
	if sub == "--task-name" {
		return parseDispatch(argv, output)
	}
	return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("unknown command %q; expected \"run\" or \"clear\"", sub)}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `
taskgraph - run and inspect task-graph executions.

Usage:
  taskgraph run --cache DIR --args-json JSON [--workers N]
  taskgraph clear --cache DIR (--task-name NAME | --all)

Options for run/clear:
  --cache      Cache directory (or set TASKGRAPH_CACHE_DIR).
`)
}

func cacheDirFlag(fs *flag.FlagSet) *string {
	def := os.Getenv("TASKGRAPH_CACHE_DIR")
	return fs.String("cache", def, "Cache directory (overrides TASKGRAPH_CACHE_DIR).")
}

func parseRun(argv []string, output io.Writer) (*Config, bool, error) {
	fs := flag.NewFlagSet("taskgraph run", flag.ContinueOnError)
	fs.SetOutput(output)
	cacheFlag := cacheDirFlag(fs)
	argsFlag := fs.String("args-json", "{}", "JSON object of root task constructor arguments.")
	kwargsFlag := fs.String("kwargs", "", "Alias for --args-json.")
	workersFlag := fs.Int("workers", 4, "Executor worker pool size.")

	if err := fs.Parse(argv); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	raw := *argsFlag
	if *kwargsFlag != "" {
		raw = *kwargsFlag
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("invalid --args-json: %v", err)}
	}
	if *cacheFlag == "" {
		return nil, false, &ExitError{Code: 2, Message: "--cache (or TASKGRAPH_CACHE_DIR) is required"}
	}

	return &Config{Mode: "run", CacheDir: *cacheFlag, Args: args, SchedulerWorkers: *workersFlag}, false, nil
}

func parseClear(argv []string, output io.Writer) (*Config, bool, error) {
	fs := flag.NewFlagSet("taskgraph clear", flag.ContinueOnError)
	fs.SetOutput(output)
	cacheFlag := cacheDirFlag(fs)
	taskNameFlag := fs.String("task-name", "", "Clear every cached entry for this task name.")
	allFlag := fs.Bool("all", false, "Clear the entire cache directory's entries.")

	if err := fs.Parse(argv); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	if *cacheFlag == "" {
		return nil, false, &ExitError{Code: 2, Message: "--cache (or TASKGRAPH_CACHE_DIR) is required"}
	}
	if *taskNameFlag == "" && !*allFlag {
		return nil, false, &ExitError{Code: 2, Message: "clear requires --task-name or --all"}
	}
	return &Config{Mode: "clear", CacheDir: *cacheFlag, ClearTaskName: *taskNameFlag, ClearAll: *allFlag}, false, nil
}

func parseDispatch(argv []string, output io.Writer) (*Config, bool, error) {
	fs := flag.NewFlagSet("taskgraph dispatch", flag.ContinueOnError)
	fs.SetOutput(output)
	cacheFlag := fs.String("cache", "", "Cache directory.")
	taskNameFlag := fs.String("task-name", "", "Task name to run.")
	taskIDFlag := fs.String("task-id", "", "Task id to run.")
	argsJSONFlag := fs.String("args-json", "", "Path to the resolved-args payload file.")

	if err := fs.Parse(argv); err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	if *cacheFlag == "" || *taskNameFlag == "" || *taskIDFlag == "" || *argsJSONFlag == "" {
		return nil, false, &ExitError{Code: 2, Message: "dispatch mode requires --cache, --task-name, --task-id, and --args-json"}
	}
	return &Config{
		Mode:         "dispatch",
		CacheDir:     *cacheFlag,
		TaskName:     *taskNameFlag,
		TaskID:       *taskIDFlag,
		ArgsJSONPath: *argsJSONFlag,
	}, false, nil
}

// RunDispatch is the hidden self-invocation entrypoint: it loads the
// resolved-args payload a parent process wrote, runs the registered body,
// and persists the result before returning. Any error here surfaces to the
// parent as a non-zero exit status.
func RunDispatch(ctx context.Context, cfg *Config, registry *taskgraph.Registry) error {
	blob, err := os.ReadFile(cfg.ArgsJSONPath)
	if err != nil {
		return fmt.Errorf("cli: reading args payload: %w", err)
	}
	var payload taskgraph.DispatchPayload
	if err := json.Unmarshal(blob, &payload); err != nil {
		return fmt.Errorf("cli: decoding args payload: %w", err)
	}

	body, err := registry.Lookup(cfg.TaskName)
	if err != nil {
		return err
	}

	cache, err := taskgraph.OpenCache(ctx, cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("cli: opening cache: %w", err)
	}

	value, err := body(ctx, taskgraph.Args(payload.ResolvedArgs))
	if err != nil {
		return err
	}
	return cache.PersistDispatchResult(ctx, cfg.TaskName, cfg.TaskID, value, payload)
}

// RunClear performs a clear-mode invocation.
func RunClear(ctx context.Context, cfg *Config) error {
	cache, err := taskgraph.OpenCache(ctx, cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("cli: opening cache: %w", err)
	}
	if cfg.ClearAll {
		return taskgraph.ClearEverything(ctx, cache)
	}
	return taskgraph.ClearAllTasks(ctx, cache, cfg.ClearTaskName)
}

// RunGraph performs a run-mode invocation: build the root task, execute it
// to completion, and return its value plus run statistics.
func RunGraph(ctx context.Context, cfg *Config, rootTaskFn RootTaskFunc) (any, *taskgraph.Stats, error) {
	cache, err := taskgraph.OpenCache(ctx, cfg.CacheDir)
	if err != nil {
		return nil, nil, fmt.Errorf("cli: opening cache: %w", err)
	}
	root, err := rootTaskFn(cache, cfg.Args)
	if err != nil {
		return nil, nil, fmt.Errorf("cli: building root task: %w", err)
	}
	executor := taskgraph.NewGoroutinePoolExecutor(cfg.SchedulerWorkers)
	defer executor.Shutdown(true)
	sched := taskgraph.NewScheduler(executor, cache)
	return sched.RunGraph(ctx, root)
}
