// Command taskgraph-example wires a small recursive binomial-coefficient
// task (Choose(n,k) via Pascal's rule) through the engine's scheduler, cache
// and CLI front-end, doubling as this engine's self-invocation entrypoint
// for subprocess-dispatched tasks.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/vk/taskgraph"
	"github.com/vk/taskgraph/internal/cli"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(argv []string, outW, errW *os.File) int {
	cfg, shouldExit, err := cli.Parse(argv, outW)
	if err != nil {
		if exitErr, ok := err.(*cli.ExitError); ok {
			fmt.Fprintln(errW, exitErr.Message)
			return exitErr.Code
		}
		fmt.Fprintln(errW, err)
		return 1
	}
	if shouldExit {
		return 0
	}

	ctx := context.Background()
	registry := taskgraph.NewRegistry()
	registry.Register("choose", chooseBody)

	switch cfg.Mode {
	case "dispatch":
		if err := cli.RunDispatch(ctx, cfg, registry); err != nil {
			fmt.Fprintln(errW, err)
			return 1
		}
		return 0
	case "clear":
		if err := cli.RunClear(ctx, cfg); err != nil {
			fmt.Fprintln(errW, err)
			return 1
		}
		return 0
	case "run":
		value, stats, err := cli.RunGraph(ctx, cfg, buildChooseRoot)
		if err != nil {
			fmt.Fprintln(errW, err)
			return 1
		}
		fmt.Fprintf(outW, "%v\n", value)
		for _, ts := range stats.Tasks {
			slog.Debug("task finished", "task_name", ts.TaskName, "task_id", ts.TaskID, "origin", ts.Origin)
		}
		return 0
	default:
		fmt.Fprintf(errW, "unhandled cli mode %q\n", cfg.Mode)
		return 1
	}
}

// buildChooseRoot is the cli.RootTaskFunc for this binary: it reads "n" and
// "k" out of the --args-json object and builds the corresponding Choose(n,k)
// task tree.
func buildChooseRoot(cache *taskgraph.Cache, args map[string]any) (*taskgraph.Task, error) {
	n := toInt(args["n"])
	k := toInt(args["k"])
	root, err := choose(cache, n, k)
	if err != nil {
		return nil, err
	}
	t, ok := root.(*taskgraph.Task)
	if !ok {
		return nil, fmt.Errorf("Choose(%d,%d) resolves to a boundary constant directly; pick n,k with 0 < k < n", n, k)
	}
	return t, nil
}

// choose builds the Future for Choose(n,k): Const(1) at the Pascal's-rule
// boundary (k == 0 or k == n), a Task summing its two Choose(n-1,*)
// upstreams otherwise. The recursion naturally shares subtrees: Choose(n-1,k)
// reached from two different parents is the same Task instance only if the
// caller threads it through once, which is not guaranteed here — every call
// walks its own subtree, and identical (n,k) pairs instead collapse to one
// cache entry because their task_id is derived from the same argument bytes.
func choose(cache *taskgraph.Cache, n, k int) (taskgraph.Future, error) {
	if k == 0 || k == n {
		return taskgraph.NewConst(1), nil
	}
	left, err := choose(cache, n-1, k-1)
	if err != nil {
		return nil, err
	}
	right, err := choose(cache, n-1, k)
	if err != nil {
		return nil, err
	}
	return taskgraph.NewTask(cache, "choose", taskgraph.Args{
		"n":     n,
		"k":     k,
		"left":  left,
		"right": right,
	}, chooseBody)
}

func chooseBody(_ context.Context, resolved taskgraph.Args) (any, error) {
	return toInt(resolved["left"]) + toInt(resolved["right"]), nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
