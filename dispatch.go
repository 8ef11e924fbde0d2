package taskgraph

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/vk/taskgraph/internal/ctxlog"
	"github.com/vk/taskgraph/internal/shellwords"
)

// dispatchSubprocess wraps a task's self-invocation in the configured prefix
// command, runs it to completion, and redirects its stdout/stderr to the
// entry's capture files. The child is responsible for populating the cache
// entry itself before exiting 0; the parent only observes the exit status.
// argsJSONPath points at the file holding the task's already-resolved
// argument record (every upstream Future replaced by its value), so the
// child never needs to reconstruct the graph to run the body.
func dispatchSubprocess(ctx context.Context, selfExe, prefix, taskName, taskID, cachePath, argsJSONPath, stdoutPath, stderrPath string) error {
	logger := ctxlog.FromContext(ctx)

	prefixTokens, err := shellwords.Split(prefix)
	if err != nil {
		return &UsageError{Reason: fmt.Sprintf("invalid prefix command %q: %v", prefix, err)}
	}

	argv := append(append([]string{}, prefixTokens...), selfExe,
		"--task-name", taskName,
		"--task-id", taskID,
		"--cache", cachePath,
		"--args-json", argsJSONPath,
	)

	outF, err := os.Create(stdoutPath)
	if err != nil {
		return fmt.Errorf("dispatch: creating stdout capture file: %w", err)
	}
	defer outF.Close()
	errF, err := os.Create(stderrPath)
	if err != nil {
		return fmt.Errorf("dispatch: creating stderr capture file: %w", err)
	}
	defer errF.Close()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = outF
	cmd.Stderr = errF

	logger.Debug("dispatch: subprocess starting", "task_name", taskName, "task_id", taskID, "argv", argv)
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			logger.Warn("dispatch: subprocess exited non-zero", "task_name", taskName, "task_id", taskID, "exit_code", exitErr.ExitCode())
			return fmt.Errorf("subprocess exited with status %d; see stderr at %s", exitErr.ExitCode(), stderrPath)
		}
		return fmt.Errorf("dispatch: running subprocess: %w", err)
	}
	logger.Debug("dispatch: subprocess finished", "task_name", taskName, "task_id", taskID)
	return nil
}
