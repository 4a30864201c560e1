package runner

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/mensylisir/sshdeploy/common"
	"github.com/mensylisir/sshdeploy/connector"
	"github.com/mensylisir/sshdeploy/logger"
)

// cmdRunner implements Runner on top of a connector.Executor.
type cmdRunner struct {
	exec connector.Executor
}

// NewCmdRunner creates a Runner that executes through exec.
func NewCmdRunner(exec connector.Executor) Runner {
	return &cmdRunner{exec: exec}
}

// JoinCommands trims each command, drops blank ones and joins the rest so
// that each runs only if every earlier one succeeded.
func JoinCommands(commands []string) string {
	kept := make([]string, 0, len(commands))
	for _, c := range commands {
		if c = strings.TrimSpace(c); c != "" {
			kept = append(kept, c)
		}
	}
	return strings.Join(kept, common.CommandSeparator)
}

func (r *cmdRunner) Run(ctx context.Context, commands []string) (Outcome, error) {
	command := JoinCommands(commands)
	if command == "" {
		return Outcome{Skipped: true}, nil
	}

	logger.Log.DebugfPhase(common.PhaseExec, "running %q", command)
	start := time.Now()
	stdout, stderr, code, err := r.exec.Exec(ctx, command)
	outcome := Outcome{
		Command:  command,
		ExitCode: code,
		Stdout:   string(stdout),
		Stderr:   string(stderr),
		Duration: time.Since(start),
	}
	if err != nil {
		return outcome, errors.Wrapf(err, "failed to execute %q", command)
	}
	return outcome, nil
}
