package pipeline

import (
	"context"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mensylisir/sshdeploy/common"
	"github.com/mensylisir/sshdeploy/config"
	"github.com/mensylisir/sshdeploy/connector"
	"github.com/mensylisir/sshdeploy/pipeline/ending"
	"github.com/mensylisir/sshdeploy/runner"
)

func init() {
	mustRegister(common.PhaseExec, NewExecPhase)
}

// ExecPhase runs the configured commands as one compound command.
type ExecPhase struct {
	commands []string
}

func NewExecPhase(cfg config.Config, _ billy.Filesystem) Phase {
	return &ExecPhase{commands: cfg.Commands}
}

func (p *ExecPhase) Name() string {
	return common.PhaseExec
}

func (p *ExecPhase) Execute(ctx context.Context, conn connector.Connection, log *logrus.Entry) *ending.Result {
	result := ending.NewResult(p.Name())

	outcome, err := runner.NewCmdRunner(conn).Run(ctx, p.commands)
	logOutput(log, outcome)
	if err != nil {
		result.AddError(newError(ErrConnection, err))
		return result
	}
	if outcome.Skipped {
		result.Skip("no commands configured")
		return result
	}
	if !outcome.Succeeded() {
		result.AddError(newError(ErrCommand,
			errors.Errorf("%q exited with status %d", outcome.Command, outcome.ExitCode)))
		return result
	}
	result.Succeed("commands completed")
	return result
}

func logOutput(log *logrus.Entry, outcome runner.Outcome) {
	if out := strings.TrimRight(outcome.Stdout, "\n"); out != "" {
		log.WithField("stream", "stdout").Info(out)
	}
	if out := strings.TrimRight(outcome.Stderr, "\n"); out != "" {
		log.WithField("stream", "stderr").Warn(out)
	}
}
