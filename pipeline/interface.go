package pipeline

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/mensylisir/sshdeploy/connector"
	"github.com/mensylisir/sshdeploy/pipeline/ending"
)

// Pipeline is one deployment pass against one host.
type Pipeline interface {
	Name() string
	Description() string
	// Run connects, executes every phase and closes the session. It never
	// panics and never returns early without closing an opened session.
	Run(ctx context.Context) Result
}

// Phase is one step executed against an open connection. Execute reports
// failures through the returned Result instead of aborting the run, so
// later phases still execute.
type Phase interface {
	Name() string
	Execute(ctx context.Context, conn connector.Connection, log *logrus.Entry) *ending.Result
}
