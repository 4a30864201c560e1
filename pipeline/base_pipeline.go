package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mensylisir/sshdeploy/common"
	"github.com/mensylisir/sshdeploy/connector"
	"github.com/mensylisir/sshdeploy/hook"
	"github.com/mensylisir/sshdeploy/pipeline/ending"
	xmtime "github.com/mensylisir/sshdeploy/time"
)

// BasePipeline holds the name and the ordered phases of a pipeline. It can
// be embedded in concrete pipeline implementations.
type BasePipeline struct {
	name        string
	description string
	phases      []Phase
}

// NewBasePipeline creates a new BasePipeline.
func NewBasePipeline(name, description string) BasePipeline {
	return BasePipeline{
		name:        name,
		description: description,
		phases:      make([]Phase, 0),
	}
}

// Name returns the name of the pipeline.
func (bp *BasePipeline) Name() string {
	return bp.name
}

// Description returns the description of the pipeline.
func (bp *BasePipeline) Description() string {
	return bp.description
}

// AddPhase appends a phase to the execution list.
func (bp *BasePipeline) AddPhase(p Phase) {
	bp.phases = append(bp.phases, p)
}

// ExecutePhases runs every phase in order against conn. A failed or
// panicking phase never stops the ones after it. before is called with the
// phase index ahead of each phase and may be nil.
func (bp *BasePipeline) ExecutePhases(ctx context.Context, conn connector.Connection, log *logrus.Entry, before func(i int)) []*ending.Result {
	results := make([]*ending.Result, 0, len(bp.phases))
	for i, p := range bp.phases {
		if before != nil {
			before(i)
		}
		phaseLog := log.WithFields(logrus.Fields{
			common.PhaseName: p.Name(),
			"phase_index":    fmt.Sprintf("%d/%d", i+1, len(bp.phases)),
		})
		phaseLog.Infof("Executing phase: %s", p.Name())

		res := runPhase(ctx, p, conn, phaseLog)
		switch {
		case res.IsFailed():
			phaseLog.Errorf("Phase %s failed: %v", p.Name(), res.CombinedError())
		case res.Status == ending.ResultSkipped:
			phaseLog.Infof("Phase %s skipped: %s", p.Name(), res.Message)
		default:
			phaseLog.Infof("Phase %s completed in %s.", p.Name(), xmtime.ShortDur(res.Duration))
		}
		results = append(results, res)
	}
	return results
}

// runPhase executes p and turns a panic into an ErrUnexpected failure.
func runPhase(ctx context.Context, p Phase, conn connector.Connection, log *logrus.Entry) *ending.Result {
	start := time.Now()
	result := ending.NewResult(p.Name())

	err := hook.Call(hook.Funcs{
		TryFn: func() error {
			if r := p.Execute(ctx, conn, log); r != nil {
				result = r
			}
			return nil
		},
	})
	if err != nil {
		result.AddError(newError(ErrUnexpected, err))
	}
	result.Duration = time.Since(start)
	return result
}
