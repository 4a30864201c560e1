package pipeline

import (
	"context"

	"github.com/go-git/go-billy/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mensylisir/sshdeploy/common"
	"github.com/mensylisir/sshdeploy/config"
	"github.com/mensylisir/sshdeploy/connector"
	"github.com/mensylisir/sshdeploy/file"
	"github.com/mensylisir/sshdeploy/hook"
	"github.com/mensylisir/sshdeploy/logger"
	"github.com/mensylisir/sshdeploy/pipeline/ending"
)

// Result is the outcome of one run.
type Result struct {
	RunID  string
	State  common.OperationState
	Phases []*ending.Result
	// Err is nil on success. Otherwise it matches one or more of the
	// Err* kinds with errors.Is.
	Err error
}

// Success reports whether the run connected and no phase failed.
func (r Result) Success() bool {
	if r.Err != nil {
		return false
	}
	for _, p := range r.Phases {
		if p.IsFailed() {
			return false
		}
	}
	return true
}

// Option customises a DeployPipeline.
type Option func(*DeployPipeline)

// WithDialer replaces the SSH dialer.
func WithDialer(d connector.Dialer) Option {
	return func(p *DeployPipeline) { p.dialer = d }
}

// WithFilesystem replaces the local filesystem sources are read from.
func WithFilesystem(fs billy.Filesystem) Option {
	return func(p *DeployPipeline) { p.localFS = fs }
}

// WithRunID fixes the run id instead of generating one.
func WithRunID(id string) Option {
	return func(p *DeployPipeline) { p.runID = id }
}

// DeployPipeline connects once, runs the upload and exec phases in the
// configured order and always closes the session.
type DeployPipeline struct {
	BasePipeline
	cfg     config.Config
	dialer  connector.Dialer
	localFS billy.Filesystem
	runID   string
	state   common.OperationState
	log     *logrus.Entry
}

var _ Pipeline = (*DeployPipeline)(nil)

// NewDeployPipeline builds the pipeline for a validated configuration.
func NewDeployPipeline(cfg config.Config, opts ...Option) (*DeployPipeline, error) {
	p := &DeployPipeline{
		BasePipeline: NewBasePipeline(common.AppName, "upload files and run commands over one SSH session"),
		cfg:          cfg,
		state:        common.StateInit,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.dialer == nil {
		p.dialer = connector.NewDialer()
	}
	if p.localFS == nil {
		p.localFS = file.NewOSFilesystem()
	}
	if p.runID == "" {
		p.runID = uuid.NewString()
	}
	p.log = logger.Log.ForRun(p.runID, connector.Config{Address: cfg.Host, Port: cfg.Port}.Endpoint())

	for _, name := range phaseOrder(cfg.ScpFirst) {
		phase, err := NewPhase(name, cfg, p.localFS)
		if err != nil {
			return nil, err
		}
		p.AddPhase(phase)
	}
	return p, nil
}

func phaseOrder(scpFirst bool) []string {
	if scpFirst {
		return []string{common.PhaseUpload, common.PhaseExec}
	}
	return []string{common.PhaseExec, common.PhaseUpload}
}

// RunID identifies this run in logs.
func (p *DeployPipeline) RunID() string {
	return p.runID
}

func (p *DeployPipeline) transition(to common.OperationState) {
	p.log.Debugf("State %s -> %s", p.state, to)
	p.state = to
}

// ConnectorConfig is the transport configuration for the run. Only one
// credential is carried: the password when set, otherwise the key.
func (p *DeployPipeline) ConnectorConfig() connector.Config {
	cc := connector.Config{
		Username:       p.cfg.Username,
		Address:        p.cfg.Host,
		Port:           p.cfg.Port,
		Timeout:        p.cfg.Timeout,
		Bastion:        p.cfg.Bastion,
		BastionPort:    p.cfg.BastionPort,
		BastionUser:    p.cfg.BastionUser,
		StrictHostKey:  p.cfg.StrictHostKey,
		KnownHostsPath: p.cfg.KnownHostsPath,
		LocalFS:        p.localFS,
	}
	if p.cfg.Password != "" {
		cc.Password = p.cfg.Password
		return cc
	}
	cc.PrivateKey = p.cfg.PrivateKey
	cc.Passphrase = p.cfg.Passphrase
	if cc.PrivateKey == "" {
		cc.KeyFile = p.cfg.PrivateKeyPath
	}
	return cc
}

func (p *DeployPipeline) Run(ctx context.Context) Result {
	res := Result{RunID: p.runID}
	p.log.Infof("Starting %s", p.Description())

	p.transition(common.StateConnecting)
	conn, err := p.dialer.Dial(ctx, p.ConnectorConfig())
	if err != nil {
		p.transition(common.StateFailed)
		res.State = p.state
		res.Err = newError(ErrConnection, err)
		p.log.WithError(err).Error("Could not connect")
		return res
	}
	p.transition(common.StateConnected)

	err = hook.Call(hook.Funcs{
		TryFn: func() error {
			res.Phases = p.ExecutePhases(ctx, conn, p.log, func(i int) {
				if i == 0 {
					p.transition(common.StatePhaseA)
				} else {
					p.transition(common.StatePhaseB)
				}
			})
			return ending.Combine(res.Phases...)
		},
		FinallyFn: func() {
			p.transition(common.StateClosing)
			if closeErr := conn.Close(); closeErr != nil {
				p.log.WithError(closeErr).Warn("Failed to close session cleanly")
			}
		},
	})
	if err != nil {
		if errors.Is(err, hook.ErrPanic) && !errors.Is(err, ErrUnexpected) {
			err = newError(ErrUnexpected, err)
		}
		res.Err = err
	}

	if res.Success() {
		p.transition(common.StateDone)
		p.log.Info("Run completed successfully")
	} else {
		p.transition(common.StateFailed)
		p.log.Errorf("Run failed: %v", res.Err)
	}
	res.State = p.state
	return res
}
