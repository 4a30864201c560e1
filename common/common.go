package common

import (
	"io/fs"
	"time"
)

const (
	AppName = "sshdeploy"
)

// Log field keys, in the order the console formatter prints them.
const (
	RunID     = "Run"
	PhaseName = "Phase"
	HostName  = "Host"
)

const (
	PhaseUpload = "upload"
	PhaseExec   = "exec"
)

const (
	// FileMode0755 represents rwxr-xr-x
	FileMode0755 fs.FileMode = 0755
	// FileMode0644 represents rw-r--r--
	FileMode0644 fs.FileMode = 0644
	// FileMode0600 represents rw-------
	FileMode0600 fs.FileMode = 0600
)

const (
	// CommandSeparator joins configured commands into one compound remote command.
	CommandSeparator = " && "
)

const (
	DefaultSSHPort    = 22
	DefaultSSHTimeout = 30 * time.Second
)

// GitHubActionsEnv is set to "true" by the GitHub Actions runner.
const GitHubActionsEnv = "GITHUB_ACTIONS"

// InputEnvPrefix is the prefix the Actions runner uses for step inputs.
const InputEnvPrefix = "INPUT_"

// OperationState is the lifecycle state of one run.
type OperationState int

const (
	StateInit OperationState = iota
	StateConnecting
	StateConnected
	StatePhaseA
	StatePhaseB
	StateClosing
	StateDone
	StateFailed
)

func (s OperationState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StatePhaseA:
		return "PHASE_A"
	case StatePhaseB:
		return "PHASE_B"
	case StateClosing:
		return "CLOSING"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}
