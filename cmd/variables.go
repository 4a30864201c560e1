package cmd

import (
	"os"

	"github.com/mensylisir/sshdeploy/connector"
)

// Version is the CLI version string injected at build time via -ldflags.
var Version = "0.1.0"

// Seams for tests.
var (
	exitFunc  = os.Exit
	lookupEnv = os.LookupEnv
	newDialer = connector.NewDialer
)

type rootOptions struct {
	configPath string
	logDir     string
	verbose    bool
	flags      flagInputs
}

// flagInputs mirrors config.Inputs for the values cobra binds directly.
type flagInputs struct {
	host           string
	port           int
	username       string
	password       string
	privateKey     string
	privateKeyPath string
	passphrase     string
	commands       []string
	sourceFiles    []string
	targetDir      string
	scpFirst       bool
	timeout        string
	knownHosts     string
	strictHostKey  bool
	bastion        string
	bastionPort    int
	bastionUser    string
	workDir        string
}
