package cmd

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mensylisir/sshdeploy/common"
	"github.com/mensylisir/sshdeploy/config"
	"github.com/mensylisir/sshdeploy/logger"
	"github.com/mensylisir/sshdeploy/pipeline"
	xmtime "github.com/mensylisir/sshdeploy/time"
)

// errRunFailed prefixes the error of a run that did not succeed.
var errRunFailed = errors.New("deployment failed")

// NewRootCmd builds the sshdeploy command.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   common.AppName,
		Short: "Upload files and run commands on a remote host over SSH",
		Long: "Connects to one host over SSH, optionally copies local files and directories to a target " +
			"directory over SFTP and optionally runs a list of commands joined with &&. " +
			"Inputs come from flags, INPUT_* environment variables and an optional YAML file, " +
			"in that order of precedence.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.InitGlobalLogger(opts.logDir, opts.verbose, logrus.InfoLevel)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML file with inputs")
	f.StringVar(&opts.logDir, "log-dir", "", "write logs to a daily rotated file in this directory")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	f.StringVar(&opts.flags.host, "host", "", "remote host")
	f.IntVarP(&opts.flags.port, "port", "p", 0, "SSH port (default 22)")
	f.StringVarP(&opts.flags.username, "username", "u", "", "SSH user")
	f.StringVar(&opts.flags.password, "password", "", "SSH password; takes precedence over keys")
	f.StringVar(&opts.flags.privateKey, "private-key", "", "PEM encoded private key")
	f.StringVar(&opts.flags.privateKeyPath, "private-key-path", "", "path to a private key file")
	f.StringVar(&opts.flags.passphrase, "passphrase", "", "passphrase of the private key")
	f.StringArrayVar(&opts.flags.commands, "command", nil, "command to run remotely (repeatable)")
	f.StringArrayVar(&opts.flags.sourceFiles, "source-files", nil, "local glob pattern to upload (repeatable)")
	f.StringVar(&opts.flags.targetDir, "target-dir", "", "remote directory uploads are placed in")
	f.BoolVar(&opts.flags.scpFirst, "scp-first", false, "upload before running commands")
	f.StringVar(&opts.flags.timeout, "timeout", "", "SSH connect timeout (default 30s)")
	f.StringVar(&opts.flags.knownHosts, "known-hosts", "", "known_hosts file used with --strict-host-key")
	f.BoolVar(&opts.flags.strictHostKey, "strict-host-key", false, "verify the host key against known_hosts")
	f.StringVar(&opts.flags.bastion, "bastion", "", "jump host to connect through")
	f.IntVar(&opts.flags.bastionPort, "bastion-port", 0, "jump host SSH port (default 22)")
	f.StringVar(&opts.flags.bastionUser, "bastion-user", "", "jump host user (default --username)")
	f.StringVar(&opts.flags.workDir, "work-dir", "", "directory relative source patterns start from (default cwd)")

	return cmd
}

func run(cmd *cobra.Command, opts *rootOptions) error {
	var file config.Inputs
	if opts.configPath != "" {
		var err error
		if file, err = config.NewLoader(opts.configPath).Load(); err != nil {
			return err
		}
	}
	env, err := config.FromEnv(lookupEnv)
	if err != nil {
		return err
	}

	cfg, err := config.New(config.Merge(file, env, flagLayer(cmd, opts)))
	if err != nil {
		return err
	}

	p, err := pipeline.NewDeployPipeline(cfg, pipeline.WithDialer(newDialer()))
	if err != nil {
		return err
	}
	res := p.Run(cmd.Context())
	printSummary(cmd.OutOrStdout(), res)
	if !res.Success() {
		if res.Err == nil {
			return errRunFailed
		}
		return errors.WithMessage(res.Err, errRunFailed.Error())
	}
	return nil
}

// flagLayer keeps only flags given on the command line so that defaults
// never shadow env or file values.
func flagLayer(cmd *cobra.Command, opts *rootOptions) config.Inputs {
	f := cmd.Flags()
	in := config.Inputs{
		Host:           opts.flags.host,
		Port:           opts.flags.port,
		Username:       opts.flags.username,
		Password:       opts.flags.password,
		PrivateKey:     opts.flags.privateKey,
		PrivateKeyPath: opts.flags.privateKeyPath,
		Passphrase:     opts.flags.passphrase,
		Command:        opts.flags.commands,
		SourceFiles:    opts.flags.sourceFiles,
		TargetDir:      opts.flags.targetDir,
		Timeout:        opts.flags.timeout,
		KnownHosts:     opts.flags.knownHosts,
		Bastion:        opts.flags.bastion,
		BastionPort:    opts.flags.bastionPort,
		BastionUser:    opts.flags.bastionUser,
		WorkDir:        opts.flags.workDir,
	}
	if f.Changed("scp-first") {
		v := opts.flags.scpFirst
		in.ScpFirst = &v
	}
	if f.Changed("strict-host-key") {
		v := opts.flags.strictHostKey
		in.StrictHostKey = &v
	}
	return in
}

func printSummary(w io.Writer, res pipeline.Result) {
	for _, p := range res.Phases {
		_, _ = fmt.Fprintf(w, "%s [%s]\n", p, xmtime.ShortDur(p.Duration))
	}
}
