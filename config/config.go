package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/mensylisir/sshdeploy/common"
)

// ErrInvalid is wrapped around every configuration error.
var ErrInvalid = errors.New("invalid configuration")

// Config is the validated, read-only description of one run. Build it with
// New and pass it by value.
type Config struct {
	Host           string
	Port           int
	Username       string
	Password       string
	PrivateKey     string
	PrivateKeyPath string
	Passphrase     string
	Commands       []string
	SourceFiles    []string
	TargetDir      string
	ScpFirst       bool
	Timeout        time.Duration
	KnownHostsPath string
	StrictHostKey  bool
	Bastion        string
	BastionPort    int
	BastionUser    string
	// WorkDir roots relative source patterns.
	WorkDir string
}

// New validates in and applies defaults. Nothing is dialed or read from
// disk except the current directory lookup when no work dir is given.
func New(in Inputs) (Config, error) {
	cfg := Config{
		Host:           strings.TrimSpace(in.Host),
		Port:           in.Port,
		Username:       strings.TrimSpace(in.Username),
		Password:       in.Password,
		PrivateKey:     in.PrivateKey,
		PrivateKeyPath: strings.TrimSpace(in.PrivateKeyPath),
		Passphrase:     in.Passphrase,
		Commands:       trimmed(in.Command),
		SourceFiles:    trimmed(in.SourceFiles),
		TargetDir:      strings.TrimSpace(in.TargetDir),
		Timeout:        common.DefaultSSHTimeout,
		KnownHostsPath: strings.TrimSpace(in.KnownHosts),
		Bastion:        strings.TrimSpace(in.Bastion),
		BastionPort:    in.BastionPort,
		BastionUser:    strings.TrimSpace(in.BastionUser),
		WorkDir:        strings.TrimSpace(in.WorkDir),
	}
	if in.ScpFirst != nil {
		cfg.ScpFirst = *in.ScpFirst
	}
	if in.StrictHostKey != nil {
		cfg.StrictHostKey = *in.StrictHostKey
	}

	if cfg.Host == "" {
		return Config{}, errors.Wrap(ErrInvalid, "host is required")
	}
	if cfg.Username == "" {
		return Config{}, errors.Wrap(ErrInvalid, "username is required")
	}
	if cfg.Password == "" && strings.TrimSpace(cfg.PrivateKey) == "" && cfg.PrivateKeyPath == "" {
		return Config{}, errors.Wrap(ErrInvalid, "one of password, privateKey or privateKeyPath is required")
	}

	if cfg.Port == 0 {
		cfg.Port = common.DefaultSSHPort
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return Config{}, errors.Wrapf(ErrInvalid, "port %d is out of range", cfg.Port)
	}
	if cfg.Bastion != "" {
		if cfg.BastionPort == 0 {
			cfg.BastionPort = common.DefaultSSHPort
		}
		if cfg.BastionPort < 1 || cfg.BastionPort > 65535 {
			return Config{}, errors.Wrapf(ErrInvalid, "bastion port %d is out of range", cfg.BastionPort)
		}
		if cfg.BastionUser == "" {
			cfg.BastionUser = cfg.Username
		}
	}

	if cfg.ScpFirst {
		if len(cfg.SourceFiles) == 0 {
			return Config{}, errors.Wrap(ErrInvalid, "scpFirst requires sourceFiles")
		}
		if cfg.TargetDir == "" {
			return Config{}, errors.Wrap(ErrInvalid, "scpFirst requires targetDir")
		}
	}

	if in.Timeout != "" {
		d, err := time.ParseDuration(in.Timeout)
		if err != nil || d <= 0 {
			return Config{}, errors.Wrapf(ErrInvalid, "timeout %q is not a positive duration", in.Timeout)
		}
		cfg.Timeout = d
	}

	if cfg.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Config{}, errors.Wrap(err, "failed to determine working directory")
		}
		cfg.WorkDir = wd
	}
	if !filepath.IsAbs(cfg.WorkDir) {
		abs, err := filepath.Abs(cfg.WorkDir)
		if err != nil {
			return Config{}, errors.Wrapf(err, "failed to resolve work dir %s", cfg.WorkDir)
		}
		cfg.WorkDir = abs
	}
	return cfg, nil
}

func trimmed(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
