package config

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/mensylisir/sshdeploy/common"
)

// Inputs holds raw, unvalidated settings from one source (YAML file,
// environment or command line). Zero values mean "not set".
type Inputs struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port,omitempty"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password,omitempty"`
	PrivateKey     string   `yaml:"privateKey,omitempty"`
	PrivateKeyPath string   `yaml:"privateKeyPath,omitempty"`
	Passphrase     string   `yaml:"passphrase,omitempty"`
	Command        []string `yaml:"command,omitempty"`
	SourceFiles    []string `yaml:"sourceFiles,omitempty"`
	TargetDir      string   `yaml:"targetDir,omitempty"`
	ScpFirst       *bool    `yaml:"scpFirst,omitempty"`
	Timeout        string   `yaml:"timeout,omitempty"`
	KnownHosts     string   `yaml:"knownHosts,omitempty"`
	StrictHostKey  *bool    `yaml:"strictHostKey,omitempty"`
	Bastion        string   `yaml:"bastion,omitempty"`
	BastionPort    int      `yaml:"bastionPort,omitempty"`
	BastionUser    string   `yaml:"bastionUser,omitempty"`
	WorkDir        string   `yaml:"workDir,omitempty"`
}

// Merge overlays layers left to right: a value set in a later layer wins.
// Lists are replaced, never concatenated.
func Merge(layers ...Inputs) Inputs {
	var out Inputs
	for _, l := range layers {
		out.Host = pickString(out.Host, l.Host)
		out.Port = pickInt(out.Port, l.Port)
		out.Username = pickString(out.Username, l.Username)
		out.Password = pickString(out.Password, l.Password)
		out.PrivateKey = pickString(out.PrivateKey, l.PrivateKey)
		out.PrivateKeyPath = pickString(out.PrivateKeyPath, l.PrivateKeyPath)
		out.Passphrase = pickString(out.Passphrase, l.Passphrase)
		if len(l.Command) > 0 {
			out.Command = append([]string(nil), l.Command...)
		}
		if len(l.SourceFiles) > 0 {
			out.SourceFiles = append([]string(nil), l.SourceFiles...)
		}
		out.TargetDir = pickString(out.TargetDir, l.TargetDir)
		if l.ScpFirst != nil {
			v := *l.ScpFirst
			out.ScpFirst = &v
		}
		out.Timeout = pickString(out.Timeout, l.Timeout)
		out.KnownHosts = pickString(out.KnownHosts, l.KnownHosts)
		if l.StrictHostKey != nil {
			v := *l.StrictHostKey
			out.StrictHostKey = &v
		}
		out.Bastion = pickString(out.Bastion, l.Bastion)
		out.BastionPort = pickInt(out.BastionPort, l.BastionPort)
		out.BastionUser = pickString(out.BastionUser, l.BastionUser)
		out.WorkDir = pickString(out.WorkDir, l.WorkDir)
	}
	return out
}

func pickString(cur, next string) string {
	if next != "" {
		return next
	}
	return cur
}

func pickInt(cur, next int) int {
	if next != 0 {
		return next
	}
	return cur
}

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// FromEnv reads INPUT_* variables. Multiline values (command, sourceFiles)
// are split per line; booleans accept only the YAML 1.2 core spellings.
func FromEnv(lookup LookupFunc) (Inputs, error) {
	get := func(name string) string {
		v, _ := lookup(common.InputEnvPrefix + name)
		return strings.TrimSpace(v)
	}
	raw := func(name string) string {
		v, _ := lookup(common.InputEnvPrefix + name)
		return v
	}

	in := Inputs{
		Host:           get("HOST"),
		Username:       get("USERNAME"),
		Password:       raw("PASSWORD"),
		PrivateKey:     raw("PRIVATEKEY"),
		PrivateKeyPath: get("PRIVATEKEYPATH"),
		Passphrase:     raw("PASSPHRASE"),
		Command:        SplitLines(raw("COMMAND")),
		SourceFiles:    SplitLines(raw("SOURCEFILES")),
		TargetDir:      get("TARGETDIR"),
		Timeout:        get("TIMEOUT"),
		KnownHosts:     get("KNOWNHOSTS"),
		WorkDir:        get("WORKDIR"),
	}

	if v := get("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Inputs{}, errors.Wrapf(ErrInvalid, "%sPORT: %q is not a number", common.InputEnvPrefix, v)
		}
		in.Port = port
	}

	var err error
	if in.ScpFirst, err = envBool(get, "SCPFIRST"); err != nil {
		return Inputs{}, err
	}
	if in.StrictHostKey, err = envBool(get, "STRICTHOSTKEY"); err != nil {
		return Inputs{}, err
	}
	return in, nil
}

func envBool(get func(string) string, name string) (*bool, error) {
	v := get(name)
	if v == "" {
		return nil, nil
	}
	b, err := ParseBool(v)
	if err != nil {
		return nil, errors.WithMessage(err, common.InputEnvPrefix+name)
	}
	return &b, nil
}

// ParseBool accepts true|True|TRUE|false|False|FALSE.
func ParseBool(s string) (bool, error) {
	switch s {
	case "true", "True", "TRUE":
		return true, nil
	case "false", "False", "FALSE":
		return false, nil
	}
	return false, errors.Wrapf(ErrInvalid, "%q is not a boolean (expected true or false)", s)
}

// SplitLines splits a multiline input, trimming each line and dropping
// blank ones.
func SplitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
