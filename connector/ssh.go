package connector

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/mensylisir/sshdeploy/common"
	"github.com/mensylisir/sshdeploy/file"
	"github.com/mensylisir/sshdeploy/logger"
)

type Config struct {
	Username   string
	Password   string
	Address    string
	Port       int
	PrivateKey string
	KeyFile    string
	Passphrase string
	// AgentSocket is a unix socket path, or "env:NAME" to read the path
	// from an environment variable. Used only when no password or key is set.
	AgentSocket string
	Timeout     time.Duration
	Bastion     string
	BastionPort int
	BastionUser string
	// StrictHostKey verifies the server against KnownHostsPath
	// (~/.ssh/known_hosts when empty) instead of accepting any host key.
	StrictHostKey  bool
	KnownHostsPath string
	// LocalFS is read for uploads. Defaults to the OS filesystem.
	LocalFS billy.Filesystem
}

// Endpoint is the host:port of the target.
func (c Config) Endpoint() string {
	return net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}

const socketEnvPrefix = "env:"

var _ Connection = (*connection)(nil)

type connection struct {
	mu            sync.Mutex
	sftpclient    *sftp.Client
	sshclient     *ssh.Client
	bastionclient *ssh.Client
	config        Config
	localFS       billy.Filesystem

	connCtx    context.Context
	connCancel context.CancelFunc

	agentSocketConn net.Conn
}

// NewConnection dials cfg and opens an SFTP subsystem on the session.
// Exactly one credential is offered: the password when set, otherwise the
// private key, otherwise the agent.
func NewConnection(ctx context.Context, cfg Config) (Connection, error) {
	var err error
	cfg, err = validateConfig(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to validate ssh connection parameters")
	}

	conn := &connection{config: cfg, localFS: cfg.LocalFS}

	authMethods, err := conn.authMethods()
	if err != nil {
		return nil, err
	}

	hostKeyCB, err := hostKeyCallback(cfg)
	if err != nil {
		conn.cleanupAgentSocket()
		return nil, err
	}

	targetHost := cfg.Address
	targetPort := cfg.Port
	effectiveUser := cfg.Username
	if cfg.Bastion != "" {
		targetHost = cfg.Bastion
		targetPort = cfg.BastionPort
		effectiveUser = cfg.BastionUser
	}
	endpoint := net.JoinHostPort(targetHost, strconv.Itoa(targetPort))

	client, err := dialClient(ctx, endpoint, &ssh.ClientConfig{
		User:            effectiveUser,
		Timeout:         cfg.Timeout,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCB,
	})
	if err != nil {
		conn.cleanupAgentSocket()
		return nil, errors.Wrapf(err, "could not establish connection to %s", endpoint)
	}

	if cfg.Bastion != "" {
		endpointBehindBastion := cfg.Endpoint()
		connToTarget, dialErr := client.Dial("tcp", endpointBehindBastion)
		if dialErr != nil {
			_ = client.Close()
			conn.cleanupAgentSocket()
			return nil, errors.Wrapf(dialErr, "could not establish connection to target %s via bastion", endpointBehindBastion)
		}

		ncc, chans, reqs, clientConnErr := ssh.NewClientConn(connToTarget, endpointBehindBastion, &ssh.ClientConfig{
			User:            cfg.Username,
			Timeout:         cfg.Timeout,
			Auth:            authMethods,
			HostKeyCallback: hostKeyCB,
		})
		if clientConnErr != nil {
			_ = connToTarget.Close()
			_ = client.Close()
			conn.cleanupAgentSocket()
			return nil, errors.Wrapf(clientConnErr, "failed to create new SSH client connection to %s via bastion", endpointBehindBastion)
		}
		conn.bastionclient = client
		client = ssh.NewClient(ncc, chans, reqs)
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		_ = client.Close()
		if conn.bastionclient != nil {
			_ = conn.bastionclient.Close()
		}
		conn.cleanupAgentSocket()
		return nil, errors.Wrap(err, "failed to create SFTP client")
	}

	conn.sshclient = client
	conn.sftpclient = sftpClient
	conn.connCtx, conn.connCancel = context.WithCancel(context.Background())

	logger.Log.DebugfHost(cfg.Address, "connected to %s as %s", cfg.Endpoint(), cfg.Username)
	return conn, nil
}

// dialClient honours ctx while connecting and bounds the handshake by the
// client timeout.
func dialClient(ctx context.Context, endpoint string, sshConfig *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: sshConfig.Timeout}
	netConn, err := d.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, err
	}
	if sshConfig.Timeout > 0 {
		_ = netConn.SetDeadline(time.Now().Add(sshConfig.Timeout))
	}
	c, chans, reqs, err := ssh.NewClientConn(netConn, endpoint, sshConfig)
	if err != nil {
		_ = netConn.Close()
		return nil, err
	}
	_ = netConn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

func (c *connection) authMethods() ([]ssh.AuthMethod, error) {
	cfg := c.config
	switch {
	case cfg.Password != "":
		return []ssh.AuthMethod{ssh.Password(cfg.Password)}, nil
	case cfg.PrivateKey != "":
		signer, err := parseSigner([]byte(cfg.PrivateKey), cfg.Passphrase)
		if err != nil {
			return nil, errors.Wrap(err, "the given SSH key could not be parsed")
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}

	addr := cfg.AgentSocket
	if strings.HasPrefix(addr, socketEnvPrefix) {
		envName := strings.TrimPrefix(addr, socketEnvPrefix)
		if envAddr := os.Getenv(envName); envAddr != "" {
			addr = envAddr
		} else {
			logger.Log.Warnf("SSH Agent environment variable %s not found, using original socket string %s", envName, addr)
		}
	}

	var err error
	c.agentSocketConn, err = net.Dial("unix", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open SSH agent socket %q", addr)
	}
	signers, err := agent.NewClient(c.agentSocketConn).Signers()
	if err != nil {
		c.cleanupAgentSocket()
		return nil, errors.Wrap(err, "error when creating signer for SSH agent")
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signers...)}, nil
}

// parseSigner parses a PEM private key, decrypting it with passphrase when
// one is given.
func parseSigner(pemBytes []byte, passphrase string) (ssh.Signer, error) {
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(pemBytes, []byte(passphrase))
	}
	s, err := ssh.ParsePrivateKey(pemBytes)
	if err == nil {
		return s, nil
	}
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		return nil, errors.New("private key is encrypted; provide a passphrase")
	}
	return nil, err
}

func hostKeyCallback(cfg Config) (ssh.HostKeyCallback, error) {
	if !cfg.StrictHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := cfg.KnownHostsPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.Wrap(err, "cannot locate known_hosts")
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "known_hosts file not found at %s and strict host key checking is enabled", path)
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load known_hosts %s", path)
	}
	return cb, nil
}

func (c *connection) cleanupAgentSocket() {
	if c.agentSocketConn != nil {
		_ = c.agentSocketConn.Close()
		c.agentSocketConn = nil
	}
}

func validateConfig(cfg Config) (Config, error) {
	if len(cfg.Username) == 0 {
		return cfg, errors.New("no username specified for SSH connection")
	}
	if len(cfg.Address) == 0 {
		return cfg, errors.New("no address specified for SSH connection")
	}
	if len(cfg.Password) == 0 && len(cfg.PrivateKey) == 0 && len(cfg.KeyFile) == 0 && len(cfg.AgentSocket) == 0 {
		return cfg, errors.New("must specify at least one of password, private key, keyfile or agent socket")
	}

	if len(cfg.Password) == 0 && len(cfg.PrivateKey) == 0 && len(cfg.KeyFile) > 0 {
		content, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return cfg, errors.Wrapf(err, "failed to read keyfile %q", cfg.KeyFile)
		}
		cfg.PrivateKey = string(content)
	}

	if cfg.Port <= 0 {
		cfg.Port = common.DefaultSSHPort
	}
	if cfg.Bastion != "" {
		if cfg.BastionPort <= 0 {
			cfg.BastionPort = common.DefaultSSHPort
		}
		if cfg.BastionUser == "" {
			cfg.BastionUser = cfg.Username
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = common.DefaultSSHTimeout
	}
	if cfg.LocalFS == nil {
		cfg.LocalFS = file.NewOSFilesystem()
	}
	return cfg, nil
}

// Close releases every client and socket the connection holds.
// Calling it again is a no-op.
func (c *connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sshclient == nil && c.sftpclient == nil && c.agentSocketConn == nil {
		return nil
	}

	if c.connCancel != nil {
		c.connCancel()
	}

	var msgs []string
	if c.sftpclient != nil {
		if err := c.sftpclient.Close(); err != nil {
			msgs = append(msgs, "sftp close error: "+err.Error())
		}
		c.sftpclient = nil
	}
	if c.sshclient != nil {
		if err := c.sshclient.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			msgs = append(msgs, "ssh close error: "+err.Error())
		}
		c.sshclient = nil
	}
	if c.bastionclient != nil {
		if err := c.bastionclient.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			msgs = append(msgs, "bastion close error: "+err.Error())
		}
		c.bastionclient = nil
	}
	if c.agentSocketConn != nil {
		if err := c.agentSocketConn.Close(); err != nil {
			msgs = append(msgs, "agent socket close error: "+err.Error())
		}
		c.agentSocketConn = nil
	}
	if len(msgs) > 0 {
		return errors.New(strings.Join(msgs, "; "))
	}
	return nil
}

func (c *connection) sftpSession() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sftpclient == nil {
		return nil, errors.New("sftp client is not initialized or connection is closed")
	}
	return c.sftpclient, nil
}

func (c *connection) newSession(ctx context.Context) (*ssh.Session, error) {
	c.mu.Lock()
	client := c.sshclient
	c.mu.Unlock()

	if client == nil {
		return nil, errors.New("ssh connection is closed or not initialized")
	}

	opCtx, opCancel := context.WithCancel(ctx)
	defer opCancel()
	go func() {
		select {
		case <-c.connCtx.Done():
			opCancel()
		case <-opCtx.Done():
		}
	}()

	type result struct {
		sess *ssh.Session
		err  error
	}
	sessionDone := make(chan result, 1)
	go func() {
		s, e := client.NewSession()
		sessionDone <- result{s, e}
	}()

	select {
	case <-opCtx.Done():
		go func() {
			if r := <-sessionDone; r.sess != nil {
				_ = r.sess.Close()
			}
		}()
		return nil, errors.Wrap(opCtx.Err(), "failed to create ssh session (context cancelled)")
	case r := <-sessionDone:
		if r.err != nil {
			return nil, errors.Wrap(r.err, "failed to create ssh session")
		}
		return r.sess, nil
	}
}

func (c *connection) Exec(ctx context.Context, cmd string) (stdout []byte, stderr []byte, exitCode int, err error) {
	sess, err := c.newSession(ctx)
	if err != nil {
		return nil, nil, -1, errors.Wrap(err, "failed to create session for Exec")
	}
	defer sess.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	sess.Stdout = &stdoutBuf
	sess.Stderr = &stderrBuf

	if err := sess.Start(strings.TrimSpace(cmd)); err != nil {
		return nil, nil, -1, errors.Wrapf(err, "failed to start command: %s", cmd)
	}

	waitDone := make(chan error, 1)
	go func() {
		waitDone <- sess.Wait()
	}()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGINT)
		select {
		case <-time.After(250 * time.Millisecond):
		case <-waitDone:
		}
		_ = sess.Close()
		return nil, nil, -1, errors.Wrap(ctx.Err(), "command execution cancelled")

	case finalErr := <-waitDone:
		if finalErr == nil {
			return stdoutBuf.Bytes(), stderrBuf.Bytes(), 0, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(finalErr, &exitErr) {
			return stdoutBuf.Bytes(), stderrBuf.Bytes(), exitErr.ExitStatus(), nil
		}
		return stdoutBuf.Bytes(), stderrBuf.Bytes(), -1, errors.Wrapf(finalErr, "command did not complete: %s", cmd)
	}
}

func (c *connection) StatRemote(ctx context.Context, remotePath string) (os.FileInfo, error) {
	sftpClient, err := c.sftpSession()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := sftpClient.Stat(remotePath)
	if err != nil {
		if os.IsNotExist(err) || strings.Contains(strings.ToLower(err.Error()), "no such file") {
			return nil, os.ErrNotExist
		}
		return nil, errors.Wrapf(err, "sftp: failed to stat remote path %s", remotePath)
	}
	return info, nil
}

// MkDirAll creates remotePath and its parents. mode is applied only to a
// directory this call created.
func (c *connection) MkDirAll(ctx context.Context, remotePath string, mode os.FileMode) error {
	sftpClient, err := c.sftpSession()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if info, statErr := sftpClient.Stat(remotePath); statErr == nil {
		if !info.IsDir() {
			return errors.Errorf("remote path %s exists and is not a directory", remotePath)
		}
		return nil
	}

	if err := sftpClient.MkdirAll(remotePath); err != nil {
		return errors.Wrapf(err, "sftp: failed to create remote directory %s", remotePath)
	}
	if mode != 0 {
		if err := sftpClient.Chmod(remotePath, mode.Perm()); err != nil {
			logger.Log.Warnf("sftp: failed to chmod remote directory %s to %v: %v", remotePath, mode.Perm(), err)
		}
	}
	return nil
}
