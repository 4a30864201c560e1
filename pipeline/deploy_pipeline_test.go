package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mensylisir/sshdeploy/common"
	"github.com/mensylisir/sshdeploy/config"
	"github.com/mensylisir/sshdeploy/connector"
	"github.com/mensylisir/sshdeploy/logger"
	"github.com/mensylisir/sshdeploy/pipeline/ending"
)

type fakeConn struct {
	mu        sync.Mutex
	events    []string
	closes    int
	exitCode  int
	execPanic bool
	uploadErr error
	// statRemote answers StatRemote; nil means the path does not exist.
	statRemote func(path string) (os.FileInfo, error)
}

func (c *fakeConn) record(e string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *fakeConn) Exec(_ context.Context, cmd string) ([]byte, []byte, int, error) {
	if c.execPanic {
		panic("exec exploded")
	}
	c.record("exec " + cmd)
	return []byte("ok\n"), nil, c.exitCode, nil
}

func (c *fakeConn) UploadFiles(_ context.Context, transfers []connector.Transfer) error {
	for _, t := range transfers {
		c.record("file " + t.LocalPath + " -> " + t.RemotePath)
	}
	return c.uploadErr
}

func (c *fakeConn) UploadDirectory(_ context.Context, local, remote string, opts connector.DirectoryOptions) error {
	if !opts.Recursive {
		c.record("flat dir " + local + " -> " + remote)
	} else {
		c.record("dir " + local + " -> " + remote)
	}
	return c.uploadErr
}

func (c *fakeConn) StatRemote(_ context.Context, path string) (os.FileInfo, error) {
	if c.statRemote != nil {
		return c.statRemote(path)
	}
	return nil, os.ErrNotExist
}

func (c *fakeConn) MkDirAll(context.Context, string, os.FileMode) error {
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

type fakeDialer struct {
	conn  *fakeConn
	err   error
	dials int
	got   connector.Config
}

func (d *fakeDialer) Dial(_ context.Context, cfg connector.Config) (connector.Connection, error) {
	d.dials++
	d.got = cfg
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

func newSourceFS(t *testing.T) billy.Filesystem {
	t.Helper()
	fs := memfs.New()
	require.NoError(t, fs.MkdirAll("/tmp/dir1", 0755))
	require.NoError(t, util.WriteFile(fs, "/tmp/a.txt", []byte("a"), 0644))
	require.NoError(t, util.WriteFile(fs, "/tmp/dir1/b.txt", []byte("b"), 0644))
	return fs
}

func baseConfig() config.Config {
	return config.Config{
		Host:        "example.com",
		Port:        22,
		Username:    "deploy",
		Password:    "pw",
		Commands:    []string{"cd /srv", "./restart.sh"},
		SourceFiles: []string{"/tmp/a.txt", "/tmp/dir1"},
		TargetDir:   "/srv",
		WorkDir:     "/",
	}
}

func runPipeline(t *testing.T, cfg config.Config, d *fakeDialer) Result {
	t.Helper()
	p, err := NewDeployPipeline(cfg, WithDialer(d), WithFilesystem(newSourceFS(t)), WithRunID("test-run"))
	require.NoError(t, err)
	return p.Run(context.Background())
}

func TestDeployPipeline_PhaseOrder(t *testing.T) {
	uploads := []string{
		"dir /tmp/dir1 -> /srv",
		"file /tmp/a.txt -> /srv/a.txt",
	}
	exec := "exec cd /srv && ./restart.sh"

	tests := []struct {
		name     string
		scpFirst bool
		want     []string
	}{
		{name: "upload first", scpFirst: true, want: append(append([]string{}, uploads...), exec)},
		{name: "exec first", scpFirst: false, want: append([]string{exec}, uploads...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			cfg.ScpFirst = tt.scpFirst
			d := &fakeDialer{conn: &fakeConn{}}

			res := runPipeline(t, cfg, d)
			require.NoError(t, res.Err)
			assert.True(t, res.Success())
			assert.Equal(t, common.StateDone, res.State)
			assert.Equal(t, "test-run", res.RunID)
			assert.Equal(t, tt.want, d.conn.events)
			assert.Equal(t, 1, d.dials)
			assert.Equal(t, 1, d.conn.closes)
		})
	}
}

func TestDeployPipeline_BothPhasesAlwaysRun(t *testing.T) {
	t.Run("failing command still uploads", func(t *testing.T) {
		d := &fakeDialer{conn: &fakeConn{exitCode: 3}}
		res := runPipeline(t, baseConfig(), d)

		assert.False(t, res.Success())
		assert.Equal(t, common.StateFailed, res.State)
		assert.True(t, errors.Is(res.Err, ErrCommand))
		assert.Contains(t, res.Err.Error(), "exited with status 3")
		assert.Len(t, d.conn.events, 3)
		assert.Equal(t, 1, d.conn.closes)

		require.Len(t, res.Phases, 2)
		assert.Equal(t, ending.ResultFailed, res.Phases[0].Status)
		assert.Equal(t, ending.ResultSuccess, res.Phases[1].Status)
	})

	t.Run("failing upload still executes", func(t *testing.T) {
		cfg := baseConfig()
		cfg.ScpFirst = true
		d := &fakeDialer{conn: &fakeConn{uploadErr: errors.New("disk full")}}
		res := runPipeline(t, cfg, d)

		assert.False(t, res.Success())
		assert.True(t, errors.Is(res.Err, ErrUpload))
		assert.False(t, errors.Is(res.Err, ErrCommand))
		assert.Equal(t, []string{"dir /tmp/dir1 -> /srv", "exec cd /srv && ./restart.sh"}, d.conn.events)
		assert.Equal(t, 1, d.conn.closes)
	})
}

func TestDeployPipeline_PanicStillCloses(t *testing.T) {
	d := &fakeDialer{conn: &fakeConn{execPanic: true}}
	res := runPipeline(t, baseConfig(), d)

	assert.False(t, res.Success())
	assert.True(t, errors.Is(res.Err, ErrUnexpected))
	assert.Equal(t, 1, d.conn.closes)
	require.Len(t, res.Phases, 2)
	assert.True(t, res.Phases[0].IsFailed())
	assert.Equal(t, ending.ResultSuccess, res.Phases[1].Status)
}

func TestDeployPipeline_DialFailure(t *testing.T) {
	d := &fakeDialer{err: errors.New("connection refused")}
	res := runPipeline(t, baseConfig(), d)

	assert.False(t, res.Success())
	assert.True(t, errors.Is(res.Err, ErrConnection))
	assert.Contains(t, res.Err.Error(), "connection refused")
	assert.Empty(t, res.Phases)
	assert.Equal(t, common.StateFailed, res.State)
	assert.Equal(t, 1, d.dials)
}

func TestDeployPipeline_SkippedPhases(t *testing.T) {
	cfg := baseConfig()
	cfg.Commands = nil
	cfg.SourceFiles = nil
	d := &fakeDialer{conn: &fakeConn{}}

	res := runPipeline(t, cfg, d)
	assert.True(t, res.Success())
	assert.Empty(t, d.conn.events)
	assert.Equal(t, 1, d.conn.closes)
	for _, p := range res.Phases {
		assert.Equal(t, ending.ResultSkipped, p.Status, p.Name)
	}
}

func TestDeployPipeline_UploadOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		sources    []string
		targetDir  string
		wantStatus ending.ResultStatus
		wantKind   error
	}{
		{name: "missing target dir", sources: []string{"/tmp/a.txt"}, wantStatus: ending.ResultFailed, wantKind: ErrUpload},
		{name: "no matches", sources: []string{"/nowhere/*.txt"}, targetDir: "/srv", wantStatus: ending.ResultSuccess},
		{name: "bad pattern", sources: []string{"/tmp/[a"}, targetDir: "/srv", wantStatus: ending.ResultFailed, wantKind: ErrUpload},
		{name: "relative pattern", sources: []string{"tmp/*.txt"}, targetDir: "/srv", wantStatus: ending.ResultSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			cfg.Commands = nil
			cfg.SourceFiles = tt.sources
			cfg.TargetDir = tt.targetDir
			d := &fakeDialer{conn: &fakeConn{}}

			res := runPipeline(t, cfg, d)
			require.Len(t, res.Phases, 2)
			upload := res.Phases[1]
			assert.Equal(t, common.PhaseUpload, upload.Name)
			assert.Equal(t, tt.wantStatus, upload.Status)
			if tt.wantKind != nil {
				assert.True(t, errors.Is(res.Err, tt.wantKind))
			} else {
				assert.NoError(t, res.Err)
			}
			assert.Equal(t, 1, d.conn.closes)
		})
	}
}

func TestDeployPipeline_ConnectorConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *config.Config)
		check  func(t *testing.T, cc connector.Config)
	}{
		{
			name: "password wins over key",
			mutate: func(c *config.Config) {
				c.PrivateKey = "PEM"
				c.PrivateKeyPath = "/k"
			},
			check: func(t *testing.T, cc connector.Config) {
				assert.Equal(t, "pw", cc.Password)
				assert.Empty(t, cc.PrivateKey)
				assert.Empty(t, cc.KeyFile)
			},
		},
		{
			name: "inline key",
			mutate: func(c *config.Config) {
				c.Password = ""
				c.PrivateKey = "PEM"
				c.PrivateKeyPath = "/k"
				c.Passphrase = "phrase"
			},
			check: func(t *testing.T, cc connector.Config) {
				assert.Empty(t, cc.Password)
				assert.Equal(t, "PEM", cc.PrivateKey)
				assert.Empty(t, cc.KeyFile)
				assert.Equal(t, "phrase", cc.Passphrase)
			},
		},
		{
			name: "key file",
			mutate: func(c *config.Config) {
				c.Password = ""
				c.PrivateKeyPath = "/k"
			},
			check: func(t *testing.T, cc connector.Config) {
				assert.Equal(t, "/k", cc.KeyFile)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(&cfg)
			d := &fakeDialer{conn: &fakeConn{}}
			runPipeline(t, cfg, d)

			assert.Equal(t, "example.com", d.got.Address)
			assert.Equal(t, "deploy", d.got.Username)
			tt.check(t, d.got)
		})
	}
}

func TestRegistry(t *testing.T) {
	err := Register(common.PhaseExec, NewExecPhase)
	assert.EqualError(t, err, "phase with name 'exec' already registered")

	_, err = NewPhase("download", baseConfig(), nil)
	assert.EqualError(t, err, "phase with name 'download' not found in registry")
}

func TestDeployPipeline_NestedDirectoryUploadedOnce(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, fs.MkdirAll("/tmp/dir1/sub", 0755))
	require.NoError(t, util.WriteFile(fs, "/tmp/dir1/b.txt", []byte("b"), 0644))
	require.NoError(t, util.WriteFile(fs, "/tmp/dir1/sub/c.txt", []byte("c"), 0644))

	cfg := baseConfig()
	cfg.Commands = nil
	cfg.SourceFiles = []string{"/tmp/dir1"}
	d := &fakeDialer{conn: &fakeConn{}}

	p, err := NewDeployPipeline(cfg, WithDialer(d), WithFilesystem(fs), WithRunID("nested"))
	require.NoError(t, err)
	res := p.Run(context.Background())

	require.NoError(t, res.Err)
	assert.Equal(t, []string{"dir /tmp/dir1 -> /srv"}, d.conn.events)
}

func TestDeployPipeline_RemoteTargetCheck(t *testing.T) {
	localFile := filepath.Join(t.TempDir(), "target")
	require.NoError(t, os.WriteFile(localFile, []byte("x"), 0600))
	fileInfo, err := os.Stat(localFile)
	require.NoError(t, err)
	dirInfo, err := os.Stat(t.TempDir())
	require.NoError(t, err)

	tests := []struct {
		name        string
		stat        func(string) (os.FileInfo, error)
		wantFailed  bool
		wantUploads int
		wantMessage string
	}{
		{
			name:        "missing target is created",
			stat:        func(string) (os.FileInfo, error) { return nil, os.ErrNotExist },
			wantUploads: 2,
		},
		{
			name:        "existing directory",
			stat:        func(string) (os.FileInfo, error) { return dirInfo, nil },
			wantUploads: 2,
		},
		{
			name:        "target is a file",
			stat:        func(string) (os.FileInfo, error) { return fileInfo, nil },
			wantFailed:  true,
			wantMessage: "unusable target directory",
		},
		{
			name:        "stat fails",
			stat:        func(string) (os.FileInfo, error) { return nil, errors.New("permission denied") },
			wantFailed:  true,
			wantMessage: "unusable target directory",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			cfg.ScpFirst = true
			d := &fakeDialer{conn: &fakeConn{statRemote: tt.stat}}

			res := runPipeline(t, cfg, d)
			require.Len(t, res.Phases, 2)
			upload := res.Phases[0]
			assert.Equal(t, tt.wantFailed, upload.IsFailed())
			assert.Equal(t, tt.wantFailed, errors.Is(res.Err, ErrUpload))
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, upload.Message)
			}
			// the exec phase runs regardless
			assert.Len(t, d.conn.events, tt.wantUploads+1)
			assert.Equal(t, "exec cd /srv && ./restart.sh", d.conn.events[len(d.conn.events)-1])
		})
	}
}

func TestUploadPhase_DirectoryCountOnlyAtDebug(t *testing.T) {
	tests := []struct {
		name      string
		level     logrus.Level
		wantCount bool
	}{
		{name: "info", level: logrus.InfoLevel, wantCount: false},
		{name: "debug", level: logrus.DebugLevel, wantCount: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, hook := logtest.NewNullLogger()
			l.SetLevel(tt.level)
			orig := logger.Log
			logger.Log = &logger.XMLog{Logger: l}
			t.Cleanup(func() { logger.Log = orig })

			d := &fakeDialer{conn: &fakeConn{}}
			res := runPipeline(t, baseConfig(), d)
			require.NoError(t, res.Err)

			var counted bool
			for _, e := range hook.AllEntries() {
				if e.Message == "/tmp/dir1 holds 1 files" {
					counted = true
				}
			}
			assert.Equal(t, tt.wantCount, counted)
		})
	}
}
