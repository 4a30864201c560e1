package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/go-git/go-billy/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mensylisir/sshdeploy/common"
	"github.com/mensylisir/sshdeploy/config"
	"github.com/mensylisir/sshdeploy/connector"
	"github.com/mensylisir/sshdeploy/file"
	"github.com/mensylisir/sshdeploy/pipeline/ending"
	"github.com/mensylisir/sshdeploy/transfer"
)

func init() {
	mustRegister(common.PhaseUpload, NewUploadPhase)
}

// UploadPhase resolves the configured source patterns and copies the
// matches under the target directory.
type UploadPhase struct {
	patterns  []string
	targetDir string
	workDir   string
	localFS   billy.Filesystem
}

func NewUploadPhase(cfg config.Config, localFS billy.Filesystem) Phase {
	return &UploadPhase{
		patterns:  cfg.SourceFiles,
		targetDir: cfg.TargetDir,
		workDir:   cfg.WorkDir,
		localFS:   localFS,
	}
}

func (p *UploadPhase) Name() string {
	return common.PhaseUpload
}

func (p *UploadPhase) Execute(ctx context.Context, conn connector.Connection, log *logrus.Entry) *ending.Result {
	result := ending.NewResult(p.Name())
	if len(p.patterns) == 0 {
		result.Skip("no source files configured")
		return result
	}
	if p.targetDir == "" {
		result.SetError(newError(ErrUpload, errors.New("targetDir is required when sourceFiles are set")), "no target directory")
		return result
	}

	if ok, err := file.PathExists(p.localFS, p.workDir); err == nil && !ok {
		log.Warnf("Work dir %s does not exist; relative patterns will not match", p.workDir)
	}

	paths, err := file.NewResolver(p.localFS, p.workDir).Resolve(p.patterns)
	if err != nil {
		result.AddError(newError(ErrUpload, err))
		return result
	}

	plan := transfer.NewPlanner(file.NewClassifier(p.localFS)).Plan(paths, p.targetDir)
	if plan.Empty() {
		log.Warnf("No local files matched %v", p.patterns)
		result.Succeed("nothing to upload")
		return result
	}
	log.Debugf("Resolved %d paths into %d directories and %d files", len(paths), len(plan.Directories), len(plan.Files))

	if err := checkRemoteTarget(ctx, conn, p.targetDir, log); err != nil {
		result.SetError(newError(ErrUpload, err), "unusable target directory")
		return result
	}

	for _, d := range plan.Directories {
		log.Infof("Uploading directory %s to %s", d.LocalPath, d.RemoteRoot)
		if log.Logger.IsLevelEnabled(logrus.DebugLevel) {
			if n, err := file.CountDirFiles(p.localFS, d.LocalPath); err != nil {
				log.Debugf("Could not count files under %s: %v", d.LocalPath, err)
			} else {
				log.Debugf("%s holds %d files", d.LocalPath, n)
			}
		}
		if err := conn.UploadDirectory(ctx, d.LocalPath, d.RemoteRoot, connector.DirectoryOptions{Recursive: true}); err != nil {
			result.AddError(newError(ErrUpload, errors.Wrapf(err, "failed to upload directory %s", d.LocalPath)))
			return result
		}
	}

	if len(plan.Files) > 0 {
		transfers := make([]connector.Transfer, 0, len(plan.Files))
		for _, f := range plan.Files {
			transfers = append(transfers, connector.Transfer{LocalPath: f.LocalPath, RemotePath: f.RemotePath})
		}
		log.Infof("Uploading %d files to %s", len(transfers), p.targetDir)
		if err := conn.UploadFiles(ctx, transfers); err != nil {
			result.AddError(newError(ErrUpload, err))
			return result
		}
	}

	result.Succeed(fmt.Sprintf("uploaded %d directories and %d files", len(plan.Directories), len(plan.Files)))
	return result
}

// checkRemoteTarget accepts a missing target, which the upload creates, or
// an existing directory.
func checkRemoteTarget(ctx context.Context, conn connector.Connection, targetDir string, log *logrus.Entry) error {
	info, err := conn.StatRemote(ctx, targetDir)
	switch {
	case err == nil && !info.IsDir():
		return errors.Errorf("remote target %s exists and is not a directory", targetDir)
	case err == nil:
		return nil
	case errors.Is(err, os.ErrNotExist):
		log.Debugf("Remote target %s does not exist yet and will be created", targetDir)
		return nil
	default:
		return errors.Wrapf(err, "failed to inspect remote target %s", targetDir)
	}
}
