package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mensylisir/sshdeploy/common"
)

// Execute runs the root command with os.Args and exits non-zero on failure.
// SIGINT and SIGTERM cancel the run; the session is still closed.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, NewRootCmd(), os.Stdout, os.Stderr)
	stop()
	if code != 0 {
		exitFunc(code)
	}
}

func execute(ctx context.Context, root *cobra.Command, stdout, stderr io.Writer) int {
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(stderr, "Error:", err)
		if v, _ := lookupEnv(common.GitHubActionsEnv); v == "true" {
			_, _ = fmt.Fprintf(stdout, "::error::%s\n", escapeAnnotation(err.Error()))
		}
		return 1
	}
	return 0
}

// escapeAnnotation encodes the characters the Actions runner treats as
// workflow command syntax.
func escapeAnnotation(s string) string {
	return strings.NewReplacer("%", "%25", "\r", "%0D", "\n", "%0A").Replace(s)
}
