// Command corestore is the CLI surface over the core components: a
// long-running worker that drains the async request queue (serve), the
// blobstore generation migrator (migrate), and a one-shot mark/delete
// GC pass (gc). Grounded on cmd/rpcdaemon/main.go's cobra root-command
// shape, stripped of the RPC-server-specific plumbing this module has
// no use for.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/scmcore/corestore/internal/xlog"
)

var rootCmd = &cobra.Command{
	Use:   "corestore",
	Short: "corestore core-storage CLI",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		xlog.Default().Error(err.Error())
		os.Exit(1)
	}
}
