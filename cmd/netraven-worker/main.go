// Command netraven-worker runs the job orchestration core: the
// scheduler reconciling enabled jobs against their timers, a pool of
// workers consuming the resulting queue, and the Runner/Dispatcher/
// Executor chain each consumed job drives.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/netraven-io/netraven-core/pkg/util"
)

// errInfraError marks a failure in a dependency the command couldn't
// reach (database, Redis) rather than a usage mistake, so main can map
// it to a distinct exit code operators can alert on.
var errInfraError = errors.New("netraven-worker: infrastructure error")

var (
	configPath string
	verbose    bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "netraven-worker",
		Short:         "Run the NetRaven job orchestration core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newTriggerCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	})
	return root
}

const version = "0.1.0"

func setLogLevel() {
	if verbose {
		_ = util.SetLogLevel("debug")
	} else {
		_ = util.SetLogLevel("info")
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errInfraError) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
