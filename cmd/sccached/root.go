package main

import "github.com/spf13/cobra"

// newRootCommand assembles the sccached CLI: a serve subcommand running
// the daemon, and a version subcommand. Grounded on
// cmd/codefang/main.go's root command assembly, minus the malloc-tunable
// re-exec, /proc memory watchdog, and pprof debug server — those exist
// there to chase native-allocator fragmentation under large in-memory
// git-history pipelines, which a compile-cache daemon with a bounded
// worker pool and no long-lived native allocations has no analogue for.
func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "sccached",
		Short: "sccached - a compiler output caching daemon",
		Long: `sccached caches compiler output so repeated builds of the same
source can skip re-invoking the compiler entirely.

Commands:
  serve     Run the caching daemon
  version   Show version information`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newVersionCommand())

	return root
}
