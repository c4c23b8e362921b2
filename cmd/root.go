package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/Norgate-AV/pbuild/internal/codes"
	"github.com/Norgate-AV/pbuild/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "pbuild",
	Short: "Plugin bundle builder",
	Long: `Build the desktop and browser bundles of a plugin-based client.

Scans the plugin roots, generates the plugin and native registries, compiles
every target with esbuild and packages the desktop output directories.`,
	RunE:         runBuild,
	SilenceUsage: true,
	Args:         cobra.NoArgs,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(exitCode(os.Stderr, err))
	}
}

// exitCode maps err to its exit code and names the failure category on w
func exitCode(w io.Writer, err error) int {
	code := codes.ForError(err)
	fmt.Fprintf(w, "pbuild: %s (exit %d)\n", codes.GetErrorMessage(code), code)

	return code
}

func init() {
	rootCmd.Version = fmt.Sprintf("%s (%s) %s", version.Version, version.Commit, version.BuildTime)
	rootCmd.PersistentFlags().String("root", "", "Project root (defaults to the directory of .pbuild.yml)")
	rootCmd.PersistentFlags().String("esbuild", "", "Path to the esbuild executable")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")

	addBuildFlags(rootCmd)

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(pluginsCmd)
	rootCmd.AddCommand(cacheCmd)
}

// addBuildFlags declares the flags shared by build and watch
func addBuildFlags(cmd *cobra.Command) {
	cmd.Flags().BoolP("watch", "w", false, "Rebuild when sources change")
	cmd.Flags().Bool("dev", false, "Development build")
	cmd.Flags().Bool("reporter", false, "Build with the plugin reporter")
	cmd.Flags().Bool("standalone", false, "Standalone build without a pinned host platform")
	cmd.Flags().Bool("disable-updater", false, "Disable the built-in updater")
	cmd.Flags().Bool("companion-test", false, "Build for companion testing")
	cmd.Flags().String("only", "", "Comma-separated target id globs to build (e.g. desktop/*)")
	cmd.Flags().IntP("jobs", "j", 0, "Maximum concurrent compilations (0 is unbounded)")
	cmd.Flags().Bool("no-cache", false, "Disable build cache")
}

// newLogger creates the diagnostic logger. Logs go to w; reports go to stdout.
func newLogger(w io.Writer, verbose bool) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{
		Prefix: "pbuild",
	})

	if verbose {
		logger.SetLevel(log.DebugLevel)
	}

	return logger
}
