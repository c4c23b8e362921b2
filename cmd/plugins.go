package cmd

import (
	"fmt"
	"io/fs"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/Norgate-AV/pbuild/internal/config"
	"github.com/Norgate-AV/pbuild/internal/report"
	"github.com/Norgate-AV/pbuild/internal/scanner"
	"github.com/Norgate-AV/pbuild/internal/virtual"
)

var pluginsCmd = &cobra.Command{
	Use:          "plugins",
	Short:        "List discovered plugins",
	Long:         `Scan the plugin roots and list every plugin with its native companion and user status.`,
	RunE:         runPlugins,
	SilenceUsage: true,
	Args:         cobra.NoArgs,
}

func runPlugins(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader().LoadForBuild(cmd)
	if err != nil {
		return err
	}

	plugins, err := listPlugins(os.DirFS(cfg.SourceDir), cfg)
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), report.Plugins(plugins))

	return nil
}

// listPlugins scans the registry and native roots of fsys
func listPlugins(fsys fs.FS, cfg *config.Config) ([]report.Plugin, error) {
	natives, err := scanner.New(fsys, cfg.NativeRoots).Natives()
	if err != nil {
		return nil, err
	}

	native := make(map[string]bool, len(natives))
	for _, mod := range natives {
		native[mod.Entry.Path()] = true
	}

	s := scanner.New(fsys, cfg.PluginRoots)

	var plugins []report.Plugin
	for entry, err := range s.Entries() {
		if err != nil {
			return nil, err
		}

		if !virtual.IsPlugin(entry) {
			continue
		}

		name, err := s.ResolveName(entry)
		if err != nil {
			return nil, err
		}

		plugins = append(plugins, report.Plugin{
			Name:   name,
			Path:   entry.Path(),
			Native: native[entry.Path()],
			User:   slices.Contains(cfg.UserRoots, entry.Root),
		})
	}

	return plugins, nil
}
