package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Norgate-AV/pbuild/internal/cache"
	"github.com/Norgate-AV/pbuild/internal/config"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the build cache",
}

var cacheCleanCmd = &cobra.Command{
	Use:          "clean",
	Short:        "Remove every cached build",
	RunE:         runCacheClean,
	SilenceUsage: true,
	Args:         cobra.NoArgs,
}

var cacheStatsCmd = &cobra.Command{
	Use:          "stats",
	Short:        "Show cache size",
	RunE:         runCacheStats,
	SilenceUsage: true,
	Args:         cobra.NoArgs,
}

func init() {
	cacheCmd.AddCommand(cacheCleanCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
}

func openCache(cmd *cobra.Command) (*cache.Cache, error) {
	cfg, err := config.NewLoader().LoadForBuild(cmd)
	if err != nil {
		return nil, err
	}

	return cache.New(cfg.CacheDir)
}

func runCacheClean(cmd *cobra.Command, args []string) error {
	c, err := openCache(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Clear(); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", c.Dir())

	return nil
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	c, err := openCache(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	entries, size, err := c.Stats()
	if err != nil {
		return fmt.Errorf("failed to read cache: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Directory: %s\nEntries:   %d\nSize:      %s\n", c.Dir(), entries, humanize.Bytes(uint64(size)))

	return nil
}
