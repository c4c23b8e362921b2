package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Norgate-AV/pbuild/internal/cache"
	"github.com/Norgate-AV/pbuild/internal/compiler"
	"github.com/Norgate-AV/pbuild/internal/config"
	"github.com/Norgate-AV/pbuild/internal/defines"
	"github.com/Norgate-AV/pbuild/internal/executor"
	"github.com/Norgate-AV/pbuild/internal/gitinfo"
	"github.com/Norgate-AV/pbuild/internal/packager"
	"github.com/Norgate-AV/pbuild/internal/report"
	"github.com/Norgate-AV/pbuild/internal/scanner"
	"github.com/Norgate-AV/pbuild/internal/target"
	"github.com/Norgate-AV/pbuild/internal/version"
	"github.com/Norgate-AV/pbuild/internal/watch"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build every target",
	Long: `Compile every selected target concurrently, then package the output
directories whose targets all built.`,
	RunE:         runBuild,
	SilenceUsage: true,
	Args:         cobra.NoArgs,
}

var watchCmd = &cobra.Command{
	Use:          "watch",
	Short:        "Build and rebuild on change",
	Long:         `Build every selected target, then rebuild all of them whenever a watched source changes.`,
	RunE:         runWatch,
	SilenceUsage: true,
	Args:         cobra.NoArgs,
}

func init() {
	addBuildFlags(buildCmd)
	addBuildFlags(watchCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	return run(cmd, false)
}

func runWatch(cmd *cobra.Command, args []string) error {
	return run(cmd, true)
}

func run(cmd *cobra.Command, forceWatch bool) error {
	cfg, err := config.NewLoader().LoadForBuild(cmd)
	if err != nil {
		return err
	}

	if forceWatch {
		cfg.Watch = true
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg.Verbose)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newSession(cfg, logger, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer s.Close()

	if cfg.Watch {
		return s.watch(ctx)
	}

	return s.build(ctx)
}

// session holds everything one invocation builds with
type session struct {
	cfg      *config.Config
	logger   *log.Logger
	out      io.Writer
	targets  []target.Target
	compiler compiler.Compiler
	packager *packager.Packager
	cache    *cache.Cache

	// packErr is the packaging error of the latest pass
	packErr error
}

func newSession(cfg *config.Config, logger *log.Logger, out io.Writer) (*session, error) {
	targets, err := generateTargets(cfg, logger)
	if err != nil {
		return nil, err
	}

	s := &session{
		cfg:     cfg,
		logger:  logger,
		out:     out,
		targets: targets,
		packager: &packager.Packager{
			Root:     cfg.Root,
			Outfiles: outfiles(cfg.Targets),
			Logger:   logger,
		},
	}

	s.compiler = compiler.NewESBuild(cfg.ESBuildPath, cfg.Root, cfg.SourceDir, cfg.CacheDir)
	s.enableCache()

	return s, nil
}

// enableCache wraps the compiler with the build cache. Without a pinned
// timestamp every build embeds a new one, so fingerprints never repeat.
func (s *session) enableCache() {
	switch {
	case s.cfg.NoCache:
		s.logger.Debug("Build cache disabled")
		return
	case !s.cfg.TimestampPinned:
		s.logger.Debug("Build cache skipped: SOURCE_DATE_EPOCH is not set")
		return
	}

	store, err := cache.New(s.cfg.CacheDir)
	if err != nil {
		s.logger.Warn("Build cache unavailable", "err", err)
		return
	}

	s.cache = store
	s.compiler = &cache.Cached{
		Compiler: s.compiler,
		Cache:    store,
		FS:       os.DirFS(s.cfg.Root),
		Root:     s.cfg.Root,
		Inputs:   cache.DefaultInputs,
		Salt:     fmt.Sprintf("%s\x00%s", s.cfg.ESBuildPath, version.Version),
		Logger:   s.logger,
	}
}

func (s *session) Close() {
	if s.cache != nil {
		s.cache.Close()
	}
}

// executor creates an executor that reports and packages after every pass
func (s *session) executor() *executor.Executor {
	exec := executor.New(s.compiler, s.logger, s.cfg.Jobs)
	exec.OnPass = func(ctx context.Context, r executor.Report) {
		fmt.Fprint(s.out, report.Render(r))

		// The packager logs each failed archive itself
		s.packErr = s.packager.Run(r.Results, s.cfg.Packages)
	}

	return exec
}

// build runs a single pass. Environment and duplicate-name failures abort it
// before any target compiles; watch mode instead reports them per pass.
func (s *session) build(ctx context.Context) error {
	if err := target.Verify(s.targets); err != nil {
		return err
	}

	r := s.executor().Build(ctx, s.targets)

	return errors.Join(r.Err(), s.packErr)
}

// watch runs passes until ctx is cancelled. Failed passes never end the session.
func (s *session) watch(ctx context.Context) error {
	w, err := watch.New(s.cfg.WatchConfig(), s.logger)
	if err != nil {
		return err
	}

	changes := make(chan []string)
	exec := s.executor()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return w.Run(ctx, changes)
	})

	g.Go(func() error {
		return exec.Watch(ctx, s.targets, changes)
	})

	s.logger.Info("Watching for changes", "root", s.cfg.Root)

	return g.Wait()
}

// generateTargets materializes the selected catalog entries
func generateTargets(cfg *config.Config, logger *log.Logger) ([]target.Target, error) {
	info, err := gitinfo.Lookup(cfg.Root)
	if err != nil {
		logger.Warn("Git metadata unavailable", "err", err)
	}

	logger.Debug("Build identity", "version", cfg.Version, "timestamp", cfg.Timestamp, "git", info.Hash, "remote", info.Remote)

	base, err := defines.Build(defines.Identity{
		Version:   cfg.Version,
		Timestamp: cfg.Timestamp,
		GitHash:   info.Hash,
		GitRemote: info.Remote,
	}, defines.Flags{
		Standalone:      cfg.Standalone,
		Dev:             cfg.Dev,
		Reporter:        cfg.Reporter,
		CompanionTest:   cfg.CompanionTest,
		UpdaterDisabled: cfg.UpdaterDisabled,
	})
	if err != nil {
		return nil, &config.Error{Err: err}
	}

	fsys := os.DirFS(cfg.SourceDir)

	return target.Generate(cfg.Selected(), base, target.Options{
		Watch:           cfg.Watch,
		Standalone:      cfg.Standalone,
		Dev:             cfg.Dev,
		Reporter:        cfg.Reporter,
		GOOS:            runtime.GOOS,
		External:        cfg.External,
		Inject:          cfg.Inject,
		JSXFactory:      cfg.JSXFactory,
		JSXFragment:     cfg.JSXFragment,
		SourceMapScheme: cfg.SourceMapScheme,
		SourceURLPrefix: cfg.SourceURLPrefix,
		Natives:         scanner.New(fsys, cfg.NativeRoots),
		Plugins:         scanner.New(fsys, cfg.PluginRoots),
		UserRoots:       cfg.UserRoots,
	})
}

// outfiles lists the outputs of the whole catalog, selected or not
func outfiles(specs []target.Spec) []string {
	files := make([]string, len(specs))
	for i, spec := range specs {
		files[i] = spec.Outfile
	}

	return files
}
