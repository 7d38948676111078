// Package cmd implements taskly's CLI surface: flag parsing, config
// discovery, and wiring a validated ExecuteOptions + TaskConfig batch into
// internal/scheduler (spec.md §6). This is one of the "out of scope
// collaborators" spec.md §1 treats as external: the core scheduler knows
// nothing about cobra, viper, or the config file schema.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpequegn/taskly/internal/color"
	"github.com/jpequegn/taskly/internal/config"
	"github.com/jpequegn/taskly/internal/scheduler"
	"github.com/jpequegn/taskly/internal/taskerr"
)

const version = "0.1.0"

// maxPrefixNameWidth bounds the {name} field of the default prefix template
// so a long npm script name can't push an output line past a typical
// 80-column terminal before the command's own output even starts.
const maxPrefixNameWidth = 24

var (
	cfgFile             string
	namesFlag           []string
	colorsFlag          []string
	pmFlag              string
	pmFlagAlias         string
	killOthersFlag      bool
	maxConcurrencyFlag  int
	verboseFlag         bool
	logger              *slog.Logger
	exitCode            int
	interrupted         atomic.Bool
	activeSchedulerSlot atomic.Pointer[scheduler.Scheduler]
)

var rootCmd = &cobra.Command{
	Use:   "taskly [flags] <command> [<command> ...]",
	Short: "Run multiple shell commands concurrently with one multiplexed terminal",
	Long: `taskly runs a batch of shell commands concurrently, multiplexing their
live output onto one terminal with per-task color-coded prefixes, and
enforces concurrency, dependency, retry, timeout, and kill-others policies.

Example:
  taskly "npm run build" "npm run test"
  taskly -k -m 2 "npm run watch:css" "npm run watch:js"`,
	Version:      version,
	Args:         cobra.ArbitraryArgs,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLogger()
	},
	RunE: runBatch,
}

func init() {
	rootCmd.Flags().StringSliceVarP(&namesFlag, "names", "n", nil, "override task identifiers (comma-separated); count must equal commands")
	rootCmd.Flags().StringSliceVarP(&colorsFlag, "colors", "c", nil, "override task colors (comma-separated); count must equal commands")
	rootCmd.Flags().StringVarP(&pmFlag, "package-manager", "p", "", "preferred package manager (npm, yarn, pnpm, bun)")
	rootCmd.Flags().StringVar(&pmFlagAlias, "pm", "", "alias for --package-manager")
	rootCmd.Flags().BoolVarP(&killOthersFlag, "kill-others-on-fail", "k", false, "terminate every other task once one fails permanently")
	rootCmd.Flags().IntVarP(&maxConcurrencyFlag, "max-concurrency", "m", 0, "maximum number of tasks running concurrently (0 = unlimited)")
	rootCmd.Flags().BoolVarP(&verboseFlag, "verbose", "V", false, "emit statistics and warnings to stderr")
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "path to a configuration file")
}

// Execute runs the root command and returns the process exit code spec.md
// §6 specifies (0 success, 1 failure, 130 SIGINT).
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if exitCode == 0 {
			exitCode = 1
		}
	}
	if interrupted.Load() {
		return 130
	}
	return exitCode
}

// StopActive forwards an OS signal to whichever Scheduler is currently
// executing a batch, letting cmd/taskly's signal handler request a
// graceful stop without reaching into scheduler internals directly.
func StopActive(sig syscall.Signal) {
	interrupted.Store(true)
	if s := activeSchedulerSlot.Load(); s != nil {
		s.Stop(sig)
	}
}

func initLogger() {
	level := slog.LevelInfo
	if verboseFlag {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger = slog.New(handler)
	slog.SetDefault(logger)
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cwd, err := os.Getwd()
	if err != nil {
		exitCode = 1
		return err
	}

	env := config.LoadEnvOverrides()
	configPath := cfgFile
	if configPath == "" {
		configPath = env.ConfigPath
	}

	fileCfg, usedPath, err := config.Load(cwd, configPath)
	if err != nil {
		exitCode = 1
		return err
	}
	if usedPath != "" {
		slog.Debug("using configuration file", "path", usedPath)
	}

	preferredPM := pmFlag
	if preferredPM == "" {
		preferredPM = pmFlagAlias
	}

	cli := config.CLIOverrides{
		Names:            namesFlag,
		Colors:           colorsFlag,
		PackageManager:   preferredPM,
		KillOthersOnFail: killOthersFlag,
		Verbose:          verboseFlag,
		ConfigPath:       cfgFile,
	}
	if maxConcurrencyFlag > 0 {
		cli.MaxConcurrency = &maxConcurrencyFlag
	}

	var tasks []scheduler.TaskConfig
	var opts scheduler.ExecuteOptions
	var verbose bool

	switch {
	case len(args) > 0:
		merged, err := config.Resolve(args, fileCfg, env, cli)
		if err != nil {
			exitCode = 1
			return err
		}
		tasks, opts, verbose = merged.Tasks, merged.Options, merged.Verbose
	case fileCfg != nil && len(fileCfg.Tasks) > 0:
		merged, err := config.Resolve(nil, fileCfg, env, cli)
		if err != nil {
			exitCode = 1
			return err
		}
		tasks, opts, verbose = config.ResolveFromFileTasks(fileCfg), merged.Options, merged.Verbose
	default:
		exitCode = 1
		return taskerr.New(taskerr.KindValidation, map[string]any{"message": "no commands given on the command line or in a config file's tasks map"})
	}

	sched := scheduler.New(color.WithMaxNameWidth(maxPrefixNameWidth))
	activeSchedulerSlot.Store(sched)
	defer activeSchedulerSlot.Store(nil)

	stopPresenter := startPresenter(sched, verbose)
	defer stopPresenter()

	if warning, lockErr := watchLockfileForLongRuns(cwd, sched); lockErr == nil {
		defer warning()
	}

	results, err := sched.Execute(ctx, tasks, opts)
	if err != nil {
		exitCode = 1
		return err
	}

	printSummary(results)

	failed := 0
	for _, r := range results {
		if r.ExitCode != 0 {
			failed++
		}
	}
	if failed > 0 {
		exitCode = 1
	}
	return nil
}

// watchLockfileForLongRuns wires internal/config's fsnotify lockfile watch
// into this run's event stream (SPEC_FULL.md §1): a long `maxConcurrency`
// batch that spawns package-manager tasks should not keep silently using
// a stale PM resolution if the lockfile changes underneath it.
func watchLockfileForLongRuns(cwd string, sched *scheduler.Scheduler) (func(), error) {
	return config.WatchLockfile(cwd, func(name string) {
		sched.Events.Publish(scheduler.Event{
			Type:      scheduler.EventTaskPmResolutionWarning,
			Timestamp: time.Now(),
			Payload:   fmt.Sprintf("%s changed during execution; a future run may resolve a different package manager", name),
		})
	})
}
