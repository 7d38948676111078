package config

import (
	"sort"

	"github.com/jpequegn/taskly/internal/pm"
	"github.com/jpequegn/taskly/internal/scheduler"
	"github.com/jpequegn/taskly/internal/taskerr"
)

// CLIOverrides carries the subset of recognized flags (spec.md §6) that can
// override file/env/defaults. A nil pointer means "flag not passed";
// plain bools are on/off switches with no "explicitly false" state, which
// matches how -k/--kill-others-on-fail is documented (enable only).
type CLIOverrides struct {
	Names            []string
	Colors           []string
	PackageManager   string
	KillOthersOnFail bool
	MaxConcurrency   *int
	Verbose          bool
	ConfigPath       string
}

// Merged is the fully-resolved input ready to hand to Scheduler.Execute.
type Merged struct {
	Tasks   []scheduler.TaskConfig
	Options scheduler.ExecuteOptions
	Verbose bool
}

// Resolve merges CLI flags, a file-based FileConfig (may be nil), env
// overrides, and scheduler defaults, in that precedence order (spec.md
// §6), and binds the result to the positional commands passed on the CLI.
func Resolve(commands []string, file *FileConfig, env EnvOverrides, cli CLIOverrides) (*Merged, error) {
	if cli.ConfigPath != "" {
		// handled by the caller before Load(); present here only so CLI
		// precedence over TASKLY_CONFIG is documented at the merge site.
		env.ConfigPath = cli.ConfigPath
	}

	opts := scheduler.DefaultExecuteOptions()

	if file != nil {
		opts.KillOthersOnFail = file.KillOthersOnFail
		if file.MaxConcurrency > 0 {
			opts.MaxConcurrency = file.MaxConcurrency
		}
	}

	if env.KillOthersOnFail != nil && (file == nil || !file.KillOthersOnFail) {
		opts.KillOthersOnFail = *env.KillOthersOnFail
	}
	if env.MaxConcurrency != nil && (file == nil || file.MaxConcurrency <= 0) {
		opts.MaxConcurrency = *env.MaxConcurrency
	}

	if cli.KillOthersOnFail {
		opts.KillOthersOnFail = true
	}
	if cli.MaxConcurrency != nil {
		opts.MaxConcurrency = *cli.MaxConcurrency
	}

	verbose := cli.Verbose
	if env.Verbose != nil {
		verbose = verbose || *env.Verbose
	}
	if file != nil && file.Options.Verbose {
		verbose = verbose || file.Options.Verbose
	}

	preferredPM := cli.PackageManager
	if preferredPM == "" && file != nil {
		preferredPM = file.PackageManager
	}
	if preferredPM == "" {
		preferredPM = env.PackageManager
	}

	names := cli.Names
	if len(names) == 0 {
		names = env.Names
	}
	colors := cli.Colors
	if len(colors) == 0 && file != nil {
		colors = file.Colors
	}
	if len(colors) == 0 {
		colors = env.Colors
	}

	if len(names) != 0 && len(names) != len(commands) {
		return nil, taskerr.New(taskerr.KindConfig, map[string]any{
			"message": "--names count must equal the number of commands",
		})
	}
	if len(colors) != 0 && len(colors) != len(commands) {
		return nil, taskerr.New(taskerr.KindConfig, map[string]any{
			"message": "--colors count must equal the number of commands",
		})
	}

	tasks := make([]scheduler.TaskConfig, len(commands))
	for i, command := range commands {
		t := scheduler.TaskConfig{Command: command, PackageManager: pm.Manager(preferredPM)}
		if len(names) != 0 {
			t.Identifier = names[i]
		}
		if len(colors) != 0 {
			t.Color = colors[i]
		}
		tasks[i] = t
	}

	return &Merged{Tasks: tasks, Options: opts, Verbose: verbose}, nil
}

// ResolveFromFileTasks builds a task batch from a config file's `tasks`
// map instead of positional CLI commands. Map iteration order isn't
// guaranteed, so tasks are sorted by identifier for a deterministic batch
// ordering across runs.
func ResolveFromFileTasks(file *FileConfig) []scheduler.TaskConfig {
	names := make([]string, 0, len(file.Tasks))
	for name := range file.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	tasks := make([]scheduler.TaskConfig, 0, len(names))
	for _, name := range names {
		spec := file.Tasks[name]
		identifier := spec.Identifier
		if identifier == "" {
			identifier = name
		}
		tasks = append(tasks, scheduler.TaskConfig{
			Command:        spec.Command,
			Identifier:     identifier,
			Color:          spec.Color,
			PackageManager: pm.Manager(spec.PackageManager),
			Cwd:            spec.Cwd,
		})
	}
	return tasks
}
