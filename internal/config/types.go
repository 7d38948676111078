// Package config loads and merges taskly's configuration from CLI flags,
// a discovered config file, environment variables, and defaults, in that
// precedence order (spec.md §6). It is one of the "out of scope
// collaborators" spec.md §1 names: the Scheduler only ever consumes a
// validated ExecuteOptions plus a TaskConfig slice, never this package's
// types directly.
package config

// TaskSpec is one entry of a config file's `tasks` map (spec.md §6 schema).
type TaskSpec struct {
	Command        string `mapstructure:"command" yaml:"command" json:"command"`
	Identifier     string `mapstructure:"identifier" yaml:"identifier" json:"identifier"`
	Color          string `mapstructure:"color" yaml:"color" json:"color"`
	PackageManager string `mapstructure:"packageManager" yaml:"packageManager" json:"packageManager"`
	Cwd            string `mapstructure:"cwd" yaml:"cwd" json:"cwd"`
}

// OptionsConfig is the config file's nested `options` block.
type OptionsConfig struct {
	Verbose bool `mapstructure:"verbose" yaml:"verbose" json:"verbose"`
}

// FileConfig is the top-level schema spec.md §6 documents for
// `taskly.config.{json,yaml,yml}` / `.tasklyrc.*` / the package.json
// `taskly` key. Fields absent from this struct are unknown keys and are
// rejected (spec.md §9 "implementations should reject unknown keys with
// ConfigError rather than silently ignoring them").
type FileConfig struct {
	PackageManager   string              `mapstructure:"packageManager" yaml:"packageManager" json:"packageManager"`
	KillOthersOnFail bool                `mapstructure:"killOthersOnFail" yaml:"killOthersOnFail" json:"killOthersOnFail"`
	MaxConcurrency   int                 `mapstructure:"maxConcurrency" yaml:"maxConcurrency" json:"maxConcurrency"`
	Colors           []string            `mapstructure:"colors" yaml:"colors" json:"colors"`
	Options          OptionsConfig       `mapstructure:"options" yaml:"options" json:"options"`
	Tasks            map[string]TaskSpec `mapstructure:"tasks" yaml:"tasks" json:"tasks"`
}

// knownTopLevelKeys is the closed schema spec.md §6 documents. A config
// file (or package.json `taskly` block) naming any other top-level key is
// a ConfigError, not a silently-ignored typo.
var knownTopLevelKeys = map[string]bool{
	"packagemanager":   true,
	"killothersonfail": true,
	"maxconcurrency":   true,
	"colors":           true,
	"options":          true,
	"tasks":            true,
}

// EnvOverrides is the set of values spec.md §6 allows to be supplied via
// TASKLY_* environment variables, read independently of the file-based
// FileConfig since they also cover the positional-command CLI surface
// (--names, --colors) that has no analogue in the config-file schema.
type EnvOverrides struct {
	PackageManager   string
	KillOthersOnFail *bool
	MaxConcurrency   *int
	Verbose          *bool
	ConfigPath       string
	Colors           []string
	Names            []string
}
