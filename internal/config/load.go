package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jpequegn/taskly/internal/pm"
	"github.com/jpequegn/taskly/internal/taskerr"
)

// configFileCandidates is the fixed discovery order from spec.md §6:
// taskly.config.{json,yaml,yml,js,mjs} then .tasklyrc.{…}.
var configFileCandidates = []string{
	"taskly.config.json", "taskly.config.yaml", "taskly.config.yml",
	"taskly.config.js", "taskly.config.mjs",
	".tasklyrc.json", ".tasklyrc.yaml", ".tasklyrc.yml",
	".tasklyrc.js", ".tasklyrc.mjs",
}

// Discover finds the first matching config file candidate in cwd,
// following spec.md §6's fixed precedence order.
func Discover(cwd string) (string, bool) {
	for _, name := range configFileCandidates {
		path := filepath.Join(cwd, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}

// Load resolves the effective file-based configuration for cwd: an
// explicit path takes precedence over auto-discovery; absent both, the
// package.json `taskly` key is consulted (spec.md §6). Returns a nil
// *FileConfig with no error when no configuration source exists at all —
// that is not itself an error, defaults simply apply.
func Load(cwd string, explicitPath string) (*FileConfig, string, error) {
	path := explicitPath
	if path == "" {
		if discovered, ok := Discover(cwd); ok {
			path = discovered
		}
	}

	if path == "" {
		cfg, ok, err := loadFromPackageJSON(cwd)
		if err != nil {
			return nil, "", err
		}
		if ok {
			return cfg, filepath.Join(cwd, "package.json"), nil
		}
		return nil, "", nil
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "js" || ext == "mjs" {
		return nil, "", taskerr.New(taskerr.KindConfig, map[string]any{
			"message": fmt.Sprintf("JS config files require a Node.js host; run `taskly --config <file>.json` instead (got %s)", path),
		})
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", taskerr.Wrap(taskerr.KindConfig, err, map[string]any{"message": "reading config file " + path})
	}

	raw, err := decodeRaw(ext, data)
	if err != nil {
		return nil, "", taskerr.Wrap(taskerr.KindConfig, err, map[string]any{"message": "parsing config file " + path})
	}
	if err := rejectUnknownKeys(raw); err != nil {
		return nil, "", err
	}

	v := viper.New()
	v.SetConfigType(viperConfigType(ext))
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, "", taskerr.Wrap(taskerr.KindConfig, err, map[string]any{"message": "parsing config file " + path})
	}

	var cfg FileConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", taskerr.Wrap(taskerr.KindConfig, err, map[string]any{"message": "decoding config file " + path})
	}
	return &cfg, path, nil
}

// viperConfigType maps a file extension to the config type name viper
// expects ("yml" and "yaml" are both "yaml" to viper).
func viperConfigType(ext string) string {
	if ext == "yml" {
		return "yaml"
	}
	return ext
}

// decodeRaw parses file content into a plain map for the unknown-key
// check, using encoding/json for .json and yaml.v3 for .yaml/.yml —
// spec.md §9's "restricted YAML subset" is enforced by validating the
// decoded structure against the documented schema, not by restricting the
// parser (see DESIGN.md open-question resolution).
func decodeRaw(ext string, data []byte) (map[string]any, error) {
	raw := make(map[string]any)
	switch ext {
	case "json":
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q", ext)
	}
	return raw, nil
}

func rejectUnknownKeys(raw map[string]any) error {
	for k := range raw {
		if !knownTopLevelKeys[strings.ToLower(k)] {
			return taskerr.New(taskerr.KindConfig, map[string]any{
				"message": fmt.Sprintf("unrecognized configuration key %q", k),
			})
		}
	}
	return nil
}

// loadFromPackageJSON falls back to the `taskly` key inside cwd's
// package.json when no dedicated config file exists (spec.md §6).
func loadFromPackageJSON(cwd string) (*FileConfig, bool, error) {
	raw, ok, err := pm.TasklyConfigFromPackageJSON(cwd)
	if err != nil {
		return nil, false, taskerr.Wrap(taskerr.KindConfig, err, map[string]any{"message": "reading package.json"})
	}
	if !ok {
		return nil, false, nil
	}

	var asMap map[string]any
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return nil, false, taskerr.Wrap(taskerr.KindConfig, err, map[string]any{"message": "parsing package.json taskly key"})
	}
	if err := rejectUnknownKeys(asMap); err != nil {
		return nil, false, err
	}

	var cfg FileConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, false, taskerr.Wrap(taskerr.KindConfig, err, map[string]any{"message": "decoding package.json taskly key"})
	}
	return &cfg, true, nil
}

// LoadEnvOverrides reads the TASKLY_* environment variables spec.md §6
// enumerates. CSV-valued variables (TASKLY_COLORS, TASKLY_NAMES) are split
// on commas with surrounding whitespace trimmed per entry.
func LoadEnvOverrides() EnvOverrides {
	var overrides EnvOverrides
	overrides.PackageManager = os.Getenv("TASKLY_PACKAGE_MANAGER")
	overrides.ConfigPath = os.Getenv("TASKLY_CONFIG")

	if v, ok := os.LookupEnv("TASKLY_KILL_OTHERS_ON_FAIL"); ok {
		b := parseBoolLoose(v)
		overrides.KillOthersOnFail = &b
	}
	if v, ok := os.LookupEnv("TASKLY_MAX_CONCURRENCY"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			overrides.MaxConcurrency = &n
		}
	}
	if v, ok := os.LookupEnv("TASKLY_VERBOSE"); ok {
		b := parseBoolLoose(v)
		overrides.Verbose = &b
	}
	if v, ok := os.LookupEnv("TASKLY_COLORS"); ok {
		overrides.Colors = splitCSV(v)
	}
	if v, ok := os.LookupEnv("TASKLY_NAMES"); ok {
		overrides.Names = splitCSV(v)
	}
	return overrides
}

func parseBoolLoose(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
