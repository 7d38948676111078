// Package pm implements PackageManagerResolver: detection of an available
// package manager, lockfile-based fallback, command rewriting, and
// script-wildcard expansion (spec.md §4.3).
package pm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jpequegn/taskly/internal/taskerr"
)

// Manager is one of the four supported package managers.
type Manager string

const (
	NPM  Manager = "npm"
	Yarn Manager = "yarn"
	PNPM Manager = "pnpm"
	Bun  Manager = "bun"
)

// Source describes why a particular Manager was chosen.
type Source string

const (
	SourcePreferred Source = "preferred"
	SourceLockfile  Source = "lockfile"
	SourceFallback  Source = "fallback"
)

// lockfilePrecedence is the fixed detection order from spec.md §4.3.
var lockfilePrecedence = []struct {
	file    string
	manager Manager
}{
	{"package-lock.json", NPM},
	{"npm-shrinkwrap.json", NPM},
	{"yarn.lock", Yarn},
	{"pnpm-lock.yaml", PNPM},
	{"bun.lockb", Bun},
}

// subcommandsRewritten is the set of script-ish leading tokens that trigger
// a PM-prefixed rewrite (spec.md §4.3 "Command rewriting").
var subcommandsRewritten = []string{
	"run ", "exec ", "install", "add ", "remove ", "uninstall", "update ",
	"upgrade ", "audit", "test", "start", "build", "dev", "serve", "lint",
	"format",
}

// AvailabilityChecker probes whether a Manager executable is reachable on
// PATH. Extracted as a field so tests can stub it without touching PATH.
type AvailabilityChecker func(ctx context.Context, m Manager) bool

// Resolver resolves an effective command for a task given its configuration.
type Resolver struct {
	checkAvailable AvailabilityChecker
}

// NewResolver builds a Resolver using a real `<pm> --version` probe.
func NewResolver() *Resolver {
	return &Resolver{checkAvailable: execAvailabilityCheck}
}

// NewResolverWithChecker builds a Resolver with a custom availability
// checker, used by tests to avoid depending on what's actually on PATH.
func NewResolverWithChecker(checker AvailabilityChecker) *Resolver {
	return &Resolver{checkAvailable: checker}
}

func execAvailabilityCheck(ctx context.Context, m Manager) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, string(m), "--version")
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd.Run() == nil
}

// Resolution is the outcome of resolving one task's package manager.
type Resolution struct {
	Manager Manager
	Source  Source
	Warning string // non-fatal lockfile-conflict warning, empty if none
}

// Resolve implements spec.md §4.3's detection order: preferred → lockfile
// → npm fallback → PmNotFound.
func (r *Resolver) Resolve(ctx context.Context, preferred Manager, cwd string) (*Resolution, error) {
	if preferred != "" {
		if r.checkAvailable(ctx, preferred) {
			res := &Resolution{Manager: preferred, Source: SourcePreferred}
			if lockMgr, ok := lockfileManager(cwd); ok && lockMgr != preferred {
				res.Warning = fmt.Sprintf("lockfile suggests %s but task requested %s", lockMgr, preferred)
			}
			return res, nil
		}
		return nil, taskerr.New(taskerr.KindPmNotFound, map[string]any{"packageManager": preferred})
	}

	if lockMgr, ok := lockfileManager(cwd); ok && r.checkAvailable(ctx, lockMgr) {
		return &Resolution{Manager: lockMgr, Source: SourceLockfile}, nil
	}

	if r.checkAvailable(ctx, NPM) {
		return &Resolution{Manager: NPM, Source: SourceFallback}, nil
	}

	return nil, taskerr.New(taskerr.KindPmNotFound, map[string]any{"packageManager": "any"})
}

// lockfileManager inspects cwd for the first lockfile in precedence order.
func lockfileManager(cwd string) (Manager, bool) {
	for _, entry := range lockfilePrecedence {
		if _, err := os.Stat(filepath.Join(cwd, entry.file)); err == nil {
			return entry.manager, true
		}
	}
	return "", false
}

// RewriteCommand prefixes command with the resolved manager's executable
// when command begins with a recognized PM subcommand; otherwise it is
// returned unchanged. This is a fixed point: calling RewriteCommand again
// on an already-rewritten command is a no-op, since the rewritten form no
// longer begins with one of subcommandsRewritten (it begins with the PM
// executable name).
func RewriteCommand(manager Manager, command string) string {
	trimmed := strings.TrimSpace(command)
	for _, prefix := range subcommandsRewritten {
		if strings.HasPrefix(trimmed, prefix) || trimmed == strings.TrimSpace(prefix) {
			return string(manager) + " " + trimmed
		}
	}
	return command
}

// ExpandWildcards expands `<pm> run <pattern>` where pattern contains `*`
// into one concrete command per matching script name in cwd/package.json,
// returned in alphabetical order (spec.md §4.3 "Script wildcards"). A
// command that isn't a `run` invocation, or whose pattern has no `*`,
// passes through unchanged as a single-element slice.
func ExpandWildcards(command, cwd string, ignoreMissing bool) ([]string, []string, error) {
	const marker = " run "
	idx := strings.Index(command, marker)
	if idx < 0 {
		return []string{command}, nil, nil
	}
	prefix := command[:idx+len(marker)]
	pattern := strings.TrimSpace(command[idx+len(marker):])
	if !strings.Contains(pattern, "*") {
		return []string{command}, nil, nil
	}

	scripts, err := readPackageScripts(cwd)
	if err != nil {
		return nil, nil, err
	}

	var matches []string
	for name := range scripts {
		if matchesGlob(pattern, name) {
			matches = append(matches, name)
		}
	}
	sort.Strings(matches)

	if len(matches) == 0 {
		if ignoreMissing {
			return nil, []string{fmt.Sprintf("no script matched pattern %q; skipping", pattern)}, nil
		}
		return nil, nil, taskerr.New(taskerr.KindValidation, map[string]any{
			"message": fmt.Sprintf("no script in package.json matched pattern %q", pattern),
		})
	}

	commands := make([]string, 0, len(matches))
	for _, name := range matches {
		commands = append(commands, prefix+name)
	}
	return commands, nil, nil
}

// matchesGlob implements the single-wildcard substring matching spec.md
// §4.3 specifies: `*` is the only wildcard and matches any substring.
func matchesGlob(pattern, name string) bool {
	parts := strings.Split(pattern, "*")
	pos := 0
	for i, part := range parts {
		if part == "" {
			continue
		}
		idx := strings.Index(name[pos:], part)
		if idx < 0 {
			return false
		}
		if i == 0 && idx != 0 {
			return false
		}
		pos += idx + len(part)
	}
	if len(parts) > 0 && parts[len(parts)-1] != "" && !strings.HasSuffix(name, parts[len(parts)-1]) {
		return false
	}
	return true
}

func readPackageScripts(cwd string) (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(cwd, "package.json"))
	if err != nil {
		return nil, taskerr.Wrap(taskerr.KindValidation, err, map[string]any{"message": "reading package.json"})
	}
	var pkg struct {
		Scripts map[string]string `json:"scripts"`
		Taskly  json.RawMessage   `json:"taskly"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, taskerr.Wrap(taskerr.KindValidation, err, map[string]any{"message": "parsing package.json"})
	}
	return pkg.Scripts, nil
}

// TasklyConfigFromPackageJSON extracts the `taskly` key from package.json,
// if present, for the config loader (spec.md §6).
func TasklyConfigFromPackageJSON(cwd string) (json.RawMessage, bool, error) {
	data, err := os.ReadFile(filepath.Join(cwd, "package.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var pkg struct {
		Taskly json.RawMessage `json:"taskly"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, false, err
	}
	if len(pkg.Taskly) == 0 {
		return nil, false, nil
	}
	return pkg.Taskly, true, nil
}
