package scheduler

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/jpequegn/taskly/internal/pm"
	"github.com/jpequegn/taskly/internal/taskerr"
)

var identifierSanitizer = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// prepareBatch validates tasks, trims their commands, fills in derived
// identifiers, and returns the prepared copy (spec.md §4.1 "Batch
// preparation" steps 1-2).
func prepareBatch(tasks []TaskConfig) ([]TaskConfig, error) {
	if len(tasks) == 0 {
		return nil, taskerr.New(taskerr.KindValidation, map[string]any{"message": "task batch is empty"})
	}

	prepared := make([]TaskConfig, len(tasks))
	for i, t := range tasks {
		trimmed := strings.TrimSpace(t.Command)
		if trimmed == "" {
			return nil, taskerr.New(taskerr.KindValidation, map[string]any{
				"message": "task command must not be empty",
			})
		}
		t.Command = trimmed

		if t.Identifier == "" {
			t.Identifier = deriveIdentifier(trimmed, i)
		}
		prepared[i] = t
	}
	if err := checkDuplicateIdentifiers(prepared); err != nil {
		return nil, err
	}
	return prepared, nil
}

// checkDuplicateIdentifiers rejects a batch containing two tasks with the
// same identifier (spec.md §3 "identifiers are unique"). Shared by
// prepareBatch (pre-expansion) and resolveAndExpand's caller (post-
// expansion, since wildcard expansion can mint new identifiers).
func checkDuplicateIdentifiers(tasks []TaskConfig) error {
	seen := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if seen[t.Identifier] {
			return taskerr.New(taskerr.KindValidation, map[string]any{
				"message": "duplicate task identifier: " + t.Identifier,
			})
		}
		seen[t.Identifier] = true
	}
	return nil
}

// pmWarning pairs a non-fatal package-manager-resolution or wildcard-
// expansion warning with the task identifier it concerns, so Execute can
// publish it as a task:pm-resolution-warning event once the event bus is
// live (spec.md §4.1 step 3, §4.3 "ignoreMissing ... skipped with a
// warning").
type pmWarning struct {
	identifier string
	message    string
}

// resolveAndExpand resolves every task's package manager, rewrites its
// command, and expands any `<pm> run <pattern>` wildcard into one concrete
// task per matching package.json script — synchronously, during batch
// preparation, before any child is ever spawned (spec.md §4.1 step 3
// "invoke PackageManagerResolver to confirm availability", §4.3 "Script
// wildcards"). A PmNotFound/PmDetectionFailed for a task that requested a
// package manager, or a wildcard-expansion failure, aborts the whole batch
// (spec.md §7: "abort Execute ... without leaving live children") —
// synchronous resolution guarantees that no child has spawned yet when such
// a failure is discovered. A task that requested no package manager and
// gets no resolution keeps its command as written.
func resolveAndExpand(ctx context.Context, resolver *pm.Resolver, tasks []TaskConfig) ([]TaskConfig, map[string][]string, []pmWarning, error) {
	var expanded []TaskConfig
	var warnings []pmWarning
	originToClones := make(map[string][]string, len(tasks))

	for _, t := range tasks {
		cwd := cwdOrDot(t.Cwd)

		resolution, err := resolver.Resolve(ctx, t.PackageManager, cwd)
		if err != nil && t.PackageManager != "" {
			return nil, nil, nil, err
		}
		if err == nil {
			t.PackageManager = resolution.Manager
			if resolution.Warning != "" {
				warnings = append(warnings, pmWarning{identifier: t.Identifier, message: resolution.Warning})
			}
			t.Command = pm.RewriteCommand(resolution.Manager, t.Command)
		}

		commands, skipWarnings, err := pm.ExpandWildcards(t.Command, cwd, false)
		if err != nil {
			return nil, nil, nil, err
		}
		for _, w := range skipWarnings {
			warnings = append(warnings, pmWarning{identifier: t.Identifier, message: w})
		}

		clones := make([]string, 0, len(commands))
		for i, cmd := range commands {
			clone := t
			clone.Command = cmd
			if len(commands) > 1 {
				clone.Identifier = expandedIdentifier(t.Identifier, i)
			}
			clones = append(clones, clone.Identifier)
			expanded = append(expanded, clone)
		}
		originToClones[t.Identifier] = clones
	}
	return expanded, originToClones, warnings, nil
}

// expandedIdentifier derives a unique identifier for the i-th concrete
// command a wildcard task expanded into.
func expandedIdentifier(base string, index int) string {
	return base + "-" + itoa(index)
}

// translateDependencyEdges rewrites dependency edges declared against
// pre-expansion identifiers onto the expanded task identifiers: a
// dependent of an expanded task depends on every one of its clones, and an
// expanded dependent inherits its original's dependencies on every clone
// of each of them (spec.md §3 "Dependency edge"). Identifiers that never
// expanded pass through unchanged.
func translateDependencyEdges(edges []DependencyEdge, originToClones map[string][]string) []DependencyEdge {
	if len(edges) == 0 {
		return edges
	}
	translated := make([]DependencyEdge, 0, len(edges))
	for _, edge := range edges {
		clones, ok := originToClones[edge.Identifier]
		if !ok {
			clones = []string{edge.Identifier}
		}
		var deps []string
		for _, dep := range edge.DependsOn {
			if depClones, ok := originToClones[dep]; ok {
				deps = append(deps, depClones...)
			} else {
				deps = append(deps, dep)
			}
		}
		for _, cloneID := range clones {
			translated = append(translated, DependencyEdge{Identifier: cloneID, DependsOn: append([]string(nil), deps...)})
		}
	}
	return translated
}

// deriveIdentifier builds `<sanitized-first-token>-<index>`, keeping only
// alphanumerics from the command's first token (spec.md §4.1 step 2).
func deriveIdentifier(command string, index int) string {
	firstToken := command
	if idx := strings.IndexByte(command, ' '); idx >= 0 {
		firstToken = command[:idx]
	}
	sanitized := identifierSanitizer.ReplaceAllString(firstToken, "")
	if sanitized == "" {
		sanitized = "task"
	}
	return sanitized + "-" + itoa(index)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// buildDependencyGraph builds forward (id -> dependsOn) and reverse
// (id -> dependents) adjacency maps, validating that every referenced
// identifier exists in the batch (spec.md §3 "Dependency edge" invariant).
func buildDependencyGraph(ids map[string]bool, edges []DependencyEdge) (dependsOn map[string][]string, dependents map[string][]string, err error) {
	dependsOn = make(map[string][]string)
	dependents = make(map[string][]string)
	for _, edge := range edges {
		if !ids[edge.Identifier] {
			return nil, nil, taskerr.New(taskerr.KindValidation, map[string]any{
				"message": "dependency edge references unknown task: " + edge.Identifier,
			})
		}
		for _, dep := range edge.DependsOn {
			if !ids[dep] {
				return nil, nil, taskerr.New(taskerr.KindValidation, map[string]any{
					"message": "dependency edge references unknown task: " + dep,
				})
			}
			dependsOn[edge.Identifier] = append(dependsOn[edge.Identifier], dep)
			dependents[dep] = append(dependents[dep], edge.Identifier)
		}
	}
	return dependsOn, dependents, nil
}

// color used during cycle detection DFS.
type dfsColor int

const (
	white dfsColor = iota
	gray
	black
)

// detectCycle runs a DFS coloring cycle check over the dependsOn graph,
// returning a ValidationError on any back-edge (spec.md §3, §4.1 step 5).
func detectCycle(order []string, dependsOn map[string][]string) error {
	colors := make(map[string]dfsColor, len(order))
	var visit func(id string) error
	visit = func(id string) error {
		colors[id] = gray
		for _, dep := range dependsOn[id] {
			switch colors[dep] {
			case gray:
				return taskerr.New(taskerr.KindValidation, map[string]any{
					"message": "dependency cycle detected involving " + id + " -> " + dep,
				})
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		colors[id] = black
		return nil
	}
	for _, id := range order {
		if colors[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// topologicalOrder returns a deterministic, submission-index-stable
// topological ordering (spec.md §4.1 step 6).
func topologicalOrder(order []string, dependsOn map[string][]string) []string {
	indexOf := make(map[string]int, len(order))
	for i, id := range order {
		indexOf[id] = i
	}

	depthCache := make(map[string]int)
	var depth func(id string) int
	depth = func(id string) int {
		if d, ok := depthCache[id]; ok {
			return d
		}
		depthCache[id] = 0 // cycle guard; cycles are rejected before this runs
		max := 0
		for _, dep := range dependsOn[id] {
			if d := depth(dep) + 1; d > max {
				max = d
			}
		}
		depthCache[id] = max
		return max
	}

	result := append([]string(nil), order...)
	sort.SliceStable(result, func(i, j int) bool {
		di, dj := depth(result[i]), depth(result[j])
		if di != dj {
			return di < dj
		}
		return indexOf[result[i]] < indexOf[result[j]]
	})
	return result
}
