package supervisor

import (
	"fmt"
	"os"
	"strings"
)

// scrubbedNames are dynamic loader/runtime injection hooks spec.md §4.2
// requires scrubbing from the child's environment to reduce ambient-
// authority surprises — preload hooks and Node's own option-injection
// variable.
var scrubbedNames = map[string]bool{
	"LD_PRELOAD":        true,
	"LD_LIBRARY_PATH":   true,
	"DYLD_INSERT_LIBRARIES": true,
	"DYLD_LIBRARY_PATH": true,
	"NODE_OPTIONS":      true,
}

// BuildEnv merges the parent environment with overlay, scrubs dynamic
// injection hooks, and appends the per-child TASKLY_* bindings spec.md §6
// specifies.
func BuildEnv(overlay map[string]string, taskID, command, cwd string, pmName string, colorName string, ansiCode string) []string {
	merged := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := splitEnv(kv)
		if !ok || scrubbedNames[k] {
			continue
		}
		merged[k] = v
	}
	for k, v := range overlay {
		if scrubbedNames[k] {
			continue
		}
		merged[k] = v
	}

	merged["TASKLY_TASK_ID"] = taskID
	merged["TASKLY_TASK_COMMAND"] = command
	merged["TASKLY_TASK_CWD"] = cwd
	if pmName != "" {
		merged["TASKLY_PACKAGE_MANAGER"] = pmName
	}
	if colorName != "" {
		merged["TASKLY_TASK_COLOR"] = colorName
		merged["TASKLY_TASK_ANSI_CODE"] = ansiCode
	}

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

func splitEnv(kv string) (key, value string, ok bool) {
	idx := strings.IndexByte(kv, '=')
	if idx < 0 {
		return "", "", false
	}
	return kv[:idx], kv[idx+1:], true
}
