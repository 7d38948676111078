package supervisor

import (
	"regexp"

	"github.com/jpequegn/taskly/internal/taskerr"
)

// dangerousPatterns is the blocklist of known-destructive shell idioms
// spec.md §4.2 requires pre-validation against: recursive root deletion,
// privilege-elevation combined with destructive commands, shell
// substitution around destructive commands, and piping downloaded content
// straight into a shell.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`rm\s+(-[a-zA-Z]*r[a-zA-Z]*f[a-zA-Z]*|-[a-zA-Z]*f[a-zA-Z]*r[a-zA-Z]*)\s+/(\s|$)`),
	regexp.MustCompile(`rm\s+(-[a-zA-Z]*r[a-zA-Z]*f[a-zA-Z]*|-[a-zA-Z]*f[a-zA-Z]*r[a-zA-Z]*)\s+/\*`),
	regexp.MustCompile(`rm\s+(-[a-zA-Z]*r[a-zA-Z]*f[a-zA-Z]*|-[a-zA-Z]*f[a-zA-Z]*r[a-zA-Z]*)\s+~`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`),
	regexp.MustCompile(`sudo\s+rm\s+-[a-zA-Z]*r`),
	regexp.MustCompile(`sudo\s+dd\s+.*of=/dev/`),
	regexp.MustCompile(`mkfs\.\w+\s+/dev/`),
	regexp.MustCompile("`[^`]*rm\\s+-[a-zA-Z]*r[a-zA-Z]*`"),
	regexp.MustCompile(`\$\([^)]*rm\s+-[a-zA-Z]*r[a-zA-Z]*[^)]*\)`),
	regexp.MustCompile(`(curl|wget)\s+[^|]*\|\s*(sudo\s+)?(sh|bash|zsh|python\d?)\b`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]\b`),
	regexp.MustCompile(`chmod\s+-R\s+000\s+/`),
}

// chainOperatorPattern detects chained shell operators permitted by
// spec.md §4.2 but surfaced as a warning.
var chainOperatorPattern = regexp.MustCompile("(&&|\\|\\||[;|]|`|\\$\\()")

// ValidateCommand rejects known-dangerous commands outright (no process is
// ever spawned for a match) and reports chained shell operators as a
// non-fatal warning string.
func ValidateCommand(command string) (warning string, err error) {
	for _, pattern := range dangerousPatterns {
		if pattern.MatchString(command) {
			return "", taskerr.New(taskerr.KindCommandInjection, map[string]any{"command": command})
		}
	}
	if chainOperatorPattern.MatchString(command) {
		return "command contains chained shell operators", nil
	}
	return "", nil
}
