// Package color implements ColorFormatter: stable per-task color
// assignment, SGR/24-bit line formatting, and prefix templating
// (spec.md §4.4).
package color

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"text/template"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/width"

	"github.com/jpequegn/taskly/internal/taskerr"
)

// defaultPalette is the ordered set of named colors cycled through as new
// task identifiers are registered, mirroring the ANSI name set bashful's
// mgutz/ansi equivalent exposes (standard + bright variants).
var defaultPalette = []string{
	"cyan", "yellow", "green", "magenta", "blue", "red",
	"brightCyan", "brightYellow", "brightGreen", "brightMagenta", "brightBlue", "brightRed",
}

// namedColors maps the predefined palette names to lipgloss-understood
// ANSI color values (16-color SGR codes, standard + bright).
var namedColors = map[string]lipgloss.Color{
	"black":         lipgloss.Color("0"),
	"red":           lipgloss.Color("1"),
	"green":         lipgloss.Color("2"),
	"yellow":        lipgloss.Color("3"),
	"blue":          lipgloss.Color("4"),
	"magenta":       lipgloss.Color("5"),
	"cyan":          lipgloss.Color("6"),
	"white":         lipgloss.Color("7"),
	"brightBlack":   lipgloss.Color("8"),
	"brightRed":     lipgloss.Color("9"),
	"brightGreen":   lipgloss.Color("10"),
	"brightYellow":  lipgloss.Color("11"),
	"brightBlue":    lipgloss.Color("12"),
	"brightMagenta": lipgloss.Color("13"),
	"brightCyan":    lipgloss.Color("14"),
	"brightWhite":   lipgloss.Color("15"),
}

var hexPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
var rgbPattern = regexp.MustCompile(`^rgb\(\s*(\d{1,3})\s*,\s*(\d{1,3})\s*,\s*(\d{1,3})\s*\)$`)

// registration holds the resolved style for one task identifier.
type registration struct {
	name  string
	style lipgloss.Style
}

// Formatter assigns stable colors to task identifiers and renders prefixed
// output lines. It never writes to streams directly (spec.md §4.4).
type Formatter struct {
	mu sync.Mutex

	palette       []string
	next          int
	registered    map[string]*registration
	order         []string
	colorSupport  bool
	prefixTmpl    *template.Template
	prefixTmplSrc string
	maxNameWidth  int
}

// Option configures a Formatter at construction time.
type Option func(*Formatter)

// WithPalette overrides the default cycling palette of named colors.
func WithPalette(palette []string) Option {
	return func(f *Formatter) { f.palette = palette }
}

// WithPrefixTemplate overrides the default `[{name}]` prefix template with
// one supporting the {index}/{pid}/{time}/{command}/{name} placeholders
// (spec.md §4.4).
func WithPrefixTemplate(tmplSrc string) Option {
	return func(f *Formatter) {
		f.prefixTmplSrc = tmplSrc
	}
}

// WithMaxNameWidth bounds the {name} field of a rendered prefix to at most
// n visual columns, truncating longer task names so a long identifier never
// pushes an output line past the terminal width (spec.md §4.4 prefix
// templating; mirrors bashful's trimToVisualLength for long task names).
// n <= 0 disables truncation.
func WithMaxNameWidth(n int) Option {
	return func(f *Formatter) { f.maxNameWidth = n }
}

// New builds a Formatter, detecting color support from the environment
// the way spec.md §4.4 describes: NO_COLOR disables, FORCE_COLOR enables,
// otherwise enabled when stdout looks like a color-capable terminal.
func New(opts ...Option) *Formatter {
	f := &Formatter{
		palette:       append([]string(nil), defaultPalette...),
		registered:    make(map[string]*registration),
		colorSupport:  detectColorSupport(),
		prefixTmplSrc: "[{name}]",
	}
	for _, opt := range opts {
		opt(f)
	}
	tmpl, err := template.New("prefix").Parse(toGoTemplate(f.prefixTmplSrc))
	if err != nil {
		// Falls back to the simplest possible prefix rather than panicking;
		// a malformed user-supplied template should not crash the run.
		tmpl = template.Must(template.New("prefix").Parse("[{{.Name}}]"))
	}
	f.prefixTmpl = tmpl
	return f
}

func detectColorSupport() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if _, ok := os.LookupEnv("FORCE_COLOR"); ok {
		return true
	}
	return termLooksColorCapable()
}

func termLooksColorCapable() bool {
	term := os.Getenv("TERM")
	if term == "" || term == "dumb" {
		return false
	}
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// toGoTemplate rewrites spec.md's {placeholder} syntax into {{.Field}}.
func toGoTemplate(src string) string {
	replacer := strings.NewReplacer(
		"{index}", "{{.Index}}",
		"{pid}", "{{.Pid}}",
		"{time}", "{{.Time}}",
		"{command}", "{{.Command}}",
		"{name}", "{{.Name}}",
	)
	return replacer.Replace(src)
}

// PrefixFields supplies the values available to a prefix template.
type PrefixFields struct {
	Index   int
	Pid     int
	Time    string
	Command string
	Name    string
}

// Register assigns the next palette color to identifier on first sight.
// Re-registering an already-registered identifier is a no-op (spec.md
// §4.4 "reassignments are ignored").
func (f *Formatter) Register(identifier string, requested string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.registered[identifier]; ok {
		return existing.name, nil
	}

	var style lipgloss.Style
	var name string
	var err error
	if requested != "" {
		style, name, err = resolveColor(requested)
		if err != nil {
			return "", err
		}
	} else {
		name = f.palette[f.next%len(f.palette)]
		f.next++
		style, _, err = resolveColor(name)
		if err != nil {
			return "", err
		}
	}

	f.registered[identifier] = &registration{name: name, style: style}
	f.order = append(f.order, identifier)
	return name, nil
}

// resolveColor maps a predefined name, #RRGGBB, or rgb(r,g,b) value to a
// lipgloss style with that foreground color.
func resolveColor(value string) (lipgloss.Style, string, error) {
	if c, ok := namedColors[value]; ok {
		return lipgloss.NewStyle().Foreground(c), value, nil
	}
	if hexPattern.MatchString(value) {
		return lipgloss.NewStyle().Foreground(lipgloss.Color(value)), value, nil
	}
	if m := rgbPattern.FindStringSubmatch(value); m != nil {
		r, rOK := parseByteComponent(m[1])
		g, gOK := parseByteComponent(m[2])
		b, bOK := parseByteComponent(m[3])
		if !rOK || !gOK || !bOK {
			return lipgloss.Style{}, "", taskerr.New(taskerr.KindValidation, map[string]any{
				"message": fmt.Sprintf("rgb component out of range in %q", value),
			})
		}
		hex := fmt.Sprintf("#%02x%02x%02x", r, g, b)
		return lipgloss.NewStyle().Foreground(lipgloss.Color(hex)), value, nil
	}
	return lipgloss.Style{}, "", taskerr.New(taskerr.KindValidation, map[string]any{
		"message": fmt.Sprintf("invalid color %q: must be a predefined name, #RRGGBB, or rgb(r,g,b)", value),
	})
}

func parseByteComponent(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 255 {
		return 0, false
	}
	return n, true
}

// Prefix renders the prefix (colorized if supported and identifier is
// registered) for fields, without the trailing content.
func (f *Formatter) Prefix(identifier string, fields PrefixFields) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prefixLocked(identifier, fields)
}

func (f *Formatter) prefixLocked(identifier string, fields PrefixFields) string {
	fields.Name = truncateVisual(identifier, f.maxNameWidth)
	var buf bytes.Buffer
	if err := f.prefixTmpl.Execute(&buf, fields); err != nil {
		return "[" + identifier + "]"
	}
	rendered := buf.String()

	if !f.colorSupport {
		return rendered
	}
	reg, ok := f.registered[identifier]
	if !ok {
		return rendered
	}
	return reg.style.Render(rendered)
}

// Format returns "<prefix> content" when the identifier is registered, with
// the prefix colorized only when colors are supported; for an unregistered
// identifier it returns content unchanged (spec.md §4.4).
func (f *Formatter) Format(identifier string, content string, fields PrefixFields) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.registered[identifier]; !ok {
		return content
	}
	prefix := f.prefixLocked(identifier, fields)
	return prefix + " " + content
}

// ColorSupported reports whether this Formatter will emit ANSI codes.
func (f *Formatter) ColorSupported() bool {
	return f.colorSupport
}

// AnsiCode returns the raw SGR opening sequence assigned to identifier, or
// "" if unregistered. Used by child-process env injection
// (TASKLY_TASK_ANSI_CODE, spec.md §6).
func (f *Formatter) AnsiCode(identifier string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	reg, ok := f.registered[identifier]
	if !ok {
		return ""
	}
	// Render a single NUL placeholder to obtain the opening/closing
	// sequence around it, then keep only what precedes the placeholder:
	// the opening SGR code.
	rendered := reg.style.Render("\x00")
	return strings.SplitN(rendered, "\x00", 2)[0]
}

// truncateVisual bounds name to at most maxWidth display columns. Full-width
// and wide East Asian runes (common in task names derived from package.json
// scripts with CJK project names) count as two columns when measuring;
// truncation then proceeds rune-by-rune with an ellipsis marker so the
// visible prefix never exceeds the requested budget, and each kept rune is
// written in its narrow compatibility form where golang.org/x/text/width
// defines one.
func truncateVisual(name string, maxWidth int) string {
	if maxWidth <= 0 {
		return name
	}
	runes := []rune(name)
	visualWidth := 0
	for _, r := range runes {
		if width.LookupRune(r).Kind() == width.EastAsianWide || width.LookupRune(r).Kind() == width.EastAsianFullwidth {
			visualWidth += 2
		} else {
			visualWidth++
		}
	}
	if visualWidth <= maxWidth {
		return name
	}
	if maxWidth <= 1 {
		return string(runes[:maxWidth])
	}

	var b strings.Builder
	budget := maxWidth - 1
	for _, r := range runes {
		w := 1
		if kind := width.LookupRune(r).Kind(); kind == width.EastAsianWide || kind == width.EastAsianFullwidth {
			w = 2
		}
		if budget-w < 0 {
			break
		}
		budget -= w
		b.WriteRune(narrowRune(r))
	}
	b.WriteRune('…')
	return b.String()
}

// narrowRune folds a fullwidth/wide rune to its narrow compatibility form,
// leaving runes without one (the common case) unchanged.
func narrowRune(r rune) rune {
	if n := width.LookupRune(r).Narrow(); n != 0 {
		return n
	}
	return r
}

// ColorName returns the resolved color name/value for identifier.
func (f *Formatter) ColorName(identifier string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if reg, ok := f.registered[identifier]; ok {
		return reg.name
	}
	return ""
}
