package taskerr

import (
	"errors"
	"strings"
	"testing"
)

func TestFriendlyMessage(t *testing.T) {
	err := New(KindPmNotFound, map[string]any{"packageManager": "yarn"})
	if got, want := err.Error(), "Package manager not found: yarn"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestFriendlyMessageWithCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindSpawnFailed, cause, map[string]any{"command": "npm run build"})
	if got := err.Error(); !strings.Contains(got, "Failed to run command") || !strings.Contains(got, "boom") {
		t.Errorf("Error() = %q, missing template or cause", got)
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find wrapped cause")
	}
}

func TestSeverityAndRecoverable(t *testing.T) {
	cases := []struct {
		kind        Kind
		severity    Severity
		recoverable bool
	}{
		{KindValidation, SeverityMedium, false},
		{KindCommandInjection, SeverityCritical, false},
		{KindProcessTimeout, SeverityHigh, true},
		{KindResourceExhausted, SeverityCritical, true},
	}
	for _, tc := range cases {
		e := New(tc.kind, nil)
		if e.Severity() != tc.severity {
			t.Errorf("%s: Severity() = %v, want %v", tc.kind, e.Severity(), tc.severity)
		}
		if e.Recoverable() != tc.recoverable {
			t.Errorf("%s: Recoverable() = %v, want %v", tc.kind, e.Recoverable(), tc.recoverable)
		}
	}
}

func TestIsMatchesByKind(t *testing.T) {
	a := New(KindValidation, map[string]any{"message": "x"})
	b := New(KindValidation, map[string]any{"message": "y"})
	c := New(KindConfig, nil)

	if !errors.Is(a, b) {
		t.Error("expected same-kind errors to match via errors.Is")
	}
	if errors.Is(a, c) {
		t.Error("expected different-kind errors not to match")
	}
}

func TestVerboseIncludesContextAndCause(t *testing.T) {
	cause := errors.New("enoent")
	err := Wrap(KindSpawnFailed, cause, map[string]any{"command": "does-not-exist"})
	out := err.Verbose()
	for _, want := range []string{"SpawnFailed", "does-not-exist", "enoent", "timestamp"} {
		if !strings.Contains(out, want) {
			t.Errorf("Verbose() missing %q in:\n%s", want, out)
		}
	}
}

func TestUnresolvedPlaceholderDropped(t *testing.T) {
	err := New(KindTaskFailed, map[string]any{"taskId": "build-0"})
	got := err.Error()
	if strings.Contains(got, "{") {
		t.Errorf("Error() left an unresolved placeholder: %q", got)
	}
}
