package pm

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func alwaysAvailable(_ context.Context, _ Manager) bool { return true }

func availableOnly(want Manager) AvailabilityChecker {
	return func(_ context.Context, m Manager) bool { return m == want }
}

func TestResolvePreferred(t *testing.T) {
	r := NewResolverWithChecker(alwaysAvailable)
	res, err := r.Resolve(context.Background(), NPM, t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Manager != NPM || res.Source != SourcePreferred {
		t.Errorf("got %+v", res)
	}
}

func TestResolvePreferredNotAvailable(t *testing.T) {
	r := NewResolverWithChecker(availableOnly(Yarn))
	_, err := r.Resolve(context.Background(), NPM, t.TempDir())
	if err == nil {
		t.Fatal("expected PmNotFound error")
	}
}

func TestResolveFromLockfile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "yarn.lock"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	r := NewResolverWithChecker(availableOnly(Yarn))
	res, err := r.Resolve(context.Background(), "", dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Manager != Yarn || res.Source != SourceLockfile {
		t.Errorf("got %+v", res)
	}
}

func TestResolveFallsBackToNpm(t *testing.T) {
	r := NewResolverWithChecker(availableOnly(NPM))
	res, err := r.Resolve(context.Background(), "", t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Manager != NPM || res.Source != SourceFallback {
		t.Errorf("got %+v", res)
	}
}

func TestResolveNothingAvailable(t *testing.T) {
	r := NewResolverWithChecker(func(context.Context, Manager) bool { return false })
	_, err := r.Resolve(context.Background(), "", t.TempDir())
	if err == nil {
		t.Fatal("expected PmNotFound error")
	}
}

func TestRewriteCommand(t *testing.T) {
	cases := []struct {
		command string
		want    string
	}{
		{"run build", "npm run build"},
		{"test", "npm test"},
		{"install", "npm install"},
		{"echo hello", "echo hello"},
	}
	for _, tc := range cases {
		if got := RewriteCommand(NPM, tc.command); got != tc.want {
			t.Errorf("RewriteCommand(%q) = %q, want %q", tc.command, got, tc.want)
		}
	}
}

func TestRewriteCommandIsFixedPoint(t *testing.T) {
	once := RewriteCommand(NPM, "run build")
	twice := RewriteCommand(NPM, once)
	if once != twice {
		t.Errorf("RewriteCommand not idempotent: %q != %q", once, twice)
	}
}

func TestExpandWildcards(t *testing.T) {
	dir := t.TempDir()
	pkg := map[string]any{
		"scripts": map[string]string{
			"build:web": "webpack",
			"build:api": "tsc",
			"lint":      "eslint .",
		},
	}
	data, _ := json.Marshal(pkg)
	if err := os.WriteFile(filepath.Join(dir, "package.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}

	commands, warnings, err := ExpandWildcards("npm run build:*", dir, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("expected no warnings, got %v", warnings)
	}
	want := []string{"npm run build:api", "npm run build:web"}
	if len(commands) != len(want) {
		t.Fatalf("got %v, want %v", commands, want)
	}
	for i := range want {
		if commands[i] != want[i] {
			t.Errorf("commands[%d] = %q, want %q", i, commands[i], want[i])
		}
	}
}

func TestExpandWildcardsNoMatchIgnoreMissing(t *testing.T) {
	dir := t.TempDir()
	data, _ := json.Marshal(map[string]any{"scripts": map[string]string{"lint": "eslint ."}})
	if err := os.WriteFile(filepath.Join(dir, "package.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}

	commands, warnings, err := ExpandWildcards("npm run missing:*", dir, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(commands) != 0 || len(warnings) != 1 {
		t.Errorf("commands=%v warnings=%v", commands, warnings)
	}
}

func TestExpandWildcardsNoMatchFails(t *testing.T) {
	dir := t.TempDir()
	data, _ := json.Marshal(map[string]any{"scripts": map[string]string{"lint": "eslint ."}})
	if err := os.WriteFile(filepath.Join(dir, "package.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}

	_, _, err := ExpandWildcards("npm run missing:*", dir, false)
	if err == nil {
		t.Fatal("expected error when no script matches and ignoreMissing is false")
	}
}

func TestExpandWildcardsPassthroughWithoutStar(t *testing.T) {
	commands, _, err := ExpandWildcards("npm run build", t.TempDir(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(commands) != 1 || commands[0] != "npm run build" {
		t.Errorf("got %v", commands)
	}
}
