package config

import "testing"

func TestResolvePrecedenceCLIBeatsFileBeatsEnv(t *testing.T) {
	fileMax := 2
	envMax := 4
	cliMax := 8

	file := &FileConfig{MaxConcurrency: fileMax}
	env := EnvOverrides{MaxConcurrency: &envMax}
	cli := CLIOverrides{MaxConcurrency: &cliMax}

	merged, err := Resolve([]string{"echo a"}, file, env, cli)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if merged.Options.MaxConcurrency != cliMax {
		t.Errorf("MaxConcurrency = %d, want %d (CLI should win)", merged.Options.MaxConcurrency, cliMax)
	}
}

func TestResolveFileBeatsEnvWhenNoCLI(t *testing.T) {
	fileMax := 2
	envMax := 4
	file := &FileConfig{MaxConcurrency: fileMax}
	env := EnvOverrides{MaxConcurrency: &envMax}

	merged, err := Resolve([]string{"echo a"}, file, env, CLIOverrides{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if merged.Options.MaxConcurrency != fileMax {
		t.Errorf("MaxConcurrency = %d, want %d (file should win over env)", merged.Options.MaxConcurrency, fileMax)
	}
}

func TestResolveNamesCountMismatchErrors(t *testing.T) {
	cli := CLIOverrides{Names: []string{"only-one"}}
	_, err := Resolve([]string{"echo a", "echo b"}, nil, EnvOverrides{}, cli)
	if err == nil {
		t.Fatal("expected a ConfigError when --names count does not match commands")
	}
}

func TestResolveBuildsTaskConfigsWithNamesAndColors(t *testing.T) {
	cli := CLIOverrides{Names: []string{"alpha", "beta"}, Colors: []string{"red", "blue"}}
	merged, err := Resolve([]string{"echo a", "echo b"}, nil, EnvOverrides{}, cli)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(merged.Tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(merged.Tasks))
	}
	if merged.Tasks[0].Identifier != "alpha" || merged.Tasks[0].Color != "red" {
		t.Errorf("got %+v", merged.Tasks[0])
	}
	if merged.Tasks[1].Identifier != "beta" || merged.Tasks[1].Color != "blue" {
		t.Errorf("got %+v", merged.Tasks[1])
	}
}

func TestResolveFromFileTasksIsDeterministicallyOrdered(t *testing.T) {
	file := &FileConfig{Tasks: map[string]TaskSpec{
		"zeta":  {Command: "echo z"},
		"alpha": {Command: "echo a"},
		"mid":   {Command: "echo m"},
	}}
	tasks := ResolveFromFileTasks(file)
	if len(tasks) != 3 {
		t.Fatalf("got %d tasks, want 3", len(tasks))
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, id := range want {
		if tasks[i].Identifier != id {
			t.Errorf("tasks[%d].Identifier = %q, want %q", i, tasks[i].Identifier, id)
		}
	}
}
