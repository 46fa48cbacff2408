package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/wippyai/kernel-runtime/bridge"
	"github.com/wippyai/kernel-runtime/errors"
	"github.com/wippyai/kernel-runtime/job"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	g, err := c.GrowthPolicy()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := g.(job.Doubling); !ok {
		t.Errorf("growth = %T, want job.Doubling", g)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
[heap]
capacity = 4096
growth = "increment"
growth-bytes = 1024
max-capacity = 65536

[job]
threads = 2
kernels-per-thread = 8

[engine]
memory-limit-pages = 512
work-dir = "build"

[toolchain.unix]
command = ["wat2wasm", "--enable-all"]

[log]
level = "debug"
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Heap.Capacity != 4096 || c.Job.Threads != 2 || c.Job.KernelsPerThread != 8 {
		t.Errorf("heap/job = %+v %+v", c.Heap, c.Job)
	}
	if c.Engine.WorkDir != filepath.Join(c.Dir, "build") {
		t.Errorf("work dir = %q", c.Engine.WorkDir)
	}

	jc, err := c.JobConfig()
	if err != nil {
		t.Fatal(err)
	}
	if jc.Growth != (job.Increment{Bytes: 1024, Max: 65536}) || jc.Capacity != 4096 {
		t.Errorf("job config = %+v", jc)
	}

	ec := c.EngineConfig(bridge.PlatformUnix)
	if ec.MemoryLimitPages != 512 || ec.MaxThreads != 2 || ec.Toolchain == nil {
		t.Fatalf("engine config = %+v", ec)
	}
	if len(ec.Toolchain.Command) != 2 || ec.Toolchain.WorkDir != c.Engine.WorkDir {
		t.Errorf("toolchain = %+v", ec.Toolchain)
	}
	if c.EngineConfig(bridge.PlatformWindows).Toolchain != nil {
		t.Error("windows toolchain should use the default")
	}

	if _, err := c.Logger(); err != nil {
		t.Errorf("Logger: %v", err)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"syntax", "[heap\ncapacity = 1", errors.ErrInvalidInput},
		{"unknown key", "[heap]\nbogus = 1", errors.ErrInvalidInput},
		{"zero capacity", "[heap]\ncapacity = 0", errors.ErrInvalidInput},
		{"max below capacity", "[heap]\ncapacity = 4096\nmax-capacity = 1024", errors.ErrInvalidInput},
		{"unknown growth", "[heap]\ngrowth = \"tripling\"", errors.ErrNotFound},
		{"increment without bytes", "[heap]\ngrowth = \"increment\"", errors.ErrInvalidInput},
		{"negative threads", "[job]\nthreads = -1", errors.ErrInvalidInput},
		{"unknown platform", "[toolchain.plan9]\ncommand = [\"x\"]", errors.ErrNotFound},
		{"empty command", "[toolchain.unix]\ncommand = []", errors.ErrInvalidInput},
		{"bad level", "[log]\nlevel = \"loud\"", errors.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.body)
			_, err := Load(path)
			if !stderrors.Is(err, tt.want) {
				t.Fatalf("Load error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "[heap]\ncapacity = 2048\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	c, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad: %v", err)
	}
	if c.Heap.Capacity != 2048 {
		t.Errorf("capacity = %d", c.Heap.Capacity)
	}
}

func TestParsePlatform(t *testing.T) {
	tests := []struct {
		in   string
		want bridge.Platform
		ok   bool
	}{
		{"unix", bridge.PlatformUnix, true},
		{"Windows", bridge.PlatformWindows, true},
		{"beos", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePlatform(tt.in)
			if (err == nil) != tt.ok || (tt.ok && got != tt.want) {
				t.Errorf("ParsePlatform(%q) = %v, %v", tt.in, got, err)
			}
		})
	}
}
