package scripts

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"
)

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	r, err := NewRunner(4, 10*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(r.Release)
	return r
}

func TestRunCombinedOutput(t *testing.T) {
	r := newTestRunner(t)
	dir := t.TempDir()
	path := writeScript(t, dir, "combined", "#!/bin/sh\necho out\necho err >&2\n")

	d := &Descriptor{Name: "combined", HTTPMethod: "get", Output: OutputCombined, Path: path}
	res, err := r.Run(context.Background(), d, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("exit code = %d", res.ExitCode)
	}
	if len(res.Stdout) != 2 {
		t.Fatalf("expected merged stdout+stderr, got %v", res.Stdout)
	}
	if res.Stderr != nil {
		t.Fatalf("combined mode must not report stderr, got %v", res.Stderr)
	}
}

func TestRunSeparateOutput(t *testing.T) {
	r := newTestRunner(t)
	dir := t.TempDir()
	path := writeScript(t, dir, "separate", "#!/bin/sh\necho out\necho err >&2\n")

	d := &Descriptor{Name: "separate", HTTPMethod: "get", Output: OutputSeparate, Path: path}
	res, err := r.Run(context.Background(), d, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(res.Stdout, []string{"out"}) {
		t.Fatalf("stdout = %v", res.Stdout)
	}
	if !reflect.DeepEqual(res.Stderr, []string{"err"}) {
		t.Fatalf("stderr = %v", res.Stderr)
	}
}

func TestRunNonzeroExit(t *testing.T) {
	r := newTestRunner(t)
	dir := t.TempDir()
	path := writeScript(t, dir, "fail", "#!/bin/sh\nexit 3\n")

	d := &Descriptor{Name: "fail", HTTPMethod: "get", Output: OutputCombined, Path: path}
	res, err := r.Run(context.Background(), d, nil)
	if err != nil {
		t.Fatalf("nonzero exit must not be an error: %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", res.ExitCode)
	}
	if len(res.Stdout) != 0 {
		t.Fatalf("stdout = %v, want empty", res.Stdout)
	}
}

func TestRunParamsReachEnvironment(t *testing.T) {
	r := newTestRunner(t)
	dir := t.TempDir()
	path := writeScript(t, dir, "env", "#!/bin/sh\necho \"name=$CLOUDOMATE_PARAM_NAME\"\necho \"count=$CLOUDOMATE_PARAM_COUNT\"\necho \"all=$CLOUDOMATE_PARAMS\"\n")

	d := &Descriptor{Name: "env", HTTPMethod: "get", Output: OutputCombined, Path: path}
	res, err := r.Run(context.Background(), d, map[string]any{"name": "world", "count": float64(2)})
	if err != nil {
		t.Fatal(err)
	}
	out := strings.Join(res.Stdout, "\n")
	if !strings.Contains(out, "name=world") {
		t.Errorf("string param missing: %q", out)
	}
	if !strings.Contains(out, "count=2") {
		t.Errorf("numeric param missing: %q", out)
	}
	if !strings.Contains(out, `"name":"world"`) {
		t.Errorf("CLOUDOMATE_PARAMS missing: %q", out)
	}
}

func TestRunTimeout(t *testing.T) {
	r := newTestRunner(t)
	dir := t.TempDir()
	path := writeScript(t, dir, "slow", "#!/bin/sh\nsleep 10\n")

	d := &Descriptor{Name: "slow", HTTPMethod: "get", Output: OutputCombined, Path: path, Timeout: 50 * time.Millisecond}
	_, err := r.Run(context.Background(), d, nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestRunSpawnFailure(t *testing.T) {
	r := newTestRunner(t)

	d := &Descriptor{Name: "ghost", HTTPMethod: "get", Output: OutputCombined,
		Path: filepath.Join(t.TempDir(), "does-not-exist")}
	_, err := r.Run(context.Background(), d, nil)
	if err == nil {
		t.Fatal("expected spawn error")
	}
	if errors.Is(err, ErrTimeout) {
		t.Fatalf("spawn failure misreported as timeout: %v", err)
	}
}

func TestEnvKeySanitized(t *testing.T) {
	if got := envKey("weird key-1"); got != "WEIRD_KEY_1" {
		t.Fatalf("envKey = %q", got)
	}
}

func TestSplitLines(t *testing.T) {
	if got := splitLines(""); len(got) != 0 {
		t.Fatalf("empty output should yield no lines, got %v", got)
	}
	if got := splitLines("a\nb\n"); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("splitLines = %v", got)
	}
}
