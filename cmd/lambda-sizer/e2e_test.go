//go:build e2e
// +build e2e

package main

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

const (
	thumbnail = "arn:aws:lambda:us-east-1:123456789012:function:thumbnail"
	watermark = "arn:aws:lambda:us-east-1:123456789012:function:watermark"
	publish   = "arn:aws:lambda:us-east-1:123456789012:function:publish"
)

func buildCLI(t *testing.T) (string, []string) {
	t.Helper()

	dir := t.TempDir()
	bin := filepath.Join(dir, "lambda-sizer")
	build := exec.Command("go", "build", "-o", bin, ".")
	if output, err := build.CombinedOutput(); err != nil {
		t.Fatalf("Build failed: %v\n%s", err, output)
	}
	t.Log("✓ Built CLI")

	env := append(os.Environ(),
		"MODEL_REPOSITORY=file",
		"MODEL_REPOSITORY_PATH="+filepath.Join(dir, "models.json"),
		"LOG_DIR="+filepath.Join(dir, "logs"),
		"AWS_REGION=us-east-1",
	)
	return bin, env
}

func run(t *testing.T, bin string, env []string, args ...string) string {
	t.Helper()

	cmd := exec.Command(bin, args...)
	cmd.Env = env
	output, err := cmd.CombinedOutput()
	t.Logf("Output of %v:\n%s", args, output)
	if err != nil {
		t.Fatalf("CLI failed: %v", err)
	}
	return string(output)
}

func TestWorkflowGraphCLI(t *testing.T) {
	bin, env := buildCLI(t)

	out := run(t, bin, env, "workflow", "graph", "testdata/pipeline.yaml")
	for _, id := range []string{thumbnail, watermark, publish} {
		if !strings.Contains(out, id) {
			t.Errorf("Output should list %s", id)
		}
	}
	if !strings.Contains(out, "Fan out -> Thumbnail") {
		t.Error("Output should list the transition into the first branch")
	}
}

func TestTuneAndOptimizeCLI(t *testing.T) {
	bin, env := buildCLI(t)

	for _, id := range []string{thumbnail, watermark, publish} {
		out := run(t, bin, env, "tune", id, "--logs", "testdata/avg.csv", "--weight", "0")
		if !strings.Contains(out, "Memory size:") {
			t.Errorf("Tune output for %s should report a memory size", id)
		}
	}

	out := run(t, bin, env, "workflow", "optimize", "pipeline",
		"--definition", "testdata/pipeline.yaml", "--limit", "800")
	if !strings.Contains(out, "branching") {
		t.Error("A parallel workflow should be optimized in branching mode")
	}
	for _, id := range []string{thumbnail, watermark, publish} {
		if !strings.Contains(out, id) {
			t.Errorf("Output should size %s", id)
		}
	}

	t.Log("✓ Tuned and optimized the workflow offline")
}
