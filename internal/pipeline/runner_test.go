package pipeline_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sdstore/internal/catalog"
	"sdstore/internal/jobs"
	"sdstore/internal/logging"
	"sdstore/internal/pipeline"
	"sdstore/internal/testsupport"
)

// loadCatalog builds a catalog over a stub filter dir, with optional script
// overrides per kind.
func loadCatalog(t *testing.T, overrides map[catalog.Kind]string) *catalog.Catalog {
	t.Helper()

	dir := t.TempDir()
	for _, kind := range catalog.Kinds() {
		script := "#!/bin/sh\nexec cat\n"
		if override, ok := overrides[kind]; ok {
			script = override
		}
		testsupport.WriteFilterStub(t, dir, string(kind), script)
	}
	budgetPath := testsupport.WriteBudgetFile(t, testsupport.DefaultBudgets())
	cat, err := catalog.Load(budgetPath, dir)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return cat
}

func newJob(t *testing.T, pipelineKinds []catalog.Kind, content string) *jobs.Record {
	t.Helper()

	dir := t.TempDir()
	inputPath := filepath.Join(dir, "input.txt")
	if err := os.WriteFile(inputPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return &jobs.Record{
		ID:         1,
		Priority:   0,
		InputPath:  inputPath,
		OutputPath: filepath.Join(dir, "output.txt"),
		Pipeline:   pipelineKinds,
		State:      jobs.StateRunning,
	}
}

func TestRunSingleNopCopiesBytes(t *testing.T) {
	cat := loadCatalog(t, nil)
	runner := pipeline.NewRunner(cat, logging.NewNop())
	job := newJob(t, []catalog.Kind{catalog.KindNop}, "hello pipeline\n")

	result := runner.Run(context.Background(), job)
	if result.Outcome != jobs.StateCompleted {
		t.Fatalf("expected completed, got %s (err %v)", result.Outcome, result.Err)
	}

	output, err := os.ReadFile(job.OutputPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(output) != "hello pipeline\n" {
		t.Fatalf("output does not match input: %q", output)
	}
	if result.BytesIn != int64(len("hello pipeline\n")) || result.BytesOut != result.BytesIn {
		t.Fatalf("unexpected byte accounting %d/%d", result.BytesIn, result.BytesOut)
	}

	info, err := os.Stat(job.OutputPath)
	if err != nil {
		t.Fatalf("stat output: %v", err)
	}
	if info.Mode().Perm() != 0o644 {
		t.Fatalf("expected mode 0644, got %v", info.Mode().Perm())
	}
}

func TestRunChainPropagatesBytesThroughEveryStage(t *testing.T) {
	// Each stage appends a marker, proving the stages were actually chained
	// stdout-to-stdin in order.
	overrides := map[catalog.Kind]string{
		catalog.KindBcompress:   "#!/bin/sh\ncat; echo b\n",
		catalog.KindBdecompress: "#!/bin/sh\ncat; echo d\n",
	}
	cat := loadCatalog(t, overrides)
	runner := pipeline.NewRunner(cat, logging.NewNop())
	job := newJob(t, []catalog.Kind{catalog.KindBcompress, catalog.KindNop, catalog.KindBdecompress}, "x\n")

	result := runner.Run(context.Background(), job)
	if result.Outcome != jobs.StateCompleted {
		t.Fatalf("expected completed, got %s (err %v)", result.Outcome, result.Err)
	}

	output, err := os.ReadFile(job.OutputPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(output) != "x\nb\nd\n" {
		t.Fatalf("stages not chained in order: %q", output)
	}
}

func TestRunLargePayloadThroughChain(t *testing.T) {
	cat := loadCatalog(t, nil)
	runner := pipeline.NewRunner(cat, logging.NewNop())

	// Larger than a pipe buffer so interior stages must stream concurrently.
	payload := strings.Repeat("0123456789abcdef", 64*1024)
	job := newJob(t, []catalog.Kind{catalog.KindGcompress, catalog.KindGdecompress, catalog.KindNop}, payload)

	result := runner.Run(context.Background(), job)
	if result.Outcome != jobs.StateCompleted {
		t.Fatalf("expected completed, got %s (err %v)", result.Outcome, result.Err)
	}
	output, err := os.ReadFile(job.OutputPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if len(output) != len(payload) {
		t.Fatalf("expected %d bytes, got %d", len(payload), len(output))
	}
}

func TestRunChildFailureReportsFailed(t *testing.T) {
	overrides := map[catalog.Kind]string{
		catalog.KindEncrypt: "#!/bin/sh\ncat >/dev/null\nexit 3\n",
	}
	cat := loadCatalog(t, overrides)
	runner := pipeline.NewRunner(cat, logging.NewNop())
	job := newJob(t, []catalog.Kind{catalog.KindNop, catalog.KindEncrypt}, "payload\n")

	result := runner.Run(context.Background(), job)
	if result.Outcome != jobs.StateFailed {
		t.Fatalf("expected failed, got %s", result.Outcome)
	}
	if result.Err == nil || !strings.Contains(result.Err.Error(), "encrypt") {
		t.Fatalf("expected error naming the failing filter, got %v", result.Err)
	}
}

func TestRunMissingInputReportsFailed(t *testing.T) {
	cat := loadCatalog(t, nil)
	runner := pipeline.NewRunner(cat, logging.NewNop())
	job := newJob(t, []catalog.Kind{catalog.KindNop}, "data")
	job.InputPath = filepath.Join(t.TempDir(), "does-not-exist")

	result := runner.Run(context.Background(), job)
	if result.Outcome != jobs.StateFailed {
		t.Fatalf("expected failed, got %s", result.Outcome)
	}
}

func TestRunCancelTerminatesChildren(t *testing.T) {
	overrides := map[catalog.Kind]string{
		catalog.KindBcompress: "#!/bin/sh\nwhile :; do sleep 0.1; done\n",
	}
	cat := loadCatalog(t, overrides)
	runner := pipeline.NewRunner(cat, logging.NewNop())
	job := newJob(t, []catalog.Kind{catalog.KindNop, catalog.KindBcompress}, "data\n")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan pipeline.Result, 1)
	go func() { done <- runner.Run(ctx, job) }()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case result := <-done:
		if result.Outcome != jobs.StateCancelled {
			t.Fatalf("expected cancelled, got %s (err %v)", result.Outcome, result.Err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not terminate after cancel")
	}
}
