package ipc_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sdstore/internal/budget"
	"sdstore/internal/catalog"
	"sdstore/internal/config"
	"sdstore/internal/daemon"
	"sdstore/internal/ipc"
	"sdstore/internal/jobs"
	"sdstore/internal/logging"
	"sdstore/internal/pipeline"
	"sdstore/internal/scheduler"
	"sdstore/internal/testsupport"
)

type testEnv struct {
	cfg    *config.Config
	store  *jobs.Store
	daemon *daemon.Daemon
	socket string
	dir    string
}

func startDaemon(t *testing.T, filterOverrides map[catalog.Kind]string) *testEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	filterDir := t.TempDir()
	for _, kind := range catalog.Kinds() {
		script := "#!/bin/sh\nexec cat\n"
		if override, ok := filterOverrides[kind]; ok {
			script = override
		}
		testsupport.WriteFilterStub(t, filterDir, string(kind), script)
	}
	budgetPath := testsupport.WriteBudgetFile(t, testsupport.DefaultBudgets())
	cat, err := catalog.Load(budgetPath, filterDir)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	logger := logging.NewNop()
	runner := pipeline.NewRunner(cat, logger)
	sched := scheduler.New(cat, budget.NewLedger(cat), store, runner, logger,
		scheduler.WithDrainTimeout(5*time.Second))

	d, err := daemon.New(cfg, store, sched, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	socket := cfg.SocketPath()
	srv, err := ipc.NewServer(ctx, socket, d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	return &testEnv{cfg: cfg, store: store, daemon: d, socket: socket, dir: t.TempDir()}
}

func (e *testEnv) dial(t *testing.T) *ipc.Client {
	t.Helper()
	client, err := ipc.Dial(e.socket)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func (e *testEnv) writeInput(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return path
}

func TestSubmitAwaitRoundTrip(t *testing.T) {
	e := startDaemon(t, nil)
	client := e.dial(t)

	input := e.writeInput(t, "round.txt", "round trip payload\n")
	output := filepath.Join(e.dir, "round.out")

	submit, err := client.Submit(ipc.SubmitRequest{
		Priority:   1,
		InputPath:  input,
		OutputPath: output,
		Pipeline:   []string{"bcompress", "nop", "bdecompress"},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !submit.Accepted || submit.JobID == 0 {
		t.Fatalf("expected acceptance, got %+v", submit)
	}

	terminal, err := client.Await(submit.JobID)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if terminal.State != string(jobs.StateCompleted) {
		t.Fatalf("expected completed, got %+v", terminal)
	}
	want := int64(len("round trip payload\n"))
	if terminal.BytesIn != want || terminal.BytesOut != want {
		t.Fatalf("unexpected byte accounting %+v", terminal)
	}

	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "round trip payload\n" {
		t.Fatalf("output mismatch: %q", data)
	}
}

func TestSubmitRejectionsComeBackTyped(t *testing.T) {
	e := startDaemon(t, nil)
	client := e.dial(t)
	input := e.writeInput(t, "reject.txt", "data")

	cases := []struct {
		name   string
		req    ipc.SubmitRequest
		reason string
	}{
		{
			name:   "unknown filter",
			req:    ipc.SubmitRequest{InputPath: input, OutputPath: input + ".out", Pipeline: []string{"nopp"}},
			reason: ipc.RejectUnknownFilter,
		},
		{
			name:   "empty pipeline",
			req:    ipc.SubmitRequest{InputPath: input, OutputPath: input + ".out"},
			reason: ipc.RejectEmptyPipeline,
		},
		{
			name: "infeasible demand",
			req: ipc.SubmitRequest{InputPath: input, OutputPath: input + ".out",
				Pipeline: []string{"gcompress", "gcompress", "gcompress"}},
			reason: ipc.RejectInfeasibleDemand,
		},
		{
			name:   "same paths",
			req:    ipc.SubmitRequest{InputPath: input, OutputPath: input, Pipeline: []string{"nop"}},
			reason: ipc.RejectSamePaths,
		},
		{
			name: "unreadable input",
			req: ipc.SubmitRequest{InputPath: filepath.Join(e.dir, "absent.txt"),
				OutputPath: input + ".out", Pipeline: []string{"nop"}},
			reason: ipc.RejectInputUnreadable,
		},
		{
			name: "negative priority",
			req: ipc.SubmitRequest{Priority: -1, InputPath: input, OutputPath: input + ".out",
				Pipeline: []string{"nop"}},
			reason: ipc.RejectInvalidPriority,
		},
	}
	for _, tc := range cases {
		resp, err := client.Submit(tc.req)
		if err != nil {
			t.Fatalf("%s: Submit failed: %v", tc.name, err)
		}
		if resp.Accepted {
			t.Fatalf("%s: expected rejection", tc.name)
		}
		if resp.RejectReason != tc.reason {
			t.Fatalf("%s: expected reason %s, got %s", tc.name, tc.reason, resp.RejectReason)
		}
	}
}

func TestStatusSnapshotShape(t *testing.T) {
	e := startDaemon(t, nil)
	client := e.dial(t)

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if len(status.Jobs) != 0 {
		t.Fatalf("expected no active jobs, got %d", len(status.Jobs))
	}
	kinds := catalog.Kinds()
	if len(status.Filters) != len(kinds) {
		t.Fatalf("expected %d filter rows, got %d", len(kinds), len(status.Filters))
	}
	for i, usage := range status.Filters {
		if usage.Kind != string(kinds[i]) {
			t.Fatalf("row %d: expected %s, got %s", i, kinds[i], usage.Kind)
		}
		if usage.Running != 0 {
			t.Fatalf("expected idle ledger, got %+v", usage)
		}
	}
}

func TestCancelUnknownJobNotCancellable(t *testing.T) {
	e := startDaemon(t, nil)
	client := e.dial(t)

	resp, err := client.Cancel(12345)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if resp.Result != ipc.CancelResultNotCancellable {
		t.Fatalf("expected not_cancellable, got %s", resp.Result)
	}
}

func TestCancelRunningJobViaIPC(t *testing.T) {
	overrides := map[catalog.Kind]string{
		catalog.KindBcompress: "#!/bin/sh\nwhile :; do sleep 0.1; done\n",
	}
	e := startDaemon(t, overrides)
	client := e.dial(t)

	input := e.writeInput(t, "cancel.txt", "data\n")
	submit, err := client.Submit(ipc.SubmitRequest{
		InputPath:  input,
		OutputPath: input + ".out",
		Pipeline:   []string{"bcompress"},
	})
	if err != nil || !submit.Accepted {
		t.Fatalf("Submit failed: %v %+v", err, submit)
	}

	waitForState(t, e.store, submit.JobID, jobs.StateRunning)

	canceller := e.dial(t)
	resp, err := canceller.Cancel(submit.JobID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if resp.Result != ipc.CancelResultSignalled {
		t.Fatalf("expected signalled, got %s", resp.Result)
	}

	terminal, err := client.Await(submit.JobID)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if terminal.State != string(jobs.StateCancelled) {
		t.Fatalf("expected cancelled, got %+v", terminal)
	}
}

func TestClientDisconnectImplicitlyCancels(t *testing.T) {
	overrides := map[catalog.Kind]string{
		catalog.KindGcompress: "#!/bin/sh\nwhile :; do sleep 0.1; done\n",
	}
	e := startDaemon(t, overrides)
	client := e.dial(t)

	input := e.writeInput(t, "hangup.txt", "data\n")
	submit, err := client.Submit(ipc.SubmitRequest{
		InputPath:  input,
		OutputPath: input + ".out",
		Pipeline:   []string{"gcompress"},
	})
	if err != nil || !submit.Accepted {
		t.Fatalf("Submit failed: %v %+v", err, submit)
	}

	waitForState(t, e.store, submit.JobID, jobs.StateRunning)

	// The client goes away without awaiting; the daemon must reap the job.
	_ = client.Close()

	waitForState(t, e.store, submit.JobID, jobs.StateCancelled)
}

func TestShutdownViaIPC(t *testing.T) {
	e := startDaemon(t, nil)
	client := e.dial(t)

	resp, err := client.Shutdown()
	if err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if !resp.Stopping {
		t.Fatal("expected stopping acknowledgement")
	}

	select {
	case <-e.daemon.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not finish shutting down")
	}
}

func waitForState(t *testing.T, store *jobs.Store, id int64, want jobs.State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		record, err := store.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		if record != nil && record.State == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	record, _ := store.GetByID(context.Background(), id)
	t.Fatalf("job %d never reached %s (now %+v)", id, want, record)
}
