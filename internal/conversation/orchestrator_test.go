package conversation

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"reasongate/internal/bus"
	"reasongate/internal/dialogue"
	"reasongate/internal/faults"
	"reasongate/internal/reader"
	"reasongate/internal/remote/remotetest"
	"reasongate/internal/sanitize"
	"reasongate/internal/session"
	"reasongate/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type fixture struct {
	orch     *Orchestrator
	sessions *session.Manager
	svc      *remotetest.FakeService
	root     string
}

func testFixture(t *testing.T, svc *remotetest.FakeService) *fixture {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "svc.go"), []byte("package svc\nfunc Do() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	rd, err := reader.New(root, nil)
	if err != nil {
		t.Fatal(err)
	}
	sessions := session.NewManager(bus.New(), nil)
	t.Cleanup(sessions.Destroy)
	adapter := dialogue.New(svc, sanitize.New(nil), rd, nil)
	return &fixture{
		orch:     New(sessions, adapter, rd, nil),
		sessions: sessions,
		svc:      svc,
		root:     root,
	}
}

func testReqCtx() types.RequestContext {
	return types.RequestContext{
		AttemptedApproaches: []string{"checked the config", "read the logs"},
		StuckPoints:         []string{"cannot tell where the latency comes from"},
		FocusArea:           types.CodeScope{Files: []string{"svc.go"}},
	}
}

func TestStartOpensSessionWithRemoteTurn(t *testing.T) {
	f := testFixture(t, remotetest.NewFakeService(
		remotetest.Reply{Text: "The loop in Do allocates per iteration. Should we profile the allocator?"},
	))

	out, err := f.orch.Start(context.Background(), testReqCtx(), "performance", "")
	if err != nil {
		t.Fatal(err)
	}
	if out.SessionID == "" || out.Status != session.StatusActive {
		t.Fatalf("unexpected output %+v", out)
	}
	if len(out.FollowUps) == 0 {
		t.Fatal("expected extracted follow-ups")
	}

	turns, err := f.sessions.Turns(out.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 1 || turns[0].Role != session.RoleRemote {
		t.Fatalf("turns = %+v, want one remote turn", turns)
	}
	if turns[0].Meta == nil || turns[0].Meta.AnalysisKind != "performance" {
		t.Fatalf("turn meta = %+v", turns[0].Meta)
	}
}

func TestStartFileErrorLeavesNoSession(t *testing.T) {
	f := testFixture(t, remotetest.NewFakeService())
	reqCtx := testReqCtx()
	reqCtx.FocusArea.Files = []string{"../outside.go"}

	_, err := f.orch.Start(context.Background(), reqCtx, "performance", "")
	if !faults.IsCode(err, faults.PathTraversal) {
		t.Fatalf("expected PATH_TRAVERSAL, got %v", err)
	}
	if f.svc.Chats() != 0 {
		t.Fatal("no chat should be started when file reads fail")
	}
}

func TestContinueLockContention(t *testing.T) {
	svc := remotetest.NewFakeService()
	f := testFixture(t, svc)

	out, err := f.orch.Start(context.Background(), testReqCtx(), "performance", "")
	if err != nil {
		t.Fatal(err)
	}

	// The first caller holds the lock across a slow remote round-trip;
	// the second arrives mid-flight and must observe SESSION_LOCKED.
	svc.Delay = 200 * time.Millisecond
	winner := make(chan error, 1)
	go func() {
		_, err := f.orch.Continue(context.Background(), out.SessionID, "a", false)
		winner <- err
	}()
	time.Sleep(50 * time.Millisecond)

	_, err = f.orch.Continue(context.Background(), out.SessionID, "b", false)
	if !faults.IsCode(err, faults.SessionLocked) {
		t.Fatalf("expected SESSION_LOCKED for the losing caller, got %v", err)
	}
	if err := <-winner; err != nil {
		t.Fatalf("winning caller failed: %v", err)
	}
}

func TestContinueReleasesLockOnFailure(t *testing.T) {
	svc := remotetest.NewFakeService(
		remotetest.Reply{Text: "initial"},
		remotetest.Reply{Err: context.DeadlineExceeded},
	)
	f := testFixture(t, svc)
	out, err := f.orch.Start(context.Background(), testReqCtx(), "performance", "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.orch.Continue(context.Background(), out.SessionID, "next", false); err == nil {
		t.Fatal("expected adapter failure to surface")
	}
	info, err := f.sessions.Snapshot(out.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if info.Status != session.StatusActive {
		t.Fatalf("status = %s, want active after failed continue", info.Status)
	}
	// The lock must be free for a retry.
	if _, err := f.orch.Continue(context.Background(), out.SessionID, "retry", false); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
}

func TestFinalizeThenContinueRejected(t *testing.T) {
	svc := remotetest.NewFakeService(
		remotetest.Reply{Text: "initial analysis"},
		remotetest.Reply{Text: `{"rootCauses":[{"type":"bug","description":"off by one","confidence":0.8}]}`},
	)
	f := testFixture(t, svc)
	out, err := f.orch.Start(context.Background(), testReqCtx(), "performance", "")
	if err != nil {
		t.Fatal(err)
	}

	res, err := f.orch.Finalize(context.Background(), out.SessionID, dialogue.FormatDetailed)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != types.StatusSuccess || len(res.RootCauses) != 1 {
		t.Fatalf("result = %+v", res)
	}
	if res.Metadata.SessionID != out.SessionID {
		t.Fatalf("metadata = %+v", res.Metadata)
	}

	_, err = f.orch.Continue(context.Background(), out.SessionID, "one more", false)
	if !faults.IsCode(err, faults.SessionTimeout) && !faults.IsCode(err, faults.SessionNotFound) {
		t.Fatalf("expected completed-session rejection, got %v", err)
	}

	// Status queries remain answerable after completion.
	st, err := f.orch.Status(out.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != session.StatusCompleted {
		t.Fatalf("status = %s, want completed", st.Status)
	}
}

func TestOneShotSuccess(t *testing.T) {
	svc := remotetest.NewFakeService(
		remotetest.Reply{Text: "the cache is never invalidated"},
		remotetest.Reply{Text: `{"rootCauses":[{"type":"bug","description":"stale cache","confidence":0.9}],"recommendations":{"immediate":["invalidate on write"]}}`},
	)
	f := testFixture(t, svc)

	res, err := f.orch.OneShot(context.Background(), OneShotRequest{
		Context: testReqCtx(),
		Kind:    "execution_trace",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != types.StatusSuccess || len(res.ImmediateActions) != 1 {
		t.Fatalf("result = %+v", res)
	}
}

func TestOneShotBudgetExpiryYieldsPartial(t *testing.T) {
	svc := remotetest.NewFakeService()
	svc.Delay = 300 * time.Millisecond
	f := testFixture(t, svc)
	reqCtx := testReqCtx()

	res, err := f.orch.OneShot(context.Background(), OneShotRequest{
		Context: reqCtx,
		Kind:    "performance",
		Budget:  100 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != types.StatusPartial {
		t.Fatalf("status = %q, want partial", res.Status)
	}
	if len(res.InvestigationNextSteps) == 0 {
		t.Fatal("partial result must explain the timeout in investigation_next_steps")
	}
	if len(res.RuledOutApproaches) != len(reqCtx.AttemptedApproaches) {
		t.Fatalf("ruled out = %v, want the attempted approaches echoed back", res.RuledOutApproaches)
	}

	// The session survives as active for diagnostics.
	info, err := f.sessions.Snapshot(res.Metadata.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if info.Status != session.StatusActive {
		t.Fatalf("status = %s, want active after budget expiry", info.Status)
	}
}
