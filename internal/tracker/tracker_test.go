package tracker

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ringtail/che/internal/events"
	"github.com/ringtail/che/internal/models"
)

func status(phase models.Status, machineID, name string) events.StatusChanged {
	return events.StatusChanged{Phase: phase, WorkspaceID: "ws1", MachineID: machineID, MachineName: name}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (h *harness) machineIDs(t *testing.T) []string {
	t.Helper()
	ms, err := h.tr.Machines(h.ctx(t))
	if err != nil {
		t.Fatalf("Machines() error = %v", err)
	}
	return ids(ms)
}

func (h *harness) selection(t *testing.T) SelectionState {
	t.Helper()
	st, err := h.tr.Selection(h.ctx(t))
	if err != nil {
		t.Fatalf("Selection() error = %v", err)
	}
	return st
}

func (h *harness) refresh(t *testing.T, ws string) {
	t.Helper()
	if err := h.tr.Refresh(h.ctx(t), ws); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	h.sync(t)
}

func (h *harness) selectMachine(t *testing.T, id string) {
	t.Helper()
	if err := h.tr.Select(h.ctx(t), "ws1", id); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	h.sync(t)
}

func TestCreateThenRun(t *testing.T) {
	h := newHarness(t)
	h.fetcher.set("ws1", desc("m1", "dev", models.StatusCreating, true))

	h.publish(t, status(models.StatusCreating, "m1", "dev"))

	if got := h.machineIDs(t); !slices.Equal(got, []string{"m1"}) {
		t.Fatalf("machines = %v, want [m1]", got)
	}
	if got := h.display.lastSelected(); got != "m1" {
		t.Fatalf("display selected %q, want m1", got)
	}
	if st := h.selection(t); st.MachineID != "m1" || st.Running {
		t.Fatalf("selection after CREATING = %+v", st)
	}

	h.fetcher.set("ws1", desc("m1", "dev", models.StatusRunning, true))
	h.publish(t, status(models.StatusRunning, "m1", "dev"))

	if !slices.Contains(h.notifier.messages(), "dev is running") {
		t.Fatalf("notifications = %v, want \"dev is running\"", h.notifier.messages())
	}
	if st := h.selection(t); !st.Running || st.MachineID != "m1" {
		t.Fatalf("selection after RUNNING = %+v, want running m1", st)
	}
	if got := h.machineIDs(t); !slices.Equal(got, []string{"m1"}) {
		t.Fatalf("machines = %v, want a single m1", got)
	}
}

func TestDestroyRemovesAndReselects(t *testing.T) {
	h := newHarness(t)
	h.fetcher.set("ws1", desc("m1", "db", models.StatusRunning, false), desc("m2", "web", models.StatusRunning, false))
	h.refresh(t, "ws1")

	if st := h.selection(t); st.MachineID != "m1" {
		t.Fatalf("selection after rebuild = %+v, want m1", st)
	}

	h.publish(t, status(models.StatusDestroyed, "m1", "db"))

	if got := h.machineIDs(t); !slices.Equal(got, []string{"m2"}) {
		t.Fatalf("machines = %v, want [m2]", got)
	}
	last := h.notifier.sent[len(h.notifier.sent)-1]
	if last.Message != "db has been destroyed" || last.Severity != models.SeveritySuccess {
		t.Fatalf("last notification = %+v", last)
	}
	if got := h.display.lastSelected(); got != "m2" {
		t.Fatalf("display selected %q, want m2", got)
	}
	if st := h.selection(t); st.MachineID != "m2" || !st.Running {
		t.Fatalf("selection = %+v, want running m2", st)
	}
}

func TestDestroyOfUnselectedMachineKeepsSelection(t *testing.T) {
	h := newHarness(t)
	h.fetcher.set("ws1", desc("m1", "db", models.StatusRunning, false), desc("m2", "web", models.StatusRunning, false))
	h.refresh(t, "ws1")
	selectedBefore := len(h.display.selected)

	h.publish(t, status(models.StatusDestroyed, "m2", "web"))

	if st := h.selection(t); st.MachineID != "m1" {
		t.Fatalf("selection = %+v, want m1", st)
	}
	if len(h.display.selected) != selectedBefore {
		t.Fatalf("display reselected after destroying an unselected machine: %v", h.display.selected)
	}
}

func TestDestroyOfUnknownMachineIsHarmless(t *testing.T) {
	h := newHarness(t)

	h.publish(t, status(models.StatusDestroyed, "ghost", "ghost"))

	if got := h.machineIDs(t); len(got) != 0 {
		t.Fatalf("machines = %v, want none", got)
	}
	if got := h.notifier.messages(); !slices.Equal(got, []string{"ghost has been destroyed"}) {
		t.Fatalf("notifications = %v", got)
	}
}

func TestRunningForUnresolvableMachine(t *testing.T) {
	h := newHarness(t)
	h.fetcher.set("ws1", desc("m1", "db", models.StatusRunning, false))

	h.publish(t, status(models.StatusRunning, "m9", "ghost"))

	if got := h.notifier.messages(); !slices.Equal(got, []string{"failed to find machine ghost"}) {
		t.Fatalf("notifications = %v", got)
	}
	if got := h.machineIDs(t); len(got) != 0 {
		t.Fatalf("machines = %v, want registry unchanged", got)
	}
}

func TestCreatingWithTransportFailureNotifies(t *testing.T) {
	h := newHarness(t)
	h.fetcher.fail(errors.New("502 bad gateway"))

	h.publish(t, status(models.StatusCreating, "m1", "db"))

	if got := h.notifier.messages(); !slices.Equal(got, []string{"failed to find machine db"}) {
		t.Fatalf("notifications = %v", got)
	}
	if got := h.machineIDs(t); len(got) != 0 {
		t.Fatalf("machines = %v, want none", got)
	}
}

func TestErrorEventOnlyNotifies(t *testing.T) {
	h := newHarness(t)
	h.fetcher.set("ws1", desc("m1", "db", models.StatusRunning, false))

	h.publish(t, events.StatusChanged{Phase: models.StatusError, WorkspaceID: "ws1", MachineID: "m1", ErrorMessage: "oom killed"})

	if len(h.notifier.sent) != 1 {
		t.Fatalf("notifications = %v", h.notifier.messages())
	}
	n := h.notifier.sent[0]
	if n.Message != "oom killed" || n.Severity != models.SeverityFail || n.Mode != models.ModeEmerge {
		t.Fatalf("notification = %+v", n)
	}
	if got := h.machineIDs(t); len(got) != 0 {
		t.Fatalf("machines = %v, want none", got)
	}
	if h.fetcher.callCount() != 0 {
		t.Fatalf("ERROR fetched the workspace %d times", h.fetcher.callCount())
	}

	h.publish(t, events.StatusChanged{Phase: models.StatusError, WorkspaceID: "ws1", MachineID: "m1", MachineName: "db"})
	if got := h.notifier.messages(); !slices.Equal(got, []string{"oom killed", "machine db failed"}) {
		t.Fatalf("notifications = %v", got)
	}
	if h.notifier.sent[1].Severity != models.SeverityFail {
		t.Fatalf("notification = %+v", h.notifier.sent[1])
	}
}

func TestRebuildOfWorkspaceWithoutRuntime(t *testing.T) {
	h := newHarness(t)
	h.fetcher.set("ws1", desc("m1", "db", models.StatusRunning, false))
	h.refresh(t, "ws1")

	h.fetcher.setWorkspace(&models.Workspace{ID: "ws1"})
	h.refresh(t, "ws1")

	if got := h.machineIDs(t); len(got) != 0 {
		t.Fatalf("machines = %v, want none", got)
	}
	if got := h.display.lastStub(); got != MsgUnavailableMachineInfo {
		t.Fatalf("stub = %q, want %q", got, MsgUnavailableMachineInfo)
	}
	if st := h.selection(t); st.Selected {
		t.Fatalf("selection = %+v, want none", st)
	}
}

func TestWorkspaceStartedRebuilds(t *testing.T) {
	h := newHarness(t)
	h.fetcher.set("ws1", desc("m1", "db", models.StatusRunning, false), desc("m2", "dev", models.StatusRunning, true))

	h.publish(t, events.WorkspaceChanged{Kind: events.KindWorkspaceStarted, WorkspaceID: "ws1"})

	if got := h.machineIDs(t); !slices.Equal(got, []string{"m1", "m2"}) {
		t.Fatalf("machines = %v, want [m1 m2]", got)
	}
	if h.display.root == nil || len(h.display.root.Children) != 2 {
		t.Fatalf("display tree = %+v", h.display.root)
	}
	if got := h.display.lastSelected(); got != "m1" {
		t.Fatalf("display selected %q, want m1", got)
	}
}

func TestSelectionUsesCache(t *testing.T) {
	h := newHarness(t)
	h.fetcher.set("ws1", desc("m1", "db", models.StatusRunning, false))

	h.selectMachine(t, "m1")
	h.selectMachine(t, "m1")

	if got := h.fetcher.callCount(); got != 1 {
		t.Fatalf("fetch count = %d, want 1", got)
	}
	if !slices.Equal(h.display.appliances, []string{"m1", "m1"}) {
		t.Fatalf("appliances = %v", h.display.appliances)
	}
	if got := testutil.ToFloat64(h.metrics.CacheHits()); got != 1 {
		t.Fatalf("cache hits = %v, want 1", got)
	}
	if st := h.selection(t); !st.Running {
		t.Fatalf("selection = %+v, want running", st)
	}
}

func TestSelectionOfStartingMachine(t *testing.T) {
	h := newHarness(t)
	h.fetcher.set("ws1", desc("m1", "db", models.StatusCreating, false), desc("m2", "dev", models.StatusCreating, true))

	h.selectMachine(t, "m1")
	if got := h.display.lastStub(); got != "Machine db is starting..." {
		t.Fatalf("stub = %q", got)
	}

	stubs := len(h.display.stubs)
	h.selectMachine(t, "m2")
	if len(h.display.stubs) != stubs {
		t.Fatalf("dev machine produced a stub: %v", h.display.stubs)
	}
	if st := h.selection(t); st.Running || st.MachineID != "m2" {
		t.Fatalf("selection = %+v", st)
	}

	// Not cached: the machine was not running.
	h.selectMachine(t, "m1")
	if got := h.fetcher.callCount(); got != 3 {
		t.Fatalf("fetch count = %d, want 3", got)
	}
}

func TestSelectionOfMissingMachine(t *testing.T) {
	h := newHarness(t)
	h.fetcher.set("ws1", desc("m1", "db", models.StatusRunning, false))

	h.selectMachine(t, "m7")
	if got := h.display.lastStub(); got != "Machine m7 not found" {
		t.Fatalf("stub = %q", got)
	}

	h.fetcher.fail(errors.New("timeout"))
	h.selectMachine(t, "m1")
	if got := h.display.lastStub(); got != "Machine m1 not found" {
		t.Fatalf("stub = %q", got)
	}
	if st := h.selection(t); st.Running {
		t.Fatalf("selection = %+v, want not running", st)
	}
}

func TestDestroyWinsOverLateCreatingResolution(t *testing.T) {
	h := newHarness(t)
	h.fetcher.set("ws1", desc("m1", "db", models.StatusCreating, false))
	release := h.fetcher.holdNext()

	ctx := h.ctx(t)
	if err := h.tr.Publish(ctx, status(models.StatusCreating, "m1", "db")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "creating fetch", func() bool { return h.fetcher.callCount() == 1 })
	if err := h.tr.Publish(ctx, status(models.StatusDestroyed, "m1", "db")); err != nil {
		t.Fatal(err)
	}
	release()
	h.sync(t)

	if got := h.machineIDs(t); len(got) != 0 {
		t.Fatalf("machines = %v, destroyed machine was resurrected", got)
	}
	if got := testutil.ToFloat64(h.metrics.StaleCount("lifecycle")); got != 1 {
		t.Fatalf("stale lifecycle completions = %v, want 1", got)
	}
}

func TestDestroyWinsOverLateRebuild(t *testing.T) {
	h := newHarness(t)
	h.fetcher.set("ws1", desc("m1", "db", models.StatusRunning, false), desc("m2", "web", models.StatusRunning, false))
	release := h.fetcher.holdNext()

	ctx := h.ctx(t)
	if err := h.tr.Refresh(ctx, "ws1"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "snapshot fetch", func() bool { return h.fetcher.callCount() == 1 })
	if err := h.tr.Publish(ctx, status(models.StatusDestroyed, "m1", "db")); err != nil {
		t.Fatal(err)
	}
	release()
	h.sync(t)

	if got := h.machineIDs(t); !slices.Equal(got, []string{"m2"}) {
		t.Fatalf("machines = %v, want [m2]", got)
	}
	if st := h.selection(t); st.MachineID != "m2" {
		t.Fatalf("selection = %+v, want m2", st)
	}
}

func TestRunningWinsOverLateSelection(t *testing.T) {
	h := newHarness(t)
	h.fetcher.set("ws1", desc("m1", "db", models.StatusCreating, false))
	release := h.fetcher.holdNext()

	ctx := h.ctx(t)
	if err := h.tr.Select(ctx, "ws1", "m1"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "selection fetch", func() bool { return h.fetcher.callCount() == 1 })

	h.fetcher.set("ws1", desc("m1", "db", models.StatusRunning, false))
	if err := h.tr.Publish(ctx, status(models.StatusRunning, "m1", "db")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "running applied", func() bool {
		st, err := h.tr.Selection(ctx)
		return err == nil && st.Running
	})

	// The held fetch answers with the state from before the start.
	h.fetcher.set("ws1", desc("m1", "db", models.StatusCreating, false))
	release()
	h.sync(t)

	if st := h.selection(t); st.MachineID != "m1" || !st.Running {
		t.Fatalf("selection = %+v, want m1 running", st)
	}
	if got := h.display.lastStub(); got != "" {
		t.Fatalf("stub = %q, want none", got)
	}
	if got := testutil.ToFloat64(h.metrics.StaleCount("select")); got != 1 {
		t.Fatalf("stale selections = %v, want 1", got)
	}
}

func TestSupersededSelectionRefreshesCache(t *testing.T) {
	h := newHarness(t)
	h.fetcher.set("ws1", desc("m1", "db", models.StatusCreating, false), desc("m2", "web", models.StatusRunning, false))
	h.refresh(t, "ws1")
	calls := h.fetcher.callCount()

	h.fetcher.set("ws1", desc("m1", "db", models.StatusRunning, false), desc("m2", "web", models.StatusRunning, false))
	release := h.fetcher.holdNext()
	ctx := h.ctx(t)
	if err := h.tr.Select(ctx, "ws1", "m1"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "selection fetch", func() bool { return h.fetcher.callCount() == calls+1 })
	if err := h.tr.Select(ctx, "ws1", "m2"); err != nil {
		t.Fatal(err)
	}
	release()
	h.sync(t)

	if st := h.selection(t); st.MachineID != "m2" {
		t.Fatalf("selection = %+v, want m2", st)
	}
	var cached bool
	h.do(t, func() { _, cached = h.tr.registry.Cached("m1") })
	if !cached {
		t.Fatal("running result of superseded selection was not cached")
	}
}

func TestLaterRunningWinsOverEarlierCreating(t *testing.T) {
	h := newHarness(t)
	h.fetcher.set("ws1", desc("m1", "db", models.StatusRunning, false))
	release := h.fetcher.holdNext()

	ctx := h.ctx(t)
	if err := h.tr.Publish(ctx, status(models.StatusCreating, "m1", "db")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "creating fetch", func() bool { return h.fetcher.callCount() == 1 })
	if err := h.tr.Publish(ctx, status(models.StatusRunning, "m1", "db")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "running applied", func() bool {
		m, ok, err := h.tr.Machine(ctx, "m1")
		return err == nil && ok && m.Status == models.StatusRunning
	})
	release()
	h.sync(t)

	if got := testutil.ToFloat64(h.metrics.StaleCount("lifecycle")); got != 1 {
		t.Fatalf("stale lifecycle completions = %v, want 1", got)
	}
	// The late CREATING must not have re-selected m1 as a not-running machine.
	if st := h.selection(t); st.Selected {
		t.Fatalf("selection = %+v, want none", st)
	}
}

func TestOverlappingRebuildsKeepLatest(t *testing.T) {
	h := newHarness(t)
	h.fetcher.set("ws1", desc("m1", "db", models.StatusRunning, false))
	release := h.fetcher.holdNext()

	ctx := h.ctx(t)
	if err := h.tr.Refresh(ctx, "ws1"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first snapshot fetch", func() bool { return h.fetcher.callCount() == 1 })

	h.fetcher.set("ws1", desc("m2", "web", models.StatusRunning, false))
	if err := h.tr.Refresh(ctx, "ws1"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "second rebuild applied", func() bool {
		ms, err := h.tr.Machines(ctx)
		return err == nil && len(ms) == 1 && ms[0].ID == "m2"
	})

	h.fetcher.set("ws1", desc("m1", "db", models.StatusRunning, false))
	release()
	h.sync(t)

	if got := h.machineIDs(t); !slices.Equal(got, []string{"m2"}) {
		t.Fatalf("machines = %v, want [m2]", got)
	}
	if got := testutil.ToFloat64(h.metrics.StaleCount("rebuild")); got != 1 {
		t.Fatalf("stale rebuilds = %v, want 1", got)
	}
}

func TestPublishAfterStop(t *testing.T) {
	tr, err := New(Options{Fetcher: newFakeFetcher()})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tr.Run(ctx)
	}()
	cancel()
	<-done

	err = tr.Publish(context.Background(), status(models.StatusRunning, "m1", "db"))
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("Publish() error = %v, want ErrStopped", err)
	}
}

func TestNewRequiresFetcher(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("New() error = nil, want error")
	}
}
