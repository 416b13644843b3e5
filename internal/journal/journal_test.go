package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/aiwf/aiwf/internal/events"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestAppendAndQuery(t *testing.T) {
	j := openTestJournal(t)

	e1 := events.New(events.PhaseEntered, "s1")
	e1.Phase = "PLAN"
	e1.Iteration = 1
	e2 := events.New(events.ArtifactCreated, "s1")
	e2.Phase = "PLAN"
	e2.Iteration = 1
	e2.ArtifactPath = "iteration-1/planning-prompt.md"
	e3 := events.New(events.WorkflowFailed, "s2")
	e3.Metadata = map[string]any{"error": "PROVIDER_ERROR: boom"}

	for _, e := range []events.Event{e1, e2, e3} {
		if err := j.Append(e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := j.Query(QueryOptions{SessionID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("records = %d, want 2", len(got))
	}
	if got[0].Type != events.PhaseEntered || got[1].Type != events.ArtifactCreated {
		t.Errorf("order = %s, %s", got[0].Type, got[1].Type)
	}
	if got[1].ArtifactPath != "iteration-1/planning-prompt.md" {
		t.Errorf("artifactPath = %q", got[1].ArtifactPath)
	}

	got, err = j.Query(QueryOptions{SessionID: "s2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Metadata["error"] != "PROVIDER_ERROR: boom" {
		t.Errorf("s2 records = %+v", got)
	}
}

func TestQueryFilters(t *testing.T) {
	j := openTestJournal(t)

	base := time.Now().UTC().Add(-time.Hour)
	for i, typ := range []events.Type{
		events.PhaseEntered, events.ArtifactCreated, events.ArtifactCreated,
		events.ApprovalRequired, events.WorkflowCompleted,
	} {
		e := events.Event{Type: typ, SessionID: "s1", Time: base.Add(time.Duration(i) * time.Minute)}
		if err := j.Append(e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := j.Query(QueryOptions{Types: []events.Type{events.ArtifactCreated}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("type filter returned %d records", len(got))
	}

	since := base.Add(3 * time.Minute)
	got, err = j.Query(QueryOptions{Since: &since})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("since filter returned %d records", len(got))
	}

	got, err = j.Query(QueryOptions{SessionID: "s1", Limit: 2, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Type != events.ArtifactCreated {
		t.Errorf("pagination = %+v", got)
	}
}

func TestCountBySession(t *testing.T) {
	j := openTestJournal(t)

	for i := 0; i < 3; i++ {
		if err := j.Append(events.New(events.ArtifactCreated, "s1")); err != nil {
			t.Fatal(err)
		}
	}
	if err := j.Append(events.New(events.ArtifactCreated, "s2")); err != nil {
		t.Fatal(err)
	}

	n, err := j.CountBySession("s1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}
}

func TestObserverRecordsBusEvents(t *testing.T) {
	j := openTestJournal(t)

	bus := events.NewBus(nil)
	bus.Subscribe(j.Observer())

	bus.Emit(events.New(events.PhaseEntered, "s1"))
	bus.Emit(events.New(events.WorkflowCompleted, "s1"))

	n, err := j.CountBySession("s1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}

func TestReopenPreservesRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.db")

	j, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Append(events.New(events.PhaseEntered, "s1")); err != nil {
		t.Fatal(err)
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	j, err = Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = j.Close() }()
	n, err := j.CountBySession("s1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("count after reopen = %d, want 1", n)
	}
}
