package session

import (
	"encoding/json"
	"regexp"
	"testing"
)

func validSession() *Session {
	s := New("20250115-142301-a3f8b2c1", "p",
		map[Role]string{
			RolePlanner: "manual", RoleGenerator: "manual",
			RoleReviewer: "manual", RoleReviser: "manual",
		}, "dir", map[string]any{"entity": "Tier"})
	s.StandardsHash = "abc"
	return s
}

func TestNewID(t *testing.T) {
	pattern := regexp.MustCompile(`^\d{8}-\d{6}-[0-9a-f]{8}$`)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id := NewID()
		if !pattern.MatchString(id) {
			t.Fatalf("id %q does not match the expected shape", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestNewSessionInvariants(t *testing.T) {
	s := New("s1", "p", map[Role]string{RolePlanner: "manual"}, "dir", nil)
	if s.Phase != PhaseInit || s.Stage != StageNone || s.Status != StatusInProgress {
		t.Errorf("initial state = %s status=%s", s.StateString(), s.Status)
	}
	if s.CurrentIteration != 1 {
		t.Errorf("currentIteration = %d", s.CurrentIteration)
	}
	if err := s.CheckInvariants(); err != nil {
		t.Errorf("invariants: %v", err)
	}
}

func TestCheckInvariantsViolations(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Session)
	}{
		{"active phase without stage", func(s *Session) { s.Phase = PhasePlan; s.Stage = StageNone }},
		{"init with stage", func(s *Session) { s.Stage = StagePrompt }},
		{"complete without success", func(s *Session) { s.Phase = PhaseComplete }},
		{"cancelled without cancelled status", func(s *Session) { s.Phase = PhaseCancelled }},
		{"error without lastError", func(s *Session) { s.Phase = PhaseError; s.Status = StatusError }},
		{"plan approved without hash", func(s *Session) { s.Plan.Approved = true }},
		{"missing standards hash", func(s *Session) {
			s.Phase = PhasePlan
			s.Stage = StagePrompt
			s.StandardsHash = ""
		}},
		{"zero iteration", func(s *Session) { s.CurrentIteration = 0 }},
		{"artifact outside code dir", func(s *Session) {
			s.Artifacts = []Artifact{{RelativePath: "iteration-1/plan.md", Iteration: 1}}
		}},
		{"artifact with parent segment", func(s *Session) {
			s.Artifacts = []Artifact{{RelativePath: "iteration-1/code/../x", Iteration: 1}}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := validSession()
			tc.mutate(s)
			if err := s.CheckInvariants(); err == nil {
				t.Error("invariant breach not detected")
			}
		})
	}
}

func TestStateString(t *testing.T) {
	s := validSession()
	if got := s.StateString(); got != "INIT" {
		t.Errorf("StateString = %q", got)
	}
	s.Phase = PhaseGenerate
	s.Stage = StageResponse
	if got := s.StateString(); got != "GENERATE[RESPONSE]" {
		t.Errorf("StateString = %q", got)
	}
}

func TestRoleForPhase(t *testing.T) {
	pairs := map[Phase]Role{
		PhasePlan:     RolePlanner,
		PhaseGenerate: RoleGenerator,
		PhaseReview:   RoleReviewer,
		PhaseRevise:   RoleReviser,
	}
	for phase, want := range pairs {
		got, ok := RoleForPhase(phase)
		if !ok || got != want {
			t.Errorf("RoleForPhase(%s) = %s, %v", phase, got, ok)
		}
	}
	if _, ok := RoleForPhase(PhaseInit); ok {
		t.Error("INIT has no provider role")
	}
}

func TestApprovalStateClear(t *testing.T) {
	a := ApprovalState{Pending: true, Feedback: "f", SuggestedContent: "s", RetryCount: 3}
	a.Clear()
	if a != (ApprovalState{}) {
		t.Errorf("cleared approval = %+v", a)
	}
}

func TestJSONRoundTripPreservesUnknownFields(t *testing.T) {
	raw := []byte(`{
		"sessionId": "s1",
		"profile": "p",
		"providers": {"planner": "manual", "generator": "manual", "reviewer": "manual", "reviser": "manual"},
		"standardsProviderKey": "dir",
		"context": {"entity": "Tier"},
		"phase": "PLAN",
		"stage": "PROMPT",
		"status": "IN_PROGRESS",
		"currentIteration": 1,
		"plan": {"approved": false},
		"review": {"approved": false},
		"standardsHash": "abc",
		"artifacts": [],
		"approval": {"pending": false, "retryCount": 0},
		"messages": [],
		"createdAt": "2025-01-15T14:23:01Z",
		"updatedAt": "2025-01-15T14:23:01Z",
		"futureField": {"nested": true}
	}`)

	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		t.Fatal(err)
	}
	if s.ID != "s1" || s.Phase != PhasePlan || s.Stage != StagePrompt {
		t.Fatalf("decoded = %+v", s)
	}

	out, err := json.Marshal(&s)
	if err != nil {
		t.Fatal(err)
	}
	var round map[string]json.RawMessage
	if err := json.Unmarshal(out, &round); err != nil {
		t.Fatal(err)
	}
	if _, ok := round["futureField"]; !ok {
		t.Error("unknown field dropped on round trip")
	}
}
