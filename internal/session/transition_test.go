package session

import (
	"testing"

	"github.com/aiwf/aiwf/internal/errors"
)

func TestLookupFullTable(t *testing.T) {
	cases := []struct {
		phase Phase
		stage Stage
		cmd   Command
		want  Transition
	}{
		{PhaseInit, StageNone, CommandInit, Transition{PhasePlan, StagePrompt, ActionCreatePrompt}},
		{PhaseInit, StageNone, CommandCancel, Transition{PhaseCancelled, StageNone, ActionCancel}},

		{PhasePlan, StagePrompt, CommandApprove, Transition{PhasePlan, StageResponse, ActionCallAI}},
		{PhasePlan, StagePrompt, CommandCancel, Transition{PhaseCancelled, StageNone, ActionCancel}},
		{PhasePlan, StageResponse, CommandApprove, Transition{PhaseGenerate, StagePrompt, ActionCreatePrompt}},
		{PhasePlan, StageResponse, CommandReject, Transition{PhasePlan, StageResponse, ActionHalt}},
		{PhasePlan, StageResponse, CommandCancel, Transition{PhaseCancelled, StageNone, ActionCancel}},

		{PhaseGenerate, StagePrompt, CommandApprove, Transition{PhaseGenerate, StageResponse, ActionCallAI}},
		{PhaseGenerate, StagePrompt, CommandCancel, Transition{PhaseCancelled, StageNone, ActionCancel}},
		{PhaseGenerate, StageResponse, CommandApprove, Transition{PhaseReview, StagePrompt, ActionCreatePrompt}},
		{PhaseGenerate, StageResponse, CommandReject, Transition{PhaseGenerate, StageResponse, ActionHalt}},
		{PhaseGenerate, StageResponse, CommandCancel, Transition{PhaseCancelled, StageNone, ActionCancel}},

		{PhaseReview, StagePrompt, CommandApprove, Transition{PhaseReview, StageResponse, ActionCallAI}},
		{PhaseReview, StagePrompt, CommandCancel, Transition{PhaseCancelled, StageNone, ActionCancel}},
		{PhaseReview, StageResponse, CommandApprove, Transition{PhaseReview, StageResponse, ActionCheckVerdict}},
		{PhaseReview, StageResponse, CommandApproveComplete, Transition{PhaseComplete, StageNone, ActionFinalize}},
		{PhaseReview, StageResponse, CommandApproveRevise, Transition{PhaseRevise, StagePrompt, ActionCreatePrompt}},
		{PhaseReview, StageResponse, CommandReject, Transition{PhaseReview, StageResponse, ActionHalt}},
		{PhaseReview, StageResponse, CommandCancel, Transition{PhaseCancelled, StageNone, ActionCancel}},

		{PhaseRevise, StagePrompt, CommandApprove, Transition{PhaseRevise, StageResponse, ActionCallAI}},
		{PhaseRevise, StagePrompt, CommandCancel, Transition{PhaseCancelled, StageNone, ActionCancel}},
		{PhaseRevise, StageResponse, CommandApprove, Transition{PhaseReview, StagePrompt, ActionCreatePrompt}},
		{PhaseRevise, StageResponse, CommandReject, Transition{PhaseRevise, StageResponse, ActionHalt}},
		{PhaseRevise, StageResponse, CommandCancel, Transition{PhaseCancelled, StageNone, ActionCancel}},
	}

	for _, tc := range cases {
		got, err := Lookup(tc.phase, tc.stage, tc.cmd)
		if err != nil {
			t.Errorf("Lookup(%s, %s, %s) = %v", tc.phase, tc.stage, tc.cmd, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Lookup(%s, %s, %s) = %+v, want %+v", tc.phase, tc.stage, tc.cmd, got, tc.want)
		}
	}

	// Every entry above is the whole table.
	if len(cases) != len(transitions) {
		t.Errorf("table has %d entries, test covers %d", len(transitions), len(cases))
	}
}

func TestLookupRejectsEverythingElse(t *testing.T) {
	// Terminal phases accept nothing.
	for _, phase := range []Phase{PhaseComplete, PhaseCancelled, PhaseError} {
		for _, cmd := range ValidCommands() {
			if _, err := Lookup(phase, StageNone, cmd); !errors.HasCode(err, errors.CodeInvalidCommand) {
				t.Errorf("Lookup(%s, , %s) = %v, want INVALID_COMMAND", phase, cmd, err)
			}
		}
	}

	// A sample of nonsensical active-state commands.
	bad := []struct {
		phase Phase
		stage Stage
		cmd   Command
	}{
		{PhaseInit, StageNone, CommandApprove},
		{PhaseInit, StageNone, CommandReject},
		{PhasePlan, StagePrompt, CommandReject},
		{PhasePlan, StagePrompt, CommandInit},
		{PhasePlan, StageResponse, CommandApproveComplete},
		{PhaseGenerate, StageResponse, CommandApproveRevise},
		{PhaseRevise, StageResponse, CommandApproveComplete},
	}
	for _, tc := range bad {
		if _, err := Lookup(tc.phase, tc.stage, tc.cmd); !errors.HasCode(err, errors.CodeInvalidCommand) {
			t.Errorf("Lookup(%s, %s, %s) = %v, want INVALID_COMMAND", tc.phase, tc.stage, tc.cmd, err)
		}
	}
}

func TestAcceptedCommands(t *testing.T) {
	got := AcceptedCommands(PhaseReview, StageResponse)
	want := map[Command]bool{
		CommandApprove: true, CommandApproveComplete: true,
		CommandApproveRevise: true, CommandReject: true, CommandCancel: true,
	}
	if len(got) != len(want) {
		t.Fatalf("AcceptedCommands = %v", got)
	}
	for _, c := range got {
		if !want[c] {
			t.Errorf("unexpected command %s", c)
		}
	}

	if cmds := AcceptedCommands(PhaseComplete, StageNone); len(cmds) != 0 {
		t.Errorf("terminal state accepts %v", cmds)
	}
}

func TestPromptRejectIsNotATransition(t *testing.T) {
	// Prompt rejection is handled by the gate loop, not the command table.
	for _, phase := range []Phase{PhasePlan, PhaseGenerate, PhaseReview, PhaseRevise} {
		if _, err := Lookup(phase, StagePrompt, CommandReject); err == nil {
			t.Errorf("reject accepted at %s[PROMPT]", phase)
		}
	}
}
