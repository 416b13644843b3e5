package session

import (
	"sort"

	"github.com/aiwf/aiwf/internal/errors"
)

// Transition is the outcome of accepting a command in a state: the state the
// session moves to and the action the engine must perform there.
type Transition struct {
	NextPhase Phase
	NextStage Stage
	Action    Action
}

type stateKey struct {
	phase   Phase
	stage   Stage
	command Command
}

// transitions is the whole control flow of the pipeline. Everything the
// engine does is looked up here; there is no transition logic anywhere else.
var transitions = map[stateKey]Transition{
	// INIT
	{PhaseInit, StageNone, CommandInit}:   {PhasePlan, StagePrompt, ActionCreatePrompt},
	{PhaseInit, StageNone, CommandCancel}: {PhaseCancelled, StageNone, ActionCancel},

	// PLAN
	{PhasePlan, StagePrompt, CommandApprove}:   {PhasePlan, StageResponse, ActionCallAI},
	{PhasePlan, StagePrompt, CommandCancel}:    {PhaseCancelled, StageNone, ActionCancel},
	{PhasePlan, StageResponse, CommandApprove}: {PhaseGenerate, StagePrompt, ActionCreatePrompt},
	{PhasePlan, StageResponse, CommandReject}:  {PhasePlan, StageResponse, ActionHalt},
	{PhasePlan, StageResponse, CommandCancel}:  {PhaseCancelled, StageNone, ActionCancel},

	// GENERATE
	{PhaseGenerate, StagePrompt, CommandApprove}:   {PhaseGenerate, StageResponse, ActionCallAI},
	{PhaseGenerate, StagePrompt, CommandCancel}:    {PhaseCancelled, StageNone, ActionCancel},
	{PhaseGenerate, StageResponse, CommandApprove}: {PhaseReview, StagePrompt, ActionCreatePrompt},
	{PhaseGenerate, StageResponse, CommandReject}:  {PhaseGenerate, StageResponse, ActionHalt},
	{PhaseGenerate, StageResponse, CommandCancel}:  {PhaseCancelled, StageNone, ActionCancel},

	// REVIEW
	{PhaseReview, StagePrompt, CommandApprove}:           {PhaseReview, StageResponse, ActionCallAI},
	{PhaseReview, StagePrompt, CommandCancel}:            {PhaseCancelled, StageNone, ActionCancel},
	{PhaseReview, StageResponse, CommandApprove}:         {PhaseReview, StageResponse, ActionCheckVerdict},
	{PhaseReview, StageResponse, CommandApproveComplete}: {PhaseComplete, StageNone, ActionFinalize},
	{PhaseReview, StageResponse, CommandApproveRevise}:   {PhaseRevise, StagePrompt, ActionCreatePrompt},
	{PhaseReview, StageResponse, CommandReject}:          {PhaseReview, StageResponse, ActionHalt},
	{PhaseReview, StageResponse, CommandCancel}:          {PhaseCancelled, StageNone, ActionCancel},

	// REVISE
	{PhaseRevise, StagePrompt, CommandApprove}:   {PhaseRevise, StageResponse, ActionCallAI},
	{PhaseRevise, StagePrompt, CommandCancel}:    {PhaseCancelled, StageNone, ActionCancel},
	{PhaseRevise, StageResponse, CommandApprove}: {PhaseReview, StagePrompt, ActionCreatePrompt},
	{PhaseRevise, StageResponse, CommandReject}:  {PhaseRevise, StageResponse, ActionHalt},
	{PhaseRevise, StageResponse, CommandCancel}:  {PhaseCancelled, StageNone, ActionCancel},
}

// Lookup resolves a command against the transition table. Commands with no
// entry for the current state, including anything issued in a terminal
// phase, come back as an INVALID_COMMAND error and must leave the session
// untouched.
func Lookup(phase Phase, stage Stage, cmd Command) (Transition, error) {
	t, ok := transitions[stateKey{phase, stage, cmd}]
	if !ok {
		return Transition{}, errors.ErrInvalidCommand(string(phase), string(stage), string(cmd))
	}
	return t, nil
}

// AcceptedCommands returns the commands the table accepts in a state, in a
// stable order. Terminal phases accept none.
func AcceptedCommands(phase Phase, stage Stage) []Command {
	var cmds []Command
	for k := range transitions {
		if k.phase == phase && k.stage == stage {
			cmds = append(cmds, k.command)
		}
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i] < cmds[j] })
	return cmds
}
