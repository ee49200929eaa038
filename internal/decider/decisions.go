package decider

import (
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/decision"
)

// Decisions accumulates the decisions produced while handling one decision
// task. A fresh value is created for every Engine.Handle call and handed to
// each handler; handlers append through the helper methods.
type Decisions struct {
	list []decision.Decision
}

// Append adds an already built decision
func (d *Decisions) Append(dec decision.Decision) {
	d.list = append(d.list, dec)
}

// ScheduleActivity schedules an activity task
func (d *Decisions) ScheduleActivity(attrs decision.ScheduleActivityTaskAttributes) {
	d.Append(decision.ScheduleActivityTask(attrs))
}

// RequestCancelActivity asks the coordinator to cancel a scheduled activity
func (d *Decisions) RequestCancelActivity(attrs decision.RequestCancelActivityTaskAttributes) {
	d.Append(decision.RequestCancelActivityTask(attrs))
}

// CompleteWorkflow closes the workflow execution successfully
func (d *Decisions) CompleteWorkflow(attrs decision.CompleteWorkflowExecutionAttributes) {
	d.Append(decision.CompleteWorkflowExecution(attrs))
}

// CompleteWorkflowResult closes the workflow execution with result
func (d *Decisions) CompleteWorkflowResult(result string) {
	d.CompleteWorkflow(decision.CompleteWorkflowExecutionAttributes{Result: result})
}

// FailWorkflow closes the workflow execution as failed
func (d *Decisions) FailWorkflow(attrs decision.FailWorkflowExecutionAttributes) {
	d.Append(decision.FailWorkflowExecution(attrs))
}

// FailWorkflowReason closes the workflow execution as failed with the given reason and details
func (d *Decisions) FailWorkflowReason(reason, details string) {
	d.FailWorkflow(decision.FailWorkflowExecutionAttributes{Reason: reason, Details: details})
}

// CancelWorkflowExecution closes the workflow execution as canceled
func (d *Decisions) CancelWorkflowExecution(attrs decision.CancelWorkflowExecutionAttributes) {
	d.Append(decision.CancelWorkflowExecution(attrs))
}

// StartChildWorkflow starts a child workflow execution
func (d *Decisions) StartChildWorkflow(attrs decision.StartChildWorkflowExecutionAttributes) {
	d.Append(decision.StartChildWorkflowExecution(attrs))
}

// CancelChildWorkflow is used by a child workflow's decider to acknowledge a
// cancel request from its parent; it emits CancelWorkflowExecution.
func (d *Decisions) CancelChildWorkflow(attrs decision.CancelWorkflowExecutionAttributes) {
	d.CancelWorkflowExecution(attrs)
}

// RequestCancelExternalWorkflowExecution asks another workflow execution to cancel
func (d *Decisions) RequestCancelExternalWorkflowExecution(attrs decision.RequestCancelExternalWorkflowExecutionAttributes) {
	d.Append(decision.RequestCancelExternalWorkflowExecution(attrs))
}

// RecordMarker records a marker in the workflow history
func (d *Decisions) RecordMarker(attrs decision.RecordMarkerAttributes) {
	d.Append(decision.RecordMarker(attrs))
}

// Len returns the number of accumulated decisions
func (d *Decisions) Len() int {
	return len(d.list)
}

// List returns a copy of the accumulated decisions
func (d *Decisions) List() []decision.Decision {
	out := make([]decision.Decision, len(d.list))
	copy(out, d.list)
	return out
}

func (d *Decisions) reset() {
	d.list = d.list[:0]
}
