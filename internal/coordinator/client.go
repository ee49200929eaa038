// Package coordinator describes the remote workflow coordination service as
// the workers see it: long polls for work and reports of outcomes.
package coordinator

import (
	"context"
	"errors"

	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/decision"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/history"
)

// ErrMissingClient is returned when an agent is built without a coordinator client.
var ErrMissingClient = errors.New("coordinator client is required")

// ErrRejected marks a request refused for its content, such as an unknown
// task token or a decision the coordinator cannot accept. Sending the same
// request again gets the same answer.
var ErrRejected = errors.New("rejected by coordinator")

// Client is the wire client of the coordinator. Implementations must be safe
// for concurrent use: every agent of the process shares one.
type Client interface {
	// PollForActivityTask long polls for activity work. A task with an empty
	// token means the poll timed out without work.
	PollForActivityTask(ctx context.Context, req PollForActivityTaskRequest) (*history.ActivityTask, error)
	// PollForDecisionTask long polls for decision work, or fetches the next
	// history page of a task already acquired when NextPageToken is set.
	PollForDecisionTask(ctx context.Context, req PollForDecisionTaskRequest) (*history.DecisionTask, error)
	RespondActivityTaskCompleted(ctx context.Context, req RespondActivityTaskCompletedRequest) error
	RespondActivityTaskFailed(ctx context.Context, req RespondActivityTaskFailedRequest) error
	RespondDecisionTaskCompleted(ctx context.Context, req RespondDecisionTaskCompletedRequest) error
}

type PollForActivityTaskRequest struct {
	Domain   string
	Identity string
	TaskList string
}

type PollForDecisionTaskRequest struct {
	Domain        string
	Identity      string
	TaskList      string
	NextPageToken string
}

type RespondActivityTaskCompletedRequest struct {
	TaskToken string
	Result    string
	Identity  string
}

type RespondActivityTaskFailedRequest struct {
	TaskToken string
	Reason    string
	Details   string
	Identity  string
}

type RespondDecisionTaskCompletedRequest struct {
	TaskToken string
	Decisions []decision.Decision
	Identity  string
}

// DecisionValidator is implemented by clients that can check decisions
// before they are reported. Deciders use it to fail the workflow instead of
// sending a list the coordinator would refuse.
type DecisionValidator interface {
	ValidateDecisions(decisions []decision.Decision) error
}
