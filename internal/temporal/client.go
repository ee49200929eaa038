package temporal

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	commandpb "go.temporal.io/api/command/v1"
	commonpb "go.temporal.io/api/common/v1"
	"go.temporal.io/api/workflowservice/v1"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/coordinator"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/decision"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/history"
)

// ErrUnknownPageToken is returned for a next page token this client did not
// issue, or one that expired.
var ErrUnknownPageToken = fmt.Errorf("unknown history page token: %w", coordinator.ErrRejected)

// DefaultPollTimeout bounds one long poll; the server answers empty polls
// well before it.
const DefaultPollTimeout = 70 * time.Second

// DefaultPageTTL is how long an unused history page token stays valid
const DefaultPageTTL = 10 * time.Minute

// ClientOptions configures a Client
type ClientOptions struct {
	// Namespace is used where a request carries no domain, such as the
	// namespace of child workflows.
	Namespace   string
	PollTimeout time.Duration
	// PageSize is the history page size requested for follow-up pages
	PageSize int32
	// PageTTL drops page tokens nobody asked for within that long
	PageTTL   time.Duration
	Converter *Converter
	Logger    *zap.Logger
}

// Client implements coordinator.Client over the Temporal frontend service.
// Domains map to namespaces and task lists to task queues. Task tokens handed
// to agents carry the namespace they were polled in, so every report goes
// back to that namespace.
type Client struct {
	svc         workflowservice.WorkflowServiceClient
	namespace   string
	conv        *Converter
	pollTimeout time.Duration
	pageSize    int32
	pageTTL     time.Duration
	logger      *zap.Logger
	now         func() time.Time

	// pages maps the page tokens handed to agents to the history cursor
	// they continue.
	pages sync.Map
}

type pageCursor struct {
	namespace  string
	task       history.DecisionTask
	serverNext []byte
	expires    time.Time
}

var (
	_ coordinator.Client            = (*Client)(nil)
	_ coordinator.DecisionValidator = (*Client)(nil)
)

// NewClient wraps a workflow service client
func NewClient(svc workflowservice.WorkflowServiceClient, opts ClientOptions) *Client {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	if opts.Converter == nil {
		opts.Converter = NewConverter(nil)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.PageTTL <= 0 {
		opts.PageTTL = DefaultPageTTL
	}
	return &Client{
		svc:         svc,
		namespace:   opts.Namespace,
		conv:        opts.Converter,
		pollTimeout: opts.PollTimeout,
		pageSize:    opts.PageSize,
		pageTTL:     opts.PageTTL,
		logger:      opts.Logger,
		now:         time.Now,
	}
}

// PollForDecisionTask long polls the task queue, or fetches the next history
// page when req carries a page token.
func (c *Client) PollForDecisionTask(ctx context.Context, req coordinator.PollForDecisionTaskRequest) (*history.DecisionTask, error) {
	if req.NextPageToken != "" {
		return c.nextPage(ctx, req.NextPageToken)
	}

	pollCtx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()
	resp, err := c.svc.PollWorkflowTaskQueue(pollCtx, &workflowservice.PollWorkflowTaskQueueRequest{
		Namespace: req.Domain,
		TaskQueue: taskQueue(req.TaskList),
		Identity:  req.Identity,
	})
	if err != nil {
		if emptyPoll(ctx, err) {
			return &history.DecisionTask{}, nil
		}
		return nil, fmt.Errorf("poll workflow task queue %s: %w", req.TaskList, err)
	}
	if len(resp.GetTaskToken()) == 0 {
		return &history.DecisionTask{}, nil
	}

	task := &history.DecisionTask{
		TaskToken:              taskToken(req.Domain, resp.GetTaskToken()),
		WorkflowExecution:      history.WorkflowExecution{WorkflowID: resp.GetWorkflowExecution().GetWorkflowId(), RunID: resp.GetWorkflowExecution().GetRunId()},
		WorkflowType:           workflowType(resp.GetWorkflowType()),
		Events:                 c.conv.Events(resp.GetHistory().GetEvents()),
		PreviousStartedEventID: resp.GetPreviousStartedEventId(),
		StartedEventID:         resp.GetStartedEventId(),
	}
	task.NextPageToken = c.rememberPage(req.Domain, task, resp.GetNextPageToken())
	return task, nil
}

func (c *Client) nextPage(ctx context.Context, token string) (*history.DecisionTask, error) {
	v, ok := c.pages.LoadAndDelete(token)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPageToken, token)
	}
	cur := v.(*pageCursor)
	if c.now().After(cur.expires) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPageToken, token)
	}

	resp, err := c.svc.GetWorkflowExecutionHistory(ctx, &workflowservice.GetWorkflowExecutionHistoryRequest{
		Namespace: cur.namespace,
		Execution: &commonpb.WorkflowExecution{
			WorkflowId: cur.task.WorkflowExecution.WorkflowID,
			RunId:      cur.task.WorkflowExecution.RunID,
		},
		MaximumPageSize: c.pageSize,
		NextPageToken:   cur.serverNext,
	})
	if err != nil {
		// keep the cursor so a retry of the same token can succeed
		c.pages.Store(token, cur)
		return nil, fmt.Errorf("get history page of %s: %w", cur.task.WorkflowExecution.WorkflowID, err)
	}

	page := cur.task
	page.Events = c.conv.Events(resp.GetHistory().GetEvents())
	page.NextPageToken = c.rememberPage(cur.namespace, &page, resp.GetNextPageToken())
	return &page, nil
}

// rememberPage registers a cursor for a server page token and returns the
// opaque token agents use to ask for it. Cursors of abandoned assemblies
// are swept here once they expire.
func (c *Client) rememberPage(namespace string, task *history.DecisionTask, serverNext []byte) string {
	now := c.now()
	c.sweepPages(now)
	if len(serverNext) == 0 {
		return ""
	}
	cur := &pageCursor{namespace: namespace, task: *task, serverNext: serverNext, expires: now.Add(c.pageTTL)}
	cur.task.Events = nil
	cur.task.NextPageToken = ""
	token := fmt.Sprintf("%s/%d/%s", task.WorkflowExecution.RunID, now.UnixNano(), encodeToken(serverNext))
	c.pages.Store(token, cur)
	return token
}

func (c *Client) sweepPages(now time.Time) {
	c.pages.Range(func(k, v any) bool {
		if now.After(v.(*pageCursor).expires) {
			c.pages.CompareAndDelete(k, v)
		}
		return true
	})
}

// PollForActivityTask long polls the activity task queue
func (c *Client) PollForActivityTask(ctx context.Context, req coordinator.PollForActivityTaskRequest) (*history.ActivityTask, error) {
	pollCtx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()
	resp, err := c.svc.PollActivityTaskQueue(pollCtx, &workflowservice.PollActivityTaskQueueRequest{
		Namespace: req.Domain,
		TaskQueue: taskQueue(req.TaskList),
		Identity:  req.Identity,
	})
	if err != nil {
		if emptyPoll(ctx, err) {
			return &history.ActivityTask{}, nil
		}
		return nil, fmt.Errorf("poll activity task queue %s: %w", req.TaskList, err)
	}
	if len(resp.GetTaskToken()) == 0 {
		return &history.ActivityTask{}, nil
	}
	return &history.ActivityTask{
		TaskToken:         taskToken(req.Domain, resp.GetTaskToken()),
		ActivityID:        resp.GetActivityId(),
		ActivityType:      history.ActivityType{Name: resp.GetActivityType().GetName()},
		WorkflowExecution: history.WorkflowExecution{WorkflowID: resp.GetWorkflowExecution().GetWorkflowId(), RunID: resp.GetWorkflowExecution().GetRunId()},
		Input:             c.conv.FromPayloads(resp.GetInput()),
	}, nil
}

// ValidateDecisions reports whether decisions can be turned into commands.
// A decision that passes decision.Validate can still miss what the server
// needs, such as the scheduled event id of a cancelled activity.
func (c *Client) ValidateDecisions(decisions []decision.Decision) error {
	_, err := c.commands(c.namespace, decisions)
	return err
}

func (c *Client) commands(namespace string, decisions []decision.Decision) ([]*commandpb.Command, error) {
	commands, err := c.conv.Commands(namespace, decisions)
	if err != nil {
		return nil, fmt.Errorf("%w: convert decisions: %w", coordinator.ErrRejected, err)
	}
	return commands, nil
}

// RespondDecisionTaskCompleted reports the decisions of a workflow task
func (c *Client) RespondDecisionTaskCompleted(ctx context.Context, req coordinator.RespondDecisionTaskCompletedRequest) error {
	namespace, token, err := c.parseTaskToken(req.TaskToken)
	if err != nil {
		return err
	}
	commands, err := c.commands(namespace, req.Decisions)
	if err != nil {
		return err
	}
	_, err = c.svc.RespondWorkflowTaskCompleted(ctx, &workflowservice.RespondWorkflowTaskCompletedRequest{
		TaskToken: token,
		Commands:  commands,
		Identity:  req.Identity,
		Namespace: namespace,
	})
	if err != nil {
		return fmt.Errorf("respond workflow task completed: %w", err)
	}
	return nil
}

// RespondActivityTaskCompleted reports an activity result
func (c *Client) RespondActivityTaskCompleted(ctx context.Context, req coordinator.RespondActivityTaskCompletedRequest) error {
	namespace, token, err := c.parseTaskToken(req.TaskToken)
	if err != nil {
		return err
	}
	result, err := c.conv.ToPayloads(req.Result)
	if err != nil {
		return fmt.Errorf("encode activity result: %w", err)
	}
	_, err = c.svc.RespondActivityTaskCompleted(ctx, &workflowservice.RespondActivityTaskCompletedRequest{
		TaskToken: token,
		Result:    result,
		Identity:  req.Identity,
		Namespace: namespace,
	})
	if err != nil {
		return fmt.Errorf("respond activity task completed: %w", err)
	}
	return nil
}

// RespondActivityTaskFailed reports an activity failure. The failure stays
// retryable so the server's retry policy decides what happens next.
func (c *Client) RespondActivityTaskFailed(ctx context.Context, req coordinator.RespondActivityTaskFailedRequest) error {
	namespace, token, err := c.parseTaskToken(req.TaskToken)
	if err != nil {
		return err
	}
	_, err = c.svc.RespondActivityTaskFailed(ctx, &workflowservice.RespondActivityTaskFailedRequest{
		TaskToken: token,
		Failure:   newFailure(req.Reason, req.Details, false),
		Identity:  req.Identity,
		Namespace: namespace,
	})
	if err != nil {
		return fmt.Errorf("respond activity task failed: %w", err)
	}
	return nil
}

// emptyPoll reports whether err is the long poll running out of time while
// the caller is still waiting.
func emptyPoll(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return status.Code(err) == codes.DeadlineExceeded
}

func encodeToken(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeToken(s string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: decode task token: %w", coordinator.ErrRejected, err)
	}
	return b, nil
}

// taskToken joins the polled namespace and the server token as
// "<namespace>.<token>", both base64url encoded.
func taskToken(namespace string, raw []byte) string {
	return encodeToken([]byte(namespace)) + "." + encodeToken(raw)
}

// parseTaskToken splits a token built by taskToken. A bare server token
// belongs to the client's namespace.
func (c *Client) parseTaskToken(s string) (string, []byte, error) {
	ns, raw, ok := strings.Cut(s, ".")
	if !ok {
		token, err := decodeToken(s)
		return c.namespace, token, err
	}
	namespace, err := decodeToken(ns)
	if err != nil {
		return "", nil, err
	}
	token, err := decodeToken(raw)
	if err != nil {
		return "", nil, err
	}
	if len(namespace) == 0 {
		return c.namespace, token, nil
	}
	return string(namespace), token, nil
}
