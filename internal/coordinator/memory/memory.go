// Package memory is an in-process coordinator. It keeps workflow histories in
// memory, hands out decision and activity tasks through long polls and
// applies the decisions reported back. It backs local runs of the worker
// binary and end-to-end tests; nothing survives the process.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/coordinator"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/decision"
	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/history"
)

var (
	ErrUnknownTaskToken   = fmt.Errorf("unknown task token: %w", coordinator.ErrRejected)
	ErrUnknownPageToken   = fmt.Errorf("unknown next page token: %w", coordinator.ErrRejected)
	ErrWorkflowNotFound   = errors.New("workflow execution not found")
	ErrWorkflowIDConflict = errors.New("workflow execution already running")
)

// Status is the close status of a workflow execution
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Options configures a Coordinator
type Options struct {
	// PollTimeout bounds how long a poll waits for work before returning an
	// empty task. Defaults to 10s.
	PollTimeout time.Duration
	// PageSize splits decision task histories into pages of at most that
	// many events. Zero returns the whole history at once.
	PageSize int
	Logger   *zap.Logger
}

// Outcome describes a closed workflow execution
type Outcome struct {
	Execution history.WorkflowExecution
	Status    Status
	Result    string
	Reason    string
	Details   string
}

// StartWorkflowRequest starts a new workflow execution
type StartWorkflowRequest struct {
	Domain       string
	WorkflowID   string
	WorkflowType history.WorkflowType
	TaskList     string
	Input        string
}

type execution struct {
	domain    string
	exec      history.WorkflowExecution
	wfType    history.WorkflowType
	taskList  string
	events    []history.Event
	parent    *history.WorkflowExecution
	parentRef int64

	previousStarted int64
	decisionQueued  bool
	decisionOpen    bool
	dirty           bool

	status  Status
	outcome Outcome
	done    chan struct{}
}

func (e *execution) append(ev history.Event) int64 {
	ev.ID = int64(len(e.events)) + 1
	ev.Timestamp = time.Now()
	e.events = append(e.events, ev)
	return ev.ID
}

type openDecision struct {
	runID   string
	started int64
}

type openActivity struct {
	runID            string
	scheduledEventID int64
	task             history.ActivityTask
}

// Coordinator is an in-memory coordinator.Client
type Coordinator struct {
	opts   Options
	logger *zap.Logger

	mu         sync.Mutex
	executions map[string]*execution // run id
	running    map[string]string     // workflow id -> run id of the open execution
	decisions  map[string]*queue[string]
	activities map[string]*queue[*openActivity]
	openDec    map[string]openDecision
	openAct    map[string]*openActivity
	pages      map[string]*history.DecisionTask
}

var _ coordinator.Client = (*Coordinator)(nil)

// New creates an empty in-memory coordinator
func New(opts Options) *Coordinator {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Coordinator{
		opts:       opts,
		logger:     opts.Logger,
		executions: make(map[string]*execution),
		running:    make(map[string]string),
		decisions:  make(map[string]*queue[string]),
		activities: make(map[string]*queue[*openActivity]),
		openDec:    make(map[string]openDecision),
		openAct:    make(map[string]*openActivity),
		pages:      make(map[string]*history.DecisionTask),
	}
}

func queueKey(domain, taskList string) string {
	return domain + "/" + taskList
}

func (c *Coordinator) decisionQueue(domain, taskList string) *queue[string] {
	k := queueKey(domain, taskList)
	q, ok := c.decisions[k]
	if !ok {
		q = newQueue[string]()
		c.decisions[k] = q
	}
	return q
}

func (c *Coordinator) activityQueue(domain, taskList string) *queue[*openActivity] {
	k := queueKey(domain, taskList)
	q, ok := c.activities[k]
	if !ok {
		q = newQueue[*openActivity]()
		c.activities[k] = q
	}
	return q
}

// StartWorkflow records WorkflowExecutionStarted and schedules the first decision task
func (c *Coordinator) StartWorkflow(ctx context.Context, req StartWorkflowRequest) (history.WorkflowExecution, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked(req, nil, 0)
}

func (c *Coordinator) startLocked(req StartWorkflowRequest, parent *history.WorkflowExecution, initiated int64) (history.WorkflowExecution, error) {
	if req.WorkflowID == "" {
		req.WorkflowID = uuid.NewString()
	}
	if _, ok := c.running[req.WorkflowID]; ok {
		return history.WorkflowExecution{}, fmt.Errorf("%w: %s", ErrWorkflowIDConflict, req.WorkflowID)
	}

	e := &execution{
		domain:    req.Domain,
		exec:      history.WorkflowExecution{WorkflowID: req.WorkflowID, RunID: uuid.NewString()},
		wfType:    req.WorkflowType,
		taskList:  req.TaskList,
		parent:    parent,
		parentRef: initiated,
		status:    StatusRunning,
		done:      make(chan struct{}),
	}
	e.append(history.Event{
		Type: history.EventTypeWorkflowExecutionStarted,
		WorkflowExecutionStarted: &history.WorkflowExecutionStartedAttributes{
			WorkflowType:            req.WorkflowType,
			TaskList:                req.TaskList,
			Input:                   req.Input,
			ParentWorkflowExecution: parent,
			ParentInitiatedEventID:  initiated,
		},
	})
	c.executions[e.exec.RunID] = e
	c.running[e.exec.WorkflowID] = e.exec.RunID
	c.scheduleDecisionLocked(e)

	c.logger.Debug("Workflow started",
		zap.String("workflow_id", e.exec.WorkflowID),
		zap.String("run_id", e.exec.RunID),
		zap.String("workflow_type", e.wfType.Name),
	)
	return e.exec, nil
}

// SignalWorkflow records WorkflowExecutionSignaled on the open execution of workflowID
func (c *Coordinator) SignalWorkflow(ctx context.Context, workflowID, name, input string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.openLocked(workflowID)
	if err != nil {
		return err
	}
	e.append(history.Event{
		Type:                      history.EventTypeWorkflowExecutionSignaled,
		WorkflowExecutionSignaled: &history.WorkflowExecutionSignaledAttributes{SignalName: name, Input: input},
	})
	c.scheduleDecisionLocked(e)
	return nil
}

// RequestCancelWorkflow records WorkflowExecutionCancelRequested on the open execution of workflowID
func (c *Coordinator) RequestCancelWorkflow(ctx context.Context, workflowID, cause string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.openLocked(workflowID)
	if err != nil {
		return err
	}
	c.requestCancelLocked(e, cause, nil, 0)
	return nil
}

// Await blocks until the execution closes or ctx is done
func (c *Coordinator) Await(ctx context.Context, exec history.WorkflowExecution) (Outcome, error) {
	c.mu.Lock()
	e, ok := c.executions[exec.RunID]
	c.mu.Unlock()
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s/%s", ErrWorkflowNotFound, exec.WorkflowID, exec.RunID)
	}

	select {
	case <-e.done:
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return e.outcome, nil
}

// History returns a copy of the events recorded for an execution
func (c *Coordinator) History(exec history.WorkflowExecution) ([]history.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.executions[exec.RunID]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrWorkflowNotFound, exec.WorkflowID, exec.RunID)
	}
	out := make([]history.Event, len(e.events))
	copy(out, e.events)
	return out, nil
}

func (c *Coordinator) openLocked(workflowID string) (*execution, error) {
	runID, ok := c.running[workflowID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}
	return c.executions[runID], nil
}

// scheduleDecisionLocked queues a decision task for e unless one is already
// queued. New events arriving while a decision is in flight are picked up by
// a follow-up task once it completes.
func (c *Coordinator) scheduleDecisionLocked(e *execution) {
	if e.status != StatusRunning {
		return
	}
	if e.decisionOpen {
		e.dirty = true
		return
	}
	if e.decisionQueued {
		return
	}
	e.decisionQueued = true
	c.decisionQueue(e.domain, e.taskList).push(e.exec.RunID)
}

// PollForDecisionTask implements coordinator.Client
func (c *Coordinator) PollForDecisionTask(ctx context.Context, req coordinator.PollForDecisionTaskRequest) (*history.DecisionTask, error) {
	if req.NextPageToken != "" {
		return c.nextPage(req.NextPageToken)
	}

	c.mu.Lock()
	q := c.decisionQueue(req.Domain, req.TaskList)
	c.mu.Unlock()

	for {
		runID, ok, err := q.pop(ctx, c.opts.PollTimeout, &c.mu)
		if err != nil {
			return nil, err
		}
		if !ok {
			return &history.DecisionTask{}, nil
		}
		task := c.acquireDecisionLocked(runID)
		c.mu.Unlock()
		if task != nil {
			return task, nil
		}
	}
}

// acquireDecisionLocked is called with c.mu held by queue.pop
func (c *Coordinator) acquireDecisionLocked(runID string) *history.DecisionTask {
	e, ok := c.executions[runID]
	if !ok || e.status != StatusRunning {
		return nil
	}
	e.decisionQueued = false
	e.decisionOpen = true

	token := uuid.NewString()
	started := int64(len(e.events))
	c.openDec[token] = openDecision{runID: runID, started: started}

	events := make([]history.Event, len(e.events))
	copy(events, e.events)
	task := &history.DecisionTask{
		TaskToken:              token,
		WorkflowExecution:      e.exec,
		WorkflowType:           e.wfType,
		Events:                 events,
		PreviousStartedEventID: e.previousStarted,
		StartedEventID:         started,
	}
	return c.paginateLocked(task, token, 0)
}

// paginateLocked cuts the page starting at offset out of the full task and
// remembers the remainder under a page token
func (c *Coordinator) paginateLocked(full *history.DecisionTask, token string, offset int) *history.DecisionTask {
	if c.opts.PageSize <= 0 || len(full.Events)-offset <= c.opts.PageSize {
		page := *full
		page.Events = full.Events[offset:]
		return &page
	}

	next := offset + c.opts.PageSize
	pageToken := token + ":" + strconv.Itoa(next)
	c.pages[pageToken] = full

	page := *full
	page.Events = full.Events[offset:next]
	page.NextPageToken = pageToken
	return &page
}

func (c *Coordinator) nextPage(pageToken string) (*history.DecisionTask, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	full, ok := c.pages[pageToken]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPageToken, pageToken)
	}
	delete(c.pages, pageToken)

	i := strings.LastIndexByte(pageToken, ':')
	offset, err := strconv.Atoi(pageToken[i+1:])
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPageToken, pageToken)
	}
	return c.paginateLocked(full, pageToken[:i], offset), nil
}

// RespondDecisionTaskCompleted implements coordinator.Client
func (c *Coordinator) RespondDecisionTaskCompleted(ctx context.Context, req coordinator.RespondDecisionTaskCompletedRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	open, ok := c.openDec[req.TaskToken]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTaskToken, req.TaskToken)
	}
	for i, d := range req.Decisions {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("%w: decision %d: %w", coordinator.ErrRejected, i, err)
		}
	}
	delete(c.openDec, req.TaskToken)

	e := c.executions[open.runID]
	e.decisionOpen = false
	e.previousStarted = open.started

	for _, d := range req.Decisions {
		if e.status != StatusRunning {
			break
		}
		c.applyLocked(e, d)
	}

	if e.dirty {
		e.dirty = false
		c.scheduleDecisionLocked(e)
	}
	return nil
}

func (c *Coordinator) applyLocked(e *execution, d decision.Decision) {
	switch d.Type {
	case decision.TypeScheduleActivityTask:
		a := d.ScheduleActivityTask
		taskList := a.TaskList
		if taskList == "" {
			taskList = e.taskList
		}
		id := e.append(history.Event{
			Type: history.EventTypeActivityTaskScheduled,
			ActivityTaskScheduled: &history.ActivityTaskScheduledAttributes{
				ActivityID:   a.ActivityID,
				ActivityType: a.ActivityType,
				TaskList:     taskList,
				Input:        a.Input,
				Control:      a.Control,
			},
		})
		c.activityQueue(e.domain, taskList).push(&openActivity{
			runID:            e.exec.RunID,
			scheduledEventID: id,
			task: history.ActivityTask{
				ActivityID:        a.ActivityID,
				ActivityType:      a.ActivityType,
				WorkflowExecution: e.exec,
				Input:             a.Input,
			},
		})

	case decision.TypeRequestCancelActivityTask:
		c.cancelActivityLocked(e, d.RequestCancelActivityTask)

	case decision.TypeCompleteWorkflowExecution:
		c.closeLocked(e, Outcome{Status: StatusCompleted, Result: d.CompleteWorkflowExecution.Result})

	case decision.TypeFailWorkflowExecution:
		f := d.FailWorkflowExecution
		c.closeLocked(e, Outcome{Status: StatusFailed, Reason: f.Reason, Details: f.Details})

	case decision.TypeCancelWorkflowExecution:
		c.closeLocked(e, Outcome{Status: StatusCanceled, Details: d.CancelWorkflowExecution.Details})

	case decision.TypeStartChildWorkflowExecution:
		a := d.StartChildWorkflowExecution
		taskList := a.TaskList
		if taskList == "" {
			taskList = e.taskList
		}
		parent := e.exec
		// the initiating decision has no event of its own here; the last
		// event of the parent stands in for it
		_, err := c.startLocked(StartWorkflowRequest{
			Domain:       e.domain,
			WorkflowID:   a.WorkflowID,
			WorkflowType: a.WorkflowType,
			TaskList:     taskList,
			Input:        a.Input,
		}, &parent, int64(len(e.events)))
		if err != nil {
			c.logger.Warn("Failed to start child workflow", zap.String("workflow_id", a.WorkflowID), zap.Error(err))
		}

	case decision.TypeRequestCancelExternalWorkflowExecution:
		a := d.RequestCancelExternalWorkflowExecution
		target, err := c.openLocked(a.WorkflowID)
		if err != nil || (a.RunID != "" && target.exec.RunID != a.RunID) {
			c.logger.Warn("Cancel requested for unknown workflow", zap.String("workflow_id", a.WorkflowID))
			return
		}
		source := e.exec
		c.requestCancelLocked(target, "", &source, int64(len(e.events)))

	case decision.TypeRecordMarker:
		e.append(history.Event{
			Type:           history.EventTypeMarkerRecorded,
			MarkerRecorded: &history.MarkerRecordedAttributes{MarkerName: d.RecordMarker.MarkerName, Details: d.RecordMarker.Details},
		})
	}
}

func (c *Coordinator) requestCancelLocked(e *execution, cause string, source *history.WorkflowExecution, initiated int64) {
	e.append(history.Event{
		Type: history.EventTypeWorkflowExecutionCancelRequested,
		WorkflowExecutionCancelRequested: &history.WorkflowExecutionCancelRequestedAttributes{
			Cause:                     cause,
			ExternalWorkflowExecution: source,
			ExternalInitiatedEventID:  initiated,
		},
	})
	c.scheduleDecisionLocked(e)
}

func (c *Coordinator) cancelActivityLocked(e *execution, a *decision.RequestCancelActivityTaskAttributes) {
	for token, act := range c.openAct {
		if act.runID != e.exec.RunID {
			continue
		}
		if act.task.ActivityID != a.ActivityID && act.scheduledEventID != a.ScheduledEventID {
			continue
		}
		delete(c.openAct, token)
		e.append(history.Event{
			Type: history.EventTypeActivityTaskCanceled,
			ActivityTaskCanceled: &history.ActivityTaskCanceledAttributes{
				ScheduledEventID: act.scheduledEventID,
				StartedEventID:   act.task.StartedEventID,
			},
		})
		c.scheduleDecisionLocked(e)
		return
	}
}

func (c *Coordinator) closeLocked(e *execution, out Outcome) {
	out.Execution = e.exec
	e.status = out.Status
	e.outcome = out
	e.decisionQueued = false
	e.dirty = false
	delete(c.running, e.exec.WorkflowID)
	close(e.done)

	c.logger.Debug("Workflow closed",
		zap.String("workflow_id", e.exec.WorkflowID),
		zap.String("run_id", e.exec.RunID),
		zap.String("status", string(out.Status)),
	)

	if e.parent == nil {
		return
	}
	parent, ok := c.executions[e.parent.RunID]
	if !ok || parent.status != StatusRunning {
		return
	}
	child := history.ChildWorkflow{
		WorkflowExecution: e.exec,
		WorkflowType:      e.wfType,
		InitiatedEventID:  e.parentRef,
		StartedEventID:    1,
	}
	switch out.Status {
	case StatusCompleted:
		parent.append(history.Event{
			Type:                            history.EventTypeChildWorkflowExecutionCompleted,
			ChildWorkflowExecutionCompleted: &history.ChildWorkflowExecutionCompletedAttributes{ChildWorkflow: child, Result: out.Result},
		})
	case StatusFailed:
		parent.append(history.Event{
			Type:                         history.EventTypeChildWorkflowExecutionFailed,
			ChildWorkflowExecutionFailed: &history.ChildWorkflowExecutionFailedAttributes{ChildWorkflow: child, Reason: out.Reason, Details: out.Details},
		})
	case StatusCanceled:
		parent.append(history.Event{
			Type:                           history.EventTypeChildWorkflowExecutionCanceled,
			ChildWorkflowExecutionCanceled: &history.ChildWorkflowExecutionCanceledAttributes{ChildWorkflow: child, Details: out.Details},
		})
	}
	c.scheduleDecisionLocked(parent)
}

// PollForActivityTask implements coordinator.Client
func (c *Coordinator) PollForActivityTask(ctx context.Context, req coordinator.PollForActivityTaskRequest) (*history.ActivityTask, error) {
	c.mu.Lock()
	q := c.activityQueue(req.Domain, req.TaskList)
	c.mu.Unlock()

	for {
		act, ok, err := q.pop(ctx, c.opts.PollTimeout, &c.mu)
		if err != nil {
			return nil, err
		}
		if !ok {
			return &history.ActivityTask{}, nil
		}
		task := c.acquireActivityLocked(act)
		c.mu.Unlock()
		if task != nil {
			return task, nil
		}
	}
}

func (c *Coordinator) acquireActivityLocked(act *openActivity) *history.ActivityTask {
	e, ok := c.executions[act.runID]
	if !ok || e.status != StatusRunning {
		return nil
	}
	token := uuid.NewString()
	act.task.TaskToken = token
	act.task.StartedEventID = act.scheduledEventID
	c.openAct[token] = act

	task := act.task
	return &task
}

// RespondActivityTaskCompleted implements coordinator.Client
func (c *Coordinator) RespondActivityTaskCompleted(ctx context.Context, req coordinator.RespondActivityTaskCompletedRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	act, e, err := c.closeActivityLocked(req.TaskToken)
	if err != nil || e == nil {
		return err
	}
	e.append(history.Event{
		Type: history.EventTypeActivityTaskCompleted,
		ActivityTaskCompleted: &history.ActivityTaskCompletedAttributes{
			ScheduledEventID: act.scheduledEventID,
			StartedEventID:   act.task.StartedEventID,
			Result:           req.Result,
		},
	})
	c.scheduleDecisionLocked(e)
	return nil
}

// RespondActivityTaskFailed implements coordinator.Client
func (c *Coordinator) RespondActivityTaskFailed(ctx context.Context, req coordinator.RespondActivityTaskFailedRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	act, e, err := c.closeActivityLocked(req.TaskToken)
	if err != nil || e == nil {
		return err
	}
	e.append(history.Event{
		Type: history.EventTypeActivityTaskFailed,
		ActivityTaskFailed: &history.ActivityTaskFailedAttributes{
			ScheduledEventID: act.scheduledEventID,
			StartedEventID:   act.task.StartedEventID,
			Reason:           req.Reason,
			Details:          req.Details,
		},
	})
	c.scheduleDecisionLocked(e)
	return nil
}

// closeActivityLocked forgets an open activity. A nil execution without error
// means the workflow closed in the meantime and the report is dropped.
func (c *Coordinator) closeActivityLocked(token string) (*openActivity, *execution, error) {
	act, ok := c.openAct[token]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownTaskToken, token)
	}
	delete(c.openAct, token)

	e, ok := c.executions[act.runID]
	if !ok || e.status != StatusRunning {
		return act, nil, nil
	}
	return act, e, nil
}
