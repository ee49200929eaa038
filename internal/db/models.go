package db

import (
	"time"

	"github.com/google/uuid"

	"github.com/Kocoro-lab/Shannon/go/flowworker/internal/agent"
)

// TaskOutcome is one journal row: what an agent did with one task.
// The journal is an audit trail and never holds workflow state.
type TaskOutcome struct {
	ID         string    `db:"id"`
	Role       string    `db:"role"`
	Identity   string    `db:"identity"`
	Domain     string    `db:"domain"`
	TaskList   string    `db:"task_list"`
	WorkflowID string    `db:"workflow_id"`
	RunID      string    `db:"run_id"`
	TaskType   string    `db:"task_type"`
	Outcome    string    `db:"outcome"`
	Decisions  int       `db:"decisions"`
	Reason     string    `db:"reason"`
	DurationMs int64     `db:"duration_ms"`
	StartedAt  time.Time `db:"started_at"`
	RecordedAt time.Time `db:"recorded_at"`
}

// NewTaskOutcome builds a journal row from an agent outcome
func NewTaskOutcome(o agent.TaskOutcome) *TaskOutcome {
	return &TaskOutcome{
		ID:         uuid.NewString(),
		Role:       string(o.Role),
		Identity:   o.Identity,
		Domain:     o.Domain,
		TaskList:   o.TaskList,
		WorkflowID: o.Workflow.WorkflowID,
		RunID:      o.Workflow.RunID,
		TaskType:   o.Type,
		Outcome:    o.Outcome,
		Decisions:  o.Decisions,
		Reason:     o.Reason,
		DurationMs: o.Duration.Milliseconds(),
		StartedAt:  o.Started.UTC(),
		RecordedAt: time.Now().UTC(),
	}
}

const insertTaskOutcome = `INSERT INTO task_outcomes
	(id, role, identity, domain, task_list, workflow_id, run_id, task_type, outcome, decisions, reason, duration_ms, started_at, recorded_at)
	VALUES
	(:id, :role, :identity, :domain, :task_list, :workflow_id, :run_id, :task_type, :outcome, :decisions, :reason, :duration_ms, :started_at, :recorded_at)`

const selectTaskOutcomes = `SELECT id, role, identity, domain, task_list, workflow_id, run_id, task_type, outcome, decisions, reason, duration_ms, started_at, recorded_at
	FROM task_outcomes WHERE workflow_id = ? ORDER BY recorded_at DESC LIMIT ?`

// schema creates the journal table; the column types are accepted by both
// postgres and sqlite3.
const schema = `CREATE TABLE IF NOT EXISTS task_outcomes (
	id          VARCHAR(36) PRIMARY KEY,
	role        VARCHAR(16) NOT NULL,
	identity    VARCHAR(255) NOT NULL,
	domain      VARCHAR(255) NOT NULL,
	task_list   VARCHAR(255) NOT NULL,
	workflow_id VARCHAR(255) NOT NULL,
	run_id      VARCHAR(255) NOT NULL,
	task_type   VARCHAR(255) NOT NULL,
	outcome     VARCHAR(32) NOT NULL,
	decisions   INTEGER NOT NULL DEFAULT 0,
	reason      TEXT NOT NULL DEFAULT '',
	duration_ms BIGINT NOT NULL DEFAULT 0,
	started_at  TIMESTAMP NOT NULL,
	recorded_at TIMESTAMP NOT NULL
)`

const schemaIndex = `CREATE INDEX IF NOT EXISTS idx_task_outcomes_workflow ON task_outcomes (workflow_id, recorded_at)`
