package circuitbreaker

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap/zaptest"
)

func newMockDB(t *testing.T, monitorPings bool) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(monitorPings))
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestDatabaseWrapper_NormalOperations(t *testing.T) {
	db, mock := newMockDB(t, true)
	defer db.Close()

	wrapper := NewDatabaseWrapper(db, zaptest.NewLogger(t))
	ctx := context.Background()

	mock.ExpectPing()
	if err := wrapper.PingContext(ctx); err != nil {
		t.Errorf("PingContext failed: %v", err)
	}

	mock.ExpectExec("INSERT INTO task_outcomes").
		WithArgs("decider", "ok").
		WillReturnResult(sqlmock.NewResult(1, 1))
	result, err := wrapper.NamedExecContext(ctx,
		"INSERT INTO task_outcomes (role, outcome) VALUES (:role, :outcome)",
		map[string]interface{}{"role": "decider", "outcome": "ok"})
	if err != nil {
		t.Fatalf("NamedExecContext failed: %v", err)
	}
	if affected, _ := result.RowsAffected(); affected != 1 {
		t.Errorf("Expected 1 affected row, got %d", affected)
	}

	rows := sqlmock.NewRows([]string{"outcome"}).AddRow("ok").AddRow("failed")
	mock.ExpectQuery("SELECT outcome FROM task_outcomes").WillReturnRows(rows)
	var outcomes []string
	if err := wrapper.SelectContext(ctx, &outcomes, "SELECT outcome FROM task_outcomes"); err != nil {
		t.Fatalf("SelectContext failed: %v", err)
	}
	if len(outcomes) != 2 {
		t.Errorf("Expected 2 outcomes, got %v", outcomes)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestDatabaseWrapper_CircuitBreakerTriggering(t *testing.T) {
	db, mock := newMockDB(t, false)
	defer db.Close()

	wrapper := NewDatabaseWrapper(db, zaptest.NewLogger(t))
	ctx := context.Background()

	threshold := int(GetDatabaseConfig().FailureThreshold)
	for i := 0; i < threshold; i++ {
		mock.ExpectExec("INSERT").WillReturnError(errors.New("connection reset"))
		if _, err := wrapper.ExecContext(ctx, "INSERT INTO task_outcomes DEFAULT VALUES"); err == nil {
			t.Error("Expected exec to fail")
		}
	}

	if !wrapper.IsCircuitBreakerOpen() {
		t.Fatal("Expected circuit breaker to be open")
	}

	if _, err := wrapper.ExecContext(ctx, "INSERT INTO task_outcomes DEFAULT VALUES"); err != ErrCircuitBreakerOpen {
		t.Errorf("Expected circuit breaker open error, got %v", err)
	}
}
