package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestTryMarkRunningClaimsLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	defer db.Close()

	s := New(db)

	mock.ExpectExec("UPDATE schedule_configs").
		WithArgs(JobTypeCollection).
		WillReturnResult(sqlmock.NewResult(0, 1))

	claimed, err := s.TryMarkRunning(context.Background(), JobTypeCollection)
	if err != nil {
		t.Fatalf("TryMarkRunning failed: %v", err)
	}
	if !claimed {
		t.Error("Expected lock to be claimed")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestTryMarkRunningSkipsHeldLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	defer db.Close()

	s := New(db)

	// The guarded UPDATE matches no row when running is already TRUE
	mock.ExpectExec("UPDATE schedule_configs").
		WithArgs(JobTypeReporting).
		WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err := s.TryMarkRunning(context.Background(), JobTypeReporting)
	if err != nil {
		t.Fatalf("TryMarkRunning failed: %v", err)
	}
	if claimed {
		t.Error("Expected held lock to block the claim")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestFinishRunRecordsErrorWithoutDisabling(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	defer db.Close()

	s := New(db)

	mock.ExpectExec("UPDATE schedule_configs").
		WithArgs(sqlmock.AnyArg(), "upstream exploded", JobTypeCollection).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.FinishRun(context.Background(), JobTypeCollection, errors.New("upstream exploded")); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestClearRunningReleasesStaleLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	defer db.Close()

	s := New(db)

	mock.ExpectExec("UPDATE schedule_configs SET running = FALSE").
		WithArgs(JobTypeCollection).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.ClearRunning(context.Background(), JobTypeCollection); err != nil {
		t.Fatalf("ClearRunning failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestClearRunningMissingRowIsANoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	defer db.Close()

	s := New(db)

	mock.ExpectExec("UPDATE schedule_configs SET running = FALSE").
		WithArgs(JobTypeReporting).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.ClearRunning(context.Background(), JobTypeReporting); err != nil {
		t.Fatalf("ClearRunning on a missing row should be a no-op, got: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestEnsureScheduleConfigPreservesExistingRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	defer db.Close()

	s := New(db)

	// ON CONFLICT DO NOTHING: zero rows affected is still success
	mock.ExpectExec("INSERT INTO schedule_configs").
		WithArgs(JobTypeCollection, "0 6 * * *").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.EnsureScheduleConfig(context.Background(), JobTypeCollection, "0 6 * * *"); err != nil {
		t.Fatalf("EnsureScheduleConfig failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}
