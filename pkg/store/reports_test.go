package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestSaveReportAdoptsSurvivingRowID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	defer db.Close()

	s := New(db)
	ctx := context.Background()

	// Regenerating a period conflicts with the stored row, which keeps its
	// original id. The caller's report must end up carrying that id so a
	// later MarkDelivered addresses the row that survived.
	r := &Report{
		ID:          "report-2",
		SiteID:      7,
		PeriodStart: "2026-08-14",
		PeriodEnd:   "2026-08-20",
		Granularity: "weekly",
	}

	mock.ExpectQuery("INSERT INTO reports").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("report-1"))

	if err := s.SaveReport(ctx, r); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if r.ID != "report-1" {
		t.Errorf("expected report to adopt the stored row id report-1, got %s", r.ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestMarkDeliveredUnknownReport(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	defer db.Close()

	s := New(db)

	mock.ExpectExec("UPDATE reports SET delivered_at").
		WithArgs(sqlmock.AnyArg(), "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.MarkDelivered(context.Background(), "missing", time.Now()); err == nil {
		t.Fatal("expected an error for an unknown report id")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}
