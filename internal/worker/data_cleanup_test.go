package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestDataCleanup_BatchesUntilEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	dc := NewDataCleanupWorker(db, Retention{})
	dc.pause = 0

	mock.ExpectExec("DELETE FROM delivery_attempts").
		WithArgs(cleanupBatchSize, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, cleanupBatchSize))
	mock.ExpectExec("DELETE FROM delivery_attempts").
		WithArgs(cleanupBatchSize, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 42))
	mock.ExpectExec("DELETE FROM delivery_attempts").
		WithArgs(cleanupBatchSize, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM notification_drops").
		WithArgs(cleanupBatchSize, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	removed := dc.Cleanup(context.Background())
	if removed["delivery_attempts"] != cleanupBatchSize+42 {
		t.Errorf("attempts removed = %d, want %d", removed["delivery_attempts"], cleanupBatchSize+42)
	}
	if removed["notification_drops"] != 0 {
		t.Errorf("drops removed = %d, want 0", removed["notification_drops"])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDataCleanup_MissingTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	dc := NewDataCleanupWorker(db, Retention{Attempts: time.Hour, Drops: time.Hour})
	dc.pause = 0

	mock.ExpectExec("DELETE FROM delivery_attempts").
		WillReturnError(errors.New(`pq: relation "delivery_attempts" does not exist`))
	mock.ExpectExec("DELETE FROM notification_drops").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("DELETE FROM notification_drops").
		WillReturnResult(sqlmock.NewResult(0, 0))

	removed := dc.Cleanup(context.Background())
	if removed["notification_drops"] != 3 {
		t.Errorf("drops removed = %d, want 3", removed["notification_drops"])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDataCleanup_DefaultRetention(t *testing.T) {
	dc := NewDataCleanupWorker(nil, Retention{Drops: time.Hour})
	if dc.retention.Attempts != DefaultRetention.Attempts {
		t.Errorf("attempts retention = %v, want %v", dc.retention.Attempts, DefaultRetention.Attempts)
	}
	if dc.retention.Drops != time.Hour {
		t.Errorf("drops retention = %v, want 1h", dc.retention.Drops)
	}
}
