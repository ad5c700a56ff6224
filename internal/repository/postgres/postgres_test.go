package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ignite/marketplace-ops/internal/audience"
	"github.com/ignite/marketplace-ops/internal/domain"
	"github.com/ignite/marketplace-ops/internal/service/eventroutes"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return db, mock, func() { db.Close() }
}

var testTime = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// =============================================================================
// SEGMENTS
// =============================================================================

func segmentRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "description", "rule", "base_population",
		"estimated_size", "created_at", "updated_at"})
}

func TestSegmentRepo_Get(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewSegmentRepo(db)

	mock.ExpectQuery("SELECT (.+) FROM audience_segments WHERE id").
		WithArgs("seg-1").
		WillReturnRows(segmentRows().AddRow("seg-1", "Verified sellers", "",
			`{"roles":["seller"],"kyc_status":"verified"}`, 50000, 15000, testTime, testTime))

	s, err := repo.Get(context.Background(), "seg-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if s.EstimatedSize != 15000 || s.Rule.KYCStatus != domain.KYCVerified {
		t.Errorf("unexpected segment: %+v", s)
	}
	if len(s.Rule.Roles) != 1 || s.Rule.Roles[0] != domain.RoleSeller {
		t.Errorf("roles = %v", s.Rule.Roles)
	}

	mock.ExpectQuery("SELECT (.+) FROM audience_segments WHERE id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, audience.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSegmentRepo_ListWithSearch(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewSegmentRepo(db)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM audience_segments WHERE name ILIKE").
		WithArgs("%seller%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT (.+) FROM audience_segments WHERE name ILIKE (.+) LIMIT").
		WithArgs("%seller%", 20, 0).
		WillReturnRows(segmentRows().AddRow("seg-1", "Sellers", "all sellers",
			`{"roles":["seller"]}`, 50000, 25000, testTime, testTime))

	out, total, err := repo.List(context.Background(), audience.ListFilter{Search: "seller", Limit: 20})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 || len(out) != 1 || out[0].EstimatedSize != 25000 {
		t.Errorf("total=%d out=%+v", total, out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSegmentRepo_CreateAndDelete(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewSegmentRepo(db)

	seg := &domain.AudienceSegment{
		ID: "seg-2", Name: "Lagos buyers",
		Rule:           domain.TargetingRule{Roles: []domain.Role{domain.RoleBuyer}, Cities: []string{"Lagos"}},
		BasePopulation: 50000, EstimatedSize: 2500, CreatedAt: testTime, UpdatedAt: testTime,
	}

	mock.ExpectExec("INSERT INTO audience_segments").
		WithArgs("seg-2", "Lagos buyers", "", []byte(`{"roles":["buyer"],"cities":["Lagos"]}`),
			int64(50000), int64(2500), testTime, testTime).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.Create(context.Background(), seg); err != nil {
		t.Fatalf("Create: %v", err)
	}

	mock.ExpectExec("DELETE FROM audience_segments").WithArgs("seg-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.Delete(context.Background(), "seg-2"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	mock.ExpectExec("DELETE FROM audience_segments").WithArgs("seg-2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := repo.Delete(context.Background(), "seg-2"); !errors.Is(err, audience.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	mock.ExpectExec("UPDATE audience_segments").WithArgs("seg-9", int64(60000), int64(30000)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := repo.UpdateEstimate(context.Background(), "seg-9", 60000, 30000); !errors.Is(err, audience.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// =============================================================================
// ROUTES
// =============================================================================

func routeRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"event_type", "description", "category", "enabled", "priority",
		"primary_channel", "fallback_channels", "rate_limit_per_minute", "max_retries", "error_policy", "updated_at"})
}

func TestRouteRepo_List(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewRouteRepo(db)

	mock.ExpectQuery("SELECT (.+) FROM event_routes ORDER BY").
		WillReturnRows(routeRows().
			AddRow("otp_send", "OTP", "auth", true, "high", "sms", "{push,email}", 1000, 2, "fallback", testTime).
			AddRow("listing_expiring", "", "listings", true, "low", "in-app", "{}", 200, 0, "drop", testTime))

	routes, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(routes) != 2 {
		t.Fatalf("got %d routes", len(routes))
	}
	otp := routes[0]
	if otp.PrimaryChannel != domain.ChannelSMS || len(otp.FallbackChannels) != 2 ||
		otp.FallbackChannels[0] != domain.ChannelPush || otp.FallbackChannels[1] != domain.ChannelEmail {
		t.Errorf("otp route = %+v", otp)
	}
	if err := otp.Validate(); err != nil {
		t.Errorf("scanned route invalid: %v", err)
	}
	if len(routes[1].FallbackChannels) != 0 {
		t.Errorf("fallbacks = %v, want none", routes[1].FallbackChannels)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRouteRepo_UpsertAndToggle(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewRouteRepo(db)

	rt := &domain.EventRoute{
		EventType: "otp_send", Category: domain.CategoryAuth, Enabled: true, Priority: domain.PriorityHigh,
		PrimaryChannel: domain.ChannelSMS, FallbackChannels: []domain.Channel{domain.ChannelPush},
		RateLimitPerMinute: 1000, MaxRetries: 2, ErrorPolicy: domain.PolicyFallback, UpdatedAt: testTime,
	}
	mock.ExpectExec("INSERT INTO event_routes (.+) ON CONFLICT \\(event_type\\) DO UPDATE").
		WithArgs("otp_send", "", domain.CategoryAuth, true, domain.PriorityHigh, domain.ChannelSMS,
			sqlmock.AnyArg(), 1000, 2, domain.PolicyFallback, testTime).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.Upsert(context.Background(), rt); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	mock.ExpectExec("UPDATE event_routes SET enabled").WithArgs("ghost", false).
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := repo.SetEnabled(context.Background(), "ghost", false); !errors.Is(err, eventroutes.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM event_routes").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(17))
	if n, err := repo.Count(context.Background()); err != nil || n != 17 {
		t.Errorf("Count = %d, %v", n, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// =============================================================================
// DELIVERY LOG
// =============================================================================

func TestDeliveryRepo_RecordAndList(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewDeliveryRepo(db)

	a := domain.DeliveryAttempt{
		ID: "att-1", NotificationID: "n-1", EventType: "otp_send", Channel: domain.ChannelSMS,
		AttemptNumber: 1, Outcome: domain.OutcomeFailed, ErrorCode: "http_503",
		Provider: "sms-gateway", LatencyMs: 120, AttemptedAt: testTime,
	}
	mock.ExpectExec("INSERT INTO delivery_attempts").
		WithArgs("att-1", "n-1", "otp_send", domain.ChannelSMS, 1, domain.OutcomeFailed,
			"http_503", "sms-gateway", "", int64(120), testTime).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.RecordAttempt(context.Background(), a); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}

	mock.ExpectQuery("SELECT (.+) FROM delivery_attempts").
		WithArgs("n-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "notification_id", "event_type", "channel",
			"attempt_number", "outcome", "error_code", "provider", "provider_message_id", "latency_ms", "attempted_at"}).
			AddRow("att-1", "n-1", "otp_send", "sms", 1, "failed", "http_503", "sms-gateway", "", 120, testTime).
			AddRow("att-2", "n-1", "otp_send", "push", 2, "delivered", "", "sqs", "m-1", 40, testTime.Add(time.Second)))

	attempts, err := repo.ListAttempts(context.Background(), "n-1")
	if err != nil {
		t.Fatalf("ListAttempts: %v", err)
	}
	if len(attempts) != 2 || attempts[1].Channel != domain.ChannelPush || attempts[1].Failed() {
		t.Errorf("attempts = %+v", attempts)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDeliveryRepo_Drops(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewDeliveryRepo(db)

	d := domain.DropReport{
		NotificationID: "n-2", EventType: "otp_send",
		Channels: []domain.Channel{domain.ChannelSMS, domain.ChannelPush, domain.ChannelEmail},
		Reason:   "fallback exhausted", Attempts: 3, DroppedAt: testTime,
	}
	mock.ExpectExec("INSERT INTO notification_drops").
		WithArgs("n-2", "otp_send", sqlmock.AnyArg(), "fallback exhausted", 3, testTime).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.ReportDrop(context.Background(), d); err != nil {
		t.Fatalf("ReportDrop: %v", err)
	}

	mock.ExpectQuery("SELECT (.+) FROM notification_drops").
		WithArgs("n-2").
		WillReturnRows(sqlmock.NewRows([]string{"notification_id", "event_type", "channels", "reason", "attempts", "dropped_at"}).
			AddRow("n-2", "otp_send", "{sms,push,email}", "fallback exhausted", 3, testTime))
	got, err := repo.GetDrop(context.Background(), "n-2")
	if err != nil {
		t.Fatalf("GetDrop: %v", err)
	}
	if got == nil || len(got.Channels) != 3 || got.Channels[2] != domain.ChannelEmail {
		t.Errorf("drop = %+v", got)
	}

	mock.ExpectQuery("SELECT (.+) FROM notification_drops").
		WithArgs("n-3").
		WillReturnError(sql.ErrNoRows)
	if got, err := repo.GetDrop(context.Background(), "n-3"); err != nil || got != nil {
		t.Errorf("GetDrop(missing) = %+v, %v", got, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
