package edgeguard

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
)

func TestSQLiteAuditSinkPersistsEvents(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "audit.db")
	sink, err := NewSQLiteAuditSink(dsn, nil)
	if err != nil {
		t.Fatal(err)
	}

	sink.Notify(AlertEvent{
		Type:   AlertIPBanned,
		IP:     "203.0.113.4",
		Reason: "auto-ban: rate limit exceeded",
		Time:   testStart,
	})
	sink.Notify(AlertEvent{
		Type:      AlertDecoyAccess,
		IP:        "203.0.113.4",
		Path:      "/wp-admin",
		DecoyType: DecoyAdminPanel,
		Time:      testStart.Add(time.Second),
	})

	// Close drains the buffer before closing the database.
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}

	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var total int
	if err := db.Get(&total, "SELECT COUNT(*) FROM audit_events"); err != nil {
		t.Fatal(err)
	}
	if total != 2 {
		t.Fatalf("expected 2 audit rows, got %d", total)
	}

	var row auditRow
	if err := db.Get(&row, "SELECT event_type, ip, path, reason, decoy_type, metric, observed, baseline, occurred_at FROM audit_events WHERE event_type = ?", string(AlertDecoyAccess)); err != nil {
		t.Fatal(err)
	}
	if row.IP != "203.0.113.4" || row.Path != "/wp-admin" || row.DecoyType != string(DecoyAdminPanel) {
		t.Fatalf("unexpected audit row %+v", row)
	}

	if sink.Dropped() != 0 {
		t.Fatalf("expected no drops, got %d", sink.Dropped())
	}
}

func TestSQLiteAuditSinkCloseIdempotent(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "audit.db")
	sink, err := NewSQLiteAuditSink(dsn, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestSQLiteAuditSinkNotifyAfterClose(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "audit.db")
	sink, err := NewSQLiteAuditSink(dsn, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}

	// Must not panic; the late event is counted as dropped.
	sink.Notify(AlertEvent{Type: AlertIPBanned, IP: "203.0.113.8", Time: testStart})
	if sink.Dropped() != 1 {
		t.Fatalf("expected late event counted as dropped, got %d", sink.Dropped())
	}
}

func TestSQLiteAuditSinkRejectsBadDSN(t *testing.T) {
	if _, err := NewSQLiteAuditSink(filepath.Join(t.TempDir(), "no-such-dir", "audit.db"), nil); err == nil {
		t.Fatalf("expected error for unwritable database path")
	}
}
