package edgeguard

import (
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/oarkflow/log"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type  TEXT NOT NULL,
	ip          TEXT,
	path        TEXT,
	reason      TEXT,
	decoy_type  TEXT,
	metric      TEXT,
	observed    REAL,
	baseline    REAL,
	occurred_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events(event_type);
CREATE INDEX IF NOT EXISTS idx_audit_events_ip ON audit_events(ip);
`

const auditInsert = `
INSERT INTO audit_events (event_type, ip, path, reason, decoy_type, metric, observed, baseline, occurred_at)
VALUES (:event_type, :ip, :path, :reason, :decoy_type, :metric, :observed, :baseline, :occurred_at)`

type auditRow struct {
	EventType  string  `db:"event_type"`
	IP         string  `db:"ip"`
	Path       string  `db:"path"`
	Reason     string  `db:"reason"`
	DecoyType  string  `db:"decoy_type"`
	Metric     string  `db:"metric"`
	Observed   float64 `db:"observed"`
	Baseline   float64 `db:"baseline"`
	OccurredAt string  `db:"occurred_at"`
}

// SQLiteAuditSink persists alert events to a SQLite audit trail. Writes go
// through a buffered channel drained by a single goroutine, so Notify never
// blocks the request path; events are dropped when the buffer is full.
type SQLiteAuditSink struct {
	db        *sqlx.DB
	events    chan AlertEvent
	logger    *log.Logger
	mu        sync.Mutex
	dropped   int64
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewSQLiteAuditSink opens (or creates) the database at dsn, ensures the
// audit_events table exists, and starts the writer goroutine.
func NewSQLiteAuditSink(dsn string, logger *log.Logger) (*SQLiteAuditSink, error) {
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(auditSchema); err != nil {
		db.Close()
		return nil, err
	}
	s := &SQLiteAuditSink{
		db:     db,
		events: make(chan AlertEvent, 256),
		logger: orDefaultLogger(logger),
		done:   make(chan struct{}),
	}
	go s.writeLoop()
	return s, nil
}

// Notify enqueues the event for persistence. Best effort: if the buffer is
// full, or the sink is already closed, the event is counted as dropped rather
// than blocking or panicking. The mutex orders every send against Close, so a
// send can never hit a closed channel.
func (s *SQLiteAuditSink) Notify(event AlertEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.dropped++
		return
	}
	select {
	case s.events <- event:
	default:
		s.dropped++
	}
}

// Dropped reports how many events were discarded because the buffer was full
// or the sink was closed.
func (s *SQLiteAuditSink) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *SQLiteAuditSink) writeLoop() {
	defer close(s.done)
	for event := range s.events {
		row := auditRow{
			EventType:  string(event.Type),
			IP:         event.IP,
			Path:       event.Path,
			Reason:     event.Reason,
			DecoyType:  string(event.DecoyType),
			Metric:     event.Metric,
			Observed:   event.Observed,
			Baseline:   event.Baseline,
			OccurredAt: event.Time.UTC().Format("2006-01-02 15:04:05.000"),
		}
		if _, err := s.db.NamedExec(auditInsert, row); err != nil {
			s.logger.Warn().
				Str("alertType", string(event.Type)).
				Err(err).
				Msg("audit insert failed")
		}
	}
}

// Close drains buffered events, stops the writer goroutine and closes the
// database. Safe to call more than once.
func (s *SQLiteAuditSink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
		<-s.done
		err = s.db.Close()
	})
	return err
}
