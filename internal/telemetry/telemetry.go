// Package telemetry implements the Telemetry component (C10): a fan-out
// of scheduler/dispatcher lifecycle events to a JSONL file sink
// (internal/events.FileSink), a Prometheus exposition endpoint, an
// optional NATS publisher for cross-process fan-out, a sqlite-backed
// rollup store for historical aggregates, and GCP Cloud Logging and
// observability.Tracer sinks.
package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/miyabi-dev/miyabi/internal/cloud/gcp"
	"github.com/miyabi-dev/miyabi/internal/errs"
	"github.com/miyabi-dev/miyabi/internal/events"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	_ "modernc.org/sqlite"
)

// EventKind is the closed set of telemetry events emitted across a run.
type EventKind string

const (
	EventTaskDispatched EventKind = "task_dispatched"
	EventTaskCompleted  EventKind = "task_completed"
	EventTaskFailed     EventKind = "task_failed"
	EventTaskSkipped    EventKind = "task_skipped"
	EventCycleDetected  EventKind = "cycle_detected"
)

// Event is one telemetry record.
type Event struct {
	Kind      EventKind `json:"kind"`
	Owner     string    `json:"owner"`
	Repo      string    `json:"repo"`
	Item      int       `json:"item"`
	TaskID    string    `json:"taskId"`
	AgentKind string    `json:"agentKind"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives every emitted Event. Implementations must not block the
// caller meaningfully long; slow sinks (NATS, sqlite) batch internally.
type Sink interface {
	Emit(Event) error
}

// Bus fans one Event out to every registered Sink, collecting (not
// aborting on) per-sink errors.
type Bus struct {
	sinks []Sink
}

// NewBus constructs a Bus over the given sinks.
func NewBus(sinks ...Sink) *Bus {
	return &Bus{sinks: sinks}
}

// Emit sends ev to every sink, returning the first error encountered (if
// any) after attempting all sinks.
func (b *Bus) Emit(ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	var first error
	for _, s := range b.sinks {
		if err := s.Emit(ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// FileSink adapts internal/events.FileSink to the telemetry Sink
// interface, translating Event into events.AgentEvent.
type FileSink struct {
	underlying *events.FileSink
}

// NewFileSink constructs a FileSink writing JSONL into dir.
func NewFileSink(dir string) (*FileSink, error) {
	fs, err := events.NewFileSink(dir)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, err, "opening telemetry file sink")
	}
	return &FileSink{underlying: fs}, nil
}

// Emit writes ev as one JSONL line.
func (f *FileSink) Emit(ev Event) error {
	return f.underlying.WriteOne(events.AgentEvent{
		Timestamp: ev.Timestamp,
		SessionID: ev.TaskID,
		Adapter:   ev.AgentKind,
		Type:      events.EventType(ev.Kind),
		Summary:   ev.Message,
		Content:   mustJSON(ev),
	})
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// PrometheusSink records event counters and exposes them via a
// prometheus.Registry for /metrics scraping.
type PrometheusSink struct {
	registry *prometheus.Registry
	counter  *prometheus.CounterVec
}

// NewPrometheusSink constructs a PrometheusSink with its own registry.
func NewPrometheusSink() *PrometheusSink {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "miyabi",
		Name:      "events_total",
		Help:      "Count of telemetry events by kind and agent kind.",
	}, []string{"kind", "agent_kind"})
	reg.MustRegister(counter)
	return &PrometheusSink{registry: reg, counter: counter}
}

// Emit increments the counter for ev's kind and agent kind.
func (p *PrometheusSink) Emit(ev Event) error {
	p.counter.WithLabelValues(string(ev.Kind), ev.AgentKind).Inc()
	return nil
}

// Registry exposes the underlying registry for wiring into an HTTP
// handler (promhttp.HandlerFor).
func (p *PrometheusSink) Registry() *prometheus.Registry {
	return p.registry
}

// NATSSink publishes every event to a NATS subject for cross-process
// fan-out (e.g. a separate dashboard process subscribing live).
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

// NewNATSSink connects to a NATS server at url and publishes to subject.
func NewNATSSink(url, subject string) (*NATSSink, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, errs.Wrap(errs.CodeNetwork, err, "connecting to NATS at %s", url)
	}
	return &NATSSink{conn: conn, subject: subject}, nil
}

// Emit publishes ev as JSON to the configured subject.
func (n *NATSSink) Emit(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return errs.Wrap(errs.CodeInternal, err, "marshaling telemetry event")
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return errs.Wrap(errs.CodeNetwork, err, "publishing telemetry event to NATS")
	}
	return nil
}

// Close drains and closes the NATS connection.
func (n *NATSSink) Close() {
	n.conn.Close()
}

// GCPLogSink adapts internal/cloud/gcp's structured JSON logger to the
// telemetry Sink interface. It writes to stderr in the format the Cloud
// Logging agent expects, so a deployment running under that agent gets
// every task lifecycle event without a direct dependency on the Cloud
// Logging API.
type GCPLogSink struct {
	logger gcp.LoggerInterface
}

// NewGCPLogSink wraps a sanitizing CloudLogger for sessionID, so task
// output containing leaked tokens or credentials never reaches Cloud
// Logging verbatim.
func NewGCPLogSink(sessionID string) *GCPLogSink {
	return &GCPLogSink{logger: gcp.NewSecureCloudLogger(sessionID)}
}

// Emit logs ev at a severity derived from its kind.
func (g *GCPLogSink) Emit(ev Event) error {
	fields := map[string]interface{}{
		"owner": ev.Owner, "repo": ev.Repo, "item": ev.Item,
		"taskId": ev.TaskID, "agentKind": ev.AgentKind,
	}
	switch ev.Kind {
	case EventTaskFailed:
		g.logger.Log(gcp.SeverityError, ev.Message, fields)
	case EventTaskSkipped, EventCycleDetected:
		g.logger.Log(gcp.SeverityWarning, ev.Message, fields)
	default:
		g.logger.Log(gcp.SeverityInfo, ev.Message, fields)
	}
	return nil
}

// Close flushes and closes the underlying logger.
func (g *GCPLogSink) Close() error {
	return g.logger.Close()
}

// AggregateStats summarizes event counts for one (owner, repo) over time.
type AggregateStats struct {
	Owner     string
	Repo      string
	Completed int
	Failed    int
	Skipped   int
}

// SqliteSink persists every event into a local sqlite database and
// computes rollups on demand, using the pure-Go modernc.org/sqlite driver
// so the CLI binary stays statically linked (no cgo).
type SqliteSink struct {
	db *sql.DB
}

// NewSqliteSink opens (creating if absent) a sqlite database at path and
// ensures its schema exists.
func NewSqliteSink(path string) (*SqliteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, err, "opening sqlite telemetry store at %s", path)
	}
	schema := `CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		owner TEXT NOT NULL,
		repo TEXT NOT NULL,
		item INTEGER NOT NULL,
		agent_kind TEXT NOT NULL,
		message TEXT,
		created_at TIMESTAMP NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.CodeInternal, err, "creating telemetry schema")
	}
	return &SqliteSink{db: db}, nil
}

// Emit inserts one event row.
func (s *SqliteSink) Emit(ev Event) error {
	_, err := s.db.Exec(
		`INSERT INTO events (kind, owner, repo, item, agent_kind, message, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(ev.Kind), ev.Owner, ev.Repo, ev.Item, ev.AgentKind, ev.Message, ev.Timestamp,
	)
	if err != nil {
		return errs.Wrap(errs.CodeInternal, err, "inserting telemetry event")
	}
	return nil
}

// Aggregate computes rollup stats for (owner, repo) across all recorded
// events.
func (s *SqliteSink) Aggregate(ctx context.Context, owner, repo string) (AggregateStats, error) {
	stats := AggregateStats{Owner: owner, Repo: repo}
	row := s.db.QueryRowContext(ctx, `
		SELECT
			SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END)
		FROM events WHERE owner = ? AND repo = ?`,
		string(EventTaskCompleted), string(EventTaskFailed), string(EventTaskSkipped), owner, repo)

	var completed, failed, skipped sql.NullInt64
	if err := row.Scan(&completed, &failed, &skipped); err != nil {
		return stats, errs.Wrap(errs.CodeInternal, err, "aggregating telemetry events")
	}
	stats.Completed = int(completed.Int64)
	stats.Failed = int(failed.Int64)
	stats.Skipped = int(skipped.Int64)
	return stats, nil
}

// Close closes the underlying database handle.
func (s *SqliteSink) Close() error {
	return s.db.Close()
}

// AlertThreshold fires when a rollup crosses a configured failure rate.
type AlertThreshold struct {
	MaxFailureRate float64 // e.g. 0.5 means alert if >50% of terminal tasks failed
}

// Breached reports whether stats crosses this threshold.
func (a AlertThreshold) Breached(stats AggregateStats) bool {
	terminal := stats.Completed + stats.Failed + stats.Skipped
	if terminal == 0 {
		return false
	}
	rate := float64(stats.Failed) / float64(terminal)
	return rate > a.MaxFailureRate
}
