// Package telemetry persists error-level logs to a local DuckDB file so
// operational failures survive process restarts and can be queried with
// SQL.
package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/soundprediction/go-graffiti/pkg/types"
)

// recordBuffer bounds how many error records may be pending behind the
// writer. Records beyond the buffer are dropped rather than blocking
// the logging path.
const recordBuffer = 256

const insertErrorQuery = `
	INSERT INTO execution_errors (
		id, timestamp, level, message,
		group_id, episode_id, request_id,
		source_file, line_number, attributes
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`

// DuckDBHandler is a slog.Handler that forwards every record to the
// wrapped handler and additionally persists error-level records to
// DuckDB through a single background writer. Close drains pending
// records and releases the database.
type DuckDBHandler struct {
	next slog.Handler
	sink *errorSink
}

// errorSink owns the database handle and the writer goroutine. Handler
// clones produced by WithAttrs/WithGroup share one sink, so there is
// exactly one writer per database regardless of handler derivation.
type errorSink struct {
	db      *sql.DB
	records chan errorRecord
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

type errorRecord struct {
	id         string
	timestamp  time.Time
	level      string
	message    string
	groupID    string
	episodeID  string
	requestID  string
	sourceFile string
	line       int
	attributes string
}

// NewDuckDBHandler creates the handler, its schema, and the background
// writer.
func NewDuckDBHandler(next slog.Handler, db *sql.DB) (*DuckDBHandler, error) {
	sink := &errorSink{
		db:      db,
		records: make(chan errorRecord, recordBuffer),
		done:    make(chan struct{}),
	}
	if err := sink.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	go sink.run()

	return &DuckDBHandler{next: next, sink: sink}, nil
}

// initSchema creates the execution_errors table
func (s *errorSink) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS execution_errors (
		id VARCHAR,
		timestamp TIMESTAMP,
		level VARCHAR,
		message VARCHAR,
		group_id VARCHAR,
		episode_id VARCHAR,
		request_id VARCHAR,
		source_file VARCHAR,
		line_number INTEGER,
		attributes JSON
	);
	`
	_, err := s.db.Exec(query)
	return err
}

// run is the single writer; it exits when the record channel closes.
func (s *errorSink) run() {
	defer close(s.done)
	for rec := range s.records {
		_, err := s.db.Exec(insertErrorQuery,
			rec.id, rec.timestamp, rec.level, rec.message,
			rec.groupID, rec.episodeID, rec.requestID,
			rec.sourceFile, rec.line, rec.attributes,
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "telemetry: failed to persist error record: %v\n", err)
		}
	}
}

// enqueue hands a record to the writer without blocking. Records are
// dropped when the buffer is full or the sink is closed.
func (s *errorSink) enqueue(rec errorRecord) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.records <- rec:
	default:
		fmt.Fprintf(os.Stderr, "telemetry: error record buffer full, dropping record %s\n", rec.id)
	}
}

// close stops the writer after draining pending records, then closes
// the database handle.
func (s *errorSink) close() error {
	s.mu.Lock()
	alreadyClosed := s.closed
	s.closed = true
	if !alreadyClosed {
		close(s.records)
	}
	s.mu.Unlock()

	<-s.done
	if alreadyClosed {
		return nil
	}
	return s.db.Close()
}

// Enabled implements slog.Handler
func (h *DuckDBHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler
func (h *DuckDBHandler) Handle(ctx context.Context, r slog.Record) error {
	// Always pass to next handler first
	if err := h.next.Handle(ctx, r); err != nil {
		return err
	}

	// Only log errors (and above) to DB
	if r.Level < slog.LevelError {
		return nil
	}

	// Extract context info
	var groupID, episodeID, requestID string
	if v, ok := ctx.Value(types.ContextKeyGroupID).(string); ok {
		groupID = v
	}
	if v, ok := ctx.Value(types.ContextKeyEpisodeID).(string); ok {
		episodeID = v
	}
	if v, ok := ctx.Value(types.ContextKeyRequestID).(string); ok {
		requestID = v
	}

	// Extract attributes
	attrs := make(map[string]any)
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})
	attrsJSON, _ := json.Marshal(attrs)

	// Get source info
	fs := runtime.CallersFrames([]uintptr{r.PC})
	f, _ := fs.Next()

	h.sink.enqueue(errorRecord{
		id:         uuid.New().String(),
		timestamp:  r.Time.UTC(),
		level:      r.Level.String(),
		message:    r.Message,
		groupID:    groupID,
		episodeID:  episodeID,
		requestID:  requestID,
		sourceFile: f.File,
		line:       f.Line,
		attributes: string(attrsJSON),
	})

	return nil
}

// Close drains pending records and closes the database. Records logged
// after Close are dropped.
func (h *DuckDBHandler) Close() error {
	return h.sink.close()
}

// WithAttrs implements slog.Handler
func (h *DuckDBHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &DuckDBHandler{
		next: h.next.WithAttrs(attrs),
		sink: h.sink,
	}
}

// WithGroup implements slog.Handler
func (h *DuckDBHandler) WithGroup(name string) slog.Handler {
	return &DuckDBHandler{
		next: h.next.WithGroup(name),
		sink: h.sink,
	}
}
