package httpapi

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/medplain/medplain/pkg/logger"
)

// AuditEntry records a review or sharing decision. Kept in a bounded
// in-memory ring for the admin endpoint and optionally appended to a JSONL
// file.
type AuditEntry struct {
	Time       time.Time `json:"time"`
	Action     string    `json:"action"`
	DocumentID string    `json:"document_id"`
	ActorID    string    `json:"actor_id"`
	TraceID    string    `json:"trace_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// AuditSink persists audit entries.
type AuditSink interface {
	Write(entry AuditEntry) error
}

// AuditLog keeps the most recent entries in memory and forwards each one to
// the sink when configured.
type AuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
	max     int
	sink    AuditSink
}

// NewAuditLog creates an audit log holding at most max entries in memory.
func NewAuditLog(max int, sink AuditSink) *AuditLog {
	if max <= 0 {
		max = 200
	}
	return &AuditLog{max: max, sink: sink}
}

// RecordEvent implements the auditor hook used by the document service.
func (l *AuditLog) RecordEvent(ctx context.Context, action, documentID, actorID, detail string) {
	l.add(AuditEntry{
		Time:       time.Now().UTC(),
		Action:     action,
		DocumentID: documentID,
		ActorID:    actorID,
		TraceID:    logger.GetTraceID(ctx),
		Detail:     detail,
	})
}

func (l *AuditLog) add(entry AuditEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
	if l.sink != nil {
		// Best-effort persistence; never fail the request path.
		_ = l.sink.Write(entry)
	}
}

func (l *AuditLog) list() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *AuditLog) listLimit(limit int) []AuditEntry {
	if limit <= 0 || limit > l.max {
		limit = l.max
	}
	all := l.list()
	if len(all) <= limit {
		return all
	}
	return all[len(all)-limit:]
}

// FileAuditSink appends audit entries as JSONL.
type FileAuditSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileAuditSink opens (or creates) the JSONL file at path. An empty path
// returns a nil sink.
func NewFileAuditSink(path string) (*FileAuditSink, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	return &FileAuditSink{file: f}, nil
}

// Write appends one entry.
func (s *FileAuditSink) Write(entry AuditEntry) error {
	if s == nil || s.file == nil {
		return nil
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.file.Write(append(b, '\n'))
	return err
}

// Close closes the underlying file.
func (s *FileAuditSink) Close() error {
	if s == nil || s.file == nil {
		return nil
	}
	return s.file.Close()
}
