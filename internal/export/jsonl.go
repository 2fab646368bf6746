// Package export writes feed exports for admitted records.
package export

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xiaolu-workflow/crawler-service/internal/crawler"
)

// JSONLWriter appends one JSON object per admitted record to a
// line-delimited file opened once per job. Non-ASCII characters are left
// unescaped and the stream is flushed after every write.
type JSONLWriter struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	path string
}

// NewJSONLWriter opens {dir}/{spider}_{timestamp}.jsonl.
func NewJSONLWriter(dir, spider string, startedAt time.Time) (*JSONLWriter, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.jsonl", spider, startedAt.Format("20060102_150405")))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("open export file: %w", err)
	}
	return &JSONLWriter{file: f, buf: bufio.NewWriter(f), path: path}, nil
}

// Path returns the file the writer appends to.
func (w *JSONLWriter) Path() string { return w.path }

// Write appends one record line and flushes.
func (w *JSONLWriter) Write(record *crawler.Record) error {
	payload, err := marshalRecord(record)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.buf.Write(payload); err != nil {
		return fmt.Errorf("write export line: %w", err)
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush export: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		_ = w.file.Close()
		return fmt.Errorf("flush export: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close export file: %w", err)
	}
	return nil
}

func marshalRecord(record *crawler.Record) ([]byte, error) {
	var payload any
	switch record.Kind {
	case crawler.KindNote:
		payload = record.Note
	case crawler.KindUser:
		payload = record.User
	case crawler.KindComment:
		payload = record.Comment
	default:
		return nil, fmt.Errorf("unknown record kind %q", record.Kind)
	}
	// json.Encoder leaves non-ASCII runes alone; only HTML escaping must
	// be switched off.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return buf.Bytes(), nil
}
