package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/xiaolu-workflow/crawler-service/internal/crawler"
)

// csvColumns is the fixed column subset for the CSV feed.
var csvColumns = []string{"note_id", "title", "author_name", "likes_count", "comments_count", "crawl_time"}

// CSVWriter exports note records with a fixed column subset. Records of
// other kinds are ignored.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewCSVWriter opens {dir}/{spider}_{timestamp}.csv and writes the header.
func NewCSVWriter(dir, spider string, startedAt time.Time) (*CSVWriter, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.csv", spider, startedAt.Format("20060102_150405")))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("open csv file: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(csvColumns); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	w.Flush()
	return &CSVWriter{file: f, writer: w}, nil
}

// Write appends one row for a note record and flushes.
func (w *CSVWriter) Write(record *crawler.Record) error {
	if record.Kind != crawler.KindNote || record.Note == nil {
		return nil
	}
	note := record.Note
	row := []string{
		note.NoteID,
		note.Title,
		note.AuthorName,
		strconv.Itoa(note.LikesCount),
		strconv.Itoa(note.CommentsCount),
		note.CrawlTime.Format(time.RFC3339),
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writer.Write(row); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// Close flushes and closes the file.
func (w *CSVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		_ = w.file.Close()
		return fmt.Errorf("flush csv: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close csv file: %w", err)
	}
	return nil
}
