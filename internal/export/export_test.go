package export

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xiaolu-workflow/crawler-service/internal/crawler"
)

var exportStart = time.Date(2026, 8, 1, 12, 30, 5, 0, time.UTC)

func sampleNote(id, title string) *crawler.Record {
	return &crawler.Record{
		Kind: crawler.KindNote,
		Note: &crawler.Note{
			NoteID:        id,
			URL:           "https://www.xiaohongshu.com/explore/" + id,
			Title:         title,
			Keyword:       "美妆",
			AuthorName:    "小花",
			LikesCount:    12000,
			CommentsCount: 3000,
			CrawlTime:     exportStart,
		},
	}
}

func TestJSONLWriterAppendsLines(t *testing.T) {
	dir := t.TempDir()
	w, err := NewJSONLWriter(dir, "xiaohongshu", exportStart)
	require.NoError(t, err)

	require.NoError(t, w.Write(sampleNote("n1", "标题一")))
	require.NoError(t, w.Write(&crawler.Record{
		Kind: crawler.KindUser,
		User: &crawler.User{UserID: "u1", Username: "小花", ProfileURL: "https://www.xiaohongshu.com/user/profile/u1"},
	}))
	require.NoError(t, w.Close())

	require.Equal(t, filepath.Join(dir, "xiaohongshu_20260801_123005.jsonl"), w.Path())

	data, err := os.ReadFile(w.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var note crawler.Note
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &note))
	require.Equal(t, "n1", note.NoteID)
	require.Contains(t, lines[0], "标题一", "non-ASCII stays unescaped")
	require.NotContains(t, lines[0], `\u`)
}

func TestJSONLWriterFlushesEveryWrite(t *testing.T) {
	w, err := NewJSONLWriter(t.TempDir(), "xiaohongshu", exportStart)
	require.NoError(t, err)
	defer w.Close() //nolint:errcheck

	require.NoError(t, w.Write(sampleNote("n1", "t")))

	// Readable before Close because every write flushes.
	data, err := os.ReadFile(w.Path())
	require.NoError(t, err)
	require.Contains(t, string(data), `"note_id":"n1"`)
}

func TestCSVWriterColumns(t *testing.T) {
	dir := t.TempDir()
	w, err := NewCSVWriter(dir, "xiaohongshu", exportStart)
	require.NoError(t, err)

	require.NoError(t, w.Write(sampleNote("n1", "标题一")))
	// Non-note records are ignored, not an error.
	require.NoError(t, w.Write(&crawler.Record{Kind: crawler.KindUser, User: &crawler.User{UserID: "u1"}}))
	require.NoError(t, w.Close())

	f, err := os.Open(filepath.Join(dir, "xiaohongshu_20260801_123005.csv"))
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2, "header plus one note row")
	require.Equal(t, []string{"note_id", "title", "author_name", "likes_count", "comments_count", "crawl_time"}, rows[0])
	require.Equal(t, []string{"n1", "标题一", "小花", "12000", "3000", "2026-08-01T12:30:05Z"}, rows[1])
}
