package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/xiaolu-workflow/crawler-service/internal/crawler"
)

func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func testNote() *crawler.Record {
	return &crawler.Record{
		Kind: crawler.KindNote,
		Note: &crawler.Note{
			NoteID:     "64f0a1",
			URL:        "https://www.xiaohongshu.com/explore/64f0a1",
			Title:      "测试笔记",
			Keyword:    "美妆",
			AuthorName: "tester",
			LikesCount: 12000,
			Images:     []string{"https://img.example.com/a.jpg"},
			Tags:       []string{"美妆"},
			CrawlTime:  time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		},
	}
}

func TestUpsertNoteCommits(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO xiaohongshu_notes").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	store := NewPostgresWithPool(mock, Tables{})
	require.NoError(t, store.Upsert(context.Background(), testNote()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRollsBackOnExecFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO xiaohongshu_notes").
		WithArgs(anyArgs(17)...).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	store := NewPostgresWithPool(mock, Tables{})
	err = store.Upsert(context.Background(), testNote())
	require.ErrorContains(t, err, "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertComment(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO xiaohongshu_comments").
		WithArgs(anyArgs(11)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	store := NewPostgresWithPool(mock, Tables{})
	record := &crawler.Record{
		Kind: crawler.KindComment,
		Comment: &crawler.Comment{
			CommentID: "c1",
			NoteID:    "64f0a1",
			Content:   "不错",
			UserID:    "u9",
			CrawlTime: time.Now().UTC(),
		},
	}
	require.NoError(t, store.Upsert(context.Background(), record))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertHonorsConfiguredTableNames(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO staging_notes").
		WithArgs(anyArgs(17)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	store := NewPostgresWithPool(mock, Tables{Notes: "staging_notes"})
	require.NoError(t, store.Upsert(context.Background(), testNote()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertUnknownKind(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	store := NewPostgresWithPool(mock, Tables{})
	err = store.Upsert(context.Background(), &crawler.Record{Kind: "mystery"})
	require.ErrorContains(t, err, "unknown record kind")
	require.NoError(t, mock.ExpectationsWereMet())
}
